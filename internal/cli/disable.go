package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corralhq/corral/internal/rpc"
)

var disableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Set a daemon's disabled flag, refusing run until re-enabled",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		id, err := resolveID(args[0], cfg)
		if err != nil {
			return err
		}
		if _, err := call(rpc.Request{Method: rpc.MethodDisable, ID: id}); err != nil {
			return err
		}
		fmt.Printf("%s: disabled\n", id.String())
		return nil
	},
}
