package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corralhq/corral/internal/rpc"
)

var stopCmd = &cobra.Command{
	Use:   "stop <name>",
	Short: "Stop a running daemon",
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
		if _, err := call(rpc.Request{Method: rpc.MethodStop, ID: id}); err != nil {
			return err
		}
		fmt.Printf("%s: stopped\n", id.String())
		return nil
	},
}
