package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corralhq/corral/internal/rpc"
)

var restartCmd = &cobra.Command{
	Use:   "restart <name>",
	Short: "Stop and relaunch a daemon",
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
		resp, err := call(rpc.Request{Method: rpc.MethodRestart, ID: id})
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", id.String(), resp.RunOutcome)
		return nil
	},
}
