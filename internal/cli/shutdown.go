package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corralhq/corral/internal/rpc"
)

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Stop every daemon and terminate the supervisor",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := call(rpc.Request{Method: rpc.MethodShutdown}); err != nil {
			return err
		}
		fmt.Println("corrald: shutting down")
		return nil
	},
}
