package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corralhq/corral/internal/rpc"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Purge registry records whose status is terminal (stopped or errored)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := call(rpc.Request{Method: rpc.MethodClean})
		if err != nil {
			return err
		}
		if len(resp.CleanedIDs) == 0 {
			fmt.Println("nothing to clean")
			return nil
		}
		for _, id := range resp.CleanedIDs {
			fmt.Printf("purged %s\n", id.String())
		}
		return nil
	},
}
