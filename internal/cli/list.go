package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/corralhq/corral/internal/rpc"
	corestatus "github.com/corralhq/corral/internal/status"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List every known daemon and its current status",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := call(rpc.Request{Method: rpc.MethodList})
		if err != nil {
			return err
		}
		if jsonOutput {
			return corestatus.WriteJSON(os.Stdout, resp.Records)
		}
		return corestatus.WriteTable(os.Stdout, resp.Records)
	},
}
