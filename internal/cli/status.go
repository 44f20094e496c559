package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/corralhq/corral/internal/daemon"
	"github.com/corralhq/corral/internal/rpc"
	corestatus "github.com/corralhq/corral/internal/status"
)

var statusCmd = &cobra.Command{
	Use:   "status <name>",
	Short: "Show one daemon's current status",
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
		resp, err := call(rpc.Request{Method: rpc.MethodStatus, ID: id})
		if err != nil {
			return err
		}
		records := resp.Records
		if records == nil {
			records = []daemon.Record{}
		}
		if jsonOutput {
			return corestatus.WriteJSON(os.Stdout, records)
		}
		return corestatus.WriteTable(os.Stdout, records)
	},
}
