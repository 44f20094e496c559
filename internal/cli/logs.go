package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/corralhq/corral/internal/rpc"
)

const followPollInterval = 500 * time.Millisecond

var (
	logsFollow bool
	logsSince  string
)

var logsCmd = &cobra.Command{
	Use:   "logs <name>",
	Short: "Show a daemon's captured output",
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

		req := rpc.Request{Method: rpc.MethodLogs, ID: id}
		if logsSince != "" {
			since, err := time.Parse(time.RFC3339, logsSince)
			if err != nil {
				return fmt.Errorf("--since: %w", err)
			}
			req.Since = &since
		}

		resp, err := call(req)
		if err != nil {
			return err
		}
		for _, line := range resp.LogLines {
			fmt.Println(line)
		}
		if !logsFollow {
			return nil
		}

		offset := resp.LogOffset
		for {
			time.Sleep(followPollInterval)
			resp, err := call(rpc.Request{Method: rpc.MethodLogs, ID: id, TailOffset: offset})
			if err != nil {
				return err
			}
			for _, line := range resp.LogLines {
				fmt.Println(line)
			}
			offset = resp.LogOffset
		}
	},
}

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "keep streaming new output")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "only show lines at or after this RFC3339 timestamp")
}
