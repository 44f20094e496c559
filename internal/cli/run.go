package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corralhq/corral/internal/rpc"
)

var (
	runWait  bool
	runForce bool
)

var runCmd = &cobra.Command{
	Use:   "run <name>",
	Short: "Start a daemon, launching it if it is not already running",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		specs, err := cfg.Specs()
		if err != nil {
			return err
		}
		id, err := resolveID(args[0], cfg)
		if err != nil {
			return err
		}
		spec, ok := specs[id]
		if !ok {
			return fmt.Errorf("no daemon named %q in config", args[0])
		}

		resp, err := call(rpc.Request{
			Method:    rpc.MethodRun,
			Spec:      rpc.SpecFromDaemon(spec),
			WaitReady: runWait,
			Force:     runForce,
		})
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", id.String(), resp.RunOutcome)
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&runWait, "wait", true, "wait for the daemon to become ready before returning")
	runCmd.Flags().BoolVar(&runForce, "force", false, "restart the daemon even if it is already running")
}
