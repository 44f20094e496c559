// Package cli implements the corral client binary: a cobra command
// tree of short-lived commands that each dial the corrald supervisor
// over its Unix socket, issue one RPC call, and exit (spec.md §1, §6).
// Mirrors the teacher's internal/cli/root.go phased-startup shape,
// collapsed to this binary's much smaller surface.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/corralhq/corral/internal/corerr"
	"github.com/corralhq/corral/internal/paths"
	"github.com/corralhq/corral/internal/rpc"
)

var (
	jsonOutput bool
	noColor    bool
	socketPath string
)

var rootCmd = &cobra.Command{
	Use:           "corral",
	Short:         "Supervise long-running development daemons",
	Long:          `corral starts, stops, and watches over long-running development daemons (dev servers, workers, watchers) through a supervisor process, corrald.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if socketPath == "" {
			socketPath = paths.SocketPath()
		}
		if !noColor && !isatty.IsTerminal(os.Stdout.Fd()) {
			noColor = true
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit machine-readable JSON instead of a table")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable ANSI color in table output")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "path to corrald's control socket (default: "+paths.SocketPath()+")")

	rootCmd.AddCommand(
		runCmd,
		stopCmd,
		restartCmd,
		listCmd,
		statusCmd,
		logsCmd,
		enableCmd,
		disableCmd,
		cleanCmd,
		shutdownCmd,
	)
}

// Execute runs the root command and returns a process exit code
// (spec.md §6: 0 success, 1 general failure; a command that surfaces a
// ChildFailed error instead exits with the daemon's own exit code via
// exitCodeFor, bypassing this generic 1).
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "corral:", err)
		return exitCodeFor(err)
	}
	return 0
}

// exitCodeFor maps a ChildFailed error's embedded exit code onto the
// process's own exit code, so a failed `corral run` reports the same
// code a shell would see running the command directly (spec.md §6).
func exitCodeFor(err error) int {
	var cerr *corerr.Error
	if errors.As(err, &cerr) && cerr.Kind == corerr.ChildFailed && cerr.ExitCode != nil {
		return *cerr.ExitCode
	}
	return 1
}

// call is the shared dial-one-request-one-response helper every
// subcommand uses.
func call(req rpc.Request) (rpc.Response, error) {
	return rpc.Call(socketPath, req)
}
