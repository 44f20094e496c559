// Package paths resolves the on-disk locations the CLI and the
// supervisor daemon both need to agree on: the state root, the control
// socket, the state file, and the per-daemon log directory (spec.md
// §6), driven by CORRAL_STATE_DIR/CORRAL_LOGS_DIR.
package paths

import (
	"os"
	"path/filepath"
)

const defaultStateDirName = ".local/state/corral"

// StateRoot resolves <state_root>, preferring CORRAL_STATE_DIR, falling
// back to ~/.local/state/corral.
func StateRoot() string {
	if v := os.Getenv("CORRAL_STATE_DIR"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "corral")
	}
	return filepath.Join(home, defaultStateDirName)
}

// LogsRoot resolves <state_root>/logs, preferring CORRAL_LOGS_DIR.
func LogsRoot() string {
	if v := os.Getenv("CORRAL_LOGS_DIR"); v != "" {
		return v
	}
	return filepath.Join(StateRoot(), "logs")
}

// SocketPath is <state_root>/ipc/main.sock, per spec.md §6.
func SocketPath() string {
	return filepath.Join(StateRoot(), "ipc", "main.sock")
}

// StateFilePath is <state_root>/state.toml, per spec.md §6.
func StateFilePath() string {
	return filepath.Join(StateRoot(), "state.toml")
}

// DaemonLogFilePath is <state_root>/corrald.log, the supervisor's own
// process log, distinct from per-daemon child logs under LogsRoot.
func DaemonLogFilePath() string {
	return filepath.Join(StateRoot(), "corrald.log")
}

// EnsureDirs creates every directory the daemon needs before it binds
// the socket or opens the state file.
func EnsureDirs() error {
	for _, dir := range []string{StateRoot(), LogsRoot(), filepath.Dir(SocketPath())} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
