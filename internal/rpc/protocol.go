// Package rpc implements the wire protocol between the corral CLI and
// the corrald supervisor over the Unix domain socket from spec.md §6:
// gob-encoded tagged-union requests and responses, one connection per
// call, framed by gob's own length-prefixed encoding plus a single 0x00
// resync byte so a client that reads a truncated/corrupt frame can
// resynchronize on the next connection rather than wedging the decoder
// (see DESIGN.md for why gob was chosen over a protobuf/msgpack stack:
// nothing in the retrieval pack wires either library to a bare
// Unix-socket byte stream).
package rpc

import (
	"time"

	"github.com/corralhq/corral/internal/daemon"
	"github.com/corralhq/corral/internal/ids"
)

// resyncByte is written after every response so a client that hits a
// decode error can read-and-discard until it sees one, rather than
// treating the rest of the connection as unrecoverable.
const resyncByte = 0x00

// Method names the RPC operation a Request carries.
type Method string

const (
	MethodRun            Method = "run"
	MethodStop           Method = "stop"
	MethodRestart        Method = "restart"
	MethodEnable         Method = "enable"
	MethodDisable        Method = "disable"
	MethodList           Method = "list"
	MethodStatus         Method = "status"
	MethodUpdateShellDir Method = "update_shell_dir"
	MethodShutdown       Method = "shutdown"
	MethodLogs           Method = "logs"
	MethodClean          Method = "clean"
)

// Request is the single request envelope, gob-encoded and sent over the
// socket. Only the fields relevant to Method are meaningful.
type Request struct {
	Method Method

	// Run
	Spec      SpecWire
	WaitReady bool
	Force     bool

	// Stop / Restart / Enable / Disable / Status / Logs
	ID ids.DaemonId

	// UpdateShellDir
	ShellPID int
	Dir      *string

	// Logs
	TailOffset int64
	Since      *time.Time
	Until      *time.Time
}

// SpecWire is DaemonSpec flattened to only gob-friendly field types
// (time.Duration is already gob-friendly, so this mirrors DaemonSpec
// directly; it exists as its own type so the wire shape can evolve
// independently of the in-process struct).
type SpecWire struct {
	ID           ids.DaemonId
	ShellCommand string
	WorkingDir   string
	EnvOverrides map[string]string
	ReadyChecks  []daemon.ReadyCheck
	RetryPolicy  daemon.RetryPolicy
	AutoFlags    map[daemon.AutoFlag]bool
	BootStart    bool
	Depends      []ids.DaemonId
	WatchGlobs   []string

	CronSchedule  string
	CronRetrigger daemon.CronRetrigger

	Hooks daemon.Hooks

	Port         int
	AutoBumpPort bool
}

// ToSpec converts a wire spec to the in-process type.
func (s SpecWire) ToSpec() daemon.DaemonSpec {
	return daemon.DaemonSpec(s)
}

// SpecFromDaemon converts an in-process spec to its wire form.
func SpecFromDaemon(s daemon.DaemonSpec) SpecWire {
	return SpecWire(s)
}

// Response is the single response envelope.
type Response struct {
	OK  bool
	Err *ErrorWire

	RunOutcome string
	PID        int
	ExitCode   int
	Records    []daemon.Record
	LogLines   []string
	LogOffset  int64
	CleanedIDs []ids.DaemonId
}

// ErrorWire carries a corerr.Error across the wire without requiring the
// client to import the server's concrete error type.
type ErrorWire struct {
	Kind    string
	Message string

	// ExitCode is set for ChildFailed errors, mirroring corerr.Error's
	// own ExitCode field (spec.md §7 ChildFailed(exit_code)).
	ExitCode *int
}
