// Package daemon defines the supervisor's core data model: the
// immutable DaemonSpec intent, the live Record state, and the Status
// state machine, per spec.md §3.
package daemon

import (
	"time"

	"github.com/corralhq/corral/internal/ids"
)

// ReadyKind names one of the five pluggable readiness probe strategies.
type ReadyKind string

const (
	ReadyDelay  ReadyKind = "delay"
	ReadyOutput ReadyKind = "output"
	ReadyHTTP   ReadyKind = "http"
	ReadyPort   ReadyKind = "port"
	ReadyCmd    ReadyKind = "cmd"
)

// ReadyCheck configures one readiness probe. Only the fields relevant to
// Kind are meaningful.
type ReadyCheck struct {
	Kind ReadyKind

	Delay       time.Duration // ReadyDelay: alive for this long
	OutputRegex string        // ReadyOutput: regex matched against stdout/stderr lines
	URL         string        // ReadyHTTP: GET this URL, success on 2xx
	Port        int           // ReadyPort: TCP connect to 127.0.0.1:Port
	Cmd         string        // ReadyCmd: shell command, success on exit 0
}

// RetryPolicy bounds the number of restart attempts.
type RetryPolicy struct {
	Max        int
	Unbounded  bool
}

// Allows reports whether another attempt is permitted given the current
// retry_count.
func (p RetryPolicy) Allows(retryCount int) bool {
	if p.Unbounded {
		return true
	}
	return retryCount < p.Max
}

// CronRetrigger names the policy deciding whether a cron fire actually
// runs given the previous run's state (spec.md §4.6).
type CronRetrigger string

const (
	RetriggerFinish  CronRetrigger = "finish"
	RetriggerAlways  CronRetrigger = "always"
	RetriggerSuccess CronRetrigger = "success"
	RetriggerFail    CronRetrigger = "fail"
)

// Hooks names the lifecycle shell commands fired on daemon transitions
// (spec.md §4.10). Each field is a shell command string, empty meaning
// "no hook configured".
type Hooks struct {
	OnReady       string
	OnFail        string
	OnRetry       string
	OnCronTrigger string
}

// AutoFlag names one of the two auto-start/auto-stop behaviors a spec may
// opt into (spec.md §3 auto_flags).
type AutoFlag string

const (
	AutoStart AutoFlag = "start"
	AutoStop  AutoFlag = "stop"
)

// DaemonSpec is the immutable intent for a daemon at a moment in time.
type DaemonSpec struct {
	ID           ids.DaemonId
	ShellCommand string
	WorkingDir   string
	EnvOverrides map[string]string
	ReadyChecks  []ReadyCheck
	RetryPolicy  RetryPolicy
	AutoFlags    map[AutoFlag]bool
	BootStart    bool
	Depends      []ids.DaemonId
	WatchGlobs   []string

	CronSchedule  string
	CronRetrigger CronRetrigger

	Hooks Hooks

	Port         int
	AutoBumpPort bool
}

// HasAuto reports whether flag is set in AutoFlags.
func (s DaemonSpec) HasAuto(flag AutoFlag) bool {
	return s.AutoFlags != nil && s.AutoFlags[flag]
}
