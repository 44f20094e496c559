package daemon

import (
	"time"

	"github.com/corralhq/corral/internal/ids"
)

// Record is the live state of a daemon, distinct from the immutable
// Spec that describes intent (spec.md §3).
type Record struct {
	SpecRef ids.DaemonId
	Status  Status

	PID  int
	PGID int

	LogPath string

	RetryCount int

	LastExitCode    *int
	LastExitSuccess *bool

	StartedAt      *time.Time
	ReadyAt        *time.Time
	LastCronFireAt *time.Time
}

// Clone returns a deep-enough copy safe to hand to a reader outside the
// Orchestrator's single-owner goroutine (spec.md §4.1 "list() — snapshot
// of all records").
func (r Record) Clone() Record {
	out := r
	if r.LastExitCode != nil {
		v := *r.LastExitCode
		out.LastExitCode = &v
	}
	if r.LastExitSuccess != nil {
		v := *r.LastExitSuccess
		out.LastExitSuccess = &v
	}
	if r.StartedAt != nil {
		v := *r.StartedAt
		out.StartedAt = &v
	}
	if r.ReadyAt != nil {
		v := *r.ReadyAt
		out.ReadyAt = &v
	}
	if r.LastCronFireAt != nil {
		v := *r.LastCronFireAt
		out.LastCronFireAt = &v
	}
	return out
}

// IsAlive reports whether the record believes its pid names a live,
// monitored process.
func (r Record) IsAlive() bool {
	return r.Status == Running && r.PID != 0
}
