package statestore

import (
	"time"

	"github.com/corralhq/corral/internal/daemon"
	"github.com/corralhq/corral/internal/ids"
)

func statusToTOML(s daemon.Status) string { return s.String() }

func statusFromTOML(s string) daemon.Status {
	switch s {
	case "waiting":
		return daemon.Waiting
	case "running":
		return daemon.Running
	case "stopping":
		return daemon.Stopping
	case "errored":
		return daemon.Errored
	default:
		return daemon.Stopped
	}
}

func timePtrToTOML(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func timePtrFromTOML(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}

// ToTOML converts a live daemon.Record into its on-disk representation.
func ToTOML(r daemon.Record) RecordTOML {
	return RecordTOML{
		Status:          statusToTOML(r.Status),
		PID:             r.PID,
		PGID:            r.PGID,
		LogPath:         r.LogPath,
		RetryCount:      r.RetryCount,
		LastExitCode:    r.LastExitCode,
		LastExitSuccess: r.LastExitSuccess,
		StartedAt:       timePtrToTOML(r.StartedAt),
		ReadyAt:         timePtrToTOML(r.ReadyAt),
		LastCronFireAt:  timePtrToTOML(r.LastCronFireAt),
	}
}

// FromTOML converts a persisted RecordTOML back into a daemon.Record,
// attaching the given id as SpecRef.
func FromTOML(id ids.DaemonId, t RecordTOML) daemon.Record {
	return daemon.Record{
		SpecRef:         id,
		Status:          statusFromTOML(t.Status),
		PID:             t.PID,
		PGID:            t.PGID,
		LogPath:         t.LogPath,
		RetryCount:      t.RetryCount,
		LastExitCode:    t.LastExitCode,
		LastExitSuccess: t.LastExitSuccess,
		StartedAt:       timePtrFromTOML(t.StartedAt),
		ReadyAt:         timePtrFromTOML(t.ReadyAt),
		LastCronFireAt:  timePtrFromTOML(t.LastCronFireAt),
	}
}
