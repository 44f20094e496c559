// Package status renders daemon records for corral's list/status
// subcommands, either as a human-readable table or as JSON for
// --json, per spec.md §6.
package status

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/corralhq/corral/internal/daemon"
)

// jsonRecord is the --json shape for one daemon record: a flattened,
// stable view independent of daemon.Record's internal field layout.
type jsonRecord struct {
	ID              string  `json:"id"`
	Status          string  `json:"status"`
	PID             int     `json:"pid,omitempty"`
	RetryCount      int     `json:"retry_count"`
	LogPath         string  `json:"log_path,omitempty"`
	LastExitCode    *int    `json:"last_exit_code,omitempty"`
	LastExitSuccess *bool   `json:"last_exit_success,omitempty"`
	StartedAt       *string `json:"started_at,omitempty"`
	ReadyAt         *string `json:"ready_at,omitempty"`
	UptimeSeconds   *int64  `json:"uptime_seconds,omitempty"`
}

func toJSONRecord(r daemon.Record, now time.Time) jsonRecord {
	jr := jsonRecord{
		ID:              r.SpecRef.String(),
		Status:          r.Status.String(),
		PID:             r.PID,
		RetryCount:      r.RetryCount,
		LogPath:         r.LogPath,
		LastExitCode:    r.LastExitCode,
		LastExitSuccess: r.LastExitSuccess,
	}
	if r.StartedAt != nil {
		s := r.StartedAt.Format(time.RFC3339)
		jr.StartedAt = &s
	}
	if r.ReadyAt != nil {
		s := r.ReadyAt.Format(time.RFC3339)
		jr.ReadyAt = &s
		uptime := int64(now.Sub(*r.ReadyAt).Seconds())
		jr.UptimeSeconds = &uptime
	}
	return jr
}

// WriteJSON renders records as a JSON array.
func WriteJSON(w io.Writer, records []daemon.Record) error {
	now := time.Now()
	out := make([]jsonRecord, len(records))
	for i, r := range records {
		out[i] = toJSONRecord(r, now)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// WriteTable renders records as an aligned human-readable table: name,
// status, pid, uptime, retry count.
func WriteTable(w io.Writer, records []daemon.Record) error {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATUS\tPID\tUPTIME\tRETRIES")
	now := time.Now()
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n",
			r.SpecRef.String(),
			r.Status.String(),
			pidColumn(r),
			uptimeColumn(r, now),
			r.RetryCount,
		)
	}
	return tw.Flush()
}

func pidColumn(r daemon.Record) string {
	if r.PID == 0 {
		return "-"
	}
	return fmt.Sprintf("%d", r.PID)
}

func uptimeColumn(r daemon.Record, now time.Time) string {
	if r.Status != daemon.Running || r.ReadyAt == nil {
		return "-"
	}
	return formatDuration(now.Sub(*r.ReadyAt))
}

// formatDuration renders a duration the way `ps`/`uptime` tend to:
// rounded to whole seconds, no sub-second noise.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
