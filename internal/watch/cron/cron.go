// Package cron re-triggers cron-scheduled daemons per spec.md §4.6: each
// scheduled daemon gets one robfig/cron entry; on fire, the configured
// CronRetrigger mode decides whether this tick actually runs it.
package cron

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/corralhq/corral/internal/daemon"
	"github.com/corralhq/corral/internal/hooks"
	"github.com/corralhq/corral/internal/ids"
)

// Watcher drives scheduled re-triggers for every spec with a non-empty
// CronSchedule.
type Watcher struct {
	cron   *cron.Cron
	hooks  *hooks.Runner
	logger *slog.Logger
	runFn  func(ctx context.Context, spec daemon.DaemonSpec, force bool) error
	getFn  func(id ids.DaemonId) (daemon.Record, bool)

	entries map[ids.DaemonId]cron.EntryID
}

// New constructs a Watcher. runFn is the orchestrator's Run bound with
// waitReady=false (cron fires are fire-and-forget); getFn reads the
// current record to evaluate a retrigger mode.
func New(runFn func(ctx context.Context, spec daemon.DaemonSpec, force bool) error, getFn func(id ids.DaemonId) (daemon.Record, bool), hooksRunner *hooks.Runner, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		cron:    cron.New(cron.WithSeconds()),
		hooks:   hooksRunner,
		logger:  logger,
		runFn:   runFn,
		getFn:   getFn,
		entries: make(map[ids.DaemonId]cron.EntryID),
	}
}

// Start begins the cron scheduler's own goroutine.
func (w *Watcher) Start() { w.cron.Start() }

// Stop drains in-flight entries and stops the scheduler.
func (w *Watcher) Stop() { <-w.cron.Stop().Done() }

// Schedule adds or replaces spec's cron entry, a no-op if CronSchedule
// is empty.
func (w *Watcher) Schedule(spec daemon.DaemonSpec) error {
	w.Unschedule(spec.ID)
	if spec.CronSchedule == "" {
		return nil
	}
	id, err := w.cron.AddFunc(spec.CronSchedule, func() { w.fire(spec) })
	if err != nil {
		return err
	}
	w.entries[spec.ID] = id
	return nil
}

// Unschedule removes id's cron entry if one exists.
func (w *Watcher) Unschedule(id ids.DaemonId) {
	if entryID, ok := w.entries[id]; ok {
		w.cron.Remove(entryID)
		delete(w.entries, id)
	}
}

// fire evaluates spec's CronRetrigger mode against the current record
// and runs spec if the mode allows it (spec.md §4.6).
func (w *Watcher) fire(spec daemon.DaemonSpec) {
	rec, exists := w.getFn(spec.ID)

	allowed := true
	if exists {
		switch spec.CronRetrigger {
		case daemon.RetriggerAlways:
			allowed = true
		case daemon.RetriggerFinish:
			allowed = rec.Status.Terminal()
		case daemon.RetriggerSuccess:
			allowed = rec.Status.Terminal() && rec.LastExitSuccess != nil && *rec.LastExitSuccess
		case daemon.RetriggerFail:
			allowed = rec.Status.Terminal() && rec.LastExitSuccess != nil && !*rec.LastExitSuccess
		default:
			allowed = rec.Status.Terminal()
		}
	}

	if !allowed {
		w.logger.Info("cron tick skipped by retrigger mode", "daemon_id", spec.ID.String(), "mode", spec.CronRetrigger, "status", rec.Status.String())
		return
	}

	w.hooks.Fire(hooks.OnCronTrigger, spec, rec.RetryCount, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := w.runFn(ctx, spec, spec.CronRetrigger == daemon.RetriggerAlways); err != nil {
		w.logger.Warn("cron-triggered run failed", "daemon_id", spec.ID.String(), "err", err)
	}
}
