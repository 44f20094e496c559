// Package interval implements the 10-second housekeeping tick from
// spec.md §4.7: prune dead pids, debounce directory-leave into an
// auto_stop, and re-check the retry queue. It generalizes the teacher's
// ticker-based per-daemon health loop into one loop over the whole
// shell-dir map.
package interval

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/corralhq/corral/internal/daemon"
	"github.com/corralhq/corral/internal/hooks"
	"github.com/corralhq/corral/internal/ids"
	"github.com/corralhq/corral/internal/orchestrator"
)

// tickInterval matches spec.md §4.7's 10-second housekeeping cadence.
const tickInterval = 10 * time.Second

// autoStopDebounce is how long a shell must have left a daemon's
// working_dir before auto_stop actually fires, avoiding a stop on a
// momentary `cd` through the directory.
const autoStopDebounce = 10 * time.Second

// Watcher runs the housekeeping tick on its own goroutine until Stop.
type Watcher struct {
	reg    *orchestrator.Orchestrator
	hooks  *hooks.Runner
	logger *slog.Logger

	// pendingStop tracks, per daemon id, when a directory-leave was first
	// observed so the stop can be debounced.
	pendingStop map[ids.DaemonId]time.Time

	stop chan struct{}
	done chan struct{}
}

// New constructs a Watcher bound to reg. hooksRunner fires on_retry when
// the watcher resurrects an Errored daemon (spec.md §4.7 item 4); it may
// be nil, in which case that hook is skipped.
func New(reg *orchestrator.Orchestrator, hooksRunner *hooks.Runner, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		reg:         reg,
		hooks:       hooksRunner,
		logger:      logger,
		pendingStop: make(map[ids.DaemonId]time.Time),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start begins the tick loop.
func (w *Watcher) Start() {
	go w.run()
}

// Stop halts the tick loop and waits for it to exit.
func (w *Watcher) Stop() {
	close(w.stop)
	<-w.done
}

func (w *Watcher) run() {
	defer close(w.done)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.tick()
		case <-w.stop:
			return
		}
	}
}

func (w *Watcher) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), tickInterval)
	defer cancel()

	w.sweepDeadPids()
	w.checkAutoStart(ctx)
	w.checkAutoStop(ctx)
	w.retryErrored(ctx)
}

// sweepDeadPids refreshes OS liveness for tracked pids and demotes any
// Running record the OS no longer reports alive to Errored, per
// spec.md §4.7 item 1. This is the only place a Running record attached
// by Load's reattachment (no live monitor goroutine) ever gets its pid
// re-checked.
func (w *Watcher) sweepDeadPids() {
	for _, id := range w.reg.SweepDeadPids() {
		w.logger.Warn("interval: demoted dead pid to errored", "daemon_id", id.String())
	}
}

// retryErrored issues an async retry for every Errored daemon that still
// has retry budget and no live pid, per spec.md §4.7 item 4.
func (w *Watcher) retryErrored(ctx context.Context) {
	for _, rec := range w.reg.List() {
		if rec.Status != daemon.Errored || rec.PID != 0 {
			continue
		}
		spec, ok := w.reg.SpecFor(rec.SpecRef)
		if !ok || !spec.RetryPolicy.Allows(rec.RetryCount) {
			continue
		}
		if w.hooks != nil {
			w.hooks.Fire(hooks.OnRetry, spec, rec.RetryCount, nil)
		}
		if _, err := w.reg.RetryErrored(ctx, spec); err != nil {
			w.logger.Warn("interval retry failed", "daemon_id", spec.ID.String(), "err", err)
		}
	}
}

// checkAutoStart starts any auto_start daemon whose working_dir a
// tracked shell currently sits in and which is not already running
// (spec.md §4.7).
func (w *Watcher) checkAutoStart(ctx context.Context) {
	var dirs map[int]string
	w.reg.WithShellDirs(func(m map[int]string) { dirs = m })

	for _, rec := range w.reg.List() {
		spec, ok := w.reg.SpecFor(rec.SpecRef)
		if !ok || !spec.HasAuto(daemon.AutoStart) {
			continue
		}
		if rec.Status == daemon.Running || rec.Status == daemon.Waiting {
			continue
		}
		if !anyShellIn(dirs, spec.WorkingDir) {
			continue
		}
		if _, err := w.reg.Run(ctx, spec, false, false); err != nil {
			w.logger.Warn("auto_start failed", "daemon_id", spec.ID.String(), "err", err)
		}
	}
}

// checkAutoStop debounce-stops any auto_stop daemon whose working_dir no
// tracked shell currently sits in.
func (w *Watcher) checkAutoStop(ctx context.Context) {
	var dirs map[int]string
	w.reg.WithShellDirs(func(m map[int]string) { dirs = m })

	now := time.Now()
	for _, rec := range w.reg.List() {
		if rec.Status != daemon.Running {
			delete(w.pendingStop, rec.SpecRef)
			continue
		}
		spec, ok := w.reg.SpecFor(rec.SpecRef)
		if !ok || !spec.HasAuto(daemon.AutoStop) {
			continue
		}
		if anyShellIn(dirs, spec.WorkingDir) {
			delete(w.pendingStop, rec.SpecRef)
			continue
		}
		since, pending := w.pendingStop[rec.SpecRef]
		if !pending {
			w.pendingStop[rec.SpecRef] = now
			continue
		}
		if now.Sub(since) < autoStopDebounce {
			continue
		}
		delete(w.pendingStop, rec.SpecRef)
		if err := w.reg.Stop(ctx, rec.SpecRef); err != nil {
			w.logger.Warn("auto_stop failed", "daemon_id", rec.SpecRef.String(), "err", err)
		}
	}
}

// anyShellIn reports whether any tracked shell sits in workingDir itself
// or in one of its descendant directories (spec.md §4.7 item 3: "for
// every Running daemon whose working_dir == dir or is a descendant").
func anyShellIn(dirs map[int]string, workingDir string) bool {
	for _, d := range dirs {
		if dirEquals(d, workingDir) || isDescendantDir(d, workingDir) {
			return true
		}
	}
	return false
}

func dirEquals(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}

// isDescendantDir reports whether shellDir is workingDir or a path
// nested under it, comparing whole path segments so "/foo/bar" does not
// match a shell sitting in "/foo/barbaz".
func isDescendantDir(shellDir, workingDir string) bool {
	shellDir = filepath.Clean(shellDir)
	workingDir = filepath.Clean(workingDir)
	rel, err := filepath.Rel(workingDir, shellDir)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
