package orchestrator

import (
	"context"
	"syscall"
	"time"

	"github.com/corralhq/corral/internal/corerr"
	"github.com/corralhq/corral/internal/daemon"
	"github.com/corralhq/corral/internal/ids"
	"github.com/corralhq/corral/internal/launcher"
)

// terminatePollInterval and terminateGraceWindow implement the
// SIGTERM-then-poll-then-SIGKILL escalation protocol from spec.md §4.3:
// roughly a 3-second grace window before the kill.
const (
	terminatePollInterval = 200 * time.Millisecond
	terminateGraceWindow  = 3 * time.Second
)

// terminate delivers SIGTERM to the process group, polls for exit, and
// escalates to SIGKILL if the grace window elapses. It never mutates the
// registry directly — the owning attempt goroutine's Monitor observes
// the exit and finalizes the record.
func (o *Orchestrator) terminate(pid, pgid int) {
	if err := launcher.SignalGroup(pid, pgid, syscall.SIGTERM); err != nil {
		o.logger.Warn("SIGTERM delivery failed", "pid", pid, "err", err)
	}
	deadline := time.Now().Add(terminateGraceWindow)
	for time.Now().Before(deadline) {
		if launcher.ReapNonBlocking(pid) {
			return
		}
		time.Sleep(terminatePollInterval)
	}
	if !launcher.ReapNonBlocking(pid) {
		if err := launcher.SignalGroup(pid, pgid, syscall.SIGKILL); err != nil {
			o.logger.Warn("SIGKILL delivery failed", "pid", pid, "err", err)
		}
	}
}

// Stop transitions id to Stopping and waits for its child to actually
// exit (spec.md §4.1/§4.3). A daemon that is already Stopped or Errored
// is a no-op. A record with no live handle (e.g. a reattached-but-
// unmonitored pid from a previous supervisor run) is marked Stopped
// directly without a signal, matching the reattachment decision in
// DESIGN.md.
func (o *Orchestrator) Stop(ctx context.Context, id ids.DaemonId) error {
	var h *liveHandle
	var done bool
	var pid, pgid int

	o.submit(func() {
		rec, ok := o.records[id]
		if !ok || rec.Status.Terminal() {
			done = true
			return
		}
		hh, ok := o.handles[id]
		if !ok {
			rec.Status = daemon.Stopped
			rec.PID = 0
			rec.PGID = 0
			o.records[id] = rec
			o.persistLocked()
			done = true
			return
		}
		hh.stopping = true
		if hh.stoppedCh == nil {
			hh.stoppedCh = make(chan struct{})
		}
		h = hh
		pid, pgid = rec.PID, rec.PGID
		rec.Status = daemon.Stopping
		o.records[id] = rec
	})
	if done || h == nil {
		return nil
	}

	if pid != 0 {
		go o.terminate(pid, pgid)
	}

	select {
	case <-h.stoppedCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Restart stops id (if running) and starts it again from its last known
// spec, waiting for readiness.
func (o *Orchestrator) Restart(ctx context.Context, id ids.DaemonId) (RunResult, error) {
	if err := o.Stop(ctx, id); err != nil {
		return RunResult{}, err
	}
	spec, ok := o.lookupSpec(id)
	if !ok {
		return RunResult{}, corerr.New(corerr.NotFound, "no such daemon %s", id.String())
	}
	return o.Run(ctx, spec, true, false)
}
