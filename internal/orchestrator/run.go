package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/corralhq/corral/internal/corerr"
	"github.com/corralhq/corral/internal/daemon"
	"github.com/corralhq/corral/internal/hooks"
	"github.com/corralhq/corral/internal/ids"
	"github.com/corralhq/corral/internal/logsink"
	"github.com/corralhq/corral/internal/monitor"
	"github.com/corralhq/corral/internal/notify"
	"github.com/corralhq/corral/internal/readiness"
)

// RunOutcome tags the result of a Run call.
type RunOutcome int

const (
	OutcomeReady RunOutcome = iota
	OutcomeAlreadyRunning
	OutcomeStarted
	OutcomeFailed
)

// RunResult is returned from Run.
type RunResult struct {
	Outcome  RunOutcome
	PID      int
	ExitCode int

	// TimedOut is set alongside OutcomeFailed when the failure was a
	// readiness timeout rather than the child exiting on its own —
	// launchOne uses it to surface corerr.ReadyTimeout instead of
	// corerr.ChildFailed (spec.md §7).
	TimedOut bool
}

// maxBackoff caps the retry delay growth from spec.md §4.5's exponential
// backoff ("2^(attempt-1) seconds, capped").
const maxBackoff = 60 * time.Second

func backoffFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(1) << uint(attempt-1)
	d *= time.Second
	if d > maxBackoff || d <= 0 {
		return maxBackoff
	}
	return d
}

// Run starts spec, resolving its dependency graph first (spec.md §4.1,
// §4.8). If waitReady is true, Run blocks until a readiness probe
// succeeds or the startup retries are exhausted. force restarts an
// already-Running daemon instead of returning AlreadyRunning.
func (o *Orchestrator) Run(ctx context.Context, spec daemon.DaemonSpec, waitReady, force bool) (RunResult, error) {
	return o.runInternal(ctx, spec, waitReady, force, map[ids.DaemonId]bool{})
}

func (o *Orchestrator) runInternal(ctx context.Context, spec daemon.DaemonSpec, waitReady, force bool, visiting map[ids.DaemonId]bool) (RunResult, error) {
	if visiting[spec.ID] {
		return RunResult{}, corerr.New(corerr.DependencyCycle, "dependency cycle reaches %s", spec.ID.String())
	}
	visiting[spec.ID] = true

	for _, dep := range spec.Depends {
		if o.isRunning(dep) {
			continue
		}
		depSpec, ok := o.lookupSpec(dep)
		if !ok {
			return RunResult{}, corerr.New(corerr.NotFound, "dependency %s is not registered", dep.String())
		}
		if _, err := o.runInternal(ctx, depSpec, true, false, visiting); err != nil {
			return RunResult{}, fmt.Errorf("starting dependency %s: %w", dep.String(), err)
		}
	}

	return o.launchOne(ctx, spec, waitReady, force)
}

func (o *Orchestrator) isRunning(id ids.DaemonId) bool {
	var running bool
	o.submit(func() {
		r, ok := o.records[id]
		running = ok && r.Status == daemon.Running
	})
	return running
}

func (o *Orchestrator) lookupSpec(id ids.DaemonId) (daemon.DaemonSpec, bool) {
	var spec daemon.DaemonSpec
	var ok bool
	o.submit(func() {
		spec, ok = o.specs[id]
	})
	return spec, ok
}

// launchOne performs the serialized check-and-transition for a single
// daemon, then kicks off the (possibly retrying) spawn attempt. A fresh
// *liveHandle is installed for every attempt generation; an older
// generation's attempt goroutine recognizes it has been superseded via
// stillOwns and quietly drops its events instead of corrupting the new
// generation's record (the stale-monitor guard, spec.md §4.4).
func (o *Orchestrator) launchOne(ctx context.Context, spec daemon.DaemonSpec, waitReady, force bool) (RunResult, error) {
	var proceed bool
	var runErr error
	var h *liveHandle

	o.submit(func() {
		if o.draining {
			runErr = corerr.New(corerr.ShuttingDown, "supervisor is shutting down")
			return
		}
		if o.disabled[spec.ID] {
			runErr = corerr.New(corerr.Disabled, "daemon %s is disabled", spec.ID.String())
			return
		}
		rec, exists := o.records[spec.ID]
		if exists && rec.Status == daemon.Running && !force {
			proceed = false
			return
		}
		if exists && rec.PID != 0 && force {
			go o.terminate(rec.PID, rec.PGID)
		}
		o.specs[spec.ID] = spec
		o.records[spec.ID] = daemon.Record{SpecRef: spec.ID, Status: daemon.Waiting}
		h = &liveHandle{spec: spec}
		o.handles[spec.ID] = h
		proceed = true
	})
	if runErr != nil {
		return RunResult{}, runErr
	}
	if !proceed {
		return RunResult{Outcome: OutcomeAlreadyRunning}, nil
	}

	var resultCh chan RunResult
	if waitReady {
		resultCh = make(chan RunResult, 1)
	}
	go o.attempt(ctx, spec, 0, resultCh, h)

	if !waitReady {
		return RunResult{Outcome: OutcomeStarted}, nil
	}
	select {
	case res := <-resultCh:
		if res.Outcome == OutcomeFailed {
			if res.TimedOut {
				return res, corerr.New(corerr.ReadyTimeout, "daemon %s did not become ready in time", spec.ID.String())
			}
			return res, corerr.ChildFailedErr(res.ExitCode, "daemon %s exited before becoming ready", spec.ID.String())
		}
		return res, nil
	case <-ctx.Done():
		return RunResult{}, ctx.Err()
	}
}

// RetryErrored resurrects an Errored daemon that still has retry budget
// and no live pid, continuing its retry_count instead of resetting it —
// the interval watcher's item-4 retry pass (spec.md §4.7) calls this
// rather than Run so a run of watcher-driven retries still converges on
// RetryPolicy's cap instead of restarting the count at zero every tick.
func (o *Orchestrator) RetryErrored(ctx context.Context, spec daemon.DaemonSpec) (RunResult, error) {
	var proceed bool
	var runErr error
	var h *liveHandle
	var retryCount int

	o.submit(func() {
		if o.draining {
			runErr = corerr.New(corerr.ShuttingDown, "supervisor is shutting down")
			return
		}
		if o.disabled[spec.ID] {
			runErr = corerr.New(corerr.Disabled, "daemon %s is disabled", spec.ID.String())
			return
		}
		rec, exists := o.records[spec.ID]
		if !exists || rec.Status != daemon.Errored {
			return
		}
		if _, hasHandle := o.handles[spec.ID]; hasHandle {
			return
		}
		retryCount = rec.RetryCount + 1
		o.specs[spec.ID] = spec
		o.records[spec.ID] = daemon.Record{SpecRef: spec.ID, Status: daemon.Waiting}
		h = &liveHandle{spec: spec}
		o.handles[spec.ID] = h
		proceed = true
	})
	if runErr != nil {
		return RunResult{}, runErr
	}
	if !proceed {
		return RunResult{Outcome: OutcomeAlreadyRunning}, nil
	}

	go o.attempt(ctx, spec, retryCount, nil, h)
	return RunResult{Outcome: OutcomeStarted}, nil
}

// attempt spawns one child and drives it through the Monitor. On a
// pre-ready failure it retries with capped exponential backoff while
// RetryPolicy allows; resultCh (if non-nil) receives exactly once, the
// first time the daemon becomes Ready or its retries are exhausted. A
// post-ready crash restarts silently in the background — resultCh has
// already fired by then. h identifies this attempt's generation; every
// mutation first checks stillOwns(spec.ID, h).
func (o *Orchestrator) attempt(ctx context.Context, spec daemon.DaemonSpec, retryCount int, resultCh chan RunResult, h *liveHandle) {
	checks := make([]readiness.CompiledCheck, 0, len(spec.ReadyChecks))
	for _, rc := range spec.ReadyChecks {
		cc, err := readiness.Compile(rc)
		if err != nil {
			o.logger.Error("invalid ready check", "daemon_id", spec.ID.String(), "err", err)
			return
		}
		checks = append(checks, cc)
	}

	proc, err := o.launcher.Launch(ctx, spec, retryCount)
	if err != nil {
		o.retryOrFail(ctx, spec, retryCount, -1, err, resultCh, h)
		return
	}

	var stoppingNow bool
	o.submit(func() {
		if !o.stillOwns(spec.ID, h) {
			return
		}
		rec := o.records[spec.ID]
		rec.PID = proc.PID
		rec.PGID = proc.PGID
		o.records[spec.ID] = rec
		stoppingNow = h.stopping
	})
	if stoppingNow {
		go o.terminate(proc.PID, proc.PGID)
	}

	logPath := logsink.Path(o.logsRoot, spec.ID)
	sink, err := logsink.Open(logPath)
	if err != nil {
		o.logger.Warn("open log sink failed", "daemon_id", spec.ID.String(), "err", err)
	}

	m := monitor.Start(ctx, spec.ID, proc, checks, sink)

	for ev := range m.Events {
		switch ev.Kind {
		case monitor.ReadyTimeout:
			// The Monitor is terminating the child; its Exited event
			// (BeforeReady, since readiness never hit) follows shortly and
			// drives the usual retry/fail transition through retryOrFail.
			// Here we only need to unblock a synchronous waiter so it
			// doesn't sit until the caller's own deadline.
			if resultCh != nil {
				resultCh <- RunResult{Outcome: OutcomeFailed, TimedOut: true}
				resultCh = nil
			}
		case monitor.Ready:
			now := time.Now()
			o.post(func() {
				if !o.stillOwns(spec.ID, h) {
					return
				}
				rec := o.records[spec.ID]
				rec.Status = daemon.Running
				rec.PID = proc.PID
				rec.PGID = proc.PGID
				rec.LogPath = logPath
				rec.RetryCount = retryCount
				rec.ReadyAt = &now
				rec.StartedAt = &now
				o.records[spec.ID] = rec
				o.persistLocked()
			})
			o.hooks.Fire(hooks.OnReady, spec, retryCount, nil)
			o.notify.Notify(notify.EventReady, spec, "daemon became ready", nil)
			if resultCh != nil {
				resultCh <- RunResult{Outcome: OutcomeReady, PID: proc.PID}
				resultCh = nil
			}
		case monitor.Exited:
			if sink != nil {
				sink.Close()
			}
			var owns, stopped bool
			o.submit(func() {
				owns = o.stillOwns(spec.ID, h)
				stopped = owns && h.stopping
			})
			if !owns {
				return
			}
			if stopped {
				o.finalizeStopped(spec.ID, h)
				return
			}
			if ev.BeforeReady {
				o.retryOrFail(ctx, spec, retryCount, ev.ExitCode, ev.Err, resultCh, h)
			} else {
				o.handleCrash(ctx, spec, retryCount, ev, h)
			}
		}
	}
}

// stillOwns reports whether h is still the current live handle for id —
// called only from within the owner goroutine (submit/post closures).
func (o *Orchestrator) stillOwns(id ids.DaemonId, h *liveHandle) bool {
	cur, ok := o.handles[id]
	return ok && cur == h
}

// finalizeStopped marks id Stopped after a deliberate Stop's signal
// delivery caused the child to exit, and wakes any Stop waiter.
func (o *Orchestrator) finalizeStopped(id ids.DaemonId, h *liveHandle) {
	o.post(func() {
		if !o.stillOwns(id, h) {
			return
		}
		rec := o.records[id]
		rec.Status = daemon.Stopped
		rec.PID = 0
		rec.PGID = 0
		o.records[id] = rec
		delete(o.handles, id)
		o.persistLocked()
		if h.stoppedCh != nil {
			close(h.stoppedCh)
		}
	})
}

func (o *Orchestrator) retryOrFail(ctx context.Context, spec daemon.DaemonSpec, retryCount, exitCode int, cause error, resultCh chan RunResult, h *liveHandle) {
	if cause != nil {
		o.logger.Warn("daemon exited before ready", "daemon_id", spec.ID.String(), "err", cause)
	}
	o.hooks.Fire(hooks.OnFail, spec, retryCount, intPtr(exitCode))
	o.notify.Notify(notify.EventFailed, spec, "daemon exited before ready", intPtr(exitCode))

	if spec.RetryPolicy.Allows(retryCount) {
		o.hooks.Fire(hooks.OnRetry, spec, retryCount, nil)
		delay := backoffFor(retryCount + 1)
		go func() {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			o.attempt(ctx, spec, retryCount+1, resultCh, h)
		}()
		return
	}

	o.notify.Notify(notify.EventRetriesExhausted, spec, "daemon exhausted its retry policy", intPtr(exitCode))
	success := false
	o.post(func() {
		if !o.stillOwns(spec.ID, h) {
			return
		}
		rec := o.records[spec.ID]
		rec.Status = daemon.Errored
		rec.RetryCount = retryCount
		code := exitCode
		rec.LastExitCode = &code
		rec.LastExitSuccess = &success
		o.records[spec.ID] = rec
		delete(o.handles, spec.ID)
		o.persistLocked()
	})
	if resultCh != nil {
		resultCh <- RunResult{Outcome: OutcomeFailed, ExitCode: exitCode}
	}
}

// handleCrash restarts a daemon that exited after having been Ready,
// respecting the same retry policy; resultCh has already fired so it is
// never touched here.
func (o *Orchestrator) handleCrash(ctx context.Context, spec daemon.DaemonSpec, retryCount int, ev monitor.Event, h *liveHandle) {
	o.hooks.Fire(hooks.OnFail, spec, retryCount, intPtr(ev.ExitCode))
	o.notify.Notify(notify.EventFailed, spec, "daemon crashed", intPtr(ev.ExitCode))

	if spec.RetryPolicy.Allows(retryCount) {
		o.hooks.Fire(hooks.OnRetry, spec, retryCount, nil)
		delay := backoffFor(retryCount + 1)
		o.post(func() {
			if !o.stillOwns(spec.ID, h) {
				return
			}
			rec := o.records[spec.ID]
			rec.Status = daemon.Waiting
			o.records[spec.ID] = rec
		})
		go func() {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			o.attempt(ctx, spec, retryCount+1, nil, h)
		}()
		return
	}

	o.notify.Notify(notify.EventRetriesExhausted, spec, "daemon exhausted its retry policy after a crash", intPtr(ev.ExitCode))
	success := ev.Success
	o.post(func() {
		if !o.stillOwns(spec.ID, h) {
			return
		}
		rec := o.records[spec.ID]
		rec.Status = daemon.Errored
		rec.RetryCount = retryCount
		code := ev.ExitCode
		rec.LastExitCode = &code
		rec.LastExitSuccess = &success
		delete(o.handles, spec.ID)
		o.records[spec.ID] = rec
		o.persistLocked()
	})
}

func intPtr(v int) *int { return &v }
