// Package orchestrator implements the single owner of daemon state from
// spec.md §4.1: one goroutine serializes every mutation to the registry
// through a channel of closures, while the slow work — spawning,
// waiting for readiness, terminating — runs on separate goroutines that
// report their outcome back through the same channel. This gives each
// daemon id a serialized history of its own transitions while leaving
// unrelated daemons free to start, stop, and retry fully in parallel
// (spec.md §5).
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/corralhq/corral/internal/daemon"
	"github.com/corralhq/corral/internal/hooks"
	"github.com/corralhq/corral/internal/ids"
	"github.com/corralhq/corral/internal/launcher"
	"github.com/corralhq/corral/internal/notify"
	"github.com/corralhq/corral/internal/statestore"
)

// liveHandle identifies one attempt generation for a daemon id. Every
// mutation performed by that generation's goroutines first confirms,
// from the owner goroutine, that o.handles[id] is still this exact
// pointer (the stale-monitor guard, spec.md §4.4) before touching the
// registry. stopping/stoppedCh let Stop coordinate with the generation's
// own attempt loop without a separate signaling channel per call.
type liveHandle struct {
	spec      daemon.DaemonSpec
	stopping  bool
	stoppedCh chan struct{}
}

// Orchestrator owns the daemon registry. Every field below is only ever
// touched from the single owner goroutine started by New; all other
// goroutines communicate exclusively through submit.
type Orchestrator struct {
	logsRoot string
	launcher *launcher.Launcher
	store    *statestore.Store
	hooks    *hooks.Runner
	notify   *notify.Notifier
	logger   *slog.Logger

	specs    map[ids.DaemonId]daemon.DaemonSpec
	records  map[ids.DaemonId]daemon.Record
	handles  map[ids.DaemonId]*liveHandle
	disabled map[ids.DaemonId]bool

	// shellDirs maps a client shell pid to the working directory it last
	// reported, for auto_start/auto_stop (spec.md §4.7).
	shellDirs map[int]string

	ops      chan func()
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	draining bool
}

// Options configures a new Orchestrator.
type Options struct {
	LogsRoot string
	Launcher *launcher.Launcher
	Store    *statestore.Store
	Hooks    *hooks.Runner
	Notify   *notify.Notifier
	Logger   *slog.Logger
}

// New constructs an Orchestrator and starts its owner goroutine. Callers
// should follow with Load to seed the registry from the state store.
func New(opts Options) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		logsRoot:  opts.LogsRoot,
		launcher:  opts.Launcher,
		store:     opts.Store,
		hooks:     opts.Hooks,
		notify:    opts.Notify,
		logger:    logger,
		specs:     make(map[ids.DaemonId]daemon.DaemonSpec),
		records:   make(map[ids.DaemonId]daemon.Record),
		handles:   make(map[ids.DaemonId]*liveHandle),
		disabled:  make(map[ids.DaemonId]bool),
		shellDirs: make(map[int]string),
		ops:       make(chan func(), 64),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go o.loop()
	return o
}

func (o *Orchestrator) loop() {
	defer close(o.done)
	for {
		select {
		case op := <-o.ops:
			op()
		case <-o.ctx.Done():
			// Drain any already-queued ops (final state-publishing
			// closures from in-flight goroutines) before exiting, so a
			// terminal monitor Event isn't lost mid-shutdown.
			for {
				select {
				case op := <-o.ops:
					op()
				default:
					return
				}
			}
		}
	}
}

// submit runs fn on the owner goroutine and blocks until it completes.
func (o *Orchestrator) submit(fn func()) {
	done := make(chan struct{})
	select {
	case o.ops <- func() { fn(); close(done) }:
	case <-o.ctx.Done():
		return
	}
	<-done
}

// post enqueues fn to run on the owner goroutine without waiting —
// used by background goroutines reporting an asynchronous outcome.
func (o *Orchestrator) post(fn func()) {
	select {
	case o.ops <- fn:
	case <-o.ctx.Done():
	}
}

// Load seeds the registry from a previously persisted snapshot. Per the
// reattachment decision in DESIGN.md (spec.md §9 Open Question 1): a
// record whose pid is still alive is kept as Running without
// re-attaching a Monitor (no output re-capture, no readiness
// re-evaluation); everything else resets to Stopped so a restart can
// re-launch it cleanly.
func (o *Orchestrator) Load(ctx context.Context, specs map[ids.DaemonId]daemon.DaemonSpec) error {
	snap, err := o.store.Load(ctx)
	if err != nil {
		return err
	}
	records := statestore.RecordsFromSnapshot(snap)

	o.submit(func() {
		o.specs = specs
		for id, rec := range records {
			if rec.IsAlive() && !launcher.ReapNonBlocking(rec.PID) {
				o.records[id] = rec
				continue
			}
			rec.Status = daemon.Stopped
			rec.PID = 0
			rec.PGID = 0
			o.records[id] = rec
		}
		for encID := range snap.Disabled {
			if id, err := ids.Decode(encID); err == nil {
				o.disabled[id] = true
			}
		}
		for pidStr, dir := range snap.ShellDirs {
			var pid int
			fmt.Sscanf(pidStr, "%d", &pid)
			if pid != 0 {
				o.shellDirs[pid] = dir
			}
		}
	})
	return nil
}

// persistLocked snapshots the registry and writes it to the state store. Must
// only be called from within the owner goroutine or from a closure
// already queued through submit/post (the snapshot build itself takes a
// lock-free read of the owner's own maps).
func (o *Orchestrator) persistLocked() {
	if o.store == nil {
		return
	}
	records := make(map[ids.DaemonId]daemon.Record, len(o.records))
	for id, r := range o.records {
		records[id] = r
	}
	snap := statestore.SnapshotFromRecords(records, o.disabled, o.shellDirs)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.store.Save(ctx, snap); err != nil {
		o.logger.Error("persist state failed", "err", err)
	}
}

// List returns a snapshot of every known record.
func (o *Orchestrator) List() []daemon.Record {
	var out []daemon.Record
	o.submit(func() {
		out = make([]daemon.Record, 0, len(o.records))
		for _, r := range o.records {
			out = append(out, r.Clone())
		}
	})
	return out
}

// SpecFor returns the most recently registered spec for id, if any.
func (o *Orchestrator) SpecFor(id ids.DaemonId) (daemon.DaemonSpec, bool) {
	return o.lookupSpec(id)
}

// Get returns a snapshot of one record.
func (o *Orchestrator) Get(id ids.DaemonId) (daemon.Record, bool) {
	var rec daemon.Record
	var ok bool
	o.submit(func() {
		r, found := o.records[id]
		rec, ok = r.Clone(), found
	})
	return rec, ok
}

// Clean purges every record whose status is terminal (Stopped or
// Errored), per spec.md §3's "destroyed only by an explicit purge
// (clean) once status is terminal". It returns the ids removed.
func (o *Orchestrator) Clean() []ids.DaemonId {
	var removed []ids.DaemonId
	o.submit(func() {
		for id, rec := range o.records {
			if rec.Status.Terminal() {
				removed = append(removed, id)
				delete(o.records, id)
				delete(o.specs, id)
				delete(o.disabled, id)
			}
		}
		if len(removed) > 0 {
			o.persistLocked()
		}
	})
	return removed
}

// SweepDeadPids refreshes OS liveness for every tracked pid (never the
// whole process table) and demotes to Errored(None) any Running record
// whose pid the OS no longer reports alive, per spec.md §4.7 item 1. A
// record still owned by a live handle already has a monitor goroutine
// watching its exit and is left alone; this only catches Running
// records nothing is currently watching — chiefly ones Load reattached
// to an already-dead pid between ticks. The returned ids are the ones
// just demoted, left for the interval watcher's retry pass to pick up.
func (o *Orchestrator) SweepDeadPids() []ids.DaemonId {
	type demotion struct {
		id      ids.DaemonId
		spec    daemon.DaemonSpec
		hasSpec bool
	}
	var dead []demotion
	o.submit(func() {
		for id, rec := range o.records {
			if rec.Status != daemon.Running || rec.PID == 0 {
				continue
			}
			if _, hasHandle := o.handles[id]; hasHandle {
				continue
			}
			if !launcher.ReapNonBlocking(rec.PID) {
				continue
			}
			rec.Status = daemon.Errored
			rec.PID = 0
			rec.PGID = 0
			rec.LastExitCode = nil
			rec.LastExitSuccess = nil
			o.records[id] = rec
			spec, ok := o.specs[id]
			dead = append(dead, demotion{id: id, spec: spec, hasSpec: ok})
		}
		if len(dead) > 0 {
			o.persistLocked()
		}
	})

	out := make([]ids.DaemonId, 0, len(dead))
	for _, d := range dead {
		out = append(out, d.id)
		if !d.hasSpec {
			continue
		}
		o.hooks.Fire(hooks.OnFail, d.spec, 0, nil)
		o.notify.Notify(notify.EventFailed, d.spec, "daemon pid no longer alive at interval refresh", nil)
	}
	return out
}

// Enable clears id's disabled flag (spec.md §4.1).
func (o *Orchestrator) Enable(id ids.DaemonId) {
	o.submit(func() {
		delete(o.disabled, id)
		o.persistLocked()
	})
}

// Disable sets id's disabled flag; a disabled daemon refuses Run until
// re-enabled (spec.md §4.1, §7 Disabled error kind).
func (o *Orchestrator) Disable(id ids.DaemonId) {
	o.submit(func() {
		o.disabled[id] = true
		o.persistLocked()
	})
}

// UpdateShellDir records the working directory a client shell most
// recently reported for pid, or clears it entirely if dir is nil
// (shell exited). This drives auto_start/auto_stop (spec.md §4.7); the
// Interval Watcher reads shellDirs via WithShellDirs.
func (o *Orchestrator) UpdateShellDir(pid int, dir *string) {
	o.submit(func() {
		if dir == nil {
			delete(o.shellDirs, pid)
			return
		}
		o.shellDirs[pid] = *dir
	})
}

// WithShellDirs hands fn a read-only snapshot of the shell-dir map,
// called from the owner goroutine for consistency with the rest of the
// registry.
func (o *Orchestrator) WithShellDirs(fn func(map[int]string)) {
	o.submit(func() {
		snap := make(map[int]string, len(o.shellDirs))
		for k, v := range o.shellDirs {
			snap[k] = v
		}
		fn(snap)
	})
}

// Shutdown stops every running daemon (graceful termination protocol),
// persists final state, and stops the owner goroutine.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	var live []ids.DaemonId
	o.submit(func() {
		o.draining = true
		for id := range o.handles {
			live = append(live, id)
		}
	})
	for _, id := range live {
		_ = o.Stop(ctx, id)
	}
	o.submit(func() { o.persistLocked() })
	o.cancel()
	<-o.done
	return nil
}
