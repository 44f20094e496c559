package cron

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/corralhq/corral/internal/daemon"
	"github.com/corralhq/corral/internal/hooks"
	"github.com/corralhq/corral/internal/ids"
)

func TestScheduleFiresAndRetriggerFinishSkipsWhileRunning(t *testing.T) {
	id := ids.DaemonId{Namespace: "t", Name: "job"}
	var calls int32
	status := daemon.Running

	getFn := func(gid ids.DaemonId) (daemon.Record, bool) {
		return daemon.Record{SpecRef: id, Status: status}, true
	}
	runFn := func(ctx context.Context, spec daemon.DaemonSpec, force bool) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}

	w := New(runFn, getFn, &hooks.Runner{}, nil)
	w.Start()
	defer w.Stop()

	spec := daemon.DaemonSpec{ID: id, ShellCommand: "true", CronSchedule: "@every 1s", CronRetrigger: daemon.RetriggerFinish}
	if err := w.Schedule(spec); err != nil {
		t.Fatal(err)
	}

	time.Sleep(1200 * time.Millisecond)
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("expected no fires while Running under finish mode, got %d", calls)
	}

	status = daemon.Stopped
	time.Sleep(1200 * time.Millisecond)
	if atomic.LoadInt32(&calls) == 0 {
		t.Fatal("expected at least one fire once daemon finished")
	}
}

func TestUnscheduleRemovesEntry(t *testing.T) {
	id := ids.DaemonId{Namespace: "t", Name: "once"}
	getFn := func(ids.DaemonId) (daemon.Record, bool) { return daemon.Record{}, false }
	runFn := func(context.Context, daemon.DaemonSpec, bool) error { return nil }

	w := New(runFn, getFn, &hooks.Runner{}, nil)
	spec := daemon.DaemonSpec{ID: id, CronSchedule: "@every 1h"}
	if err := w.Schedule(spec); err != nil {
		t.Fatal(err)
	}
	if len(w.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(w.entries))
	}
	w.Unschedule(id)
	if len(w.entries) != 0 {
		t.Fatalf("expected 0 entries after unschedule, got %d", len(w.entries))
	}
}
