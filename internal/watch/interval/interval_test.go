package interval

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/corralhq/corral/internal/daemon"
	"github.com/corralhq/corral/internal/hooks"
	"github.com/corralhq/corral/internal/ids"
	"github.com/corralhq/corral/internal/launcher"
	"github.com/corralhq/corral/internal/orchestrator"
	"github.com/corralhq/corral/internal/statestore"
)

func newTestOrchestrator(t *testing.T) *orchestrator.Orchestrator {
	t.Helper()
	dir := t.TempDir()
	store, err := statestore.Open(filepath.Join(dir, "state.toml"))
	if err != nil {
		t.Fatal(err)
	}
	o := orchestrator.New(orchestrator.Options{
		LogsRoot: filepath.Join(dir, "logs"),
		Launcher: launcher.New(dir),
		Store:    store,
		Hooks:    &hooks.Runner{},
	})
	if err := o.Load(context.Background(), map[ids.DaemonId]daemon.DaemonSpec{}); err != nil {
		t.Fatal(err)
	}
	return o
}

func TestAutoStartRunsWhenShellEntersWorkingDir(t *testing.T) {
	o := newTestOrchestrator(t)
	workDir := t.TempDir()

	id := ids.DaemonId{Namespace: "t", Name: "auto"}
	spec := daemon.DaemonSpec{
		ID:           id,
		ShellCommand: "sleep 5",
		WorkingDir:   workDir,
		AutoFlags:    map[daemon.AutoFlag]bool{daemon.AutoStart: true},
		ReadyChecks:  []daemon.ReadyCheck{{Kind: daemon.ReadyDelay, Delay: 10 * time.Millisecond}},
	}
	o.Run(context.Background(), spec, false, false)
	o.Stop(context.Background(), id)

	o.UpdateShellDir(999, &workDir)

	w := New(o, nil, nil)
	w.checkAutoStart(context.Background())

	time.Sleep(200 * time.Millisecond)
	rec, ok := o.Get(id)
	if !ok {
		t.Fatal("expected record to exist")
	}
	if rec.Status != daemon.Waiting && rec.Status != daemon.Running {
		t.Fatalf("expected auto_start to have kicked off a run, got %+v", rec)
	}
	o.Shutdown(context.Background())
}

func TestAutoStopDebouncesBeforeStopping(t *testing.T) {
	o := newTestOrchestrator(t)
	workDir := t.TempDir()

	id := ids.DaemonId{Namespace: "t", Name: "leaving"}
	spec := daemon.DaemonSpec{
		ID:           id,
		ShellCommand: "sleep 30",
		WorkingDir:   workDir,
		AutoFlags:    map[daemon.AutoFlag]bool{daemon.AutoStop: true},
		ReadyChecks:  []daemon.ReadyCheck{{Kind: daemon.ReadyDelay, Delay: 10 * time.Millisecond}},
	}
	if _, err := o.Run(context.Background(), spec, true, false); err != nil {
		t.Fatalf("run: %v", err)
	}

	w := New(o, nil, nil)
	w.checkAutoStop(context.Background())
	if _, pending := w.pendingStop[id]; !pending {
		t.Fatal("expected first tick to mark pending stop, not stop immediately")
	}
	rec, _ := o.Get(id)
	if rec.Status != daemon.Running {
		t.Fatalf("expected still Running immediately after first tick, got %v", rec.Status)
	}
	o.Shutdown(context.Background())
}

func TestAutoStopTreatsDescendantDirAsPresent(t *testing.T) {
	o := newTestOrchestrator(t)
	workDir := t.TempDir()
	subDir := filepath.Join(workDir, "sub")

	id := ids.DaemonId{Namespace: "t", Name: "nested"}
	spec := daemon.DaemonSpec{
		ID:           id,
		ShellCommand: "sleep 30",
		WorkingDir:   workDir,
		AutoFlags:    map[daemon.AutoFlag]bool{daemon.AutoStop: true},
		ReadyChecks:  []daemon.ReadyCheck{{Kind: daemon.ReadyDelay, Delay: 10 * time.Millisecond}},
	}
	if _, err := o.Run(context.Background(), spec, true, false); err != nil {
		t.Fatalf("run: %v", err)
	}

	o.UpdateShellDir(1234, &subDir)

	w := New(o, nil, nil)
	w.checkAutoStop(context.Background())
	if _, pending := w.pendingStop[id]; pending {
		t.Fatal("expected a shell in a descendant directory to suppress auto_stop")
	}
	o.Shutdown(context.Background())
}

func TestSweepDeadPidsDemotesReattachedRunningRecord(t *testing.T) {
	dir := t.TempDir()

	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot spawn test process: %v", err)
	}
	pid := cmd.Process.Pid

	store, err := statestore.Open(filepath.Join(dir, "state.toml"))
	if err != nil {
		t.Fatal(err)
	}
	id := ids.DaemonId{Namespace: "t", Name: "reattached"}
	snap := statestore.NewSnapshot()
	snap.Daemons[id.Encode()] = statestore.RecordTOML{Status: "running", PID: pid}
	if err := store.Save(context.Background(), snap); err != nil {
		t.Fatal(err)
	}

	o := orchestrator.New(orchestrator.Options{
		LogsRoot: filepath.Join(dir, "logs"),
		Launcher: launcher.New(dir),
		Store:    store,
		Hooks:    &hooks.Runner{},
	})
	spec := daemon.DaemonSpec{ID: id, ShellCommand: "sleep 30"}
	if err := o.Load(context.Background(), map[ids.DaemonId]daemon.DaemonSpec{id: spec}); err != nil {
		t.Fatal(err)
	}

	rec, ok := o.Get(id)
	if !ok || rec.Status != daemon.Running {
		t.Fatalf("expected reattached record to be Running, got %+v", rec)
	}

	cmd.Process.Kill()
	cmd.Wait()

	w := New(o, nil, nil)
	w.sweepDeadPids()

	rec, _ = o.Get(id)
	if rec.Status != daemon.Errored {
		t.Fatalf("expected dead pid to be demoted to Errored, got %v", rec.Status)
	}
	if rec.PID != 0 {
		t.Fatalf("expected pid cleared on demotion, got %d", rec.PID)
	}
	o.Shutdown(context.Background())
}

// erroredWithNoHandle spawns a real process, reattaches it through Load as
// Running (the only path that produces a handle-less Running record), then kills
// it and demotes it via sweepDeadPids — producing a genuinely Errored
// record with no live handle, the only shape retryErrored ever acts on.
func erroredWithNoHandle(t *testing.T, retryCount int, policy daemon.RetryPolicy) (*orchestrator.Orchestrator, ids.DaemonId) {
	t.Helper()
	dir := t.TempDir()

	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot spawn test process: %v", err)
	}
	pid := cmd.Process.Pid

	store, err := statestore.Open(filepath.Join(dir, "state.toml"))
	if err != nil {
		t.Fatal(err)
	}
	id := ids.DaemonId{Namespace: "t", Name: "errored"}
	snap := statestore.NewSnapshot()
	snap.Daemons[id.Encode()] = statestore.RecordTOML{Status: "running", PID: pid, RetryCount: retryCount}
	if err := store.Save(context.Background(), snap); err != nil {
		t.Fatal(err)
	}

	o := orchestrator.New(orchestrator.Options{
		LogsRoot: filepath.Join(dir, "logs"),
		Launcher: launcher.New(dir),
		Store:    store,
		Hooks:    &hooks.Runner{},
	})
	spec := daemon.DaemonSpec{
		ID:           id,
		ShellCommand: "sleep 5",
		RetryPolicy:  policy,
		ReadyChecks:  []daemon.ReadyCheck{{Kind: daemon.ReadyDelay, Delay: 10 * time.Millisecond}},
	}
	if err := o.Load(context.Background(), map[ids.DaemonId]daemon.DaemonSpec{id: spec}); err != nil {
		t.Fatal(err)
	}

	cmd.Process.Kill()
	cmd.Wait()

	w := New(o, nil, nil)
	w.sweepDeadPids()

	rec, ok := o.Get(id)
	if !ok || rec.Status != daemon.Errored {
		t.Fatalf("expected setup to produce an Errored, handle-less record, got %+v", rec)
	}
	return o, id
}

func TestRetryErroredResurrectsWithinBudget(t *testing.T) {
	o, id := erroredWithNoHandle(t, 1, daemon.RetryPolicy{Max: 3})

	w := New(o, &hooks.Runner{}, nil)
	w.retryErrored(context.Background())

	time.Sleep(200 * time.Millisecond)
	rec, ok := o.Get(id)
	if !ok {
		t.Fatal("expected record to exist")
	}
	if rec.Status != daemon.Waiting && rec.Status != daemon.Running {
		t.Fatalf("expected interval retry to have resurrected the daemon, got %+v", rec)
	}
	if rec.RetryCount != 2 {
		t.Fatalf("expected retry_count to continue from 1 to 2, got %d", rec.RetryCount)
	}
	o.Shutdown(context.Background())
}

func TestRetryErroredSkipsWhenBudgetExhausted(t *testing.T) {
	o, id := erroredWithNoHandle(t, 3, daemon.RetryPolicy{Max: 3})

	w := New(o, &hooks.Runner{}, nil)
	w.retryErrored(context.Background())

	time.Sleep(50 * time.Millisecond)
	rec, _ := o.Get(id)
	if rec.Status != daemon.Errored {
		t.Fatalf("expected a daemon with no remaining retry budget to stay Errored, got %v", rec.Status)
	}
	o.Shutdown(context.Background())
}
