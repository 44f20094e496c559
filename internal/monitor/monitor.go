// Package monitor implements the per-child task from spec.md §4.4: it
// consumes stdout/stderr, writes to the Log Sink, evaluates readiness,
// detects exit, and publishes a terminal Event exactly once.
package monitor

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/corralhq/corral/internal/ids"
	"github.com/corralhq/corral/internal/launcher"
	"github.com/corralhq/corral/internal/logsink"
	"github.com/corralhq/corral/internal/readiness"
)

// EventKind tags a terminal Event.
type EventKind int

const (
	// Ready fires at most once, the first time a probe succeeds.
	Ready EventKind = iota
	// ReadyTimeout fires at most once, in place of Ready, when every
	// probe fails or the overall readiness deadline elapses while the
	// child is still alive (spec.md §7's ReadyTimeout kind). Right after
	// this fires the Monitor sends SIGTERM to the child's process group,
	// escalating to SIGKILL after terminateGraceWindow; the Exited event
	// that follows always has BeforeReady set.
	ReadyTimeout
	// Exited fires exactly once, whenever the child exits.
	Exited
)

// terminatePollInterval and terminateGraceWindow bound how long a
// readiness-timed-out child gets after SIGTERM before ReadyTimeout
// escalates to SIGKILL — the same escalation idiom as
// orchestrator.terminate (spec.md §4.3), applied here because a
// daemon that never becomes ready must not run forever unsupervised.
const (
	terminatePollInterval = 200 * time.Millisecond
	terminateGraceWindow  = 3 * time.Second
)

// Event is published on Monitor.Events. BeforeReady is true when Exited
// fires without a preceding Ready — spec.md §4.4's
// "FailedWithCode(exit_code)" case.
type Event struct {
	Kind        EventKind
	ExitCode    int
	Success     bool
	BeforeReady bool
	Err         error
}

// Monitor owns one spawned child: its pipe readers, wait handle, log
// writer, and readiness evaluation.
type Monitor struct {
	ID   ids.DaemonId
	PID  int
	PGID int

	proc     *launcher.Process
	sink     *logsink.Sink
	readySet *readiness.Set

	// Events carries at most one Ready or ReadyTimeout event followed by
	// exactly one Exited event, then is closed.
	Events chan Event

	mu       sync.Mutex
	readyHit bool
}

// Start launches the monitor goroutines for an already-spawned process.
// checks are the pre-compiled readiness probes for this spec revision.
func Start(ctx context.Context, id ids.DaemonId, proc *launcher.Process, checks []readiness.CompiledCheck, sink *logsink.Sink) *Monitor {
	m := &Monitor{
		ID:     id,
		PID:    proc.PID,
		PGID:   proc.PGID,
		proc:   proc,
		sink:   sink,
		Events: make(chan Event, 2),
	}
	m.readySet = readiness.NewSet(ctx, checks, m.isAlive, "")

	var streams sync.WaitGroup
	streams.Add(2)
	go m.scanStream(proc.Stdout, &streams)
	go m.scanStream(proc.Stderr, &streams)

	exitCh := make(chan error, 1)
	go func() { exitCh <- proc.Cmd.Wait() }()

	readyCh := make(chan readiness.Outcome, 1)
	go func() { readyCh <- m.readySet.Wait(ctx) }()

	go m.run(exitCh, readyCh, &streams)

	return m
}

func (m *Monitor) scanStream(r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if m.sink != nil {
			m.sink.WriteLine(line)
		}
		m.readySet.FeedLine(line)
	}
}

func (m *Monitor) isAlive() bool {
	return !launcher.ReapNonBlocking(m.PID)
}

// terminate delivers SIGTERM to the child's process group and escalates
// to SIGKILL if it hasn't exited by terminateGraceWindow. It returns
// immediately — the escalation runs on its own goroutine, since the
// caller is about to block on exitCh anyway.
func (m *Monitor) terminate() {
	if err := launcher.SignalGroup(m.PID, m.PGID, syscall.SIGTERM); err != nil {
		return
	}
	go func() {
		deadline := time.Now().Add(terminateGraceWindow)
		for time.Now().Before(deadline) {
			if launcher.ReapNonBlocking(m.PID) {
				return
			}
			time.Sleep(terminatePollInterval)
		}
		if !launcher.ReapNonBlocking(m.PID) {
			launcher.SignalGroup(m.PID, m.PGID, syscall.SIGKILL)
		}
	}()
}

// run races readiness against exit. Whichever resolves first is handled;
// if readiness wins, the monitor then waits only on exit. Exactly one
// Exited event is always published, last, after the stream scanners have
// drained so every line the child produced is logged first.
func (m *Monitor) run(exitCh chan error, readyCh chan readiness.Outcome, streams *sync.WaitGroup) {
	var exitErr error

	select {
	case o := <-readyCh:
		if o.Ready {
			m.setReady()
			m.Events <- Event{Kind: Ready}
		} else if m.isAlive() {
			m.Events <- Event{Kind: ReadyTimeout, Err: o.Err}
			m.terminate()
		}
		exitErr = <-exitCh
	case err := <-exitCh:
		exitErr = err
	}

	streams.Wait()

	code, success := exitStatus(exitErr)
	m.Events <- Event{
		Kind:        Exited,
		ExitCode:    code,
		Success:     success,
		BeforeReady: !m.hitReady(),
		Err:         exitErr,
	}
	close(m.Events)
}

func (m *Monitor) hitReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readyHit
}

func (m *Monitor) setReady() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readyHit = true
}

// exitStatus translates a cmd.Wait() error into (exit_code, success).
func exitStatus(err error) (int, bool) {
	if err == nil {
		return 0, true
	}
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		return exitErr.ExitCode(), false
	}
	// Spawn-level failure (signal, I/O error): no meaningful exit code.
	return -1, false
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}
