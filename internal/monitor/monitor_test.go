package monitor

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/corralhq/corral/internal/daemon"
	"github.com/corralhq/corral/internal/ids"
	"github.com/corralhq/corral/internal/launcher"
	"github.com/corralhq/corral/internal/readiness"
)

func TestMonitorFailedBeforeReady(t *testing.T) {
	l := launcher.New(os.TempDir())
	spec := daemon.DaemonSpec{ID: ids.DaemonId{Namespace: "t", Name: "fails"}, ShellCommand: "sh -c 'exit 7'"}
	proc, err := l.Launch(context.Background(), spec, 0)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	delayCheck, _ := readiness.Compile(daemon.ReadyCheck{Kind: daemon.ReadyDelay, Delay: 2 * time.Second})
	m := Start(context.Background(), spec.ID, proc, []readiness.CompiledCheck{delayCheck}, nil)

	ev := drainUntilExited(t, m)
	if ev.BeforeReady != true {
		t.Fatalf("expected BeforeReady, got %+v", ev)
	}
	if ev.ExitCode != 7 {
		t.Fatalf("expected exit code 7, got %d", ev.ExitCode)
	}
}

func TestMonitorReadyThenExit(t *testing.T) {
	l := launcher.New(os.TempDir())
	spec := daemon.DaemonSpec{ID: ids.DaemonId{Namespace: "t", Name: "ready"}, ShellCommand: "sleep 0.2"}
	proc, err := l.Launch(context.Background(), spec, 0)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	immediate, _ := readiness.Compile(daemon.ReadyCheck{Kind: daemon.ReadyDelay, Delay: 10 * time.Millisecond})
	m := Start(context.Background(), spec.ID, proc, []readiness.CompiledCheck{immediate}, nil)

	var sawReady bool
	var exited Event
	for ev := range m.Events {
		if ev.Kind == Ready {
			sawReady = true
		}
		if ev.Kind == Exited {
			exited = ev
		}
	}
	if !sawReady {
		t.Fatal("expected a Ready event")
	}
	if exited.BeforeReady {
		t.Fatalf("expected BeforeReady=false, got %+v", exited)
	}
	if !exited.Success {
		t.Fatalf("expected clean exit, got %+v", exited)
	}
}

func TestMonitorReadyTimeoutKillsStillAliveChild(t *testing.T) {
	l := launcher.New(os.TempDir())
	spec := daemon.DaemonSpec{ID: ids.DaemonId{Namespace: "t", Name: "never-ready"}, ShellCommand: "sleep 30"}
	proc, err := l.Launch(context.Background(), spec, 0)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	neverMatches, _ := readiness.Compile(daemon.ReadyCheck{Kind: daemon.ReadyOutput, OutputRegex: "will-never-appear"})
	m := Start(context.Background(), spec.ID, proc, []readiness.CompiledCheck{neverMatches}, nil)

	var sawTimeout bool
	var exited Event
	for ev := range m.Events {
		if ev.Kind == ReadyTimeout {
			sawTimeout = true
		}
		if ev.Kind == Exited {
			exited = ev
		}
	}
	if !sawTimeout {
		t.Fatal("expected a ReadyTimeout event instead of hanging until the child exits on its own")
	}
	if !exited.BeforeReady {
		t.Fatalf("expected the subsequent Exited event to report BeforeReady, got %+v", exited)
	}
	if !launcher.ReapNonBlocking(proc.PID) {
		t.Fatal("expected the child to have been killed, not left running")
	}
}

func drainUntilExited(t *testing.T, m *Monitor) Event {
	t.Helper()
	for ev := range m.Events {
		if ev.Kind == Exited {
			return ev
		}
	}
	t.Fatal("channel closed without an Exited event")
	return Event{}
}
