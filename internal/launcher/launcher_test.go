package launcher

import (
	"bufio"
	"context"
	"os"
	"testing"
	"time"

	"github.com/corralhq/corral/internal/daemon"
	"github.com/corralhq/corral/internal/ids"
)

func TestLaunchExecRecordsTargetPID(t *testing.T) {
	l := New(os.TempDir())
	spec := daemon.DaemonSpec{
		ID:           ids.DaemonId{Namespace: "test", Name: "echoer"},
		ShellCommand: "echo hello-world",
	}
	proc, err := l.Launch(context.Background(), spec, 0)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	defer proc.Stdout.Close()
	defer proc.Stderr.Close()

	scanner := bufio.NewScanner(proc.Stdout)
	if !scanner.Scan() {
		t.Fatalf("expected output, scan error: %v", scanner.Err())
	}
	if got := scanner.Text(); got != "hello-world" {
		t.Fatalf("got %q", got)
	}

	done := make(chan error, 1)
	go func() { done <- proc.Cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("child did not exit in time")
	}
}

func TestLaunchInjectsEnv(t *testing.T) {
	l := New(os.TempDir())
	spec := daemon.DaemonSpec{
		ID:           ids.DaemonId{Namespace: "test", Name: "envcheck"},
		ShellCommand: "printenv CORRAL_DAEMON_ID",
	}
	proc, err := l.Launch(context.Background(), spec, 3)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	defer proc.Stdout.Close()
	defer proc.Stderr.Close()

	scanner := bufio.NewScanner(proc.Stdout)
	if !scanner.Scan() {
		t.Fatalf("expected output, scan error: %v", scanner.Err())
	}
	if got := scanner.Text(); got != "test/envcheck" {
		t.Fatalf("got %q", got)
	}
	proc.Cmd.Wait()
}

func TestResolveWorkingDirRejectsMissing(t *testing.T) {
	l := New(os.TempDir())
	if _, err := l.resolveWorkingDir("/no/such/directory/ever"); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestBindTestPortAutoBump(t *testing.T) {
	blocker, err := newLoopbackListener()
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer blocker.Close()

	got, err := bindTestPort(blocker.port, true)
	if err != nil {
		t.Fatalf("bindTestPort: %v", err)
	}
	if got == blocker.port {
		t.Fatalf("expected a different port, got same %d", got)
	}
}

func TestBindTestPortFailsWithoutBump(t *testing.T) {
	blocker, err := newLoopbackListener()
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer blocker.Close()

	if _, err := bindTestPort(blocker.port, false); err == nil {
		t.Fatal("expected error when port busy and auto-bump disabled")
	}
}
