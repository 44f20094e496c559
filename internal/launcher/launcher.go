// Package launcher spawns daemon child processes per spec.md §4.3: a
// single shell command prefixed with the shell's exec builtin so the
// recorded pid is the target program's own pid, placed in a dedicated
// process group, stdin detached, stdout/stderr captured through pipes.
package launcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/corralhq/corral/internal/daemon"
)

// Process is a handle to a spawned child: the exec.Cmd plus the stream
// readers the Monitor consumes.
type Process struct {
	Cmd  *exec.Cmd
	PID  int
	PGID int

	Stdout *os.File
	Stderr *os.File

	// Port is the final port passed to the child after any auto-bump
	// (spec.md §4.3); zero if the spec has no port.
	Port int
}

// Launcher builds and starts daemon child processes.
type Launcher struct {
	// ConfigDir is the directory a relative working_dir is resolved
	// against, per spec.md §4.3.
	ConfigDir string
}

// New returns a Launcher resolving relative working directories against
// configDir.
func New(configDir string) *Launcher {
	return &Launcher{ConfigDir: configDir}
}

// Launch spawns spec's shell command. retryCount is injected as
// CORRAL_RETRY_COUNT. ctx's cancellation does not itself signal the
// child (the Orchestrator's Termination path does that explicitly so it
// can apply the SIGTERM/SIGKILL escalation protocol) — it only prevents
// a new Launch from starting once shutdown has begun.
func (l *Launcher) Launch(ctx context.Context, spec daemon.DaemonSpec, retryCount int) (*Process, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	workDir, err := l.resolveWorkingDir(spec.WorkingDir)
	if err != nil {
		return nil, fmt.Errorf("resolve working_dir: %w", err)
	}

	port := spec.Port
	if port != 0 {
		port, err = bindTestPort(port, spec.AutoBumpPort)
		if err != nil {
			return nil, fmt.Errorf("port allocation: %w", err)
		}
	}

	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	devnull, err := os.OpenFile(os.DevNull, os.O_RDONLY, 0)
	if err != nil {
		outR.Close()
		outW.Close()
		errR.Close()
		errW.Close()
		return nil, fmt.Errorf("open %s: %w", os.DevNull, err)
	}

	// The exec builtin prefix collapses the shell layer: the recorded
	// pid is the target program's pid, not an intermediate /bin/sh.
	cmd := exec.Command("/bin/sh", "-c", "exec "+spec.ShellCommand)
	cmd.Dir = workDir
	cmd.Stdin = devnull
	cmd.Stdout = outW
	cmd.Stderr = errW
	cmd.Env = buildEnv(spec, retryCount, port)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		outR.Close()
		outW.Close()
		errR.Close()
		errW.Close()
		devnull.Close()
		return nil, fmt.Errorf("spawn: %w", err)
	}

	// The parent's copies of the write ends must close so EOF propagates
	// to the readers once the child itself closes them.
	outW.Close()
	errW.Close()
	devnull.Close()

	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		pgid = cmd.Process.Pid
	}

	return &Process{
		Cmd:    cmd,
		PID:    cmd.Process.Pid,
		PGID:   pgid,
		Stdout: outR,
		Stderr: errR,
		Port:   port,
	}, nil
}

// resolveWorkingDir expands "~", environment variables, and relative
// paths against ConfigDir. An unresolvable directory is a fatal error
// before spawn, per spec.md §4.3.
func (l *Launcher) resolveWorkingDir(dir string) (string, error) {
	if dir == "" {
		dir = l.ConfigDir
	}
	dir = os.ExpandEnv(dir)
	if strings.HasPrefix(dir, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand ~: %w", err)
		}
		dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(l.ConfigDir, dir)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("working_dir %q: %w", dir, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("working_dir %q is not a directory", dir)
	}
	return dir, nil
}
