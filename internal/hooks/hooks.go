// Package hooks fires the shell commands attached to daemon lifecycle
// events, per spec.md §4.10: fire-and-forget, detached, inheriting the
// daemon's working_dir, receiving the auto-injected CORRAL_* variables
// plus CORRAL_HOOK_NAME (and CORRAL_EXIT_CODE for on_fail). Hooks never
// receive env_overrides (spec.md §9 Open Question, resolved "no" — see
// DESIGN.md).
package hooks

import (
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/corralhq/corral/internal/daemon"
	"github.com/corralhq/corral/internal/launcher"
)

// Name identifies which lifecycle event fired a hook.
type Name string

const (
	OnReady       Name = "on_ready"
	OnFail        Name = "on_fail"
	OnRetry       Name = "on_retry"
	OnCronTrigger Name = "on_cron_trigger"
)

// Runner fires configured hook commands. Hooks always read the freshest
// spec at fire time (spec.md §4.10), so callers pass the current spec on
// every Fire call rather than the Runner caching one.
type Runner struct {
	Logger *slog.Logger
}

// Fire looks up the command for name on spec.Hooks; if empty, it is a
// no-op. Otherwise it spawns a detached shell command (not joined) and
// logs failures without ever affecting daemon status.
func (r *Runner) Fire(name Name, spec daemon.DaemonSpec, retryCount int, exitCode *int) {
	cmd := hookCommand(name, spec.Hooks)
	if cmd == "" {
		return
	}

	env := launcher.InjectedEnv(spec, retryCount)
	env["CORRAL_HOOK_NAME"] = string(name)
	if name == OnFail && exitCode != nil {
		env["CORRAL_EXIT_CODE"] = fmt.Sprintf("%d", *exitCode)
	}

	envSlice := make([]string, 0, len(env))
	for k, v := range env {
		envSlice = append(envSlice, k+"="+v)
	}

	go func() {
		c := exec.Command("/bin/sh", "-c", cmd)
		c.Dir = spec.WorkingDir
		c.Env = envSlice
		if err := c.Run(); err != nil {
			r.log().Warn("hook failed", "hook", name, "daemon_id", spec.ID.String(), "err", err)
		}
	}()
}

func (r *Runner) log() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func hookCommand(name Name, h daemon.Hooks) string {
	switch name {
	case OnReady:
		return h.OnReady
	case OnFail:
		return h.OnFail
	case OnRetry:
		return h.OnRetry
	case OnCronTrigger:
		return h.OnCronTrigger
	default:
		return ""
	}
}
