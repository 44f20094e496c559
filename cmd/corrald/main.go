// corrald is the long-running supervisor process: one Orchestrator, the
// cron/interval/filewatch watchers, the RPC server, and an optional
// read-only status endpoint, all stopped together on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/corralhq/corral/internal/config"
	"github.com/corralhq/corral/internal/daemon"
	"github.com/corralhq/corral/internal/hooks"
	"github.com/corralhq/corral/internal/launcher"
	"github.com/corralhq/corral/internal/notify"
	"github.com/corralhq/corral/internal/orchestrator"
	"github.com/corralhq/corral/internal/paths"
	"github.com/corralhq/corral/internal/ratelimit"
	"github.com/corralhq/corral/internal/rpc"
	"github.com/corralhq/corral/internal/statestore"
	"github.com/corralhq/corral/internal/watch/cron"
	"github.com/corralhq/corral/internal/watch/filewatch"
	"github.com/corralhq/corral/internal/watch/interval"
	"github.com/corralhq/corral/internal/webstatus"
)

func main() {
	logger := newLogger()
	if err := run(logger); err != nil {
		logger.Error("corrald exiting", "err", err)
		os.Exit(1)
	}
}

// newLogger builds the daemon's structured logger per spec.md §6's
// CORRAL_LOG env var (renamed from PITCHFORK_LOG), writing to
// paths.DaemonLogFilePath with a stderr fallback if it can't be opened.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if v := os.Getenv("CORRAL_LOG"); v != "" {
		var l slog.Level
		if err := l.UnmarshalText([]byte(v)); err == nil {
			level = l
		}
	}

	if err := paths.EnsureDirs(); err != nil {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
	f, err := os.OpenFile(paths.DaemonLogFilePath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}))
}

func run(logger *slog.Logger) error {
	if err := paths.EnsureDirs(); err != nil {
		return err
	}

	cfg, err := config.Load(configPaths())
	if err != nil {
		return err
	}
	specs, err := cfg.Specs()
	if err != nil {
		return err
	}

	store, err := statestore.Open(paths.StateFilePath())
	if err != nil {
		return err
	}

	hooksRunner := &hooks.Runner{Logger: logger}
	notifier := newNotifier(logger)

	orch := orchestrator.New(orchestrator.Options{
		LogsRoot: paths.LogsRoot(),
		Launcher: launcher.New(paths.StateRoot()),
		Store:    store,
		Hooks:    hooksRunner,
		Notify:   notifier,
		Logger:   logger,
	})
	if err := orch.Load(context.Background(), specs); err != nil {
		return err
	}

	cronWatcher := cron.New(
		func(ctx context.Context, spec daemon.DaemonSpec, force bool) error {
			_, err := orch.Run(ctx, spec, false, force)
			return err
		},
		orch.Get,
		hooksRunner,
		logger,
	)
	fileWatcher, err := filewatch.New(orch, logger)
	if err != nil {
		return err
	}
	intervalWatcher := interval.New(orch, hooksRunner, logger)

	for _, spec := range specs {
		if err := cronWatcher.Schedule(spec); err != nil {
			logger.Warn("cron schedule failed", "daemon_id", spec.ID.String(), "err", err)
		}
		if err := fileWatcher.Watch(spec); err != nil {
			logger.Warn("file watch failed", "daemon_id", spec.ID.String(), "err", err)
		}
	}
	cronWatcher.Start()
	fileWatcher.Start()
	intervalWatcher.Start()

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 60*time.Second)
	for _, spec := range specs {
		if spec.BootStart {
			if _, err := orch.Run(bootCtx, spec, false, false); err != nil {
				logger.Warn("boot_start failed", "daemon_id", spec.ID.String(), "err", err)
			}
		}
	}
	bootCancel()

	limiter := ratelimit.New(ratelimit.DefaultCap, ratelimit.DefaultWindow)
	server, err := rpc.Listen(paths.SocketPath(), orch, limiter, paths.LogsRoot(), logger)
	if err != nil {
		return err
	}
	go func() {
		if err := server.Serve(); err != nil {
			logger.Error("rpc server stopped", "err", err)
		}
	}()

	web := startWebStatus(orch, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info("corrald: shutting down")

	intervalWatcher.Stop()
	fileWatcher.Stop()
	cronWatcher.Stop()
	if web != nil {
		web.Stop()
	}
	server.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return orch.Shutdown(shutdownCtx)
}

// configPaths mirrors internal/cli's layered system/user/project
// resolution (spec.md §6): the daemon process has no single project
// cwd of its own, so only the system and user layers apply here;
// project-level daemons are supplied by whichever client ran `corral
// run` against this socket, not read directly by corrald.
func configPaths() []string {
	paths := []string{"/etc/corral/config.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, home+"/.config/corral/config.toml")
	}
	return paths
}

// newNotifier builds an optional notify.Notifier from CORRAL_NOTIFY_WEBHOOK
// / CORRAL_NOTIFY_DESKTOP env vars; both are off by default.
func newNotifier(logger *slog.Logger) *notify.Notifier {
	cfg := notify.Config{
		WebhookURL: os.Getenv("CORRAL_NOTIFY_WEBHOOK"),
		Desktop:    os.Getenv("CORRAL_NOTIFY_DESKTOP") == "1",
	}
	if cfg.WebhookURL == "" && !cfg.Desktop {
		return nil
	}
	return notify.New(cfg, logger)
}

// startWebStatus starts the read-only status endpoint when
// CORRAL_WEB_PORT is set and CORRAL_NO_WEB is not, per SPEC_FULL.md
// §4.19.
func startWebStatus(orch *orchestrator.Orchestrator, logger *slog.Logger) *webstatus.Server {
	portVar := os.Getenv("CORRAL_WEB_PORT")
	if portVar == "" || os.Getenv("CORRAL_NO_WEB") != "" {
		return nil
	}
	port, err := strconv.Atoi(portVar)
	if err != nil {
		logger.Warn("webstatus: invalid CORRAL_WEB_PORT", "value", portVar)
		return nil
	}
	server, err := webstatus.Listen(port, orch, logger)
	if err != nil {
		logger.Warn("webstatus: failed to start", "err", err)
		return nil
	}
	go func() {
		if err := server.Serve(); err != nil {
			logger.Warn("webstatus: stopped", "err", err)
		}
	}()
	logger.Info("webstatus: listening", "addr", server.Addr())
	return server
}
