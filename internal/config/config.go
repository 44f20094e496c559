// Package config loads the layered TOML configuration the CLI and
// corrald assemble before handing DaemonSpecs to the Orchestrator, per
// spec.md §6 (the core supervisor never reads TOML itself). Layers are
// merged system -> user -> project -> project-override, last-wins.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/corralhq/corral/internal/daemon"
	"github.com/corralhq/corral/internal/ids"
)

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// Config is the merged view of every daemon namespace knows about.
type Config struct {
	Namespace string                `toml:"namespace,omitempty"`
	StateDir  string                `toml:"state_dir,omitempty"`
	LogsDir   string                `toml:"logs_dir,omitempty"`
	Daemons   map[string]DaemonTOML `toml:"daemons"`
}

// ReadyTOML is the TOML shape of one readiness probe. Only the field
// relevant to Kind needs to be set.
type ReadyTOML struct {
	Kind        string `toml:"kind"`
	Delay       string `toml:"delay,omitempty"`
	OutputRegex string `toml:"output_regex,omitempty"`
	URL         string `toml:"url,omitempty"`
	Port        int    `toml:"port,omitempty"`
	Cmd         string `toml:"cmd,omitempty"`
}

// RetryTOML is the TOML shape of a retry policy.
type RetryTOML struct {
	Max       int  `toml:"max,omitempty"`
	Unbounded bool `toml:"unbounded,omitempty"`
}

// HooksTOML is the TOML shape of the lifecycle shell hooks.
type HooksTOML struct {
	OnReady       string `toml:"on_ready,omitempty"`
	OnFail        string `toml:"on_fail,omitempty"`
	OnRetry       string `toml:"on_retry,omitempty"`
	OnCronTrigger string `toml:"on_cron_trigger,omitempty"`
}

// DaemonTOML is one [daemons.<name>] table.
type DaemonTOML struct {
	Command      string            `toml:"command"`
	WorkingDir   string            `toml:"working_dir,omitempty"`
	Env          map[string]string `toml:"env,omitempty"`
	Auto         []string          `toml:"auto,omitempty"`
	BootStart    bool              `toml:"boot_start,omitempty"`
	Depends      []string          `toml:"depends,omitempty"`
	Watch        []string          `toml:"watch,omitempty"`
	Cron         string            `toml:"cron,omitempty"`
	Retrigger    string            `toml:"retrigger,omitempty"`
	Port         int               `toml:"port,omitempty"`
	AutoBumpPort bool              `toml:"auto_bump_port,omitempty"`
	Ready        []ReadyTOML       `toml:"ready,omitempty"`
	Retry        RetryTOML         `toml:"retry,omitempty"`
	Hooks        HooksTOML         `toml:"hooks,omitempty"`
}

// DefaultConfig returns the zero-value-safe defaults used when no config
// file is found at all.
func DefaultConfig() *Config {
	return &Config{
		StateDir: "~/.local/state/corral",
		LogsDir:  "~/.local/state/corral/logs",
		Daemons:  map[string]DaemonTOML{},
	}
}

// Load reads and merges every path that exists, in the order given;
// later paths win per-key. A missing path is skipped, not an error —
// callers typically pass a fixed system/user/project path list and not
// every layer need exist.
func Load(paths []string) (*Config, error) {
	merged := DefaultConfig()
	found := false
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		found = true
		var layer Config
		if _, err := toml.DecodeFile(p, &layer); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", p, err)
		}
		merge(merged, &layer)
	}
	if !found {
		return merged, nil
	}
	return merged, nil
}

// merge folds src into dst in place: scalars overwrite when non-zero,
// the Daemons map merges key-wise (a later layer's daemon entry fully
// replaces an earlier layer's entry of the same name; it is not itself
// field-merged, matching the teacher's "later config wins outright"
// layering policy).
func merge(dst, src *Config) {
	if src.Namespace != "" {
		dst.Namespace = src.Namespace
	}
	if src.StateDir != "" {
		dst.StateDir = src.StateDir
	}
	if src.LogsDir != "" {
		dst.LogsDir = src.LogsDir
	}
	if dst.Daemons == nil {
		dst.Daemons = map[string]DaemonTOML{}
	}
	for name, d := range src.Daemons {
		dst.Daemons[name] = d
	}
}

// NamesInNamespace implements ids.Resolver: every daemon name this
// config declares under cfg.Namespace (this process only ever merges
// one namespace's config, so ns other than cfg.Namespace returns
// nothing from this source).
func (cfg *Config) NamesInNamespace(ns string) []string {
	if ns != cfg.Namespace {
		return nil
	}
	names := make([]string, 0, len(cfg.Daemons))
	for name := range cfg.Daemons {
		names = append(names, name)
	}
	return names
}

// FindByName implements ids.Resolver: the single qualified id this
// config assigns to name, if any.
func (cfg *Config) FindByName(name string) []ids.DaemonId {
	if _, ok := cfg.Daemons[name]; !ok {
		return nil
	}
	return []ids.DaemonId{{Namespace: cfg.Namespace, Name: name}}
}

// Specs converts every configured daemon into a daemon.DaemonSpec keyed
// by its fully-qualified id, using cfg.Namespace as the default
// namespace (spec.md §3 DaemonId).
func (cfg *Config) Specs() (map[ids.DaemonId]daemon.DaemonSpec, error) {
	out := make(map[ids.DaemonId]daemon.DaemonSpec, len(cfg.Daemons))
	for name, d := range cfg.Daemons {
		spec, err := d.toSpec(cfg.Namespace, name)
		if err != nil {
			return nil, fmt.Errorf("config: daemon %q: %w", name, err)
		}
		out[spec.ID] = spec
	}
	return out, nil
}

func (d DaemonTOML) toSpec(namespace, name string) (daemon.DaemonSpec, error) {
	id := ids.DaemonId{Namespace: namespace, Name: name}

	checks := make([]daemon.ReadyCheck, 0, len(d.Ready))
	for _, r := range d.Ready {
		c, err := r.toCheck()
		if err != nil {
			return daemon.DaemonSpec{}, err
		}
		checks = append(checks, c)
	}

	depends := make([]ids.DaemonId, 0, len(d.Depends))
	for _, dep := range d.Depends {
		depID, err := ids.Parse(dep)
		if err != nil {
			depID = ids.DaemonId{Namespace: namespace, Name: dep}
		}
		depends = append(depends, depID)
	}

	flags := make(map[daemon.AutoFlag]bool, len(d.Auto))
	for _, a := range d.Auto {
		switch a {
		case "start":
			flags[daemon.AutoStart] = true
		case "stop":
			flags[daemon.AutoStop] = true
		default:
			return daemon.DaemonSpec{}, fmt.Errorf("unknown auto flag %q", a)
		}
	}

	return daemon.DaemonSpec{
		ID:           id,
		ShellCommand: d.Command,
		WorkingDir:   d.WorkingDir,
		EnvOverrides: d.Env,
		ReadyChecks:  checks,
		RetryPolicy:  daemon.RetryPolicy{Max: d.Retry.Max, Unbounded: d.Retry.Unbounded},
		AutoFlags:    flags,
		BootStart:    d.BootStart,
		Depends:      depends,
		WatchGlobs:   d.Watch,
		CronSchedule: d.Cron,
		CronRetrigger: retriggerOf(d.Retrigger),
		Hooks: daemon.Hooks{
			OnReady:       d.Hooks.OnReady,
			OnFail:        d.Hooks.OnFail,
			OnRetry:       d.Hooks.OnRetry,
			OnCronTrigger: d.Hooks.OnCronTrigger,
		},
		Port:         d.Port,
		AutoBumpPort: d.AutoBumpPort,
	}, nil
}

func retriggerOf(s string) daemon.CronRetrigger {
	switch daemon.CronRetrigger(s) {
	case daemon.RetriggerAlways, daemon.RetriggerSuccess, daemon.RetriggerFail:
		return daemon.CronRetrigger(s)
	default:
		return daemon.RetriggerFinish
	}
}

func (r ReadyTOML) toCheck() (daemon.ReadyCheck, error) {
	kind := daemon.ReadyKind(r.Kind)
	switch kind {
	case daemon.ReadyDelay:
		d, err := parseDuration(r.Delay)
		if err != nil {
			return daemon.ReadyCheck{}, err
		}
		return daemon.ReadyCheck{Kind: kind, Delay: d}, nil
	case daemon.ReadyOutput:
		return daemon.ReadyCheck{Kind: kind, OutputRegex: r.OutputRegex}, nil
	case daemon.ReadyHTTP:
		return daemon.ReadyCheck{Kind: kind, URL: r.URL}, nil
	case daemon.ReadyPort:
		return daemon.ReadyCheck{Kind: kind, Port: r.Port}, nil
	case daemon.ReadyCmd:
		return daemon.ReadyCheck{Kind: kind, Cmd: r.Cmd}, nil
	default:
		return daemon.ReadyCheck{}, fmt.Errorf("unknown ready check kind %q", r.Kind)
	}
}
