package cli

import (
	"os"
	"path/filepath"

	"github.com/corralhq/corral/internal/config"
	"github.com/corralhq/corral/internal/ids"
)

const (
	systemConfigPath  = "/etc/corral/config.toml"
	userConfigDirName = ".config/corral/config.toml"
	projectConfigName = ".corral.toml"
)

// configPaths returns the layered config path list in merge order:
// system, user, project (spec.md §6 "system-level, user-level, and
// zero-or-more project-level configs ... merged last-wins").
func configPaths() []string {
	paths := []string{systemConfigPath}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, userConfigDirName))
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, projectConfigName))
	}
	return paths
}

// cwdNamespace is the default namespace for the current directory
// (spec.md §3 DaemonId), overridden by a project config's namespace key.
func cwdNamespace() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ids.Global
	}
	return filepath.Base(cwd)
}

// loadConfig merges the layered config and applies the cwd-derived
// namespace default when no layer set one explicitly.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPaths())
	if err != nil {
		return nil, err
	}
	if cfg.Namespace == "" {
		cfg.Namespace = cwdNamespace()
	}
	return cfg, nil
}

// resolveID resolves a short or "namespace/name" daemon reference
// against the merged config, per spec.md §3's resolution order.
func resolveID(short string, cfg *config.Config) (ids.DaemonId, error) {
	return ids.Resolve(short, cfg.Namespace, cfg)
}
