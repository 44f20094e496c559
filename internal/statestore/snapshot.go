// Package statestore persists the daemon registry, disabled set, and
// shell-directory map to a single TOML file under an exclusive advisory
// file lock, per spec.md §4.11 and §6.
package statestore

// RecordTOML is the on-disk shape of a daemon.Record, field names in
// snake_case per spec.md §6. Unknown fields on load are ignored with a
// warning (BurntSushi/toml does this by default when decoding into a
// concrete struct; MetaData.Undecoded() surfaces them for the warning).
type RecordTOML struct {
	Status          string `toml:"status"`
	PID             int    `toml:"pid,omitempty"`
	PGID            int    `toml:"pgid,omitempty"`
	LogPath         string `toml:"log_path"`
	RetryCount      int    `toml:"retry_count"`
	LastExitCode    *int   `toml:"last_exit_code,omitempty"`
	LastExitSuccess *bool  `toml:"last_exit_success,omitempty"`
	StartedAt       string `toml:"started_at,omitempty"`
	ReadyAt         string `toml:"ready_at,omitempty"`
	LastCronFireAt  string `toml:"last_cron_fire_at,omitempty"`
}

// Snapshot is the full persisted state: the registry, the disabled set,
// and the shell-directory map (spec.md §3 DisabledSet, ShellDirMap).
type Snapshot struct {
	Daemons   map[string]RecordTOML `toml:"daemons"`
	Disabled  map[string]bool       `toml:"disabled"`
	ShellDirs map[string]string     `toml:"shell_dirs"`
}

// NewSnapshot returns an empty, ready-to-populate Snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Daemons:   map[string]RecordTOML{},
		Disabled:  map[string]bool{},
		ShellDirs: map[string]string{},
	}
}
