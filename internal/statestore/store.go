package statestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/gofrs/flock"

	"github.com/corralhq/corral/internal/daemon"
	"github.com/corralhq/corral/internal/ids"
)

// flockRetryInterval is how often TryLockContext re-attempts the lock
// while waiting for another supervisor process to release it.
const flockRetryInterval = 25 * time.Millisecond

// Store reads and writes the single TOML state file under an exclusive
// advisory lock (spec.md §4.11). The lock also makes the file safe
// across multiple supervisor processes racing to start (spec.md §5):
// only one wins, others back off.
type Store struct {
	path     string
	lockPath string
}

// Open returns a Store for the state file at path. It does not itself
// hold the file open between calls — each Load/Save acquires the lock
// for the duration of that one operation only.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &Store{path: path, lockPath: path + ".lock"}, nil
}

func (s *Store) withLock(ctx context.Context, fn func() error) error {
	fl := flock.New(s.lockPath)
	locked, err := fl.TryLockContext(ctx, flockRetryInterval)
	if err != nil {
		return fmt.Errorf("acquire state lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("acquire state lock: timed out")
	}
	defer fl.Unlock()
	return fn()
}

// Load reads the snapshot under the exclusive lock. A missing
// file is not an error — it returns an empty Snapshot, matching a fresh
// supervisor's first run.
func (s *Store) Load(ctx context.Context) (*Snapshot, error) {
	var snap *Snapshot
	err := s.withLock(ctx, func() error {
		data, err := os.ReadFile(s.path)
		if err != nil {
			if os.IsNotExist(err) {
				snap = NewSnapshot()
				return nil
			}
			return fmt.Errorf("read state file: %w", err)
		}
		snap = NewSnapshot()
		md, err := toml.Decode(string(data), snap)
		if err != nil {
			return fmt.Errorf("decode state file (corrupt, refusing to start): %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			// Unknown fields are ignored with a warning per spec.md §6,
			// not a load failure.
			fmt.Fprintf(os.Stderr, "corrald: state file has %d unknown field(s), ignoring\n", len(undecoded))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Save atomically writes snap: write-to-temp in the same directory, then
// rename over the real path, all under the exclusive lock, so partial
// writes are never visible (spec.md §3 invariant).
func (s *Store) Save(ctx context.Context, snap *Snapshot) error {
	return s.withLock(ctx, func() error {
		tmp, err := os.CreateTemp(filepath.Dir(s.path), ".state-*.toml.tmp")
		if err != nil {
			return fmt.Errorf("create temp state file: %w", err)
		}
		tmpPath := tmp.Name()
		enc := toml.NewEncoder(tmp)
		if err := enc.Encode(snap); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("encode state: %w", err)
		}
		if err := tmp.Sync(); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("sync temp state file: %w", err)
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("close temp state file: %w", err)
		}
		if err := os.Rename(tmpPath, s.path); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("rename state file into place: %w", err)
		}
		return nil
	})
}

// RecordsFromSnapshot decodes snap.Daemons into daemon.Record values
// keyed by their parsed DaemonId, skipping (and logging) any entry whose
// key fails to decode.
func RecordsFromSnapshot(snap *Snapshot) map[ids.DaemonId]daemon.Record {
	out := make(map[ids.DaemonId]daemon.Record, len(snap.Daemons))
	for encoded, rt := range snap.Daemons {
		id, err := ids.Decode(encoded)
		if err != nil {
			fmt.Fprintf(os.Stderr, "corrald: skipping unparsable state entry %q: %v\n", encoded, err)
			continue
		}
		out[id] = FromTOML(id, rt)
	}
	return out
}

// SnapshotFromRecords builds the daemons table of a Snapshot from a live
// record set, disabled set, and shell-dir map.
func SnapshotFromRecords(records map[ids.DaemonId]daemon.Record, disabled map[ids.DaemonId]bool, shellDirs map[int]string) *Snapshot {
	snap := NewSnapshot()
	for id, r := range records {
		snap.Daemons[id.Encode()] = ToTOML(r)
	}
	for id, v := range disabled {
		if v {
			snap.Disabled[id.Encode()] = true
		}
	}
	for pid, dir := range shellDirs {
		snap.ShellDirs[fmt.Sprintf("%d", pid)] = dir
	}
	return snap
}
