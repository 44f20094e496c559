// Package filewatch restarts Running daemons whose watch_globs match a
// changed file, per spec.md §4.8. Grounded on the pack's only realized
// fsnotify consumer (srvrmgr's startHotReload): one shared
// fsnotify.Watcher, added directories deduplicated across every spec,
// changes coalesced by a reset-on-event debounce timer before acting.
package filewatch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/corralhq/corral/internal/daemon"
	"github.com/corralhq/corral/internal/ids"
	"github.com/corralhq/corral/internal/orchestrator"
)

// debounceWindow coalesces a burst of file events (e.g. an editor's
// save-as-rename-plus-write) into a single restart, per spec.md §4.8.
const debounceWindow = 1 * time.Second

// Watcher restarts daemons on matching file changes.
type Watcher struct {
	reg    *orchestrator.Orchestrator
	logger *slog.Logger

	fsw *fsnotify.Watcher

	mu        sync.Mutex
	watched   map[string]int // directory -> ref count
	specs     map[ids.DaemonId]daemon.DaemonSpec
	debounce  map[ids.DaemonId]*time.Timer
	watchedID map[ids.DaemonId][]string // directories this id added

	// recursiveRoots ref-counts every directory a "**" glob was rooted
	// at, so a later mkdir under one of them can be picked up without
	// waiting for the daemon's spec to be re-Watch()'d.
	recursiveRoots map[string]int
	recursiveByID  map[ids.DaemonId][]string

	stop chan struct{}
	done chan struct{}
}

// New constructs a Watcher bound to reg.
func New(reg *orchestrator.Orchestrator, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		reg:            reg,
		logger:         logger,
		fsw:            fsw,
		watched:        make(map[string]int),
		specs:          make(map[ids.DaemonId]daemon.DaemonSpec),
		debounce:       make(map[ids.DaemonId]*time.Timer),
		watchedID:      make(map[ids.DaemonId][]string),
		recursiveRoots: make(map[string]int),
		recursiveByID:  make(map[ids.DaemonId][]string),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}, nil
}

// Start begins the event loop.
func (w *Watcher) Start() {
	go w.run()
}

// Stop closes the underlying fsnotify watcher and waits for the loop to
// exit.
func (w *Watcher) Stop() {
	close(w.stop)
	<-w.done
	w.fsw.Close()
}

// Watch registers spec's watch_globs, a no-op if WatchGlobs is empty.
// Calling Watch again for the same id replaces its previous globs. A
// relative glob is anchored to spec.WorkingDir, the closest stand-in this
// codebase has for "the spec's config-file directory" (spec.md §4.8);
// a "**" segment walks the tree below its root and adds every
// subdirectory found, since fsnotify has no native recursive watch.
func (w *Watcher) Watch(spec daemon.DaemonSpec) error {
	w.Unwatch(spec.ID)
	if len(spec.WatchGlobs) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	dirs := make(map[string]bool)
	var roots []string
	for _, g := range spec.WatchGlobs {
		anchored := anchorGlob(spec.WorkingDir, g)
		root, recursive := recursiveRoot(anchored)
		if !recursive {
			dirs[filepath.Dir(anchored)] = true
			continue
		}
		w.recursiveRoots[root]++
		roots = append(roots, root)
		for _, d := range walkDirs(root) {
			dirs[d] = true
		}
	}
	w.recursiveByID[spec.ID] = roots

	var added []string
	for dir := range dirs {
		if w.watched[dir] == 0 {
			if err := w.fsw.Add(dir); err != nil {
				return err
			}
		}
		w.watched[dir]++
		added = append(added, dir)
	}

	w.specs[spec.ID] = spec
	w.watchedID[spec.ID] = added
	return nil
}

// anchorGlob resolves a relative glob pattern against workingDir; an
// already-absolute pattern is returned cleaned and unchanged.
func anchorGlob(workingDir, g string) string {
	if filepath.IsAbs(g) {
		return filepath.Clean(g)
	}
	if workingDir == "" {
		return g
	}
	return filepath.Join(workingDir, g)
}

// recursiveRoot reports the directory a "**" glob segment is rooted at,
// i.e. everything before the first "**" path segment.
func recursiveRoot(g string) (string, bool) {
	segs := strings.Split(filepath.ToSlash(g), "/")
	idx := -1
	for i, s := range segs {
		if s == "**" {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", false
	}
	root := filepath.FromSlash(strings.Join(segs[:idx], "/"))
	if root == "" {
		root = "."
	}
	return root, true
}

// walkDirs lists root and every directory beneath it; unreadable entries
// are skipped rather than aborting the whole registration.
func walkDirs(root string) []string {
	var dirs []string
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			dirs = append(dirs, path)
		}
		return nil
	})
	if len(dirs) == 0 {
		dirs = append(dirs, root)
	}
	return dirs
}

// dirUnderRoot reports whether dir is root itself or nested beneath it.
func dirUnderRoot(dir, root string) bool {
	dir = filepath.Clean(dir)
	root = filepath.Clean(root)
	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// Unwatch removes id's watch registration, releasing any directory no
// longer referenced by another watched spec.
func (w *Watcher) Unwatch(id ids.DaemonId) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, dir := range w.watchedID[id] {
		w.watched[dir]--
		if w.watched[dir] <= 0 {
			delete(w.watched, dir)
			w.fsw.Remove(dir)
		}
	}
	delete(w.watchedID, id)
	for _, root := range w.recursiveByID[id] {
		w.recursiveRoots[root]--
		if w.recursiveRoots[root] <= 0 {
			delete(w.recursiveRoots, root)
		}
	}
	delete(w.recursiveByID, id)
	delete(w.specs, id)
	if t, ok := w.debounce[id]; ok {
		t.Stop()
		delete(w.debounce, id)
	}
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("filewatch error", "err", err)
		case <-w.stop:
			return
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if ev.Op&fsnotify.Create != 0 {
		w.watchIfNewRecursiveDir(ev.Name)
	}

	for id, spec := range w.specs {
		anchored := make([]string, len(spec.WatchGlobs))
		for i, g := range spec.WatchGlobs {
			anchored[i] = anchorGlob(spec.WorkingDir, g)
		}
		if matchesAny(anchored, ev.Name) {
			w.scheduleRestart(id, spec)
		}
	}
}

// watchIfNewRecursiveDir adds path to the fsnotify watcher if it is a
// freshly created directory under one of the recursive "**" roots —
// fsnotify does not pick up subdirectories created after Add, so without
// this a directory created after Watch() would silently go unmatched.
// Must be called with w.mu held.
func (w *Watcher) watchIfNewRecursiveDir(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	for root := range w.recursiveRoots {
		if !dirUnderRoot(path, root) {
			continue
		}
		if w.watched[path] == 0 {
			if err := w.fsw.Add(path); err != nil {
				return
			}
		}
		w.watched[path]++
		return
	}
}

// scheduleRestart resets id's debounce timer; it must be called with
// w.mu held.
func (w *Watcher) scheduleRestart(id ids.DaemonId, spec daemon.DaemonSpec) {
	if t, ok := w.debounce[id]; ok {
		t.Stop()
	}
	w.debounce[id] = time.AfterFunc(debounceWindow, func() {
		w.restart(id, spec)
	})
}

// restart restarts spec only if it is currently Running — a watched
// file change while Stopped is not a trigger (spec.md §4.8).
func (w *Watcher) restart(id ids.DaemonId, spec daemon.DaemonSpec) {
	rec, ok := w.reg.Get(id)
	if !ok || rec.Status != daemon.Running {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := w.reg.Run(ctx, spec, false, true); err != nil {
		w.logger.Warn("file-watch restart failed", "daemon_id", id.String(), "err", err)
	}
}

// matchesAny reports whether path matches any of the already-anchored
// glob patterns, honoring recursive "**" segments (spec.md §4.8). A bare
// pattern with no directory component (e.g. "*.go") matches on basename
// alone, unanchored to any directory.
func matchesAny(anchoredGlobs []string, path string) bool {
	base := filepath.Base(path)
	pathSegs := strings.Split(filepath.ToSlash(path), "/")
	for _, g := range anchoredGlobs {
		if !strings.Contains(filepath.ToSlash(g), "/") {
			if ok, _ := filepath.Match(g, base); ok {
				return true
			}
			continue
		}
		patSegs := strings.Split(filepath.ToSlash(g), "/")
		if globMatch(patSegs, pathSegs) {
			return true
		}
	}
	return false
}

// globMatch matches pattern segments against path segments one directory
// level at a time; a "**" segment matches zero or more path segments,
// which plain filepath.Match has no equivalent for.
func globMatch(pat, path []string) bool {
	if len(pat) == 0 {
		return len(path) == 0
	}
	if pat[0] == "**" {
		if globMatch(pat[1:], path) {
			return true
		}
		if len(path) == 0 {
			return false
		}
		return globMatch(pat, path[1:])
	}
	if len(path) == 0 {
		return false
	}
	ok, err := filepath.Match(pat[0], path[0])
	if err != nil || !ok {
		return false
	}
	return globMatch(pat[1:], path[1:])
}
