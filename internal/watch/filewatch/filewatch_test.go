package filewatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/corralhq/corral/internal/daemon"
	"github.com/corralhq/corral/internal/hooks"
	"github.com/corralhq/corral/internal/ids"
	"github.com/corralhq/corral/internal/launcher"
	"github.com/corralhq/corral/internal/orchestrator"
	"github.com/corralhq/corral/internal/statestore"
)

func newTestOrchestrator(t *testing.T) *orchestrator.Orchestrator {
	t.Helper()
	dir := t.TempDir()
	store, err := statestore.Open(filepath.Join(dir, "state.toml"))
	if err != nil {
		t.Fatal(err)
	}
	o := orchestrator.New(orchestrator.Options{
		LogsRoot: filepath.Join(dir, "logs"),
		Launcher: launcher.New(dir),
		Store:    store,
		Hooks:    &hooks.Runner{},
	})
	if err := o.Load(context.Background(), map[ids.DaemonId]daemon.DaemonSpec{}); err != nil {
		t.Fatal(err)
	}
	return o
}

func TestMatchesAnyMatchesGlobByBasename(t *testing.T) {
	if !matchesAny([]string{"*.go"}, "/a/b/main.go") {
		t.Fatal("expected *.go to match main.go")
	}
	if matchesAny([]string{"*.go"}, "/a/b/main.txt") {
		t.Fatal("expected *.go not to match main.txt")
	}
}

func TestWatchAndUnwatchReleaseDirectories(t *testing.T) {
	o := newTestOrchestrator(t)
	w, err := New(o, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	w.Start()

	dir := t.TempDir()
	spec := daemon.DaemonSpec{ID: ids.DaemonId{Namespace: "t", Name: "a"}, WatchGlobs: []string{filepath.Join(dir, "*.go")}}
	if err := w.Watch(spec); err != nil {
		t.Fatal(err)
	}
	if w.watched[dir] != 1 {
		t.Fatalf("expected directory ref count 1, got %d", w.watched[dir])
	}
	w.Unwatch(spec.ID)
	if _, ok := w.watched[dir]; ok {
		t.Fatal("expected directory to be released after Unwatch")
	}
}

func TestMatchesAnyHandlesRecursiveDoubleStar(t *testing.T) {
	globs := []string{"/proj/src/**/*.ts"}
	if !matchesAny(globs, "/proj/src/components/nested/Foo.ts") {
		t.Fatal("expected src/**/*.ts to match a file nested two directories deep")
	}
	if !matchesAny(globs, "/proj/src/Foo.ts") {
		t.Fatal("expected src/**/*.ts to also match a file directly under src")
	}
	if matchesAny(globs, "/proj/src/components/nested/Foo.js") {
		t.Fatal("expected the extension to still be enforced under **")
	}
	if matchesAny(globs, "/proj/other/Foo.ts") {
		t.Fatal("expected a path outside the glob's root not to match")
	}
}

func TestWatchRegistersEveryExistingSubdirectoryForDoubleStar(t *testing.T) {
	o := newTestOrchestrator(t)
	w, err := New(o, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	w.Start()

	dir := t.TempDir()
	nested := filepath.Join(dir, "src", "components", "nested")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	id := ids.DaemonId{Namespace: "t", Name: "recursive"}
	spec := daemon.DaemonSpec{ID: id, WorkingDir: dir, WatchGlobs: []string{"src/**/*.ts"}}
	if err := w.Watch(spec); err != nil {
		t.Fatal(err)
	}

	if w.watched[filepath.Join(dir, "src")] == 0 {
		t.Fatal("expected the ** root itself to be watched")
	}
	if w.watched[nested] == 0 {
		t.Fatal("expected a pre-existing nested subdirectory to be watched")
	}
}

func TestFileChangeRestartsRunningDaemon(t *testing.T) {
	o := newTestOrchestrator(t)
	dir := t.TempDir()

	id := ids.DaemonId{Namespace: "t", Name: "watched"}
	spec := daemon.DaemonSpec{
		ID:           id,
		ShellCommand: "sleep 5",
		WorkingDir:   dir,
		WatchGlobs:   []string{filepath.Join(dir, "*.txt")},
		ReadyChecks:  []daemon.ReadyCheck{{Kind: daemon.ReadyDelay, Delay: 10 * time.Millisecond}},
	}
	if _, err := o.Run(context.Background(), spec, true, false); err != nil {
		t.Fatalf("run: %v", err)
	}
	before, _ := o.Get(id)

	w, err := New(o, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	w.Start()
	if err := w.Watch(spec); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(dir, "trigger.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	time.Sleep(debounceWindow + 500*time.Millisecond)

	rec, ok := o.Get(id)
	if !ok {
		t.Fatal("expected record to still exist")
	}
	if rec.PID == 0 && rec.Status != daemon.Running && rec.Status != daemon.Waiting {
		t.Fatalf("expected a restart attempt, got %+v", rec)
	}
	if rec.PID == before.PID {
		t.Fatalf("expected the restart to replace pid %d, got %+v", before.PID, rec)
	}
	o.Shutdown(context.Background())
}
