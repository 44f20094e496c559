package webstatus

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"testing"

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

func TestHealthzAndStatusEndpoints(t *testing.T) {
	o := newTestOrchestrator(t)
	s, err := Listen(18080, o, nil)
	if err != nil {
		t.Fatal(err)
	}
	go s.Serve()
	defer s.Stop()
	defer o.Shutdown(context.Background())

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp, err = http.Get("http://" + s.Addr() + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	var records []map[string]any
	if err := json.Unmarshal(body, &records); err != nil {
		t.Fatalf("expected valid json array, got %q: %v", body, err)
	}
}
