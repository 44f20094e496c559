package logsink

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/corralhq/corral/internal/ids"
)

func TestPathDerivation(t *testing.T) {
	id := ids.DaemonId{Namespace: "myproj", Name: "api"}
	got := Path("/var/corral/logs", id)
	want := filepath.Join("/var/corral/logs", "myproj--api", "myproj--api.log")
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestWriteAndTail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "d.log")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.WriteLine("tick 1"); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteLine("tick 2"); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	lines, _, err := Tail(path, 0)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %v", len(lines), lines)
	}
}

func TestClearTruncates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "d.log")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	s.WriteLine("hello")
	if err := s.Clear(); err != nil {
		t.Fatal(err)
	}
	s.Close()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 0 {
		t.Fatalf("expected empty file, size=%d", info.Size())
	}
}

func TestRangeByTime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "d.log")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	s.WriteLine("first")
	time.Sleep(5 * time.Millisecond)
	cutoff := time.Now().UTC()
	time.Sleep(5 * time.Millisecond)
	s.WriteLine("second")
	s.Close()

	entries, err := RangeByTime(path, cutoff, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Text != "second" {
		t.Fatalf("got %+v", entries)
	}
}
