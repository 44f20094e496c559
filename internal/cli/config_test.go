package cli

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigPathsOrderedSystemUserProject(t *testing.T) {
	paths := configPaths()
	if len(paths) < 2 {
		t.Fatalf("expected at least system+project paths, got %v", paths)
	}
	if paths[0] != systemConfigPath {
		t.Fatalf("expected system path first, got %q", paths[0])
	}
	last := paths[len(paths)-1]
	if filepath.Base(last) != projectConfigName {
		t.Fatalf("expected project config last, got %q", last)
	}
}

func TestCwdNamespaceIsCwdBaseName(t *testing.T) {
	ns := cwdNamespace()
	if ns == "" {
		t.Fatal("expected a non-empty namespace")
	}
	if strings.ContainsRune(ns, '/') {
		t.Fatalf("expected a base name, got %q", ns)
	}
}
