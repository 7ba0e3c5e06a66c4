package logger

import (
	"path/filepath"
	"testing"
)

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	if _, err := NewLogger(WithLevel("loud")); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewLoggerCreatesLogDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "run.log")
	log, err := NewLogger(WithOutputPaths([]string{path}), WithEncoding("console"))
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	log.Info("hello", String("k", "v"))
	_ = log.Sync()
}

func TestTestLoggerSharesEntriesAcrossChildren(t *testing.T) {
	root := NewTestLogger()
	child := root.Named("batch").With(String("document", "a.pdf"))
	child.Warn("page failed", Int("page", 2))
	root.Info("done")

	entries := root.GetEntries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Logger != "batch" {
		t.Fatalf("unexpected logger name %q", entries[0].Logger)
	}
	if len(entries[0].Fields) != 2 {
		t.Fatalf("expected inherited + own field, got %d", len(entries[0].Fields))
	}
	if root.Count("WARN") != 1 {
		t.Fatalf("expected one warn entry")
	}
	root.Clear()
	if len(root.GetEntries()) != 0 {
		t.Fatal("expected entries cleared")
	}
}
