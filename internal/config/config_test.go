package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.yaml")
	content := []byte("workers: 8\nqueryTimeoutSeconds: 5\ndispatch:\n  attempts: 5\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Workers != 8 {
		t.Fatalf("expected workers=8, got %d", cfg.Workers)
	}
	if cfg.QueryTimeoutSeconds != 5 {
		t.Fatalf("expected queryTimeoutSeconds=5, got %d", cfg.QueryTimeoutSeconds)
	}
	if cfg.Dispatch.Attempts != 5 {
		t.Fatalf("expected dispatch.attempts=5, got %d", cfg.Dispatch.Attempts)
	}
	// Untouched fields keep defaults.
	if cfg.QueueSize != Default().QueueSize {
		t.Fatalf("expected default queueSize, got %d", cfg.QueueSize)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.yaml")
	if err := os.WriteFile(path, []byte("workers: 0\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error")
	}
}
