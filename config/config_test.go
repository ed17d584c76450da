package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadGlobalConfigDefaults(t *testing.T) {
	cfg, err := LoadGlobalConfig("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.BuildsCacheSize != 15 {
		t.Errorf("expected default cache size 15, got %d", cfg.BuildsCacheSize)
	}
	if cfg.ReclaimInterval != 10*time.Minute {
		t.Errorf("expected default reclaim interval 10m, got %v", cfg.ReclaimInterval)
	}
	if cfg.StatusInterval != 30*time.Minute {
		t.Errorf("expected default status interval 30m, got %v", cfg.StatusInterval)
	}
}

func TestLoadGlobalConfigEnvOverrides(t *testing.T) {
	t.Setenv("DISPATCHER_BUILDS_CACHE_SIZE", "42")
	t.Setenv("DISPATCHER_MERGE_REQUESTS", "false")
	t.Setenv("DISPATCHER_RECLAIM_INTERVAL", "5m")
	t.Setenv("DISPATCHER_STATUS_INTERVAL", "1h")

	cfg, err := LoadGlobalConfig("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.BuildsCacheSize != 42 {
		t.Errorf("expected cache size 42, got %d", cfg.BuildsCacheSize)
	}
	if cfg.MergeRequests {
		t.Error("expected merge requests to be false")
	}
	if cfg.ReclaimInterval != 5*time.Minute {
		t.Errorf("expected reclaim interval 5m, got %v", cfg.ReclaimInterval)
	}
	if cfg.StatusInterval != time.Hour {
		t.Errorf("expected status interval 1h, got %v", cfg.StatusInterval)
	}
}

func TestLoadGlobalConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dispatcher.json")
	if err := os.WriteFile(path, []byte(`{"builds_cache_size": 99, "builders": [{"name": "compile"}]}`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadGlobalConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.BuildsCacheSize != 99 {
		t.Errorf("expected cache size 99 from file, got %d", cfg.BuildsCacheSize)
	}
	if _, ok := cfg.FindBuilder("compile"); !ok {
		t.Error("expected to find builder 'compile' loaded from file")
	}
	if _, ok := cfg.FindBuilder("missing"); ok {
		t.Error("expected not to find builder 'missing'")
	}
}

func TestLoadGlobalConfigMissingFileIsNotError(t *testing.T) {
	cfg, err := LoadGlobalConfig("/nonexistent/path/dispatcher.json")
	if err != nil {
		t.Fatalf("expected missing config file to be non-fatal, got %v", err)
	}
	if cfg == nil {
		t.Fatal("expected default config")
	}
}
