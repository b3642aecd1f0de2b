package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()
	if cfg.LogLevel != "info" {
		t.Fatalf("expected default log level info, got %q", cfg.LogLevel)
	}
	if cfg.ArchiveMaxDepth != 8 {
		t.Fatalf("expected default archive depth 8, got %d", cfg.ArchiveMaxDepth)
	}
	if cfg.Workers != 1 {
		t.Fatalf("expected default workers 1, got %d", cfg.Workers)
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("expected a missing config file to be tolerated, got %v", err)
	}
	want := Default()
	if cfg.LogLevel != want.LogLevel || cfg.Workers != want.Workers || cfg.ArchiveMaxDepth != want.ArchiveMaxDepth {
		t.Fatalf("expected defaults when config file is absent, got %+v", cfg)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "log_level: debug\nworkers: 4\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected file to override log level, got %q", cfg.LogLevel)
	}
	if cfg.Workers != 4 {
		t.Fatalf("expected file to override workers, got %d", cfg.Workers)
	}
	if cfg.ArchiveMaxDepth != 8 {
		t.Fatalf("expected unset fields to keep defaults, got %d", cfg.ArchiveMaxDepth)
	}
}

func TestEnvOverridesFileAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("log_level: debug\n"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	t.Setenv("YARAX_LOG_LEVEL", "error")
	t.Setenv("YARAX_WORKERS", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "error" {
		t.Fatalf("expected env to override file, got %q", cfg.LogLevel)
	}
	if cfg.Workers != 7 {
		t.Fatalf("expected env to override default workers, got %d", cfg.Workers)
	}
}
