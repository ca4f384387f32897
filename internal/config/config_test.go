package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Bus.HistorySize != 200 {
		t.Errorf("expected default history size 200, got %d", cfg.Bus.HistorySize)
	}

	if cfg.Bus.MessageTTL != 24*time.Hour {
		t.Errorf("expected message TTL 24h, got %v", cfg.Bus.MessageTTL)
	}

	if cfg.Bus.ActiveWindow != 5*time.Minute {
		t.Errorf("expected active window 5m, got %v", cfg.Bus.ActiveWindow)
	}

	if cfg.Learning.RecordCap != 100 {
		t.Errorf("expected record cap 100, got %d", cfg.Learning.RecordCap)
	}

	if cfg.Learning.RecordTTL != 30*24*time.Hour {
		t.Errorf("expected record TTL 30d, got %v", cfg.Learning.RecordTTL)
	}

	if cfg.Learning.PatternTTL != 90*24*time.Hour {
		t.Errorf("expected pattern TTL 90d, got %v", cfg.Learning.PatternTTL)
	}

	if cfg.Coordinator.Timeout != 15*time.Minute {
		t.Errorf("expected coordinator timeout 15m, got %v", cfg.Coordinator.Timeout)
	}
}

func TestLoadFromPath(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
bus:
  history_size: 50
  message_ttl: 12h
  active_window: 2m
learning:
  record_cap: 25
  cache_ttl: 30m
  top_k: 5
coordinator:
  timeout: 5m
executor:
  command: /usr/local/bin/agent-runner
  args: ["--json"]
paths:
  comm_log: /tmp/ensemble/comm.log
  status_doc: /tmp/ensemble/status.md
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.Bus.HistorySize != 50 {
		t.Errorf("expected history size 50, got %d", cfg.Bus.HistorySize)
	}

	if cfg.Bus.MessageTTL != 12*time.Hour {
		t.Errorf("expected message TTL 12h, got %v", cfg.Bus.MessageTTL)
	}

	if cfg.Learning.RecordCap != 25 {
		t.Errorf("expected record cap 25, got %d", cfg.Learning.RecordCap)
	}

	if cfg.Learning.CacheTTL != 30*time.Minute {
		t.Errorf("expected cache TTL 30m, got %v", cfg.Learning.CacheTTL)
	}

	// Unset values keep their defaults.
	if cfg.Learning.RecordTTL != 720*time.Hour {
		t.Errorf("expected default record TTL 720h, got %v", cfg.Learning.RecordTTL)
	}

	if cfg.Coordinator.Timeout != 5*time.Minute {
		t.Errorf("expected coordinator timeout 5m, got %v", cfg.Coordinator.Timeout)
	}

	if cfg.Executor.Command != "/usr/local/bin/agent-runner" {
		t.Errorf("expected executor command, got %q", cfg.Executor.Command)
	}

	if len(cfg.Executor.Args) != 1 || cfg.Executor.Args[0] != "--json" {
		t.Errorf("expected executor args [--json], got %v", cfg.Executor.Args)
	}

	if cfg.Paths.CommLog != "/tmp/ensemble/comm.log" {
		t.Errorf("expected comm log path, got %q", cfg.Paths.CommLog)
	}
}

func TestLoadFromPathExpandsEnv(t *testing.T) {
	os.Setenv("ENSEMBLE_TEST_BIN", "/opt/agents/runner")
	defer os.Unsetenv("ENSEMBLE_TEST_BIN")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
executor:
  command: ${ENSEMBLE_TEST_BIN}
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.Executor.Command != "/opt/agents/runner" {
		t.Errorf("expected expanded command, got %q", cfg.Executor.Command)
	}
}

func TestLoadFromPathMissingFile(t *testing.T) {
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	os.Setenv("XDG_CONFIG_HOME", tmpDir)
	defer os.Unsetenv("XDG_CONFIG_HOME")

	cfg := Default()
	cfg.Bus.HistorySize = 75
	cfg.Paths.StatusDoc = "/tmp/status.md"

	if err := Save(cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := LoadFromPath(filepath.Join(tmpDir, "ensemble", "config.yaml"))
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if loaded.Bus.HistorySize != 75 {
		t.Errorf("expected history size 75, got %d", loaded.Bus.HistorySize)
	}

	if loaded.Paths.StatusDoc != "/tmp/status.md" {
		t.Errorf("expected status doc path, got %q", loaded.Paths.StatusDoc)
	}
}
