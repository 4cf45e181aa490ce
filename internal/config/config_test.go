package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Scheduler.MaxConcurrency != 3 {
		t.Errorf("expected max_concurrency 3, got %d", cfg.Scheduler.MaxConcurrency)
	}
	if cfg.Scheduler.TaskTimeout != 10*time.Minute {
		t.Errorf("expected task_timeout 10m, got %v", cfg.Scheduler.TaskTimeout)
	}
	if cfg.Executor.MaxRetries != 3 {
		t.Errorf("expected max_retries 3, got %d", cfg.Executor.MaxRetries)
	}
	if cfg.Executor.StreamUpdateInterval != 100*time.Millisecond {
		t.Errorf("expected stream_update_interval 100ms, got %v", cfg.Executor.StreamUpdateInterval)
	}
	if cfg.Exceptions.MaxAutoRetries != 2 {
		t.Errorf("expected max_auto_retries 2, got %d", cfg.Exceptions.MaxAutoRetries)
	}
	if cfg.Exceptions.InterventionThreshold != "high" {
		t.Errorf("expected intervention_threshold high, got %q", cfg.Exceptions.InterventionThreshold)
	}
	if !cfg.Exceptions.PauseOnCritical {
		t.Error("expected pause_on_critical to default to true")
	}
}

func TestLoadFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
scheduler:
  max_concurrency: 7
  task_timeout: 2m
executor:
  max_retries: 1
exceptions:
  auto_escalate: false
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}

	if cfg.Scheduler.MaxConcurrency != 7 {
		t.Errorf("expected max_concurrency 7, got %d", cfg.Scheduler.MaxConcurrency)
	}
	if cfg.Scheduler.TaskTimeout != 2*time.Minute {
		t.Errorf("expected task_timeout 2m, got %v", cfg.Scheduler.TaskTimeout)
	}
	if cfg.Executor.MaxRetries != 1 {
		t.Errorf("expected max_retries 1, got %d", cfg.Executor.MaxRetries)
	}
	if cfg.Exceptions.AutoEscalate {
		t.Error("expected auto_escalate false")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected level debug, got %q", cfg.Logging.Level)
	}

	// Untouched keys keep their defaults.
	if cfg.Executor.RetryDelay != time.Second {
		t.Errorf("expected default retry_delay 1s, got %v", cfg.Executor.RetryDelay)
	}
}

func TestLoadFromPathMissingFile(t *testing.T) {
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
