package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultHasSaneBaseline(t *testing.T) {
	cfg := Default()
	if cfg.EventLoop.WorkerCount <= 0 {
		t.Fatal("expected a positive default worker count")
	}
	if cfg.CircuitBreaker.FailureThreshold <= 0 || cfg.CircuitBreaker.SuccessThreshold <= 0 {
		t.Fatal("expected positive circuit breaker thresholds")
	}
	if cfg.MetricsAddr == "" {
		t.Fatal("expected a default metrics address")
	}
}

func TestLoadWithMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.EventLoop.WorkerCount != Default().EventLoop.WorkerCount {
		t.Fatalf("expected default worker count, got %d", cfg.EventLoop.WorkerCount)
	}
}

func TestLoadOverlaysYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "veloz.yaml")
	yaml := []byte("event_loop:\n  worker_count: 9\nmetrics_addr: \":9999\"\n")
	if err := os.WriteFile(path, yaml, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.EventLoop.WorkerCount != 9 {
		t.Fatalf("expected overlay to set worker_count=9, got %d", cfg.EventLoop.WorkerCount)
	}
	if cfg.MetricsAddr != ":9999" {
		t.Fatalf("expected overlay to set metrics_addr, got %q", cfg.MetricsAddr)
	}
	// Untouched fields retain their defaults.
	if cfg.Persistence.MaxSnapshots != Default().Persistence.MaxSnapshots {
		t.Fatalf("expected untouched field to keep its default, got %d", cfg.Persistence.MaxSnapshots)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("METRICS_ADDR", ":7070")
	t.Setenv("EVENTLOOP_WORKERS", "12")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MetricsAddr != ":7070" {
		t.Fatalf("expected env override for metrics addr, got %q", cfg.MetricsAddr)
	}
	if cfg.EventLoop.WorkerCount != 12 {
		t.Fatalf("expected env override for worker count, got %d", cfg.EventLoop.WorkerCount)
	}
}

func TestMillisHelper(t *testing.T) {
	if Millis(1500).String() != "1.5s" {
		t.Fatalf("unexpected duration: %v", Millis(1500))
	}
}
