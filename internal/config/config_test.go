package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_DSN", "")
	t.Setenv("DISPATCH_BACKEND", "")
	t.Setenv("SYNTH_TIMEOUT", "")

	cfg := Load()
	if cfg.DBDriver != "mysql" {
		t.Fatalf("expected mysql driver, got %q", cfg.DBDriver)
	}
	if cfg.DispatchBackend != "rabbitmq" {
		t.Fatalf("expected rabbitmq backend, got %q", cfg.DispatchBackend)
	}
	if cfg.SynthTimeout != 90*time.Second {
		t.Fatalf("expected 90s synth timeout, got %s", cfg.SynthTimeout)
	}
	if cfg.StartVideoCredits != 0 {
		t.Fatalf("video credits are a paid feature, got start=%d", cfg.StartVideoCredits)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "SQLite")
	t.Setenv("WORKER_CONCURRENCY", "500")
	t.Setenv("JOB_STALE_AFTER", "45")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("CREDITS_START_IMAGE", "not-a-number")

	cfg := Load()
	if cfg.DBDriver != "sqlite" {
		t.Fatalf("expected sqlite driver, got %q", cfg.DBDriver)
	}
	if cfg.WorkerConcurrency != 50 {
		t.Fatalf("expected concurrency clamped to 50, got %d", cfg.WorkerConcurrency)
	}
	if cfg.JobStaleAfter != 45*time.Second {
		t.Fatalf("expected 45s stale window, got %s", cfg.JobStaleAfter)
	}
	if cfg.RateLimitWindow != 30*time.Second {
		t.Fatalf("expected 30s window, got %s", cfg.RateLimitWindow)
	}
	if cfg.StartImageCredits != 3 {
		t.Fatalf("expected fallback image credits 3, got %d", cfg.StartImageCredits)
	}
}
