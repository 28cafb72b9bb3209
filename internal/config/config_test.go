package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.HTTPPort != "8080" {
		t.Fatalf("unexpected default port: %s", cfg.HTTPPort)
	}
	if cfg.StoreDriver != "postgres" {
		t.Fatalf("unexpected default store driver: %s", cfg.StoreDriver)
	}
	if !cfg.AutoApply {
		t.Fatalf("auto apply should default on")
	}
	if cfg.DedupTTL != 24*time.Hour {
		t.Fatalf("unexpected dedup ttl: %s", cfg.DedupTTL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9999")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("GUARDRAIL_MAX_DELTA", "0.25")
	t.Setenv("SOURCES", "alpha=http://a.local, beta=http://b.local")
	t.Setenv("CAS_BACKOFF_INITIAL", "10ms")

	cfg := Load()
	if cfg.HTTPPort != "9999" {
		t.Fatalf("port override ignored: %s", cfg.HTTPPort)
	}
	if cfg.StoreDriver != "memory" {
		t.Fatalf("store driver override ignored: %s", cfg.StoreDriver)
	}
	if cfg.MaxDelta != 0.25 {
		t.Fatalf("max delta override ignored: %v", cfg.MaxDelta)
	}
	if len(cfg.Sources) != 2 || cfg.Sources[1] != "beta=http://b.local" {
		t.Fatalf("sources override ignored: %v", cfg.Sources)
	}
	if cfg.BackoffInitial != 10*time.Millisecond {
		t.Fatalf("backoff override ignored: %s", cfg.BackoffInitial)
	}
}
