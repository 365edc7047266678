package config

import (
	"testing"
	"time"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.ManagerPIN != "" {
		t.Fatalf("expected empty MANAGER_PIN when unset, got %q", cfg.ManagerPIN)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DEFAULT_LOCATION_ID", "west-bakery")
	t.Setenv("BACKEND_TIMEOUT_MS", "1500")
	t.Setenv("AUTH_SECRET", "  a-secret-with-spaces  ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address() != ":9090" {
		t.Fatalf("unexpected address %q", cfg.Address())
	}
	if cfg.LocationID != "west-bakery" {
		t.Fatalf("unexpected location %q", cfg.LocationID)
	}
	if cfg.BackendTimeout() != 1500*time.Millisecond {
		t.Fatalf("unexpected timeout %v", cfg.BackendTimeout())
	}
	if cfg.AuthSecret != "a-secret-with-spaces" {
		t.Fatalf("expected trimmed secret, got %q", cfg.AuthSecret)
	}
}

func TestLoadFallsBackOnInvalidDurations(t *testing.T) {
	t.Setenv("BACKEND_TIMEOUT_MS", "0")
	t.Setenv("SWEEP_INTERVAL_SECONDS", "-5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BackendTimeout() != 3*time.Second {
		t.Fatalf("expected default backend timeout, got %v", cfg.BackendTimeout())
	}
	if cfg.SweepInterval() != time.Minute {
		t.Fatalf("expected default sweep interval, got %v", cfg.SweepInterval())
	}
	if cfg.CatalogCacheTTL() != 30*time.Second {
		t.Fatalf("expected default cache ttl, got %v", cfg.CatalogCacheTTL())
	}
}
