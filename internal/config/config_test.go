package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PAYMENTS_CONFIG", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Payouts.BatchCapacity != 240 {
		t.Fatalf("expected batch capacity 240, got %d", cfg.Payouts.BatchCapacity)
	}
	if cfg.Payouts.SplitCapCents != 2_000_000 {
		t.Fatalf("expected split cap 2000000, got %d", cfg.Payouts.SplitCapCents)
	}
	if cfg.Payouts.BatchDelay != 5*time.Minute {
		t.Fatalf("expected 5m batch delay, got %s", cfg.Payouts.BatchDelay)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "config.yaml")
	yaml := "payouts:\n  batch_capacity: 100\nstripe:\n  secret_key: sk_from_file\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PAYMENTS_CONFIG", path)
	t.Setenv("STRIPE_SECRET_KEY", "sk_from_env")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Payouts.BatchCapacity != 100 {
		t.Fatalf("expected batch capacity from file, got %d", cfg.Payouts.BatchCapacity)
	}
	if cfg.Stripe.SecretKey != "sk_from_env" {
		t.Fatalf("expected env to win, got %q", cfg.Stripe.SecretKey)
	}
}
