package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsArePaperRunnable(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Paper {
		t.Error("default config should be paper mode")
	}
	if cfg.Fabric.RedisURL != "" {
		t.Errorf("default fabric should be in-memory, got redis_url %q", cfg.Fabric.RedisURL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
	if got, want := cfg.Gates.PotThreshold, 0.55; got != want {
		t.Errorf("pot_threshold = %v, want %v", got, want)
	}
	if got, want := cfg.Risk.DailyLossCap, -500.0; got != want {
		t.Errorf("daily_loss_cap = %v, want %v", got, want)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
paper: true
fabric:
  max_len: 250
gates:
  pot_threshold: 0.6
risk:
  account_equity: 50000
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, want := cfg.Fabric.MaxLen, 250; got != want {
		t.Errorf("fabric.max_len = %d, want %d", got, want)
	}
	if got, want := cfg.Gates.PotThreshold, 0.6; got != want {
		t.Errorf("gates.pot_threshold = %v, want %v", got, want)
	}
	if got, want := cfg.Risk.AccountEquity, 50000.0; got != want {
		t.Errorf("risk.account_equity = %v, want %v", got, want)
	}
	// Untouched sections keep defaults.
	if got, want := cfg.Gates.ADXThreshold, 20.0; got != want {
		t.Errorf("gates.adx_threshold = %v, want %v", got, want)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/2")
	t.Setenv("TRADIER_SANDBOX_TOKEN", "tok-123")
	t.Setenv("TRADIER_SANDBOX_ACCOUNT", "VA000X")
	t.Setenv("ACCOUNT_EQUITY", "100000")
	t.Setenv("STREAM_AUDIT_PATH", "/tmp/audit")
	t.Setenv("STREAM_AUDIT_STREAMS", "signals, risk_orders")
	t.Setenv("STREAM_AUDIT_ROTATE_BYTES", "1048576")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, want := cfg.Fabric.RedisURL, "redis://localhost:6379/2"; got != want {
		t.Errorf("redis_url = %q, want %q", got, want)
	}
	if got, want := cfg.Broker.Token, "tok-123"; got != want {
		t.Errorf("broker.token = %q, want %q", got, want)
	}
	if got, want := cfg.Risk.AccountEquity, 100000.0; got != want {
		t.Errorf("account_equity = %v, want %v", got, want)
	}
	if got, want := cfg.Fabric.AuditPath, "/tmp/audit"; got != want {
		t.Errorf("fabric.audit_path = %q, want %q", got, want)
	}
	if len(cfg.Fabric.AuditStreams) != 2 || cfg.Fabric.AuditStreams[0] != "signals" || cfg.Fabric.AuditStreams[1] != "risk_orders" {
		t.Errorf("fabric.audit_streams = %v, want [signals risk_orders]", cfg.Fabric.AuditStreams)
	}
	if got, want := cfg.Fabric.AuditRotateBytes, int64(1048576); got != want {
		t.Errorf("fabric.audit_rotate_bytes = %d, want %d", got, want)
	}
}

func TestValidateRejectsLiveWithoutCredentials(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Paper = false
	cfg.Broker.Token = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for live mode without broker token")
	}
	cfg.Broker.Token = "tok"
	cfg.Broker.AccountID = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for live mode without account id")
	}
}

func TestValidateRanges(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero equity", func(c *Config) { c.Risk.AccountEquity = 0 }},
		{"zero positions", func(c *Config) { c.Risk.MaxConcurrentPositions = 0 }},
		{"risk pct too high", func(c *Config) { c.Risk.PerTradeMaxRiskPct = 1.5 }},
		{"pot threshold out of range", func(c *Config) { c.Gates.PotThreshold = 0 }},
		{"bad fabric max_len", func(c *Config) { c.Fabric.MaxLen = 0 }},
		{"bad api port", func(c *Config) { c.API.Port = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load("")
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation error for %s", tc.name)
			}
		})
	}
}
