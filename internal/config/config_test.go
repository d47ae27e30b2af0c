package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.ServerPort != 8000 {
		t.Errorf("ServerPort = %d, want 8000", cfg.ServerPort)
	}
	if cfg.HealthCheckInterval != 30 {
		t.Errorf("HealthCheckInterval = %d, want 30", cfg.HealthCheckInterval)
	}
	if cfg.HealthCheckTimeout != 5 {
		t.Errorf("HealthCheckTimeout = %d, want 5", cfg.HealthCheckTimeout)
	}
	if cfg.PollInterval != 2 {
		t.Errorf("PollInterval = %d, want 2", cfg.PollInterval)
	}
	if cfg.Pricing.PricePerToken != 0.0001 {
		t.Errorf("PricePerToken = %v, want 0.0001", cfg.Pricing.PricePerToken)
	}
	if cfg.Database.URL != "data/llmhive.db" {
		t.Errorf("Database.URL = %s, want data/llmhive.db", cfg.Database.URL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LLMHIVE_PORT", "9000")
	t.Setenv("LLMHIVE_PRICE_PER_TOKEN", "0.5")

	cfg := Default()
	if cfg.ServerPort != 9000 {
		t.Errorf("ServerPort = %d, want 9000 from env", cfg.ServerPort)
	}
	if cfg.Pricing.PricePerToken != 0.5 {
		t.Errorf("PricePerToken = %v, want 0.5 from env", cfg.Pricing.PricePerToken)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "llmhive.yaml")
	contents := `
operator_url: https://hive.example.com
server_port: 8443
health_check_interval: 10
pricing:
  price_per_token: 0.0002
database:
  url: /var/lib/llmhive/ledger.db
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OperatorURL != "https://hive.example.com" {
		t.Errorf("OperatorURL = %s", cfg.OperatorURL)
	}
	if cfg.ServerPort != 8443 {
		t.Errorf("ServerPort = %d, want 8443", cfg.ServerPort)
	}
	if cfg.HealthInterval() != 10*time.Second {
		t.Errorf("HealthInterval() = %v, want 10s", cfg.HealthInterval())
	}
	// Unset keys keep their defaults.
	if cfg.HealthCheckTimeout != 5 {
		t.Errorf("HealthCheckTimeout = %d, want default 5", cfg.HealthCheckTimeout)
	}
	if cfg.Pricing.PricePerToken != 0.0002 {
		t.Errorf("PricePerToken = %v, want 0.0002", cfg.Pricing.PricePerToken)
	}
	if cfg.Database.URL != "/var/lib/llmhive/ledger.db" {
		t.Errorf("Database.URL = %s", cfg.Database.URL)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() with a missing explicit path should fail")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("server_port: [not an int"), 0o644)

	if _, err := Load(path); err == nil {
		t.Error("Load() with malformed YAML should fail")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"bad port", func(c *Config) { c.ServerPort = 0 }, ErrInvalidPort},
		{"port too high", func(c *Config) { c.ServerPort = 70000 }, ErrInvalidPort},
		{"bad interval", func(c *Config) { c.HealthCheckInterval = 0 }, ErrInvalidHealthInterval},
		{"bad timeout", func(c *Config) { c.HealthCheckTimeout = 0 }, ErrInvalidHealthTimeout},
		{"negative price", func(c *Config) { c.Pricing.PricePerToken = -1 }, ErrInvalidPrice},
		{"no database", func(c *Config) { c.Database.URL = "" }, ErrMissingDatabaseURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
