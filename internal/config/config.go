// Package config loads operator configuration from a YAML file with
// environment variable fallbacks.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where Load looks when no --config flag is given.
const DefaultPath = "llmhive.yaml"

// Config is the operator configuration file.
type Config struct {
	// OperatorURL is the externally reachable base URL, used by UI/CLI
	// clients for bootstrap.
	OperatorURL string `yaml:"operator_url"`

	// ServerPort is the HTTP listen port (default: 8000).
	ServerPort int `yaml:"server_port"`

	// HealthCheckInterval is the liveness scan period in seconds
	// (default: 30). Nodes silent for twice this long are pruned.
	HealthCheckInterval int `yaml:"health_check_interval"`

	// HealthCheckTimeout is the HTTP probe timeout in seconds (default: 5).
	HealthCheckTimeout int `yaml:"health_check_timeout"`

	// PollInterval is the recommended worker poll period in seconds
	// (default: 2). Advisory; workers choose their own cadence.
	PollInterval int `yaml:"poll_interval"`

	Pricing  Pricing  `yaml:"pricing"`
	Database Database `yaml:"database"`
}

// Pricing controls payment amount derivation.
type Pricing struct {
	// PricePerToken in settlement currency units (default: 0.0001).
	PricePerToken float64 `yaml:"price_per_token"`
}

// Database points at the ledger store.
type Database struct {
	// URL is a sqlite:// URL or a bare file path
	// (default: data/llmhive.db).
	URL string `yaml:"url"`
}

// Default returns the configuration with all defaults applied, honoring
// LLMHIVE_* environment variables.
func Default() Config {
	return Config{
		OperatorURL:         getEnvOrDefault("LLMHIVE_OPERATOR_URL", "http://localhost:8000"),
		ServerPort:          getEnvInt("LLMHIVE_PORT", 8000),
		HealthCheckInterval: getEnvInt("LLMHIVE_HEALTH_CHECK_INTERVAL", 30),
		HealthCheckTimeout:  getEnvInt("LLMHIVE_HEALTH_CHECK_TIMEOUT", 5),
		PollInterval:        getEnvInt("LLMHIVE_POLL_INTERVAL", 2),
		Pricing: Pricing{
			PricePerToken: getEnvFloat("LLMHIVE_PRICE_PER_TOKEN", 0.0001),
		},
		Database: Database{
			URL: getEnvOrDefault("LLMHIVE_DATABASE_URL", "data/llmhive.db"),
		},
	}
}

// Load reads the config file at path over the defaults. An empty path means
// DefaultPath, and a missing file at the default path is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.ServerPort < 1 || c.ServerPort > 65535 {
		return ErrInvalidPort
	}
	if c.HealthCheckInterval < 1 {
		return ErrInvalidHealthInterval
	}
	if c.HealthCheckTimeout < 1 {
		return ErrInvalidHealthTimeout
	}
	if c.Pricing.PricePerToken < 0 {
		return ErrInvalidPrice
	}
	if c.Database.URL == "" {
		return ErrMissingDatabaseURL
	}
	return nil
}

// HealthInterval returns the liveness scan period as a duration.
func (c Config) HealthInterval() time.Duration {
	return time.Duration(c.HealthCheckInterval) * time.Second
}

// HealthTimeout returns the probe timeout as a duration.
func (c Config) HealthTimeout() time.Duration {
	return time.Duration(c.HealthCheckTimeout) * time.Second
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as an int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns the environment variable as a float64 or a default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
