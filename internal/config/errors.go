package config

import "errors"

var (
	// ErrInvalidPort indicates the port number is out of valid range
	ErrInvalidPort = errors.New("server_port must be between 1 and 65535")

	// ErrInvalidHealthInterval indicates the liveness scan period is too short
	ErrInvalidHealthInterval = errors.New("health_check_interval must be at least 1 second")

	// ErrInvalidHealthTimeout indicates the probe timeout is too short
	ErrInvalidHealthTimeout = errors.New("health_check_timeout must be at least 1 second")

	// ErrInvalidPrice indicates a negative per-token price
	ErrInvalidPrice = errors.New("price_per_token must not be negative")

	// ErrMissingDatabaseURL indicates the ledger location is not set
	ErrMissingDatabaseURL = errors.New("database url is required")
)
