package config

import "errors"

var (
	// ErrEmptyBackendURL is returned when no render backend URL is configured
	ErrEmptyBackendURL = errors.New("backend_url cannot be empty")
	// ErrInvalidRetryBudget is returned when the retry budget is negative
	ErrInvalidRetryBudget = errors.New("retry_budget cannot be negative")
	// ErrInvalidDomainTimeout is returned when the per-domain timeout is not positive
	ErrInvalidDomainTimeout = errors.New("domain_timeout must be greater than 0")
	// ErrInvalidFailureThreshold is returned when the circuit breaker threshold is not positive
	ErrInvalidFailureThreshold = errors.New("max_connection_failures must be greater than 0")
	// ErrEmptyDatabasePath is returned when database path is empty
	ErrEmptyDatabasePath = errors.New("database_path cannot be empty")
)
