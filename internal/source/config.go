// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package source

import (
	"fmt"
	"time"
)

// Config holds sensor-cloud client configuration.
type Config struct {
	// BaseURL is the API root of the sensor cloud (e.g. "https://api.example.io").
	BaseURL string

	// LoginURL is the web-dashboard login endpoint that issues the session
	// JWT carrying the API bearer token.
	LoginURL string

	// Username and Password authenticate the web login.
	Username string
	Password string

	// AggregateView is the master aggregation view identifier the dashboard
	// data endpoint is mounted under ("{BaseURL}/share/{AggregateView}/").
	AggregateView string

	// DeviceRecType is the packed device record type used for cluster
	// enumeration during location discovery.
	DeviceRecType string

	// DeviceClusterID identifies the device cluster to enumerate.
	DeviceClusterID string

	// TokenCacheFile is an optional path for persisting the bearer token
	// across restarts. Empty disables on-disk caching.
	TokenCacheFile string

	// RefreshMargin is how long before expiry the token is refreshed.
	RefreshMargin time.Duration

	// RequestTimeout bounds each HTTP call (connect + read).
	RequestTimeout time.Duration

	// MaxRetries is the number of attempts for transient upstream failures.
	MaxRetries int

	// RetryBaseDelay is the initial backoff delay, doubled per attempt.
	RetryBaseDelay time.Duration

	// RateLimit is the sustained request rate against the upstream API in
	// requests per second. Zero disables client-side rate limiting.
	RateLimit float64

	// RateBurst is the rate limiter burst size.
	RateBurst int

	// PageSize is the records-per-page hint sent to the aggregation
	// endpoint. The upstream caps this at 999.
	PageSize int
}

// DefaultConfig returns a production-ready configuration.
// Credentials and upstream identifiers must still be provided.
func DefaultConfig() *Config {
	return &Config{
		RefreshMargin:  5 * time.Minute,
		RequestTimeout: 30 * time.Second,
		MaxRetries:     3,
		RetryBaseDelay: 1 * time.Second,
		RateLimit:      5,
		RateBurst:      5,
		PageSize:       999,
	}
}

// Validate checks configuration for correctness.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return &ConfigError{Field: "BaseURL", Message: "sensor-cloud API URL is required"}
	}
	if c.LoginURL == "" {
		return &ConfigError{Field: "LoginURL", Message: "web-login URL is required"}
	}
	if c.Username == "" || c.Password == "" {
		return &ConfigError{Field: "Username", Message: "login credentials are required"}
	}
	if c.AggregateView == "" {
		return &ConfigError{Field: "AggregateView", Message: "aggregation view identifier is required"}
	}
	if c.DeviceRecType == "" {
		return &ConfigError{Field: "DeviceRecType", Message: "device record type is required for discovery"}
	}
	if c.DeviceClusterID == "" {
		return &ConfigError{Field: "DeviceClusterID", Message: "device cluster ID is required for discovery"}
	}
	if c.RefreshMargin <= 0 {
		return &ConfigError{Field: "RefreshMargin", Message: "must be positive"}
	}
	if c.RequestTimeout < time.Second {
		return &ConfigError{Field: "RequestTimeout", Message: "must be at least 1 second"}
	}
	if c.MaxRetries < 1 {
		return &ConfigError{Field: "MaxRetries", Message: "must be at least 1"}
	}
	if c.RetryBaseDelay <= 0 {
		return &ConfigError{Field: "RetryBaseDelay", Message: "must be positive"}
	}
	if c.RateLimit < 0 {
		return &ConfigError{Field: "RateLimit", Message: "cannot be negative"}
	}
	if c.PageSize < 1 || c.PageSize > maxPageSize {
		return &ConfigError{Field: "PageSize", Message: fmt.Sprintf("must be between 1 and %d", maxPageSize)}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("source config error: %s: %s", e.Field, e.Message)
}
