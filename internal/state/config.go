// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package state

import "time"

// Config holds state store configuration.
//
// The store provides durability guarantees for sync watermarks. Watermarks
// are committed to BadgerDB (ACID, fsync) only after delivery succeeds, so
// a crash between fetch and delivery replays the same window on restart.
type Config struct {
	// Path is the directory where BadgerDB stores its files.
	// Should be on a durable filesystem (not tmpfs).
	Path string

	// SyncWrites forces fsync after every write for maximum durability.
	// Set to false for higher throughput but risk of losing the most
	// recent commit on power failure.
	SyncWrites bool

	// Compression enables Snappy compression for stored values.
	// Default: true
	Compression bool

	// GCRatio is the ratio for value log garbage collection.
	// Lower values reclaim more space but use more CPU.
	// Default: 0.5
	GCRatio float64

	// CloseTimeout is the maximum time to wait for graceful shutdown.
	// If the database doesn't close within this time, Close() returns an error.
	// Default: 30s
	CloseTimeout time.Duration

	// CompactInterval is the time between compaction runs.
	// Compaction trims the seen-event sets and runs value log GC.
	CompactInterval time.Duration

	// SeenLimit is the maximum number of seen-event keys kept per stream.
	// When the set grows beyond this limit, compaction trims it.
	// Default: 1000
	SeenLimit int

	// SeenTrimTo is the number of seen-event keys retained after a trim,
	// keeping the most recent entries. Default: 500
	SeenTrimTo int

	// BadgerDB tuning options
	// MemTableSize is the size of each memtable in bytes.
	MemTableSize int64

	// ValueLogFileSize is the size of each value log file in bytes.
	ValueLogFileSize int64

	// NumCompactors is the number of BadgerDB compaction workers.
	NumCompactors int

	// NumMemtables is the number of memtables to keep in memory.
	// Default: 5 (BadgerDB default)
	NumMemtables int

	// BlockCacheSize is the size of the block cache in bytes.
	// Default: 64MB
	BlockCacheSize int64

	// IndexCacheSize is the size of the index cache in bytes.
	// Default: 0 (disabled, uses block cache)
	IndexCacheSize int64
}

// DefaultConfig returns a Config with defaults that prioritize durability
// over performance.
func DefaultConfig() Config {
	return Config{
		Path:             "/data/state",
		SyncWrites:       true,
		Compression:      true,
		GCRatio:          0.5,
		CloseTimeout:     30 * time.Second,
		CompactInterval:  1 * time.Hour,
		SeenLimit:        1000,
		SeenTrimTo:       500,
		MemTableSize:     16 * 1024 * 1024,
		ValueLogFileSize: 64 * 1024 * 1024,
		NumCompactors:    2,
		NumMemtables:     5,
		BlockCacheSize:   64 * 1024 * 1024,
		IndexCacheSize:   0,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Path == "" {
		return &ConfigError{Field: "Path", Message: "state path is required"}
	}

	if c.CompactInterval < time.Minute {
		return &ConfigError{Field: "CompactInterval", Message: "must be at least 1 minute"}
	}

	if c.SeenLimit < 1 {
		return &ConfigError{Field: "SeenLimit", Message: "must be at least 1"}
	}

	if c.SeenTrimTo < 0 || c.SeenTrimTo > c.SeenLimit {
		return &ConfigError{Field: "SeenTrimTo", Message: "must be between 0 and SeenLimit"}
	}

	if c.GCRatio <= 0 || c.GCRatio >= 1 {
		return &ConfigError{Field: "GCRatio", Message: "must be between 0 and 1 exclusive"}
	}

	if c.MemTableSize < 1024*1024 { // 1MB minimum
		return &ConfigError{Field: "MemTableSize", Message: "must be at least 1MB"}
	}

	if c.ValueLogFileSize < 1024*1024 { // 1MB minimum
		return &ConfigError{Field: "ValueLogFileSize", Message: "must be at least 1MB"}
	}

	if c.NumCompactors < 2 {
		return &ConfigError{Field: "NumCompactors", Message: "must be at least 2 (BadgerDB requirement)"}
	}

	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "state config error: " + e.Field + ": " + e.Message
}
