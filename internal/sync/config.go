// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package sync

import (
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/census/internal/delivery"
	"github.com/tomtom215/census/internal/source"
)

// CommitPolicy decides when delivery outcomes allow the watermark to
// advance.
type CommitPolicy string

const (
	// PolicyAll requires every destination to accept before commit.
	PolicyAll CommitPolicy = "all"

	// PolicyAny requires at least one destination to accept before commit.
	PolicyAny CommitPolicy = "any"
)

// Satisfied reports whether the outcomes meet the policy.
func (p CommitPolicy) Satisfied(outcomes []delivery.Outcome) bool {
	if p == PolicyAny {
		return delivery.AnyAccepted(outcomes)
	}
	return delivery.AllAccepted(outcomes)
}

// Stream defaults. Interval and gap cadence follow the upstream sensor
// reporting rhythm.
const (
	defaultInterval         = 5 * time.Minute
	defaultLookback         = 24 * time.Hour
	defaultMaxCatchUp       = 24 * time.Hour
	defaultGapInterval      = 12 * time.Minute
	defaultFetchParallelism = 3
)

// StreamConfig describes one independently scheduled sync stream.
type StreamConfig struct {
	// ID is the stream identifier. It becomes the StreamType on every
	// normalized event and a NATS subject token, so it must be token-safe.
	ID string

	// RecType is the upstream record type for the aggregation view.
	RecType string

	// ViewID is the upstream dashboard view identifier.
	ViewID string

	// DataContext is the structured filter sent as one JSON string.
	DataContext []string

	// Fields populate the field1..field6 projection slots.
	Fields []string

	// Extra carries view-specific parameters (category, metric, ownerOrg).
	Extra map[string]string

	// IdentityFilter selects locations whose owner matches (case-insensitive
	// substring).
	IdentityFilter string

	// StripLocationPrefix is removed from location names before querying
	// views that do not carry the tenant prefix. Empty disables stripping.
	StripLocationPrefix string

	// Interval is the tick period for this stream.
	Interval time.Duration

	// Lookback positions the watermark on a stream's very first run.
	Lookback time.Duration

	// MaxCatchUp caps one window's span; the remainder runs next tick.
	MaxCatchUp time.Duration

	// CommitPolicy decides watermark advancement from delivery outcomes.
	CommitPolicy CommitPolicy

	// GapInterval is the expected cadence between consecutive events from
	// one location. Gaps beyond 1.5x this are logged, never fatal.
	GapInterval time.Duration

	// FetchParallelism bounds concurrent per-location fetches.
	FetchParallelism int
}

// ApplyDefaults fills unset optional fields.
func (c *StreamConfig) ApplyDefaults() {
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.Lookback <= 0 {
		c.Lookback = defaultLookback
	}
	if c.MaxCatchUp <= 0 {
		c.MaxCatchUp = defaultMaxCatchUp
	}
	if c.CommitPolicy == "" {
		c.CommitPolicy = PolicyAll
	}
	if c.GapInterval <= 0 {
		c.GapInterval = defaultGapInterval
	}
	if c.FetchParallelism <= 0 {
		c.FetchParallelism = defaultFetchParallelism
	}
}

// Validate checks the stream configuration.
func (c *StreamConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: stream id is required", ErrInvalidStreamConfig)
	}
	if strings.ContainsAny(c.ID, " .*>\t") {
		return fmt.Errorf("%w: stream id %q contains characters not allowed in a subject token", ErrInvalidStreamConfig, c.ID)
	}
	if c.RecType == "" {
		return fmt.Errorf("%w: stream %s: rec type is required", ErrInvalidStreamConfig, c.ID)
	}
	if c.ViewID == "" {
		return fmt.Errorf("%w: stream %s: view id is required", ErrInvalidStreamConfig, c.ID)
	}
	if c.CommitPolicy != PolicyAll && c.CommitPolicy != PolicyAny {
		return fmt.Errorf("%w: stream %s: commit policy must be %q or %q", ErrInvalidStreamConfig, c.ID, PolicyAll, PolicyAny)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("%w: stream %s: interval must be positive", ErrInvalidStreamConfig, c.ID)
	}
	if c.MaxCatchUp < c.Interval {
		return fmt.Errorf("%w: stream %s: max catch-up must cover at least one interval", ErrInvalidStreamConfig, c.ID)
	}
	return nil
}

// Query builds the upstream aggregation query for this stream.
func (c *StreamConfig) Query() source.Query {
	return source.Query{
		StreamID:    c.ID,
		RecType:     c.RecType,
		ViewID:      c.ViewID,
		DataContext: c.DataContext,
		Fields:      c.Fields,
		Extra:       c.Extra,
	}
}

// FetchName returns the location name used in the upstream query,
// applying the prefix-strip rule for views without the tenant prefix.
func (c *StreamConfig) FetchName(displayName string) string {
	if c.StripLocationPrefix == "" {
		return displayName
	}
	return strings.TrimSpace(strings.TrimPrefix(displayName, c.StripLocationPrefix))
}
