// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/census/internal/validation"
)

// normalize applies derived settings before validation. Load calls it
// after unmarshaling; tests building a Config by hand call it directly.
func (c *Config) normalize() {
	// An enabled embedded server with no configured destinations gets an
	// implicit local destination, so single-node deployments need zero
	// delivery configuration.
	if c.Delivery.Embedded.Enabled && len(c.Delivery.Destinations) == 0 {
		c.Delivery.Destinations = append(c.Delivery.Destinations, DestinationConfig{
			ID:  "local",
			URL: fmt.Sprintf("nats://%s:%d", c.Delivery.Embedded.Host, c.Delivery.Embedded.Port),
		})
	}

	// Commit policy is matched exactly downstream.
	for i := range c.Streams {
		c.Streams[i].CommitPolicy = strings.ToLower(strings.TrimSpace(c.Streams[i].CommitPolicy))
	}
}

// Validate checks the full configuration: struct tags first, then URL
// shapes, then the component-level rules via the mapped config types, and
// finally the cross-section rules no single component can see.
func (c *Config) Validate() error {
	if verr := validation.ValidateStruct(c); verr != nil {
		return fmt.Errorf("config: %w", verr)
	}

	if err := validateHTTPURL(c.Source.BaseURL, "source.base_url"); err != nil {
		return err
	}
	if err := validateHTTPURL(c.Source.LoginURL, "source.login_url"); err != nil {
		return err
	}

	if err := c.validateComponents(); err != nil {
		return err
	}

	return c.validateCrossSection()
}

// validateComponents delegates to the component config types so the rules
// live once, next to the code that depends on them.
func (c *Config) validateComponents() error {
	if err := c.SourceConfig().Validate(); err != nil {
		return err
	}

	stateCfg := c.StateConfig()
	if err := stateCfg.Validate(); err != nil {
		return err
	}

	pubCfg := c.PublisherConfig()
	if err := pubCfg.Validate(); err != nil {
		return err
	}

	batchCfg := c.BatchConfig()
	if err := batchCfg.Validate(); err != nil {
		return err
	}

	streamCfg := c.JetStreamConfig()
	if err := streamCfg.Validate(); err != nil {
		return err
	}

	serverCfg := c.EmbeddedServerConfig()
	if err := serverCfg.Validate(); err != nil {
		return err
	}

	for _, dest := range c.DestinationConfigs() {
		if err := validateNATSURL(dest.URL, fmt.Sprintf("destination %s url", dest.ID)); err != nil {
			return err
		}
		if err := dest.Validate(); err != nil {
			return err
		}
	}

	for _, sc := range c.StreamConfigs() {
		if err := sc.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// validateCrossSection enforces rules spanning config sections.
func (c *Config) validateCrossSection() error {
	if len(c.Delivery.Destinations) == 0 {
		return fmt.Errorf("at least one delivery destination is required (or enable the embedded server)")
	}

	destIDs := make(map[string]struct{}, len(c.Delivery.Destinations))
	for _, d := range c.Delivery.Destinations {
		if _, dup := destIDs[d.ID]; dup {
			return fmt.Errorf("duplicate destination id %q", d.ID)
		}
		destIDs[d.ID] = struct{}{}
	}

	streamIDs := make(map[string]struct{}, len(c.Streams))
	for _, s := range c.Streams {
		if _, dup := streamIDs[s.ID]; dup {
			return fmt.Errorf("duplicate stream id %q", s.ID)
		}
		streamIDs[s.ID] = struct{}{}
	}

	// Watermark replays rely on JetStream deduplication. The duplicate
	// window must cover the largest catch-up span or a crash-replay
	// publishes events the stream no longer recognizes as duplicates.
	if c.Delivery.Publisher.TrackMsgID {
		var maxCatchUp time.Duration
		for _, sc := range c.StreamConfigs() {
			if sc.MaxCatchUp > maxCatchUp {
				maxCatchUp = sc.MaxCatchUp
			}
		}
		if c.Delivery.Stream.Duplicates < maxCatchUp {
			return fmt.Errorf(
				"delivery.stream.duplicates (%s) must be at least the largest stream max_catch_up (%s)",
				c.Delivery.Stream.Duplicates, maxCatchUp,
			)
		}
	}

	return nil
}
