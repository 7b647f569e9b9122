// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package delivery

import (
	"fmt"
	"strings"
	"time"
)

// DestinationConfig describes one NATS JetStream destination.
type DestinationConfig struct {
	// ID is the unique destination identifier used in logs, metrics, and
	// delivery outcomes.
	ID string

	// URL is the NATS server URL (nats:// or tls://).
	URL string

	// CredentialsFile is an optional path to a NATS credentials file.
	CredentialsFile string

	// SubjectPrefix overrides the default "occupancy" subject token for
	// this destination. Empty means use the default.
	SubjectPrefix string
}

// Validate checks the destination configuration.
func (c *DestinationConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: destination id is required", ErrInvalidConfig)
	}
	if c.URL == "" {
		return fmt.Errorf("%w: destination %s: url is required", ErrInvalidConfig, c.ID)
	}
	if !strings.HasPrefix(c.URL, "nats://") && !strings.HasPrefix(c.URL, "tls://") {
		return fmt.Errorf("%w: destination %s: url must start with nats:// or tls://", ErrInvalidConfig, c.ID)
	}
	return nil
}

// Subject returns the NATS subject for an event at this destination,
// applying the prefix override when one is set.
func (c *DestinationConfig) Subject(e *OccupancyEvent) string {
	if c.SubjectPrefix == "" {
		return e.Topic()
	}
	return c.SubjectPrefix + "." + e.StreamType
}

// PublisherConfig holds NATS connection and publish retry settings shared
// by all destinations.
type PublisherConfig struct {
	// ConnectTimeout bounds the initial connection attempt.
	ConnectTimeout time.Duration

	// ReconnectWait is the delay between reconnection attempts.
	ReconnectWait time.Duration

	// MaxReconnects caps reconnection attempts; -1 means unlimited.
	MaxReconnects int

	// PublishRetries is the per-message retry count inside the NATS client.
	PublishRetries int

	// RetryWait is the delay between per-message retries.
	RetryWait time.Duration

	// TrackMsgID enables broker-side deduplication via Nats-Msg-Id.
	TrackMsgID bool
}

// DefaultPublisherConfig returns production defaults.
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		ConnectTimeout: 5 * time.Second,
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
		PublishRetries: 3,
		RetryWait:      100 * time.Millisecond,
		TrackMsgID:     true,
	}
}

// Validate checks the publisher configuration.
func (c *PublisherConfig) Validate() error {
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("%w: connect timeout must be positive", ErrInvalidConfig)
	}
	if c.PublishRetries < 0 {
		return fmt.Errorf("%w: publish retries cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// BatchConfig bounds the sub-batches a delivery is split into.
type BatchConfig struct {
	// MaxEvents caps events per publish batch.
	MaxEvents int

	// MaxBytes caps the serialized size per publish batch. A single event
	// over this limit fails with ErrEventTooLarge.
	MaxBytes int
}

// DefaultBatchConfig returns production defaults.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		MaxEvents: 256,
		MaxBytes:  1 << 20, // 1 MiB
	}
}

// Validate checks the batch configuration.
func (c *BatchConfig) Validate() error {
	if c.MaxEvents <= 0 {
		return fmt.Errorf("%w: batch max events must be positive", ErrInvalidConfig)
	}
	if c.MaxBytes <= 0 {
		return fmt.Errorf("%w: batch max bytes must be positive", ErrInvalidConfig)
	}
	return nil
}

// StreamConfig describes the JetStream stream provisioned at each
// destination that opts into provisioning.
type StreamConfig struct {
	// Name is the JetStream stream name.
	Name string

	// Subjects are the subject filters bound to the stream.
	Subjects []string

	// MaxAge is the retention age for stored events.
	MaxAge time.Duration

	// Duplicates is the broker-side deduplication window. It must cover at
	// least the maximum catch-up span, otherwise a re-delivered backfill
	// window can produce duplicates downstream.
	Duplicates time.Duration

	// Replicas is the stream replication factor.
	Replicas int
}

// DefaultStreamConfig returns production defaults.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Name:       "CENSUS_EVENTS",
		Subjects:   []string{"occupancy.>"},
		MaxAge:     30 * 24 * time.Hour,
		Duplicates: 26 * time.Hour,
		Replicas:   1,
	}
}

// Validate checks the stream configuration.
func (c *StreamConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: stream name is required", ErrInvalidConfig)
	}
	if len(c.Subjects) == 0 {
		return fmt.Errorf("%w: stream needs at least one subject", ErrInvalidConfig)
	}
	if c.Duplicates <= 0 {
		return fmt.Errorf("%w: stream duplicate window must be positive", ErrInvalidConfig)
	}
	if c.Replicas < 1 {
		return fmt.Errorf("%w: stream replicas must be at least 1", ErrInvalidConfig)
	}
	return nil
}

// ServerConfig configures the embedded NATS server used for local
// development and self-contained deployments.
type ServerConfig struct {
	// Enabled starts the embedded server when true.
	Enabled bool

	// Host is the listen address.
	Host string

	// Port is the client port.
	Port int

	// StoreDir is the JetStream storage directory.
	StoreDir string

	// MaxPayload is the maximum message size in bytes.
	MaxPayload int32
}

// DefaultServerConfig returns development defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Enabled:    false,
		Host:       "127.0.0.1",
		Port:       4222,
		StoreDir:   "./data/nats",
		MaxPayload: 8 * 1024 * 1024,
	}
}

// Validate checks the server configuration.
func (c *ServerConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: server port must be between 1 and 65535", ErrInvalidConfig)
	}
	if c.StoreDir == "" {
		return fmt.Errorf("%w: server store dir is required", ErrInvalidConfig)
	}
	return nil
}
