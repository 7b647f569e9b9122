// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package config

import (
	"github.com/tomtom215/census/internal/api"
	"github.com/tomtom215/census/internal/delivery"
	"github.com/tomtom215/census/internal/logging"
	"github.com/tomtom215/census/internal/source"
	"github.com/tomtom215/census/internal/state"
	intsync "github.com/tomtom215/census/internal/sync"
)

// The constructors below map the koanf DTO sections onto the config types
// owned by each component package. The DTOs exist so the components keep
// plain structs with no loader tags; everything koanf-specific stays in
// this package.

// SourceConfig builds the sensor-cloud client configuration.
func (c *Config) SourceConfig() *source.Config {
	return &source.Config{
		BaseURL:         c.Source.BaseURL,
		LoginURL:        c.Source.LoginURL,
		Username:        c.Source.Username,
		Password:        c.Source.Password,
		AggregateView:   c.Source.AggregateView,
		DeviceRecType:   c.Source.DeviceRecType,
		DeviceClusterID: c.Source.DeviceClusterID,
		TokenCacheFile:  c.Source.TokenCacheFile,
		RefreshMargin:   c.Source.RefreshMargin,
		RequestTimeout:  c.Source.RequestTimeout,
		MaxRetries:      c.Source.MaxRetries,
		RetryBaseDelay:  c.Source.RetryBaseDelay,
		RateLimit:       c.Source.RateLimit,
		RateBurst:       c.Source.RateBurst,
		PageSize:        c.Source.PageSize,
	}
}

// StateConfig builds the BadgerDB watermark store configuration.
func (c *Config) StateConfig() state.Config {
	return state.Config{
		Path:             c.State.Path,
		SyncWrites:       c.State.SyncWrites,
		Compression:      c.State.Compression,
		GCRatio:          c.State.GCRatio,
		CloseTimeout:     c.State.CloseTimeout,
		CompactInterval:  c.State.CompactInterval,
		SeenLimit:        c.State.SeenLimit,
		SeenTrimTo:       c.State.SeenTrimTo,
		MemTableSize:     c.State.MemTableSize,
		ValueLogFileSize: c.State.ValueLogFileSize,
		NumCompactors:    c.State.NumCompactors,
		NumMemtables:     c.State.NumMemtables,
		BlockCacheSize:   c.State.BlockCacheSize,
		IndexCacheSize:   c.State.IndexCacheSize,
	}
}

// StreamConfigs builds the per-stream sync configurations with package
// defaults applied, so zero-valued pacing fields are already resolved.
func (c *Config) StreamConfigs() []intsync.StreamConfig {
	out := make([]intsync.StreamConfig, 0, len(c.Streams))
	for _, s := range c.Streams {
		sc := intsync.StreamConfig{
			ID:                  s.ID,
			RecType:             s.RecType,
			ViewID:              s.ViewID,
			DataContext:         s.DataContext,
			Fields:              s.Fields,
			Extra:               s.Extra,
			IdentityFilter:      s.IdentityFilter,
			StripLocationPrefix: s.StripLocationPrefix,
			Interval:            s.Interval,
			Lookback:            s.Lookback,
			MaxCatchUp:          s.MaxCatchUp,
			CommitPolicy:        intsync.CommitPolicy(s.CommitPolicy),
			GapInterval:         s.GapInterval,
			FetchParallelism:    s.FetchParallelism,
		}
		sc.ApplyDefaults()
		out = append(out, sc)
	}
	return out
}

// DestinationConfigs builds the fan-out destination list.
func (c *Config) DestinationConfigs() []delivery.DestinationConfig {
	out := make([]delivery.DestinationConfig, 0, len(c.Delivery.Destinations))
	for _, d := range c.Delivery.Destinations {
		out = append(out, delivery.DestinationConfig{
			ID:              d.ID,
			URL:             d.URL,
			CredentialsFile: d.CredentialsFile,
			SubjectPrefix:   d.SubjectPrefix,
		})
	}
	return out
}

// PublisherConfig builds the shared NATS publisher configuration.
func (c *Config) PublisherConfig() delivery.PublisherConfig {
	return delivery.PublisherConfig{
		ConnectTimeout: c.Delivery.Publisher.ConnectTimeout,
		ReconnectWait:  c.Delivery.Publisher.ReconnectWait,
		MaxReconnects:  c.Delivery.Publisher.MaxReconnects,
		PublishRetries: c.Delivery.Publisher.PublishRetries,
		RetryWait:      c.Delivery.Publisher.RetryWait,
		TrackMsgID:     c.Delivery.Publisher.TrackMsgID,
	}
}

// BatchConfig builds the publish batch bounds.
func (c *Config) BatchConfig() delivery.BatchConfig {
	return delivery.BatchConfig{
		MaxEvents: c.Delivery.Batch.MaxEvents,
		MaxBytes:  c.Delivery.Batch.MaxBytes,
	}
}

// JetStreamConfig builds the stream definition provisioned on each
// destination.
func (c *Config) JetStreamConfig() delivery.StreamConfig {
	return delivery.StreamConfig{
		Name:       c.Delivery.Stream.Name,
		Subjects:   c.Delivery.Stream.Subjects,
		MaxAge:     c.Delivery.Stream.MaxAge,
		Duplicates: c.Delivery.Stream.Duplicates,
		Replicas:   c.Delivery.Stream.Replicas,
	}
}

// EmbeddedServerConfig builds the embedded NATS server configuration.
func (c *Config) EmbeddedServerConfig() delivery.ServerConfig {
	return delivery.ServerConfig{
		Enabled:    c.Delivery.Embedded.Enabled,
		Host:       c.Delivery.Embedded.Host,
		Port:       c.Delivery.Embedded.Port,
		StoreDir:   c.Delivery.Embedded.StoreDir,
		MaxPayload: c.Delivery.Embedded.MaxPayload,
	}
}

// APIConfig builds the operational HTTP server configuration.
func (c *Config) APIConfig() api.Config {
	return api.Config{
		ListenAddr:        c.Ops.ListenAddr,
		ReadTimeout:       c.Ops.ReadTimeout,
		WriteTimeout:      c.Ops.WriteTimeout,
		IdleTimeout:       c.Ops.IdleTimeout,
		ShutdownTimeout:   c.Ops.ShutdownTimeout,
		RateLimitRequests: c.Ops.RateLimitRequests,
		RateLimitWindow:   c.Ops.RateLimitWindow,
		RateLimitDisabled: c.Ops.RateLimitDisabled,
	}
}

// LoggerConfig builds the zerolog configuration. Timestamps are always
// on outside of tests; Output nil falls back to stderr.
func (c *Config) LoggerConfig() logging.Config {
	return logging.Config{
		Level:     c.Logging.Level,
		Format:    c.Logging.Format,
		Caller:    c.Logging.Caller,
		Timestamp: true,
	}
}
