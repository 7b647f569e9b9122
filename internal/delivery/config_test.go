// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package delivery

import (
	"errors"
	"testing"
	"time"
)

func TestDestinationConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     DestinationConfig
		wantErr bool
	}{
		{"valid nats", DestinationConfig{ID: "primary", URL: "nats://localhost:4222"}, false},
		{"valid tls", DestinationConfig{ID: "primary", URL: "tls://broker.example.com:4222"}, false},
		{"missing id", DestinationConfig{URL: "nats://localhost:4222"}, true},
		{"missing url", DestinationConfig{ID: "primary"}, true},
		{"wrong scheme", DestinationConfig{ID: "primary", URL: "http://localhost:4222"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestDestinationSubject(t *testing.T) {
	event := &OccupancyEvent{StreamType: StreamTypePeopleCounter}

	plain := DestinationConfig{ID: "a", URL: "nats://localhost:4222"}
	if got := plain.Subject(event); got != "occupancy.people-counter" {
		t.Errorf("expected default subject, got %s", got)
	}

	prefixed := DestinationConfig{ID: "b", URL: "nats://localhost:4222", SubjectPrefix: "metrics"}
	if got := prefixed.Subject(event); got != "metrics.people-counter" {
		t.Errorf("expected prefixed subject, got %s", got)
	}
}

func TestDefaultPublisherConfig(t *testing.T) {
	cfg := DefaultPublisherConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	if !cfg.TrackMsgID {
		t.Error("deduplication must be on by default")
	}
	if cfg.MaxReconnects != -1 {
		t.Errorf("expected unlimited reconnects, got %d", cfg.MaxReconnects)
	}
}

func TestPublisherConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*PublisherConfig)
		wantErr bool
	}{
		{"default valid", func(c *PublisherConfig) {}, false},
		{"zero connect timeout", func(c *PublisherConfig) { c.ConnectTimeout = 0 }, true},
		{"negative retries", func(c *PublisherConfig) { c.PublishRetries = -1 }, true},
		{"zero retries ok", func(c *PublisherConfig) { c.PublishRetries = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultPublisherConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
		})
	}
}

func TestBatchConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     BatchConfig
		wantErr bool
	}{
		{"default valid", DefaultBatchConfig(), false},
		{"zero events", BatchConfig{MaxEvents: 0, MaxBytes: 1024}, true},
		{"zero bytes", BatchConfig{MaxEvents: 10, MaxBytes: 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
		})
	}
}

func TestStreamConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*StreamConfig)
		wantErr bool
	}{
		{"default valid", func(c *StreamConfig) {}, false},
		{"empty name", func(c *StreamConfig) { c.Name = "" }, true},
		{"no subjects", func(c *StreamConfig) { c.Subjects = nil }, true},
		{"zero duplicate window", func(c *StreamConfig) { c.Duplicates = 0 }, true},
		{"zero replicas", func(c *StreamConfig) { c.Replicas = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultStreamConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
		})
	}
}

func TestDefaultStreamConfigCoversCatchUp(t *testing.T) {
	cfg := DefaultStreamConfig()
	// The duplicate window must cover the default maximum catch-up span,
	// otherwise a re-delivered backfill produces duplicates downstream.
	if cfg.Duplicates < 24*time.Hour {
		t.Errorf("duplicate window %s does not cover a 24h catch-up", cfg.Duplicates)
	}
}

func TestServerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServerConfig
		wantErr bool
	}{
		{"disabled ignores fields", ServerConfig{Enabled: false}, false},
		{"enabled valid", ServerConfig{Enabled: true, Host: "127.0.0.1", Port: 4222, StoreDir: "/tmp/nats"}, false},
		{"enabled bad port", ServerConfig{Enabled: true, Port: 0, StoreDir: "/tmp/nats"}, true},
		{"enabled port too high", ServerConfig{Enabled: true, Port: 70000, StoreDir: "/tmp/nats"}, true},
		{"enabled missing store dir", ServerConfig{Enabled: true, Port: 4222}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
		})
	}
}
