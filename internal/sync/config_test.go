// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package sync

import (
	"errors"
	"testing"
	"time"

	"github.com/tomtom215/census/internal/delivery"
)

func validStreamConfig() StreamConfig {
	cfg := StreamConfig{
		ID:             "people-counter",
		RecType:        "io.census.occupancy.agg",
		ViewID:         "view-1234",
		DataContext:    []string{"people"},
		Fields:         []string{"avg", "max"},
		IdentityFilter: "acme",
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestStreamConfigApplyDefaults(t *testing.T) {
	cfg := StreamConfig{ID: "s", RecType: "r", ViewID: "v"}
	cfg.ApplyDefaults()

	if cfg.Interval != defaultInterval {
		t.Errorf("Interval = %v, want %v", cfg.Interval, defaultInterval)
	}
	if cfg.Lookback != defaultLookback {
		t.Errorf("Lookback = %v, want %v", cfg.Lookback, defaultLookback)
	}
	if cfg.MaxCatchUp != defaultMaxCatchUp {
		t.Errorf("MaxCatchUp = %v, want %v", cfg.MaxCatchUp, defaultMaxCatchUp)
	}
	if cfg.CommitPolicy != PolicyAll {
		t.Errorf("CommitPolicy = %q, want %q", cfg.CommitPolicy, PolicyAll)
	}
	if cfg.GapInterval != defaultGapInterval {
		t.Errorf("GapInterval = %v, want %v", cfg.GapInterval, defaultGapInterval)
	}
	if cfg.FetchParallelism != defaultFetchParallelism {
		t.Errorf("FetchParallelism = %d, want %d", cfg.FetchParallelism, defaultFetchParallelism)
	}
}

func TestStreamConfigApplyDefaultsPreservesSet(t *testing.T) {
	cfg := StreamConfig{
		ID:           "s",
		Interval:     time.Minute,
		CommitPolicy: PolicyAny,
	}
	cfg.ApplyDefaults()

	if cfg.Interval != time.Minute {
		t.Errorf("Interval = %v, want 1m", cfg.Interval)
	}
	if cfg.CommitPolicy != PolicyAny {
		t.Errorf("CommitPolicy = %q, want %q", cfg.CommitPolicy, PolicyAny)
	}
}

func TestStreamConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*StreamConfig)
		wantErr bool
	}{
		{"valid", func(c *StreamConfig) {}, false},
		{"missing id", func(c *StreamConfig) { c.ID = "" }, true},
		{"id with space", func(c *StreamConfig) { c.ID = "people counter" }, true},
		{"id with dot", func(c *StreamConfig) { c.ID = "people.counter" }, true},
		{"id with wildcard", func(c *StreamConfig) { c.ID = "people*" }, true},
		{"id with full wildcard", func(c *StreamConfig) { c.ID = "people>" }, true},
		{"missing rec type", func(c *StreamConfig) { c.RecType = "" }, true},
		{"missing view id", func(c *StreamConfig) { c.ViewID = "" }, true},
		{"bad policy", func(c *StreamConfig) { c.CommitPolicy = "most" }, true},
		{"zero interval", func(c *StreamConfig) { c.Interval = 0 }, true},
		{"catch-up under interval", func(c *StreamConfig) {
			c.Interval = time.Hour
			c.MaxCatchUp = time.Minute
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validStreamConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidStreamConfig) {
					t.Errorf("Validate() = %v, want ErrInvalidStreamConfig", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
		})
	}
}

func TestCommitPolicySatisfied(t *testing.T) {
	ok := delivery.Outcome{DestinationID: "a", Accepted: true}
	bad := delivery.Outcome{DestinationID: "b", Accepted: false, Err: errors.New("down")}

	tests := []struct {
		name     string
		policy   CommitPolicy
		outcomes []delivery.Outcome
		want     bool
	}{
		{"all with every accept", PolicyAll, []delivery.Outcome{ok, ok}, true},
		{"all with one failure", PolicyAll, []delivery.Outcome{ok, bad}, false},
		{"all with every failure", PolicyAll, []delivery.Outcome{bad, bad}, false},
		{"any with one accept", PolicyAny, []delivery.Outcome{ok, bad}, true},
		{"any with every failure", PolicyAny, []delivery.Outcome{bad, bad}, false},
		{"any with every accept", PolicyAny, []delivery.Outcome{ok, ok}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.Satisfied(tt.outcomes); got != tt.want {
				t.Errorf("Satisfied() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStreamConfigQuery(t *testing.T) {
	cfg := validStreamConfig()
	cfg.Extra = map[string]string{"category": "hourly"}

	q := cfg.Query()
	if q.StreamID != cfg.ID {
		t.Errorf("StreamID = %q, want %q", q.StreamID, cfg.ID)
	}
	if q.RecType != cfg.RecType {
		t.Errorf("RecType = %q, want %q", q.RecType, cfg.RecType)
	}
	if q.ViewID != cfg.ViewID {
		t.Errorf("ViewID = %q, want %q", q.ViewID, cfg.ViewID)
	}
	if len(q.DataContext) != 1 || q.DataContext[0] != "people" {
		t.Errorf("DataContext = %v, want [people]", q.DataContext)
	}
	if q.Extra["category"] != "hourly" {
		t.Errorf("Extra = %v, want category=hourly", q.Extra)
	}
}

func TestFetchName(t *testing.T) {
	tests := []struct {
		name        string
		strip       string
		displayName string
		want        string
	}{
		{"no strip rule", "", "ACME North Tower", "ACME North Tower"},
		{"prefix stripped", "ACME ", "ACME North Tower", "North Tower"},
		{"prefix with trailing space", "ACME", "ACME North Tower", "North Tower"},
		{"name without prefix", "ACME ", "South Annex", "South Annex"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validStreamConfig()
			cfg.StripLocationPrefix = tt.strip

			if got := cfg.FetchName(tt.displayName); got != tt.want {
				t.Errorf("FetchName(%q) = %q, want %q", tt.displayName, got, tt.want)
			}
		})
	}
}
