// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package config

import (
	"testing"
	"time"

	intsync "github.com/tomtom215/census/internal/sync"
)

func TestSourceConfigMapping(t *testing.T) {
	cfg := validConfig()
	cfg.Source.TokenCacheFile = "/var/lib/census/token.json"
	cfg.Source.RateLimit = 2.5

	sc := cfg.SourceConfig()

	if sc.BaseURL != "https://api.sensors.example" {
		t.Errorf("BaseURL = %s", sc.BaseURL)
	}
	if sc.DeviceClusterID != "cluster-main" {
		t.Errorf("DeviceClusterID = %s", sc.DeviceClusterID)
	}
	if sc.TokenCacheFile != "/var/lib/census/token.json" {
		t.Errorf("TokenCacheFile = %s", sc.TokenCacheFile)
	}
	if sc.RateLimit != 2.5 {
		t.Errorf("RateLimit = %f", sc.RateLimit)
	}
	if err := sc.Validate(); err != nil {
		t.Errorf("mapped source config should validate: %v", err)
	}
}

func TestStateConfigMapping(t *testing.T) {
	cfg := validConfig()
	cfg.State.Path = "/var/lib/census/state"
	cfg.State.SyncWrites = false
	cfg.State.BlockCacheSize = 128 * 1024 * 1024

	sc := cfg.StateConfig()

	if sc.Path != "/var/lib/census/state" {
		t.Errorf("Path = %s", sc.Path)
	}
	if sc.SyncWrites {
		t.Error("SyncWrites should be false")
	}
	if sc.BlockCacheSize != 128*1024*1024 {
		t.Errorf("BlockCacheSize = %d", sc.BlockCacheSize)
	}
	if err := sc.Validate(); err != nil {
		t.Errorf("mapped state config should validate: %v", err)
	}
}

func TestStreamConfigsAppliesDefaults(t *testing.T) {
	cfg := validConfig()

	streams := cfg.StreamConfigs()
	if len(streams) != 1 {
		t.Fatalf("expected 1 stream, got %d", len(streams))
	}

	sc := streams[0]
	if sc.Interval != 5*time.Minute {
		t.Errorf("Interval default = %s", sc.Interval)
	}
	if sc.Lookback != 24*time.Hour {
		t.Errorf("Lookback default = %s", sc.Lookback)
	}
	if sc.MaxCatchUp != 24*time.Hour {
		t.Errorf("MaxCatchUp default = %s", sc.MaxCatchUp)
	}
	if sc.CommitPolicy != intsync.PolicyAll {
		t.Errorf("CommitPolicy default = %s", sc.CommitPolicy)
	}
	if sc.GapInterval != 12*time.Minute {
		t.Errorf("GapInterval default = %s", sc.GapInterval)
	}
	if sc.FetchParallelism != 3 {
		t.Errorf("FetchParallelism default = %d", sc.FetchParallelism)
	}
}

func TestStreamConfigsCarriesAllFields(t *testing.T) {
	cfg := validConfig()
	cfg.Streams[0] = StreamConfig{
		ID:                  "meeting-rooms",
		RecType:             "rec-room",
		ViewID:              "view-rooms",
		DataContext:         []string{"building-a"},
		Fields:              []string{"ts", "count", "capacity"},
		Extra:               map[string]string{"granularity": "15m"},
		IdentityFilter:      "Meeting",
		StripLocationPrefix: "HQ-",
		Interval:            10 * time.Minute,
		Lookback:            6 * time.Hour,
		MaxCatchUp:          12 * time.Hour,
		CommitPolicy:        "any",
		GapInterval:         30 * time.Minute,
		FetchParallelism:    5,
	}

	sc := cfg.StreamConfigs()[0]

	if sc.ID != "meeting-rooms" || sc.RecType != "rec-room" || sc.ViewID != "view-rooms" {
		t.Errorf("identity fields lost: %+v", sc)
	}
	if len(sc.DataContext) != 1 || sc.DataContext[0] != "building-a" {
		t.Errorf("DataContext = %v", sc.DataContext)
	}
	if len(sc.Fields) != 3 {
		t.Errorf("Fields = %v", sc.Fields)
	}
	if sc.Extra["granularity"] != "15m" {
		t.Errorf("Extra = %v", sc.Extra)
	}
	if sc.IdentityFilter != "Meeting" || sc.StripLocationPrefix != "HQ-" {
		t.Errorf("filter fields lost: %+v", sc)
	}
	if sc.Interval != 10*time.Minute || sc.MaxCatchUp != 12*time.Hour {
		t.Errorf("pacing fields lost: %+v", sc)
	}
	if sc.CommitPolicy != intsync.PolicyAny {
		t.Errorf("CommitPolicy = %s", sc.CommitPolicy)
	}
	if sc.FetchParallelism != 5 {
		t.Errorf("FetchParallelism = %d", sc.FetchParallelism)
	}
}

func TestDestinationConfigsMapping(t *testing.T) {
	cfg := validConfig()
	cfg.Delivery.Destinations = []DestinationConfig{
		{ID: "primary", URL: "nats://a.example:4222", CredentialsFile: "/etc/census/a.creds"},
		{ID: "analytics", URL: "tls://b.example:4222", SubjectPrefix: "mirror"},
	}

	dests := cfg.DestinationConfigs()
	if len(dests) != 2 {
		t.Fatalf("expected 2 destinations, got %d", len(dests))
	}

	if dests[0].CredentialsFile != "/etc/census/a.creds" {
		t.Errorf("CredentialsFile = %s", dests[0].CredentialsFile)
	}
	if dests[1].SubjectPrefix != "mirror" {
		t.Errorf("SubjectPrefix = %s", dests[1].SubjectPrefix)
	}
	for _, d := range dests {
		if err := d.Validate(); err != nil {
			t.Errorf("mapped destination %s should validate: %v", d.ID, err)
		}
	}
}

func TestDeliveryMapping(t *testing.T) {
	cfg := validConfig()
	cfg.Delivery.Publisher.MaxReconnects = 10
	cfg.Delivery.Batch.MaxEvents = 512
	cfg.Delivery.Stream.Replicas = 3
	cfg.Delivery.Embedded.Enabled = true
	cfg.Delivery.Embedded.Port = 14222

	pub := cfg.PublisherConfig()
	if pub.MaxReconnects != 10 {
		t.Errorf("MaxReconnects = %d", pub.MaxReconnects)
	}
	if !pub.TrackMsgID {
		t.Error("TrackMsgID default lost")
	}

	batch := cfg.BatchConfig()
	if batch.MaxEvents != 512 || batch.MaxBytes != 1<<20 {
		t.Errorf("batch = %+v", batch)
	}

	js := cfg.JetStreamConfig()
	if js.Name != "CENSUS_EVENTS" || js.Replicas != 3 {
		t.Errorf("jetstream = %+v", js)
	}
	if len(js.Subjects) != 1 || js.Subjects[0] != "occupancy.>" {
		t.Errorf("subjects = %v", js.Subjects)
	}

	srv := cfg.EmbeddedServerConfig()
	if !srv.Enabled || srv.Port != 14222 || srv.Host != "127.0.0.1" {
		t.Errorf("server = %+v", srv)
	}
	if srv.MaxPayload != 8*1024*1024 {
		t.Errorf("MaxPayload = %d", srv.MaxPayload)
	}
}

func TestAPIConfigMapping(t *testing.T) {
	cfg := validConfig()
	cfg.Ops.ListenAddr = "127.0.0.1:9700"
	cfg.Ops.RateLimitDisabled = true

	ac := cfg.APIConfig()
	if ac.ListenAddr != "127.0.0.1:9700" {
		t.Errorf("ListenAddr = %s", ac.ListenAddr)
	}
	if !ac.RateLimitDisabled {
		t.Error("RateLimitDisabled lost")
	}
	if ac.ReadTimeout != 10*time.Second || ac.ShutdownTimeout != 10*time.Second {
		t.Errorf("timeouts = %+v", ac)
	}
}

func TestLoggerConfigMapping(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "console"
	cfg.Logging.Caller = true

	lc := cfg.LoggerConfig()
	if lc.Level != "debug" || lc.Format != "console" || !lc.Caller {
		t.Errorf("logger config = %+v", lc)
	}
	if !lc.Timestamp {
		t.Error("Timestamp should always be enabled from config")
	}
}
