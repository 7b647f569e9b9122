// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package testinfra

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/tomtom215/census/internal/delivery"
	"github.com/tomtom215/census/internal/source"
	"github.com/tomtom215/census/internal/state"
	intsync "github.com/tomtom215/census/internal/sync"
)

// newSourceClient builds a client stack against the fake.
func newSourceClient(sc *SensorCloud) (*source.Client, *source.Discovery) {
	cfg := sc.SourceConfig()
	client := source.NewClient(cfg, source.NewTokenCache(cfg))
	return client, source.NewDiscovery(client, cfg, nil)
}

func testQuery() source.Query {
	return source.Query{
		StreamID: "occupancy-sensor",
		RecType:  "rec-occupancy",
		ViewID:   "view-occ-5m",
		Fields:   []string{"time", "count"},
	}
}

func TestSensorCloudLoginIssuesSession(t *testing.T) {
	sc := NewSensorCloud(t)
	tokens := source.NewTokenCache(sc.SourceConfig())

	tok, err := tokens.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() failed: %v", err)
	}
	if tok != sc.AccessToken {
		t.Errorf("Token = %q, want %q", tok, sc.AccessToken)
	}

	// Second acquisition must come from the cache, not a fresh login.
	if _, err := tokens.Token(context.Background()); err != nil {
		t.Fatalf("Cached Token() failed: %v", err)
	}
	if got := sc.LoginCount(); got != 1 {
		t.Errorf("LoginCount = %d, want 1", got)
	}
}

func TestSensorCloudRejectsBadCredentials(t *testing.T) {
	sc := NewSensorCloud(t)
	cfg := sc.SourceConfig()
	cfg.Password = "not-the-password"

	_, err := source.NewTokenCache(cfg).Token(context.Background())
	if !errors.Is(err, source.ErrUnauthorized) {
		t.Fatalf("Token() error = %v, want ErrUnauthorized", err)
	}
	if got := sc.LoginCount(); got != 1 {
		t.Errorf("LoginCount = %d, want 1", got)
	}
}

func TestSensorCloudDiscovery(t *testing.T) {
	sc := NewSensorCloud(t)
	sc.SeedDevice("dev-1", "ACME HQ", "Floor 1", "Room 101")
	sc.SeedDevice("dev-2", "ACME HQ", "Floor 2")
	sc.SeedDevice("dev-3", "ACME Annex", "Floor 1")
	sc.SeedDevice("dev-4")

	_, disc := newSourceClient(sc)
	locations, err := disc.Resolve(context.Background(), "acme")
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}

	want := []string{"ACME Annex", "ACME HQ"}
	if len(locations) != len(want) {
		t.Fatalf("Resolve() returned %d locations, want %d", len(locations), len(want))
	}
	for i, loc := range locations {
		if loc.DisplayName != want[i] {
			t.Errorf("locations[%d] = %q, want %q", i, loc.DisplayName, want[i])
		}
		if loc.IdentityTag != sc.OwnerOrg {
			t.Errorf("locations[%d].IdentityTag = %q, want %q", i, loc.IdentityTag, sc.OwnerOrg)
		}
	}
}

func TestSensorCloudDiscoveryFilterMismatch(t *testing.T) {
	sc := NewSensorCloud(t)
	sc.SeedDevice("dev-1", "ACME HQ", "Floor 1")

	_, disc := newSourceClient(sc)
	locations, err := disc.Resolve(context.Background(), "globex")
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if len(locations) != 0 {
		t.Errorf("Resolve() returned %d locations for a non-matching filter, want 0", len(locations))
	}
}

func TestSensorCloudPing(t *testing.T) {
	sc := NewSensorCloud(t)
	cfg := sc.SourceConfig()
	client := source.NewClient(cfg, source.NewTokenCache(cfg))

	if err := client.Ping(context.Background(), cfg.DeviceRecType, cfg.DeviceClusterID); err != nil {
		t.Fatalf("Ping() failed: %v", err)
	}
}

func TestSensorCloudFetchWindowPaginates(t *testing.T) {
	sc := NewSensorCloud(t)
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		sc.SeedRecords("ACME HQ", RecordSeed{
			Tags: []string{"ACME HQ", "Floor 1", fmt.Sprintf("Room %d", i+1)},
			Line: []map[string]any{
				Entry(base.Add(time.Duration(i)*time.Minute), map[string]any{"count": i}),
			},
		})
	}

	cfg := sc.SourceConfig()
	cfg.PageSize = 2
	client := source.NewClient(cfg, source.NewTokenCache(cfg))

	rec, err := client.FetchWindow(context.Background(), testQuery(), "ACME HQ", base.Add(-time.Hour), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("FetchWindow() failed: %v", err)
	}
	if len(rec.Groups) != 5 {
		t.Errorf("Groups = %d, want 5 collapsed across pages", len(rec.Groups))
	}
	if got := sc.AggregationCount(); got != 3 {
		t.Errorf("AggregationCount = %d, want 3 page requests", got)
	}
}

func TestSensorCloudWindowRangeIsInclusive(t *testing.T) {
	sc := NewSensorCloud(t)
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	sc.SeedRecords("ACME HQ", RecordSeed{
		Tags: []string{"ACME HQ", "Floor 1"},
		Line: []map[string]any{
			Entry(base.Add(-time.Hour), map[string]any{"count": 1}),
			Entry(base, map[string]any{"count": 2}),
			Entry(base.Add(30*time.Minute), map[string]any{"count": 3}),
			Entry(base.Add(time.Hour), map[string]any{"count": 4}),
			Entry(base.Add(2*time.Hour), map[string]any{"count": 5}),
		},
	})

	client, _ := newSourceClient(sc)
	rec, err := client.FetchWindow(context.Background(), testQuery(), "ACME HQ", base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("FetchWindow() failed: %v", err)
	}

	// The upstream range is inclusive, so the entry at exactly window end
	// comes back too; dropping it is the normalizer's job.
	if got := rec.EntryCount(); got != 3 {
		t.Errorf("EntryCount = %d, want 3 (start, middle, and inclusive end)", got)
	}
}

func TestSensorCloudRetriesTransientFailure(t *testing.T) {
	sc := NewSensorCloud(t)
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	sc.SeedRecords("ACME HQ", RecordSeed{
		Tags: []string{"ACME HQ", "Floor 1"},
		Line: []map[string]any{Entry(base, map[string]any{"count": 7})},
	})
	sc.FailAggregation(1, http.StatusInternalServerError)

	client, _ := newSourceClient(sc)
	rec, err := client.FetchWindow(context.Background(), testQuery(), "ACME HQ", base.Add(-time.Minute), base.Add(time.Minute))
	if err != nil {
		t.Fatalf("FetchWindow() failed after transient error: %v", err)
	}
	if rec.EntryCount() != 1 {
		t.Errorf("EntryCount = %d, want 1", rec.EntryCount())
	}
	if got := sc.AggregationCount(); got != 2 {
		t.Errorf("AggregationCount = %d, want 2 (failure plus retry)", got)
	}
}

// pipeline bundles the full end-to-end wiring: fake upstream, embedded
// broker with a provisioned stream, broadcaster, state store, and engine.
type pipeline struct {
	cloud  *SensorCloud
	broker *delivery.EmbeddedServer
	store  *state.Store
	engine *intsync.Engine
	stream intsync.StreamConfig
}

func startPipeline(t *testing.T) *pipeline {
	t.Helper()
	ctx := context.Background()

	sc := NewSensorCloud(t)
	broker := StartEmbeddedBroker(t)

	dest := delivery.DestinationConfig{ID: "local", URL: broker.ClientURL()}
	if err := delivery.EnsureStream(ctx, dest, delivery.DefaultStreamConfig(), 5*time.Second); err != nil {
		t.Fatalf("Failed to provision stream: %v", err)
	}

	pub, err := delivery.NewPublisher(dest, delivery.DefaultPublisherConfig(), nil)
	if err != nil {
		t.Fatalf("Failed to create publisher: %v", err)
	}
	broadcaster, err := delivery.NewBroadcaster(
		[]*delivery.Destination{delivery.NewDestination(dest, pub)},
		delivery.DefaultBatchConfig(),
	)
	if err != nil {
		t.Fatalf("Failed to create broadcaster: %v", err)
	}
	t.Cleanup(func() { _ = broadcaster.Close() })

	stateCfg := state.DefaultConfig()
	stateCfg.Path = t.TempDir()
	store, err := state.OpenForTesting(&stateCfg)
	if err != nil {
		t.Fatalf("Failed to open state store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	srcCfg := sc.SourceConfig()
	client := source.NewClient(srcCfg, source.NewTokenCache(srcCfg))
	breaker := source.NewBreakerClient(client, source.NewDiscovery(client, srcCfg, nil))

	streamCfg := intsync.StreamConfig{
		ID:             "occupancy-sensor",
		RecType:        "rec-occupancy",
		ViewID:         "view-occ-5m",
		Fields:         []string{"time", "count"},
		IdentityFilter: "acme",
		Lookback:       time.Hour,
	}
	streamCfg.ApplyDefaults()

	return &pipeline{
		cloud:  sc,
		broker: broker,
		store:  store,
		engine: intsync.NewEngine(breaker, broadcaster, store),
		stream: streamCfg,
	}
}

// seedCampus loads two buildings with three entries starting at base.
func seedCampus(sc *SensorCloud, base time.Time) {
	sc.SeedDevice("dev-hq-f1", "ACME HQ", "Floor 1")
	sc.SeedDevice("dev-annex-f1", "ACME Annex", "Floor 1")
	sc.SeedRecords("ACME HQ", RecordSeed{
		Tags: []string{"ACME HQ", "Floor 1"},
		Line: []map[string]any{
			Entry(base, map[string]any{"count": 4, "capacity": 12}),
			Entry(base.Add(5*time.Minute), map[string]any{"count": 6, "capacity": 12}),
		},
	})
	sc.SeedRecords("ACME Annex", RecordSeed{
		Tags: []string{"ACME Annex", "Floor 1"},
		Line: []map[string]any{
			Entry(base, map[string]any{"count": 2, "capacity": 8}),
		},
	})
}

// readStream drains n events from the delivery stream with an ordered
// consumer.
func readStream(t *testing.T, ctx context.Context, url string, n int) []*delivery.OccupancyEvent {
	t.Helper()

	nc, err := natsgo.Connect(url)
	if err != nil {
		t.Fatalf("Failed to connect to broker: %v", err)
	}
	t.Cleanup(nc.Close)

	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatalf("Failed to create JetStream context: %v", err)
	}
	cons, err := js.OrderedConsumer(ctx, delivery.DefaultStreamConfig().Name, jetstream.OrderedConsumerConfig{})
	if err != nil {
		t.Fatalf("Failed to create consumer: %v", err)
	}
	batch, err := cons.Fetch(n, jetstream.FetchMaxWait(5*time.Second))
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	var events []*delivery.OccupancyEvent
	for msg := range batch.Messages() {
		var ev delivery.OccupancyEvent
		if err := json.Unmarshal(msg.Data(), &ev); err != nil {
			t.Fatalf("Failed to unmarshal event: %v", err)
		}
		events = append(events, &ev)
	}
	if err := batch.Error(); err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	return events
}

// streamMsgCount returns the number of messages held by the delivery
// stream.
func streamMsgCount(t *testing.T, ctx context.Context, url string) uint64 {
	t.Helper()

	nc, err := natsgo.Connect(url)
	if err != nil {
		t.Fatalf("Failed to connect to broker: %v", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatalf("Failed to create JetStream context: %v", err)
	}
	s, err := js.Stream(ctx, delivery.DefaultStreamConfig().Name)
	if err != nil {
		t.Fatalf("Failed to look up stream: %v", err)
	}
	info, err := s.Info(ctx)
	if err != nil {
		t.Fatalf("Failed to read stream info: %v", err)
	}
	return info.State.Msgs
}

func TestPipelineDeliversAndCommits(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping end-to-end test in short mode")
	}
	ctx := context.Background()

	p := startPipeline(t)
	base := time.Now().UTC().Truncate(time.Second).Add(-30 * time.Minute)
	seedCampus(p.cloud, base)

	report := p.engine.Run(ctx, p.stream)
	if report.State != intsync.StateCommitted {
		t.Fatalf("Run ended in %s (err: %v), want committed", report.State, report.Err)
	}
	if report.Locations != 2 {
		t.Errorf("Locations = %d, want 2", report.Locations)
	}
	if report.EventsNormalized != 3 {
		t.Errorf("EventsNormalized = %d, want 3", report.EventsNormalized)
	}
	if report.EventsDelivered != 3 {
		t.Errorf("EventsDelivered = %d, want 3", report.EventsDelivered)
	}

	wm, err := p.store.LoadWatermark(ctx, p.stream.ID)
	if err != nil {
		t.Fatalf("LoadWatermark() failed: %v", err)
	}
	if !wm.LastSuccessEnd.Equal(report.Window.End) {
		t.Errorf("LastSuccessEnd = %v, want window end %v", wm.LastSuccessEnd, report.Window.End)
	}
	if wm.EventsDelivered != 3 {
		t.Errorf("Watermark EventsDelivered = %d, want 3", wm.EventsDelivered)
	}

	events := readStream(t, ctx, p.broker.ClientURL(), 3)
	if len(events) != 3 {
		t.Fatalf("Stream yielded %d events, want 3", len(events))
	}
	ids := make(map[string]bool, len(events))
	var hqCount any
	for _, ev := range events {
		if ev.StreamType != p.stream.ID {
			t.Errorf("StreamType = %q, want %q", ev.StreamType, p.stream.ID)
		}
		if ev.SchemaVersion != delivery.SchemaVersion {
			t.Errorf("SchemaVersion = %d, want %d", ev.SchemaVersion, delivery.SchemaVersion)
		}
		if ids[ev.EventID] {
			t.Errorf("Duplicate event ID %s on the stream", ev.EventID)
		}
		ids[ev.EventID] = true
		if ev.Location() == "ACME HQ" && ev.Timestamp.Equal(base) {
			hqCount = ev.Measurements["count"]
		}
	}
	if hqCount != float64(4) {
		t.Errorf("HQ count measurement = %v, want 4", hqCount)
	}
}

func TestPipelineSkipsSeenEventsOnRerun(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping end-to-end test in short mode")
	}
	ctx := context.Background()

	p := startPipeline(t)
	base := time.Now().UTC().Truncate(time.Second).Add(-30 * time.Minute)
	seedCampus(p.cloud, base)

	first := p.engine.Run(ctx, p.stream)
	if first.State != intsync.StateCommitted {
		t.Fatalf("First run ended in %s (err: %v), want committed", first.State, first.Err)
	}

	// Rewind the watermark so the same window replays, the way an
	// operator-triggered reset does.
	if err := p.store.CommitWatermark(ctx, state.NewWatermark(p.stream.ID, first.Window.Start)); err != nil {
		t.Fatalf("Failed to rewind watermark: %v", err)
	}

	second := p.engine.Run(ctx, p.stream)
	if second.State != intsync.StateCommitted {
		t.Fatalf("Replay run ended in %s (err: %v), want committed", second.State, second.Err)
	}
	if second.DuplicatesSkipped != 3 {
		t.Errorf("DuplicatesSkipped = %d, want 3", second.DuplicatesSkipped)
	}
	if second.EventsDelivered != 0 {
		t.Errorf("EventsDelivered = %d, want 0 on replay", second.EventsDelivered)
	}

	if got := streamMsgCount(t, ctx, p.broker.ClientURL()); got != 3 {
		t.Errorf("Stream holds %d messages after replay, want 3", got)
	}
}
