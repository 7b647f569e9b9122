// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tomtom215/census/internal/delivery"
	"github.com/tomtom215/census/internal/logging"
	"github.com/tomtom215/census/internal/metrics"
	"github.com/tomtom215/census/internal/source"
	"github.com/tomtom215/census/internal/state"
)

// RunState is the phase a sync run reached. Every run ends in Committed,
// PolicyFailed, or Aborted; the intermediate states appear in reports only
// when a run stopped partway.
type RunState int

const (
	StateIdle RunState = iota
	StateWindowComputed
	StateLocationsDiscovered
	StateFetched
	StateNormalized
	StateDeliveredFull
	StateDeliveredPartial
	StateCommitted
	StatePolicyFailed
	StateAborted
)

// String returns the snake_case state name used in logs and metrics labels.
func (s RunState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWindowComputed:
		return "window_computed"
	case StateLocationsDiscovered:
		return "locations_discovered"
	case StateFetched:
		return "fetched"
	case StateNormalized:
		return "normalized"
	case StateDeliveredFull:
		return "delivered_full"
	case StateDeliveredPartial:
		return "delivered_partial"
	case StateCommitted:
		return "committed"
	case StatePolicyFailed:
		return "policy_failed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the state name, not the ordinal.
func (s RunState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// SourceClient is the upstream API surface the engine depends on.
type SourceClient interface {
	Resolve(ctx context.Context, identityFilter string) ([]source.Location, error)
	FetchWindow(ctx context.Context, q source.Query, location string, start, end time.Time) (*source.RawRecord, error)
}

// Sender fans one batch out to every configured destination.
type Sender interface {
	Send(ctx context.Context, events []*delivery.OccupancyEvent) []delivery.Outcome
}

// StateStore persists watermarks and delivered-event IDs.
type StateStore interface {
	LoadWatermark(ctx context.Context, streamID string) (state.Watermark, error)
	CommitWatermark(ctx context.Context, wm state.Watermark) error
	RecordFetchEnd(ctx context.Context, base state.Watermark, end time.Time) (state.Watermark, error)
	FilterSeen(ctx context.Context, streamID string, ids []string) (map[string]struct{}, error)
	MarkSeen(ctx context.Context, streamID string, ids []string) error
}

var (
	_ SourceClient = (*source.BreakerClient)(nil)
	_ Sender       = (*delivery.Broadcaster)(nil)
	_ StateStore   = (*state.Store)(nil)
)

// RunReport summarizes one sync run for logs and the ops API.
type RunReport struct {
	StreamID          string             `json:"stream_id"`
	State             RunState           `json:"state"`
	Window            Window             `json:"window"`
	Capped            bool               `json:"capped,omitempty"`
	Locations         int                `json:"locations"`
	LocationFailures  map[string]string  `json:"location_failures,omitempty"`
	RecordsFetched    int                `json:"records_fetched"`
	EventsNormalized  int                `json:"events_normalized"`
	EventsDelivered   int                `json:"events_delivered"`
	DuplicatesSkipped int                `json:"duplicates_skipped"`
	Outcomes          []delivery.Outcome `json:"-"`
	StartedAt         time.Time          `json:"started_at"`
	Duration          time.Duration      `json:"duration"`
	Err               error              `json:"-"`
	Error             string             `json:"error,omitempty"`
}

// Engine walks one stream through a full sync pass: compute the window from
// the watermark, discover locations, fetch, normalize, deliver, and commit.
// The watermark is committed only after delivery satisfied the stream's
// commit policy, so a crash anywhere in the pass re-runs the same window.
type Engine struct {
	client     SourceClient
	sender     Sender
	store      StateStore
	normalizer *Normalizer

	// now is replaceable in tests for a fixed clock.
	now func() time.Time

	// locationCache keeps each stream's last successful discovery so a
	// run can proceed when the enumeration endpoint is down.
	cacheMu       sync.Mutex
	locationCache map[string][]source.Location
}

// NewEngine creates an engine over the given client, sender, and store.
func NewEngine(client SourceClient, sender Sender, store StateStore) *Engine {
	return &Engine{
		client:        client,
		sender:        sender,
		store:         store,
		normalizer:    NewNormalizer(),
		now:           time.Now,
		locationCache: make(map[string][]source.Location),
	}
}

// Run executes one sync pass for the stream. The report's State is the
// terminal phase; Err is set for every terminal except Committed. The
// watermark is left untouched on abort, advanced fully on commit, and on a
// policy failure only LastFetchEnd moves so the window is retried in full.
func (e *Engine) Run(ctx context.Context, cfg StreamConfig) (report RunReport) {
	started := e.now()
	report = RunReport{StreamID: cfg.ID, State: StateIdle, StartedAt: started}
	defer func() {
		report.Duration = e.now().Sub(started)
		metrics.RecordSyncRun(cfg.ID, report.State.String(), report.Duration)
	}()

	wm, err := e.store.LoadWatermark(ctx, cfg.ID)
	switch {
	case errors.Is(err, state.ErrWatermarkNotFound):
		wm = state.NewWatermark(cfg.ID, started.Add(-cfg.Lookback))
		logging.Info().
			Str("stream", cfg.ID).
			Time("start", wm.LastSuccessEnd).
			Dur("lookback", cfg.Lookback).
			Msg("no watermark yet, starting from lookback")
	case err != nil:
		return e.abort(report, "state_load", fmt.Errorf("load watermark: %w", err))
	}

	window, capped := computeWindow(wm.LastSuccessEnd, started, cfg.MaxCatchUp)
	if !window.Valid() {
		logging.Debug().
			Str("stream", cfg.ID).
			Time("last_success_end", wm.LastSuccessEnd).
			Msg("window is empty, nothing to sync")
		return report
	}
	report.Window = window
	report.Capped = capped
	report.State = StateWindowComputed
	metrics.ObserveWindowSpan(cfg.ID, window.Span())
	if capped {
		logging.Info().
			Str("stream", cfg.ID).
			Stringer("window", window).
			Dur("max_catch_up", cfg.MaxCatchUp).
			Msg("window capped, remainder syncs next tick")
	}

	locations, err := e.discover(ctx, cfg)
	if err != nil {
		return e.abort(report, "discovery", err)
	}
	if len(locations) == 0 {
		logging.Warn().
			Str("stream", cfg.ID).
			Str("identity_filter", cfg.IdentityFilter).
			Msg("no locations matched the identity filter, aborting without state change")
		metrics.RecordSyncError(cfg.ID, "no_locations")
		report.State = StateAborted
		report.Err = ErrNoLocations
		report.Error = ErrNoLocations.Error()
		return report
	}
	report.Locations = len(locations)
	report.State = StateLocationsDiscovered
	metrics.SetLocationsDiscovered(cfg.ID, len(locations))

	records, failures := e.fetchAll(ctx, cfg, locations, window)
	if len(failures) > 0 {
		report.LocationFailures = make(map[string]string, len(failures))
		for name, ferr := range failures {
			report.LocationFailures[name] = ferr.Error()
		}
		if len(failures) == len(locations) {
			return e.abort(report, "source_api",
				fmt.Errorf("all %d locations failed: %w", len(locations), anyError(failures)))
		}
	}
	for _, rec := range records {
		report.RecordsFetched += rec.EntryCount()
	}
	report.State = StateFetched

	var (
		events     []*delivery.OccupancyEvent
		duplicates int
	)
	for _, rec := range records {
		evs, dups, nerr := e.normalizer.Flatten(rec, cfg.ID, []string{rec.Location}, window)
		if nerr != nil {
			return e.abort(report, "normalize", nerr)
		}
		events = append(events, evs...)
		duplicates += dups
	}
	report.EventsNormalized = len(events)
	report.State = StateNormalized
	metrics.RecordEventsNormalized(cfg.ID, len(events))

	events, crossRun := e.filterSeen(ctx, cfg.ID, events)
	duplicates += crossRun
	report.DuplicatesSkipped = duplicates
	if duplicates > 0 {
		metrics.RecordDuplicatesSkipped(cfg.ID, duplicates)
	}

	checkContinuity(cfg.ID, events, cfg.GapInterval)

	outcomes := e.sender.Send(ctx, events)
	report.Outcomes = outcomes
	accepted := 0
	for _, o := range outcomes {
		if o.Accepted {
			accepted++
			continue
		}
		logging.Error().
			Err(o.Err).
			Str("stream", cfg.ID).
			Str("destination", o.DestinationID).
			Stringer("window", window).
			Int("events", len(events)).
			Msg("destination did not accept the batch")
	}
	if accepted == len(outcomes) {
		report.State = StateDeliveredFull
	} else {
		report.State = StateDeliveredPartial
	}

	if !cfg.CommitPolicy.Satisfied(outcomes) {
		report.State = StatePolicyFailed
		report.Err = ErrPolicyNotSatisfied
		report.Error = ErrPolicyNotSatisfied.Error()
		metrics.RecordSyncError(cfg.ID, "delivery_policy")
		if _, ferr := e.store.RecordFetchEnd(ctx, wm, window.End); ferr != nil {
			logging.Warn().Err(ferr).Str("stream", cfg.ID).Msg("recording fetch end failed")
		}
		logging.Error().
			Str("stream", cfg.ID).
			Str("policy", string(cfg.CommitPolicy)).
			Int("accepted", accepted).
			Int("destinations", len(outcomes)).
			Stringer("window", window).
			Msg("delivery did not satisfy the commit policy, watermark held")
		return report
	}

	// Mark before commit: a crash in between re-fetches the window, and
	// the seen filter keeps the re-run from re-delivering.
	if len(events) > 0 {
		if serr := e.store.MarkSeen(ctx, cfg.ID, eventIDs(events)); serr != nil {
			logging.Warn().Err(serr).Str("stream", cfg.ID).Msg("marking events seen failed")
		}
	}

	next := wm.Advance(window.End, uint64(len(events)), uint64(duplicates))
	if cerr := e.store.CommitWatermark(ctx, next); cerr != nil {
		report.State = StateAborted
		report.Err = fmt.Errorf("commit watermark: %w", cerr)
		report.Error = report.Err.Error()
		metrics.RecordSyncError(cfg.ID, "state_commit")
		logging.Error().
			Err(cerr).
			Str("stream", cfg.ID).
			Stringer("window", window).
			Int("events", len(events)).
			Msg("events delivered but watermark commit failed, window repeats next tick")
		return report
	}

	report.State = StateCommitted
	report.EventsDelivered = len(events)
	metrics.SetWatermarkLag(cfg.ID, e.now().Sub(next.LastSuccessEnd))
	logging.Info().
		Str("stream", cfg.ID).
		Stringer("window", window).
		Int("locations", len(locations)).
		Int("events", len(events)).
		Int("duplicates", duplicates).
		Bool("capped", capped).
		Msg("sync run committed")
	return report
}

// discover resolves the stream's location set, falling back to the last
// successful discovery when the enumeration endpoint is unavailable. An
// empty successful result is returned as-is and never cached, so a
// misconfigured identity filter cannot poison the fallback.
func (e *Engine) discover(ctx context.Context, cfg StreamConfig) ([]source.Location, error) {
	locations, err := e.client.Resolve(ctx, cfg.IdentityFilter)
	if err != nil {
		e.cacheMu.Lock()
		cached := e.locationCache[cfg.ID]
		e.cacheMu.Unlock()
		if len(cached) == 0 {
			return nil, fmt.Errorf("discovery: %w", err)
		}
		logging.Warn().
			Err(err).
			Str("stream", cfg.ID).
			Int("locations", len(cached)).
			Msg("discovery unavailable, falling back to cached location set")
		return cached, nil
	}
	if len(locations) > 0 {
		e.cacheMu.Lock()
		e.locationCache[cfg.ID] = locations
		e.cacheMu.Unlock()
	}
	return locations, nil
}

// fetchAll fetches every location's window concurrently, bounded by the
// stream's fetch parallelism. A location failure is recorded and isolated;
// it never stops the other fetches. Records come back keyed by the
// location's display name regardless of any fetch-name prefix stripping.
func (e *Engine) fetchAll(ctx context.Context, cfg StreamConfig, locations []source.Location, window Window) ([]*source.RawRecord, map[string]error) {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		records  []*source.RawRecord
		failures = make(map[string]error)
	)
	sem := make(chan struct{}, cfg.FetchParallelism)
	q := cfg.Query()

	for _, loc := range locations {
		wg.Add(1)
		go func(loc source.Location) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			rec, err := e.client.FetchWindow(ctx, q, cfg.FetchName(loc.DisplayName), window.Start, window.End)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[loc.DisplayName] = err
				metrics.RecordLocationFailure(cfg.ID)
				logging.Error().
					Err(err).
					Str("stream", cfg.ID).
					Str("location", loc.DisplayName).
					Stringer("window", window).
					Msg("location fetch failed")
				return
			}
			if rec == nil || rec.EntryCount() == 0 {
				return
			}
			rec.Location = loc.DisplayName
			records = append(records, rec)
		}(loc)
	}
	wg.Wait()
	return records, failures
}

// filterSeen drops events already delivered by a previous run. A lookup
// failure degrades to delivering unfiltered; the broker's duplicate window
// absorbs the re-sends.
func (e *Engine) filterSeen(ctx context.Context, streamID string, events []*delivery.OccupancyEvent) ([]*delivery.OccupancyEvent, int) {
	if len(events) == 0 {
		return events, 0
	}
	seen, err := e.store.FilterSeen(ctx, streamID, eventIDs(events))
	if err != nil {
		logging.Warn().
			Err(err).
			Str("stream", streamID).
			Msg("seen filter unavailable, delivering unfiltered")
		return events, 0
	}
	if len(seen) == 0 {
		return events, 0
	}
	kept := events[:0]
	for _, ev := range events {
		if _, dup := seen[ev.EventID]; !dup {
			kept = append(kept, ev)
		}
	}
	return kept, len(events) - len(kept)
}

func (e *Engine) abort(report RunReport, errType string, err error) RunReport {
	report.State = StateAborted
	report.Err = err
	report.Error = err.Error()
	metrics.RecordSyncError(report.StreamID, errType)
	logging.Error().
		Err(err).
		Str("stream", report.StreamID).
		Stringer("window", report.Window).
		Msg("sync run aborted")
	return report
}

func eventIDs(events []*delivery.OccupancyEvent) []string {
	ids := make([]string, len(events))
	for i, ev := range events {
		ids[i] = ev.EventID
	}
	return ids
}

func anyError(failures map[string]error) error {
	for _, err := range failures {
		return err
	}
	return nil
}
