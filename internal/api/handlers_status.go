// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/tomtom215/census/internal/state"
	intsync "github.com/tomtom215/census/internal/sync"
)

// watermarksTimeout bounds the state store read for watermark listings.
const watermarksTimeout = 10 * time.Second

// StatusPayload is the /api/v1/status response body: one page with
// everything an operator checks when a stream looks stuck.
type StatusPayload struct {
	UptimeSeconds float64                      `json:"uptime_seconds"`
	SyncRunning   bool                         `json:"sync_running"`
	SourceBreaker string                       `json:"source_breaker"`
	StateStore    StoreStatsView               `json:"state_store"`
	Destinations  []DestinationStatus          `json:"destinations"`
	Runs          map[string]intsync.RunReport `json:"runs"`
}

// StoreStatsView is the state store counters in JSON form.
type StoreStatsView struct {
	Streams         int64      `json:"streams"`
	SeenEntries     int64      `json:"seen_entries"`
	TotalCommits    int64      `json:"total_commits"`
	TotalSeenWrites int64      `json:"total_seen_writes"`
	LastCompaction  *time.Time `json:"last_compaction,omitempty"`
}

// StreamView is one configured stream in /api/v1/streams. Durations are
// rendered as Go duration strings.
type StreamView struct {
	ID               string `json:"id"`
	IdentityFilter   string `json:"identity_filter"`
	ViewID           string `json:"view_id"`
	RecType          string `json:"rec_type"`
	Interval         string `json:"interval"`
	Lookback         string `json:"lookback"`
	MaxCatchUp       string `json:"max_catch_up"`
	CommitPolicy     string `json:"commit_policy"`
	FetchParallelism int    `json:"fetch_parallelism"`
}

// WatermarksPayload is the /api/v1/watermarks response body.
type WatermarksPayload struct {
	Watermarks map[string]state.Watermark `json:"watermarks"`
	Count      int                        `json:"count"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.store.Stats()
	view := StoreStatsView{
		Streams:         stats.Streams,
		SeenEntries:     stats.SeenEntries,
		TotalCommits:    stats.TotalCommits,
		TotalSeenWrites: stats.TotalSeenWrites,
	}
	if !stats.LastCompaction.IsZero() {
		view.LastCompaction = &stats.LastCompaction
	}

	statuses, _ := destinationStatuses(s.destinations.Destinations())

	respondSuccess(w, r, StatusPayload{
		UptimeSeconds: time.Since(s.startTime).Seconds(),
		SyncRunning:   s.controller.IsRunning(),
		SourceBreaker: s.upstream.State().String(),
		StateStore:    view,
		Destinations:  statuses,
		Runs:          s.controller.Reports(),
	})
}

func (s *Server) handleStreams(w http.ResponseWriter, r *http.Request) {
	streams := s.controller.Streams()
	views := make([]StreamView, 0, len(streams))
	for _, cfg := range streams {
		views = append(views, StreamView{
			ID:               cfg.ID,
			IdentityFilter:   cfg.IdentityFilter,
			ViewID:           cfg.ViewID,
			RecType:          cfg.RecType,
			Interval:         cfg.Interval.String(),
			Lookback:         cfg.Lookback.String(),
			MaxCatchUp:       cfg.MaxCatchUp.String(),
			CommitPolicy:     string(cfg.CommitPolicy),
			FetchParallelism: cfg.FetchParallelism,
		})
	}
	respondSuccess(w, r, views)
}

func (s *Server) handleWatermarks(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), watermarksTimeout)
	defer cancel()

	watermarks, err := s.store.Watermarks(ctx)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "failed to read watermarks: "+err.Error())
		return
	}

	respondSuccess(w, r, WatermarksPayload{
		Watermarks: watermarks,
		Count:      len(watermarks),
	})
}
