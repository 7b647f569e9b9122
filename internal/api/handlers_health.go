// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/tomtom215/census/internal/delivery"
)

// readyzStoreTimeout bounds the state store read on each readiness poll.
const readyzStoreTimeout = 5 * time.Second

// Readiness is the /readyz payload. Every component check is reported
// individually so a 503 explains itself without log digging.
type Readiness struct {
	Ready         bool                `json:"ready"`
	SyncRunning   bool                `json:"sync_running"`
	SourceBreaker string              `json:"source_breaker"`
	StateStore    StoreStatus         `json:"state_store"`
	Destinations  []DestinationStatus `json:"destinations"`
	UptimeSeconds float64             `json:"uptime_seconds"`
}

// StoreStatus reports whether the state store answered a read.
type StoreStatus struct {
	Reachable bool   `json:"reachable"`
	Streams   int    `json:"streams"`
	Error     string `json:"error,omitempty"`
}

// DestinationStatus reports one destination's most recent delivery result.
type DestinationStatus struct {
	ID          string     `json:"id"`
	Healthy     bool       `json:"healthy"`
	LastError   string     `json:"last_error,omitempty"`
	LastAttempt *time.Time `json:"last_attempt,omitempty"`
}

// handleHealthz is the liveness probe: 200 whenever the process serves,
// regardless of dependency health.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, r, map[string]interface{}{
		"alive":          true,
		"uptime_seconds": time.Since(s.startTime).Seconds(),
	})
}

// handleReadyz is the readiness probe. Ready means the relay can make
// progress: the manager is scheduling runs, the upstream breaker is not
// open, the state store answers reads, and at least one destination
// accepted its latest batch. Source health uses the breaker state rather
// than a live upstream call, so readiness polling stays cheap.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyzStoreTimeout)
	defer cancel()

	syncRunning := s.controller.IsRunning()

	breakerState := s.upstream.State()
	sourceOK := breakerState != gobreaker.StateOpen

	storeStatus := StoreStatus{Reachable: true}
	watermarks, err := s.store.Watermarks(ctx)
	if err != nil {
		storeStatus.Reachable = false
		storeStatus.Error = err.Error()
	} else {
		storeStatus.Streams = len(watermarks)
	}

	statuses, anyHealthy := destinationStatuses(s.destinations.Destinations())

	readiness := Readiness{
		Ready:         syncRunning && sourceOK && storeStatus.Reachable && anyHealthy,
		SyncRunning:   syncRunning,
		SourceBreaker: breakerState.String(),
		StateStore:    storeStatus,
		Destinations:  statuses,
		UptimeSeconds: time.Since(s.startTime).Seconds(),
	}

	status := http.StatusOK
	if !readiness.Ready {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, r, status, readiness)
}

// destinationStatuses snapshots per-destination health. A destination
// with no deliveries yet counts as healthy, matching the broadcaster.
func destinationStatuses(destinations []*delivery.Destination) ([]DestinationStatus, bool) {
	statuses := make([]DestinationStatus, 0, len(destinations))
	anyHealthy := false

	for _, d := range destinations {
		ds := DestinationStatus{
			ID:      d.ID(),
			Healthy: d.Healthy(),
		}
		if err := d.LastError(); err != nil {
			ds.LastError = err.Error()
		}
		if at := d.LastAttempt(); !at.IsZero() {
			ds.LastAttempt = &at
		}
		if ds.Healthy {
			anyHealthy = true
		}
		statuses = append(statuses, ds)
	}
	return statuses, anyHealthy
}
