// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	intsync "github.com/tomtom215/census/internal/sync"
)

// handleTriggerSync runs one sync pass for the named stream immediately
// and returns its report. The run executes synchronously inside the
// request, so the response carries the real outcome; run-level failures
// are reported in the body with a 200, not an HTTP error, because the
// trigger itself succeeded.
func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	streamID := chi.URLParam(r, "stream")

	report, err := s.controller.TriggerSync(r.Context(), streamID)
	switch {
	case errors.Is(err, intsync.ErrUnknownStream):
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "unknown stream: "+streamID)
	case errors.Is(err, intsync.ErrRunInFlight):
		respondError(w, r, http.StatusConflict, ErrCodeConflict, "a run for this stream is already executing")
	case err != nil:
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
	default:
		respondSuccess(w, r, report)
	}
}
