// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/census/internal/middleware"
)

// Handler builds the chi route tree. Exposed separately from Start so
// tests can drive the mux through httptest without a listener.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Global stack, applied to every route in order.
	r.Use(chiMiddleware(middleware.RequestID))
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	// Probes get a permissive limit so monitoring can poll them every
	// few seconds without tripping the API limit.
	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit(rateLimitHealth))
		r.Get("/healthz", s.handleHealthz)
		r.Get("/readyz", s.handleReadyz)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.rateLimit(RateLimitConfig{Requests: s.cfg.RateLimitRequests, Window: s.cfg.RateLimitWindow}))
		r.Use(chiMiddleware(middleware.Compression))
		r.Use(chiMiddleware(middleware.PrometheusMetrics))

		r.Get("/status", s.handleStatus)
		r.Get("/streams", s.handleStreams)
		r.Get("/watermarks", s.handleWatermarks)

		// Manual runs hit the upstream API; keep them rare.
		r.With(s.rateLimit(rateLimitSync)).Post("/sync/{stream}", s.handleTriggerSync)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
