// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

/*
Package middleware provides HTTP middleware for the ops API.

The package covers the plumbing the router applies around every handler:
request ID propagation, Prometheus instrumentation, and gzip compression.
Rate limiting lives in internal/api because the limits are per route group.

Key Components:

  - RequestID: UUID-based request tracking, echoed in the X-Request-ID header
  - PrometheusMetrics: per-request counters, latency histograms, in-flight gauge
  - Compression: gzip for clients that send Accept-Encoding: gzip

Middleware Stack:

The router applies the stack outside-in:

	middleware.RequestID(
	    middleware.Compression(
	        middleware.PrometheusMetrics(
	            handler,
	        ),
	    ),
	)

Compression wraps PrometheusMetrics so the recorded latency covers the
handler alone, not the gzip flush.

Usage Example:

	http.HandleFunc("/api/v1/status",
	    middleware.RequestID(middleware.PrometheusMetrics(handler)),
	)

	func handler(w http.ResponseWriter, r *http.Request) {
	    id := middleware.GetRequestID(r.Context())
	    logging.Info().Str("request_id", id).Msg("handling status")
	}

Thread Safety:

All middleware is safe for concurrent use. Compression draws gzip writers
from a sync.Pool, request IDs travel in immutable context values, and the
Prometheus collectors are atomic.

See Also:

  - internal/api: the router that assembles this stack
  - internal/metrics: Prometheus collector definitions
  - internal/logging: request ID and correlation ID context helpers
*/
package middleware
