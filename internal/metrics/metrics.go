// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus Metrics Integration for Production Observability
// This package provides comprehensive instrumentation for:
// - Sync cycle outcomes and watermark lag per stream
// - Source API latency, pagination, and per-location failures
// - Token lifecycle
// - Normalization drops and duplicate suppression
// - Delivery fan-out per destination
// - State store operations (Badger)

var (
	// Sync Cycle Metrics
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_runs_total",
			Help: "Total number of sync cycles by terminal state",
		},
		[]string{"stream", "result"}, // result: "committed", "aborted", "skipped"
	)

	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_duration_seconds",
			Help:    "Duration of sync cycles in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600}, // Catch-up cycles can take minutes
		},
		[]string{"stream"},
	)

	SyncLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sync_last_success_timestamp",
			Help: "Unix timestamp of last committed sync cycle",
		},
		[]string{"stream"},
	)

	SyncWatermarkLag = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sync_watermark_lag_seconds",
			Help: "Seconds between now and the durable watermark",
		},
		[]string{"stream"},
	)

	SyncWindowSpan = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_window_span_seconds",
			Help:    "Span of computed fetch windows in seconds",
			Buckets: []float64{300, 900, 1800, 3600, 10800, 21600, 43200, 86400},
		},
		[]string{"stream"},
	)

	SyncGapsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_gaps_detected_total",
			Help: "Total number of continuity gaps detected between cycles",
		},
		[]string{"stream"},
	)

	SyncErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_errors_total",
			Help: "Total number of sync cycle errors",
		},
		[]string{"stream", "error_type"}, // "source_api", "delivery", "state", "config"
	)

	// Source API Metrics
	SourceRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_requests_total",
			Help: "Total number of source API requests",
		},
		[]string{"endpoint", "status"},
	)

	SourceRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "source_request_duration_seconds",
			Help:    "Duration of source API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	SourcePagesFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "source_pages_fetched_total",
			Help: "Total number of result pages fetched from the source API",
		},
	)

	SourceRecordsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_records_fetched_total",
			Help: "Total number of raw records fetched from the source API",
		},
		[]string{"stream"},
	)

	SourceLocationsDiscovered = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "source_locations_discovered",
			Help: "Number of locations matched during the last discovery pass",
		},
		[]string{"stream"},
	)

	SourceLocationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_location_failures_total",
			Help: "Total number of per-location fetch failures",
		},
		[]string{"stream"},
	)

	SourceRateLimitWaits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "source_rate_limit_waits_total",
			Help: "Total number of waits caused by source API rate limiting",
		},
	)

	// Token Metrics
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_token_refreshes_total",
			Help: "Total number of source API token refreshes",
		},
		[]string{"result"}, // "success", "failure"
	)

	TokenExpiry = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "source_token_expiry_timestamp",
			Help: "Unix timestamp at which the cached source token expires",
		},
	)

	// Normalization Metrics
	EventsNormalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "normalize_events_total",
			Help: "Total number of events produced by normalization",
		},
		[]string{"stream"},
	)

	RecordsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "normalize_records_dropped_total",
			Help: "Total number of raw records dropped during normalization",
		},
		[]string{"stream", "reason"}, // "missing_stream_type", "malformed", "out_of_window"
	)

	DuplicatesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "normalize_duplicates_skipped_total",
			Help: "Total number of events skipped as duplicates",
		},
		[]string{"stream"},
	)

	// Delivery Metrics
	DeliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_attempts_total",
			Help: "Total number of delivery attempts per destination",
		},
		[]string{"destination", "result"}, // result: "success", "failure"
	)

	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "delivery_duration_seconds",
			Help:    "Duration of per-destination delivery in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"destination"},
	)

	EventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_events_total",
			Help: "Total number of events delivered per destination",
		},
		[]string{"stream", "destination"},
	)

	DeliveryBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "delivery_batch_size",
			Help:    "Number of events in each delivery batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	DeliveryRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_retries_total",
			Help: "Total number of sub-batch delivery retries",
		},
		[]string{"destination"},
	)

	// State Store Metrics
	StateOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "state_operations_total",
			Help: "Total number of state store operations",
		},
		[]string{"operation", "result"}, // operation: "load", "commit", "seen", "gc"
	)

	StateCommitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "state_commit_duration_seconds",
			Help:    "Duration of watermark commits in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}, // Optimized for API latency
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"endpoint"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_consecutive_failures",
			Help: "Current number of consecutive failures",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// System Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)

	AppUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)
)

// RecordSyncRun records a completed sync cycle. The result label is the
// terminal state of the cycle ("committed", "aborted", "skipped").
func RecordSyncRun(stream, result string, duration time.Duration) {
	SyncRuns.WithLabelValues(stream, result).Inc()
	SyncDuration.WithLabelValues(stream).Observe(duration.Seconds())
	if result == "committed" {
		SyncLastSuccess.WithLabelValues(stream).Set(float64(time.Now().Unix()))
	}
}

// RecordSyncError records a sync cycle error under a fixed error type.
// Callers categorize before recording to keep label cardinality bounded.
func RecordSyncError(stream, errorType string) {
	SyncErrors.WithLabelValues(stream, errorType).Inc()
}

// SetWatermarkLag updates the watermark lag gauge for a stream.
func SetWatermarkLag(stream string, lag time.Duration) {
	SyncWatermarkLag.WithLabelValues(stream).Set(lag.Seconds())
}

// ObserveWindowSpan records the span of a computed fetch window.
func ObserveWindowSpan(stream string, span time.Duration) {
	SyncWindowSpan.WithLabelValues(stream).Observe(span.Seconds())
}

// RecordGapDetected records a continuity gap between consecutive cycles.
func RecordGapDetected(stream string) {
	SyncGapsDetected.WithLabelValues(stream).Inc()
}

// RecordSourceRequest records a source API request metric.
func RecordSourceRequest(endpoint, status string, duration time.Duration) {
	SourceRequests.WithLabelValues(endpoint, status).Inc()
	SourceRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordPageFetched records a single page retrieved from the source API.
func RecordPageFetched() {
	SourcePagesFetched.Inc()
}

// RecordRecordsFetched records raw records retrieved for a stream.
func RecordRecordsFetched(stream string, count int) {
	SourceRecordsFetched.WithLabelValues(stream).Add(float64(count))
}

// SetLocationsDiscovered updates the discovered-location gauge for a stream.
func SetLocationsDiscovered(stream string, count int) {
	SourceLocationsDiscovered.WithLabelValues(stream).Set(float64(count))
}

// RecordLocationFailure records a per-location fetch failure.
func RecordLocationFailure(stream string) {
	SourceLocationFailures.WithLabelValues(stream).Inc()
}

// RecordRateLimitWait records a wait imposed by source API rate limiting.
func RecordRateLimitWait() {
	SourceRateLimitWaits.Inc()
}

// RecordTokenRefresh records a token refresh attempt and its outcome.
func RecordTokenRefresh(err error) {
	if err != nil {
		TokenRefreshes.WithLabelValues("failure").Inc()
		return
	}
	TokenRefreshes.WithLabelValues("success").Inc()
}

// SetTokenExpiry updates the cached token expiry gauge.
func SetTokenExpiry(expiresAt time.Time) {
	TokenExpiry.Set(float64(expiresAt.Unix()))
}

// RecordEventsNormalized records events produced by normalization.
func RecordEventsNormalized(stream string, count int) {
	EventsNormalized.WithLabelValues(stream).Add(float64(count))
}

// RecordRecordDropped records a raw record dropped during normalization.
func RecordRecordDropped(stream, reason string) {
	RecordsDropped.WithLabelValues(stream, reason).Inc()
}

// RecordDuplicatesSkipped records events skipped as duplicates.
func RecordDuplicatesSkipped(stream string, count int) {
	if count <= 0 {
		return
	}
	DuplicatesSkipped.WithLabelValues(stream).Add(float64(count))
}

// RecordDelivery records a per-destination delivery attempt.
func RecordDelivery(destination string, duration time.Duration, err error) {
	DeliveryDuration.WithLabelValues(destination).Observe(duration.Seconds())
	if err != nil {
		DeliveryAttempts.WithLabelValues(destination, "failure").Inc()
		return
	}
	DeliveryAttempts.WithLabelValues(destination, "success").Inc()
}

// RecordEventsDelivered records events delivered to a destination.
func RecordEventsDelivered(stream, destination string, count int) {
	EventsDelivered.WithLabelValues(stream, destination).Add(float64(count))
}

// RecordDeliveryBatch records the size of a delivery batch.
func RecordDeliveryBatch(size int) {
	DeliveryBatchSize.Observe(float64(size))
}

// RecordDeliveryRetry records a sub-batch retry against a destination.
func RecordDeliveryRetry(destination string) {
	DeliveryRetries.WithLabelValues(destination).Inc()
}

// RecordStateOperation records a state store operation and its outcome.
func RecordStateOperation(operation string, err error) {
	if err != nil {
		StateOperations.WithLabelValues(operation, "failure").Inc()
		return
	}
	StateOperations.WithLabelValues(operation, "success").Inc()
}

// RecordStateCommit records the duration of a watermark commit.
func RecordStateCommit(duration time.Duration) {
	StateCommitDuration.Observe(duration.Seconds())
}

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}
