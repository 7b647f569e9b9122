// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

/*
Package metrics provides Prometheus metrics collection and export for observability.

This package implements application instrumentation using the Prometheus client
library, exposing metrics for monitoring sync health, source API behavior,
delivery fan-out, and state store performance.

# Overview

The package provides metrics for:
  - Sync cycle outcomes, duration, and watermark lag per stream
  - Source API request latency, pagination, and per-location failures
  - Token refresh lifecycle
  - Normalization drops and duplicate suppression
  - Per-destination delivery attempts and batch sizes
  - State store (Badger) operations
  - Circuit breaker state transitions
  - Operational HTTP endpoint latency

# Metrics Endpoint

Metrics are exposed at the /metrics endpoint in Prometheus text format:

	curl http://localhost:8321/metrics

# Available Metrics

Sync Metrics:
  - sync_runs_total: Sync cycles by terminal state (counter)
    Labels: stream, result (committed, aborted, skipped)
  - sync_duration_seconds: Cycle duration (histogram)
    Labels: stream
    Buckets: 1, 5, 10, 30, 60, 120, 300, 600
  - sync_last_success_timestamp: Unix timestamp of last commit (gauge)
    Labels: stream
  - sync_watermark_lag_seconds: Distance between now and the durable
    watermark (gauge)
    Labels: stream
  - sync_window_span_seconds: Span of computed fetch windows (histogram)
    Labels: stream
  - sync_gaps_detected_total: Continuity gaps between cycles (counter)
    Labels: stream
  - sync_errors_total: Cycle errors (counter)
    Labels: stream, error_type (source_api, delivery, state, config)

Source Metrics:
  - source_requests_total: Source API requests (counter)
    Labels: endpoint, status
  - source_request_duration_seconds: Request latency (histogram)
    Labels: endpoint
  - source_pages_fetched_total: Result pages retrieved (counter)
  - source_records_fetched_total: Raw records retrieved (counter)
    Labels: stream
  - source_locations_discovered: Locations matched in last discovery (gauge)
    Labels: stream
  - source_location_failures_total: Per-location fetch failures (counter)
    Labels: stream
  - source_rate_limit_waits_total: Waits imposed by 429 responses (counter)
  - source_token_refreshes_total: Token refresh attempts (counter)
    Labels: result (success, failure)
  - source_token_expiry_timestamp: Cached token expiry (gauge)

Normalization Metrics:
  - normalize_events_total: Events produced (counter)
    Labels: stream
  - normalize_records_dropped_total: Raw records dropped (counter)
    Labels: stream, reason (missing_stream_type, malformed, out_of_window)
  - normalize_duplicates_skipped_total: Duplicate events skipped (counter)
    Labels: stream

Delivery Metrics:
  - delivery_attempts_total: Delivery attempts (counter)
    Labels: destination, result (success, failure)
  - delivery_duration_seconds: Per-destination delivery latency (histogram)
    Labels: destination
  - delivery_events_total: Events delivered (counter)
    Labels: stream, destination
  - delivery_batch_size: Events per delivery batch (histogram)
  - delivery_retries_total: Sub-batch retries (counter)
    Labels: destination

State Store Metrics:
  - state_operations_total: Store operations (counter)
    Labels: operation (load, commit, seen, gc), result
  - state_commit_duration_seconds: Watermark commit latency (histogram)

Circuit Breaker Metrics:
  - circuit_breaker_state: Current state (gauge)
    Labels: name
    Values: 0=closed, 1=half-open, 2=open
  - circuit_breaker_requests_total: Requests through breaker (counter)
    Labels: name, result (success, failure, rejected)
  - circuit_breaker_state_transitions_total: State transitions (counter)
    Labels: name, from_state, to_state

# Usage Example

Basic recording from the sync engine:

	import "github.com/tomtom215/census/internal/metrics"

	start := time.Now()
	report := engine.Run(ctx, cfg)
	if report.Err != nil {
	    metrics.RecordSyncError(cfg.ID, "source_api")
	}
	metrics.RecordSyncRun(cfg.ID, report.State.String(), time.Since(start))

# Prometheus Configuration

Example prometheus.yml configuration:

	scrape_configs:
	  - job_name: 'census'
	    static_configs:
	      - targets: ['localhost:8321']
	    metrics_path: '/metrics'
	    scrape_interval: 15s

Example PromQL queries:

	# Committed cycles per stream over the last hour
	increase(sync_runs_total{result="committed"}[1h])

	# Delivery failure ratio per destination
	sum by (destination) (rate(delivery_attempts_total{result="failure"}[5m]))
	/
	sum by (destination) (rate(delivery_attempts_total[5m]))

	# Watermark lag alerting signal
	max by (stream) (sync_watermark_lag_seconds)

# Alerting Rules

Example Prometheus alerting rules:

	groups:
	  - name: census
	    rules:
	      - alert: WatermarkLagHigh
	        expr: sync_watermark_lag_seconds > 3600
	        for: 10m
	        annotations:
	          summary: "Stream {{ $labels.stream }} is {{ $value }}s behind"

	      - alert: DeliveryFailures
	        expr: |
	          sum(rate(delivery_attempts_total{result="failure"}[5m])) > 0
	        for: 5m
	        annotations:
	          summary: "Deliveries failing to {{ $labels.destination }}"

	      - alert: CircuitBreakerOpen
	        expr: circuit_breaker_state == 2
	        for: 2m
	        annotations:
	          summary: "Circuit breaker open for {{ $labels.name }}"

# Thread Safety

All metric recording functions are thread-safe and designed for concurrent use
from multiple goroutines. The Prometheus client library handles synchronization
internally.

# Cardinality Management

To prevent high cardinality issues:

  - Stream and destination labels come from static configuration
  - Error types are limited to predefined constants
  - Location identifiers are never used as labels
  - Status codes are recorded as-is but bounded by HTTP semantics

# See Also

  - internal/sync: Sync cycle metrics recording
  - internal/source: Source API and token metrics recording
  - internal/delivery: Delivery fan-out metrics recording
  - https://prometheus.io/docs/practices/naming/: Metric naming conventions
*/
package metrics
