// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

/*
Package api provides the ops HTTP surface for Census.

The relay has no browser UI and no data-plane HTTP endpoints; everything
here exists for operators and monitoring. Seven routes total:

  - GET /healthz: liveness, 200 whenever the process serves
  - GET /readyz: readiness, 503 with a component breakdown when the relay
    cannot make progress (manager stopped, breaker open, state store
    unreachable, or no healthy destination)
  - GET /metrics: Prometheus exposition
  - GET /api/v1/status: uptime, breaker state, store counters,
    destination health, and the latest run report per stream
  - GET /api/v1/streams: the configured streams with their schedules
  - GET /api/v1/watermarks: every stream's durable watermark
  - POST /api/v1/sync/{stream}: run one sync pass now, outside the
    schedule; 404 for unknown streams, 409 while a run is in flight

All responses share the APIResponse envelope with a request ID for
correlation against the logs. Rate limits are per client IP: permissive
for probes, configurable for the API routes, and tight for manual sync
triggers since each one costs a full upstream fetch pass.

Usage Example:

	srv, err := api.NewServer(api.Config{ListenAddr: ":9614"}, manager, store, client, broadcaster)
	if err != nil {
	    return err
	}
	if err := srv.Start(); err != nil {
	    return err
	}
	defer srv.Stop(context.Background())

The server depends on its collaborators through narrow interfaces
(SyncController, WatermarkStore, SourceHealth, DeliveryHealth), so tests
drive the full route tree with fakes and httptest.

See Also:

  - internal/sync: the manager and run reports served here
  - internal/state: the watermark store behind /api/v1/watermarks
  - internal/metrics: the collectors behind /metrics
*/
package api
