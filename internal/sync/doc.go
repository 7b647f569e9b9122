// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

/*
Package sync orchestrates incremental synchronization from the occupancy
API to the configured NATS JetStream destinations.

This package implements the core business logic: computing the next fetch
window from a stream's persisted watermark, discovering locations through
the identity filter, fetching each location's nested time-series payload,
flattening it into normalized events, fanning the batch out to every
destination, and committing the watermark once delivery satisfies the
stream's commit policy.

Key Components:

  - Manager: schedules one loop per stream with skip-not-queue overlap
    protection and manual trigger support
  - Engine: the single-run state machine from window computation through
    watermark commit
  - Normalizer: flattens nested records into events, enforcing the
    mandatory stream type and the half-open window bound
  - Window: one fetch interval, inclusive start and exclusive end

Run Lifecycle:

Each run walks a fixed sequence and ends in exactly one terminal:

 1. Compute window [watermark.LastSuccessEnd, now), capped at the
    stream's max catch-up; the remainder syncs next tick.
 2. Discover locations via the identity filter, falling back to the last
    successful discovery when the enumeration endpoint is down.
 3. Fetch every location concurrently under bounded parallelism; a
    single broken location never blocks the others.
 4. Normalize all fetched records and drop cross-run duplicates.
 5. Deliver to all destinations concurrently.
 6. Commit the watermark only if the outcomes satisfy the commit policy;
    otherwise only LastFetchEnd advances and the window repeats.

A run that fetched nothing and changed no state ends Aborted; a run whose
delivery fell short of policy ends PolicyFailed; everything else ends
Committed. The three terminals are distinguishable in logs, metrics, and
run reports, so a stuck stream is visible before the data loss horizon of
the max catch-up window.

Usage Example:

	import (
	    "context"

	    "github.com/tomtom215/census/internal/sync"
	)

	engine := sync.NewEngine(client, broadcaster, store)
	manager, err := sync.NewManager(engine, streams)
	if err != nil {
	    return err
	}

	ctx := context.Background()
	if err := manager.Start(ctx); err != nil {
	    return err
	}
	defer manager.Stop()

	// Manual run outside the schedule.
	report, err := manager.TriggerSync(ctx, "people-counter")

Concurrency:

Streams are independent: each has its own watermark, its own loop, and
its own interval. Within one stream at most one run is ever in flight; a
tick that fires during a slow run is skipped with a log line and a
metrics sample, never queued. Per-location fetches run concurrently up
to the stream's fetch parallelism; per-destination sends run fully
concurrently. The watermark commit is the single ordering-sensitive
operation and always happens after all delivery attempts.

Fault Tolerance:

  - Discovery outage: falls back to the cached location set, else aborts
    without touching the watermark
  - Location failure: isolated; the run commits what the healthy
    locations returned
  - Destination failure: isolated per destination; the commit policy
    decides whether the watermark advances
  - Crash between delivery and commit: the window repeats, and the
    deterministic event IDs plus the seen filter make the repeat safe

See Also:

  - internal/source: upstream HTTP client, discovery, token cache
  - internal/delivery: event model and JetStream fan-out
  - internal/state: watermark and seen-set persistence
  - internal/metrics: Prometheus metrics
*/
package sync
