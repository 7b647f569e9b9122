// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

// Package state provides durable sync-progress storage using BadgerDB.
//
// The store holds one watermark per stream plus a bounded set of seen
// event IDs. Watermarks are committed only after delivery satisfied the
// commit policy, so a crash at any earlier point replays the same window
// on restart (at-least-once semantics).
//
// # Architecture
//
// The store sits at the end of the sync pipeline:
//
//	Fetch → Normalize → Deliver → CommitWatermark (ACID, fsync)
//	                           ↓ (on failure)
//	                     Watermark unchanged, window retried
//
// # Components
//
//   - Store: Core watermark and seen-set storage using BadgerDB
//   - Compactor: Background goroutine that trims seen sets and runs GC
//
// # Usage
//
// Basic usage:
//
//	cfg := state.DefaultConfig()
//	cfg.Path = "/data/state"
//
//	store, err := state.Open(&cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	// Load progress for a stream
//	wm, err := store.LoadWatermark(ctx, "occupancy-sensor")
//	if errors.Is(err, state.ErrWatermarkNotFound) {
//	    wm = state.NewWatermark("occupancy-sensor", time.Now().Add(-24*time.Hour))
//	}
//
//	// ... fetch [wm.LastSuccessEnd, end), deliver events ...
//
//	// Commit only after delivery succeeded
//	if err := store.CommitWatermark(ctx, wm.Advance(end, delivered, skipped)); err != nil {
//	    return err
//	}
//
// # Storage Layout
//
// Two key prefixes partition the keyspace:
//
//	wm:<stream-id>              # JSON watermark
//	seen:<stream-id>:<event-id> # insertion timestamp (for oldest-first trim)
//
// # Background Processing
//
// Start the compactor for automatic seen-set trimming and value log GC:
//
//	compactor := state.NewCompactor(store)
//	compactor.Start(ctx)
//	defer compactor.Stop()
//
// # Why BadgerDB
//
// BadgerDB was chosen for:
//   - Pure Go (no CGO required)
//   - ACID compliance with checksums
//   - Designed for write-heavy workloads
//   - Value log GC keeps long-running deployments bounded
//
// Alternatives considered:
//   - bbolt: Single-writer limitation
//   - Flat JSON file: Not atomic across watermark and counters
//   - NATS KV: Couples sync progress to delivery availability
//
// # Thread Safety
//
// All store operations are thread-safe. Multiple goroutines can call
// LoadWatermark, CommitWatermark, and the seen-set methods concurrently.
package state
