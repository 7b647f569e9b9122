// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

// Package delivery publishes normalized occupancy events to NATS
// JetStream destinations.
//
// A Broadcaster fans each batch out to every configured destination
// concurrently and reports per-destination outcomes; the sync engine
// decides from those outcomes whether the watermark may advance. Events
// carry deterministic IDs that double as broker message IDs, so
// re-delivering an uncommitted window is safe: the stream's duplicate
// window absorbs the repeats.
//
// The package also provisions destination streams (EnsureStream) and can
// run an embedded NATS server for single-binary deployments.
package delivery
