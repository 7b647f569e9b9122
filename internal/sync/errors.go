// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package sync

import "errors"

var (
	// ErrAlreadyRunning is returned when starting a manager twice.
	ErrAlreadyRunning = errors.New("sync manager is already running")

	// ErrNotRunning is returned when stopping a manager that never started.
	ErrNotRunning = errors.New("sync manager is not running")

	// ErrRunInFlight is returned when a manual trigger finds a run already
	// executing for the stream. Runs are never queued.
	ErrRunInFlight = errors.New("sync run already in flight for stream")

	// ErrUnknownStream is returned for operations naming an unconfigured stream.
	ErrUnknownStream = errors.New("unknown stream")

	// ErrInvalidStreamConfig is returned when a stream configuration fails
	// validation.
	ErrInvalidStreamConfig = errors.New("invalid stream configuration")

	// ErrNoStreamType is returned when normalization is attempted without a
	// stream type. Every normalized event must carry one; an event without
	// it is unroutable downstream.
	ErrNoStreamType = errors.New("stream type must not be empty")

	// ErrNoLocations is reported when discovery succeeds but the identity
	// filter matches nothing. The run aborts without touching the
	// watermark; advancing past a window nobody fetched would lose it.
	ErrNoLocations = errors.New("no locations matched the identity filter")

	// ErrPolicyNotSatisfied is reported when delivery outcomes fall short
	// of the stream's commit policy. The watermark is held so the window
	// is retried in full.
	ErrPolicyNotSatisfied = errors.New("delivery did not satisfy the commit policy")
)
