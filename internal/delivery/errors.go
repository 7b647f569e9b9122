// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package delivery

import "errors"

var (
	// ErrPublisherClosed is returned when publishing through a closed publisher.
	ErrPublisherClosed = errors.New("publisher is closed")

	// ErrNoDestinations is returned when a broadcaster is built with an
	// empty destination set.
	ErrNoDestinations = errors.New("no destinations configured")

	// ErrEventTooLarge is returned when a single event exceeds the batch
	// byte limit and cannot be split further.
	ErrEventTooLarge = errors.New("event exceeds batch byte limit")

	// ErrInvalidConfig is returned when a delivery configuration fails validation.
	ErrInvalidConfig = errors.New("invalid delivery configuration")
)
