// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package source

import (
	"fmt"
	"net/http"
)

// Failure taxonomy for upstream calls. The sync engine matches these with
// errors.Is to decide between retry, skip, and abort.
var (
	// ErrUnauthorized indicates stale or invalid credentials (HTTP 401/403).
	// Permanent within a run; surfaced to the operator, never retried.
	ErrUnauthorized = fmt.Errorf("upstream rejected credentials")

	// ErrNotFound indicates the configured view or cluster does not exist
	// (HTTP 404). The stream is broken until reconfigured.
	ErrNotFound = fmt.Errorf("upstream resource not found")

	// ErrUnavailable indicates a transient upstream failure (5xx, network
	// error, timeout, or exhausted 429 budget). Retried with backoff.
	ErrUnavailable = fmt.Errorf("upstream unavailable")

	// ErrDiscoveryUnavailable indicates the device cluster enumeration
	// failed or returned an unexpected shape. The engine falls back to the
	// previous run's cached location set, else aborts the run.
	ErrDiscoveryUnavailable = fmt.Errorf("location discovery unavailable")
)

// statusError maps a non-200 HTTP status to the failure taxonomy.
// The body excerpt is included for 5xx responses because the upstream
// reports malformed-request details there rather than in 4xx codes.
func statusError(status int, body []byte) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w (HTTP %d)", ErrUnauthorized, status)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w (HTTP %d)", ErrNotFound, status)
	case status >= 500:
		return fmt.Errorf("%w (HTTP %d): %s", ErrUnavailable, status, body)
	default:
		return fmt.Errorf("unexpected status %d: %s", status, body)
	}
}
