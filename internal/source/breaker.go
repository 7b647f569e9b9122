// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/census/internal/logging"
	"github.com/tomtom215/census/internal/metrics"
)

// BreakerClient wraps Client and Discovery with a shared circuit breaker.
// One breaker covers both because they talk to the same upstream: when the
// sensor cloud is down, discovery probes would fail exactly like fetches.
//
// DETERMINISM NOTE: The circuit breaker uses real time (via sony/gobreaker)
// for its interval and timeout calculations. The timing determines when to
// recover from failures, not data integrity. For unit tests, test the
// wrapped client directly.
type BreakerClient struct {
	client    *Client
	discovery *Discovery
	cb        *gobreaker.CircuitBreaker[any]
	name      string
}

// NewBreakerClient creates a circuit-breaker-protected upstream facade.
// Circuit breaker configuration:
//   - Max 3 concurrent requests in half-open state
//   - 1 minute measurement window
//   - 2 minute timeout before attempting recovery
//   - Opens after 60% failure rate with minimum 10 requests
//
// Permanent failures (401/403, 404) do not count against the breaker: they
// are the upstream answering correctly, and one misconfigured stream must
// not cut off the healthy ones.
func NewBreakerClient(client *Client, discovery *Discovery) *BreakerClient {
	cbName := "source_api"

	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0) // 0 = closed
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(cbName).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,               // Allow 3 concurrent requests in half-open state
		Interval:    time.Minute,     // Reset counts after 1 minute in closed state
		Timeout:     2 * time.Minute, // Wait 2 minutes before transitioning from open to half-open

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false // Need at least 10 requests for statistical significance
			}

			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			shouldTrip := failureRatio >= 0.6

			if shouldTrip {
				logging.Warn().Uint32("failures", counts.TotalFailures).Float64("failure_rate", failureRatio*100).Msg("[CIRCUIT BREAKER] Opening circuit")
			}

			return shouldTrip
		},

		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNotFound)
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)

			logging.Info().Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] State transition")

			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()

			if to == gobreaker.StateClosed {
				metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(name).Set(0)
			}
		},
	})

	return &BreakerClient{
		client:    client,
		discovery: discovery,
		cb:        cb,
		name:      cbName,
	}
}

// execute wraps an upstream call with circuit breaker protection.
func (b *BreakerClient) execute(fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
			logging.Warn().Err(err).Msg("[CIRCUIT BREAKER] Request rejected")
		} else {
			metrics.CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()

			counts := b.cb.Counts()
			metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(b.name).Set(float64(counts.ConsecutiveFailures))
		}
		return nil, err
	}

	metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(b.name).Set(0)

	return result, nil
}

// castResult safely type-casts the circuit breaker result.
func castResult[T any](result any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

// FetchWindow fetches one location's window with circuit breaker protection.
func (b *BreakerClient) FetchWindow(ctx context.Context, q Query, location string, start, end time.Time) (*RawRecord, error) {
	return castResult[*RawRecord](b.execute(func() (any, error) {
		return b.client.FetchWindow(ctx, q, location, start, end)
	}))
}

// Resolve discovers locations with circuit breaker protection.
func (b *BreakerClient) Resolve(ctx context.Context, identityFilter string) ([]Location, error) {
	result, err := b.execute(func() (any, error) {
		return b.discovery.Resolve(ctx, identityFilter)
	})
	if err != nil {
		return nil, err
	}
	// A nil slice (empty discovery) arrives as a typed nil.
	locations, ok := result.([]Location)
	if !ok && result != nil {
		return nil, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return locations, nil
}

// Ping verifies upstream connectivity with circuit breaker protection.
func (b *BreakerClient) Ping(ctx context.Context) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.client.Ping(ctx, b.discovery.recType, b.discovery.clusterID)
	})
	return err
}

// State exposes the breaker state for the readiness probe.
func (b *BreakerClient) State() gobreaker.State {
	return b.cb.State()
}

// stateToFloat converts circuit breaker state to a numeric value for metrics.
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// stateToString converts circuit breaker state to a string for logging.
func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
