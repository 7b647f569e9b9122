// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package services

import (
	"context"
	"fmt"
)

// StartStopRunner matches the state.Compactor lifecycle.
//
// This interface allows the wrapper to work with the compactor without
// importing the state package, avoiding circular dependencies.
//
// Satisfied by *state.Compactor from internal/state/compactor.go:
//   - Start(ctx context.Context) error spawns the compaction loop
//   - Stop() waits for the loop goroutine to exit
//   - IsRunning() reports loop status
type StartStopRunner interface {
	Start(ctx context.Context) error
	Stop()
	IsRunning() bool
}

// CompactorService wraps the seen-store compactor as a supervised service.
//
// The compactor periodically prunes expired dedup entries from the state
// store so the seen index doesn't grow without bound.
//
// It adapts the Start/Stop lifecycle pattern to suture's Serve pattern:
//  1. Calls Start(ctx) to begin the compaction loop
//  2. Waits for context cancellation
//  3. Calls Stop() for graceful shutdown (waits for goroutines via WaitGroup)
//
// Example usage:
//
//	compactor := state.NewCompactor(store)
//	svc := services.NewCompactorService(compactor)
//	tree.AddDataService(svc)
type CompactorService struct {
	compactor StartStopRunner
	name      string
}

// NewCompactorService creates a new compactor service wrapper.
func NewCompactorService(compactor StartStopRunner) *CompactorService {
	return &CompactorService{
		compactor: compactor,
		name:      "state-compactor",
	}
}

// Serve implements suture.Service.
//
// This method:
//  1. Starts the compactor (which spawns its background goroutine)
//  2. Blocks until the context is canceled
//  3. Stops the compactor (which waits for the goroutine to complete)
//
// If Start() fails, the error is returned immediately, causing suture to
// restart the service according to its backoff policy.
func (s *CompactorService) Serve(ctx context.Context) error {
	// Start the compactor
	if err := s.compactor.Start(ctx); err != nil {
		return fmt.Errorf("compactor start failed: %w", err)
	}

	// Wait for shutdown signal
	<-ctx.Done()

	// Stop the compactor - this blocks until the background goroutine exits
	s.compactor.Stop()

	return ctx.Err()
}

// String implements fmt.Stringer for logging.
// Suture uses this to identify the service in log messages.
func (s *CompactorService) String() string {
	return s.name
}
