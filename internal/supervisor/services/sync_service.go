// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package services

import (
	"context"
	"fmt"
)

// StartStopManager matches the internal/sync.Manager lifecycle.
//
// This interface abstracts the sync manager's Start/Stop pattern, allowing the
// SyncManagerService wrapper to adapt it to suture's Serve pattern without
// modifying the manager code.
//
// The interface is satisfied by *sync.Manager from internal/sync/manager.go:
//   - Start(ctx context.Context) error spawns per-stream schedulers
//   - Stop() error waits for all scheduler goroutines to drain
type StartStopManager interface {
	Start(ctx context.Context) error
	Stop() error
}

// SyncManagerService wraps the sync manager as a supervised service.
//
// It adapts the Start/Stop lifecycle pattern to suture's Serve pattern:
//  1. Calls Start(ctx) to begin the sync manager
//  2. Waits for context cancellation
//  3. Calls Stop() for graceful shutdown
//
// The sync manager handles its own goroutines internally via WaitGroup,
// so this wrapper simply orchestrates the lifecycle transitions.
type SyncManagerService struct {
	manager StartStopManager
	name    string
}

// NewSyncManagerService creates a new sync manager service wrapper.
//
// Example usage:
//
//	syncManager := sync.NewManager(deps, streams)
//	svc := services.NewSyncManagerService(syncManager)
//	tree.AddMessagingService(svc)
func NewSyncManagerService(manager StartStopManager) *SyncManagerService {
	return &SyncManagerService{
		manager: manager,
		name:    "sync-manager",
	}
}

// Serve implements suture.Service.
//
// This method:
//  1. Starts the sync manager (which spawns its scheduler goroutines)
//  2. Blocks until the context is canceled
//  3. Stops the sync manager (which waits for its goroutines to complete)
//
// If Start() fails, the error is returned immediately, causing suture to
// restart the service according to its backoff policy.
func (s *SyncManagerService) Serve(ctx context.Context) error {
	// Start the manager - this spawns scheduler goroutines but returns immediately
	if err := s.manager.Start(ctx); err != nil {
		return fmt.Errorf("sync manager start failed: %w", err)
	}

	// Wait for shutdown signal
	<-ctx.Done()

	// Stop the manager - this blocks until all scheduler goroutines complete
	if err := s.manager.Stop(); err != nil {
		return fmt.Errorf("sync manager stop failed: %w", err)
	}

	return ctx.Err()
}

// String implements fmt.Stringer for logging.
// Suture uses this to identify the service in log messages.
func (s *SyncManagerService) String() string {
	return s.name
}
