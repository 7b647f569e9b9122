// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package services

import (
	"context"
	"fmt"
	"time"
)

// OpsServer matches the api.Server lifecycle.
//
// This interface allows the wrapper to work with the ops server without
// importing the api package, enabling testing with mocks.
//
// Satisfied by *api.Server from internal/api/server.go:
//   - Start() error binds the listener synchronously, serves in background
//   - Stop(ctx context.Context) error drains connections gracefully
type OpsServer interface {
	Start() error
	Stop(ctx context.Context) error
}

// OpsServerService wraps the operational HTTP server as a supervised service.
//
// It adapts the Start/Stop lifecycle pattern to suture's Serve pattern:
//  1. Calls Start() which binds the listener before returning
//  2. Waits for context cancellation
//  3. Calls Stop(ctx) with the configured shutdown timeout
//
// Because Start() binds synchronously, a port conflict is reported as a
// start failure and suture retries it with backoff instead of the process
// silently running without an ops surface.
//
// Example usage:
//
//	opsServer, _ := api.NewServer(cfg, deps)
//	svc := services.NewOpsServerService(opsServer, 10*time.Second)
//	tree.AddAPIService(svc)
type OpsServerService struct {
	server          OpsServer
	shutdownTimeout time.Duration
	name            string
}

// NewOpsServerService creates a new ops server service wrapper.
//
// The shutdownTimeout determines how long to wait for active connections
// to close during graceful shutdown. A typical value is 10-30 seconds.
func NewOpsServerService(server OpsServer, shutdownTimeout time.Duration) *OpsServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &OpsServerService{
		server:          server,
		shutdownTimeout: shutdownTimeout,
		name:            "ops-server",
	}
}

// Serve implements suture.Service.
//
// This method:
//  1. Starts the ops server (listener bound before Start returns)
//  2. Blocks until the context is canceled
//  3. Stops the server with the configured shutdown timeout
//
// If Start() fails, the error is returned immediately, causing suture to
// restart the service according to its backoff policy.
func (s *OpsServerService) Serve(ctx context.Context) error {
	if err := s.server.Start(); err != nil {
		return fmt.Errorf("ops server start failed: %w", err)
	}

	// Wait for shutdown signal
	<-ctx.Done()

	// Use a fresh context for shutdown since the original is canceled
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := s.server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("ops server stop failed: %w", err)
	}

	return ctx.Err()
}

// String implements fmt.Stringer for logging.
// Suture uses this to identify the service in log messages.
func (s *OpsServerService) String() string {
	return s.name
}
