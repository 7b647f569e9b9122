// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

/*
Package services provides suture.Service wrappers for Census components.

This package adapts application components to the suture v4 supervision
model, translating their lifecycle patterns (Start/Stop, Start/Shutdown,
already-running) into suture's context-aware Serve pattern.

# Overview

Each wrapper implements the suture.Service interface:

	type Service interface {
	    Serve(ctx context.Context) error
	}

The wrappers handle:
  - Lifecycle translation (Start/Stop to Serve pattern)
  - Graceful shutdown via context cancellation
  - Error propagation for supervisor restart decisions
  - Service identification via fmt.Stringer

# Available Services

Sync Manager (SyncManagerService):
  - Wraps sync.Manager with Start/Stop lifecycle
  - Coordinates per-stream fetch, normalize, deliver, commit cycles
  - Stop drains scheduler goroutines before returning

Compactor (CompactorService):
  - Wraps state.Compactor
  - Prunes expired dedup entries from the seen store on a timer
  - Runs in the data layer so compaction crashes never touch delivery

Embedded Broker (BrokerService):
  - Ties delivery.EmbeddedServer shutdown to tree lifecycle
  - The broker is started by its constructor in main, before the tree,
    because JetStream provisioning needs a reachable broker at startup
  - Only registered when the embedded broker is enabled

Ops Server (OpsServerService):
  - Wraps api.Server with Start/Stop lifecycle
  - Start binds the listener synchronously so port conflicts restart
    with backoff instead of passing silently
  - Configurable shutdown timeout for draining connections

# Usage Example

Creating and registering services:

	import (
	    "time"

	    "github.com/tomtom215/census/internal/supervisor"
	    "github.com/tomtom215/census/internal/supervisor/services"
	)

	func setupSupervisor(compactor *state.Compactor, syncMgr *sync.Manager, ops *api.Server) {
	    tree, _ := supervisor.NewSupervisorTree(logger, config)

	    tree.AddDataService(services.NewCompactorService(compactor))
	    tree.AddMessagingService(services.NewSyncManagerService(syncMgr))
	    tree.AddAPIService(services.NewOpsServerService(ops, 10*time.Second))

	    // Start supervision
	    tree.Serve(ctx)
	}

# Lifecycle Patterns

The package handles three lifecycle patterns:

Start/Stop Pattern (sync manager, compactor):

	type StartStopper interface {
	    Start(ctx context.Context) error
	    Stop() error
	}

	// Wrapped as:
	func (s *Service) Serve(ctx context.Context) error {
	    if err := s.component.Start(ctx); err != nil {
	        return err
	    }
	    <-ctx.Done()
	    s.component.Stop()
	    return ctx.Err()
	}

Synchronous-bind Start/Stop Pattern (ops server):

	type BoundServer interface {
	    Start() error                  // Listener bound before return
	    Stop(ctx context.Context) error
	}

	// Wrapped as:
	func (s *Service) Serve(ctx context.Context) error {
	    if err := s.server.Start(); err != nil {
	        return err
	    }
	    <-ctx.Done()
	    return s.server.Stop(shutdownCtx)
	}

Already-running Pattern (embedded broker):

	type Broker interface {
	    Shutdown()  // Constructor started the component
	}

	// Wrapped as:
	func (s *Service) Serve(ctx context.Context) error {
	    <-ctx.Done()
	    s.broker.Shutdown()
	    return ctx.Err()
	}

# Error Handling

Return values determine supervisor behavior:

	nil         -> Service stopped cleanly, will not restart
	error       -> Service crashed, supervisor will restart
	ctx.Err()   -> Shutdown requested, normal termination

Start failures are always wrapped and returned so suture retries with
backoff:

	if err := s.manager.Start(ctx); err != nil {
	    return fmt.Errorf("sync manager start failed: %w", err)
	}

# Service Identification

All services implement fmt.Stringer for logging:

	func (s *OpsServerService) String() string {
	    return "ops-server"
	}

Suture uses this for log messages:

	INFO ops-server: starting
	INFO ops-server: stopped
	ERROR ops-server: restarting after failure

# Testing

Services can be tested with mock components:

	type mockManager struct {
	    started atomic.Bool
	    stopped atomic.Bool
	}

	func (m *mockManager) Start(ctx context.Context) error {
	    m.started.Store(true)
	    return nil
	}

	func (m *mockManager) Stop() error {
	    m.stopped.Store(true)
	    return nil
	}

	func TestSyncManagerService(t *testing.T) {
	    mock := &mockManager{}
	    svc := services.NewSyncManagerService(mock)

	    ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	    defer cancel()

	    svc.Serve(ctx)

	    if !mock.started.Load() { t.Error("manager not started") }
	    if !mock.stopped.Load() { t.Error("manager not stopped") }
	}

# Thread Safety

All service wrappers are safe for concurrent use:
  - Wrappers hold no mutable state of their own
  - Context cancellation is handled atomically
  - Multiple Serve calls are not supported (undefined behavior)

# See Also

  - internal/supervisor: SupervisorTree that manages these services
  - github.com/thejerf/suture/v4: Underlying supervision library
  - internal/sync: Sync manager implementation
  - internal/state: Compactor implementation
*/
package services
