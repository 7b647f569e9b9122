// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

// Package main is the entry point for the census daemon.
//
// Census periodically syncs occupancy telemetry from a sensor-cloud API
// and fans the normalized events out to one or more NATS JetStream
// destinations. Watermarks track sync progress per stream and are
// committed only after delivery succeeds, so a crash at any point replays
// the same window instead of losing it.
//
// # Application Architecture
//
// The daemon initializes components in the following order:
//
//  1. Configuration: layered load from defaults, YAML file, and
//     environment variables (Koanf v2)
//  2. State store: BadgerDB watermark and seen-event persistence
//  3. Source: sensor-cloud client with token cache, rate limiter, and
//     circuit breaker
//  4. Delivery: optional embedded NATS server, JetStream provisioning,
//     one publisher per destination, and the fan-out broadcaster
//  5. Sync: the per-stream engine and the scheduling manager
//  6. Ops server: liveness, readiness, Prometheus metrics, run reports
//  7. Supervisor tree: suture v4 tree owning every long-running component
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (scalars only, explicitly mapped)
//   - Config file (CONFIG_PATH, ./config.yaml, /etc/census/config.yaml)
//   - Built-in defaults
//
// The stream and destination lists can only come from the file. A
// minimal single-node config:
//
//	source:
//	  base_url: https://api.sensors.example
//	  login_url: https://dash.sensors.example/api/login
//	  username: census
//	  password: secret
//	  aggregate_view: view-7f3a
//	  device_rec_type: rec-device
//	  device_cluster_id: cluster-main
//	delivery:
//	  embedded:
//	    enabled: true
//	streams:
//	  - id: occupancy
//	    rec_type: rec-occupancy
//	    view_id: view-occ-15m
//
// # Single-Node Mode
//
// With delivery.embedded.enabled, census runs its own NATS JetStream
// server in-process and delivers to it through an implicit "local"
// destination. Downstream consumers attach to the embedded server like
// any other NATS endpoint. Multi-destination deployments list external
// clusters under delivery.destinations instead.
//
// # Signal Handling
//
// The daemon handles graceful shutdown on SIGINT and SIGTERM:
//   - The ops server stops accepting connections (10s drain)
//   - Scheduling loops halt and in-flight sync runs finish
//   - Publishers flush and disconnect, then the embedded server (if any)
//     shuts down
//   - The state store closes last so every commit lands
//
// # Example Usage
//
// Single node with the embedded server:
//
//	./census            # reads ./config.yaml
//
// Pointing at an external JetStream cluster:
//
//	delivery:
//	  destinations:
//	    - id: primary
//	      url: nats://nats-1.internal:4222
//	      credentials_file: /etc/census/primary.creds
//
// Docker:
//
//	docker run -d \
//	  -v $(pwd)/config.yaml:/etc/census/config.yaml \
//	  -v census-data:/data \
//	  -p 9614:9614 \
//	  ghcr.io/tomtom215/census
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/tomtom215/census/internal/api"
	"github.com/tomtom215/census/internal/config"
	"github.com/tomtom215/census/internal/delivery"
	"github.com/tomtom215/census/internal/logging"
	"github.com/tomtom215/census/internal/source"
	"github.com/tomtom215/census/internal/state"
	"github.com/tomtom215/census/internal/supervisor"
	"github.com/tomtom215/census/internal/supervisor/services"
	intsync "github.com/tomtom215/census/internal/sync"
)

//nolint:gocyclo // Main initialization function with sequential setup steps
func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		// Use default logger for config errors (config not yet available)
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(cfg.LoggerConfig())

	logging.Info().Msg("Starting Census with supervisor tree")
	logging.Info().
		Int("streams", len(cfg.Streams)).
		Int("destinations", len(cfg.Delivery.Destinations)).
		Bool("embedded_broker", cfg.Delivery.Embedded.Enabled).
		Str("state_path", cfg.State.Path).
		Msg("Configuration loaded")

	// Watermark state store. Opened here and closed on the way out so the
	// last commit always lands; everything else recovers from crashes by
	// replaying its window.
	stateCfg := cfg.StateConfig()
	store, err := state.Open(&stateCfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open state store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing state store")
		}
	}()
	logging.Info().Msg("State store opened")

	compactor := state.NewCompactor(store)

	// Sensor-cloud client behind a circuit breaker. A failed ping is a
	// warning, not a fatal: the breaker retries and readiness reports the
	// upstream state.
	srcCfg := cfg.SourceConfig()
	tokens := source.NewTokenCache(srcCfg)
	client := source.NewClient(srcCfg, tokens)
	discovery := source.NewDiscovery(client, srcCfg, nil)
	breaker := source.NewBreakerClient(client, discovery)

	if err := breaker.Ping(context.Background()); err != nil {
		logging.Warn().Err(err).Msg("Failed to reach sensor cloud (will retry)")
	} else {
		logging.Info().Msg("Connected to sensor cloud")
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Embedded NATS server, if enabled. Constructed before the tree and
	// before provisioning because the implicit local destination must be
	// reachable for EnsureStream.
	var embedded *delivery.EmbeddedServer
	if cfg.Delivery.Embedded.Enabled {
		embedded, err = delivery.NewEmbeddedServer(cfg.EmbeddedServerConfig())
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to start embedded NATS server")
		}
		logging.Info().Str("url", embedded.ClientURL()).Msg("Embedded NATS server ready")
	}

	destCfgs := cfg.DestinationConfigs()

	// Provision the JetStream stream on every destination up front so the
	// first sync run never races stream creation.
	if cfg.Delivery.ProvisionStream {
		streamCfg := cfg.JetStreamConfig()
		for _, dest := range destCfgs {
			if err := delivery.EnsureStream(ctx, dest, streamCfg, cfg.Delivery.Publisher.ConnectTimeout); err != nil {
				logging.Fatal().Err(err).Str("destination", dest.ID).Msg("Failed to provision JetStream stream")
			}
			logging.Info().
				Str("destination", dest.ID).
				Str("stream", streamCfg.Name).
				Msg("JetStream stream provisioned")
		}
	}

	// One publisher per destination, all sharing the broadcaster
	wmLogger := watermill.NewSlogLogger(logging.NewSlogLogger())
	destinations := make([]*delivery.Destination, 0, len(destCfgs))
	for _, dest := range destCfgs {
		pub, err := delivery.NewPublisher(dest, cfg.PublisherConfig(), wmLogger)
		if err != nil {
			logging.Fatal().Err(err).Str("destination", dest.ID).Msg("Failed to create publisher")
		}
		destinations = append(destinations, delivery.NewDestination(dest, pub))
	}

	broadcaster, err := delivery.NewBroadcaster(destinations, cfg.BatchConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create broadcaster")
	}
	defer func() {
		if err := broadcaster.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing broadcaster")
		}
	}()
	logging.Info().Int("destinations", len(destinations)).Msg("Delivery fan-out ready")

	// Sync engine and scheduling manager (started by the supervisor)
	engine := intsync.NewEngine(breaker, broadcaster, store)
	manager, err := intsync.NewManager(engine, cfg.StreamConfigs())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create sync manager")
	}

	// Ops HTTP server
	opsServer, err := api.NewServer(cfg.APIConfig(), manager, store, breaker, broadcaster)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create ops server")
	}

	// Create structured logger for supervisor using our slog adapter
	// This bridges zerolog to slog for sutureslog compatibility
	slogLogger := logging.NewSlogLogger()

	tree, err := supervisor.NewSupervisorTree(slogLogger, supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	// === ADD SERVICES TO SUPERVISOR TREE ===

	// Data layer
	tree.AddDataService(services.NewCompactorService(compactor))
	logging.Info().Msg("State compactor added to supervisor tree")

	// Messaging layer
	if embedded != nil {
		tree.AddMessagingService(services.NewBrokerService(embedded))
		logging.Info().Msg("Embedded NATS server added to supervisor tree")
	}
	tree.AddMessagingService(services.NewSyncManagerService(manager))
	logging.Info().Msg("Sync manager added to supervisor tree")

	// API layer
	tree.AddAPIService(services.NewOpsServerService(opsServer, cfg.Ops.ShutdownTimeout))
	logging.Info().Str("addr", cfg.Ops.ListenAddr).Msg("Ops server added to supervisor tree")

	// === START SUPERVISOR TREE ===

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	// Wait for supervisor to finish (either from signal or error)
	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Wait for the error channel to close (supervisor finished)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	// Report any services that failed to stop within timeout
	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Census stopped gracefully")
}
