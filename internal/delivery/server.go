// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package delivery

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"

	"github.com/tomtom215/census/internal/logging"
)

// serverReadyTimeout bounds embedded server startup.
const serverReadyTimeout = 30 * time.Second

// EmbeddedServer runs an in-process NATS server with JetStream enabled.
// Used for local development and single-binary deployments where no
// external broker exists.
type EmbeddedServer struct {
	srv *server.Server
}

// NewEmbeddedServer starts the embedded server and waits until it accepts
// connections.
func NewEmbeddedServer(cfg ServerConfig) (*EmbeddedServer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := &server.Options{
		ServerName: "census-events",
		Host:       cfg.Host,
		Port:       cfg.Port,
		JetStream:  true,
		StoreDir:   cfg.StoreDir,
		MaxPayload: cfg.MaxPayload,
		NoSigs:     true,
	}

	srv, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedded NATS server: %w", err)
	}

	go srv.Start()

	if !srv.ReadyForConnections(serverReadyTimeout) {
		srv.Shutdown()
		return nil, fmt.Errorf("embedded NATS server not ready after %s", serverReadyTimeout)
	}

	logging.Info().
		Str("url", srv.ClientURL()).
		Str("store_dir", cfg.StoreDir).
		Msg("embedded NATS server started")

	return &EmbeddedServer{srv: srv}, nil
}

// ClientURL returns the URL clients connect to.
func (s *EmbeddedServer) ClientURL() string {
	return s.srv.ClientURL()
}

// Shutdown stops the server and waits for it to finish.
func (s *EmbeddedServer) Shutdown() {
	s.srv.Shutdown()
	s.srv.WaitForShutdown()
	logging.Info().Msg("embedded NATS server stopped")
}
