// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package testinfra

import (
	"net"
	"testing"

	"github.com/tomtom215/census/internal/delivery"
)

// FreePort reserves an ephemeral loopback TCP port and returns it. The
// listener is closed before returning, so the port can be taken by another
// process between the close and the caller's bind.
func FreePort(t *testing.T) int {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to reserve port: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	_ = l.Close()
	return port
}

// StartEmbeddedBroker runs an in-process JetStream broker on an ephemeral
// port with storage under the test's temp directory. Needs no Docker;
// shutdown is registered with t.Cleanup.
func StartEmbeddedBroker(t *testing.T) *delivery.EmbeddedServer {
	t.Helper()

	cfg := delivery.DefaultServerConfig()
	cfg.Enabled = true
	cfg.Host = "127.0.0.1"
	cfg.Port = FreePort(t)
	cfg.StoreDir = t.TempDir()

	srv, err := delivery.NewEmbeddedServer(cfg)
	if err != nil {
		t.Fatalf("Failed to start embedded broker: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	return srv
}
