// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package services

import (
	"context"
)

// Broker matches the delivery.EmbeddedServer shutdown surface.
//
// The embedded NATS broker is already serving when this wrapper sees it:
// delivery.NewEmbeddedServer starts the broker and blocks until it is
// ready for connections, because JetStream stream provisioning in main
// needs a reachable broker before the tree starts. There is nothing left
// to start here.
//
// Satisfied by *delivery.EmbeddedServer from internal/delivery/server.go:
//   - Shutdown() stops the broker and waits for it to exit
type Broker interface {
	Shutdown()
}

// BrokerService ties the embedded NATS broker's shutdown to tree lifecycle.
//
// Unlike the other wrappers it has no start step:
//  1. Waits for context cancellation
//  2. Calls Shutdown() so the broker exits with the tree
//
// A broker crash surfaces as publisher errors on the destinations, which
// the broadcaster records as destination health; the wrapper doesn't need
// to monitor the broker itself.
//
// Example usage:
//
//	broker, _ := delivery.NewEmbeddedServer(cfg)
//	svc := services.NewBrokerService(broker)
//	tree.AddMessagingService(svc)
type BrokerService struct {
	broker Broker
	name   string
}

// NewBrokerService creates a new embedded broker service wrapper.
func NewBrokerService(broker Broker) *BrokerService {
	return &BrokerService{
		broker: broker,
		name:   "embedded-broker",
	}
}

// Serve implements suture.Service.
//
// Blocks until the context is canceled, then shuts the broker down.
// Shutdown() already waits for the broker to fully exit, so no separate
// timeout context is needed.
func (s *BrokerService) Serve(ctx context.Context) error {
	// Broker is already running; wait for shutdown signal
	<-ctx.Done()

	s.broker.Shutdown()

	return ctx.Err()
}

// String implements fmt.Stringer for logging.
// Suture uses this to identify the service in log messages.
func (s *BrokerService) String() string {
	return s.name
}
