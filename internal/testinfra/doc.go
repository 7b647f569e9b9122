// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

// Package testinfra provides shared test infrastructure: an in-process
// fake of the sensor-cloud API, an embedded JetStream broker helper, and
// containerized brokers for integration tests.
//
// # Fake Sensor Cloud
//
// SensorCloud is a stateful httptest fake of the upstream dashboard API.
// It speaks the same wire protocol the production client does, including
// the web login flow, bearer authentication, pagination, and the
// upstream's parameter quirks, so pipeline tests run against realistic
// upstream behavior without network access:
//
//	sc := testinfra.NewSensorCloud(t)
//	sc.SeedDevice("dev-1", "ACME HQ", "Floor 1")
//	sc.SeedRecords("ACME HQ", testinfra.RecordSeed{
//	    Tags: []string{"ACME HQ", "Floor 1"},
//	    Line: []map[string]any{testinfra.Entry(ts, map[string]any{"count": 3})},
//	})
//	cfg := sc.SourceConfig()
//
// # Embedded Broker
//
// StartEmbeddedBroker runs the same in-process NATS JetStream server the
// single-node deployment mode uses, on an ephemeral port with throwaway
// storage. End-to-end tests publish through the delivery layer and read
// back with a plain JetStream consumer, all without Docker.
//
// # Containerized NATS
//
// NewNATSContainer (build tag "integration") starts a real nats-server
// container via testcontainers-go for tests that must exercise an
// out-of-process destination: connection loss, reconnects, provisioning
// against a fresh broker. These tests skip gracefully when Docker is
// unavailable:
//
//	go test -tags integration ./internal/testinfra/
//
// First run may need to pull the server image; later runs use the cache.
package testinfra
