// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

// Package config loads and validates the census process configuration.
//
// Configuration is layered with koanf v2, highest priority last:
//
//  1. Built-in defaults (defaultConfig)
//  2. An optional YAML file (CONFIG_PATH, then ./config.yaml,
//     ./config.yml, /etc/census/config.yaml, /etc/census/config.yml)
//  3. Environment variables (explicitly mapped; unknown variables are
//     ignored rather than guessed at)
//
// The file is the only way to define the stream and destination lists;
// environment variables override scalar settings. A minimal config:
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
// With the embedded server enabled and no destinations listed, an
// implicit "local" destination pointing at the embedded server is added
// during normalization.
//
// The package holds koanf-tagged DTO structs only. Components own their
// config types; the mapping.go constructors translate between the two so
// loader tags never leak into component packages. Validation combines
// struct tags (via internal/validation), URL shape checks, component
// Validate delegation, and cross-section rules such as the JetStream
// duplicate window covering the largest stream catch-up span.
package config
