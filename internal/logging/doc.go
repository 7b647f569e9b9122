// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

// Package logging provides centralized zerolog-based structured logging for Census.
//
// All components log through this package so that output format, level, and
// field conventions stay uniform across the sync engine, the source client,
// and the delivery layer.
//
// # Overview
//
// The package provides:
//   - Zero-allocation structured logging via zerolog
//   - JSON output format for production (machine-parseable)
//   - Console output format for development (human-readable)
//   - Context-aware logging with correlation ID propagation (one ID per
//     sync run, so every log line of a run can be grepped together)
//   - slog adapter for Suture v4 integration
//   - Redaction helpers for bearer tokens and connection URLs
//
// # Quick Start
//
//	import "github.com/tomtom215/census/internal/logging"
//
//	// Initialize at application startup
//	logging.Init(logging.Config{
//	    Level:  "info",
//	    Format: "json",
//	    Caller: false,
//	})
//
//	// Log messages with structured fields
//	logging.Info().Str("stream", "people-counter").Msg("Window committed")
//	logging.Error().Err(err).Str("destination", dest).Msg("Delivery failed")
//
//	// Context-aware logging
//	logging.Ctx(ctx).Info().Str("location", loc).Msg("Fetch complete")
//
// # Configuration
//
// Environment Variables:
//
//	LOG_LEVEL   - Minimum log level: trace, debug, info, warn, error (default: info)
//	LOG_FORMAT  - Output format: json, console (default: json)
//	LOG_CALLER  - Include caller file:line: true, false (default: false)
//
// # Best Practices
//
// Always terminate log chains with .Msg() or .Send():
//
//	logging.Info().Str("key", "value").Msg("message")  // Correct
//	logging.Info().Str("key", "value")                 // WRONG - log not emitted
//
// Use structured fields instead of string formatting:
//
//	logging.Info().Str("stream", s).Int("count", n).Msg("delivered")  // Correct
//	logging.Info().Msgf("delivered %d events for %s", n, s)           // Avoid
package logging
