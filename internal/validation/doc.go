// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

// Package validation wraps go-playground/validator behind a singleton
// with readable error messages.
//
// The main consumer is internal/config, which tags its DTO structs and
// calls ValidateStruct during Load. One custom validator is registered:
//
//   - subjecttoken: the value must be usable as a single NATS subject
//     token (non-empty, no spaces, '.', '*', '>', or tabs). Stream IDs
//     carry this tag because they become part of publish subjects.
//
// All failed fields are collected into one RequestValidationError rather
// than stopping at the first, so an operator fixing a config file sees
// every problem in a single run.
package validation
