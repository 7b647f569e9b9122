// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

// Package source implements the sensor-cloud API client: location discovery,
// windowed data fetches, token lifecycle, and upstream resilience.
//
// # Architecture
//
//	TokenCache ──┐
//	             ├── Client.FetchWindow ──┐
//	Discovery ───┘                        ├── BreakerClient (gobreaker)
//	             └── Discovery.Resolve ───┘
//
// The sync engine talks to BreakerClient only; Client and Discovery can be
// used directly in tests.
//
// # Authentication
//
// The upstream has no machine-credentials grant. TokenCache performs the web
// dashboard's login flow: a form POST answered with a 303 redirect whose
// session cookie is a JWT carrying the API bearer token and its expiry.
// Tokens are refreshed proactively, five minutes before expiry by default,
// and optionally persisted to disk so restarts skip the login.
//
// # Discovery
//
// Discovery.Resolve enumerates the configured device cluster and returns the
// distinct first-level location names (buildings) whose owning organization
// matches an identity filter. The match policy is an injected MatchFunc;
// DefaultMatch is a case-insensitive substring test because upstream
// organization identifiers are free text. A non-matching owner yields an
// empty set rather than an error, keeping cross-tenant data unreachable.
//
// # Fetching
//
// Client.FetchWindow queries the master aggregation view for one location
// and time range, following pagination via the response meta block and
// preserving arrival order. Two upstream sharp edges are handled here and
// must not be "simplified" away:
//
//   - dataContext is sent as a single JSON-encoded string parameter.
//     Repeated scalar keys make the upstream return 5xx.
//   - field1..field6 are always present. Slots without a real projection
//     carry their own name as a placeholder; omitting any slot returns 503.
//
// # Resilience
//
// Three layers, innermost first: HTTP 429 backoff honoring Retry-After,
// bounded exponential retry for transient failures (5xx, network errors,
// timeouts), and a client-side x/time rate limiter. BreakerClient adds a
// circuit breaker over everything, tripping at a 60% failure rate across at
// least 10 requests. Permanent failures (ErrUnauthorized, ErrNotFound) are
// never retried and do not count against the breaker.
//
// # Usage
//
//	cfg := source.DefaultConfig()
//	cfg.BaseURL = "https://api.example.io"
//	cfg.LoginURL = "https://app.example.io/login"
//	// credentials, view and cluster identifiers from configuration
//
//	tokens := source.NewTokenCache(cfg)
//	client := source.NewClient(cfg, tokens)
//	discovery := source.NewDiscovery(client, cfg, nil)
//	upstream := source.NewBreakerClient(client, discovery)
//
//	locations, err := upstream.Resolve(ctx, "ACME")
//	if err != nil { ... }
//	for _, loc := range locations {
//	    record, err := upstream.FetchWindow(ctx, query, loc.DisplayName, start, end)
//	    ...
//	}
//
// # Thread Safety
//
// All exported types are safe for concurrent use. TokenCache serializes
// logins under a mutex so parallel per-location fetches share one session.
package source
