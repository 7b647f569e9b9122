// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// chiMiddleware adapts http.HandlerFunc middleware to chi's
// func(http.Handler) http.Handler so the shared middleware package plugs
// into r.Use().
func chiMiddleware(mw func(http.HandlerFunc) http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return mw(next.ServeHTTP)
	}
}

// RateLimitConfig bounds the request rate for a route group, keyed by
// client IP.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

var (
	// rateLimitHealth allows frequent probe polling without letting an
	// aggressive scraper starve the listener.
	rateLimitHealth = RateLimitConfig{Requests: 1000, Window: time.Minute}

	// rateLimitSync keeps manual triggers rare. Each one costs a full
	// fetch pass against the upstream API.
	rateLimitSync = RateLimitConfig{Requests: 10, Window: time.Minute}
)

// rateLimit returns an IP-keyed limiter for the given config, or a
// pass-through middleware when rate limiting is disabled.
func (s *Server) rateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if s.cfg.RateLimitDisabled {
		return func(next http.Handler) http.Handler {
			return next
		}
	}
	return httprate.LimitByIP(cfg.Requests, cfg.Window)
}
