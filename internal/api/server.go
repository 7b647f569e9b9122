// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/tomtom215/census/internal/delivery"
	"github.com/tomtom215/census/internal/logging"
	"github.com/tomtom215/census/internal/source"
	"github.com/tomtom215/census/internal/state"
	intsync "github.com/tomtom215/census/internal/sync"
)

// Server lifecycle errors.
var (
	ErrServerRunning    = errors.New("ops server already running")
	ErrServerNotRunning = errors.New("ops server not running")
	ErrNilDependency    = errors.New("missing ops server dependency")
	ErrInvalidConfig    = errors.New("invalid ops server config")
)

// Default server parameters. The ops surface is low-traffic and internal,
// so timeouts are conservative and the listener binds all interfaces.
const (
	DefaultListenAddr      = ":9614"
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultRateLimit       = 100
	DefaultRateLimitWindow = time.Minute
)

// Config holds ops server settings.
type Config struct {
	// ListenAddr is the host:port the server binds.
	ListenAddr string

	// ReadTimeout bounds request reads, WriteTimeout bounds response
	// writes, IdleTimeout bounds keep-alive connections.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// ShutdownTimeout bounds graceful shutdown on Stop.
	ShutdownTimeout time.Duration

	// RateLimitRequests per RateLimitWindow per client IP on /api/v1
	// routes. Health endpoints carry their own, more permissive limit.
	RateLimitRequests int
	RateLimitWindow   time.Duration
	RateLimitDisabled bool
}

// ApplyDefaults fills zero-valued fields with production defaults.
func (c *Config) ApplyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.RateLimitRequests <= 0 {
		c.RateLimitRequests = DefaultRateLimit
	}
	if c.RateLimitWindow <= 0 {
		c.RateLimitWindow = DefaultRateLimitWindow
	}
}

// Validate checks the configuration after defaults are applied.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("%w: listen address is required", ErrInvalidConfig)
	}
	if c.RateLimitRequests <= 0 {
		return fmt.Errorf("%w: rate limit requests must be positive", ErrInvalidConfig)
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("%w: rate limit window must be positive", ErrInvalidConfig)
	}
	return nil
}

// SyncController exposes the sync manager operations served over HTTP.
// Implemented by *sync.Manager.
type SyncController interface {
	IsRunning() bool
	Streams() []intsync.StreamConfig
	Reports() map[string]intsync.RunReport
	TriggerSync(ctx context.Context, streamID string) (intsync.RunReport, error)
}

// WatermarkStore exposes the state reads served over HTTP.
// Implemented by *state.Store.
type WatermarkStore interface {
	Watermarks(ctx context.Context) (map[string]state.Watermark, error)
	Stats() state.Stats
}

// SourceHealth reports the upstream circuit breaker state.
// Implemented by *source.BreakerClient.
type SourceHealth interface {
	State() gobreaker.State
}

// DeliveryHealth exposes fan-out destinations for health reporting.
// Implemented by *delivery.Broadcaster.
type DeliveryHealth interface {
	Destinations() []*delivery.Destination
}

var (
	_ SyncController = (*intsync.Manager)(nil)
	_ WatermarkStore = (*state.Store)(nil)
	_ SourceHealth   = (*source.BreakerClient)(nil)
	_ DeliveryHealth = (*delivery.Broadcaster)(nil)
)

// Server is the ops HTTP surface: liveness and readiness probes,
// Prometheus exposition, run reports, watermark inspection, and manual
// sync triggers. It serves operators and monitoring only; event data
// never flows through it.
type Server struct {
	cfg          Config
	controller   SyncController
	store        WatermarkStore
	upstream     SourceHealth
	destinations DeliveryHealth
	startTime    time.Time

	mu       sync.Mutex
	httpSrv  *http.Server
	listener net.Listener
}

// NewServer creates an ops server over the given collaborators. All four
// are required: a partially wired ops surface would report misleading
// readiness.
func NewServer(cfg Config, controller SyncController, store WatermarkStore, upstream SourceHealth, destinations DeliveryHealth) (*Server, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if controller == nil {
		return nil, fmt.Errorf("%w: sync controller", ErrNilDependency)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: watermark store", ErrNilDependency)
	}
	if upstream == nil {
		return nil, fmt.Errorf("%w: source health", ErrNilDependency)
	}
	if destinations == nil {
		return nil, fmt.Errorf("%w: delivery health", ErrNilDependency)
	}
	return &Server{
		cfg:          cfg,
		controller:   controller,
		store:        store,
		upstream:     upstream,
		destinations: destinations,
		startTime:    time.Now(),
	}, nil
}

// Start binds the listener and serves in the background. Returns once the
// listener is bound, so Addr is valid immediately after.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpSrv != nil {
		return ErrServerRunning
	}

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}

	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	s.listener = ln
	s.httpSrv = srv

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error().Err(err).Msg("ops server terminated unexpectedly")
		}
	}()

	logging.Info().Str("addr", ln.Addr().String()).Msg("ops server listening")
	return nil
}

// Stop gracefully shuts the server down, waiting at most ShutdownTimeout
// for in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	s.httpSrv = nil
	s.listener = nil
	s.mu.Unlock()

	if srv == nil {
		return ErrServerNotRunning
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown ops server: %w", err)
	}
	logging.Info().Msg("ops server stopped")
	return nil
}

// Addr returns the bound listener address, or "" before Start. With a
// ":0" config this is how tests and callers find the chosen port.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
