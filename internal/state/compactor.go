// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package state

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/census/internal/logging"
)

// Compactor handles periodic maintenance of the state store. Each run trims
// oversized seen-event sets and triggers BadgerDB value log garbage
// collection.
type Compactor struct {
	store  *Store
	config Config

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// State
	mu      sync.Mutex
	running bool

	// Stats
	lastRun         time.Time
	lastTrimmedKeys int64
}

// NewCompactor creates a new compaction manager for the store.
func NewCompactor(store *Store) *Compactor {
	return &Compactor{
		store:  store,
		config: store.Config(),
	}
}

// Start begins the background compaction loop.
func (c *Compactor) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.running = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run()

	logging.Info().Dur("interval", c.config.CompactInterval).Msg("State compactor started")
	return nil
}

// Stop gracefully stops the compaction loop.
func (c *Compactor) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.cancel()
	c.running = false
	c.mu.Unlock()

	c.wg.Wait()
	logging.Info().Msg("State compactor stopped")
}

// IsRunning returns whether the compactor is active.
func (c *Compactor) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// run is the main compaction loop goroutine.
func (c *Compactor) run() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.CompactInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.compact(c.ctx)
		}
	}
}

// compact trims seen-event sets for every known stream and runs GC.
func (c *Compactor) compact(ctx context.Context) {
	start := time.Now()

	var trimmed int64
	watermarks, err := c.store.Watermarks(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("State compaction failed to list streams")
	} else {
		for streamID := range watermarks {
			n, err := c.store.TrimSeen(ctx, streamID)
			if err != nil {
				logging.Error().Err(err).Str("stream", streamID).Msg("State compaction failed to trim seen set")
				continue
			}
			trimmed += n
		}
	}

	if err := c.store.RunGC(); err != nil {
		logging.Error().Err(err).Msg("State compaction GC error")
	}

	now := time.Now()
	c.mu.Lock()
	c.lastRun = now
	c.lastTrimmedKeys = trimmed
	c.mu.Unlock()
	c.store.markCompacted(now)

	if trimmed > 0 {
		logging.Info().
			Int64("trimmed", trimmed).
			Dur("duration", time.Since(start)).
			Msg("State compaction trimmed seen entries")
	}
}

// RunNow triggers an immediate compaction run.
func (c *Compactor) RunNow(ctx context.Context) error {
	c.compact(ctx)
	return nil
}

// GetStats returns compaction statistics.
func (c *Compactor) GetStats() CompactorStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return CompactorStats{
		LastRun:         c.lastRun,
		LastTrimmedKeys: c.lastTrimmedKeys,
	}
}

// CompactorStats contains statistics about compaction.
type CompactorStats struct {
	LastRun         time.Time
	LastTrimmedKeys int64
}
