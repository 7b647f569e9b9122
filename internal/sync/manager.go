// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/census/internal/logging"
	"github.com/tomtom215/census/internal/metrics"
)

// Runner executes one sync pass for a stream. *Engine is the production
// implementation.
type Runner interface {
	Run(ctx context.Context, cfg StreamConfig) RunReport
}

var _ Runner = (*Engine)(nil)

// Manager schedules sync runs. Each stream ticks on its own interval and
// runs independently; within one stream at most one run is ever in flight.
// A tick that fires while the previous run is still executing is skipped,
// never queued, because two concurrent runs race on the same watermark.
type Manager struct {
	runner  Runner
	streams []StreamConfig

	mu       sync.RWMutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup

	// runLocks serializes runs per stream. Entries are created once at
	// construction, so lookups after that are lock-free reads.
	runLocks map[string]*sync.Mutex

	reportMu sync.RWMutex
	reports  map[string]RunReport
}

// NewManager creates a manager over the given streams. Stream configs get
// defaults applied and are validated; duplicate stream IDs are rejected.
func NewManager(runner Runner, streams []StreamConfig) (*Manager, error) {
	if runner == nil {
		return nil, fmt.Errorf("%w: runner is required", ErrInvalidStreamConfig)
	}
	if len(streams) == 0 {
		return nil, fmt.Errorf("%w: at least one stream is required", ErrInvalidStreamConfig)
	}

	m := &Manager{
		runner:   runner,
		runLocks: make(map[string]*sync.Mutex, len(streams)),
		reports:  make(map[string]RunReport, len(streams)),
	}
	for i := range streams {
		cfg := streams[i]
		cfg.ApplyDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if _, dup := m.runLocks[cfg.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate stream id %q", ErrInvalidStreamConfig, cfg.ID)
		}
		m.runLocks[cfg.ID] = &sync.Mutex{}
		m.streams = append(m.streams, cfg)
	}
	return m, nil
}

// Start launches one scheduling loop per stream. Each loop syncs once
// immediately, then on the stream's interval until Stop or ctx cancel.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.running = true
	m.stopChan = make(chan struct{})
	stopChan := m.stopChan
	m.mu.Unlock()

	for _, cfg := range m.streams {
		m.wg.Add(1)
		go m.streamLoop(ctx, cfg, stopChan)
	}

	logging.Info().
		Int("streams", len(m.streams)).
		Msg("sync manager started")
	return nil
}

// Stop halts all scheduling loops and waits for in-flight runs to finish.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrNotRunning
	}
	m.running = false
	close(m.stopChan)
	m.mu.Unlock()

	m.wg.Wait()
	logging.Info().Msg("sync manager stopped")
	return nil
}

// IsRunning reports whether the manager has been started.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Streams returns the configured streams.
func (m *Manager) Streams() []StreamConfig {
	out := make([]StreamConfig, len(m.streams))
	copy(out, m.streams)
	return out
}

// TriggerSync runs one sync pass for the stream immediately, outside the
// schedule. Returns ErrUnknownStream for unconfigured IDs and
// ErrRunInFlight when a scheduled run is already executing.
func (m *Manager) TriggerSync(ctx context.Context, streamID string) (RunReport, error) {
	cfg, ok := m.streamConfig(streamID)
	if !ok {
		return RunReport{}, fmt.Errorf("%w: %s", ErrUnknownStream, streamID)
	}

	lock := m.runLocks[streamID]
	if !lock.TryLock() {
		return RunReport{}, fmt.Errorf("%w: %s", ErrRunInFlight, streamID)
	}
	defer lock.Unlock()

	logging.Info().Str("stream", streamID).Msg("manual sync triggered")
	report := m.runner.Run(ctx, cfg)
	m.storeReport(report)
	return report, nil
}

// LastReport returns the most recent run report for the stream.
func (m *Manager) LastReport(streamID string) (RunReport, bool) {
	m.reportMu.RLock()
	defer m.reportMu.RUnlock()
	report, ok := m.reports[streamID]
	return report, ok
}

// Reports returns the most recent run report per stream.
func (m *Manager) Reports() map[string]RunReport {
	m.reportMu.RLock()
	defer m.reportMu.RUnlock()
	out := make(map[string]RunReport, len(m.reports))
	for id, report := range m.reports {
		out[id] = report
	}
	return out
}

func (m *Manager) streamLoop(ctx context.Context, cfg StreamConfig, stopChan <-chan struct{}) {
	defer m.wg.Done()

	logging.Debug().
		Str("stream", cfg.ID).
		Dur("interval", cfg.Interval).
		Msg("stream loop started")

	// Initial run, unless shutdown already began.
	select {
	case <-ctx.Done():
		return
	case <-stopChan:
		return
	default:
	}
	m.runStream(ctx, cfg)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Debug().Str("stream", cfg.ID).Msg("stream loop stopped by context")
			return
		case <-stopChan:
			logging.Debug().Str("stream", cfg.ID).Msg("stream loop stopped")
			return
		case <-ticker.C:
			m.runStream(ctx, cfg)
		}
	}
}

func (m *Manager) runStream(ctx context.Context, cfg StreamConfig) {
	lock := m.runLocks[cfg.ID]
	if !lock.TryLock() {
		logging.Warn().
			Str("stream", cfg.ID).
			Dur("interval", cfg.Interval).
			Msg("previous run still executing, tick skipped")
		metrics.RecordSyncRun(cfg.ID, "skipped", 0)
		return
	}
	defer lock.Unlock()

	report := m.runner.Run(ctx, cfg)
	m.storeReport(report)
}

func (m *Manager) storeReport(report RunReport) {
	m.reportMu.Lock()
	m.reports[report.StreamID] = report
	m.reportMu.Unlock()
}

func (m *Manager) streamConfig(streamID string) (StreamConfig, bool) {
	for _, cfg := range m.streams {
		if cfg.ID == streamID {
			return cfg, true
		}
	}
	return StreamConfig{}, false
}
