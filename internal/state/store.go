// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/goccy/go-json"

	"github.com/tomtom215/census/internal/logging"
	"github.com/tomtom215/census/internal/metrics"
)

// Store persists sync watermarks and seen-event sets in BadgerDB.
// Watermark commits are ACID with fsync when SyncWrites is enabled, so a
// committed watermark survives process crashes and power loss. The seen-event
// set provides best-effort duplicate suppression across runs; losing it only
// causes re-delivery, never loss.
type Store struct {
	db     *badger.DB
	config Config

	// Statistics
	totalCommits    atomic.Int64
	totalSeenWrites atomic.Int64

	// State tracking
	lastCompaction time.Time
	mu             sync.RWMutex
	closed         bool
}

// Prefix keys for the two stored record types
const (
	prefixWatermark = "wm:"
	prefixSeen      = "seen:"
)

// seenBatchSize bounds a single write transaction when marking events seen.
const seenBatchSize = 500

// Open creates a Store backed by BadgerDB at the configured path.
func Open(cfg *Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid state config: %w", err)
	}

	opts := badger.DefaultOptions(cfg.Path)
	opts.SyncWrites = cfg.SyncWrites
	opts.MemTableSize = cfg.MemTableSize
	opts.ValueLogFileSize = cfg.ValueLogFileSize
	opts.NumCompactors = cfg.NumCompactors

	// Apply compression if enabled
	if cfg.Compression {
		opts.Compression = options.Snappy
	}

	// Apply additional tuning options
	if cfg.NumMemtables > 0 {
		opts.NumMemtables = cfg.NumMemtables
	}
	if cfg.BlockCacheSize > 0 {
		opts.BlockCacheSize = cfg.BlockCacheSize
	}
	if cfg.IndexCacheSize > 0 {
		opts.IndexCacheSize = cfg.IndexCacheSize
	}

	// Reduce logging verbosity
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	s := &Store{
		db:             db,
		config:         *cfg,
		lastCompaction: time.Now(),
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("sync_writes", cfg.SyncWrites).
		Bool("compression", cfg.Compression).
		Msg("State store opened")
	return s, nil
}

// OpenForTesting creates a Store without configuration validation.
// This is intended for unit tests that need faster intervals than production
// minimums. WARNING: Do not use in production code.
func OpenForTesting(cfg *Config) (*Store, error) {
	// Ensure minimum BadgerDB requirements even for tests
	if cfg.NumCompactors < 2 {
		cfg.NumCompactors = 2
	}
	if cfg.GCRatio == 0 {
		cfg.GCRatio = 0.5
	}
	if cfg.CloseTimeout == 0 {
		cfg.CloseTimeout = 30 * time.Second
	}
	if cfg.MemTableSize == 0 {
		cfg.MemTableSize = 16 * 1024 * 1024
	}
	if cfg.ValueLogFileSize == 0 {
		cfg.ValueLogFileSize = 64 * 1024 * 1024
	}
	if cfg.SeenLimit == 0 {
		cfg.SeenLimit = 1000
	}
	if cfg.SeenTrimTo == 0 {
		cfg.SeenTrimTo = 500
	}

	opts := badger.DefaultOptions(cfg.Path)
	opts.SyncWrites = cfg.SyncWrites
	opts.MemTableSize = cfg.MemTableSize
	opts.ValueLogFileSize = cfg.ValueLogFileSize
	opts.NumCompactors = cfg.NumCompactors
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	return &Store{
		db:             db,
		config:         *cfg,
		lastCompaction: time.Now(),
	}, nil
}

// LoadWatermark returns the durable watermark for a stream.
// Returns ErrWatermarkNotFound for streams that have never committed; the
// caller decides the initial position (typically now minus the default
// lookback).
func (s *Store) LoadWatermark(ctx context.Context, streamID string) (Watermark, error) {
	var wm Watermark

	if err := s.checkOpen(); err != nil {
		return wm, err
	}
	if streamID == "" {
		return wm, ErrEmptyStreamID
	}

	key := []byte(prefixWatermark + streamID)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrWatermarkNotFound
		}
		if err != nil {
			return fmt.Errorf("get watermark: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &wm)
		})
	})
	if errors.Is(err, ErrWatermarkNotFound) {
		return wm, err
	}
	metrics.RecordStateOperation("load", err)
	if err != nil {
		return wm, err
	}
	return wm, nil
}

// CommitWatermark durably persists a watermark. The commit is atomic: either
// the whole watermark (both timestamps and both counters) becomes visible or
// none of it does. Violating LastSuccessEnd <= LastFetchEnd is rejected.
func (s *Store) CommitWatermark(ctx context.Context, wm Watermark) error {
	start := time.Now()
	defer func() {
		metrics.RecordStateCommit(time.Since(start))
	}()

	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := wm.Validate(); err != nil {
		return err
	}

	wm.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(&wm)
	if err != nil {
		return fmt.Errorf("marshal watermark: %w", err)
	}

	key := []byte(prefixWatermark + wm.StreamID)
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
	metrics.RecordStateOperation("commit", err)
	if err != nil {
		return fmt.Errorf("commit watermark: %w", err)
	}

	s.totalCommits.Add(1)
	return nil
}

// RecordFetchEnd durably advances LastFetchEnd after a fetch attempt
// completed, leaving LastSuccessEnd and the counters untouched. If no
// watermark exists yet, base seeds the stored record so the initial
// LastSuccessEnd position survives restarts. Returns the stored watermark.
func (s *Store) RecordFetchEnd(ctx context.Context, base Watermark, end time.Time) (Watermark, error) {
	if err := s.checkOpen(); err != nil {
		return base, err
	}
	if err := base.Validate(); err != nil {
		return base, err
	}

	end = end.UTC()
	key := []byte(prefixWatermark + base.StreamID)
	var stored Watermark

	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			stored = base
		case err != nil:
			return fmt.Errorf("get watermark: %w", err)
		default:
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &stored)
			}); err != nil {
				return fmt.Errorf("unmarshal watermark: %w", err)
			}
		}

		if end.After(stored.LastFetchEnd) {
			stored.LastFetchEnd = end
		}
		stored.UpdatedAt = time.Now().UTC()

		data, err := json.Marshal(&stored)
		if err != nil {
			return fmt.Errorf("marshal watermark: %w", err)
		}
		return txn.Set(key, data)
	})
	metrics.RecordStateOperation("commit", err)
	if err != nil {
		return base, fmt.Errorf("record fetch end: %w", err)
	}
	return stored, nil
}

// Watermarks returns all stored watermarks, keyed by stream ID.
// Used by the readiness endpoint and the compactor.
func (s *Store) Watermarks(ctx context.Context) (map[string]Watermark, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	result := make(map[string]Watermark)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixWatermark)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			item := it.Item()
			var wm Watermark
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &wm)
			}); err != nil {
				logging.Warn().Err(err).Str("key", string(item.Key())).Msg("State store failed to unmarshal watermark")
				continue
			}
			result[wm.StreamID] = wm
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate watermarks: %w", err)
	}
	return result, nil
}

// IsSeen reports whether an event ID was previously marked seen for a stream.
func (s *Store) IsSeen(ctx context.Context, streamID, eventID string) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	if streamID == "" {
		return false, ErrEmptyStreamID
	}
	if eventID == "" {
		return false, ErrEmptyEventID
	}

	key := []byte(prefixSeen + streamID + ":" + eventID)
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get seen key: %w", err)
	}
	return true, nil
}

// FilterSeen returns the subset of ids already marked seen for a stream.
// All lookups happen inside one snapshot transaction.
func (s *Store) FilterSeen(ctx context.Context, streamID string, ids []string) (map[string]struct{}, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if streamID == "" {
		return nil, ErrEmptyStreamID
	}

	seen := make(map[string]struct{})
	err := s.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			if id == "" {
				continue
			}
			key := []byte(prefixSeen + streamID + ":" + id)
			_, err := txn.Get(key)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("get seen key: %w", err)
			}
			seen[id] = struct{}{}
		}
		return nil
	})
	metrics.RecordStateOperation("seen", err)
	if err != nil {
		return nil, err
	}
	return seen, nil
}

// MarkSeen records event IDs as seen for a stream. Values carry an insertion
// timestamp so compaction can trim oldest-first. Writes are chunked to stay
// under BadgerDB transaction limits.
func (s *Store) MarkSeen(ctx context.Context, streamID string, ids []string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if streamID == "" {
		return ErrEmptyStreamID
	}

	base := time.Now().UTC().UnixNano()
	for start := 0; start < len(ids); start += seenBatchSize {
		end := start + seenBatchSize
		if end > len(ids) {
			end = len(ids)
		}

		chunk := ids[start:end]
		err := s.db.Update(func(txn *badger.Txn) error {
			for i, id := range chunk {
				if id == "" {
					continue
				}
				key := []byte(prefixSeen + streamID + ":" + id)
				// Offset keeps ordering strict within a batch.
				val := []byte(strconv.FormatInt(base+int64(start+i), 10))
				if err := txn.Set(key, val); err != nil {
					return err
				}
			}
			return nil
		})
		metrics.RecordStateOperation("seen", err)
		if err != nil {
			return fmt.Errorf("mark seen: %w", err)
		}
		s.totalSeenWrites.Add(int64(len(chunk)))
	}
	return nil
}

// SeenCount returns the number of seen-event keys stored for a stream.
func (s *Store) SeenCount(ctx context.Context, streamID string) (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	var count int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixSeen + streamID + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count seen keys: %w", err)
	}
	return count, nil
}

// TrimSeen enforces the seen-set size limit for a stream. When the set
// exceeds SeenLimit, the oldest entries are deleted until SeenTrimTo remain.
// Returns the number of entries deleted.
func (s *Store) TrimSeen(ctx context.Context, streamID string) (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if streamID == "" {
		return 0, ErrEmptyStreamID
	}

	type seenKey struct {
		key []byte
		at  int64
	}

	var deleted int64
	err := s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		var keys []seenKey
		prefix := []byte(prefixSeen + streamID + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()

			var at int64
			err := item.Value(func(val []byte) error {
				parsed, perr := strconv.ParseInt(string(val), 10, 64)
				if perr != nil {
					return perr
				}
				at = parsed
				return nil
			})
			if err != nil {
				// Unparseable timestamps sort first so they are trimmed early.
				at = 0
			}

			keyCopy := make([]byte, len(item.Key()))
			copy(keyCopy, item.Key())
			keys = append(keys, seenKey{key: keyCopy, at: at})
		}

		if len(keys) <= s.config.SeenLimit {
			return nil
		}

		sort.Slice(keys, func(i, j int) bool { return keys[i].at < keys[j].at })

		excess := len(keys) - s.config.SeenTrimTo
		for _, k := range keys[:excess] {
			if err := txn.Delete(k.key); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("trim seen keys: %w", err)
	}
	return deleted, nil
}

// Stats contains store metrics for monitoring.
type Stats struct {
	// Streams is the number of streams with a stored watermark.
	Streams int64

	// SeenEntries is the total number of seen-event keys across streams.
	SeenEntries int64

	// TotalCommits is the number of watermark commits since open.
	TotalCommits int64

	// TotalSeenWrites is the number of seen keys written since open.
	TotalSeenWrites int64

	// LastCompaction is the time of the last compaction run.
	LastCompaction time.Time

	// DBSizeBytes is the estimated database size.
	DBSizeBytes int64
}

// Stats returns current store statistics.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	closed := s.closed
	lastCompaction := s.lastCompaction
	s.mu.RUnlock()

	if closed {
		return Stats{}
	}

	var streams, seenEntries int64
	if err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		wmPrefix := []byte(prefixWatermark)
		for it.Seek(wmPrefix); it.ValidForPrefix(wmPrefix); it.Next() {
			streams++
		}

		seenPrefix := []byte(prefixSeen)
		for it.Seek(seenPrefix); it.ValidForPrefix(seenPrefix); it.Next() {
			seenEntries++
		}
		return nil
	}); err != nil {
		logging.Warn().Err(err).Msg("State store Stats failed to count entries")
	}

	lsm, vlog := s.db.Size()

	return Stats{
		Streams:         streams,
		SeenEntries:     seenEntries,
		TotalCommits:    s.totalCommits.Load(),
		TotalSeenWrites: s.totalSeenWrites.Load(),
		LastCompaction:  lastCompaction,
		DBSizeBytes:     lsm + vlog,
	}
}

// RunGC triggers BadgerDB value log garbage collection.
// This should be called periodically to reclaim space.
func (s *Store) RunGC() error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	// Run GC until no more cleanup is possible
	for {
		err := s.db.RunValueLogGC(s.config.GCRatio)
		if errors.Is(err, badger.ErrNoRewrite) {
			break
		}
		if err != nil {
			metrics.RecordStateOperation("gc", err)
			return fmt.Errorf("run GC: %w", err)
		}
	}
	metrics.RecordStateOperation("gc", nil)

	return nil
}

// markCompacted records the completion time of a compaction run.
func (s *Store) markCompacted(at time.Time) {
	s.mu.Lock()
	s.lastCompaction = at
	s.mu.Unlock()
}

// Config returns the store configuration.
func (s *Store) Config() Config {
	return s.config
}

// Close gracefully shuts down the store with a configurable timeout.
// If the database doesn't close within CloseTimeout, Close returns with an
// error to prevent indefinite hangs.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	timeout := s.config.CloseTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	s.mu.Unlock()

	logging.Info().Msg("Closing state store")

	done := make(chan error, 1)
	go func() {
		done <- s.db.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("close BadgerDB: %w", err)
		}
		logging.Info().Msg("State store closed")
		return nil
	case <-time.After(timeout):
		logging.Warn().Dur("timeout", timeout).Msg("BadgerDB close timed out")
		return fmt.Errorf("badgerdb close timeout after %v", timeout)
	}
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Errors
var (
	// ErrStoreClosed is returned when the store is closed.
	ErrStoreClosed = fmt.Errorf("state store is closed")

	// ErrEmptyStreamID is returned when an empty stream ID is provided.
	ErrEmptyStreamID = fmt.Errorf("stream ID cannot be empty")

	// ErrEmptyEventID is returned when an empty event ID is provided.
	ErrEmptyEventID = fmt.Errorf("event ID cannot be empty")

	// ErrWatermarkNotFound is returned for streams without a committed watermark.
	ErrWatermarkNotFound = fmt.Errorf("watermark not found")

	// ErrWatermarkOrder is returned when LastSuccessEnd exceeds LastFetchEnd.
	ErrWatermarkOrder = fmt.Errorf("watermark order violated: last_success_end after last_fetch_end")
)
