// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package sync

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/census/internal/delivery"
	"github.com/tomtom215/census/internal/logging"
	"github.com/tomtom215/census/internal/metrics"
	"github.com/tomtom215/census/internal/source"
)

// Normalizer flattens nested upstream records into occupancy events.
type Normalizer struct{}

// NewNormalizer creates a normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Flatten turns one location's raw record into events, preserving arrival
// order. Every event carries the stream type and a location tag path;
// entries outside [window.Start, window.End) are dropped, as are entries
// whose timestamp is missing or unparseable. In-run deduplication is
// positional (timestamp plus location path) because upstream timestamps
// are unique per device per interval by construction. Returns the events
// and the number of positional duplicates skipped.
func (n *Normalizer) Flatten(rec *source.RawRecord, streamType string, fallbackTags []string, window Window) ([]*delivery.OccupancyEvent, int, error) {
	if streamType == "" {
		return nil, 0, ErrNoStreamType
	}
	if rec == nil {
		return nil, 0, nil
	}

	events := make([]*delivery.OccupancyEvent, 0, rec.EntryCount())
	seen := make(map[string]struct{}, rec.EntryCount())
	duplicates := 0

	for _, group := range rec.Groups {
		tags := group.Tags
		if len(tags) == 0 {
			tags = fallbackTags
		}

		for _, entry := range group.Line {
			ts, ok := entry.Timestamp()
			if !ok {
				metrics.RecordRecordDropped(streamType, "bad_timestamp")
				logging.Warn().
					Str("stream", streamType).
					Str("location", rec.Location).
					Msg("dropping entry without usable timestamp")
				continue
			}
			if !window.Contains(ts) {
				metrics.RecordRecordDropped(streamType, "outside_window")
				continue
			}

			key := positionKey(ts.UnixNano(), tags)
			if _, dup := seen[key]; dup {
				duplicates++
				continue
			}
			seen[key] = struct{}{}

			measurements := make(map[string]any, len(entry))
			for k, v := range entry {
				measurements[k] = v
			}

			events = append(events, delivery.NewOccupancyEvent(streamType, ts, tags, measurements))
		}
	}

	return events, duplicates, nil
}

// positionKey builds the in-run dedup key from an instant and a tag path.
func positionKey(unixNano int64, tags []string) string {
	return strconv.FormatInt(unixNano, 10) + "|" + strings.Join(tags, "/")
}

// checkContinuity flags gaps between consecutive event timestamps within
// one location path. expected is the upstream reporting cadence; the
// threshold is 1.5x that, matching the sensors' jitter. Diagnostic only,
// a gap never fails the run.
func checkContinuity(streamID string, events []*delivery.OccupancyEvent, expected time.Duration) {
	if expected <= 0 || len(events) < 2 {
		return
	}
	threshold := expected + expected/2

	byPath := make(map[string][]time.Time)
	for _, e := range events {
		path := strings.Join(e.LocationTags, "/")
		byPath[path] = append(byPath[path], e.Timestamp)
	}

	for path, stamps := range byPath {
		sort.Slice(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })
		for i := 1; i < len(stamps); i++ {
			gap := stamps[i].Sub(stamps[i-1])
			if gap > threshold {
				metrics.RecordGapDetected(streamID)
				logging.Warn().
					Str("stream", streamID).
					Str("location", path).
					Time("gap_start", stamps[i-1]).
					Time("gap_end", stamps[i]).
					Dur("gap", gap).
					Msg("data continuity gap detected")
			}
		}
	}
}
