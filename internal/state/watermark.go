// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package state

import "time"

// Watermark records per-stream sync progress. Two timestamps move
// independently: LastFetchEnd advances whenever a fetch attempt completes,
// LastSuccessEnd advances only when delivery satisfied the commit policy.
// LastSuccessEnd never exceeds LastFetchEnd, and the next window always
// starts at LastSuccessEnd, so windows that fetched but failed to deliver
// are retried in full.
type Watermark struct {
	// StreamID identifies the stream this watermark belongs to.
	StreamID string `json:"stream_id"`

	// LastFetchEnd is the end of the most recent fetch window, whether or
	// not its events were delivered.
	LastFetchEnd time.Time `json:"last_fetch_end"`

	// LastSuccessEnd is the end of the most recent window whose events
	// were delivered and committed. The next window starts here.
	LastSuccessEnd time.Time `json:"last_success_end"`

	// EventsDelivered is the cumulative count of events delivered across
	// the lifetime of this watermark.
	EventsDelivered uint64 `json:"events_delivered"`

	// DuplicatesSkipped is the cumulative count of events skipped as
	// duplicates across the lifetime of this watermark.
	DuplicatesSkipped uint64 `json:"duplicates_skipped"`

	// UpdatedAt is when this watermark was last written. Set by the store.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewWatermark returns a watermark positioned at start with no history.
func NewWatermark(streamID string, start time.Time) Watermark {
	return Watermark{
		StreamID:       streamID,
		LastFetchEnd:   start.UTC(),
		LastSuccessEnd: start.UTC(),
	}
}

// Validate checks the watermark's internal consistency.
func (w *Watermark) Validate() error {
	if w.StreamID == "" {
		return ErrEmptyStreamID
	}
	if w.LastSuccessEnd.After(w.LastFetchEnd) {
		return ErrWatermarkOrder
	}
	return nil
}

// Advance returns a copy of the watermark moved forward to end, with the
// delivery counters incremented. Both timestamps advance because Advance is
// only called after delivery satisfied the commit policy.
func (w Watermark) Advance(end time.Time, delivered, duplicates uint64) Watermark {
	next := w
	end = end.UTC()
	if end.After(next.LastFetchEnd) {
		next.LastFetchEnd = end
	}
	if end.After(next.LastSuccessEnd) {
		next.LastSuccessEnd = end
	}
	next.EventsDelivered += delivered
	next.DuplicatesSkipped += duplicates
	return next
}
