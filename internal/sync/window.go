// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package sync

import (
	"fmt"
	"time"
)

// Window is one fetch interval: inclusive start, exclusive end. The
// exclusive end prevents the same instant being fetched by two adjacent
// windows.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewWindow returns a window over [start, end) in UTC.
func NewWindow(start, end time.Time) Window {
	return Window{Start: start.UTC(), End: end.UTC()}
}

// Valid reports whether the window has positive span.
func (w Window) Valid() bool {
	return w.End.After(w.Start)
}

// Span returns the window's duration.
func (w Window) Span() time.Duration {
	return w.End.Sub(w.Start)
}

// Contains reports whether ts falls inside [Start, End).
func (w Window) Contains(ts time.Time) bool {
	return !ts.Before(w.Start) && ts.Before(w.End)
}

// String renders the window for logs.
func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}

// computeWindow derives the next fetch window from the watermark position,
// capping the span at maxCatchUp. Returns the window and whether it was
// capped; a capped window leaves the remainder for the next tick.
func computeWindow(lastSuccessEnd, now time.Time, maxCatchUp time.Duration) (Window, bool) {
	start := lastSuccessEnd.UTC()
	end := now.UTC()
	if maxCatchUp > 0 && end.Sub(start) > maxCatchUp {
		return NewWindow(start, start.Add(maxCatchUp)), true
	}
	return NewWindow(start, end), false
}
