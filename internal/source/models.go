// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package source

import (
	"time"
)

// Location identifies one fetchable site discovered from the device cluster.
type Location struct {
	// IdentityTag is the owning-organization marker the location was
	// discovered under.
	IdentityTag string

	// DisplayName is the first-level location name (building) used as the
	// per-location fetch key.
	DisplayName string
}

// Query describes one stream's aggregation view parameters.
//
// The sync engine builds a Query from stream configuration and passes it to
// FetchWindow unchanged for every location in the stream's discovered set.
type Query struct {
	// StreamID labels metrics and logs for this stream.
	StreamID string

	// RecType is the record type requested from the aggregation view.
	RecType string

	// ViewID is the dashboard view identifier (the "id" parameter).
	ViewID string

	// DataContext is the structured filter. It is always sent as a single
	// JSON-encoded string parameter; repeated scalar keys make the upstream
	// return 5xx.
	DataContext []string

	// Fields populate the field1..field6 projection parameters in order.
	// Unused slots are filled with their own parameter name; the upstream
	// returns 503 when any of the six is absent.
	Fields []string

	// Extra carries view-specific parameters (category, metric, ownerOrg
	// for the hourly snapshot view).
	Extra map[string]string
}

// LineEntry is one time-series point from a dashboard record's line array.
// Measurement fields are kept verbatim; the normalizer copies them through
// without interpretation.
type LineEntry map[string]any

// Timestamp extracts and parses the entry's "time" field.
// Returns false when the field is absent, not a string, or unparseable.
func (e LineEntry) Timestamp() (time.Time, bool) {
	raw, ok := e["time"].(string)
	if !ok || raw == "" {
		return time.Time{}, false
	}
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts.UTC(), true
	}
	// Some views omit the zone designator; those timestamps are UTC.
	if ts, err := time.ParseInLocation("2006-01-02T15:04:05", raw, time.UTC); err == nil {
		return ts, true
	}
	return time.Time{}, false
}

// RecordGroup is one aggregation object: a location tag path plus its
// ordered time-series entries.
type RecordGroup struct {
	// Tags is the hierarchical location path (building, floor, room).
	Tags []string

	// Line holds the time-series entries in upstream arrival order.
	Line []LineEntry
}

// RawRecord is the full aggregation response for one location and window,
// with pagination already collapsed. Arrival order is preserved across
// pages and groups.
type RawRecord struct {
	Location string
	Groups   []RecordGroup
}

// EntryCount returns the total number of time-series entries across groups.
func (r *RawRecord) EntryCount() int {
	n := 0
	for _, g := range r.Groups {
		n += len(g.Line)
	}
	return n
}

// Wire shapes for the aggregation endpoint.

type recordEnvelope struct {
	Objs []recordObject `json:"objs"`
	Meta pageMeta       `json:"meta"`
}

type recordObject struct {
	Data recordData `json:"data"`
}

type recordData struct {
	ID   recordKey   `json:"_id"`
	Line []LineEntry `json:"line"`
}

type recordKey struct {
	Tags []string `json:"tags"`
}

type pageMeta struct {
	TotalPages  int `json:"totalPages"`
	CurrentPage int `json:"currentPage"`
	TotalCount  int `json:"totalCount"`
}

// Wire shapes for the device cluster enumeration endpoint.

type clusterEnvelope struct {
	Objs []clusterObject `json:"objs"`
}

type clusterObject struct {
	Owner clusterOwner `json:"owner"`
	Data  clusterData  `json:"data"`
}

type clusterOwner struct {
	Org string `json:"org"`
}

type clusterData struct {
	Devices []clusterDevice `json:"devices"`
}

type clusterDevice struct {
	ID   string     `json:"id"`
	Meta deviceMeta `json:"meta"`
}

type deviceMeta struct {
	Location []string `json:"location"`
}
