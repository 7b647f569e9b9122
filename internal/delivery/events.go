// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package delivery

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// SchemaVersion is the current event schema version.
// Increment this when making breaking changes to OccupancyEvent.
const SchemaVersion = 1

// Reserved wire keys. Measurement fields with these names are overwritten
// on the wire; the upstream uses "time" for its own timestamp, so in
// practice there is no overlap.
const (
	keySchemaVersion = "schema_version"
	keyEventID       = "event_id"
	keyStreamType    = "stream_type"
	keyTimestamp     = "timestamp"
	keyLocationTags  = "location_tags"
)

// OccupancyEvent is the canonical flattened event published to every
// destination. One upstream time-series entry becomes exactly one event.
//
// The wire format is a flat JSON object: measurement fields sit at the top
// level next to the envelope keys, so downstream consumers read counts and
// averages without unwrapping a nested payload.
//
// StreamType must never be empty. It is the routing identifier downstream
// consumers dispatch on; an event without it is silently unroutable, which
// is exactly the production failure this type exists to prevent.
type OccupancyEvent struct {
	// SchemaVersion tracks the event format for consumer compatibility.
	SchemaVersion int

	// EventID is deterministic: the same stream, location, and timestamp
	// always produce the same ID. Doubles as the broker message ID so
	// re-delivered windows deduplicate inside the broker's duplicate window.
	EventID string

	// StreamType identifies the logical feed (e.g. people-counter).
	StreamType string

	// Timestamp is the measurement instant, UTC.
	Timestamp time.Time

	// LocationTags is the hierarchical location path (building, floor, room).
	LocationTags []string

	// Measurements holds the upstream entry's fields verbatim.
	Measurements map[string]any
}

// eventIDNamespace scopes deterministic event IDs to this schema.
var eventIDNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("census/occupancy-event"))

// ComputeEventID derives the deterministic event ID for a stream, location
// path, and measurement instant. UUIDv5 keeps the ID opaque and fixed-width
// while remaining stable across runs, which is what makes re-delivery of an
// uncommitted window safe.
func ComputeEventID(streamType string, locationTags []string, ts time.Time) string {
	name := streamType + "|" + strings.Join(locationTags, "/") + "|" + ts.UTC().Format(time.RFC3339Nano)
	return uuid.NewSHA1(eventIDNamespace, []byte(name)).String()
}

// NewOccupancyEvent creates an event with its deterministic ID and the
// current schema version. Measurements are referenced, not copied.
func NewOccupancyEvent(streamType string, ts time.Time, locationTags []string, measurements map[string]any) *OccupancyEvent {
	return &OccupancyEvent{
		SchemaVersion: SchemaVersion,
		EventID:       ComputeEventID(streamType, locationTags, ts),
		StreamType:    streamType,
		Timestamp:     ts.UTC(),
		LocationTags:  locationTags,
		Measurements:  measurements,
	}
}

// Validate checks required fields and returns an error if validation fails.
func (e *OccupancyEvent) Validate() error {
	if e.EventID == "" {
		return &ValidationError{Field: "event_id", Message: "required"}
	}
	if e.StreamType == "" {
		return &ValidationError{Field: "stream_type", Message: "required"}
	}
	if e.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Message: "required"}
	}
	if len(e.LocationTags) == 0 {
		return &ValidationError{Field: "location_tags", Message: "at least one tag required"}
	}
	return nil
}

// Topic returns the NATS subject for this event.
// Format: occupancy.<stream_type>
// Example: occupancy.people-counter
func (e *OccupancyEvent) Topic() string {
	return "occupancy." + e.StreamType
}

// Location returns the first-level location name (building), or empty when
// no tags are present.
func (e *OccupancyEvent) Location() string {
	if len(e.LocationTags) == 0 {
		return ""
	}
	return e.LocationTags[0]
}

// MarshalJSON renders the flat wire format: envelope keys and measurement
// fields in one object. Envelope keys win on name collision.
func (e *OccupancyEvent) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(e.Measurements)+5)
	for k, v := range e.Measurements {
		flat[k] = v
	}
	flat[keySchemaVersion] = e.SchemaVersion
	flat[keyEventID] = e.EventID
	flat[keyStreamType] = e.StreamType
	flat[keyTimestamp] = e.Timestamp.UTC().Format(time.RFC3339Nano)
	flat[keyLocationTags] = e.LocationTags
	return json.Marshal(flat)
}

// UnmarshalJSON parses the flat wire format back into the typed event.
// Unknown top-level keys become measurements.
func (e *OccupancyEvent) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if v, ok := raw[keySchemaVersion].(float64); ok {
		e.SchemaVersion = int(v)
	}
	if v, ok := raw[keyEventID].(string); ok {
		e.EventID = v
	}
	if v, ok := raw[keyStreamType].(string); ok {
		e.StreamType = v
	}
	if v, ok := raw[keyTimestamp].(string); ok {
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return &ValidationError{Field: "timestamp", Message: "unparseable: " + v}
		}
		e.Timestamp = ts
	}
	if v, ok := raw[keyLocationTags].([]any); ok {
		tags := make([]string, 0, len(v))
		for _, t := range v {
			if s, ok := t.(string); ok {
				tags = append(tags, s)
			}
		}
		e.LocationTags = tags
	}

	for _, k := range []string{keySchemaVersion, keyEventID, keyStreamType, keyTimestamp, keyLocationTags} {
		delete(raw, k)
	}
	if len(raw) > 0 {
		e.Measurements = raw
	}
	return nil
}

// ValidationError represents a field validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// StreamType constants for the feeds the upstream exposes. Stream IDs in
// configuration are free-form; these are the conventional three.
const (
	// StreamTypePeopleCounter is the 15-minute people counter feed.
	StreamTypePeopleCounter = "people-counter"
	// StreamTypeOccupancySensor is the 5-minute desk/room occupancy feed.
	StreamTypeOccupancySensor = "occupancy-sensor"
	// StreamTypeHourlySnapshot is the hourly aggregate snapshot feed.
	StreamTypeHourlySnapshot = "hourly-snapshot"
)
