// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package delivery

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

func TestComputeEventIDDeterministic(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tags := []string{"Building A", "Floor 2"}

	id1 := ComputeEventID(StreamTypePeopleCounter, tags, ts)
	id2 := ComputeEventID(StreamTypePeopleCounter, tags, ts)
	if id1 != id2 {
		t.Errorf("same inputs produced different IDs: %s vs %s", id1, id2)
	}

	u, err := uuid.Parse(id1)
	if err != nil {
		t.Fatalf("event ID is not a valid UUID: %v", err)
	}
	if u.Version() != 5 {
		t.Errorf("expected UUIDv5, got version %d", u.Version())
	}
}

func TestComputeEventIDDistinct(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tags := []string{"Building A"}
	base := ComputeEventID(StreamTypePeopleCounter, tags, ts)

	tests := []struct {
		name string
		id   string
	}{
		{"different stream", ComputeEventID(StreamTypeOccupancySensor, tags, ts)},
		{"different location", ComputeEventID(StreamTypePeopleCounter, []string{"Building B"}, ts)},
		{"different timestamp", ComputeEventID(StreamTypePeopleCounter, tags, ts.Add(time.Minute))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.id == base {
				t.Errorf("expected distinct ID, got same as base %s", base)
			}
		})
	}
}

func TestComputeEventIDNormalizesZone(t *testing.T) {
	utc := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	offset := utc.In(time.FixedZone("CET", 2*3600))

	idUTC := ComputeEventID(StreamTypePeopleCounter, []string{"Building A"}, utc)
	idOffset := ComputeEventID(StreamTypePeopleCounter, []string{"Building A"}, offset)
	if idUTC != idOffset {
		t.Errorf("same instant in different zones produced different IDs: %s vs %s", idUTC, idOffset)
	}
}

func TestNewOccupancyEvent(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	tags := []string{"Building A", "Floor 2"}
	m := map[string]any{"count": 12}

	e := NewOccupancyEvent(StreamTypePeopleCounter, ts, tags, m)

	if e.SchemaVersion != SchemaVersion {
		t.Errorf("expected schema version %d, got %d", SchemaVersion, e.SchemaVersion)
	}
	if e.StreamType != StreamTypePeopleCounter {
		t.Errorf("expected stream type %q, got %q", StreamTypePeopleCounter, e.StreamType)
	}
	if e.Timestamp.Location() != time.UTC {
		t.Errorf("expected UTC timestamp, got zone %v", e.Timestamp.Location())
	}
	if !e.Timestamp.Equal(ts) {
		t.Errorf("expected timestamp %v, got %v", ts, e.Timestamp)
	}
	want := ComputeEventID(StreamTypePeopleCounter, tags, ts)
	if e.EventID != want {
		t.Errorf("expected event ID %s, got %s", want, e.EventID)
	}
	if err := e.Validate(); err != nil {
		t.Errorf("expected valid event, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *OccupancyEvent {
		return NewOccupancyEvent(
			StreamTypePeopleCounter,
			time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			[]string{"Building A"},
			map[string]any{"count": 1},
		)
	}

	tests := []struct {
		name      string
		mutate    func(*OccupancyEvent)
		wantField string
	}{
		{"valid", func(e *OccupancyEvent) {}, ""},
		{"missing event ID", func(e *OccupancyEvent) { e.EventID = "" }, "event_id"},
		{"missing stream type", func(e *OccupancyEvent) { e.StreamType = "" }, "stream_type"},
		{"zero timestamp", func(e *OccupancyEvent) { e.Timestamp = time.Time{} }, "timestamp"},
		{"no location tags", func(e *OccupancyEvent) { e.LocationTags = nil }, "location_tags"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid()
			tt.mutate(e)
			err := e.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %T", err)
			}
			if verr.Field != tt.wantField {
				t.Errorf("expected field %q, got %q", tt.wantField, verr.Field)
			}
		})
	}
}

func TestTopic(t *testing.T) {
	e := &OccupancyEvent{StreamType: StreamTypePeopleCounter}
	if got := e.Topic(); got != "occupancy.people-counter" {
		t.Errorf("expected topic occupancy.people-counter, got %s", got)
	}
}

func TestLocation(t *testing.T) {
	e := &OccupancyEvent{LocationTags: []string{"Building A", "Floor 2"}}
	if got := e.Location(); got != "Building A" {
		t.Errorf("expected location Building A, got %s", got)
	}
	empty := &OccupancyEvent{}
	if got := empty.Location(); got != "" {
		t.Errorf("expected empty location, got %s", got)
	}
}

func TestMarshalFlatWireFormat(t *testing.T) {
	e := NewOccupancyEvent(
		StreamTypePeopleCounter,
		time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		[]string{"Building A"},
		map[string]any{"count": 12, "avg": 3.5},
	)

	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var wire map[string]any
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatalf("wire format is not a JSON object: %v", err)
	}

	// Measurements sit at the top level next to the envelope keys.
	for _, key := range []string{"count", "avg", "schema_version", "event_id", "stream_type", "timestamp", "location_tags"} {
		if _, ok := wire[key]; !ok {
			t.Errorf("expected top-level key %q in wire format", key)
		}
	}
	if _, ok := wire["measurements"]; ok {
		t.Error("wire format must not nest measurements")
	}
	if wire["count"] != float64(12) {
		t.Errorf("expected count 12, got %v", wire["count"])
	}
	if wire["stream_type"] != StreamTypePeopleCounter {
		t.Errorf("expected stream_type %q, got %v", StreamTypePeopleCounter, wire["stream_type"])
	}
	if wire["timestamp"] != "2026-03-01T12:00:00Z" {
		t.Errorf("unexpected timestamp encoding: %v", wire["timestamp"])
	}
}

func TestMarshalEnvelopeKeysWinCollision(t *testing.T) {
	e := NewOccupancyEvent(
		StreamTypePeopleCounter,
		time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		[]string{"Building A"},
		map[string]any{"stream_type": "spoofed", "count": 1},
	)

	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var wire map[string]any
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if wire["stream_type"] != StreamTypePeopleCounter {
		t.Errorf("envelope stream_type must win collision, got %v", wire["stream_type"])
	}
}

func TestUnmarshalRoundTrip(t *testing.T) {
	orig := NewOccupancyEvent(
		StreamTypeOccupancySensor,
		time.Date(2026, 3, 1, 12, 30, 15, 0, time.UTC),
		[]string{"Building A", "Floor 2", "Room 201"},
		map[string]any{"occupied": true, "count": float64(3), "time": "2026-03-01T12:30:15.000Z"},
	)

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var got OccupancyEvent
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if got.SchemaVersion != orig.SchemaVersion {
		t.Errorf("expected schema version %d, got %d", orig.SchemaVersion, got.SchemaVersion)
	}
	if got.EventID != orig.EventID {
		t.Errorf("expected event ID %s, got %s", orig.EventID, got.EventID)
	}
	if got.StreamType != orig.StreamType {
		t.Errorf("expected stream type %s, got %s", orig.StreamType, got.StreamType)
	}
	if !got.Timestamp.Equal(orig.Timestamp) {
		t.Errorf("expected timestamp %v, got %v", orig.Timestamp, got.Timestamp)
	}
	if !reflect.DeepEqual(got.LocationTags, orig.LocationTags) {
		t.Errorf("expected tags %v, got %v", orig.LocationTags, got.LocationTags)
	}
	if !reflect.DeepEqual(got.Measurements, orig.Measurements) {
		t.Errorf("expected measurements %v, got %v", orig.Measurements, got.Measurements)
	}
}

func TestUnmarshalBadTimestamp(t *testing.T) {
	var e OccupancyEvent
	err := json.Unmarshal([]byte(`{"event_id":"x","stream_type":"people-counter","timestamp":"not-a-time"}`), &e)
	if err == nil {
		t.Fatal("expected error for unparseable timestamp")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if verr.Field != "timestamp" {
		t.Errorf("expected timestamp field, got %q", verr.Field)
	}
}

func TestUnmarshalEnvelopeOnly(t *testing.T) {
	wire := `{"schema_version":1,"event_id":"abc","stream_type":"people-counter","timestamp":"2026-03-01T12:00:00Z","location_tags":["Building A"]}`
	var e OccupancyEvent
	if err := json.Unmarshal([]byte(wire), &e); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if e.Measurements != nil {
		t.Errorf("expected nil measurements, got %v", e.Measurements)
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Field: "stream_type", Message: "required"}
	if got := err.Error(); !strings.Contains(got, "stream_type") || !strings.Contains(got, "required") {
		t.Errorf("unexpected error string: %s", got)
	}
}
