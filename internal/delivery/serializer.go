// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package delivery

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Serializer handles event serialization with validation.
type Serializer struct{}

// NewSerializer creates a new event serializer.
func NewSerializer() *Serializer {
	return &Serializer{}
}

// Serialize validates and serializes an event to its flat JSON wire form.
func (s *Serializer) Serialize(event *OccupancyEvent) ([]byte, error) {
	if event == nil {
		return nil, fmt.Errorf("event is nil")
	}

	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("event validation failed: %w", err)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	return data, nil
}

// Deserialize parses JSON data into an event and validates it.
func (s *Serializer) Deserialize(data []byte) (*OccupancyEvent, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("data is empty")
	}

	var event OccupancyEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("event validation failed: %w", err)
	}

	return &event, nil
}
