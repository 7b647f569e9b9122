// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestGenerateCorrelationID(t *testing.T) {
	t.Parallel()

	id1 := GenerateCorrelationID()
	id2 := GenerateCorrelationID()

	if id1 == "" {
		t.Error("expected non-empty correlation ID")
	}
	if len(id1) != 8 {
		t.Errorf("expected 8-character correlation ID, got %d", len(id1))
	}
	if id1 == id2 {
		t.Error("expected unique correlation IDs")
	}
}

func TestGenerateRequestID(t *testing.T) {
	t.Parallel()

	id1 := GenerateRequestID()
	id2 := GenerateRequestID()

	if id1 == "" {
		t.Error("expected non-empty request ID")
	}
	if len(id1) != 36 { // UUID format
		t.Errorf("expected 36-character request ID, got %d", len(id1))
	}
	if id1 == id2 {
		t.Error("expected unique request IDs")
	}
}

func TestCorrelationIDContext(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	// Without correlation ID
	id := CorrelationIDFromContext(ctx)
	if id != "" {
		t.Errorf("expected empty correlation ID, got %s", id)
	}

	// With correlation ID
	ctx = ContextWithCorrelationID(ctx, "test-123")
	id = CorrelationIDFromContext(ctx)
	if id != "test-123" {
		t.Errorf("expected 'test-123', got '%s'", id)
	}
}

func TestContextWithNewCorrelationID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ctx = ContextWithNewCorrelationID(ctx)

	id := CorrelationIDFromContext(ctx)
	if id == "" {
		t.Error("expected correlation ID to be generated")
	}
	if len(id) != 8 {
		t.Errorf("expected 8-character correlation ID, got %d", len(id))
	}
}

func TestRequestIDContext(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	// Without request ID
	id := RequestIDFromContext(ctx)
	if id != "" {
		t.Errorf("expected empty request ID, got %s", id)
	}

	// With request ID
	ctx = ContextWithRequestID(ctx, "req-456")
	id = RequestIDFromContext(ctx)
	if id != "req-456" {
		t.Errorf("expected 'req-456', got '%s'", id)
	}
}

func TestCtxAddsCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(zerolog.New(&buf))

	ctx := ContextWithCorrelationID(context.Background(), "run-abc1")
	Ctx(ctx).Info().Msg("window committed")

	output := buf.String()
	if !strings.Contains(output, "correlation_id") {
		t.Errorf("expected correlation_id field in output: %s", output)
	}
	if !strings.Contains(output, "run-abc1") {
		t.Errorf("expected correlation ID value in output: %s", output)
	}
}

func TestCtxAddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(zerolog.New(&buf))

	ctx := ContextWithRequestID(context.Background(), "req-xyz")
	Ctx(ctx).Info().Msg("request processed")

	output := buf.String()
	if !strings.Contains(output, "request_id") {
		t.Errorf("expected request_id field in output: %s", output)
	}
	if !strings.Contains(output, "req-xyz") {
		t.Errorf("expected request ID value in output: %s", output)
	}
}

func TestCtxWithoutIDs(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(zerolog.New(&buf))

	Ctx(context.Background()).Info().Msg("plain message")

	output := buf.String()
	if strings.Contains(output, "correlation_id") {
		t.Errorf("did not expect correlation_id field in output: %s", output)
	}
	if !strings.Contains(output, "plain message") {
		t.Errorf("expected message in output: %s", output)
	}
}

func TestCtxWithBuilder(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(zerolog.New(&buf))

	ctx := ContextWithCorrelationID(context.Background(), "run-def2")
	logger := CtxWith(ctx).Str("stream", "people-counter").Logger()
	logger.Info().Msg("fetch complete")

	output := buf.String()
	if !strings.Contains(output, "run-def2") {
		t.Errorf("expected correlation ID in output: %s", output)
	}
	if !strings.Contains(output, "people-counter") {
		t.Errorf("expected stream field in output: %s", output)
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(zerolog.New(&buf))

	logger := WithComponent("delivery")
	logger.Info().Msg("batch sent")

	output := buf.String()
	if !strings.Contains(output, `"component":"delivery"`) {
		t.Errorf("expected component field in output: %s", output)
	}
}
