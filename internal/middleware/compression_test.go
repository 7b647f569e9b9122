// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCompressionWithGzipAccept(t *testing.T) {
	payload := strings.Repeat(`{"stream_id":"occupancy","events_delivered":42}`, 50)
	handler := Compression(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(payload)); err != nil {
			t.Errorf("write: %v", err)
		}
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/watermarks", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	handler(rec, req)

	if got := rec.Header().Get("Content-Encoding"); got != "gzip" {
		t.Fatalf("Content-Encoding = %q, want %q", got, "gzip")
	}
	if rec.Header().Get("Content-Length") != "" {
		t.Error("Content-Length should be dropped from compressed responses")
	}

	reader, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	defer reader.Close()

	decompressed, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("read decompressed body: %v", err)
	}
	if string(decompressed) != payload {
		t.Error("decompressed body does not match original payload")
	}
}

func TestCompressionWithoutGzipAccept(t *testing.T) {
	handler := Compression(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("plain response")); err != nil {
			t.Errorf("write: %v", err)
		}
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Header().Get("Content-Encoding") == "gzip" {
		t.Error("response compressed for a client that did not accept gzip")
	}
	if got := rec.Body.String(); got != "plain response" {
		t.Errorf("body = %q, want %q", got, "plain response")
	}
}

func TestCompressionPreservesStatus(t *testing.T) {
	handler := Compression(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		if _, err := w.Write([]byte(`{"success":false}`)); err != nil {
			t.Errorf("write: %v", err)
		}
	})

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	reader, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	defer reader.Close()

	body, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("read decompressed body: %v", err)
	}
	if string(body) != `{"success":false}` {
		t.Errorf("body = %q, want %q", body, `{"success":false}`)
	}
}

func TestCompressionImplicitOK(t *testing.T) {
	// Writing without an explicit WriteHeader must still produce a valid
	// gzip stream with a 200 status.
	handler := Compression(func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("implicit")); err != nil {
			t.Errorf("write: %v", err)
		}
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	reader, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	defer reader.Close()

	body, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("read decompressed body: %v", err)
	}
	if string(body) != "implicit" {
		t.Errorf("body = %q, want %q", body, "implicit")
	}
}

func BenchmarkCompression(b *testing.B) {
	payload := []byte(strings.Repeat(`{"location_id":"4f2a","occupancy_in":3,"occupancy_out":1}`, 100))
	handler := Compression(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/watermarks", nil)
	req.Header.Set("Accept-Encoding", "gzip")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rec := httptest.NewRecorder()
		handler(rec, req)
	}
}
