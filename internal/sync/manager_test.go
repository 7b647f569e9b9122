// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package sync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeRunner struct {
	mu      sync.Mutex
	calls   []string
	started chan struct{}
	block   chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, cfg StreamConfig) RunReport {
	f.mu.Lock()
	f.calls = append(f.calls, cfg.ID)
	started := f.started
	block := f.block
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		<-block
	}
	return RunReport{StreamID: cfg.ID, State: StateCommitted, StartedAt: time.Now()}
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeRunner) calledStreams() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int)
	for _, id := range f.calls {
		out[id]++
	}
	return out
}

func streamWithID(id string) StreamConfig {
	cfg := validStreamConfig()
	cfg.ID = id
	return cfg
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestNewManagerValidation(t *testing.T) {
	tests := []struct {
		name    string
		runner  Runner
		streams []StreamConfig
		wantErr bool
	}{
		{"valid", &fakeRunner{}, []StreamConfig{validStreamConfig()}, false},
		{"nil runner", nil, []StreamConfig{validStreamConfig()}, true},
		{"no streams", &fakeRunner{}, nil, true},
		{"invalid stream", &fakeRunner{}, []StreamConfig{{ID: "s"}}, true},
		{"duplicate ids", &fakeRunner{}, []StreamConfig{
			validStreamConfig(), validStreamConfig(),
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewManager(tt.runner, tt.streams)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidStreamConfig) {
					t.Errorf("NewManager() error = %v, want ErrInvalidStreamConfig", err)
				}
				return
			}
			if err != nil {
				t.Errorf("NewManager() error = %v, want nil", err)
			}
		})
	}
}

func TestNewManagerAppliesDefaults(t *testing.T) {
	cfg := StreamConfig{
		ID:      "people-counter",
		RecType: "io.census.occupancy.agg",
		ViewID:  "view-1234",
	}

	m, err := NewManager(&fakeRunner{}, []StreamConfig{cfg})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	got := m.Streams()[0]
	if got.Interval != defaultInterval {
		t.Errorf("Interval = %v, want default %v", got.Interval, defaultInterval)
	}
	if got.CommitPolicy != PolicyAll {
		t.Errorf("CommitPolicy = %q, want %q", got.CommitPolicy, PolicyAll)
	}
}

func TestManagerStartStop(t *testing.T) {
	runner := &fakeRunner{}
	m, err := NewManager(runner, []StreamConfig{validStreamConfig()})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	if m.IsRunning() {
		t.Error("manager should not be running before Start")
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !m.IsRunning() {
		t.Error("manager should be running after Start")
	}
	if err := m.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if m.IsRunning() {
		t.Error("manager should not be running after Stop")
	}
	if err := m.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("second Stop() error = %v, want ErrNotRunning", err)
	}
}

func TestManagerRunsEachStreamOnStart(t *testing.T) {
	runner := &fakeRunner{}
	m, err := NewManager(runner, []StreamConfig{
		streamWithID("people-counter"),
		streamWithID("hourly-snapshot"),
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.Stop()

	waitFor(t, 2*time.Second, func() bool { return runner.callCount() >= 2 })

	calls := runner.calledStreams()
	if calls["people-counter"] != 1 || calls["hourly-snapshot"] != 1 {
		t.Errorf("initial runs = %v, want one per stream", calls)
	}
}

func TestManagerStopWaitsForInFlightRun(t *testing.T) {
	runner := &fakeRunner{
		started: make(chan struct{}, 1),
		block:   make(chan struct{}),
	}
	m, err := NewManager(runner, []StreamConfig{validStreamConfig()})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	<-runner.started

	stopped := make(chan error, 1)
	go func() { stopped <- m.Stop() }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a run was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(runner.block)
	if err := <-stopped; err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestManagerTriggerSyncUnknownStream(t *testing.T) {
	m, err := NewManager(&fakeRunner{}, []StreamConfig{validStreamConfig()})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	_, err = m.TriggerSync(context.Background(), "nope")
	if !errors.Is(err, ErrUnknownStream) {
		t.Errorf("TriggerSync() error = %v, want ErrUnknownStream", err)
	}
}

func TestManagerTriggerSyncStoresReport(t *testing.T) {
	runner := &fakeRunner{}
	m, err := NewManager(runner, []StreamConfig{validStreamConfig()})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	report, err := m.TriggerSync(context.Background(), "people-counter")
	if err != nil {
		t.Fatalf("TriggerSync() error = %v", err)
	}
	if report.State != StateCommitted {
		t.Errorf("State = %v, want committed", report.State)
	}

	last, ok := m.LastReport("people-counter")
	if !ok {
		t.Fatal("LastReport should exist after a trigger")
	}
	if last.StreamID != "people-counter" || last.State != StateCommitted {
		t.Errorf("LastReport = %+v, want the triggered run", last)
	}
	if len(m.Reports()) != 1 {
		t.Errorf("Reports() = %d entries, want 1", len(m.Reports()))
	}
}

func TestManagerTriggerSyncInFlight(t *testing.T) {
	runner := &fakeRunner{
		started: make(chan struct{}, 1),
		block:   make(chan struct{}),
	}
	m, err := NewManager(runner, []StreamConfig{validStreamConfig()})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	firstErr := make(chan error, 1)
	go func() {
		_, err := m.TriggerSync(context.Background(), "people-counter")
		firstErr <- err
	}()
	<-runner.started

	if _, err := m.TriggerSync(context.Background(), "people-counter"); !errors.Is(err, ErrRunInFlight) {
		t.Errorf("overlapping TriggerSync() error = %v, want ErrRunInFlight", err)
	}

	close(runner.block)
	if err := <-firstErr; err != nil {
		t.Errorf("first TriggerSync() error = %v", err)
	}
}

// A tick that fires while the stream's previous run still holds the lock
// is dropped entirely. It never queues behind the lock.
func TestManagerOverlappingTickSkipped(t *testing.T) {
	runner := &fakeRunner{}
	m, err := NewManager(runner, []StreamConfig{validStreamConfig()})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	cfg := m.Streams()[0]

	lock := m.runLocks[cfg.ID]
	lock.Lock()
	m.runStream(context.Background(), cfg)
	lock.Unlock()

	if runner.callCount() != 0 {
		t.Errorf("runner calls = %d, want 0 for a skipped tick", runner.callCount())
	}

	m.runStream(context.Background(), cfg)
	if runner.callCount() != 1 {
		t.Errorf("runner calls = %d, want 1 after the lock is free", runner.callCount())
	}
}

func TestManagerReportsReturnsCopy(t *testing.T) {
	runner := &fakeRunner{}
	m, err := NewManager(runner, []StreamConfig{validStreamConfig()})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	if _, err := m.TriggerSync(context.Background(), "people-counter"); err != nil {
		t.Fatalf("TriggerSync() error = %v", err)
	}

	reports := m.Reports()
	delete(reports, "people-counter")

	if _, ok := m.LastReport("people-counter"); !ok {
		t.Error("mutating the returned map must not affect the manager")
	}
}

func TestManagerStreamsReturnsCopy(t *testing.T) {
	m, err := NewManager(&fakeRunner{}, []StreamConfig{validStreamConfig()})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	streams := m.Streams()
	streams[0].ID = "mutated"

	if _, err := m.TriggerSync(context.Background(), "people-counter"); err != nil {
		t.Errorf("TriggerSync() error = %v, manager state should be unchanged", err)
	}
}
