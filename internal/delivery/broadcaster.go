// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/census/internal/logging"
	"github.com/tomtom215/census/internal/metrics"
)

// Failure classes for delivery logging. An unreachable destination could
// not be talked to at all; a rejecting destination answered and said no.
const (
	failureRejected    = "rejected"
	failureUnreachable = "unreachable"
)

// EventPublisher is the publishing surface the broadcaster needs.
// *Publisher satisfies it; tests substitute in-memory fakes.
type EventPublisher interface {
	Publish(topic string, messages ...*message.Message) error
	Close() error
}

// Destination pairs a configured destination with its live publisher and
// tracks the result of the most recent delivery for health reporting.
type Destination struct {
	cfg DestinationConfig
	pub EventPublisher

	mu          sync.Mutex
	lastErr     error
	lastAttempt time.Time
}

// NewDestination binds a publisher to a destination configuration.
func NewDestination(cfg DestinationConfig, pub EventPublisher) *Destination {
	return &Destination{cfg: cfg, pub: pub}
}

// ID returns the destination identifier.
func (d *Destination) ID() string {
	return d.cfg.ID
}

// Healthy reports whether the most recent delivery succeeded. A
// destination with no deliveries yet counts as healthy.
func (d *Destination) Healthy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr == nil
}

// LastError returns the most recent delivery error, or nil.
func (d *Destination) LastError() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

// LastAttempt returns when the destination was last used.
func (d *Destination) LastAttempt() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastAttempt
}

func (d *Destination) recordResult(err error) {
	d.mu.Lock()
	d.lastErr = err
	d.lastAttempt = time.Now()
	d.mu.Unlock()
}

// Outcome reports one destination's result for a delivery.
type Outcome struct {
	DestinationID string
	Accepted      bool
	Err           error
}

// envelope carries an event with its serialized form so the payload is
// built once and shared by every destination.
type envelope struct {
	event *OccupancyEvent
	data  []byte
}

// Broadcaster fans a batch of events out to every destination
// concurrently. Destinations never affect each other: a full batch goes to
// each one, and each failure is isolated in that destination's Outcome.
type Broadcaster struct {
	destinations []*Destination
	serializer   *Serializer
	batch        BatchConfig
}

// NewBroadcaster creates a broadcaster over the given destinations.
func NewBroadcaster(destinations []*Destination, batch BatchConfig) (*Broadcaster, error) {
	if len(destinations) == 0 {
		return nil, ErrNoDestinations
	}
	if err := batch.Validate(); err != nil {
		return nil, err
	}
	return &Broadcaster{
		destinations: destinations,
		serializer:   NewSerializer(),
		batch:        batch,
	}, nil
}

// Destinations returns the configured destinations for health reporting.
func (b *Broadcaster) Destinations() []*Destination {
	return b.destinations
}

// Send delivers the full batch to every destination concurrently and
// returns one Outcome per destination, in destination order. An empty
// batch is accepted everywhere without touching the network.
//
// Events are pre-chunked into sub-batches bounded by BatchConfig. A
// rejected sub-batch is split in half and both halves retried, down to a
// single event; re-sent events that were already accepted are dropped by
// the broker's duplicate window, not re-consumed.
func (b *Broadcaster) Send(ctx context.Context, events []*OccupancyEvent) []Outcome {
	outcomes := make([]Outcome, len(b.destinations))

	if len(events) == 0 {
		for i, d := range b.destinations {
			outcomes[i] = Outcome{DestinationID: d.cfg.ID, Accepted: true}
		}
		return outcomes
	}

	metrics.RecordDeliveryBatch(len(events))

	envs, err := b.serialize(events)
	if err != nil {
		for i, d := range b.destinations {
			outcomes[i] = Outcome{DestinationID: d.cfg.ID, Err: err}
		}
		return outcomes
	}

	var wg sync.WaitGroup
	for i, dest := range b.destinations {
		wg.Add(1)
		go func(i int, d *Destination) {
			defer wg.Done()

			start := time.Now()
			err := b.sendTo(ctx, d, envs)
			metrics.RecordDelivery(d.cfg.ID, time.Since(start), err)
			d.recordResult(err)

			if err != nil {
				logging.Error().
					Str("destination", d.cfg.ID).
					Str("failure", classifyFailure(err)).
					Int("events", len(envs)).
					Err(err).
					Msg("delivery failed")
				outcomes[i] = Outcome{DestinationID: d.cfg.ID, Err: err}
				return
			}

			metrics.RecordEventsDelivered(events[0].StreamType, d.cfg.ID, len(events))
			logging.Debug().
				Str("destination", d.cfg.ID).
				Int("events", len(events)).
				Dur("duration", time.Since(start)).
				Msg("delivery accepted")
			outcomes[i] = Outcome{DestinationID: d.cfg.ID, Accepted: true}
		}(i, dest)
	}
	wg.Wait()

	return outcomes
}

// Close shuts down every destination publisher.
func (b *Broadcaster) Close() error {
	var errs []error
	for _, d := range b.destinations {
		if err := d.pub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("destination %s: %w", d.cfg.ID, err))
		}
	}
	return errors.Join(errs...)
}

// serialize renders every event once. A single event over the byte limit
// cannot be delivered by splitting, so it fails the batch up front.
func (b *Broadcaster) serialize(events []*OccupancyEvent) ([]envelope, error) {
	envs := make([]envelope, 0, len(events))
	for _, e := range events {
		data, err := b.serializer.Serialize(e)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", e.EventID, err)
		}
		if len(data) > b.batch.MaxBytes {
			return nil, fmt.Errorf("event %s is %d bytes: %w", e.EventID, len(data), ErrEventTooLarge)
		}
		envs = append(envs, envelope{event: e, data: data})
	}
	return envs, nil
}

// sendTo delivers all sub-batches to one destination in order.
func (b *Broadcaster) sendTo(ctx context.Context, d *Destination, envs []envelope) error {
	for _, chunk := range b.chunk(envs) {
		if err := b.sendChunk(ctx, d, chunk); err != nil {
			return err
		}
	}
	return nil
}

// sendChunk publishes one sub-batch, splitting in half on rejection.
// Unreachable destinations are not split against: halving cannot fix a
// connection that is down.
func (b *Broadcaster) sendChunk(ctx context.Context, d *Destination, envs []envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := b.publish(d, envs)
	if err == nil {
		return nil
	}
	if len(envs) == 1 || classifyFailure(err) == failureUnreachable {
		return err
	}

	metrics.RecordDeliveryRetry(d.cfg.ID)
	logging.Warn().
		Str("destination", d.cfg.ID).
		Int("events", len(envs)).
		Err(err).
		Msg("sub-batch rejected, splitting")

	mid := len(envs) / 2
	if err := b.sendChunk(ctx, d, envs[:mid]); err != nil {
		return err
	}
	return b.sendChunk(ctx, d, envs[mid:])
}

// publish builds fresh messages for one destination and publishes them
// grouped by subject. Message UUID and Nats-Msg-Id are both the
// deterministic event ID.
func (b *Broadcaster) publish(d *Destination, envs []envelope) error {
	subjects := make([]string, 0, 1)
	bySubject := make(map[string][]*message.Message, 1)
	for _, env := range envs {
		subject := d.cfg.Subject(env.event)
		if _, ok := bySubject[subject]; !ok {
			subjects = append(subjects, subject)
		}
		msg := message.NewMessage(env.event.EventID, env.data)
		msg.Metadata.Set(natsgo.MsgIdHdr, env.event.EventID)
		bySubject[subject] = append(bySubject[subject], msg)
	}

	for _, subject := range subjects {
		if err := d.pub.Publish(subject, bySubject[subject]...); err != nil {
			return err
		}
	}
	return nil
}

// chunk packs envelopes greedily into sub-batches within the count and
// byte limits. Every envelope fits on its own by construction.
func (b *Broadcaster) chunk(envs []envelope) [][]envelope {
	var chunks [][]envelope
	var cur []envelope
	curBytes := 0
	for _, env := range envs {
		if len(cur) > 0 && (len(cur) >= b.batch.MaxEvents || curBytes+len(env.data) > b.batch.MaxBytes) {
			chunks = append(chunks, cur)
			cur = nil
			curBytes = 0
		}
		cur = append(cur, env)
		curBytes += len(env.data)
	}
	if len(cur) > 0 {
		chunks = append(chunks, cur)
	}
	return chunks
}

// classifyFailure separates transport failures from broker rejections.
func classifyFailure(err error) string {
	switch {
	case errors.Is(err, natsgo.ErrConnectionClosed),
		errors.Is(err, natsgo.ErrConnectionReconnecting),
		errors.Is(err, natsgo.ErrNoServers),
		errors.Is(err, natsgo.ErrTimeout),
		errors.Is(err, natsgo.ErrNoResponders),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return failureUnreachable
	default:
		return failureRejected
	}
}

// AllAccepted reports whether every destination accepted the batch.
func AllAccepted(outcomes []Outcome) bool {
	for _, o := range outcomes {
		if !o.Accepted {
			return false
		}
	}
	return true
}

// AnyAccepted reports whether at least one destination accepted the batch.
func AnyAccepted(outcomes []Outcome) bool {
	for _, o := range outcomes {
		if o.Accepted {
			return true
		}
	}
	return false
}
