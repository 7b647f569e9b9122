// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package delivery

import (
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/census/internal/logging"
)

// Publisher publishes events to one NATS JetStream destination.
//
// Deduplication relies on the Nats-Msg-Id header: every message carries the
// event's deterministic ID, so a re-published window is absorbed by the
// broker's duplicate window instead of reaching consumers twice.
type Publisher struct {
	publisher message.Publisher
	id        string
	mu        sync.RWMutex
	closed    bool
}

// NewPublisher connects to the destination and returns a publisher bound
// to it. A nil logger falls back to watermill's stdlib logger.
func NewPublisher(dest DestinationConfig, cfg PublisherConfig, logger watermill.LoggerAdapter) (*Publisher, error) {
	if err := dest.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	destID := dest.ID
	natsOptions := []natsgo.Option{
		natsgo.Name("census-" + destID),
		natsgo.RetryOnFailedConnect(true),
		natsgo.Timeout(cfg.ConnectTimeout),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectBufSize(8 * 1024 * 1024),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			logging.Warn().Str("destination", destID).Err(err).Msg("NATS disconnected")
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("destination", destID).Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		natsgo.ErrorHandler(func(_ *natsgo.Conn, _ *natsgo.Subscription, err error) {
			logging.Error().Str("destination", destID).Err(err).Msg("NATS async error")
		}),
	}
	if dest.CredentialsFile != "" {
		natsOptions = append(natsOptions, natsgo.UserCredentials(dest.CredentialsFile))
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         dest.URL,
		NatsOptions: natsOptions,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: false,
			TrackMsgId:    cfg.TrackMsgID,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(cfg.PublishRetries),
				natsgo.RetryWait(cfg.RetryWait),
			},
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create publisher for destination %s: %w", destID, err)
	}

	return &Publisher{
		publisher: pub,
		id:        destID,
	}, nil
}

// DestinationID returns the destination this publisher is bound to.
func (p *Publisher) DestinationID() string {
	return p.id
}

// Publish sends messages to the given subject. Messages without an
// explicit Nats-Msg-Id inherit their watermill UUID.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPublisherClosed
	}

	for _, msg := range messages {
		if msg.Metadata.Get(natsgo.MsgIdHdr) == "" {
			msg.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)
		}
	}

	return p.publisher.Publish(topic, messages...)
}

// Close shuts down the underlying connection. Safe to call more than once.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if err := p.publisher.Close(); err != nil {
		return fmt.Errorf("failed to close publisher for destination %s: %w", p.id, err)
	}
	return nil
}
