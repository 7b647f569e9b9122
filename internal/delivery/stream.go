// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package delivery

import (
	"context"
	"fmt"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/tomtom215/census/internal/logging"
)

// EnsureStream provisions the JetStream stream at one destination,
// creating it when absent and reconciling its configuration when present.
// Uses a short-lived dedicated connection so provisioning failures stay
// separate from the publish path.
func EnsureStream(ctx context.Context, dest DestinationConfig, cfg StreamConfig, connectTimeout time.Duration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	opts := []natsgo.Option{
		natsgo.Name("census-provision-" + dest.ID),
		natsgo.Timeout(connectTimeout),
	}
	if dest.CredentialsFile != "" {
		opts = append(opts, natsgo.UserCredentials(dest.CredentialsFile))
	}

	nc, err := natsgo.Connect(dest.URL, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to destination %s: %w", dest.ID, err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context for destination %s: %w", dest.ID, err)
	}

	// A subject prefix override moves the destination's events off the
	// default token, so the stream must bind the overridden subjects.
	subjects := cfg.Subjects
	if dest.SubjectPrefix != "" {
		subjects = []string{dest.SubjectPrefix + ".>"}
	}

	streamCfg := jetstream.StreamConfig{
		Name:        cfg.Name,
		Description: "Census occupancy events",
		Subjects:    subjects,
		Retention:   jetstream.LimitsPolicy,
		Storage:     jetstream.FileStorage,
		MaxAge:      cfg.MaxAge,
		Duplicates:  cfg.Duplicates,
		Replicas:    cfg.Replicas,
		Discard:     jetstream.DiscardOld,
		AllowDirect: true,
		AllowRollup: true,
	}

	if _, err := js.Stream(ctx, cfg.Name); err == nil {
		if _, err := js.UpdateStream(ctx, streamCfg); err != nil {
			return fmt.Errorf("failed to update stream %s at destination %s: %w", cfg.Name, dest.ID, err)
		}
		logging.Info().
			Str("destination", dest.ID).
			Str("stream", cfg.Name).
			Dur("duplicate_window", cfg.Duplicates).
			Msg("JetStream stream updated")
		return nil
	}

	if _, err := js.CreateStream(ctx, streamCfg); err != nil {
		return fmt.Errorf("failed to create stream %s at destination %s: %w", cfg.Name, dest.ID, err)
	}
	logging.Info().
		Str("destination", dest.ID).
		Str("stream", cfg.Name).
		Strs("subjects", subjects).
		Dur("duplicate_window", cfg.Duplicates).
		Msg("JetStream stream created")
	return nil
}
