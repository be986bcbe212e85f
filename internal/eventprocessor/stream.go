// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

package eventprocessor

import (
	"context"
	"errors"
	"fmt"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// StreamManager provisions and inspects the JetStream stream that
// holds ingested events. The stream must exist before publishers with
// AutoProvision disabled connect.
type StreamManager struct {
	nc     *natsgo.Conn
	js     jetstream.JetStream
	config StreamConfig
	logger zerolog.Logger
}

// NewStreamManager connects to NATS and prepares a JetStream context.
func NewStreamManager(url string, cfg StreamConfig, logger zerolog.Logger) (*StreamManager, error) {
	nc, err := natsgo.Connect(url,
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	return &StreamManager{
		nc:     nc,
		js:     js,
		config: cfg,
		logger: logger.With().Str("component", "stream_manager").Logger(),
	}, nil
}

// EnsureStream creates the event stream if it does not exist, or
// updates its configuration if it does. The duplicate window gives
// broker-level dedup for republished messages carrying the same
// Nats-Msg-Id.
func (sm *StreamManager) EnsureStream(ctx context.Context) error {
	streamCfg := jetstream.StreamConfig{
		Name:        sm.config.Name,
		Description: "PerkForge ingested loyalty events",
		Subjects:    sm.config.Subjects,
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      sm.config.MaxAge,
		MaxBytes:    sm.config.MaxBytes,
		Storage:     jetstream.FileStorage,
		Replicas:    sm.config.Replicas,
		Duplicates:  sm.config.DuplicateWindow,
		Discard:     jetstream.DiscardOld,
	}

	stream, err := sm.js.Stream(ctx, sm.config.Name)
	if err != nil {
		if errors.Is(err, jetstream.ErrStreamNotFound) {
			if _, err := sm.js.CreateStream(ctx, streamCfg); err != nil {
				return fmt.Errorf("create stream %q: %w", sm.config.Name, err)
			}
			sm.logger.Info().
				Str("stream", sm.config.Name).
				Strs("subjects", sm.config.Subjects).
				Msg("Created JetStream stream")
			return nil
		}
		return fmt.Errorf("lookup stream %q: %w", sm.config.Name, err)
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("stream info %q: %w", sm.config.Name, err)
	}
	if streamNeedsUpdate(info.Config, streamCfg) {
		if _, err := sm.js.UpdateStream(ctx, streamCfg); err != nil {
			return fmt.Errorf("update stream %q: %w", sm.config.Name, err)
		}
		sm.logger.Info().Str("stream", sm.config.Name).Msg("Updated JetStream stream configuration")
	}

	return nil
}

// StreamInfo returns current stream state for health reporting.
func (sm *StreamManager) StreamInfo(ctx context.Context) (*jetstream.StreamInfo, error) {
	stream, err := sm.js.Stream(ctx, sm.config.Name)
	if err != nil {
		if errors.Is(err, jetstream.ErrStreamNotFound) {
			return nil, ErrStreamNotFound
		}
		return nil, err
	}
	return stream.Info(ctx)
}

// Close releases the NATS connection.
func (sm *StreamManager) Close() {
	if sm.nc != nil {
		sm.nc.Close()
	}
}

func streamNeedsUpdate(current, desired jetstream.StreamConfig) bool {
	if current.MaxAge != desired.MaxAge || current.MaxBytes != desired.MaxBytes {
		return true
	}
	if current.Duplicates != desired.Duplicates {
		return true
	}
	if len(current.Subjects) != len(desired.Subjects) {
		return true
	}
	for i, s := range current.Subjects {
		if s != desired.Subjects[i] {
			return true
		}
	}
	return false
}
