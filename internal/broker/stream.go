// Soundprint - Music Listening Tracking and Statistics
// Copyright 2026 Soundprint contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundprint/soundprint

package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/soundprint/soundprint/internal/config"
)

// StreamManager handles JetStream stream lifecycle for the listen and stats
// topics.
type StreamManager struct {
	js  jetstream.JetStream
	cfg *config.NATSConfig
}

// NewStreamManager creates a stream manager over an established connection.
func NewStreamManager(nc *nats.Conn, cfg *config.NATSConfig) (*StreamManager, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	return &StreamManager{
		js:  js,
		cfg: cfg,
	}, nil
}

// EnsureStream creates or updates the stream covering all three topics.
func (m *StreamManager) EnsureStream(ctx context.Context) (jetstream.Stream, error) {
	streamCfg := jetstream.StreamConfig{
		Name: m.cfg.StreamName,
		Subjects: []string{
			m.cfg.ListensTopic,
			m.cfg.PlayingNowTopic,
			m.cfg.StatsTopic,
		},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Storage:   jetstream.FileStorage,
		// Prefer dropping stale events over refusing new ones.
		Discard:     jetstream.DiscardOld,
		AllowDirect: true,
	}

	_, err := m.js.Stream(ctx, m.cfg.StreamName)
	if err == nil {
		stream, err := m.js.UpdateStream(ctx, streamCfg)
		if err != nil {
			return nil, fmt.Errorf("update stream: %w", err)
		}
		return stream, nil
	}

	stream, err := m.js.CreateStream(ctx, streamCfg)
	if err != nil {
		return nil, fmt.Errorf("create stream: %w", err)
	}

	return stream, nil
}

// StreamInfo returns current stream state.
func (m *StreamManager) StreamInfo(ctx context.Context) (*jetstream.StreamInfo, error) {
	stream, err := m.js.Stream(ctx, m.cfg.StreamName)
	if err != nil {
		return nil, fmt.Errorf("get stream: %w", err)
	}
	return stream.Info(ctx)
}
