// Soundprint - Music Listening Tracking and Statistics
// Copyright 2026 Soundprint contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundprint/soundprint

package services

import (
	"context"
	"time"
)

// ContextRunner is the shape of every component whose lifetime is a single
// blocking Serve call: the websocket hub, the dispatcher, the stats
// consumer, and the HTTP server all satisfy it (the hub via
// RunWithContext, see NewWebSocketHubService).
type ContextRunner interface {
	Serve(ctx context.Context) error
}

// RunnerService wraps a ContextRunner as a named suture service.
type RunnerService struct {
	runner ContextRunner
	name   string
}

// NewRunnerService names and wraps a component for supervision.
func NewRunnerService(name string, runner ContextRunner) *RunnerService {
	return &RunnerService{runner: runner, name: name}
}

// Serve implements suture.Service.
func (s *RunnerService) Serve(ctx context.Context) error {
	return s.runner.Serve(ctx)
}

// String implements fmt.Stringer; suture uses it in event logs.
func (s *RunnerService) String() string {
	return s.name
}

// ContextHub matches *websocket.Hub without importing it.
type ContextHub interface {
	RunWithContext(ctx context.Context) error
}

type hubRunner struct{ hub ContextHub }

func (r hubRunner) Serve(ctx context.Context) error {
	return r.hub.RunWithContext(ctx)
}

// NewWebSocketHubService wraps the websocket hub as a supervised service.
func NewWebSocketHubService(hub ContextHub) *RunnerService {
	return NewRunnerService("websocket-hub", hubRunner{hub: hub})
}

// EmbeddedBroker matches broker.EmbeddedServer: already started at
// construction time, stopped explicitly.
type EmbeddedBroker interface {
	Shutdown(ctx context.Context) error
	IsRunning() bool
}

// EmbeddedBrokerService supervises the embedded NATS server. The server
// runs its own accept loops, so Serve only has to watch the context and
// drive the shutdown.
type EmbeddedBrokerService struct {
	broker          EmbeddedBroker
	shutdownTimeout time.Duration
	name            string
}

// NewEmbeddedBrokerService wraps an already-running embedded server.
func NewEmbeddedBrokerService(broker EmbeddedBroker, shutdownTimeout time.Duration) *EmbeddedBrokerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &EmbeddedBrokerService{
		broker:          broker,
		shutdownTimeout: shutdownTimeout,
		name:            "embedded-nats",
	}
}

// Serve implements suture.Service. It blocks until the context is
// cancelled, then shuts the server down with a fresh bounded context.
func (s *EmbeddedBrokerService) Serve(ctx context.Context) error {
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.broker.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return ctx.Err()
}

// String implements fmt.Stringer.
func (s *EmbeddedBrokerService) String() string {
	return s.name
}
