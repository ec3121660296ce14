// Soundprint - Music Listening Tracking and Statistics
// Copyright 2026 Soundprint contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundprint/soundprint

package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type blockingRunner struct {
	started atomic.Int32
}

func (r *blockingRunner) Serve(ctx context.Context) error {
	r.started.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func TestRunnerServiceDelegates(t *testing.T) {
	runner := &blockingRunner{}
	svc := NewRunnerService("test-runner", runner)

	if svc.String() != "test-runner" {
		t.Errorf("expected name test-runner, got %s", svc.String())
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	deadline := time.After(time.Second)
	for runner.started.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("runner never started")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

type fakeHub struct {
	ran atomic.Bool
}

func (h *fakeHub) RunWithContext(ctx context.Context) error {
	h.ran.Store(true)
	<-ctx.Done()
	return ctx.Err()
}

func TestWebSocketHubService(t *testing.T) {
	hub := &fakeHub{}
	svc := NewWebSocketHubService(hub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	deadline := time.After(time.Second)
	for !hub.ran.Load() {
		select {
		case <-deadline:
			t.Fatal("hub never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

type fakeBroker struct {
	shutdowns atomic.Int32
}

func (b *fakeBroker) Shutdown(context.Context) error {
	b.shutdowns.Add(1)
	return nil
}

func (b *fakeBroker) IsRunning() bool {
	return b.shutdowns.Load() == 0
}

func TestEmbeddedBrokerServiceShutsDownOnCancel(t *testing.T) {
	broker := &fakeBroker{}
	svc := NewEmbeddedBrokerService(broker, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("service did not stop")
	}

	if broker.shutdowns.Load() != 1 {
		t.Errorf("expected exactly one shutdown, got %d", broker.shutdowns.Load())
	}
}
