// Soundprint - Music Listening Tracking and Statistics
// Copyright 2026 Soundprint contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundprint/soundprint

package websocket

import (
	"context"
	"errors"
	"testing"
	"time"
)

// startHub runs the hub loop for the duration of the test.
func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.RunWithContext(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return hub
}

// testClient registers a bare client without a network connection.
func testClient(t *testing.T, hub *Hub) *Client {
	t.Helper()
	client := &Client{hub: hub, send: make(chan Message, 8)}
	hub.Register <- client
	return client
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestPublishToSubscribedRoom(t *testing.T) {
	hub := startHub(t)
	client := testClient(t, hub)

	hub.subscribe <- subscription{client: client, userName: "rob"}
	waitFor(t, func() bool { return hub.RoomSize("rob") == 1 }, "subscription not registered")

	hub.PublishToUser("rob", MessageTypeListen, map[string]interface{}{"track": "Airbag"})

	select {
	case msg := <-client.send:
		if msg.Type != MessageTypeListen {
			t.Errorf("expected listen message, got %s", msg.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered to room subscriber")
	}
}

func TestPublishSkipsOtherRooms(t *testing.T) {
	hub := startHub(t)
	subscriber := testClient(t, hub)
	bystander := testClient(t, hub)

	hub.subscribe <- subscription{client: subscriber, userName: "rob"}
	hub.subscribe <- subscription{client: bystander, userName: "alice"}
	waitFor(t, func() bool { return hub.RoomSize("rob") == 1 && hub.RoomSize("alice") == 1 },
		"subscriptions not registered")

	hub.PublishToUser("rob", MessageTypeListen, nil)

	select {
	case <-subscriber.send:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not receive message")
	}

	select {
	case msg := <-bystander.send:
		t.Fatalf("bystander must not receive rob's message, got %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnregisterLeavesRooms(t *testing.T) {
	hub := startHub(t)
	client := testClient(t, hub)

	hub.subscribe <- subscription{client: client, userName: "rob"}
	waitFor(t, func() bool { return hub.RoomSize("rob") == 1 }, "subscription not registered")

	hub.Unregister <- client
	waitFor(t, func() bool { return hub.RoomSize("rob") == 0 && hub.ClientCount() == 0 },
		"client not removed from room")
}

func TestShutdownClosesClients(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- hub.RunWithContext(ctx) }()

	client := &Client{hub: hub, send: make(chan Message, 8)}
	hub.Register <- client
	waitFor(t, func() bool { return hub.ClientCount() == 1 }, "client not registered")

	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	if _, open := <-client.send; open {
		t.Error("client send channel should be closed on shutdown")
	}
}
