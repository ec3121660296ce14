// Soundprint - Music Listening Tracking and Statistics
// Copyright 2026 Soundprint contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundprint/soundprint

// Package websocket implements the real-time push channel. Connected
// clients subscribe to rooms keyed by username; the dispatcher publishes
// normalized listen and playing-now events into the room of the listening
// user.
package websocket

import (
	"context"
	"sync"

	"github.com/soundprint/soundprint/internal/logging"
	"github.com/soundprint/soundprint/internal/metrics"
)

// Message types pushed to clients.
const (
	MessageTypeListen     = "listen"
	MessageTypePlayingNow = "playing_now"
	MessageTypePing       = "ping"
	MessageTypePong       = "pong"
	MessageTypeSubscribe  = "subscribe"
)

// Message is one websocket frame. For subscribe requests from the client,
// Data is the username to join.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// subscription pairs a client with the room it wants to join.
type subscription struct {
	client   *Client
	userName string
}

// Hub maintains the set of active clients and their room memberships.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]map[string]bool
	rooms   map[string]map[*Client]bool

	publish    chan roomMessage
	Register   chan *Client
	Unregister chan *Client
	subscribe  chan subscription
}

type roomMessage struct {
	userName string
	message  Message
}

// NewHub creates a hub with no clients.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]map[string]bool),
		rooms:      make(map[string]map[*Client]bool),
		publish:    make(chan roomMessage, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		subscribe:  make(chan subscription),
	}
}

// RunWithContext runs the hub event loop until the context is canceled.
// Designed for suture supervision: on cancellation all clients are closed
// and ctx.Err() is returned so the supervisor can decide about restart.
//
// Lifecycle events are drained before publishes so room membership is
// consistent by the time a message fans out.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.addClient(client)
			continue
		case client := <-h.Unregister:
			h.removeClient(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.addClient(client)
		case client := <-h.Unregister:
			h.removeClient(client)
		case sub := <-h.subscribe:
			h.addSubscription(sub)
		case rm := <-h.publish:
			h.pushToRoom(rm)
		}
	}
}

// PublishToUser queues a message for every client subscribed to userName.
// Non-blocking: when the hub queue is full the message is dropped with a
// warning (at-most-once push semantics).
func (h *Hub) PublishToUser(userName, messageType string, data interface{}) {
	rm := roomMessage{
		userName: userName,
		message:  Message{Type: messageType, Data: data},
	}
	select {
	case h.publish <- rm:
	default:
		metrics.RecordWSDrop()
		logging.Warn().
			Str("user_name", userName).
			Str("message_type", messageType).
			Msg("hub queue full, dropping message")
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomSize returns the number of clients subscribed to userName.
func (h *Hub) RoomSize(userName string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[userName])
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = make(map[string]bool)
	total := len(h.clients)
	h.mu.Unlock()
	metrics.WSConnections.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("websocket client connected")
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if memberships, ok := h.clients[client]; ok {
		for userName := range memberships {
			delete(h.rooms[userName], client)
			if len(h.rooms[userName]) == 0 {
				delete(h.rooms, userName)
			}
		}
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	metrics.WSConnections.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("websocket client disconnected")
}

func (h *Hub) addSubscription(sub subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	memberships, ok := h.clients[sub.client]
	if !ok {
		return
	}
	memberships[sub.userName] = true
	if h.rooms[sub.userName] == nil {
		h.rooms[sub.userName] = make(map[*Client]bool)
	}
	h.rooms[sub.userName][sub.client] = true
	logging.Debug().Str("user_name", sub.userName).Msg("websocket client subscribed")
}

func (h *Hub) pushToRoom(rm roomMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var toRemove []*Client
	for client := range h.rooms[rm.userName] {
		select {
		case client.send <- rm.message:
			metrics.RecordWSPush(rm.message.Type)
		default:
			metrics.RecordWSDrop()
			toRemove = append(toRemove, client)
		}
	}

	// Clients with a full send buffer are dropped rather than blocking
	// the hub loop.
	for _, client := range toRemove {
		for userName := range h.clients[client] {
			delete(h.rooms[userName], client)
			if len(h.rooms[userName]) == 0 {
				delete(h.rooms, userName)
			}
		}
		delete(h.clients, client)
		close(client.send)
	}
}

func (h *Hub) shutdown(ctx context.Context) {
	h.mu.Lock()
	closed := len(h.clients)
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.rooms = make(map[string]map[*Client]bool)
	h.mu.Unlock()

	metrics.WSConnections.Set(0)
	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", ctx.Err().Error()).
		Int("clients_closed", closed).
		Msg("websocket hub stopped")
}
