// Soundprint - Music Listening Tracking and Statistics
// Copyright 2026 Soundprint contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundprint/soundprint

// Package dispatcher bridges the broker to the WebSocket hub. It consumes
// listen and playing-now messages and pushes the normalized events into
// the room of the submitting user.
//
// Push semantics are at most once: a message is acked after the push
// attempt regardless of whether any client was connected to receive it.
// Real-time events are ephemeral; clients reconcile through the listens
// API, so redelivering them later would serve stale data.
package dispatcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	json "github.com/goccy/go-json"

	"github.com/soundprint/soundprint/internal/broker"
	"github.com/soundprint/soundprint/internal/config"
	"github.com/soundprint/soundprint/internal/logging"
	"github.com/soundprint/soundprint/internal/metrics"
	"github.com/soundprint/soundprint/internal/models"
	"github.com/soundprint/soundprint/internal/websocket"
)

// Hub is the push surface the dispatcher needs from the WebSocket layer.
type Hub interface {
	PublishToUser(userName, messageType string, data interface{})
}

// Dispatcher consumes listen and playing-now topics and fans events out to
// subscribed WebSocket clients.
type Dispatcher struct {
	subscriber message.Subscriber
	hub        Hub

	listensTopic    string
	playingNowTopic string
	backoff         time.Duration
}

// New creates a dispatcher. The subscriber is any Watermill subscriber;
// production wiring hands in the durable JetStream one, tests use
// gochannel.
func New(sub message.Subscriber, hub Hub, cfg *config.NATSConfig) *Dispatcher {
	backoff := cfg.DispatcherBackoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	return &Dispatcher{
		subscriber:      sub,
		hub:             hub,
		listensTopic:    cfg.ListensTopic,
		playingNowTopic: cfg.PlayingNowTopic,
		backoff:         backoff,
	}
}

// Serve consumes both topics until the context is canceled. Subscription
// failures and closed channels are retried with a fixed backoff, never
// surfaced as fatal: the dispatcher outlives broker restarts.
func (d *Dispatcher) Serve(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		d.consume(ctx, d.listensTopic, websocket.MessageTypeListen)
	}()
	go func() {
		defer wg.Done()
		d.consume(ctx, d.playingNowTopic, websocket.MessageTypePlayingNow)
	}()

	wg.Wait()
	return ctx.Err()
}

// consume runs the subscribe-drain-retry loop for one topic.
func (d *Dispatcher) consume(ctx context.Context, topic, messageType string) {
	for {
		if ctx.Err() != nil {
			return
		}

		messages, err := d.subscriber.Subscribe(ctx, topic)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logging.Err(err).
				Str("topic", topic).
				Dur("backoff", d.backoff).
				Msg("dispatcher subscribe failed, retrying")
			d.sleep(ctx)
			continue
		}

		d.drain(ctx, messages, topic, messageType)

		if ctx.Err() != nil {
			return
		}
		logging.Warn().
			Str("topic", topic).
			Dur("backoff", d.backoff).
			Msg("dispatcher subscription closed, reconnecting")
		d.sleep(ctx)
	}
}

func (d *Dispatcher) drain(ctx context.Context, messages <-chan *message.Message, topic, messageType string) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			d.handle(msg, topic, messageType)
		}
	}
}

// handle pushes every listen in the message to its user's room. The
// message is always acked afterwards: delivery is at-most-once and a
// redelivered event would only repeat or misorder the stream.
func (d *Dispatcher) handle(msg *message.Message, topic, messageType string) {
	defer msg.Ack()

	metrics.RecordBrokerConsume(topic)

	var entries []map[string]interface{}
	if err := json.Unmarshal(msg.Payload, &entries); err != nil {
		metrics.RecordBrokerParseFailure(topic)
		logging.Err(err).
			Str("topic", topic).
			Str("message_uuid", msg.UUID).
			Msg("dispatcher failed to decode message payload")
		return
	}

	userName := msg.Metadata.Get(broker.MetadataUserName)

	for _, raw := range entries {
		data, ok := d.normalize(raw, userName, messageType)
		if !ok {
			continue
		}
		d.hub.PublishToUser(userName, messageType, data)
	}
}

// normalize converts one raw entry into its broadcast shape. Malformed
// entries are dropped with a log; one bad record never blocks the rest of
// the bundle.
func (d *Dispatcher) normalize(raw map[string]interface{}, userName, messageType string) (map[string]interface{}, bool) {
	if messageType == websocket.MessageTypePlayingNow {
		np := models.NowPlayingFromJSON(raw)
		np.UserName = userName
		return np.ToAPI(), true
	}

	listen, err := models.FromJSON(raw)
	if err != nil {
		logging.Err(err).
			Str("user_name", userName).
			Msg("dispatcher dropping malformed listen")
		return nil, false
	}
	listen.UserName = userName
	return listen.ToAPI(), true
}

func (d *Dispatcher) sleep(ctx context.Context) {
	timer := time.NewTimer(d.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
