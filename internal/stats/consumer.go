// Soundprint - Music Listening Tracking and Statistics
// Copyright 2026 Soundprint contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundprint/soundprint

// Package stats consumes batch-analytics result messages and persists
// them. The analytics cluster computes statistics offline and delivers
// them as a stream of typed messages; a fixed dispatch table maps each
// message type to its handler.
//
// Handlers never propagate failures to the broker: every message is
// acknowledged exactly once, and its fate is recorded as an explicit
// Outcome so rejects and skips stay auditable.
package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	json "github.com/goccy/go-json"

	"github.com/soundprint/soundprint/internal/config"
	"github.com/soundprint/soundprint/internal/database"
	"github.com/soundprint/soundprint/internal/logging"
	"github.com/soundprint/soundprint/internal/metrics"
	"github.com/soundprint/soundprint/internal/models"
	"github.com/soundprint/soundprint/internal/notify"
	"github.com/soundprint/soundprint/internal/validation"
)

// recommendationsStaleAfter is how old the last recommendations write must
// be for an incoming message to count as the start of a new batch.
const recommendationsStaleAfter = 7 * 24 * time.Hour

// Notifier delivers operational notifications for batch events.
type Notifier interface {
	Notify(ctx context.Context, ev notify.Event) error
}

// handlerFunc processes one decoded message payload.
type handlerFunc func(ctx context.Context, raw []byte) Outcome

// Consumer subscribes to the stats topic and dispatches messages through
// an explicit type-keyed handler table built at construction time.
type Consumer struct {
	subscriber message.Subscriber
	db         *database.DB
	notifier   Notifier

	topic          string
	backoff        time.Duration
	staleThreshold time.Duration

	handlers map[models.StatsMessageType]handlerFunc
}

// NewConsumer builds a consumer with its full dispatch table.
func NewConsumer(sub message.Subscriber, db *database.DB, notifier Notifier, natsCfg *config.NATSConfig, statsCfg *config.StatsConfig) *Consumer {
	backoff := natsCfg.DispatcherBackoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	staleThreshold := statsCfg.StaleThreshold
	if staleThreshold <= 0 {
		staleThreshold = 20 * time.Minute
	}

	c := &Consumer{
		subscriber:     sub,
		db:             db,
		notifier:       notifier,
		topic:          natsCfg.StatsTopic,
		backoff:        backoff,
		staleThreshold: staleThreshold,
	}
	c.handlers = map[models.StatsMessageType]handlerFunc{
		models.StatsUserEntity:                c.handleUserEntity,
		models.StatsUserListeningActivity:     c.handleUserListeningActivity,
		models.StatsUserDailyActivity:         c.handleUserDailyActivity,
		models.StatsSitewideEntity:            c.handleSitewideEntity,
		models.StatsSitewideListeningActivity: c.handleSitewideListeningActivity,
		models.StatsDumpImported:              c.handleDumpImported,
		models.StatsDataframesCreated:         c.handleDataframesCreated,
		models.StatsMissingData:               c.handleMissingData,
		models.StatsModelCreated:              c.handleModelCreated,
		models.StatsCandidateSetsCreated:      c.handleCandidateSetsCreated,
		models.StatsRecommendationsGenerated:  c.handleRecommendations,
		models.StatsSimilarUsers:              c.handleSimilarUsers,
	}
	return c
}

// Serve consumes the stats topic until the context is canceled.
// Subscription failures are retried with a fixed backoff, never fatal.
func (c *Consumer) Serve(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		messages, err := c.subscriber.Subscribe(ctx, c.topic)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			logging.Err(err).
				Str("topic", c.topic).
				Dur("backoff", c.backoff).
				Msg("stats subscribe failed, retrying")
			c.sleep(ctx)
			continue
		}

		c.drain(ctx, messages)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		logging.Warn().
			Str("topic", c.topic).
			Dur("backoff", c.backoff).
			Msg("stats subscription closed, reconnecting")
		c.sleep(ctx)
	}
}

func (c *Consumer) drain(ctx context.Context, messages <-chan *message.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			metrics.RecordBrokerConsume(c.topic)
			c.Process(ctx, msg.Payload)
			msg.Ack()
		}
	}
}

// Process handles one raw message and returns its outcome. Exported so
// the wire loop and tests share one entry point.
func (c *Consumer) Process(ctx context.Context, raw []byte) Outcome {
	start := time.Now()

	var envelope struct {
		Type models.StatsMessageType `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		metrics.RecordBrokerParseFailure(c.topic)
		outcome := Rejected("undecodable message")
		logging.Error().
			Str("payload", string(raw)).
			Str("reason", outcome.Reason).
			Msg("stats message rejected")
		metrics.RecordStatsOutcome("unknown", outcome.Label(), time.Since(start))
		return outcome
	}

	handler, ok := c.handlers[envelope.Type]
	if !ok {
		outcome := Rejected(fmt.Sprintf("unknown message type %q", envelope.Type))
		logging.Error().
			Str("payload", string(raw)).
			Str("reason", outcome.Reason).
			Msg("stats message rejected")
		metrics.RecordStatsOutcome(string(envelope.Type), outcome.Label(), time.Since(start))
		return outcome
	}

	outcome := handler(ctx, raw)
	switch outcome.Kind {
	case OutcomeRejected:
		logging.Error().
			Str("type", string(envelope.Type)).
			Str("payload", string(raw)).
			Str("reason", outcome.Reason).
			Msg("stats message rejected")
	case OutcomeSkippedUnknownUser:
		logging.Info().
			Str("type", string(envelope.Type)).
			Msg("stats message for unknown user skipped")
	default:
		logging.Debug().
			Str("type", string(envelope.Type)).
			Msg("stats message persisted")
	}

	metrics.RecordStatsOutcome(string(envelope.Type), outcome.Label(), time.Since(start))
	return outcome
}

// decode unmarshals and schema-validates a payload in one step.
func decode[T any](raw []byte) (*T, Outcome, bool) {
	var payload T
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, Rejected(fmt.Sprintf("undecodable payload: %v", err)), false
	}
	if verr := validation.ValidateStruct(&payload); verr != nil {
		return nil, Rejected(verr.Error()), false
	}
	return &payload, Outcome{}, true
}

// resolveUser looks up the local user for an external identifier.
func (c *Consumer) resolveUser(ctx context.Context, musicBrainzID string) (*models.User, Outcome, bool) {
	user, err := c.db.GetUserByName(ctx, musicBrainzID)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return nil, SkippedUnknownUser(), false
		}
		return nil, Rejected(fmt.Sprintf("user lookup failed: %v", err)), false
	}
	return user, Outcome{}, true
}

// maybeNotifyBatch sends the one-per-batch stats notification. User stats
// arrive as many messages per batch; only the first message after the
// staleness window triggers a mail.
func (c *Consumer) maybeNotifyBatch(ctx context.Context, statType string) {
	last, err := c.db.LastStatsUpdate(ctx)
	if err != nil {
		logging.Err(err).Msg("failed to check stats staleness")
		return
	}
	if last != 0 && time.Since(time.Unix(last, 0)) <= c.staleThreshold {
		return
	}
	_ = c.notifier.Notify(ctx, notify.Event{
		Type: notify.EventUserStatsUpdate,
		Data: map[string]interface{}{
			"StatType": statType,
			"Now":      time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func (c *Consumer) handleUserEntity(ctx context.Context, raw []byte) Outcome {
	payload, outcome, ok := decode[models.UserEntityStatsPayload](raw)
	if !ok {
		return outcome
	}
	user, outcome, ok := c.resolveUser(ctx, payload.MusicBrainzID)
	if !ok {
		return outcome
	}

	c.maybeNotifyBatch(ctx, string(models.StatsUserEntity))

	rec := &models.UserStatRecord{
		UserID:     user.ID,
		StatType:   payload.Entity,
		StatsRange: payload.StatsRange,
		FromTS:     payload.FromTS,
		ToTS:       payload.ToTS,
		Data:       payload.Data,
		LastUpdate: time.Now().Unix(),
	}
	if err := c.db.UpsertUserStat(ctx, rec); err != nil {
		return Rejected(fmt.Sprintf("persist failed: %v", err))
	}
	return Persisted()
}

// handleUserActivity persists listening_activity and daily_activity stats,
// which share a shape apart from the stored stat type.
func (c *Consumer) handleUserActivity(ctx context.Context, raw []byte, statType string) Outcome {
	payload, outcome, ok := decode[models.UserListeningActivityPayload](raw)
	if !ok {
		return outcome
	}
	user, outcome, ok := c.resolveUser(ctx, payload.MusicBrainzID)
	if !ok {
		return outcome
	}

	c.maybeNotifyBatch(ctx, statType)

	rec := &models.UserStatRecord{
		UserID:     user.ID,
		StatType:   statType,
		StatsRange: payload.StatsRange,
		FromTS:     payload.FromTS,
		ToTS:       payload.ToTS,
		Data:       payload.Data,
		LastUpdate: time.Now().Unix(),
	}
	if err := c.db.UpsertUserStat(ctx, rec); err != nil {
		return Rejected(fmt.Sprintf("persist failed: %v", err))
	}
	return Persisted()
}

func (c *Consumer) handleUserListeningActivity(ctx context.Context, raw []byte) Outcome {
	return c.handleUserActivity(ctx, raw, "listening_activity")
}

func (c *Consumer) handleUserDailyActivity(ctx context.Context, raw []byte) Outcome {
	return c.handleUserActivity(ctx, raw, "daily_activity")
}

func (c *Consumer) handleSitewideEntity(ctx context.Context, raw []byte) Outcome {
	payload, outcome, ok := decode[models.SitewideEntityStatsPayload](raw)
	if !ok {
		return outcome
	}

	c.maybeNotifyBatch(ctx, string(models.StatsSitewideEntity))

	rec := &models.SitewideStatRecord{
		StatType:   payload.Entity,
		StatsRange: payload.StatsRange,
		FromTS:     payload.FromTS,
		ToTS:       payload.ToTS,
		Data:       payload.Data,
		LastUpdate: time.Now().Unix(),
	}
	if err := c.db.UpsertSitewideStat(ctx, rec); err != nil {
		return Rejected(fmt.Sprintf("persist failed: %v", err))
	}
	return Persisted()
}

func (c *Consumer) handleSitewideListeningActivity(ctx context.Context, raw []byte) Outcome {
	payload, outcome, ok := decode[models.SitewideListeningActivityPayload](raw)
	if !ok {
		return outcome
	}

	c.maybeNotifyBatch(ctx, string(models.StatsSitewideListeningActivity))

	rec := &models.SitewideStatRecord{
		StatType:   "listening_activity",
		StatsRange: payload.StatsRange,
		FromTS:     payload.FromTS,
		ToTS:       payload.ToTS,
		Data:       payload.Data,
		LastUpdate: time.Now().Unix(),
	}
	if err := c.db.UpsertSitewideStat(ctx, rec); err != nil {
		return Rejected(fmt.Sprintf("persist failed: %v", err))
	}
	return Persisted()
}

// handleDumpImported mails the exceptions mailbox when the cluster
// reports import errors; a clean import needs no action.
func (c *Consumer) handleDumpImported(ctx context.Context, raw []byte) Outcome {
	payload, outcome, ok := decode[models.DumpImportedPayload](raw)
	if !ok {
		return outcome
	}

	if len(payload.Errors) > 0 {
		_ = c.notifier.Notify(ctx, notify.Event{
			Type: notify.EventDumpImportFailure,
			Data: map[string]interface{}{
				"Time":   payload.TotalTime,
				"Errors": payload.Errors,
			},
		})
	}
	return Persisted()
}

func (c *Consumer) handleDataframesCreated(ctx context.Context, raw []byte) Outcome {
	payload, outcome, ok := decode[models.DataframesCreatedPayload](raw)
	if !ok {
		return outcome
	}

	_ = c.notifier.Notify(ctx, notify.Event{
		Type: notify.EventDataframesCreated,
		Data: map[string]interface{}{
			"UploadTime": payload.DataframeUploadTime,
			"TotalTime":  payload.TotalTime,
		},
	})
	return Persisted()
}

func (c *Consumer) handleMissingData(ctx context.Context, raw []byte) Outcome {
	payload, outcome, ok := decode[models.MissingDataPayload](raw)
	if !ok {
		return outcome
	}
	user, outcome, ok := c.resolveUser(ctx, payload.MusicBrainzID)
	if !ok {
		return outcome
	}

	err := c.db.UpsertMissingCatalogData(ctx, user.ID, payload.Source, payload.MissingData, time.Now().Unix())
	if err != nil {
		return Rejected(fmt.Sprintf("persist failed: %v", err))
	}
	return Persisted()
}

func (c *Consumer) handleModelCreated(ctx context.Context, raw []byte) Outcome {
	payload, outcome, ok := decode[models.ModelCreatedPayload](raw)
	if !ok {
		return outcome
	}

	_ = c.notifier.Notify(ctx, notify.Event{
		Type: notify.EventModelCreated,
		Data: map[string]interface{}{
			"ModelID":    payload.ModelID,
			"UploadTime": payload.ModelUploadTime,
			"TotalTime":  payload.TotalTime,
		},
	})
	return Persisted()
}

func (c *Consumer) handleCandidateSetsCreated(ctx context.Context, raw []byte) Outcome {
	payload, outcome, ok := decode[models.CandidateSetsCreatedPayload](raw)
	if !ok {
		return outcome
	}

	_ = c.notifier.Notify(ctx, notify.Event{
		Type: notify.EventCandidateSetsCreated,
		Data: map[string]interface{}{
			"TotalTime": payload.TotalTime,
		},
	})
	return Persisted()
}

func (c *Consumer) handleRecommendations(ctx context.Context, raw []byte) Outcome {
	payload, outcome, ok := decode[models.RecommendationsGeneratedPayload](raw)
	if !ok {
		return outcome
	}
	user, outcome, ok := c.resolveUser(ctx, payload.MusicBrainzID)
	if !ok {
		return outcome
	}

	// Recommendation batches recur on a much longer cycle than stats.
	last, err := c.db.LastRecommendationsUpdate(ctx)
	if err == nil && (last == 0 || time.Since(time.Unix(last, 0)) > recommendationsStaleAfter) {
		_ = c.notifier.Notify(ctx, notify.Event{
			Type: notify.EventRecommendationsGenerated,
			Data: map[string]interface{}{
				"Now": time.Now().UTC().Format(time.RFC3339),
			},
		})
	}

	err = c.db.UpsertUserRecommendations(ctx, user.ID, payload.Recommendations, time.Now().Unix())
	if err != nil {
		return Rejected(fmt.Sprintf("persist failed: %v", err))
	}
	return Persisted()
}

// handleSimilarUsers imports the full similarity matrix. Rows for unknown
// users are dropped individually; the message as a whole still persists.
func (c *Consumer) handleSimilarUsers(ctx context.Context, raw []byte) Outcome {
	payload, outcome, ok := decode[models.SimilarUsersPayload](raw)
	if !ok {
		return outcome
	}

	imported := 0
	now := time.Now().Unix()
	for userName, similar := range payload.Data {
		user, _, ok := c.resolveUser(ctx, userName)
		if !ok {
			continue
		}
		blob, err := json.Marshal(similar)
		if err != nil {
			return Rejected(fmt.Sprintf("unencodable similarity row: %v", err))
		}
		if err := c.db.UpsertSimilarUsers(ctx, user.ID, blob, now); err != nil {
			return Rejected(fmt.Sprintf("persist failed: %v", err))
		}
		imported++
	}

	_ = c.notifier.Notify(ctx, notify.Event{
		Type: notify.EventSimilarUsersComputed,
		Data: map[string]interface{}{
			"UserCount": imported,
		},
	})
	return Persisted()
}

func (c *Consumer) sleep(ctx context.Context) {
	timer := time.NewTimer(c.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
