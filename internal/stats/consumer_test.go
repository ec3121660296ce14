// Soundprint - Music Listening Tracking and Statistics
// Copyright 2026 Soundprint contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundprint/soundprint

package stats

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/soundprint/soundprint/internal/config"
	"github.com/soundprint/soundprint/internal/database"
	"github.com/soundprint/soundprint/internal/models"
	"github.com/soundprint/soundprint/internal/notify"
)

// testDBSemaphore serializes in-memory DuckDB instances to bound memory.
var testDBSemaphore = make(chan struct{}, 1)

type recordedEvent struct {
	eventType notify.EventType
	data      map[string]interface{}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (n *recordingNotifier) Notify(_ context.Context, ev notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, recordedEvent{eventType: ev.Type, data: ev.Data})
	return nil
}

func (n *recordingNotifier) byType(t notify.EventType) []recordedEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []recordedEvent
	for _, ev := range n.events {
		if ev.eventType == t {
			out = append(out, ev)
		}
	}
	return out
}

func setupConsumer(t *testing.T) (*Consumer, *database.DB, *recordingNotifier) {
	t.Helper()

	testDBSemaphore <- struct{}{}
	t.Cleanup(func() { <-testDBSemaphore })

	db, err := database.New(&config.DatabaseConfig{
		Path:      ":memory:",
		MaxMemory: "1GB",
		Threads:   1,
	})
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	notifier := &recordingNotifier{}
	consumer := NewConsumer(nil, db, notifier,
		&config.NATSConfig{StatsTopic: "stats"},
		&config.StatsConfig{StaleThreshold: 20 * time.Minute})
	return consumer, db, notifier
}

func createUser(t *testing.T, db *database.DB, name string) *models.User {
	t.Helper()
	user, err := db.GetOrCreateUser(context.Background(), name)
	if err != nil {
		t.Fatalf("failed to create user %s: %v", name, err)
	}
	return user
}

func TestProcessUserEntityPersists(t *testing.T) {
	consumer, db, notifier := setupConsumer(t)
	user := createUser(t, db, "alice")

	raw := []byte(`{
		"type": "user_entity",
		"musicbrainz_id": "alice",
		"entity": "artists",
		"stats_range": "week",
		"from_ts": 1000,
		"to_ts": 2000,
		"count": 2,
		"data": [{"artist_name": "Boards of Canada", "listen_count": 12}]
	}`)

	outcome := consumer.Process(context.Background(), raw)
	if outcome.Kind != OutcomePersisted {
		t.Fatalf("expected persisted outcome, got %v (%s)", outcome.Kind, outcome.Reason)
	}

	rec, err := db.GetUserStat(context.Background(), user.ID, "artists", "week")
	if err != nil {
		t.Fatalf("GetUserStat failed: %v", err)
	}
	if rec == nil {
		t.Fatal("expected stored stat, got nil")
	}
	if rec.FromTS != 1000 || rec.ToTS != 2000 {
		t.Errorf("expected range [1000,2000], got [%d,%d]", rec.FromTS, rec.ToTS)
	}

	// The first stats write of a batch triggers exactly one notification.
	if got := notifier.byType(notify.EventUserStatsUpdate); len(got) != 1 {
		t.Errorf("expected 1 batch notification, got %d", len(got))
	}
}

func TestProcessNotifiesOncePerBatch(t *testing.T) {
	consumer, db, notifier := setupConsumer(t)
	createUser(t, db, "alice")

	raw := []byte(`{
		"type": "user_listening_activity",
		"musicbrainz_id": "alice",
		"stats_range": "week",
		"from_ts": 1000,
		"to_ts": 2000,
		"data": [{"listen_count": 5}]
	}`)

	for i := 0; i < 3; i++ {
		if outcome := consumer.Process(context.Background(), raw); outcome.Kind != OutcomePersisted {
			t.Fatalf("message %d: expected persisted, got %v (%s)", i, outcome.Kind, outcome.Reason)
		}
	}

	if got := notifier.byType(notify.EventUserStatsUpdate); len(got) != 1 {
		t.Errorf("expected 1 notification for the batch, got %d", len(got))
	}
}

func TestProcessUnknownUserIsSkipped(t *testing.T) {
	consumer, _, notifier := setupConsumer(t)

	raw := []byte(`{
		"type": "user_entity",
		"musicbrainz_id": "nobody",
		"entity": "artists",
		"stats_range": "week",
		"from_ts": 1000,
		"to_ts": 2000,
		"data": [{"artist_name": "X"}]
	}`)

	outcome := consumer.Process(context.Background(), raw)
	if outcome.Kind != OutcomeSkippedUnknownUser {
		t.Fatalf("expected skipped outcome, got %v (%s)", outcome.Kind, outcome.Reason)
	}
	if len(notifier.events) != 0 {
		t.Errorf("skipped messages must not notify, got %d events", len(notifier.events))
	}
}

func TestProcessValidationFailureIsRejected(t *testing.T) {
	consumer, db, _ := setupConsumer(t)
	createUser(t, db, "alice")

	// stats_range missing.
	raw := []byte(`{
		"type": "user_entity",
		"musicbrainz_id": "alice",
		"entity": "artists",
		"from_ts": 1000,
		"to_ts": 2000,
		"data": [{"artist_name": "X"}]
	}`)

	outcome := consumer.Process(context.Background(), raw)
	if outcome.Kind != OutcomeRejected {
		t.Fatalf("expected rejected outcome, got %v", outcome.Kind)
	}
	if outcome.Reason == "" {
		t.Error("expected rejection reason")
	}
}

func TestProcessUnknownTypeIsRejected(t *testing.T) {
	consumer, _, _ := setupConsumer(t)

	outcome := consumer.Process(context.Background(), []byte(`{"type": "wat"}`))
	if outcome.Kind != OutcomeRejected {
		t.Fatalf("expected rejected outcome, got %v", outcome.Kind)
	}
}

func TestProcessSitewideEntity(t *testing.T) {
	consumer, db, _ := setupConsumer(t)

	raw := []byte(`{
		"type": "sitewide_entity",
		"entity": "releases",
		"stats_range": "month",
		"from_ts": 5000,
		"to_ts": 6000,
		"data": [{"release_name": "Geogaddi", "listen_count": 40}]
	}`)

	outcome := consumer.Process(context.Background(), raw)
	if outcome.Kind != OutcomePersisted {
		t.Fatalf("expected persisted outcome, got %v (%s)", outcome.Kind, outcome.Reason)
	}

	rec, err := db.GetSitewideStat(context.Background(), "releases", "month")
	if err != nil {
		t.Fatalf("GetSitewideStat failed: %v", err)
	}
	if rec == nil {
		t.Fatal("expected stored sitewide stat, got nil")
	}
}

func TestProcessLatestStatWins(t *testing.T) {
	consumer, db, _ := setupConsumer(t)
	user := createUser(t, db, "alice")

	first := []byte(`{
		"type": "user_entity",
		"musicbrainz_id": "alice",
		"entity": "artists",
		"stats_range": "week",
		"from_ts": 1000,
		"to_ts": 2000,
		"data": [{"artist_name": "Old"}]
	}`)
	second := []byte(`{
		"type": "user_entity",
		"musicbrainz_id": "alice",
		"entity": "artists",
		"stats_range": "week",
		"from_ts": 3000,
		"to_ts": 4000,
		"data": [{"artist_name": "New"}]
	}`)

	consumer.Process(context.Background(), first)
	consumer.Process(context.Background(), second)

	rec, err := db.GetUserStat(context.Background(), user.ID, "artists", "week")
	if err != nil {
		t.Fatalf("GetUserStat failed: %v", err)
	}
	if rec.FromTS != 3000 {
		t.Errorf("expected latest write to win, got from_ts %d", rec.FromTS)
	}
}

func TestProcessDumpImported(t *testing.T) {
	consumer, _, notifier := setupConsumer(t)

	clean := []byte(`{"type": "dump_imported", "imported_dump": "full-2026-08", "time": "2026-08-01 12:00:00"}`)
	if outcome := consumer.Process(context.Background(), clean); outcome.Kind != OutcomePersisted {
		t.Fatalf("expected persisted outcome, got %v (%s)", outcome.Kind, outcome.Reason)
	}
	if got := notifier.byType(notify.EventDumpImportFailure); len(got) != 0 {
		t.Errorf("clean import must not notify, got %d events", len(got))
	}

	failed := []byte(`{"type": "dump_imported", "imported_dump": "full-2026-08", "time": "2026-08-01 12:00:00", "errors": ["missing chunk 4"]}`)
	if outcome := consumer.Process(context.Background(), failed); outcome.Kind != OutcomePersisted {
		t.Fatalf("expected persisted outcome, got %v (%s)", outcome.Kind, outcome.Reason)
	}
	got := notifier.byType(notify.EventDumpImportFailure)
	if len(got) != 1 {
		t.Fatalf("expected 1 failure notification, got %d", len(got))
	}
	errs := got[0].data["Errors"].([]string)
	if len(errs) != 1 || errs[0] != "missing chunk 4" {
		t.Errorf("expected import errors in notification, got %v", errs)
	}
}

func TestProcessSimilarUsersSkipsUnknownRows(t *testing.T) {
	consumer, db, notifier := setupConsumer(t)
	createUser(t, db, "alice")

	raw := []byte(`{
		"type": "similar_users",
		"data": {
			"alice": {"bob": 0.8},
			"ghost": {"alice": 0.5}
		}
	}`)

	outcome := consumer.Process(context.Background(), raw)
	if outcome.Kind != OutcomePersisted {
		t.Fatalf("expected persisted outcome, got %v (%s)", outcome.Kind, outcome.Reason)
	}

	got := notifier.byType(notify.EventSimilarUsersComputed)
	if len(got) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(got))
	}
	if count := got[0].data["UserCount"].(int); count != 1 {
		t.Errorf("expected 1 imported user, got %d", count)
	}
}
