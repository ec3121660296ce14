// Soundprint - Music Listening Tracking and Statistics
// Copyright 2026 Soundprint contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundprint/soundprint

package api

import (
	"net/http"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/soundprint/soundprint/internal/broker"
)

func TestSubmitListensPersistsAndPublishes(t *testing.T) {
	ts := setupServer(t)
	user := ts.createUser(t, "alice")

	body := submitBody("import",
		listenEntry(1000, "Track One"),
		listenEntry(2000, "Track Two"),
		listenEntry(3000, "Track Three"),
	)
	rec, env := ts.request(t, http.MethodPost, "/1/submit-listens", tokenHeader(user), body)
	requireStatus(t, rec, http.StatusOK)
	if env.Data["accepted"].(float64) != 3 {
		t.Fatalf("expected 3 accepted, got %v", env.Data["accepted"])
	}
	normalized := env.Data["listens"].([]interface{})
	if len(normalized) != 3 {
		t.Fatalf("expected 3 normalized listens in response, got %d", len(normalized))
	}
	if got := normalized[0].(map[string]interface{})["user_name"]; got != "alice" {
		t.Errorf("expected normalized listens stamped with user_name, got %v", got)
	}

	// Exported history holds exactly the submitted listens, newest first.
	rec, env = ts.request(t, http.MethodGet, "/1/user/alice/listens", "", nil)
	requireStatus(t, rec, http.StatusOK)
	listens := env.Data["listens"].([]interface{})
	if len(listens) != 3 {
		t.Fatalf("expected 3 listens, got %d", len(listens))
	}
	first := listens[0].(map[string]interface{})
	if first["listened_at"].(float64) != 3000 {
		t.Errorf("expected newest listen first, got listened_at=%v", first["listened_at"])
	}
	meta := first["track_metadata"].(map[string]interface{})
	if meta["track_name"] != "Track Three" {
		t.Errorf("expected track_name 'Track Three', got %v", meta["track_name"])
	}

	published := ts.publisher.byTopic("listens")
	if len(published) != 1 {
		t.Fatalf("expected 1 published bundle, got %d", len(published))
	}
	if got := published[0].metadata.Get(broker.MetadataUserName); got != "alice" {
		t.Errorf("expected user_name metadata 'alice', got %q", got)
	}
	var bundle []map[string]interface{}
	if err := json.Unmarshal(published[0].payload, &bundle); err != nil {
		t.Fatalf("failed to decode published bundle: %v", err)
	}
	if len(bundle) != 3 {
		t.Errorf("expected 3 entries in bundle, got %d", len(bundle))
	}
	if bundle[0]["user_name"] != "alice" {
		t.Errorf("expected bundle entries stamped with user_name, got %v", bundle[0]["user_name"])
	}
}

func TestSubmitListensRequiresToken(t *testing.T) {
	ts := setupServer(t)

	rec, env := ts.request(t, http.MethodPost, "/1/submit-listens", "",
		submitBody("single", listenEntry(1000, "Track")))
	requireStatus(t, rec, http.StatusUnauthorized)
	if env.Error == nil || env.Error.Code != "AUTHENTICATION_ERROR" {
		t.Fatalf("expected AUTHENTICATION_ERROR, got %+v", env.Error)
	}

	rec, _ = ts.request(t, http.MethodPost, "/1/submit-listens", "Token bogus-token",
		submitBody("single", listenEntry(1000, "Track")))
	requireStatus(t, rec, http.StatusUnauthorized)
}

func TestSubmitListensRejectsMissingTrackMetadata(t *testing.T) {
	ts := setupServer(t)
	user := ts.createUser(t, "bob")

	entry := map[string]interface{}{"listened_at": 1000}
	rec, env := ts.request(t, http.MethodPost, "/1/submit-listens", tokenHeader(user),
		submitBody("single", entry))
	requireStatus(t, rec, http.StatusBadRequest)
	if env.Error == nil {
		t.Fatal("expected an error envelope")
	}

	// Nothing was persisted.
	rec, env = ts.request(t, http.MethodGet, "/1/user/bob/listens", "", nil)
	requireStatus(t, rec, http.StatusOK)
	if len(env.Data["listens"].([]interface{})) != 0 {
		t.Error("expected no listens after a rejected submission")
	}
}

func TestSubmitListensSingleRequiresExactlyOne(t *testing.T) {
	ts := setupServer(t)
	user := ts.createUser(t, "carol")

	rec, _ := ts.request(t, http.MethodPost, "/1/submit-listens", tokenHeader(user),
		submitBody("single", listenEntry(1000, "A"), listenEntry(2000, "B")))
	requireStatus(t, rec, http.StatusBadRequest)
}

func TestSubmitListensDuplicateIsIdempotent(t *testing.T) {
	ts := setupServer(t)
	user := ts.createUser(t, "dave")

	entry := listenEntry(5000, "Repeat")
	rec, env := ts.request(t, http.MethodPost, "/1/submit-listens", tokenHeader(user),
		submitBody("single", entry))
	requireStatus(t, rec, http.StatusOK)
	if env.Data["accepted"].(float64) != 1 {
		t.Fatalf("expected 1 accepted, got %v", env.Data["accepted"])
	}

	rec, env = ts.request(t, http.MethodPost, "/1/submit-listens", tokenHeader(user),
		submitBody("single", entry))
	requireStatus(t, rec, http.StatusOK)
	if env.Data["accepted"].(float64) != 0 {
		t.Errorf("expected 0 accepted on resubmission, got %v", env.Data["accepted"])
	}
	if env.Data["duplicates"].(float64) != 1 {
		t.Errorf("expected 1 duplicate, got %v", env.Data["duplicates"])
	}
}

func TestSubmitPlayingNowIsNotPersisted(t *testing.T) {
	ts := setupServer(t)
	user := ts.createUser(t, "erin")

	entry := listenEntry(0, "Live Track")
	delete(entry, "listened_at")
	rec, _ := ts.request(t, http.MethodPost, "/1/submit-listens", tokenHeader(user),
		submitBody("playing_now", entry))
	requireStatus(t, rec, http.StatusOK)

	if got := len(ts.publisher.byTopic("playing_now")); got != 1 {
		t.Fatalf("expected 1 playing_now bundle, got %d", got)
	}
	if got := len(ts.publisher.byTopic("listens")); got != 0 {
		t.Errorf("expected no listens bundle for playing_now, got %d", got)
	}

	rec, env := ts.request(t, http.MethodGet, "/1/user/erin/listen-count", "", nil)
	requireStatus(t, rec, http.StatusOK)
	if env.Data["count"].(float64) != 0 {
		t.Errorf("expected 0 persisted listens, got %v", env.Data["count"])
	}
}

func TestListenCountIsCached(t *testing.T) {
	ts := setupServer(t)
	user := ts.createUser(t, "frank")

	rec, _ := ts.request(t, http.MethodPost, "/1/submit-listens", tokenHeader(user),
		submitBody("import", listenEntry(1000, "A"), listenEntry(2000, "B")))
	requireStatus(t, rec, http.StatusOK)

	rec, env := ts.request(t, http.MethodGet, "/1/user/frank/listen-count", "", nil)
	requireStatus(t, rec, http.StatusOK)
	if env.Data["count"].(float64) != 2 {
		t.Fatalf("expected count 2, got %v", env.Data["count"])
	}
	if env.Metadata.Cached {
		t.Error("first read should not be served from cache")
	}

	rec, env = ts.request(t, http.MethodGet, "/1/user/frank/listen-count", "", nil)
	requireStatus(t, rec, http.StatusOK)
	if !env.Metadata.Cached {
		t.Error("second read should be served from cache")
	}
	if env.Data["count"].(float64) != 2 {
		t.Errorf("cached count mismatch: %v", env.Data["count"])
	}
}

func TestSubmitListensInvalidatesCountCache(t *testing.T) {
	ts := setupServer(t)
	user := ts.createUser(t, "gina")

	rec, _ := ts.request(t, http.MethodPost, "/1/submit-listens", tokenHeader(user),
		submitBody("single", listenEntry(1000, "A")))
	requireStatus(t, rec, http.StatusOK)

	rec, env := ts.request(t, http.MethodGet, "/1/user/gina/listen-count", "", nil)
	requireStatus(t, rec, http.StatusOK)
	if env.Data["count"].(float64) != 1 {
		t.Fatalf("expected count 1, got %v", env.Data["count"])
	}

	rec, _ = ts.request(t, http.MethodPost, "/1/submit-listens", tokenHeader(user),
		submitBody("single", listenEntry(2000, "B")))
	requireStatus(t, rec, http.StatusOK)

	rec, env = ts.request(t, http.MethodGet, "/1/user/gina/listen-count", "", nil)
	requireStatus(t, rec, http.StatusOK)
	if env.Data["count"].(float64) != 2 {
		t.Errorf("expected count 2 after cache invalidation, got %v", env.Data["count"])
	}
}

func TestGetListensPagination(t *testing.T) {
	ts := setupServer(t)
	user := ts.createUser(t, "henry")

	entries := []map[string]interface{}{
		listenEntry(1000, "One"),
		listenEntry(2000, "Two"),
		listenEntry(3000, "Three"),
	}
	rec, _ := ts.request(t, http.MethodPost, "/1/submit-listens", tokenHeader(user),
		submitBody("import", entries...))
	requireStatus(t, rec, http.StatusOK)

	// max_ts pages strictly backwards.
	rec, env := ts.request(t, http.MethodGet, "/1/user/henry/listens?max_ts=3000&count=1", "", nil)
	requireStatus(t, rec, http.StatusOK)
	listens := env.Data["listens"].([]interface{})
	if len(listens) != 1 {
		t.Fatalf("expected 1 listen, got %d", len(listens))
	}
	if got := listens[0].(map[string]interface{})["listened_at"].(float64); got != 2000 {
		t.Errorf("expected listened_at 2000, got %v", got)
	}
}

func TestGetListensUnknownUser(t *testing.T) {
	ts := setupServer(t)

	rec, env := ts.request(t, http.MethodGet, "/1/user/nobody/listens", "", nil)
	requireStatus(t, rec, http.StatusNotFound)
	if env.Error == nil || env.Error.Code != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND, got %+v", env.Error)
	}
}

func TestDeleteListensResetsImportMarker(t *testing.T) {
	ts := setupServer(t)
	user := ts.createUser(t, "iris")

	rec, _ := ts.request(t, http.MethodPost, "/1/submit-listens", tokenHeader(user),
		submitBody("import", listenEntry(1000, "A"), listenEntry(2000, "B")))
	requireStatus(t, rec, http.StatusOK)

	rec, _ = ts.request(t, http.MethodPost, "/1/latest-import", tokenHeader(user),
		map[string]interface{}{"ts": 2000})
	requireStatus(t, rec, http.StatusOK)

	rec, _ = ts.request(t, http.MethodPost, "/1/delete-listens", tokenHeader(user), nil)
	requireStatus(t, rec, http.StatusOK)

	rec, env := ts.request(t, http.MethodGet, "/1/user/iris/listens", "", nil)
	requireStatus(t, rec, http.StatusOK)
	if len(env.Data["listens"].([]interface{})) != 0 {
		t.Error("expected empty history after delete")
	}

	rec, env = ts.request(t, http.MethodGet, "/1/latest-import", tokenHeader(user), nil)
	requireStatus(t, rec, http.StatusOK)
	if env.Data["latest_import"].(float64) != 0 {
		t.Errorf("expected latest_import reset to 0, got %v", env.Data["latest_import"])
	}
}

func TestLatestImportRoundTrip(t *testing.T) {
	ts := setupServer(t)
	user := ts.createUser(t, "jane")

	rec, env := ts.request(t, http.MethodGet, "/1/latest-import", tokenHeader(user), nil)
	requireStatus(t, rec, http.StatusOK)
	if env.Data["latest_import"].(float64) != 0 {
		t.Fatalf("expected fresh marker 0, got %v", env.Data["latest_import"])
	}

	rec, _ = ts.request(t, http.MethodPost, "/1/latest-import", tokenHeader(user),
		map[string]interface{}{"ts": 1700000000})
	requireStatus(t, rec, http.StatusOK)

	rec, env = ts.request(t, http.MethodGet, "/1/latest-import", tokenHeader(user), nil)
	requireStatus(t, rec, http.StatusOK)
	if env.Data["latest_import"].(float64) != 1700000000 {
		t.Errorf("expected marker 1700000000, got %v", env.Data["latest_import"])
	}
	if env.Data["musicbrainz_id"] != "jane" {
		t.Errorf("expected musicbrainz_id jane, got %v", env.Data["musicbrainz_id"])
	}
}
