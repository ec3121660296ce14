// Soundprint - Music Listening Tracking and Statistics
// Copyright 2026 Soundprint contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundprint/soundprint

package database

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/soundprint/soundprint/internal/models"
)

func newTestListen(user *models.User, listenedAt int64, trackName string) *models.Listen {
	return &models.Listen{
		UserID:        user.ID,
		UserName:      user.MusicBrainzID,
		Timestamp:     time.Unix(listenedAt, 0).UTC(),
		ArtistMSID:    uuid.New().String(),
		RecordingMSID: uuid.New().String(),
		Data: map[string]interface{}{
			"track_name":      trackName,
			"artist_name":     "Radiohead",
			"additional_info": map[string]interface{}{},
		},
	}
}

func TestInsertThreeExportThree(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "rob")

	listens := []*models.Listen{
		newTestListen(user, 1000, "Airbag"),
		newTestListen(user, 2000, "Paranoid Android"),
		newTestListen(user, 3000, "Karma Police"),
	}
	inserted, err := db.InsertListens(ctx, listens)
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if inserted != 3 {
		t.Errorf("expected 3 inserted, got %d", inserted)
	}

	exported, err := db.FetchListens(ctx, "rob", 0, 0)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(exported) != 3 {
		t.Fatalf("expected 3 exported listens, got %d", len(exported))
	}

	// Newest-first ordering.
	for i := 1; i < len(exported); i++ {
		if !exported[i-1].Timestamp.After(exported[i].Timestamp) {
			t.Errorf("listens not newest-first at index %d", i)
		}
	}
}

func TestInsertListensIdempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "rob")

	listen := newTestListen(user, 1000, "Airbag")
	if _, err := db.InsertListens(ctx, []*models.Listen{listen}); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}

	inserted, err := db.InsertListens(ctx, []*models.Listen{listen})
	if err != nil {
		t.Fatalf("resubmission failed: %v", err)
	}
	if inserted != 0 {
		t.Errorf("resubmitted listen should be skipped, got %d inserted", inserted)
	}

	count, err := db.ListenCountForUser(ctx, "rob")
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 listen, got %d", count)
	}
}

func TestDeleteListensResetsImportMarker(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "rob")

	if _, err := db.InsertListens(ctx, []*models.Listen{
		newTestListen(user, 1000, "Airbag"),
		newTestListen(user, 2000, "Paranoid Android"),
	}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := db.UpdateLatestImport(ctx, user.ID, 2000); err != nil {
		t.Fatalf("marker update failed: %v", err)
	}

	if err := db.DeleteListensForUser(ctx, user.ID, "rob"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	count, err := db.ListenCountForUser(ctx, "rob")
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 listens after delete, got %d", count)
	}

	refreshed, err := db.GetUserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("user lookup failed: %v", err)
	}
	if refreshed.LatestImportAt != 0 {
		t.Errorf("latest-import marker should reset to 0, got %d", refreshed.LatestImportAt)
	}
}

func TestFetchListensToTSAndLimit(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "rob")

	for i := int64(1); i <= 5; i++ {
		if _, err := db.InsertListens(ctx, []*models.Listen{
			newTestListen(user, i*1000, "Track"),
		}); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	listens, err := db.FetchListens(ctx, "rob", 4000, 2)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(listens) != 2 {
		t.Fatalf("expected 2 listens, got %d", len(listens))
	}
	if listens[0].Timestamp.Unix() != 3000 {
		t.Errorf("expected newest listen before 4000 to be 3000, got %d", listens[0].Timestamp.Unix())
	}
}

func TestFetchListensInjectsCompleteMapping(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "rob")

	mapped := newTestListen(user, 1000, "Airbag")
	unmapped := newTestListen(user, 2000, "Untitled")
	if _, err := db.InsertListens(ctx, []*models.Listen{mapped, unmapped}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	err := db.UpsertMBIDMapping(ctx, mapped.RecordingMSID, &models.MBIDMapping{
		RecordingMBID: uuid.New().String(),
		ReleaseMBID:   uuid.New().String(),
		ArtistMBIDs:   []string{uuid.New().String()},
	})
	if err != nil {
		t.Fatalf("mapping upsert failed: %v", err)
	}

	listens, err := db.FetchListens(ctx, "rob", 0, 0)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(listens) != 2 {
		t.Fatalf("expected 2 listens, got %d", len(listens))
	}

	// Newest first: listens[0] is the unmapped one.
	if _, ok := listens[0].Data["mbid_mapping"]; ok {
		t.Error("unmapped listen must not carry mbid_mapping")
	}
	if _, ok := listens[1].Data["mbid_mapping"]; !ok {
		t.Error("mapped listen should carry mbid_mapping")
	}
}
