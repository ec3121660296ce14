// Soundprint - Music Listening Tracking and Statistics
// Copyright 2026 Soundprint contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundprint/soundprint

package database

import (
	"context"
	"testing"

	"github.com/soundprint/soundprint/internal/models"
)

func TestUpsertUserStatLatestWins(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "rob")

	first := &models.UserStatRecord{
		UserID:     user.ID,
		StatType:   "artists",
		StatsRange: "week",
		FromTS:     100,
		ToTS:       200,
		Data:       []byte(`{"artists": ["old"]}`),
		LastUpdate: 1000,
	}
	if err := db.UpsertUserStat(ctx, first); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}

	second := &models.UserStatRecord{
		UserID:     user.ID,
		StatType:   "artists",
		StatsRange: "week",
		FromTS:     200,
		ToTS:       300,
		Data:       []byte(`{"artists": ["new"]}`),
		LastUpdate: 2000,
	}
	if err := db.UpsertUserStat(ctx, second); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	got, err := db.GetUserStat(ctx, user.ID, "artists", "week")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected a stat record")
	}
	if string(got.Data) != `{"artists": ["new"]}` {
		t.Errorf("latest write must win, got %s", got.Data)
	}
	if got.LastUpdate != 2000 {
		t.Errorf("expected last_updated 2000, got %d", got.LastUpdate)
	}
}

func TestGetUserStatAbsent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "rob")

	got, err := db.GetUserStat(ctx, user.ID, "artists", "year")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for absent stat, got %+v", got)
	}
}

func TestLastUserStatUpdate(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "rob")

	last, err := db.LastUserStatUpdate(ctx, user.ID)
	if err != nil {
		t.Fatalf("last update failed: %v", err)
	}
	if last != 0 {
		t.Errorf("expected 0 for user with no stats, got %d", last)
	}

	for i, update := range []int64{500, 1500, 900} {
		rec := &models.UserStatRecord{
			UserID:     user.ID,
			StatType:   []string{"artists", "releases", "recordings"}[i],
			StatsRange: "week",
			Data:       []byte(`{}`),
			LastUpdate: update,
		}
		if err := db.UpsertUserStat(ctx, rec); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
	}

	last, err = db.LastUserStatUpdate(ctx, user.ID)
	if err != nil {
		t.Fatalf("last update failed: %v", err)
	}
	if last != 1500 {
		t.Errorf("expected max last_updated 1500, got %d", last)
	}
}

func TestUpsertSitewideStat(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	rec := &models.SitewideStatRecord{
		StatType:   "artists",
		StatsRange: "all_time",
		Data:       []byte(`{"artists": []}`),
		LastUpdate: 3000,
	}
	if err := db.UpsertSitewideStat(ctx, rec); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	got, err := db.GetSitewideStat(ctx, "artists", "all_time")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil || got.LastUpdate != 3000 {
		t.Errorf("expected stored sitewide stat, got %+v", got)
	}
}

func TestUpsertRecommendationsAndSimilarUsers(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "rob")

	if err := db.UpsertUserRecommendations(ctx, user.ID, []byte(`{"top_artist": []}`), 100); err != nil {
		t.Fatalf("recommendations upsert failed: %v", err)
	}
	if err := db.UpsertUserRecommendations(ctx, user.ID, []byte(`{"top_artist": ["x"]}`), 200); err != nil {
		t.Fatalf("recommendations replace failed: %v", err)
	}

	if err := db.UpsertSimilarUsers(ctx, user.ID, []byte(`{"alice": 0.9}`), 100); err != nil {
		t.Fatalf("similar users upsert failed: %v", err)
	}

	if err := db.UpsertMissingCatalogData(ctx, user.ID, "cf", []byte(`[]`), 100); err != nil {
		t.Fatalf("missing data upsert failed: %v", err)
	}
}
