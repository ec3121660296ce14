// Soundprint - Music Listening Tracking and Statistics
// Copyright 2026 Soundprint contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundprint/soundprint

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/soundprint/soundprint/internal/models"
)

// UpsertUserStat persists a per-user statistic. Writes are idempotent per
// (user, stat type, stats range); the latest write wins.
func (db *DB) UpsertUserStat(ctx context.Context, rec *models.UserStatRecord) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO user_stats (user_id, stat_type, stats_range, from_ts, to_ts, data, last_updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, stat_type, stats_range) DO UPDATE SET
			from_ts = excluded.from_ts,
			to_ts = excluded.to_ts,
			data = excluded.data,
			last_updated = excluded.last_updated`,
		rec.UserID, rec.StatType, rec.StatsRange, rec.FromTS, rec.ToTS,
		string(rec.Data), rec.LastUpdate)
	if err != nil {
		return fmt.Errorf("failed to upsert user stat: %w", err)
	}
	return nil
}

// GetUserStat returns the stored statistic for (user, type, range), or
// nil if none exists.
func (db *DB) GetUserStat(ctx context.Context, userID int64, statType, statsRange string) (*models.UserStatRecord, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rec := &models.UserStatRecord{UserID: userID, StatType: statType, StatsRange: statsRange}
	var data string
	err := db.conn.QueryRowContext(ctx,
		`SELECT from_ts, to_ts, data, last_updated FROM user_stats
		 WHERE user_id = ? AND stat_type = ? AND stats_range = ?`,
		userID, statType, statsRange).
		Scan(&rec.FromTS, &rec.ToTS, &data, &rec.LastUpdate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user stat: %w", err)
	}
	rec.Data = []byte(data)
	return rec, nil
}

// LastUserStatUpdate returns the most recent last_updated across all of a
// user's statistics, or 0 if the user has none. Used for the one-per-batch
// notification staleness guard.
func (db *DB) LastUserStatUpdate(ctx context.Context, userID int64) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var last sql.NullInt64
	err := db.conn.QueryRowContext(ctx,
		`SELECT MAX(last_updated) FROM user_stats WHERE user_id = ?`, userID).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("failed to get last stat update: %w", err)
	}
	return last.Int64, nil
}

// LastStatsUpdate returns the most recent last_updated across all user
// statistics, or 0 if none exist. A new batch from the analytics cluster
// is recognized by this value being older than the staleness threshold.
func (db *DB) LastStatsUpdate(ctx context.Context) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var last sql.NullInt64
	err := db.conn.QueryRowContext(ctx,
		`SELECT MAX(last_updated) FROM user_stats`).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("failed to get last stats update: %w", err)
	}
	return last.Int64, nil
}

// UpsertSitewideStat persists a sitewide statistic keyed by (type, range).
func (db *DB) UpsertSitewideStat(ctx context.Context, rec *models.SitewideStatRecord) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO sitewide_stats (stat_type, stats_range, from_ts, to_ts, data, last_updated)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (stat_type, stats_range) DO UPDATE SET
			from_ts = excluded.from_ts,
			to_ts = excluded.to_ts,
			data = excluded.data,
			last_updated = excluded.last_updated`,
		rec.StatType, rec.StatsRange, rec.FromTS, rec.ToTS,
		string(rec.Data), rec.LastUpdate)
	if err != nil {
		return fmt.Errorf("failed to upsert sitewide stat: %w", err)
	}
	return nil
}

// GetSitewideStat returns the stored sitewide statistic, or nil if none.
func (db *DB) GetSitewideStat(ctx context.Context, statType, statsRange string) (*models.SitewideStatRecord, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rec := &models.SitewideStatRecord{StatType: statType, StatsRange: statsRange}
	var data string
	err := db.conn.QueryRowContext(ctx,
		`SELECT from_ts, to_ts, data, last_updated FROM sitewide_stats
		 WHERE stat_type = ? AND stats_range = ?`,
		statType, statsRange).
		Scan(&rec.FromTS, &rec.ToTS, &data, &rec.LastUpdate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get sitewide stat: %w", err)
	}
	rec.Data = []byte(data)
	return rec, nil
}

// UpsertUserRecommendations stores generated recommendations for a user,
// replacing any previous set.
func (db *DB) UpsertUserRecommendations(ctx context.Context, userID int64, recommendations []byte, lastUpdated int64) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO user_recommendations (user_id, recommendations, last_updated)
		 VALUES (?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET
			recommendations = excluded.recommendations,
			last_updated = excluded.last_updated`,
		userID, string(recommendations), lastUpdated)
	if err != nil {
		return fmt.Errorf("failed to upsert recommendations: %w", err)
	}
	return nil
}

// LastRecommendationsUpdate returns the most recent last_updated across
// all stored recommendations, or 0 if none exist.
func (db *DB) LastRecommendationsUpdate(ctx context.Context) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var last sql.NullInt64
	err := db.conn.QueryRowContext(ctx,
		`SELECT MAX(last_updated) FROM user_recommendations`).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("failed to get last recommendations update: %w", err)
	}
	return last.Int64, nil
}

// UpsertSimilarUsers stores the similar-users list for a user, replacing
// any previous value.
func (db *DB) UpsertSimilarUsers(ctx context.Context, userID int64, similar []byte, lastUpdated int64) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO similar_users (user_id, similar_users, last_updated)
		 VALUES (?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET
			similar_users = excluded.similar_users,
			last_updated = excluded.last_updated`,
		userID, string(similar), lastUpdated)
	if err != nil {
		return fmt.Errorf("failed to upsert similar users: %w", err)
	}
	return nil
}

// UpsertMissingCatalogData stores listens the batch cluster could not
// resolve against the canonical catalog, keyed by (user, source).
func (db *DB) UpsertMissingCatalogData(ctx context.Context, userID int64, source string, data []byte, lastUpdated int64) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO missing_catalog_data (user_id, source, data, last_updated)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id, source) DO UPDATE SET
			data = excluded.data,
			last_updated = excluded.last_updated`,
		userID, source, string(data), lastUpdated)
	if err != nil {
		return fmt.Errorf("failed to upsert missing catalog data: %w", err)
	}
	return nil
}
