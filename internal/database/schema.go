// Soundprint - Music Listening Tracking and Statistics
// Copyright 2026 Soundprint contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundprint/soundprint

package database

import (
	"context"
	"fmt"
	"time"
)

// schemaContext returns a context with timeout for schema operations.
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createTables creates the core tables. All columns are defined in the
// initial CREATE TABLE statements; there is no migration machinery.
func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	queries := []string{
		`CREATE SEQUENCE IF NOT EXISTS seq_users START 1`,
		`CREATE TABLE IF NOT EXISTS users (
			id BIGINT PRIMARY KEY DEFAULT nextval('seq_users'),
			created TIMESTAMP NOT NULL DEFAULT now(),
			musicbrainz_id VARCHAR NOT NULL UNIQUE,
			auth_token VARCHAR,
			last_login TIMESTAMP,
			latest_import BIGINT NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS follows (
			follower_id BIGINT NOT NULL,
			followed_id BIGINT NOT NULL,
			created TIMESTAMP NOT NULL DEFAULT now(),
			PRIMARY KEY (follower_id, followed_id)
		)`,

		// One row per playback event. The (user_id, listened_at,
		// recording_msid) uniqueness backs idempotent batch insertion via
		// ON CONFLICT DO NOTHING.
		`CREATE TABLE IF NOT EXISTS listens (
			listened_at BIGINT NOT NULL,
			track_name VARCHAR NOT NULL,
			user_name VARCHAR NOT NULL,
			user_id BIGINT NOT NULL,
			recording_msid VARCHAR NOT NULL,
			created TIMESTAMP NOT NULL DEFAULT now(),
			data VARCHAR NOT NULL,
			UNIQUE (user_id, listened_at, recording_msid)
		)`,

		// Pin history. pinned_until is always set (default: created plus
		// seven days); the CHECK mirrors the application-level invariant.
		`CREATE SEQUENCE IF NOT EXISTS seq_pinned_recording START 1`,
		`CREATE TABLE IF NOT EXISTS pinned_recording (
			id BIGINT PRIMARY KEY DEFAULT nextval('seq_pinned_recording'),
			user_id BIGINT NOT NULL,
			recording_msid VARCHAR NOT NULL,
			recording_mbid VARCHAR,
			blurb_content VARCHAR,
			created TIMESTAMP NOT NULL,
			pinned_until TIMESTAMP NOT NULL,
			CHECK (pinned_until > created)
		)`,

		// msid to canonical-catalog resolution plus cached metadata.
		`CREATE TABLE IF NOT EXISTS mbid_mapping (
			recording_msid VARCHAR PRIMARY KEY,
			recording_mbid VARCHAR NOT NULL,
			release_mbid VARCHAR,
			artist_mbids VARCHAR,
			last_updated TIMESTAMP NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS mbid_mapping_metadata (
			recording_mbid VARCHAR PRIMARY KEY,
			track_name VARCHAR,
			artist_name VARCHAR,
			release_name VARCHAR,
			last_updated TIMESTAMP NOT NULL DEFAULT now()
		)`,

		// Batch statistics, idempotent per key: the latest write for a
		// given (user, type, range) wins.
		`CREATE TABLE IF NOT EXISTS user_stats (
			user_id BIGINT NOT NULL,
			stat_type VARCHAR NOT NULL,
			stats_range VARCHAR NOT NULL,
			from_ts BIGINT NOT NULL DEFAULT 0,
			to_ts BIGINT NOT NULL DEFAULT 0,
			data VARCHAR NOT NULL,
			last_updated BIGINT NOT NULL,
			PRIMARY KEY (user_id, stat_type, stats_range)
		)`,
		`CREATE TABLE IF NOT EXISTS sitewide_stats (
			stat_type VARCHAR NOT NULL,
			stats_range VARCHAR NOT NULL,
			from_ts BIGINT NOT NULL DEFAULT 0,
			to_ts BIGINT NOT NULL DEFAULT 0,
			data VARCHAR NOT NULL,
			last_updated BIGINT NOT NULL,
			PRIMARY KEY (stat_type, stats_range)
		)`,
		`CREATE TABLE IF NOT EXISTS user_recommendations (
			user_id BIGINT PRIMARY KEY,
			recommendations VARCHAR NOT NULL,
			last_updated BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS similar_users (
			user_id BIGINT PRIMARY KEY,
			similar_users VARCHAR NOT NULL,
			last_updated BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS missing_catalog_data (
			user_id BIGINT NOT NULL,
			source VARCHAR NOT NULL,
			data VARCHAR NOT NULL,
			last_updated BIGINT NOT NULL,
			PRIMARY KEY (user_id, source)
		)`,
	}

	for _, query := range queries {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// createIndexes creates indexes for the common query patterns: per-user
// listen fetches newest-first, active-pin lookups, and feed windows.
func (db *DB) createIndexes() error {
	ctx, cancel := schemaContext()
	defer cancel()

	queries := []string{
		`CREATE INDEX IF NOT EXISTS idx_listens_user_listened
			ON listens (user_name, listened_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_listens_msid
			ON listens (recording_msid)`,
		`CREATE INDEX IF NOT EXISTS idx_pins_user_created
			ON pinned_recording (user_id, created DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_pins_user_until
			ON pinned_recording (user_id, pinned_until)`,
		`CREATE INDEX IF NOT EXISTS idx_pins_created
			ON pinned_recording (created DESC)`,
	}

	for _, query := range queries {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}
