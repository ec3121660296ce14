// Soundprint - Music Listening Tracking and Statistics
// Copyright 2026 Soundprint contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundprint/soundprint

package database

import (
	"context"
	"database/sql"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/soundprint/soundprint/internal/models"
)

// InsertListens persists a batch of listens. Insertion is idempotent per
// (user_id, listened_at, recording_msid): resubmitted listens are skipped
// via ON CONFLICT DO NOTHING. Returns the number of rows actually
// inserted.
func (db *DB) InsertListens(ctx context.Context, listens []*models.Listen) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if len(listens) == 0 {
		return 0, nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin listen insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO listens (listened_at, track_name, user_name, user_id, recording_msid, data)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare listen insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	var inserted int64
	for _, listen := range listens {
		row, err := listen.ToStorage()
		if err != nil {
			return 0, fmt.Errorf("failed to convert listen: %w", err)
		}
		res, err := stmt.ExecContext(ctx,
			row.ListenedAt, row.TrackName, row.UserName, row.UserID,
			listen.RecordingMSID, string(row.Data))
		if err != nil {
			return 0, fmt.Errorf("failed to insert listen: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += n
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit listen insert: %w", err)
	}
	return inserted, nil
}

// ListenCountForUser returns the number of stored listens for a username.
func (db *DB) ListenCountForUser(ctx context.Context, userName string) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var count int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM listens WHERE user_name = ?`, userName).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count listens: %w", err)
	}
	return count, nil
}

// FetchListens returns a user's listens newest-first, up to limit rows,
// restricted to listened_at strictly before toTS when toTS is positive.
// Each listen is reconstructed through the canonical model with its
// catalog mapping injected when fully resolved.
func (db *DB) FetchListens(ctx context.Context, userName string, toTS int64, limit int) ([]*models.Listen, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT l.listened_at, l.track_name, l.user_name, l.user_id, l.created, l.data,
		m.recording_mbid, m.release_mbid, m.artist_mbids
	FROM listens l
	LEFT JOIN mbid_mapping m ON m.recording_msid = l.recording_msid
	WHERE l.user_name = ?`
	args := []interface{}{userName}

	if toTS > 0 {
		query += ` AND l.listened_at < ?`
		args = append(args, toTS)
	}
	query += ` ORDER BY l.listened_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query listens: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var listens []*models.Listen
	for rows.Next() {
		var row models.StorageListen
		var data string
		var recordingMBID, releaseMBID, artistMBIDs sql.NullString

		err := rows.Scan(&row.ListenedAt, &row.TrackName, &row.UserName, &row.UserID,
			&row.CreatedAt, &data, &recordingMBID, &releaseMBID, &artistMBIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to scan listen: %w", err)
		}
		row.Data = []byte(data)

		var mapping *models.MBIDMapping
		if recordingMBID.Valid {
			mapping = &models.MBIDMapping{
				RecordingMBID: recordingMBID.String,
				ReleaseMBID:   releaseMBID.String,
			}
			if artistMBIDs.Valid && artistMBIDs.String != "" {
				if err := json.Unmarshal([]byte(artistMBIDs.String), &mapping.ArtistMBIDs); err != nil {
					return nil, fmt.Errorf("failed to decode artist_mbids: %w", err)
				}
			}
		}

		listen, err := models.FromStorage(row, mapping)
		if err != nil {
			return nil, err
		}
		listens = append(listens, listen)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate listens: %w", err)
	}
	return listens, nil
}

// DeleteListensForUser removes all of a user's listens and resets the
// latest-import watermark to 0 in one transaction, so importers restart
// from scratch.
func (db *DB) DeleteListensForUser(ctx context.Context, userID int64, userName string) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin listen delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM listens WHERE user_name = ?`, userName); err != nil {
		return fmt.Errorf("failed to delete listens: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET latest_import = 0 WHERE id = ?`, userID); err != nil {
		return fmt.Errorf("failed to reset latest_import: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit listen delete: %w", err)
	}
	return nil
}

// UpsertMBIDMapping records the catalog resolution for a recording MSID.
// The latest write wins.
func (db *DB) UpsertMBIDMapping(ctx context.Context, msid string, mapping *models.MBIDMapping) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	artistMBIDs, err := json.Marshal(mapping.ArtistMBIDs)
	if err != nil {
		return fmt.Errorf("failed to encode artist_mbids: %w", err)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin mapping upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO mbid_mapping (recording_msid, recording_mbid, release_mbid, artist_mbids)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (recording_msid) DO UPDATE SET
			recording_mbid = excluded.recording_mbid,
			release_mbid = excluded.release_mbid,
			artist_mbids = excluded.artist_mbids,
			last_updated = now()`,
		msid, mapping.RecordingMBID, mapping.ReleaseMBID, string(artistMBIDs))
	if err != nil {
		return fmt.Errorf("failed to upsert mbid_mapping: %w", err)
	}

	if mapping.TrackName != "" || mapping.ArtistName != "" {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO mbid_mapping_metadata (recording_mbid, track_name, artist_name, release_name)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT (recording_mbid) DO UPDATE SET
				track_name = excluded.track_name,
				artist_name = excluded.artist_name,
				release_name = excluded.release_name,
				last_updated = now()`,
			mapping.RecordingMBID, mapping.TrackName, mapping.ArtistName, mapping.ReleaseName)
		if err != nil {
			return fmt.Errorf("failed to upsert mapping metadata: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit mapping upsert: %w", err)
	}
	return nil
}
