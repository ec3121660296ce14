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
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/soundprint/soundprint/internal/models"
)

const pinColumns = `id, user_id, recording_msid, recording_mbid, blurb_content, created, pinned_until`

func scanPin(scan func(dest ...interface{}) error) (*models.PinnedRecording, error) {
	pin := &models.PinnedRecording{}
	var recordingMBID, blurb sql.NullString

	err := scan(&pin.RowID, &pin.UserID, &pin.RecordingMSID,
		&recordingMBID, &blurb, &pin.Created, &pin.PinnedUntil)
	if err != nil {
		return nil, err
	}

	if recordingMBID.Valid {
		pin.RecordingMBID = &recordingMBID.String
	}
	if blurb.Valid {
		pin.BlurbContent = &blurb.String
	}
	pin.Created = pin.Created.UTC()
	pin.PinnedUntil = pin.PinnedUntil.UTC()
	return pin, nil
}

// Pin validates the record and atomically (1) deactivates the user's
// currently active pin, if any, by setting its pinned_until to the new
// pin's creation time, and (2) inserts the new row. The two steps run in
// one transaction under the per-user lock, so concurrent Pin/Unpin calls
// for the same user cannot leave two active pins. Validation failures
// surface before any database access.
func (db *DB) Pin(ctx context.Context, pin *models.PinnedRecording) (*models.PinnedRecording, error) {
	pin.ApplyDefaults()
	if err := pin.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	mu := db.acquireUserLock(pin.UserID)
	defer mu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin pin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// greatest() keeps the schema-level CHECK (pinned_until > created)
	// satisfiable when pins arrive with out-of-order creation times: an
	// active pin created at or after the new pin's timestamp still gets
	// deactivated, expiring one tick past its own creation.
	_, err = tx.ExecContext(ctx,
		`UPDATE pinned_recording
		 SET pinned_until = greatest(created + INTERVAL 1 MICROSECOND, ?)
		 WHERE user_id = ? AND pinned_until > ?`,
		pin.Created, pin.UserID, pin.Created)
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate current pin: %w", err)
	}

	var recordingMBID, blurb interface{}
	if pin.RecordingMBID != nil {
		recordingMBID = *pin.RecordingMBID
	}
	if pin.BlurbContent != nil {
		blurb = *pin.BlurbContent
	}

	row := tx.QueryRowContext(ctx,
		`INSERT INTO pinned_recording (user_id, recording_msid, recording_mbid, blurb_content, created, pinned_until)
		 VALUES (?, ?, ?, ?, ?, ?)
		 RETURNING `+pinColumns,
		pin.UserID, pin.RecordingMSID, recordingMBID, blurb, pin.Created, pin.PinnedUntil)
	inserted, err := scanPin(row.Scan)
	if err != nil {
		return nil, fmt.Errorf("failed to insert pin: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit pin: %w", err)
	}
	return inserted, nil
}

// Unpin deactivates the user's active pin by setting pinned_until to now.
// A user with no active pin is a no-op, not an error.
func (db *DB) Unpin(ctx context.Context, userID int64) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	mu := db.acquireUserLock(userID)
	defer mu.Unlock()

	now := time.Now().UTC()
	_, err := db.conn.ExecContext(ctx,
		`UPDATE pinned_recording SET pinned_until = ?
		 WHERE user_id = ? AND pinned_until > ?`,
		now, userID, now)
	if err != nil {
		return fmt.Errorf("failed to unpin: %w", err)
	}
	return nil
}

// DeletePin removes a pin row only if it belongs to userID. The ownership
// check is part of the delete predicate, not a separate read, so a row
// owned by another user (or an absent row) is a silent no-op.
func (db *DB) DeletePin(ctx context.Context, rowID, userID int64) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	_, err := db.conn.ExecContext(ctx,
		`DELETE FROM pinned_recording WHERE id = ? AND user_id = ?`,
		rowID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete pin: %w", err)
	}
	return nil
}

// GetCurrentPinForUser returns the user's single active pin, or nil if
// none is active.
func (db *DB) GetCurrentPinForUser(ctx context.Context, userID int64) (*models.PinnedRecording, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx,
		`SELECT `+pinColumns+` FROM pinned_recording
		 WHERE user_id = ? AND pinned_until > ?
		 ORDER BY created DESC LIMIT 1`,
		userID, time.Now().UTC())
	pin, err := scanPin(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get current pin: %w", err)
	}
	return pin, nil
}

// GetPinHistoryForUser returns all pins for a user, active and expired,
// newest-created-first, paginated by count and offset. An offset past the
// end yields an empty slice.
func (db *DB) GetPinHistoryForUser(ctx context.Context, userID int64, count, offset int) ([]*models.PinnedRecording, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+pinColumns+` FROM pinned_recording
		 WHERE user_id = ?
		 ORDER BY created DESC
		 LIMIT ? OFFSET ?`,
		userID, count, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query pin history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectPins(rows)
}

// GetPinCountForUser returns the total number of pins (active and
// expired) for a user, independent of pagination.
func (db *DB) GetPinCountForUser(ctx context.Context, userID int64) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var count int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pinned_recording WHERE user_id = ?`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pins: %w", err)
	}
	return count, nil
}

// GetPinsForUserFollowing returns the active pins of every user the given
// user follows, newest-first, each annotated with the pinning user's name.
func (db *DB) GetPinsForUserFollowing(ctx context.Context, userID int64, count, offset int) ([]*models.PinnedRecording, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT p.id, p.user_id, p.recording_msid, p.recording_mbid, p.blurb_content, p.created, p.pinned_until,
			u.musicbrainz_id
		 FROM pinned_recording p
		 JOIN follows f ON f.followed_id = p.user_id
		 JOIN users u ON u.id = p.user_id
		 WHERE f.follower_id = ? AND p.pinned_until > ?
		 ORDER BY p.created DESC
		 LIMIT ? OFFSET ?`,
		userID, time.Now().UTC(), count, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query following pins: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var pins []*models.PinnedRecording
	for rows.Next() {
		pin := &models.PinnedRecording{}
		var recordingMBID, blurb sql.NullString
		err := rows.Scan(&pin.RowID, &pin.UserID, &pin.RecordingMSID,
			&recordingMBID, &blurb, &pin.Created, &pin.PinnedUntil, &pin.UserName)
		if err != nil {
			return nil, fmt.Errorf("failed to scan following pin: %w", err)
		}
		if recordingMBID.Valid {
			pin.RecordingMBID = &recordingMBID.String
		}
		if blurb.Valid {
			pin.BlurbContent = &blurb.String
		}
		pin.Created = pin.Created.UTC()
		pin.PinnedUntil = pin.PinnedUntil.UTC()
		pins = append(pins, pin)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate following pins: %w", err)
	}
	return pins, nil
}

// GetPinsForFeed returns pins across userIDs whose created falls within
// [minTS, maxTS] inclusive, newest-first, capped at count.
func (db *DB) GetPinsForFeed(ctx context.Context, userIDs []int64, minTS, maxTS int64, count int) ([]*models.PinnedRecording, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(userIDs)), ", ")
	args := make([]interface{}, 0, len(userIDs)+3)
	for _, id := range userIDs {
		args = append(args, id)
	}
	args = append(args, time.Unix(minTS, 0).UTC(), time.Unix(maxTS, 0).UTC(), count)

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+pinColumns+` FROM pinned_recording
		 WHERE user_id IN (`+placeholders+`) AND created >= ? AND created <= ?
		 ORDER BY created DESC
		 LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query feed pins: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectPins(rows)
}

func collectPins(rows *sql.Rows) ([]*models.PinnedRecording, error) {
	var pins []*models.PinnedRecording
	for rows.Next() {
		pin, err := scanPin(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pin: %w", err)
		}
		pins = append(pins, pin)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pins: %w", err)
	}
	return pins, nil
}

// FetchTrackMetadataForPins enriches pins in place with denormalized
// track, artist, and release names. A pin whose recording_mbid has a
// metadata row gets the full triple; otherwise the most recent listen for
// its recording_msid supplies partial metadata (track and artist name
// only, no release).
func (db *DB) FetchTrackMetadataForPins(ctx context.Context, pins []*models.PinnedRecording) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	for _, pin := range pins {
		if pin.RecordingMBID != nil {
			var trackName, artistName, releaseName sql.NullString
			err := db.conn.QueryRowContext(ctx,
				`SELECT track_name, artist_name, release_name
				 FROM mbid_mapping_metadata WHERE recording_mbid = ?`,
				*pin.RecordingMBID).Scan(&trackName, &artistName, &releaseName)
			switch {
			case err == nil:
				pin.TrackMetadata = map[string]interface{}{
					"track_name":   trackName.String,
					"artist_name":  artistName.String,
					"release_name": releaseName.String,
				}
				continue
			case errors.Is(err, sql.ErrNoRows):
				// Fall through to listen-based partial metadata.
			default:
				return fmt.Errorf("failed to query pin metadata: %w", err)
			}
		}

		var trackName, data string
		err := db.conn.QueryRowContext(ctx,
			`SELECT track_name, data FROM listens
			 WHERE recording_msid = ?
			 ORDER BY listened_at DESC LIMIT 1`,
			pin.RecordingMSID).Scan(&trackName, &data)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to query listen metadata for pin: %w", err)
		}

		meta := map[string]interface{}{"track_name": trackName}
		var blob map[string]interface{}
		if err := json.Unmarshal([]byte(data), &blob); err == nil {
			if artist, ok := blob["artist_name"].(string); ok && artist != "" {
				meta["artist_name"] = artist
			}
		}
		pin.TrackMetadata = meta
	}
	return nil
}
