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
	"time"

	"github.com/google/uuid"

	"github.com/soundprint/soundprint/internal/models"
)

// ErrUserNotFound is returned by lookups when no user matches.
var ErrUserNotFound = errors.New("user not found")

const userColumns = `id, created, musicbrainz_id, auth_token, last_login, latest_import`

func scanUser(row *sql.Row) (*models.User, error) {
	user := &models.User{}
	var authToken sql.NullString
	var lastLogin sql.NullTime

	err := row.Scan(&user.ID, &user.Created, &user.MusicBrainzID,
		&authToken, &lastLogin, &user.LatestImportAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	user.AuthToken = authToken.String
	if lastLogin.Valid {
		user.LastLoginAt = lastLogin.Time
	}
	return user, nil
}

// CreateUser inserts a new user with a fresh auth token. Fails if the
// musicbrainz_id is already taken.
func (db *DB) CreateUser(ctx context.Context, musicBrainzID string) (*models.User, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	token := uuid.New().String()
	row := db.conn.QueryRowContext(ctx,
		`INSERT INTO users (musicbrainz_id, auth_token) VALUES (?, ?)
		 RETURNING `+userColumns,
		musicBrainzID, token)
	user, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create user %s: %w", musicBrainzID, err)
	}
	return user, nil
}

// GetOrCreateUser returns the user with the given musicbrainz_id, creating
// it if absent.
func (db *DB) GetOrCreateUser(ctx context.Context, musicBrainzID string) (*models.User, error) {
	user, err := db.GetUserByName(ctx, musicBrainzID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}
	return db.CreateUser(ctx, musicBrainzID)
}

// GetUserByName looks a user up by musicbrainz_id.
func (db *DB) GetUserByName(ctx context.Context, musicBrainzID string) (*models.User, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE musicbrainz_id = ?`, musicBrainzID)
	return scanUser(row)
}

// GetUserByID looks a user up by local id.
func (db *DB) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserByToken resolves the submitting user from an auth token.
func (db *DB) GetUserByToken(ctx context.Context, token string) (*models.User, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE auth_token = ?`, token)
	return scanUser(row)
}

// UpdateLastLogin records a login instant for the user.
func (db *DB) UpdateLastLogin(ctx context.Context, userID int64) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	_, err := db.conn.ExecContext(ctx,
		`UPDATE users SET last_login = ? WHERE id = ?`, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to update last_login: %w", err)
	}
	return nil
}

// UpdateLatestImport sets the latest-import watermark for the user.
func (db *DB) UpdateLatestImport(ctx context.Context, userID int64, ts int64) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	_, err := db.conn.ExecContext(ctx,
		`UPDATE users SET latest_import = ? WHERE id = ?`, ts, userID)
	if err != nil {
		return fmt.Errorf("failed to update latest_import: %w", err)
	}
	return nil
}

// InsertFollow records that follower follows followed. Idempotent.
func (db *DB) InsertFollow(ctx context.Context, followerID, followedID int64) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO follows (follower_id, followed_id) VALUES (?, ?)
		 ON CONFLICT DO NOTHING`,
		followerID, followedID)
	if err != nil {
		return fmt.Errorf("failed to insert follow: %w", err)
	}
	return nil
}

// GetFollowing returns the ids of all users the given user follows.
func (db *DB) GetFollowing(ctx context.Context, followerID int64) ([]int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT followed_id FROM follows WHERE follower_id = ?`, followerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query follows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var following []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan follow: %w", err)
		}
		following = append(following, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate follows: %w", err)
	}
	return following, nil
}
