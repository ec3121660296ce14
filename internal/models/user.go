// Soundprint - Music Listening Tracking and Statistics
// Copyright 2026 Soundprint contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundprint/soundprint

package models

import "time"

// User is a local account. MusicBrainzID is the stable external identifier
// the batch-analytics cluster keys its per-user messages by; AuthToken
// authorizes listen submission for this user.
type User struct {
	ID             int64     `json:"id"`
	Created        time.Time `json:"created"`
	MusicBrainzID  string    `json:"musicbrainz_id"`
	AuthToken      string    `json:"-"`
	LastLoginAt    time.Time `json:"last_login,omitempty"`
	LatestImportAt int64     `json:"latest_import"`
}

// Follow is a directed follower relationship; the follower sees the
// followed user's active pins in their following view.
type Follow struct {
	FollowerID int64     `json:"follower_id"`
	FollowedID int64     `json:"followed_id"`
	Created    time.Time `json:"created"`
}
