// Soundprint - Music Listening Tracking and Statistics
// Copyright 2026 Soundprint contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundprint/soundprint

package broker

// Message metadata keys shared between publishers and consumers.
const (
	// MetadataUserName carries the MusicBrainz username of the submitting
	// user on listen and playing-now messages.
	MetadataUserName = "user_name"
	// MetadataUserID carries the internal user row ID as a decimal string.
	MetadataUserID = "user_id"
	// MetadataListenType carries the submission type ("single", "import",
	// "playing_now").
	MetadataListenType = "listen_type"
)
