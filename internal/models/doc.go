// Soundprint - Music Listening Tracking and Statistics
// Copyright 2026 Soundprint contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundprint/soundprint

// Package models defines the core data structures shared across the
// application: the canonical Listen record with its submission/storage/API
// conversions, pinned recordings, user accounts, batch-statistics message
// payloads, and the standard HTTP response envelope.
//
// Listens are normalized through a single canonical shape regardless of
// where they came from (client submission, storage row, broker message).
// The additional_info mapping inside a listen's track metadata is always
// kept flattened to a single level of dotted keys so the persisted JSON
// shape stays stable across producers.
package models
