// Soundprint - Music Listening Tracking and Statistics
// Copyright 2026 Soundprint contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundprint/soundprint

// Package services adapts Soundprint's long-lived components to
// suture.Service. Each wrapper depends on a small interface rather than
// the concrete type, so the supervisor layer stays import-light and the
// wrappers are trivially testable.
package services
