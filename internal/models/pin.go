// Soundprint - Music Listening Tracking and Statistics
// Copyright 2026 Soundprint contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundprint/soundprint

package models

import (
	"fmt"
	"time"

	"github.com/soundprint/soundprint/internal/validation"
)

// MaxBlurbContentLength bounds the free-text blurb attached to a pin.
const MaxBlurbContentLength = 280

// DefaultPinDuration is how long a pin stays active when the caller does
// not supply an explicit pinned_until.
const DefaultPinDuration = 7 * 24 * time.Hour

// PinnedRecording is a user's currently or previously pinned track.
//
// At most one pin per user is active at any instant: pinning a new
// recording deactivates the previous one by setting its pinned_until to
// the new pin's creation time. History rows are append-only apart from
// that single mutation and the explicit unpin; rows are only removed by an
// owner-authorized delete.
type PinnedRecording struct {
	RowID         int64                  `json:"row_id"`
	UserID        int64                  `json:"user_id"`
	UserName      string                 `json:"user_name,omitempty"`
	RecordingMSID string                 `json:"recording_msid" validate:"required,uuid"`
	RecordingMBID *string                `json:"recording_mbid,omitempty" validate:"omitempty,uuid"`
	BlurbContent  *string                `json:"blurb_content,omitempty" validate:"omitempty,max=280"`
	Created       time.Time              `json:"created"`
	PinnedUntil   time.Time              `json:"pinned_until"`
	TrackMetadata map[string]interface{} `json:"track_metadata,omitempty"`
}

// ApplyDefaults fills in Created and PinnedUntil for a new pin. Created
// defaults to now in UTC, PinnedUntil to Created plus DefaultPinDuration.
func (p *PinnedRecording) ApplyDefaults() {
	if p.Created.IsZero() {
		p.Created = time.Now().UTC()
	}
	if p.PinnedUntil.IsZero() {
		p.PinnedUntil = p.Created.Add(DefaultPinDuration)
	}
}

// Validate checks the pin's field constraints before any storage access.
// Identifier formats and blurb length are checked via struct tags;
// pinned_until must be strictly after created.
func (p *PinnedRecording) Validate() error {
	if verr := validation.ValidateStruct(p); verr != nil {
		return verr
	}
	if !p.PinnedUntil.IsZero() && !p.PinnedUntil.After(p.Created) {
		return fmt.Errorf("pinned_until (%s) must be strictly after created (%s)",
			p.PinnedUntil.Format(time.RFC3339), p.Created.Format(time.RFC3339))
	}
	return nil
}

// IsActive reports whether the pin is active at the given instant. A zero
// PinnedUntil means the pin never expires.
func (p *PinnedRecording) IsActive(now time.Time) bool {
	return p.PinnedUntil.IsZero() || p.PinnedUntil.After(now)
}

// PinRequest is the submission shape for the pin endpoint.
type PinRequest struct {
	RecordingMSID string  `json:"recording_msid" validate:"required,uuid"`
	RecordingMBID *string `json:"recording_mbid,omitempty" validate:"omitempty,uuid"`
	BlurbContent  *string `json:"blurb_content,omitempty" validate:"omitempty,max=280"`
	PinnedUntil   int64   `json:"pinned_until,omitempty" validate:"omitempty,gt=0"`
}

// ToPinnedRecording builds a new pin owned by userID from the request,
// applying defaults for created and pinned_until.
func (r *PinRequest) ToPinnedRecording(userID int64) *PinnedRecording {
	pin := &PinnedRecording{
		UserID:        userID,
		RecordingMSID: r.RecordingMSID,
		RecordingMBID: r.RecordingMBID,
		BlurbContent:  r.BlurbContent,
	}
	if r.PinnedUntil > 0 {
		pin.PinnedUntil = time.Unix(r.PinnedUntil, 0).UTC()
	}
	pin.ApplyDefaults()
	return pin
}
