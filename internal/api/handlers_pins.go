// Soundprint - Music Listening Tracking and Statistics
// Copyright 2026 Soundprint contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundprint/soundprint

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/soundprint/soundprint/internal/database"
	"github.com/soundprint/soundprint/internal/models"
	"github.com/soundprint/soundprint/internal/validation"
)

// handlePin creates a new pin for the caller. Pinning while another pin is
// active deactivates the old one; the history row survives.
func (s *Server) handlePin(w http.ResponseWriter, r *http.Request) {
	resp := respond(w)
	user, _ := userFromContext(r.Context())

	var req models.PinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.BadRequest("invalid JSON body: " + err.Error())
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		resp.ValidationFailed(verr)
		return
	}

	pin := req.ToPinnedRecording(user.ID)
	if err := pin.Validate(); err != nil {
		var verr *validation.RequestValidationError
		if errors.As(err, &verr) {
			resp.ValidationFailed(verr)
			return
		}
		resp.BadRequest(err.Error())
		return
	}

	inserted, err := s.db.Pin(r.Context(), pin)
	if err != nil {
		resp.DatabaseError(err)
		return
	}

	inserted.UserName = user.MusicBrainzID
	resp.Success(map[string]interface{}{"pinned_recording": inserted})
}

// handleUnpin deactivates the caller's active pin. No active pin is a
// no-op, not an error.
func (s *Server) handleUnpin(w http.ResponseWriter, r *http.Request) {
	resp := respond(w)
	user, _ := userFromContext(r.Context())

	if err := s.db.Unpin(r.Context(), user.ID); err != nil {
		resp.DatabaseError(err)
		return
	}
	resp.Success(map[string]interface{}{"status": "ok"})
}

// handleDeletePin removes one history row the caller owns. Rows owned by
// someone else, or absent rows, are silent no-ops.
func (s *Server) handleDeletePin(w http.ResponseWriter, r *http.Request) {
	resp := respond(w)
	user, _ := userFromContext(r.Context())

	rowID, err := strconv.ParseInt(chi.URLParam(r, "row_id"), 10, 64)
	if err != nil || rowID <= 0 {
		resp.BadRequest("row_id must be a positive integer")
		return
	}

	if err := s.db.DeletePin(r.Context(), rowID, user.ID); err != nil {
		resp.DatabaseError(err)
		return
	}
	resp.Success(map[string]interface{}{"status": "ok"})
}

// handleGetPins returns a user's pin history, newest first, enriched with
// resolved track metadata where the catalog mapping is known.
func (s *Server) handleGetPins(w http.ResponseWriter, r *http.Request) {
	resp := respond(w)
	userName := chi.URLParam(r, "user_name")

	user, err := s.db.GetUserByName(r.Context(), userName)
	if err != nil {
		if err == database.ErrUserNotFound {
			resp.NotFound("user " + userName + " not found")
			return
		}
		resp.DatabaseError(err)
		return
	}

	count := s.clampCount(queryInt(r, "count", s.cfg.API.DefaultPageSize))
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	pins, err := s.db.GetPinHistoryForUser(r.Context(), user.ID, count, offset)
	if err != nil {
		resp.DatabaseError(err)
		return
	}
	total, err := s.db.GetPinCountForUser(r.Context(), user.ID)
	if err != nil {
		resp.DatabaseError(err)
		return
	}
	if err := s.db.FetchTrackMetadataForPins(r.Context(), pins); err != nil {
		resp.DatabaseError(err)
		return
	}

	for _, p := range pins {
		p.UserName = userName
	}

	resp.Success(map[string]interface{}{
		"user_name":         userName,
		"count":             len(pins),
		"offset":            offset,
		"total_count":       total,
		"pinned_recordings": pins,
	})
}

// handleGetCurrentPin returns the user's active pin, or null.
func (s *Server) handleGetCurrentPin(w http.ResponseWriter, r *http.Request) {
	resp := respond(w)
	userName := chi.URLParam(r, "user_name")

	user, err := s.db.GetUserByName(r.Context(), userName)
	if err != nil {
		if err == database.ErrUserNotFound {
			resp.NotFound("user " + userName + " not found")
			return
		}
		resp.DatabaseError(err)
		return
	}

	pin, err := s.db.GetCurrentPinForUser(r.Context(), user.ID)
	if err != nil {
		resp.DatabaseError(err)
		return
	}
	if pin != nil {
		pin.UserName = userName
	}

	resp.Success(map[string]interface{}{
		"user_name":        userName,
		"pinned_recording": pin,
	})
}

// handleGetPinsFollowing returns the active pins of everyone the user
// follows.
func (s *Server) handleGetPinsFollowing(w http.ResponseWriter, r *http.Request) {
	resp := respond(w)
	userName := chi.URLParam(r, "user_name")

	user, err := s.db.GetUserByName(r.Context(), userName)
	if err != nil {
		if err == database.ErrUserNotFound {
			resp.NotFound("user " + userName + " not found")
			return
		}
		resp.DatabaseError(err)
		return
	}

	count := s.clampCount(queryInt(r, "count", s.cfg.API.DefaultPageSize))
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	pins, err := s.db.GetPinsForUserFollowing(r.Context(), user.ID, count, offset)
	if err != nil {
		resp.DatabaseError(err)
		return
	}
	if err := s.db.FetchTrackMetadataForPins(r.Context(), pins); err != nil {
		resp.DatabaseError(err)
		return
	}

	resp.Success(map[string]interface{}{
		"user_name":         userName,
		"count":             len(pins),
		"offset":            offset,
		"pinned_recordings": pins,
	})
}
