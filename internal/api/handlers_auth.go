// Soundprint - Music Listening Tracking and Statistics
// Copyright 2026 Soundprint contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundprint/soundprint

package api

import (
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/soundprint/soundprint/internal/logging"
	"github.com/soundprint/soundprint/internal/models"
	"github.com/soundprint/soundprint/internal/validation"
)

// handleLogin authenticates the operational admin account and issues a
// JWT session token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	resp := respond(w)

	if s.admin == nil || s.jwt == nil {
		resp.ServiceUnavailable("admin login is not configured")
		return
	}

	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.BadRequest("invalid JSON body: " + err.Error())
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		resp.ValidationFailed(verr)
		return
	}

	if !s.admin.ValidateCredentials(req.Username, req.Password) {
		logging.Warn().Str("username", req.Username).Str("remote", r.RemoteAddr).
			Msg("failed admin login attempt")
		resp.Unauthorized("invalid username or password")
		return
	}

	token, expiresAt, err := s.jwt.GenerateToken(req.Username, "admin")
	if err != nil {
		logging.Error().Err(err).Msg("failed to sign session token")
		resp.InternalError("failed to create session")
		return
	}

	resp.Success(models.LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		Username:  req.Username,
	})
}
