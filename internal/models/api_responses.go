// Soundprint - Music Listening Tracking and Statistics
// Copyright 2026 Soundprint contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundprint/soundprint

package models

import (
	"time"

	json "github.com/goccy/go-json"
)

// APIResponse is the standardized response wrapper used by all HTTP
// endpoints. Status is "success" or "error"; Error is populated only for
// error responses.
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata carries response metadata for observability: server timestamp,
// query execution time, and whether the response was served from cache.
type Metadata struct {
	Timestamp   time.Time `json:"timestamp"`
	QueryTimeMS int64     `json:"query_time_ms,omitempty"`
	Cached      bool      `json:"cached,omitempty"`
}

// APIError is a structured error response.
//
// Common codes: VALIDATION_ERROR, DATABASE_ERROR, AUTHENTICATION_ERROR,
// NOT_FOUND, RATE_LIMIT_EXCEEDED.
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Listen submission types accepted by the submit-listens endpoint.
const (
	ListenTypeSingle     = "single"
	ListenTypeImport     = "import"
	ListenTypePlayingNow = "playing_now"
)

// SubmitListensRequest is the body of a listen submission: a batch of raw
// listen objects plus the submission type. playing_now submissions are
// broadcast but never persisted.
type SubmitListensRequest struct {
	ListenType string            `json:"listen_type" validate:"required,oneof=single import playing_now"`
	Payload    []json.RawMessage `json:"payload" validate:"required,min=1"`
}

// LatestImportRequest updates the caller's latest-import marker, an epoch
// watermark external importers use to resume incremental imports.
type LatestImportRequest struct {
	TS int64 `json:"ts" validate:"gte=0"`
}

// LoginRequest is an admin login request for the operational endpoints.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse returns the signed session token for a successful login.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Username  string    `json:"username"`
}
