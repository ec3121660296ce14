// Soundprint - Music Listening Tracking and Statistics
// Copyright 2026 Soundprint contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundprint/soundprint

package api

import (
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"github.com/soundprint/soundprint/internal/logging"
	"github.com/soundprint/soundprint/internal/models"
	"github.com/soundprint/soundprint/internal/validation"
)

// Error codes used in APIError.Code.
const (
	errCodeBadRequest      = "BAD_REQUEST"
	errCodeValidation      = "VALIDATION_ERROR"
	errCodeAuthentication  = "AUTHENTICATION_ERROR"
	errCodeForbidden       = "FORBIDDEN"
	errCodeNotFound        = "NOT_FOUND"
	errCodeConflict        = "CONFLICT"
	errCodePayloadTooLarge = "PAYLOAD_TOO_LARGE"
	errCodeDatabase        = "DATABASE_ERROR"
	errCodeInternal        = "INTERNAL_ERROR"
	errCodeUnavailable     = "SERVICE_UNAVAILABLE"
)

// responder writes APIResponse envelopes and tracks the request start time
// so query_time_ms reflects actual handler duration.
type responder struct {
	w     http.ResponseWriter
	start time.Time
}

func respond(w http.ResponseWriter) *responder {
	return &responder{w: w, start: time.Now()}
}

func (r *responder) meta(cached bool) models.Metadata {
	return models.Metadata{
		Timestamp:   time.Now().UTC(),
		QueryTimeMS: time.Since(r.start).Milliseconds(),
		Cached:      cached,
	}
}

// Success writes a 200 envelope with data.
func (r *responder) Success(data interface{}) {
	r.writeJSON(http.StatusOK, models.APIResponse{
		Status:   "success",
		Data:     data,
		Metadata: r.meta(false),
	})
}

// Cached writes a 200 envelope flagged as served from cache.
func (r *responder) Cached(data interface{}) {
	r.writeJSON(http.StatusOK, models.APIResponse{
		Status:   "success",
		Data:     data,
		Metadata: r.meta(true),
	})
}

// Error writes an error envelope with the given HTTP status.
func (r *responder) Error(status int, code, message string) {
	r.ErrorWithDetails(status, code, message, nil)
}

// ErrorWithDetails writes an error envelope carrying structured details,
// typically per-field validation failures.
func (r *responder) ErrorWithDetails(status int, code, message string, details map[string]interface{}) {
	r.writeJSON(status, models.APIResponse{
		Status:   "error",
		Metadata: r.meta(false),
		Error: &models.APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// BadRequest writes a 400 error.
func (r *responder) BadRequest(message string) {
	r.Error(http.StatusBadRequest, errCodeBadRequest, message)
}

// ValidationFailed writes a 400 carrying the validator's per-field errors.
func (r *responder) ValidationFailed(verr *validation.RequestValidationError) {
	details := make(map[string]interface{}, len(verr.Errors()))
	for _, fe := range verr.Errors() {
		details[fe.Field()] = fe.Error()
	}
	r.ErrorWithDetails(http.StatusBadRequest, errCodeValidation, "request validation failed", details)
}

// Unauthorized writes a 401 error.
func (r *responder) Unauthorized(message string) {
	r.Error(http.StatusUnauthorized, errCodeAuthentication, message)
}

// NotFound writes a 404 error.
func (r *responder) NotFound(message string) {
	r.Error(http.StatusNotFound, errCodeNotFound, message)
}

// DatabaseError logs the underlying error and writes a generic 500 so
// storage internals never leak to clients.
func (r *responder) DatabaseError(err error) {
	logging.Error().Err(err).Msg("database error")
	r.Error(http.StatusInternalServerError, errCodeDatabase, "a database error occurred")
}

// InternalError writes a 500 error.
func (r *responder) InternalError(message string) {
	r.Error(http.StatusInternalServerError, errCodeInternal, message)
}

// ServiceUnavailable writes a 503 error.
func (r *responder) ServiceUnavailable(message string) {
	r.Error(http.StatusServiceUnavailable, errCodeUnavailable, message)
}

func (r *responder) writeJSON(status int, body models.APIResponse) {
	r.w.Header().Set("Content-Type", "application/json")
	r.w.WriteHeader(status)
	if err := json.NewEncoder(r.w).Encode(body); err != nil {
		logging.Error().Err(err).Msg("failed to encode response")
	}
}
