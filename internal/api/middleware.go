// Soundprint - Music Listening Tracking and Statistics
// Copyright 2026 Soundprint contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundprint/soundprint

package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/soundprint/soundprint/internal/config"
	"github.com/soundprint/soundprint/internal/database"
	"github.com/soundprint/soundprint/internal/metrics"
	"github.com/soundprint/soundprint/internal/models"
)

type contextKey string

const userContextKey contextKey = "soundprint:user"

// userFromContext returns the token-authenticated user, if any.
func userFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(userContextKey).(*models.User)
	return user, ok
}

// corsMiddleware builds the CORS handler from configured origins. An empty
// origin list denies cross-origin requests rather than defaulting to a
// wildcard.
func corsMiddleware(cfg *config.APIConfig) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           86400,
	})
}

// rateLimitMiddleware limits requests per client IP within the configured
// window. A non-positive request budget disables limiting.
func rateLimitMiddleware(cfg *config.APIConfig) func(http.Handler) http.Handler {
	if cfg.RateLimitReqs <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	window := cfg.RateLimitWindow
	if window <= 0 {
		window = time.Minute
	}

	return httprate.Limit(
		cfg.RateLimitReqs,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			respond(w).Error(http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "rate limit exceeded")
		}),
	)
}

// metricsMiddleware records per-route request counts and latency. The
// endpoint label uses the chi route pattern, not the raw path, to keep
// metric cardinality bounded.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		endpoint := chi.RouteContext(r.Context()).RoutePattern()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.RecordAPIRequest(r.Method, endpoint, strconv.Itoa(ww.Status()), time.Since(start))
	})
}

// tokenAuth authenticates the per-user submission token. The header format
// follows the importer convention: "Authorization: Token <uuid>".
func (s *Server) tokenAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerValue(r, "Token")
		if !ok {
			respond(w).Unauthorized("missing or malformed Authorization header")
			return
		}

		user, err := s.db.GetUserByToken(r.Context(), token)
		if err != nil {
			if err == database.ErrUserNotFound {
				respond(w).Unauthorized("invalid authorization token")
				return
			}
			respond(w).DatabaseError(err)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// adminAuth validates the JWT session issued by the login endpoint.
func (s *Server) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.jwt == nil {
			respond(w).ServiceUnavailable("admin sessions are not configured")
			return
		}

		token, ok := bearerValue(r, "Bearer")
		if !ok {
			respond(w).Unauthorized("missing or malformed Authorization header")
			return
		}

		claims, err := s.jwt.ValidateToken(token)
		if err != nil {
			respond(w).Unauthorized("invalid or expired session token")
			return
		}
		if claims.Role != "admin" {
			respond(w).Error(http.StatusForbidden, errCodeForbidden, "admin session required")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// bearerValue extracts the credential from an "Authorization: <scheme> x"
// header. The scheme match is case-insensitive.
func bearerValue(r *http.Request, scheme string) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], scheme) {
		return "", false
	}
	value := strings.TrimSpace(parts[1])
	return value, value != ""
}
