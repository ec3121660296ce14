// Soundprint - Music Listening Tracking and Statistics
// Copyright 2026 Soundprint contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundprint/soundprint

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/soundprint/soundprint/internal/logging"
	"github.com/soundprint/soundprint/internal/websocket"
)

// handleHealthz reports liveness. The database check is the only hard
// dependency: a dead broker degrades real-time delivery but the API keeps
// serving.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := respond(w)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		logging.Error().Err(err).Msg("health check failed")
		resp.ServiceUnavailable("database unreachable")
		return
	}

	resp.Success(map[string]interface{}{
		"status":   "ok",
		"database": "up",
		"uptime_s": int64(time.Since(s.started).Seconds()),
	})
}

// handleWebsocket upgrades the connection and hands it to the hub. The
// client subscribes to usernames over the socket; nothing is pushed until
// it does.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		respond(w).ServiceUnavailable("real-time delivery is not enabled")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		logging.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	websocket.NewClient(s.hub, conn).Start()
}

// handleAdminStatus reports operational counters for the admin session.
func (s *Server) handleAdminStatus(w http.ResponseWriter, r *http.Request) {
	resp := respond(w)

	cacheStats := s.cache.GetStats()

	status := map[string]interface{}{
		"uptime_s":    int64(time.Since(s.started).Seconds()),
		"environment": s.cfg.Server.Environment,
		"cache": map[string]interface{}{
			"hits":       cacheStats.Hits,
			"misses":     cacheStats.Misses,
			"evictions":  cacheStats.Evictions,
			"total_keys": cacheStats.TotalKeys,
		},
	}
	if s.hub != nil {
		status["websocket_clients"] = s.hub.ClientCount()
	}

	resp.Success(status)
}
