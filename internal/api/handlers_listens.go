// Soundprint - Music Listening Tracking and Statistics
// Copyright 2026 Soundprint contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundprint/soundprint

package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/soundprint/soundprint/internal/broker"
	"github.com/soundprint/soundprint/internal/database"
	"github.com/soundprint/soundprint/internal/logging"
	"github.com/soundprint/soundprint/internal/metrics"
	"github.com/soundprint/soundprint/internal/models"
	"github.com/soundprint/soundprint/internal/validation"
)

func listenCountKey(userName string) string {
	return "listen-count:" + userName
}

// handleSubmitListens accepts a batch listen submission. single and import
// batches are persisted then broadcast; playing_now events are broadcast
// only. The whole batch is rejected if any entry is malformed, so
// importers can retry a submission as a unit.
func (s *Server) handleSubmitListens(w http.ResponseWriter, r *http.Request) {
	resp := respond(w)
	user, _ := userFromContext(r.Context())

	var req models.SubmitListensRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.BadRequest("invalid JSON body: " + err.Error())
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		resp.ValidationFailed(verr)
		return
	}

	switch req.ListenType {
	case models.ListenTypeSingle, models.ListenTypePlayingNow:
		if len(req.Payload) != 1 {
			resp.BadRequest(fmt.Sprintf("%s submissions must contain exactly one listen, got %d",
				req.ListenType, len(req.Payload)))
			return
		}
	case models.ListenTypeImport:
		if max := s.cfg.API.MaxListensPerRequest; max > 0 && len(req.Payload) > max {
			resp.Error(http.StatusRequestEntityTooLarge, errCodePayloadTooLarge,
				fmt.Sprintf("import submissions are capped at %d listens, got %d", max, len(req.Payload)))
			return
		}
	}

	entries, err := s.decodeListenEntries(req.Payload, user)
	if err != nil {
		metrics.RecordListenRejected("malformed")
		resp.BadRequest(err.Error())
		return
	}

	if req.ListenType == models.ListenTypePlayingNow {
		s.publishListens(r.Context(), s.cfg.NATS.PlayingNowTopic, entries, user, req.ListenType)
		metrics.RecordListenIngested(req.ListenType, len(entries))

		out := make([]map[string]interface{}, 0, len(entries))
		for _, entry := range entries {
			out = append(out, models.NowPlayingFromJSON(entry).ToAPI())
		}
		resp.Success(map[string]interface{}{"accepted": len(entries), "listens": out})
		return
	}

	listens := make([]*models.Listen, 0, len(entries))
	for i, entry := range entries {
		listen, err := models.FromJSON(entry)
		if err != nil {
			metrics.RecordListenRejected("malformed")
			resp.BadRequest(fmt.Sprintf("listen %d: %v", i, err))
			return
		}
		listens = append(listens, listen)
	}

	inserted, err := s.db.InsertListens(r.Context(), listens)
	if err != nil {
		resp.DatabaseError(err)
		return
	}

	duplicates := int64(len(listens)) - inserted
	if duplicates > 0 {
		metrics.ListensDuplicate.Add(float64(duplicates))
	}
	metrics.RecordListenIngested(req.ListenType, int(inserted))
	s.cache.Delete(listenCountKey(user.MusicBrainzID))

	s.publishListens(r.Context(), s.cfg.NATS.ListensTopic, entries, user, req.ListenType)

	out := make([]map[string]interface{}, 0, len(listens))
	for _, l := range listens {
		out = append(out, l.ToAPI())
	}
	resp.Success(map[string]interface{}{
		"accepted":   inserted,
		"duplicates": duplicates,
		"listens":    out,
	})
}

// decodeListenEntries decodes each raw payload entry, enforces the
// per-listen size cap, and stamps the authenticated user's identity onto
// the entry. Client-supplied user fields are never trusted.
func (s *Server) decodeListenEntries(payload []json.RawMessage, user *models.User) ([]map[string]interface{}, error) {
	entries := make([]map[string]interface{}, 0, len(payload))
	for i, raw := range payload {
		if max := s.cfg.API.MaxListenPayloadBytes; max > 0 && len(raw) > max {
			return nil, fmt.Errorf("listen %d exceeds the %d byte payload limit", i, max)
		}

		var entry map[string]interface{}
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, fmt.Errorf("listen %d is not a JSON object: %v", i, err)
		}
		if _, ok := entry["track_metadata"].(map[string]interface{}); !ok {
			return nil, fmt.Errorf("listen %d is missing track_metadata", i)
		}

		entry["user_id"] = user.ID
		entry["user_name"] = user.MusicBrainzID
		entries = append(entries, entry)
	}
	return entries, nil
}

// publishListens hands the batch to the broker for websocket fan-out.
// Publish failures are logged, never surfaced: real-time delivery is
// at-most-once and the listens themselves are already durable.
func (s *Server) publishListens(ctx context.Context, topic string, entries []map[string]interface{}, user *models.User, listenType string) {
	if s.publisher == nil || topic == "" {
		return
	}

	payload, err := json.Marshal(entries)
	if err != nil {
		logging.Error().Err(err).Msg("failed to encode listen bundle")
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(broker.MetadataUserName, user.MusicBrainzID)
	msg.Metadata.Set(broker.MetadataUserID, strconv.FormatInt(user.ID, 10))
	msg.Metadata.Set(broker.MetadataListenType, listenType)

	if err := s.publisher.Publish(ctx, topic, msg); err != nil {
		logging.Error().Err(err).Str("topic", topic).
			Str("user_name", user.MusicBrainzID).Msg("failed to publish listen bundle")
	}
}

// handleGetListens exports a user's listen history, newest first. max_ts
// pages backwards: only listens strictly older than it are returned.
func (s *Server) handleGetListens(w http.ResponseWriter, r *http.Request) {
	resp := respond(w)
	userName := chi.URLParam(r, "user_name")

	if _, err := s.db.GetUserByName(r.Context(), userName); err != nil {
		if err == database.ErrUserNotFound {
			resp.NotFound("user " + userName + " not found")
			return
		}
		resp.DatabaseError(err)
		return
	}

	count := s.clampCount(queryInt(r, "count", s.cfg.API.DefaultPageSize))
	maxTS := int64(queryInt(r, "max_ts", 0))

	listens, err := s.db.FetchListens(r.Context(), userName, maxTS, count)
	if err != nil {
		resp.DatabaseError(err)
		return
	}

	out := make([]map[string]interface{}, 0, len(listens))
	for _, l := range listens {
		out = append(out, l.ToAPI())
	}

	resp.Success(map[string]interface{}{
		"user_name": userName,
		"count":     len(out),
		"listens":   out,
	})
}

// handleListenCount serves the per-user listen count through the TTL
// cache; the count is expensive on large histories and tolerates bounded
// staleness.
func (s *Server) handleListenCount(w http.ResponseWriter, r *http.Request) {
	resp := respond(w)
	userName := chi.URLParam(r, "user_name")
	key := listenCountKey(userName)

	if cached, ok := s.cache.Get(key); ok {
		metrics.RecordCacheHit("listen_count")
		resp.Cached(map[string]interface{}{"user_name": userName, "count": cached})
		return
	}
	metrics.RecordCacheMiss("listen_count")

	if _, err := s.db.GetUserByName(r.Context(), userName); err != nil {
		if err == database.ErrUserNotFound {
			resp.NotFound("user " + userName + " not found")
			return
		}
		resp.DatabaseError(err)
		return
	}

	count, err := s.db.ListenCountForUser(r.Context(), userName)
	if err != nil {
		resp.DatabaseError(err)
		return
	}

	s.cache.Set(key, count)
	resp.Success(map[string]interface{}{"user_name": userName, "count": count})
}

// handleDeleteListens wipes the caller's listen history and resets their
// latest-import marker so importers start over.
func (s *Server) handleDeleteListens(w http.ResponseWriter, r *http.Request) {
	resp := respond(w)
	user, _ := userFromContext(r.Context())

	if err := s.db.DeleteListensForUser(r.Context(), user.ID, user.MusicBrainzID); err != nil {
		resp.DatabaseError(err)
		return
	}

	s.cache.Delete(listenCountKey(user.MusicBrainzID))
	resp.Success(map[string]interface{}{"status": "ok"})
}

// handleGetLatestImport returns the caller's import watermark.
func (s *Server) handleGetLatestImport(w http.ResponseWriter, r *http.Request) {
	resp := respond(w)
	user, _ := userFromContext(r.Context())

	// Re-read: the context user was loaded at auth time and the marker may
	// have moved since.
	fresh, err := s.db.GetUserByID(r.Context(), user.ID)
	if err != nil {
		resp.DatabaseError(err)
		return
	}

	resp.Success(map[string]interface{}{
		"musicbrainz_id": fresh.MusicBrainzID,
		"latest_import":  fresh.LatestImportAt,
	})
}

// handleUpdateLatestImport advances the caller's import watermark.
func (s *Server) handleUpdateLatestImport(w http.ResponseWriter, r *http.Request) {
	resp := respond(w)
	user, _ := userFromContext(r.Context())

	var req models.LatestImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.BadRequest("invalid JSON body: " + err.Error())
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		resp.ValidationFailed(verr)
		return
	}

	if err := s.db.UpdateLatestImport(r.Context(), user.ID, req.TS); err != nil {
		resp.DatabaseError(err)
		return
	}

	resp.Success(map[string]interface{}{"status": "ok"})
}

// clampCount bounds a page size to [1, MaxPageSize].
func (s *Server) clampCount(count int) int {
	if count <= 0 {
		count = s.cfg.API.DefaultPageSize
	}
	if max := s.cfg.API.MaxPageSize; max > 0 && count > max {
		count = max
	}
	return count
}

// queryInt parses an integer query parameter, falling back to def when the
// parameter is absent or unparseable.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
