// Soundprint - Music Listening Tracking and Statistics
// Copyright 2026 Soundprint contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundprint/soundprint

package models

import (
	json "github.com/goccy/go-json"
)

// StatsMessageType tags a batch-analytics result message with the handler
// that should process it.
type StatsMessageType string

// Message types emitted by the batch-analytics cluster.
const (
	StatsUserEntity                StatsMessageType = "user_entity"
	StatsUserListeningActivity     StatsMessageType = "user_listening_activity"
	StatsUserDailyActivity         StatsMessageType = "user_daily_activity"
	StatsSitewideEntity            StatsMessageType = "sitewide_entity"
	StatsSitewideListeningActivity StatsMessageType = "sitewide_listening_activity"
	StatsDumpImported              StatsMessageType = "dump_imported"
	StatsDataframesCreated         StatsMessageType = "dataframes_created"
	StatsMissingData               StatsMessageType = "missing_data"
	StatsModelCreated              StatsMessageType = "model_created"
	StatsCandidateSetsCreated      StatsMessageType = "candidate_sets_created"
	StatsRecommendationsGenerated  StatsMessageType = "recommendations_generated"
	StatsSimilarUsers              StatsMessageType = "similar_users"
)

// StatsMessage is the envelope of a batch-analytics result message. Type
// selects the handler; the remaining fields are decoded per type from the
// raw payload.
type StatsMessage struct {
	Type    StatsMessageType `json:"type" validate:"required"`
	Payload json.RawMessage  `json:"-"`
}

// UserEntityStatsPayload carries top artists/releases/recordings for one
// user over one range.
type UserEntityStatsPayload struct {
	MusicBrainzID string          `json:"musicbrainz_id" validate:"required"`
	Entity        string          `json:"entity" validate:"required,oneof=artists releases recordings"`
	StatsRange    string          `json:"stats_range" validate:"required,oneof=week month quarter half_yearly year all_time this_week this_month this_year"`
	FromTS        int64           `json:"from_ts" validate:"gte=0"`
	ToTS          int64           `json:"to_ts" validate:"gtefield=FromTS"`
	Count         int64           `json:"count" validate:"gte=0"`
	Data          json.RawMessage `json:"data" validate:"required"`
}

// UserListeningActivityPayload carries listen counts over time buckets for
// one user.
type UserListeningActivityPayload struct {
	MusicBrainzID string          `json:"musicbrainz_id" validate:"required"`
	StatsRange    string          `json:"stats_range" validate:"required"`
	FromTS        int64           `json:"from_ts" validate:"gte=0"`
	ToTS          int64           `json:"to_ts" validate:"gtefield=FromTS"`
	Data          json.RawMessage `json:"data" validate:"required"`
}

// UserDailyActivityPayload carries per-hour-of-day listen counts for one
// user.
type UserDailyActivityPayload struct {
	MusicBrainzID string          `json:"musicbrainz_id" validate:"required"`
	StatsRange    string          `json:"stats_range" validate:"required"`
	FromTS        int64           `json:"from_ts" validate:"gte=0"`
	ToTS          int64           `json:"to_ts" validate:"gtefield=FromTS"`
	Data          json.RawMessage `json:"data" validate:"required"`
}

// SitewideEntityStatsPayload carries top entities across all users.
type SitewideEntityStatsPayload struct {
	Entity     string          `json:"entity" validate:"required,oneof=artists releases recordings"`
	StatsRange string          `json:"stats_range" validate:"required"`
	FromTS     int64           `json:"from_ts" validate:"gte=0"`
	ToTS       int64           `json:"to_ts" validate:"gtefield=FromTS"`
	Data       json.RawMessage `json:"data" validate:"required"`
}

// SitewideListeningActivityPayload carries sitewide listen counts over
// time buckets.
type SitewideListeningActivityPayload struct {
	StatsRange string          `json:"stats_range" validate:"required"`
	FromTS     int64           `json:"from_ts" validate:"gte=0"`
	ToTS       int64           `json:"to_ts" validate:"gtefield=FromTS"`
	Data       json.RawMessage `json:"data" validate:"required"`
}

// DumpImportedPayload announces that the cluster finished importing a
// listen dump.
type DumpImportedPayload struct {
	DumpName  string   `json:"imported_dump" validate:"required"`
	TotalTime string   `json:"time" validate:"required"`
	Errors    []string `json:"errors,omitempty"`
}

// DataframesCreatedPayload announces that training dataframes were
// uploaded.
type DataframesCreatedPayload struct {
	DataframeUploadTime string `json:"dataframe_upload_time" validate:"required"`
	TotalTime           string `json:"total_time" validate:"required"`
}

// MissingDataPayload carries listens the cluster could not match against
// the canonical catalog, keyed to the submitting user.
type MissingDataPayload struct {
	MusicBrainzID string          `json:"musicbrainz_id" validate:"required"`
	Source        string          `json:"source" validate:"required"`
	MissingData   json.RawMessage `json:"missing_musicbrainz_data" validate:"required"`
}

// ModelCreatedPayload announces that a recommendation model finished
// training.
type ModelCreatedPayload struct {
	ModelID         string `json:"model_id" validate:"required"`
	ModelUploadTime string `json:"model_upload_time" validate:"required"`
	TotalTime       string `json:"total_time" validate:"required"`
}

// CandidateSetsCreatedPayload announces that recommendation candidate sets
// were generated.
type CandidateSetsCreatedPayload struct {
	TotalTime string `json:"total_time" validate:"required"`
}

// RecommendationsGeneratedPayload carries generated recording
// recommendations for one user.
type RecommendationsGeneratedPayload struct {
	MusicBrainzID   string          `json:"musicbrainz_id" validate:"required"`
	Recommendations json.RawMessage `json:"recommendations" validate:"required"`
}

// SimilarUsersPayload carries the full user-similarity matrix, keyed by
// musicbrainz_id.
type SimilarUsersPayload struct {
	Data map[string]map[string]float64 `json:"data" validate:"required"`
}

// UserStatRecord is the persisted form of a per-user statistic, keyed by
// (user, stat type, stats range). The latest write for a key wins.
type UserStatRecord struct {
	UserID     int64
	StatType   string
	StatsRange string
	FromTS     int64
	ToTS       int64
	Data       []byte
	LastUpdate int64
}

// SitewideStatRecord is the persisted form of a sitewide statistic, keyed
// by (stat type, stats range).
type SitewideStatRecord struct {
	StatType   string
	StatsRange string
	FromTS     int64
	ToTS       int64
	Data       []byte
	LastUpdate int64
}
