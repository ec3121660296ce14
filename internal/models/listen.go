// Soundprint - Music Listening Tracking and Statistics
// Copyright 2026 Soundprint contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundprint/soundprint

package models

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
)

// ErrMalformedListen is returned when a submitted listen cannot be
// normalized into the canonical shape. Callers should reject the whole
// submission with a validation error rather than persisting partial data.
var ErrMalformedListen = errors.New("malformed listen")

// timestampFields are the legacy field names a submitted listen may carry
// its timestamp under, tried in priority order.
var timestampFields = []string{"listened_at", "timestamp", "ts_since_epoch"}

// Listen is one playback event in canonical form.
//
// A listen is constructed at submission time (FromJSON) or reconstructed
// from a storage row (FromStorage) and is immutable once built: conversions
// to other shapes go through ToAPI and ToStorage rather than mutation.
// Data holds the track_metadata mapping (track_name, artist_name,
// release_name, additional_info); additional_info is always flattened.
type Listen struct {
	UserID            int64
	UserName          string
	Timestamp         time.Time
	ArtistMSID        string
	ReleaseMSID       string
	RecordingMSID     string
	InsertedTimestamp time.Time
	Data              map[string]interface{}
}

// StorageListen is the row shape a listen is persisted as: denormalized
// listened_at and track_name columns plus an opaque JSON blob holding the
// rest of the track metadata.
type StorageListen struct {
	ListenedAt int64
	TrackName  string
	UserName   string
	UserID     int64
	CreatedAt  time.Time
	Data       []byte
}

// MBIDMapping is the resolved canonical-catalog mapping for a listen's
// recording MSID. It is only surfaced to API consumers when complete.
type MBIDMapping struct {
	RecordingMBID string   `json:"recording_mbid"`
	ReleaseMBID   string   `json:"release_mbid"`
	ArtistMBIDs   []string `json:"artist_mbids"`
	ArtistName    string   `json:"artist_name,omitempty"`
	TrackName     string   `json:"track_name,omitempty"`
	ReleaseName   string   `json:"release_name,omitempty"`
}

// epochValue converts a decoded JSON value to epoch seconds. JSON numbers
// decode as float64, but callers may also hand us ints, json.Number, or a
// numeric string: some importers send "1618428000" and expect it accepted.
func epochValue(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return int64(f), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return int64(f), true
	default:
		return 0, false
	}
}

// listenTimestamp extracts the listen timestamp from a raw submission,
// trying each legacy field name in priority order.
func listenTimestamp(raw map[string]interface{}) (time.Time, error) {
	for _, field := range timestampFields {
		v, ok := raw[field]
		if !ok || v == nil {
			continue
		}
		epoch, ok := epochValue(v)
		if !ok {
			return time.Time{}, fmt.Errorf("field %q is not a numeric epoch: %w", field, ErrMalformedListen)
		}
		return time.Unix(epoch, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("no timestamp field present: %w", ErrMalformedListen)
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func intField(m map[string]interface{}, key string) int64 {
	if v, ok := m[key]; ok {
		if n, ok := epochValue(v); ok {
			return n
		}
	}
	return 0
}

// trackMetadata returns the track_metadata mapping of a raw listen with
// additional_info flattened in place. A missing track_metadata yields an
// empty mapping so accessors never nil-panic.
func trackMetadata(raw map[string]interface{}) map[string]interface{} {
	data, ok := raw["track_metadata"].(map[string]interface{})
	if !ok || data == nil {
		return map[string]interface{}{"additional_info": map[string]interface{}{}}
	}
	info, ok := data["additional_info"].(map[string]interface{})
	if !ok || info == nil {
		info = map[string]interface{}{}
	}
	data["additional_info"] = FlattenMap(info, "")
	return data
}

// FromJSON constructs a Listen from a raw submitted JSON object. The
// timestamp may appear under listened_at, timestamp, or ts_since_epoch,
// tried in that order; a submission with none of them, or with a
// non-numeric value, fails with ErrMalformedListen.
func FromJSON(raw map[string]interface{}) (*Listen, error) {
	ts, err := listenTimestamp(raw)
	if err != nil {
		return nil, err
	}

	data := trackMetadata(raw)
	info := data["additional_info"].(map[string]interface{})

	return &Listen{
		UserID:        intField(raw, "user_id"),
		UserName:      stringField(raw, "user_name"),
		Timestamp:     ts,
		ArtistMSID:    stringField(info, "artist_msid"),
		ReleaseMSID:   stringField(info, "release_msid"),
		RecordingMSID: stringField(raw, "recording_msid"),
		Data:          data,
	}, nil
}

// FromStorage reconstructs a Listen from a storage row. When a complete
// catalog mapping is supplied (recording MBID, release MBID, and artist
// MBIDs all present) a mbid_mapping sub-object is injected into the track
// metadata; a partial mapping is never surfaced.
func FromStorage(row StorageListen, mapping *MBIDMapping) (*Listen, error) {
	data := map[string]interface{}{}
	if len(row.Data) > 0 {
		if err := json.Unmarshal(row.Data, &data); err != nil {
			return nil, fmt.Errorf("failed to decode listen blob: %w", err)
		}
	}

	info, ok := data["additional_info"].(map[string]interface{})
	if !ok || info == nil {
		info = map[string]interface{}{}
	}
	data["additional_info"] = FlattenMap(info, "")
	if row.TrackName != "" {
		data["track_name"] = row.TrackName
	}

	if mapping != nil &&
		mapping.RecordingMBID != "" &&
		mapping.ReleaseMBID != "" &&
		len(mapping.ArtistMBIDs) > 0 {
		data["mbid_mapping"] = map[string]interface{}{
			"recording_mbid": mapping.RecordingMBID,
			"release_mbid":   mapping.ReleaseMBID,
			"artist_mbids":   mapping.ArtistMBIDs,
		}
	}

	return &Listen{
		UserID:            row.UserID,
		UserName:          row.UserName,
		Timestamp:         time.Unix(row.ListenedAt, 0).UTC(),
		ArtistMSID:        stringField(info, "artist_msid"),
		ReleaseMSID:       stringField(info, "release_msid"),
		RecordingMSID:     stringField(info, "recording_msid"),
		InsertedTimestamp: row.CreatedAt,
		Data:              data,
	}, nil
}

// ToAPI produces the externally visible JSON shape. The nested
// additional_info copies of artist_msid and release_msid are not trusted
// and are always overwritten from the top-level fields. inserted_at
// defaults to 0 when the listen carries no receipt time.
func (l *Listen) ToAPI() map[string]interface{} {
	data := make(map[string]interface{}, len(l.Data))
	for k, v := range l.Data {
		data[k] = v
	}

	info := map[string]interface{}{}
	if existing, ok := data["additional_info"].(map[string]interface{}); ok {
		info = make(map[string]interface{}, len(existing)+2)
		for k, v := range existing {
			info[k] = v
		}
	}
	info["artist_msid"] = l.ArtistMSID
	info["release_msid"] = l.ReleaseMSID
	data["additional_info"] = info

	var insertedAt int64
	if !l.InsertedTimestamp.IsZero() {
		insertedAt = l.InsertedTimestamp.Unix()
	}

	return map[string]interface{}{
		"user_name":      l.UserName,
		"listened_at":    l.Timestamp.Unix(),
		"track_metadata": data,
		"recording_msid": l.RecordingMSID,
		"inserted_at":    insertedAt,
	}
}

// ToStorage converts a Listen to its row shape: the MSIDs are embedded
// into additional_info, track_name is extracted to its own column, and the
// remaining track metadata is serialized as an opaque blob.
func (l *Listen) ToStorage() (StorageListen, error) {
	data := make(map[string]interface{}, len(l.Data))
	for k, v := range l.Data {
		data[k] = v
	}

	info := map[string]interface{}{}
	if existing, ok := data["additional_info"].(map[string]interface{}); ok {
		info = make(map[string]interface{}, len(existing)+3)
		for k, v := range existing {
			info[k] = v
		}
	}
	info["artist_msid"] = l.ArtistMSID
	info["release_msid"] = l.ReleaseMSID
	info["recording_msid"] = l.RecordingMSID
	data["additional_info"] = info

	trackName, _ := data["track_name"].(string)
	delete(data, "track_name")

	blob, err := json.Marshal(data)
	if err != nil {
		return StorageListen{}, fmt.Errorf("failed to encode listen blob: %w", err)
	}

	return StorageListen{
		ListenedAt: l.Timestamp.Unix(),
		TrackName:  trackName,
		UserName:   l.UserName,
		UserID:     l.UserID,
		CreatedAt:  l.InsertedTimestamp,
		Data:       blob,
	}, nil
}

// IsValid reports whether the listen is well-formed: user identity,
// timestamp, artist and recording MSIDs, and the data payload must all be
// present.
func (l *Listen) IsValid() bool {
	return l.UserID != 0 &&
		!l.Timestamp.IsZero() &&
		l.ArtistMSID != "" &&
		l.RecordingMSID != "" &&
		l.Data != nil
}

// FlattenMap collapses nested mappings into a single level using dotted
// keys, so {"a": {"b": 1}} becomes {"a.b": 1}. It is idempotent on input
// that is already flat. prefix is the accumulated parent key and should be
// empty at the top-level call.
func FlattenMap(m map[string]interface{}, prefix string) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for key, value := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := value.(map[string]interface{}); ok {
			for k, v := range FlattenMap(nested, fullKey) {
				out[k] = v
			}
			continue
		}
		out[fullKey] = value
	}
	return out
}

// NowPlayingListen is an ephemeral listen that is never persisted: it
// exists only to be broadcast to connected clients and then discarded, so
// it carries no identity or timestamp guarantees.
type NowPlayingListen struct {
	Listen
}

// NowPlayingFromJSON constructs a NowPlayingListen from a raw submission.
// Unlike FromJSON no timestamp is required: a playing-now event describes
// the present moment.
func NowPlayingFromJSON(raw map[string]interface{}) *NowPlayingListen {
	data := trackMetadata(raw)
	info := data["additional_info"].(map[string]interface{})

	return &NowPlayingListen{Listen{
		UserID:        intField(raw, "user_id"),
		UserName:      stringField(raw, "user_name"),
		ArtistMSID:    stringField(info, "artist_msid"),
		ReleaseMSID:   stringField(info, "release_msid"),
		RecordingMSID: stringField(raw, "recording_msid"),
		Data:          data,
	}}
}

// ToAPI produces the broadcast shape: the regular API shape without
// listened_at and with playing_now set.
func (l *NowPlayingListen) ToAPI() map[string]interface{} {
	data := l.Listen.ToAPI()
	delete(data, "listened_at")
	delete(data, "inserted_at")
	data["playing_now"] = true
	return data
}
