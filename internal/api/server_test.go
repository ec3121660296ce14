// Soundprint - Music Listening Tracking and Statistics
// Copyright 2026 Soundprint contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundprint/soundprint

package api

import (
	"bytes"
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/soundprint/soundprint/internal/auth"
	"github.com/soundprint/soundprint/internal/config"
	"github.com/soundprint/soundprint/internal/database"
	"github.com/soundprint/soundprint/internal/models"
	"github.com/soundprint/soundprint/internal/websocket"
)

// testDBSemaphore serializes test database lifecycles; concurrent DuckDB
// CGO calls from parallel tests can hang under CI resource pressure.
var testDBSemaphore = make(chan struct{}, 1)

const testAdminPassword = "correct-horse-battery"

var (
	testAdminHashOnce sync.Once
	testAdminHash     string
)

// adminHash memoizes the bcrypt hash so only one test pays the cost.
func adminHash(t *testing.T) string {
	t.Helper()
	testAdminHashOnce.Do(func() {
		h, err := auth.HashPassword(testAdminPassword)
		if err != nil {
			t.Fatalf("failed to hash admin password: %v", err)
		}
		testAdminHash = h
	})
	return testAdminHash
}

type publishedMessage struct {
	topic    string
	payload  []byte
	metadata message.Metadata
}

// fakePublisher records published messages in place of the broker.
type fakePublisher struct {
	mu       sync.Mutex
	messages []publishedMessage
}

func (f *fakePublisher) Publish(_ context.Context, topic string, msg *message.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, publishedMessage{
		topic:    topic,
		payload:  msg.Payload,
		metadata: msg.Metadata,
	})
	return nil
}

func (f *fakePublisher) byTopic(topic string) []publishedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []publishedMessage
	for _, m := range f.messages {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

type testServer struct {
	server    *Server
	router    chi.Router
	db        *database.DB
	publisher *fakePublisher
}

func setupServer(t *testing.T) *testServer {
	t.Helper()

	testDBSemaphore <- struct{}{}
	t.Cleanup(func() { <-testDBSemaphore })

	db, err := database.New(&config.DatabaseConfig{Path: ":memory:", MaxMemory: "1GB"})
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("failed to close test database: %v", err)
		}
	})

	cfg := &config.Config{
		Server: config.ServerConfig{
			Host:        "127.0.0.1",
			Port:        0,
			Timeout:     30 * time.Second,
			Environment: "test",
		},
		NATS: config.NATSConfig{
			ListensTopic:    "listens",
			PlayingNowTopic: "playing_now",
			StatsTopic:      "stats",
		},
		API: config.APIConfig{
			DefaultPageSize:       25,
			MaxPageSize:           100,
			MaxListensPerRequest:  1000,
			MaxListenPayloadBytes: 10240,
		},
		Security: config.SecurityConfig{
			JWTSecret:         "test-secret-0123456789abcdef",
			SessionTimeout:    time.Hour,
			AdminUsername:     "admin",
			AdminPasswordHash: adminHash(t),
		},
	}

	pub := &fakePublisher{}
	srv, err := NewServer(cfg, db, pub, websocket.NewHub())
	if err != nil {
		t.Fatalf("failed to build server: %v", err)
	}

	return &testServer{
		server:    srv,
		router:    srv.Router(),
		db:        db,
		publisher: pub,
	}
}

func (ts *testServer) createUser(t *testing.T, name string) *models.User {
	t.Helper()
	user, err := ts.db.CreateUser(context.Background(), name)
	if err != nil {
		t.Fatalf("failed to create user %s: %v", name, err)
	}
	return user
}

// envelope mirrors models.APIResponse for decoding test responses.
type envelope struct {
	Status   string                 `json:"status"`
	Data     map[string]interface{} `json:"data"`
	Metadata models.Metadata        `json:"metadata"`
	Error    *models.APIError       `json:"error"`
}

// request performs an HTTP request against the router. authHeader is the
// full Authorization header value, or empty for anonymous requests.
func (ts *testServer) request(t *testing.T, method, path, authHeader string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}

	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, env
}

func tokenHeader(user *models.User) string {
	return "Token " + user.AuthToken
}

// listenEntry builds a well-formed raw listen submission.
func listenEntry(ts int64, track string) map[string]interface{} {
	return map[string]interface{}{
		"listened_at":    ts,
		"recording_msid": uuid.NewString(),
		"track_metadata": map[string]interface{}{
			"track_name":  track,
			"artist_name": "Test Artist",
			"additional_info": map[string]interface{}{
				"artist_msid":  uuid.NewString(),
				"release_msid": uuid.NewString(),
			},
		},
	}
}

func submitBody(listenType string, entries ...map[string]interface{}) map[string]interface{} {
	payload := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		payload = append(payload, e)
	}
	return map[string]interface{}{
		"listen_type": listenType,
		"payload":     payload,
	}
}

func requireStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}
