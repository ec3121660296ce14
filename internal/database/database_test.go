// Soundprint - Music Listening Tracking and Statistics
// Copyright 2026 Soundprint contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundprint/soundprint

package database

import (
	"context"
	"testing"
	"time"

	"github.com/soundprint/soundprint/internal/config"
	"github.com/soundprint/soundprint/internal/models"
)

// testDBSemaphore serializes test database lifecycles. Concurrent DuckDB
// CGO calls from parallel tests can hang under CI resource pressure, so
// only one test holds an open connection at a time.
var testDBSemaphore = make(chan struct{}, 1)

// setupTestDB creates an in-memory test database. The semaphore is held
// for the whole test lifecycle and released via t.Cleanup.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	testDBSemaphore <- struct{}{}
	t.Cleanup(func() {
		<-testDBSemaphore
	})

	cfg := &config.DatabaseConfig{
		Path:      ":memory:",
		MaxMemory: "1GB",
	}

	db, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("failed to close test database: %v", err)
		}
	})
	return db
}

// createTestUser inserts a user and returns it.
func createTestUser(t *testing.T, db *DB, name string) *models.User {
	t.Helper()
	user, err := db.CreateUser(context.Background(), name)
	if err != nil {
		t.Fatalf("failed to create test user %s: %v", name, err)
	}
	return user
}

func TestPing(t *testing.T) {
	db := setupTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.Ping(ctx); err != nil {
		t.Errorf("ping failed: %v", err)
	}
}

func TestSchemaIdempotent(t *testing.T) {
	db := setupTestDB(t)

	// Re-running initialization against an existing schema must not fail.
	if err := db.initialize(); err != nil {
		t.Errorf("re-initialization failed: %v", err)
	}
}
