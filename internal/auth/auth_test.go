// Soundprint - Music Listening Tracking and Statistics
// Copyright 2026 Soundprint contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundprint/soundprint

package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/soundprint/soundprint/internal/config"
)

func testManager(t *testing.T, timeout time.Duration) *JWTManager {
	t.Helper()
	m, err := NewJWTManager(&config.SecurityConfig{
		JWTSecret:      "test-secret-with-enough-entropy-0123456789",
		SessionTimeout: timeout,
	})
	if err != nil {
		t.Fatalf("NewJWTManager failed: %v", err)
	}
	return m
}

func TestJWTRoundTrip(t *testing.T) {
	m := testManager(t, time.Hour)

	token, expiresAt, err := m.GenerateToken("admin", "admin")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if time.Until(expiresAt) < 59*time.Minute {
		t.Errorf("expected roughly one hour of validity, got %v", time.Until(expiresAt))
	}

	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.Username != "admin" || claims.Role != "admin" {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestJWTExpiredTokenRejected(t *testing.T) {
	m := testManager(t, -time.Minute)

	token, _, err := m.GenerateToken("admin", "admin")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if _, err := m.ValidateToken(token); err == nil {
		t.Error("expected expired token to be rejected")
	}
}

func TestJWTTamperedTokenRejected(t *testing.T) {
	m := testManager(t, time.Hour)

	token, _, err := m.GenerateToken("admin", "admin")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	parts := strings.Split(token, ".")
	parts[1] = parts[1][:len(parts[1])-2] + "xx"
	if _, err := m.ValidateToken(strings.Join(parts, ".")); err == nil {
		t.Error("expected tampered token to be rejected")
	}
}

func TestJWTWrongSecretRejected(t *testing.T) {
	m := testManager(t, time.Hour)
	other, err := NewJWTManager(&config.SecurityConfig{
		JWTSecret:      "a-different-secret-also-long-enough-xyz",
		SessionTimeout: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewJWTManager failed: %v", err)
	}

	token, _, err := m.GenerateToken("admin", "admin")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if _, err := other.ValidateToken(token); err == nil {
		t.Error("expected token signed with another secret to be rejected")
	}
}

func TestJWTEmptySecret(t *testing.T) {
	if _, err := NewJWTManager(&config.SecurityConfig{}); err == nil {
		t.Error("expected error for empty secret")
	}
}

func TestAdminCredentials(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}

	a, err := NewAdminAuthenticator("admin", hash)
	if err != nil {
		t.Fatalf("NewAdminAuthenticator failed: %v", err)
	}

	if !a.ValidateCredentials("admin", "correct horse battery staple") {
		t.Error("expected valid credentials to pass")
	}
	if a.ValidateCredentials("admin", "wrong password") {
		t.Error("expected wrong password to fail")
	}
	if a.ValidateCredentials("root", "correct horse battery staple") {
		t.Error("expected wrong username to fail")
	}
}

func TestAdminAuthenticatorRejectsBadHash(t *testing.T) {
	if _, err := NewAdminAuthenticator("admin", "not-a-bcrypt-hash"); err == nil {
		t.Error("expected error for malformed hash")
	}
}

func TestHashPasswordTooShort(t *testing.T) {
	if _, err := HashPassword("short"); err == nil {
		t.Error("expected error for short password")
	}
}
