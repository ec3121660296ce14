// Soundprint - Music Listening Tracking and Statistics
// Copyright 2026 Soundprint contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundprint/soundprint

package auth

import (
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// AdminAuthenticator verifies the configured admin credential pair. The
// password is configured as a bcrypt hash, never in the clear.
type AdminAuthenticator struct {
	username     string
	passwordHash []byte
}

// NewAdminAuthenticator creates an authenticator for the configured admin
// account.
func NewAdminAuthenticator(username, passwordHash string) (*AdminAuthenticator, error) {
	if username == "" {
		return nil, fmt.Errorf("admin username is required")
	}
	if passwordHash == "" {
		return nil, fmt.Errorf("admin password hash is required")
	}
	if _, err := bcrypt.Cost([]byte(passwordHash)); err != nil {
		return nil, fmt.Errorf("admin password hash is not a valid bcrypt hash: %w", err)
	}

	return &AdminAuthenticator{
		username:     username,
		passwordHash: []byte(passwordHash),
	}, nil
}

// ValidateCredentials reports whether the pair matches the configured
// admin account. Both comparisons always run so response time does not
// reveal which part failed.
func (a *AdminAuthenticator) ValidateCredentials(username, password string) bool {
	usernameMatch := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	passwordMatch := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)) == nil
	return usernameMatch && passwordMatch
}

// HashPassword produces a bcrypt hash suitable for the admin password
// configuration value.
func HashPassword(password string) (string, error) {
	if len(password) < 8 {
		return "", fmt.Errorf("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), 12)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
