// Soundprint - Music Listening Tracking and Statistics
// Copyright 2026 Soundprint contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundprint/soundprint

// Package api is the HTTP surface: listen submission and export, the
// pinned-recording endpoints, admin login, the websocket upgrade, and the
// health and metrics endpoints.
//
// Routing is chi with go-chi/cors and go-chi/httprate. End users
// authenticate with their per-user submission token
// (Authorization: Token <uuid>); the admin session uses a JWT issued by
// POST /login. All JSON bodies go through goccy/go-json and every response
// uses the models.APIResponse envelope.
package api
