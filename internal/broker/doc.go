// Soundprint - Music Listening Tracking and Statistics
// Copyright 2026 Soundprint contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundprint/soundprint

// Package broker wraps the Watermill/NATS JetStream messaging layer.
//
// Three topics flow through it: submitted listens and playing-now events
// (published by the HTTP API, consumed by the real-time dispatcher) and
// batch-statistics result messages (published by the analytics cluster,
// consumed by the stats consumer). An embedded NATS server is available
// for single-instance deployments; tests use Watermill's gochannel
// Pub/Sub instead.
package broker
