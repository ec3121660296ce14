// Soundprint - Music Listening Tracking and Statistics
// Copyright 2026 Soundprint contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundprint/soundprint

/*
Package supervisor runs Soundprint's long-lived components under a suture
v4 tree with Erlang-style restart semantics.

The tree has three layers for failure isolation:

	root ("soundprint")
	├── broker-layer
	│   └── embedded NATS server (if enabled)
	├── messaging-layer
	│   ├── websocket hub
	│   ├── real-time dispatcher
	│   └── stats consumer
	└── api-layer
	    └── HTTP server

A crash in the messaging layer restarts the consumers without dropping
the HTTP listener, and vice versa. Supervision events are logged through
sutureslog into the zerolog pipeline.
*/
package supervisor
