// Soundprint - Music Listening Tracking and Statistics
// Copyright 2026 Soundprint contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundprint/soundprint

package broker

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"

	"github.com/soundprint/soundprint/internal/logging"
)

// WatermillLogger adapts the zerolog facade to watermill.LoggerAdapter so
// broker internals log through the application's structured logger.
type WatermillLogger struct {
	fields watermill.LogFields
}

// NewWatermillLogger returns an adapter with no bound fields.
func NewWatermillLogger() *WatermillLogger {
	return &WatermillLogger{}
}

func (l *WatermillLogger) event(ev *zerolog.Event, err error, fields watermill.LogFields, msg string) {
	if err != nil {
		ev = ev.Err(err)
	}
	for k, v := range l.fields {
		ev = ev.Interface(k, v)
	}
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

// Error implements watermill.LoggerAdapter.
func (l *WatermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.event(logging.Error(), err, fields, msg)
}

// Info implements watermill.LoggerAdapter.
func (l *WatermillLogger) Info(msg string, fields watermill.LogFields) {
	l.event(logging.Info(), nil, fields, msg)
}

// Debug implements watermill.LoggerAdapter.
func (l *WatermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.event(logging.Debug(), nil, fields, msg)
}

// Trace implements watermill.LoggerAdapter. Trace maps to debug level.
func (l *WatermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.event(logging.Debug(), nil, fields, msg)
}

// With implements watermill.LoggerAdapter.
func (l *WatermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	merged := make(watermill.LogFields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &WatermillLogger{fields: merged}
}
