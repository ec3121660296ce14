// Soundprint - Music Listening Tracking and Statistics
// Copyright 2026 Soundprint contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundprint/soundprint

// Package notify sends operational email notifications for batch-analytics
// events: stats batches being written, cluster dump import failures, and
// recommendation pipeline milestones. Recipients are fixed operational
// mailboxes, not end users.
package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/soundprint/soundprint/internal/config"
	"github.com/soundprint/soundprint/internal/logging"
	"github.com/soundprint/soundprint/internal/metrics"
)

// EventType selects the template and recipient for a notification.
type EventType string

// Notification events.
const (
	EventUserStatsUpdate          EventType = "user_stats_update"
	EventDumpImportFailure        EventType = "dump_import_failure"
	EventDataframesCreated        EventType = "dataframes_created"
	EventModelCreated             EventType = "model_created"
	EventCandidateSetsCreated     EventType = "candidate_sets_created"
	EventRecommendationsGenerated EventType = "recommendations_generated"
	EventSimilarUsersComputed     EventType = "similar_users_computed"
)

// Event is one notification to deliver. Data feeds the event's template.
type Event struct {
	Type EventType
	Data map[string]interface{}
}

// sendFunc delivers a rendered message; replaced in tests.
type sendFunc func(ctx context.Context, to string, msg []byte) error

// Mailer delivers notification emails over SMTP. Sends are rate limited
// and wrapped in a circuit breaker so a broken mail relay never backs up
// message processing. Failures are dropped with a log, never retried.
type Mailer struct {
	cfg     config.SMTPConfig
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[interface{}]
	send    sendFunc
	timeout time.Duration
}

// NewMailer creates a mailer from SMTP configuration.
func NewMailer(cfg config.SMTPConfig) *Mailer {
	maxPerMinute := cfg.MaxPerMinute
	if maxPerMinute <= 0 {
		maxPerMinute = 10
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	m := &Mailer{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(maxPerMinute)), maxPerMinute),
		timeout: timeout,
	}
	m.send = m.sendSMTP
	m.breaker = gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        "smtp",
		MaxRequests: 1,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("SMTP circuit breaker state change")
		},
	})
	return m
}

// Notify renders and sends the event's notification. Delivery is best
// effort: rate-limited, breaker-open, and failed sends are dropped with a
// log and a metric, and nil is returned so callers never block on mail.
// An unknown event type is the only error surfaced.
func (m *Mailer) Notify(ctx context.Context, ev Event) error {
	tmpl, ok := eventTemplates[ev.Type]
	if !ok {
		return fmt.Errorf("unknown notification event %q", ev.Type)
	}

	if !m.cfg.Enabled {
		logging.Debug().Str("event", string(ev.Type)).Msg("notifications disabled, skipping")
		return nil
	}

	if !m.limiter.Allow() {
		metrics.RecordNotificationDropped("rate_limited")
		logging.Warn().Str("event", string(ev.Type)).Msg("notification rate limit exceeded, dropping")
		return nil
	}

	subject, body, err := tmpl.render(ev.Data)
	if err != nil {
		metrics.RecordNotificationDropped("render_failed")
		logging.Err(err).Str("event", string(ev.Type)).Msg("failed to render notification")
		return nil
	}

	to := m.cfg.ObservabilityAddr
	if tmpl.exceptions {
		to = m.cfg.ExceptionsAddr
	}
	if to == "" {
		logging.Debug().Str("event", string(ev.Type)).Msg("no recipient configured, skipping")
		return nil
	}

	msg := m.buildMessage(to, subject, body)

	_, err = m.breaker.Execute(func() (interface{}, error) {
		sendCtx, cancel := context.WithTimeout(ctx, m.timeout)
		defer cancel()
		return nil, m.send(sendCtx, to, msg)
	})
	if err != nil {
		reason := "send_failed"
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			reason = "breaker_open"
		}
		metrics.RecordNotificationDropped(reason)
		logging.Err(err).
			Str("event", string(ev.Type)).
			Str("to", to).
			Msg("failed to send notification")
		return nil
	}

	metrics.RecordNotificationSent(string(ev.Type))
	logging.Info().Str("event", string(ev.Type)).Str("to", to).Msg("notification sent")
	return nil
}

// buildMessage constructs the RFC 5322 message with headers.
func (m *Mailer) buildMessage(to, subject, body string) []byte {
	fromName := m.cfg.FromName
	if fromName == "" {
		fromName = "Soundprint"
	}

	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s <%s>\r\n", fromName, m.cfg.From))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", to))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	return []byte(msg.String())
}

// sendSMTP delivers the message over a fresh SMTP connection.
func (m *Mailer) sendSMTP(ctx context.Context, to string, msg []byte) error {
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)

	dialer := &net.Dialer{Timeout: m.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer func() { _ = conn.Close() }()

	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsConfig := &tls.Config{
			ServerName: m.cfg.Host,
			MinVersion: tls.VersionTLS12,
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	if m.cfg.Username != "" && m.cfg.Password != "" {
		auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(m.cfg.From); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("failed to set recipient: %w", err)
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to start message: %w", err)
	}
	if _, err := writer.Write(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close message: %w", err)
	}

	// Message is already accepted when Quit fails.
	_ = client.Quit()
	return nil
}
