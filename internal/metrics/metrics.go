// Soundprint - Music Listening Tracking and Statistics
// Copyright 2026 Soundprint contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundprint/soundprint

// Package metrics provides Prometheus instrumentation for listen ingestion,
// batch-statistics processing, the broker, and the WebSocket dispatcher.
// Metrics are exposed at /metrics in Prometheus text format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Listen ingestion.
	ListensIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listens_ingested_total",
			Help: "Total number of listens accepted for storage",
		},
		[]string{"listen_type"}, // "single", "import", "playing_now"
	)

	ListensRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listens_rejected_total",
			Help: "Total number of listens rejected during validation",
		},
		[]string{"reason"},
	)

	ListensDuplicate = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "listens_duplicate_total",
			Help: "Total number of listens dropped as duplicates",
		},
	)

	// Batch statistics processing.
	StatsMessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stats_messages_processed_total",
			Help: "Total number of statistics messages by type and outcome",
		},
		[]string{"type", "outcome"}, // outcome: "persisted", "rejected", "skipped_unknown_user"
	)

	StatsProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stats_processing_duration_seconds",
			Help:    "Duration of statistics message handling in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Broker.
	BrokerMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_messages_published_total",
			Help: "Total number of messages published to the broker",
		},
		[]string{"topic"},
	)

	BrokerMessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_messages_consumed_total",
			Help: "Total number of messages consumed from the broker",
		},
		[]string{"topic"},
	)

	BrokerParseFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_parse_failures_total",
			Help: "Total number of broker messages that failed to parse",
		},
		[]string{"topic"},
	)

	// WebSocket dispatch.
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)

	WSMessagesPushed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_messages_pushed_total",
			Help: "Total number of messages pushed to WebSocket rooms",
		},
		[]string{"type"}, // "listen", "playing_now"
	)

	WSMessagesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_dropped_total",
			Help: "Total number of messages dropped for slow or absent clients",
		},
	)

	// API surface.
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	// Cache.
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// Notifications.
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Total number of notification emails sent",
		},
		[]string{"event"},
	)

	NotificationsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_dropped_total",
			Help: "Total number of notification emails dropped",
		},
		[]string{"reason"}, // "rate_limited", "breaker_open", "send_failed"
	)

	// Database.
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)
)

// RecordListenIngested records accepted listens of the given submission type.
func RecordListenIngested(listenType string, count int) {
	ListensIngested.WithLabelValues(listenType).Add(float64(count))
}

// RecordListenRejected records a rejected listen with the rejection reason.
func RecordListenRejected(reason string) {
	ListensRejected.WithLabelValues(reason).Inc()
}

// RecordStatsOutcome records the outcome of one statistics message.
func RecordStatsOutcome(msgType, outcome string, duration time.Duration) {
	StatsMessagesProcessed.WithLabelValues(msgType, outcome).Inc()
	StatsProcessingDuration.Observe(duration.Seconds())
}

// RecordBrokerPublish records a message published to the broker.
func RecordBrokerPublish(topic string) {
	BrokerMessagesPublished.WithLabelValues(topic).Inc()
}

// RecordBrokerConsume records a message consumed from the broker.
func RecordBrokerConsume(topic string) {
	BrokerMessagesConsumed.WithLabelValues(topic).Inc()
}

// RecordBrokerParseFailure records a broker message that failed to parse.
func RecordBrokerParseFailure(topic string) {
	BrokerParseFailures.WithLabelValues(topic).Inc()
}

// RecordWSPush records a message pushed to a WebSocket room.
func RecordWSPush(messageType string) {
	WSMessagesPushed.WithLabelValues(messageType).Inc()
}

// RecordWSDrop records a message dropped for a slow or absent client.
func RecordWSDrop() {
	WSMessagesDropped.Inc()
}

// RecordAPIRequest records an API request with its latency.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordCacheHit records a cache hit for the named cache.
func RecordCacheHit(cacheType string) {
	CacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a cache miss for the named cache.
func RecordCacheMiss(cacheType string) {
	CacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordNotificationSent records a delivered notification email.
func RecordNotificationSent(event string) {
	NotificationsSent.WithLabelValues(event).Inc()
}

// RecordNotificationDropped records a notification that was not delivered.
func RecordNotificationDropped(reason string) {
	NotificationsDropped.WithLabelValues(reason).Inc()
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}
