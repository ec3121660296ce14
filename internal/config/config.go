// Soundprint - Music Listening Tracking and Statistics
// Copyright 2026 Soundprint contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundprint/soundprint

// Package config loads and validates application configuration.
//
// Configuration is layered with Koanf v2: built-in defaults, then an optional
// YAML config file, then environment variables (highest priority). See
// koanf.go for the loading logic and the environment variable naming scheme.
package config

import (
	"fmt"
	"time"
)

// Config is the root application configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	NATS     NATSConfig     `koanf:"nats"`
	API      APIConfig      `koanf:"api"`
	Security SecurityConfig `koanf:"security"`
	SMTP     SMTPConfig     `koanf:"smtp"`
	Stats    StatsConfig    `koanf:"stats"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port"`
	Timeout     time.Duration `koanf:"timeout"`
	Environment string        `koanf:"environment"`
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	// Path is the database file path, or ":memory:" for an in-memory store.
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	// Threads is the DuckDB thread count; 0 means runtime.NumCPU().
	Threads                int  `koanf:"threads"`
	PreserveInsertionOrder bool `koanf:"preserve_insertion_order"`
}

// NATSConfig holds broker settings for the Watermill/JetStream event layer.
type NATSConfig struct {
	Enabled        bool   `koanf:"enabled"`
	URL            string `koanf:"url"`
	EmbeddedServer bool   `koanf:"embedded_server"`
	StoreDir       string `koanf:"store_dir"`
	MaxMemory      int64  `koanf:"max_memory"`
	MaxStore       int64  `koanf:"max_store"`

	StreamName       string `koanf:"stream_name"`
	DurableName      string `koanf:"durable_name"`
	QueueGroup       string `koanf:"queue_group"`
	SubscribersCount int    `koanf:"subscribers_count"`

	ListensTopic    string `koanf:"listens_topic"`
	PlayingNowTopic string `koanf:"playing_now_topic"`
	StatsTopic      string `koanf:"stats_topic"`

	MaxReconnects  int           `koanf:"max_reconnects"`
	ReconnectWait  time.Duration `koanf:"reconnect_wait"`
	AckWaitTimeout time.Duration `koanf:"ack_wait_timeout"`
	CloseTimeout   time.Duration `koanf:"close_timeout"`

	// DispatcherBackoff is the fixed delay between reconnect attempts of the
	// real-time dispatcher. Retries are unbounded.
	DispatcherBackoff time.Duration `koanf:"dispatcher_backoff"`
}

// APIConfig holds request handling limits.
type APIConfig struct {
	DefaultPageSize int `koanf:"default_page_size"`
	MaxPageSize     int `koanf:"max_page_size"`

	// MaxListensPerRequest caps the number of listens in one submission.
	MaxListensPerRequest int `koanf:"max_listens_per_request"`
	// MaxListenPayloadBytes caps the serialized size of a single listen.
	MaxListenPayloadBytes int `koanf:"max_listen_payload_bytes"`

	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`

	CORSOrigins []string `koanf:"cors_origins"`
}

// SecurityConfig holds authentication settings.
type SecurityConfig struct {
	// JWTSecret signs admin session tokens. Required in production.
	JWTSecret      string        `koanf:"jwt_secret"`
	SessionTimeout time.Duration `koanf:"session_timeout"`

	AdminUsername string `koanf:"admin_username"`
	// AdminPasswordHash is a bcrypt hash of the admin password.
	AdminPasswordHash string `koanf:"admin_password_hash"`
}

// SMTPConfig holds outbound notification mail settings.
type SMTPConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	From     string `koanf:"from"`
	FromName string `koanf:"from_name"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`

	// ObservabilityAddr receives routine batch completion notifications.
	ObservabilityAddr string `koanf:"observability_addr"`
	// ExceptionsAddr receives failure notifications.
	ExceptionsAddr string `koanf:"exceptions_addr"`

	Timeout time.Duration `koanf:"timeout"`
	// MaxPerMinute caps outbound mail; further sends are dropped with a log.
	MaxPerMinute int `koanf:"max_per_minute"`
}

// StatsConfig holds batch-statistics processing settings.
type StatsConfig struct {
	// StaleThreshold is how old the last stats write must be for an incoming
	// message to be treated as the start of a new batch (and notified once).
	StaleThreshold time.Duration `koanf:"stale_threshold"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for invalid combinations.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if c.API.MaxPageSize < c.API.DefaultPageSize {
		return fmt.Errorf("api.max_page_size (%d) must be >= api.default_page_size (%d)",
			c.API.MaxPageSize, c.API.DefaultPageSize)
	}
	if c.API.MaxListensPerRequest < 1 {
		return fmt.Errorf("api.max_listens_per_request must be positive, got %d", c.API.MaxListensPerRequest)
	}
	if c.Server.Environment == "production" && c.Security.JWTSecret == "" {
		return fmt.Errorf("security.jwt_secret is required in production")
	}
	if c.SMTP.Enabled {
		if c.SMTP.Host == "" {
			return fmt.Errorf("smtp.host is required when smtp is enabled")
		}
		if c.SMTP.From == "" {
			return fmt.Errorf("smtp.from is required when smtp is enabled")
		}
	}
	if c.NATS.Enabled && !c.NATS.EmbeddedServer && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when nats is enabled without the embedded server")
	}
	return nil
}
