// Soundprint - Music Listening Tracking and Statistics
// Copyright 2026 Soundprint contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundprint/soundprint

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order
// of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/soundprint/config.yaml",
	"/etc/soundprint/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// envPrefix is stripped from environment variables before mapping them to
// config paths, e.g. SOUNDPRINT_SERVER_PORT -> server.port.
const envPrefix = "SOUNDPRINT_"

// defaultConfig returns a Config with all default values. Defaults are applied
// first, then overridden by the config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8100,
			Timeout:     30 * time.Second,
			Environment: "development",
		},
		Database: DatabaseConfig{
			Path:                   "/data/soundprint.duckdb",
			MaxMemory:              "2GB",
			Threads:                0, // 0 = runtime.NumCPU()
			PreserveInsertionOrder: true,
		},
		NATS: NATSConfig{
			Enabled:          true,
			URL:              "nats://127.0.0.1:4222",
			EmbeddedServer:   true,
			StoreDir:         "/data/nats/jetstream",
			MaxMemory:        1 << 30,  // 1GB
			MaxStore:         10 << 30, // 10GB
			StreamName:       "soundprint",
			DurableName:      "soundprint-consumer",
			QueueGroup:       "soundprint",
			SubscribersCount: 4,
			ListensTopic:     "soundprint.listens",
			PlayingNowTopic:  "soundprint.playing_now",
			StatsTopic:       "soundprint.stats",

			MaxReconnects:  -1, // unlimited
			ReconnectWait:  2 * time.Second,
			AckWaitTimeout: 30 * time.Second,
			CloseTimeout:   30 * time.Second,

			DispatcherBackoff: 3 * time.Second,
		},
		API: APIConfig{
			DefaultPageSize:       25,
			MaxPageSize:           100,
			MaxListensPerRequest:  1000,
			MaxListenPayloadBytes: 10240,
			RateLimitReqs:         100,
			RateLimitWindow:       time.Minute,
			CORSOrigins:           []string{"*"},
		},
		Security: SecurityConfig{
			JWTSecret:         "",
			SessionTimeout:    24 * time.Hour,
			AdminUsername:     "",
			AdminPasswordHash: "",
		},
		SMTP: SMTPConfig{
			Enabled:           false,
			Host:              "",
			Port:              25,
			From:              "noreply@soundprint.org",
			FromName:          "Soundprint",
			ObservabilityAddr: "soundprint-observability@soundprint.org",
			ExceptionsAddr:    "soundprint-exceptions@soundprint.org",
			Timeout:           30 * time.Second,
			MaxPerMinute:      10,
		},
		Stats: StatsConfig{
			StaleThreshold: 20 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration using Koanf v2 with layered sources:
//
//  1. Defaults: built-in values from defaultConfig
//  2. Config file: optional YAML file (if one exists)
//  3. Environment variables: override any setting
//
// Precedence: ENV > file > defaults.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// configSections are the top-level config keys recognized by the environment
// variable transform.
var configSections = []string{
	"server", "database", "nats", "api", "security", "smtp", "stats", "logging",
}

// envTransformFunc maps environment variable names to koanf config paths:
//
//	SOUNDPRINT_SERVER_PORT       -> server.port
//	SOUNDPRINT_NATS_LISTENS_TOPIC -> nats.listens_topic
//
// The first underscore-delimited token selects the section; the remainder is
// the key with underscores preserved.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	for _, section := range configSections {
		if strings.HasPrefix(key, section+"_") {
			return section + "." + strings.TrimPrefix(key, section+"_")
		}
	}
	return ""
}

// sliceConfigPaths defines which config paths are parsed as comma-separated
// slices when they arrive as strings from the environment.
var sliceConfigPaths = []string{
	"api.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for
// the known slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}

		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}
