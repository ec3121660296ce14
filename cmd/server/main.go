// Soundprint - Music Listening Tracking and Statistics
// Copyright 2026 Soundprint contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundprint/soundprint

// Package main is the Soundprint server entry point.
//
// Startup order:
//
//  1. Configuration (koanf v2: defaults, config file, environment)
//  2. Logging (zerolog)
//  3. DuckDB storage
//  4. Broker: embedded NATS server (optional), JetStream stream,
//     publisher and durable subscribers
//  5. Websocket hub, real-time dispatcher, stats consumer, SMTP notifier
//  6. HTTP API
//
// Everything long-lived runs under the suture supervisor tree; SIGINT and
// SIGTERM cancel the tree's context for a graceful drain.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"github.com/soundprint/soundprint/internal/api"
	"github.com/soundprint/soundprint/internal/broker"
	"github.com/soundprint/soundprint/internal/config"
	"github.com/soundprint/soundprint/internal/database"
	"github.com/soundprint/soundprint/internal/dispatcher"
	"github.com/soundprint/soundprint/internal/logging"
	"github.com/soundprint/soundprint/internal/notify"
	"github.com/soundprint/soundprint/internal/stats"
	"github.com/soundprint/soundprint/internal/supervisor"
	"github.com/soundprint/soundprint/internal/supervisor/services"
	"github.com/soundprint/soundprint/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Bool("nats_enabled", cfg.NATS.Enabled).
		Bool("smtp_enabled", cfg.SMTP.Enabled).
		Msg("starting Soundprint")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing database")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	hub := websocket.NewHub()
	tree.AddMessagingService(services.NewWebSocketHubService(hub))

	var publisher api.Publisher
	if cfg.NATS.Enabled {
		brokerPublisher, cleanup, err := initBroker(ctx, cfg, tree, hub, db)
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to initialize broker")
		}
		defer cleanup()
		publisher = brokerPublisher
	} else {
		logging.Warn().Msg("broker disabled: listens are persisted but not pushed in real time")
	}

	apiServer, err := api.NewServer(cfg, db, publisher, hub)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to build API server")
	}
	tree.AddAPIService(services.NewRunnerService("http-server", apiServer))

	// SIGINT/SIGTERM cancel the supervisor context.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("supervisor tree terminated with error")
	}

	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("service did not stop in time")
		}
	}

	logging.Info().Msg("Soundprint stopped")
}

// initBroker wires the NATS side: the optional embedded server, the
// JetStream stream, the publisher the API writes through, and the durable
// consumers (real-time dispatcher and stats consumer).
func initBroker(ctx context.Context, cfg *config.Config, tree *supervisor.Tree, hub *websocket.Hub, db *database.DB) (*broker.Publisher, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.NATS.EmbeddedServer {
		embedded, err := broker.NewEmbeddedServer(&cfg.NATS)
		if err != nil {
			return nil, cleanup, err
		}
		cfg.NATS.URL = embedded.ClientURL()
		tree.AddBrokerService(services.NewEmbeddedBrokerService(embedded, 10*time.Second))
		logging.Info().Str("url", cfg.NATS.URL).Msg("embedded NATS server ready")
	}

	// The stream is provisioned once up front; publisher and subscribers
	// bind to it instead of auto-creating per-topic streams.
	nc, err := natsgo.Connect(cfg.NATS.URL,
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.NATS.MaxReconnects),
		natsgo.ReconnectWait(cfg.NATS.ReconnectWait))
	if err != nil {
		return nil, cleanup, err
	}
	closers = append(closers, nc.Close)

	streams, err := broker.NewStreamManager(nc, &cfg.NATS)
	if err != nil {
		return nil, cleanup, err
	}
	if _, err := streams.EnsureStream(ctx); err != nil {
		return nil, cleanup, err
	}

	wmLogger := broker.NewWatermillLogger()

	publisher, err := broker.NewPublisher(&cfg.NATS, wmLogger)
	if err != nil {
		return nil, cleanup, err
	}
	publisher.SetCircuitBreaker(broker.NewPublishBreaker(wmLogger))
	closers = append(closers, func() {
		if err := publisher.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing publisher")
		}
	})

	dispatchSub, err := broker.NewSubscriber(&cfg.NATS, wmLogger)
	if err != nil {
		return nil, cleanup, err
	}
	closers = append(closers, func() {
		if err := dispatchSub.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing dispatcher subscriber")
		}
	})
	tree.AddMessagingService(services.NewRunnerService("dispatcher",
		dispatcher.New(dispatchSub.WatermillSubscriber(), hub, &cfg.NATS)))

	statsSub, err := broker.NewSubscriber(&cfg.NATS, wmLogger)
	if err != nil {
		return nil, cleanup, err
	}
	closers = append(closers, func() {
		if err := statsSub.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing stats subscriber")
		}
	})

	mailer := notify.NewMailer(cfg.SMTP)
	tree.AddMessagingService(services.NewRunnerService("stats-consumer",
		stats.NewConsumer(statsSub.WatermillSubscriber(), db, mailer, &cfg.NATS, &cfg.Stats)))

	return publisher, cleanup, nil
}
