// Soundprint - Music Listening Tracking and Statistics
// Copyright 2026 Soundprint contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundprint/soundprint

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	gws "github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/soundprint/soundprint/internal/auth"
	"github.com/soundprint/soundprint/internal/cache"
	"github.com/soundprint/soundprint/internal/config"
	"github.com/soundprint/soundprint/internal/database"
	"github.com/soundprint/soundprint/internal/logging"
	"github.com/soundprint/soundprint/internal/websocket"
)

// listenCountCacheTTL bounds staleness of the cached per-user listen count.
const listenCountCacheTTL = 5 * time.Minute

// Publisher is the broker surface the API needs: fire one message at a
// topic. Satisfied by broker.Publisher in production and by gochannel
// fakes in tests.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg *message.Message) error
}

// Server wires the HTTP surface to storage, the broker, and the websocket
// hub.
type Server struct {
	cfg       *config.Config
	db        *database.DB
	publisher Publisher
	hub       *websocket.Hub
	cache     *cache.Cache
	jwt       *auth.JWTManager
	admin     *auth.AdminAuthenticator
	upgrader  gws.Upgrader
	started   time.Time

	httpServer *http.Server
}

// NewServer builds the API server. The publisher may be nil when the
// broker is disabled; submissions are then persisted without real-time
// fan-out.
func NewServer(cfg *config.Config, db *database.DB, publisher Publisher, hub *websocket.Hub) (*Server, error) {
	// The admin surface only exists when both a signing secret and admin
	// credentials are configured; everything else works without them.
	var jwtManager *auth.JWTManager
	var admin *auth.AdminAuthenticator
	if cfg.Security.JWTSecret != "" {
		var err error
		jwtManager, err = auth.NewJWTManager(&cfg.Security)
		if err != nil {
			return nil, fmt.Errorf("failed to build JWT manager: %w", err)
		}
	}
	if cfg.Security.AdminUsername != "" {
		var err error
		admin, err = auth.NewAdminAuthenticator(cfg.Security.AdminUsername, cfg.Security.AdminPasswordHash)
		if err != nil {
			return nil, fmt.Errorf("failed to build admin authenticator: %w", err)
		}
	}

	s := &Server{
		cfg:       cfg,
		db:        db,
		publisher: publisher,
		hub:       hub,
		cache:     cache.New(listenCountCacheTTL),
		jwt:       jwtManager,
		admin:     admin,
		upgrader: gws.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(cfg.API.CORSOrigins),
		},
		started: time.Now(),
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       120 * time.Second,
	}

	return s, nil
}

// originChecker allows websocket upgrades from the configured CORS
// origins. Requests without an Origin header (curl, native clients) are
// always allowed.
func originChecker(origins []string) func(*http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	wildcard := false
	for _, o := range origins {
		if o == "*" {
			wildcard = true
		}
		allowed[o] = struct{}{}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || wildcard {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}

// Router assembles the chi route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(corsMiddleware(&s.cfg.API))
	r.Use(metricsMiddleware)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/ws", s.handleWebsocket)
	r.Post("/login", s.handleLogin)

	r.Route("/1", func(r chi.Router) {
		r.Use(rateLimitMiddleware(&s.cfg.API))

		// Token-authenticated submission surface.
		r.Group(func(r chi.Router) {
			r.Use(s.tokenAuth)
			r.Post("/submit-listens", s.handleSubmitListens)
			r.Post("/delete-listens", s.handleDeleteListens)
			r.Get("/latest-import", s.handleGetLatestImport)
			r.Post("/latest-import", s.handleUpdateLatestImport)
			r.Post("/pin", s.handlePin)
			r.Post("/pin/unpin", s.handleUnpin)
			r.Post("/pin/delete/{row_id}", s.handleDeletePin)
		})

		// Public read surface.
		r.Get("/user/{user_name}/listens", s.handleGetListens)
		r.Get("/user/{user_name}/listen-count", s.handleListenCount)
		r.Get("/{user_name}/pins", s.handleGetPins)
		r.Get("/{user_name}/pins/current", s.handleGetCurrentPin)
		r.Get("/{user_name}/pins/following", s.handleGetPinsFollowing)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.adminAuth)
		r.Get("/status", s.handleAdminStatus)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respond(w).NotFound("no such endpoint")
	})

	return r
}

// Serve runs the HTTP server until ctx is cancelled, then drains with a
// bounded shutdown window. Suture-compatible: returns the listener error
// on failure, ctx.Err() on orderly stop.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.httpServer.Addr).Msg("HTTP server listening")
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			logging.Error().Err(err).Msg("HTTP server shutdown failed")
		}
		<-errCh
		return ctx.Err()
	}
}
