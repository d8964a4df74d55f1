// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keyshard.
//
// go-keyshard is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package rest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jeremyhahn/go-keyshard/pkg/correlation"
	"github.com/jeremyhahn/go-keyshard/pkg/crypto/secretsharing"
	"github.com/jeremyhahn/go-keyshard/pkg/custody"
	"github.com/jeremyhahn/go-keyshard/pkg/health"
	"github.com/jeremyhahn/go-keyshard/pkg/logging"
	"github.com/jeremyhahn/go-keyshard/pkg/metrics"
	"github.com/jeremyhahn/go-keyshard/pkg/ratelimit"
)

// Server is the keyshard HTTP API server.
type Server struct {
	server  *http.Server
	handler http.Handler
	vault   *custody.Vault
	sharer  *secretsharing.Shamir
	limiter *ratelimit.Limiter
	logger  *logging.Logger
	cfg     Config
}

// Config holds server configuration.
type Config struct {
	Host string
	Port int

	// Vault serves the /files routes.
	Vault *custody.Vault

	// Sharer serves /split and /combine. Defaults to secretsharing.New().
	Sharer *secretsharing.Shamir

	// Limiter applies per client to /api/v1 routes. Nil disables limiting.
	Limiter *ratelimit.Limiter

	// Health backs /health/live, /health/ready and /health/startup. Nil
	// leaves only /health mounted.
	Health *health.Checker

	// UploadLimiter additionally applies to POST /api/v1/files.
	UploadLimiter *ratelimit.Limiter

	Logger *logging.Logger

	Version string

	// MetricsPath mounts the Prometheus handler when non-empty.
	MetricsPath string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	MaxBodyBytes int64
}

// NewServer creates a server. It does not start listening.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Vault == nil {
		return nil, errors.New("custody vault is required")
	}

	c := *cfg
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Version == "" {
		c.Version = "dev"
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = 32 << 20
	}
	if c.Sharer == nil {
		c.Sharer = secretsharing.New()
	}
	if c.Logger == nil {
		c.Logger = logging.DefaultLogger()
	}

	s := &Server{
		vault:   c.Vault,
		sharer:  c.Sharer,
		limiter: c.Limiter,
		logger:  c.Logger,
		cfg:     c,
	}
	s.handler = s.routes()
	s.server = &http.Server{
		Addr:         net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Handler:      s.handler,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
		IdleTimeout:  c.IdleTimeout,
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(s.recoveryMiddleware)
	r.Use(correlation.Middleware)
	r.Use(s.loggingMiddleware)
	r.Use(metrics.HTTPMiddleware)

	r.Get("/health", s.healthHandler)
	r.Head("/health", s.healthHandler)
	if s.cfg.Health != nil {
		r.Get("/health/live", s.liveHandler)
		r.Get("/health/ready", s.readyHandler)
		r.Get("/health/startup", s.startupHandler)
	}
	if s.cfg.MetricsPath != "" {
		r.Method(http.MethodGet, s.cfg.MetricsPath, metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		if s.limiter != nil {
			r.Use(ratelimit.Middleware(s.limiter))
		}
		r.Use(s.bodyLimitMiddleware)

		r.Post("/split", s.splitHandler)
		r.Post("/combine", s.combineHandler)

		r.Route("/files", func(r chi.Router) {
			if s.cfg.UploadLimiter != nil {
				r.With(ratelimit.Middleware(s.cfg.UploadLimiter)).Post("/", s.sealHandler)
			} else {
				r.Post("/", s.sealHandler)
			}
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.statHandler)
				r.Delete("/", s.destroyHandler)
				r.Post("/open", s.openHandler)
				r.Get("/shards", s.shardsHandler)
				r.Delete("/shards/{index}", s.revokeHandler)
				r.Get("/history", s.historyHandler)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, errors.New("not found"), http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, errors.New("method not allowed"), http.StatusMethodNotAllowed)
	})
	return r
}

// Handler returns the router. Useful for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Start listens and serves until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Serve serves on an existing listener until Stop is called.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("starting HTTP server", "addr", l.Addr().String())
	if err := s.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
