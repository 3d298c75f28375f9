// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes the hintpass pipeline over HTTP.
//
// Routes:
//
//	GET  /v1/health          liveness
//	GET  /v1/passes          registered pipeline passes
//	POST /v1/annotate        run the pipeline over a unit in the body
//	POST /v1/check           dry run over a unit in the body
//	GET  /v1/reports         units with stored reports
//	GET  /v1/reports/*unit   stored reports of one unit
//	GET  /v1/events          websocket stream of run events
//	GET  /metrics            prometheus metrics, when enabled
//
// Unit documents are posted as YAML in the request body. Pass settings can
// be overridden per request with query parameters (hint_fn, match, likely,
// unlikely, swap, passes). When serve.token is set every route except
// health requires "Authorization: Bearer <token>".
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/hintpass/services/hint"
	"github.com/AleutianAI/hintpass/services/hint/dag/nodes"
	"github.com/AleutianAI/hintpass/services/hint/telemetry"
)

// Config is the serve section of hintpass.yaml.
type Config struct {
	// Addr is the listen address.
	Addr string `yaml:"addr" validate:"required,hostname_port"`

	// RateLimit is the sustained request rate per second across all
	// clients. Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`

	// Burst is the number of requests allowed above RateLimit at once.
	Burst int `yaml:"burst" validate:"gte=0"`

	// MaxBodyBytes caps the size of posted units.
	MaxBodyBytes int64 `yaml:"max_body_bytes" validate:"gt=0"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`

	// Token, when set, is required as a bearer token on every /v1 route
	// except health.
	Token string `yaml:"token"`
}

// DefaultConfig listens on localhost without rate limiting.
func DefaultConfig() Config {
	return Config{
		Addr:            "127.0.0.1:8411",
		Burst:           10,
		MaxBodyBytes:    8 << 20,
		ShutdownTimeout: 10 * time.Second,
	}
}

var configValidate = validator.New()

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// ReportReader is the read side of the local report store.
type ReportReader interface {
	Units(ctx context.Context) ([]string, error)
	List(ctx context.Context, unit string) ([]*hint.Report, error)
	Get(ctx context.Context, unit, session string) (*hint.Report, error)
	Latest(ctx context.Context, unit string) (*hint.Report, error)
}

// Options are the collaborators of a Server.
type Options struct {
	// Pass is the base pass configuration requests may override.
	Pass hint.Config

	// Passes is the default pass selection. Empty runs every pass.
	Passes []string

	// Version is reported by /v1/health.
	Version string

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *telemetry.Metrics

	// Store receives every report. Optional.
	Store nodes.ReportStore

	// Reports serves the report endpoints. Optional.
	Reports ReportReader

	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler http.Handler

	// Auth overrides Config.Token. Defaults to TokenAuth when a token is
	// configured and NopAuth otherwise.
	Auth AuthProvider
}

// Server is the hintpass HTTP API.
//
// Thread Safety: Safe for concurrent use once created.
type Server struct {
	cfg    Config
	opts   Options
	logger *slog.Logger
	router *gin.Engine
	hub    *Hub
}

// New validates cfg and builds the router.
//
// Outputs:
//
//	*Server - The server, not yet listening.
//	error - ErrInvalidConfig or a hint.ErrInvalidConfig for the base pass
//	        configuration.
func New(cfg Config, opts Options) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Pass.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Auth == nil {
		if cfg.Token != "" {
			opts.Auth = NewTokenAuth(cfg.Token)
		} else {
			opts.Auth = NopAuth{}
		}
	}

	s := &Server{
		cfg:    cfg,
		opts:   opts,
		logger: opts.Logger.With(slog.String("component", "server")),
	}
	s.hub = NewHub(s.logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("hintpass"))
	router.Use(requestID())
	router.Use(accessLog(s.logger))
	if cfg.RateLimit > 0 {
		router.Use(rateLimit(rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.Burst, 1))))
	}

	if opts.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(opts.MetricsHandler))
	}
	RegisterRoutes(router.Group("/v1"), s)

	s.router = router
	return s, nil
}

// RegisterRoutes mounts the API on rg.
func RegisterRoutes(rg *gin.RouterGroup, s *Server) {
	rg.GET("/health", s.HandleHealth)

	authed := rg.Group("", authenticate(s.opts.Auth))
	authed.GET("/passes", s.HandlePasses)

	units := authed.Group("", limitBody(s.cfg.MaxBodyBytes))
	{
		units.POST("/annotate", s.HandleAnnotate)
		units.POST("/check", s.HandleCheck)
	}

	authed.GET("/reports", s.HandleUnits)
	authed.GET("/reports/*unit", s.HandleReports)
	authed.GET("/events", s.hub.handleEvents)
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Events returns the event hub.
func (s *Server) Events() *Hub {
	return s.hub
}

// Run listens on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("server listening", slog.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.hub.Close()

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().ShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}
