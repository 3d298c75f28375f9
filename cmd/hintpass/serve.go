// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"log/slog"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/hintpass/services/hint/server"
)

// =============================================================================
// serve
// =============================================================================

// serveTokenEnv overrides serve.token so the token can stay out of the
// config file.
const serveTokenEnv = "HINTPASS_SERVE_TOKEN"

type serveOptions struct {
	passFlags
	addr      string
	rateLimit float64
	burst     int
}

func newServeCmd(a *app) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the annotation pipeline over HTTP",
		Long: `serve exposes run and check as POST /v1/annotate and POST /v1/check,
the report store under /v1/reports and a websocket feed of finished runs at
/v1/events. Flags override the serve and pass sections of the config file.
Set HINTPASS_SERVE_TOKEN to require a bearer token.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serveCmd(cmd, opts)
		},
	}
	opts.register(cmd)
	fs := cmd.Flags()
	fs.StringVar(&opts.addr, "addr", "", "listen address (default from config)")
	fs.Float64Var(&opts.rateLimit, "rate-limit", 0, "requests per second, 0 for unlimited")
	fs.IntVar(&opts.burst, "burst", 0, "requests allowed above the rate limit at once")
	return cmd
}

func (a *app) serveCmd(cmd *cobra.Command, opts *serveOptions) error {
	cfg, err := opts.apply(cmd, a.cfg)
	if err != nil {
		return err
	}
	scfg := cfg.Serve
	fs := cmd.Flags()
	if fs.Changed("addr") {
		scfg.Addr = opts.addr
	}
	if fs.Changed("rate-limit") {
		scfg.RateLimit = opts.rateLimit
	}
	if fs.Changed("burst") {
		scfg.Burst = opts.burst
	}
	if tok := os.Getenv(serveTokenEnv); tok != "" {
		scfg.Token = tok
	}
	if err := scfg.Validate(); err != nil {
		return err
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := cmd.Context()
	sess, err := a.openSession(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer sess.close()

	srvOpts := server.Options{
		Pass:           cfg.Pass,
		Passes:         cfg.Passes,
		Version:        version,
		Logger:         a.logger.Slog(),
		Metrics:        a.metrics,
		Store:          sess.env.Store,
		MetricsHandler: a.telemetry.MetricsHandler(),
	}
	if sess.reports != nil {
		srvOpts.Reports = sess.reports
	}

	srv, err := server.New(scfg, srvOpts)
	if err != nil {
		return err
	}
	a.logger.Info("serving",
		slog.String("addr", scfg.Addr),
		slog.Bool("reports", sess.reports != nil),
		slog.Float64("rate_limit", scfg.RateLimit),
		slog.Bool("auth", scfg.Token != ""),
	)
	return srv.Run(ctx)
}
