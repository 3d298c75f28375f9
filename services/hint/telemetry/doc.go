// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry provides OpenTelemetry-based observability for hintpass.
//
// The CLI is a batch job: it runs once per unit and exits. Traces go to
// stdout (pretty JSON, written to stderr so stdout stays free for the
// emitted IR) or to an OTLP collector. Metrics go to stdout, or to a
// Prometheus registry that is flushed to a node-exporter textfile when
// the Provider shuts down. "hintpass serve" exposes the same registry
// through Provider.MetricsHandler.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	cfg.MetricExporter = "prometheus"
//	cfg.MetricsTextfile = "/var/lib/node_exporter/hintpass.prom"
//	provider, err := telemetry.Init(ctx, cfg)
//	if err != nil {
//	    return fmt.Errorf("init telemetry: %w", err)
//	}
//	defer provider.Shutdown(context.Background())
//
//	metrics, err := telemetry.NewMetrics(otel.Meter("hintpass"))
//
// # Environment Variables
//
//   - OTEL_TRACES_EXPORTER: otlp, stdout, or none (default: none)
//   - OTEL_METRICS_EXPORTER: prometheus, stdout, or none (default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint (default: localhost:4317)
//   - HINTPASS_ENV: environment name (default: development)
//
// # Thread Safety
//
// All exported functions are safe for concurrent use after Init() returns.
package telemetry
