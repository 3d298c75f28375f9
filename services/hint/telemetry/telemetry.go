// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc"
)

// Exporter names accepted in Config.
const (
	ExporterNone       = "none"
	ExporterStdout     = "stdout"
	ExporterOTLP       = "otlp"
	ExporterPrometheus = "prometheus"
)

// Config selects where spans and metrics go.
type Config struct {
	ServiceName    string `yaml:"service_name" json:"service_name"`
	ServiceVersion string `yaml:"service_version" json:"service_version"`
	Environment    string `yaml:"environment" json:"environment"`

	// TraceExporter is otlp, stdout or none. "jaeger" is read as otlp.
	TraceExporter string `yaml:"trace_exporter" json:"trace_exporter" validate:"oneof=otlp jaeger stdout none"`

	// MetricExporter is prometheus, stdout or none.
	MetricExporter string `yaml:"metric_exporter" json:"metric_exporter" validate:"oneof=prometheus stdout none"`

	OTLPEndpoint string `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure" json:"otlp_insecure"`

	// MetricsTextfile, with the prometheus exporter, receives a
	// node-exporter textfile of every metric when the Provider shuts down.
	MetricsTextfile string `yaml:"metrics_textfile" json:"metrics_textfile"`

	// Writer takes stdout exporter output. Default os.Stderr, so emitted IR
	// on stdout is not interleaved with spans.
	Writer io.Writer `yaml:"-" json:"-"`
}

// DefaultConfig is the configuration of a local batch run with both
// exporters off. HINTPASS_ENV, OTEL_TRACES_EXPORTER, OTEL_METRICS_EXPORTER
// and OTEL_EXPORTER_OTLP_ENDPOINT override the matching fields.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "hintpass",
		ServiceVersion: "1.0.0",
		Environment:    envOr("HINTPASS_ENV", "development"),
		TraceExporter:  envOr("OTEL_TRACES_EXPORTER", ExporterNone),
		MetricExporter: envOr("OTEL_METRICS_EXPORTER", ExporterNone),
		OTLPEndpoint:   envOr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTLPInsecure:   true,
	}
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func enabled(exporter string) bool {
	return exporter != "" && exporter != ExporterNone
}

// Provider owns the SDK providers Init installed as the otel globals.
//
// Thread Safety: Safe for concurrent use; Shutdown should be called once.
type Provider struct {
	traces   *sdktrace.TracerProvider
	metrics  *sdkmetric.MeterProvider
	registry *prometheus.Registry
	textfile string
}

// Init installs tracer and meter providers for cfg.
//
// Description:
//
//	After Init, otel.Tracer and otel.Meter use the configured exporters.
//	Spans are exported synchronously because a batch run exits right
//	after its last pass. The prometheus exporter writes to a private
//	registry, so the Go runtime collectors stay out of scrapes and
//	textfiles.
//
// Inputs:
//
//	ctx - Used to dial the OTLP collector. Must not be nil.
//	cfg - Start from DefaultConfig.
//
// Outputs:
//
//	*Provider - Call Shutdown before exit. Never nil on success.
//	error - ErrNilContext, ErrUnknownExporter, ErrTextfileNeedsPrometheus
//	        or an exporter construction failure.
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if cfg.MetricsTextfile != "" && cfg.MetricExporter != ExporterPrometheus {
		return nil, ErrTextfileNeedsPrometheus
	}
	if cfg.Writer == nil {
		cfg.Writer = os.Stderr
	}

	res := resource.NewWithAttributes("",
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
		attribute.String("deployment.environment", cfg.Environment),
	)

	p := &Provider{textfile: cfg.MetricsTextfile}
	if enabled(cfg.TraceExporter) {
		exp, err := spanExporter(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("init tracer: %w", err)
		}
		p.traces = sdktrace.NewTracerProvider(
			sdktrace.WithSyncer(exp),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
		)
		otel.SetTracerProvider(p.traces)
	}

	if enabled(cfg.MetricExporter) {
		reader, err := p.metricReader(cfg)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("init meter: %w", err), p.Shutdown(ctx))
		}
		p.metrics = sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader))
		otel.SetMeterProvider(p.metrics)
	}
	return p, nil
}

func spanExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.TraceExporter {
	case ExporterOTLP, "jaeger":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithDialOption(grpc.WithUserAgent(cfg.ServiceName + "/" + cfg.ServiceVersion)),
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	case ExporterStdout:
		return stdouttrace.New(stdouttrace.WithWriter(cfg.Writer), stdouttrace.WithPrettyPrint())
	}
	return nil, fmt.Errorf("%w: trace exporter %q", ErrUnknownExporter, cfg.TraceExporter)
}

func (p *Provider) metricReader(cfg Config) (sdkmetric.Reader, error) {
	switch cfg.MetricExporter {
	case ExporterPrometheus:
		p.registry = prometheus.NewRegistry()
		return promexporter.New(promexporter.WithRegisterer(p.registry))
	case ExporterStdout:
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(cfg.Writer), stdoutmetric.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		return sdkmetric.NewPeriodicReader(exp), nil
	}
	return nil, fmt.Errorf("%w: metric exporter %q", ErrUnknownExporter, cfg.MetricExporter)
}

// MetricsHandler serves the prometheus registry in the exposition format.
// It is nil for any other metric exporter.
func (p *Provider) MetricsHandler() http.Handler {
	if p == nil || p.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes spans, writes the metrics textfile if one is set, then
// stops the meter provider. Every step runs even when an earlier one
// fails. A nil Provider shuts down cleanly.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.traces != nil {
		errs = append(errs, p.traces.Shutdown(ctx))
	}
	if p.textfile != "" && p.registry != nil {
		if err := prometheus.WriteToTextfile(p.textfile, p.registry); err != nil {
			errs = append(errs, fmt.Errorf("write metrics textfile: %w", err))
		}
	}
	if p.metrics != nil {
		errs = append(errs, p.metrics.Shutdown(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("telemetry shutdown: %w", err)
	}
	return nil
}
