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
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics contains the counters and histograms recorded by the hint pass.
//
// Description:
//
//	All metrics use the "hintpass_" prefix. The Record* helpers are nil-safe
//	so callers that run without metrics can pass a nil *Metrics.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// --- Pass Metrics ---

	// BranchesTotal counts examined conditional branches by outcome.
	BranchesTotal metric.Int64Counter

	// AnnotationsTotal counts branches that received weights, by expected value.
	AnnotationsTotal metric.Int64Counter

	// ValidationFailuresTotal counts rejected hint calls by reason.
	ValidationFailuresTotal metric.Int64Counter

	// FunctionsTotal counts function bodies processed.
	FunctionsTotal metric.Int64Counter

	// PassDuration records whole-unit pass duration in seconds.
	PassDuration metric.Float64Histogram

	// --- Pipeline Metrics ---

	// NodeDuration records pipeline node duration in seconds, by node name.
	NodeDuration metric.Float64Histogram
}

// NewMetrics creates a new Metrics instance with all metrics registered.
//
// Inputs:
//
//	meter - The OTel meter to use for metric registration.
//
// Outputs:
//
//	*Metrics - The metrics instance.
//	error - Non-nil if metric registration fails.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.BranchesTotal, err = meter.Int64Counter(
		"hintpass_branches_total",
		metric.WithDescription("Conditional branches examined by the hint pass"),
		metric.WithUnit("{branch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create branches_total: %w", err)
	}

	m.AnnotationsTotal, err = meter.Int64Counter(
		"hintpass_annotations_total",
		metric.WithDescription("Branches annotated with weights"),
		metric.WithUnit("{branch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create annotations_total: %w", err)
	}

	m.ValidationFailuresTotal, err = meter.Int64Counter(
		"hintpass_validation_failures_total",
		metric.WithDescription("Hint calls rejected during validation"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create validation_failures_total: %w", err)
	}

	m.FunctionsTotal, err = meter.Int64Counter(
		"hintpass_functions_total",
		metric.WithDescription("Function bodies processed"),
		metric.WithUnit("{function}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create functions_total: %w", err)
	}

	m.PassDuration, err = meter.Float64Histogram(
		"hintpass_pass_duration_seconds",
		metric.WithDescription("Hint pass duration per unit in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5),
	)
	if err != nil {
		return nil, fmt.Errorf("create pass_duration: %w", err)
	}

	m.NodeDuration, err = meter.Float64Histogram(
		"hintpass_node_duration_seconds",
		metric.WithDescription("Pipeline node duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5),
	)
	if err != nil {
		return nil, fmt.Errorf("create node_duration: %w", err)
	}

	return m, nil
}

// RecordBranch counts one examined branch with its outcome label.
func (m *Metrics) RecordBranch(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.BranchesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordAnnotation counts one annotated branch.
func (m *Metrics) RecordAnnotation(ctx context.Context, expected int64, swapped bool) {
	if m == nil {
		return
	}
	m.AnnotationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.Int64("expected", expected),
		attribute.Bool("swapped", swapped),
	))
}

// RecordValidationFailure counts one rejected hint call.
func (m *Metrics) RecordValidationFailure(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.ValidationFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordFunction counts one processed function body.
func (m *Metrics) RecordFunction(ctx context.Context) {
	if m == nil {
		return
	}
	m.FunctionsTotal.Add(ctx, 1)
}

// RecordPass records the duration of a pass over unit.
func (m *Metrics) RecordPass(ctx context.Context, unit string, d time.Duration, success bool) {
	if m == nil {
		return
	}
	m.PassDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("unit", unit),
		attribute.Bool("success", success),
	))
}

// RecordNode records the duration of one pipeline node.
func (m *Metrics) RecordNode(ctx context.Context, node string, d time.Duration, success bool) {
	if m == nil {
		return
	}
	m.NodeDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("node", node),
		attribute.Bool("success", success),
	))
}
