// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package hint

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/hintpass/services/hint/ir"
	"github.com/AleutianAI/hintpass/services/hint/telemetry"
)

var tracer = otel.Tracer("hintpass.hint")

// =============================================================================
// Options
// =============================================================================

// Option configures a Pass.
type Option func(*Pass)

// WithLogger sets the logger for diagnostics. Nil means slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pass) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink. Nil disables metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(p *Pass) {
		p.metrics = m
	}
}

// =============================================================================
// Pass
// =============================================================================

// Pass drives recognition and annotation over a whole module.
//
// Description:
//
//	Visits every defined function, every block and the terminator of each
//	block. Only conditional branches are considered; all other
//	instructions are left untouched. Each branch is recognized and, when
//	hinted, annotated. Validation failures are recorded in the report and
//	never abort the run.
//
// Thread Safety:
//
//	A Pass may be shared, but Run must not be called concurrently on the
//	same module. Within a run, each function is owned by exactly one
//	goroutine.
type Pass struct {
	cfg        Config
	recognizer *Recognizer
	annotator  *Annotator
	logger     *slog.Logger
	metrics    *telemetry.Metrics
}

// NewPass validates cfg and builds a pass.
//
// Outputs:
//
//	*Pass - The configured pass.
//	error - Wraps ErrInvalidConfig when cfg fails validation.
func NewPass(cfg Config, opts ...Option) (*Pass, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pass{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.recognizer = NewRecognizer(cfg)
	p.annotator = NewAnnotator(cfg, p.logger)
	return p, nil
}

// Config returns the configuration the pass was built with.
func (p *Pass) Config() Config {
	return p.cfg
}

// Recognizer returns the pass's recognizer.
func (p *Pass) Recognizer() *Recognizer {
	return p.recognizer
}

// Annotator returns the pass's annotator.
func (p *Pass) Annotator() *Annotator {
	return p.annotator
}

// Run annotates every hinted branch in m and reports what it did.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing. Must not be nil.
//	m - The module to mutate.
//
// Outputs:
//
//	*Report - One record per conditional branch, in function order.
//	error - ErrNilModule, or the context error if cancelled.
func (p *Pass) Run(ctx context.Context, m *ir.Module) (*Report, error) {
	return p.run(ctx, m, true)
}

// Check is Run without mutation. Hinted branches with a valid expected
// value are reported as StateHinted together with the weights Run would
// attach.
func (p *Pass) Check(ctx context.Context, m *ir.Module) (*Report, error) {
	return p.run(ctx, m, false)
}

func (p *Pass) run(ctx context.Context, m *ir.Module, mutate bool) (*Report, error) {
	if m == nil {
		return nil, ErrNilModule
	}

	ctx, span := tracer.Start(ctx, "hint.Pass",
		trace.WithAttributes(
			attribute.String("hint.unit", m.Name),
			attribute.Bool("hint.dry_run", !mutate),
		),
	)
	defer span.End()

	report := newReport(m.Name, !mutate)
	report.TraceID = telemetry.TraceID(ctx)
	logger := telemetry.SessionLogger(ctx, p.logger, report.SessionID)
	start := time.Now()

	var funcs []*ir.Function
	for _, f := range m.Functions {
		if !f.IsDeclaration() {
			funcs = append(funcs, f)
		}
	}

	// Results are indexed by function so the report order is stable
	// whatever the scheduling.
	results := make([][]BranchRecord, len(funcs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(p.cfg.Parallelism, 1))
	for i, f := range funcs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = p.runFunction(gctx, f, mutate, logger)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		telemetry.Finish(span, err)
		p.metrics.RecordPass(ctx, m.Name, time.Since(start), false)
		return nil, fmt.Errorf("hint pass over %s: %w", m.Name, err)
	}

	for _, recs := range results {
		report.add(recs...)
	}
	report.Totals.Functions = len(funcs)
	report.Duration = time.Since(start)

	span.SetAttributes(
		attribute.String("hint.session_id", report.SessionID),
		attribute.Int("hint.functions", report.Totals.Functions),
		attribute.Int("hint.branches", report.Totals.Branches),
		attribute.Int("hint.annotated", report.Totals.Annotated),
		attribute.Int("hint.validation_failed", report.Totals.ValidationFailed),
	)
	telemetry.Finish(span, nil)
	p.metrics.RecordPass(ctx, m.Name, report.Duration, true)

	logger.Info("hint pass complete",
		slog.String("unit", m.Name),
		slog.Bool("dry_run", !mutate),
		slog.Int("functions", report.Totals.Functions),
		slog.Int("branches", report.Totals.Branches),
		slog.Int("hinted", report.Totals.Hinted),
		slog.Int("annotated", report.Totals.Annotated),
		slog.Int("validation_failed", report.Totals.ValidationFailed),
		slog.Duration("duration", report.Duration),
	)

	return report, nil
}

// runFunction handles every conditional branch of one function body.
func (p *Pass) runFunction(ctx context.Context, f *ir.Function, mutate bool, logger *slog.Logger) []BranchRecord {
	ctx, span := tracer.Start(ctx, "hint.Function",
		trace.WithAttributes(attribute.String("hint.function", f.Name)),
	)
	defer span.End()

	var recs []BranchRecord
	ir.VisitBranches(f, func(br *ir.Branch) {
		if br.IsUnconditional() {
			return
		}
		recs = append(recs, p.visit(ctx, br, mutate, logger))
	})

	p.metrics.RecordFunction(ctx)
	span.SetAttributes(attribute.Int("hint.branches", len(recs)))
	return recs
}

// visit classifies one conditional branch and, if hinted, validates and
// optionally annotates it.
func (p *Pass) visit(ctx context.Context, br *ir.Branch, mutate bool, logger *slog.Logger) BranchRecord {
	fn, block := location(br)
	rec := BranchRecord{Function: fn, Block: block}

	call, outcome := p.recognizer.Classify(br)
	switch outcome {
	case OutcomeNotHinted:
		rec.State = StateNotHinted

	case OutcomeMalformedCallSite:
		rec.State = StateMalformedCallSite
		logger.Debug("branch condition comes from an indirect call",
			slog.String("function", fn),
			slog.String("block", block),
		)

	case OutcomeHinted:
		rec.Callee, _ = call.CalleeName()
		if mutate {
			p.annotate(ctx, br, call, &rec)
		} else {
			p.check(ctx, call, &rec, logger)
		}
	}

	p.metrics.RecordBranch(ctx, string(rec.State))
	return rec
}

func (p *Pass) annotate(ctx context.Context, br *ir.Branch, call *ir.Call, rec *BranchRecord) {
	ann, err := p.annotator.Apply(br, call)
	if err != nil {
		rec.State = StateValidationFailed
		rec.Reason = reasonOf(err)
		p.metrics.RecordValidationFailure(ctx, rec.Reason)
		return
	}
	rec.State = StateAnnotated
	rec.Expected = &ann.Expected
	rec.Weights = []uint32{ann.Weights[0], ann.Weights[1]}
	rec.Swapped = ann.Swapped
	p.metrics.RecordAnnotation(ctx, ann.Expected, ann.Swapped)
}

func (p *Pass) check(ctx context.Context, call *ir.Call, rec *BranchRecord, logger *slog.Logger) {
	expected, err := p.annotator.Validate(call)
	if err != nil {
		rec.State = StateValidationFailed
		rec.Reason = reasonOf(err)
		logger.Warn("hint call rejected",
			slog.String("function", rec.Function),
			slog.String("block", rec.Block),
			slog.String("callee", rec.Callee),
			slog.String("reason", err.Error()),
		)
		p.metrics.RecordValidationFailure(ctx, rec.Reason)
		return
	}
	w := p.annotator.WeightsFor(expected)
	value := expected.Int
	rec.State = StateHinted
	rec.Expected = &value
	rec.Weights = []uint32{w[0], w[1]}
}
