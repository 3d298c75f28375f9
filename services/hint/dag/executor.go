// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/hintpass/services/hint/telemetry"
)

var tracer = otel.Tracer("hintpass.dag")

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithMetrics records per-pass durations into m.
func WithMetrics(m *telemetry.Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// WithWaveLimit caps how many passes of one wave run at once. Zero or
// less means no cap.
func WithWaveLimit(n int) ExecutorOption {
	return func(e *Executor) { e.waveLimit = n }
}

// Executor runs a DAG wave by wave.
//
// Description:
//
//	Passes of one wave run concurrently. A wave always runs to completion;
//	if any of its passes failed, later waves are skipped. Each run and
//	each pass gets an OpenTelemetry span.
//
// Thread Safety:
//
//	Safe for concurrent use; each Run keeps its own state.
type Executor struct {
	dag       *DAG
	logger    *slog.Logger
	metrics   *telemetry.Metrics
	waveLimit int
}

// NewExecutor creates an executor for d.
//
// Inputs:
//
//	d - The pipeline. Must not be nil.
//	logger - Defaults to slog.Default().
//
// Outputs:
//
//	*Executor - Ready to Run.
//	error - ErrInvalidInput if d is nil.
func NewExecutor(d *DAG, logger *slog.Logger, opts ...ExecutorOption) (*Executor, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: nil DAG", ErrInvalidInput)
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{dag: d, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// run is the mutable state of one Run.
type run struct {
	mu        sync.Mutex
	outputs   map[string]any
	durations map[string]time.Duration
}

func (r *run) output(name string) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outputs[name]
}

func (r *run) finish(name string, out any, d time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.durations[name] = d
	if err == nil {
		r.outputs[name] = out
	}
}

// Run executes every wave in order.
//
// Inputs:
//
//	ctx - Cancellation stops the run before the next wave. Must not be nil.
//	input - Handed to root passes under InputKey.
//
// Outputs:
//
//	*Result - Always non-nil unless ctx is nil.
//	error - The failing pass's *NodeError or the context error.
func (e *Executor) Run(ctx context.Context, input any) (*Result, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	ctx, span := tracer.Start(ctx, "dag.Pipeline", trace.WithAttributes(
		attribute.String("dag.name", e.dag.Name()),
		attribute.Int("dag.node_count", e.dag.NodeCount()),
		attribute.Int("dag.wave_count", len(e.dag.waves)),
	))
	defer span.End()

	start := time.Now()
	sessionID := uuid.NewString()[:12]
	logger := telemetry.SessionLogger(ctx, e.logger, sessionID)
	logger.Debug("pipeline started",
		slog.String("dag", e.dag.Name()),
		slog.Int("nodes", e.dag.NodeCount()),
		slog.Int("waves", len(e.dag.waves)),
	)

	r := &run{
		outputs:   map[string]any{InputKey: input},
		durations: make(map[string]time.Duration),
	}

	for i, wave := range e.dag.waves {
		if err := ctx.Err(); err != nil {
			telemetry.Finish(span, err)
			return e.result(r, sessionID, start, "", err), err
		}
		if failed, err := e.runWave(ctx, wave, r, sessionID, logger); err != nil {
			telemetry.Finish(span, err, attribute.Int("dag.wave", i))
			return e.result(r, sessionID, start, failed, err), err
		}
	}

	res := e.result(r, sessionID, start, "", nil)
	telemetry.Finish(span, nil)
	logger.Debug("pipeline completed",
		slog.Duration("duration", res.Duration),
		slog.Int("nodes_executed", res.NodesExecuted),
	)
	return res, nil
}

// runWave runs one wave and returns the first failure in wave order.
func (e *Executor) runWave(ctx context.Context, wave []string, r *run, sessionID string, logger *slog.Logger) (string, error) {
	errs := make([]error, len(wave))
	var g errgroup.Group
	if e.waveLimit > 0 {
		g.SetLimit(e.waveLimit)
	}
	for i, name := range wave {
		node := e.dag.nodes[name]
		g.Go(func() error {
			errs[i] = e.executeNode(ctx, node, r, sessionID, logger)
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range errs {
		if err != nil {
			return wave[i], err
		}
	}
	return "", nil
}

// executeNode runs one pass under its timeout.
func (e *Executor) executeNode(ctx context.Context, node Node, r *run, sessionID string, logger *slog.Logger) error {
	name := node.Name()
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("dag.node", name),
		attribute.StringSlice("dag.dependencies", node.Dependencies()),
		attribute.String("dag.session_id", sessionID),
	))
	defer span.End()

	log := logger.With(slog.String("node", name))
	log.Debug("node starting")

	deps := node.Dependencies()
	inputs := make(map[string]any, max(len(deps), 1))
	if len(deps) == 0 {
		inputs[InputKey] = r.output(InputKey)
	}
	for _, dep := range deps {
		inputs[dep] = r.output(dep)
	}

	timeout := node.Timeout()
	if timeout <= 0 {
		timeout = DefaultNodeTimeout
	}
	nodeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	out, err := node.Execute(nodeCtx, inputs)
	took := time.Since(started)

	if errors.Is(nodeCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("%w: %s after %s", ErrNodeTimeout, name, timeout)
	}
	r.finish(name, out, took, err)
	e.metrics.RecordNode(ctx, name, took, err == nil)

	if err != nil {
		telemetry.Finish(span, err)
		log.Error("node failed", slog.Duration("duration", took), slog.String("error", err.Error()))
		return NewNodeError(name, err)
	}
	telemetry.Finish(span, nil)
	log.Debug("node completed", slog.Duration("duration", took))
	return nil
}

func (e *Executor) result(r *run, sessionID string, start time.Time, failed string, err error) *Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	outputs := maps.Clone(r.outputs)
	delete(outputs, InputKey)

	res := &Result{
		SessionID:     sessionID,
		Duration:      time.Since(start),
		NodesExecuted: len(outputs),
		Outputs:       outputs,
		NodeDurations: maps.Clone(r.durations),
	}
	if err != nil {
		res.Error = err.Error()
		res.FailedNode = failed
		return res
	}
	res.Success = true
	res.Output = outputs[e.dag.terminal]
	return res
}
