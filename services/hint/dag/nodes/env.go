// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package nodes provides the registered passes of the hintpass pipeline.
//
// Each pass is a dag.Node built from an Env by its factory. The pipeline
// input is the *ir.Module under transformation, delivered to root nodes
// under the "root" key.
//
//	VERIFY  structural IR verification
//	hello   branch hint weighting (requires VERIFY)
//	REPORT  summary logging and persistence (requires hello)
package nodes

import (
	"context"
	"errors"
	"log/slog"

	"github.com/AleutianAI/hintpass/services/hint"
	"github.com/AleutianAI/hintpass/services/hint/dag"
	"github.com/AleutianAI/hintpass/services/hint/ir"
	"github.com/AleutianAI/hintpass/services/hint/telemetry"
)

// Pass names, as selected with --passes.
const (
	PassVerify = "VERIFY"
	PassHint   = "hello"
	PassReport = "REPORT"
)

// ReportStore persists pass reports. Implemented by the badger store, the
// influx sink and the gcs archive.
type ReportStore interface {
	Save(ctx context.Context, r *hint.Report) error
}

// Stores fans a report out to several stores. Every store is tried and
// the errors are joined.
type Stores []ReportStore

// Save saves r into every store.
func (s Stores) Save(ctx context.Context, r *hint.Report) error {
	var errs []error
	for _, st := range s {
		if err := st.Save(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Env carries what pass factories need to build their nodes.
type Env struct {
	// Config tunes the hint pass.
	Config hint.Config

	// DryRun classifies and validates hints without mutating the module.
	DryRun bool

	// Logger receives pass diagnostics. Nil means slog.Default().
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *telemetry.Metrics

	// Store is optional. When set, REPORT saves the report into it.
	Store ReportStore
}

func (e *Env) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// Registry holds every pass of the hintpass pipeline.
var Registry = dag.NewRegistry[*Env]()

func init() {
	Registry.MustRegister(dag.PassInfo[*Env]{
		Name:        PassVerify,
		Description: "Structural IR verification",
		Factory:     func(env *Env) (dag.Node, error) { return NewVerifyNode(), nil },
	})
	Registry.MustRegister(dag.PassInfo[*Env]{
		Name:        PassHint,
		Description: "Branch hint weighting pass",
		Requires:    []string{PassVerify},
		Factory: func(env *Env) (dag.Node, error) {
			return NewHintNode(env)
		},
	})
	Registry.MustRegister(dag.PassInfo[*Env]{
		Name:        PassReport,
		Description: "Summarize and persist the pass report",
		Requires:    []string{PassHint},
		Factory:     func(env *Env) (dag.Node, error) { return NewReportNode(env), nil },
	})
}

// Run builds the pipeline for passes and executes it over m.
//
// Description:
//
//	An empty passes slice runs every registered pass. Requirements of the
//	selected passes are added automatically.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	env - Pass environment. Must not be nil.
//	m - The module to transform.
//	passes - Pass names to run.
//
// Outputs:
//
//	*dag.Result - The executor result. Output is the terminal pass output.
//	error - Non-nil if the pipeline could not be built or a pass failed.
func Run(ctx context.Context, env *Env, m *ir.Module, passes []string) (*dag.Result, error) {
	if env == nil {
		return nil, ErrNilEnv
	}

	pipeline, err := Registry.Build("hintpass", env, passes)
	if err != nil {
		return nil, err
	}

	exec, err := dag.NewExecutor(pipeline, env.logger(), dag.WithMetrics(env.Metrics))
	if err != nil {
		return nil, err
	}
	return exec.Run(ctx, m)
}

// ReportOf extracts the hint report from a pipeline result, or nil when
// the hint pass did not run.
func ReportOf(result *dag.Result) *hint.Report {
	if result == nil {
		return nil
	}
	if r, ok := result.Outputs[PassReport].(*hint.Report); ok {
		return r
	}
	if r, ok := result.Outputs[PassHint].(*hint.Report); ok {
		return r
	}
	return nil
}
