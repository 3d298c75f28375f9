// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package nodes

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/hintpass/services/hint"
	"github.com/AleutianAI/hintpass/services/hint/dag"
	"github.com/AleutianAI/hintpass/services/hint/ir"
)

// =============================================================================
// VERIFY
// =============================================================================

// VerifyNode checks the structure of the input module.
//
// Inputs: "root" must hold the *ir.Module.
// Outputs: the same *ir.Module, unchanged.
type VerifyNode struct {
	dag.BaseNode
}

// NewVerifyNode creates the VERIFY node.
func NewVerifyNode() *VerifyNode {
	return &VerifyNode{
		BaseNode: dag.BaseNode{
			NodeName:    PassVerify,
			NodeTimeout: 10 * time.Second,
		},
	}
}

// Execute runs ir.Verify over the module.
func (n *VerifyNode) Execute(_ context.Context, inputs map[string]any) (any, error) {
	m, err := moduleInput(inputs, "root")
	if err != nil {
		return nil, err
	}
	if err := ir.Verify(m); err != nil {
		return nil, err
	}
	return m, nil
}

// =============================================================================
// hello
// =============================================================================

// HintNode runs the branch hint pass.
//
// Inputs: "VERIFY" must hold the verified *ir.Module.
// Outputs: the *hint.Report of the run.
type HintNode struct {
	dag.BaseNode
	pass   *hint.Pass
	dryRun bool
}

// NewHintNode creates the hint pass node from env.
//
// Outputs:
//
//	*HintNode - The node.
//	error - Non-nil if env.Config is invalid.
func NewHintNode(env *Env) (*HintNode, error) {
	if env == nil {
		return nil, ErrNilEnv
	}
	pass, err := hint.NewPass(env.Config,
		hint.WithLogger(env.logger()),
		hint.WithMetrics(env.Metrics),
	)
	if err != nil {
		return nil, err
	}
	return &HintNode{
		BaseNode: dag.BaseNode{
			NodeName:         PassHint,
			NodeDependencies: []string{PassVerify},
			NodeTimeout:      5 * time.Minute,
		},
		pass:   pass,
		dryRun: env.DryRun,
	}, nil
}

// Execute annotates the module, or only checks it in dry-run mode.
func (n *HintNode) Execute(ctx context.Context, inputs map[string]any) (any, error) {
	m, err := moduleInput(inputs, PassVerify)
	if err != nil {
		return nil, err
	}
	if n.dryRun {
		return n.pass.Check(ctx, m)
	}
	return n.pass.Run(ctx, m)
}

// =============================================================================
// REPORT
// =============================================================================

// ReportNode logs the pass summary and persists the report when a store
// is configured.
//
// Inputs: "hello" must hold the *hint.Report.
// Outputs: the same *hint.Report.
type ReportNode struct {
	dag.BaseNode
	logger *slog.Logger
	store  ReportStore
}

// NewReportNode creates the REPORT node.
func NewReportNode(env *Env) *ReportNode {
	return &ReportNode{
		BaseNode: dag.BaseNode{
			NodeName:         PassReport,
			NodeDependencies: []string{PassHint},
		},
		logger: env.logger(),
		store:  env.Store,
	}
}

// Execute logs the totals and saves the report.
func (n *ReportNode) Execute(ctx context.Context, inputs map[string]any) (any, error) {
	r, ok := inputs[PassHint].(*hint.Report)
	if !ok || r == nil {
		return nil, fmt.Errorf("%w: %s expects *hint.Report from %s", ErrMissingInput, PassReport, PassHint)
	}

	n.logger.Info("hint report",
		slog.String("unit", r.Unit),
		slog.String("session_id", r.SessionID),
		slog.Int("branches", r.Totals.Branches),
		slog.Int("hinted", r.Totals.Hinted),
		slog.Int("annotated", r.Totals.Annotated),
		slog.Int("validation_failed", r.Totals.ValidationFailed),
	)

	if n.store != nil {
		if err := n.store.Save(ctx, r); err != nil {
			return nil, fmt.Errorf("saving report for %s: %w", r.Unit, err)
		}
	}
	return r, nil
}

func moduleInput(inputs map[string]any, key string) (*ir.Module, error) {
	m, ok := inputs[key].(*ir.Module)
	if !ok || m == nil {
		return nil, fmt.Errorf("%w: expected *ir.Module under %q", ErrMissingInput, key)
	}
	return m, nil
}
