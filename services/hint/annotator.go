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
	"log/slog"

	"github.com/AleutianAI/hintpass/services/hint/ir"
)

// Annotation describes the mutation applied to one branch.
type Annotation struct {
	// Expected is the validated expected value of the hint (0 or 1).
	Expected int64

	// Weights is the pair attached to the branch, in final edge order.
	Weights ir.BranchWeights

	// Swapped is true when the successors were reordered.
	Swapped bool
}

// Annotator validates hint calls and attaches branch weights.
//
// Weight policy: a hint expecting 1 yields (unlikely, likely) on edges
// (0, 1); a hint expecting 0 yields (likely, unlikely). Existing weights
// are overwritten, never accumulated.
//
// Annotator holds no per-branch state and is safe for concurrent use on
// distinct branches.
type Annotator struct {
	likely   uint32
	unlikely uint32
	swap     bool
	logger   *slog.Logger
}

// NewAnnotator creates an annotator from cfg. A nil logger means
// slog.Default().
func NewAnnotator(cfg Config, logger *slog.Logger) *Annotator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Annotator{
		likely:   cfg.LikelyWeight,
		unlikely: cfg.UnlikelyWeight,
		swap:     cfg.SwapOnFalseHint,
		logger:   logger,
	}
}

// Validate checks the expected-value argument of a hint call.
//
// Outputs:
//
//	*ir.Const - The expected value, 0 or 1.
//	error - ErrNonConstantHint or ErrNonBooleanHint.
func (a *Annotator) Validate(call *ir.Call) (*ir.Const, error) {
	expected, ok := call.Arg(1).(*ir.Const)
	if !ok {
		return nil, ErrNonConstantHint
	}
	if !expected.IsOne() && !expected.IsZero() {
		return nil, ErrNonBooleanHint
	}
	return expected, nil
}

// WeightsFor returns the weight pair for a validated expected value.
func (a *Annotator) WeightsFor(expected *ir.Const) ir.BranchWeights {
	if expected.IsOne() {
		return ir.BranchWeights{a.unlikely, a.likely}
	}
	return ir.BranchWeights{a.likely, a.unlikely}
}

// Annotate validates call and, if valid, attaches weights to br.
//
// On a validation failure br is left untouched, a warning is logged and a
// *ValidationError is returned.
func (a *Annotator) Annotate(br *ir.Branch, call *ir.Call) error {
	_, err := a.Apply(br, call)
	return err
}

// Apply is Annotate returning a description of the mutation.
func (a *Annotator) Apply(br *ir.Branch, call *ir.Call) (Annotation, error) {
	if br == nil || br.IsUnconditional() || call == nil {
		return Annotation{}, nil
	}
	fn, block := location(br)
	callee, _ := call.CalleeName()

	expected, err := a.Validate(call)
	if err != nil {
		a.logger.Warn("hint call rejected, branch left unannotated",
			slog.String("function", fn),
			slog.String("block", block),
			slog.String("callee", callee),
			slog.String("reason", err.Error()),
		)
		return Annotation{}, &ValidationError{Function: fn, Block: block, Callee: callee, Err: err}
	}

	weights := a.WeightsFor(expected)
	br.SetWeights(weights)

	swapped := false
	if a.swap && expected.IsZero() && br.InvertCondition() != nil {
		br.SwapSuccessors()
		swapped = true
	}

	a.logger.Debug("branch annotated",
		slog.String("function", fn),
		slog.String("block", block),
		slog.Int64("expected", expected.Int),
		slog.Any("weights", []uint32{br.Weights[0], br.Weights[1]}),
		slog.Bool("swapped", swapped),
	)

	return Annotation{
		Expected: expected.Int,
		Weights:  *br.Weights,
		Swapped:  swapped,
	}, nil
}

// location names the function and block holding br, for diagnostics.
func location(br *ir.Branch) (fn, block string) {
	b := br.Parent()
	if b == nil {
		return "", ""
	}
	if f := b.Function(); f != nil {
		fn = f.Name
	}
	return fn, b.Label
}
