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
	"strings"

	"github.com/AleutianAI/hintpass/services/hint/ir"
)

// Outcome is the recognizer's classification of one branch.
type Outcome int

const (
	// OutcomeNotHinted means the condition does not come from a hint call.
	// Unconditional branches always land here.
	OutcomeNotHinted Outcome = iota

	// OutcomeMalformedCallSite means the condition comes from a call whose
	// callee cannot be named (an indirect call). Treated like NotHinted.
	OutcomeMalformedCallSite

	// OutcomeHinted means the condition comes from a hint call.
	OutcomeHinted
)

// String returns the outcome name used in reports.
func (o Outcome) String() string {
	switch o {
	case OutcomeNotHinted:
		return "not_hinted"
	case OutcomeMalformedCallSite:
		return "malformed_call_site"
	case OutcomeHinted:
		return "hinted"
	default:
		return "unknown"
	}
}

// Recognizer decides whether a branch condition was produced by a call to
// the hint function.
//
// Two condition shapes are recognized:
//
//	br %call, ...                       ; the condition is the call
//	%c = icmp ne %call, 0 ; br %c, ...  ; the condition compares the call
//
// Recognizer holds no per-branch state and is safe for concurrent use.
type Recognizer struct {
	name  string
	match MatchPolicy
}

// NewRecognizer creates a recognizer for cfg.HintFunction under cfg.Match.
func NewRecognizer(cfg Config) *Recognizer {
	return &Recognizer{name: cfg.HintFunction, match: cfg.Match}
}

// Recognize returns the hint call feeding the branch condition.
//
// Outputs:
//
//	*ir.Call - The hint call site, nil when not hinted.
//	bool - True only when the branch is hinted.
func (r *Recognizer) Recognize(br *ir.Branch) (*ir.Call, bool) {
	call, outcome := r.Classify(br)
	return call, outcome == OutcomeHinted
}

// Classify is Recognize with the detailed outcome. For
// OutcomeMalformedCallSite the returned call is the unnamed call site.
func (r *Recognizer) Classify(br *ir.Branch) (*ir.Call, Outcome) {
	if br == nil || br.IsUnconditional() {
		return nil, OutcomeNotHinted
	}

	call := candidateCall(br.Cond)
	if call == nil {
		return nil, OutcomeNotHinted
	}

	name, ok := call.CalleeName()
	if !ok {
		return call, OutcomeMalformedCallSite
	}
	if !r.Matches(name) {
		return nil, OutcomeNotHinted
	}
	return call, OutcomeHinted
}

// Matches applies the match policy to a callee name.
func (r *Recognizer) Matches(name string) bool {
	if r.match == MatchSubstring {
		return strings.Contains(name, r.name)
	}
	return name == r.name
}

// candidateCall finds the call a condition is derived from: the condition
// itself, or the first call operand of a not-equal comparison.
func candidateCall(cond ir.Value) *ir.Call {
	switch cond := cond.(type) {
	case *ir.Call:
		return cond
	case *ir.Cmp:
		if cond.Pred != ir.PredNE {
			return nil
		}
		for _, op := range cond.Operands() {
			if call, ok := op.(*ir.Call); ok {
				return call
			}
		}
	}
	return nil
}
