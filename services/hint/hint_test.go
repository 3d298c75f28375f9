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
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/hintpass/services/hint/ir"
)

// =============================================================================
// Test Helpers
// =============================================================================

// unit is a hand-built module with one function "f(x, n, flag)" whose entry
// block ends in a conditional branch to "a" or "b".
type unit struct {
	m     *ir.Module
	f     *ir.Function
	entry *ir.Block
	a, b  *ir.Block
	hint  *ir.Function
	other *ir.Function
}

func newUnit(t *testing.T) *unit {
	t.Helper()
	m := ir.NewModule("unit")
	u := &unit{
		m:     m,
		hint:  m.NewFunction(DefaultHintFunction, "actual", "expected"),
		other: m.NewFunction("__blank_function_", "actual", "expected"),
	}
	u.f = m.NewFunction("f", "x", "n", "flag")
	u.entry = u.f.NewBlock("entry")
	u.a = u.f.NewBlock("a")
	u.b = u.f.NewBlock("b")
	u.a.Ret(ir.ConstInt(1, 32))
	u.b.Ret(ir.ConstInt(0, 32))
	return u
}

// direct ends entry with "br hint(x > 0, expected)".
func (u *unit) direct(expected ir.Value) (*ir.Branch, *ir.Call) {
	gt := u.entry.Cmp(ir.PredSGT, u.f.Param("x"), ir.ConstInt(0, 32))
	call := u.entry.Call(u.hint, gt, expected)
	return u.entry.CondBr(call, u.a, u.b), call
}

// compared ends entry with "br (hint(x > 0, expected) != 0)".
func (u *unit) compared(expected ir.Value) (*ir.Branch, *ir.Call) {
	gt := u.entry.Cmp(ir.PredSGT, u.f.Param("x"), ir.ConstInt(0, 32))
	call := u.entry.Call(u.hint, gt, expected)
	ne := u.entry.Cmp(ir.PredNE, call, ir.ConstInt(0, 32))
	return u.entry.CondBr(ne, u.a, u.b), call
}

func testLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// =============================================================================
// Recognizer
// =============================================================================

func TestRecognize_UnconditionalNeverHinted(t *testing.T) {
	u := newUnit(t)
	br := u.entry.Br(u.a)

	r := NewRecognizer(DefaultConfig())
	call, ok := r.Recognize(br)
	assert.False(t, ok)
	assert.Nil(t, call)

	_, outcome := r.Classify(br)
	assert.Equal(t, OutcomeNotHinted, outcome)

	call, ok = r.Recognize(nil)
	assert.False(t, ok)
	assert.Nil(t, call)
}

func TestRecognize_DirectAndComparedShapesAgree(t *testing.T) {
	r := NewRecognizer(DefaultConfig())

	u1 := newUnit(t)
	br1, want1 := u1.direct(ir.ConstBool(true))
	got1, ok := r.Recognize(br1)
	require.True(t, ok)
	assert.Same(t, want1, got1)

	u2 := newUnit(t)
	br2, want2 := u2.compared(ir.ConstBool(true))
	got2, ok := r.Recognize(br2)
	require.True(t, ok)
	assert.Same(t, want2, got2)

	name1, _ := got1.CalleeName()
	name2, _ := got2.CalleeName()
	assert.Equal(t, name1, name2)
	assert.Equal(t, got1.Arg(1).Ident(), got2.Arg(1).Ident())
}

func TestRecognize_ComparisonShapes(t *testing.T) {
	tests := []struct {
		name  string
		build func(u *unit) *ir.Branch
		want  Outcome
	}{
		{
			name: "call on the right of ne",
			build: func(u *unit) *ir.Branch {
				call := u.entry.Call(u.hint, u.f.Param("x"), ir.ConstBool(true))
				ne := u.entry.Cmp(ir.PredNE, ir.ConstInt(0, 32), call)
				return u.entry.CondBr(ne, u.a, u.b)
			},
			want: OutcomeHinted,
		},
		{
			name: "eq comparison is not recognized",
			build: func(u *unit) *ir.Branch {
				call := u.entry.Call(u.hint, u.f.Param("x"), ir.ConstBool(true))
				eq := u.entry.Cmp(ir.PredEQ, call, ir.ConstInt(0, 32))
				return u.entry.CondBr(eq, u.a, u.b)
			},
			want: OutcomeNotHinted,
		},
		{
			name: "comparison of parameters",
			build: func(u *unit) *ir.Branch {
				ne := u.entry.Cmp(ir.PredNE, u.f.Param("x"), ir.ConstInt(0, 32))
				return u.entry.CondBr(ne, u.a, u.b)
			},
			want: OutcomeNotHinted,
		},
		{
			name: "parameter as condition",
			build: func(u *unit) *ir.Branch {
				return u.entry.CondBr(u.f.Param("flag"), u.a, u.b)
			},
			want: OutcomeNotHinted,
		},
		{
			name: "first call operand is the candidate",
			build: func(u *unit) *ir.Branch {
				other := u.entry.Call(u.other, u.f.Param("x"), ir.ConstBool(true))
				hint := u.entry.Call(u.hint, u.f.Param("x"), ir.ConstBool(true))
				ne := u.entry.Cmp(ir.PredNE, other, hint)
				return u.entry.CondBr(ne, u.a, u.b)
			},
			want: OutcomeNotHinted,
		},
		{
			name: "indirect call",
			build: func(u *unit) *ir.Branch {
				call := u.entry.CallIndirect(u.f.Param("n"), u.f.Param("x"), ir.ConstBool(true))
				return u.entry.CondBr(call, u.a, u.b)
			},
			want: OutcomeMalformedCallSite,
		},
	}

	r := NewRecognizer(DefaultConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := newUnit(t)
			call, outcome := r.Classify(tt.build(u))
			assert.Equal(t, tt.want, outcome)
			if tt.want == OutcomeNotHinted {
				assert.Nil(t, call)
			} else {
				assert.NotNil(t, call)
			}
		})
	}
}

func TestRecognize_MatchPolicy(t *testing.T) {
	tests := []struct {
		name   string
		callee string
		policy MatchPolicy
		want   bool
	}{
		{"exact match", "__builtin_expect_", MatchExact, true},
		{"exact rejects mangled", "_Z17__builtin_expect_ii", MatchExact, false},
		{"substring accepts mangled", "_Z17__builtin_expect_ii", MatchSubstring, true},
		{"substring rejects unrelated", "__blank_function_", MatchSubstring, false},
		{"exact rejects prefix", "__builtin_expect", MatchExact, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Match = tt.policy
			assert.Equal(t, tt.want, NewRecognizer(cfg).Matches(tt.callee))
		})
	}
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "not_hinted", OutcomeNotHinted.String())
	assert.Equal(t, "malformed_call_site", OutcomeMalformedCallSite.String())
	assert.Equal(t, "hinted", OutcomeHinted.String())
	assert.Equal(t, "unknown", Outcome(42).String())
}

// =============================================================================
// Annotator
// =============================================================================

func TestAnnotate_ScenarioA_ExpectTrue(t *testing.T) {
	u := newUnit(t)
	br, call := u.direct(ir.ConstInt(1, 32))

	a := NewAnnotator(DefaultConfig(), nil)
	require.NoError(t, a.Annotate(br, call))

	require.NotNil(t, br.Weights)
	assert.Equal(t, ir.BranchWeights{1, 2000}, *br.Weights)
	assert.Same(t, u.a, br.Succs[0])
	assert.Same(t, u.b, br.Succs[1])
	assert.Same(t, call, br.Cond)
}

func TestAnnotate_ScenarioB_ExpectFalse(t *testing.T) {
	u := newUnit(t)
	gt := u.entry.Cmp(ir.PredSGT, u.f.Param("flag"), ir.ConstInt(0, 32))
	call := u.entry.Call(u.hint, gt, ir.ConstInt(0, 32))
	br := u.entry.CondBr(call, u.a, u.b)

	a := NewAnnotator(DefaultConfig(), nil)
	require.NoError(t, a.Annotate(br, call))

	require.NotNil(t, br.Weights)
	assert.Equal(t, ir.BranchWeights{2000, 1}, *br.Weights)
	assert.Same(t, u.a, br.Succs[0])
}

func TestAnnotate_ScenarioC_NonConstant(t *testing.T) {
	u := newUnit(t)
	br, call := u.direct(u.f.Param("n"))

	var logs bytes.Buffer
	a := NewAnnotator(DefaultConfig(), testLogger(&logs))
	err := a.Annotate(br, call)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNonConstantHint)
	assert.Nil(t, br.Weights)
	assert.Contains(t, logs.String(), "hint call rejected")
	assert.Contains(t, logs.String(), "not a constant")

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "f", verr.Function)
	assert.Equal(t, "entry", verr.Block)
	assert.Equal(t, DefaultHintFunction, verr.Callee)
}

func TestAnnotate_ScenarioD_UnrelatedCall(t *testing.T) {
	u := newUnit(t)
	call := u.entry.Call(u.other, u.f.Param("x"), ir.ConstBool(true))
	br := u.entry.CondBr(call, u.a, u.b)

	var logs bytes.Buffer
	p, err := NewPass(DefaultConfig(), WithLogger(testLogger(&logs)))
	require.NoError(t, err)

	report, err := p.Run(t.Context(), u.m)
	require.NoError(t, err)

	assert.Nil(t, br.Weights)
	require.Len(t, report.Branches, 1)
	assert.Equal(t, StateNotHinted, report.Branches[0].State)
	assert.NotContains(t, logs.String(), "rejected")
	assert.NotContains(t, logs.String(), "branch annotated")
}

func TestAnnotate_ScenarioE_Unconditional(t *testing.T) {
	u := newUnit(t)
	u.entry.Call(u.hint, u.f.Param("x"), ir.ConstBool(true))
	br := u.entry.Br(u.a)

	a := NewAnnotator(DefaultConfig(), nil)
	ann, err := a.Apply(br, nil)
	require.NoError(t, err)
	assert.Equal(t, Annotation{}, ann)
	assert.Nil(t, br.Weights)

	p, err := NewPass(DefaultConfig())
	require.NoError(t, err)
	report, err := p.Run(t.Context(), u.m)
	require.NoError(t, err)
	assert.Empty(t, report.Branches)
	assert.Nil(t, br.Weights)
}

func TestAnnotate_ValidationGate(t *testing.T) {
	tests := []struct {
		name     string
		expected func(u *unit) ir.Value
		want     error
	}{
		{"runtime value", func(u *unit) ir.Value { return u.f.Param("n") }, ErrNonConstantHint},
		{"computed value", func(u *unit) ir.Value {
			return u.entry.BinOp("add", u.f.Param("n"), ir.ConstInt(1, 32))
		}, ErrNonConstantHint},
		{"two", func(*unit) ir.Value { return ir.ConstInt(2, 32) }, ErrNonBooleanHint},
		{"minus one", func(*unit) ir.Value { return ir.ConstInt(-1, 32) }, ErrNonBooleanHint},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := newUnit(t)
			br, call := u.direct(tt.expected(u))
			before := u.m.String()

			err := NewAnnotator(DefaultConfig(), nil).Annotate(br, call)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, br.Weights)
			assert.Equal(t, before, u.m.String())
		})
	}
}

func TestAnnotate_TooFewArguments(t *testing.T) {
	u := newUnit(t)
	call := u.entry.Call(u.hint, u.f.Param("x"))
	br := u.entry.CondBr(call, u.a, u.b)

	err := NewAnnotator(DefaultConfig(), nil).Annotate(br, call)
	assert.ErrorIs(t, err, ErrNonConstantHint)
	assert.Nil(t, br.Weights)
}

func TestAnnotate_WeightRatio(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LikelyWeight = 64
	cfg.UnlikelyWeight = 4
	a := NewAnnotator(cfg, nil)

	for _, expected := range []int64{0, 1} {
		u := newUnit(t)
		br, call := u.compared(ir.ConstInt(expected, 32))
		require.NoError(t, a.Annotate(br, call))

		w := *br.Weights
		assert.NotEqual(t, w[0], w[1])
		if expected == 1 {
			assert.Equal(t, ir.BranchWeights{4, 64}, w)
		} else {
			assert.Equal(t, ir.BranchWeights{64, 4}, w)
		}
	}
}

func TestAnnotate_Idempotent(t *testing.T) {
	u := newUnit(t)
	br, call := u.compared(ir.ConstBool(true))
	a := NewAnnotator(DefaultConfig(), nil)

	require.NoError(t, a.Annotate(br, call))
	first := *br.Weights
	require.NoError(t, a.Annotate(br, call))
	assert.Equal(t, first, *br.Weights)
}

func TestAnnotate_OverwritesExistingWeights(t *testing.T) {
	u := newUnit(t)
	br, call := u.direct(ir.ConstBool(false))
	br.SetWeights(ir.BranchWeights{7, 9})

	require.NoError(t, NewAnnotator(DefaultConfig(), nil).Annotate(br, call))
	assert.Equal(t, ir.BranchWeights{2000, 1}, *br.Weights)
}

func TestAnnotate_SwapOnFalseHint(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SwapOnFalseHint = true
	a := NewAnnotator(cfg, nil)

	t.Run("expected 0 swaps and inverts", func(t *testing.T) {
		u := newUnit(t)
		br, call := u.direct(ir.ConstBool(false))

		ann, err := a.Apply(br, call)
		require.NoError(t, err)
		assert.True(t, ann.Swapped)

		// Each block keeps the weight it was given before the swap.
		assert.Same(t, u.b, br.Succs[0])
		assert.Same(t, u.a, br.Succs[1])
		assert.Equal(t, ir.BranchWeights{1, 2000}, *br.Weights)
		assert.Equal(t, ann.Weights, *br.Weights)

		not, ok := br.Cond.(*ir.BinOp)
		require.True(t, ok)
		assert.Equal(t, "xor", not.Opcode)
		assert.Same(t, call, not.X)
		assert.NoError(t, ir.Verify(u.m))
	})

	t.Run("expected 1 is left in place", func(t *testing.T) {
		u := newUnit(t)
		br, call := u.direct(ir.ConstBool(true))

		ann, err := a.Apply(br, call)
		require.NoError(t, err)
		assert.False(t, ann.Swapped)
		assert.Same(t, u.a, br.Succs[0])
		assert.Same(t, call, br.Cond)
	})

	t.Run("detached branch is weighted but not swapped", func(t *testing.T) {
		u := newUnit(t)
		gt := u.entry.Cmp(ir.PredSGT, u.f.Param("x"), ir.ConstInt(0, 32))
		call := u.entry.Call(u.hint, gt, ir.ConstBool(false))
		br := &ir.Branch{Cond: call, Succs: []*ir.Block{u.a, u.b}}

		ann, err := a.Apply(br, call)
		require.NoError(t, err)
		assert.False(t, ann.Swapped)
		assert.Same(t, u.a, br.Succs[0])
		assert.Same(t, call, br.Cond)
		assert.Equal(t, ir.BranchWeights{1, 2000}, *br.Weights)
	})
}

func TestAnnotate_NilCall(t *testing.T) {
	u := newUnit(t)
	gt := u.entry.Cmp(ir.PredSGT, u.f.Param("x"), ir.ConstInt(0, 32))
	br := u.entry.CondBr(gt, u.a, u.b)

	ann, err := NewAnnotator(DefaultConfig(), nil).Apply(br, nil)
	require.NoError(t, err)
	assert.Equal(t, Annotation{}, ann)
	assert.Nil(t, br.Weights)
}

func TestAnnotate_LogsMutation(t *testing.T) {
	u := newUnit(t)
	br, call := u.direct(ir.ConstBool(true))

	var logs bytes.Buffer
	require.NoError(t, NewAnnotator(DefaultConfig(), testLogger(&logs)).Annotate(br, call))
	assert.Equal(t, 1, bytes.Count(logs.Bytes(), []byte("branch annotated")))
	assert.Contains(t, logs.String(), "function=f")
}

// =============================================================================
// Config
// =============================================================================

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"substring", func(c *Config) { c.Match = MatchSubstring }, true},
		{"mangled name", func(c *Config) { c.HintFunction = "_Z17__builtin_expect_ii" }, true},
		{"empty name", func(c *Config) { c.HintFunction = "" }, false},
		{"name with space", func(c *Config) { c.HintFunction = "bad name" }, false},
		{"unknown policy", func(c *Config) { c.Match = "fuzzy" }, false},
		{"zero unlikely", func(c *Config) { c.UnlikelyWeight = 0 }, false},
		{"equal weights", func(c *Config) { c.LikelyWeight = c.UnlikelyWeight }, false},
		{"inverted weights", func(c *Config) { c.LikelyWeight, c.UnlikelyWeight = 1, 2000 }, false},
		{"negative parallelism", func(c *Config) { c.Parallelism = -1 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "__builtin_expect_", cfg.HintFunction)
	assert.Equal(t, MatchExact, cfg.Match)
	assert.Equal(t, uint32(2000), cfg.LikelyWeight)
	assert.Equal(t, uint32(1), cfg.UnlikelyWeight)
	assert.False(t, cfg.SwapOnFalseHint)
}
