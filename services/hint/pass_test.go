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
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/AleutianAI/hintpass/services/hint/ir"
	"github.com/AleutianAI/hintpass/services/hint/telemetry"
)

func loadFixture(t *testing.T, name string) *ir.Module {
	t.Helper()
	m, err := ir.Load(filepath.Join("testdata", name))
	require.NoError(t, err)
	return m
}

func newTestPass(t *testing.T, cfg Config, opts ...Option) *Pass {
	t.Helper()
	p, err := NewPass(cfg, opts...)
	require.NoError(t, err)
	return p
}

func TestNewPass_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UnlikelyWeight = 0
	_, err := NewPass(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestPass_NilModule(t *testing.T) {
	p := newTestPass(t, DefaultConfig())
	_, err := p.Run(t.Context(), nil)
	assert.ErrorIs(t, err, ErrNilModule)
}

func TestPass_Fixtures(t *testing.T) {
	tests := []struct {
		file   string
		cfg    func() Config
		totals Totals
	}{
		{
			file:   "expect_direct.yaml",
			cfg:    DefaultConfig,
			totals: Totals{Functions: 2, Branches: 1, Hinted: 1, Annotated: 1},
		},
		{
			file:   "expect_cmp.yaml",
			cfg:    DefaultConfig,
			totals: Totals{Functions: 1, Branches: 1, Hinted: 1, Annotated: 1},
		},
		{
			file:   "loop.yaml",
			cfg:    DefaultConfig,
			totals: Totals{Functions: 2, Branches: 4, NotHinted: 3, Hinted: 1, Annotated: 1},
		},
		{
			file:   "invalid_hints.yaml",
			cfg:    DefaultConfig,
			totals: Totals{Functions: 2, Branches: 2, Hinted: 2, ValidationFailed: 2},
		},
		{
			file:   "mangled.yaml",
			cfg:    DefaultConfig,
			totals: Totals{Functions: 1, Branches: 1, NotHinted: 1},
		},
		{
			file: "mangled.yaml",
			cfg: func() Config {
				cfg := DefaultConfig()
				cfg.Match = MatchSubstring
				return cfg
			},
			totals: Totals{Functions: 1, Branches: 1, Hinted: 1, Annotated: 1},
		},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.file, tt.cfg().Match), func(t *testing.T) {
			m := loadFixture(t, tt.file)
			report, err := newTestPass(t, tt.cfg()).Run(t.Context(), m)
			require.NoError(t, err)
			assert.Equal(t, tt.totals, report.Totals)
			assert.Equal(t, m.Name, report.Unit)
			assert.NotEmpty(t, report.SessionID)
			assert.False(t, report.DryRun)
			assert.NoError(t, ir.Verify(m))
		})
	}
}

func TestPass_ExpectDirectWeights(t *testing.T) {
	m := loadFixture(t, "expect_direct.yaml")
	_, err := newTestPass(t, DefaultConfig()).Run(t.Context(), m)
	require.NoError(t, err)

	br := m.Function("main").Block("entry").Term.(*ir.Branch)
	require.NotNil(t, br.Weights)
	assert.Equal(t, ir.BranchWeights{1, 2000}, *br.Weights)

	for _, label := range []string{"if.then", "if.else"} {
		assert.Nil(t, m.Function("main").Block(label).Term.(*ir.Branch).Weights)
	}
	assert.Contains(t, m.String(), `!prof !{"branch_weights", 1, 2000}`)
}

func TestPass_LoopOnlyHintedBodyAnnotated(t *testing.T) {
	m := loadFixture(t, "loop.yaml")
	report, err := newTestPass(t, DefaultConfig()).Run(t.Context(), m)
	require.NoError(t, err)

	body := m.Function("builtin_test").Block("loop.body").Term.(*ir.Branch)
	require.NotNil(t, body.Weights)
	assert.Equal(t, ir.BranchWeights{1, 2000}, *body.Weights)

	for _, f := range []string{"builtin_test", "control"} {
		assert.Nil(t, m.Function(f).Block("loop.head").Term.(*ir.Branch).Weights)
	}
	assert.Nil(t, m.Function("control").Block("loop.body").Term.(*ir.Branch).Weights)

	var annotated []BranchRecord
	for _, rec := range report.Branches {
		if rec.State == StateAnnotated {
			annotated = append(annotated, rec)
		}
	}
	require.Len(t, annotated, 1)
	assert.Equal(t, "builtin_test", annotated[0].Function)
	assert.Equal(t, "loop.body", annotated[0].Block)
	assert.Equal(t, DefaultHintFunction, annotated[0].Callee)
	require.NotNil(t, annotated[0].Expected)
	assert.Equal(t, int64(1), *annotated[0].Expected)
	assert.Equal(t, []uint32{1, 2000}, annotated[0].Weights)
}

func TestPass_ValidationFailuresDoNotAbort(t *testing.T) {
	m := loadFixture(t, "invalid_hints.yaml")

	var logs bytes.Buffer
	report, err := newTestPass(t, DefaultConfig(), WithLogger(testLogger(&logs))).Run(t.Context(), m)
	require.NoError(t, err)

	assert.True(t, report.HasFailures())
	failures := report.Failures()
	require.Len(t, failures, 2)
	assert.Equal(t, "nonconst", failures[0].Function)
	assert.Equal(t, "non_constant", failures[0].Reason)
	assert.Equal(t, "nonbool", failures[1].Function)
	assert.Equal(t, "non_boolean", failures[1].Reason)

	for _, br := range ir.Branches(m) {
		assert.Nil(t, br.Weights)
	}
	assert.Equal(t, 2, bytes.Count(logs.Bytes(), []byte("hint call rejected")))
}

func TestPass_Check(t *testing.T) {
	m := loadFixture(t, "expect_cmp.yaml")
	before := m.String()

	report, err := newTestPass(t, DefaultConfig()).Check(t.Context(), m)
	require.NoError(t, err)

	assert.True(t, report.DryRun)
	assert.Equal(t, before, m.String())
	require.Len(t, report.Branches, 1)
	rec := report.Branches[0]
	assert.Equal(t, StateHinted, rec.State)
	assert.Equal(t, []uint32{1, 2000}, rec.Weights)
	assert.Equal(t, Totals{Functions: 1, Branches: 1, Hinted: 1}, report.Totals)
}

func TestPass_CheckReportsFailures(t *testing.T) {
	m := loadFixture(t, "invalid_hints.yaml")
	report, err := newTestPass(t, DefaultConfig()).Check(t.Context(), m)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Totals.ValidationFailed)
}

func TestPass_SwapOnFalseHint(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Match = MatchSubstring
	cfg.SwapOnFalseHint = true

	m := loadFixture(t, "mangled.yaml")
	report, err := newTestPass(t, cfg).Run(t.Context(), m)
	require.NoError(t, err)
	require.Len(t, report.Branches, 1)
	assert.True(t, report.Branches[0].Swapped)

	br := m.Function("main").Block("entry").Term.(*ir.Branch)
	assert.Equal(t, "run", br.Succs[0].Label)
	assert.Equal(t, "usage", br.Succs[1].Label)
	assert.Equal(t, ir.BranchWeights{1, 2000}, *br.Weights)
	assert.NoError(t, ir.Verify(m))
}

func TestPass_MalformedCallSite(t *testing.T) {
	u := newUnit(t)
	call := u.entry.CallIndirect(u.f.Param("n"), u.f.Param("x"), ir.ConstBool(true))
	br := u.entry.CondBr(call, u.a, u.b)

	report, err := newTestPass(t, DefaultConfig()).Run(t.Context(), u.m)
	require.NoError(t, err)
	assert.Nil(t, br.Weights)
	assert.Equal(t, 1, report.Totals.MalformedCallSite)
	assert.Equal(t, 0, report.Totals.Hinted)
}

func TestPass_ParallelMatchesSequential(t *testing.T) {
	build := func() *ir.Module {
		m := ir.NewModule("many")
		hint := m.NewFunction(DefaultHintFunction, "a", "b")
		for i := range 32 {
			f := m.NewFunction(fmt.Sprintf("f%02d", i), "x")
			entry := f.NewBlock("entry")
			then := f.NewBlock("then")
			els := f.NewBlock("else")
			call := entry.Call(hint, f.Param("x"), ir.ConstBool(i%2 == 0))
			entry.CondBr(call, then, els)
			then.Ret(nil)
			els.Ret(nil)
		}
		return m
	}

	seq := build()
	seqReport, err := newTestPass(t, DefaultConfig()).Run(t.Context(), seq)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Parallelism = 8
	par := build()
	parReport, err := newTestPass(t, cfg).Run(t.Context(), par)
	require.NoError(t, err)

	assert.Equal(t, seq.String(), par.String())
	assert.Equal(t, seqReport.Branches, parReport.Branches)
	assert.Equal(t, 32, parReport.Totals.Annotated)
}

func TestPass_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	m := loadFixture(t, "loop.yaml")
	_, err := newTestPass(t, DefaultConfig()).Run(ctx, m)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPass_RecordsMetrics(t *testing.T) {
	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	metrics, err := telemetry.NewMetrics(provider.Meter("test"))
	require.NoError(t, err)

	m := loadFixture(t, "loop.yaml")
	_, err = newTestPass(t, DefaultConfig(), WithMetrics(metrics)).Run(t.Context(), m)
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(t.Context(), &rm))

	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if s, ok := md.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range s.DataPoints {
					sums[md.Name] += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(4), sums["hintpass_branches_total"])
	assert.Equal(t, int64(1), sums["hintpass_annotations_total"])
	assert.Equal(t, int64(2), sums["hintpass_functions_total"])
}

func TestReport_Merge(t *testing.T) {
	a := newReport("a", false)
	a.add(BranchRecord{State: StateAnnotated})
	a.Totals.Functions = 1
	b := newReport("b", false)
	b.add(BranchRecord{State: StateValidationFailed}, BranchRecord{State: StateNotHinted})
	b.Totals.Functions = 2

	a.Merge(b)
	a.Merge(nil)
	assert.Equal(t, Totals{Functions: 3, Branches: 3, NotHinted: 1, Hinted: 2, ValidationFailed: 1, Annotated: 1}, a.Totals)
	assert.NotEqual(t, a.SessionID, b.SessionID)
}
