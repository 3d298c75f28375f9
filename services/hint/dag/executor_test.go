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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNode records its inputs and returns a fixed output.
type TestNode struct {
	BaseNode
	mu       sync.Mutex
	executed bool
	inputs   map[string]any
	output   any
	err      error
	delay    time.Duration
}

func NewTestNode(name string, deps []string) *TestNode {
	return &TestNode{
		BaseNode: BaseNode{NodeName: name, NodeDependencies: deps, NodeTimeout: 5 * time.Second},
		output:   name + "_output",
	}
}

func (n *TestNode) Execute(ctx context.Context, inputs map[string]any) (any, error) {
	if n.delay > 0 {
		select {
		case <-time.After(n.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	n.mu.Lock()
	n.executed = true
	n.inputs = inputs
	n.mu.Unlock()
	if n.err != nil {
		return nil, n.err
	}
	return n.output, nil
}

func (n *TestNode) WasExecuted() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.executed
}

func (n *TestNode) Inputs() map[string]any {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.inputs
}

func (n *TestNode) WithError(err error) *TestNode {
	n.err = err
	return n
}

func (n *TestNode) WithDelay(d time.Duration) *TestNode {
	n.delay = d
	return n
}

func mustRun(t *testing.T, d *DAG, opts ...ExecutorOption) (*Result, error) {
	t.Helper()
	exec, err := NewExecutor(d, nil, opts...)
	require.NoError(t, err)
	return exec.Run(context.Background(), "input")
}

// --- Builder ---

func TestBuilder_SingleNode(t *testing.T) {
	d, err := NewBuilder("one").AddNode(NewTestNode("A", nil)).Build()
	require.NoError(t, err)
	assert.Equal(t, "one", d.Name())
	assert.Equal(t, 1, d.NodeCount())
	assert.Equal(t, "A", d.Terminal())
	assert.Equal(t, [][]string{{"A"}}, d.Waves())
}

func TestBuilder_Errors(t *testing.T) {
	t.Run("nil node", func(t *testing.T) {
		_, err := NewBuilder("x").AddNode(nil).Build()
		assert.ErrorIs(t, err, ErrNilNode)
	})

	t.Run("duplicate", func(t *testing.T) {
		_, err := NewBuilder("x").AddNode(NewTestNode("A", nil)).AddNode(NewTestNode("A", nil)).Build()
		assert.ErrorIs(t, err, ErrDuplicateNode)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := NewBuilder("x").Build()
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("missing dependency", func(t *testing.T) {
		_, err := NewBuilder("x").AddNode(NewTestNode("B", []string{"A"})).Build()
		assert.ErrorIs(t, err, ErrNodeNotFound)

		var nerr *NodeError
		require.ErrorAs(t, err, &nerr)
		assert.Equal(t, "B", nerr.NodeName)
	})

	t.Run("cycle", func(t *testing.T) {
		_, err := NewBuilder("x").
			AddNode(NewTestNode("ROOT", nil)).
			AddNode(NewTestNode("A", []string{"ROOT", "C"})).
			AddNode(NewTestNode("B", []string{"A"})).
			AddNode(NewTestNode("C", []string{"B"})).
			AddNode(NewTestNode("D", []string{"C"})).
			Build()
		assert.ErrorIs(t, err, ErrCycleDetected)

		var cerr *CycleError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, []string{"A", "C", "B", "A"}, cerr.Path)
		assert.Equal(t, "dependency cycle: A -> C -> B -> A", cerr.Error())
	})

	t.Run("self loop", func(t *testing.T) {
		_, err := NewBuilder("x").AddNode(NewTestNode("A", []string{"A"})).Build()
		var cerr *CycleError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, []string{"A", "A"}, cerr.Path)
	})
}

func TestBuilder_Waves(t *testing.T) {
	d, err := NewBuilder("hintpass").
		AddNode(NewTestNode("REPORT", []string{"hello", "stats"})).
		AddNode(NewTestNode("hello", []string{"VERIFY"})).
		AddNode(NewTestNode("stats", []string{"VERIFY"})).
		AddNode(NewTestNode("VERIFY", nil)).
		Build()
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"VERIFY"}, {"hello", "stats"}, {"REPORT"}}, d.Waves())
	assert.Equal(t, []string{"VERIFY", "hello", "stats", "REPORT"}, d.Order())
	assert.Equal(t, "REPORT", d.Terminal())
	assert.Equal(t, []string{"REPORT", "VERIFY", "hello", "stats"}, d.NodeNames())
	assert.Equal(t, []string{"VERIFY"}, d.GetDependencies("hello"))
	assert.Nil(t, d.GetDependencies("missing"))
	assert.Len(t, d.Edges(), 4)

	w := d.Waves()
	w[0][0] = "mutated"
	assert.Equal(t, "VERIFY", d.Waves()[0][0])
}

func TestBuilder_TerminalTieBreak(t *testing.T) {
	d, err := NewBuilder("x").
		AddNode(NewTestNode("ROOT", nil)).
		AddNode(NewTestNode("b", []string{"ROOT"})).
		AddNode(NewTestNode("a", []string{"ROOT"})).
		Build()
	require.NoError(t, err)
	assert.Equal(t, "a", d.Terminal())
}

func TestBaseNode_Defaults(t *testing.T) {
	n := &BaseNode{NodeName: "X"}
	assert.Equal(t, DefaultNodeTimeout, n.Timeout())
	assert.NotNil(t, n.Dependencies())

	_, err := n.Execute(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewFuncNode("F", nil, nil).Execute(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

// --- Executor ---

func TestNewExecutor_NilDAG(t *testing.T) {
	_, err := NewExecutor(nil, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestExecutor_NilContext(t *testing.T) {
	d, err := NewBuilder("x").AddNode(NewTestNode("A", nil)).Build()
	require.NoError(t, err)
	exec, err := NewExecutor(d, nil)
	require.NoError(t, err)

	//nolint:staticcheck // nil context is the case under test
	_, err = exec.Run(nil, nil)
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestExecutor_LinearPipeline(t *testing.T) {
	a := NewTestNode("A", nil)
	b := NewTestNode("B", []string{"A"})
	c := NewTestNode("C", []string{"B"})
	d, err := NewBuilder("linear").AddNode(a).AddNode(b).AddNode(c).Build()
	require.NoError(t, err)

	result, err := mustRun(t, d)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 3, result.NodesExecuted)
	assert.Equal(t, "C_output", result.Output)
	assert.Len(t, result.SessionID, 12)
	assert.Equal(t, "B_output", result.Outputs["B"])
	assert.NotContains(t, result.Outputs, InputKey)
	assert.Len(t, result.NodeDurations, 3)

	assert.Equal(t, map[string]any{InputKey: "input"}, a.Inputs())
	assert.Equal(t, map[string]any{"A": "A_output"}, b.Inputs())
}

func trackingNode(name string, deps []string, running, peak *atomic.Int32) *FuncNode {
	return NewFuncNode(name, deps, func(context.Context, map[string]any) (any, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		running.Add(-1)
		return name, nil
	})
}

func TestExecutor_WaveRunsInParallel(t *testing.T) {
	var running, peak atomic.Int32
	d, err := NewBuilder("fan").
		AddNode(NewTestNode("ROOT", nil)).
		AddNode(trackingNode("L", []string{"ROOT"}, &running, &peak)).
		AddNode(trackingNode("M", []string{"ROOT"}, &running, &peak)).
		AddNode(trackingNode("R", []string{"ROOT"}, &running, &peak)).
		AddNode(NewTestNode("JOIN", []string{"L", "M", "R"})).
		Build()
	require.NoError(t, err)

	result, err := mustRun(t, d)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int32(3), peak.Load())

	peak.Store(0)
	_, err = mustRun(t, d, WithWaveLimit(1))
	require.NoError(t, err)
	assert.Equal(t, int32(1), peak.Load())
}

func TestExecutor_FailureFinishesWaveAndStops(t *testing.T) {
	boom := errors.New("boom")
	root := NewTestNode("ROOT", nil)
	bad := NewTestNode("B", []string{"ROOT"}).WithError(boom)
	sibling := NewTestNode("S", []string{"ROOT"}).WithDelay(20 * time.Millisecond)
	after := NewTestNode("Z", []string{"B", "S"})

	d, err := NewBuilder("fail").AddNode(root).AddNode(bad).AddNode(sibling).AddNode(after).Build()
	require.NoError(t, err)

	result, err := mustRun(t, d)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var nerr *NodeError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "B", nerr.NodeName)

	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.Nil(t, result.Output)
	assert.Equal(t, "B", result.FailedNode)
	assert.True(t, sibling.WasExecuted())
	assert.False(t, after.WasExecuted())
	assert.Equal(t, 2, result.NodesExecuted)
	assert.Contains(t, result.NodeDurations, "B")
}

func TestExecutor_NodeTimeout(t *testing.T) {
	slow := NewTestNode("SLOW", nil).WithDelay(time.Second)
	slow.NodeTimeout = 20 * time.Millisecond

	d, err := NewBuilder("timeout").AddNode(slow).Build()
	require.NoError(t, err)

	result, err := mustRun(t, d)
	assert.ErrorIs(t, err, ErrNodeTimeout)
	assert.Equal(t, "SLOW", result.FailedNode)
}

func TestExecutor_ContextCancelled(t *testing.T) {
	d, err := NewBuilder("cancel").AddNode(NewTestNode("A", nil)).Build()
	require.NoError(t, err)
	exec, err := NewExecutor(d, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := exec.Run(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.Empty(t, result.FailedNode)
	assert.Zero(t, result.NodesExecuted)
}

func TestExecutor_ConcurrentRuns(t *testing.T) {
	d, err := NewBuilder("shared").
		AddNode(NewFuncNode("ECHO", nil, func(_ context.Context, in map[string]any) (any, error) {
			return in[InputKey], nil
		})).
		Build()
	require.NoError(t, err)
	exec, err := NewExecutor(d, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := exec.Run(context.Background(), i)
			assert.NoError(t, err)
			assert.Equal(t, i, res.Output)
		}()
	}
	wg.Wait()
}
