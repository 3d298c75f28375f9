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
	"fmt"
	"slices"
	"time"
)

// DefaultNodeTimeout applies to passes that set no timeout.
const DefaultNodeTimeout = 30 * time.Second

// BaseNode carries the name, dependencies and timeout of a pass. Embed it
// and implement Execute.
//
// Example:
//
//	type VerifyNode struct {
//	    dag.BaseNode
//	}
//
//	func NewVerifyNode() *VerifyNode {
//	    return &VerifyNode{BaseNode: dag.BaseNode{NodeName: "VERIFY"}}
//	}
type BaseNode struct {
	NodeName         string
	NodeDependencies []string
	NodeTimeout      time.Duration
}

// Name implements Node.
func (n *BaseNode) Name() string { return n.NodeName }

// Dependencies implements Node. Never nil.
func (n *BaseNode) Dependencies() []string {
	if n.NodeDependencies == nil {
		return []string{}
	}
	return n.NodeDependencies
}

// Timeout implements Node, falling back to DefaultNodeTimeout.
func (n *BaseNode) Timeout() time.Duration {
	if n.NodeTimeout <= 0 {
		return DefaultNodeTimeout
	}
	return n.NodeTimeout
}

// Execute fails; embedders must provide their own.
func (n *BaseNode) Execute(context.Context, map[string]any) (any, error) {
	return nil, fmt.Errorf("%w: %s has no Execute", ErrInvalidInput, n.NodeName)
}

// Builder assembles a DAG. AddNode errors are deferred to Build.
//
// Not safe for concurrent use.
//
// Example:
//
//	d, err := dag.NewBuilder("hintpass").
//	    AddNode(verifyNode).
//	    AddNode(hintNode).
//	    Build()
type Builder struct {
	name  string
	nodes map[string]Node
	added []string
	err   error
}

// NewBuilder starts a pipeline named name.
func NewBuilder(name string) *Builder {
	return &Builder{name: name, nodes: make(map[string]Node)}
}

// AddNode adds a pass. A nil or duplicate pass makes Build fail.
func (b *Builder) AddNode(node Node) *Builder {
	if b.err != nil {
		return b
	}
	if node == nil {
		b.err = ErrNilNode
		return b
	}
	name := node.Name()
	if _, dup := b.nodes[name]; dup {
		b.err = NewNodeError(name, ErrDuplicateNode)
		return b
	}
	b.nodes[name] = node
	b.added = append(b.added, name)
	return b
}

// Build checks the graph and levels it into waves.
//
// Outputs:
//
//	*DAG - The validated pipeline.
//	error - The first AddNode error, ErrInvalidInput when empty, a
//	        *NodeError wrapping ErrNodeNotFound for an unknown dependency,
//	        or a *CycleError.
func (b *Builder) Build() (*DAG, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.nodes) == 0 {
		return nil, fmt.Errorf("%w: pipeline %q has no passes", ErrInvalidInput, b.name)
	}

	var edges []Edge
	pending := make(map[string]int, len(b.nodes))
	dependents := make(map[string][]string, len(b.nodes))
	for _, name := range b.added {
		for _, dep := range b.nodes[name].Dependencies() {
			if _, ok := b.nodes[dep]; !ok {
				return nil, NewNodeError(name, fmt.Errorf("%w: dependency %q", ErrNodeNotFound, dep))
			}
			edges = append(edges, Edge{From: dep, To: name})
			dependents[dep] = append(dependents[dep], name)
			pending[name]++
		}
	}

	waves, placed := levels(b.nodes, pending, dependents)
	if placed < len(b.nodes) {
		return nil, NewCycleError(findCycle(b.nodes, pending))
	}

	return &DAG{
		name:     b.name,
		nodes:    b.nodes,
		edges:    edges,
		waves:    waves,
		terminal: terminal(b.nodes, dependents),
	}, nil
}

// levels runs Kahn's algorithm wave by wave. pending is consumed: after
// the call it is non-zero only for passes on or behind a cycle.
func levels(nodes map[string]Node, pending map[string]int, dependents map[string][]string) ([][]string, int) {
	var wave []string
	for name := range nodes {
		if pending[name] == 0 {
			wave = append(wave, name)
		}
	}

	var waves [][]string
	placed := 0
	for len(wave) > 0 {
		slices.Sort(wave)
		waves = append(waves, wave)
		placed += len(wave)

		var next []string
		for _, name := range wave {
			for _, d := range dependents[name] {
				pending[d]--
				if pending[d] == 0 {
					next = append(next, d)
				}
			}
		}
		wave = next
	}
	return waves, placed
}

// findCycle follows unplaced dependencies from the first unplaced pass by
// name until a pass repeats, and returns the loop closed on itself.
func findCycle(nodes map[string]Node, pending map[string]int) []string {
	var stuck []string
	for name, n := range pending {
		if n > 0 {
			stuck = append(stuck, name)
		}
	}
	slices.Sort(stuck)

	seen := make(map[string]int)
	var path []string
	for cur := stuck[0]; ; {
		if at, ok := seen[cur]; ok {
			return append(path[at:], cur)
		}
		seen[cur] = len(path)
		path = append(path, cur)
		for _, dep := range nodes[cur].Dependencies() {
			if pending[dep] > 0 {
				cur = dep
				break
			}
		}
	}
}

// terminal picks the first pass by name that nothing depends on.
func terminal(nodes map[string]Node, dependents map[string][]string) string {
	var out string
	for name := range nodes {
		if len(dependents[name]) == 0 && (out == "" || name < out) {
			out = name
		}
	}
	return out
}

// FuncNode adapts a function to Node.
//
// Example:
//
//	node := dag.NewFuncNode("SUMMARY", []string{"hello"}, func(ctx context.Context, in map[string]any) (any, error) {
//	    return in["hello"], nil
//	})
type FuncNode struct {
	BaseNode
	fn func(context.Context, map[string]any) (any, error)
}

// NewFuncNode wraps fn as a pass named name.
func NewFuncNode(name string, deps []string, fn func(context.Context, map[string]any) (any, error)) *FuncNode {
	return &FuncNode{
		BaseNode: BaseNode{NodeName: name, NodeDependencies: deps},
		fn:       fn,
	}
}

// Execute calls the wrapped function.
func (n *FuncNode) Execute(ctx context.Context, inputs map[string]any) (any, error) {
	if n.fn == nil {
		return nil, fmt.Errorf("%w: %s has no function", ErrInvalidInput, n.NodeName)
	}
	return n.fn(ctx, inputs)
}

// WithTimeout sets the pass timeout.
func (n *FuncNode) WithTimeout(d time.Duration) *FuncNode {
	n.NodeTimeout = d
	return n
}
