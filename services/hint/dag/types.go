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
	"slices"
	"time"
)

// Node is one pass of the pipeline.
//
// Thread Safety:
//
//	Execute may run concurrently with other nodes of the same wave.
type Node interface {
	// Name is unique within a pipeline, e.g. "VERIFY".
	Name() string

	// Dependencies names the passes whose outputs Execute receives.
	Dependencies() []string

	// Execute runs the pass.
	//
	// Inputs:
	//   ctx - Bounded by Timeout.
	//   inputs - Dependency outputs keyed by pass name. A pass without
	//            dependencies receives the pipeline input under InputKey.
	//
	// Outputs:
	//   any - Handed to dependent passes.
	//   error - Stops the pipeline after the current wave.
	Execute(ctx context.Context, inputs map[string]any) (any, error)

	// Timeout bounds one Execute call.
	Timeout() time.Duration
}

// InputKey is the inputs key under which root passes receive the
// pipeline input.
const InputKey = "root"

// Edge is a dependency: From must finish before To starts.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// DAG is a validated pass graph, levelled into waves.
//
// Every pass in a wave depends only on passes of earlier waves, so a wave
// runs concurrently and waves run in order. Read-only after Build.
type DAG struct {
	name     string
	nodes    map[string]Node
	edges    []Edge
	waves    [][]string
	terminal string
}

// Name returns the pipeline name.
func (d *DAG) Name() string { return d.name }

// NodeCount returns the number of passes.
func (d *DAG) NodeCount() int { return len(d.nodes) }

// GetNode returns the pass named name.
func (d *DAG) GetNode(name string) (Node, bool) {
	n, ok := d.nodes[name]
	return n, ok
}

// NodeNames returns every pass name, sorted.
func (d *DAG) NodeNames() []string {
	names := make([]string, 0, len(d.nodes))
	for name := range d.nodes {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// GetDependencies returns the dependencies of the named pass.
func (d *DAG) GetDependencies(name string) []string {
	if n, ok := d.nodes[name]; ok {
		return n.Dependencies()
	}
	return nil
}

// Edges returns every dependency edge.
func (d *DAG) Edges() []Edge { return d.edges }

// Waves returns the execution order: each inner slice is sorted and may
// run concurrently.
func (d *DAG) Waves() [][]string {
	out := make([][]string, len(d.waves))
	for i, w := range d.waves {
		out[i] = slices.Clone(w)
	}
	return out
}

// Order flattens Waves into one topological order.
func (d *DAG) Order() []string {
	var out []string
	for _, w := range d.waves {
		out = append(out, w...)
	}
	return out
}

// Terminal is the pass nothing depends on; its output becomes
// Result.Output. With several candidates the first by name wins.
func (d *DAG) Terminal() string { return d.terminal }

// Result is the outcome of one pipeline run. It is returned on failure too.
type Result struct {
	// Success is true when every pass completed.
	Success bool `json:"success"`

	// SessionID identifies the run in logs, spans and reports.
	SessionID string `json:"session_id"`

	Duration time.Duration `json:"duration"`

	// NodesExecuted counts passes that completed.
	NodesExecuted int `json:"nodes_executed"`

	// Output is the terminal pass output, set only on success.
	Output any `json:"output,omitempty"`

	// Outputs holds every completed pass output keyed by name.
	Outputs map[string]any `json:"-"`

	Error string `json:"error,omitempty"`

	// FailedNode names the first failing pass of the failing wave.
	FailedNode string `json:"failed_node,omitempty"`

	// NodeDurations records wall time per pass that ran.
	NodeDurations map[string]time.Duration `json:"node_durations,omitempty"`
}
