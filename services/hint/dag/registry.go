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
	"fmt"
	"sort"
	"sync"
)

// PassInfo describes a named, selectable pass.
//
// E is the environment a factory needs to build its node (configuration,
// logger, storage handles).
type PassInfo[E any] struct {
	// Name is the command-line name of the pass and the name of its node.
	Name string

	// Description is a one-line summary shown by "hintpass passes".
	Description string

	// Requires lists passes that must run before this one. They are pulled
	// in automatically when this pass is selected.
	Requires []string

	// Factory builds the node for one pipeline run.
	Factory func(env E) (Node, error)
}

// Registry maps pass names to their PassInfo.
//
// Thread Safety: Safe for concurrent use.
type Registry[E any] struct {
	mu     sync.RWMutex
	passes map[string]PassInfo[E]
}

// NewRegistry creates an empty registry.
func NewRegistry[E any]() *Registry[E] {
	return &Registry[E]{passes: make(map[string]PassInfo[E])}
}

// Register adds a pass. Names must be unique and a factory is required.
func (r *Registry[E]) Register(info PassInfo[E]) error {
	if info.Name == "" || info.Factory == nil {
		return fmt.Errorf("%w: pass needs a name and a factory", ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.passes[info.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicatePass, info.Name)
	}
	r.passes[info.Name] = info
	return nil
}

// MustRegister is Register that panics on error, for use from init().
func (r *Registry[E]) MustRegister(info PassInfo[E]) {
	if err := r.Register(info); err != nil {
		panic(err)
	}
}

// Lookup returns the pass registered under name.
func (r *Registry[E]) Lookup(name string) (PassInfo[E], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.passes[name]
	return info, ok
}

// List returns every registered pass sorted by name.
func (r *Registry[E]) List() []PassInfo[E] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PassInfo[E], 0, len(r.passes))
	for _, info := range r.passes {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Resolve expands names with their transitive requirements.
//
// Outputs:
//
//	[]string - Selected pass names plus requirements, sorted by name.
//	error - Wraps ErrUnknownPass for an unregistered name.
func (r *Registry[E]) Resolve(names []string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	selected := make(map[string]bool)
	var visit func(name string) error
	visit = func(name string) error {
		if selected[name] {
			return nil
		}
		info, ok := r.passes[name]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownPass, name)
		}
		selected[name] = true
		for _, dep := range info.Requires {
			if err := visit(dep); err != nil {
				return err
			}
		}
		return nil
	}

	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}

	out := make([]string, 0, len(selected))
	for name := range selected {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// Build resolves names, instantiates each pass with env and returns the
// validated DAG. An empty selection means every registered pass.
func (r *Registry[E]) Build(dagName string, env E, names []string) (*DAG, error) {
	if len(names) == 0 {
		for _, info := range r.List() {
			names = append(names, info.Name)
		}
	}

	resolved, err := r.Resolve(names)
	if err != nil {
		return nil, err
	}

	b := NewBuilder(dagName)
	for _, name := range resolved {
		info, _ := r.Lookup(name)
		node, err := info.Factory(env)
		if err != nil {
			return nil, NewNodeError(name, err)
		}
		if node.Name() != name {
			return nil, NewNodeError(name, fmt.Errorf("%w: factory built node %q", ErrInvalidInput, node.Name()))
		}
		b.AddNode(node)
	}
	return b.Build()
}
