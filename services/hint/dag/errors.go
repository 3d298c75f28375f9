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
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNilContext    = errors.New("nil context")
	ErrNilNode       = errors.New("nil pass")
	ErrDuplicateNode = errors.New("duplicate pass in pipeline")
	ErrNodeNotFound  = errors.New("pass not in pipeline")
	ErrCycleDetected = errors.New("pass dependencies form a cycle")
	ErrNodeTimeout   = errors.New("pass timed out")
	ErrInvalidInput  = errors.New("invalid input")

	// ErrUnknownPass is returned by Registry for an unregistered name.
	ErrUnknownPass = errors.New("unknown pass")

	// ErrDuplicatePass is returned by Registry.Register for a taken name.
	ErrDuplicatePass = errors.New("pass already registered")
)

// NodeError attributes an error to a pass.
type NodeError struct {
	NodeName string
	Err      error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("pass %s: %v", e.NodeName, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// NewNodeError wraps err with the pass name.
func NewNodeError(name string, err error) *NodeError {
	return &NodeError{NodeName: name, Err: err}
}

// CycleError lists a dependency loop; Path starts and ends on the same pass.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "dependency cycle: " + strings.Join(e.Path, " -> ")
}

func (e *CycleError) Unwrap() error { return ErrCycleDetected }

// NewCycleError returns a CycleError for path.
func NewCycleError(path []string) *CycleError {
	return &CycleError{Path: path}
}
