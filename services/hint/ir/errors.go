// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ir

import (
	"errors"
	"fmt"
)

// Sentinel errors for unit decoding and verification.
//
// These errors can be checked using errors.Is() to determine the
// category of failure without inspecting error messages.
var (
	// ErrMalformedUnit indicates that a unit file could not be turned into
	// a Module: unknown opcode, dangling operand reference, duplicate names.
	ErrMalformedUnit = errors.New("malformed unit")

	// ErrUnsupportedFormat indicates the unit header declares a format
	// version this package cannot read.
	ErrUnsupportedFormat = errors.New("unsupported unit format")

	// ErrVerifyFailed indicates that a Module violates a structural rule
	// (missing terminator, wrong successor count, foreign successor).
	ErrVerifyFailed = errors.New("module verification failed")
)

// ParseError locates a decoding failure inside a unit.
//
// Function and Block are empty when the failure is at unit level.
// The wrapped error is always ErrMalformedUnit or ErrUnsupportedFormat.
type ParseError struct {
	Function string
	Block    string
	Msg      string
	Err      error
}

func (e *ParseError) Error() string {
	switch {
	case e.Block != "":
		return fmt.Sprintf("%v: @%s/%s: %s", e.Err, e.Function, e.Block, e.Msg)
	case e.Function != "":
		return fmt.Sprintf("%v: @%s: %s", e.Err, e.Function, e.Msg)
	default:
		return fmt.Sprintf("%v: %s", e.Err, e.Msg)
	}
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func malformed(fn, block, format string, args ...any) *ParseError {
	return &ParseError{
		Function: fn,
		Block:    block,
		Msg:      fmt.Sprintf(format, args...),
		Err:      ErrMalformedUnit,
	}
}

// VerifyError collects every structural problem found by Verify.
type VerifyError struct {
	Problems []string
}

func (e *VerifyError) Error() string {
	if len(e.Problems) == 1 {
		return fmt.Sprintf("%v: %s", ErrVerifyFailed, e.Problems[0])
	}
	return fmt.Sprintf("%v: %d problems, first: %s", ErrVerifyFailed, len(e.Problems), e.Problems[0])
}

func (e *VerifyError) Unwrap() error {
	return ErrVerifyFailed
}
