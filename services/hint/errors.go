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
	"errors"
	"fmt"
)

// Sentinel errors for hint validation and pass configuration.
var (
	// ErrNonConstantHint is returned when the expected value of a hint call
	// is not a compile-time constant. The branch is left unmodified.
	ErrNonConstantHint = errors.New("hint expected value is not a constant")

	// ErrNonBooleanHint is returned when the expected value is a constant
	// other than 0 or 1. The branch is left unmodified.
	ErrNonBooleanHint = errors.New("hint expected value is not 0 or 1")

	// ErrInvalidConfig is returned when a Config fails validation.
	ErrInvalidConfig = errors.New("invalid hint pass configuration")

	// ErrNilModule is returned when a pass is run without a module.
	ErrNilModule = errors.New("module must not be nil")
)

// ValidationError reports a recognized hint that was called incorrectly.
//
// It unwraps to ErrNonConstantHint or ErrNonBooleanHint. Validation errors
// are local: the driver records them and moves on to the next branch.
type ValidationError struct {
	Function string
	Block    string
	Callee   string
	Err      error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("@%s/%s: call to %s: %v", e.Function, e.Block, e.Callee, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
