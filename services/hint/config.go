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
	"regexp"

	"github.com/go-playground/validator/v10"
)

// Default tuning values.
const (
	// DefaultHintFunction is the callee name that marks a hint call.
	DefaultHintFunction = "__builtin_expect_"

	// DefaultLikelyWeight is attached to the edge expected to be taken.
	DefaultLikelyWeight uint32 = 2000

	// DefaultUnlikelyWeight is attached to the other edge.
	DefaultUnlikelyWeight uint32 = 1
)

// MatchPolicy decides how a callee name is compared to the hint function.
//
// MatchExact only accepts the exact name and misses mangled call sites.
// MatchSubstring accepts any name containing the hint name, which tolerates
// mangling but also accepts unrelated functions sharing the fragment.
type MatchPolicy string

const (
	// MatchExact requires the callee name to equal the hint function name.
	MatchExact MatchPolicy = "exact"

	// MatchSubstring requires the callee name to contain the hint function name.
	MatchSubstring MatchPolicy = "substring"
)

// Config carries everything the recognizer and annotator need.
//
// Use DefaultConfig() for the historical behavior: exact match on
// "__builtin_expect_", weights 2000:1, no edge swapping.
type Config struct {
	// HintFunction is the callee name identifying hint calls.
	HintFunction string `yaml:"hint_function" json:"hint_function" validate:"required,symbol"`

	// Match selects exact or substring comparison of callee names.
	Match MatchPolicy `yaml:"match" json:"match" validate:"oneof=exact substring"`

	// LikelyWeight is attached to the edge the hint favours. Must be
	// greater than UnlikelyWeight.
	LikelyWeight uint32 `yaml:"likely_weight" json:"likely_weight" validate:"gtfield=UnlikelyWeight"`

	// UnlikelyWeight is attached to the other edge. Must be non-zero.
	UnlikelyWeight uint32 `yaml:"unlikely_weight" json:"unlikely_weight" validate:"gt=0"`

	// SwapOnFalseHint reorders the successors of branches hinted with 0 so
	// the likely block comes first. The condition is inverted to keep the
	// program's meaning. Off by default.
	SwapOnFalseHint bool `yaml:"swap_on_false_hint" json:"swap_on_false_hint"`

	// Parallelism bounds how many functions Pass.Run processes at once.
	// Zero or one means sequential.
	Parallelism int `yaml:"parallelism" json:"parallelism" validate:"gte=0,lte=256"`
}

// DefaultConfig returns the historical pass configuration.
func DefaultConfig() Config {
	return Config{
		HintFunction:   DefaultHintFunction,
		Match:          MatchExact,
		LikelyWeight:   DefaultLikelyWeight,
		UnlikelyWeight: DefaultUnlikelyWeight,
	}
}

// symbolPattern accepts C, C++ mangled and Rust-style symbol names.
var symbolPattern = regexp.MustCompile(`^[A-Za-z_.$][A-Za-z0-9_.$]*$`)

// configValidate is shared by every Config.Validate call.
var configValidate *validator.Validate

func init() {
	configValidate = validator.New()
	_ = configValidate.RegisterValidation("symbol", func(fl validator.FieldLevel) bool {
		return symbolPattern.MatchString(fl.Field().String())
	})
}

// Validate checks the configuration.
//
// Outputs:
//
//	error - nil, or an error wrapping ErrInvalidConfig that names each
//	        offending field.
func (c Config) Validate() error {
	err := configValidate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	msgs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Errorf("%s fails %q (value %v)", fe.Field(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(msgs...))
}
