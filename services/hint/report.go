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
	"time"

	"github.com/google/uuid"
)

// BranchState is the final state of one conditional branch after a pass.
//
// Transitions: unexamined -> {not_hinted | malformed_call_site | hinted},
// then hinted -> {validation_failed | annotated}. A dry run stops at
// hinted.
type BranchState string

const (
	// StateNotHinted means the condition is not derived from a hint call.
	StateNotHinted BranchState = "not_hinted"

	// StateMalformedCallSite means the condition comes from an indirect call.
	StateMalformedCallSite BranchState = "malformed_call_site"

	// StateHinted means a valid hint was found but the branch was not
	// mutated (dry run).
	StateHinted BranchState = "hinted"

	// StateValidationFailed means the hint call was rejected.
	StateValidationFailed BranchState = "validation_failed"

	// StateAnnotated means weights were attached.
	StateAnnotated BranchState = "annotated"
)

// BranchRecord describes what the pass did with one conditional branch.
type BranchRecord struct {
	Function string      `yaml:"function" json:"function"`
	Block    string      `yaml:"block" json:"block"`
	State    BranchState `yaml:"state" json:"state"`
	Callee   string      `yaml:"callee,omitempty" json:"callee,omitempty"`
	Expected *int64      `yaml:"expected,omitempty" json:"expected,omitempty"`
	Weights  []uint32    `yaml:"weights,omitempty,flow" json:"weights,omitempty"`
	Swapped  bool        `yaml:"swapped,omitempty" json:"swapped,omitempty"`
	Reason   string      `yaml:"reason,omitempty" json:"reason,omitempty"`
}

// Totals aggregates the branch records of a report.
type Totals struct {
	Functions         int `yaml:"functions" json:"functions"`
	Branches          int `yaml:"branches" json:"branches"`
	NotHinted         int `yaml:"not_hinted" json:"not_hinted"`
	MalformedCallSite int `yaml:"malformed_call_site" json:"malformed_call_site"`
	Hinted            int `yaml:"hinted" json:"hinted"`
	ValidationFailed  int `yaml:"validation_failed" json:"validation_failed"`
	Annotated         int `yaml:"annotated" json:"annotated"`
}

// Report is the result of one pass over one unit.
//
// Hinted in Totals counts every branch whose condition came from a hint
// call, whatever happened afterwards.
type Report struct {
	Unit      string         `yaml:"unit" json:"unit"`
	SessionID string         `yaml:"session_id" json:"session_id"`
	TraceID   string         `yaml:"trace_id,omitempty" json:"trace_id,omitempty"`
	DryRun    bool           `yaml:"dry_run,omitempty" json:"dry_run,omitempty"`
	StartedAt time.Time      `yaml:"started_at" json:"started_at"`
	Duration  time.Duration  `yaml:"duration" json:"duration"`
	Branches  []BranchRecord `yaml:"branches" json:"branches"`
	Totals    Totals         `yaml:"totals" json:"totals"`
}

func newReport(unit string, dryRun bool) *Report {
	return &Report{
		Unit:      unit,
		SessionID: uuid.NewString(),
		DryRun:    dryRun,
		StartedAt: time.Now().UTC(),
		Branches:  []BranchRecord{},
	}
}

// add appends records and updates the totals.
func (r *Report) add(recs ...BranchRecord) {
	for _, rec := range recs {
		r.Branches = append(r.Branches, rec)
		r.Totals.Branches++
		switch rec.State {
		case StateNotHinted:
			r.Totals.NotHinted++
		case StateMalformedCallSite:
			r.Totals.MalformedCallSite++
		case StateHinted:
			r.Totals.Hinted++
		case StateValidationFailed:
			r.Totals.Hinted++
			r.Totals.ValidationFailed++
		case StateAnnotated:
			r.Totals.Hinted++
			r.Totals.Annotated++
		}
	}
}

// Failures returns the records whose hint call was rejected.
func (r *Report) Failures() []BranchRecord {
	var out []BranchRecord
	for _, rec := range r.Branches {
		if rec.State == StateValidationFailed {
			out = append(out, rec)
		}
	}
	return out
}

// HasFailures reports whether any hint call was rejected.
func (r *Report) HasFailures() bool {
	return r.Totals.ValidationFailed > 0
}

// Merge folds other's records and totals into r. Used when one session
// covers several units.
func (r *Report) Merge(other *Report) {
	if other == nil {
		return
	}
	r.add(other.Branches...)
	r.Totals.Functions += other.Totals.Functions
	r.Duration += other.Duration
}

// reasonOf maps a validation error to its short report label.
func reasonOf(err error) string {
	switch {
	case errors.Is(err, ErrNonConstantHint):
		return "non_constant"
	case errors.Is(err, ErrNonBooleanHint):
		return "non_boolean"
	default:
		return "unknown"
	}
}
