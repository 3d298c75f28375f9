// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"github.com/AleutianAI/hintpass/services/hint"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code"`
}

// HealthResponse is the body of GET /v1/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// PassResponse describes one registered pass.
type PassResponse struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Requires    []string `json:"requires"`
}

// PassQuery holds the per-request overrides accepted by /v1/annotate and
// /v1/check. Unset fields keep the server's configuration. Unit names the
// posted unit when its document has no "unit" field.
type PassQuery struct {
	Unit     string   `form:"unit"`
	HintFn   string   `form:"hint_fn"`
	Match    string   `form:"match"`
	Likely   *uint32  `form:"likely"`
	Unlikely *uint32  `form:"unlikely"`
	Swap     *bool    `form:"swap"`
	Passes   []string `form:"passes"`
	Emit     string   `form:"emit" binding:"omitempty,oneof=text yaml none"`
	Strict   bool     `form:"strict"`
}

// AnnotateResponse is the body of POST /v1/annotate and /v1/check.
type AnnotateResponse struct {
	// SessionID identifies the pipeline run.
	SessionID string `json:"session_id"`

	// Report is nil when the hint pass was not selected.
	Report *hint.Report `json:"report,omitempty"`

	// Module is the annotated unit in the requested format. Empty for
	// /v1/check and emit=none.
	Module string `json:"module,omitempty"`
}

// UnitsResponse is the body of GET /v1/reports.
type UnitsResponse struct {
	Units []string `json:"units"`
}

// ReportsResponse is the body of GET /v1/reports/<unit>.
type ReportsResponse struct {
	Unit    string         `json:"unit"`
	Reports []*hint.Report `json:"reports"`
}

// Event is pushed to /v1/events subscribers after every pipeline run.
type Event struct {
	Type      string      `json:"type"`
	Unit      string      `json:"unit"`
	SessionID string      `json:"session_id"`
	DryRun    bool        `json:"dry_run,omitempty"`
	Totals    hint.Totals `json:"totals"`
}
