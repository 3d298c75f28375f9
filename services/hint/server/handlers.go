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
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/hintpass/services/hint"
	"github.com/AleutianAI/hintpass/services/hint/dag"
	"github.com/AleutianAI/hintpass/services/hint/dag/nodes"
	"github.com/AleutianAI/hintpass/services/hint/ir"
	"github.com/AleutianAI/hintpass/services/hint/storage/badger"
)

// HandleHealth handles GET /v1/health.
func (s *Server) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Version: s.opts.Version})
}

// HandlePasses handles GET /v1/passes.
func (s *Server) HandlePasses(c *gin.Context) {
	infos := nodes.Registry.List()
	out := make([]PassResponse, 0, len(infos))
	for _, info := range infos {
		requires := info.Requires
		if requires == nil {
			requires = []string{}
		}
		out = append(out, PassResponse{Name: info.Name, Description: info.Description, Requires: requires})
	}
	c.JSON(http.StatusOK, out)
}

// HandleAnnotate handles POST /v1/annotate.
//
// Description:
//
//	Decodes the unit in the request body, runs the selected passes over it
//	and returns the report together with the annotated unit.
//
// Query Parameters:
//
//	unit, hint_fn, match, likely, unlikely, swap, passes: see PassQuery.
//	emit: text (default), yaml or none.
//	strict: respond 422 if any hint call was rejected.
//
// Response:
//
//	200 OK: AnnotateResponse
//	400 Bad Request: invalid query, unit or pass selection
//	413 Request Entity Too Large: unit above max_body_bytes
//	422 Unprocessable Entity: verification failed, or strict with rejections
func (s *Server) HandleAnnotate(c *gin.Context) {
	s.handleUnit(c, false)
}

// HandleCheck handles POST /v1/check. It is HandleAnnotate as a dry run,
// without the module in the response.
func (s *Server) HandleCheck(c *gin.Context) {
	s.handleUnit(c, true)
}

func (s *Server) handleUnit(c *gin.Context, dryRun bool) {
	logger := s.logger.With(slog.String(requestIDKey, c.GetString(requestIDKey)))

	var q PassQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		abort(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	cfg, err := s.passConfig(q)
	if err != nil {
		abort(c, http.StatusBadRequest, "INVALID_CONFIG", err.Error())
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			abort(c, http.StatusRequestEntityTooLarge, "UNIT_TOO_LARGE", err.Error())
			return
		}
		abort(c, http.StatusBadRequest, "INVALID_UNIT", err.Error())
		return
	}
	m, err := ir.Decode(bytes.NewReader(body))
	if err != nil {
		abort(c, http.StatusBadRequest, "INVALID_UNIT", err.Error())
		return
	}
	if m.Name == "" {
		m.Name = q.Unit
	}
	if m.Name == "" {
		abort(c, http.StatusBadRequest, "MISSING_UNIT", "unit has no name; set its unit field or the unit parameter")
		return
	}

	env := &nodes.Env{
		Config:  cfg,
		DryRun:  dryRun,
		Logger:  logger,
		Metrics: s.opts.Metrics,
		Store:   s.opts.Store,
	}
	result, err := nodes.Run(c.Request.Context(), env, m, s.passSelection(q))
	if err != nil {
		status, code := classify(err)
		logger.Warn("pipeline failed", slog.String("unit", m.Name), slog.String("error", err.Error()))
		abort(c, status, code, err.Error())
		return
	}

	report := nodes.ReportOf(result)
	if report != nil {
		s.hub.Publish(Event{
			Type:      "report",
			Unit:      report.Unit,
			SessionID: report.SessionID,
			DryRun:    report.DryRun,
			Totals:    report.Totals,
		})
	}

	resp := AnnotateResponse{SessionID: result.SessionID, Report: report}
	if !dryRun {
		var buf bytes.Buffer
		switch q.Emit {
		case "none":
		case "yaml":
			err = ir.Encode(&buf, m)
		default:
			err = ir.Print(&buf, m)
		}
		if err != nil {
			abort(c, http.StatusInternalServerError, "EMIT_FAILED", err.Error())
			return
		}
		resp.Module = buf.String()
	}

	status := http.StatusOK
	if q.Strict && report != nil && report.HasFailures() {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, resp)
}

// passConfig overlays q on the server's pass configuration.
func (s *Server) passConfig(q PassQuery) (hint.Config, error) {
	cfg := s.opts.Pass
	if q.HintFn != "" {
		cfg.HintFunction = q.HintFn
	}
	if q.Match != "" {
		cfg.Match = hint.MatchPolicy(q.Match)
	}
	if q.Likely != nil {
		cfg.LikelyWeight = *q.Likely
	}
	if q.Unlikely != nil {
		cfg.UnlikelyWeight = *q.Unlikely
	}
	if q.Swap != nil {
		cfg.SwapOnFalseHint = *q.Swap
	}
	return cfg, cfg.Validate()
}

// passSelection accepts repeated and comma-separated passes parameters.
func (s *Server) passSelection(q PassQuery) []string {
	var out []string
	for _, p := range q.Passes {
		for _, name := range strings.Split(p, ",") {
			if name = strings.TrimSpace(name); name != "" {
				out = append(out, name)
			}
		}
	}
	if len(out) == 0 {
		return s.opts.Passes
	}
	return out
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, dag.ErrUnknownPass):
		return http.StatusBadRequest, "UNKNOWN_PASS"
	case errors.Is(err, hint.ErrInvalidConfig):
		return http.StatusBadRequest, "INVALID_CONFIG"
	case errors.Is(err, ir.ErrVerifyFailed):
		return http.StatusUnprocessableEntity, "VERIFY_FAILED"
	case errors.Is(err, dag.ErrNodeTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT"
	case errors.Is(err, context.Canceled):
		return 499, "CANCELED"
	default:
		return http.StatusInternalServerError, "PIPELINE_FAILED"
	}
}

// HandleUnits handles GET /v1/reports.
func (s *Server) HandleUnits(c *gin.Context) {
	if s.opts.Reports == nil {
		abort(c, http.StatusServiceUnavailable, "NO_STORE", ErrNoReportStore.Error())
		return
	}
	units, err := s.opts.Reports.Units(c.Request.Context())
	if err != nil {
		abort(c, http.StatusInternalServerError, "STORE_FAILED", err.Error())
		return
	}
	if units == nil {
		units = []string{}
	}
	c.JSON(http.StatusOK, UnitsResponse{Units: units})
}

// HandleReports handles GET /v1/reports/<unit>.
//
// Query Parameters:
//
//	session: return only this session's report.
//	latest: "true" returns only the most recent report.
func (s *Server) HandleReports(c *gin.Context) {
	unit := strings.TrimPrefix(c.Param("unit"), "/")
	if unit == "" {
		s.HandleUnits(c)
		return
	}
	if s.opts.Reports == nil {
		abort(c, http.StatusServiceUnavailable, "NO_STORE", ErrNoReportStore.Error())
		return
	}

	ctx := c.Request.Context()
	var (
		reports []*hint.Report
		err     error
	)
	switch {
	case c.Query("session") != "":
		var r *hint.Report
		r, err = s.opts.Reports.Get(ctx, unit, c.Query("session"))
		reports = []*hint.Report{r}
	case c.Query("latest") == "true":
		var r *hint.Report
		r, err = s.opts.Reports.Latest(ctx, unit)
		reports = []*hint.Report{r}
	default:
		reports, err = s.opts.Reports.List(ctx, unit)
	}

	switch {
	case errors.Is(err, badger.ErrReportNotFound):
		abort(c, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	case err != nil:
		abort(c, http.StatusInternalServerError, "STORE_FAILED", err.Error())
		return
	case len(reports) == 0:
		abort(c, http.StatusNotFound, "NOT_FOUND", "no reports for "+unit)
		return
	}
	c.JSON(http.StatusOK, ReportsResponse{Unit: unit, Reports: reports})
}
