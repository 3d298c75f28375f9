// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package influx writes hint pass reports to InfluxDB as time series.
//
// Each report becomes one "hintpass_report" point tagged with the unit and
// run mode, plus one "hintpass_rejection" point per function and rejection
// reason. Both are timestamped with the report's start time so repeated
// runs over a unit form a series.
package influx

import (
	"context"
	"errors"
	"fmt"
	"sort"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/AleutianAI/hintpass/services/hint"
)

// Measurement names.
const (
	MeasurementReport    = "hintpass_report"
	MeasurementRejection = "hintpass_rejection"
)

var (
	// ErrMissingURL is returned by New without a server URL.
	ErrMissingURL = errors.New("influx: server url is required")

	// ErrInvalidReport is returned when saving a nil report or one
	// without a unit.
	ErrInvalidReport = errors.New("influx: report needs a unit")
)

// Config is the influx section of the report store configuration.
type Config struct {
	// URL of the InfluxDB server. Empty disables the sink.
	URL string `yaml:"url,omitempty" validate:"omitempty,url"`

	// Token authenticates writes.
	Token string `yaml:"token,omitempty"`

	// Org and Bucket receive the points.
	Org    string `yaml:"org,omitempty" validate:"required_with=URL"`
	Bucket string `yaml:"bucket,omitempty" validate:"required_with=URL"`
}

// Sink writes reports through a blocking write API.
//
// Thread Safety: Safe for concurrent use.
type Sink struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
}

// New connects a sink to the server in cfg.
//
// Outputs:
//
//	*Sink - The sink. Close releases the client.
//	error - ErrMissingURL if cfg.URL is empty.
func New(cfg Config) (*Sink, error) {
	if cfg.URL == "" {
		return nil, ErrMissingURL
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Sink{
		client: client,
		write:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}, nil
}

// NewWithWriter wraps an existing write API. Close is then a no-op.
func NewWithWriter(w api.WriteAPIBlocking) *Sink {
	return &Sink{write: w}
}

// Save writes the points of r.
func (s *Sink) Save(ctx context.Context, r *hint.Report) error {
	if r == nil || r.Unit == "" {
		return ErrInvalidReport
	}
	points := Points(r)
	if err := s.write.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("influx: writing %d point(s) for %s: %w", len(points), r.Unit, err)
	}
	return nil
}

// Ping reports whether the server answers.
func (s *Sink) Ping(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	ok, err := s.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("influx: ping: %w", err)
	}
	if !ok {
		return errors.New("influx: server not ready")
	}
	return nil
}

// Close releases the underlying client.
func (s *Sink) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

// Points converts r into line protocol points.
func Points(r *hint.Report) []*write.Point {
	mode := "run"
	if r.DryRun {
		mode = "check"
	}

	t := r.Totals
	points := []*write.Point{
		influxdb2.NewPoint(
			MeasurementReport,
			map[string]string{"unit": r.Unit, "mode": mode},
			map[string]interface{}{
				"session_id":          r.SessionID,
				"functions":           t.Functions,
				"branches":            t.Branches,
				"not_hinted":          t.NotHinted,
				"malformed_call_site": t.MalformedCallSite,
				"hinted":              t.Hinted,
				"validation_failed":   t.ValidationFailed,
				"annotated":           t.Annotated,
				"duration_ms":         float64(r.Duration.Microseconds()) / 1000,
			},
			r.StartedAt,
		),
	}

	type key struct{ function, reason string }
	counts := make(map[key]int)
	for _, rec := range r.Failures() {
		counts[key{rec.Function, rec.Reason}]++
	}
	keys := make([]key, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].function != keys[j].function {
			return keys[i].function < keys[j].function
		}
		return keys[i].reason < keys[j].reason
	})
	for _, k := range keys {
		points = append(points, influxdb2.NewPoint(
			MeasurementRejection,
			map[string]string{"unit": r.Unit, "mode": mode, "function": k.function, "reason": k.reason},
			map[string]interface{}{"count": counts[k]},
			r.StartedAt,
		))
	}
	return points
}
