// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import "errors"

var (
	ErrNilContext = errors.New("context must not be nil")

	// ErrUnknownExporter names a trace or metric exporter Init does not
	// support.
	ErrUnknownExporter = errors.New("unknown exporter type")

	// ErrTextfileNeedsPrometheus is returned when a metrics textfile is
	// configured for an exporter other than prometheus.
	ErrTextfileNeedsPrometheus = errors.New("metrics_textfile requires the prometheus metric exporter")
)
