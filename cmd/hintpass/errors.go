// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import "errors"

var (
	// ErrValidationFailed is returned by "check --strict" when any hint
	// call was rejected.
	ErrValidationFailed = errors.New("hint validation failed")

	// ErrNoStore is returned when a command needs a report store and none
	// is configured.
	ErrNoStore = errors.New("no report store configured (use --store or store.dir)")

	// ErrOutputConflict is returned when -o is combined with several units.
	ErrOutputConflict = errors.New("-o accepts a single input unit")

	// ErrUnknownFormat is returned for an unsupported --emit or --format.
	ErrUnknownFormat = errors.New("unknown output format")
)
