// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import "errors"

var (
	// ErrMissingPath indicates an on-disk store was opened without a path.
	ErrMissingPath = errors.New("path is required for persistent report store")

	// ErrReportNotFound indicates no report matches the requested key.
	ErrReportNotFound = errors.New("report not found")

	// ErrInvalidReport indicates a report without a unit or session ID.
	ErrInvalidReport = errors.New("report needs a unit and a session ID")
)
