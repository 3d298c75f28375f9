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

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/AleutianAI/hintpass/pkg/ux"
	"github.com/AleutianAI/hintpass/services/hint"
)

// printSummary prints the branch table and totals of one report. Branches
// that are not hinted are listed only when verbose is set.
func printSummary(p *ux.Printer, r *hint.Report, verbose bool) {
	title := r.Unit
	if r.DryRun {
		title += " (dry run)"
	}
	p.Title(title)

	var rows [][]string
	for _, rec := range r.Branches {
		if rec.State == hint.StateNotHinted && !verbose {
			continue
		}
		rows = append(rows, branchRow(rec))
	}
	if len(rows) > 0 {
		p.Table([]string{"function", "block", "state", "expected", "weights", "note"}, rows)
	}

	p.Counts(
		ux.Count{N: r.Totals.Branches, Label: "branches", Style: ux.Styles.Bold},
		ux.Count{N: r.Totals.Hinted, Label: "hinted", Style: ux.Styles.Bold},
		ux.Count{N: r.Totals.Annotated, Label: "annotated", Style: ux.Styles.Success},
		ux.Count{N: r.Totals.ValidationFailed, Label: "rejected", Style: ux.Styles.Warning},
		ux.Count{N: r.Totals.MalformedCallSite, Label: "malformed", Style: ux.Styles.Error},
	)
}

func branchRow(rec hint.BranchRecord) []string {
	expected := "-"
	if rec.Expected != nil {
		expected = strconv.FormatInt(*rec.Expected, 10)
	}
	weights := "-"
	if len(rec.Weights) == 2 {
		weights = fmt.Sprintf("%d:%d", rec.Weights[0], rec.Weights[1])
	}

	var notes []string
	if rec.Swapped {
		notes = append(notes, "swapped")
	}
	if rec.Reason != "" {
		notes = append(notes, rec.Reason)
	}
	note := strings.Join(notes, ", ")
	if note == "" {
		note = "-"
	}
	return []string{rec.Function, rec.Block, string(rec.State), expected, weights, note}
}
