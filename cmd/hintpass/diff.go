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
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/sourcegraph/go-diff/diff"
)

// diffContext is the number of unchanged lines shown around a change.
const diffContext = 3

// unifiedDiff compares two listings line by line. It returns nil when they
// are identical.
func unifiedDiff(origName, newName, before, after string) *diff.FileDiff {
	a, b := splitLines(before), splitLines(after)
	groups := difflib.NewMatcher(a, b).GetGroupedOpCodes(diffContext)
	if len(groups) == 0 {
		return nil
	}

	fd := &diff.FileDiff{OrigName: origName, NewName: newName}
	for _, g := range groups {
		fd.Hunks = append(fd.Hunks, toHunk(g, a, b))
	}
	return fd
}

func splitLines(s string) []string {
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// toHunk renders one group of opcodes. Replaced lines list deletions
// before insertions.
func toHunk(g []difflib.OpCode, a, b []string) *diff.Hunk {
	first, last := g[0], g[len(g)-1]
	h := &diff.Hunk{
		OrigStartLine: int32(first.I1 + 1),
		OrigLines:     int32(last.I2 - first.I1),
		NewStartLine:  int32(first.J1 + 1),
		NewLines:      int32(last.J2 - first.J1),
	}
	if h.OrigLines == 0 {
		h.OrigStartLine--
	}
	if h.NewLines == 0 {
		h.NewStartLine--
	}

	var body strings.Builder
	write := func(prefix byte, lines []string) {
		for _, l := range lines {
			body.WriteByte(prefix)
			body.WriteString(l)
			body.WriteByte('\n')
		}
	}
	for _, op := range g {
		switch op.Tag {
		case 'e':
			write(' ', a[op.I1:op.I2])
		case 'd':
			write('-', a[op.I1:op.I2])
		case 'i':
			write('+', b[op.J1:op.J2])
		case 'r':
			write('-', a[op.I1:op.I2])
			write('+', b[op.J1:op.J2])
		}
	}
	h.Body = []byte(body.String())
	return h
}
