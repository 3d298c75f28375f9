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
	"strconv"
	"strings"
	"testing"

	"github.com/sourcegraph/go-diff/diff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lines(n int, prefix string) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		b.WriteString(prefix)
		b.WriteString(strings.Repeat("x", i))
		b.WriteByte('\n')
	}
	return b.String()
}

func TestUnifiedDiff_ReplaceAndAppend(t *testing.T) {
	fd := unifiedDiff("a/x", "b/x", "a\nb\nc\n", "a\nB\nc\nd\n")
	require.NotNil(t, fd)
	require.Len(t, fd.Hunks, 1)
	assert.Equal(t, " a\n-b\n+B\n c\n+d\n", string(fd.Hunks[0].Body))
	assert.Equal(t, int32(3), fd.Hunks[0].OrigLines)
	assert.Equal(t, int32(4), fd.Hunks[0].NewLines)
}

func TestUnifiedDiff_LongListing(t *testing.T) {
	var before, after strings.Builder
	for i := range 5000 {
		line := "  %v" + strconv.Itoa(i) + " = add i32 %a, 1\n"
		before.WriteString(line)
		if i == 2500 {
			line = "  %v2500 = sub i32 %a, 1\n"
		}
		after.WriteString(line)
	}

	fd := unifiedDiff("a/f", "b/f", before.String(), after.String())
	require.NotNil(t, fd)
	require.Len(t, fd.Hunks, 1)
	assert.Equal(t, int32(2498), fd.Hunks[0].OrigStartLine)
	assert.Equal(t, int32(7), fd.Hunks[0].OrigLines)
	assert.Contains(t, string(fd.Hunks[0].Body), "+  %v2500 = sub i32 %a, 1\n")
}

func TestUnifiedDiff_Identical(t *testing.T) {
	assert.Nil(t, unifiedDiff("a/x", "b/x", "same\n", "same\n"))
	assert.Nil(t, unifiedDiff("a/x", "b/x", "", ""))
}

func TestUnifiedDiff_SingleHunk(t *testing.T) {
	before := "one\ntwo\nthree\n"
	after := "one\nTWO\nthree\n"

	fd := unifiedDiff("a/f", "b/f", before, after)
	require.NotNil(t, fd)
	require.Len(t, fd.Hunks, 1)

	h := fd.Hunks[0]
	assert.Equal(t, int32(1), h.OrigStartLine)
	assert.Equal(t, int32(3), h.OrigLines)
	assert.Equal(t, int32(1), h.NewStartLine)
	assert.Equal(t, int32(3), h.NewLines)
	assert.Equal(t, " one\n-two\n+TWO\n three\n", string(h.Body))
}

func TestUnifiedDiff_SplitsDistantChanges(t *testing.T) {
	before := lines(20, "l")
	a := strings.Split(strings.TrimSuffix(before, "\n"), "\n")
	b := append([]string{}, a...)
	b[1] = "changed-2"
	b[17] = "changed-18"
	after := strings.Join(b, "\n") + "\n"

	fd := unifiedDiff("a/f", "b/f", before, after)
	require.NotNil(t, fd)
	require.Len(t, fd.Hunks, 2)

	assert.Equal(t, int32(1), fd.Hunks[0].OrigStartLine)
	assert.Equal(t, int32(5), fd.Hunks[0].OrigLines)
	assert.Equal(t, int32(15), fd.Hunks[1].OrigStartLine)
	assert.Equal(t, int32(6), fd.Hunks[1].OrigLines)
}

func TestUnifiedDiff_MergesNearbyChanges(t *testing.T) {
	before := lines(10, "l")
	a := strings.Split(strings.TrimSuffix(before, "\n"), "\n")
	b := append([]string{}, a...)
	b[2] = "c3"
	b[6] = "c7"
	after := strings.Join(b, "\n") + "\n"

	fd := unifiedDiff("a/f", "b/f", before, after)
	require.NotNil(t, fd)
	assert.Len(t, fd.Hunks, 1)
}

func TestUnifiedDiff_EmptySide(t *testing.T) {
	fd := unifiedDiff("a/f", "b/f", "", "new\n")
	require.NotNil(t, fd)
	require.Len(t, fd.Hunks, 1)
	assert.Equal(t, int32(0), fd.Hunks[0].OrigStartLine)
	assert.Equal(t, int32(0), fd.Hunks[0].OrigLines)
	assert.Equal(t, int32(1), fd.Hunks[0].NewStartLine)
	assert.Equal(t, int32(1), fd.Hunks[0].NewLines)
}

func TestUnifiedDiff_RoundTrip(t *testing.T) {
	before := "define @f() {\nentry:\n  br %c, label %a, label %b\n}\n"
	after := "define @f() {\nentry:\n  br %c, label %a, label %b, !prof !{\"branch_weights\", 1, 2000}\n}\n"

	fd := unifiedDiff("a/f.yaml", "b/f.yaml", before, after)
	require.NotNil(t, fd)

	out, err := diff.PrintFileDiff(fd)
	require.NoError(t, err)

	parsed, err := diff.ParseFileDiff(out)
	require.NoError(t, err)
	assert.Equal(t, "a/f.yaml", parsed.OrigName)
	assert.Equal(t, "b/f.yaml", parsed.NewName)
	require.Len(t, parsed.Hunks, 1)
	assert.Equal(t, fd.Hunks[0].Body, parsed.Hunks[0].Body)
	assert.Equal(t, int32(4), parsed.Hunks[0].NewLines)
}
