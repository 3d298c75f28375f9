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
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/hintpass/services/hint"
	"github.com/AleutianAI/hintpass/services/hint/server"
)

func fixture(name string) string {
	return filepath.Join("..", "..", "services", "hint", "testdata", name)
}

// runCLI executes hintpass with a fresh empty config file.
func runCLI(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "hintpass.yaml")
	require.NoError(t, os.WriteFile(cfgPath, nil, 0600))

	var out, errOut bytes.Buffer
	full := append([]string{"--config", cfgPath, "--output-mode", "machine"}, args...)
	err = execute(context.Background(), full, &out, &errOut)
	return out.String(), errOut.String(), err
}

func TestVersion(t *testing.T) {
	var out bytes.Buffer
	err := execute(context.Background(), []string{"version"}, &out, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "hintpass dev\n", out.String())
}

func TestVersion_Host(t *testing.T) {
	var out bytes.Buffer
	err := execute(context.Background(), []string{"version", "--host"}, &out, &bytes.Buffer{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out.String(), "hintpass dev\n"))
	assert.Contains(t, out.String(), "Host CPU: ")
	assert.Contains(t, out.String(), "logical")
}

func TestPasses(t *testing.T) {
	out, _, err := runCLI(t, "passes")
	require.NoError(t, err)

	assert.Contains(t, out, "hello\tBranch hint weighting pass\t[VERIFY]")
	assert.Contains(t, out, "VERIFY\tStructural IR verification\t-")
	assert.Contains(t, out, "REPORT\t")
}

func TestRun_EmitText(t *testing.T) {
	out, errOut, err := runCLI(t, "run", fixture("expect_direct.yaml"))
	require.NoError(t, err)

	assert.Contains(t, out, "define @main()")
	assert.Contains(t, out, `!prof !{"branch_weights", 1, 2000}`)
	assert.Contains(t, errOut, "main\tentry\tannotated\t1\t1:2000\t-")
	assert.Contains(t, errOut, "SUMMARY\tbranches=1 hinted=1 annotated=1 rejected=0 malformed=0")
}

func TestRun_EmitYAMLToFile(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "out.yaml")
	out, _, err := runCLI(t, "run", "--emit", "yaml", "-o", dst, fixture("expect_cmp.yaml"))
	require.NoError(t, err)
	assert.Empty(t, out)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Contains(t, string(data), "unit: expect_cmp.c")
	assert.Contains(t, string(data), "weights")
}

func TestRun_EmitNone(t *testing.T) {
	out, _, err := runCLI(t, "run", "--emit", "none", fixture("loop.yaml"))
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRun_EmitDiff(t *testing.T) {
	out, _, err := runCLI(t, "run", "--emit", "diff", fixture("expect_direct.yaml"))
	require.NoError(t, err)

	assert.Contains(t, out, "--- a/"+fixture("expect_direct.yaml"))
	assert.Contains(t, out, "@@ -")

	var removed, added []string
	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"):
		case strings.HasPrefix(line, "-"):
			removed = append(removed, line)
		case strings.HasPrefix(line, "+"):
			added = append(added, line)
		}
	}
	require.Len(t, removed, 1)
	require.Len(t, added, 1)
	assert.Contains(t, removed[0], "br ")
	assert.NotContains(t, removed[0], "!prof")
	assert.Contains(t, added[0], `!prof !{"branch_weights", 1, 2000}`)
}

func TestRun_EmitDiffUnchanged(t *testing.T) {
	out, _, err := runCLI(t, "run", "--emit", "diff", "--passes", "VERIFY", fixture("loop.yaml"))
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRun_FlagErrors(t *testing.T) {
	_, _, err := runCLI(t, "run", "--emit", "json", fixture("loop.yaml"))
	assert.ErrorIs(t, err, ErrUnknownFormat)

	_, _, err = runCLI(t, "run", "-o", "x", fixture("loop.yaml"), fixture("expect_cmp.yaml"))
	assert.ErrorIs(t, err, ErrOutputConflict)

	_, _, err = runCLI(t, "run", "--likely", "1", "--unlikely", "5", fixture("loop.yaml"))
	assert.ErrorIs(t, err, hint.ErrInvalidConfig)

	_, _, err = runCLI(t, "run", "--match", "fuzzy", fixture("loop.yaml"))
	assert.ErrorIs(t, err, hint.ErrInvalidConfig)

	_, _, err = runCLI(t, "run")
	assert.Error(t, err)

	_, _, err = runCLI(t, "run", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRun_MatchAndWeightOverrides(t *testing.T) {
	out, _, err := runCLI(t, "run", fixture("mangled.yaml"))
	require.NoError(t, err)
	assert.NotContains(t, out, "!prof")

	out, _, err = runCLI(t, "run", "--match", "substring", "--likely", "64", "--unlikely", "4", fixture("mangled.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "!prof")
	assert.Contains(t, out, "64")
}

func TestRun_VerifyOnly(t *testing.T) {
	out, errOut, err := runCLI(t, "run", "--passes", "VERIFY", fixture("expect_direct.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "define @main()")
	assert.NotContains(t, out, "!prof")
	assert.NotContains(t, errOut, "SUMMARY")
}

func TestRun_UnknownPass(t *testing.T) {
	_, _, err := runCLI(t, "run", "--passes", "licm", fixture("loop.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "licm")
}

func TestCheck(t *testing.T) {
	out, _, err := runCLI(t, "check", fixture("invalid_hints.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "validation_failed")
	assert.Contains(t, out, "WARN\tinvalid_hints.rs: @")
	assert.Contains(t, out, "rejected=2")

	_, _, err = runCLI(t, "check", "--strict", fixture("invalid_hints.yaml"))
	assert.ErrorIs(t, err, ErrValidationFailed)

	_, _, err = runCLI(t, "check", "--strict", fixture("expect_direct.yaml"))
	assert.NoError(t, err)
}

func TestCheck_DoesNotEmitIR(t *testing.T) {
	out, _, err := runCLI(t, "check", "-v", fixture("loop.yaml"))
	require.NoError(t, err)
	assert.NotContains(t, out, "define @")
	assert.Contains(t, out, "not_hinted")
	assert.Contains(t, out, "hinted=1 annotated=0")
}

func TestStoreAndReport(t *testing.T) {
	store := filepath.Join(t.TempDir(), "reports")

	_, _, err := runCLI(t, "run", "--emit", "none", "--store", store, fixture("loop.yaml"))
	require.NoError(t, err)
	_, _, err = runCLI(t, "check", "--store", store, fixture("loop.yaml"))
	require.NoError(t, err)

	out, _, err := runCLI(t, "report", "--store", store)
	require.NoError(t, err)
	assert.Equal(t, "loop.rs\n", out)

	out, _, err = runCLI(t, "report", "--store", store, "loop.rs")
	require.NoError(t, err)
	assert.Contains(t, out, "SUMMARY\t")
	assert.Contains(t, out, "hinted=1 annotated=0")

	out, _, err = runCLI(t, "report", "--store", store, "--all", "loop.rs")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "\trun\t1\t1\t0")
	assert.Contains(t, lines[1], "\tcheck\t1\t0\t0")

	out, _, err = runCLI(t, "report", "--store", store, "--format", "yaml", "loop.rs")
	require.NoError(t, err)
	assert.Contains(t, out, "unit: loop.rs")
	assert.Contains(t, out, "dry_run: true")

	session := strings.SplitN(lines[0], "\t", 2)[0]
	out, _, err = runCLI(t, "report", "--store", store, "--session", session, "--format", "yaml", "loop.rs")
	require.NoError(t, err)
	assert.Contains(t, out, "session_id: "+session)

	out, _, err = runCLI(t, "report", "--store", store, "--prune", "loop.rs")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted 2 report(s) of loop.rs")
}

func TestReport_Errors(t *testing.T) {
	_, _, err := runCLI(t, "report", "loop.rs")
	assert.ErrorIs(t, err, ErrNoStore)

	_, _, err = runCLI(t, "report", "--store", t.TempDir(), "--format", "csv", "loop.rs")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestRootFlags(t *testing.T) {
	_, _, err := runCLI(t, "--log-level", "loud", "passes")
	assert.Error(t, err)

	_, _, err = runCLI(t, "--output-mode", "fancy", "passes")
	assert.ErrorIs(t, err, ErrUnknownFormat)

	_, errOut, err := runCLI(t, "--log-level", "debug", "run", "--emit", "none", fixture("expect_direct.yaml"))
	require.NoError(t, err)
	assert.Contains(t, errOut, "branch annotated")
}

func TestWatchUnits(t *testing.T) {
	dir := t.TempDir()
	unit := filepath.Join(dir, "unit.yaml")
	other := filepath.Join(dir, "other.yaml")
	require.NoError(t, os.WriteFile(unit, []byte("a"), 0600))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var (
		mu    sync.Mutex
		calls [][]string
	)
	done := make(chan error, 1)
	go func() {
		done <- watchUnits(ctx, []string{unit}, 50*time.Millisecond, testLogger(), func(_ context.Context, changed []string) {
			mu.Lock()
			calls = append(calls, changed)
			mu.Unlock()
			cancel()
		})
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(other, []byte("ignored"), 0600))
	require.NoError(t, os.WriteFile(unit, []byte("b"), 0600))
	require.NoError(t, os.WriteFile(unit, []byte("c"), 0600))

	require.NoError(t, <-done)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{unit}, calls[0])
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestServe_InvalidAddr(t *testing.T) {
	_, _, err := runCLI(t, "serve", "--addr", "not an address")
	assert.ErrorIs(t, err, server.ErrInvalidConfig)

	_, _, err = runCLI(t, "serve", "--likely", "1", "--unlikely", "9")
	assert.ErrorIs(t, err, hint.ErrInvalidConfig)
}

func TestServe_StopsOnCancel(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "hintpass.yaml")
	require.NoError(t, os.WriteFile(cfgPath, nil, 0600))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	var errOut bytes.Buffer
	err := execute(ctx, []string{
		"--config", cfgPath, "--output-mode", "machine", "--log-level", "info",
		"serve", "--addr", "127.0.0.1:0", "--store", t.TempDir(),
	}, io.Discard, &errOut)
	require.NoError(t, err)
	assert.Contains(t, errOut.String(), "server listening")
	assert.Contains(t, errOut.String(), "server stopped")
}
