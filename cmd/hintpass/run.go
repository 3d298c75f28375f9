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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/sourcegraph/go-diff/diff"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/hintpass/cmd/hintpass/config"
	"github.com/AleutianAI/hintpass/services/hint"
	"github.com/AleutianAI/hintpass/services/hint/dag/nodes"
	"github.com/AleutianAI/hintpass/services/hint/ir"
	"github.com/AleutianAI/hintpass/services/hint/storage/badger"
	"github.com/AleutianAI/hintpass/services/hint/storage/gcs"
	"github.com/AleutianAI/hintpass/services/hint/storage/influx"
)

// Emit formats for the annotated module.
const (
	emitText = "text"
	emitYAML = "yaml"
	emitDiff = "diff"
	emitNone = "none"
)

// passFlags are the pass overrides shared by run and check.
type passFlags struct {
	hintFn      string
	match       string
	likely      uint32
	unlikely    uint32
	swap        bool
	parallelism int
	passes      []string
	store       string
}

func (f *passFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.hintFn, "hint-fn", "", "name of the hint function (default from config)")
	fs.StringVar(&f.match, "match", "", "callee matching: exact or substring")
	fs.Uint32Var(&f.likely, "likely", 0, "weight of the expected edge")
	fs.Uint32Var(&f.unlikely, "unlikely", 0, "weight of the other edge")
	fs.BoolVar(&f.swap, "swap-on-false-hint", false, "put the likely successor first for hints expecting false")
	fs.IntVar(&f.parallelism, "parallelism", 0, "functions processed concurrently")
	fs.StringSliceVar(&f.passes, "passes", nil, "passes to run (default: all; see 'hintpass passes')")
	fs.StringVar(&f.store, "store", "", "report store directory (default from config)")
}

// apply overlays the flags the user set on cfg and revalidates.
func (f *passFlags) apply(cmd *cobra.Command, cfg config.HintpassConfig) (config.HintpassConfig, error) {
	fs := cmd.Flags()
	if fs.Changed("hint-fn") {
		cfg.Pass.HintFunction = f.hintFn
	}
	if fs.Changed("match") {
		cfg.Pass.Match = hint.MatchPolicy(f.match)
	}
	if fs.Changed("likely") {
		cfg.Pass.LikelyWeight = f.likely
	}
	if fs.Changed("unlikely") {
		cfg.Pass.UnlikelyWeight = f.unlikely
	}
	if fs.Changed("swap-on-false-hint") {
		cfg.Pass.SwapOnFalseHint = f.swap
	}
	if fs.Changed("parallelism") {
		cfg.Pass.Parallelism = f.parallelism
	}
	if fs.Changed("passes") {
		cfg.Passes = f.passes
	}
	if fs.Changed("store") {
		cfg.Store.Dir = f.store
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// =============================================================================
// run
// =============================================================================

type runOptions struct {
	passFlags
	emit   string
	output string
	watch  bool
}

func newRunCmd(a *app) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <unit.yaml>...",
		Short: "Annotate hinted branches and print the resulting IR",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runUnitsCmd(cmd, args, opts)
		},
	}
	opts.register(cmd)
	cmd.Flags().StringVar(&opts.emit, "emit", emitText, "annotated IR format: text, yaml, diff or none")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "write the annotated IR to this file instead of stdout")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "re-run whenever an input unit changes")
	return cmd
}

func (a *app) runUnitsCmd(cmd *cobra.Command, paths []string, opts *runOptions) error {
	switch opts.emit {
	case emitText, emitYAML, emitDiff, emitNone:
	default:
		return fmt.Errorf("%w: --emit %q", ErrUnknownFormat, opts.emit)
	}
	if opts.output != "" && len(paths) > 1 {
		return ErrOutputConflict
	}

	cfg, err := opts.apply(cmd, a.cfg)
	if err != nil {
		return err
	}

	sess, err := a.openSession(cmd.Context(), cfg, false)
	if err != nil {
		return err
	}
	defer sess.close()

	spin := a.diag.Spinner("")
	once := func(ctx context.Context) error {
		for _, path := range paths {
			spin.Update("annotating " + path)
			spin.Start()
			m, report, err := sess.process(ctx, path)
			spin.Stop()
			if err != nil {
				return err
			}
			if err := a.emit(cmd, path, m, opts); err != nil {
				return err
			}
			if report != nil {
				printSummary(a.diag, report, false)
			}
		}
		return nil
	}

	ctx := cmd.Context()
	if err := once(ctx); err != nil {
		if !opts.watch {
			return err
		}
		a.diag.Error(err.Error())
	}
	if !opts.watch {
		return nil
	}

	a.diag.Success(fmt.Sprintf("watching %d unit(s), Ctrl-C to stop", len(paths)))
	return watchUnits(ctx, paths, 200*time.Millisecond, a.logger.Slog(), func(ctx context.Context, changed []string) {
		a.logger.Info("unit changed, re-running", slog.Any("files", changed))
		if err := once(ctx); err != nil {
			a.diag.Error(err.Error())
		}
	})
}

func (a *app) emit(cmd *cobra.Command, path string, m *ir.Module, opts *runOptions) error {
	if opts.emit == emitNone {
		return nil
	}

	var w io.Writer = cmd.OutOrStdout()
	if opts.output != "" {
		f, err := os.Create(opts.output)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		w = f
	}

	switch opts.emit {
	case emitYAML:
		return ir.Encode(w, m)
	case emitDiff:
		orig, err := ir.Load(path)
		if err != nil {
			return err
		}
		fd := unifiedDiff("a/"+path, "b/"+path, orig.String(), m.String())
		if fd == nil {
			return nil
		}
		out, err := diff.PrintFileDiff(fd)
		if err != nil {
			return fmt.Errorf("print diff: %w", err)
		}
		_, err = w.Write(out)
		return err
	default:
		return ir.Print(w, m)
	}
}

// =============================================================================
// check
// =============================================================================

type checkOptions struct {
	passFlags
	strict  bool
	verbose bool
}

func newCheckCmd(a *app) *cobra.Command {
	opts := &checkOptions{}
	cmd := &cobra.Command{
		Use:   "check <unit.yaml>...",
		Short: "Report hinted branches and rejected hint calls without modifying anything",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.apply(cmd, a.cfg)
			if err != nil {
				return err
			}
			sess, err := a.openSession(cmd.Context(), cfg, true)
			if err != nil {
				return err
			}
			defer sess.close()

			failed := 0
			spin := a.diag.Spinner("")
			for _, path := range args {
				spin.Update("checking " + path)
				spin.Start()
				_, report, err := sess.process(cmd.Context(), path)
				spin.Stop()
				if err != nil {
					return err
				}
				if report == nil {
					continue
				}
				printSummary(a.out, report, opts.verbose)
				for _, rec := range report.Failures() {
					a.out.Warning(fmt.Sprintf("%s: @%s/%s: %s", report.Unit, rec.Function, rec.Block, rec.Reason))
				}
				failed += report.Totals.ValidationFailed
			}

			if failed > 0 && opts.strict {
				return fmt.Errorf("%w: %d hint call(s) rejected", ErrValidationFailed, failed)
			}
			return nil
		},
	}
	opts.register(cmd)
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "exit non-zero if any hint call is rejected")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "also list branches that are not hinted")
	return cmd
}

// =============================================================================
// session
// =============================================================================

// session is one configured pipeline plus its report stores.
type session struct {
	env     *nodes.Env
	passes  []string
	reports *badger.ReportStore
	closers []func()
}

func (a *app) openSession(ctx context.Context, cfg config.HintpassConfig, dryRun bool) (*session, error) {
	env := &nodes.Env{
		Config:  cfg.Pass,
		DryRun:  dryRun,
		Logger:  a.logger.Slog(),
		Metrics: a.metrics,
	}
	s := &session{env: env, passes: cfg.Passes}

	stores, err := s.openStores(ctx, cfg.Store, a.logger.Slog())
	if err != nil {
		s.close()
		return nil, err
	}
	switch len(stores) {
	case 0:
	case 1:
		env.Store = stores[0]
	default:
		env.Store = stores
	}
	return s, nil
}

// openStores opens every configured report store.
func (s *session) openStores(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (nodes.Stores, error) {
	var stores nodes.Stores

	if cfg.Dir != "" {
		dbCfg := badger.DefaultConfig(cfg.Dir)
		dbCfg.Logger = logger
		db, err := badger.Open(dbCfg)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() { _ = db.Close() })
		s.reports = badger.NewReportStore(db)
		stores = append(stores, s.reports)
	}

	if cfg.Influx.URL != "" {
		sink, err := influx.New(cfg.Influx)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, sink.Close)
		stores = append(stores, sink)
		logger.Debug("influx sink enabled", slog.String("url", cfg.Influx.URL), slog.String("bucket", cfg.Influx.Bucket))
	}

	if cfg.Archive.Bucket != "" {
		archive, err := gcs.New(ctx, cfg.Archive)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() { _ = archive.Close() })
		stores = append(stores, archive)
		logger.Debug("gcs archive enabled", slog.String("bucket", cfg.Archive.Bucket))
	}
	return stores, nil
}

// process loads one unit and runs the pipeline over it.
func (s *session) process(ctx context.Context, path string) (*ir.Module, *hint.Report, error) {
	m, err := ir.Load(path)
	if err != nil {
		return nil, nil, err
	}
	result, err := nodes.Run(ctx, s.env, m, s.passes)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nodes.ReportOf(result), nil
}

func (s *session) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}
