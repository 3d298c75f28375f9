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
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/hintpass/services/hint"
	"github.com/AleutianAI/hintpass/services/hint/storage/badger"
)

type reportOptions struct {
	store   string
	session string
	all     bool
	format  string
	prune   bool
}

func newReportCmd(a *app) *cobra.Command {
	opts := &reportOptions{}
	cmd := &cobra.Command{
		Use:   "report [unit]",
		Short: "Show reports saved by 'hintpass run --store'",
		Long: `Without a unit, lists the units that have stored reports. With a unit,
shows its latest report, one session (--session), or every session (--all).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.reportCmd(cmd, args, opts)
		},
	}
	cmd.Flags().StringVar(&opts.store, "store", "", "report store directory (default from config)")
	cmd.Flags().StringVar(&opts.session, "session", "", "show this session instead of the latest")
	cmd.Flags().BoolVar(&opts.all, "all", false, "list every stored session of the unit")
	cmd.Flags().StringVar(&opts.format, "format", "table", "table or yaml")
	cmd.Flags().BoolVar(&opts.prune, "prune", false, "delete every stored report of the unit")
	return cmd
}

func (a *app) reportCmd(cmd *cobra.Command, args []string, opts *reportOptions) error {
	if opts.format != "table" && opts.format != "yaml" {
		return fmt.Errorf("%w: --format %q", ErrUnknownFormat, opts.format)
	}

	dir := a.cfg.Store.Dir
	if opts.store != "" {
		dir = opts.store
	}
	if dir == "" {
		return ErrNoStore
	}

	dbCfg := badger.DefaultConfig(dir)
	dbCfg.GCInterval = 0
	db, err := badger.Open(dbCfg)
	if err != nil {
		return err
	}
	defer db.Close()
	store := badger.NewReportStore(db)
	ctx := cmd.Context()

	if len(args) == 0 {
		units, err := store.Units(ctx)
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(units))
		for _, u := range units {
			rows = append(rows, []string{u})
		}
		a.out.Table([]string{"unit"}, rows)
		return nil
	}
	unit := args[0]

	switch {
	case opts.prune:
		n, err := store.Delete(ctx, unit)
		if err != nil {
			return err
		}
		a.out.Success(fmt.Sprintf("deleted %d report(s) of %s", n, unit))
		return nil

	case opts.all:
		return a.listSessions(ctx, cmd, store, unit, opts.format)
	}

	var r *hint.Report
	if opts.session != "" {
		r, err = store.Get(ctx, unit, opts.session)
	} else {
		r, err = store.Latest(ctx, unit)
	}
	if err != nil {
		return err
	}

	if opts.format == "yaml" {
		return yaml.NewEncoder(cmd.OutOrStdout()).Encode(r)
	}
	printSummary(a.out, r, true)
	return nil
}

func (a *app) listSessions(ctx context.Context, cmd *cobra.Command, store *badger.ReportStore, unit, format string) error {
	reports, err := store.List(ctx, unit)
	if err != nil {
		return err
	}
	if format == "yaml" {
		return yaml.NewEncoder(cmd.OutOrStdout()).Encode(reports)
	}

	rows := make([][]string, 0, len(reports))
	for _, r := range reports {
		mode := "run"
		if r.DryRun {
			mode = "check"
		}
		rows = append(rows, []string{
			r.SessionID,
			r.StartedAt.Local().Format(time.DateTime),
			mode,
			fmt.Sprint(r.Totals.Hinted),
			fmt.Sprint(r.Totals.Annotated),
			fmt.Sprint(r.Totals.ValidationFailed),
		})
	}
	a.out.Table([]string{"session", "started", "mode", "hinted", "annotated", "rejected"}, rows)
	return nil
}
