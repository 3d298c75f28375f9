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
	"io"
	"strings"
	"time"

	"github.com/klauspost/cpuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/hintpass/cmd/hintpass/config"
	"github.com/AleutianAI/hintpass/pkg/logging"
	"github.com/AleutianAI/hintpass/pkg/ux"
	"github.com/AleutianAI/hintpass/services/hint/dag/nodes"
	"github.com/AleutianAI/hintpass/services/hint/telemetry"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// app holds the state shared by every subcommand of one invocation.
type app struct {
	configPath string
	logLevel   string
	outputMode string

	cfg       config.HintpassConfig
	logger    *logging.Logger
	out       *ux.Printer
	diag      *ux.Printer
	metrics   *telemetry.Metrics
	telemetry *telemetry.Provider
}

// execute builds the command tree, runs it with args and releases
// telemetry and log resources whether or not the command succeeded.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if cerr := a.close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "hintpass",
		Short: "Attach branch weights to branches guarded by expectation hints",
		Long: `hintpass finds conditional branches whose condition comes from a call to
the hint function (__builtin_expect_ by default) and attaches branch weights
that favour the expected outcome.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default $HINTPASS_CONFIG, then $HOME/.hintpass/hintpass.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&a.outputMode, "output-mode", "", "rich, plain or machine (default: detect from terminal)")

	root.AddCommand(
		newRunCmd(a),
		newCheckCmd(a),
		newPassesCmd(a),
		newReportCmd(a),
		newServeCmd(a),
		newVersionCmd(),
	)
	return root
}

// setup loads configuration and initializes logging and telemetry.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadFile(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		if _, err := logging.ParseLevel(a.logLevel); err != nil {
			return err
		}
		cfg.Logging.Level = a.logLevel
	}
	a.cfg = cfg

	mode, ok := ux.ParseMode(a.outputMode)
	if !ok {
		return fmt.Errorf("%w: output mode %q", ErrUnknownFormat, a.outputMode)
	}
	a.out = ux.NewPrinter(cmd.OutOrStdout(), mode)
	a.diag = ux.NewPrinter(cmd.ErrOrStderr(), mode)

	lcfg := cfg.LoggerConfig()
	lcfg.Writer = cmd.ErrOrStderr()
	a.logger = logging.New(lcfg)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	tcfg := cfg.Telemetry
	tcfg.ServiceVersion = version
	tcfg.Writer = cmd.ErrOrStderr()
	if a.telemetry, err = telemetry.Init(ctx, tcfg); err != nil {
		return err
	}
	a.metrics, err = telemetry.NewMetrics(otel.Meter("hintpass"))
	return err
}

// close flushes telemetry and closes the log file.
func (a *app) close() error {
	var err error
	if a.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = a.telemetry.Shutdown(ctx)
		cancel()
		a.telemetry = nil
	}
	if a.logger != nil {
		if cerr := a.logger.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func newPassesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "passes",
		Short: "List the registered pipeline passes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var rows [][]string
			for _, p := range nodes.Registry.List() {
				requires := "-"
				if len(p.Requires) > 0 {
					requires = fmt.Sprint(p.Requires)
				}
				rows = append(rows, []string{p.Name, p.Description, requires})
			}
			a.out.Table([]string{"pass", "description", "requires"}, rows)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	var host bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the hintpass version",
		Args:  cobra.NoArgs,
		// Skips config loading.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "hintpass %s\n", version)
			if host {
				writeHostInfo(w)
			}
		},
	}
	cmd.Flags().BoolVar(&host, "host", false, "also describe the host CPU the weights will be tuned on")
	return cmd
}

// writeHostInfo prints the host CPU the way LLVM tools do in --version.
func writeHostInfo(w io.Writer) {
	cpu := cpuid.CPU
	brand := strings.TrimSpace(cpu.BrandName)
	if brand == "" {
		brand = "unknown"
	}
	fmt.Fprintf(w, "  Host CPU: %s\n", brand)
	fmt.Fprintf(w, "  Cores: %d physical, %d logical\n", cpu.PhysicalCores, cpu.LogicalCores)
	if cpu.CacheLine > 0 {
		fmt.Fprintf(w, "  Cache line: %d bytes\n", cpu.CacheLine)
	}
}
