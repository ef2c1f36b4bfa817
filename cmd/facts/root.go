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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianFacts/pkg/logging"
	"github.com/AleutianAI/AleutianFacts/pkg/ux"
	"github.com/AleutianAI/AleutianFacts/services/analysis/config"
	"github.com/AleutianAI/AleutianFacts/services/analysis/facts"
	"github.com/AleutianAI/AleutianFacts/services/analysis/planner"
	"github.com/AleutianAI/AleutianFacts/services/analysis/store"
	"github.com/AleutianAI/AleutianFacts/services/analysis/telemetry"
)

// errFindings is returned by check when findings reach the --fail-on
// severity.
var errFindings = errors.New("findings at or above the failure threshold")

// exitCode maps a command error to a process exit code.
func exitCode(err error) int {
	if errors.Is(err, errFindings) {
		return 2
	}
	return 1
}

// app holds the flags and the resources shared by all commands.
type app struct {
	// Persistent flags
	configPath string
	logLevel   string
	jsonOut    bool
	output     string

	cfg      config.Config
	logger   *logging.Logger
	printer  *ux.Printer
	stdout   io.Writer
	shutdown func(context.Context) error
}

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "facts",
		Short: "Plan and run queries over static analysis facts",
		Long: `facts loads fact dumps produced by analyzers into an indexed store and
answers queries over them with a cost-based planner. It can explain plans,
evaluate rule files, report unsanitized taint flows and serve the same
operations over HTTP.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "Path to a YAML config file")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	flags.BoolVar(&a.jsonOut, "json", false, "Write command output as JSON")
	flags.StringVar(&a.output, "output", "", "Output style: standard, minimal or machine (default: detected from the terminal)")

	root.AddCommand(
		newStatsCmd(a),
		newPlanCmd(a),
		newQueryCmd(a),
		newCheckCmd(a),
		newServeCmd(a),
	)
	return root
}

// setup loads configuration and creates the logger, printer and
// telemetry providers.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
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

	logCfg := cfg.LoggerConfig("facts")
	logCfg.Output = cmd.ErrOrStderr()
	if !logCfg.JSON && !ux.IsTerminal(os.Stderr) {
		logCfg.JSON = true
	}
	a.logger = logging.New(logCfg)
	slog.SetDefault(a.logger.Slog())

	a.stdout = cmd.OutOrStdout()
	level := ux.DetectLevel(os.Stdout)
	if a.output != "" {
		level = ux.ParseLevel(a.output)
	}
	a.printer = ux.NewPrinter(a.stdout, level)

	shutdown, err := telemetry.Init(cmd.Context(), cfg.Telemetry)
	if err != nil {
		_ = a.logger.Close()
		return fmt.Errorf("init telemetry: %w", err)
	}
	a.shutdown = shutdown
	return nil
}

// run wraps a command body so resources are released whether or not it
// fails.
func (a *app) run(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		defer func() {
			err = errors.Join(err, a.close(cmd.Context()))
		}()
		return fn(cmd, args)
	}
}

// close flushes telemetry and closes the log file. Safe to call more
// than once.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.shutdown != nil {
		if ctx == nil {
			ctx = context.Background()
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := a.shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		a.shutdown = nil
	}
	if a.logger != nil {
		if err := a.logger.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// loadStore decodes every dump in paths, in order, into one store and
// builds a planner over its statistics.
func (a *app) loadStore(paths []string) (*store.Store, *planner.QueryPlanner, error) {
	start := time.Now()

	var all []*facts.Fact
	for _, p := range paths {
		fs, err := facts.DecodeFile(p)
		if err != nil {
			return nil, nil, fmt.Errorf("load %s: %w", p, err)
		}
		a.logger.Debug("fact dump loaded", "path", p, "facts", len(fs))
		all = append(all, fs...)
	}

	s, err := store.New(all,
		store.WithMaxFacts(a.cfg.Store.MaxFacts),
		store.WithLogger(a.logger.Slog()),
	)
	if err != nil {
		var batch *store.BatchError
		if errors.As(err, &batch) {
			a.logger.Error("fact dump rejected", "invalid_facts", len(batch.Errors))
			return nil, nil, fmt.Errorf("%d invalid facts:\n%s", len(batch.Errors), batch.ErrorList())
		}
		return nil, nil, err
	}

	p, err := planner.New(s.Statistics(), a.cfg.PlannerConfig(), planner.WithLogger(a.logger.Slog()))
	if err != nil {
		return nil, nil, err
	}

	a.logger.Info("fact store built",
		"facts", s.Len(),
		"dumps", len(paths),
		"duration", time.Since(start))
	return s, p, nil
}

// writeJSON writes v as indented JSON to stdout.
func (a *app) writeJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
