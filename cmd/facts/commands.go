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
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianFacts/services/analysis/api"
	"github.com/AleutianAI/AleutianFacts/services/analysis/facts"
	"github.com/AleutianAI/AleutianFacts/services/analysis/planner"
	"github.com/AleutianAI/AleutianFacts/services/analysis/rules"
	"github.com/AleutianAI/AleutianFacts/services/analysis/taint"
	"github.com/AleutianAI/AleutianFacts/services/analysis/telemetry"
)

// =============================================================================
// stats
// =============================================================================

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <dump>...",
		Short: "Show store and index statistics",
		Args:  cobra.MinimumNArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			s, _, err := a.loadStore(args)
			if err != nil {
				return err
			}
			st := s.Stats()
			idx := s.Statistics()

			types := make([]facts.Discriminant, 0, len(idx.TypeStats))
			for d := range idx.TypeStats {
				types = append(types, d)
			}
			slices.Sort(types)

			if a.jsonOut {
				return a.writeJSON(struct {
					Store any                        `json:"store"`
					Types map[facts.Discriminant]int `json:"types"`
				}{st, idx.TypeStats})
			}

			a.printer.Title("Fact store")
			a.printer.KeyValues([][2]string{
				{"facts", strconv.Itoa(st.TotalFacts)},
				{"max facts", strconv.Itoa(st.MaxFacts)},
				{"types", strconv.Itoa(st.Types)},
				{"files", strconv.Itoa(st.Files)},
				{"flows", strconv.Itoa(st.Flows)},
				{"index bytes", strconv.FormatUint(st.IndexBytes, 10)},
			})

			rows := make([][]string, 0, len(types))
			for _, d := range types {
				rows = append(rows, []string{string(d), strconv.Itoa(idx.TypeStats[d])})
			}
			a.printer.Table([]string{"TYPE", "FACTS"}, rows)
			return nil
		}),
	}
}

// =============================================================================
// plan
// =============================================================================

func newPlanCmd(a *app) *cobra.Command {
	var (
		qf  queryFlags
		all bool
	)
	cmd := &cobra.Command{
		Use:   "plan <dump>...",
		Short: "Choose an execution strategy for a query without running it",
		Example: `  facts plan --type Vulnerability facts.json
  facts plan --file api/handler.go --start 10 --end 40 --all facts.json
  facts plan --type Vulnerability --where severity=Critical facts.json`,
		Args: cobra.MinimumNArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			q, err := qf.query()
			if err != nil {
				return err
			}
			_, p, err := a.loadStore(args)
			if err != nil {
				return err
			}

			var resp api.PlanResponse
			if all {
				exp, err := p.Explain(cmd.Context(), q)
				if err != nil {
					return err
				}
				resp = api.PlanResponse{Plan: exp.Plan, Candidates: exp.Candidates}
			} else {
				plan, err := p.Plan(cmd.Context(), q)
				if err != nil {
					return err
				}
				resp = api.PlanResponse{Plan: plan}
			}

			if a.jsonOut {
				return a.writeJSON(resp)
			}
			a.printPlan(resp.Plan)
			if len(resp.Candidates) > 0 {
				rows := make([][]string, 0, len(resp.Candidates))
				for _, c := range resp.Candidates {
					rows = append(rows, []string{
						c.Strategy.String(),
						strconv.FormatFloat(c.Cost.TotalCost(), 'f', 2, 64),
						strconv.Itoa(c.Cost.ResultSize),
					})
				}
				a.printer.Table([]string{"STRATEGY", "COST", "ROWS"}, rows)
			}
			return nil
		}),
	}
	qf.bind(cmd)
	cmd.Flags().BoolVar(&all, "all", false, "Also list every candidate strategy and its cost")
	return cmd
}

// printPlan prints the chosen strategy, its cost and the explanation.
func (a *app) printPlan(plan *planner.QueryPlan) {
	a.printer.KeyValues([][2]string{
		{"query", plan.Query.String()},
		{"strategy", plan.Strategy.String()},
		{"cost", plan.EstimatedCost.String()},
		{"selectivity", strconv.FormatFloat(plan.Selectivity, 'f', 4, 64)},
		{"parallel", strconv.FormatBool(plan.Parallelizable)},
	})
	a.printer.Box("Explanation", plan.Explanation)
}

// =============================================================================
// query
// =============================================================================

func newQueryCmd(a *app) *cobra.Command {
	var (
		qf    queryFlags
		limit int
	)
	cmd := &cobra.Command{
		Use:   "query <dump>...",
		Short: "Plan and run a query, printing matching facts",
		Example: `  facts query --flow flow-7 facts.json
  facts query --type Function --where name^=Handle --where exported=true facts.json`,
		Args: cobra.MinimumNArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return fmt.Errorf("--limit must be >= 0, got %d", limit)
			}
			q, err := qf.query()
			if err != nil {
				return err
			}
			s, p, err := a.loadStore(args)
			if err != nil {
				return err
			}

			found, plan, err := s.Query(cmd.Context(), p, q)
			if err != nil {
				return err
			}
			resp := api.QueryResponse{Plan: plan, Facts: found, Count: len(found)}
			if limit > 0 && len(found) > limit {
				resp.Facts = found[:limit]
				resp.Truncated = true
			}

			if a.jsonOut {
				return a.writeJSON(resp)
			}

			a.printer.Muted(fmt.Sprintf("%s via %s", plan.Query, plan.Strategy))
			rows := make([][]string, 0, len(resp.Facts))
			for _, f := range resp.Facts {
				rows = append(rows, []string{string(f.ID), string(f.Discriminant()), f.Location.String(), f.Message})
			}
			a.printer.Table([]string{"ID", "TYPE", "LOCATION", "MESSAGE"}, rows)

			summary := fmt.Sprintf("%d facts", resp.Count)
			if resp.Truncated {
				summary += fmt.Sprintf(" (showing %d)", len(resp.Facts))
			}
			a.printer.Success(summary)
			return nil
		}),
	}
	qf.bind(cmd)
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Print at most n facts (0 means all)")
	return cmd
}

// =============================================================================
// check
// =============================================================================

// checkReport is the JSON output of check.
type checkReport struct {
	Findings    []rules.Finding   `json:"findings"`
	Failed      []api.RuleFailure `json:"failed,omitempty"`
	Skipped     int               `json:"skipped"`
	Unsanitized []taint.Flow      `json:"unsanitized"`
}

func newCheckCmd(a *app) *cobra.Command {
	var (
		rulesPath string
		failOn    string
		noTaint   bool
	)
	cmd := &cobra.Command{
		Use:   "check <dump>...",
		Short: "Evaluate rules and report unsanitized taint flows",
		Long: `check evaluates every enabled rule in the rules file against the loaded
facts and lists taint flows that reach a sink without passing a sanitizer.

With --fail-on, check exits with status 2 when any finding has at least the
given severity or, for any severity, when an unsanitized flow exists.`,
		Args: cobra.MinimumNArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			if rulesPath == "" {
				rulesPath = a.cfg.Rules.Path
			}
			threshold := facts.Severity(failOn)
			if failOn != "" && !threshold.Valid() {
				return fmt.Errorf("--fail-on: unknown severity %q", failOn)
			}

			var rs []rules.Rule
			if rulesPath != "" {
				var err error
				if rs, err = rules.LoadRules(rulesPath); err != nil {
					return err
				}
			}

			s, p, err := a.loadStore(args)
			if err != nil {
				return err
			}

			engine := rules.NewRuleEngine(s, p,
				rules.WithWorkers(a.cfg.Rules.Workers),
				rules.WithRuleTimeout(a.cfg.Rules.Timeout),
				rules.WithLogger(a.logger.Slog()),
			)
			result, err := engine.Evaluate(cmd.Context(), rs)
			if err != nil {
				return err
			}

			report := checkReport{
				Findings:    result.Findings(),
				Skipped:     result.Skipped,
				Unsanitized: []taint.Flow{},
			}
			if report.Findings == nil {
				report.Findings = []rules.Finding{}
			}
			for _, r := range result.Failed() {
				report.Failed = append(report.Failed, api.RuleFailure{RuleID: r.Rule.ID, Error: r.Err.Error()})
			}
			if !noTaint {
				tr, err := taint.NewCollector(s, p, a.logger.Slog()).Collect(cmd.Context())
				if err != nil {
					return err
				}
				if u := tr.Unsanitized(); len(u) > 0 {
					report.Unsanitized = u
				}
			}

			if a.jsonOut {
				if err := a.writeJSON(report); err != nil {
					return err
				}
			} else {
				a.printCheck(report)
			}

			if len(report.Failed) > 0 {
				return fmt.Errorf("%d rules failed", len(report.Failed))
			}
			if failOn != "" && reachesThreshold(report, threshold) {
				return errFindings
			}
			return nil
		}),
	}
	cmd.Flags().StringVarP(&rulesPath, "rules", "r", "", "Rules file (default: rules.path from config)")
	cmd.Flags().StringVar(&failOn, "fail-on", "", "Exit 2 when a finding has at least this severity: Info, Low, Medium, High, Critical")
	cmd.Flags().BoolVar(&noTaint, "no-taint", false, "Skip the unsanitized flow report")
	return cmd
}

// reachesThreshold reports whether any finding is at least threshold, or
// any unsanitized flow exists.
func reachesThreshold(r checkReport, threshold facts.Severity) bool {
	if len(r.Unsanitized) > 0 {
		return true
	}
	for _, f := range r.Findings {
		if f.Severity.Rank() >= threshold.Rank() {
			return true
		}
	}
	return false
}

func (a *app) printCheck(r checkReport) {
	a.printer.Title("Findings")
	rows := make([][]string, 0, len(r.Findings))
	for _, f := range r.Findings {
		rows = append(rows, []string{a.printer.Severity(string(f.Severity)), f.RuleID, f.Fact.Location.String(), f.Message})
	}
	if len(rows) > 0 {
		a.printer.Table([]string{"SEVERITY", "RULE", "LOCATION", "MESSAGE"}, rows)
	}

	if len(r.Unsanitized) > 0 {
		a.printer.Title("Unsanitized flows")
		for _, fl := range r.Unsanitized {
			sinks := make([]string, 0, len(fl.Sinks))
			for _, s := range fl.Sinks {
				sinks = append(sinks, s.Location.String())
			}
			a.printer.Warning(fmt.Sprintf("flow %s: %d sources reach %s", fl.ID, len(fl.Sources), strings.Join(sinks, ", ")))
		}
	}

	for _, f := range r.Failed {
		a.printer.Error(fmt.Sprintf("rule %s: %s", f.RuleID, f.Error))
	}

	summary := fmt.Sprintf("%d findings, %d unsanitized flows", len(r.Findings), len(r.Unsanitized))
	if r.Skipped > 0 {
		summary += fmt.Sprintf(", %d rules disabled", r.Skipped)
	}
	if len(r.Findings) == 0 && len(r.Unsanitized) == 0 {
		a.printer.Success(summary)
	} else {
		a.printer.Warning(summary)
	}
}

// =============================================================================
// serve
// =============================================================================

func newServeCmd(a *app) *cobra.Command {
	var (
		addr  string
		watch bool
	)
	cmd := &cobra.Command{
		Use:   "serve <dump>...",
		Short: "Serve the loaded facts over HTTP",
		Long: `serve loads the dumps once and exposes planning, querying, taint flows and
rule evaluation under /v1/analysis. Prometheus metrics are served on
/metrics when the prometheus metrics exporter is enabled.

With --watch, a rewritten dump rebuilds the store and planner and new
requests are answered from the new facts. A dump that fails to load is
logged and the previous facts keep being served.`,
		Args: cobra.MinimumNArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.API.Addr = addr
			}
			logger := a.logger.Slog()

			metrics, err := telemetry.NewMetrics(otel.Meter("aleutian.facts.api"))
			if err != nil {
				return fmt.Errorf("create metrics: %w", err)
			}
			gin.SetMode(gin.ReleaseMode)

			build := func() (http.Handler, error) {
				s, p, err := a.loadStore(args)
				if err != nil {
					return nil, err
				}
				engine := rules.NewRuleEngine(s, p,
					rules.WithWorkers(a.cfg.Rules.Workers),
					rules.WithRuleTimeout(a.cfg.Rules.Timeout),
					rules.WithLogger(logger),
				)
				handlers := api.NewHandlers(s, p).
					WithRuleEngine(engine).
					WithLogger(logger)
				return api.NewRouter(handlers, a.cfg.API, a.cfg.Telemetry.ServiceName, metrics), nil
			}

			router, err := build()
			if err != nil {
				return err
			}
			var handler swapHandler
			handler.Store(router)

			if !watch {
				return api.Serve(cmd.Context(), &handler, a.cfg.API, logger)
			}

			watcher, err := newDumpWatcher(args, defaultReloadDebounce, logger)
			if err != nil {
				return err
			}
			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				return watcher.Run(ctx, func() {
					next, err := build()
					if err != nil {
						logger.Error("reload failed, keeping previous facts", "error", err)
						return
					}
					handler.Store(next)
					logger.Info("fact store reloaded")
				})
			})
			g.Go(func() error {
				return api.Serve(ctx, &handler, a.cfg.API, logger)
			})
			return g.Wait()
		}),
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: api.addr from config)")
	cmd.Flags().BoolVar(&watch, "watch", false, "Reload the facts when a dump file changes")
	return cmd
}
