// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rules

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianFacts/services/analysis/facts"
	"github.com/AleutianAI/AleutianFacts/services/analysis/planner"
	"github.com/AleutianAI/AleutianFacts/services/analysis/store"
)

const (
	// DefaultWorkers is the default number of rules evaluated concurrently.
	DefaultWorkers = 4

	// DefaultRuleTimeout bounds one rule's plan and execution.
	DefaultRuleTimeout = 5 * time.Second
)

var tracer = otel.Tracer("aleutian.facts.rules")

var (
	ruleEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facts_rule_evaluations_total",
		Help: "Total rule evaluations by outcome",
	}, []string{"outcome"})

	ruleFindings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facts_rule_findings_total",
		Help: "Total findings by severity",
	}, []string{"severity"})
)

// Finding is one fact matched by one rule.
type Finding struct {
	RuleID   string               `json:"rule_id"`
	Severity facts.Severity       `json:"severity"`
	Fact     *facts.Fact          `json:"fact"`
	Message  string               `json:"message"`
	Strategy planner.StrategyKind `json:"strategy"`
}

// RuleResult is the outcome of evaluating one rule.
type RuleResult struct {
	// Rule is the evaluated rule.
	Rule *Rule `json:"rule"`

	// Strategy is the planner's strategy for the rule's query.
	Strategy planner.ExecutionStrategy `json:"strategy"`

	// Findings are in fact ordinal order.
	Findings []Finding `json:"findings"`

	// Duration is the wall time of plan plus execution.
	Duration time.Duration `json:"duration"`

	// Err is set when the rule failed or timed out. Other rules are
	// unaffected.
	Err error `json:"-"`
}

// EvaluationResult contains all rule evaluation results.
type EvaluationResult struct {
	// Results are in rule order. Disabled rules are omitted.
	Results []RuleResult `json:"results"`

	// Skipped counts disabled rules.
	Skipped int `json:"skipped"`
}

// Findings returns every finding ordered by rule, then fact ordinal.
func (r *EvaluationResult) Findings() []Finding {
	var out []Finding
	for _, res := range r.Results {
		out = append(out, res.Findings...)
	}
	return out
}

// Failed returns the results whose rule errored.
func (r *EvaluationResult) Failed() []RuleResult {
	var out []RuleResult
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// Option configures a RuleEngine.
type Option func(*RuleEngine)

// WithWorkers sets the number of rules evaluated concurrently. Values <= 0
// keep the default.
func WithWorkers(n int) Option {
	return func(e *RuleEngine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithRuleTimeout sets the per-rule timeout. Values <= 0 keep the default.
func WithRuleTimeout(d time.Duration) Option {
	return func(e *RuleEngine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *RuleEngine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// RuleEngine evaluates rules against a fact store.
//
// # Description
//
// Each rule is turned into one planner query and executed against the
// store. Rules run on a bounded worker pool, each under its own timeout.
// The planner is shared, so rules that issue the same query reuse one
// cached plan.
//
// # Thread Safety
//
// Safe for concurrent use after construction.
type RuleEngine struct {
	store   *store.Store
	planner store.Planner
	workers int
	timeout time.Duration
	logger  *slog.Logger
}

// NewRuleEngine creates a rule engine over s, planning with p.
func NewRuleEngine(s *store.Store, p store.Planner, opts ...Option) *RuleEngine {
	e := &RuleEngine{
		store:   s,
		planner: p,
		workers: DefaultWorkers,
		timeout: DefaultRuleTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs every enabled rule.
//
// Description:
//
//	Rules are fanned out over an errgroup limited to the configured
//	worker count. A rule that fails or exceeds its timeout records the
//	error in its RuleResult; the remaining rules still run.
//
// Inputs:
//
//	ctx - Cancelling ctx stops rules that have not started.
//	rules - Rules in report order. Assumed validated.
//
// Outputs:
//
//	*EvaluationResult - One result per enabled rule, in input order.
//	error - Only ctx's error if it was cancelled.
func (e *RuleEngine) Evaluate(ctx context.Context, rules []Rule) (*EvaluationResult, error) {
	ctx, span := tracer.Start(ctx, "RuleEngine.Evaluate")
	defer span.End()

	enabled := make([]*Rule, 0, len(rules))
	for i := range rules {
		if rules[i].IsEnabled() {
			enabled = append(enabled, &rules[i])
		}
	}

	result := &EvaluationResult{
		Results: make([]RuleResult, len(enabled)),
		Skipped: len(rules) - len(enabled),
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for i, rule := range enabled {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				result.Results[i] = RuleResult{Rule: rule, Err: err}
				return nil
			}
			result.Results[i] = e.evaluateRule(gCtx, rule)
			return nil
		})
	}
	_ = g.Wait()

	findings := 0
	for _, res := range result.Results {
		findings += len(res.Findings)
	}
	span.SetAttributes(
		attribute.Int("rules.evaluated", len(enabled)),
		attribute.Int("rules.skipped", result.Skipped),
		attribute.Int("rules.findings", findings),
	)

	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, "cancelled")
		return result, err
	}
	return result, nil
}

// evaluateRule plans and executes one rule under the per-rule timeout.
func (e *RuleEngine) evaluateRule(ctx context.Context, rule *Rule) RuleResult {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "RuleEngine.evaluateRule")
	defer span.End()
	span.SetAttributes(attribute.String("rule.id", rule.ID))

	start := time.Now()
	res := RuleResult{Rule: rule}

	matched, plan, err := e.store.Query(ctx, e.planner, rule.Query())
	res.Duration = time.Since(start)
	if plan != nil {
		res.Strategy = plan.Strategy
	}
	if err != nil {
		res.Err = fmt.Errorf("rule %s: %w", rule.ID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "rule failed")
		ruleEvaluations.WithLabelValues("error").Inc()
		e.logger.Warn("rule evaluation failed",
			slog.String("rule", rule.ID),
			slog.String("error", err.Error()),
		)
		return res
	}

	res.Findings = make([]Finding, 0, len(matched))
	for _, f := range matched {
		res.Findings = append(res.Findings, Finding{
			RuleID:   rule.ID,
			Severity: rule.Severity,
			Fact:     f,
			Message:  renderMessage(rule, f),
			Strategy: plan.Strategy.Kind,
		})
	}

	ruleEvaluations.WithLabelValues("ok").Inc()
	ruleFindings.WithLabelValues(string(rule.Severity)).Add(float64(len(res.Findings)))
	span.SetAttributes(
		attribute.String("rule.strategy", plan.Strategy.String()),
		attribute.Int("rule.findings", len(res.Findings)),
	)
	e.logger.Debug("rule evaluated",
		slog.String("rule", rule.ID),
		slog.String("strategy", plan.Strategy.String()),
		slog.Int("findings", len(res.Findings)),
		slog.Duration("duration", res.Duration),
	)
	return res
}
