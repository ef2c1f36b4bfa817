// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package planner

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for planner operations.
var (
	tracer = otel.Tracer("aleutian.facts.planner")
	meter  = otel.Meter("aleutian.facts.planner")
)

// Metrics for planner operations.
var (
	planLatency     metric.Float64Histogram
	planTotal       metric.Int64Counter
	costEvaluations metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		planLatency, err = meter.Float64Histogram(
			"facts_planner_plan_duration_seconds",
			metric.WithDescription("Duration of query planning"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		planTotal, err = meter.Int64Counter(
			"facts_planner_plan_total",
			metric.WithDescription("Total number of planned queries"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		costEvaluations, err = meter.Int64Counter(
			"facts_planner_cost_evaluations_total",
			metric.WithDescription("Total number of strategy cost evaluations"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startOperationSpan creates a span for a planner operation.
func startOperationSpan(ctx context.Context, operation string, q Query) (context.Context, trace.Span) {
	return tracer.Start(ctx, "QueryPlanner."+operation,
		trace.WithAttributes(
			attribute.String("planner.operation", operation),
			attribute.String("planner.query_kind", string(q.Kind())),
		),
	)
}

// setPlanSpanResult sets the result attributes on a plan span.
func setPlanSpanResult(span trace.Span, plan *QueryPlan, cached bool) {
	span.SetAttributes(
		attribute.String("planner.strategy", string(plan.Strategy.Kind)),
		attribute.Int("planner.result_size", plan.EstimatedCost.ResultSize),
		attribute.Float64("planner.total_cost", plan.EstimatedCost.TotalCost()),
		attribute.Bool("planner.cached", cached),
	)
}

// recordPlanMetrics records metrics for one Plan call.
func recordPlanMetrics(ctx context.Context, strategy StrategyKind, duration time.Duration, cached, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("strategy", string(strategy)),
		attribute.Bool("cached", cached),
		attribute.Bool("success", success),
	)

	planLatency.Record(ctx, duration.Seconds(), attrs)
	planTotal.Add(ctx, 1, attrs)
}

// recordCostEvaluations records how many candidates were costed.
func recordCostEvaluations(ctx context.Context, n int) {
	if err := initMetrics(); err != nil {
		return
	}
	costEvaluations.Add(ctx, int64(n))
}
