// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for fact store operations.
var (
	tracer = otel.Tracer("aleutian.facts.store")
	meter  = otel.Meter("aleutian.facts.store")
)

// Metrics for fact store operations.
var (
	executeLatency metric.Float64Histogram
	executeTotal   metric.Int64Counter
	resultCount    metric.Int64Histogram
	storeSize      metric.Int64Gauge

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		executeLatency, err = meter.Float64Histogram(
			"facts_store_execute_duration_seconds",
			metric.WithDescription("Duration of plan execution"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		executeTotal, err = meter.Int64Counter(
			"facts_store_execute_total",
			metric.WithDescription("Total number of executed plans"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		resultCount, err = meter.Int64Histogram(
			"facts_store_result_count",
			metric.WithDescription("Number of facts returned per executed plan"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		storeSize, err = meter.Int64Gauge(
			"facts_store_size",
			metric.WithDescription("Number of facts in the most recently built store"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startOperationSpan creates a span for a store operation.
func startOperationSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Store."+operation,
		trace.WithAttributes(
			attribute.String("store.operation", operation),
		),
	)
}

// setOperationSpanResult sets the result attributes on an operation span.
func setOperationSpanResult(span trace.Span, results int, success bool) {
	span.SetAttributes(
		attribute.Int("store.result_count", results),
		attribute.Bool("store.success", success),
	)
}

// recordExecuteMetrics records metrics for one Execute call.
func recordExecuteMetrics(ctx context.Context, strategy string, duration time.Duration, results int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("strategy", strategy),
		attribute.Bool("success", success),
	)

	executeLatency.Record(ctx, duration.Seconds(), attrs)
	executeTotal.Add(ctx, 1, attrs)
	if success {
		resultCount.Record(ctx, int64(results))
	}
}

// recordStoreSize records the fact count of a newly built store.
func recordStoreSize(ctx context.Context, size int) {
	if err := initMetrics(); err != nil {
		return
	}
	storeSize.Record(ctx, int64(size))
}
