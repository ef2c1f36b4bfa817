// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package taint groups flow participants retrieved through the planner.
//
// The collector does not propagate taint. It asks the planner for each
// known flow with a ByFlow query and sorts the returned facts into
// sources, sanitizers and sinks.
package taint

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianFacts/services/analysis/facts"
	"github.com/AleutianAI/AleutianFacts/services/analysis/planner"
	"github.com/AleutianAI/AleutianFacts/services/analysis/store"
)

var tracer = otel.Tracer("aleutian.facts.taint")

// Flow is every fact taking part in one taint flow.
type Flow struct {
	ID         facts.FlowID  `json:"id"`
	Sources    []*facts.Fact `json:"sources"`
	Sanitizers []*facts.Fact `json:"sanitizers"`
	Sinks      []*facts.Fact `json:"sinks"`

	// Other holds participants of any other variant.
	Other []*facts.Fact `json:"other,omitempty"`
}

// ReachesSink reports whether any sink consumes the flow.
func (f Flow) ReachesSink() bool {
	return len(f.Sinks) > 0
}

// Sanitized reports whether any sanitizer applies to the flow.
func (f Flow) Sanitized() bool {
	return len(f.Sanitizers) > 0
}

// Report is the result of a collection pass.
type Report struct {
	// Flows are sorted by flow id.
	Flows []Flow `json:"flows"`
}

// Unsanitized returns the flows that reach a sink with no sanitizer.
func (r *Report) Unsanitized() []Flow {
	var out []Flow
	for _, f := range r.Flows {
		if f.ReachesSink() && !f.Sanitized() {
			out = append(out, f)
		}
	}
	return out
}

// Collector groups flow participants.
//
// Thread Safety: Safe for concurrent use.
type Collector struct {
	store   *store.Store
	planner store.Planner
	logger  *slog.Logger
}

// NewCollector creates a collector over s, planning with p. A nil logger
// uses slog.Default().
func NewCollector(s *store.Store, p store.Planner, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{store: s, planner: p, logger: logger}
}

// Collect groups the participants of every flow known to the statistics.
//
// Description:
//
//	Flows are the keys of the store's flow statistics, i.e. flows with at
//	least one originating fact. Each flow is fetched with a ByFlow query
//	and its facts are grouped by variant, keeping store order within a
//	group.
//
// Outputs:
//
//	*Report - Flows sorted by id.
//	error - The first planning or execution error, or ctx's error.
func (c *Collector) Collect(ctx context.Context) (*Report, error) {
	ctx, span := tracer.Start(ctx, "Collector.Collect")
	defer span.End()

	stats := c.store.Statistics()
	ids := make([]facts.FlowID, 0, len(stats.FlowStats))
	for id := range stats.FlowStats {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	report := &Report{Flows: make([]Flow, 0, len(ids))}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		flow, err := c.CollectFlow(ctx, id)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		report.Flows = append(report.Flows, flow)
	}

	span.SetAttributes(
		attribute.Int("taint.flows", len(report.Flows)),
		attribute.Int("taint.unsanitized", len(report.Unsanitized())),
	)
	c.logger.Debug("taint flows collected",
		slog.Int("flows", len(report.Flows)),
	)
	return report, nil
}

// CollectFlow groups the participants of a single flow. An unknown flow
// yields an empty Flow.
func (c *Collector) CollectFlow(ctx context.Context, id facts.FlowID) (Flow, error) {
	participants, _, err := c.store.Query(ctx, c.planner, planner.ByFlow(id))
	if err != nil {
		return Flow{}, fmt.Errorf("flow %s: %w", id, err)
	}

	flow := Flow{ID: id}
	for _, f := range participants {
		switch f.Discriminant() {
		case facts.DiscriminantTaintSource:
			flow.Sources = append(flow.Sources, f)
		case facts.DiscriminantSanitizer:
			flow.Sanitizers = append(flow.Sanitizers, f)
		case facts.DiscriminantTaintSink:
			flow.Sinks = append(flow.Sinks, f)
		default:
			flow.Other = append(flow.Other, f)
		}
	}
	return flow, nil
}
