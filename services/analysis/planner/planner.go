// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package planner chooses the cheapest retrieval strategy for fact queries.
//
// The planner holds one immutable IndexStatistics snapshot, a Config, and a
// bounded plan cache. Plan enumerates the strategies applicable to a query
// shape, costs each with the CostModel, picks the cheapest (ties broken by
// TypeIndex > SpatialIndex > FlowIndex > FullScan), and explains the choice.
//
// # Thread Safety
//
// QueryPlanner is safe for concurrent use. The statistics snapshot is read
// without locks; the plan cache is the only mutable shared state.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianFacts/services/analysis/facts"
)

// StrategyKind names a fact retrieval access path.
type StrategyKind string

const (
	StrategyFullScan     StrategyKind = "FullScan"
	StrategyTypeIndex    StrategyKind = "TypeIndex"
	StrategySpatialIndex StrategyKind = "SpatialIndex"
	StrategyFlowIndex    StrategyKind = "FlowIndex"
)

// priority orders strategies for tie-breaking. Higher wins.
func (k StrategyKind) priority() int {
	switch k {
	case StrategyTypeIndex:
		return 3
	case StrategySpatialIndex:
		return 2
	case StrategyFlowIndex:
		return 1
	default:
		return 0
	}
}

// ExecutionStrategy is the concrete access path chosen for a query.
type ExecutionStrategy struct {
	Kind StrategyKind `json:"kind"`

	// Discriminant is set for TypeIndex.
	Discriminant facts.Discriminant `json:"discriminant,omitempty"`

	// File, and optionally StartLine/EndLine, are set for SpatialIndex.
	File      string `json:"file,omitempty"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`

	// Flow is set for FlowIndex.
	Flow facts.FlowID `json:"flow,omitempty"`

	// Filtered is true when the fetched candidates are post-filtered by
	// Complex predicates.
	Filtered bool `json:"filtered,omitempty"`
}

// FullScan returns the full scan strategy.
func FullScan() ExecutionStrategy {
	return ExecutionStrategy{Kind: StrategyFullScan}
}

// TypeIndex returns a type index lookup strategy.
func TypeIndex(d facts.Discriminant) ExecutionStrategy {
	return ExecutionStrategy{Kind: StrategyTypeIndex, Discriminant: d}
}

// SpatialIndex returns a whole-file spatial lookup strategy.
func SpatialIndex(file string) ExecutionStrategy {
	return ExecutionStrategy{Kind: StrategySpatialIndex, File: file}
}

// SpatialRange returns a line range spatial lookup strategy.
func SpatialRange(file string, start, end int) ExecutionStrategy {
	return ExecutionStrategy{Kind: StrategySpatialIndex, File: file, StartLine: start, EndLine: end}
}

// FlowIndex returns a flow lookup strategy.
func FlowIndex(id facts.FlowID) ExecutionStrategy {
	return ExecutionStrategy{Kind: StrategyFlowIndex, Flow: id}
}

// IsRange reports whether a SpatialIndex strategy is restricted to lines.
func (s ExecutionStrategy) IsRange() bool {
	return s.Kind == StrategySpatialIndex && s.EndLine > 0
}

func (s ExecutionStrategy) String() string {
	var out string
	switch s.Kind {
	case StrategyTypeIndex:
		out = fmt.Sprintf("TypeIndex(%s)", s.Discriminant)
	case StrategySpatialIndex:
		if s.IsRange() {
			out = fmt.Sprintf("SpatialIndex(%s:%d-%d)", s.File, s.StartLine, s.EndLine)
		} else {
			out = fmt.Sprintf("SpatialIndex(%s)", s.File)
		}
	case StrategyFlowIndex:
		out = fmt.Sprintf("FlowIndex(%s)", s.Flow)
	default:
		out = string(StrategyFullScan)
	}
	if s.Filtered {
		out += "+filter"
	}
	return out
}

// QueryPlan is the planner's decision for one query.
//
// Invariant: Explanation is never empty. Plans are returned for queries
// that are expected to match nothing.
//
// Plans served from the cache are shared between callers and must be
// treated as read-only.
type QueryPlan struct {
	Query          Query
	Strategy       ExecutionStrategy
	EstimatedCost  CostEstimate
	Explanation    string
	Parallelizable bool
	Selectivity    float64
}

// MarshalJSON renders the plan with the query in its String form.
func (p *QueryPlan) MarshalJSON() ([]byte, error) {
	var query string
	if p.Query != nil {
		query = p.Query.String()
	}
	return json.Marshal(struct {
		Query          string            `json:"query"`
		Strategy       ExecutionStrategy `json:"strategy"`
		EstimatedCost  CostEstimate      `json:"estimated_cost"`
		TotalCost      float64           `json:"total_cost"`
		Explanation    string            `json:"explanation"`
		Parallelizable bool              `json:"parallelizable"`
		Selectivity    float64           `json:"selectivity"`
	}{
		Query:          query,
		Strategy:       p.Strategy,
		EstimatedCost:  p.EstimatedCost,
		TotalCost:      p.EstimatedCost.TotalCost(),
		Explanation:    p.Explanation,
		Parallelizable: p.Parallelizable,
		Selectivity:    p.Selectivity,
	})
}

// Candidate is one costed strategy considered for a query.
type Candidate struct {
	Strategy ExecutionStrategy `json:"strategy"`
	Cost     CostEstimate      `json:"cost"`

	// touched is the number of facts the strategy reads.
	touched int
}

// PlannerStats reports planner activity since construction.
type PlannerStats struct {
	Plans           int64 `json:"plans"`
	CacheHits       int64 `json:"cache_hits"`
	CacheMisses     int64 `json:"cache_misses"`
	CostEvaluations int64 `json:"cost_evaluations"`
	Evictions       int64 `json:"evictions"`
	CacheEntries    int   `json:"cache_entries"`
}

// Option configures a QueryPlanner.
type Option func(*QueryPlanner)

// WithLogger sets the planner's logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *QueryPlanner) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// QueryPlanner turns queries into plans using one statistics snapshot.
//
// Thread Safety: Safe for concurrent use.
type QueryPlanner struct {
	stats  *IndexStatistics
	config Config
	model  CostModel
	cache  *planCache
	group  singleflight.Group
	logger *slog.Logger

	plans           atomic.Int64
	costEvaluations atomic.Int64
}

// New creates a planner over an immutable statistics snapshot.
//
// Description:
//
//	Validates the configuration and sizes the plan cache from
//	MaxCacheEntries. A nil snapshot is treated as empty statistics.
//
// Inputs:
//
//	stats - The statistics snapshot. Must not be mutated afterwards.
//	cfg - Planner configuration, see DefaultConfig.
//	opts - Optional settings.
//
// Outputs:
//
//	*QueryPlanner - The planner.
//	error - Wraps ErrInvalidConfig if cfg fails validation.
func New(stats *IndexStatistics, cfg Config, opts ...Option) (*QueryPlanner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if stats == nil {
		stats = NewIndexStatistics()
	}

	p := &QueryPlanner{
		stats:  stats,
		config: cfg,
		cache:  newPlanCache(cfg.MaxCacheEntries),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.logger.Debug("query planner created",
		slog.Int("total_facts", stats.TotalFacts),
		slog.Int("types", len(stats.TypeStats)),
		slog.Int("files", len(stats.SpatialStats)),
		slog.Int("flows", len(stats.FlowStats)),
		slog.Int("max_cache_entries", cfg.MaxCacheEntries),
	)
	return p, nil
}

// Statistics returns the snapshot the planner was built with.
func (p *QueryPlanner) Statistics() *IndexStatistics {
	return p.stats
}

// Config returns the planner configuration.
func (p *QueryPlanner) Config() Config {
	return p.config
}

// Plan returns the cheapest execution plan for q.
//
// Description:
//
//	Validates q, then serves a cached plan when one exists. On a miss the
//	applicable strategies are costed, the cheapest is selected and the
//	plan is cached. Concurrent misses for the same query are collapsed
//	into one costing. Planning is synchronous and never blocks; ctx
//	carries tracing only and is not checked for cancellation.
//
// Inputs:
//
//	ctx - Context for tracing.
//	q - The query. Must not be nil.
//
// Outputs:
//
//	*QueryPlan - The plan. Shared with the cache; do not mutate.
//	error - Wraps ErrInvalidQuery for malformed queries.
//
// Thread Safety: Safe for concurrent use.
func (p *QueryPlanner) Plan(ctx context.Context, q Query) (*QueryPlan, error) {
	if q == nil {
		return nil, fmt.Errorf("%w: nil query", ErrInvalidQuery)
	}

	ctx, span := startOperationSpan(ctx, "Plan", q)
	defer span.End()
	start := time.Now()

	if err := q.Validate(); err != nil {
		span.RecordError(err)
		recordPlanMetrics(ctx, "", time.Since(start), false, false)
		return nil, err
	}

	p.plans.Add(1)

	if !p.cache.enabled() {
		plan := p.build(ctx, q)
		setPlanSpanResult(span, plan, false)
		recordPlanMetrics(ctx, plan.Strategy.Kind, time.Since(start), false, true)
		return plan, nil
	}

	key := q.Key()
	if plan, ok := p.cache.Get(key); ok {
		setPlanSpanResult(span, plan, true)
		recordPlanMetrics(ctx, plan.Strategy.Kind, time.Since(start), true, true)
		return plan, nil
	}

	v, _, _ := p.group.Do(key, func() (any, error) {
		// Another caller may have stored the plan while this one waited.
		if plan, ok := p.cache.peek(key); ok {
			return plan, nil
		}
		plan := p.build(ctx, q)
		p.cache.Put(key, plan)
		return plan, nil
	})
	plan := v.(*QueryPlan)

	setPlanSpanResult(span, plan, false)
	recordPlanMetrics(ctx, plan.Strategy.Kind, time.Since(start), false, true)
	return plan, nil
}

// Stats returns planner activity counters.
//
// Thread Safety: Safe for concurrent use.
func (p *QueryPlanner) Stats() PlannerStats {
	hits, misses, evictions := p.cache.Stats()
	return PlannerStats{
		Plans:           p.plans.Load(),
		CacheHits:       hits,
		CacheMisses:     misses,
		CostEvaluations: p.costEvaluations.Load(),
		Evictions:       evictions,
		CacheEntries:    p.cache.Len(),
	}
}

// build costs every applicable strategy and assembles the plan.
func (p *QueryPlanner) build(ctx context.Context, q Query) *QueryPlan {
	plan, _ := p.buildWithCandidates(ctx, q)
	return plan
}

func (p *QueryPlanner) buildWithCandidates(ctx context.Context, q Query) (*QueryPlan, candidateSet) {
	set := p.candidates(q)
	p.costEvaluations.Add(int64(len(set.candidates)))
	recordCostEvaluations(ctx, len(set.candidates))

	best := selectBest(set.candidates)
	plan := &QueryPlan{
		Query:          q,
		Strategy:       best.Strategy,
		EstimatedCost:  best.Cost,
		Parallelizable: best.touched > 0 && best.touched >= p.config.ParallelThreshold,
		Selectivity:    selectivity(best.Cost.ResultSize, p.stats.TotalFacts),
	}
	plan.Explanation = p.explain(q, plan, set)

	p.logger.Debug("query planned",
		slog.String("query", q.String()),
		slog.String("strategy", plan.Strategy.String()),
		slog.Float64("total_cost", plan.EstimatedCost.TotalCost()),
		slog.Int("result_size", plan.EstimatedCost.ResultSize),
	)
	return plan, set
}

// candidateSet is the costed strategies for a query plus the reason an
// index was unavailable, if any.
type candidateSet struct {
	candidates []Candidate
	fallback   string
}

// candidates enumerates and costs the strategies applicable to q.
//
// Applicability is fixed per shape; cost only ranks within the set:
//
//	All                  → FullScan
//	ByType               → TypeIndex, FullScan
//	ByFile, ByLineRange  → SpatialIndex, FullScan
//	ByFlow               → FlowIndex
//	Complex              → TypeIndex+filter, FullScan+filter
//
// Unknown index keys degrade to FullScan with result size 0. Empty
// statistics plan every query as FullScan with result size 0.
func (p *QueryPlanner) candidates(q Query) candidateSet {
	s := p.stats
	total := s.TotalFacts
	m := p.model

	if s.IsEmpty() {
		return candidateSet{
			candidates: []Candidate{{Strategy: FullScan(), Cost: m.FullScan(0, 0)}},
			fallback:   "statistics are empty",
		}
	}

	unknown := func(reason string) candidateSet {
		return candidateSet{
			candidates: []Candidate{{Strategy: FullScan(), Cost: m.FullScan(total, 0), touched: total}},
			fallback:   reason,
		}
	}

	switch q := q.(type) {
	case AllQuery:
		return candidateSet{candidates: []Candidate{
			{Strategy: FullScan(), Cost: m.FullScan(total, total), touched: total},
		}}

	case TypeQuery:
		n, ok := s.TypeCount(q.Discriminant)
		if !ok {
			return unknown(fmt.Sprintf("type %s is not in the type index", q.Discriminant))
		}
		return candidateSet{candidates: []Candidate{
			{Strategy: TypeIndex(q.Discriminant), Cost: m.TypeIndex(n), touched: n},
			{Strategy: FullScan(), Cost: m.FullScan(total, n), touched: total},
		}}

	case FileQuery:
		fs, ok := s.File(q.Path)
		if !ok {
			return unknown(fmt.Sprintf("file %s is not in the spatial index", q.Path))
		}
		return candidateSet{candidates: []Candidate{
			{Strategy: SpatialIndex(q.Path), Cost: m.SpatialFile(fs.FactCount), touched: fs.FactCount},
			{Strategy: FullScan(), Cost: m.FullScan(total, fs.FactCount), touched: total},
		}}

	case LineRangeQuery:
		fs, ok := s.File(q.Path)
		if !ok {
			return unknown(fmt.Sprintf("file %s is not in the spatial index", q.Path))
		}
		cost := m.SpatialRange(fs, q.Start, q.End)
		return candidateSet{candidates: []Candidate{
			{Strategy: SpatialRange(q.Path, q.Start, q.End), Cost: cost, touched: cost.ResultSize},
			{Strategy: FullScan(), Cost: m.FullScan(total, cost.ResultSize), touched: total},
		}}

	case FlowQuery:
		fl, _ := s.Flow(q.Flow)
		cost := m.FlowIndex(fl.Sources)
		return candidateSet{candidates: []Candidate{
			{Strategy: FlowIndex(q.Flow), Cost: cost, touched: cost.ResultSize},
		}}

	case ComplexQuery:
		n, ok := s.TypeCount(q.Discriminant)
		if !ok {
			return unknown(fmt.Sprintf("type %s is not in the type index", q.Discriminant))
		}
		preds := len(q.Predicates)
		typed := TypeIndex(q.Discriminant)
		typed.Filtered = true
		scan := FullScan()
		scan.Filtered = true
		return candidateSet{candidates: []Candidate{
			{Strategy: typed, Cost: m.ComplexTypeIndex(n, preds), touched: n},
			{Strategy: scan, Cost: m.ComplexFullScan(total, n, preds), touched: total},
		}}
	}

	// Unreachable for the sealed Query set.
	return unknown(fmt.Sprintf("query shape %s has no index", q.Kind()))
}

// selectBest returns the cheapest candidate, breaking cost ties by
// strategy priority. candidates must not be empty.
func selectBest(candidates []Candidate) Candidate {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Cost.IsBetterThan(best.Cost) {
			best = c
			continue
		}
		if !best.Cost.IsBetterThan(c.Cost) && c.Strategy.Kind.priority() > best.Strategy.Kind.priority() {
			best = c
		}
	}
	return best
}

func selectivity(resultSize, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(resultSize) / float64(total)
}
