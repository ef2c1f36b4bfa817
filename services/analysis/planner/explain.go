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
	"fmt"
	"sort"
	"strings"
)

// PlanExplanation is a plan together with every candidate that was costed
// for it, cheapest first.
type PlanExplanation struct {
	Plan       *QueryPlan  `json:"plan"`
	Candidates []Candidate `json:"candidates"`
}

// Explain plans q without the cache and returns all costed candidates.
//
// Description:
//
//	Intended for diagnostics such as `facts plan --all`. The cache is
//	neither read nor written, but cost evaluations are counted.
//
// Outputs:
//
//	*PlanExplanation - The chosen plan and the ranked candidates.
//	error - Wraps ErrInvalidQuery for malformed queries.
func (p *QueryPlanner) Explain(ctx context.Context, q Query) (*PlanExplanation, error) {
	if q == nil {
		return nil, fmt.Errorf("%w: nil query", ErrInvalidQuery)
	}

	ctx, span := startOperationSpan(ctx, "Explain", q)
	defer span.End()

	if err := q.Validate(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	plan, set := p.buildWithCandidates(ctx, q)
	setPlanSpanResult(span, plan, false)

	ranked := append([]Candidate(nil), set.candidates...)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Cost.IsBetterThan(b.Cost) {
			return true
		}
		if b.Cost.IsBetterThan(a.Cost) {
			return false
		}
		return a.Strategy.Kind.priority() > b.Strategy.Kind.priority()
	})

	return &PlanExplanation{Plan: plan, Candidates: ranked}, nil
}

// explain renders the human-readable reason for a plan. Never empty.
func (p *QueryPlanner) explain(q Query, plan *QueryPlan, set candidateSet) string {
	total := p.stats.TotalFacts
	rows := plan.EstimatedCost.ResultSize
	var b strings.Builder

	if set.fallback != "" {
		fmt.Fprintf(&b, "%s: %s; estimated %d results", plan.Strategy, set.fallback, rows)
		if total > 0 {
			fmt.Fprintf(&b, " from a full scan of %d facts", total)
		}
		return b.String()
	}

	switch plan.Strategy.Kind {
	case StrategyFullScan:
		if _, ok := q.(AllQuery); ok {
			fmt.Fprintf(&b, "FullScan over all %d facts; no index narrows an unrestricted query", total)
		} else {
			fmt.Fprintf(&b, "FullScan of %d facts is no more expensive than any index for %s", total, q)
			if alt, ok := cheapestIndex(set.candidates); ok {
				fmt.Fprintf(&b, " (%s would cost %.2f)", alt.Strategy, alt.Cost.TotalCost())
			}
			fmt.Fprintf(&b, "; estimated %d results", rows)
		}

	case StrategyTypeIndex:
		fmt.Fprintf(&b, "TypeIndex on %s", plan.Strategy.Discriminant)
		if cq, ok := q.(ComplexQuery); ok && len(cq.Predicates) > 0 {
			fmt.Fprintf(&b, " with %d post-filter predicate(s)", len(cq.Predicates))
		}
		fmt.Fprintf(&b, " avoids a full scan of %d facts; estimated %d results", total, rows)

	case StrategySpatialIndex:
		if plan.Strategy.IsRange() {
			fmt.Fprintf(&b, "SpatialIndex on %s lines %d-%d", plan.Strategy.File, plan.Strategy.StartLine, plan.Strategy.EndLine)
		} else {
			fmt.Fprintf(&b, "SpatialIndex on %s", plan.Strategy.File)
		}
		fmt.Fprintf(&b, " avoids a full scan of %d facts; estimated %d results", total, rows)

	case StrategyFlowIndex:
		if _, known := p.stats.Flow(plan.Strategy.Flow); known {
			fmt.Fprintf(&b, "FlowIndex on %s probes about %d participant(s) directly", plan.Strategy.Flow, rows)
		} else {
			fmt.Fprintf(&b, "FlowIndex on %s: flow has no recorded source; estimated 0 results", plan.Strategy.Flow)
		}
	}

	if plan.Strategy.Kind != StrategyFullScan {
		if scan, ok := fullScanCandidate(set.candidates); ok {
			fmt.Fprintf(&b, " (cost %.2f vs %.2f for FullScan)", plan.EstimatedCost.TotalCost(), scan.Cost.TotalCost())
		} else {
			fmt.Fprintf(&b, " (cost %.2f)", plan.EstimatedCost.TotalCost())
		}
		if total > 0 && plan.Selectivity <= p.config.SelectiveThreshold {
			fmt.Fprintf(&b, "; highly selective at %.1f%% of facts", plan.Selectivity*100)
		}
	}

	if plan.Parallelizable {
		fmt.Fprintf(&b, "; parallelizable, touches at least %d facts", p.config.ParallelThreshold)
	}
	return b.String()
}

func cheapestIndex(candidates []Candidate) (Candidate, bool) {
	var (
		best  Candidate
		found bool
	)
	for _, c := range candidates {
		if c.Strategy.Kind == StrategyFullScan {
			continue
		}
		if !found || c.Cost.IsBetterThan(best.Cost) {
			best, found = c, true
		}
	}
	return best, found
}

func fullScanCandidate(candidates []Candidate) (Candidate, bool) {
	for _, c := range candidates {
		if c.Strategy.Kind == StrategyFullScan {
			return c, true
		}
	}
	return Candidate{}, false
}
