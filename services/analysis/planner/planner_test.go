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
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/AleutianAI/AleutianFacts/services/analysis/facts"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// newFact builds a valid fact for planner tests.
func newFact(id string, t facts.FactType, file string, line int) *facts.Fact {
	return &facts.Fact{
		ID:       facts.ID(id),
		Type:     t,
		Location: facts.Location{File: file, StartLine: line, EndLine: line},
		Provenance: facts.Provenance{
			Extractor:  "test",
			Version:    "1.0.0",
			Confidence: 1,
		},
	}
}

// scenarioFacts returns 10 TaintSource, 5 TaintSink, 3 Vulnerability and
// 20 Function facts. 35 of the 38 are in src/main.rs.
func scenarioFacts() []*facts.Fact {
	var out []*facts.Fact
	line := 1
	add := func(id string, t facts.FactType, file string) {
		out = append(out, newFact(id, t, file, line))
		line++
	}

	for i := 0; i < 10; i++ {
		add(fmt.Sprintf("src-%d", i), facts.TaintSource{
			Variable:   fmt.Sprintf("input%d", i),
			SourceKind: "http",
			FlowID:     facts.FlowID(fmt.Sprintf("flow-%d", i)),
		}, "src/main.rs")
	}
	for i := 0; i < 5; i++ {
		add(fmt.Sprintf("sink-%d", i), facts.TaintSink{
			Function:      "query",
			Category:      "sql",
			ConsumedFlows: []facts.FlowID{facts.FlowID(fmt.Sprintf("flow-%d", i))},
		}, "src/main.rs")
	}
	severities := []facts.Severity{facts.SeverityCritical, facts.SeverityHigh, facts.SeverityLow}
	for i, sev := range severities {
		add(fmt.Sprintf("vuln-%d", i), facts.Vulnerability{CWE: "CWE-89", Title: "SQLi", Severity: sev}, "src/main.rs")
	}
	for i := 0; i < 20; i++ {
		file := "src/main.rs"
		if i >= 17 {
			file = "src/lib.rs"
		}
		add(fmt.Sprintf("fn-%d", i), facts.Function{Name: fmt.Sprintf("f%d", i)}, file)
	}
	return out
}

func newTestPlanner(t *testing.T, stats *IndexStatistics, mutate func(*Config)) *QueryPlanner {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := New(stats, cfg)
	require.NoError(t, err)
	return p
}

func TestComputeStatistics(t *testing.T) {
	t.Run("scenario counts", func(t *testing.T) {
		fs := scenarioFacts()
		s := ComputeStatistics(fs)

		assert.Equal(t, len(fs), s.TotalFacts)

		sum := 0
		for _, n := range s.TypeStats {
			sum += n
		}
		assert.Equal(t, len(fs), sum)

		assert.Equal(t, 10, s.TypeStats[facts.DiscriminantTaintSource])
		assert.Equal(t, 5, s.TypeStats[facts.DiscriminantTaintSink])
		assert.Equal(t, 3, s.TypeStats[facts.DiscriminantVulnerability])
		assert.Equal(t, 20, s.TypeStats[facts.DiscriminantFunction])
		assert.Equal(t, 35, s.SpatialStats["src/main.rs"].FactCount)
		assert.Equal(t, 3, s.SpatialStats["src/lib.rs"].FactCount)
		assert.Equal(t, 38, s.SpatialStats["src/lib.rs"].MaxLine)
	})

	t.Run("flows counted from sources only", func(t *testing.T) {
		s := ComputeStatistics(scenarioFacts())

		assert.Len(t, s.FlowStats, 10)
		// flow-0 is consumed by a sink but originated once.
		assert.Equal(t, FlowStats{Sources: 1}, s.FlowStats["flow-0"])
	})

	t.Run("sink-only flow is not recorded", func(t *testing.T) {
		s := ComputeStatistics([]*facts.Fact{
			newFact("k", facts.TaintSink{Function: "exec", ConsumedFlows: []facts.FlowID{"orphan"}}, "a.go", 1),
		})
		_, ok := s.Flow("orphan")
		assert.False(t, ok)
	})

	t.Run("paths are normalized", func(t *testing.T) {
		s := ComputeStatistics([]*facts.Fact{
			newFact("a", facts.Function{Name: "a"}, "./src/main.rs", 1),
			newFact("b", facts.Function{Name: "b"}, "src\\main.rs", 9),
		})
		assert.Equal(t, FileStats{FactCount: 2, MaxLine: 9}, s.SpatialStats["src/main.rs"])
	})

	t.Run("empty and nil input", func(t *testing.T) {
		for _, in := range [][]*facts.Fact{nil, {}, {nil, nil}} {
			s := ComputeStatistics(in)
			require.NotNil(t, s)
			assert.Zero(t, s.TotalFacts)
			assert.Empty(t, s.TypeStats)
			assert.Empty(t, s.SpatialStats)
			assert.Empty(t, s.FlowStats)
			assert.True(t, s.IsEmpty())
		}
	})
}

func TestPlanner_EndToEnd(t *testing.T) {
	ctx := context.Background()
	p := newTestPlanner(t, ComputeStatistics(scenarioFacts()), nil)

	t.Run("ByType(TaintSource) uses TypeIndex", func(t *testing.T) {
		plan, err := p.Plan(ctx, ByType(facts.TaintSource{}))
		require.NoError(t, err)
		assert.Equal(t, StrategyTypeIndex, plan.Strategy.Kind)
		assert.Equal(t, facts.DiscriminantTaintSource, plan.Strategy.Discriminant)
		assert.Equal(t, 10, plan.EstimatedCost.ResultSize)
	})

	t.Run("ByFile uses SpatialIndex", func(t *testing.T) {
		plan, err := p.Plan(ctx, ByFile("src/main.rs"))
		require.NoError(t, err)
		assert.Equal(t, StrategySpatialIndex, plan.Strategy.Kind)
		assert.Equal(t, 35, plan.EstimatedCost.ResultSize)
	})

	t.Run("ByFlow uses FlowIndex", func(t *testing.T) {
		plan, err := p.Plan(ctx, ByFlow(facts.FlowID(facts.NewID())))
		require.NoError(t, err)
		assert.Equal(t, StrategyFlowIndex, plan.Strategy.Kind)
		assert.Equal(t, 0, plan.EstimatedCost.ResultSize)
		assert.NotEmpty(t, plan.Explanation)
	})

	t.Run("Complex uses filtered TypeIndex", func(t *testing.T) {
		plan, err := p.Plan(ctx, ComplexWhere(facts.DiscriminantVulnerability, map[string]string{"severity": "Critical"}))
		require.NoError(t, err)
		assert.Equal(t, StrategyTypeIndex, plan.Strategy.Kind)
		assert.True(t, plan.Strategy.Filtered)
		assert.Equal(t, 1, plan.EstimatedCost.ResultSize)
		assert.NotEmpty(t, plan.Explanation)
		assert.Contains(t, plan.Explanation, "TypeIndex on Vulnerability")
	})
}

func TestPlanner_ByTypeCheaperThanFullScan(t *testing.T) {
	stats := ComputeStatistics(scenarioFacts())
	p := newTestPlanner(t, stats, nil)
	model := CostModel{}

	for d, n := range stats.TypeStats {
		if n >= stats.TotalFacts {
			continue
		}
		plan, err := p.Plan(context.Background(), ByDiscriminant(d))
		require.NoError(t, err)
		assert.Equal(t, StrategyTypeIndex, plan.Strategy.Kind, d)

		scan := model.FullScan(stats.TotalFacts, n)
		assert.True(t, plan.EstimatedCost.IsBetterThan(scan), d)
		assert.Less(t, plan.EstimatedCost.TotalCost(), scan.TotalCost(), d)
	}
}

func TestPlanner_ByTypeWholeSetPrefersFullScan(t *testing.T) {
	fs := []*facts.Fact{
		newFact("a", facts.Function{Name: "a"}, "a.go", 1),
		newFact("b", facts.Function{Name: "b"}, "b.go", 1),
	}
	p := newTestPlanner(t, ComputeStatistics(fs), nil)

	plan, err := p.Plan(context.Background(), ByDiscriminant(facts.DiscriminantFunction))
	require.NoError(t, err)
	assert.Equal(t, StrategyFullScan, plan.Strategy.Kind)
	assert.Equal(t, 2, plan.EstimatedCost.ResultSize)
	assert.Contains(t, plan.Explanation, "TypeIndex(Function) would cost")
}

func TestPlanner_AllAlwaysFullScan(t *testing.T) {
	statsSets := map[string]*IndexStatistics{
		"empty":    ComputeStatistics(nil),
		"scenario": ComputeStatistics(scenarioFacts()),
		"single":   ComputeStatistics([]*facts.Fact{newFact("a", facts.Import{Path: "fmt"}, "a.go", 1)}),
	}
	for name, stats := range statsSets {
		t.Run(name, func(t *testing.T) {
			p := newTestPlanner(t, stats, nil)
			plan, err := p.Plan(context.Background(), All())
			require.NoError(t, err)
			assert.Equal(t, StrategyFullScan, plan.Strategy.Kind)
			assert.Equal(t, stats.TotalFacts, plan.EstimatedCost.ResultSize)
			assert.NotEmpty(t, plan.Explanation)
		})
	}
}

func TestPlanner_ByFlowAlwaysFlowIndex(t *testing.T) {
	p := newTestPlanner(t, ComputeStatistics(scenarioFacts()), nil)

	for _, id := range []facts.FlowID{"flow-0", "flow-9", "missing", facts.FlowID(facts.NewID())} {
		plan, err := p.Plan(context.Background(), ByFlow(id))
		require.NoError(t, err)
		assert.Equal(t, StrategyFlowIndex, plan.Strategy.Kind, id)
		assert.Equal(t, id, plan.Strategy.Flow)
	}

	known, err := p.Plan(context.Background(), ByFlow("flow-3"))
	require.NoError(t, err)
	assert.Equal(t, FlowParticipantsPerSource, known.EstimatedCost.ResultSize)
}

func TestCostEstimate_IsBetterThan(t *testing.T) {
	a := CostEstimate{IOCost: 100, CPUCost: 50}
	b := CostEstimate{IOCost: 100, CPUCost: 60}
	c := CostEstimate{IOCost: 120, CPUCost: 50}

	assert.True(t, a.IsBetterThan(b))
	assert.True(t, b.IsBetterThan(c))
	assert.True(t, a.IsBetterThan(c))
	assert.False(t, b.IsBetterThan(a))
	assert.False(t, c.IsBetterThan(b))
	assert.False(t, c.IsBetterThan(a))

	// Irreflexive, and memory/result size do not take part.
	assert.False(t, a.IsBetterThan(a))
	bigger := a
	bigger.MemoryCost = 1 << 30
	bigger.ResultSize = 1_000_000
	assert.False(t, a.IsBetterThan(bigger))
	assert.False(t, bigger.IsBetterThan(a))
}

func TestPlanner_Idempotent(t *testing.T) {
	queries := []Query{
		All(),
		ByType(facts.TaintSink{}),
		ByFile("src/lib.rs"),
		ByLineRange("src/main.rs", 3, 12),
		ByFlow("flow-1"),
		Complex(facts.DiscriminantVulnerability, Eq("severity", "High")),
		ByDiscriminant("Unknown"),
	}

	for _, capacity := range []int{0, 100} {
		t.Run(fmt.Sprintf("capacity=%d", capacity), func(t *testing.T) {
			p := newTestPlanner(t, ComputeStatistics(scenarioFacts()), func(c *Config) {
				c.MaxCacheEntries = capacity
			})
			for _, q := range queries {
				first, err := p.Plan(context.Background(), q)
				require.NoError(t, err)
				second, err := p.Plan(context.Background(), q)
				require.NoError(t, err)

				if diff := cmp.Diff(first, second); diff != "" {
					t.Errorf("%s: plans differ (-first +second):\n%s", q, diff)
				}
			}
		})
	}
}

func TestPlanner_CacheSemantics(t *testing.T) {
	ctx := context.Background()
	stats := ComputeStatistics(scenarioFacts())

	t.Run("disabled cache recomputes every call", func(t *testing.T) {
		p := newTestPlanner(t, stats, func(c *Config) { c.MaxCacheEntries = 0 })
		q := ByType(facts.TaintSource{})

		_, err := p.Plan(ctx, q)
		require.NoError(t, err)
		afterFirst := p.Stats().CostEvaluations

		_, err = p.Plan(ctx, q)
		require.NoError(t, err)
		afterSecond := p.Stats().CostEvaluations

		assert.Greater(t, afterFirst, int64(0))
		assert.Equal(t, 2*afterFirst, afterSecond)
		assert.Zero(t, p.Stats().CacheHits)
		assert.Zero(t, p.Stats().CacheEntries)
	})

	t.Run("enabled cache skips costing on the second call", func(t *testing.T) {
		p := newTestPlanner(t, stats, func(c *Config) { c.MaxCacheEntries = 10 })
		q := ByType(facts.TaintSource{})

		first, err := p.Plan(ctx, q)
		require.NoError(t, err)
		afterFirst := p.Stats().CostEvaluations

		second, err := p.Plan(ctx, q)
		require.NoError(t, err)

		st := p.Stats()
		assert.Equal(t, afterFirst, st.CostEvaluations)
		assert.Equal(t, int64(1), st.CacheHits)
		assert.Equal(t, int64(1), st.CacheMisses)
		assert.Equal(t, int64(2), st.Plans)
		assert.Same(t, first, second)
	})

	t.Run("structurally equal queries share an entry", func(t *testing.T) {
		p := newTestPlanner(t, stats, nil)

		_, err := p.Plan(ctx, ByType(facts.TaintSource{Variable: "x", FlowID: "f"}))
		require.NoError(t, err)
		_, err = p.Plan(ctx, ByDiscriminant(facts.DiscriminantTaintSource))
		require.NoError(t, err)
		_, err = p.Plan(ctx, ComplexWhere(facts.DiscriminantVulnerability, map[string]string{"severity": "Critical", "cwe": "CWE-89"}))
		require.NoError(t, err)
		_, err = p.Plan(ctx, Complex(facts.DiscriminantVulnerability, Eq("severity", "Critical"), Eq("cwe", "CWE-89")))
		require.NoError(t, err)

		st := p.Stats()
		assert.Equal(t, 2, st.CacheEntries)
		assert.Equal(t, int64(2), st.CacheHits)
	})

	t.Run("capacity bounds entries", func(t *testing.T) {
		p := newTestPlanner(t, stats, func(c *Config) { c.MaxCacheEntries = 2 })
		for i := 0; i < 5; i++ {
			_, err := p.Plan(ctx, ByFlow(facts.FlowID(fmt.Sprintf("flow-%d", i))))
			require.NoError(t, err)
		}
		st := p.Stats()
		assert.Equal(t, 2, st.CacheEntries)
		assert.Equal(t, int64(3), st.Evictions)
	})
}

func TestPlanner_EmptyStatistics(t *testing.T) {
	p := newTestPlanner(t, ComputeStatistics(nil), nil)

	queries := []Query{
		All(),
		ByType(facts.Function{}),
		ByFile("src/main.rs"),
		ByLineRange("src/main.rs", 1, 10),
		ByFlow("flow-1"),
		Complex(facts.DiscriminantVulnerability, Eq("severity", "Critical")),
	}
	for _, q := range queries {
		plan, err := p.Plan(context.Background(), q)
		require.NoError(t, err, q)
		assert.Equal(t, StrategyFullScan, plan.Strategy.Kind, q)
		assert.Equal(t, 0, plan.EstimatedCost.ResultSize, q)
		assert.Zero(t, plan.EstimatedCost.TotalCost(), q)
		assert.NotEmpty(t, plan.Explanation, q)
	}

	nilStats, err := New(nil, DefaultConfig())
	require.NoError(t, err)
	plan, err := nilStats.Plan(context.Background(), ByType(facts.Function{}))
	require.NoError(t, err)
	assert.Equal(t, StrategyFullScan, plan.Strategy.Kind)
}

func TestPlanner_UnknownKeysDegradeToFullScan(t *testing.T) {
	stats := ComputeStatistics(scenarioFacts())
	p := newTestPlanner(t, stats, nil)

	queries := []Query{
		ByDiscriminant(facts.DiscriminantImport),
		ByDiscriminant(facts.CustomDiscriminant("license")),
		ByFile("src/missing.rs"),
		ByLineRange("src/missing.rs", 1, 5),
		Complex(facts.DiscriminantCodeSmell, Eq("severity", "High")),
	}
	for _, q := range queries {
		plan, err := p.Plan(context.Background(), q)
		require.NoError(t, err, q)
		assert.Equal(t, StrategyFullScan, plan.Strategy.Kind, q)
		assert.Equal(t, 0, plan.EstimatedCost.ResultSize, q)
		assert.Equal(t, CostModel{}.FullScan(stats.TotalFacts, 0).TotalCost(), plan.EstimatedCost.TotalCost(), q)
		assert.Contains(t, plan.Explanation, "not in the", q)
	}
}

func TestPlanner_LineRange(t *testing.T) {
	var fs []*facts.Fact
	for i := 1; i <= 100; i++ {
		fs = append(fs, newFact(fmt.Sprintf("f%d", i), facts.Variable{Name: "v"}, "big.go", i))
	}
	fs = append(fs, newFact("other", facts.Variable{Name: "v"}, "other.go", 1))
	stats := ComputeStatistics(fs)
	p := newTestPlanner(t, stats, nil)

	t.Run("band scales with width", func(t *testing.T) {
		plan, err := p.Plan(context.Background(), ByLineRange("big.go", 10, 19))
		require.NoError(t, err)
		assert.Equal(t, SpatialRange("big.go", 10, 19), plan.Strategy)
		assert.Equal(t, 10, plan.EstimatedCost.ResultSize)

		whole, err := p.Plan(context.Background(), ByFile("big.go"))
		require.NoError(t, err)
		assert.True(t, plan.EstimatedCost.IsBetterThan(whole.EstimatedCost))
	})

	t.Run("band rounds up", func(t *testing.T) {
		plan, err := p.Plan(context.Background(), ByLineRange("big.go", 5, 5))
		require.NoError(t, err)
		assert.Equal(t, 1, plan.EstimatedCost.ResultSize)
	})

	t.Run("missing line statistics fall back to the whole file", func(t *testing.T) {
		manual := NewIndexStatistics()
		manual.TotalFacts = 50
		manual.TypeStats[facts.DiscriminantVariable] = 50
		manual.SpatialStats["a.go"] = FileStats{FactCount: 20}
		manual.SpatialStats["b.go"] = FileStats{FactCount: 30}

		mp := newTestPlanner(t, manual, nil)
		plan, err := mp.Plan(context.Background(), ByLineRange("a.go", 1, 2))
		require.NoError(t, err)
		assert.Equal(t, StrategySpatialIndex, plan.Strategy.Kind)
		assert.Equal(t, 20, plan.EstimatedCost.ResultSize)
		assert.Equal(t, CostModel{}.SpatialFile(20), plan.EstimatedCost)
	})
}

func TestPlanner_InvalidQueries(t *testing.T) {
	p := newTestPlanner(t, ComputeStatistics(scenarioFacts()), nil)

	queries := map[string]Query{
		"nil":              nil,
		"start after end":  ByLineRange("src/main.rs", 10, 5),
		"zero start":       ByLineRange("src/main.rs", 0, 5),
		"empty range path": ByLineRange("", 1, 5),
		"empty file":       ByFile(""),
		"empty flow":       ByFlow(""),
		"nil template":     ByType(nil),
		"empty complex":    Complex("", Eq("a", "b")),
		"unknown op":       Complex(facts.DiscriminantFunction, Predicate{Field: "name", Op: "regex", Value: "x"}),
		"empty field":      Complex(facts.DiscriminantFunction, Eq("", "x")),
		"non-numeric gt":   Complex(facts.DiscriminantFunction, Predicate{Field: "parameter_count", Op: OpGt, Value: "many"}),
	}
	for name, q := range queries {
		t.Run(name, func(t *testing.T) {
			plan, err := p.Plan(context.Background(), q)
			assert.Nil(t, plan)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidQuery))

			_, err = p.Explain(context.Background(), q)
			assert.ErrorIs(t, err, ErrInvalidQuery)
		})
	}

	st := p.Stats()
	assert.Zero(t, st.CacheEntries)
	assert.Zero(t, st.CostEvaluations)
	assert.Zero(t, st.Plans)
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := map[string]func(*Config){
		"zero selective threshold":    func(c *Config) { c.SelectiveThreshold = 0 },
		"selective threshold above 1": func(c *Config) { c.SelectiveThreshold = 1.5 },
		"negative parallel threshold": func(c *Config) { c.ParallelThreshold = -1 },
		"negative cache capacity":     func(c *Config) { c.MaxCacheEntries = -1 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			p, err := New(ComputeStatistics(nil), cfg)
			assert.Nil(t, p)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	t.Run("boundary values are accepted", func(t *testing.T) {
		_, err := New(nil, Config{SelectiveThreshold: 1, ParallelThreshold: 0, MaxCacheEntries: 0})
		assert.NoError(t, err)
	})
}

func TestSelectBest_TieBreak(t *testing.T) {
	same := CostEstimate{IOCost: 10, CPUCost: 5}
	cheaper := CostEstimate{IOCost: 1}

	tests := []struct {
		name       string
		candidates []Candidate
		want       StrategyKind
	}{
		{
			name: "type index beats full scan on tie",
			candidates: []Candidate{
				{Strategy: FullScan(), Cost: same},
				{Strategy: TypeIndex("Function"), Cost: same},
			},
			want: StrategyTypeIndex,
		},
		{
			name: "type index beats spatial on tie",
			candidates: []Candidate{
				{Strategy: SpatialIndex("a.go"), Cost: same},
				{Strategy: TypeIndex("Function"), Cost: same},
			},
			want: StrategyTypeIndex,
		},
		{
			name: "spatial beats flow on tie",
			candidates: []Candidate{
				{Strategy: FlowIndex("f"), Cost: same},
				{Strategy: SpatialIndex("a.go"), Cost: same},
			},
			want: StrategySpatialIndex,
		},
		{
			name: "flow beats full scan on tie",
			candidates: []Candidate{
				{Strategy: FullScan(), Cost: same},
				{Strategy: FlowIndex("f"), Cost: same},
			},
			want: StrategyFlowIndex,
		},
		{
			name: "cost wins over priority",
			candidates: []Candidate{
				{Strategy: TypeIndex("Function"), Cost: same},
				{Strategy: FullScan(), Cost: cheaper},
			},
			want: StrategyFullScan,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := selectBest(tt.candidates)
			assert.Equal(t, tt.want, got.Strategy.Kind)

			// Order of enumeration must not matter.
			reversed := []Candidate{tt.candidates[1], tt.candidates[0]}
			assert.Equal(t, tt.want, selectBest(reversed).Strategy.Kind)
		})
	}
}

func TestPlanner_Parallelizable(t *testing.T) {
	stats := ComputeStatistics(scenarioFacts())

	p := newTestPlanner(t, stats, func(c *Config) { c.ParallelThreshold = 20 })
	all, err := p.Plan(context.Background(), All())
	require.NoError(t, err)
	assert.True(t, all.Parallelizable)
	assert.Contains(t, all.Explanation, "parallelizable")

	typed, err := p.Plan(context.Background(), ByType(facts.TaintSource{}))
	require.NoError(t, err)
	assert.False(t, typed.Parallelizable)

	def := newTestPlanner(t, stats, nil)
	all, err = def.Plan(context.Background(), All())
	require.NoError(t, err)
	assert.False(t, all.Parallelizable)
}

func TestPlanner_SelectivityInExplanation(t *testing.T) {
	stats := ComputeStatistics(scenarioFacts())
	p := newTestPlanner(t, stats, func(c *Config) { c.SelectiveThreshold = 0.1 })

	vuln, err := p.Plan(context.Background(), ByDiscriminant(facts.DiscriminantVulnerability))
	require.NoError(t, err)
	assert.InDelta(t, 3.0/38.0, vuln.Selectivity, 1e-9)
	assert.Contains(t, vuln.Explanation, "highly selective")

	fn, err := p.Plan(context.Background(), ByDiscriminant(facts.DiscriminantFunction))
	require.NoError(t, err)
	assert.NotContains(t, fn.Explanation, "highly selective")
}

func TestPlanner_Explain(t *testing.T) {
	p := newTestPlanner(t, ComputeStatistics(scenarioFacts()), nil)

	exp, err := p.Explain(context.Background(), ByType(facts.TaintSource{}))
	require.NoError(t, err)
	require.Len(t, exp.Candidates, 2)
	assert.Equal(t, StrategyTypeIndex, exp.Candidates[0].Strategy.Kind)
	assert.Equal(t, StrategyFullScan, exp.Candidates[1].Strategy.Kind)
	assert.True(t, exp.Candidates[0].Cost.IsBetterThan(exp.Candidates[1].Cost))
	assert.Equal(t, exp.Candidates[0].Strategy, exp.Plan.Strategy)

	// Explain bypasses the cache.
	assert.Zero(t, p.Stats().CacheEntries)
	assert.Equal(t, int64(2), p.Stats().CostEvaluations)
}

func TestPlanner_ConcurrentPlan(t *testing.T) {
	stats := ComputeStatistics(scenarioFacts())
	queries := []Query{
		All(),
		ByType(facts.TaintSource{}),
		ByFile("src/main.rs"),
		ByLineRange("src/main.rs", 1, 4),
		ByFlow("flow-2"),
		Complex(facts.DiscriminantVulnerability, Eq("severity", "Critical")),
	}

	// Single-threaded reference run for the expected evaluation count.
	ref := newTestPlanner(t, stats, nil)
	for _, q := range queries {
		_, err := ref.Plan(context.Background(), q)
		require.NoError(t, err)
	}
	wantEvaluations := ref.Stats().CostEvaluations

	p := newTestPlanner(t, stats, nil)
	const goroutines = 16
	results := make([][]*QueryPlan, goroutines)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			plans := make([]*QueryPlan, len(queries))
			for i, q := range queries {
				plan, err := p.Plan(context.Background(), q)
				if err != nil {
					t.Errorf("plan %s: %v", q, err)
					return
				}
				plans[i] = plan
			}
			results[g] = plans
		}(g)
	}
	wg.Wait()

	for g := 1; g < goroutines; g++ {
		for i := range queries {
			assert.Same(t, results[0][i], results[g][i], "goroutine %d query %s", g, queries[i])
		}
	}

	st := p.Stats()
	assert.Equal(t, wantEvaluations, st.CostEvaluations)
	assert.Equal(t, int64(goroutines*len(queries)), st.Plans)
	assert.Equal(t, len(queries), st.CacheEntries)
}
