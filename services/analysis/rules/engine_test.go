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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/AleutianAI/AleutianFacts/services/analysis/facts"
	"github.com/AleutianAI/AleutianFacts/services/analysis/planner"
	"github.com/AleutianAI/AleutianFacts/services/analysis/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testRulesYAML = `
rules:
  - id: critical-vulns
    name: Critical vulnerability
    severity: Critical
    fact_type: Vulnerability
    where:
      - field: severity
        op: eq
        value: Critical
    message: "{field:cwe} {field:title} in {file}:{line}"
  - id: all-sinks
    name: Taint sink
    severity: Medium
    fact_type: TaintSink
  - id: disabled
    name: Disabled rule
    enabled: false
    severity: Low
    fact_type: Function
`

func makeFact(id string, t facts.FactType, file string, line int) *facts.Fact {
	return &facts.Fact{
		ID:       facts.ID(id),
		Type:     t,
		Location: facts.Location{File: file, StartLine: line, EndLine: line},
		Provenance: facts.Provenance{
			Extractor:  "test",
			Confidence: 1,
		},
	}
}

func testFacts() []*facts.Fact {
	return []*facts.Fact{
		makeFact("v1", facts.Vulnerability{CWE: "CWE-89", Title: "SQLi", Severity: facts.SeverityCritical}, "db.go", 10),
		makeFact("v2", facts.Vulnerability{CWE: "CWE-79", Title: "XSS", Severity: facts.SeverityLow}, "web.go", 4),
		makeFact("k1", facts.TaintSink{Function: "Exec", ConsumedFlows: []facts.FlowID{"f1"}}, "db.go", 12),
		makeFact("s1", facts.TaintSource{Variable: "q", FlowID: "f1"}, "web.go", 2),
		makeFact("v3", facts.Vulnerability{CWE: "CWE-78", Title: "Command injection", Severity: facts.SeverityCritical}, "exec.go", 30),
		makeFact("fn", facts.Function{Name: "main"}, "main.go", 1),
	}
}

func newTestEngine(t *testing.T, p store.Planner, opts ...Option) (*RuleEngine, *planner.QueryPlanner) {
	t.Helper()
	s, err := store.New(testFacts())
	require.NoError(t, err)

	qp, err := planner.New(s.Statistics(), planner.DefaultConfig())
	require.NoError(t, err)
	if p == nil {
		p = qp
	}
	return NewRuleEngine(s, p, opts...), qp
}

func TestParse(t *testing.T) {
	rules, err := Parse([]byte(testRulesYAML))
	require.NoError(t, err)
	require.Len(t, rules, 3)

	assert.Equal(t, "critical-vulns", rules[0].ID)
	assert.True(t, rules[0].IsEnabled())
	assert.False(t, rules[2].IsEnabled())
	assert.Equal(t,
		planner.Complex(facts.DiscriminantVulnerability, planner.Eq("severity", "Critical")).Key(),
		rules[0].Query().Key(),
	)
	assert.Equal(t, planner.ByDiscriminant(facts.DiscriminantTaintSink).Key(), rules[1].Query().Key())
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]string{
		"missing id":        "rules:\n  - name: x\n    severity: Low\n    fact_type: Function\n",
		"bad severity":      "rules:\n  - id: a\n    name: x\n    severity: Urgent\n    fact_type: Function\n",
		"missing fact type": "rules:\n  - id: a\n    name: x\n    severity: Low\n",
		"bad predicate":     "rules:\n  - id: a\n    name: x\n    severity: Low\n    fact_type: Function\n    where:\n      - field: name\n        op: like\n        value: x\n",
		"numeric op":        "rules:\n  - id: a\n    name: x\n    severity: Low\n    fact_type: Function\n    where:\n      - field: parameter_count\n        op: gt\n        value: many\n",
		"duplicate id":      "rules:\n  - id: a\n    name: x\n    severity: Low\n    fact_type: Function\n  - id: a\n    name: y\n    severity: Low\n    fact_type: Import\n",
		"empty custom name": "rules:\n  - id: a\n    name: x\n    severity: Low\n    fact_type: \"Custom:\"\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.ErrorIs(t, err, ErrInvalidRule)
		})
	}

	t.Run("unknown key", func(t *testing.T) {
		_, err := Parse([]byte("rules:\n  - id: a\n    name: x\n    severity: Low\n    fact_type: Function\n    colour: red\n"))
		assert.Error(t, err)
	})

	t.Run("empty document", func(t *testing.T) {
		rules, err := Parse(nil)
		require.NoError(t, err)
		assert.Empty(t, rules)
	})
}

func TestLoadRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yml")
	require.NoError(t, os.WriteFile(path, []byte(testRulesYAML), 0o600))

	rules, err := LoadRules(path)
	require.NoError(t, err)
	assert.Len(t, rules, 3)

	_, err = LoadRules(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestRuleEngine_Evaluate(t *testing.T) {
	rules, err := Parse([]byte(testRulesYAML))
	require.NoError(t, err)

	engine, _ := newTestEngine(t, nil)
	result, err := engine.Evaluate(context.Background(), rules)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Skipped)
	require.Len(t, result.Results, 2)
	assert.Empty(t, result.Failed())

	vulns := result.Results[0]
	assert.Equal(t, planner.StrategyTypeIndex, vulns.Strategy.Kind)
	require.Len(t, vulns.Findings, 2)
	assert.Equal(t, facts.ID("v1"), vulns.Findings[0].Fact.ID)
	assert.Equal(t, facts.ID("v3"), vulns.Findings[1].Fact.ID)
	assert.Equal(t, "CWE-89 SQLi in db.go:10", vulns.Findings[0].Message)
	assert.Equal(t, facts.SeverityCritical, vulns.Findings[0].Severity)

	sinks := result.Results[1]
	require.Len(t, sinks.Findings, 1)
	assert.Equal(t, "Taint sink at db.go:12", sinks.Findings[0].Message)

	all := result.Findings()
	ids := make([]string, 0, len(all))
	for _, f := range all {
		ids = append(ids, f.RuleID+"/"+string(f.Fact.ID))
	}
	assert.Equal(t, []string{"critical-vulns/v1", "critical-vulns/v3", "all-sinks/k1"}, ids)
}

func TestRuleEngine_SharedPlans(t *testing.T) {
	var rules []Rule
	for i := 0; i < 20; i++ {
		rules = append(rules, Rule{
			ID:       fmt.Sprintf("r%d", i),
			Name:     "vulns",
			Severity: facts.SeverityHigh,
			FactType: string(facts.DiscriminantVulnerability),
		})
	}

	engine, qp := newTestEngine(t, nil, WithWorkers(8))
	result, err := engine.Evaluate(context.Background(), rules)
	require.NoError(t, err)

	for _, res := range result.Results {
		assert.NoError(t, res.Err)
		assert.Len(t, res.Findings, 3)
	}

	stats := qp.Stats()
	assert.Equal(t, int64(20), stats.Plans)
	assert.Equal(t, 1, stats.CacheEntries)
}

// blockingPlanner blocks queries for one discriminant until ctx is done.
type blockingPlanner struct {
	inner store.Planner
	block facts.Discriminant
}

func (b blockingPlanner) Plan(ctx context.Context, q planner.Query) (*planner.QueryPlan, error) {
	if tq, ok := q.(planner.TypeQuery); ok && tq.Discriminant == b.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return b.inner.Plan(ctx, q)
}

func TestRuleEngine_RuleTimeout(t *testing.T) {
	rules := []Rule{
		{ID: "slow", Name: "slow", Severity: facts.SeverityLow, FactType: string(facts.DiscriminantFunction)},
		{ID: "fast", Name: "fast", Severity: facts.SeverityLow, FactType: string(facts.DiscriminantTaintSource)},
	}

	_, qp := newTestEngine(t, nil)
	engine, _ := newTestEngine(t,
		blockingPlanner{inner: qp, block: facts.DiscriminantFunction},
		WithRuleTimeout(20*time.Millisecond),
	)

	result, err := engine.Evaluate(context.Background(), rules)
	require.NoError(t, err)

	require.Len(t, result.Failed(), 1)
	assert.ErrorIs(t, result.Results[0].Err, context.DeadlineExceeded)
	assert.True(t, strings.Contains(result.Results[0].Err.Error(), "slow"))

	assert.NoError(t, result.Results[1].Err)
	assert.Len(t, result.Results[1].Findings, 1)
}

func TestRuleEngine_Cancelled(t *testing.T) {
	rules, err := Parse([]byte(testRulesYAML))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine, _ := newTestEngine(t, nil)
	result, err := engine.Evaluate(ctx, rules)
	assert.ErrorIs(t, err, context.Canceled)
	for _, res := range result.Results {
		assert.Error(t, res.Err)
	}
}

func TestRenderMessage(t *testing.T) {
	r := &Rule{Name: "Weak hash"}
	f := makeFact("h1", facts.FunctionCall{Callee: "md5.Sum"}, "crypto.go", 7)

	tests := []struct {
		tmpl string
		want string
	}{
		{"", "Weak hash at crypto.go:7"},
		{"{type} {id}", "FunctionCall h1"},
		{"call to {field:callee}", "call to md5.Sum"},
		{"{field:nope}|", "|"},
		{"{unknown} {line}", "{unknown} 7"},
	}
	for _, tt := range tests {
		t.Run(tt.tmpl, func(t *testing.T) {
			r.Message = tt.tmpl
			assert.Equal(t, tt.want, renderMessage(r, f))
		})
	}
}
