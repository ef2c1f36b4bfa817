// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"github.com/AleutianAI/AleutianFacts/services/analysis/facts"
	"github.com/AleutianAI/AleutianFacts/services/analysis/planner"
	"github.com/AleutianAI/AleutianFacts/services/analysis/rules"
	"github.com/AleutianAI/AleutianFacts/services/analysis/store"
	"github.com/AleutianAI/AleutianFacts/services/analysis/taint"
)

const (
	// DefaultQueryLimit caps the facts returned by /query when the request
	// sets no limit.
	DefaultQueryLimit = 1000

	// MaxQueryLimit is the largest accepted limit.
	MaxQueryLimit = 10000
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeInvalidQuery   = "INVALID_QUERY"
	CodeInvalidRules   = "INVALID_RULES"
	CodeUnknownFlow    = "UNKNOWN_FLOW"
	CodeTimeout        = "TIMEOUT"
	CodeRateLimited    = "RATE_LIMITED"
	CodeInternal       = "INTERNAL_ERROR"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code,omitempty"`

	// Details provides additional error context (optional).
	Details string `json:"details,omitempty"`
}

// HealthResponse is returned by GET /v1/analysis/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Facts   int    `json:"facts"`
}

// StatsResponse is returned by GET /v1/analysis/stats.
type StatsResponse struct {
	Store   store.Stats          `json:"store"`
	Planner planner.PlannerStats `json:"planner"`
}

// PlanRequest is the body of POST /v1/analysis/plan.
type PlanRequest struct {
	Query planner.QuerySpec `json:"query"`

	// Explain returns every costed candidate. Explained plans bypass the
	// plan cache.
	Explain bool `json:"explain,omitempty"`
}

// PlanResponse is returned by POST /v1/analysis/plan.
type PlanResponse struct {
	Plan       *planner.QueryPlan  `json:"plan"`
	Candidates []planner.Candidate `json:"candidates,omitempty"`
}

// QueryRequest is the body of POST /v1/analysis/query.
type QueryRequest struct {
	Query planner.QuerySpec `json:"query"`

	// Limit caps the returned facts. Zero means DefaultQueryLimit.
	Limit int `json:"limit,omitempty" binding:"gte=0,lte=10000"`
}

// QueryResponse is returned by POST /v1/analysis/query.
type QueryResponse struct {
	Plan  *planner.QueryPlan `json:"plan"`
	Facts []*facts.Fact      `json:"facts"`

	// Count is the number of matching facts before the limit was applied.
	Count     int  `json:"count"`
	Truncated bool `json:"truncated"`
}

// FlowsResponse is returned by GET /v1/analysis/flows.
type FlowsResponse struct {
	Flows []taint.Flow `json:"flows"`

	// Unsanitized lists the flows that reach a sink with no sanitizer.
	Unsanitized []facts.FlowID `json:"unsanitized"`
}

// RuleFailure describes one rule that could not be evaluated.
type RuleFailure struct {
	RuleID string `json:"rule_id"`
	Error  string `json:"error"`
}

// EvaluateResponse is returned by POST /v1/analysis/rules/evaluate.
type EvaluateResponse struct {
	Findings []rules.Finding `json:"findings"`
	Failed   []RuleFailure   `json:"failed,omitempty"`
	Skipped  int             `json:"skipped"`
}
