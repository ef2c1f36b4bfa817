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
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianFacts/services/analysis/facts"
	"github.com/AleutianAI/AleutianFacts/services/analysis/planner"
	"github.com/AleutianAI/AleutianFacts/services/analysis/rules"
	"github.com/AleutianAI/AleutianFacts/services/analysis/store"
	"github.com/AleutianAI/AleutianFacts/services/analysis/taint"
	"github.com/AleutianAI/AleutianFacts/services/analysis/telemetry"
)

// ServiceVersion is the analysis API version.
const ServiceVersion = "0.1.0"

// Handlers contains the HTTP handlers for the analysis API.
//
// Thread Safety: Safe for concurrent use. The store is read-only and the
// planner synchronizes its cache internally.
type Handlers struct {
	store     *store.Store
	planner   *planner.QueryPlanner
	engine    *rules.RuleEngine
	collector *taint.Collector
	logger    *slog.Logger
}

// NewHandlers creates handlers serving s, planning with p.
//
// A rule engine with default settings is created. Use WithRuleEngine to
// replace it.
func NewHandlers(s *store.Store, p *planner.QueryPlanner) *Handlers {
	return &Handlers{
		store:     s,
		planner:   p,
		engine:    rules.NewRuleEngine(s, p),
		collector: taint.NewCollector(s, p, nil),
		logger:    slog.Default(),
	}
}

// WithRuleEngine sets the engine used by /rules/evaluate.
func (h *Handlers) WithRuleEngine(e *rules.RuleEngine) *Handlers {
	if e != nil {
		h.engine = e
	}
	return h
}

// WithLogger sets the request logger.
func (h *Handlers) WithLogger(logger *slog.Logger) *Handlers {
	if logger != nil {
		h.logger = logger
		h.collector = taint.NewCollector(h.store, h.planner, logger)
	}
	return h
}

// requestLogger returns a logger carrying the request id, handler name
// and, when a span is active, its trace id.
func (h *Handlers) requestLogger(c *gin.Context, handler string) *slog.Logger {
	logger := h.logger.With("request_id", requestIDFrom(c), "handler", handler)
	return telemetry.LoggerWithTrace(c.Request.Context(), logger)
}

// HandleHealth handles GET /v1/analysis/health.
//
// Response:
//
//	200 OK: HealthResponse
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: ServiceVersion,
		Facts:   h.store.Len(),
	})
}

// HandleStats handles GET /v1/analysis/stats.
//
// Response:
//
//	200 OK: StatsResponse
func (h *Handlers) HandleStats(c *gin.Context) {
	c.JSON(http.StatusOK, StatsResponse{
		Store:   h.store.Stats(),
		Planner: h.planner.Stats(),
	})
}

// HandlePlan handles POST /v1/analysis/plan.
//
// Description:
//
//	Plans the query without executing it. With explain set, every costed
//	candidate is returned as well.
//
// Request Body:
//
//	PlanRequest
//
// Response:
//
//	200 OK: PlanResponse
//	400 Bad Request: Malformed body or invalid query
func (h *Handlers) HandlePlan(c *gin.Context) {
	logger := h.requestLogger(c, "HandlePlan")

	var req PlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		badRequest(c, CodeInvalidRequest, "Invalid request body", err)
		return
	}

	q, err := req.Query.Build()
	if err != nil {
		badRequest(c, CodeInvalidQuery, err.Error(), nil)
		return
	}

	ctx := c.Request.Context()
	if req.Explain {
		ex, err := h.planner.Explain(ctx, q)
		if err != nil {
			h.fail(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, PlanResponse{Plan: ex.Plan, Candidates: ex.Candidates})
		return
	}

	plan, err := h.planner.Plan(ctx, q)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, PlanResponse{Plan: plan})
}

// HandleQuery handles POST /v1/analysis/query.
//
// Description:
//
//	Plans and executes the query. At most limit facts are returned, in
//	store order; Count reports the full match count.
//
// Request Body:
//
//	QueryRequest
//
// Response:
//
//	200 OK: QueryResponse
//	400 Bad Request: Malformed body or invalid query
//	504 Gateway Timeout: The request context ended during execution
func (h *Handlers) HandleQuery(c *gin.Context) {
	logger := h.requestLogger(c, "HandleQuery")

	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		badRequest(c, CodeInvalidRequest, "Invalid request body", err)
		return
	}

	q, err := req.Query.Build()
	if err != nil {
		badRequest(c, CodeInvalidQuery, err.Error(), nil)
		return
	}

	results, plan, err := h.store.Query(c.Request.Context(), h.planner, q)
	if err != nil {
		h.fail(c, logger, err)
		return
	}

	limit := req.Limit
	if limit == 0 {
		limit = DefaultQueryLimit
	}
	resp := QueryResponse{Plan: plan, Facts: results, Count: len(results)}
	if len(results) > limit {
		resp.Facts = results[:limit]
		resp.Truncated = true
	}

	logger.Debug("Query executed",
		"query", q.String(),
		"strategy", plan.Strategy.String(),
		"results", len(results))
	c.JSON(http.StatusOK, resp)
}

// HandleFlows handles GET /v1/analysis/flows.
//
// Query Parameters:
//
//	unsanitized: Only return flows reaching a sink with no sanitizer
//	  (optional, default false)
//
// Response:
//
//	200 OK: FlowsResponse
//	400 Bad Request: Malformed parameter
func (h *Handlers) HandleFlows(c *gin.Context) {
	logger := h.requestLogger(c, "HandleFlows")

	onlyUnsanitized := false
	if v := c.Query("unsanitized"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			badRequest(c, CodeInvalidRequest, "unsanitized must be a boolean", err)
			return
		}
		onlyUnsanitized = b
	}

	report, err := h.collector.Collect(c.Request.Context())
	if err != nil {
		h.fail(c, logger, err)
		return
	}

	unsanitized := report.Unsanitized()
	resp := FlowsResponse{
		Flows:       report.Flows,
		Unsanitized: make([]facts.FlowID, 0, len(unsanitized)),
	}
	for _, f := range unsanitized {
		resp.Unsanitized = append(resp.Unsanitized, f.ID)
	}
	if onlyUnsanitized {
		resp.Flows = unsanitized
		if resp.Flows == nil {
			resp.Flows = []taint.Flow{}
		}
	}
	c.JSON(http.StatusOK, resp)
}

// HandleFlow handles GET /v1/analysis/flows/:id.
//
// Response:
//
//	200 OK: taint.Flow
//	404 Not Found: No fact takes part in the flow
func (h *Handlers) HandleFlow(c *gin.Context) {
	logger := h.requestLogger(c, "HandleFlow")
	id := facts.FlowID(c.Param("id"))

	flow, err := h.collector.CollectFlow(c.Request.Context(), id)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	if len(flow.Sources)+len(flow.Sanitizers)+len(flow.Sinks)+len(flow.Other) == 0 {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "flow not found: " + string(id),
			Code:  CodeUnknownFlow,
		})
		return
	}
	c.JSON(http.StatusOK, flow)
}

// HandleEvaluateRules handles POST /v1/analysis/rules/evaluate.
//
// Description:
//
//	Evaluates a rule set sent in the body, in the same YAML or JSON form
//	as a rules file. Rules that fail are reported in Failed; the request
//	still succeeds.
//
// Request Body:
//
//	rules.RuleSet (YAML or JSON), at most rules.MaxRuleFileSize bytes
//
// Response:
//
//	200 OK: EvaluateResponse
//	400 Bad Request: Unreadable or invalid rule set
func (h *Handlers) HandleEvaluateRules(c *gin.Context) {
	logger := h.requestLogger(c, "HandleEvaluateRules")

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, rules.MaxRuleFileSize))
	if err != nil {
		badRequest(c, CodeInvalidRequest, "Invalid request body", err)
		return
	}

	ruleSet, err := rules.Parse(body)
	if err != nil {
		badRequest(c, CodeInvalidRules, err.Error(), nil)
		return
	}

	result, err := h.engine.Evaluate(c.Request.Context(), ruleSet)
	if err != nil {
		h.fail(c, logger, err)
		return
	}

	resp := EvaluateResponse{
		Findings: result.Findings(),
		Skipped:  result.Skipped,
	}
	if resp.Findings == nil {
		resp.Findings = []rules.Finding{}
	}
	for _, rr := range result.Failed() {
		resp.Failed = append(resp.Failed, RuleFailure{RuleID: rr.Rule.ID, Error: rr.Err.Error()})
	}

	logger.Info("Rules evaluated",
		"rules", len(ruleSet),
		"findings", len(resp.Findings),
		"failed", len(resp.Failed))
	c.JSON(http.StatusOK, resp)
}

// fail maps err to a status code and writes an ErrorResponse.
func (h *Handlers) fail(c *gin.Context, logger *slog.Logger, err error) {
	status, code := http.StatusInternalServerError, CodeInternal
	switch {
	case errors.Is(err, planner.ErrInvalidQuery):
		status, code = http.StatusBadRequest, CodeInvalidQuery
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		status, code = http.StatusGatewayTimeout, CodeTimeout
	}

	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", "error", err)
	} else {
		logger.Warn("Request rejected", "error", err)
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

func badRequest(c *gin.Context, code, msg string, err error) {
	resp := ErrorResponse{Error: msg, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	c.JSON(http.StatusBadRequest, resp)
}
