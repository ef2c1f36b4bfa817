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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all analysis routes with the router.
//
// Description:
//
//	Registers all /v1/analysis/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	GET  /v1/analysis/health - Health check
//	GET  /v1/analysis/stats - Store and planner statistics
//	POST /v1/analysis/plan - Plan a query without executing it
//	POST /v1/analysis/query - Plan and execute a query
//	GET  /v1/analysis/flows - Taint flows and unsanitized flow ids
//	GET  /v1/analysis/flows/:id - One taint flow
//	POST /v1/analysis/rules/evaluate - Evaluate a rule set
//
// Example:
//
//	handlers := api.NewHandlers(factStore, queryPlanner)
//
//	v1 := router.Group("/v1")
//	api.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	analysis := rg.Group("/analysis")
	{
		analysis.GET("/health", handlers.HandleHealth)
		analysis.GET("/stats", handlers.HandleStats)

		// Planning and execution
		analysis.POST("/plan", handlers.HandlePlan)
		analysis.POST("/query", handlers.HandleQuery)

		// Consumers
		analysis.GET("/flows", handlers.HandleFlows)
		analysis.GET("/flows/:id", handlers.HandleFlow)
		analysis.POST("/rules/evaluate", handlers.HandleEvaluateRules)
	}
}
