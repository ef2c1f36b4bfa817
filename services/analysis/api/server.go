// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api serves the fact store and query planner over HTTP.
//
// The API is a thin shell: every endpoint maps to one store, planner,
// rule engine or taint collector call. Routes live under /v1/analysis and
// share a token bucket rate limiter. /metrics is served outside the
// limiter when the Prometheus exporter is active.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianFacts/services/analysis/config"
	"github.com/AleutianAI/AleutianFacts/services/analysis/telemetry"
)

// NewRouter builds the Gin engine.
//
// Description:
//
//	Applies recovery, OpenTelemetry tracing, request ids and, when metrics
//	is non-nil, request metrics to every route. The /v1 group is rate
//	limited with cfg.RateLimit and cfg.Burst.
//
// Inputs:
//
//	handlers - The analysis handlers.
//	cfg - API settings.
//	serviceName - Service name reported on server spans.
//	metrics - Optional API metrics.
//
// Outputs:
//
//	*gin.Engine - The configured router.
func NewRouter(handlers *Handlers, cfg config.APIConfig, serviceName string, metrics *telemetry.Metrics) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(RequestID())
	if metrics != nil {
		router.Use(Metrics(metrics))
	}

	if h := telemetry.MetricsHandler(); h != nil {
		router.GET("/metrics", gin.WrapH(h))
	}

	v1 := router.Group("/v1")
	v1.Use(RateLimit(rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst), metrics))
	RegisterRoutes(v1, handlers)

	return router
}

// Serve runs handler on cfg.Addr until ctx is cancelled.
//
// Description:
//
//	On cancellation the server stops accepting connections and waits up
//	to cfg.ShutdownTimeout for in-flight requests.
//
// Outputs:
//
//	error - A listen error, or a shutdown error. Nil after a clean shutdown.
func Serve(ctx context.Context, handler http.Handler, cfg config.APIConfig, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting analysis API server", slog.String("address", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen on %s: %w", cfg.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down analysis API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
