// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry provides OpenTelemetry-based observability for the
// fact analysis service.
//
// Init configures the global tracer and meter providers. The planner, store
// and rule engine create their instruments from otel.Tracer and otel.Meter,
// so they report to whatever Init installed and are no-ops before it runs.
//
// # Exporters
//
// Traces go to OTLP (gRPC), stdout, or nowhere. Metrics go to the
// Prometheus exporter, exposed through MetricsHandler, or to stdout. The
// plan cache counters are registered with the default Prometheus registry
// directly, so they appear on the same /metrics endpoint.
//
// # Environment Variables
//
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint (default: localhost:4317)
//   - OTEL_TRACES_EXPORTER: otlp, stdout, or none (default: none)
//   - OTEL_METRICS_EXPORTER: prometheus, stdout, or none (default: prometheus)
//   - FACTS_ENV: environment name (default: development)
//
// # Thread Safety
//
// All exported functions are safe for concurrent use after Init() returns.
package telemetry
