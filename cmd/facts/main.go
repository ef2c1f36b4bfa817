// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command facts loads fact dumps, plans and runs queries over them, checks
// rules and serves the analysis API.
//
// Usage:
//
//	facts stats facts.json
//	facts plan --type Vulnerability --all facts.json
//	facts query --type Vulnerability --where severity=Critical facts.json
//	facts query --file api/handler.go --start 10 --end 40 facts.yaml
//	facts check --rules rules.yaml --fail-on High facts.json
//	facts serve facts.json
//
// Configuration:
//
//	--config path/to/facts.yaml, FACTS_* and OTEL_* environment variables.
//	Logs go to stderr, as JSON when stderr is not a terminal.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(exitCode(err))
	}
}
