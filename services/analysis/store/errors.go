// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for fact store operations.
var (
	// ErrInvalidFact is returned when a fact fails validation. The
	// facts.ValidationError is wrapped alongside it.
	ErrInvalidFact = errors.New("invalid fact")

	// ErrDuplicateFact is returned when two facts share an ID.
	ErrDuplicateFact = errors.New("duplicate fact ID")

	// ErrMaxFactsExceeded is returned when the fact sequence is larger
	// than the configured maximum.
	ErrMaxFactsExceeded = errors.New("maximum fact count exceeded")

	// ErrStrategyMismatch is returned by Execute when a plan's strategy
	// cannot produce the facts its query denotes.
	ErrStrategyMismatch = errors.New("strategy does not match query")
)

// BatchError aggregates every problem found while building a store.
//
// Construction reports all invalid and duplicate facts at once so that an
// extractor author can fix them in one pass. Each entry is prefixed with
// the fact position, e.g. "fact[3] abc: duplicate fact ID".
type BatchError struct {
	Errors []error
}

// Error returns a summary: the single error, or the count and the first.
func (e *BatchError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "batch error with no errors"
	case 1:
		return e.Errors[0].Error()
	default:
		return fmt.Sprintf("%d errors: %v (and %d more)",
			len(e.Errors), e.Errors[0], len(e.Errors)-1)
	}
}

// Unwrap returns the underlying errors for errors.Is and errors.As.
func (e *BatchError) Unwrap() []error {
	return e.Errors
}

// ErrorList returns every error, one per line.
func (e *BatchError) ErrorList() string {
	var b strings.Builder
	for i, err := range e.Errors {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(err.Error())
	}
	return b.String()
}
