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
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Default planner configuration values.
const (
	DefaultSelectiveThreshold = 0.1
	DefaultParallelThreshold  = 10_000
	DefaultMaxCacheEntries    = 1000
)

// configValidate is the validator instance for planner configuration.
var configValidate = validator.New()

// Config tunes a QueryPlanner. It is immutable once the planner is built.
type Config struct {
	// SelectiveThreshold is the selectivity at or below which a plan is
	// described as highly selective. Must be in (0, 1]. Affects only the
	// explanation text.
	SelectiveThreshold float64 `json:"selective_threshold" yaml:"selective_threshold" validate:"gt=0,lte=1"`

	// ParallelThreshold is the number of touched facts at which a plan is
	// marked Parallelizable. Must be >= 0.
	ParallelThreshold int `json:"parallel_threshold" yaml:"parallel_threshold" validate:"gte=0"`

	// MaxCacheEntries bounds the plan cache. 0 disables caching.
	MaxCacheEntries int `json:"max_cache_entries" yaml:"max_cache_entries" validate:"gte=0"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		SelectiveThreshold: DefaultSelectiveThreshold,
		ParallelThreshold:  DefaultParallelThreshold,
		MaxCacheEntries:    DefaultMaxCacheEntries,
	}
}

// Validate checks the configuration using its validate tags.
//
// Outputs:
//
//	error - Wraps ErrInvalidConfig with the failing fields, nil if valid.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
