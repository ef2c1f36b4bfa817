// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rules evaluates declarative fact rules through the query planner.
//
// A rule names a fact type and an optional list of field predicates. Each
// enabled rule becomes one planner query (ByDiscriminant without predicates,
// Complex with them), and every fact the query returns is a finding.
package rules

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianFacts/services/analysis/facts"
	"github.com/AleutianAI/AleutianFacts/services/analysis/planner"
)

// MaxRuleFileSize is the maximum accepted rules file size (1MB).
const MaxRuleFileSize = 1024 * 1024

// ErrInvalidRule indicates a rule failed validation.
var ErrInvalidRule = errors.New("invalid rule")

var ruleValidate = validator.New()

// Rule is one declarative fact rule.
type Rule struct {
	// ID uniquely identifies the rule within a rule set.
	ID string `yaml:"id" json:"id" validate:"required,max=128"`

	// Name is a short human-readable title.
	Name string `yaml:"name" json:"name" validate:"required"`

	// Description explains what the rule checks.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Enabled defaults to true when omitted.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Severity is attached to every finding.
	Severity facts.Severity `yaml:"severity" json:"severity" validate:"required,oneof=Info Low Medium High Critical"`

	// FactType is the discriminant the rule matches, e.g. "Vulnerability"
	// or "Custom:license".
	FactType string `yaml:"fact_type" json:"fact_type" validate:"required"`

	// Where are the field predicates. Empty means every fact of FactType.
	Where []planner.Predicate `yaml:"where,omitempty" json:"where,omitempty"`

	// Message is the finding message template. Placeholders: {file},
	// {line}, {type}, {id}, {rule}, {field:<name>}.
	Message string `yaml:"message,omitempty" json:"message,omitempty"`
}

// RuleSet is the root of a rules file.
type RuleSet struct {
	Rules []Rule `yaml:"rules" json:"rules"`
}

// IsEnabled reports whether the rule should be evaluated.
func (r Rule) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// Validate checks the rule's tags and predicates.
func (r Rule) Validate() error {
	if err := ruleValidate.Struct(r); err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidRule, r.ID, err)
	}
	if r.Discriminant() == facts.CustomDiscriminant("") {
		return fmt.Errorf("%w %q: custom fact type needs a name", ErrInvalidRule, r.ID)
	}
	for i, p := range r.Where {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("%w %q: where[%d]: %w", ErrInvalidRule, r.ID, i, err)
		}
	}
	return nil
}

// Discriminant returns the fact type the rule matches.
func (r Rule) Discriminant() facts.Discriminant {
	return facts.Discriminant(r.FactType)
}

// Query returns the planner query for the rule.
func (r Rule) Query() planner.Query {
	if len(r.Where) == 0 {
		return planner.ByDiscriminant(r.Discriminant())
	}
	return planner.Complex(r.Discriminant(), r.Where...)
}

// Parse decodes and validates a YAML rule set.
//
// Description:
//
//	Unknown YAML keys are rejected. Every rule is validated and rule IDs
//	must be unique. Rule order is preserved; it is the order findings are
//	reported in.
//
// Outputs:
//
//	[]Rule - The rules in file order.
//	error - Wraps ErrInvalidRule for validation failures.
func Parse(data []byte) ([]Rule, error) {
	if len(data) > MaxRuleFileSize {
		return nil, fmt.Errorf("%w: rules document is %d bytes, limit %d", ErrInvalidRule, len(data), MaxRuleFileSize)
	}

	var set RuleSet
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&set); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode rules: %w", err)
	}

	seen := make(map[string]struct{}, len(set.Rules))
	var errs []error
	for _, r := range set.Rules {
		if err := r.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := seen[r.ID]; dup {
			errs = append(errs, fmt.Errorf("%w %q: duplicate rule id", ErrInvalidRule, r.ID))
			continue
		}
		seen[r.ID] = struct{}{}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return set.Rules, nil
}

// LoadRules reads and parses a YAML rules file.
//
// # Inputs
//
//   - path: Path to the rules file (e.g., .aleutian/fact-rules.yml).
//
// # Outputs
//
//   - []Rule: The parsed rules.
//   - error: Non-nil if reading or validation failed.
func LoadRules(path string) ([]Rule, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat rules file: %w", err)
	}
	if info.Size() > MaxRuleFileSize {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrInvalidRule, path, info.Size(), MaxRuleFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	rules, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", path, err)
	}
	return rules, nil
}
