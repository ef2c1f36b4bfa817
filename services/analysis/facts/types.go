// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package facts defines the immutable fact records produced by extractors.
//
// A Fact is an atomic finding about source code: a taint source, a sink, a
// function declaration, a vulnerability, and so on. Every fact carries a
// tagged FactType variant whose Discriminant is the key of the type index,
// a Location used by the spatial index, and Provenance describing which
// extractor produced it.
//
// # Ownership Model
//
// Facts are created once by extractors and are read-only for the rest of
// an analysis pass. The store and the planner hold pointers to facts and
// never mutate them.
//
// # Variant Set
//
// The FactType interface is sealed: the built-in variants cover the
// analysis vocabulary and Custom carries anything else under its own
// discriminant.
package facts

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ID uniquely identifies a fact within one analysis run.
type ID string

// NewID returns a fresh random fact ID.
//
// Extractors that do not have a natural identity scheme (such as a
// fingerprint) use this to mint IDs.
func NewID() ID {
	return ID(uuid.NewString())
}

// Discriminant is the stable tag identifying a fact's variant.
//
// Discriminants are used as Type Index keys and in query cache keys, so
// their string values must never change between releases.
type Discriminant string

// Built-in discriminants.
const (
	DiscriminantTaintSource   Discriminant = "TaintSource"
	DiscriminantTaintSink     Discriminant = "TaintSink"
	DiscriminantSanitizer     Discriminant = "Sanitizer"
	DiscriminantVulnerability Discriminant = "Vulnerability"
	DiscriminantFunction      Discriminant = "Function"
	DiscriminantVariable      Discriminant = "Variable"
	DiscriminantFunctionCall  Discriminant = "FunctionCall"
	DiscriminantImport        Discriminant = "Import"
	DiscriminantCodeSmell     Discriminant = "CodeSmell"
)

// customPrefix namespaces custom discriminants so a custom family named
// "Function" never collides with the built-in Function variant.
const customPrefix = "Custom:"

// CustomDiscriminant returns the discriminant used for Custom facts of the
// given family.
func CustomDiscriminant(name string) Discriminant {
	return Discriminant(customPrefix + name)
}

// IsCustom reports whether d names a Custom fact family.
func (d Discriminant) IsCustom() bool {
	return strings.HasPrefix(string(d), customPrefix)
}

// FlowID is an opaque token linking a taint source to the sinks and
// sanitizers that consume the same tainted value.
type FlowID string

// Severity ranks vulnerabilities and code smells.
type Severity string

const (
	SeverityInfo     Severity = "Info"
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// Rank orders severities from 1 (Info) to 5 (Critical). Unknown
// severities rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityLow:
		return 2
	case SeverityMedium:
		return 3
	case SeverityHigh:
		return 4
	case SeverityCritical:
		return 5
	default:
		return 0
	}
}

// Location pins a fact to a source range.
//
// Lines are 1-indexed, columns are 0-indexed. File is stored as the
// extractor reported it; indices use NormalizePath(File).
type Location struct {
	File        string `json:"file" yaml:"file"`
	StartLine   int    `json:"start_line" yaml:"start_line"`
	StartColumn int    `json:"start_column" yaml:"start_column"`
	EndLine     int    `json:"end_line" yaml:"end_line"`
	EndColumn   int    `json:"end_column" yaml:"end_column"`
}

// Overlaps reports whether the location's line span intersects [start, end].
func (l Location) Overlaps(start, end int) bool {
	return l.StartLine <= end && l.EndLine >= start
}

// String returns "file:line".
func (l Location) String() string {
	return fmt.Sprintf("%s:%d", l.File, l.StartLine)
}

// Provenance records which extractor produced a fact and how sure it was.
type Provenance struct {
	// Extractor is the extractor's identity, e.g. "go-taint".
	Extractor string `json:"extractor" yaml:"extractor"`

	// Version is the extractor version that produced the fact.
	Version string `json:"version" yaml:"version"`

	// Confidence is in [0, 1].
	Confidence float64 `json:"confidence" yaml:"confidence"`

	// ExtractedAt is when the extractor emitted the fact.
	ExtractedAt time.Time `json:"extracted_at" yaml:"extracted_at"`
}

// FactType is the tagged variant carried by every Fact.
//
// The interface is sealed by the unexported variant method. Use Custom for
// fact families that have no built-in variant.
type FactType interface {
	// Discriminant returns the Type Index key for this variant.
	Discriminant() Discriminant

	// Field returns a variant-specific field rendered as a string.
	Field(name string) (string, bool)

	// Validate checks the variant payload.
	Validate() error

	// variant returns the wire name of the variant.
	variant() string
}

// FlowOriginator is implemented by variants that start a taint flow.
type FlowOriginator interface {
	OriginFlow() FlowID
}

// FlowParticipant is implemented by variants that reference taint flows
// they did not originate.
type FlowParticipant interface {
	FlowIDs() []FlowID
}

// Fact is an immutable record produced by an extractor.
type Fact struct {
	// ID is unique within one analysis run.
	ID ID

	// Type is the variant payload. Never nil for a valid fact.
	Type FactType

	// Location is the source range the fact describes.
	Location Location

	// Provenance describes the producing extractor.
	Provenance Provenance

	// Message is a human-readable description.
	Message string
}

// Discriminant returns the discriminant of the fact's type, or "" when the
// type is nil.
func (f *Fact) Discriminant() Discriminant {
	if f == nil || f.Type == nil {
		return ""
	}
	return f.Type.Discriminant()
}

// OriginFlow returns the flow this fact originates, if any.
func (f *Fact) OriginFlow() (FlowID, bool) {
	if f == nil || f.Type == nil {
		return "", false
	}
	if o, ok := f.Type.(FlowOriginator); ok && o.OriginFlow() != "" {
		return o.OriginFlow(), true
	}
	return "", false
}

// FlowIDs returns every flow the fact takes part in: the originated flow
// first, then referenced flows in declaration order, without duplicates.
func (f *Fact) FlowIDs() []FlowID {
	if f == nil || f.Type == nil {
		return nil
	}
	var ids []FlowID
	seen := make(map[FlowID]struct{})
	add := func(id FlowID) {
		if id == "" {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if origin, ok := f.OriginFlow(); ok {
		add(origin)
	}
	if p, ok := f.Type.(FlowParticipant); ok {
		for _, id := range p.FlowIDs() {
			add(id)
		}
	}
	return ids
}

// String returns a compact description for logs.
func (f *Fact) String() string {
	if f == nil {
		return "<nil fact>"
	}
	return fmt.Sprintf("%s %s@%s", f.ID, f.Discriminant(), f.Location)
}

// =============================================================================
// Variants
// =============================================================================

// TaintSource marks a value entering the program from an untrusted origin.
// It originates FlowID.
type TaintSource struct {
	Variable   string `json:"variable" yaml:"variable"`
	SourceKind string `json:"source_kind" yaml:"source_kind"`
	FlowID     FlowID `json:"flow_id" yaml:"flow_id"`
}

func (TaintSource) Discriminant() Discriminant { return DiscriminantTaintSource }
func (TaintSource) variant() string            { return string(DiscriminantTaintSource) }

// OriginFlow implements FlowOriginator.
func (t TaintSource) OriginFlow() FlowID { return t.FlowID }

func (t TaintSource) Field(name string) (string, bool) {
	switch name {
	case "variable":
		return t.Variable, true
	case "source_kind":
		return t.SourceKind, true
	case "flow_id":
		return string(t.FlowID), true
	}
	return "", false
}

func (t TaintSource) Validate() error {
	if t.FlowID == "" {
		return ValidationError{Field: "TaintSource.FlowID", Message: "must not be empty"}
	}
	return nil
}

// TaintSink marks a sensitive operation consuming one or more flows.
type TaintSink struct {
	Function      string   `json:"function" yaml:"function"`
	Category      string   `json:"category" yaml:"category"`
	ConsumedFlows []FlowID `json:"consumed_flows,omitempty" yaml:"consumed_flows,omitempty"`
}

func (TaintSink) Discriminant() Discriminant { return DiscriminantTaintSink }
func (TaintSink) variant() string            { return string(DiscriminantTaintSink) }

// FlowIDs implements FlowParticipant.
func (t TaintSink) FlowIDs() []FlowID { return t.ConsumedFlows }

func (t TaintSink) Field(name string) (string, bool) {
	switch name {
	case "function":
		return t.Function, true
	case "category":
		return t.Category, true
	case "flow_ids":
		return joinFlows(t.ConsumedFlows), true
	}
	return "", false
}

func (t TaintSink) Validate() error {
	if t.Function == "" {
		return ValidationError{Field: "TaintSink.Function", Message: "must not be empty"}
	}
	return nil
}

// Sanitizer marks a value being cleaned on a flow.
type Sanitizer struct {
	Method string `json:"method" yaml:"method"`
	FlowID FlowID `json:"flow_id" yaml:"flow_id"`
}

func (Sanitizer) Discriminant() Discriminant { return DiscriminantSanitizer }
func (Sanitizer) variant() string            { return string(DiscriminantSanitizer) }

// FlowIDs implements FlowParticipant.
func (s Sanitizer) FlowIDs() []FlowID {
	if s.FlowID == "" {
		return nil
	}
	return []FlowID{s.FlowID}
}

func (s Sanitizer) Field(name string) (string, bool) {
	switch name {
	case "method":
		return s.Method, true
	case "flow_id":
		return string(s.FlowID), true
	}
	return "", false
}

func (s Sanitizer) Validate() error {
	if s.FlowID == "" {
		return ValidationError{Field: "Sanitizer.FlowID", Message: "must not be empty"}
	}
	return nil
}

// Vulnerability is a confirmed or suspected security weakness.
type Vulnerability struct {
	CWE         string   `json:"cwe" yaml:"cwe"`
	Title       string   `json:"title" yaml:"title"`
	Severity    Severity `json:"severity" yaml:"severity"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
}

func (Vulnerability) Discriminant() Discriminant { return DiscriminantVulnerability }
func (Vulnerability) variant() string            { return string(DiscriminantVulnerability) }

func (v Vulnerability) Field(name string) (string, bool) {
	switch name {
	case "cwe":
		return v.CWE, true
	case "title":
		return v.Title, true
	case "severity":
		return string(v.Severity), true
	case "description":
		return v.Description, true
	}
	return "", false
}

func (v Vulnerability) Validate() error {
	if !v.Severity.Valid() {
		return ValidationError{Field: "Vulnerability.Severity", Message: fmt.Sprintf("unknown severity %q", v.Severity)}
	}
	return nil
}

// Function is a function or method declaration.
type Function struct {
	Name       string   `json:"name" yaml:"name"`
	Parameters []string `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	ReturnType string   `json:"return_type,omitempty" yaml:"return_type,omitempty"`
	Exported   bool     `json:"exported" yaml:"exported"`
}

func (Function) Discriminant() Discriminant { return DiscriminantFunction }
func (Function) variant() string            { return string(DiscriminantFunction) }

func (f Function) Field(name string) (string, bool) {
	switch name {
	case "name":
		return f.Name, true
	case "parameters":
		return strings.Join(f.Parameters, ","), true
	case "parameter_count":
		return strconv.Itoa(len(f.Parameters)), true
	case "return_type":
		return f.ReturnType, true
	case "exported":
		return strconv.FormatBool(f.Exported), true
	}
	return "", false
}

func (f Function) Validate() error {
	if f.Name == "" {
		return ValidationError{Field: "Function.Name", Message: "must not be empty"}
	}
	return nil
}

// Variable is a variable declaration.
type Variable struct {
	Name    string `json:"name" yaml:"name"`
	Scope   string `json:"scope,omitempty" yaml:"scope,omitempty"`
	Mutable bool   `json:"mutable" yaml:"mutable"`
}

func (Variable) Discriminant() Discriminant { return DiscriminantVariable }
func (Variable) variant() string            { return string(DiscriminantVariable) }

func (v Variable) Field(name string) (string, bool) {
	switch name {
	case "name":
		return v.Name, true
	case "scope":
		return v.Scope, true
	case "mutable":
		return strconv.FormatBool(v.Mutable), true
	}
	return "", false
}

func (v Variable) Validate() error {
	if v.Name == "" {
		return ValidationError{Field: "Variable.Name", Message: "must not be empty"}
	}
	return nil
}

// FunctionCall is a call site.
type FunctionCall struct {
	Callee    string `json:"callee" yaml:"callee"`
	Caller    string `json:"caller,omitempty" yaml:"caller,omitempty"`
	Arguments int    `json:"arguments" yaml:"arguments"`
}

func (FunctionCall) Discriminant() Discriminant { return DiscriminantFunctionCall }
func (FunctionCall) variant() string            { return string(DiscriminantFunctionCall) }

func (c FunctionCall) Field(name string) (string, bool) {
	switch name {
	case "callee":
		return c.Callee, true
	case "caller":
		return c.Caller, true
	case "arguments":
		return strconv.Itoa(c.Arguments), true
	}
	return "", false
}

func (c FunctionCall) Validate() error {
	if c.Callee == "" {
		return ValidationError{Field: "FunctionCall.Callee", Message: "must not be empty"}
	}
	if c.Arguments < 0 {
		return ValidationError{Field: "FunctionCall.Arguments", Message: "must be >= 0"}
	}
	return nil
}

// Import is an import or include statement.
type Import struct {
	Path  string `json:"path" yaml:"path"`
	Alias string `json:"alias,omitempty" yaml:"alias,omitempty"`
}

func (Import) Discriminant() Discriminant { return DiscriminantImport }
func (Import) variant() string            { return string(DiscriminantImport) }

func (i Import) Field(name string) (string, bool) {
	switch name {
	case "path":
		return i.Path, true
	case "alias":
		return i.Alias, true
	}
	return "", false
}

func (i Import) Validate() error {
	if i.Path == "" {
		return ValidationError{Field: "Import.Path", Message: "must not be empty"}
	}
	return nil
}

// CodeSmell is a maintainability finding.
type CodeSmell struct {
	SmellType string   `json:"smell_type" yaml:"smell_type"`
	Severity  Severity `json:"severity" yaml:"severity"`
}

func (CodeSmell) Discriminant() Discriminant { return DiscriminantCodeSmell }
func (CodeSmell) variant() string            { return string(DiscriminantCodeSmell) }

func (c CodeSmell) Field(name string) (string, bool) {
	switch name {
	case "smell_type":
		return c.SmellType, true
	case "severity":
		return string(c.Severity), true
	}
	return "", false
}

func (c CodeSmell) Validate() error {
	if c.SmellType == "" {
		return ValidationError{Field: "CodeSmell.SmellType", Message: "must not be empty"}
	}
	if !c.Severity.Valid() {
		return ValidationError{Field: "CodeSmell.Severity", Message: fmt.Sprintf("unknown severity %q", c.Severity)}
	}
	return nil
}

// Custom carries fact families without a built-in variant.
//
// Its discriminant is CustomDiscriminant(Name); Data keys are exposed
// verbatim through Field.
type Custom struct {
	Name string            `json:"name" yaml:"name"`
	Data map[string]string `json:"data,omitempty" yaml:"data,omitempty"`
}

func (c Custom) Discriminant() Discriminant { return CustomDiscriminant(c.Name) }
func (Custom) variant() string              { return "Custom" }

func (c Custom) Field(name string) (string, bool) {
	if name == "name" {
		return c.Name, true
	}
	v, ok := c.Data[name]
	return v, ok
}

func (c Custom) Validate() error {
	if c.Name == "" {
		return ValidationError{Field: "Custom.Name", Message: "must not be empty"}
	}
	return nil
}

func joinFlows(ids []FlowID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ",")
}
