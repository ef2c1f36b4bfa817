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
	"sort"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianFacts/services/analysis/facts"
)

// QueryKind names the shape of a Query.
type QueryKind string

const (
	KindAll       QueryKind = "all"
	KindType      QueryKind = "type"
	KindFile      QueryKind = "file"
	KindLineRange QueryKind = "range"
	KindFlow      QueryKind = "flow"
	KindComplex   QueryKind = "complex"
)

// Query is one of the closed set of fact store query shapes.
//
// Description:
//
//	Queries are immutable value objects. Two structurally equal queries
//	return the same Key, which is what the plan cache is keyed on.
//	Construct queries with All, ByType, ByDiscriminant, ByFile,
//	ByLineRange, ByFlow, Complex or ComplexWhere; the constructors
//	normalize paths and order predicates.
//
// Thread Safety: Query values are safe for concurrent use.
type Query interface {
	// Kind returns the query shape.
	Kind() QueryKind

	// Key returns the canonical cache key.
	Key() string

	// Validate rejects malformed parameters with ErrInvalidQuery.
	Validate() error

	// Matches reports whether the fact is denoted by the query.
	Matches(f *facts.Fact) bool

	String() string

	isQuery()
}

// AllQuery matches every fact.
type AllQuery struct{}

// TypeQuery matches facts with one discriminant.
type TypeQuery struct {
	Discriminant facts.Discriminant
}

// FileQuery matches facts located in one normalized file.
type FileQuery struct {
	Path string
}

// LineRangeQuery matches facts in one file whose line span overlaps
// [Start, End].
type LineRangeQuery struct {
	Path  string
	Start int
	End   int
}

// FlowQuery matches every fact that originates or references a flow.
type FlowQuery struct {
	Flow facts.FlowID
}

// ComplexQuery matches facts of one discriminant that satisfy every
// predicate. Predicates are kept in canonical order.
type ComplexQuery struct {
	Discriminant facts.Discriminant
	Predicates   []Predicate
}

// All returns the query matching every fact.
func All() Query { return AllQuery{} }

// ByType returns the query matching facts of the template's variant.
// Only the template's discriminant is used; its payload is ignored.
func ByType(template facts.FactType) Query {
	if template == nil {
		return TypeQuery{}
	}
	return TypeQuery{Discriminant: template.Discriminant()}
}

// ByDiscriminant returns the query matching facts with discriminant d.
func ByDiscriminant(d facts.Discriminant) Query {
	return TypeQuery{Discriminant: d}
}

// ByFile returns the query matching facts in the file at p.
func ByFile(p string) Query {
	return FileQuery{Path: facts.NormalizePath(p)}
}

// ByLineRange returns the query matching facts in p whose lines overlap
// [start, end].
func ByLineRange(p string, start, end int) Query {
	return LineRangeQuery{Path: facts.NormalizePath(p), Start: start, End: end}
}

// ByFlow returns the query matching facts taking part in flow id.
func ByFlow(id facts.FlowID) Query {
	return FlowQuery{Flow: id}
}

// Complex returns the query matching facts of discriminant d that satisfy
// every predicate. The predicates are copied and sorted, so the argument
// order never changes the query's key.
func Complex(d facts.Discriminant, preds ...Predicate) Query {
	sorted := make([]Predicate, len(preds))
	copy(sorted, preds)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].less(sorted[j]) })
	return ComplexQuery{Discriminant: d, Predicates: sorted}
}

// ComplexWhere builds a Complex query from a field→value equality map.
func ComplexWhere(d facts.Discriminant, where map[string]string) Query {
	preds := make([]Predicate, 0, len(where))
	for field, value := range where {
		preds = append(preds, Predicate{Field: field, Op: OpEq, Value: value})
	}
	return Complex(d, preds...)
}

func (AllQuery) isQuery()       {}
func (TypeQuery) isQuery()      {}
func (FileQuery) isQuery()      {}
func (LineRangeQuery) isQuery() {}
func (FlowQuery) isQuery()      {}
func (ComplexQuery) isQuery()   {}

func (AllQuery) Kind() QueryKind       { return KindAll }
func (TypeQuery) Kind() QueryKind      { return KindType }
func (FileQuery) Kind() QueryKind      { return KindFile }
func (LineRangeQuery) Kind() QueryKind { return KindLineRange }
func (FlowQuery) Kind() QueryKind      { return KindFlow }
func (ComplexQuery) Kind() QueryKind   { return KindComplex }

func (AllQuery) Key() string { return "all" }

func (q TypeQuery) Key() string { return "type:" + strconv.Quote(string(q.Discriminant)) }

func (q FileQuery) Key() string { return "file:" + strconv.Quote(q.Path) }

func (q LineRangeQuery) Key() string {
	return fmt.Sprintf("range:%q:%d-%d", q.Path, q.Start, q.End)
}

func (q FlowQuery) Key() string { return "flow:" + strconv.Quote(string(q.Flow)) }

func (q ComplexQuery) Key() string {
	var b strings.Builder
	b.WriteString("complex:")
	b.WriteString(strconv.Quote(string(q.Discriminant)))
	for _, p := range q.Predicates {
		b.WriteByte('|')
		b.WriteString(strconv.Quote(p.Field))
		b.WriteByte(' ')
		b.WriteString(string(p.Op))
		b.WriteByte(' ')
		b.WriteString(strconv.Quote(p.Value))
	}
	return b.String()
}

func (AllQuery) String() string { return "All" }

func (q TypeQuery) String() string { return fmt.Sprintf("ByType(%s)", q.Discriminant) }

func (q FileQuery) String() string { return fmt.Sprintf("ByFile(%s)", q.Path) }

func (q LineRangeQuery) String() string {
	return fmt.Sprintf("ByLineRange(%s, %d, %d)", q.Path, q.Start, q.End)
}

func (q FlowQuery) String() string { return fmt.Sprintf("ByFlow(%s)", q.Flow) }

func (q ComplexQuery) String() string {
	parts := make([]string, len(q.Predicates))
	for i, p := range q.Predicates {
		parts[i] = p.String()
	}
	return fmt.Sprintf("Complex(%s, {%s})", q.Discriminant, strings.Join(parts, ", "))
}

func (AllQuery) Validate() error { return nil }

func (q TypeQuery) Validate() error {
	if q.Discriminant == "" {
		return fmt.Errorf("%w: type query needs a discriminant", ErrInvalidQuery)
	}
	return nil
}

func (q FileQuery) Validate() error {
	if q.Path == "" {
		return fmt.Errorf("%w: file query needs a path", ErrInvalidQuery)
	}
	return nil
}

func (q LineRangeQuery) Validate() error {
	if q.Path == "" {
		return fmt.Errorf("%w: line range query needs a path", ErrInvalidQuery)
	}
	if q.Start < 1 {
		return fmt.Errorf("%w: line range start %d must be >= 1", ErrInvalidQuery, q.Start)
	}
	if q.End < q.Start {
		return fmt.Errorf("%w: line range start %d is after end %d", ErrInvalidQuery, q.Start, q.End)
	}
	return nil
}

func (q FlowQuery) Validate() error {
	if q.Flow == "" {
		return fmt.Errorf("%w: flow query needs a flow id", ErrInvalidQuery)
	}
	return nil
}

func (q ComplexQuery) Validate() error {
	if q.Discriminant == "" {
		return fmt.Errorf("%w: complex query needs a discriminant", ErrInvalidQuery)
	}
	for i, p := range q.Predicates {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("predicate[%d]: %w", i, err)
		}
	}
	return nil
}

func (AllQuery) Matches(f *facts.Fact) bool { return f != nil }

func (q TypeQuery) Matches(f *facts.Fact) bool {
	return f != nil && f.Discriminant() == q.Discriminant
}

func (q FileQuery) Matches(f *facts.Fact) bool {
	return f != nil && facts.NormalizePath(f.Location.File) == q.Path
}

func (q LineRangeQuery) Matches(f *facts.Fact) bool {
	return f != nil &&
		facts.NormalizePath(f.Location.File) == q.Path &&
		f.Location.Overlaps(q.Start, q.End)
}

func (q FlowQuery) Matches(f *facts.Fact) bool {
	if f == nil {
		return false
	}
	for _, id := range f.FlowIDs() {
		if id == q.Flow {
			return true
		}
	}
	return false
}

func (q ComplexQuery) Matches(f *facts.Fact) bool {
	if f == nil || f.Discriminant() != q.Discriminant {
		return false
	}
	return q.MatchesPredicates(f)
}

// MatchesPredicates evaluates only the predicates, assuming the
// discriminant already matched. Used as the post-filter of a TypeIndex
// fetch.
func (q ComplexQuery) MatchesPredicates(f *facts.Fact) bool {
	for _, p := range q.Predicates {
		if !p.Matches(f) {
			return false
		}
	}
	return true
}

// =============================================================================
// Predicates
// =============================================================================

// Op is a predicate comparator.
type Op string

const (
	OpEq       Op = "eq"
	OpNe       Op = "ne"
	OpContains Op = "contains"
	OpPrefix   Op = "prefix"
	OpGt       Op = "gt"
	OpLt       Op = "lt"
)

// Valid reports whether o is a known comparator.
func (o Op) Valid() bool {
	switch o {
	case OpEq, OpNe, OpContains, OpPrefix, OpGt, OpLt:
		return true
	default:
		return false
	}
}

// Predicate is one (field, comparator, value) filter of a Complex query.
//
// Fields are resolved with facts.Fact.Field. A fact without the field
// fails every comparator, including ne. gt and lt compare numerically and
// require a numeric Value.
type Predicate struct {
	Field string `json:"field" yaml:"field"`
	Op    Op     `json:"op" yaml:"op"`
	Value string `json:"value" yaml:"value"`
}

// Eq is shorthand for an equality predicate.
func Eq(field, value string) Predicate {
	return Predicate{Field: field, Op: OpEq, Value: value}
}

// Validate checks the predicate shape.
func (p Predicate) Validate() error {
	if p.Field == "" {
		return fmt.Errorf("%w: predicate needs a field", ErrInvalidQuery)
	}
	if !p.Op.Valid() {
		return fmt.Errorf("%w: unknown comparator %q", ErrInvalidQuery, p.Op)
	}
	if p.Op == OpGt || p.Op == OpLt {
		if _, err := strconv.ParseFloat(p.Value, 64); err != nil {
			return fmt.Errorf("%w: comparator %s needs a numeric value, got %q", ErrInvalidQuery, p.Op, p.Value)
		}
	}
	return nil
}

// Matches evaluates the predicate against one fact.
func (p Predicate) Matches(f *facts.Fact) bool {
	got, ok := f.Field(p.Field)
	if !ok {
		return false
	}
	switch p.Op {
	case OpEq:
		return got == p.Value
	case OpNe:
		return got != p.Value
	case OpContains:
		return strings.Contains(got, p.Value)
	case OpPrefix:
		return strings.HasPrefix(got, p.Value)
	case OpGt, OpLt:
		have, err := strconv.ParseFloat(got, 64)
		if err != nil {
			return false
		}
		want, err := strconv.ParseFloat(p.Value, 64)
		if err != nil {
			return false
		}
		if p.Op == OpGt {
			return have > want
		}
		return have < want
	}
	return false
}

func (p Predicate) String() string {
	return fmt.Sprintf("%s %s %q", p.Field, p.Op, p.Value)
}

func (p Predicate) less(o Predicate) bool {
	if p.Field != o.Field {
		return p.Field < o.Field
	}
	if p.Op != o.Op {
		return p.Op < o.Op
	}
	return p.Value < o.Value
}

// =============================================================================
// QuerySpec
// =============================================================================

// QuerySpec is the wire form of a Query used by the CLI and HTTP API.
//
// Example (YAML):
//
//	kind: complex
//	type: Vulnerability
//	where:
//	  - {field: severity, op: eq, value: Critical}
type QuerySpec struct {
	Kind  QueryKind   `json:"kind" yaml:"kind"`
	Type  string      `json:"type,omitempty" yaml:"type,omitempty"`
	File  string      `json:"file,omitempty" yaml:"file,omitempty"`
	Start int         `json:"start,omitempty" yaml:"start,omitempty"`
	End   int         `json:"end,omitempty" yaml:"end,omitempty"`
	Flow  string      `json:"flow,omitempty" yaml:"flow,omitempty"`
	Where []Predicate `json:"where,omitempty" yaml:"where,omitempty"`
}

// Build converts the spec into a validated Query.
func (s QuerySpec) Build() (Query, error) {
	var q Query
	switch s.Kind {
	case KindAll, "":
		q = All()
	case KindType:
		q = ByDiscriminant(facts.Discriminant(s.Type))
	case KindFile:
		q = ByFile(s.File)
	case KindLineRange:
		q = ByLineRange(s.File, s.Start, s.End)
	case KindFlow:
		q = ByFlow(facts.FlowID(s.Flow))
	case KindComplex:
		q = Complex(facts.Discriminant(s.Type), s.Where...)
	default:
		return nil, fmt.Errorf("%w: unknown query kind %q", ErrInvalidQuery, s.Kind)
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return q, nil
}
