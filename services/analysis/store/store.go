// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store provides the in-memory fact store and plan execution.
//
// The store assigns every fact a dense ordinal and keeps Roaring bitmap
// posting lists per discriminant, per normalized file, and per flow id.
// Execute fetches candidates with a planner.QueryPlan's strategy and then
// applies the query's residual match, so the result is exactly the facts
// the query denotes whichever strategy was chosen.
//
// # Ownership Model
//
// The store holds pointers to facts and does NOT own them:
//   - Facts MUST NOT be mutated after the store is built
//   - A changed fact set needs a new store (and a new planner)
//
// # Thread Safety
//
// A Store is read-only after New returns and is safe for concurrent use
// without locks.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/AleutianAI/AleutianFacts/services/analysis/facts"
	"github.com/AleutianAI/AleutianFacts/services/analysis/planner"
)

// DefaultMaxFacts is the default maximum number of facts per store.
const DefaultMaxFacts = 1_000_000

// cancelCheckInterval is how many candidates are visited between context
// checks during execution.
const cancelCheckInterval = 1024

// Option configures a Store.
type Option func(*options)

type options struct {
	maxFacts int
	logger   *slog.Logger
}

// WithMaxFacts sets the maximum number of facts the store accepts.
// Values <= 0 keep the default.
func WithMaxFacts(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxFacts = n
		}
	}
}

// WithLogger sets the store's logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// fileIndex holds the postings of one normalized file.
type fileIndex struct {
	all *roaring.Bitmap

	// byStart lists ordinals sorted by StartLine.
	byStart []uint32

	// maxSpan is the largest EndLine-StartLine in the file. A fact
	// overlapping [s, e] must start at or after s-maxSpan.
	maxSpan int
}

// Store is an immutable, indexed fact set.
//
// Thread Safety: Safe for concurrent use after construction.
type Store struct {
	facts  []*facts.Fact
	byID   map[facts.ID]uint32
	byType map[facts.Discriminant]*roaring.Bitmap
	byFile map[string]*fileIndex
	byFlow map[facts.FlowID]*roaring.Bitmap

	stats    *planner.IndexStatistics
	maxFacts int
	logger   *slog.Logger
}

// Stats summarizes the store's indices.
type Stats struct {
	TotalFacts int    `json:"total_facts"`
	MaxFacts   int    `json:"max_facts"`
	Types      int    `json:"types"`
	Files      int    `json:"files"`
	Flows      int    `json:"flows"`
	IndexBytes uint64 `json:"index_bytes"`
}

// New validates facts and builds the indices.
//
// Description:
//
//	Every fact is validated and checked for a unique ID. All problems are
//	collected and returned together as a *BatchError. On success facts get
//	ordinals in input order, postings are built for the type, spatial and
//	flow indices, and planner statistics are computed once.
//
//	The flow index lists every fact that originates or references a flow,
//	while the statistics count only originating facts.
//
// Inputs:
//
//	fs - The complete fact sequence for the run.
//	opts - Optional settings.
//
// Outputs:
//
//	*Store - The store.
//	error - ErrMaxFactsExceeded, or a *BatchError wrapping ErrInvalidFact
//	  and ErrDuplicateFact entries.
func New(fs []*facts.Fact, opts ...Option) (*Store, error) {
	o := options{maxFacts: DefaultMaxFacts, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	if len(fs) > o.maxFacts {
		return nil, fmt.Errorf("%w: %d facts, limit %d", ErrMaxFactsExceeded, len(fs), o.maxFacts)
	}

	var errs []error
	seen := make(map[facts.ID]int, len(fs))
	for i, f := range fs {
		if f == nil {
			errs = append(errs, fmt.Errorf("fact[%d]: %w: nil fact", i, ErrInvalidFact))
			continue
		}
		if err := f.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("fact[%d] %s: %w: %w", i, f.ID, ErrInvalidFact, err))
			continue
		}
		if first, dup := seen[f.ID]; dup {
			errs = append(errs, fmt.Errorf("fact[%d] %s: %w (first at fact[%d])", i, f.ID, ErrDuplicateFact, first))
			continue
		}
		seen[f.ID] = i
	}
	if len(errs) > 0 {
		return nil, &BatchError{Errors: errs}
	}

	s := &Store{
		facts:    make([]*facts.Fact, len(fs)),
		byID:     make(map[facts.ID]uint32, len(fs)),
		byType:   make(map[facts.Discriminant]*roaring.Bitmap),
		byFile:   make(map[string]*fileIndex),
		byFlow:   make(map[facts.FlowID]*roaring.Bitmap),
		maxFacts: o.maxFacts,
		logger:   o.logger,
	}
	copy(s.facts, fs)

	for i, f := range s.facts {
		ord := uint32(i)
		s.byID[f.ID] = ord
		posting(s.byType, f.Discriminant()).Add(ord)

		file := facts.NormalizePath(f.Location.File)
		fi, ok := s.byFile[file]
		if !ok {
			fi = &fileIndex{all: roaring.New()}
			s.byFile[file] = fi
		}
		fi.all.Add(ord)
		fi.byStart = append(fi.byStart, ord)
		if span := f.Location.EndLine - f.Location.StartLine; span > fi.maxSpan {
			fi.maxSpan = span
		}

		for _, flow := range f.FlowIDs() {
			posting(s.byFlow, flow).Add(ord)
		}
	}

	for _, fi := range s.byFile {
		sort.SliceStable(fi.byStart, func(a, b int) bool {
			return s.facts[fi.byStart[a]].Location.StartLine < s.facts[fi.byStart[b]].Location.StartLine
		})
		fi.all.RunOptimize()
	}
	for _, bm := range s.byType {
		bm.RunOptimize()
	}

	s.stats = planner.ComputeStatistics(s.facts)
	recordStoreSize(context.Background(), len(s.facts))

	s.logger.Info("fact store built",
		slog.Int("facts", len(s.facts)),
		slog.Int("types", len(s.byType)),
		slog.Int("files", len(s.byFile)),
		slog.Int("flows", len(s.byFlow)),
	)
	return s, nil
}

func posting[K comparable](m map[K]*roaring.Bitmap, key K) *roaring.Bitmap {
	bm, ok := m[key]
	if !ok {
		bm = roaring.New()
		m[key] = bm
	}
	return bm
}

// Statistics returns the planner statistics computed at construction.
func (s *Store) Statistics() *planner.IndexStatistics {
	return s.stats
}

// Len returns the number of facts.
func (s *Store) Len() int {
	return len(s.facts)
}

// Get returns the fact with the given ID.
func (s *Store) Get(id facts.ID) (*facts.Fact, bool) {
	ord, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return s.facts[ord], true
}

// All returns every fact in ordinal order. The slice is a copy; the facts
// are shared.
func (s *Store) All() []*facts.Fact {
	out := make([]*facts.Fact, len(s.facts))
	copy(out, s.facts)
	return out
}

// Flows returns every flow id in the flow index, sorted.
func (s *Store) Flows() []facts.FlowID {
	out := make([]facts.FlowID, 0, len(s.byFlow))
	for id := range s.byFlow {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Stats returns index sizes.
func (s *Store) Stats() Stats {
	var size uint64
	for _, bm := range s.byType {
		size += bm.GetSizeInBytes()
	}
	for _, fi := range s.byFile {
		size += fi.all.GetSizeInBytes() + uint64(len(fi.byStart))*4
	}
	for _, bm := range s.byFlow {
		size += bm.GetSizeInBytes()
	}
	return Stats{
		TotalFacts: len(s.facts),
		MaxFacts:   s.maxFacts,
		Types:      len(s.byType),
		Files:      len(s.byFile),
		Flows:      len(s.byFlow),
		IndexBytes: size,
	}
}

// Planner is the planning half of a query; *planner.QueryPlanner
// satisfies it.
type Planner interface {
	Plan(ctx context.Context, q planner.Query) (*planner.QueryPlan, error)
}

// Query plans q with p and executes the plan.
func (s *Store) Query(ctx context.Context, p Planner, q planner.Query) ([]*facts.Fact, *planner.QueryPlan, error) {
	plan, err := p.Plan(ctx, q)
	if err != nil {
		return nil, nil, err
	}
	out, err := s.Execute(ctx, plan)
	if err != nil {
		return nil, plan, err
	}
	return out, plan, nil
}

// Execute returns the facts a plan's query denotes.
//
// Description:
//
//	Fetches candidates through the plan's strategy, then keeps the
//	candidates the query matches. The result is identical for every
//	strategy that is valid for the query; only the amount of work
//	differs. Facts are returned in ascending ordinal (input) order.
//
// Inputs:
//
//	ctx - Checked periodically while visiting candidates.
//	plan - A plan produced for this store's statistics.
//
// Outputs:
//
//	[]*facts.Fact - Matching facts. Never nil on success.
//	error - ErrStrategyMismatch if the strategy cannot serve the query,
//	  or the context error.
//
// Thread Safety: Safe for concurrent use.
func (s *Store) Execute(ctx context.Context, plan *planner.QueryPlan) ([]*facts.Fact, error) {
	if plan == nil || plan.Query == nil {
		return nil, fmt.Errorf("%w: plan has no query", ErrStrategyMismatch)
	}

	ctx, span := startOperationSpan(ctx, "Execute")
	defer span.End()
	start := time.Now()
	strategy := string(plan.Strategy.Kind)

	out, err := s.execute(ctx, plan)
	if err != nil {
		span.RecordError(err)
		setOperationSpanResult(span, 0, false)
		recordExecuteMetrics(ctx, strategy, time.Since(start), 0, false)
		return nil, err
	}

	setOperationSpanResult(span, len(out), true)
	recordExecuteMetrics(ctx, strategy, time.Since(start), len(out), true)
	return out, nil
}

func (s *Store) execute(ctx context.Context, plan *planner.QueryPlan) ([]*facts.Fact, error) {
	q := plan.Query
	if err := checkStrategy(plan.Strategy, q); err != nil {
		return nil, err
	}

	out := make([]*facts.Fact, 0)
	visit := func(ord uint32, n int) error {
		if n%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if f := s.facts[ord]; q.Matches(f) {
			out = append(out, f)
		}
		return nil
	}

	if plan.Strategy.Kind == planner.StrategyFullScan {
		for i := range s.facts {
			if err := visit(uint32(i), i); err != nil {
				return nil, err
			}
		}
		return out, nil
	}

	candidates := s.fetch(plan.Strategy)
	if candidates == nil {
		return out, nil
	}
	it := candidates.Iterator()
	for n := 0; it.HasNext(); n++ {
		if err := visit(it.Next(), n); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// fetch returns the posting list for an index strategy, or nil when the
// key is absent.
func (s *Store) fetch(st planner.ExecutionStrategy) *roaring.Bitmap {
	switch st.Kind {
	case planner.StrategyTypeIndex:
		return s.byType[st.Discriminant]
	case planner.StrategyFlowIndex:
		return s.byFlow[st.Flow]
	case planner.StrategySpatialIndex:
		fi, ok := s.byFile[facts.NormalizePath(st.File)]
		if !ok {
			return nil
		}
		if !st.IsRange() {
			return fi.all
		}
		return s.rangeCandidates(fi, st.StartLine, st.EndLine)
	}
	return nil
}

// rangeCandidates returns the ordinals of a file whose StartLine lies in
// [start-maxSpan, end]. Every fact overlapping [start, end] is included.
func (s *Store) rangeCandidates(fi *fileIndex, start, end int) *roaring.Bitmap {
	startLine := func(i int) int { return s.facts[fi.byStart[i]].Location.StartLine }
	lo := sort.Search(len(fi.byStart), func(i int) bool { return startLine(i) >= start-fi.maxSpan })
	hi := sort.Search(len(fi.byStart), func(i int) bool { return startLine(i) > end })

	bm := roaring.New()
	if lo < hi {
		bm.AddMany(fi.byStart[lo:hi])
	}
	return bm
}

// checkStrategy rejects strategies whose candidates could miss facts the
// query denotes.
func checkStrategy(st planner.ExecutionStrategy, q planner.Query) error {
	mismatch := func() error {
		return fmt.Errorf("%w: %s cannot serve %s", ErrStrategyMismatch, st, q)
	}

	switch st.Kind {
	case planner.StrategyFullScan:
		return nil

	case planner.StrategyTypeIndex:
		switch q := q.(type) {
		case planner.TypeQuery:
			if q.Discriminant == st.Discriminant {
				return nil
			}
		case planner.ComplexQuery:
			if q.Discriminant == st.Discriminant {
				return nil
			}
		}
		return mismatch()

	case planner.StrategySpatialIndex:
		file := facts.NormalizePath(st.File)
		switch q := q.(type) {
		case planner.FileQuery:
			if q.Path == file && !st.IsRange() {
				return nil
			}
		case planner.LineRangeQuery:
			if q.Path != file {
				return mismatch()
			}
			if !st.IsRange() || (st.StartLine <= q.Start && st.EndLine >= q.End) {
				return nil
			}
		}
		return mismatch()

	case planner.StrategyFlowIndex:
		if fq, ok := q.(planner.FlowQuery); ok && fq.Flow == st.Flow {
			return nil
		}
		return mismatch()
	}
	return mismatch()
}
