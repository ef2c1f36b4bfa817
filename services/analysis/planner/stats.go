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
	"github.com/AleutianAI/AleutianFacts/services/analysis/facts"
)

// FileStats summarizes the facts located in one file.
type FileStats struct {
	// FactCount is the number of facts in the file.
	FactCount int `json:"fact_count"`

	// MaxLine is the largest EndLine seen in the file. Zero means line
	// statistics are unavailable and range costs fall back to the whole
	// file.
	MaxLine int `json:"max_line"`
}

// FlowStats summarizes one taint flow.
type FlowStats struct {
	// Sources is the number of facts originating the flow.
	Sources int `json:"sources"`
}

// IndexStatistics is an immutable snapshot of fact counts per index key.
//
// Description:
//
//	Built once per analysis run by ComputeStatistics and shared read-only
//	by the planner. A changed fact set needs a new snapshot and a new
//	planner; the snapshot is never updated in place.
//
// Thread Safety: Safe for concurrent reads. Must not be mutated after
// construction.
type IndexStatistics struct {
	TotalFacts   int                        `json:"total_facts"`
	TypeStats    map[facts.Discriminant]int `json:"type_stats"`
	SpatialStats map[string]FileStats       `json:"spatial_stats"`
	FlowStats    map[facts.FlowID]FlowStats `json:"flow_stats"`
}

// NewIndexStatistics returns an empty snapshot.
func NewIndexStatistics() *IndexStatistics {
	return &IndexStatistics{
		TypeStats:    make(map[facts.Discriminant]int),
		SpatialStats: make(map[string]FileStats),
		FlowStats:    make(map[facts.FlowID]FlowStats),
	}
}

// ComputeStatistics aggregates per-type, per-file and per-flow counts.
//
// Description:
//
//	Performs one linear pass. File keys are normalized with
//	facts.NormalizePath. Only facts that originate a flow (taint sources)
//	contribute to FlowStats; facts that merely reference a flow do not.
//	Nil entries are skipped.
//
// Inputs:
//
//	fs - The complete fact sequence for the run. May be empty.
//
// Outputs:
//
//	*IndexStatistics - The snapshot. Never nil; all-zero for empty input.
func ComputeStatistics(fs []*facts.Fact) *IndexStatistics {
	s := NewIndexStatistics()
	for _, f := range fs {
		if f == nil {
			continue
		}
		s.TotalFacts++
		s.TypeStats[f.Discriminant()]++

		file := facts.NormalizePath(f.Location.File)
		st := s.SpatialStats[file]
		st.FactCount++
		if f.Location.EndLine > st.MaxLine {
			st.MaxLine = f.Location.EndLine
		}
		s.SpatialStats[file] = st

		if flow, ok := f.OriginFlow(); ok {
			fl := s.FlowStats[flow]
			fl.Sources++
			s.FlowStats[flow] = fl
		}
	}
	return s
}

// IsEmpty reports whether the snapshot covers zero facts.
func (s *IndexStatistics) IsEmpty() bool {
	return s == nil || s.TotalFacts == 0
}

// TypeCount returns the bucket size for a discriminant.
func (s *IndexStatistics) TypeCount(d facts.Discriminant) (int, bool) {
	if s == nil {
		return 0, false
	}
	n, ok := s.TypeStats[d]
	return n, ok && n > 0
}

// File returns the statistics for a normalized path.
func (s *IndexStatistics) File(p string) (FileStats, bool) {
	if s == nil {
		return FileStats{}, false
	}
	st, ok := s.SpatialStats[p]
	return st, ok && st.FactCount > 0
}

// Flow returns the statistics for a flow id.
func (s *IndexStatistics) Flow(id facts.FlowID) (FlowStats, bool) {
	if s == nil {
		return FlowStats{}, false
	}
	st, ok := s.FlowStats[id]
	return st, ok
}
