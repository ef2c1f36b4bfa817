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
	"math"
)

// Cost model constants. Units are abstract; only relative magnitudes
// matter.
const (
	ScanIOPerFact               = 1.0
	ScanCPUPerFact              = 0.5
	IndexProbeCost              = 0.5
	IndexIOPerFact              = 1.0
	IndexCPUPerFact             = 0.5
	RangeSeekCost               = 0.5
	PredicateCPUPerFact         = 0.25
	FlowProbeCost               = 1.0
	FlowCPUPerParticipant       = 0.1
	DefaultPredicateSelectivity = 0.1
	FlowParticipantsPerSource   = 3
	FactMemoryBytes             = 256
)

// CostEstimate is the estimated cost of one execution strategy.
//
// Only IOCost and CPUCost take part in comparison. MemoryCost and
// ResultSize are informational.
type CostEstimate struct {
	IOCost     float64 `json:"io_cost"`
	CPUCost    float64 `json:"cpu_cost"`
	MemoryCost uint64  `json:"memory_cost"`
	ResultSize int     `json:"result_size"`
}

// TotalCost returns IOCost + CPUCost.
func (c CostEstimate) TotalCost() float64 {
	return c.IOCost + c.CPUCost
}

// IsBetterThan reports whether c is strictly cheaper than o.
func (c CostEstimate) IsBetterThan(o CostEstimate) bool {
	return c.TotalCost() < o.TotalCost()
}

func (c CostEstimate) String() string {
	return fmt.Sprintf("cost=%.2f (io=%.2f cpu=%.2f) rows=%d mem=%dB",
		c.TotalCost(), c.IOCost, c.CPUCost, c.ResultSize, c.MemoryCost)
}

// CostModel estimates strategy costs from bucket sizes.
//
// Description:
//
//	Every method is a pure function of its arguments. The planner feeds
//	bucket sizes read from IndexStatistics; the model never touches the
//	statistics itself.
//
// Thread Safety: Stateless, safe for concurrent use.
type CostModel struct{}

// FullScan costs a linear pass over total facts.
//
// resultSize is the caller's best estimate of the match count; pass total
// when nothing better is known.
func (CostModel) FullScan(total, resultSize int) CostEstimate {
	n := float64(total)
	return CostEstimate{
		IOCost:     n * ScanIOPerFact,
		CPUCost:    n * ScanCPUPerFact,
		MemoryCost: memoryFor(resultSize),
		ResultSize: resultSize,
	}
}

// TypeIndex costs a posting list fetch of bucket facts. It is strictly
// cheaper than FullScan(total, ...) whenever bucket < total.
func (CostModel) TypeIndex(bucket int) CostEstimate {
	n := float64(bucket)
	return CostEstimate{
		IOCost:     IndexProbeCost + n*IndexIOPerFact,
		CPUCost:    n * IndexCPUPerFact,
		MemoryCost: memoryFor(bucket),
		ResultSize: bucket,
	}
}

// SpatialFile costs fetching every fact of one file.
func (m CostModel) SpatialFile(bucket int) CostEstimate {
	return m.TypeIndex(bucket)
}

// SpatialRange costs fetching the facts of one file that overlap a line
// range. The band is the file bucket scaled by width/MaxLine, rounded up.
// Without line statistics (MaxLine == 0) the whole file is costed.
func (m CostModel) SpatialRange(fs FileStats, start, end int) CostEstimate {
	if fs.MaxLine <= 0 {
		return m.SpatialFile(fs.FactCount)
	}
	band := rangeBand(fs, start, end)
	n := float64(band)
	return CostEstimate{
		IOCost:     IndexProbeCost + RangeSeekCost + n*IndexIOPerFact,
		CPUCost:    n * IndexCPUPerFact,
		MemoryCost: memoryFor(band),
		ResultSize: band,
	}
}

// FlowIndex costs a flow lookup. Participants are estimated at
// FlowParticipantsPerSource per originating fact.
func (CostModel) FlowIndex(sources int) CostEstimate {
	participants := sources * FlowParticipantsPerSource
	return CostEstimate{
		IOCost:     FlowProbeCost,
		CPUCost:    float64(participants) * FlowCPUPerParticipant,
		MemoryCost: memoryFor(participants),
		ResultSize: participants,
	}
}

// ComplexTypeIndex costs a type bucket fetch followed by an in-memory
// predicate filter.
func (m CostModel) ComplexTypeIndex(bucket, predicates int) CostEstimate {
	c := m.TypeIndex(bucket)
	c.CPUCost += float64(bucket) * float64(predicates) * PredicateCPUPerFact
	c.ResultSize = filteredSize(bucket, predicates)
	c.MemoryCost = memoryFor(c.ResultSize)
	return c
}

// ComplexFullScan costs a full scan that checks the discriminant and
// predicates of every fact.
func (m CostModel) ComplexFullScan(total, bucket, predicates int) CostEstimate {
	result := filteredSize(bucket, predicates)
	c := m.FullScan(total, result)
	c.CPUCost += float64(total) * float64(predicates) * PredicateCPUPerFact
	return c
}

// rangeBand estimates how many facts of a file fall inside [start, end].
func rangeBand(fs FileStats, start, end int) int {
	width := end - start + 1
	if width >= fs.MaxLine {
		return fs.FactCount
	}
	return (fs.FactCount*width + fs.MaxLine - 1) / fs.MaxLine
}

// filteredSize estimates the survivors of predicates independent filters
// over bucket candidates.
func filteredSize(bucket, predicates int) int {
	if bucket <= 0 {
		return 0
	}
	est := float64(bucket) * math.Pow(DefaultPredicateSelectivity, float64(predicates))
	return int(math.Ceil(est - 1e-9))
}

func memoryFor(rows int) uint64 {
	if rows <= 0 {
		return 0
	}
	return uint64(rows) * FactMemoryBytes
}
