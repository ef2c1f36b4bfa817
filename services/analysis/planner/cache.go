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
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the plan cache.
var (
	planCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "facts_plan_cache_hits_total",
		Help: "Number of query plans served from the plan cache",
	})

	planCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "facts_plan_cache_misses_total",
		Help: "Number of plan cache lookups that required costing",
	})

	planCacheEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "facts_plan_cache_evictions_total",
		Help: "Number of plans evicted from the plan cache at capacity",
	})
)

// planCache is a bounded FIFO memo table from query key to plan.
//
// Description:
//
//	Entries never expire. Once the cache holds capacity entries, each new
//	insert evicts the oldest insert. FIFO needs no bookkeeping on reads,
//	so Get only takes the read lock and concurrent readers never block
//	each other.
//
// Thread Safety: All methods are safe for concurrent use.
//
// Performance:
//
//	| Operation | Complexity |
//	|-----------|------------|
//	| Get       | O(1)       |
//	| Put       | O(1)       |
type planCache struct {
	mu       sync.RWMutex
	capacity int
	items    map[string]*QueryPlan
	order    []string // ring of keys in insertion order
	next     int      // ring slot of the oldest key once full

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// newPlanCache creates a cache holding at most capacity plans. A capacity
// of 0 or less returns a disabled cache that stores nothing.
func newPlanCache(capacity int) *planCache {
	if capacity < 0 {
		capacity = 0
	}
	return &planCache{
		capacity: capacity,
		items:    make(map[string]*QueryPlan, capacity),
		order:    make([]string, 0, capacity),
	}
}

// enabled reports whether the cache stores anything.
func (c *planCache) enabled() bool {
	return c.capacity > 0
}

// Get returns the cached plan for key and records a hit or miss.
func (c *planCache) Get(key string) (*QueryPlan, bool) {
	c.mu.RLock()
	plan, ok := c.items[key]
	c.mu.RUnlock()

	if ok {
		c.hits.Add(1)
		planCacheHitsTotal.Inc()
		return plan, true
	}
	c.misses.Add(1)
	planCacheMissesTotal.Inc()
	return nil, false
}

// peek returns the cached plan without touching the counters.
func (c *planCache) peek(key string) (*QueryPlan, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	plan, ok := c.items[key]
	return plan, ok
}

// Put inserts a plan. An existing entry for key is kept unchanged so that
// every caller observes the first plan stored for a query.
func (c *planCache) Put(key string, plan *QueryPlan) {
	if !c.enabled() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items[key]; ok {
		return
	}

	if len(c.order) < c.capacity {
		c.order = append(c.order, key)
	} else {
		delete(c.items, c.order[c.next])
		c.order[c.next] = key
		c.next = (c.next + 1) % c.capacity
		c.evictions.Add(1)
		planCacheEvictionsTotal.Inc()
	}
	c.items[key] = plan
}

// Len returns the number of cached plans.
func (c *planCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Stats returns hit, miss and eviction counts.
//
// Thread Safety: Lock-free.
func (c *planCache) Stats() (hits, misses, evictions int64) {
	return c.hits.Load(), c.misses.Load(), c.evictions.Load()
}
