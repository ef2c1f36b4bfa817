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
	"sync"
	"testing"
)

func TestPlanCache_Basic(t *testing.T) {
	t.Run("get and put", func(t *testing.T) {
		cache := newPlanCache(10)
		a := &QueryPlan{Explanation: "a"}

		cache.Put("a", a)

		if got, ok := cache.Get("a"); !ok || got != a {
			t.Errorf("expected (a, true), got (%v, %v)", got, ok)
		}
	})

	t.Run("get missing key", func(t *testing.T) {
		cache := newPlanCache(10)

		got, ok := cache.Get("missing")
		if ok {
			t.Error("expected ok=false for missing key")
		}
		if got != nil {
			t.Errorf("expected nil plan, got %v", got)
		}
	})

	t.Run("first insert wins", func(t *testing.T) {
		cache := newPlanCache(10)
		first := &QueryPlan{Explanation: "first"}

		cache.Put("k", first)
		cache.Put("k", &QueryPlan{Explanation: "second"})

		if got, _ := cache.Get("k"); got != first {
			t.Errorf("expected first plan to be kept, got %q", got.Explanation)
		}
		if cache.Len() != 1 {
			t.Errorf("expected len=1, got %d", cache.Len())
		}
	})

	t.Run("stats", func(t *testing.T) {
		cache := newPlanCache(10)

		cache.Put("a", &QueryPlan{})
		cache.Get("a")
		cache.Get("a")
		cache.Get("b")

		hits, misses, evictions := cache.Stats()
		if hits != 2 || misses != 1 || evictions != 0 {
			t.Errorf("expected (2, 1, 0), got (%d, %d, %d)", hits, misses, evictions)
		}
	})

	t.Run("peek does not count", func(t *testing.T) {
		cache := newPlanCache(10)

		cache.Put("a", &QueryPlan{})
		cache.peek("a")
		cache.peek("b")

		hits, misses, _ := cache.Stats()
		if hits != 0 || misses != 0 {
			t.Errorf("expected no counted lookups, got hits=%d misses=%d", hits, misses)
		}
	})
}

func TestPlanCache_FIFOEviction(t *testing.T) {
	cache := newPlanCache(3)

	cache.Put("a", &QueryPlan{})
	cache.Put("b", &QueryPlan{})
	cache.Put("c", &QueryPlan{})

	// Reads do not refresh FIFO order.
	cache.Get("a")

	cache.Put("d", &QueryPlan{})

	if _, ok := cache.peek("a"); ok {
		t.Error("expected oldest insert 'a' to be evicted")
	}
	for _, k := range []string{"b", "c", "d"} {
		if _, ok := cache.peek(k); !ok {
			t.Errorf("expected %q to remain", k)
		}
	}

	cache.Put("e", &QueryPlan{})
	if _, ok := cache.peek("b"); ok {
		t.Error("expected 'b' to be evicted next")
	}

	if cache.Len() != 3 {
		t.Errorf("expected len=3, got %d", cache.Len())
	}
	if _, _, evictions := cache.Stats(); evictions != 2 {
		t.Errorf("expected 2 evictions, got %d", evictions)
	}
}

func TestPlanCache_Disabled(t *testing.T) {
	for _, capacity := range []int{0, -5} {
		cache := newPlanCache(capacity)
		if cache.enabled() {
			t.Errorf("capacity %d: expected disabled cache", capacity)
		}

		cache.Put("a", &QueryPlan{})
		if cache.Len() != 0 {
			t.Errorf("capacity %d: expected nothing stored, got %d", capacity, cache.Len())
		}
	}
}

func TestPlanCache_Concurrent(t *testing.T) {
	cache := newPlanCache(50)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", (g*31+i)%100)
				if _, ok := cache.Get(key); !ok {
					cache.Put(key, &QueryPlan{Explanation: key})
				}
			}
		}(g)
	}
	wg.Wait()

	if cache.Len() > 50 {
		t.Errorf("cache exceeded capacity: %d", cache.Len())
	}
	hits, misses, _ := cache.Stats()
	if hits+misses != 8*200 {
		t.Errorf("expected %d lookups, got %d", 8*200, hits+misses)
	}
}
