// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package cache

import (
	"strconv"
	"sync"
	"testing"
)

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := New[string, int](2)
	c.Set("a", 1)
	c.Set("b", 2)
	if _, ok := c.Get("a"); !ok {
		t.Fatal("a missing")
	}
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Error("b survived eviction")
	}
	for _, k := range []string{"a", "c"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("%s evicted", k)
		}
	}
	if s := c.Stats(); s.Len != 2 || s.Evictions != 1 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestCacheSetReplaces(t *testing.T) {
	c := New[string, int](0)
	c.Set("a", 1)
	c.Set("a", 2)
	if v, _ := c.Get("a"); v != 2 || c.Len() != 1 {
		t.Errorf("Get(a) = %d, Len() = %d", v, c.Len())
	}
}

func TestCacheStats(t *testing.T) {
	c := New[string, int](4)
	if s := c.Stats(); s.HitRate != 0 {
		t.Errorf("HitRate before lookups = %v", s.HitRate)
	}
	c.Set("k", 7)
	c.Get("k")
	c.Get("k")
	c.Get("missing")
	s := c.Stats()
	if s.Hits != 2 || s.Misses != 1 || s.Capacity != 4 {
		t.Errorf("Stats() = %+v", s)
	}
	if s.HitRate < 0.66 || s.HitRate > 0.67 {
		t.Errorf("HitRate = %v", s.HitRate)
	}
}

func TestCacheDeleteClear(t *testing.T) {
	c := New[int, int](0)
	for i := range 5 {
		c.Set(i, i)
	}
	if !c.Delete(2) || c.Delete(2) {
		t.Error("Delete reported wrong presence")
	}
	if c.Len() != 4 || c.order.Len() != 4 {
		t.Errorf("Len() = %d, list %d", c.Len(), c.order.Len())
	}
	c.Clear()
	if c.Len() != 0 || c.order.Len() != 0 {
		t.Errorf("after Clear Len() = %d", c.Len())
	}
}

func TestCacheConcurrent(t *testing.T) {
	c := New[string, int](16)
	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 64 {
				k := strconv.Itoa((w + i) % 32)
				if _, ok := c.Get(k); !ok {
					c.Set(k, i)
				}
			}
		}()
	}
	wg.Wait()
	if c.Len() > 16 || c.order.Len() != c.Len() {
		t.Errorf("Len() = %d, list %d", c.Len(), c.order.Len())
	}
}

func BenchmarkCacheGet(b *testing.B) {
	c := New[string, int](1000)
	for i := 0; i < 100; i++ {
		c.Set(strconv.Itoa(i), i)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Get("50")
	}
}

func BenchmarkCacheSetEvicting(b *testing.B) {
	c := New[string, int](64)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Set(strconv.Itoa(i%100), i)
	}
}
