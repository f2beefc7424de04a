// Package modelcache implements the Model Cache (C5): a hit-threshold
// admission, memory-budgeted cache keyed by model name, evicting the entry
// with the lowest (hitCount, lastAccessed) pair first.
//
// hashicorp/golang-lru's pure-recency eviction cannot express this
// secondary-key ordering, so this cache is hand rolled; see DESIGN.md.
package modelcache

import (
	"sort"
	"sync"
	"time"

	"github.com/indexforge/ingestcore/internal/coreerrors"
	"github.com/indexforge/ingestcore/internal/timeutil"
)

type entry struct {
	model        any
	memoryMB     float64
	hitCount     int
	lastAccessed time.Time
}

// Cache is a hit-threshold, memory-budgeted model cache.
type Cache struct {
	mu           sync.Mutex
	entries      map[string]*entry
	accessCounts map[string]int
	maxMemoryMB  float64
	minHitCount  int
	maxEntries   int
	usedMB       float64
}

// New creates a Cache bounded by maxMemoryMB and maxEntries, admitting a
// model only once it has been accessed minHitCount times. maxEntries <= 0
// means no count ceiling (memory budget alone governs eviction).
func New(maxMemoryMB float64, minHitCount int, maxEntries int) *Cache {
	return &Cache{
		entries:      make(map[string]*entry),
		accessCounts: make(map[string]int),
		maxMemoryMB:  maxMemoryMB,
		minHitCount:  minHitCount,
		maxEntries:   maxEntries,
	}
}

// RecordAccess increments the access count for a model name without
// caching it. Call this on cache misses; once the count reaches
// minHitCount, a subsequent CacheModel call will be admitted.
func (c *Cache) RecordAccess(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessCounts[name]++
	return c.accessCounts[name]
}

// Get returns the cached model and bumps its hit count and last-accessed
// time.
func (c *Cache) Get(name string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[name]
	if !ok {
		return nil, false
	}
	e.hitCount++
	e.lastAccessed = timeutil.NowUTC()
	return e.model, true
}

// CacheModel admits model under name if it has been accessed at least
// minHitCount times, evicting least-used entries (by ascending
// (hitCount, lastAccessed)) while the entry count is at or above
// maxEntries, or while the cache's own maxMemoryMB budget would be
// exceeded. Returns a ResourceExhaustedError if eviction alone cannot make
// room.
func (c *Cache) CacheModel(name string, model any, memoryMB float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessCounts[name] < c.minHitCount {
		return nil // not yet hot enough to admit; not an error
	}

	if existing, ok := c.entries[name]; ok {
		c.usedMB -= existing.memoryMB
		delete(c.entries, name)
	}

	for c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		if !c.evictLeastUsedLocked() {
			break
		}
	}

	for c.usedMB+memoryMB > c.maxMemoryMB && len(c.entries) > 0 {
		if !c.evictLeastUsedLocked() {
			break
		}
	}

	if c.usedMB+memoryMB > c.maxMemoryMB {
		return coreerrors.NewResourceExhaustedError(
			"model-cache",
			"cannot make room for model even after evicting all entries",
			map[string]any{"max_memory_mb": c.maxMemoryMB},
			map[string]any{"used_mb": c.usedMB, "requested_mb": memoryMB},
		)
	}

	c.entries[name] = &entry{model: model, memoryMB: memoryMB, hitCount: 1, lastAccessed: timeutil.NowUTC()}
	c.usedMB += memoryMB
	return nil
}

// evictLeastUsedLocked removes the entry with the lowest (hitCount,
// lastAccessed) pair. Caller must hold c.mu. Returns false if the cache is
// empty.
func (c *Cache) evictLeastUsedLocked() bool {
	if len(c.entries) == 0 {
		return false
	}
	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := c.entries[names[i]], c.entries[names[j]]
		if a.hitCount != b.hitCount {
			return a.hitCount < b.hitCount
		}
		return a.lastAccessed.Before(b.lastAccessed)
	})
	victim := names[0]
	c.usedMB -= c.entries[victim].memoryMB
	delete(c.entries, victim)
	return true
}

// Len returns the number of cached models.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// UsedMB returns current memory usage in megabytes.
func (c *Cache) UsedMB() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usedMB
}
