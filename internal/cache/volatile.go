package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// VolatileConfig configures a VolatileCache.
type VolatileConfig struct {
	MaxEntries int
	Eviction   EvictionPolicy

	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// VolatileCache is the in-memory tier: a bounded key/value store with
// per-entry expiry. At capacity it evicts one entry chosen by its
// EvictionPolicy before admitting a new key.
type VolatileCache struct {
	maxEntries int
	policy     EvictionPolicy
	now        func() time.Time

	// Front is the newest insertion (fifo) or the most recent use (lru).
	items map[string]*list.Element
	order *list.List

	mu    sync.Mutex
	stats Stats
}

type volatileEntry struct {
	key string
	Entry
}

// NewVolatileCache creates a volatile cache from cfg, filling in defaults.
func NewVolatileCache(cfg VolatileConfig) *VolatileCache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.Eviction == "" {
		cfg.Eviction = EvictFIFO
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &VolatileCache{
		maxEntries: cfg.MaxEntries,
		policy:     cfg.Eviction,
		now:        cfg.Now,
		items:      make(map[string]*list.Element),
		order:      list.New(),
		stats:      Stats{Capacity: cfg.MaxEntries},
	}
}

// Get returns the value stored under key. Expired entries are removed and
// reported as a miss.
func (c *VolatileCache) Get(key string) (any, bool) {
	entry, ok := c.GetEntry(key)
	if !ok {
		return nil, false
	}
	return entry.Value, true
}

// GetEntry is Get with the entry timestamps.
func (c *VolatileCache) GetEntry(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return Entry{}, false
	}

	entry := elem.Value.(*volatileEntry)
	if !entry.Valid(c.now()) {
		c.removeElement(elem)
		c.stats.Expirations++
		c.stats.Misses++
		return Entry{}, false
	}

	if c.policy == EvictLRU {
		c.order.MoveToFront(elem)
	}

	c.stats.Hits++
	return entry.Entry, true
}

// Set stores value under key for ttl. A non-positive ttl uses DefaultTTL.
// Replacing an existing key never evicts.
func (c *VolatileCache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry := &volatileEntry{
		key: key,
		Entry: Entry{
			Value:     value,
			CreatedAt: now,
			ExpiresAt: now.Add(normalizeTTL(ttl)),
		},
	}

	if elem, ok := c.items[key]; ok {
		elem.Value = entry
		c.order.MoveToFront(elem)
		return
	}

	for c.order.Len() >= c.maxEntries {
		c.evictOne()
	}

	c.items[key] = c.order.PushFront(entry)
}

// Delete removes key if present.
func (c *VolatileCache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeElement(elem)
	return true
}

// Invalidate removes every entry whose key contains pattern and returns how
// many were removed. An empty pattern matches every key.
func (c *VolatileCache) Invalidate(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, elem := range c.items {
		if strings.Contains(key, pattern) {
			c.removeElement(elem)
			removed++
		}
	}
	return removed
}

// Clear removes all entries from the cache.
func (c *VolatileCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.order.Init()
}

// Age returns the time elapsed since the entry for key was created. Expired
// or absent entries report false.
func (c *VolatileCache) Age(key string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return 0, false
	}
	entry := elem.Value.(*volatileEntry)
	now := c.now()
	if !entry.Valid(now) {
		return 0, false
	}
	return entry.Age(now), true
}

// Len returns the number of entries, including expired ones not yet pruned.
func (c *VolatileCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.order.Len()
}

// Keys returns all keys, newest first.
func (c *VolatileCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, c.order.Len())
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*volatileEntry).key)
	}
	return keys
}

// Prune removes expired entries and returns how many were dropped.
func (c *VolatileCache) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	pruned := 0

	elem := c.order.Back()
	for elem != nil {
		prev := elem.Prev()
		if !elem.Value.(*volatileEntry).Valid(now) {
			c.removeElement(elem)
			pruned++
		}
		elem = prev
	}

	c.stats.Expirations += int64(pruned)
	return pruned
}

// Resize changes the maximum entry count, evicting as needed.
func (c *VolatileCache) Resize(maxEntries int) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.maxEntries = maxEntries
	c.stats.Capacity = maxEntries
	for c.order.Len() > c.maxEntries {
		c.evictOne()
	}
}

// Policy returns the eviction policy in use.
func (c *VolatileCache) Policy() EvictionPolicy {
	return c.policy
}

// Stats returns cache statistics.
func (c *VolatileCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Items = c.order.Len()
	stats.computeHitRate()
	return stats
}

// evictOne drops the entry at the back of the order list (must be called
// with lock held).
func (c *VolatileCache) evictOne() {
	elem := c.order.Back()
	if elem != nil {
		c.removeElement(elem)
		c.stats.Evictions++
	}
}

// removeElement must be called with lock held.
func (c *VolatileCache) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*volatileEntry).key)
}
