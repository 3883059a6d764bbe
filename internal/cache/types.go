package cache

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultTTL is used when an entry is stored without a positive TTL.
const DefaultTTL = 5 * time.Minute

// DefaultMaxEntries bounds the volatile cache when no size is configured.
const DefaultMaxEntries = 100

// Common errors for cache operations
var (
	// ErrCacheMiss is returned when an item is not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrCacheCorrupted is returned when a stored record cannot be decoded
	ErrCacheCorrupted = errors.New("cache data corrupted")
)

// Level represents the cache tier
type Level int

const (
	// LevelVolatile is the in-memory tier (fastest)
	LevelVolatile Level = iota

	// LevelDurable is the persistent tier
	LevelDurable
)

// String returns the string representation of the cache level
func (l Level) String() string {
	switch l {
	case LevelVolatile:
		return "volatile"
	case LevelDurable:
		return "durable"
	default:
		return "unknown"
	}
}

// EvictionPolicy selects which entry the volatile cache drops at capacity.
type EvictionPolicy string

const (
	// EvictFIFO drops the earliest inserted entry. Reads do not affect order.
	EvictFIFO EvictionPolicy = "fifo"

	// EvictLRU drops the least recently read or written entry.
	EvictLRU EvictionPolicy = "lru"
)

// ParseEvictionPolicy parses a policy name, case-insensitively.
func ParseEvictionPolicy(s string) (EvictionPolicy, error) {
	switch p := EvictionPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", EvictFIFO:
		return EvictFIFO, nil
	case EvictLRU:
		return EvictLRU, nil
	default:
		return "", fmt.Errorf("unknown eviction policy %q", s)
	}
}

// Entry is a cached value and its validity window.
type Entry struct {
	Value     any
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Valid reports whether the entry is still fresh at now.
func (e Entry) Valid(now time.Time) bool {
	return !now.After(e.ExpiresAt)
}

// Age returns how long ago the entry was created.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}

// Stats holds cache performance metrics
type Stats struct {
	Capacity int // Maximum number of entries (0 when unbounded)
	Items    int // Number of items in cache

	Hits        int64
	Misses      int64
	Evictions   int64
	Expirations int64   // Entries dropped because their TTL passed
	Faults      int64   // Storage faults absorbed as misses (durable only)
	HitRate     float64 // hits / (hits + misses)
}

func (s *Stats) computeHitRate() {
	if s.Hits+s.Misses > 0 {
		s.HitRate = float64(s.Hits) / float64(s.Hits+s.Misses)
	}
}

// normalizeTTL applies DefaultTTL to non-positive durations.
func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}
