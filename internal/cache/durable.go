package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/inkfolio/folio/internal/metrics"
	"github.com/inkfolio/folio/internal/storage"
)

// DefaultNamespace prefixes every key the durable cache writes.
const DefaultNamespace = "folio_cache:"

// DurableConfig configures a DurableCache.
type DurableConfig struct {
	Namespace            string
	CompressionLevel     int // zstd level, 0 disables compression
	CompressionThreshold int // bytes

	Now     func() time.Time
	Logger  *log.Logger
	Metrics metrics.Recorder
}

// DurableCache is the persistent tier. Entries are serialized by a Codec and
// kept in a storage.Store under a namespaced key. Storage and decoding faults
// are logged and reported as misses; no method returns them.
type DurableCache struct {
	store     storage.Store
	codec     *Codec
	namespace string
	now       func() time.Time
	logger    *log.Logger
	metrics   metrics.Recorder

	hits        atomic.Int64
	misses      atomic.Int64
	expirations atomic.Int64
	faults      atomic.Int64

	closed atomic.Bool
}

// NewDurableCache creates a durable cache over store.
func NewDurableCache(store storage.Store, cfg DurableConfig) (*DurableCache, error) {
	if store == nil {
		return nil, fmt.Errorf("durable cache requires a store")
	}
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default().WithPrefix("durable")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Noop{}
	}

	codec, err := NewCodec(cfg.CompressionLevel, cfg.CompressionThreshold)
	if err != nil {
		return nil, err
	}

	return &DurableCache{
		store:     store,
		codec:     codec,
		namespace: cfg.Namespace,
		now:       cfg.Now,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}, nil
}

// Get decodes the value stored under key into dst, which must be a pointer.
// It reports false on a miss, an expired entry, or any fault; corrupt
// entries are deleted.
func (c *DurableCache) Get(ctx context.Context, key string, dst any) bool {
	rec, ok := c.load(ctx, key)
	if !ok {
		return false
	}

	if err := json.Unmarshal(rec.value, dst); err != nil {
		c.fault("decode", key, err)
		c.drop(ctx, key)
		c.misses.Add(1)
		return false
	}

	c.hits.Add(1)
	return true
}

// Set stores value under key for ttl. A non-positive ttl uses DefaultTTL.
func (c *DurableCache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	if c.closed.Load() {
		return
	}

	ttl = normalizeTTL(ttl)
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}

	now := c.now()
	data, err := c.codec.Encode(value, now, now.Add(ttl))
	if err != nil {
		c.fault("encode", key, err)
		return
	}

	if err := c.store.Set(ctx, c.storageKey(key), data); err != nil {
		c.fault("set", key, err)
		return
	}

	c.logger.Debug("Stored durable entry", "key", key, "bytes", len(data), "ttl", ttl)
}

// Delete removes key.
func (c *DurableCache) Delete(ctx context.Context, key string) {
	c.drop(ctx, key)
}

// Age returns the time since the entry for key was written.
func (c *DurableCache) Age(ctx context.Context, key string) (time.Duration, bool) {
	rec, ok := c.load(ctx, key)
	if !ok {
		return 0, false
	}
	return c.now().Sub(rec.createdAt), true
}

// Keys lists stored cache keys without the namespace prefix.
func (c *DurableCache) Keys(ctx context.Context) []string {
	stored, err := c.store.Keys(ctx, c.namespace)
	if err != nil {
		c.fault("keys", c.namespace, err)
		return nil
	}

	keys := make([]string, 0, len(stored))
	for _, k := range stored {
		keys = append(keys, strings.TrimPrefix(k, c.namespace))
	}
	return keys
}

// Invalidate removes every entry whose key contains pattern, in one batch
// when the store supports it. It returns the number of entries removed.
func (c *DurableCache) Invalidate(ctx context.Context, pattern string) int {
	stored, err := c.store.Keys(ctx, c.namespace)
	if err != nil {
		c.fault("keys", pattern, err)
		return 0
	}

	var matched []string
	for _, k := range stored {
		if strings.Contains(strings.TrimPrefix(k, c.namespace), pattern) {
			matched = append(matched, k)
		}
	}

	if err := storage.DeleteAll(ctx, c.store, matched); err != nil {
		c.fault("delete", pattern, err)
		return 0
	}
	return len(matched)
}

// Clear removes every entry in the namespace.
func (c *DurableCache) Clear(ctx context.Context) {
	c.Invalidate(ctx, "")
}

// Stats returns hit, miss and fault counters. Items is not tracked.
func (c *DurableCache) Stats() Stats {
	stats := Stats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Expirations: c.expirations.Load(),
		Faults:      c.faults.Load(),
	}
	stats.computeHitRate()
	return stats
}

// Close releases the codec. Later reads miss and writes are dropped. The
// store is owned by the caller.
func (c *DurableCache) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.codec.Close()
}

func (c *DurableCache) load(ctx context.Context, key string) (record, bool) {
	if c.closed.Load() {
		return record{}, false
	}

	data, found, err := c.store.Get(ctx, c.storageKey(key))
	if err != nil {
		c.fault("get", key, err)
		c.misses.Add(1)
		return record{}, false
	}
	if !found {
		c.misses.Add(1)
		return record{}, false
	}

	rec, err := c.codec.decode(data)
	if err != nil {
		c.fault("decode", key, err)
		c.drop(ctx, key)
		c.misses.Add(1)
		return record{}, false
	}

	if !rec.valid(c.now()) {
		c.drop(ctx, key)
		c.expirations.Add(1)
		c.misses.Add(1)
		return record{}, false
	}

	return rec, true
}

func (c *DurableCache) drop(ctx context.Context, key string) {
	if err := c.store.Delete(ctx, c.storageKey(key)); err != nil {
		c.fault("delete", key, err)
	}
}

func (c *DurableCache) fault(op, key string, err error) {
	c.faults.Add(1)
	c.metrics.StorageFault(op)
	c.logger.Warn("Durable cache fault", "op", op, "key", key, "err", err)
}

func (c *DurableCache) storageKey(key string) string {
	return c.namespace + key
}
