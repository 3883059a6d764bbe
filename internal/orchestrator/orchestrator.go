// Package orchestrator is the request pipeline between UI consumers and the
// remote backend. It composes a volatile cache, an optional durable cache, a
// request deduplicator and a per-endpoint rate limiter behind one façade.
package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/inkfolio/folio/internal/cache"
	"github.com/inkfolio/folio/internal/dedup"
	"github.com/inkfolio/folio/internal/metrics"
	"github.com/inkfolio/folio/internal/ratelimit"
	"github.com/inkfolio/folio/internal/storage"
)

const tracerName = "github.com/inkfolio/folio/internal/orchestrator"

// Config configures an Orchestrator.
type Config struct {
	DefaultTTL      time.Duration
	CleanupInterval time.Duration // 0 disables the janitor

	Volatile cache.VolatileConfig
	Durable  cache.DurableConfig

	RateLimit ratelimit.Limit
	Endpoints map[string]ratelimit.Limit

	Warmup WarmupConfig
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:      TTLMedium,
		CleanupInterval: time.Minute,
		Volatile: cache.VolatileConfig{
			MaxEntries: cache.DefaultMaxEntries,
			Eviction:   cache.EvictFIFO,
		},
		RateLimit: ratelimit.DefaultLimit(),
		Warmup:    WarmupConfig{Concurrency: 4},
	}
}

// Orchestrator owns the caches, the deduplicator and the rate limiter. One
// instance is created per process and shared by reference.
type Orchestrator struct {
	cfg Config

	volatile *cache.VolatileCache
	durable  *cache.DurableCache // nil without a store
	dedup    *dedup.Deduplicator
	limiter  *ratelimit.Limiter

	logger  *log.Logger
	metrics metrics.Recorder
	tracer  trace.Tracer
	now     func() time.Time

	closed    atomic.Bool
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// New creates an orchestrator. store backs the durable tier; when it is nil
// Persist has no effect. The store is not closed by Close.
func New(cfg Config, store storage.Store, opts ...Option) (*Orchestrator, error) {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = TTLMedium
	}

	o := &Orchestrator{
		cfg:     cfg,
		dedup:   dedup.New(),
		logger:  log.Default().WithPrefix("orchestrator"),
		metrics: metrics.Noop{},
		tracer:  otel.Tracer(tracerName),
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}

	volatileCfg := cfg.Volatile
	if volatileCfg.Now == nil {
		volatileCfg.Now = o.now
	}
	o.volatile = cache.NewVolatileCache(volatileCfg)

	if store != nil {
		durableCfg := cfg.Durable
		if durableCfg.Now == nil {
			durableCfg.Now = o.now
		}
		if durableCfg.Logger == nil {
			durableCfg.Logger = o.logger.WithPrefix("durable")
		}
		if durableCfg.Metrics == nil {
			durableCfg.Metrics = o.metrics
		}
		durable, err := cache.NewDurableCache(store, durableCfg)
		if err != nil {
			return nil, err
		}
		o.durable = durable
	}

	limiterOpts := []ratelimit.Option{ratelimit.WithClock(o.now)}
	for endpoint, limit := range cfg.Endpoints {
		limiterOpts = append(limiterOpts, ratelimit.WithEndpointLimit(endpoint, limit))
	}
	o.limiter = ratelimit.New(cfg.RateLimit, limiterOpts...)

	if cfg.CleanupInterval > 0 {
		go o.janitor(cfg.CleanupInterval)
	} else {
		close(o.done)
	}

	o.logger.Debug("Orchestrator ready",
		"max_entries", volatileCfg.MaxEntries,
		"eviction", o.volatile.Policy(),
		"durable", o.durable != nil,
		"default_ttl", cfg.DefaultTTL)

	return o, nil
}

// Invalidate removes every entry whose key contains pattern from both tiers
// and returns the number of entries removed. In-flight fetches are not
// cancelled and may repopulate the cache when they complete.
func (o *Orchestrator) Invalidate(ctx context.Context, pattern string) int {
	removed := o.volatile.Invalidate(pattern)
	if o.durable != nil {
		removed += o.durable.Invalidate(ctx, pattern)
	}
	o.logger.Debug("Invalidated cache entries", "pattern", pattern, "removed", removed)
	return removed
}

// ClearAll empties both tiers and cancels every pending request.
func (o *Orchestrator) ClearAll(ctx context.Context) {
	o.volatile.Clear()
	if o.durable != nil {
		o.durable.Clear(ctx)
	}
	o.CancelAllRequests()
}

// CancelRequest cancels the pending request for key. Callers waiting on it
// get ErrRequestCanceled and the next Fetch for key starts a new request.
func (o *Orchestrator) CancelRequest(key string) bool {
	if !o.dedup.Cancel(key) {
		return false
	}
	o.metrics.Canceled(1)
	o.logger.Debug("Canceled request", "key", key)
	return true
}

// CancelAllRequests cancels every pending request and returns how many were
// cancelled.
func (o *Orchestrator) CancelAllRequests() int {
	n := o.dedup.CancelAll()
	if n > 0 {
		o.metrics.Canceled(n)
		o.logger.Debug("Canceled all requests", "count", n)
	}
	return n
}

// CacheAge returns the time since the volatile entry for key was written.
func (o *Orchestrator) CacheAge(key string) (time.Duration, bool) {
	return o.volatile.Age(key)
}

// IsPending reports whether a request for key is in flight.
func (o *Orchestrator) IsPending(key string) bool {
	return o.dedup.IsPending(key)
}

// SetRateLimits replaces the rate limiter's defaults and overrides. Current
// windows are kept.
func (o *Orchestrator) SetRateLimits(defaults ratelimit.Limit, overrides map[string]ratelimit.Limit) {
	o.limiter.Configure(defaults, overrides)
	o.logger.Info("Rate limits updated", "max_requests", defaults.MaxRequests, "window", defaults.Window, "overrides", len(overrides))
}

// RateRemaining returns how many requests endpoint may still make in its
// current window.
func (o *Orchestrator) RateRemaining(endpoint string) int {
	return o.limiter.Remaining(endpoint)
}

// ResetRateLimit discards endpoint's window.
func (o *Orchestrator) ResetRateLimit(endpoint string) {
	o.limiter.Reset(endpoint)
}

// Stats describes the orchestrator's current state.
type Stats struct {
	Volatile    cache.Stats
	Durable     *cache.Stats
	DurableKeys int
	Pending     []string
	Endpoints   []EndpointStats
}

// EndpointStats is the rate window state of one endpoint.
type EndpointStats struct {
	Name      string
	Limit     ratelimit.Limit
	Remaining int
}

// Stats returns a snapshot of cache counters, pending keys and rate windows.
func (o *Orchestrator) Stats(ctx context.Context) Stats {
	stats := Stats{
		Volatile: o.volatile.Stats(),
		Pending:  o.dedup.Keys(),
	}
	if o.durable != nil {
		ds := o.durable.Stats()
		stats.Durable = &ds
		stats.DurableKeys = len(o.durable.Keys(ctx))
	}
	for _, name := range o.limiter.Endpoints() {
		stats.Endpoints = append(stats.Endpoints, EndpointStats{
			Name:      name,
			Limit:     o.limiter.Limit(name),
			Remaining: o.limiter.Remaining(name),
		})
	}
	return stats
}

// Teardown empties both tiers and cancels pending requests. It leaves the
// orchestrator usable.
func (o *Orchestrator) Teardown(ctx context.Context) {
	o.ClearAll(ctx)
	o.limiter.ResetAll()
}

// Close stops the janitor and cancels pending requests. Durable entries are
// kept and the store stays open.
func (o *Orchestrator) Close() error {
	o.closeOnce.Do(func() {
		o.closed.Store(true)
		close(o.stop)
		<-o.done

		o.CancelAllRequests()
		if o.durable != nil {
			o.durable.Close()
		}
		o.logger.Debug("Orchestrator closed")
	})
	return nil
}

// janitor periodically removes expired volatile entries.
func (o *Orchestrator) janitor(interval time.Duration) {
	defer close(o.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := o.volatile.Prune(); n > 0 {
				o.logger.Debug("Pruned expired entries", "count", n)
			}
		case <-o.stop:
			return
		}
	}
}
