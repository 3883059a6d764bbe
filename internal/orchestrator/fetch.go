package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// WorkFunc fetches the value for a key from the backend. ctx is the
// request's cancellation token: it is done once the request is cancelled or
// has settled, and carries the values of the first caller's context.
type WorkFunc[T any] func(ctx context.Context) (T, error)

// Cache result span attribute values.
const (
	resultVolatile = "volatile"
	resultDurable  = "durable"
	resultMiss     = "miss"
)

// Fetch returns the value for key, from the volatile tier, the durable tier
// when Persist is set, or by running work. Concurrent fetches of a key that
// is not cached share one invocation of work; the first caller's options
// decide how its result is stored.
//
// A rate-limited fetch fails with a *RateLimitError before anything else
// happens. Errors from work are returned unchanged and nothing is cached.
// Results are written back from within the shared invocation, so a fetch
// cancelled with CancelRequest still leaves the cache populated once work
// completes.
func Fetch[T any](ctx context.Context, o *Orchestrator, key string, work WorkFunc[T], opts ...FetchOption) (T, error) {
	var zero T
	if o.closed.Load() {
		return zero, ErrClosed
	}

	fo := o.fetchOptions(opts)

	ctx, span := o.tracer.Start(ctx, "orchestrator.Fetch",
		trace.WithAttributes(
			attribute.String("cache.key", key),
			attribute.Bool("cache.persist", fo.persist),
		))
	defer span.End()

	if fo.endpoint != "" && !o.limiter.Allow(fo.endpoint) {
		o.metrics.RateLimited(fo.endpoint)
		err := &RateLimitError{Endpoint: fo.endpoint, RetryAfter: o.limiter.RetryAfter(fo.endpoint)}
		span.SetStatus(codes.Error, err.Error())
		o.logger.Debug("Fetch rejected by rate limiter", "key", key, "endpoint", fo.endpoint)
		return zero, err
	}

	if !fo.skipCache {
		if v, ok := o.volatile.Get(key); ok {
			o.metrics.CacheHit(resultVolatile)
			span.SetAttributes(attribute.String("cache.result", resultVolatile))
			return as[T](key, v)
		}

		if fo.persist && o.durable != nil {
			if v, ok := loadDurable[T](ctx, o, key, fo); ok {
				o.volatile.Set(key, v, fo.ttl)
				o.metrics.CacheHit(resultDurable)
				span.SetAttributes(attribute.String("cache.result", resultDurable))
				return v, nil
			}
		}
	}

	o.metrics.CacheMiss()
	span.SetAttributes(attribute.String("cache.result", resultMiss))

	v, shared, err := o.dedup.Execute(ctx, key, func(opCtx context.Context) (any, error) {
		start := time.Now()
		v, err := work(opCtx)
		o.metrics.WorkCompleted(time.Since(start), err)
		if err != nil {
			return nil, err
		}
		o.writeBack(opCtx, key, v, fo)
		return v, nil
	})

	span.SetAttributes(attribute.Bool("dedup.shared", shared))
	if shared {
		o.metrics.Deduplicated()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, ErrRequestCanceled) {
			o.logger.Debug("Fetch canceled", "key", key)
		}
		return zero, err
	}
	return as[T](key, v)
}

// Prefetch fetches key to warm the caches. It never fails: errors are
// logged and counted, and the caller is not told about them.
func Prefetch[T any](ctx context.Context, o *Orchestrator, key string, work WorkFunc[T], opts ...FetchOption) {
	if _, err := Fetch(ctx, o, key, work, opts...); err != nil {
		o.metrics.PrefetchFailed()
		o.logger.Warn("Prefetch failed", "key", key, "err", err)
	}
}

func (o *Orchestrator) writeBack(ctx context.Context, key string, v any, fo fetchOptions) {
	o.volatile.Set(key, v, fo.ttl)
	if fo.persist && o.durable != nil {
		// The request token is done once the caller cancels; the write must
		// still happen.
		o.durable.Set(context.WithoutCancel(ctx), key, v, fo.ttl)
	}
}

// loadDurable decodes the durable entry for key. An interface T cannot be
// decoded into, so it needs DecodeAs; otherwise the entry is ignored and the
// fetch falls through to work.
func loadDurable[T any](ctx context.Context, o *Orchestrator, key string, fo fetchOptions) (T, bool) {
	var zero T
	if fo.decode != nil {
		ptr := fo.decode()
		if !o.durable.Get(ctx, key, ptr) {
			return zero, false
		}
		v, err := as[T](key, reflect.ValueOf(ptr).Elem().Interface())
		if err != nil {
			o.logger.Warn("Durable entry has the wrong type", "key", key, "err", err)
			return zero, false
		}
		return v, true
	}

	if reflect.TypeFor[T]().Kind() == reflect.Interface {
		return zero, false
	}
	var v T
	if !o.durable.Get(ctx, key, &v) {
		return zero, false
	}
	return v, true
}

// as converts a cached or shared value to T. A nil value is T's zero value.
func as[T any](key string, v any) (T, error) {
	var zero T
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %q holds %T, want %T", ErrTypeMismatch, key, v, zero)
	}
	return t, nil
}
