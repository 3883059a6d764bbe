package orchestrator

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// WarmupConfig bounds Warmup.
type WarmupConfig struct {
	Concurrency int     // parallel fetches, default 4
	Rate        float64 // fetches per second, 0 for unlimited
}

// WarmupRequest is one key to load during Warmup.
type WarmupRequest struct {
	Key     string
	Work    WorkFunc[any]
	Options []FetchOption
}

// WarmupResult summarizes a Warmup run.
type WarmupResult struct {
	Loaded   int
	Failed   map[string]error
	Duration time.Duration
}

// Warmup fetches every request with bounded concurrency, paced by the
// configured rate. Failures are collected, not returned; Warmup stops early
// only when ctx ends.
func (o *Orchestrator) Warmup(ctx context.Context, reqs []WarmupRequest) WarmupResult {
	start := time.Now()
	result := WarmupResult{Failed: make(map[string]error)}

	concurrency := o.cfg.Warmup.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	var limiter *rate.Limiter
	if o.cfg.Warmup.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(o.cfg.Warmup.Rate), 1)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, req := range reqs {
		if limiter != nil {
			if err := limiter.Wait(gctx); err != nil {
				break
			}
		}
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			_, err := Fetch(gctx, o, req.Key, req.Work, req.Options...)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed[req.Key] = err
				return nil
			}
			result.Loaded++
			return nil
		})
	}
	_ = g.Wait()

	result.Duration = time.Since(start)
	o.logger.Info("Cache warmup complete",
		"loaded", result.Loaded,
		"failed", len(result.Failed),
		"duration", result.Duration)
	return result
}
