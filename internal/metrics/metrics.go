// Package metrics records operational counters for the request pipeline.
// Implement Recorder to feed another monitoring system; Prometheus and an
// in-memory Basic recorder are provided.
package metrics

import (
	"sync/atomic"
	"time"
)

// Recorder receives events from the orchestrator and the durable cache.
type Recorder interface {
	// CacheHit is called when a fetch is served from the named tier
	// ("volatile" or "durable").
	CacheHit(tier string)

	// CacheMiss is called when neither tier could serve a fetch.
	CacheMiss()

	// Deduplicated is called when a fetch joined an in-flight call.
	Deduplicated()

	// RateLimited is called when admission is denied for endpoint.
	RateLimited(endpoint string)

	// WorkCompleted is called after each work invocation.
	WorkCompleted(duration time.Duration, err error)

	// StorageFault is called when a durable operation fails and is absorbed.
	StorageFault(op string)

	// PrefetchFailed is called when a prefetch error is swallowed.
	PrefetchFailed()

	// Canceled is called with the number of pending calls cancelled.
	Canceled(n int)
}

// Noop is a Recorder that discards everything.
type Noop struct{}

func (Noop) CacheHit(string)                    {}
func (Noop) CacheMiss()                         {}
func (Noop) Deduplicated()                      {}
func (Noop) RateLimited(string)                 {}
func (Noop) WorkCompleted(time.Duration, error) {}
func (Noop) StorageFault(string)                {}
func (Noop) PrefetchFailed()                    {}
func (Noop) Canceled(int)                       {}

// Basic keeps counters in memory. The zero value is ready to use.
type Basic struct {
	VolatileHits   atomic.Int64
	DurableHits    atomic.Int64
	Misses         atomic.Int64
	Shared         atomic.Int64
	Limited        atomic.Int64
	WorkCount      atomic.Int64
	WorkErrors     atomic.Int64
	WorkTotalNanos atomic.Int64
	Faults         atomic.Int64
	Prefetch       atomic.Int64
	Cancellations  atomic.Int64
}

// CacheHit implements Recorder.
func (b *Basic) CacheHit(tier string) {
	if tier == "durable" {
		b.DurableHits.Add(1)
		return
	}
	b.VolatileHits.Add(1)
}

// CacheMiss implements Recorder.
func (b *Basic) CacheMiss() { b.Misses.Add(1) }

// Deduplicated implements Recorder.
func (b *Basic) Deduplicated() { b.Shared.Add(1) }

// RateLimited implements Recorder.
func (b *Basic) RateLimited(string) { b.Limited.Add(1) }

// WorkCompleted implements Recorder.
func (b *Basic) WorkCompleted(duration time.Duration, err error) {
	b.WorkCount.Add(1)
	b.WorkTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.WorkErrors.Add(1)
	}
}

// StorageFault implements Recorder.
func (b *Basic) StorageFault(string) { b.Faults.Add(1) }

// PrefetchFailed implements Recorder.
func (b *Basic) PrefetchFailed() { b.Prefetch.Add(1) }

// Canceled implements Recorder.
func (b *Basic) Canceled(n int) { b.Cancellations.Add(int64(n)) }

// Snapshot returns a copy of the current counters.
func (b *Basic) Snapshot() Snapshot {
	s := Snapshot{
		VolatileHits:   b.VolatileHits.Load(),
		DurableHits:    b.DurableHits.Load(),
		Misses:         b.Misses.Load(),
		Shared:         b.Shared.Load(),
		RateLimited:    b.Limited.Load(),
		WorkCount:      b.WorkCount.Load(),
		WorkErrors:     b.WorkErrors.Load(),
		StorageFaults:  b.Faults.Load(),
		PrefetchFailed: b.Prefetch.Load(),
		Canceled:       b.Cancellations.Load(),
	}
	if s.WorkCount > 0 {
		s.WorkAvg = time.Duration(b.WorkTotalNanos.Load() / s.WorkCount)
	}
	return s
}

// Snapshot is a point-in-time copy of Basic.
type Snapshot struct {
	VolatileHits   int64
	DurableHits    int64
	Misses         int64
	Shared         int64
	RateLimited    int64
	WorkCount      int64
	WorkErrors     int64
	WorkAvg        time.Duration
	StorageFaults  int64
	PrefetchFailed int64
	Canceled       int64
}

// Multi fans events out to several recorders.
type Multi []Recorder

func (m Multi) CacheHit(tier string) {
	for _, r := range m {
		r.CacheHit(tier)
	}
}

func (m Multi) CacheMiss() {
	for _, r := range m {
		r.CacheMiss()
	}
}

func (m Multi) Deduplicated() {
	for _, r := range m {
		r.Deduplicated()
	}
}

func (m Multi) RateLimited(endpoint string) {
	for _, r := range m {
		r.RateLimited(endpoint)
	}
}

func (m Multi) WorkCompleted(d time.Duration, err error) {
	for _, r := range m {
		r.WorkCompleted(d, err)
	}
}

func (m Multi) StorageFault(op string) {
	for _, r := range m {
		r.StorageFault(op)
	}
}

func (m Multi) PrefetchFailed() {
	for _, r := range m {
		r.PrefetchFailed()
	}
}

func (m Multi) Canceled(n int) {
	for _, r := range m {
		r.Canceled(n)
	}
}
