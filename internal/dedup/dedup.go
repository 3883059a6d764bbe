// Package dedup collapses concurrent calls for the same key into a single
// invocation of the underlying work.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrCanceled is returned to callers waiting on an operation that was
// cancelled with Cancel or CancelAll.
var ErrCanceled = errors.New("request canceled")

// WorkFunc performs the deduplicated operation. ctx is the operation's
// cancellation token; it is done once the operation is cancelled or settles.
type WorkFunc func(ctx context.Context) (any, error)

// PanicError is returned when work panics.
type PanicError struct {
	Key   string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("work for %q panicked: %v", e.Key, e.Value)
}

// Deduplicator keeps at most one pending operation per key.
//
// The pending map and the singleflight group always agree: an entry is added
// to both, and removed from both, under mu.
type Deduplicator struct {
	mu      sync.Mutex
	group   singleflight.Group
	pending map[string]*operation
}

type operation struct {
	ctx       context.Context
	cancel    context.CancelFunc
	abandoned chan struct{}
	once      sync.Once
	startedAt time.Time
}

func (op *operation) abandon() {
	op.once.Do(func() {
		close(op.abandoned)
		op.cancel()
	})
}

// New returns an empty Deduplicator.
func New() *Deduplicator {
	return &Deduplicator{pending: make(map[string]*operation)}
}

// Execute runs work for key, or joins the pending operation for key if there
// is one. shared reports whether this caller joined an operation started by
// another caller.
//
// Values carried by ctx flow into the operation, but its cancellation does
// not: a caller whose ctx ends stops waiting with ctx.Err() while the
// operation continues for everyone else.
func (d *Deduplicator) Execute(ctx context.Context, key string, work WorkFunc) (v any, shared bool, err error) {
	d.mu.Lock()
	op, joined := d.pending[key]
	if !joined {
		opCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		op = &operation{
			ctx:       opCtx,
			cancel:    cancel,
			abandoned: make(chan struct{}),
			startedAt: time.Now(),
		}
		d.pending[key] = op
	}
	ch := d.group.DoChan(key, func() (any, error) {
		defer d.settle(key, op)
		return invoke(op.ctx, key, work)
	})
	d.mu.Unlock()

	select {
	case res := <-ch:
		// Work that returned because of Cancel reports the cancellation,
		// not whatever error it produced.
		select {
		case <-op.abandoned:
			return nil, joined, ErrCanceled
		default:
		}
		return res.Val, joined, res.Err
	case <-op.abandoned:
		return nil, joined, ErrCanceled
	case <-ctx.Done():
		return nil, joined, ctx.Err()
	}
}

// Cancel signals the pending operation for key and forgets it. Waiting
// callers return ErrCanceled; the next Execute for key starts fresh.
func (d *Deduplicator) Cancel(key string) bool {
	d.mu.Lock()
	op, ok := d.pending[key]
	if ok {
		d.forget(key)
	}
	d.mu.Unlock()

	if ok {
		op.abandon()
	}
	return ok
}

// CancelAll cancels every pending operation and returns how many there were.
func (d *Deduplicator) CancelAll() int {
	d.mu.Lock()
	ops := make([]*operation, 0, len(d.pending))
	for key, op := range d.pending {
		ops = append(ops, op)
		d.forget(key)
	}
	d.mu.Unlock()

	for _, op := range ops {
		op.abandon()
	}
	return len(ops)
}

// Pending returns the number of in-flight operations.
func (d *Deduplicator) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.pending)
}

// IsPending reports whether an operation is in flight for key.
func (d *Deduplicator) IsPending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := d.pending[key]
	return ok
}

// Keys returns the sorted keys of in-flight operations.
func (d *Deduplicator) Keys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	keys := make([]string, 0, len(d.pending))
	for key := range d.pending {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// settle runs when work returns. It only forgets key if op is still the
// registered operation; a cancelled op may finish after a new one started.
func (d *Deduplicator) settle(key string, op *operation) {
	d.mu.Lock()
	if d.pending[key] == op {
		d.forget(key)
	}
	d.mu.Unlock()

	op.cancel()
}

// forget must be called with mu held.
func (d *Deduplicator) forget(key string) {
	delete(d.pending, key)
	d.group.Forget(key)
}

func invoke(ctx context.Context, key string, work WorkFunc) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Key: key, Value: r, Stack: debug.Stack()}
		}
	}()
	return work(ctx)
}
