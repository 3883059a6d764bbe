// Package lifecycle binds orchestrator requests to the lifetime of their
// owner: a Scope per UI component, and a Manager for the process.
package lifecycle

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/inkfolio/folio/internal/orchestrator"
)

// ErrScopeClosed is returned by requests made through a closed Scope, and
// to callers still waiting when their Scope closes.
var ErrScopeClosed = errors.New("scope closed")

// Scope tracks the keys one component has requested. Closing it releases
// every waiting caller and, unless disabled, cancels the keys still active.
type Scope struct {
	id            string
	o             *orchestrator.Orchestrator
	cancelOnClose bool

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	active map[string]int
	closed bool
}

// ScopeOption configures a Scope.
type ScopeOption func(*Scope)

// WithCancelOnClose sets whether Close cancels the scope's active requests.
// The default is true.
func WithCancelOnClose(cancel bool) ScopeOption {
	return func(s *Scope) { s.cancelOnClose = cancel }
}

// NewScope mounts a scope on o.
func NewScope(o *orchestrator.Orchestrator, opts ...ScopeOption) *Scope {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scope{
		id:            uuid.NewString(),
		o:             o,
		cancelOnClose: true,
		ctx:           ctx,
		cancel:        cancel,
		active:        make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	log.Debug("Scope mounted", "scope", s.id)
	return s
}

// ID identifies the scope in logs.
func (s *Scope) ID() string {
	return s.id
}

// Execute fetches key through the orchestrator, tracking it as active until
// the call returns.
func Execute[T any](ctx context.Context, s *Scope, key string, work orchestrator.WorkFunc[T], opts ...orchestrator.FetchOption) (T, error) {
	var v T
	err := s.track(ctx, key, func(ctx context.Context) error {
		var err error
		v, err = orchestrator.Fetch(ctx, s.o, key, work, opts...)
		return err
	})
	return v, err
}

// Prefetch warms key through the orchestrator. Like orchestrator.Prefetch it
// never fails; a closed scope makes it a no-op.
func Prefetch[T any](ctx context.Context, s *Scope, key string, work orchestrator.WorkFunc[T], opts ...orchestrator.FetchOption) {
	_ = s.track(ctx, key, func(ctx context.Context) error {
		orchestrator.Prefetch(ctx, s.o, key, work, opts...)
		return nil
	})
}

// Invalidate removes cached entries whose key contains pattern.
func (s *Scope) Invalidate(ctx context.Context, pattern string) int {
	return s.o.Invalidate(ctx, pattern)
}

// Cancel cancels the pending request for key.
func (s *Scope) Cancel(key string) bool {
	return s.o.CancelRequest(key)
}

// CacheAge returns the age of the cached entry for key.
func (s *Scope) CacheAge(key string) (time.Duration, bool) {
	return s.o.CacheAge(key)
}

// ActiveKeys returns the sorted keys with a call in progress.
func (s *Scope) ActiveKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.active))
	for key := range s.active {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Closed reports whether Close has been called.
func (s *Scope) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close tears the scope down. Waiting callers return ErrScopeClosed; with
// cancel-on-close every active key is cancelled in the orchestrator. Close
// may be called more than once.
func (s *Scope) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	keys := make([]string, 0, len(s.active))
	for key := range s.active {
		keys = append(keys, key)
	}
	clear(s.active)
	s.mu.Unlock()

	s.cancel()

	canceled := 0
	if s.cancelOnClose {
		for _, key := range keys {
			if s.o.CancelRequest(key) {
				canceled++
			}
		}
	}
	log.Debug("Scope closed", "scope", s.id, "active", len(keys), "canceled", canceled)
}

// track runs fn with key registered as active and ctx bound to the scope.
func (s *Scope) track(ctx context.Context, key string, fn func(context.Context) error) error {
	if err := s.acquire(key); err != nil {
		return err
	}
	defer s.release(key)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	err := fn(ctx)
	if err != nil && s.ctx.Err() != nil &&
		(errors.Is(err, context.Canceled) || errors.Is(err, orchestrator.ErrRequestCanceled)) {
		return ErrScopeClosed
	}
	return err
}

func (s *Scope) acquire(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrScopeClosed
	}
	s.active[key]++
	return nil
}

func (s *Scope) release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.active[key]
	if !ok {
		return
	}
	if n <= 1 {
		delete(s.active, key)
		return
	}
	s.active[key] = n - 1
}

// Run mounts a scope, calls fn with it, and closes the scope however fn
// returns, including by panic.
func Run(ctx context.Context, o *orchestrator.Orchestrator, fn func(context.Context, *Scope) error, opts ...ScopeOption) error {
	s := NewScope(o, opts...)
	defer s.Close()

	return fn(ctx, s)
}
