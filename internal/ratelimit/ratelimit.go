// Package ratelimit implements fixed-window admission control per named
// endpoint.
package ratelimit

import (
	"sort"
	"sync"
	"time"
)

// Default window settings.
const (
	DefaultMaxRequests = 30
	DefaultWindow      = time.Minute
)

// Limit is the number of requests admitted per window.
type Limit struct {
	MaxRequests int           `yaml:"max_requests" mapstructure:"max_requests"`
	Window      time.Duration `yaml:"window"       mapstructure:"window"`
}

// DefaultLimit returns 30 requests per minute.
func DefaultLimit() Limit {
	return Limit{MaxRequests: DefaultMaxRequests, Window: DefaultWindow}
}

func (l Limit) normalize() Limit {
	if l.MaxRequests <= 0 {
		l.MaxRequests = DefaultMaxRequests
	}
	if l.Window <= 0 {
		l.Window = DefaultWindow
	}
	return l
}

// window is the counter for one endpoint.
type window struct {
	count int
	start time.Time
}

// Limiter counts requests per endpoint in fixed windows. A window starts on
// the first check for an endpoint and restarts on the first check made at
// least Window after it started.
type Limiter struct {
	mu        sync.Mutex
	defaults  Limit
	overrides map[string]Limit
	windows   map[string]*window
	now       func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithEndpointLimit sets a limit for one endpoint.
func WithEndpointLimit(endpoint string, limit Limit) Option {
	return func(l *Limiter) { l.overrides[endpoint] = limit.normalize() }
}

// New creates a limiter applying defaults to endpoints without an override.
func New(defaults Limit, opts ...Option) *Limiter {
	l := &Limiter{
		defaults:  defaults.normalize(),
		overrides: make(map[string]Limit),
		windows:   make(map[string]*window),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow admits a request for endpoint if its window has room, incrementing
// the count. A rejected request does not count.
func (l *Limiter) Allow(endpoint string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	limit := l.limitFor(endpoint)
	w := l.current(endpoint, limit)

	if w.count < limit.MaxRequests {
		w.count++
		return true
	}
	return false
}

// Remaining returns how many requests endpoint may still make in the
// current window. It does not start a window.
func (l *Limiter) Remaining(endpoint string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	limit := l.limitFor(endpoint)
	w, ok := l.windows[endpoint]
	if !ok || l.expired(w, limit) {
		return limit.MaxRequests
	}
	return max(limit.MaxRequests-w.count, 0)
}

// RetryAfter returns the time until endpoint's window restarts, or zero if a
// request would be admitted now.
func (l *Limiter) RetryAfter(endpoint string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	limit := l.limitFor(endpoint)
	w, ok := l.windows[endpoint]
	if !ok || l.expired(w, limit) || w.count < limit.MaxRequests {
		return 0
	}
	return w.start.Add(limit.Window).Sub(l.now())
}

// Reset discards endpoint's window.
func (l *Limiter) Reset(endpoint string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.windows, endpoint)
}

// ResetAll discards every window.
func (l *Limiter) ResetAll() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.windows = make(map[string]*window)
}

// SetLimit overrides the limit for one endpoint. Its current count is kept.
func (l *Limiter) SetLimit(endpoint string, limit Limit) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.overrides[endpoint] = limit.normalize()
}

// Configure replaces the defaults and every override.
func (l *Limiter) Configure(defaults Limit, overrides map[string]Limit) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.defaults = defaults.normalize()
	l.overrides = make(map[string]Limit, len(overrides))
	for endpoint, limit := range overrides {
		l.overrides[endpoint] = limit.normalize()
	}
}

// Limit returns the limit applied to endpoint.
func (l *Limiter) Limit(endpoint string) Limit {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.limitFor(endpoint)
}

// Endpoints returns the sorted names of endpoints with a window.
func (l *Limiter) Endpoints() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	names := make([]string, 0, len(l.windows))
	for name := range l.windows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// limitFor must be called with mu held.
func (l *Limiter) limitFor(endpoint string) Limit {
	if limit, ok := l.overrides[endpoint]; ok {
		return limit
	}
	return l.defaults
}

// current returns endpoint's window, starting a new one if needed. Must be
// called with mu held.
func (l *Limiter) current(endpoint string, limit Limit) *window {
	w, ok := l.windows[endpoint]
	if !ok || l.expired(w, limit) {
		w = &window{start: l.now()}
		l.windows[endpoint] = w
	}
	return w
}

func (l *Limiter) expired(w *window, limit Limit) bool {
	return l.now().Sub(w.start) >= limit.Window
}
