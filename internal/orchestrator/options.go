package orchestrator

import (
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel/trace"

	"github.com/inkfolio/folio/internal/metrics"
)

// TTL presets.
const (
	TTLShort  = time.Minute
	TTLMedium = 5 * time.Minute
	TTLLong   = 30 * time.Minute
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger used by the orchestrator and its caches.
func WithLogger(logger *log.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(rec metrics.Recorder) Option {
	return func(o *Orchestrator) {
		if rec != nil {
			o.metrics = rec
		}
	}
}

// WithTracer sets the tracer used for Fetch spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithClock overrides the time source of the caches and the rate limiter.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// FetchOption configures a single Fetch.
type FetchOption func(*fetchOptions)

type fetchOptions struct {
	ttl       time.Duration
	skipCache bool
	persist   bool
	endpoint  string
	decode    func() any
}

// WithTTL sets how long the result stays cached. The default is the
// orchestrator's DefaultTTL, TTLMedium unless configured.
func WithTTL(ttl time.Duration) FetchOption {
	return func(o *fetchOptions) { o.ttl = ttl }
}

// SkipCache bypasses both cache reads. The result is still written back.
func SkipCache() FetchOption {
	return func(o *fetchOptions) { o.skipCache = true }
}

// Persist reads from and writes to the durable tier as well.
func Persist() FetchOption {
	return func(o *fetchOptions) { o.persist = true }
}

// RateLimited counts the fetch against endpoint's rate window.
func RateLimited(endpoint string) FetchOption {
	return func(o *fetchOptions) { o.endpoint = endpoint }
}

// DecodeAs sets how a durable entry is decoded when Fetch's type parameter
// is an interface. newFn returns a pointer to a new value of the concrete
// type work produces. Without it such fetches never read the durable tier.
func DecodeAs(newFn func() any) FetchOption {
	return func(o *fetchOptions) { o.decode = newFn }
}

func (o *Orchestrator) fetchOptions(opts []FetchOption) fetchOptions {
	fo := fetchOptions{ttl: o.cfg.DefaultTTL}
	for _, opt := range opts {
		opt(&fo)
	}
	if fo.ttl <= 0 {
		fo.ttl = o.cfg.DefaultTTL
	}
	return fo
}
