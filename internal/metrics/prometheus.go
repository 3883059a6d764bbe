package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus exports pipeline events as Prometheus collectors.
type Prometheus struct {
	lookups      *prometheus.CounterVec
	shared       prometheus.Counter
	rateLimited  *prometheus.CounterVec
	workLatency  *prometheus.HistogramVec
	faults       *prometheus.CounterVec
	prefetchFail prometheus.Counter
	canceled     prometheus.Counter
}

// NewPrometheus creates the collectors and registers them with reg. A nil
// reg registers with the default registerer.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	p := &Prometheus{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "folio_cache_lookups_total",
			Help: "Fetch cache lookups by result",
		}, []string{"result"}),
		shared: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "folio_dedup_shared_total",
			Help: "Fetches that joined an in-flight call",
		}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "folio_rate_limited_total",
			Help: "Fetches rejected by the rate limiter",
		}, []string{"endpoint"}),
		workLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "folio_work_duration_seconds",
			Help:    "Latency of work invocations",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "folio_storage_faults_total",
			Help: "Durable cache faults absorbed as misses",
		}, []string{"op"}),
		prefetchFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "folio_prefetch_failures_total",
			Help: "Prefetch errors that were swallowed",
		}),
		canceled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "folio_requests_canceled_total",
			Help: "Pending requests cancelled",
		}),
	}

	reg.MustRegister(
		p.lookups,
		p.shared,
		p.rateLimited,
		p.workLatency,
		p.faults,
		p.prefetchFail,
		p.canceled,
	)
	return p
}

// CacheHit implements Recorder.
func (p *Prometheus) CacheHit(tier string) {
	p.lookups.WithLabelValues(tier).Inc()
}

// CacheMiss implements Recorder.
func (p *Prometheus) CacheMiss() {
	p.lookups.WithLabelValues("miss").Inc()
}

// Deduplicated implements Recorder.
func (p *Prometheus) Deduplicated() {
	p.shared.Inc()
}

// RateLimited implements Recorder.
func (p *Prometheus) RateLimited(endpoint string) {
	p.rateLimited.WithLabelValues(endpoint).Inc()
}

// WorkCompleted implements Recorder.
func (p *Prometheus) WorkCompleted(d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	p.workLatency.WithLabelValues(status).Observe(d.Seconds())
}

// StorageFault implements Recorder.
func (p *Prometheus) StorageFault(op string) {
	p.faults.WithLabelValues(op).Inc()
}

// PrefetchFailed implements Recorder.
func (p *Prometheus) PrefetchFailed() {
	p.prefetchFail.Inc()
}

// Canceled implements Recorder.
func (p *Prometheus) Canceled(n int) {
	p.canceled.Add(float64(n))
}
