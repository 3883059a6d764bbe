// Package app assembles folio's components from a Config and owns their
// shutdown order.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/inkfolio/folio/internal/backend"
	"github.com/inkfolio/folio/internal/config"
	"github.com/inkfolio/folio/internal/lifecycle"
	"github.com/inkfolio/folio/internal/metrics"
	"github.com/inkfolio/folio/internal/orchestrator"
	"github.com/inkfolio/folio/internal/prefetch"
	"github.com/inkfolio/folio/internal/storage"
)

// App holds the wired components.
type App struct {
	Config       config.Config
	Store        storage.Store // nil when the durable tier is disabled
	Orchestrator *orchestrator.Orchestrator
	Catalog      *backend.Catalog
	Queue        *prefetch.Queue
	Runner       *prefetch.Runner
	Counters     *metrics.Basic
	Registry     *prometheus.Registry
	Lifecycle    *lifecycle.Manager

	metricsAddr net.Addr
}

// Option customizes New.
type Option func(*options)

type options struct {
	dataDir string
	logger  *log.Logger
	store   storage.Store
}

// WithDataDir sets the directory used for durable backends without a path.
func WithDataDir(dir string) Option {
	return func(o *options) { o.dataDir = dir }
}

// WithLogger sets the logger handed to the orchestrator.
func WithLogger(logger *log.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithStore uses store instead of opening the configured backend.
func WithStore(store storage.Store) Option {
	return func(o *options) { o.store = store }
}

// New opens the durable store and builds every component. The prefetch
// workers are started; call Close to stop everything.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.Default()
	}

	store := o.store
	if store == nil && cfg.Durable.Enabled {
		dataDir := o.dataDir
		if dataDir == "" && cfg.Durable.Path == "" {
			dir, err := DataDir()
			if err != nil {
				return nil, err
			}
			dataDir = dir
		}
		s, err := OpenStore(ctx, cfg.Durable, dataDir)
		if err != nil {
			return nil, fmt.Errorf("unable to open %s store: %w", cfg.Durable.Backend, err)
		}
		store = s
	}

	a := &App{
		Config:    cfg,
		Store:     store,
		Counters:  &metrics.Basic{},
		Registry:  prometheus.NewRegistry(),
		Lifecycle: lifecycle.NewManager(lifecycle.DefaultShutdownTimeout),
	}
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rec := metrics.Multi{a.Counters, metrics.NewPrometheus(a.Registry)}

	if store != nil {
		a.Lifecycle.Register(lifecycle.Closer("store", store))
	}

	orch, err := orchestrator.New(cfg.Orchestrator(), store,
		orchestrator.WithLogger(o.logger.WithPrefix("orchestrator")),
		orchestrator.WithMetrics(rec),
	)
	if err != nil {
		_ = a.Lifecycle.Shutdown()
		return nil, err
	}
	a.Orchestrator = orch
	a.Lifecycle.Register(lifecycle.Closer("orchestrator", orch))

	a.Catalog = backend.New(backend.Config{
		Latency:     cfg.Backend.Latency,
		FailureRate: cfg.Backend.FailureRate,
		Seed:        cfg.Backend.Seed,
	})

	a.Queue = prefetch.NewQueue(cfg.Prefetch.QueueSize)
	a.Runner = prefetch.NewRunner(orch, a.Queue, cfg.Prefetch.Workers)
	a.Runner.Start()
	a.Lifecycle.Register(a.Runner)

	return a, nil
}

// Request resolves key to its backend call and the fetch options that go
// with it.
func (a *App) Request(key string) (orchestrator.WorkFunc[any], []orchestrator.FetchOption, error) {
	req, err := a.Catalog.Resolve(key)
	if err != nil {
		return nil, nil, err
	}
	opts := []orchestrator.FetchOption{
		orchestrator.RateLimited(req.Endpoint),
		orchestrator.Persist(),
		orchestrator.DecodeAs(req.New),
	}
	return orchestrator.WorkFunc[any](req.Work), opts, nil
}

// Fetch loads the value behind key through the orchestrator.
func (a *App) Fetch(ctx context.Context, key string, extra ...orchestrator.FetchOption) (any, error) {
	work, opts, err := a.Request(key)
	if err != nil {
		return nil, err
	}
	return orchestrator.Fetch(ctx, a.Orchestrator, key, work, append(opts, extra...)...)
}

// Prefetch queues key for the background workers.
func (a *App) Prefetch(key string, priority bool) error {
	work, opts, err := a.Request(key)
	if err != nil {
		return err
	}
	return a.Queue.Enqueue(prefetch.Job{Key: key, Work: work, Options: opts}, priority)
}

// Warmup loads the configured warmup keys. Unknown keys are reported as
// failures.
func (a *App) Warmup(ctx context.Context) orchestrator.WarmupResult {
	var (
		reqs    []orchestrator.WarmupRequest
		invalid = make(map[string]error)
	)
	for _, key := range a.Config.Warmup.Keys {
		work, opts, err := a.Request(key)
		if err != nil {
			invalid[key] = err
			continue
		}
		reqs = append(reqs, orchestrator.WarmupRequest{Key: key, Work: work, Options: opts})
	}

	res := a.Orchestrator.Warmup(ctx, reqs)
	for key, err := range invalid {
		if res.Failed == nil {
			res.Failed = make(map[string]error)
		}
		res.Failed[key] = err
	}
	return res
}

// ApplyRateLimits replaces the orchestrator's limits with those in cfg.
func (a *App) ApplyRateLimits(cfg config.Config) {
	a.Config.RateLimit = cfg.RateLimit
	a.Orchestrator.SetRateLimits(cfg.DefaultLimit(), cfg.RateLimit.Endpoints)
}

// MetricsHandler serves the Prometheus registry.
func (a *App) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{})
}

// ServeMetrics starts an HTTP server for /metrics on addr. It is shut down
// with the other components.
func (a *App) ServeMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("unable to listen on %s: %w", addr, err)
	}
	a.metricsAddr = ln.Addr()

	mux := http.NewServeMux()
	mux.Handle("/metrics", a.MetricsHandler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server stopped", "err", err)
		}
	}()
	log.Debug("Serving metrics", "addr", a.metricsAddr)

	a.Lifecycle.Register(lifecycle.ComponentFunc("metrics", srv.Shutdown))
	return nil
}

// MetricsAddr returns the address the metrics server listens on, or nil.
func (a *App) MetricsAddr() net.Addr {
	return a.metricsAddr
}

// Close shuts every component down in reverse start order.
func (a *App) Close() error {
	return a.Lifecycle.Shutdown()
}
