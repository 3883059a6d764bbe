package prefetch

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/inkfolio/folio/internal/orchestrator"
)

// DefaultWorkers is used when NewRunner is given a non-positive count.
const DefaultWorkers = 2

// Runner drains a Queue into the orchestrator with a fixed pool of workers.
type Runner struct {
	queue   *Queue
	o       *orchestrator.Orchestrator
	workers int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	processed atomic.Int64
}

// NewRunner creates a runner. Call Start to launch the workers.
func NewRunner(o *orchestrator.Orchestrator, queue *Queue, workers int) *Runner {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		queue:   queue,
		o:       o,
		workers: workers,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the workers. Calling it again has no effect.
func (r *Runner) Start() {
	r.once.Do(func() {
		for i := 0; i < r.workers; i++ {
			r.wg.Add(1)
			go r.work(i)
		}
		log.Debug("Prefetch workers started", "workers", r.workers)
	})
}

// Processed returns how many jobs the workers have run.
func (r *Runner) Processed() int64 {
	return r.processed.Load()
}

// Name implements lifecycle.Component.
func (r *Runner) Name() string {
	return "prefetch"
}

// Shutdown closes the queue and waits for running jobs to return. If ctx
// ends first, running jobs are told to stop waiting.
func (r *Runner) Shutdown(ctx context.Context) error {
	_ = r.queue.Close()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}

func (r *Runner) work(id int) {
	defer r.wg.Done()

	for {
		job, err := r.queue.Dequeue()
		if err != nil {
			return
		}
		orchestrator.Prefetch(r.ctx, r.o, job.Key, job.Work, job.Options...)
		r.processed.Add(1)
		log.Debug("Prefetched", "worker", id, "key", job.Key)
	}
}
