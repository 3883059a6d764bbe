package prefetch

import (
	"container/heap"
	"errors"
	"sync"
	"time"

	"github.com/inkfolio/folio/internal/orchestrator"
)

var (
	// ErrQueueFull is returned when the queue is at capacity.
	ErrQueueFull = errors.New("queue is full")

	// ErrQueueClosed is returned when operations are attempted on a closed queue.
	ErrQueueClosed = errors.New("queue is closed")

	// ErrQueueEmpty is returned by Peek on an empty queue.
	ErrQueueEmpty = errors.New("queue is empty")
)

// DefaultQueueSize is used when NewQueue is given a non-positive size.
const DefaultQueueSize = 64

// Job is one key to warm.
type Job struct {
	Key     string
	Work    orchestrator.WorkFunc[any]
	Options []orchestrator.FetchOption
}

// Queue holds pending prefetch jobs. High-priority jobs (user navigation)
// are taken before regular ones, newest first; regular jobs (lookahead) are
// taken in FIFO order. A key is queued at most once.
type Queue struct {
	priorityQueue *priorityQueue
	regularQueue  []Job
	queued        map[string]struct{}
	maxSize       int
	seq           int64

	mu       sync.Mutex
	notEmpty *sync.Cond

	closed bool
	stats  Stats
}

// Stats tracks queue activity.
type Stats struct {
	TotalEnqueued     int64
	TotalDequeued     int64
	TotalDropped      int64
	TotalCoalesced    int64
	HighPriorityCount int64
	CurrentSize       int
	PeakSize          int
	LastEnqueue       time.Time
	LastDequeue       time.Time
}

// NewQueue creates a queue holding at most maxSize jobs.
func NewQueue(maxSize int) *Queue {
	if maxSize <= 0 {
		maxSize = DefaultQueueSize
	}
	q := &Queue{
		priorityQueue: &priorityQueue{},
		regularQueue:  make([]Job, 0, maxSize),
		queued:        make(map[string]struct{}),
		maxSize:       maxSize,
	}
	heap.Init(q.priorityQueue)
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Enqueue adds job. It never blocks: a full queue rejects the job with
// ErrQueueFull. A job whose key is already queued is dropped silently.
func (q *Queue) Enqueue(job Job, priority bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	if _, ok := q.queued[job.Key]; ok {
		q.stats.TotalCoalesced++
		return nil
	}

	if q.size() >= q.maxSize {
		q.stats.TotalDropped++
		return ErrQueueFull
	}

	if priority {
		q.seq++
		heap.Push(q.priorityQueue, &queueItem{job: job, seq: q.seq})
		q.stats.HighPriorityCount++
	} else {
		q.regularQueue = append(q.regularQueue, job)
	}
	q.queued[job.Key] = struct{}{}

	q.stats.TotalEnqueued++
	q.stats.LastEnqueue = time.Now()

	currentSize := q.size()
	if currentSize > q.stats.PeakSize {
		q.stats.PeakSize = currentSize
	}
	q.stats.CurrentSize = currentSize

	q.notEmpty.Signal()
	return nil
}

// Dequeue removes and returns the next job, waiting while the queue is
// empty. It returns ErrQueueClosed once the queue is closed.
func (q *Queue) Dequeue() (Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.size() == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if q.closed {
		return Job{}, ErrQueueClosed
	}

	var job Job
	if q.priorityQueue.Len() > 0 {
		job = heap.Pop(q.priorityQueue).(*queueItem).job
	} else {
		job = q.regularQueue[0]
		q.regularQueue[0] = Job{}
		q.regularQueue = q.regularQueue[1:]
	}
	delete(q.queued, job.Key)

	q.stats.TotalDequeued++
	q.stats.LastDequeue = time.Now()
	q.stats.CurrentSize = q.size()

	return job, nil
}

// Peek returns the next job without removing it.
func (q *Queue) Peek() (Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return Job{}, ErrQueueClosed
	}
	if q.priorityQueue.Len() > 0 {
		return (*q.priorityQueue)[0].job, nil
	}
	if len(q.regularQueue) > 0 {
		return q.regularQueue[0], nil
	}
	return Job{}, ErrQueueEmpty
}

// Size returns the number of queued jobs.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size()
}

// Clear drops every queued job and returns how many there were.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.size()
	q.priorityQueue = &priorityQueue{}
	heap.Init(q.priorityQueue)
	q.regularQueue = q.regularQueue[:0]
	clear(q.queued)
	q.stats.CurrentSize = 0
	return n
}

// Stats returns current queue statistics.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := q.stats
	stats.CurrentSize = q.size()
	return stats
}

// Close stops the queue. Queued jobs are discarded and blocked Dequeue
// calls return ErrQueueClosed.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	q.notEmpty.Broadcast()
	return nil
}

func (q *Queue) size() int {
	return q.priorityQueue.Len() + len(q.regularQueue)
}

type queueItem struct {
	job   Job
	seq   int64
	index int
}

type priorityQueue []*queueItem

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	return pq[i].seq > pq[j].seq
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*pq)
	*pq = append(*pq, item)
}

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*pq = old[:n-1]
	return item
}
