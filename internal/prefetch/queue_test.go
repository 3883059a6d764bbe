package prefetch

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/inkfolio/folio/internal/orchestrator"
)

func job(key string) Job {
	return Job{Key: key, Work: func(context.Context) (any, error) { return key, nil }}
}

func TestQueue_BasicOperations(t *testing.T) {
	q := NewQueue(10)
	defer q.Close()

	if size := q.Size(); size != 0 {
		t.Errorf("Expected empty queue, got size %d", size)
	}
	if _, err := q.Peek(); err != ErrQueueEmpty {
		t.Errorf("Expected ErrQueueEmpty, got %v", err)
	}

	if err := q.Enqueue(job("novel:1"), false); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if peeked, err := q.Peek(); err != nil || peeked.Key != "novel:1" {
		t.Errorf("Peek = %v, %v", peeked.Key, err)
	}

	dequeued, err := q.Dequeue()
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if dequeued.Key != "novel:1" {
		t.Errorf("Dequeued wrong job: %s", dequeued.Key)
	}
	if size := q.Size(); size != 0 {
		t.Errorf("Expected empty queue after dequeue, got size %d", size)
	}
}

func TestQueue_PriorityHandling(t *testing.T) {
	q := NewQueue(10)
	defer q.Close()

	for i := 0; i < 3; i++ {
		if err := q.Enqueue(job(fmt.Sprintf("regular-%d", i)), false); err != nil {
			t.Fatalf("Failed to enqueue regular job: %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		if err := q.Enqueue(job(fmt.Sprintf("nav-%d", i)), true); err != nil {
			t.Fatalf("Failed to enqueue priority job: %v", err)
		}
	}

	want := []string{"nav-1", "nav-0", "regular-0", "regular-1", "regular-2"}
	for i, key := range want {
		got, err := q.Dequeue()
		if err != nil {
			t.Fatalf("Dequeue %d failed: %v", i, err)
		}
		if got.Key != key {
			t.Errorf("Dequeue %d = %s, want %s", i, got.Key, key)
		}
	}

	if stats := q.Stats(); stats.HighPriorityCount != 2 || stats.TotalDequeued != 5 {
		t.Errorf("Stats = %+v", stats)
	}
}

func TestQueue_Full(t *testing.T) {
	q := NewQueue(2)
	defer q.Close()

	_ = q.Enqueue(job("a"), false)
	_ = q.Enqueue(job("b"), true)
	if err := q.Enqueue(job("c"), false); err != ErrQueueFull {
		t.Errorf("Expected ErrQueueFull, got %v", err)
	}
	if q.Stats().TotalDropped != 1 {
		t.Errorf("TotalDropped = %d, want 1", q.Stats().TotalDropped)
	}
	if q.Stats().PeakSize != 2 {
		t.Errorf("PeakSize = %d, want 2", q.Stats().PeakSize)
	}
}

func TestQueue_CoalescesQueuedKeys(t *testing.T) {
	q := NewQueue(10)
	defer q.Close()

	_ = q.Enqueue(job("a"), false)
	_ = q.Enqueue(job("a"), true)
	if q.Size() != 1 {
		t.Errorf("Size = %d, want 1", q.Size())
	}

	_, _ = q.Dequeue()
	if err := q.Enqueue(job("a"), false); err != nil || q.Size() != 1 {
		t.Errorf("key should be queueable again after dequeue: %v", err)
	}
	if q.Stats().TotalCoalesced != 1 {
		t.Errorf("TotalCoalesced = %d, want 1", q.Stats().TotalCoalesced)
	}
}

func TestQueue_Clear(t *testing.T) {
	q := NewQueue(10)
	defer q.Close()

	for i := 0; i < 4; i++ {
		_ = q.Enqueue(job(fmt.Sprintf("k%d", i)), i%2 == 0)
	}
	if n := q.Clear(); n != 4 {
		t.Errorf("Clear = %d, want 4", n)
	}
	if q.Size() != 0 {
		t.Errorf("Size after Clear = %d", q.Size())
	}
}

func TestQueue_CloseReleasesDequeue(t *testing.T) {
	q := NewQueue(10)

	errs := make(chan error, 1)
	go func() {
		_, err := q.Dequeue()
		errs <- err
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case err := <-errs:
		if err != ErrQueueClosed {
			t.Errorf("Expected ErrQueueClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue not released by Close")
	}

	if err := q.Enqueue(job("a"), false); err != ErrQueueClosed {
		t.Errorf("Enqueue after Close = %v", err)
	}
}

func TestRunner_PrefetchesIntoCache(t *testing.T) {
	cfg := orchestrator.DefaultConfig()
	cfg.CleanupInterval = 0
	o, err := orchestrator.New(cfg, nil, orchestrator.WithLogger(log.New(io.Discard)))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer o.Close()

	q := NewQueue(10)
	r := NewRunner(o, q, 2)
	r.Start()
	r.Start()

	var calls atomic.Int32
	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("novel:%d:chapters", i)
		_ = q.Enqueue(Job{Key: key, Work: func(context.Context) (any, error) {
			calls.Add(1)
			if key == "novel:2:chapters" {
				return nil, fmt.Errorf("gone")
			}
			return []int{1, 2, 3}, nil
		}}, false)
	}

	deadline := time.Now().Add(2 * time.Second)
	for r.Processed() < 5 {
		if time.Now().After(deadline) {
			t.Fatalf("processed %d jobs, want 5", r.Processed())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, ok := o.CacheAge("novel:0:chapters"); !ok {
		t.Error("prefetched key not cached")
	}
	if _, ok := o.CacheAge("novel:2:chapters"); ok {
		t.Error("failed prefetch was cached")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
	if err := q.Enqueue(job("late"), false); err != ErrQueueClosed {
		t.Errorf("Enqueue after Shutdown = %v", err)
	}
}
