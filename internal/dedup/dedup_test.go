package dedup

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type record struct{ ID int }

type result struct {
	v      any
	shared bool
	err    error
}

// blockingWork returns work that signals started and waits for release.
func blockingWork(calls *atomic.Int32, started chan<- struct{}, release <-chan struct{}, v any) WorkFunc {
	return func(ctx context.Context) (any, error) {
		calls.Add(1)
		started <- struct{}{}
		<-release
		return v, nil
	}
}

func TestDeduplicator_ConcurrentCallsShareOneInvocation(t *testing.T) {
	d := New()
	var calls atomic.Int32
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	want := &record{ID: 1}
	work := blockingWork(&calls, started, release, want)

	results := make(chan result, 2)
	run := func() {
		v, shared, err := d.Execute(context.Background(), "novel:1", work)
		results <- result{v, shared, err}
	}

	go run()
	<-started
	go run()

	// Give the second caller time to join before the work completes
	time.Sleep(50 * time.Millisecond)
	close(release)

	var sharedCount int
	for i := 0; i < 2; i++ {
		r := <-results
		if r.err != nil {
			t.Fatalf("Execute failed: %v", r.err)
		}
		if r.v != want {
			t.Errorf("caller %d got %v, want the same *record", i, r.v)
		}
		if r.shared {
			sharedCount++
		}
	}

	if calls.Load() != 1 {
		t.Errorf("work invoked %d times, want 1", calls.Load())
	}
	if sharedCount != 1 {
		t.Errorf("shared callers = %d, want 1", sharedCount)
	}
	if d.Pending() != 0 {
		t.Errorf("Pending = %d after settle, want 0", d.Pending())
	}
}

func TestDeduplicator_EntryRemovedOnError(t *testing.T) {
	d := New()
	boom := errors.New("boom")

	_, _, err := d.Execute(context.Background(), "k", func(context.Context) (any, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if d.IsPending("k") {
		t.Error("entry not removed after failure")
	}

	// A later call runs the work again
	v, _, err := d.Execute(context.Background(), "k", func(context.Context) (any, error) {
		return 2, nil
	})
	if err != nil || v != 2 {
		t.Errorf("second Execute = %v, %v", v, err)
	}
}

func TestDeduplicator_PanicIsRecovered(t *testing.T) {
	d := New()

	_, _, err := d.Execute(context.Background(), "k", func(context.Context) (any, error) {
		panic("kaboom")
	})

	var pe *PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *PanicError", err)
	}
	if pe.Value != "kaboom" || pe.Key != "k" {
		t.Errorf("PanicError = %+v", pe)
	}
	if d.Pending() != 0 {
		t.Error("entry not removed after panic")
	}
}

func TestDeduplicator_CancelReleasesWaiters(t *testing.T) {
	d := New()
	started := make(chan struct{})
	tokenDone := make(chan struct{})

	errs := make(chan error, 1)
	go func() {
		_, _, err := d.Execute(context.Background(), "k", func(ctx context.Context) (any, error) {
			close(started)
			<-ctx.Done()
			close(tokenDone)
			return nil, ctx.Err()
		})
		errs <- err
	}()

	<-started
	if !d.Cancel("k") {
		t.Fatal("Cancel reported no pending operation")
	}

	select {
	case err := <-errs:
		if !errors.Is(err, ErrCanceled) {
			t.Errorf("err = %v, want ErrCanceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter was not released by Cancel")
	}

	select {
	case <-tokenDone:
	case <-time.After(time.Second):
		t.Fatal("work did not observe the cancellation token")
	}

	if d.Cancel("k") {
		t.Error("second Cancel should report nothing pending")
	}
}

func TestDeduplicator_CancelAllThenFreshInvocation(t *testing.T) {
	d := New()
	var calls atomic.Int32
	started := make(chan struct{}, 4)
	release := make(chan struct{})
	defer close(release)

	for _, key := range []string{"a", "b"} {
		go func(key string) {
			_, _, _ = d.Execute(context.Background(), key, blockingWork(&calls, started, release, key))
		}(key)
		<-started
	}

	if n := d.CancelAll(); n != 2 {
		t.Fatalf("CancelAll = %d, want 2", n)
	}
	if d.Pending() != 0 {
		t.Fatalf("Pending = %d after CancelAll", d.Pending())
	}

	fresh := make(chan struct{})
	go func() {
		_, _, _ = d.Execute(context.Background(), "a", func(context.Context) (any, error) {
			calls.Add(1)
			close(fresh)
			return nil, nil
		})
	}()

	select {
	case <-fresh:
	case <-time.After(time.Second):
		t.Fatal("new Execute reused the cancelled operation")
	}
	if calls.Load() != 3 {
		t.Errorf("work invoked %d times, want 3", calls.Load())
	}
}

func TestDeduplicator_LateSettleKeepsNewOperation(t *testing.T) {
	d := New()
	var calls atomic.Int32
	started := make(chan struct{}, 2)
	releaseOld := make(chan struct{})
	releaseNew := make(chan struct{})

	oldDone := make(chan struct{})
	go func() {
		defer close(oldDone)
		_, _, _ = d.Execute(context.Background(), "k", blockingWork(&calls, started, releaseOld, "old"))
	}()
	<-started
	d.Cancel("k")
	<-oldDone

	newResult := make(chan any, 1)
	go func() {
		v, _, _ := d.Execute(context.Background(), "k", blockingWork(&calls, started, releaseNew, "new"))
		newResult <- v
	}()
	<-started

	// The abandoned call finishing must not unregister the new one
	close(releaseOld)
	time.Sleep(20 * time.Millisecond)
	if !d.IsPending("k") {
		t.Fatal("late settle removed the new operation")
	}

	close(releaseNew)
	if v := <-newResult; v != "new" {
		t.Errorf("new caller got %v, want new", v)
	}
}

func TestDeduplicator_CallerContextCancel(t *testing.T) {
	d := New()
	var calls atomic.Int32
	started := make(chan struct{}, 1)
	release := make(chan struct{})

	leader := make(chan result, 1)
	go func() {
		v, s, err := d.Execute(context.Background(), "k", blockingWork(&calls, started, release, 7))
		leader <- result{v, s, err}
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	follower := make(chan error, 1)
	go func() {
		_, _, err := d.Execute(ctx, "k", nil)
		follower <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := <-follower; !errors.Is(err, context.Canceled) {
		t.Errorf("follower err = %v, want context.Canceled", err)
	}

	close(release)
	r := <-leader
	if r.err != nil || r.v != 7 {
		t.Errorf("leader got %v, %v; want 7", r.v, r.err)
	}
}

func TestDeduplicator_LeaderContextDoesNotCancelWork(t *testing.T) {
	d := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v, _, err := d.Execute(ctx, "k", func(workCtx context.Context) (any, error) {
		return workCtx.Err(), nil
	})
	// The caller may observe either its own cancellation or the result
	if err == nil && v != nil {
		t.Errorf("work saw a cancelled token: %v", v)
	}
}

func TestDeduplicator_Keys(t *testing.T) {
	d := New()
	var calls atomic.Int32
	started := make(chan struct{}, 2)
	release := make(chan struct{})

	var wg sync.WaitGroup
	for _, key := range []string{"b", "a"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			_, _, _ = d.Execute(context.Background(), key, blockingWork(&calls, started, release, key))
		}(key)
		<-started
	}

	keys := d.Keys()
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("Keys = %v, want [a b]", keys)
	}

	close(release)
	wg.Wait()
}

func BenchmarkDeduplicator_Execute(b *testing.B) {
	d := New()
	work := func(context.Context) (any, error) { return 1, nil }

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = d.Execute(context.Background(), "k", work)
	}
}
