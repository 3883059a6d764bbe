package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) add(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, name)
}

type stubborn struct {
	rec    *recorder
	forced bool
}

func (s *stubborn) Name() string { return "stubborn" }

func (s *stubborn) Shutdown(context.Context) error {
	s.rec.add("stubborn")
	return errors.New("still busy")
}

func (s *stubborn) ForceStop() error {
	s.forced = true
	return nil
}

func TestManagerShutdownOrder(t *testing.T) {
	rec := &recorder{}
	m := NewManager(time.Second)
	for _, name := range []string{"store", "orchestrator", "prefetch"} {
		m.Register(ComponentFunc(name, func(context.Context) error {
			rec.add(name)
			return nil
		}))
	}

	require.NoError(t, m.Shutdown())
	assert.Equal(t, []string{"prefetch", "orchestrator", "store"}, rec.order)

	select {
	case <-m.Done():
	default:
		t.Fatal("Done not closed after Shutdown")
	}
}

func TestManagerForceStop(t *testing.T) {
	rec := &recorder{}
	s := &stubborn{rec: rec}
	m := NewManager(time.Second)
	m.Register(s)

	require.NoError(t, m.Shutdown(), "a successful force stop is not an error")
	assert.True(t, s.forced)
}

func TestManagerCollectsErrors(t *testing.T) {
	m := NewManager(time.Second)
	m.Register(ComponentFunc("a", func(context.Context) error { return errors.New("a failed") }))
	m.Register(ComponentFunc("b", func(context.Context) error { return nil }))

	err := m.Shutdown()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a: a failed")
}

func TestManagerShutdownOnce(t *testing.T) {
	calls := 0
	m := NewManager(0)
	m.Register(ComponentFunc("x", func(context.Context) error {
		calls++
		return nil
	}))
	m.Start()

	require.NoError(t, m.Shutdown())
	require.NoError(t, m.Shutdown())
	m.Wait()
	assert.Equal(t, 1, calls)

	m.Register(ComponentFunc("late", func(context.Context) error {
		t.Error("component registered after shutdown was stopped")
		return nil
	}))
}

func TestManagerShutdownTimeout(t *testing.T) {
	m := NewManager(20 * time.Millisecond)
	m.Register(ComponentFunc("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	err := m.Shutdown()
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type closer struct{ closed bool }

func (c *closer) Close() error {
	c.closed = true
	return nil
}

func TestCloserComponent(t *testing.T) {
	c := &closer{}
	m := NewManager(time.Second)
	m.Register(Closer("store", c))

	require.NoError(t, m.Shutdown())
	assert.True(t, c.closed)
}
