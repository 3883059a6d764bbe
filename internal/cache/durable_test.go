package cache

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/inkfolio/folio/internal/storage"
)

type novel struct {
	ID     int    `json:"id"`
	Title  string `json:"title"`
	Blurb  string `json:"blurb"`
	Rating int    `json:"rating"`
}

// faultyStore fails every operation.
type faultyStore struct{ err error }

func (f faultyStore) Get(context.Context, string) ([]byte, bool, error) { return nil, false, f.err }
func (f faultyStore) Set(context.Context, string, []byte) error         { return f.err }
func (f faultyStore) Delete(context.Context, string) error              { return f.err }
func (f faultyStore) Keys(context.Context, string) ([]string, error)    { return nil, f.err }
func (f faultyStore) Close() error                                      { return nil }

// countingStore records DeleteMany and Delete calls on top of a MemoryStore.
type countingStore struct {
	*storage.MemoryStore
	batches int
	singles int
}

func (c *countingStore) Delete(ctx context.Context, key string) error {
	c.singles++
	return c.MemoryStore.Delete(ctx, key)
}

func (c *countingStore) DeleteMany(ctx context.Context, keys []string) error {
	c.batches++
	return c.MemoryStore.DeleteMany(ctx, keys)
}

// noBatchStore hides MemoryStore.DeleteMany.
type noBatchStore struct {
	inner   *storage.MemoryStore
	singles int
}

func (s *noBatchStore) Get(ctx context.Context, k string) ([]byte, bool, error) {
	return s.inner.Get(ctx, k)
}
func (s *noBatchStore) Set(ctx context.Context, k string, v []byte) error { return s.inner.Set(ctx, k, v) }
func (s *noBatchStore) Delete(ctx context.Context, k string) error {
	s.singles++
	return s.inner.Delete(ctx, k)
}
func (s *noBatchStore) Keys(ctx context.Context, p string) ([]string, error) {
	return s.inner.Keys(ctx, p)
}
func (s *noBatchStore) Close() error { return s.inner.Close() }

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

func newTestDurable(t *testing.T, store storage.Store, now func() time.Time) *DurableCache {
	t.Helper()
	dc, err := NewDurableCache(store, DurableConfig{
		CompressionLevel: 3,
		Now:              now,
		Logger:           quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewDurableCache failed: %v", err)
	}
	t.Cleanup(dc.Close)
	return dc
}

func TestDurableCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	dc := newTestDurable(t, store, nil)

	want := novel{ID: 42, Title: "The Glass Archive", Rating: 5}
	dc.Set(ctx, "novel:42", want, time.Minute)

	keys, _ := store.Keys(ctx, "")
	if len(keys) != 1 || keys[0] != DefaultNamespace+"novel:42" {
		t.Fatalf("stored keys = %v, want namespaced key", keys)
	}

	var got novel
	if !dc.Get(ctx, "novel:42", &got) {
		t.Fatal("Get failed: key not found")
	}
	if got != want {
		t.Errorf("Get = %+v, want %+v", got, want)
	}
}

func TestDurableCache_SurvivesNewInstance(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	first := newTestDurable(t, store, nil)
	first.Set(ctx, "x", []string{"a", "b"}, time.Minute)

	second := newTestDurable(t, store, nil)
	var got []string
	if !second.Get(ctx, "x", &got) {
		t.Fatal("entry did not survive a new cache instance")
	}
	if len(got) != 2 || got[1] != "b" {
		t.Errorf("Get = %v", got)
	}
}

func TestDurableCache_Expiry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := storage.NewMemoryStore()
	dc := newTestDurable(t, store, clock.Now)

	dc.Set(ctx, "k", 1, time.Second)
	clock.Advance(1001 * time.Millisecond)

	var v int
	if dc.Get(ctx, "k", &v) {
		t.Fatal("expired entry returned a hit")
	}
	if keys, _ := store.Keys(ctx, ""); len(keys) != 0 {
		t.Errorf("expired entry not removed: %v", keys)
	}
}

func TestDurableCache_LargeValuesCompressed(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	dc := newTestDurable(t, store, nil)

	want := novel{ID: 1, Blurb: strings.Repeat("a long winding blurb ", 200)}
	dc.Set(ctx, "novel:1", want, time.Minute)

	raw, _, _ := store.Get(ctx, DefaultNamespace+"novel:1")
	if raw[0] != formatZstd {
		t.Errorf("header = %q, want zstd", raw[0])
	}
	if len(raw) >= len(want.Blurb) {
		t.Errorf("record not compressed: %d bytes", len(raw))
	}

	var got novel
	if !dc.Get(ctx, "novel:1", &got) || got.Blurb != want.Blurb {
		t.Error("compressed record did not round trip")
	}
}

func TestDurableCache_CorruptEntryDropped(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	dc := newTestDurable(t, store, nil)

	_ = store.Set(ctx, DefaultNamespace+"bad", []byte("jnot json"))

	var v novel
	if dc.Get(ctx, "bad", &v) {
		t.Fatal("corrupt entry returned a hit")
	}
	if _, found, _ := store.Get(ctx, DefaultNamespace+"bad"); found {
		t.Error("corrupt entry was not deleted")
	}
	if dc.Stats().Faults != 1 {
		t.Errorf("Faults = %d, want 1", dc.Stats().Faults)
	}
}

func TestDurableCache_TypeMismatchDropped(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	dc := newTestDurable(t, store, nil)

	dc.Set(ctx, "k", "a string", time.Minute)

	var v novel
	if dc.Get(ctx, "k", &v) {
		t.Fatal("value of the wrong shape returned a hit")
	}
	if _, found, _ := store.Get(ctx, DefaultNamespace+"k"); found {
		t.Error("undecodable entry was not deleted")
	}
}

func TestDurableCache_StorageFaultIsMiss(t *testing.T) {
	ctx := context.Background()
	dc := newTestDurable(t, faultyStore{err: errors.New("disk full")}, nil)

	dc.Set(ctx, "k", 1, time.Minute)

	var v int
	if dc.Get(ctx, "k", &v) {
		t.Fatal("Get succeeded against a failing store")
	}
	if _, ok := dc.Age(ctx, "k"); ok {
		t.Error("Age succeeded against a failing store")
	}
	if n := dc.Invalidate(ctx, "k"); n != 0 {
		t.Errorf("Invalidate = %d, want 0", n)
	}
	dc.Clear(ctx)

	stats := dc.Stats()
	if stats.Faults < 4 {
		t.Errorf("Faults = %d, want at least 4", stats.Faults)
	}
}

func TestDurableCache_InvalidateBatches(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{MemoryStore: storage.NewMemoryStore()}
	dc := newTestDurable(t, store, nil)

	dc.Set(ctx, "novel:1", 1, time.Minute)
	dc.Set(ctx, "novel:1:chapters", 2, time.Minute)
	dc.Set(ctx, "user:1", 3, time.Minute)
	_ = store.MemoryStore.Set(ctx, "other:novel:1", []byte("foreign"))

	if n := dc.Invalidate(ctx, "novel:1"); n != 2 {
		t.Errorf("Invalidate = %d, want 2", n)
	}
	if store.batches != 1 || store.singles != 0 {
		t.Errorf("batches/singles = %d/%d, want 1/0", store.batches, store.singles)
	}

	var v int
	if !dc.Get(ctx, "user:1", &v) {
		t.Error("user:1 should not have been invalidated")
	}
	if _, found, _ := store.MemoryStore.Get(ctx, "other:novel:1"); !found {
		t.Error("keys outside the namespace must not be touched")
	}
}

func TestDurableCache_InvalidateWithoutBatchSupport(t *testing.T) {
	ctx := context.Background()
	store := &noBatchStore{inner: storage.NewMemoryStore()}
	dc := newTestDurable(t, store, nil)

	dc.Set(ctx, "a:1", 1, time.Minute)
	dc.Set(ctx, "a:2", 2, time.Minute)

	if n := dc.Invalidate(ctx, "a:"); n != 2 {
		t.Errorf("Invalidate = %d, want 2", n)
	}
	if store.singles != 2 {
		t.Errorf("singles = %d, want 2", store.singles)
	}
}

func TestDurableCache_AgeAndKeys(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	dc := newTestDurable(t, storage.NewMemoryStore(), clock.Now)

	dc.Set(ctx, "b", 1, time.Minute)
	dc.Set(ctx, "a", 2, time.Minute)
	clock.Advance(3 * time.Second)

	age, ok := dc.Age(ctx, "a")
	if !ok || age != 3*time.Second {
		t.Errorf("Age = %v, %v; want 3s", age, ok)
	}

	keys := dc.Keys(ctx)
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("Keys = %v, want [a b]", keys)
	}

	dc.Clear(ctx)
	if keys := dc.Keys(ctx); len(keys) != 0 {
		t.Errorf("Keys after Clear = %v", keys)
	}
}
