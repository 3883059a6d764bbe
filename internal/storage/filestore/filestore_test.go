package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkfolio/folio/internal/storage"
)

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Set(ctx, "folio_cache:novel:1", []byte("one")))

	got, found, err := s.Get(ctx, "folio_cache:novel:1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("one"), got)

	_, found, err = s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStoreOverwrite(t *testing.T) {
	ctx := context.Background()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Set(ctx, "k", []byte("v1")))
	require.NoError(t, s.Set(ctx, "k", []byte("v2")))

	got, _, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)

	keys, err := s.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"k"}, keys)
}

func TestStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "a", []byte("1")))
	require.NoError(t, s.Set(ctx, "b", []byte("2")))
	require.NoError(t, s.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	got, found, err := reopened.Get(ctx, "b")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("2"), got)
}

func TestStoreKeysByPrefix(t *testing.T) {
	ctx := context.Background()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	for _, k := range []string{"ns:b", "ns:a", "other:c"} {
		require.NoError(t, s.Set(ctx, k, []byte(k)))
	}

	keys, err := s.Keys(ctx, "ns:")
	require.NoError(t, err)
	assert.Equal(t, []string{"ns:a", "ns:b"}, keys)
}

func TestStoreDeleteMany(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, s.Set(ctx, k, []byte(k)))
	}

	require.NoError(t, storage.DeleteAll(ctx, s, []string{"a", "c", "missing"}))

	keys, err := s.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, keys)

	_, err = os.Stat(filepath.Join(dir, fileName("a")))
	assert.True(t, os.IsNotExist(err), "entry file should be removed")
}

func TestStoreMissingFileIsMiss(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Set(ctx, "k", []byte("v")))
	require.NoError(t, os.Remove(filepath.Join(dir, fileName("k"))))

	_, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStoreCorruptIndexStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, indexFile), []byte("garbage"), 0o644))

	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	keys, err := s.Keys(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestStoreClosed(t *testing.T) {
	ctx := context.Background()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Set(ctx, "k", nil), storage.ErrClosed)
	_, _, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, storage.ErrClosed)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}
