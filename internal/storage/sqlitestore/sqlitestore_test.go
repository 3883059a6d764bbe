package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Set(ctx, "folio_cache:novel:1", []byte{0x6a, 0x00, 0xff}))

	got, found, err := s.Get(ctx, "folio_cache:novel:1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte{0x6a, 0x00, 0xff}, got)

	_, found, err = s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStoreUpsert(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Set(ctx, "k", []byte("v1")))
	require.NoError(t, s.Set(ctx, "k", []byte("v2")))

	got, _, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))
}

func TestStoreKeysByPrefix(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for _, k := range []string{"ns:b", "ns:a", "nsx:c", "other"} {
		require.NoError(t, s.Set(ctx, k, []byte(k)))
	}

	keys, err := s.Keys(ctx, "ns:")
	require.NoError(t, err)
	assert.Equal(t, []string{"ns:a", "ns:b"}, keys)

	all, err := s.Keys(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestStoreKeysWithLikeMetacharacters(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Set(ctx, "a%b:1", []byte("x")))
	require.NoError(t, s.Set(ctx, "axb:1", []byte("y")))

	keys, err := s.Keys(ctx, "a%b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a%b:1"}, keys)
}

func TestStoreDeleteMany(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	var keys []string
	for i := 0; i < deleteChunk+20; i++ {
		k := fmt.Sprintf("k:%04d", i)
		keys = append(keys, k)
		require.NoError(t, s.Set(ctx, k, []byte("v")))
	}
	require.NoError(t, s.Set(ctx, "keep", []byte("v")))

	require.NoError(t, s.DeleteMany(ctx, keys))

	left, err := s.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"keep"}, left)

	require.NoError(t, s.Delete(ctx, "keep"))
	left, err = s.Keys(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "k", []byte("persisted")))
	require.NoError(t, s.Close())

	reopened, err := Open(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	got, found, err := reopened.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "persisted", string(got))
}

func TestOpenInMemory(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Set(ctx, "k", []byte("v")))
	_, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), " ")
	assert.Error(t, err)
}

func TestApplyMigrationsRecordsApplied(t *testing.T) {
	ctx := context.Background()
	sqlDB, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	defer sqlDB.Close()

	fsys := fstest.MapFS{
		"001_init.sql": {Data: []byte("-- +migrate Up\nCREATE TABLE t (id INTEGER);\n-- +migrate Down\nDROP TABLE t;\n")},
	}

	require.NoError(t, applyMigrations(ctx, sqlDB, fsys))
	// A second run must skip the recorded file instead of failing on CREATE TABLE
	require.NoError(t, applyMigrations(ctx, sqlDB, fsys))

	var count int
	require.NoError(t, sqlDB.QueryRow("SELECT COUNT(*) FROM "+migrationTable).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestExtractUpMigration(t *testing.T) {
	assert.Equal(t, "\nUP\n", extractUpMigration("-- +migrate Up\nUP\n-- +migrate Down\nDOWN"))
	assert.Equal(t, "\nUP", extractUpMigration("-- +migrate Up\nUP"))
	assert.Equal(t, "PLAIN", extractUpMigration("PLAIN"))
}
