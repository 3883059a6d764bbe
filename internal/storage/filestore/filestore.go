// Package filestore implements storage.Store with one file per key under a
// directory, plus a gob index mapping keys to files.
package filestore

import (
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/inkfolio/folio/internal/storage"
)

const (
	indexFile = "store.index"
	entryExt  = ".entry"
)

// Store keeps each value in its own file. Writes go to a temp file first and
// are renamed into place.
type Store struct {
	basePath string

	// key -> file name (relative to basePath)
	index map[string]string

	mu     sync.RWMutex
	closed bool
}

var (
	_ storage.Store        = (*Store)(nil)
	_ storage.BatchDeleter = (*Store)(nil)
)

// Open creates basePath if needed and loads the existing index.
func Open(basePath string) (*Store, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	s := &Store{
		basePath: basePath,
		index:    make(map[string]string),
	}

	if err := s.loadIndex(); err != nil {
		// Non-fatal: rebuild from an empty index
		log.Warn("Could not load storage index, starting empty", "path", basePath, "err", err)
		s.index = make(map[string]string)
	}

	return s, nil
}

// Get reads the file stored for key.
func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, false, storage.ErrClosed
	}

	name, ok := s.index[key]
	if !ok {
		return nil, false, nil
	}

	data, err := os.ReadFile(filepath.Join(s.basePath, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", key, err)
	}
	return data, true, nil
}

// Set writes value for key and persists the index.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	if key == "" {
		return storage.ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}

	name := fileName(key)
	if err := writeFile(filepath.Join(s.basePath, name), value); err != nil {
		return fmt.Errorf("failed to write entry file: %w", err)
	}

	if _, ok := s.index[key]; ok {
		return nil
	}
	s.index[key] = name
	return s.saveIndex()
}

// Delete removes key and its file.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.DeleteMany(ctx, []string{key})
}

// DeleteMany removes keys and writes the index once.
func (s *Store) DeleteMany(_ context.Context, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}

	changed := false
	for _, key := range keys {
		name, ok := s.index[key]
		if !ok {
			continue
		}
		if err := os.Remove(filepath.Join(s.basePath, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", key, err)
		}
		delete(s.index, key)
		changed = true
	}

	if !changed {
		return nil
	}
	return s.saveIndex()
}

// Keys returns the sorted keys starting with prefix.
func (s *Store) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrClosed
	}

	keys := make([]string, 0, len(s.index))
	for key := range s.index {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close saves the index. Further calls fail with storage.ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.saveIndex()
}

// Path returns the storage directory.
func (s *Store) Path() string {
	return s.basePath
}

// fileName uses a SHA256 hash of key for the file name.
func fileName(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:16]) + entryExt
}

func writeFile(path string, data []byte) error {
	// Write to temp file first, then rename (atomic on most systems)
	tempPath := path + ".tmp"

	file, err := os.Create(tempPath)
	if err != nil {
		return err
	}

	_, err = file.Write(data)
	closeErr := file.Close()

	if err != nil {
		os.Remove(tempPath)
		return err
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return closeErr
	}

	return os.Rename(tempPath, path)
}

func (s *Store) loadIndex() error {
	file, err := os.Open(filepath.Join(s.basePath, indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil // No index file yet
		}
		return err
	}
	defer file.Close()

	return gob.NewDecoder(file).Decode(&s.index)
}

// saveIndex must be called with the write lock held.
func (s *Store) saveIndex() error {
	indexPath := filepath.Join(s.basePath, indexFile)
	tempPath := indexPath + ".tmp"

	file, err := os.Create(tempPath)
	if err != nil {
		return err
	}

	err = gob.NewEncoder(file).Encode(s.index)
	closeErr := file.Close()

	if err != nil {
		os.Remove(tempPath)
		return err
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return closeErr
	}

	return os.Rename(tempPath, indexPath)
}
