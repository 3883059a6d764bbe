// Package storage defines the byte-oriented key/value stores that back the
// durable cache tier.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("storage closed")

	// ErrEmptyKey is returned when a key is blank.
	ErrEmptyKey = errors.New("storage key is required")
)

// Store is a persistent key/value store. A missing key is reported by
// found == false with a nil error.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	// Keys lists every stored key starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	Close() error
}

// BatchDeleter is implemented by stores that can remove many keys in one
// round trip.
type BatchDeleter interface {
	DeleteMany(ctx context.Context, keys []string) error
}

// DeleteAll removes keys from s, batching when s supports it.
func DeleteAll(ctx context.Context, s Store, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if bd, ok := s.(BatchDeleter); ok {
		return bd.DeleteMany(ctx, keys)
	}

	var errs []error
	for _, key := range keys {
		if err := s.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
