// Package redisstore implements storage.Store on Redis.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"github.com/inkfolio/folio/internal/storage"
)

const scanCount = 256

// Config holds the Redis connection settings.
type Config struct {
	Addr     string
	DB       int
	Password string
}

// Store keeps entries as plain Redis string values.
type Store struct {
	rdb    redis.UniversalClient
	logger *log.Logger
}

var (
	_ storage.Store        = (*Store)(nil)
	_ storage.BatchDeleter = (*Store)(nil)
)

// Open connects to Redis and pings it.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		DB:       cfg.DB,
		Password: cfg.Password,
	})

	s := New(rdb)
	if err := s.Ping(ctx); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing client.
func New(rdb redis.UniversalClient) *Store {
	return &Store{rdb: rdb, logger: log.Default().WithPrefix("redis")}
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	s.logger.Debug("PING ok")
	return nil
}

// Get returns the value under key; redis.Nil is reported as a miss.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("GET %q: %w", key, err)
	}
	return b, true, nil
}

// Set stores value under key without a Redis-side expiry; entry TTLs are
// enforced by the cache envelope.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return storage.ErrEmptyKey
	}
	if err := s.rdb.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("SET %q: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.DeleteMany(ctx, []string{key})
}

// DeleteMany removes keys with a single DEL.
func (s *Store) DeleteMany(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	n, err := s.rdb.Del(ctx, keys...).Result()
	if err != nil {
		return fmt.Errorf("DEL %d keys: %w", len(keys), err)
	}
	s.logger.Debug("DEL", "requested", len(keys), "deleted", n)
	return nil
}

// Keys walks the keyspace with SCAN MATCH prefix*.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.rdb.Scan(ctx, 0, escapeGlob(prefix)+"*", scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("SCAN %q: %w", prefix, err)
	}
	return keys, nil
}

// Close closes the client.
func (s *Store) Close() error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

// escapeGlob quotes the characters SCAN MATCH treats as patterns.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\', '^':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
