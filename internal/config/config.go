// Package config holds folio's configuration: the file-backed Config loaded
// through viper, and the runtime Env read from environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/inkfolio/folio/internal/cache"
	"github.com/inkfolio/folio/internal/orchestrator"
	"github.com/inkfolio/folio/internal/ratelimit"
)

// Durable backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config is the full folio configuration.
type Config struct {
	Cache     CacheConfig     `yaml:"cache"     mapstructure:"cache"`
	Durable   DurableConfig   `yaml:"durable"   mapstructure:"durable"`
	RateLimit RateLimitConfig `yaml:"ratelimit" mapstructure:"ratelimit"`
	Prefetch  PrefetchConfig  `yaml:"prefetch"  mapstructure:"prefetch"`
	Warmup    WarmupConfig    `yaml:"warmup"    mapstructure:"warmup"`
	Backend   BackendConfig   `yaml:"backend"   mapstructure:"backend"`
	Metrics   MetricsConfig   `yaml:"metrics"   mapstructure:"metrics"`
	Log       LogConfig       `yaml:"log"       mapstructure:"log"`
}

// CacheConfig holds volatile cache settings
type CacheConfig struct {
	// TTL used when a fetch does not set one
	DefaultTTL time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`

	// How often expired entries are pruned, 0 to disable
	CleanupInterval time.Duration `yaml:"cleanup_interval" mapstructure:"cleanup_interval"`

	Volatile VolatileConfig `yaml:"volatile" mapstructure:"volatile"`
}

// VolatileConfig bounds the in-memory tier
type VolatileConfig struct {
	MaxEntries int `yaml:"max_entries" mapstructure:"max_entries"`

	// "fifo" or "lru"
	Eviction string `yaml:"eviction" mapstructure:"eviction"`
}

// DurableConfig holds persistent cache settings
type DurableConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// file, sqlite, redis or memory
	Backend string `yaml:"backend" mapstructure:"backend"`

	// Prefix of every stored key
	Namespace string `yaml:"namespace" mapstructure:"namespace"`

	// Directory (file) or database file (sqlite); defaults to the user data dir
	Path string `yaml:"path" mapstructure:"path"`

	// zstd level, 0 disables compression
	CompressionLevel     int `yaml:"compression_level"     mapstructure:"compression_level"`
	CompressionThreshold int `yaml:"compression_threshold" mapstructure:"compression_threshold"`

	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`
}

// RedisConfig locates the Redis server for the redis backend
type RedisConfig struct {
	Addr     string `yaml:"addr"     mapstructure:"addr"`
	DB       int    `yaml:"db"       mapstructure:"db"`
	Password string `yaml:"password" mapstructure:"password"`
}

// RateLimitConfig holds the default window and per-endpoint overrides
type RateLimitConfig struct {
	MaxRequests int                        `yaml:"max_requests" mapstructure:"max_requests"`
	Window      time.Duration              `yaml:"window"       mapstructure:"window"`
	Endpoints   map[string]ratelimit.Limit `yaml:"endpoints"    mapstructure:"endpoints"`
}

// PrefetchConfig sizes the background prefetch queue
type PrefetchConfig struct {
	Workers   int `yaml:"workers"    mapstructure:"workers"`
	QueueSize int `yaml:"queue_size" mapstructure:"queue_size"`
}

// WarmupConfig controls cache warmup at startup
type WarmupConfig struct {
	Concurrency int      `yaml:"concurrency" mapstructure:"concurrency"`
	Rate        float64  `yaml:"rate"        mapstructure:"rate"`
	Keys        []string `yaml:"keys"        mapstructure:"keys"`
}

// BackendConfig tunes the simulated catalog
type BackendConfig struct {
	Latency     time.Duration `yaml:"latency"      mapstructure:"latency"`
	FailureRate float64       `yaml:"failure_rate" mapstructure:"failure_rate"`
	Seed        uint64        `yaml:"seed"         mapstructure:"seed"`
}

// MetricsConfig exposes Prometheus metrics when Addr is set
type MetricsConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// LogConfig controls the log file
type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
}

// DefaultConfig returns the configuration used when no file sets a value.
func DefaultConfig() Config {
	return Config{
		Cache: CacheConfig{
			DefaultTTL:      orchestrator.TTLMedium,
			CleanupInterval: time.Minute,
			Volatile: VolatileConfig{
				MaxEntries: cache.DefaultMaxEntries,
				Eviction:   string(cache.EvictFIFO),
			},
		},
		Durable: DurableConfig{
			Enabled:              true,
			Backend:              BackendFile,
			Namespace:            cache.DefaultNamespace,
			CompressionLevel:     3,
			CompressionThreshold: cache.DefaultCompressionThreshold,
			Redis: RedisConfig{
				Addr: "localhost:6379",
			},
		},
		RateLimit: RateLimitConfig{
			MaxRequests: ratelimit.DefaultMaxRequests,
			Window:      ratelimit.DefaultWindow,
			Endpoints: map[string]ratelimit.Limit{
				"search": {MaxRequests: 10, Window: time.Minute},
			},
		},
		Prefetch: PrefetchConfig{
			Workers:   2,
			QueueSize: 64,
		},
		Warmup: WarmupConfig{
			Concurrency: 4,
			Rate:        10,
			Keys:        []string{"home:trending"},
		},
		Backend: BackendConfig{
			Latency: 250 * time.Millisecond,
			Seed:    1,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// SetDefaults registers every default with v, so that keys missing from
// the config file still resolve and AutomaticEnv can override them.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("cache.default_ttl", d.Cache.DefaultTTL)
	v.SetDefault("cache.cleanup_interval", d.Cache.CleanupInterval)
	v.SetDefault("cache.volatile.max_entries", d.Cache.Volatile.MaxEntries)
	v.SetDefault("cache.volatile.eviction", d.Cache.Volatile.Eviction)

	v.SetDefault("durable.enabled", d.Durable.Enabled)
	v.SetDefault("durable.backend", d.Durable.Backend)
	v.SetDefault("durable.namespace", d.Durable.Namespace)
	v.SetDefault("durable.path", d.Durable.Path)
	v.SetDefault("durable.compression_level", d.Durable.CompressionLevel)
	v.SetDefault("durable.compression_threshold", d.Durable.CompressionThreshold)
	v.SetDefault("durable.redis.addr", d.Durable.Redis.Addr)
	v.SetDefault("durable.redis.db", d.Durable.Redis.DB)
	v.SetDefault("durable.redis.password", d.Durable.Redis.Password)

	v.SetDefault("ratelimit.max_requests", d.RateLimit.MaxRequests)
	v.SetDefault("ratelimit.window", d.RateLimit.Window)

	v.SetDefault("prefetch.workers", d.Prefetch.Workers)
	v.SetDefault("prefetch.queue_size", d.Prefetch.QueueSize)

	v.SetDefault("warmup.concurrency", d.Warmup.Concurrency)
	v.SetDefault("warmup.rate", d.Warmup.Rate)
	v.SetDefault("warmup.keys", d.Warmup.Keys)

	v.SetDefault("backend.latency", d.Backend.Latency)
	v.SetDefault("backend.failure_rate", d.Backend.FailureRate)
	v.SetDefault("backend.seed", d.Backend.Seed)

	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("log.level", d.Log.Level)
}

// Load decodes v over DefaultConfig and validates the result.
func Load(v *viper.Viper) (Config, error) {
	cfg := DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.Durable.Backend = strings.ToLower(strings.TrimSpace(cfg.Durable.Backend))
	cfg.Durable.Path = ExpandPath(cfg.Durable.Path)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ValidationError describes one invalid setting.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	invalid := func(field, format string, args ...any) {
		errs = append(errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.Cache.DefaultTTL < 0 {
		invalid("cache.default_ttl", "must not be negative, got %s", c.Cache.DefaultTTL)
	}
	if c.Cache.CleanupInterval < 0 {
		invalid("cache.cleanup_interval", "must not be negative, got %s", c.Cache.CleanupInterval)
	}
	if c.Cache.Volatile.MaxEntries < 1 || c.Cache.Volatile.MaxEntries > 100_000 {
		invalid("cache.volatile.max_entries", "must be between 1 and 100000, got %d", c.Cache.Volatile.MaxEntries)
	}
	if _, err := cache.ParseEvictionPolicy(c.Cache.Volatile.Eviction); err != nil {
		invalid("cache.volatile.eviction", "%v", err)
	}

	if c.Durable.Enabled {
		switch c.Durable.Backend {
		case BackendFile, BackendSQLite, BackendMemory:
		case BackendRedis:
			if c.Durable.Redis.Addr == "" {
				invalid("durable.redis.addr", "required for the redis backend")
			}
		default:
			invalid("durable.backend", "must be one of file, sqlite, redis or memory, got %q", c.Durable.Backend)
		}
		if c.Durable.CompressionLevel < 0 || c.Durable.CompressionLevel > 22 {
			invalid("durable.compression_level", "must be between 0 and 22, got %d", c.Durable.CompressionLevel)
		}
	}

	if c.RateLimit.MaxRequests < 1 {
		invalid("ratelimit.max_requests", "must be positive, got %d", c.RateLimit.MaxRequests)
	}
	if c.RateLimit.Window <= 0 {
		invalid("ratelimit.window", "must be positive, got %s", c.RateLimit.Window)
	}
	for name, limit := range c.RateLimit.Endpoints {
		if limit.MaxRequests < 0 || limit.Window < 0 {
			invalid("ratelimit.endpoints."+name, "must not be negative")
		}
	}

	if c.Prefetch.Workers < 0 || c.Prefetch.QueueSize < 0 {
		invalid("prefetch", "workers and queue_size must not be negative")
	}
	if c.Warmup.Rate < 0 {
		invalid("warmup.rate", "must not be negative, got %g", c.Warmup.Rate)
	}
	if c.Backend.FailureRate < 0 || c.Backend.FailureRate > 1 {
		invalid("backend.failure_rate", "must be between 0 and 1, got %g", c.Backend.FailureRate)
	}

	return errors.Join(errs...)
}

// Orchestrator converts the cache, durable and rate limit settings.
func (c Config) Orchestrator() orchestrator.Config {
	eviction, _ := cache.ParseEvictionPolicy(c.Cache.Volatile.Eviction)
	return orchestrator.Config{
		DefaultTTL:      c.Cache.DefaultTTL,
		CleanupInterval: c.Cache.CleanupInterval,
		Volatile: cache.VolatileConfig{
			MaxEntries: c.Cache.Volatile.MaxEntries,
			Eviction:   eviction,
		},
		Durable: cache.DurableConfig{
			Namespace:            c.Durable.Namespace,
			CompressionLevel:     c.Durable.CompressionLevel,
			CompressionThreshold: c.Durable.CompressionThreshold,
		},
		RateLimit: c.DefaultLimit(),
		Endpoints: c.RateLimit.Endpoints,
		Warmup: orchestrator.WarmupConfig{
			Concurrency: c.Warmup.Concurrency,
			Rate:        c.Warmup.Rate,
		},
	}
}

// DefaultLimit is the rate limit applied to endpoints without an override.
func (c Config) DefaultLimit() ratelimit.Limit {
	return ratelimit.Limit{MaxRequests: c.RateLimit.MaxRequests, Window: c.RateLimit.Window}
}

// YAML renders c as a config file.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return path
	}
	return expanded
}
