package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	gap "github.com/muesli/go-app-paths"

	"github.com/inkfolio/folio/internal/config"
	"github.com/inkfolio/folio/internal/storage"
	"github.com/inkfolio/folio/internal/storage/filestore"
	"github.com/inkfolio/folio/internal/storage/redisstore"
	"github.com/inkfolio/folio/internal/storage/sqlitestore"
)

// DataDir returns the per-user data directory.
func DataDir() (string, error) {
	scope := gap.NewScope(gap.User, "folio")
	dirs, err := scope.DataDirs()
	if err != nil {
		return "", fmt.Errorf("could not find data directory: %w", err)
	}
	if len(dirs) == 0 {
		return "", fmt.Errorf("could not find data directory")
	}
	return dirs[0], nil
}

// OpenStore opens the durable backend named by cfg. An empty cfg.Path is
// resolved against dataDir. It returns a nil store when the durable tier is
// disabled.
func OpenStore(ctx context.Context, cfg config.DurableConfig, dataDir string) (storage.Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Backend {
	case config.BackendMemory:
		return storage.NewMemoryStore(), nil

	case config.BackendRedis:
		return redisstore.Open(ctx, redisstore.Config{
			Addr:     cfg.Redis.Addr,
			DB:       cfg.Redis.DB,
			Password: cfg.Redis.Password,
		})

	case config.BackendSQLite:
		path := cfg.Path
		if path == "" {
			path = filepath.Join(dataDir, "cache.db")
		}
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("unable to create directory: %w", err)
			}
		}
		return sqlitestore.Open(ctx, path)

	case config.BackendFile, "":
		path := cfg.Path
		if path == "" {
			path = filepath.Join(dataDir, "cache")
		}
		return filestore.Open(path)
	}

	return nil, fmt.Errorf("unknown durable backend %q", cfg.Backend)
}
