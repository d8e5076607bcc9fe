package control

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vietddude/outbox/internal/core/config"
	redisclient "github.com/vietddude/outbox/internal/infra/redis"
	"github.com/vietddude/outbox/internal/infra/storage"
	"github.com/vietddude/outbox/internal/infra/storage/memory"
	"github.com/vietddude/outbox/internal/infra/storage/postgres"
	"github.com/vietddude/outbox/internal/infra/storage/sqlite"
)

// healthChecker is implemented by stores that can be pinged.
type healthChecker interface {
	Health(ctx context.Context) error
}

// OpenStore opens the durable store selected by cfg.Driver. The returned
// store is namespaced with cfg.Prefix.
func OpenStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	var store storage.Store

	switch cfg.Driver {
	case config.DriverMemory:
		store = memory.NewMemoryStorage()
		slog.Info("Using Memory storage")

	case config.DriverRedis:
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		store = client
		slog.Info("Using Redis storage")

	case config.DriverPostgres:
		db, err := postgres.NewDB(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(); err != nil {
			_ = db.Close()
			return nil, err
		}
		db.StartMetricsCollector(ctx)
		store = postgres.NewKVRepo(db)
		slog.Info("Using PostgreSQL storage")

	case config.DriverSQLite, "":
		s, err := sqlite.Open(ctx, cfg.SQLite)
		if err != nil {
			return nil, fmt.Errorf("failed to init sqlite: %w", err)
		}
		store = s
		slog.Info("Using SQLite storage", "path", cfg.SQLite.Path)

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}

	return storage.WithPrefix(store, cfg.Prefix), nil
}

// storeHealth returns a ping func for store, or nil when it has none.
func storeHealth(store storage.Store) func(ctx context.Context) error {
	if p, ok := store.(interface{ Unwrap() storage.Store }); ok {
		store = p.Unwrap()
	}
	if h, ok := store.(healthChecker); ok {
		return h.Health
	}
	return nil
}
