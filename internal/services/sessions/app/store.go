package server

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pnewnam/Mongo-Tomcat-Sessions/internal/services/sessions/storage"
	"github.com/pnewnam/Mongo-Tomcat-Sessions/internal/services/sessions/storage/redis"
	"github.com/pnewnam/Mongo-Tomcat-Sessions/internal/services/sessions/storage/sqlite"
)

// Supported storage backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// StoreConfig selects and sizes the storage backend.
type StoreConfig struct {
	Backend string

	DBPath          string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PoolWait        time.Duration
	ChunkSize       int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// OpenStore opens the configured backend and ensures it is ready for use.
func OpenStore(ctx context.Context, cfg StoreConfig, logger *slog.Logger) (storage.SessionStore, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendSQLite:
		store, err := sqlite.Open(ctx, cfg.DBPath,
			sqlite.WithPool(sqlite.PoolConfig{
				MaxOpenConns:    cfg.MaxOpenConns,
				MaxIdleConns:    cfg.MaxIdleConns,
				ConnMaxLifetime: cfg.ConnMaxLifetime,
			}),
			sqlite.WithPoolWait(cfg.PoolWait),
			sqlite.WithChunkSize(cfg.ChunkSize),
			sqlite.WithLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("open sqlite session store: %w", err)
		}
		return store, nil
	case BackendRedis:
		opts := []redis.Option{redis.WithPool(cfg.MaxOpenConns, cfg.PoolWait)}
		if cfg.RedisPrefix != "" {
			opts = append(opts, redis.WithPrefix(cfg.RedisPrefix))
		}
		store := redis.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, opts...)
		if err := store.Init(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("open redis session store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}
