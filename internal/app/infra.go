package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ActiveTutorial/gamble-to-depression/internal/config"
	"github.com/ActiveTutorial/gamble-to-depression/internal/db"
	"github.com/ActiveTutorial/gamble-to-depression/internal/logger"
	"github.com/ActiveTutorial/gamble-to-depression/internal/redis"
	"github.com/ActiveTutorial/gamble-to-depression/internal/session"
	"github.com/ActiveTutorial/gamble-to-depression/internal/session/postgres"
)

const cleanupInterval = time.Minute

// Infra holds the long-lived store handle shared by every request.
type Infra struct {
	Store session.Store

	// closers run in reverse order on shutdown
	closers []func() error
}

func setupInfra(ctx context.Context, cfg config.Config) (*Infra, error) {
	opts := session.StoreOptions{
		TTL:        cfg.SessionTTL,
		Timeout:    cfg.StoreTimeout,
		MaxRetries: cfg.SpinMaxRetries,
	}

	infra := &Infra{}

	switch cfg.StoreBackend {
	case config.BackendRedis:
		client, err := redis.New(ctx, redis.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			PoolSize: cfg.RedisPoolSize,
			Timeout:  cfg.StoreTimeout,
		})
		if err != nil {
			return nil, err
		}
		infra.closers = append(infra.closers, client.Close)
		infra.Store = session.NewRedisStore(client.Client, opts)

		logger.Info("redis ready", map[string]any{"addr": cfg.RedisAddr})

	case config.BackendPostgres:
		sqlDB, err := db.Open(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		infra.closers = append(infra.closers, sqlDB.Close)

		if err := db.RunMigrations(sqlDB); err != nil {
			_ = infra.Close()
			return nil, err
		}

		store := postgres.New(sqlDB, opts)
		store.StartCleanupRoutine(cleanupInterval)
		infra.closers = append(infra.closers, store.Close)
		infra.Store = store

		logger.Info("database ready", nil)

	case config.BackendMemory:
		store := session.NewMemoryStore(opts)
		store.StartCleanupRoutine(cleanupInterval)
		infra.closers = append(infra.closers, store.Close)
		infra.Store = store

		logger.Warn("using in-memory session store; balances are lost on restart", nil)

	default:
		return nil, fmt.Errorf("app: unknown store backend %q", cfg.StoreBackend)
	}

	return infra, nil
}

// Close releases everything setupInfra opened.
func (i *Infra) Close() error {
	var errs []error
	for k := len(i.closers) - 1; k >= 0; k-- {
		if err := i.closers[k](); err != nil {
			errs = append(errs, err)
		}
	}
	i.closers = nil
	return errors.Join(errs...)
}
