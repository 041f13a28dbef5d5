package main

import (
	"context"
	"fmt"

	"github.com/MarcoPoloResearchLab/corkboard/internal/config"
	"github.com/MarcoPoloResearchLab/corkboard/internal/database"
	"github.com/MarcoPoloResearchLab/corkboard/internal/kvstore"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// openStore builds the configured backend. The returned close function releases
// the store and whatever connection it was built on.
func openStore(ctx context.Context, cfg config.AppConfig, logger *zap.Logger) (kvstore.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		store := kvstore.NewMemoryStore()
		return store, func() { closeQuietly(logger, "memory store", store.Close) }, nil

	case config.StoreDriverSQLite:
		db, err := database.OpenSQLite(cfg.DatabasePath, logger.Named("database"))
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		store, err := kvstore.NewSQLiteStore(db)
		if err != nil {
			_ = sqlDB.Close()
			return nil, nil, err
		}
		return store, func() {
			closeQuietly(logger, "sqlite store", store.Close)
			closeQuietly(logger, "sqlite database", sqlDB.Close)
		}, nil

	case config.StoreDriverPebble:
		store, err := kvstore.OpenPebble(cfg.PebblePath, nil)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { closeQuietly(logger, "pebble store", store.Close) }, nil

	case config.StoreDriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddress, err)
		}
		store, err := kvstore.NewRedisStore(ctx, kvstore.RedisStoreConfig{
			Client:    client,
			KeyPrefix: cfg.RedisKeyPrefix,
			Logger:    logger.Named("redis"),
		})
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return store, func() {
			closeQuietly(logger, "redis store", store.Close)
			closeQuietly(logger, "redis client", client.Close)
		}, nil
	}
	return nil, nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
}

func closeQuietly(logger *zap.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logger.Warn("close failed", zap.String("resource", name), zap.Error(err))
	}
}
