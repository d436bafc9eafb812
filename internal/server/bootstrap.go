package server

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/httpstore/internal/cache"
	"github.com/any-hub/httpstore/internal/config"
	"github.com/any-hub/httpstore/internal/kv"
)

// OpenBackend 按配置类型创建键值后端；redis 会在返回前完成一次 PING。
func OpenBackend(ctx context.Context, cfg config.BackendConfig) (kv.Backend, error) {
	switch cfg.Type {
	case config.BackendRedis:
		return kv.NewRedis(ctx, kv.RedisOptions{
			Addr:         cfg.Addr,
			Username:     cfg.Username,
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			DialTimeout:  cfg.DialTimeout.DurationValue(),
			ReadTimeout:  cfg.ReadTimeout.DurationValue(),
			WriteTimeout: cfg.WriteTimeout.DurationValue(),
		})
	case config.BackendLevelDB:
		return kv.OpenLevelDB(cfg.Path)
	case config.BackendMemory, "":
		return kv.OpenMemory()
	case config.BackendDisabled:
		return kv.Disabled{}, nil
	default:
		return nil, fmt.Errorf("backend %s is not supported", cfg.Type)
	}
}

// NewCacheStore 使用 [Store] 配置在 backend 之上构建缓存存储。
func NewCacheStore(cfg config.StoreConfig, backend kv.Backend, logger *logrus.Logger) (*cache.Store, error) {
	return cache.NewStore(backend, cache.Options{
		Keys:              cache.NewKeys(cfg.MetadataKeyPrefix, cfg.DigestKeyPrefix, cfg.LockKey),
		LockTTL:           cfg.LockTTL.DurationValue(),
		LockWait:          cfg.LockWait.DurationValue(),
		LockRetryInterval: cfg.LockRetryInterval.DurationValue(),
		Logger:            logger,
	})
}
