package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"vesrates/internal/config"
)

const scanBatch = 100

// Redis is a Cache backed by a redis server.
type Redis struct {
	client *redis.Client
	keys   Keys
	logger zerolog.Logger
}

// NewRedis connects to redis and verifies the connection.
func NewRedis(ctx context.Context, cfg config.CacheConfig, logger zerolog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", cfg.Addr, err)
	}

	return &Redis{
		client: client,
		keys:   Keys{Prefix: cfg.Prefix},
		logger: logger.With().Str("component", "redis_cache").Logger(),
	}, nil
}

// Get implements Cache.
func (r *Redis) Get(ctx context.Context, key string, dst any) (bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	r.logger.Debug().Str("key", key).Msg("cache hit")
	return true, nil
}

// Set implements Cache.
func (r *Redis) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// InvalidateAll deletes every key under the prefix, walking the keyspace
// with SCAN so the server is never blocked.
func (r *Redis) InvalidateAll(ctx context.Context) (int64, error) {
	var (
		cursor  uint64
		deleted int64
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.keys.Pattern(), scanBatch).Result()
		if err != nil {
			return deleted, fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			n, err := r.client.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("redis del: %w", err)
			}
			deleted += n
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	r.logger.Debug().Int64("deleted", deleted).Msg("cache invalidated")
	return deleted, nil
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

var _ Cache = (*Redis)(nil)

// Open returns the cache selected by cfg: redis when enabled and reachable,
// otherwise an in-process cache.
func Open(ctx context.Context, cfg config.CacheConfig, logger zerolog.Logger) Cache {
	if !cfg.Enabled {
		return NewMemory(cfg.Prefix)
	}
	r, err := NewRedis(ctx, cfg, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, falling back to in-process cache")
		return NewMemory(cfg.Prefix)
	}
	return r
}
