package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/904critic-tech/pawnbroker-pro/pkg/logger"
)

// Redis backs the cache with a shared Redis instance so several replicas
// can reuse each other's scrapes.
type Redis struct {
	client *redis.Client
}

func NewRedis(ctx context.Context, addr string, db int) (*Redis, error) {
	const op = "cache.NewRedis"

	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Redis{client: rdb}, nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("cache: redis read failed", slog.String("key", key), logger.Err(err))
		}
		return nil, false
	}
	return data, true
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		slog.Warn("cache: redis write failed", slog.String("key", key), logger.Err(err))
	}
}

func (r *Redis) Close() error {
	return r.client.Close()
}
