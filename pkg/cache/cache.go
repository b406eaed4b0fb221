package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/904critic-tech/pawnbroker-pro/pkg/logger"
)

// Store is a TTL key-value cache. Implementations never fail a request:
// read errors surface as misses, write errors are logged and dropped.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Close() error
}

// Open builds the store selected by backend: "memory", "sqlite" or "redis".
func Open(ctx context.Context, backend, path, redisAddr string, redisDB int) (Store, error) {
	switch backend {
	case "", "memory":
		return NewMemory(nil), nil
	case "sqlite":
		return NewSQLite(path, nil)
	case "redis":
		return NewRedis(ctx, redisAddr, redisDB)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}

// SearchKey normalizes a query into the sold-listings cache key.
func SearchKey(query string, limit int) string {
	return fmt.Sprintf("search:%s:%d", normalize(query), limit)
}

// EstimateKey normalizes a query into the estimate cache key.
func EstimateKey(query string) string {
	return "estimate:" + normalize(query)
}

// HistoryKey normalizes a query into the price-history cache key.
func HistoryKey(query string) string {
	return "pricehistory:" + normalize(query)
}

func normalize(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

// GetJSON reads key into dst, reporting whether a live entry existed.
func GetJSON(ctx context.Context, s Store, key string, dst any) bool {
	data, ok := s.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		slog.Warn("cache: discarding undecodable entry", slog.String("key", key), logger.Err(err))
		return false
	}
	return true
}

// SetJSON marshals v under key. Marshal failures are logged and dropped.
func SetJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("cache: failed to marshal entry", slog.String("key", key), logger.Err(err))
		return
	}
	s.Set(ctx, key, data, ttl)
}
