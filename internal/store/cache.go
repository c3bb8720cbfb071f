package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/uvote/uvote-backend/internal/metrics"
	"github.com/uvote/uvote-backend/pkg/kv"
	memkv "github.com/uvote/uvote-backend/pkg/kv/memory"
	rediskv "github.com/uvote/uvote-backend/pkg/kv/redis"
)

// ErrCacheMiss is returned when the key is absent.
var ErrCacheMiss = errors.New("cache miss")

// Cache is a short-TTL JSON cache for market snapshots served by the read
// API. Mutating endpoints invalidate; the engine remains the source of
// truth, so a cold or broken cache only costs latency.
type Cache struct {
	store   kv.Store
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

// MarketKey is the cache key for one market snapshot.
func MarketKey(marketID int64) string {
	return fmt.Sprintf("uv:market:%d", marketID)
}

// NewCache connects to Redis at addr, falling back to an in-process store
// when Redis is unreachable.
func NewCache(addr string, logger *zap.SugaredLogger, m *metrics.Metrics) *Cache {
	rs := rediskv.NewStore(addr)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := rs.Ping(ctx); err != nil {
		if logger != nil {
			logger.Warnw("Redis unavailable; using in-memory cache", "addr", addr, "error", err)
		}
		_ = rs.Close()
		return &Cache{store: memkv.NewStore(), logger: logger, metrics: m}
	}
	return &Cache{store: rs, logger: logger, metrics: m}
}

func (c *Cache) Get(ctx context.Context, key string, dest any) error {
	val, err := c.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			if c.metrics != nil {
				c.metrics.RecordCacheMiss(ctx, key)
			}
			return ErrCacheMiss
		}
		if c.logger != nil {
			c.logger.Errorw("Cache get error", "key", key, "error", err)
		}
		return fmt.Errorf("cache get error: %w", err)
	}
	if c.metrics != nil {
		c.metrics.RecordCacheHit(ctx, key)
	}
	if err := json.Unmarshal(val, dest); err != nil {
		return fmt.Errorf("cache unmarshal error: %w", err)
	}
	return nil
}

func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal error: %w", err)
	}
	if err := c.store.Set(ctx, key, data, ttl); err != nil {
		if c.logger != nil {
			c.logger.Errorw("Cache set error", "key", key, "error", err)
		}
		return fmt.Errorf("cache set error: %w", err)
	}
	return nil
}

func (c *Cache) Invalidate(ctx context.Context, keys ...string) {
	if err := c.store.Del(ctx, keys...); err != nil && c.logger != nil {
		c.logger.Errorw("Cache invalidate error", "keys", keys, "error", err)
	}
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}

func (c *Cache) Close() error {
	return c.store.Close()
}
