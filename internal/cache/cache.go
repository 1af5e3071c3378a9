// Package cache is a Redis read-through cache for generated structured
// records. Records are written once by the external generation step and read
// on every prompt resolution. The cache is optional: every miss or Redis
// error falls back to the store.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/avantifellows/curiosity-coach/internal/record"
)

const keyPrefix = "coach:record:"

// RecordCache caches structured records in Redis with a TTL.
type RecordCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// New connects to Redis and returns a RecordCache.
func New(redisURL string, ttl time.Duration, logger *zap.Logger) (*RecordCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RecordCache{rdb: rdb, ttl: ttl, logger: logger}, nil
}

func key(kind record.Kind, id string) string {
	return keyPrefix + string(kind) + ":" + id
}

// Get returns a cached record, or (nil, false) on miss or Redis failure.
// A nil RecordCache misses everything, so callers don't need to branch on
// whether caching is configured.
func (c *RecordCache) Get(ctx context.Context, kind record.Kind, id string) (*record.Record, bool) {
	if c == nil {
		return nil, false
	}
	data, err := c.rdb.Get(ctx, key(kind, id)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("record cache read failed", zap.String("kind", string(kind)), zap.Error(err))
		}
		return nil, false
	}
	rec, err := record.Decode(kind, data)
	if err != nil {
		c.logger.Warn("record cache held undecodable entry", zap.String("kind", string(kind)), zap.Error(err))
		return nil, false
	}
	return rec, true
}

// Put stores a record. Failures are logged and swallowed; the cache never
// breaks a request.
func (c *RecordCache) Put(ctx context.Context, kind record.Kind, id string, rec *record.Record) {
	if c == nil || rec == nil {
		return
	}
	data, err := json.Marshal(rec.Fields)
	if err != nil {
		c.logger.Warn("record cache marshal failed", zap.Error(err))
		return
	}
	if err := c.rdb.Set(ctx, key(kind, id), data, c.ttl).Err(); err != nil {
		c.logger.Warn("record cache write failed", zap.String("kind", string(kind)), zap.Error(err))
	}
}

// Invalidate drops a cached record, used when the generation step rewrites one.
func (c *RecordCache) Invalidate(ctx context.Context, kind record.Kind, id string) {
	if c == nil {
		return
	}
	if err := c.rdb.Del(ctx, key(kind, id)).Err(); err != nil {
		c.logger.Warn("record cache invalidate failed", zap.String("kind", string(kind)), zap.Error(err))
	}
}

// Close shuts down the Redis connection.
func (c *RecordCache) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}
