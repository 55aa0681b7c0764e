// Package cache provides the optional redis-backed get-by-id cache for
// record documents. Every write path invalidates the cached entry for the
// same id, so a stale hit can only be as old as the last write.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/recordbase/recordbase/internal/pkg/log"
	"github.com/recordbase/recordbase/internal/platform/config"
)

// RecordCache caches record documents by family and id.
type RecordCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRecordCache connects to redis and returns the cache, or nil when
// caching is disabled or redis is unreachable. A nil cache is a valid
// "caching off" value for the service layer.
func NewRecordCache(ctx context.Context, cfg config.CacheConfig) *RecordCache {
	if !cfg.Enabled {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.Database,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("record cache disabled, redis unreachable: %s", err.Error())
		client.Close()
		return nil
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &RecordCache{client: client, prefix: cfg.Prefix, ttl: ttl}
}

func (c *RecordCache) key(family, id string) string {
	return fmt.Sprintf("%s:record:%s:%s", c.prefix, family, id)
}

// Get returns the cached document for a record id, or a miss. Redis errors
// degrade to a miss.
func (c *RecordCache) Get(ctx context.Context, family, id string) (map[string]interface{}, bool) {
	payload, err := c.client.Get(ctx, c.key(family, id)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Warn("record cache get failed: %s", err.Error())
		}
		return nil, false
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, false
	}
	return doc, true
}

// Set stores a record document. Failures are logged and ignored; the cache
// is an optimization, never a source of truth.
func (c *RecordCache) Set(ctx context.Context, family, id string, doc map[string]interface{}) {
	payload, err := json.Marshal(doc)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key(family, id), payload, c.ttl).Err(); err != nil {
		log.Warn("record cache set failed: %s", err.Error())
	}
}

// Delete invalidates a record's cached document.
func (c *RecordCache) Delete(ctx context.Context, family, id string) {
	if err := c.client.Del(ctx, c.key(family, id)).Err(); err != nil {
		log.Warn("record cache delete failed: %s", err.Error())
	}
}

// Close releases the redis connection.
func (c *RecordCache) Close() error {
	return c.client.Close()
}
