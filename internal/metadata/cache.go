package metadata

import (
	"context"
	"encoding/json"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"pulse/internal/counters"
	"pulse/internal/registry"
	"pulse/pkg/logging"
)

// SnapshotCache fronts the counter read path. Implementations must support
// active invalidation; TTL expiry alone does not satisfy the read-after-write
// contract.
type SnapshotCache interface {
	Get(ctx context.Context, ref registry.ContentRef) (counters.Snapshot, bool)
	Set(ctx context.Context, ref registry.ContentRef, snap counters.Snapshot)
	Invalidate(ctx context.Context, ref registry.ContentRef)
}

const cacheTTL = 5 * time.Minute

// RedisCache stores counter snapshots in Redis, keyed per content item so a
// mutation can invalidate exactly the keys it touched. Cache errors degrade
// to a database read, never to a request failure.
type RedisCache struct {
	client *goredis.Client
	logger logging.Logger
}

func NewRedisCache(client *goredis.Client, logger logging.Logger) *RedisCache {
	return &RedisCache{client: client, logger: logger}
}

func cacheKey(ref registry.ContentRef) string {
	return "engagement:counters:" + ref.Room()
}

func (c *RedisCache) Get(ctx context.Context, ref registry.ContentRef) (counters.Snapshot, bool) {
	raw, err := c.client.Get(ctx, cacheKey(ref)).Bytes()
	if err != nil {
		if err != goredis.Nil {
			c.logger.WithError(err).WithField("ref", ref.String()).Warn("Counter cache read failed")
		}
		return counters.Snapshot{}, false
	}

	var snap counters.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		c.logger.WithError(err).WithField("ref", ref.String()).Warn("Counter cache entry corrupt")
		return counters.Snapshot{}, false
	}
	return snap, true
}

func (c *RedisCache) Set(ctx context.Context, ref registry.ContentRef, snap counters.Snapshot) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(ref), raw, cacheTTL).Err(); err != nil {
		c.logger.WithError(err).WithField("ref", ref.String()).Warn("Counter cache write failed")
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, ref registry.ContentRef) {
	if err := c.client.Del(ctx, cacheKey(ref)).Err(); err != nil {
		c.logger.WithError(err).WithField("ref", ref.String()).Warn("Counter cache invalidation failed")
	}
}
