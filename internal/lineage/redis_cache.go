package lineage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const cachePrefix = "lineage:"

// RedisCache holds recently built graphs with a TTL
type RedisCache struct {
	redis  *redis.Client
	expiry time.Duration
}

// NewRedisCache creates a cache whose entries live for expiry
func NewRedisCache(redisClient *redis.Client, expiry time.Duration) *RedisCache {
	return &RedisCache{
		redis:  redisClient,
		expiry: expiry,
	}
}

func cacheKey(tenantID, queryID string) string {
	return cachePrefix + tenantID + ":" + queryID
}

// Set stores g under its tenant and query id
func (c *RedisCache) Set(ctx context.Context, g *Graph) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("failed to marshal lineage graph: %w", err)
	}

	key := cacheKey(g.Metadata.TenantID, g.Metadata.QueryID)
	if err := c.redis.Set(ctx, key, data, c.expiry).Err(); err != nil {
		return fmt.Errorf("failed to cache lineage graph: %w", err)
	}
	return nil
}

// Get returns the cached graph. A miss is (nil, false, nil). An entry that no
// longer decodes is evicted and reported as an error.
func (c *RedisCache) Get(ctx context.Context, tenantID, queryID string) (*Graph, bool, error) {
	data, err := c.redis.Get(ctx, cacheKey(tenantID, queryID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cached lineage graph: %w", err)
	}

	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		if delErr := c.Delete(ctx, tenantID, queryID); delErr != nil {
			return nil, false, fmt.Errorf("failed to unmarshal cached lineage graph: %w (evict: %v)", err, delErr)
		}
		return nil, false, fmt.Errorf("failed to unmarshal cached lineage graph: %w", err)
	}
	return &g, true, nil
}

// Delete evicts a cached graph
func (c *RedisCache) Delete(ctx context.Context, tenantID, queryID string) error {
	return c.redis.Del(ctx, cacheKey(tenantID, queryID)).Err()
}
