package quota

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
)

// decrementScript lowers each key by one but never below zero, keeping its TTL
var decrementScript = redis.NewScript(`
local out = {}
for i, key in ipairs(KEYS) do
  local v = tonumber(redis.call('GET', key) or '0')
  if v > 0 then
    v = redis.call('DECR', key)
  end
  out[i] = v
end
return out
`)

// RedisStore keeps counters in Redis so every replica shares the same quota
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a store backed by client
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Increment runs INCR and EXPIREAT for every counter inside one MULTI/EXEC
func (s *RedisStore) Increment(ctx context.Context, counters ...Counter) ([]int64, error) {
	cmds := make([]*redis.IntCmd, len(counters))
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, c := range counters {
			cmds[i] = pipe.Incr(ctx, c.Key)
			pipe.ExpireAt(ctx, c.Key, c.ExpireAt)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to increment quota counters: %w", err)
	}

	values := make([]int64, len(cmds))
	for i, cmd := range cmds {
		values[i] = cmd.Val()
	}
	return values, nil
}

// Decrement lowers every key by one, floored at zero
func (s *RedisStore) Decrement(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := decrementScript.Run(ctx, s.client, keys).Err(); err != nil {
		return fmt.Errorf("failed to decrement quota counters: %w", err)
	}
	return nil
}

// Get reads the current counter values
func (s *RedisStore) Get(ctx context.Context, keys ...string) ([]int64, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	raw, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read quota counters: %w", err)
	}

	values := make([]int64, len(raw))
	for i, r := range raw {
		str, ok := r.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("quota counter %s holds non-integer value %q", keys[i], str)
		}
		values[i] = n
	}
	return values, nil
}

// Ping checks connectivity
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
