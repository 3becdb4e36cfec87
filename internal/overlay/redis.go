package overlay

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

const redisPrefix = "precinct-map:overlay:"

// RedisCache keeps overlay payloads in redis with a per-key expiry.
type RedisCache struct {
	rc  *redis.Client
	ttl time.Duration
}

// OpenRedis connects to addr and verifies the connection.
func OpenRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rc := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, eris.Wrapf(err, "overlay: ping redis %s", addr)
	}
	return rc, nil
}

// NewRedisCache wraps rc.
func NewRedisCache(rc *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rc: rc, ttl: ttl}
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.rc.Get(ctx, redisPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "overlay: redis get")
	}
	return data, true, nil
}

// Put implements Cache.
func (c *RedisCache) Put(ctx context.Context, key string, data []byte) error {
	if err := c.rc.Set(ctx, redisPrefix+key, data, c.ttl).Err(); err != nil {
		return eris.Wrap(err, "overlay: redis set")
	}
	return nil
}

// Clear deletes every overlay key.
func (c *RedisCache) Clear(ctx context.Context) error {
	keys, err := c.scan(ctx, "")
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.rc.Del(ctx, keys...).Err(); err != nil {
		return eris.Wrap(err, "overlay: redis delete")
	}
	return nil
}

// Count implements Cache.
func (c *RedisCache) Count(ctx context.Context, prefix string) (int, error) {
	keys, err := c.scan(ctx, prefix)
	return len(keys), err
}

func (c *RedisCache) scan(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	iter := c.rc.Scan(ctx, 0, redisPrefix+prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, eris.Wrap(err, "overlay: redis scan")
	}
	return out, nil
}
