package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the caching interface. All cache operations go through here.
// Implementations must be safe for concurrent use.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

// Queue is a FIFO list of opaque payloads shared between the API process
// and the workers.
type Queue interface {
	Enqueue(ctx context.Context, queue string, payload []byte) error
	// Dequeue blocks for up to timeout. It returns found=false when the
	// wait expires with nothing to hand out.
	Dequeue(ctx context.Context, queue string, timeout time.Duration) ([]byte, bool, error)
}

// RedisCache implements Cache and Queue using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (c *RedisCache) Enqueue(ctx context.Context, queue string, payload []byte) error {
	return c.client.LPush(ctx, QueueKey(queue), payload).Err()
}

func (c *RedisCache) Dequeue(ctx context.Context, queue string, timeout time.Duration) ([]byte, bool, error) {
	res, err := c.client.BRPop(ctx, timeout, QueueKey(queue)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	// BRPOP replies with [key, value].
	if len(res) != 2 {
		return nil, false, nil
	}
	return []byte(res[1]), true, nil
}

var (
	_ Cache = (*RedisCache)(nil)
	_ Queue = (*RedisCache)(nil)
)
