package confidence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/fittrust/internal/circuitbreaker"
	"github.com/mbd888/fittrust/internal/metrics"
	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned by Cache.Get when nothing is cached for a user.
var ErrCacheMiss = errors.New("confidence cache miss")

// Cache stores computed results between ledger writes.
type Cache interface {
	Get(ctx context.Context, userID string) (*Result, error)
	Set(ctx context.Context, userID string, r *Result) error
	Invalidate(ctx context.Context, userID string) error
}

const (
	cacheKeyPrefix = "fittrust:confidence:"
	breakerKey     = "redis"
)

// RedisCache is a Cache backed by Redis and guarded by a circuit breaker,
// so an outage falls through to computation instead of adding a timeout to
// every request.
type RedisCache struct {
	client  *redis.Client
	ttl     time.Duration
	breaker *circuitbreaker.Breaker
}

// NewRedisCache creates a cache over an existing client.
func NewRedisCache(client *redis.Client, ttl time.Duration, breaker *circuitbreaker.Breaker) *RedisCache {
	if breaker == nil {
		breaker = circuitbreaker.New(5, 30*time.Second)
	}
	return &RedisCache{client: client, ttl: ttl, breaker: breaker}
}

func (c *RedisCache) Get(ctx context.Context, userID string) (*Result, error) {
	var raw []byte
	err := c.breaker.Do(breakerKey, func() error {
		var err error
		raw, err = c.client.Get(ctx, cacheKeyPrefix+userID).Bytes()
		return err
	}, redis.Nil)
	switch {
	case errors.Is(err, redis.Nil):
		metrics.ConfidenceCacheTotal.WithLabelValues("miss").Inc()
		return nil, ErrCacheMiss
	case err != nil:
		metrics.ConfidenceCacheTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	var r Result
	if err := json.Unmarshal(raw, &r); err != nil {
		metrics.ConfidenceCacheTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("decode cached confidence: %w", err)
	}
	metrics.ConfidenceCacheTotal.WithLabelValues("hit").Inc()
	return &r, nil
}

func (c *RedisCache) Set(ctx context.Context, userID string, r *Result) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return c.breaker.Do(breakerKey, func() error {
		return c.client.Set(ctx, cacheKeyPrefix+userID, raw, c.ttl).Err()
	})
}

func (c *RedisCache) Invalidate(ctx context.Context, userID string) error {
	return c.breaker.Do(breakerKey, func() error {
		return c.client.Del(ctx, cacheKeyPrefix+userID).Err()
	})
}

// Check pings Redis for the readiness probe.
func (c *RedisCache) Check(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
