package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rulebridge/rulebridge/errors"
)

// RedisCounter implements Counter with fixed windows in Redis: one INCR'd
// key per (class, caller) whose TTL is the class window. Counts are shared
// across all service instances, unlike the local backend.
type RedisCounter struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCounter builds a counter over client. Keys are namespaced under
// "ratelimit:".
func NewRedisCounter(client redis.UniversalClient) *RedisCounter {
	return &RedisCounter{client: client, prefix: "ratelimit:"}
}

// Take increments the caller's window counter and compares it against the
// class capacity (limit plus burst). When the window is exhausted the
// retry-after hint is the window's remaining TTL.
func (c *RedisCounter) Take(ctx context.Context, key string, lim ClassLimit) (bool, time.Duration, error) {
	redisKey := c.prefix + key

	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pttl := pipe.PTTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, errors.WrapInfra(
			fmt.Errorf("%w: %v", errors.ErrCounterUnavailable, err),
			"ratelimit", "Take", "increment window")
	}

	count := incr.Val()
	if count == 1 || pttl.Val() < 0 {
		// First hit in a fresh window (or a key left without expiry by a
		// prior partial failure): start the window clock.
		if err := c.client.PExpire(ctx, redisKey, lim.Window).Err(); err != nil {
			return false, 0, errors.WrapInfra(
				fmt.Errorf("%w: %v", errors.ErrCounterUnavailable, err),
				"ratelimit", "Take", "arm window expiry")
		}
	}

	capacity := int64(lim.Limit + lim.Burst)
	if count <= capacity {
		return true, 0, nil
	}

	retryAfter := pttl.Val()
	if retryAfter <= 0 {
		retryAfter = lim.Window
	}
	return false, retryAfter, nil
}
