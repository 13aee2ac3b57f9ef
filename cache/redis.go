package cache

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rulebridge/rulebridge/errors"
	"github.com/rulebridge/rulebridge/metric"
	"github.com/rulebridge/rulebridge/pkg/breaker"
)

// Stored value envelope markers. Every value carries one prefix byte so
// Get knows whether to run decryption.
const (
	valuePlain  byte = 0x00
	valueSealed byte = 0x01
)

// RedisCache implements Cache over a Redis backend.
type RedisCache struct {
	client  redis.UniversalClient
	guard   *breaker.Breaker
	enc     *encryptor
	logger  *slog.Logger
	stats   statistics
	metrics *cacheMetrics
}

// RedisOption configures a RedisCache.
type RedisOption func(*RedisCache) error

// WithEncryptionKey enables AES-GCM sealing for entries stored with
// Options.Encrypt. The key must be 16, 24, or 32 bytes.
func WithEncryptionKey(key []byte) RedisOption {
	return func(c *RedisCache) error {
		enc, err := newEncryptor(key)
		if err != nil {
			return errors.Wrap(err, "cache", "WithEncryptionKey", "build encryptor")
		}
		c.enc = enc
		return nil
	}
}

// WithCacheLogger sets the cache logger.
func WithCacheLogger(l *slog.Logger) RedisOption {
	return func(c *RedisCache) error {
		if l != nil {
			c.logger = l
		}
		return nil
	}
}

// WithCacheMetrics registers prometheus collectors alongside the atomic
// stats.
func WithCacheMetrics(registry *metric.MetricsRegistry) RedisOption {
	return func(c *RedisCache) error {
		m, err := newCacheMetrics(registry, "translation-cache")
		if err != nil {
			return errors.Wrap(err, "cache", "WithCacheMetrics", "register metrics")
		}
		c.metrics = m
		return nil
	}
}

// NewRedisCache wraps client with breaker-guarded cache semantics. guard
// may be nil, in which case calls run unguarded (tests, single-shot tools).
func NewRedisCache(client redis.UniversalClient, guard *breaker.Breaker, opts ...RedisOption) (*RedisCache, error) {
	c := &RedisCache{
		client: client,
		guard:  guard,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Get looks key up. Backend outages, open breaker, and undecryptable
// values all degrade to a miss; the error return fires only for caller
// cancellation.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var raw []byte
	err := c.do(ctx, func(ctx context.Context) error {
		var err error
		raw, err = c.client.Get(ctx, key).Bytes()
		return err
	})

	switch {
	case err == nil:
	case stderrors.Is(err, redis.Nil):
		c.miss()
		return nil, false, nil
	case ctx.Err() != nil:
		return nil, false, errors.WrapInfra(ctx.Err(), "cache", "Get", "look up key")
	default:
		c.degrade("Get", key, err)
		return nil, false, nil
	}

	value, ok := c.unwrapValue(key, raw)
	if !ok {
		c.miss()
		return nil, false, nil
	}

	c.stats.hits.Add(1)
	if c.metrics != nil {
		c.metrics.hits.Inc()
	}
	return value, true, nil
}

// Set stores value under key for ttl. Failures degrade to a no-op.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration, opts Options) error {
	stored := make([]byte, 0, len(value)+1)
	if opts.Encrypt {
		if c.enc == nil {
			return errors.WrapInput(
				fmt.Errorf("encryption requested but no key configured"),
				"cache", "Set", "seal value")
		}
		sealed, err := c.enc.seal(value)
		if err != nil {
			return errors.WrapInfra(err, "cache", "Set", "seal value")
		}
		stored = append(append(stored, valueSealed), sealed...)
	} else {
		stored = append(append(stored, valuePlain), value...)
	}

	err := c.do(ctx, func(ctx context.Context) error {
		return c.client.Set(ctx, key, stored, ttl).Err()
	})
	if err != nil {
		if ctx.Err() != nil {
			return errors.WrapInfra(ctx.Err(), "cache", "Set", "store value")
		}
		c.degrade("Set", key, err)
		return nil
	}

	c.stats.sets.Add(1)
	if c.metrics != nil {
		c.metrics.sets.Inc()
	}
	return nil
}

// Invalidate removes key. Backend failures degrade to a no-op.
func (c *RedisCache) Invalidate(ctx context.Context, key string) error {
	err := c.do(ctx, func(ctx context.Context) error {
		return c.client.Del(ctx, key).Err()
	})
	if err != nil {
		if ctx.Err() != nil {
			return errors.WrapInfra(ctx.Err(), "cache", "Invalidate", "delete key")
		}
		c.degrade("Invalidate", key, err)
		return nil
	}

	c.stats.deletes.Add(1)
	if c.metrics != nil {
		c.metrics.deletes.Inc()
	}
	return nil
}

// Stats returns the atomic counter snapshot.
func (c *RedisCache) Stats() Stats {
	return c.stats.snapshot()
}

// Ping verifies backend reachability; used by health checks.
func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return errors.WrapInfra(
			fmt.Errorf("%w: %v", errors.ErrCacheUnavailable, err),
			"cache", "Ping", "ping backend")
	}
	return nil
}

func (c *RedisCache) do(ctx context.Context, fn func(ctx context.Context) error) error {
	if c.guard == nil {
		return fn(ctx)
	}
	return c.guard.Do(ctx, fn)
}

// unwrapValue strips the envelope prefix and decrypts when required.
func (c *RedisCache) unwrapValue(key string, raw []byte) ([]byte, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	switch raw[0] {
	case valuePlain:
		return raw[1:], true
	case valueSealed:
		if c.enc == nil {
			c.logger.Warn("sealed cache entry with no key configured", "key", key)
			return nil, false
		}
		plain, err := c.enc.open(raw[1:])
		if err != nil {
			c.logger.Warn("cache entry failed decryption, treating as miss",
				"key", key, "error", err)
			return nil, false
		}
		return plain, true
	default:
		c.logger.Warn("cache entry with unknown envelope marker", "key", key)
		return nil, false
	}
}

func (c *RedisCache) miss() {
	c.stats.misses.Add(1)
	if c.metrics != nil {
		c.metrics.misses.Inc()
	}
}

func (c *RedisCache) degrade(op, key string, err error) {
	c.stats.errors.Add(1)
	if c.metrics != nil {
		c.metrics.errors.Inc()
	}
	c.logger.Warn("cache backend unavailable, degrading",
		"op", op, "key", key, "error", err)
	if op == "Get" {
		c.miss()
	}
}
