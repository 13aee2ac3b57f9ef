// Package cache provides the Redis-backed result cache used to short-cut
// repeat translations. Every backend operation runs inside a circuit
// breaker and degrades to a miss when Redis is unreachable; the cache is
// an accelerator, never a dependency the request path can fail on.
package cache

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync/atomic"
	"time"

	"github.com/rulebridge/rulebridge/format"
)

// Options controls per-entry behavior.
type Options struct {
	// Encrypt seals the value with the cache's AES-GCM key before storing.
	// Setting it without a configured key is an error at Set time.
	Encrypt bool
}

// Cache is the read-through surface the service layer depends on.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, opts Options) error
	Invalidate(ctx context.Context, key string) error
}

// Stats is an atomic snapshot of cache activity.
type Stats struct {
	Hits    uint64
	Misses  uint64
	Sets    uint64
	Deletes uint64
	Errors  uint64
}

// statistics is the always-on atomic counterpart to the optional
// prometheus collectors.
type statistics struct {
	hits    atomic.Uint64
	misses  atomic.Uint64
	sets    atomic.Uint64
	deletes atomic.Uint64
	errors  atomic.Uint64
}

func (s *statistics) snapshot() Stats {
	return Stats{
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
		Sets:    s.sets.Load(),
		Deletes: s.deletes.Load(),
		Errors:  s.errors.Load(),
	}
}

// TranslationKey derives the cache key for a translation result. Content
// is folded through FNV-64a so the key stays bounded regardless of rule
// size.
func TranslationKey(src, dst format.Format, content string) string {
	h := fnv.New64a()
	h.Write([]byte(content))
	return fmt.Sprintf("translation:%s:%s:%x", src, dst, h.Sum64())
}
