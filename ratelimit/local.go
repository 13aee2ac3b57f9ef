package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LocalCounter implements Counter with in-process token buckets, one per
// key. A janitor evicts buckets idle longer than idleTTL so long-running
// processes don't accumulate one limiter per caller ever seen.
type LocalCounter struct {
	mu       sync.Mutex
	buckets  map[string]*localBucket
	idleTTL  time.Duration
	stopOnce sync.Once
	stop     chan struct{}
}

type localBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocalCounter creates a counter whose idle buckets are evicted after
// idleTTL (default 10m).
func NewLocalCounter(idleTTL time.Duration) *LocalCounter {
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	c := &LocalCounter{
		buckets: make(map[string]*localBucket),
		idleTTL: idleTTL,
		stop:    make(chan struct{}),
	}
	go c.janitor()
	return c
}

// Take consumes one token from the key's bucket. It never returns an
// error; the local backend cannot be unreachable.
func (c *LocalCounter) Take(_ context.Context, key string, lim ClassLimit) (bool, time.Duration, error) {
	c.mu.Lock()
	b, ok := c.buckets[key]
	if !ok {
		// Burst is headroom on top of the steady limit, same as the
		// Redis backend's capacity.
		burst := lim.Limit + lim.Burst
		if burst < 1 {
			burst = 1
		}
		b = &localBucket{
			limiter: rate.NewLimiter(rate.Limit(float64(lim.Limit)/lim.Window.Seconds()), burst),
		}
		c.buckets[key] = b
	}
	b.lastSeen = time.Now()
	limiter := b.limiter
	c.mu.Unlock()

	res := limiter.Reserve()
	if !res.OK() {
		return false, lim.Window, nil
	}
	delay := res.Delay()
	if delay > 0 {
		// Not admissible right now; hand the token back instead of waiting.
		res.Cancel()
		return false, delay, nil
	}
	return true, 0, nil
}

// Close stops the janitor goroutine.
func (c *LocalCounter) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *LocalCounter) janitor() {
	ticker := time.NewTicker(c.idleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case now := <-ticker.C:
			c.mu.Lock()
			for key, b := range c.buckets {
				if now.Sub(b.lastSeen) > c.idleTTL {
					delete(c.buckets, key)
				}
			}
			c.mu.Unlock()
		}
	}
}

// Len reports the number of live buckets; used by tests.
func (c *LocalCounter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buckets)
}
