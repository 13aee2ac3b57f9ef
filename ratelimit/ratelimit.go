// Package ratelimit implements the admission gate that sits in front of
// every operation. Callers are bucketed per operation class; each class
// has its own limit, window, and burst allowance, plus a policy for what
// happens when the counter backend is unreachable.
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/rulebridge/rulebridge/metric"
)

// OperationClass buckets requests by cost for admission purposes.
type OperationClass string

const (
	ClassSingleTranslate OperationClass = "single-translate"
	ClassBatchTranslate  OperationClass = "batch-translate"
	ClassSyncOperation   OperationClass = "sync-operation"
	ClassRead            OperationClass = "read"
)

// ClassLimit is the admission policy for one operation class.
type ClassLimit struct {
	// Limit is the number of requests admitted per Window.
	Limit int
	// Window is the accounting period.
	Window time.Duration
	// Burst is the extra headroom above the steady rate.
	Burst int
	// FailOpen admits requests when the counter backend is unreachable.
	// Cheap read paths fail open; anything that reaches the translation
	// backend fails closed.
	FailOpen bool
}

// DefaultLimits returns the stock per-class policy.
func DefaultLimits() map[OperationClass]ClassLimit {
	return map[OperationClass]ClassLimit{
		ClassSingleTranslate: {Limit: 60, Window: time.Minute, Burst: 10},
		ClassBatchTranslate:  {Limit: 10, Window: time.Minute, Burst: 2},
		ClassSyncOperation:   {Limit: 6, Window: time.Minute, Burst: 1},
		ClassRead:            {Limit: 600, Window: time.Minute, Burst: 100, FailOpen: true},
	}
}

// Decision is the outcome of an admission check. RetryAfter is only
// meaningful when Allowed is false.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Counter is a rate counter backend. Take consumes one slot for key under
// lim, reporting whether the request fits and, if not, how long the caller
// should wait. An error means the backend itself failed; the gate decides
// what that means per class.
type Counter interface {
	Take(ctx context.Context, key string, lim ClassLimit) (allowed bool, retryAfter time.Duration, err error)
}

// Gate applies per-class admission policy over a Counter.
type Gate struct {
	limits  map[OperationClass]ClassLimit
	counter Counter
	logger  *slog.Logger
	metrics *metric.Metrics
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithLimits replaces the default per-class policy.
func WithLimits(limits map[OperationClass]ClassLimit) GateOption {
	return func(g *Gate) {
		if limits != nil {
			g.limits = limits
		}
	}
}

// WithGateLogger sets the gate logger.
func WithGateLogger(l *slog.Logger) GateOption {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithGateMetrics enables allowed/denied instrumentation.
func WithGateMetrics(m *metric.Metrics) GateOption {
	return func(g *Gate) { g.metrics = m }
}

// NewGate builds a gate over counter with the default limits.
func NewGate(counter Counter, opts ...GateOption) *Gate {
	g := &Gate{
		limits:  DefaultLimits(),
		counter: counter,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Admit decides whether one request from callerKey in class may proceed.
// It never blocks waiting for capacity; a denial carries the retry-after
// hint instead.
func (g *Gate) Admit(ctx context.Context, callerKey string, class OperationClass) Decision {
	lim, ok := g.limits[class]
	if !ok {
		// Unconfigured classes are unlimited.
		g.record(class, true)
		return Decision{Allowed: true}
	}

	key := string(class) + ":" + callerKey
	allowed, retryAfter, err := g.counter.Take(ctx, key, lim)
	if err != nil {
		if lim.FailOpen {
			g.logger.Warn("rate counter unavailable, failing open",
				"class", string(class), "caller", callerKey, "error", err)
			g.record(class, true)
			return Decision{Allowed: true}
		}
		g.logger.Warn("rate counter unavailable, failing closed",
			"class", string(class), "caller", callerKey, "error", err)
		g.record(class, false)
		return Decision{Allowed: false, RetryAfter: lim.Window}
	}

	g.record(class, allowed)
	if !allowed {
		return Decision{Allowed: false, RetryAfter: retryAfter}
	}
	return Decision{Allowed: true}
}

func (g *Gate) record(class OperationClass, allowed bool) {
	if g.metrics == nil {
		return
	}
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	g.metrics.RecordAdmission(string(class), decision)
}
