// Package breaker implements a per-dependency circuit breaker with a
// sliding outcome window, timed reset probes, and an optional background
// health probe. Callers wrap their downstream calls with Do or the generic
// ResilientCall helper; when the breaker is open calls fail fast with
// errors.ErrCircuitOpen instead of piling onto a struggling dependency.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rulebridge/rulebridge/errors"
	"github.com/rulebridge/rulebridge/metric"
)

// State represents the breaker's admission state.
type State int32

const (
	// StateClosed admits all calls and tracks outcomes.
	StateClosed State = iota
	// StateOpen rejects all calls until the reset timeout elapses.
	StateOpen
	// StateHalfOpen admits exactly one probe call.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Logger is the minimal logging interface the breaker needs. It matches
// both *log.Logger-style printf loggers and structured adapters.
type Logger interface {
	Printf(format string, v ...any)
	Errorf(format string, v ...any)
	Debugf(format string, v ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
func (nopLogger) Errorf(string, ...any) {}
func (nopLogger) Debugf(string, ...any) {}

// Config controls breaker behavior. Zero fields take defaults.
type Config struct {
	// Name identifies the guarded dependency in logs and metrics.
	Name string

	// ErrorRateThreshold trips the breaker when the failure fraction over
	// the window reaches it. Default 0.5.
	ErrorRateThreshold float64

	// MinimumVolume is the number of window outcomes required before the
	// error rate is evaluated. Default 10.
	MinimumVolume int

	// WindowSize is the outcome ring capacity. Default 50.
	WindowSize int

	// ResetTimeout is how long the breaker stays open before admitting a
	// probe. Default 30s.
	ResetTimeout time.Duration

	// CallTimeout bounds each guarded call. Timeouts count as failures.
	// Default 10s.
	CallTimeout time.Duration

	// Probe, when set together with ProbeInterval, is invoked periodically
	// while the breaker is open; a passing probe closes the breaker without
	// waiting for traffic.
	Probe         func(ctx context.Context) error
	ProbeInterval time.Duration

	Logger  Logger
	Metrics *metric.Metrics
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "dependency"
	}
	if c.ErrorRateThreshold <= 0 || c.ErrorRateThreshold > 1 {
		c.ErrorRateThreshold = 0.5
	}
	if c.MinimumVolume <= 0 {
		c.MinimumVolume = 10
	}
	if c.WindowSize <= 0 {
		c.WindowSize = 50
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = nopLogger{}
	}
	return c
}

// Stats is an atomic snapshot of breaker activity.
type Stats struct {
	State       State
	Calls       uint64
	Successes   uint64
	Failures    uint64
	Rejections  uint64
	Transitions uint64
	MeanLatency time.Duration
}

// Breaker guards calls to a single downstream dependency.
type Breaker struct {
	cfg Config

	state   atomic.Int32
	probing atomic.Bool

	calls       atomic.Uint64
	successes   atomic.Uint64
	failures    atomic.Uint64
	rejections  atomic.Uint64
	transitions atomic.Uint64

	// mu guards the outcome ring and the reset timer.
	mu         sync.Mutex
	window     []bool // true = failure
	windowIdx  int
	windowLen  int
	resetTimer *time.Timer

	// latMu guards the Welford running-mean accumulators.
	latMu    sync.Mutex
	latCount uint64
	latMean  float64

	stopProbe chan struct{}
	probeOnce sync.Once
	probeWG   sync.WaitGroup
}

// New creates a closed breaker from cfg.
func New(cfg Config) *Breaker {
	cfg = cfg.withDefaults()
	b := &Breaker{
		cfg:       cfg,
		window:    make([]bool, cfg.WindowSize),
		stopProbe: make(chan struct{}),
	}
	b.state.Store(int32(StateClosed))
	if cfg.Metrics != nil {
		cfg.Metrics.RecordBreakerState(cfg.Name, int(StateClosed))
	}
	if cfg.Probe != nil && cfg.ProbeInterval > 0 {
		b.probeWG.Add(1)
		go b.probeLoop()
	}
	return b
}

// State returns the current admission state.
func (b *Breaker) State() State {
	return State(b.state.Load())
}

// Name returns the configured dependency name.
func (b *Breaker) Name() string { return b.cfg.Name }

// Stats returns a point-in-time snapshot of breaker counters.
func (b *Breaker) Stats() Stats {
	b.latMu.Lock()
	mean := time.Duration(b.latMean)
	b.latMu.Unlock()
	return Stats{
		State:       b.State(),
		Calls:       b.calls.Load(),
		Successes:   b.successes.Load(),
		Failures:    b.failures.Load(),
		Rejections:  b.rejections.Load(),
		Transitions: b.transitions.Load(),
		MeanLatency: mean,
	}
}

// Do runs fn under the breaker's admission control and call timeout.
// When the breaker is open it returns errors.ErrCircuitOpen without
// invoking fn. A call exceeding CallTimeout fails with errors.ErrCallTimeout
// and counts against the error rate.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	switch b.State() {
	case StateOpen:
		b.reject()
		return errors.WrapDownstream(
			fmt.Errorf("%w: %s", errors.ErrCircuitOpen, b.cfg.Name),
			"breaker", "Do", "admit call")
	case StateHalfOpen:
		// Exactly one in-flight probe is admitted.
		if !b.probing.CompareAndSwap(false, true) {
			b.reject()
			return errors.WrapDownstream(
				fmt.Errorf("%w: %s probe in flight", errors.ErrCircuitOpen, b.cfg.Name),
				"breaker", "Do", "admit call")
		}
		defer b.probing.Store(false)

		err := b.invoke(ctx, fn)
		if err != nil {
			b.transition(StateHalfOpen, StateOpen, "probe_failure")
			b.armReset()
			return err
		}
		b.transition(StateHalfOpen, StateClosed, "probe_success")
		b.resetWindow()
		return nil
	}

	err := b.invoke(ctx, fn)
	b.recordOutcome(err != nil)
	return err
}

// invoke runs fn with the call timeout applied and records call metrics.
func (b *Breaker) invoke(ctx context.Context, fn func(ctx context.Context) error) error {
	b.calls.Add(1)

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	err := fn(callCtx)
	elapsed := time.Since(start)

	if err != nil && callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		err = errors.WrapDownstream(
			fmt.Errorf("%w after %s: %s", errors.ErrCallTimeout, b.cfg.CallTimeout, b.cfg.Name),
			"breaker", "Do", "complete call")
	}

	b.observeLatency(elapsed)

	if err != nil {
		b.failures.Add(1)
		if b.cfg.Metrics != nil {
			b.cfg.Metrics.RecordBreakerCall(b.cfg.Name, "failure")
		}
		return err
	}

	b.successes.Add(1)
	if b.cfg.Metrics != nil {
		b.cfg.Metrics.RecordBreakerCall(b.cfg.Name, "success")
	}
	return nil
}

// recordOutcome pushes one outcome into the ring and trips the breaker
// when the windowed error rate crosses the threshold.
func (b *Breaker) recordOutcome(failed bool) {
	b.mu.Lock()
	b.window[b.windowIdx] = failed
	b.windowIdx = (b.windowIdx + 1) % len(b.window)
	if b.windowLen < len(b.window) {
		b.windowLen++
	}

	if b.windowLen < b.cfg.MinimumVolume {
		b.mu.Unlock()
		return
	}

	failures := 0
	for i := 0; i < b.windowLen; i++ {
		if b.window[i] {
			failures++
		}
	}
	rate := float64(failures) / float64(b.windowLen)
	b.mu.Unlock()

	if rate >= b.cfg.ErrorRateThreshold {
		if b.state.CompareAndSwap(int32(StateClosed), int32(StateOpen)) {
			b.noteTransition(StateClosed, StateOpen, "error_rate")
			b.armReset()
		}
	}
}

// transition moves from -> to if the current state still matches from.
func (b *Breaker) transition(from, to State, cause string) {
	if b.state.CompareAndSwap(int32(from), int32(to)) {
		b.noteTransition(from, to, cause)
	}
}

func (b *Breaker) noteTransition(from, to State, cause string) {
	b.transitions.Add(1)
	b.cfg.Logger.Printf("breaker %s: %s -> %s (%s)", b.cfg.Name, from, to, cause)
	if b.cfg.Metrics != nil {
		b.cfg.Metrics.RecordBreakerTransition(b.cfg.Name, from.String(), to.String(), cause)
		b.cfg.Metrics.RecordBreakerState(b.cfg.Name, int(to))
	}
}

// armReset schedules the open -> half-open transition.
func (b *Breaker) armReset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.resetTimer != nil {
		b.resetTimer.Stop()
	}
	b.resetTimer = time.AfterFunc(b.cfg.ResetTimeout, func() {
		b.transition(StateOpen, StateHalfOpen, "reset_timeout")
	})
}

// resetWindow clears accumulated outcomes after the breaker closes.
func (b *Breaker) resetWindow() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.window {
		b.window[i] = false
	}
	b.windowIdx = 0
	b.windowLen = 0
	if b.resetTimer != nil {
		b.resetTimer.Stop()
		b.resetTimer = nil
	}
}

func (b *Breaker) reject() {
	b.rejections.Add(1)
	if b.cfg.Metrics != nil {
		b.cfg.Metrics.RecordBreakerCall(b.cfg.Name, "rejected")
	}
}

// observeLatency folds one sample into the Welford running mean.
func (b *Breaker) observeLatency(d time.Duration) {
	b.latMu.Lock()
	b.latCount++
	b.latMean += (float64(d) - b.latMean) / float64(b.latCount)
	b.latMu.Unlock()
}

// MeanLatency returns the running mean over all completed calls.
func (b *Breaker) MeanLatency() time.Duration {
	b.latMu.Lock()
	defer b.latMu.Unlock()
	return time.Duration(b.latMean)
}

// probeLoop periodically runs the configured health probe while the
// breaker is open. A passing probe closes the breaker ahead of traffic.
func (b *Breaker) probeLoop() {
	defer b.probeWG.Done()
	ticker := time.NewTicker(b.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopProbe:
			return
		case <-ticker.C:
			if b.State() == StateClosed {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), b.cfg.CallTimeout)
			err := b.cfg.Probe(ctx)
			cancel()
			if err != nil {
				b.cfg.Logger.Debugf("breaker %s: probe failed: %v", b.cfg.Name, err)
				continue
			}
			prev := b.State()
			b.transition(prev, StateClosed, "probe")
			b.resetWindow()
		}
	}
}

// Close stops the background probe goroutine and any pending reset timer.
func (b *Breaker) Close() {
	b.probeOnce.Do(func() { close(b.stopProbe) })
	b.probeWG.Wait()
	b.mu.Lock()
	if b.resetTimer != nil {
		b.resetTimer.Stop()
		b.resetTimer = nil
	}
	b.mu.Unlock()
}

// ResilientCall wraps a typed downstream call with breaker admission.
// The returned function has the same shape as fn so call sites compose
// explicitly instead of hiding the guard behind an interface.
func ResilientCall[T any](b *Breaker, fn func(ctx context.Context) (T, error)) func(ctx context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		var out T
		err := b.Do(ctx, func(ctx context.Context) error {
			var innerErr error
			out, innerErr = fn(ctx)
			return innerErr
		})
		if err != nil {
			var zero T
			return zero, err
		}
		return out, nil
	}
}
