package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rulebridge/rulebridge/metric"
)

// Pool fans work items of type T out to a fixed set of goroutines that
// drain a bounded channel. Submit is non-blocking; a full channel is an
// explicit backpressure signal, never an in-memory buffer.
type Pool[T any] struct {
	workers   int
	queueSize int
	process   func(context.Context, T) error
	logger    *slog.Logger

	jobs chan T
	wg   sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool

	// Always-on atomic statistics; Prometheus is opt-in on top.
	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	metrics  *poolMetrics
	registry *metric.MetricsRegistry
	prefix   string
}

type poolMetrics struct {
	depth       prometheus.Gauge
	utilization prometheus.Gauge
	jobs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// Option configures a Pool.
type Option[T any] func(*Pool[T])

// WithPoolLogger sets the logger used for lifecycle and registration
// warnings. Defaults to slog.Default.
func WithPoolLogger[T any](logger *slog.Logger) Option[T] {
	return func(p *Pool[T]) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetricsRegistry exports the pool's depth, utilization, job outcome
// and duration metrics under the given name prefix.
func WithMetricsRegistry[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(p *Pool[T]) {
		p.registry = registry
		p.prefix = prefix
	}
}

// NewPool creates a pool of the given worker count over a bounded job
// channel. A nil processor is a programming error and panics.
func NewPool[T any](workers, queueSize int, process func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if workers <= 0 {
		workers = 10
	}
	if queueSize <= 0 {
		queueSize = 1000
	}
	if process == nil {
		panic(ErrNilProcessor)
	}

	p := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		process:   process,
		logger:    slog.Default(),
		jobs:      make(chan T, queueSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.registry != nil && p.prefix != "" {
		p.registerMetrics()
	}
	return p
}

func (p *Pool[T]) registerMetrics() {
	m := &poolMetrics{
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: p.prefix + "_queue_depth",
			Help: "Work items waiting in the pool's channel",
		}),
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: p.prefix + "_utilization",
			Help: "Queue depth as a fraction of capacity (0-1)",
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: p.prefix + "_jobs_total",
			Help: "Work items by outcome",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    p.prefix + "_processing_duration_seconds",
			Help:    "Time spent processing a work item",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"status"}),
	}

	for name, err := range map[string]error{
		p.prefix + "_queue_depth":                 p.registry.RegisterGauge(p.prefix, p.prefix+"_queue_depth", m.depth),
		p.prefix + "_utilization":                 p.registry.RegisterGauge(p.prefix, p.prefix+"_utilization", m.utilization),
		p.prefix + "_jobs_total":                  p.registry.RegisterCounterVec(p.prefix, p.prefix+"_jobs_total", m.jobs),
		p.prefix + "_processing_duration_seconds": p.registry.RegisterHistogramVec(p.prefix, p.prefix+"_processing_duration_seconds", m.duration),
	} {
		if err != nil {
			p.logger.Warn("worker pool metric registration failed",
				"metric", name, "error", err)
		}
	}
	p.metrics = m
}

// Start launches the workers. The context bounds their lifetime: when it
// is cancelled the workers exit without draining the channel.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx)
	}
	p.started = true
	return nil
}

// Submit hands a work item to the pool without blocking. A full channel
// drops the item and returns ErrQueueFull.
func (p *Pool[T]) Submit(job T) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.jobs <- job:
		p.submitted.Add(1)
		if p.metrics != nil {
			p.metrics.jobs.WithLabelValues("submitted").Inc()
			p.setGauges()
		}
		return nil
	default:
		p.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.jobs.WithLabelValues("dropped").Inc()
		}
		return ErrQueueFull
	}
}

// Stop closes the channel and waits up to timeout for in-flight work to
// finish. Safe to call more than once.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started || p.stopped {
		return nil
	}
	close(p.jobs)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		p.stopped = true
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// PoolStats is a snapshot of the pool's counters.
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

// Stats returns the current counters.
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.jobs),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
	}
}

func (p *Pool[T]) run(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			start := time.Now()
			err := p.process(ctx, job)

			p.processed.Add(1)
			status := "success"
			if err != nil {
				p.failed.Add(1)
				status = "error"
			}
			if p.metrics != nil {
				p.metrics.jobs.WithLabelValues("processed").Inc()
				if err != nil {
					p.metrics.jobs.WithLabelValues("failed").Inc()
				}
				p.metrics.duration.WithLabelValues(status).Observe(time.Since(start).Seconds())
				p.setGauges()
			}
		}
	}
}

// setGauges refreshes depth and utilization from the channel length.
// Called on every submit and completion, so no ticker goroutine needed.
func (p *Pool[T]) setGauges() {
	depth := float64(len(p.jobs))
	p.metrics.depth.Set(depth)
	p.metrics.utilization.Set(depth / float64(p.queueSize))
}
