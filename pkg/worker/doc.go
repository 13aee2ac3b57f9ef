// Package worker provides a generic, thread-safe worker pool for concurrent task processing.
//
// The pool manages a fixed number of goroutines that drain a bounded channel of
// work items. Submit() is non-blocking: when the queue is full the work is
// rejected with ErrQueueFull rather than blocking the caller, which turns
// overload into an explicit backpressure signal. In this system the pool runs
// the dispatch-queue consumers, so a full queue surfaces as redelivery by the
// broker instead of unbounded in-process buffering.
//
// Observability follows the dual-tracking pattern used across the codebase:
// atomic statistics are always maintained and Prometheus metrics are opt-in
// via WithMetricsRegistry.
//
// Basic usage:
//
//	pool := worker.NewPool[queue.Message](
//	    10,   // workers
//	    1000, // queue size
//	    func(ctx context.Context, msg queue.Message) error {
//	        return handle(ctx, msg)
//	    },
//	)
//	pool.Start(ctx)
//	defer pool.Stop(30 * time.Second)
//
// Worker count is fixed at creation; per-item timeouts belong in the
// processor function.
package worker
