package worker

import "errors"

// Sentinel errors for pool lifecycle and submission.
var (
	ErrPoolNotStarted     = errors.New("worker pool not started")
	ErrPoolStopped        = errors.New("worker pool stopped")
	ErrPoolAlreadyStarted = errors.New("worker pool already started")

	// ErrQueueFull means the bounded job channel has no room; the
	// caller decides whether to shed or let the broker redeliver.
	ErrQueueFull = errors.New("worker pool queue full")

	ErrNilProcessor = errors.New("processor function cannot be nil")
	ErrStopTimeout  = errors.New("timeout waiting for workers to stop")
)
