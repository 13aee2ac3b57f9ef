// Package retry provides simple exponential backoff retry logic for transient failures.
//
// # Overview
//
// This package offers a minimal retry mechanism with exponential backoff, designed to handle
// transient failures in network operations, broker reconnection, and backend probing.
//
// # Core Functions
//
//   - Do: Execute function with retry and exponential backoff
//   - DoWithResult: Execute function with retry, returns both result and error
//
// # Configuration Presets
//
//   - DefaultConfig(): 3 attempts, 100ms-5s delay (normal operations)
//   - Quick(): 10 attempts, 50ms-1s delay (process startup)
//   - Reconnect(n): n attempts, 500ms-30s delay (broker reconnection with a hard cap)
//
// # Usage Examples
//
// Basic retry with defaults:
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
//	    return client.Connect()
//	})
//
// Bounded broker reconnection:
//
//	cfg := retry.Reconnect(cfg.Queue.MaxReconnects)
//	err := retry.Do(ctx, cfg, func() error {
//	    return dispatch.Connect(ctx)
//	})
//
// Retry with result:
//
//	stream, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (jetstream.Stream, error) {
//	    return js.Stream(ctx, streamName)
//	})
//
// # Design Philosophy
//
// This package is intentionally minimal:
//
//   - No circuit breakers (see pkg/breaker)
//   - No metrics collection (use instrumentation at call site)
//   - No complex error classification (caller decides what to retry)
//   - Just exponential backoff with jitter
//
// # Context Cancellation
//
// All retry operations respect context cancellation and will immediately stop retrying
// when the context is cancelled, either during operation execution or during backoff delay.
//
// # Thread Safety
//
// All functions are safe for concurrent use. The jitter mechanism uses a thread-safe
// random source to avoid contention.
package retry
