// Package health tracks the health of the service's dependencies and
// aggregates them into a readiness snapshot.
//
// The package supports three health states:
//   - Healthy: component operating normally
//   - Degraded: component operating with reduced functionality
//   - Unhealthy: component not functioning properly
//
// A Monitor holds the current Status per component. Components can push
// statuses directly (Update, UpdateHealthy, UpdateDegraded,
// UpdateUnhealthy) or register a Checker probe and let the monitor pull:
//
//	monitor := health.NewMonitor()
//	monitor.RegisterCheck("queue", func(ctx context.Context) error {
//	    return dispatch.Ping(ctx)
//	})
//	monitor.RegisterCheck("cache", cache.Ping)
//	go monitor.Watch(ctx, 15*time.Second)
//
// AggregateHealth folds all component statuses into a single system
// status: any unhealthy component makes the system unhealthy, otherwise
// any degraded component makes it degraded.
//
// Probe errors are sanitized before they become status messages, so
// readiness output never leaks URLs, addresses, paths, or credentials
// from connection errors. Attach a Recorder to export every status
// transition as a metric.
package health
