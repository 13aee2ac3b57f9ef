// Package metric provides Prometheus metrics registration and the core
// instrumentation surface shared across the translation pipeline.
//
// A MetricsRegistry owns a dedicated Prometheus registry, tracks ownership
// of every registered metric by component, and prevents duplicate
// registration. The core Metrics struct covers translation throughput and
// latency, validation issue counts and confidence scores, admission
// decisions, dispatch-queue activity, circuit breaker state, and component
// health. Components record through the typed Record* helpers rather than
// touching the vectors directly.
//
// The HTTP exposition side lives in handler.go: NewServer starts a
// standalone metrics endpoint backed by the registry.
package metric
