// Package rulebridge is the resilient orchestration core for translating
// security-detection rules between vendor formats.
//
// It accepts detection content written in one vendor's query or rule
// language (Splunk SPL, QRadar AQL, Sigma, KQL, Palo Alto XQL,
// CrowdStrike, YARA, YARA-L) and routes it through an asynchronous
// translation pipeline to a target language, attaching a validation pass
// and a confidence score to every result. The translation engine itself
// is an external collaborator; this module owns how requests are
// admitted, queued, validated, retried, and aggregated.
//
// # Architecture
//
// Leaf components:
//   - ratelimit: per-caller, per-operation-class admission control with
//     configurable fail-open/fail-closed behavior under counter outage.
//   - pkg/breaker: three-state circuit breakers guarding every
//     downstream call (translation backend, validation backend, cache).
//   - cache: breaker-guarded Redis result cache with optional AES-GCM
//     encryption at rest; any fault degrades to a miss.
//
// Composites:
//   - validation: the four-stage pipeline (schema → format
//     compatibility → remote syntax check → confidence scoring).
//   - queue: durable JetStream dispatch with TTL, length caps,
//     bounded redelivery, and dead-letter routing.
//   - batch: chunked fan-out with partial-failure aggregation and
//     pollable, monotonic progress.
//   - service: the orchestration layer tying everything into the
//     single and batch translation entry points, inline or queued.
//
// The cmd/rulebridged binary wires these together from environment
// configuration and runs the queue consumers.
package rulebridge
