// Package service is the orchestration layer tying the admission gate,
// validation pipeline, breaker-guarded backends, cache, dispatch queue,
// and batch orchestrator into the two public entry points: single and
// batch translation.
//
// Inline flow (Translate): admission → cache lookup → source validation
// → breaker-guarded translation → output validation → confidence-gated
// cache store. Input-shaped problems come back as validation issues on
// the response, not as errors; the final confidence is the minimum of
// the backend's self-reported score and the output validation score.
//
// Async flow: EnqueueTranslate and EnqueueBatch publish durable queue
// messages; StartConsumers processes them through a bounded worker pool
// and acknowledges only after success. Processing is deterministic per
// input, so at-least-once redelivery converges on the same result.
//
// Batch flow (ProcessBatch): one admission for the whole batch, then
// chunked fan-out with per-index success/failure aggregation. Progress
// is pollable by batch id and batches can be aborted cooperatively.
package service
