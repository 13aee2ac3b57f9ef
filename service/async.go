package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/rulebridge/rulebridge/errors"
	"github.com/rulebridge/rulebridge/pkg/worker"
	"github.com/rulebridge/rulebridge/queue"
	"github.com/rulebridge/rulebridge/ratelimit"
)

// consumerStopTimeout bounds how long Stop waits for in-flight work.
const consumerStopTimeout = 30 * time.Second

// EnqueueTranslate admits a single request and publishes it for async
// processing. The returned id is the request id callers poll with.
func (s *TranslationService) EnqueueTranslate(ctx context.Context, req TranslateRequest) (string, error) {
	if s.dispatch == nil {
		return "", errors.Wrap(errors.ErrMissingConfig, "service", "EnqueueTranslate", "no dispatch queue configured")
	}
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}

	if err := s.admit(ctx, req.CallerKey, ratelimit.ClassSingleTranslate, "EnqueueTranslate"); err != nil {
		return "", err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", errors.WrapInput(err, "service", "EnqueueTranslate", "encode request")
	}

	msg := queue.NewMessage(req.RequestID, body)
	msg.Headers.UserID = req.CallerKey
	msg.Headers.Priority = req.Priority

	err = s.dispatch.Publish(ctx, queue.QueueTranslation, msg, queue.PublishOptions{
		Persistent: true,
		Priority:   req.Priority,
	})
	if err != nil {
		return "", err
	}
	return req.RequestID, nil
}

// EnqueueBatch admits a batch wholesale and publishes it for async
// processing. Oversized batches are rejected here, before anything is
// queued; a batch is never partially accepted.
func (s *TranslationService) EnqueueBatch(ctx context.Context, req BatchRequest) (string, error) {
	if s.dispatch == nil {
		return "", errors.Wrap(errors.ErrMissingConfig, "service", "EnqueueBatch", "no dispatch queue configured")
	}
	if req.BatchID == "" {
		req.BatchID = uuid.New().String()
	}

	if len(req.Items) == 0 {
		return "", errors.WrapInput(errors.ErrEmptyBatch, "service", "EnqueueBatch", "validate batch")
	}
	if len(req.Items) > s.maxBatchSize {
		return "", errors.WrapInput(errors.ErrBatchTooLarge, "service", "EnqueueBatch", "validate batch")
	}

	if err := s.admit(ctx, req.CallerKey, ratelimit.ClassBatchTranslate, "EnqueueBatch"); err != nil {
		return "", err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", errors.WrapInput(err, "service", "EnqueueBatch", "encode request")
	}

	msg := queue.NewMessage(req.BatchID, body)
	msg.Headers.UserID = req.CallerKey

	err = s.dispatch.Publish(ctx, queue.QueueBatch, msg, queue.PublishOptions{Persistent: true})
	if err != nil {
		return "", err
	}
	return req.BatchID, nil
}

// consumerJob carries one delivery into the worker pool. The done
// channel feeds the processing outcome back to the queue handler so
// acknowledgement still follows success.
type consumerJob struct {
	queue queue.Queue
	msg   queue.QueueMessage
	done  chan error
}

// Consumers processes queued translation and batch requests through a
// bounded worker pool.
type Consumers struct {
	service *TranslationService
	pool    *worker.Pool[consumerJob]
}

// StartConsumers begins consuming the translation and batch queues with
// the given worker count. Processing is idempotent: redelivering a
// message reproduces the same result for the same input, so at-least-
// once delivery is safe.
func (s *TranslationService) StartConsumers(ctx context.Context, workers int) (*Consumers, error) {
	if s.dispatch == nil {
		return nil, errors.Wrap(errors.ErrMissingConfig, "service", "StartConsumers", "no dispatch queue configured")
	}

	c := &Consumers{service: s}
	var poolOpts []worker.Option[consumerJob]
	if s.logger != nil {
		poolOpts = append(poolOpts, worker.WithPoolLogger[consumerJob](s.logger))
	}
	if s.registry != nil {
		poolOpts = append(poolOpts, worker.WithMetricsRegistry[consumerJob](s.registry, "consumer_pool"))
	}
	c.pool = worker.NewPool(workers, workers*2, c.process, poolOpts...)
	if err := c.pool.Start(ctx); err != nil {
		return nil, errors.WrapInfra(err, "service", "StartConsumers", "start worker pool")
	}

	for _, q := range []queue.Queue{queue.QueueTranslation, queue.QueueBatch} {
		if err := s.dispatch.Consume(ctx, q, c.handle); err != nil {
			_ = c.pool.Stop(consumerStopTimeout)
			return nil, err
		}
	}
	return c, nil
}

// handle bridges a queue delivery into the pool and waits for the
// outcome. A full pool returns an error, which leaves the message
// unacknowledged for redelivery instead of buffering it in memory.
func (c *Consumers) handle(ctx context.Context, msg queue.QueueMessage) error {
	job := consumerJob{msg: msg, done: make(chan error, 1)}
	switch {
	case msg.Subject == "":
		return errors.WrapInput(errors.ErrMalformedEnvelope, "service", "Consume", "missing subject")
	default:
		job.queue = queueFromSubject(msg.Subject)
	}

	if err := c.pool.Submit(job); err != nil {
		return errors.WrapInfra(err, "service", "Consume", "submit to worker pool")
	}

	select {
	case err := <-job.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// process runs on a pool worker and dispatches by originating queue.
func (c *Consumers) process(ctx context.Context, job consumerJob) error {
	var err error
	switch job.queue {
	case queue.QueueBatch:
		err = c.service.consumeBatch(ctx, job.msg)
	default:
		err = c.service.consumeTranslation(ctx, job.msg)
	}
	job.done <- err
	return err
}

// Stop drains the worker pool.
func (c *Consumers) Stop() error {
	return c.pool.Stop(consumerStopTimeout)
}

func (s *TranslationService) consumeTranslation(ctx context.Context, msg queue.QueueMessage) error {
	var req TranslateRequest
	if err := json.Unmarshal(msg.Body, &req); err != nil {
		return errors.WrapInput(errors.ErrMalformedEnvelope, "service", "Consume", "decode translation request")
	}
	if req.RequestID == "" {
		req.RequestID = msg.Headers.RequestID
	}

	resp, err := s.translate(ctx, req)
	if err != nil {
		return err
	}

	s.logger.Info("processed queued translation",
		"request_id", resp.RequestID,
		"status", resp.Status,
		"confidence", resp.ConfidenceScore,
		"attempts", msg.Attempts)
	return nil
}

func (s *TranslationService) consumeBatch(ctx context.Context, msg queue.QueueMessage) error {
	var req BatchRequest
	if err := json.Unmarshal(msg.Body, &req); err != nil {
		return errors.WrapInput(errors.ErrMalformedEnvelope, "service", "Consume", "decode batch request")
	}
	if req.BatchID == "" {
		req.BatchID = msg.Headers.RequestID
	}

	result, err := s.runBatch(ctx, req)
	if err != nil {
		return err
	}

	s.logger.Info("processed queued batch",
		"batch_id", result.BatchID,
		"successful", len(result.Successful),
		"failed", len(result.Failed),
		"attempts", msg.Attempts)
	return nil
}

// queueFromSubject maps a delivery subject back to its queue name.
func queueFromSubject(subject string) queue.Queue {
	for _, q := range []queue.Queue{queue.QueueTranslation, queue.QueueBatch, queue.QueueValidation} {
		if subject == q.RequestSubject() {
			return q
		}
	}
	return queue.QueueTranslation
}
