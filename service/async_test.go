package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulebridge/rulebridge/errors"
	"github.com/rulebridge/rulebridge/queue"
)

func TestEnqueueTranslate_RequiresDispatch(t *testing.T) {
	svc := newTestService(t, &stubTranslator{}, &stubValidator{})

	_, err := svc.EnqueueTranslate(context.Background(), TranslateRequest{
		SourceFormat: "sigma",
		TargetFormat: "splunk",
		Content:      "title: t",
	})
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrMissingConfig))
}

func TestEnqueueTranslate_UnconnectedDispatchFailsLoudly(t *testing.T) {
	d := queue.NewDispatch(queue.Config{URL: "nats://127.0.0.1:1"})
	svc := newTestService(t, &stubTranslator{}, &stubValidator{}, WithDispatch(d))

	_, err := svc.EnqueueTranslate(context.Background(), TranslateRequest{
		SourceFormat: "sigma",
		TargetFormat: "splunk",
		Content:      "title: t",
	})
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrQueueUnavailable))
}

func TestEnqueueBatch_RejectsBeforePublishing(t *testing.T) {
	d := queue.NewDispatch(queue.Config{URL: "nats://127.0.0.1:1"})
	svc := newTestService(t, &stubTranslator{}, &stubValidator{},
		WithDispatch(d), WithBatchLimits(3, 2))

	_, err := svc.EnqueueBatch(context.Background(), BatchRequest{
		TargetFormat: "splunk",
		Items:        sigmaItems(4),
	})
	require.Error(t, err)
	// Size validation runs before any queue interaction.
	assert.True(t, stderrors.Is(err, errors.ErrBatchTooLarge))

	_, err = svc.EnqueueBatch(context.Background(), BatchRequest{TargetFormat: "splunk"})
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrEmptyBatch))
}

func TestConsumeTranslation_MalformedBodyIsInputError(t *testing.T) {
	svc := newTestService(t, &stubTranslator{translated: "x", confidence: 1}, &stubValidator{})

	msg := queue.NewMessage("req-1", json.RawMessage(`{not json`))
	err := svc.consumeTranslation(context.Background(), msg)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrMalformedEnvelope))
	assert.False(t, errors.IsRetryable(err), "poison messages must not be retried forever")
}

func TestConsumeTranslation_ProcessesRequest(t *testing.T) {
	translator := &stubTranslator{translated: "out", confidence: 0.95}
	svc := newTestService(t, translator, &stubValidator{})

	body, err := json.Marshal(TranslateRequest{
		SourceFormat: "sigma",
		TargetFormat: "splunk",
		Content:      "title: t",
	})
	require.NoError(t, err)

	msg := queue.NewMessage("req-2", body)
	require.NoError(t, svc.consumeTranslation(context.Background(), msg))
	assert.Equal(t, 1, translator.callCount())
}

func TestConsumeBatch_ProcessesRequest(t *testing.T) {
	translator := &stubTranslator{translated: "out", confidence: 0.95}
	svc := newTestService(t, translator, &stubValidator{})

	body, err := json.Marshal(BatchRequest{
		BatchID:         "qb-1",
		TargetFormat:    "splunk",
		Items:           sigmaItems(4),
		ContinueOnError: true,
	})
	require.NoError(t, err)

	msg := queue.NewMessage("qb-1", body)
	require.NoError(t, svc.consumeBatch(context.Background(), msg))
	assert.Equal(t, 4, translator.callCount())
}

func TestQueueFromSubject(t *testing.T) {
	assert.Equal(t, queue.QueueBatch, queueFromSubject(queue.QueueBatch.RequestSubject()))
	assert.Equal(t, queue.QueueTranslation, queueFromSubject(queue.QueueTranslation.RequestSubject()))
	assert.Equal(t, queue.QueueTranslation, queueFromSubject("unknown.subject"))
}

func TestStartConsumers_RequiresDispatch(t *testing.T) {
	svc := newTestService(t, &stubTranslator{}, &stubValidator{})

	_, err := svc.StartConsumers(context.Background(), 4)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrMissingConfig))
}
