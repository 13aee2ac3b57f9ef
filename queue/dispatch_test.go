package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulebridge/rulebridge/errors"
)

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}.withDefaults()

	assert.Equal(t, 5, cfg.MaxReconnects)
	assert.Equal(t, time.Hour, cfg.MessageTTL)
	assert.Equal(t, int64(100_000), cfg.MaxLen)
	assert.Equal(t, 5, cfg.MaxDeliver)
	assert.NotEmpty(t, cfg.URL)
}

func TestDispatch_PublishWithoutConnection(t *testing.T) {
	d := NewDispatch(Config{URL: "nats://127.0.0.1:1"})

	msg := NewMessage("req-1", json.RawMessage(`{}`))
	err := d.Publish(context.Background(), QueueTranslation, msg, PublishOptions{Persistent: true})

	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrQueueUnavailable)
}

func TestDispatch_PublishValidation(t *testing.T) {
	d := NewDispatch(Config{})

	t.Run("unknown queue", func(t *testing.T) {
		err := d.Publish(context.Background(), Queue("bogus"),
			NewMessage("req-1", nil), PublishOptions{})
		require.Error(t, err)
		assert.True(t, errors.IsInput(err))
	})

	t.Run("dead-letter queue rejects work", func(t *testing.T) {
		err := d.Publish(context.Background(), QueueDeadLetter,
			NewMessage("req-1", nil), PublishOptions{})
		require.Error(t, err)
		assert.True(t, errors.IsInput(err))
	})

	t.Run("missing request id", func(t *testing.T) {
		msg := NewMessage("", nil)
		err := d.Publish(context.Background(), QueueTranslation, msg, PublishOptions{})
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrMalformedEnvelope)
	})
}

func TestDispatch_ConnectExhaustsReconnectBudget(t *testing.T) {
	d := NewDispatch(Config{URL: "nats://127.0.0.1:1", MaxReconnects: 2})

	start := time.Now()
	err := d.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrQueueUnavailable)
	assert.Less(t, time.Since(start), 30*time.Second,
		"bounded reconnect must give up, not retry forever")
	assert.False(t, d.IsConnected())
}

func TestDispatch_StatusWithoutConnection(t *testing.T) {
	d := NewDispatch(Config{})

	_, err := d.Status(context.Background(), QueueTranslation)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrQueueUnavailable)
}

func TestDispatch_CloseIsIdempotent(t *testing.T) {
	d := NewDispatch(Config{})

	require.NoError(t, d.Close(context.Background()))
	require.NoError(t, d.Close(context.Background()))

	// Operations after close fail loudly.
	err := d.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrShuttingDown)

	err = d.Consume(context.Background(), QueueTranslation, func(context.Context, QueueMessage) error {
		return nil
	})
	require.Error(t, err)
}
