package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startNATSContainer brings up a NATS server with JetStream enabled.
func startNATSContainer(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "nats:latest",
		ExposedPorts: []string{"4222/tcp"},
		WaitingFor:   wait.ForListeningPort("4222/tcp"),
		Cmd:          []string{"-js"},
	}

	natsContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := natsContainer.Host(ctx)
	require.NoError(t, err)
	port, err := natsContainer.MappedPort(ctx, "4222")
	require.NoError(t, err)

	// Give the server a beat to finish JetStream init.
	time.Sleep(100 * time.Millisecond)

	return natsContainer, fmt.Sprintf("nats://%s:%s", host, port.Port())
}

func connectedDispatch(ctx context.Context, t *testing.T, url string, cfg Config) *Dispatch {
	t.Helper()
	cfg.URL = url
	d := NewDispatch(cfg)
	require.NoError(t, d.Connect(ctx))
	return d
}

func TestIntegration_PublishConsumeAck(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, url := startNATSContainer(ctx, t)
	defer container.Terminate(ctx)

	d := connectedDispatch(ctx, t, url, Config{})
	defer d.Close(ctx)

	received := make(chan QueueMessage, 1)
	require.NoError(t, d.Consume(ctx, QueueTranslation, func(_ context.Context, msg QueueMessage) error {
		received <- msg
		return nil
	}))

	msg := NewMessage("req-77", json.RawMessage(`{"content":"index=main","source_format":"splunk","target_format":"sigma"}`))
	msg.Headers.UserID = "tenant-a"
	require.NoError(t, d.Publish(ctx, QueueTranslation, msg, PublishOptions{Persistent: true, Priority: 2}))

	select {
	case got := <-received:
		assert.Equal(t, msg.ID, got.ID)
		assert.Equal(t, "req-77", got.Headers.RequestID)
		assert.Equal(t, "tenant-a", got.Headers.UserID)
		assert.Equal(t, 2, got.Headers.Priority)
		assert.JSONEq(t, string(msg.Body), string(got.Body))
		assert.Equal(t, 1, got.Attempts)
	case <-time.After(10 * time.Second):
		t.Fatal("message was not delivered")
	}

	// Acked message leaves the work queue.
	assert.Eventually(t, func() bool {
		status, err := d.Status(ctx, QueueTranslation)
		return err == nil && status.Messages == 0
	}, 10*time.Second, 200*time.Millisecond)
}

func TestIntegration_RedeliveryThenDeadLetter(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, url := startNATSContainer(ctx, t)
	defer container.Terminate(ctx)

	d := connectedDispatch(ctx, t, url, Config{MaxDeliver: 3})
	defer d.Close(ctx)

	var deliveries atomic.Int32
	require.NoError(t, d.Consume(ctx, QueueValidation, func(_ context.Context, msg QueueMessage) error {
		deliveries.Add(1)
		return fmt.Errorf("handler always fails")
	}))

	msg := NewMessage("req-88", json.RawMessage(`{"content":"bad rule"}`))
	require.NoError(t, d.Publish(ctx, QueueValidation, msg, PublishOptions{Persistent: true}))

	// The handler gets exactly MaxDeliver attempts.
	require.Eventually(t, func() bool {
		return deliveries.Load() == 3
	}, 15*time.Second, 200*time.Millisecond)

	// The exhausted message lands in the dead-letter stream.
	require.Eventually(t, func() bool {
		status, err := d.Status(ctx, QueueDeadLetter)
		return err == nil && status.Messages >= 1
	}, 15*time.Second, 200*time.Millisecond)

	// And drains from the work queue.
	assert.Eventually(t, func() bool {
		status, err := d.Status(ctx, QueueValidation)
		return err == nil && status.Messages == 0
	}, 10*time.Second, 200*time.Millisecond)

	assert.Equal(t, int32(3), deliveries.Load(),
		"no deliveries beyond the budget")
}

func TestIntegration_OverflowDeadLetters(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, url := startNATSContainer(ctx, t)
	defer container.Terminate(ctx)

	d := connectedDispatch(ctx, t, url, Config{MaxLen: 2})
	defer d.Close(ctx)

	for i := 0; i < 2; i++ {
		msg := NewMessage(fmt.Sprintf("req-%d", i), json.RawMessage(`{}`))
		require.NoError(t, d.Publish(ctx, QueueBatch, msg, PublishOptions{Persistent: true}))
	}

	// The third publish overflows the capped stream.
	overflow := NewMessage("req-overflow", json.RawMessage(`{}`))
	err := d.Publish(ctx, QueueBatch, overflow, PublishOptions{Persistent: true})
	require.Error(t, err, "overflow must be an explicit failure")

	status, statusErr := d.Status(ctx, QueueBatch)
	require.NoError(t, statusErr)
	assert.Equal(t, uint64(2), status.Messages, "stream keeps only what fit")

	// The rejected message is preserved in the dead-letter stream.
	assert.Eventually(t, func() bool {
		dlq, err := d.Status(ctx, QueueDeadLetter)
		return err == nil && dlq.Messages >= 1
	}, 10*time.Second, 200*time.Millisecond)
}

func TestIntegration_Purge(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, url := startNATSContainer(ctx, t)
	defer container.Terminate(ctx)

	d := connectedDispatch(ctx, t, url, Config{})
	defer d.Close(ctx)

	for i := 0; i < 5; i++ {
		msg := NewMessage(fmt.Sprintf("req-%d", i), json.RawMessage(`{}`))
		require.NoError(t, d.Publish(ctx, QueueTranslation, msg, PublishOptions{Persistent: true}))
	}

	status, err := d.Status(ctx, QueueTranslation)
	require.NoError(t, err)
	require.Equal(t, uint64(5), status.Messages)

	require.NoError(t, d.Purge(ctx, QueueTranslation))

	status, err = d.Status(ctx, QueueTranslation)
	require.NoError(t, err)
	assert.Zero(t, status.Messages)
}
