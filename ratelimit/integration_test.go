package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/rulebridge/rulebridge/errors"
)

func startRedisContainer(ctx context.Context, t *testing.T) (testcontainers.Container, *redis.Client) {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := redisContainer.Host(ctx)
	require.NoError(t, err)
	port, err := redisContainer.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", host, port.Port()),
	})
	return redisContainer, client
}

func TestIntegration_RedisCounterFixedWindow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, client := startRedisContainer(ctx, t)
	defer container.Terminate(ctx)
	defer client.Close()

	counter := NewRedisCounter(client)
	lim := ClassLimit{Limit: 3, Window: 2 * time.Second, Burst: 0}

	for i := 0; i < 3; i++ {
		allowed, _, err := counter.Take(ctx, "single-translate:tenant-a", lim)
		require.NoError(t, err)
		assert.True(t, allowed, "request %d fits the window", i)
	}

	allowed, retryAfter, err := counter.Take(ctx, "single-translate:tenant-a", lim)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Greater(t, retryAfter, time.Duration(0))
	assert.LessOrEqual(t, retryAfter, 2*time.Second,
		"retry-after is bounded by the window TTL")

	// A different caller shares nothing with tenant-a.
	allowed, _, err = counter.Take(ctx, "single-translate:tenant-b", lim)
	require.NoError(t, err)
	assert.True(t, allowed)

	// The window resets once the TTL lapses.
	assert.Eventually(t, func() bool {
		allowed, _, err := counter.Take(ctx, "single-translate:tenant-a", lim)
		return err == nil && allowed
	}, 5*time.Second, 200*time.Millisecond)
}

func TestIntegration_RedisCounterOutage(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	counter := NewRedisCounter(client)
	_, _, err := counter.Take(context.Background(), "read:tenant-a",
		ClassLimit{Limit: 1, Window: time.Second})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrCounterUnavailable)
}
