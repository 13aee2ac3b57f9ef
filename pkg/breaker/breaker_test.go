package breaker

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulebridge/rulebridge/errors"
)

var errDownstream = stderrors.New("downstream boom")

func failingCall(ctx context.Context) error { return errDownstream }

func succeedingCall(ctx context.Context) error { return nil }

// tripBreaker drives enough failures through a closed breaker to open it.
func tripBreaker(t *testing.T, b *Breaker) {
	t.Helper()
	for i := 0; i < b.cfg.MinimumVolume; i++ {
		_ = b.Do(context.Background(), failingCall)
	}
	require.Equal(t, StateOpen, b.State(), "breaker should open after sustained failures")
}

func TestBreaker_StaysClosedBelowMinimumVolume(t *testing.T) {
	b := New(Config{Name: "translator", MinimumVolume: 10})
	defer b.Close()

	for i := 0; i < 9; i++ {
		_ = b.Do(context.Background(), failingCall)
	}
	assert.Equal(t, StateClosed, b.State(),
		"error rate must not be evaluated below minimum volume")
}

func TestBreaker_OpensAtErrorRateThreshold(t *testing.T) {
	b := New(Config{Name: "translator", MinimumVolume: 10, ResetTimeout: time.Hour})
	defer b.Close()

	// 5 successes then 5 failures: exactly 50% over 10 outcomes.
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Do(context.Background(), succeedingCall))
	}
	for i := 0; i < 5; i++ {
		_ = b.Do(context.Background(), failingCall)
	}

	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_OpenFailsFast(t *testing.T) {
	b := New(Config{Name: "validator", MinimumVolume: 4, ResetTimeout: time.Hour})
	defer b.Close()
	tripBreaker(t, b)

	invoked := false
	err := b.Do(context.Background(), func(ctx context.Context) error {
		invoked = true
		return nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrCircuitOpen)
	assert.False(t, invoked, "open breaker must not invoke the call")

	stats := b.Stats()
	assert.Equal(t, uint64(1), stats.Rejections)
}

func TestBreaker_HalfOpenProbeSuccessCloses(t *testing.T) {
	b := New(Config{Name: "validator", MinimumVolume: 4, ResetTimeout: 20 * time.Millisecond})
	defer b.Close()
	tripBreaker(t, b)

	require.Eventually(t, func() bool {
		return b.State() == StateHalfOpen
	}, time.Second, 5*time.Millisecond, "breaker should half-open after reset timeout")

	require.NoError(t, b.Do(context.Background(), succeedingCall))
	assert.Equal(t, StateClosed, b.State())

	// The window was reset: a single failure must not re-trip.
	_ = b.Do(context.Background(), failingCall)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	b := New(Config{Name: "validator", MinimumVolume: 4, ResetTimeout: 20 * time.Millisecond})
	defer b.Close()
	tripBreaker(t, b)

	require.Eventually(t, func() bool {
		return b.State() == StateHalfOpen
	}, time.Second, 5*time.Millisecond)

	err := b.Do(context.Background(), failingCall)
	require.Error(t, err)
	assert.Equal(t, StateOpen, b.State(), "failed probe must reopen the breaker")
}

func TestBreaker_HalfOpenAdmitsSingleProbe(t *testing.T) {
	b := New(Config{Name: "validator", MinimumVolume: 4, ResetTimeout: 20 * time.Millisecond})
	defer b.Close()
	tripBreaker(t, b)

	require.Eventually(t, func() bool {
		return b.State() == StateHalfOpen
	}, time.Second, 5*time.Millisecond)

	probeStarted := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- b.Do(context.Background(), func(ctx context.Context) error {
			close(probeStarted)
			<-release
			return nil
		})
	}()

	<-probeStarted

	// A second call while the probe is in flight is rejected.
	err := b.Do(context.Background(), succeedingCall)
	assert.ErrorIs(t, err, errors.ErrCircuitOpen)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_CallTimeoutCountsAsFailure(t *testing.T) {
	b := New(Config{
		Name:          "translator",
		MinimumVolume: 2,
		CallTimeout:   10 * time.Millisecond,
		ResetTimeout:  time.Hour,
	})
	defer b.Close()

	slow := func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	}

	err := b.Do(context.Background(), slow)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrCallTimeout)

	_ = b.Do(context.Background(), slow)
	assert.Equal(t, StateOpen, b.State(), "timeouts must count toward the error rate")
}

func TestBreaker_MeanLatencyTracksCalls(t *testing.T) {
	b := New(Config{Name: "translator"})
	defer b.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Do(context.Background(), func(ctx context.Context) error {
			time.Sleep(2 * time.Millisecond)
			return nil
		}))
	}

	assert.Greater(t, b.MeanLatency(), time.Duration(0))
	stats := b.Stats()
	assert.Equal(t, uint64(3), stats.Calls)
	assert.Equal(t, uint64(3), stats.Successes)
}

func TestBreaker_BackgroundProbeCloses(t *testing.T) {
	probeCalls := make(chan struct{}, 16)
	b := New(Config{
		Name:          "cache",
		MinimumVolume: 2,
		ResetTimeout:  time.Hour, // traffic path never half-opens in this test
		ProbeInterval: 10 * time.Millisecond,
		Probe: func(ctx context.Context) error {
			probeCalls <- struct{}{}
			return nil
		},
	})
	defer b.Close()

	for i := 0; i < 2; i++ {
		_ = b.Do(context.Background(), failingCall)
	}
	require.Equal(t, StateOpen, b.State())

	require.Eventually(t, func() bool {
		return b.State() == StateClosed
	}, time.Second, 5*time.Millisecond, "passing health probe should close the breaker")
	assert.NotEmpty(t, probeCalls)
}

func TestResilientCall(t *testing.T) {
	b := New(Config{Name: "translator", MinimumVolume: 2, ResetTimeout: time.Hour})
	defer b.Close()

	fetch := ResilientCall(b, func(ctx context.Context) (string, error) {
		return "translated", nil
	})

	out, err := fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "translated", out)

	tripBreaker(t, b)

	out, err = fetch(context.Background())
	assert.ErrorIs(t, err, errors.ErrCircuitOpen)
	assert.Empty(t, out, "rejected call must return the zero value")
}
