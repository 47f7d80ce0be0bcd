package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthai/internal/domain"
	"healthai/internal/provider"
)

func recordingPolicy(attempts int, slept *[]time.Duration) Policy {
	p := Default()
	p.Attempts = attempts
	p.sleep = func(_ context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}
	return p
}

func TestDelay(t *testing.T) {
	p := Default()
	assert.Equal(t, 200*time.Millisecond, p.Delay(0))
	assert.Equal(t, 400*time.Millisecond, p.Delay(1))
	assert.Equal(t, 3200*time.Millisecond, p.Delay(4))
	assert.Equal(t, 5*time.Second, p.Delay(5))
	assert.Equal(t, 5*time.Second, p.Delay(100))
	assert.Equal(t, 200*time.Millisecond, p.Delay(-1))
}

func TestDoRetriesTransient(t *testing.T) {
	var slept []time.Duration
	calls := 0
	v, err := Do(context.Background(), recordingPolicy(3, &slept), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", fmt.Errorf("%w: timeout", domain.ErrIndexUnavailable)
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{200 * time.Millisecond, 400 * time.Millisecond}, slept)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	var slept []time.Duration
	calls := 0
	_, err := Do(context.Background(), recordingPolicy(5, &slept), func(context.Context) (int, error) {
		calls++
		return 0, fmt.Errorf("%w: empty query", domain.ErrInvalidInput)
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, 1, calls)
	assert.Empty(t, slept)
}

func TestDoGivesUp(t *testing.T) {
	var slept []time.Duration
	calls := 0
	_, err := Do(context.Background(), recordingPolicy(2, &slept), func(context.Context) (int, error) {
		calls++
		return 0, domain.ErrGenerationUnavailable
	})
	assert.ErrorIs(t, err, domain.ErrGenerationUnavailable)
	assert.Equal(t, 2, calls)
	assert.Len(t, slept, 1)
}

func TestDoHonoursRetryAfter(t *testing.T) {
	var slept []time.Duration
	calls := 0
	_, err := Do(context.Background(), recordingPolicy(2, &slept), func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, &provider.RateLimitError{Backend: "bedrock", RetryAfter: 2 * time.Second}
		}
		return 1, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{2 * time.Second}, slept)
}

func TestDoStopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := Policy{Attempts: 5, Base: time.Hour}
	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, p, func(context.Context) (int, error) {
			calls++
			return 0, domain.ErrBackendUnavailable
		})
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, domain.ErrBackendUnavailable)
		assert.Equal(t, 1, calls)
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancel")
	}
}

func TestCustomRetryable(t *testing.T) {
	sentinel := errors.New("flaky")
	var slept []time.Duration
	p := recordingPolicy(3, &slept)
	p.Retryable = func(err error) bool { return errors.Is(err, sentinel) }
	calls := 0
	_, _ = Do(context.Background(), p, func(context.Context) (int, error) {
		calls++
		return 0, sentinel
	})
	assert.Equal(t, 3, calls)
}
