package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoSucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesTransient(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(4), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError(errors.New("upstream 503"), 503)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	permanent := errors.New("bad request")
	err := Do(context.Background(), fastPolicy(5), func(ctx context.Context) error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		calls++
		return NewTransientError(errors.New("flaky"), 500)
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoOnAttemptSeesEveryAttempt(t *testing.T) {
	var seen []string
	p := fastPolicy(3)
	p.OnAttempt = func(attempt int, err error) {
		seen = append(seen, fmt.Sprintf("%d:%v", attempt, err == nil))
	}

	calls := 0
	err := Do(context.Background(), p, func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return NewTransientError(errors.New("flaky"), 502)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"1:false", "2:true"}, seen)
}

func TestDoContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := Do(ctx, fastPolicy(5), func(ctx context.Context) error {
		calls++
		cancel()
		return NewTransientError(errors.New("flaky"), 500)
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoValReturnsValue(t *testing.T) {
	calls := 0
	val, err := DoVal(context.Background(), fastPolicy(3), func(ctx context.Context) (int, error) {
		calls++
		if calls < 2 {
			return 0, NewTransientError(errors.New("flaky"), 500)
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, val)
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	p := Policy{
		BaseDelay:      100 * time.Millisecond,
		MaxDelay:       400 * time.Millisecond,
		Multiplier:     2.0,
		JitterFraction: 0,
	}
	assert.Equal(t, 100*time.Millisecond, Backoff(p, 1))
	assert.Equal(t, 200*time.Millisecond, Backoff(p, 2))
	assert.Equal(t, 400*time.Millisecond, Backoff(p, 3))
	assert.Equal(t, 400*time.Millisecond, Backoff(p, 4))
}

func TestBackoffJitterStaysInRange(t *testing.T) {
	p := Policy{
		BaseDelay:      100 * time.Millisecond,
		MaxDelay:       time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
	for i := 0; i < 50; i++ {
		d := Backoff(p, 1)
		assert.GreaterOrEqual(t, d, 75*time.Millisecond)
		assert.LessOrEqual(t, d, 125*time.Millisecond)
	}
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(errors.New("validation failed")))
	assert.True(t, IsTransient(NewTransientError(errors.New("x"), 503)))
	assert.True(t, IsTransient(fmt.Errorf("call failed: %w", NewTransientError(errors.New("x"), 429))))
	assert.True(t, IsTransient(errors.New("read tcp: connection reset by peer")))
}

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:    attempts,
		BaseDelay:      time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		Multiplier:     2.0,
		JitterFraction: 0,
	}
}
