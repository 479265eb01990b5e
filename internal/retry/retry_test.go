package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Fixed(3, time.Millisecond), func(_ context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return errBoom
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_Exhausted(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Fixed(3, time.Millisecond), func(context.Context, int) error {
		calls++
		return errBoom
	})

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 3, calls)
}

func TestDo_NonRetriableStopsImmediately(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0
	p := Fixed(5, time.Millisecond).WithClassifier(func(err error) bool {
		return !errors.Is(err, fatal)
	})

	err := Do(context.Background(), p, func(context.Context, int) error {
		calls++
		return fatal
	})

	assert.Equal(t, fatal, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelledDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	err := Do(ctx, Fixed(3, time.Hour), func(context.Context, int) error {
		calls++
		cancel()
		return errBoom
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_ = Do(context.Background(), Policy{}, func(context.Context, int) error {
		calls++
		return errBoom
	})
	assert.Equal(t, 1, calls)
}

func TestDo_Backoff(t *testing.T) {
	var stamps []time.Time
	p := Policy{MaxAttempts: 3, Delay: 10 * time.Millisecond, BackoffMult: 3, MaxDelay: 20 * time.Millisecond}

	_ = Do(context.Background(), p, func(context.Context, int) error {
		stamps = append(stamps, time.Now())
		return errBoom
	})

	require.Len(t, stamps, 3)
	assert.GreaterOrEqual(t, stamps[1].Sub(stamps[0]), 10*time.Millisecond)
	assert.GreaterOrEqual(t, stamps[2].Sub(stamps[1]), 20*time.Millisecond)
}

func TestValue(t *testing.T) {
	v, err := Value(context.Background(), Fixed(2, time.Millisecond), func(_ context.Context, attempt int) (int, error) {
		if attempt == 1 {
			return 0, errBoom
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
}
