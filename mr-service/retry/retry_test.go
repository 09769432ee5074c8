package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDoReturnsFirstSuccess(t *testing.T) {
	attempts := 0
	val, err := Do(context.Background(), 5, Fixed(0), func() (int, error) {
		attempts++
		if attempts < 3 {
			return 0, errors.New("not yet")
		}
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, val)
	require.Equal(t, 3, attempts)
}

func TestDoFailsPermanently(t *testing.T) {
	opErr := errors.New("broken")
	attempts := 0
	_, err := Do(context.Background(), 3, Fixed(0), func() (int, error) {
		attempts++
		return 0, opErr
	})
	require.Equal(t, 3, attempts)

	var permErr *ErrFailedPermanently
	require.ErrorAs(t, err, &permErr)
	require.ErrorIs(t, err, opErr)
}

func TestDoRequiresAttempts(t *testing.T) {
	_, err := Do(context.Background(), 0, Fixed(0), func() (int, error) {
		t.Fatal("op should not run")
		return 0, nil
	})
	require.Error(t, err)
}

func TestDoRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Do(ctx, 3, Fixed(time.Hour), func() (int, error) {
		return 0, errors.New("fail")
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestDo2(t *testing.T) {
	a, b, err := Do2(context.Background(), 2, Fixed(0), func() (int, string, error) {
		return 7, "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, 7, a)
	require.Equal(t, "ok", b)
}

func TestForeverRetriesUntilSuccess(t *testing.T) {
	attempts := 0
	val, err := Forever(context.Background(), Fixed(time.Millisecond), func() (string, error) {
		attempts++
		if attempts < 10 {
			return "", errors.New("not yet")
		}
		return "done", nil
	})
	require.NoError(t, err)
	require.Equal(t, "done", val)
	require.Equal(t, 10, attempts)
}

func TestForeverReturnsOnlyContextError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := Forever(ctx, Fixed(time.Millisecond), func() (string, error) {
		return "", errors.New("always failing")
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExponentialStrategyBounds(t *testing.T) {
	s := &ExponentialStrategy{Min: 100 * time.Millisecond, Max: time.Second}
	for i := 0; i < 20; i++ {
		d := s.Duration(i)
		require.GreaterOrEqual(t, d, 100*time.Millisecond)
		require.LessOrEqual(t, d, time.Second+s.MaxJitter)
	}
}

func TestFixedStrategy(t *testing.T) {
	s := Fixed(25 * time.Millisecond)
	require.Equal(t, 25*time.Millisecond, s.Duration(0))
	require.Equal(t, 25*time.Millisecond, s.Duration(9))
}
