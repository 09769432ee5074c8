// Package retry provides a simple retry-with-backoff helper.
//
// Operations are retried until they succeed, until the attempt budget is
// exhausted, or until the context is done. Forever retries with no attempt
// budget at all; it is meant for best-effort background work that must not
// surface transient errors to callers.
package retry

import (
	"context"
	"fmt"
	"time"
)

// ErrFailedPermanently is an error raised by the Do function when the
// underlying Operation has been retried maxAttempts times.
type ErrFailedPermanently struct {
	attempts int
	LastErr  error
}

func (e *ErrFailedPermanently) Error() string {
	return fmt.Sprintf("operation failed permanently after %d attempts: %v", e.attempts, e.LastErr)
}

func (e *ErrFailedPermanently) Unwrap() error {
	return e.LastErr
}

type pair[T, U any] struct {
	a T
	b U
}

// Do2 is like Do, but with a result of two values.
func Do2[T, U any](ctx context.Context, maxAttempts int, strategy Strategy, op func() (T, U, error)) (T, U, error) {
	f := func() (pair[T, U], error) {
		a, b, err := op()
		return pair[T, U]{a, b}, err
	}
	res, err := Do(ctx, maxAttempts, strategy, f)
	return res.a, res.b, err
}

// Do performs the provided Operation up to maxAttempts times, with the given
// Strategy dictating the delay between attempts.
// The operation is always performed at least once.
// The context is checked between attempts; an operation that blocks must
// respect the context itself.
func Do[T any](ctx context.Context, maxAttempts int, strategy Strategy, op func() (T, error)) (T, error) {
	var empty, ret T
	var err error
	if maxAttempts < 1 {
		return empty, fmt.Errorf("need at least 1 attempt to run op, but have %d max attempts", maxAttempts)
	}

	for i := 0; i < maxAttempts; i++ {
		if ctx.Err() != nil {
			return empty, ctx.Err()
		}
		ret, err = op()
		if err == nil {
			return ret, nil
		}
		if i != maxAttempts-1 {
			if err := sleepCtx(ctx, strategy.Duration(i)); err != nil {
				return empty, err
			}
		}
	}
	return empty, &ErrFailedPermanently{
		attempts: maxAttempts,
		LastErr:  err,
	}
}

// Forever performs the provided operation until it succeeds or the context is
// done, waiting the strategy's delay between attempts. The only error it ever
// returns is the context's.
func Forever[T any](ctx context.Context, strategy Strategy, op func() (T, error)) (T, error) {
	var empty T
	for i := 0; ; i++ {
		if ctx.Err() != nil {
			return empty, ctx.Err()
		}
		ret, err := op()
		if err == nil {
			return ret, nil
		}
		if err := sleepCtx(ctx, strategy.Duration(i)); err != nil {
			return empty, err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
