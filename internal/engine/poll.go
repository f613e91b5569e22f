package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// errPollTimeout is returned by pollUntil when its own timeout expires.
var errPollTimeout = errors.New("timed out")

// pollUntil calls fn until it returns nil, waiting interval between calls.
// It gives up after maxAttempts calls (0 means unbounded) or once timeout
// has elapsed (0 means none), returning the last error. Permanent errors
// stop polling at once. On timeout the error wraps both errPollTimeout and
// the last failure.
func pollUntil(ctx context.Context, interval, timeout time.Duration, maxAttempts int, fn func(ctx context.Context, attempt int) error) error {
	pollCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var (
		attempt int
		lastErr error
	)
	op := func() (struct{}, error) {
		attempt++
		err := fn(pollCtx, attempt)
		if err == nil {
			return struct{}{}, nil
		}
		if pollCtx.Err() == nil || lastErr == nil {
			lastErr = err
		}
		if pollCtx.Err() != nil || isPermanent(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewConstantBackOff(interval)),
		// The deadline lives on pollCtx so the last failure can be reported.
		backoff.WithMaxElapsedTime(0),
	}
	if maxAttempts > 0 {
		opts = append(opts, backoff.WithMaxTries(uint(maxAttempts)))
	}
	_, err := backoff.Retry(pollCtx, op, opts...)
	if err == nil {
		return nil
	}

	// Our own deadline, not the caller's.
	if ctx.Err() == nil && pollCtx.Err() != nil {
		if lastErr == nil || errors.Is(lastErr, context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", errPollTimeout, timeout)
		}
		return fmt.Errorf("%w after %s: %w", errPollTimeout, timeout, lastErr)
	}
	if ctx.Err() != nil && lastErr != nil && !errors.Is(lastErr, ctx.Err()) {
		return fmt.Errorf("%w: %w", ctx.Err(), lastErr)
	}
	return err
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
