// Package retry runs collaborator calls with per-call timeouts and bounded
// exponential backoff. Only transient errors are retried.
package retry

import (
	"context"
	"log/slog"
	"time"

	"wheresmymoney/internal/core"

	"github.com/cenkalti/backoff/v4"
)

type Policy struct {
	// MaxAttempts includes the first call.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// CallTimeout bounds each attempt; zero means no per-call deadline.
	CallTimeout time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 4,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		CallTimeout: 20 * time.Second,
	}
}

// Backoff returns base * 2^attempt capped at max, without jitter. Reconnect
// and requeue loops use it where a predictable schedule matters more than
// spreading load.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Do calls fn until it succeeds, returns a non-transient error, or the
// attempts run out. The last error is returned.
func Do(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func DoValue[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	attempt := 0
	operation := func() (T, error) {
		attempt++
		v, err := call(ctx, p.CallTimeout, fn)
		if err != nil && (!core.IsTransient(err) || ctx.Err() != nil) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	notify := func(err error, delay time.Duration) {
		slog.WarnContext(ctx, "Retrying collaborator call",
			"op", op,
			"attempt", attempt+1,
			"delay", delay,
			"error", err)
	}

	v, err := backoff.RetryNotifyWithData(operation, newBackOff(ctx, p), notify)
	if err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

// newBackOff doubles from BaseDelay up to MaxDelay with jitter and allows
// MaxAttempts calls in total.
func newBackOff(ctx context.Context, p Policy) backoff.BackOff {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

func call[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	v, err := fn(callCtx)
	if err != nil && callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil && !core.IsTransient(err) {
		err = core.TransientError("timeout", err)
	}
	return v, err
}
