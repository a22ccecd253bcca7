// Package retry runs an operation a bounded number of times with a fixed
// pause between attempts.
//
//	vec, err := retry.DoValue(ctx, retry.Default, func(ctx context.Context) ([]float32, error) {
//	    return provider.Embed(ctx, text)
//	})
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrExhausted is wrapped into the error returned once every attempt failed.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Policy is a fixed-delay bounded retry policy.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first.
	// Values below one are treated as one.
	MaxAttempts int
	// Delay is the pause between consecutive attempts.
	Delay time.Duration
}

// Default is three attempts ten seconds apart.
var Default = Policy{MaxAttempts: 3, Delay: 10 * time.Second}

// Permanent marks err as not worth retrying. Do returns it unwrapped.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do calls op until it succeeds, returns a permanent error, the attempts run
// out, or ctx is done.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var (
		tries     int
		lastErr   error
		permanent bool
	)
	result, err := backoff.Retry(ctx, func() (T, error) {
		tries++
		v, err := op(ctx)
		if err != nil {
			lastErr = err
			var pe *backoff.PermanentError
			permanent = errors.As(err, &pe)
		}
		return v, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(p.Delay)),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Debug("retry: attempt failed, retrying",
				"attempt", tries, "max", attempts, "err", err, "delay", next)
		}),
	)
	if err == nil {
		return result, nil
	}

	var zero T
	if permanent {
		return zero, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return zero, errors.Join(lastErr, ctxErr)
	}
	return zero, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, tries, err)
}
