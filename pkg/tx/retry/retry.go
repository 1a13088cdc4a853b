// Package retry runs a transaction body under an optimistic-concurrency
// retry policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrConflict is returned by a store when a commit lost a write conflict.
// Only errors matching it are retried.
var ErrConflict = errors.New("tx: write conflict")

// ErrExhausted wraps the last conflict once the attempt budget is spent.
var ErrExhausted = errors.New("tx: retry budget exhausted")

type Policy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 5, BaseBackoff: 10 * time.Millisecond, MaxBackoff: 250 * time.Millisecond}
}

func (p Policy) backoff(attempt int) time.Duration {
	if p.BaseBackoff <= 0 {
		return 0
	}
	d := p.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// Run calls body until it succeeds, fails with a non-conflict error, the
// context ends, or MaxAttempts is reached. It returns the number of attempts made.
func Run(ctx context.Context, p Policy, body func(ctx context.Context, attempt int) error) (int, error) {
	max := p.MaxAttempts
	if max <= 0 {
		max = 1
	}
	var last error
	for attempt := 1; attempt <= max; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}
		last = body(ctx, attempt)
		if last == nil {
			return attempt, nil
		}
		if !errors.Is(last, ErrConflict) {
			return attempt, last
		}
		if attempt == max {
			break
		}
		if d := p.backoff(attempt); d > 0 {
			t := time.NewTimer(d)
			select {
			case <-ctx.Done():
				t.Stop()
				return attempt, ctx.Err()
			case <-t.C:
			}
		}
	}
	return max, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, max, last)
}
