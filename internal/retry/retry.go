// Package retry wraps transient storage and database operations in a
// bounded exponential backoff. File-notifiable errors are never retried:
// they describe the file itself, not a transient condition.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cmgoffena13/etl-file-loader/internal/fileerr"
)

// Policy controls the attempt budget and backoff curve.
type Policy struct {
	Attempts     int
	InitialDelay time.Duration
	Multiplier   float64
}

// Default matches the original discipline: 3 attempts, 250ms initial
// delay, doubling between attempts.
var Default = Policy{
	Attempts:     3,
	InitialDelay: 250 * time.Millisecond,
	Multiplier:   2.0,
}

// Do runs fn under the policy, retrying transient failures with
// exponential backoff. op names the operation for the retry log line.
// Context cancellation stops further attempts.
func (p Policy) Do(ctx context.Context, op string, fn func() error) error {
	if p.Attempts < 1 {
		p = Default
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialDelay
	bo.Multiplier = p.Multiplier
	bo.RandomizationFactor = 0

	attempt := 0
	wrapped := func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if fileerr.Is(err) {
			return backoff.Permanent(err)
		}
		if attempt < p.Attempts {
			slog.Warn("retrying operation",
				"operation", op,
				"attempt", attempt+1,
				"max_attempts", p.Attempts,
				"error", err)
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(p.Attempts-1)), ctx)

	return backoff.Retry(wrapped, policy)
}

// Do runs fn under the default policy.
func Do(ctx context.Context, op string, fn func() error) error {
	return Default.Do(ctx, op, fn)
}
