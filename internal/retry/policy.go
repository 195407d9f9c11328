package retry

import (
	"context"
	"time"
)

// Policy holds the timing constants of the retry state machine.
type Policy struct {
	// GracePeriod delays the first automatic retry after a failure.
	GracePeriod time.Duration
	// RetryInterval is the fixed spacing between later retries.
	RetryInterval time.Duration
	// MaxAttempts is the attempt count at which a record fails permanently.
	MaxAttempts int
	// CallTimeout bounds each strategy invocation and ledger call.
	CallTimeout time.Duration
	// CleanupAge is how long terminal records are kept before the sweep.
	CleanupAge time.Duration
}

// DefaultPolicy returns the production constants.
func DefaultPolicy() Policy {
	return Policy{
		GracePeriod:   24 * time.Hour,
		RetryInterval: 24 * time.Hour,
		MaxAttempts:   7,
		CallTimeout:   30 * time.Second,
		CleanupAge:    30 * 24 * time.Hour,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.GracePeriod <= 0 {
		p.GracePeriod = d.GracePeriod
	}
	if p.RetryInterval <= 0 {
		p.RetryInterval = d.RetryInterval
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.CallTimeout <= 0 {
		p.CallTimeout = d.CallTimeout
	}
	if p.CleanupAge <= 0 {
		p.CleanupAge = d.CleanupAge
	}
	return p
}

// RetryStrategy performs one retry of a failed deposit.
// Returning false or an error counts as a failed attempt.
type RetryStrategy interface {
	AttemptRetry(ctx context.Context, rec Record) (bool, error)
}

// RetryFunc adapts a function to RetryStrategy.
type RetryFunc func(ctx context.Context, rec Record) (bool, error)

// AttemptRetry calls f.
func (f RetryFunc) AttemptRetry(ctx context.Context, rec Record) (bool, error) {
	return f(ctx, rec)
}

// ExpulsionStrategy applies the penalty for a record that exhausted its
// attempts. It runs once per record; its error is logged, never retried.
type ExpulsionStrategy interface {
	Expel(ctx context.Context, rec Record) error
}

// ExpelFunc adapts a function to ExpulsionStrategy.
type ExpelFunc func(ctx context.Context, rec Record) error

// Expel calls f.
func (f ExpelFunc) Expel(ctx context.Context, rec Record) error {
	return f(ctx, rec)
}
