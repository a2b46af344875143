/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package retry runs operations with retries driven by github.com/cenkalti/backoff/v4 policies.
// It is used to verify the Redis connection before the durable rate-limit store is put in use.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/carelog/ratekit/log"
)

// IsRetryable reports whether an operation that failed with err may be attempted again.
type IsRetryable func(err error) bool

// RetryableFunc is an operation that may be retried.
type RetryableFunc func(ctx context.Context) error

// Policy creates a fresh backoff for every DoWithRetry call.
type Policy interface {
	NewBackOff() backoff.BackOff
}

// DoWithRetry calls fn until it succeeds, the policy gives up, ctx is done,
// or fn fails with an error that isRetryable rejects. A nil isRetryable retries every error.
// notify (may be nil) is called before each retry.
func DoWithRetry(ctx context.Context, p Policy, isRetryable IsRetryable, notify backoff.Notify, fn RetryableFunc) error {
	bctx := backoff.WithContext(p.NewBackOff(), ctx)
	op := func() error {
		err := fn(bctx.Context())
		if err != nil && isRetryable != nil && !isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.RetryNotify(op, bctx, notify)
}

// NotifyWithLogger returns a backoff.Notify that logs every failed attempt at "warn" level.
func NotifyWithLogger(logger log.FieldLogger, msg string) backoff.Notify {
	return func(err error, next time.Duration) {
		logger.Warn(msg, log.Error(err), log.Duration("retry_in", next))
	}
}

// PolicyFunc is an adapter to allow the use of ordinary functions as Policy.
type PolicyFunc func() backoff.BackOff

// NewBackOff implements Policy.
func (f PolicyFunc) NewBackOff() backoff.BackOff {
	return f()
}

// ConstantBackoffPolicy retries after the same interval at most maxAttempts times (0 means no limit).
type ConstantBackoffPolicy struct {
	Interval    time.Duration
	MaxAttempts int
}

// NewConstantBackoffPolicy creates a ConstantBackoffPolicy.
func NewConstantBackoffPolicy(interval time.Duration, maxAttempts int) ConstantBackoffPolicy {
	return ConstantBackoffPolicy{Interval: interval, MaxAttempts: maxAttempts}
}

// NewBackOff implements Policy.
func (p ConstantBackoffPolicy) NewBackOff() backoff.BackOff {
	return withMaxRetries(backoff.NewConstantBackOff(p.Interval), p.MaxAttempts)
}

// ExponentialBackoffPolicy retries with exponentially growing intervals at most maxAttempts times (0 means no limit).
type ExponentialBackoffPolicy struct {
	InitialInterval time.Duration
	MaxAttempts     int
}

// NewExponentialBackoffPolicy creates an ExponentialBackoffPolicy.
func NewExponentialBackoffPolicy(initialInterval time.Duration, maxAttempts int) ExponentialBackoffPolicy {
	return ExponentialBackoffPolicy{InitialInterval: initialInterval, MaxAttempts: maxAttempts}
}

// NewBackOff implements Policy.
func (p ExponentialBackoffPolicy) NewBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	return withMaxRetries(eb, p.MaxAttempts)
}

func withMaxRetries(b backoff.BackOff, maxAttempts int) backoff.BackOff {
	if maxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(maxAttempts))
	}
	b.Reset()
	return b
}
