/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Result is the outcome of a single rate-limit check.
type Result struct {
	// Success is true when the call is within the limit.
	Success bool
	// Limit is the configured maximum number of calls per window.
	Limit int
	// Remaining is the number of calls left in the current window, never negative.
	Remaining int
	// Reset is the moment the current window ends.
	Reset time.Time
}

// RetryAfter returns the time left until the window resets, floored at 0.
func (r Result) RetryAfter(now time.Time) time.Duration {
	if d := r.Reset.Sub(now); d > 0 {
		return d
	}
	return 0
}

// LimiterConfig describes one rate-limited namespace.
type LimiterConfig struct {
	Namespace string
	Limit     int
	Window    time.Duration
}

// Validate checks that the config can be used to build a limiter.
func (c LimiterConfig) Validate() error {
	var errs []error
	if c.Namespace == "" {
		errs = append(errs, errors.New("namespace cannot be empty"))
	}
	if c.Limit <= 0 {
		errs = append(errs, fmt.Errorf("limit should be positive, got %d", c.Limit))
	}
	if c.Window <= 0 {
		errs = append(errs, fmt.Errorf("window should be positive, got %s", c.Window))
	}
	if len(errs) != 0 {
		return fmt.Errorf("invalid rate limit config for namespace %q: %w", c.Namespace, errors.Join(errs...))
	}
	return nil
}

// Limiter consumes one unit of the identifier's quota and reports the decision.
type Limiter interface {
	Allow(ctx context.Context, identifier string) (Result, error)
}

// MakeKey builds the store key of an identifier within a namespace.
func MakeKey(namespace, identifier string) string {
	return namespace + ":" + identifier
}

// LimiterOption configures limiters built by this package.
type LimiterOption func(*limiterOptions)

type limiterOptions struct {
	now func() time.Time
}

// WithClock sets the time source. It is mostly useful in tests.
func WithClock(now func() time.Time) LimiterOption {
	return func(o *limiterOptions) {
		if now != nil {
			o.now = now
		}
	}
}

func makeLimiterOptions(opts []LimiterOption) limiterOptions {
	o := limiterOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
