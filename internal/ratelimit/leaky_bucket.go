/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/throttled/throttled/v2"
	"github.com/throttled/throttled/v2/store/memstore"
)

// LeakyBucketLimiter implements GCRA (Generic Cell Rate Algorithm), a leaky bucket variant
// that spreads calls evenly over the window instead of allowing a burst at its start.
// See https://brandur.org/rate-limiting#gcra.
type LeakyBucketLimiter struct {
	cfg     LimiterConfig
	limiter *throttled.GCRARateLimiterCtx
	now     func() time.Time
}

var _ Limiter = (*LeakyBucketLimiter)(nil)

// NewLeakyBucketLimiter creates a leaky bucket limiter emitting cfg.Limit calls per cfg.Window
// with up to maxBurst additional calls. maxKeys bounds the number of tracked identifiers (0 means unbounded).
func NewLeakyBucketLimiter(cfg LimiterConfig, maxBurst, maxKeys int, opts ...LimiterOption) (*LeakyBucketLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if maxBurst < 0 {
		return nil, fmt.Errorf("max burst should not be negative, got %d", maxBurst)
	}
	gcraStore, err := memstore.NewCtx(maxKeys)
	if err != nil {
		return nil, fmt.Errorf("new in-memory store: %w", err)
	}
	quota := throttled.RateQuota{
		MaxRate:  throttled.PerDuration(cfg.Limit, cfg.Window),
		MaxBurst: maxBurst,
	}
	gcraLimiter, err := throttled.NewGCRARateLimiterCtx(gcraStore, quota)
	if err != nil {
		return nil, fmt.Errorf("new GCRA rate limiter: %w", err)
	}
	o := makeLimiterOptions(opts)
	return &LeakyBucketLimiter{cfg: cfg, limiter: gcraLimiter, now: o.now}, nil
}

// Allow counts one call of the identifier.
// Limit in the result is the bucket capacity (maxBurst+1) and Reset is when the bucket drains completely.
func (l *LeakyBucketLimiter) Allow(ctx context.Context, identifier string) (Result, error) {
	limited, res, err := l.limiter.RateLimitCtx(ctx, MakeKey(l.cfg.Namespace, identifier), 1)
	if err != nil {
		return Result{}, err
	}
	resetAfter := res.ResetAfter
	if resetAfter < 0 {
		resetAfter = 0
	}
	return Result{
		Success:   !limited,
		Limit:     res.Limit,
		Remaining: res.Remaining,
		Reset:     l.now().Add(resetAfter),
	}, nil
}
