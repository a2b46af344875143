/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"time"
)

// InMemoryLimiter is a fixed-window limiter that keeps counters in a WindowStore.
//
// Calls are counted even when they are denied. A window starts at the first call made
// after the previous one expired, so up to 2*Limit calls may pass around a window boundary.
type InMemoryLimiter struct {
	cfg   LimiterConfig
	store WindowStore
	now   func() time.Time
}

var _ Limiter = (*InMemoryLimiter)(nil)

// NewInMemoryLimiter creates a limiter for the namespace described by cfg.
// A nil store is replaced with a new MapWindowStore.
func NewInMemoryLimiter(cfg LimiterConfig, store WindowStore, opts ...LimiterOption) (*InMemoryLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		store = NewMapWindowStore()
	}
	o := makeLimiterOptions(opts)
	return &InMemoryLimiter{cfg: cfg, store: store, now: o.now}, nil
}

// MustNewInMemoryLimiter is like NewInMemoryLimiter but panics on an invalid config.
func MustNewInMemoryLimiter(cfg LimiterConfig, store WindowStore, opts ...LimiterOption) *InMemoryLimiter {
	l, err := NewInMemoryLimiter(cfg, store, opts...)
	if err != nil {
		panic(err)
	}
	return l
}

// Config returns the limiter configuration.
func (l *InMemoryLimiter) Config() LimiterConfig {
	return l.cfg
}

// Limit counts one call of the identifier and reports whether it fits into the current window.
func (l *InMemoryLimiter) Limit(identifier string) Result {
	now := l.now()
	entry := l.store.Update(MakeKey(l.cfg.Namespace, identifier), func(entry WindowEntry, exists bool) WindowEntry {
		if !exists || now.Sub(entry.WindowStart) >= l.cfg.Window {
			entry = WindowEntry{WindowStart: now, ResetAt: now.Add(l.cfg.Window)}
		}
		entry.Count++
		return entry
	})
	remaining := l.cfg.Limit - entry.Count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Success:   entry.Count <= l.cfg.Limit,
		Limit:     l.cfg.Limit,
		Remaining: remaining,
		Reset:     entry.WindowStart.Add(l.cfg.Window),
	}
}

// Allow implements Limiter. The returned error is always nil.
func (l *InMemoryLimiter) Allow(_ context.Context, identifier string) (Result, error) {
	return l.Limit(identifier), nil
}
