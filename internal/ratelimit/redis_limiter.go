/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// The first INCR of a window sets its expiry, so the key vanishes when the window ends.
// PTTL is returned to compute the reset time; a key that lost its expiry gets it back.
var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisLimiter is a fixed-window limiter that keeps counters in Redis,
// so all service instances share the same windows.
type RedisLimiter struct {
	cfg    LimiterConfig
	client redis.Scripter
	prefix string
	now    func() time.Time
}

var _ Limiter = (*RedisLimiter)(nil)

// NewRedisLimiter creates a Redis-backed limiter. Keys are built as prefix:namespace:identifier.
func NewRedisLimiter(cfg LimiterConfig, client redis.Scripter, prefix string, opts ...LimiterOption) (*RedisLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	o := makeLimiterOptions(opts)
	return &RedisLimiter{cfg: cfg, client: client, prefix: strings.TrimSpace(prefix), now: o.now}, nil
}

// Allow counts one call of the identifier in Redis.
func (l *RedisLimiter) Allow(ctx context.Context, identifier string) (Result, error) {
	now := l.now()
	vals, err := fixedWindowScript.Run(ctx, l.client, []string{l.key(identifier)}, l.cfg.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("run fixed window script: %w", err)
	}
	if len(vals) != 2 {
		return Result{}, fmt.Errorf("unexpected fixed window script reply of %d elements", len(vals))
	}
	count, ttl := int(vals[0]), time.Duration(vals[1])*time.Millisecond
	remaining := l.cfg.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Success:   count <= l.cfg.Limit,
		Limit:     l.cfg.Limit,
		Remaining: remaining,
		Reset:     now.Add(ttl),
	}, nil
}

func (l *RedisLimiter) key(identifier string) string {
	key := MakeKey(l.cfg.Namespace, identifier)
	if l.prefix == "" {
		return key
	}
	return l.prefix + ":" + key
}
