/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/carelog/ratekit/log"
	"github.com/carelog/ratekit/lrucache"
	"github.com/carelog/ratekit/retry"
)

// Default values of the facade configuration.
const (
	DefaultRedisBreakerDuration = 30 * time.Second
	DefaultRedisPingTimeout     = 2 * time.Second
	DefaultRedisPingRetries     = 2
	DefaultRedisKeyPrefix       = "ratekit"
)

// Algorithm is a rate-limiting algorithm of a namespace.
type Algorithm string

// Supported algorithms.
const (
	AlgorithmFixedWindow   Algorithm = "fixedWindow"
	AlgorithmSlidingWindow Algorithm = "slidingWindow"
	AlgorithmLeakyBucket   Algorithm = "leakyBucket"
)

// NamespaceConfig describes one namespace served by the facade.
type NamespaceConfig struct {
	LimiterConfig
	// Algorithm defaults to AlgorithmFixedWindow. Only fixed-window namespaces use the durable store.
	Algorithm Algorithm
	// MaxBurst is used by AlgorithmLeakyBucket only.
	MaxBurst int
	// DryRun namespaces report real decisions, but callers should not reject requests.
	DryRun bool
	// Disabled namespaces are not rate limited at all.
	Disabled bool
}

// RedisConfig describes the durable store.
type RedisConfig struct {
	Enabled         bool
	Address         string
	Password        string
	DB              int
	KeyPrefix       string
	// BreakerDuration is how long Redis is bypassed after a failure.
	BreakerDuration time.Duration
	PingTimeout     time.Duration
	// PingRetries is the number of extra PING attempts made when connecting.
	PingRetries int
}

// FacadeConfig is the configuration of the Facade.
type FacadeConfig struct {
	Enabled    bool
	Namespaces []NamespaceConfig
	Redis      RedisConfig
	// MaxKeys bounds the in-memory window store (0 means unbounded).
	MaxKeys int
}

// RedisClient is the part of *redis.Client used by the facade.
type RedisClient interface {
	redis.Scripter
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// RedisClientFactory creates a Redis client.
type RedisClientFactory func(opts *redis.Options) RedisClient

// FacadeOption configures the Facade.
type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	now                func() time.Time
	newRedisClient     RedisClientFactory
	metrics            MetricsCollector
	storeMetrics       lrucache.MetricsCollector
	store              WindowStore
	redisRetryInterval time.Duration
}

// WithFacadeClock sets the time source of the facade and all its limiters.
func WithFacadeClock(now func() time.Time) FacadeOption {
	return func(o *facadeOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithRedisClientFactory replaces redis.NewClient.
func WithRedisClientFactory(factory RedisClientFactory) FacadeOption {
	return func(o *facadeOptions) {
		if factory != nil {
			o.newRedisClient = factory
		}
	}
}

// WithMetrics sets the collector of decision and fallback metrics.
func WithMetrics(mc MetricsCollector) FacadeOption {
	return func(o *facadeOptions) {
		if mc != nil {
			o.metrics = mc
		}
	}
}

// WithStoreMetrics sets the metrics collector of the bounded window store.
func WithStoreMetrics(mc lrucache.MetricsCollector) FacadeOption {
	return func(o *facadeOptions) {
		o.storeMetrics = mc
	}
}

// WithWindowStore makes the facade use the given store instead of building one from the config.
func WithWindowStore(store WindowStore) FacadeOption {
	return func(o *facadeOptions) {
		o.store = store
	}
}

type namespaceLimiters struct {
	cfg      NamespaceConfig
	memory   Limiter
	denyLogs *rate.Sometimes
}

// Facade is the single entry point for rate-limit checks.
//
// Fixed-window namespaces are checked against Redis when it is configured. Any Redis failure
// opens a breaker for RedisConfig.BreakerDuration; while it is open, and whenever Redis is not
// configured, checks are served by the in-memory limiters. The facade never returns errors.
type Facade struct {
	cfg        FacadeConfig
	logger     log.FieldLogger
	opts       facadeOptions
	store      WindowStore
	namespaces map[string]*namespaceLimiters

	// redisMu is never held while talking to Redis.
	redisMu         sync.Mutex
	redisClient     RedisClient
	redisConnecting bool
	redisLimiters   map[string]*RedisLimiter
	breakerUntil    time.Time
	closed          bool
}

// errRedisConnecting is returned to callers that arrive while another one connects to Redis.
var errRedisConnecting = errors.New("redis connection is being established")

// NewFacade creates a Facade. It fails if any namespace has an invalid configuration.
// Missing Redis configuration is not an error: all checks are then served from memory.
func NewFacade(cfg FacadeConfig, logger log.FieldLogger, options ...FacadeOption) (*Facade, error) {
	opts := facadeOptions{
		now:                time.Now,
		newRedisClient:     func(o *redis.Options) RedisClient { return redis.NewClient(o) },
		metrics:            disabledMetrics{},
		redisRetryInterval: 100 * time.Millisecond,
	}
	for _, opt := range options {
		opt(&opts)
	}
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	if cfg.Redis.Enabled && strings.TrimSpace(cfg.Redis.Address) == "" {
		logger.Warn("redis address is not configured, rate limits are served from memory")
		cfg.Redis.Enabled = false
	}
	if cfg.Redis.BreakerDuration <= 0 {
		cfg.Redis.BreakerDuration = DefaultRedisBreakerDuration
	}
	if cfg.Redis.PingTimeout <= 0 {
		cfg.Redis.PingTimeout = DefaultRedisPingTimeout
	}
	if cfg.Redis.PingRetries < 0 {
		cfg.Redis.PingRetries = 0
	}

	store := opts.store
	if store == nil {
		var err error
		if store, err = newWindowStore(cfg.MaxKeys, opts.storeMetrics); err != nil {
			return nil, fmt.Errorf("new window store: %w", err)
		}
	}

	f := &Facade{
		cfg:           cfg,
		logger:        logger,
		opts:          opts,
		store:         store,
		namespaces:    make(map[string]*namespaceLimiters, len(cfg.Namespaces)),
		redisLimiters: make(map[string]*RedisLimiter),
	}
	for _, nsCfg := range cfg.Namespaces {
		if _, dup := f.namespaces[nsCfg.Namespace]; dup {
			return nil, fmt.Errorf("namespace %q is configured more than once", nsCfg.Namespace)
		}
		limiter, err := f.newMemoryLimiter(nsCfg)
		if err != nil {
			return nil, err
		}
		f.namespaces[nsCfg.Namespace] = &namespaceLimiters{
			cfg:      nsCfg,
			memory:   limiter,
			denyLogs: &rate.Sometimes{First: 3, Interval: time.Second},
		}
	}
	return f, nil
}

func newWindowStore(maxKeys int, mc lrucache.MetricsCollector) (WindowStore, error) {
	if maxKeys > 0 {
		return NewLRUWindowStore(maxKeys, mc)
	}
	return NewMapWindowStore(), nil
}

func (f *Facade) newMemoryLimiter(nsCfg NamespaceConfig) (Limiter, error) {
	switch nsCfg.Algorithm {
	case "", AlgorithmFixedWindow:
		return NewInMemoryLimiter(nsCfg.LimiterConfig, f.store, WithClock(f.opts.now))
	case AlgorithmSlidingWindow:
		return NewSlidingWindowLimiter(nsCfg.LimiterConfig, f.cfg.MaxKeys, WithClock(f.opts.now))
	case AlgorithmLeakyBucket:
		return NewLeakyBucketLimiter(nsCfg.LimiterConfig, nsCfg.MaxBurst, f.cfg.MaxKeys, WithClock(f.opts.now))
	default:
		return nil, fmt.Errorf("unknown rate limit algorithm %q for namespace %q", nsCfg.Algorithm, nsCfg.Namespace)
	}
}

// RateLimit consumes one unit of the identifier's quota in the namespace.
// It returns nil when rate limiting is not applicable: the facade is disabled,
// the namespace is unknown or disabled, or the identifier is empty.
func (f *Facade) RateLimit(ctx context.Context, namespace, identifier string) *Result {
	if !f.cfg.Enabled || identifier == "" {
		return nil
	}
	ns, ok := f.namespaces[namespace]
	if !ok || ns.cfg.Disabled {
		return nil
	}

	var result Result
	backend := BackendMemory
	if redisResult, ok := f.rateLimitRedis(ctx, ns, identifier); ok {
		result, backend = redisResult, BackendRedis
	} else {
		var err error
		if result, err = ns.memory.Allow(ctx, identifier); err != nil {
			// Only a misbehaving store can get here, availability wins over accuracy.
			f.logger.Error("in-memory rate limit failed, request is allowed",
				log.String("namespace", namespace), log.Error(err))
			return nil
		}
	}

	decision := DecisionAllowed
	if !result.Success {
		decision = DecisionRejected
		ns.denyLogs.Do(func() {
			f.logger.Info("rate limit exceeded",
				log.String("namespace", namespace),
				log.String("rate_limit_key", identifier),
				log.String("backend", backend),
				log.Int("limit", result.Limit),
				log.Bool("dry_run", ns.cfg.DryRun),
			)
		})
	}
	f.opts.metrics.IncDecisions(namespace, backend, decision)
	return &result
}

// rateLimitRedis returns false when the check has to be served from memory.
func (f *Facade) rateLimitRedis(ctx context.Context, ns *namespaceLimiters, identifier string) (Result, bool) {
	if !f.cfg.Redis.Enabled || (ns.cfg.Algorithm != "" && ns.cfg.Algorithm != AlgorithmFixedWindow) {
		return Result{}, false
	}
	now := f.opts.now()
	if f.isBreakerOpen(now) {
		f.opts.metrics.IncFallbacks(ns.cfg.Namespace)
		return Result{}, false
	}
	limiter, err := f.ensureRedisLimiter(ctx, ns.cfg)
	if errors.Is(err, errRedisConnecting) {
		f.opts.metrics.IncFallbacks(ns.cfg.Namespace)
		return Result{}, false
	}
	if err != nil {
		f.tripBreaker(err, now)
		f.opts.metrics.IncFallbacks(ns.cfg.Namespace)
		return Result{}, false
	}
	result, err := limiter.Allow(ctx, identifier)
	if err != nil {
		f.tripBreaker(err, now)
		f.opts.metrics.IncFallbacks(ns.cfg.Namespace)
		return Result{}, false
	}
	return result, true
}

func (f *Facade) isBreakerOpen(now time.Time) bool {
	f.redisMu.Lock()
	defer f.redisMu.Unlock()
	if f.breakerUntil.IsZero() {
		return false
	}
	if now.Before(f.breakerUntil) {
		return true
	}
	f.breakerUntil = time.Time{}
	return false
}

func (f *Facade) tripBreaker(err error, now time.Time) {
	f.redisMu.Lock()
	defer f.redisMu.Unlock()
	if !f.breakerUntil.IsZero() && now.Before(f.breakerUntil) {
		return
	}
	f.breakerUntil = now.Add(f.cfg.Redis.BreakerDuration)
	f.logger.Warn("redis is unavailable, rate limits are served from memory",
		log.Error(err), log.Duration("breaker_duration", f.cfg.Redis.BreakerDuration))
}

// ensureRedisLimiter returns the Redis limiter of the namespace, connecting to Redis first if needed.
// Only one caller connects at a time; the others get errRedisConnecting and are served from memory.
func (f *Facade) ensureRedisLimiter(ctx context.Context, nsCfg NamespaceConfig) (*RedisLimiter, error) {
	client, err := f.acquireRedisClient(ctx)
	if err != nil {
		return nil, err
	}

	f.redisMu.Lock()
	defer f.redisMu.Unlock()
	if limiter, ok := f.redisLimiters[nsCfg.Namespace]; ok {
		return limiter, nil
	}
	limiter, err := NewRedisLimiter(nsCfg.LimiterConfig, client, f.redisKeyPrefix(), WithClock(f.opts.now))
	if err != nil {
		return nil, err
	}
	f.redisLimiters[nsCfg.Namespace] = limiter
	return limiter, nil
}

func (f *Facade) acquireRedisClient(ctx context.Context) (RedisClient, error) {
	f.redisMu.Lock()
	if f.closed {
		f.redisMu.Unlock()
		return nil, errors.New("rate limit facade is closed")
	}
	if f.redisClient != nil {
		client := f.redisClient
		f.redisMu.Unlock()
		return client, nil
	}
	if f.redisConnecting {
		f.redisMu.Unlock()
		return nil, errRedisConnecting
	}
	f.redisConnecting = true
	f.redisMu.Unlock()

	client, err := f.connectRedis(ctx)

	f.redisMu.Lock()
	defer f.redisMu.Unlock()
	f.redisConnecting = false
	if err != nil {
		return nil, err
	}
	if f.closed {
		_ = client.Close()
		return nil, errors.New("rate limit facade is closed")
	}
	f.redisClient = client
	return client, nil
}

// connectRedis dials and pings Redis. It must be called without redisMu held.
func (f *Facade) connectRedis(ctx context.Context) (RedisClient, error) {
	addr := strings.TrimSpace(f.cfg.Redis.Address)
	if addr == "" {
		return nil, errors.New("redis address is not configured")
	}
	client := f.opts.newRedisClient(&redis.Options{
		Addr:     addr,
		Password: f.cfg.Redis.Password,
		DB:       f.cfg.Redis.DB,
	})
	policy := retry.PolicyFunc(func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(f.opts.redisRetryInterval), uint64(f.cfg.Redis.PingRetries))
	})
	err := retry.DoWithRetry(ctx, policy, nil, retry.NotifyWithLogger(f.logger, "redis ping failed, retrying"),
		func(ctx context.Context) error {
			pingCtx, cancel := context.WithTimeout(ctx, f.cfg.Redis.PingTimeout)
			defer cancel()
			return client.Ping(pingCtx).Err()
		})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", addr, err)
	}
	f.logger.Info("redis rate limit store is connected", log.String("address", addr))
	return client, nil
}

func (f *Facade) redisKeyPrefix() string {
	if f.cfg.Redis.KeyPrefix == "" {
		return DefaultRedisKeyPrefix
	}
	return f.cfg.Redis.KeyPrefix
}

// IsDryRun reports whether rejections in the namespace should only be logged.
func (f *Facade) IsDryRun(namespace string) bool {
	ns, ok := f.namespaces[namespace]
	return ok && ns.cfg.DryRun
}

// Enabled reports whether the facade performs any checks.
func (f *Facade) Enabled() bool {
	return f.cfg.Enabled
}

// RedisAvailable reports whether fixed-window checks currently go to Redis:
// it is configured and its breaker is closed.
func (f *Facade) RedisAvailable() bool {
	return f.cfg.Redis.Enabled && !f.isBreakerOpen(f.opts.now())
}

// Namespaces returns configurations of all namespaces sorted by name.
func (f *Facade) Namespaces() []NamespaceConfig {
	res := make([]NamespaceConfig, 0, len(f.namespaces))
	for _, ns := range f.namespaces {
		res = append(res, ns.cfg)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Namespace < res[j].Namespace })
	return res
}

// Namespace returns configuration of the namespace.
func (f *Facade) Namespace(name string) (NamespaceConfig, bool) {
	ns, ok := f.namespaces[name]
	if !ok {
		return NamespaceConfig{}, false
	}
	return ns.cfg, true
}

// Store returns the in-memory window store shared by fixed-window namespaces.
func (f *Facade) Store() WindowStore {
	return f.store
}

// Sweep removes expired windows from the in-memory store.
func (f *Facade) Sweep(now time.Time) int {
	return f.store.Sweep(now)
}

// Now returns the current time according to the facade clock.
func (f *Facade) Now() time.Time {
	return f.opts.now()
}

// Close closes the Redis client if it was opened.
// A connection being established concurrently is closed once its PING completes.
func (f *Facade) Close() error {
	f.redisMu.Lock()
	defer f.redisMu.Unlock()
	f.closed = true
	if f.redisClient == nil {
		return nil
	}
	err := f.redisClient.Close()
	f.redisClient = nil
	f.redisLimiters = make(map[string]*RedisLimiter)
	return err
}
