/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package app

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/carelog/ratekit/config"
	"github.com/carelog/ratekit/httpserver/middleware"
	"github.com/carelog/ratekit/internal/ratelimit"
	"github.com/carelog/ratekit/log/logtest"
)

func loadRateLimitConfig(t *testing.T, yamlData string) (*RateLimitConfig, error) {
	t.Helper()
	cfg := NewRateLimitConfig()
	err := config.NewDefaultLoader("").LoadFromReader(bytes.NewBufferString(yamlData), config.DataTypeYAML, cfg)
	return cfg, err
}

func TestRateLimitConfig_Defaults(t *testing.T) {
	cfg := NewRateLimitConfig()
	require.NoError(t, config.NewDefaultLoader("").LoadDefaults(cfg))

	require.True(t, cfg.Enabled)
	require.Equal(t, DefaultNamespaces(), cfg.Namespaces)
	require.Empty(t, cfg.Routes)
	require.Equal(t, IdentifierConfig{UserIDHeader: middleware.RateLimitUserIDHeader}, cfg.Identifier)
	require.Equal(t, RedisConfig{
		KeyPrefix:       ratelimit.DefaultRedisKeyPrefix,
		BreakerDuration: config.TimeDuration(ratelimit.DefaultRedisBreakerDuration),
		PingTimeout:     config.TimeDuration(ratelimit.DefaultRedisPingTimeout),
		PingRetries:     ratelimit.DefaultRedisPingRetries,
	}, cfg.Redis)
	require.Equal(t, StoreConfig{MaxKeys: 100000, SweepInterval: config.TimeDuration(time.Minute)}, cfg.Store)

	facadeCfg := cfg.FacadeConfig()
	require.True(t, facadeCfg.Enabled)
	require.Equal(t, []ratelimit.NamespaceConfig{
		{LimiterConfig: ratelimit.LimiterConfig{Namespace: NamespaceFetchURL, Limit: 10, Window: time.Minute}},
		{LimiterConfig: ratelimit.LimiterConfig{Namespace: NamespaceNotifications, Limit: 5, Window: time.Minute}},
	}, facadeCfg.Namespaces)
	require.False(t, facadeCfg.Redis.Enabled)
	require.Equal(t, 100000, facadeCfg.MaxKeys)
}

func TestRateLimitConfig_YAML(t *testing.T) {
	cfg, err := loadRateLimitConfig(t, `
rateLimit:
  namespaces:
    fetch-url:
      rate: 20/m
    notifications:
      rate: 3/90s
      dryRun: true
    exports:
      rate: 100/h
      algorithm: leakyBucket
      maxBurst: 10
    legacy:
      rate: 1/s
      disabled: true
  routes:
    - path: /api/v1/fetch-url
      methods: post
      namespace: fetch-url
    - path: /api/v1/notifications/*
      methods: [get, POST]
      namespace: notifications
  identifier:
    userIDHeader: X-Account-ID
    trustForwardedFor: true
  redis:
    enabled: true
    address: redis:6379
    password: secret
    db: 2
    keyPrefix: rl
    breakerDuration: 10s
    pingTimeout: 500ms
    pingRetries: 0
  store:
    maxKeys: 0
    sweepInterval: 30s
`)
	require.NoError(t, err)

	require.Equal(t, map[string]NamespaceConfig{
		"fetch-url":     {Rate: RateValue{Count: 20, Window: time.Minute}},
		"notifications": {Rate: RateValue{Count: 3, Window: 90 * time.Second}, DryRun: true},
		"exports":       {Rate: RateValue{Count: 100, Window: time.Hour}, Algorithm: "leakyBucket", MaxBurst: 10},
		"legacy":        {Rate: RateValue{Count: 1, Window: time.Second}, Disabled: true},
	}, cfg.Namespaces)
	require.Equal(t, []RouteConfig{
		{Path: "/api/v1/fetch-url", Methods: MethodsList{"POST"}, Namespace: "fetch-url"},
		{Path: "/api/v1/notifications/*", Methods: MethodsList{"GET", "POST"}, Namespace: "notifications"},
	}, cfg.Routes)
	require.Equal(t, IdentifierConfig{UserIDHeader: "X-Account-ID", TrustForwardedFor: true}, cfg.Identifier)
	require.Equal(t, RedisConfig{
		Enabled:         true,
		Address:         "redis:6379",
		Password:        "secret",
		DB:              2,
		KeyPrefix:       "rl",
		BreakerDuration: config.TimeDuration(10 * time.Second),
		PingTimeout:     config.TimeDuration(500 * time.Millisecond),
		PingRetries:     0,
	}, cfg.Redis)
	require.Equal(t, StoreConfig{MaxKeys: 0, SweepInterval: config.TimeDuration(30 * time.Second)}, cfg.Store)

	facadeCfg := cfg.FacadeConfig()
	require.Equal(t, []ratelimit.NamespaceConfig{
		{
			LimiterConfig: ratelimit.LimiterConfig{Namespace: "exports", Limit: 100, Window: time.Hour},
			Algorithm:     ratelimit.AlgorithmLeakyBucket,
			MaxBurst:      10,
		},
		{LimiterConfig: ratelimit.LimiterConfig{Namespace: "fetch-url", Limit: 20, Window: time.Minute}},
		{LimiterConfig: ratelimit.LimiterConfig{Namespace: "legacy", Limit: 1, Window: time.Second}, Disabled: true},
		{LimiterConfig: ratelimit.LimiterConfig{Namespace: "notifications", Limit: 3, Window: 90 * time.Second}, DryRun: true},
	}, facadeCfg.Namespaces)
	require.Equal(t, ratelimit.RedisConfig{
		Enabled:         true,
		Address:         "redis:6379",
		Password:        "secret",
		DB:              2,
		KeyPrefix:       "rl",
		BreakerDuration: 10 * time.Second,
		PingTimeout:     500 * time.Millisecond,
	}, facadeCfg.Redis)

	require.Equal(t, middleware.RateLimitOpts{
		Routes: []middleware.RateLimitRoute{
			{Path: "/api/v1/fetch-url", Methods: []string{"POST"}, Namespace: "fetch-url"},
			{Path: "/api/v1/notifications/*", Methods: []string{"GET", "POST"}, Namespace: "notifications"},
		},
		UserIDHeader:      "X-Account-ID",
		TrustForwardedFor: true,
	}, cfg.RateLimitOpts())
}

func TestRateLimitConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "invalid rate format",
			yaml:    `rateLimit: {namespaces: {fetch-url: {rate: "ten per minute"}}}`,
			wantErr: "incorrect format for rate",
		},
		{
			name:    "zero limit",
			yaml:    `rateLimit: {namespaces: {fetch-url: {rate: 0/m}}}`,
			wantErr: "limit should be positive",
		},
		{
			name:    "missing rate",
			yaml:    `rateLimit: {namespaces: {fetch-url: {dryRun: true}}}`,
			wantErr: "window should be positive",
		},
		{
			name:    "unknown algorithm",
			yaml:    `rateLimit: {namespaces: {fetch-url: {rate: 1/s, algorithm: tokenBucket}}}`,
			wantErr: `rateLimit.namespaces.fetch-url.algorithm: unknown value "tokenBucket"`,
		},
		{
			name:    "route without path",
			yaml:    `rateLimit: {routes: [{namespace: fetch-url}]}`,
			wantErr: "rateLimit.routes.0.path: cannot be empty",
		},
		{
			name:    "route with unknown namespace",
			yaml:    `rateLimit: {routes: [{path: /api/*, namespace: uploads}]}`,
			wantErr: `rateLimit.routes.0.namespace: unknown namespace "uploads"`,
		},
		{
			name:    "negative redis db",
			yaml:    `rateLimit: {redis: {db: -1}}`,
			wantErr: "rateLimit.redis.db: cannot be negative",
		},
		{
			name:    "zero breaker duration",
			yaml:    `rateLimit: {redis: {breakerDuration: 0s}}`,
			wantErr: "rateLimit.redis.breakerDuration: must be positive",
		},
		{
			name:    "negative ping retries",
			yaml:    `rateLimit: {redis: {pingRetries: -1}}`,
			wantErr: "rateLimit.redis.pingRetries: cannot be negative",
		},
		{
			name:    "negative max keys",
			yaml:    `rateLimit: {store: {maxKeys: -5}}`,
			wantErr: "rateLimit.store.maxKeys: cannot be negative",
		},
		{
			name:    "negative sweep interval",
			yaml:    `rateLimit: {store: {sweepInterval: -1s}}`,
			wantErr: "rateLimit.store.sweepInterval: cannot be negative",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadRateLimitConfig(t, tt.yaml)
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestRateValue(t *testing.T) {
	tests := []struct {
		in      string
		want    RateValue
		wantStr string
		wantErr bool
	}{
		{in: "10/s", want: RateValue{Count: 10, Window: time.Second}, wantStr: "10/s"},
		{in: "5/m", want: RateValue{Count: 5, Window: time.Minute}, wantStr: "5/m"},
		{in: "1000/H", want: RateValue{Count: 1000, Window: time.Hour}, wantStr: "1000/h"},
		{in: " 7 / 90s ", want: RateValue{Count: 7, Window: 90 * time.Second}, wantStr: "7/1m30s"},
		{in: "", want: RateValue{}, wantStr: ""},
		{in: "10", wantErr: true},
		{in: "x/m", wantErr: true},
		{in: "10/week", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var rv RateValue
			err := rv.UnmarshalText([]byte(tt.in))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, rv)
			require.Equal(t, tt.wantStr, rv.String())
		})
	}

	t.Run("json and yaml", func(t *testing.T) {
		var fromJSON struct {
			Rate    RateValue   `json:"rate"`
			Methods MethodsList `json:"methods"`
		}
		require.NoError(t, json.Unmarshal([]byte(`{"rate":"3/m","methods":["get"," post "]}`), &fromJSON))
		require.Equal(t, RateValue{Count: 3, Window: time.Minute}, fromJSON.Rate)
		require.Equal(t, MethodsList{"GET", "POST"}, fromJSON.Methods)

		var fromYAML struct {
			Rate    RateValue   `yaml:"rate"`
			Methods MethodsList `yaml:"methods"`
		}
		require.NoError(t, yaml.Unmarshal([]byte("rate: 2/h\nmethods: get, delete\n"), &fromYAML))
		require.Equal(t, RateValue{Count: 2, Window: time.Hour}, fromYAML.Rate)
		require.Equal(t, MethodsList{"GET", "DELETE"}, fromYAML.Methods)

		out, err := yaml.Marshal(fromYAML)
		require.NoError(t, err)
		require.Equal(t, "rate: 2/h\nmethods: GET,DELETE\n", string(out))
	})
}

func TestLoadConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
server:
  address: "127.0.0.1:0"
log:
  level: warn
rateLimit:
  namespaces:
    fetch-url:
      rate: 2/m
`), 0o600))

	cfg, err := LoadConfig(cfgPath)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:0", cfg.Server.Address)
	require.Equal(t, map[string]NamespaceConfig{"fetch-url": {Rate: RateValue{Count: 2, Window: time.Minute}}}, cfg.RateLimit.Namespaces)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)

	jsonPath := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(jsonPath,
		[]byte(`{"server": {"address": "127.0.0.1:0"}, "rateLimit": {"namespaces": {"ocr": {"rate": "3/h"}}}}`), 0o600))
	cfg, err = LoadConfig(jsonPath)
	require.NoError(t, err)
	require.Equal(t, map[string]NamespaceConfig{"ocr": {Rate: RateValue{Count: 3, Window: time.Hour}}}, cfg.RateLimit.Namespaces)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "config.toml"))
	require.ErrorContains(t, err, "unsupported configuration file extension")

	cfg, err = LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, DefaultNamespaces(), cfg.RateLimit.Namespaces)
}

func TestLoadConfig_Example(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("..", "..", "cmd", "ratekit", "config.yml"))
	require.NoError(t, err)
	require.False(t, cfg.ProfServer.Enabled)
	require.Equal(t, []string{"/healthz", "/metrics"}, cfg.Server.Log.ExcludedEndpoints)
	require.Len(t, cfg.RateLimit.Namespaces, 4)
	require.Equal(t, "slidingWindow", cfg.RateLimit.Namespaces["summaries"].Algorithm)
	require.Equal(t, NamespaceConfig{
		Rate:      RateValue{Count: 1, Window: time.Second},
		Algorithm: "leakyBucket",
		MaxBurst:  5,
	}, cfg.RateLimit.Namespaces["uploads"])
	require.True(t, cfg.RateLimit.Namespaces[NamespaceNotifications].DryRun)

	a, err := New(cfg, logtest.NewRecorder(), Opts{MetricsGatherer: prometheus.NewRegistry()})
	require.NoError(t, err)
	require.NoError(t, a.Facade.Close())
}
