/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/carelog/ratekit/config"
	"github.com/carelog/ratekit/internal/ratelimit"
	"github.com/carelog/ratekit/log/logtest"
	"github.com/carelog/ratekit/testutil"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type appTestEnv struct {
	app     *App
	baseURL string
	reg     *prometheus.Registry
	clock   *manualClock
	logger  *logtest.Recorder
}

func startTestApp(t *testing.T, rateLimitYAML string) *appTestEnv {
	t.Helper()
	addr := testutil.GetLocalAddrWithFreeTCPPort()
	cfg := NewConfig()
	cfgData := fmt.Sprintf("server:\n  address: %q\n%s", addr, rateLimitYAML)
	sections := cfg.sections()
	require.NoError(t, config.NewDefaultLoader("").LoadFromReader(
		bytes.NewBufferString(cfgData), config.DataTypeYAML, sections[0], sections[1:]...))

	env := &appTestEnv{
		reg:     prometheus.NewRegistry(),
		clock:   &manualClock{now: testNow},
		logger:  logtest.NewRecorder(),
		baseURL: "http://" + addr,
	}
	var err error
	env.app, err = New(cfg, env.logger, Opts{
		FacadeOptions:   []ratelimit.FacadeOption{ratelimit.WithFacadeClock(env.clock.Now)},
		MetricsGatherer: env.reg,
	})
	require.NoError(t, err)
	env.app.MustRegisterMetrics(env.reg)

	fatalErr := make(chan error, 1)
	go env.app.Start(fatalErr)
	require.NoError(t, testutil.WaitListeningServer(addr, 3*time.Second))
	t.Cleanup(func() {
		require.NoError(t, env.app.Stop(true))
		env.app.UnregisterMetrics(env.reg)
		testutil.RequireNoErrorInChannel(t, fatalErr)
	})
	return env
}

func (env *appTestEnv) do(t *testing.T, method, path, userID, body string) (*http.Response, string) {
	t.Helper()
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, env.baseURL+path, bodyReader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { require.NoError(t, resp.Body.Close()) }()
	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(respBody)
}

func TestApp_RateLimitedRoute(t *testing.T) {
	env := startTestApp(t, `
rateLimit:
  namespaces:
    listing:
      rate: 2/m
  routes:
    - path: /api/ratekit/v1/namespaces
      methods: GET
      namespace: listing
`)

	for i := 0; i < 2; i++ {
		resp, body := env.do(t, http.MethodGet, "/api/ratekit/v1/namespaces", "user-1", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "2", resp.Header.Get("X-RateLimit-Limit"))
		require.Equal(t, fmt.Sprint(1-i), resp.Header.Get("X-RateLimit-Remaining"))
		require.Contains(t, body, `"name":"listing"`)
	}

	resp, body := env.do(t, http.MethodGet, "/api/ratekit/v1/namespaces", "user-1", "")
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))
	require.Equal(t, "60", resp.Header.Get("Retry-After"))
	require.Contains(t, body, `"code":"tooManyRequests"`)

	// Another user is counted separately.
	resp, _ = env.do(t, http.MethodGet, "/api/ratekit/v1/namespaces", "user-2", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// A new window starts after the reset.
	env.clock.Advance(time.Minute)
	resp, _ = env.do(t, http.MethodGet, "/api/ratekit/v1/namespaces", "user-1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "1", resp.Header.Get("X-RateLimit-Remaining"))

	// System endpoints are not matched by the route.
	resp, body = env.do(t, http.MethodGet, "/healthz", "user-1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"components":{"rate-limit-facade":true}}`, body)
	require.Empty(t, resp.Header.Get("X-RateLimit-Limit"))

	_, body = env.do(t, http.MethodGet, "/metrics", "", "")
	require.Contains(t, body, `ratekit_rate_limit_decisions_total{backend="memory",decision="rejected",namespace="listing"} 1`)
	require.Contains(t, body, `ratekit_rate_limit_decisions_total{backend="memory",decision="allowed",namespace="listing"} 4`)
	require.Contains(t, body, `ratekit_restapi_response_errors_total{code="tooManyRequests",domain="Ratekit"} 1`)
	require.Contains(t, body, `ratekit_cache_entries_amount{cache="rate_limit_windows"}`)
	require.Contains(t, body, `ratekit_http_request_duration_seconds`)
}

func TestApp_CheckAPI(t *testing.T) {
	env := startTestApp(t, "")

	resp, body := env.do(t, http.MethodPost, "/api/ratekit/v1/namespaces/notifications/check", "", `{"identifier":"user-1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "5", resp.Header.Get("X-RateLimit-Limit"))
	require.Equal(t, "4", resp.Header.Get("X-RateLimit-Remaining"))
	require.Contains(t, body, `"allowed":true`)

	resp, body = env.do(t, http.MethodPost, "/api/ratekit/v1/namespaces/uploads/check", "", `{"identifier":"user-1"}`)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Contains(t, body, `"code":"namespaceNotFound"`)

	resp, body = env.do(t, http.MethodPost, "/api/ratekit/v1/namespaces/fetch-url/check", "", `{"identifier":""}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"applicable":false}`, body)
}

func TestApp_Sweeper(t *testing.T) {
	env := startTestApp(t, `
rateLimit:
  store:
    sweepInterval: 20ms
`)
	for _, id := range []string{"user-1", "user-2", "user-3"} {
		resp, _ := env.do(t, http.MethodPost, "/api/ratekit/v1/namespaces/fetch-url/check", "", `{"identifier":"`+id+`"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	require.Equal(t, 3, env.app.Facade.Store().Len())

	env.clock.Advance(time.Minute)
	require.Eventually(t, func() bool {
		return env.app.Facade.Store().Len() == 0
	}, 3*time.Second, 10*time.Millisecond)
}

func TestApp_Disabled(t *testing.T) {
	env := startTestApp(t, `
rateLimit:
  enabled: false
  routes:
    - path: /api/ratekit/v1/*
      namespace: fetch-url
`)
	for i := 0; i < 15; i++ {
		resp, _ := env.do(t, http.MethodGet, "/api/ratekit/v1/namespaces", "user-1", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Empty(t, resp.Header.Get("X-RateLimit-Limit"))
	}
	_, body := env.do(t, http.MethodGet, "/api/ratekit/v1/namespaces", "", "")
	require.Contains(t, body, `"enabled":false`)
}

func TestApp_ProfServer(t *testing.T) {
	profAddr := testutil.GetLocalAddrWithFreeTCPPort()
	env := startTestApp(t, fmt.Sprintf("profServer:\n  enabled: true\n  address: %q\n", profAddr))
	require.NoError(t, testutil.WaitListeningServer(profAddr, 3*time.Second))

	resp, err := http.Get("http://" + profAddr + "/debug/pprof/")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, body := env.do(t, http.MethodGet, "/metrics", "", "")
	require.Contains(t, body, `ratekit_build_info{`)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := NewConfig()
	sections := cfg.sections()
	require.NoError(t, config.NewDefaultLoader("").LoadDefaults(sections[0], sections[1:]...))
	cfg.RateLimit.Routes = []RouteConfig{{Namespace: NamespaceFetchURL}}
	_, err := New(cfg, logtest.NewRecorder(), Opts{MetricsGatherer: prometheus.NewRegistry()})
	require.ErrorContains(t, err, "path is required")

	cfg.RateLimit.Routes = nil
	cfg.RateLimit.Namespaces = map[string]NamespaceConfig{"broken": {Rate: RateValue{Count: 0, Window: time.Minute}}}
	_, err = New(cfg, logtest.NewRecorder(), Opts{MetricsGatherer: prometheus.NewRegistry()})
	require.ErrorContains(t, err, "limit should be positive")
}
