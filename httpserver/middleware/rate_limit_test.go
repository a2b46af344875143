/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/carelog/ratekit/internal/ratelimit"
	"github.com/carelog/ratekit/log/logtest"
	"github.com/carelog/ratekit/restapi"
	"github.com/carelog/ratekit/testutil"
)

const testErrDomain = "RateKit"

func newTestFacade(t *testing.T) *ratelimit.Facade {
	t.Helper()
	facade, err := ratelimit.NewFacade(ratelimit.FacadeConfig{Enabled: true, Namespaces: []ratelimit.NamespaceConfig{
		{LimiterConfig: ratelimit.LimiterConfig{Namespace: "fetch-url", Limit: 2, Window: time.Minute}},
		{LimiterConfig: ratelimit.LimiterConfig{Namespace: "notifications", Limit: 1, Window: time.Minute}, DryRun: true},
	}}, nil)
	require.NoError(t, err)
	return facade
}

func testRateLimitRoutes() []RateLimitRoute {
	return []RateLimitRoute{
		{Path: "/api/fetch-url*", Methods: []string{http.MethodPost}, Namespace: "fetch-url"},
		{Path: "/api/notifications/*", Namespace: "notifications"},
	}
}

type countingHandler struct {
	served atomic.Int32
}

func (h *countingHandler) ServeHTTP(rw http.ResponseWriter, _ *http.Request) {
	h.served.Inc()
	rw.WriteHeader(http.StatusOK)
}

func TestRateLimit_InvalidRoutes(t *testing.T) {
	facade := newTestFacade(t)

	_, err := RateLimit(facade, testErrDomain, RateLimitOpts{Routes: []RateLimitRoute{{Namespace: "fetch-url"}}})
	require.ErrorContains(t, err, "path is required")

	_, err = RateLimit(facade, testErrDomain, RateLimitOpts{Routes: []RateLimitRoute{{Path: "/api/*"}}})
	require.ErrorContains(t, err, "namespace is required")

	require.Panics(t, func() {
		MustRateLimit(facade, testErrDomain, RateLimitOpts{Routes: []RateLimitRoute{{Path: "/api/*"}}})
	})
}

func TestRateLimit_RejectsWhenLimitExceeded(t *testing.T) {
	next := &countingHandler{}
	handler := MustRateLimit(newTestFacade(t), testErrDomain, RateLimitOpts{Routes: testRateLimitRoutes()})(next)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/fetch-url", nil)
		req.Header.Set(RateLimitUserIDHeader, "user-1")
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		require.Equal(t, http.StatusOK, resp.Code)
		testutil.RequireRateLimitHeaders(t, resp, 2, 1-i)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/fetch-url", nil)
	req.Header.Set(RateLimitUserIDHeader, "user-1")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	testutil.RequireErrorInRecorder(t, resp, http.StatusTooManyRequests, testErrDomain, restapi.ErrCodeTooManyRequests)
	testutil.RequireRateLimitHeaders(t, resp, 2, 0)
	require.Equal(t, "60", resp.Header().Get("Retry-After"))
	require.EqualValues(t, 2, next.served.Load())

	// Another user has its own quota.
	req = httptest.NewRequest(http.MethodPost, "/api/fetch-url", nil)
	req.Header.Set(RateLimitUserIDHeader, "user-2")
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	testutil.RequireRateLimitHeaders(t, resp, 2, 1)
}

func TestRateLimit_UnmatchedRoutesPassThrough(t *testing.T) {
	next := &countingHandler{}
	handler := MustRateLimit(newTestFacade(t), testErrDomain, RateLimitOpts{Routes: testRateLimitRoutes()})(next)

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/api/fetch-url", nil), // method does not match
		httptest.NewRequest(http.MethodPost, "/api/profile", nil),
	} {
		for i := 0; i < 5; i++ {
			resp := httptest.NewRecorder()
			handler.ServeHTTP(resp, req)
			require.Equal(t, http.StatusOK, resp.Code)
			testutil.RequireNoRateLimitHeaders(t, resp)
		}
	}
	require.EqualValues(t, 10, next.served.Load())
}

func TestRateLimit_DryRun(t *testing.T) {
	logRecorder := logtest.NewRecorder()
	next := &countingHandler{}
	handler := MustRateLimit(newTestFacade(t), testErrDomain, RateLimitOpts{Routes: testRateLimitRoutes()})(next)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/notifications/send", nil)
		req.Header.Set(RateLimitUserIDHeader, "user-1")
		req = req.WithContext(NewContextWithLogger(req.Context(), logRecorder))
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		require.Equal(t, http.StatusOK, resp.Code)
		testutil.RequireRateLimitHeaders(t, resp, 1, 0)
	}
	require.EqualValues(t, 3, next.served.Load())

	entries := logRecorder.FindAllEntriesByFilter(func(entry logtest.RecordedEntry) bool {
		return entry.Text == "rate limit exceeded, request is served in dry-run mode"
	})
	require.Len(t, entries, 2)
	require.Equal(t, "user-1", entries[0].FieldString(RateLimitLogFieldKey))
}

func TestRateLimit_DefaultIdentifier(t *testing.T) {
	tests := []struct {
		name              string
		trustForwardedFor bool
		header            http.Header
		remoteAddr        string
		want              string
	}{
		{
			name:       "user id header",
			header:     http.Header{"X-User-Id": {"user-1"}, "X-Forwarded-For": {"10.0.0.1"}},
			remoteAddr: "192.168.1.1:5555",
			want:       "user-1",
		},
		{
			name:       "remote address",
			header:     http.Header{"X-Forwarded-For": {"10.0.0.1"}},
			remoteAddr: "192.168.1.1:5555",
			want:       "192.168.1.1",
		},
		{
			name:              "first forwarded hop",
			trustForwardedFor: true,
			header:            http.Header{"X-Forwarded-For": {"10.0.0.1, 10.0.0.2"}},
			remoteAddr:        "192.168.1.1:5555",
			want:              "10.0.0.1",
		},
		{
			name:              "no forwarded header",
			trustForwardedFor: true,
			remoteAddr:        "192.168.1.1:5555",
			want:              "192.168.1.1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header = tt.header
			if req.Header == nil {
				req.Header = http.Header{}
			}
			req.RemoteAddr = tt.remoteAddr
			require.Equal(t, tt.want, makeDefaultRateLimitIdentifier("", tt.trustForwardedFor)(req))
		})
	}
}

func TestRateLimit_EmptyIdentifierIsNotLimited(t *testing.T) {
	next := &countingHandler{}
	handler := MustRateLimit(newTestFacade(t), testErrDomain, RateLimitOpts{
		Routes:        testRateLimitRoutes(),
		GetIdentifier: func(r *http.Request) string { return "" },
	})(next)

	for i := 0; i < 5; i++ {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/fetch-url", nil))
		require.Equal(t, http.StatusOK, resp.Code)
		testutil.RequireNoRateLimitHeaders(t, resp)
	}
	require.EqualValues(t, 5, next.served.Load())
}

func TestRateLimit_ResultInContext(t *testing.T) {
	var got ratelimit.Result
	var found bool
	next := http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		got, found = GetRateLimitResultFromContext(r.Context())
	})
	handler := MustRateLimit(newTestFacade(t), testErrDomain, RateLimitOpts{Routes: testRateLimitRoutes()})(next)

	req := httptest.NewRequest(http.MethodPost, "/api/fetch-url", nil)
	req.Header.Set(RateLimitUserIDHeader, "user-1")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.True(t, found)
	require.True(t, got.Success)
	require.Equal(t, 2, got.Limit)
	require.Equal(t, 1, got.Remaining)
}

func TestRateLimit_ConcurrentRequests(t *testing.T) {
	facade, err := ratelimit.NewFacade(ratelimit.FacadeConfig{Enabled: true, Namespaces: []ratelimit.NamespaceConfig{
		{LimiterConfig: ratelimit.LimiterConfig{Namespace: "fetch-url", Limit: 10, Window: time.Minute}},
	}}, nil)
	require.NoError(t, err)
	next := &countingHandler{}
	handler := MustRateLimit(facade, testErrDomain, RateLimitOpts{Routes: testRateLimitRoutes()})(next)

	var rejected atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/api/fetch-url", nil)
			req.Header.Set(RateLimitUserIDHeader, "user-1")
			resp := httptest.NewRecorder()
			handler.ServeHTTP(resp, req)
			if resp.Code == http.StatusTooManyRequests {
				rejected.Inc()
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 10, next.served.Load())
	require.EqualValues(t, 40, rejected.Load())
}
