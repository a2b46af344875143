/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package app

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/carelog/ratekit/internal/ratelimit"
	"github.com/carelog/ratekit/log/logtest"
	"github.com/carelog/ratekit/testutil"
)

var testNow = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

func newTestFacade(t *testing.T, namespaces ...ratelimit.NamespaceConfig) *ratelimit.Facade {
	t.Helper()
	facade, err := ratelimit.NewFacade(ratelimit.FacadeConfig{Enabled: true, Namespaces: namespaces},
		logtest.NewRecorder(), ratelimit.WithFacadeClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	return facade
}

func newTestAPIRouter(facade *ratelimit.Facade) chi.Router {
	router := chi.NewRouter()
	router.Route("/api/ratekit/v1", APIRoutes(facade, ErrorDomain, logtest.NewRecorder()))
	return router
}

func doCheck(router http.Handler, namespace, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/ratekit/v1/namespaces/"+namespace+"/check", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestAPI_ListNamespaces(t *testing.T) {
	facade := newTestFacade(t,
		ratelimit.NamespaceConfig{LimiterConfig: ratelimit.LimiterConfig{Namespace: "notifications", Limit: 5, Window: time.Minute}, DryRun: true},
		ratelimit.NamespaceConfig{LimiterConfig: ratelimit.LimiterConfig{Namespace: "fetch-url", Limit: 10, Window: time.Minute}},
	)
	req := httptest.NewRequest(http.MethodGet, "/api/ratekit/v1/namespaces", nil)
	resp := httptest.NewRecorder()
	newTestAPIRouter(facade).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	testutil.RequireJSONInRecorder(t, resp, &NamespacesResponse{
		Enabled:        true,
		RedisAvailable: false,
		Namespaces: []NamespaceResponse{
			{Name: "fetch-url", Limit: 10, Window: "1m0s", Algorithm: "fixedWindow"},
			{Name: "notifications", Limit: 5, Window: "1m0s", Algorithm: "fixedWindow", DryRun: true},
		},
	}, &NamespacesResponse{})
}

func TestAPI_Check(t *testing.T) {
	facade := newTestFacade(t,
		ratelimit.NamespaceConfig{LimiterConfig: ratelimit.LimiterConfig{Namespace: "fetch-url", Limit: 2, Window: time.Minute}},
	)
	router := newTestAPIRouter(facade)
	wantReset := strconv.FormatInt(testNow.Add(time.Minute).Unix(), 10)

	resp := doCheck(router, "fetch-url", `{"identifier":"user-1"}`)
	require.Equal(t, http.StatusOK, resp.Code)
	testutil.RequireRateLimitHeaders(t, resp, 2, 1)
	require.Equal(t, wantReset, resp.Header().Get("X-RateLimit-Reset"))
	require.Equal(t, "60", resp.Header().Get("Retry-After"))
	require.JSONEq(t, `{"applicable":true,"allowed":true,"limit":2,"remaining":1,"reset":`+wantReset+`}`, resp.Body.String())

	resp = doCheck(router, "fetch-url", `{"identifier":"user-1"}`)
	require.Equal(t, http.StatusOK, resp.Code)
	require.JSONEq(t, `{"applicable":true,"allowed":true,"limit":2,"remaining":0,"reset":`+wantReset+`}`, resp.Body.String())

	resp = doCheck(router, "fetch-url", `{"identifier":"user-1"}`)
	testutil.RequireErrorInRecorder(t, resp, http.StatusTooManyRequests, ErrorDomain, "tooManyRequests")
	testutil.RequireRateLimitHeaders(t, resp, 2, 0)

	// Another identifier has its own quota.
	resp = doCheck(router, "fetch-url", `{"identifier":"user-2"}`)
	require.Equal(t, http.StatusOK, resp.Code)
	testutil.RequireRateLimitHeaders(t, resp, 2, 1)
}

func TestAPI_CheckDryRun(t *testing.T) {
	facade := newTestFacade(t, ratelimit.NamespaceConfig{
		LimiterConfig: ratelimit.LimiterConfig{Namespace: "notifications", Limit: 1, Window: time.Minute},
		DryRun:        true,
	})
	router := newTestAPIRouter(facade)

	require.Equal(t, http.StatusOK, doCheck(router, "notifications", `{"identifier":"user-1"}`).Code)

	resp := doCheck(router, "notifications", `{"identifier":"user-1"}`)
	require.Equal(t, http.StatusOK, resp.Code)
	testutil.RequireRateLimitHeaders(t, resp, 1, 0)
	wantReset := strconv.FormatInt(testNow.Add(time.Minute).Unix(), 10)
	require.JSONEq(t, `{"applicable":true,"allowed":false,"limit":1,"remaining":0,"reset":`+wantReset+`,"dryRun":true}`,
		resp.Body.String())
}

func TestAPI_CheckNotApplicable(t *testing.T) {
	facade := newTestFacade(t,
		ratelimit.NamespaceConfig{LimiterConfig: ratelimit.LimiterConfig{Namespace: "fetch-url", Limit: 1, Window: time.Minute}},
		ratelimit.NamespaceConfig{
			LimiterConfig: ratelimit.LimiterConfig{Namespace: "notifications", Limit: 1, Window: time.Minute},
			Disabled:      true,
		},
	)
	router := newTestAPIRouter(facade)

	tests := []struct {
		name      string
		namespace string
		body      string
	}{
		{name: "empty identifier", namespace: "fetch-url", body: `{"identifier":""}`},
		{name: "no identifier", namespace: "fetch-url", body: `{}`},
		{name: "disabled namespace", namespace: "notifications", body: `{"identifier":"user-1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doCheck(router, tt.namespace, tt.body)
			require.Equal(t, http.StatusOK, resp.Code)
			require.JSONEq(t, `{"applicable":false}`, resp.Body.String())
			testutil.RequireNoRateLimitHeaders(t, resp)
		})
	}
}

func TestAPI_CheckErrors(t *testing.T) {
	facade := newTestFacade(t,
		ratelimit.NamespaceConfig{LimiterConfig: ratelimit.LimiterConfig{Namespace: "fetch-url", Limit: 1, Window: time.Minute}},
	)
	router := newTestAPIRouter(facade)

	t.Run("unknown namespace", func(t *testing.T) {
		resp := doCheck(router, "unknown", `{"identifier":"user-1"}`)
		testutil.RequireErrorInRecorder(t, resp, http.StatusNotFound, ErrorDomain, ErrCodeNamespaceNotFound)
	})

	t.Run("malformed json", func(t *testing.T) {
		resp := doCheck(router, "fetch-url", `{"identifier":`)
		testutil.RequireErrorInRecorder(t, resp, http.StatusBadRequest, ErrorDomain, "badRequest")
		testutil.RequireNoRateLimitHeaders(t, resp)
	})

	t.Run("wrong content type", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/ratekit/v1/namespaces/fetch-url/check",
			strings.NewReader(`{"identifier":"user-1"}`))
		req.Header.Set("Content-Type", "text/plain")
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		testutil.RequireErrorInRecorder(t, resp, http.StatusUnsupportedMediaType, ErrorDomain, "unsupportedMediaType")
	})

	// Failed requests do not consume the quota.
	resp := doCheck(router, "fetch-url", `{"identifier":"user-1"}`)
	require.Equal(t, http.StatusOK, resp.Code)
	testutil.RequireRateLimitHeaders(t, resp, 1, 0)
}
