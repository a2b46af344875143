/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"encoding/json"
	"net/http/httptest"
	"strconv"

	"github.com/stretchr/testify/require"
)

const contentTypeAppJSON = "application/json"

type errorRespData struct {
	Error struct {
		Domain string `json:"domain"`
		Code   string `json:"code"`
	} `json:"error"`
}

// RequireErrorInRecorder asserts that the recorded response has the status code
// and a {"error": {"domain", "code"}} JSON body.
func RequireErrorInRecorder(t require.TestingT, resp *httptest.ResponseRecorder, wantHTTPCode int, wantErrDomain, wantErrCode string) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	require.Equal(t, wantHTTPCode, resp.Code)
	require.Equal(t, contentTypeAppJSON, resp.Header().Get("Content-Type"))
	var errResp errorRespData
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &errResp))
	require.Equal(t, wantErrDomain, errResp.Error.Domain)
	require.Equal(t, wantErrCode, errResp.Error.Code)
}

// RequireJSONInRecorder asserts that the recorded response body decodes into dest and equals want.
func RequireJSONInRecorder(t require.TestingT, resp *httptest.ResponseRecorder, want, dest interface{}) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	require.Equal(t, contentTypeAppJSON, resp.Header().Get("Content-Type"))
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), dest))
	require.Equal(t, want, dest)
}

// RequireRateLimitHeaders asserts the X-RateLimit-Limit and X-RateLimit-Remaining headers
// and checks that X-RateLimit-Reset and Retry-After are present and numeric.
func RequireRateLimitHeaders(t require.TestingT, resp *httptest.ResponseRecorder, wantLimit, wantRemaining int) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	require.Equal(t, strconv.Itoa(wantLimit), resp.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, strconv.Itoa(wantRemaining), resp.Header().Get("X-RateLimit-Remaining"))
	for _, name := range []string{"X-RateLimit-Reset", "Retry-After"} {
		_, err := strconv.ParseInt(resp.Header().Get(name), 10, 64)
		require.NoError(t, err, "header %s should be an integer", name)
	}
}

// RequireNoRateLimitHeaders asserts that the recorded response has none of the rate limit headers.
func RequireNoRateLimitHeaders(t require.TestingT, resp *httptest.ResponseRecorder) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	for _, name := range []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"} {
		require.Empty(t, resp.Header().Get(name), "header %s should not be set", name)
	}
}
