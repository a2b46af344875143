/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package restapi

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/carelog/ratekit/log/logtest"
	"github.com/carelog/ratekit/testutil"
)

const testDomain = "RateKit"

func TestHTTPCode2ErrorCode(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{http.StatusInternalServerError, ErrCodeInternal},
		{http.StatusTooManyRequests, "tooManyRequests"},
		{http.StatusRequestEntityTooLarge, "requestEntityTooLarge"},
		{http.StatusBadRequest, "badRequest"},
		{http.StatusUnsupportedMediaType, "unsupportedMediaType"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, httpCode2ErrorCode(tt.code))
	}
}

func TestErrorAddContext(t *testing.T) {
	err := NewTooManyRequestsError(testDomain).AddContext("namespace", "fetch-url")
	require.Equal(t, ErrCodeTooManyRequests, err.Code)
	require.Equal(t, map[string]interface{}{"namespace": "fetch-url"}, err.Context)
}

func TestRespondJSON(t *testing.T) {
	resp := httptest.NewRecorder()
	RespondJSON(resp, map[string]string{"url": "https://example.com/?a=1&b=2"}, logtest.NewRecorder())
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, ContentTypeAppJSON, resp.Header().Get("Content-Type"))
	require.Equal(t, `{"url":"https://example.com/?a=1&b=2"}`, resp.Body.String())
}

func TestRespondCodeAndJSONWithNilData(t *testing.T) {
	resp := httptest.NewRecorder()
	RespondCodeAndJSON(resp, http.StatusNoContent, nil, nil)
	require.Equal(t, http.StatusNoContent, resp.Code)
	require.Empty(t, resp.Body.String())
}

func TestRespondError(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	MustInitAndRegisterMetrics("ratekit", reg)
	defer UnregisterMetrics(reg)

	logRecorder := logtest.NewRecorder()
	resp := httptest.NewRecorder()
	RespondError(resp, http.StatusTooManyRequests, NewTooManyRequestsError(testDomain), logRecorder)

	testutil.RequireErrorInRecorder(t, resp, http.StatusTooManyRequests, testDomain, ErrCodeTooManyRequests)
	entry, found := logRecorder.FindEntry("error in response")
	require.True(t, found)
	require.Equal(t, ErrCodeTooManyRequests, entry.FieldString("error_code"))
	require.Equal(t, 1.0, promtestutil.ToFloat64(metricsResponseErrors.WithLabelValues(testDomain, ErrCodeTooManyRequests)))
}

func TestRespondMalformedRequestOrInternalError(t *testing.T) {
	resp := httptest.NewRecorder()
	RespondMalformedRequestOrInternalError(resp, testDomain,
		&MalformedRequestError{http.StatusBadRequest, "bad"}, logtest.NewRecorder())
	testutil.RequireErrorInRecorder(t, resp, http.StatusBadRequest, testDomain, "badRequest")

	resp = httptest.NewRecorder()
	RespondMalformedRequestOrInternalError(resp, testDomain, errors.New("boom"), logtest.NewRecorder())
	testutil.RequireErrorInRecorder(t, resp, http.StatusInternalServerError, testDomain, ErrCodeInternal)
}

func TestDecodeRequestJSON(t *testing.T) {
	type checkRequest struct {
		Identifier string `json:"identifier"`
	}

	tests := []struct {
		name        string
		body        string
		contentType string
		maxSize     uint64
		wantErrCode int
		wantID      string
	}{
		{name: "ok", body: `{"identifier":"user-1"}`, contentType: "application/json; charset=utf-8", wantID: "user-1"},
		{name: "no content type", body: `{"identifier":"user-2"}`, wantID: "user-2"},
		{name: "empty body", body: ``, wantErrCode: http.StatusBadRequest},
		{name: "truncated", body: `{"identifier":`, wantErrCode: http.StatusBadRequest},
		{name: "syntax error", body: `{"identifier" "x"}`, wantErrCode: http.StatusBadRequest},
		{name: "wrong type", body: `{"identifier":1}`, wantErrCode: http.StatusBadRequest},
		{name: "two objects", body: `{"identifier":"a"}{"identifier":"b"}`, wantErrCode: http.StatusBadRequest},
		{name: "unsupported content type", body: `{}`, contentType: "text/plain", wantErrCode: http.StatusUnsupportedMediaType},
		{name: "too large", body: `{"identifier":"` + strings.Repeat("x", 64) + `"}`, maxSize: 16,
			wantErrCode: http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			if tt.maxSize > 0 {
				SetRequestMaxBodySize(httptest.NewRecorder(), req, tt.maxSize)
			}
			var dst checkRequest
			err := DecodeRequestJSON(req, &dst)
			if tt.wantErrCode == 0 {
				require.NoError(t, err)
				require.Equal(t, tt.wantID, dst.Identifier)
				return
			}
			var reqErr *MalformedRequestError
			require.ErrorAs(t, err, &reqErr)
			require.Equal(t, tt.wantErrCode, reqErr.HTTPStatusCode)
		})
	}
}
