/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHealthCheckHandler_ServeHTTP(t *testing.T) {
	tests := []struct {
		name         string
		healthCheck  HealthCheck
		wantCode     int
		wantResponse string
	}{
		{
			name:         "default health-check",
			wantCode:     http.StatusOK,
			wantResponse: `{"components":{}}`,
		},
		{
			name: "all components are healthy",
			healthCheck: func(ctx context.Context) (HealthCheckResult, error) {
				return HealthCheckResult{"rate-limit-store": HealthCheckStatusOK}, nil
			},
			wantCode:     http.StatusOK,
			wantResponse: `{"components":{"rate-limit-store":true}}`,
		},
		{
			name: "one of components is unhealthy",
			healthCheck: func(ctx context.Context) (HealthCheckResult, error) {
				return HealthCheckResult{
					"rate-limit-store": HealthCheckStatusOK,
					"redis":            HealthCheckStatusFail,
				}, nil
			},
			wantCode:     http.StatusServiceUnavailable,
			wantResponse: `{"components":{"rate-limit-store":true,"redis":false}}`,
		},
		{
			name: "health-check failed",
			healthCheck: func(ctx context.Context) (HealthCheckResult, error) {
				return nil, errors.New("internal error")
			},
			wantCode: http.StatusInternalServerError,
		},
		{
			name: "context canceled",
			healthCheck: func(ctx context.Context) (HealthCheckResult, error) {
				return nil, context.Canceled
			},
			wantCode: StatusClientClosedRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			NewHealthCheckHandler(tt.healthCheck).ServeHTTP(resp, req)
			require.Equal(t, tt.wantCode, resp.Code)
			if tt.wantResponse != "" {
				require.JSONEq(t, tt.wantResponse, resp.Body.String())
			} else {
				require.Empty(t, resp.Body.String())
			}
		})
	}
}
