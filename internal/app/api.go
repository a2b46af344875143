/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/carelog/ratekit/httpserver/middleware"
	"github.com/carelog/ratekit/internal/ratelimit"
	"github.com/carelog/ratekit/log"
	"github.com/carelog/ratekit/restapi"
)

const urlParamNamespace = "namespace"

// ErrCodeNamespaceNotFound is returned when the namespace from URL is not configured.
const ErrCodeNamespaceNotFound = "namespaceNotFound"

// NamespaceResponse describes a configured namespace.
type NamespaceResponse struct {
	Name      string `json:"name"`
	Limit     int    `json:"limit"`
	Window    string `json:"window"`
	Algorithm string `json:"algorithm"`
	DryRun    bool   `json:"dryRun"`
	Disabled  bool   `json:"disabled"`
}

// NamespacesResponse is the body of GET /namespaces.
type NamespacesResponse struct {
	Enabled        bool                `json:"enabled"`
	RedisAvailable bool                `json:"redisAvailable"`
	Namespaces     []NamespaceResponse `json:"namespaces"`
}

// CheckRequest is the body of POST /namespaces/{namespace}/check.
type CheckRequest struct {
	Identifier string `json:"identifier"`
}

// CheckResponse is the body of a successful POST /namespaces/{namespace}/check.
// Decision fields are omitted when rate limiting is not applicable.
type CheckResponse struct {
	Applicable bool  `json:"applicable"`
	Allowed    *bool `json:"allowed,omitempty"`
	Limit      int   `json:"limit,omitempty"`
	Remaining  *int  `json:"remaining,omitempty"`
	Reset      int64 `json:"reset,omitempty"`
	DryRun     bool  `json:"dryRun,omitempty"`
}

// Limiter is the part of *ratelimit.Facade used by the API.
type Limiter interface {
	middleware.RateLimiter
	Enabled() bool
	RedisAvailable() bool
	Namespaces() []ratelimit.NamespaceConfig
	Namespace(name string) (ratelimit.NamespaceConfig, bool)
}

type apiHandler struct {
	limiter   Limiter
	errDomain string
	logger    log.FieldLogger
}

// APIRoutes returns a function that mounts rate-limit API on the router.
func APIRoutes(limiter Limiter, errDomain string, logger log.FieldLogger) func(router chi.Router) {
	h := &apiHandler{limiter: limiter, errDomain: errDomain, logger: logger}
	return func(router chi.Router) {
		router.Get("/namespaces", h.listNamespaces)
		router.Post("/namespaces/{"+urlParamNamespace+"}/check", h.check)
	}
}

func (h *apiHandler) requestLogger(r *http.Request) log.FieldLogger {
	if logger := middleware.GetLoggerFromContext(r.Context()); logger != nil {
		return logger
	}
	return h.logger
}

func (h *apiHandler) listNamespaces(rw http.ResponseWriter, r *http.Request) {
	namespaces := h.limiter.Namespaces()
	resp := NamespacesResponse{
		Enabled:        h.limiter.Enabled(),
		RedisAvailable: h.limiter.RedisAvailable(),
		Namespaces:     make([]NamespaceResponse, 0, len(namespaces)),
	}
	for _, ns := range namespaces {
		resp.Namespaces = append(resp.Namespaces, makeNamespaceResponse(ns))
	}
	restapi.RespondJSON(rw, resp, h.requestLogger(r))
}

func makeNamespaceResponse(ns ratelimit.NamespaceConfig) NamespaceResponse {
	alg := ns.Algorithm
	if alg == "" {
		alg = ratelimit.AlgorithmFixedWindow
	}
	return NamespaceResponse{
		Name:      ns.Namespace,
		Limit:     ns.Limit,
		Window:    ns.Window.String(),
		Algorithm: string(alg),
		DryRun:    ns.DryRun,
		Disabled:  ns.Disabled,
	}
}

func (h *apiHandler) check(rw http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)

	namespace := chi.URLParam(r, urlParamNamespace)
	if _, ok := h.limiter.Namespace(namespace); !ok {
		apiErr := restapi.NewError(h.errDomain, ErrCodeNamespaceNotFound, "Namespace is not configured.").
			AddContext("namespace", namespace)
		restapi.RespondError(rw, http.StatusNotFound, apiErr, logger)
		return
	}

	var req CheckRequest
	if err := restapi.DecodeRequestJSON(r, &req); err != nil {
		restapi.RespondMalformedRequestOrInternalError(rw, h.errDomain, err, logger)
		return
	}

	result := h.limiter.RateLimit(r.Context(), namespace, req.Identifier)
	if result == nil {
		restapi.RespondJSON(rw, CheckResponse{Applicable: false}, logger)
		return
	}

	now := h.limiter.Now()
	ratelimit.SetHeaders(rw.Header(), *result, now)
	dryRun := h.limiter.IsDryRun(namespace)
	if !result.Success && !dryRun {
		restapi.RespondError(rw, http.StatusTooManyRequests,
			restapi.NewTooManyRequestsError(h.errDomain).AddContext("namespace", namespace), logger)
		return
	}
	allowed, remaining := result.Success, result.Remaining
	restapi.RespondJSON(rw, CheckResponse{
		Applicable: true,
		Allowed:    &allowed,
		Limit:      result.Limit,
		Remaining:  &remaining,
		Reset:      result.Reset.Unix(),
		DryRun:     dryRun,
	}, logger)
}
