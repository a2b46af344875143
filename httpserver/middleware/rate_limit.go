/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/vasayxtx/go-glob"

	"github.com/carelog/ratekit/internal/ratelimit"
	"github.com/carelog/ratekit/log"
	"github.com/carelog/ratekit/restapi"
)

// RateLimitUserIDHeader is the default header carrying the authenticated user id.
const RateLimitUserIDHeader = "X-User-ID"

// RateLimitLogFieldKey is the name of the logged field that contains the rate-limited identifier.
const RateLimitLogFieldKey = "rate_limit_key"

// RateLimiter makes rate-limit decisions. It is implemented by *ratelimit.Facade.
type RateLimiter interface {
	RateLimit(ctx context.Context, namespace, identifier string) *ratelimit.Result
	IsDryRun(namespace string) bool
	Now() time.Time
}

// RateLimitRoute binds requests to a rate-limit namespace.
type RateLimitRoute struct {
	// Path is a glob pattern ("*" matches any sequence of characters) matched against the URL path.
	Path string
	// Methods restricts the route to the listed HTTP methods. Empty means any method.
	Methods []string
	// Namespace is the rate-limit namespace the matched requests are counted in.
	Namespace string
}

// RateLimitGetIdentifierFunc returns the identifier the request is counted for.
// An empty identifier means that the request is not rate limited.
type RateLimitGetIdentifierFunc func(r *http.Request) string

// RateLimitOpts represents options for the RateLimit middleware.
type RateLimitOpts struct {
	// Routes are checked in order and the first matching one wins.
	Routes []RateLimitRoute

	// GetIdentifier overrides the identifier extraction.
	// By default, the UserIDHeader value is used, and the client IP otherwise.
	GetIdentifier RateLimitGetIdentifierFunc

	// UserIDHeader defaults to X-User-ID.
	UserIDHeader string

	// TrustForwardedFor makes the default identifier use the first X-Forwarded-For hop as the client IP.
	TrustForwardedFor bool
}

type compiledRateLimitRoute struct {
	match     func(string) bool
	methods   map[string]struct{}
	namespace string
}

type rateLimitHandler struct {
	next          http.Handler
	limiter       RateLimiter
	errDomain     string
	routes        []compiledRateLimitRoute
	getIdentifier RateLimitGetIdentifierFunc
}

// RateLimit is a middleware that counts requests of matched routes in rate-limit namespaces.
// Every rate-limited response carries the X-RateLimit-* and Retry-After headers.
// A rejected request gets 429 with the "tooManyRequests" error unless its namespace is in dry-run mode.
// Requests that match no route, or have no identifier, pass through untouched.
func RateLimit(limiter RateLimiter, errDomain string, opts RateLimitOpts) (func(next http.Handler) http.Handler, error) {
	routes := make([]compiledRateLimitRoute, 0, len(opts.Routes))
	for i, route := range opts.Routes {
		if route.Path == "" {
			return nil, fmt.Errorf("rate limit route #%d: path is required", i)
		}
		if route.Namespace == "" {
			return nil, fmt.Errorf("rate limit route %q: namespace is required", route.Path)
		}
		compiled := compiledRateLimitRoute{match: glob.Compile(route.Path), namespace: route.Namespace}
		if len(route.Methods) != 0 {
			compiled.methods = make(map[string]struct{}, len(route.Methods))
			for _, method := range route.Methods {
				compiled.methods[strings.ToUpper(method)] = struct{}{}
			}
		}
		routes = append(routes, compiled)
	}

	getIdentifier := opts.GetIdentifier
	if getIdentifier == nil {
		getIdentifier = makeDefaultRateLimitIdentifier(opts.UserIDHeader, opts.TrustForwardedFor)
	}

	return func(next http.Handler) http.Handler {
		return &rateLimitHandler{
			next:          next,
			limiter:       limiter,
			errDomain:     errDomain,
			routes:        routes,
			getIdentifier: getIdentifier,
		}
	}, nil
}

// MustRateLimit is a version of RateLimit that panics on invalid options.
func MustRateLimit(limiter RateLimiter, errDomain string, opts RateLimitOpts) func(next http.Handler) http.Handler {
	mw, err := RateLimit(limiter, errDomain, opts)
	if err != nil {
		panic(err)
	}
	return mw
}

func makeDefaultRateLimitIdentifier(userIDHeader string, trustForwardedFor bool) RateLimitGetIdentifierFunc {
	if userIDHeader == "" {
		userIDHeader = RateLimitUserIDHeader
	}
	return func(r *http.Request) string {
		if userID := strings.TrimSpace(r.Header.Get(userIDHeader)); userID != "" {
			return userID
		}
		if trustForwardedFor {
			if originAddr := getOriginAddr(r); originAddr != "" {
				return originAddr
			}
		}
		return remoteAddrIP(r)
	}
}

func (h *rateLimitHandler) matchNamespace(r *http.Request) (string, bool) {
	for i := range h.routes {
		route := &h.routes[i]
		if route.methods != nil {
			if _, ok := route.methods[r.Method]; !ok {
				continue
			}
		}
		if route.match(r.URL.Path) {
			return route.namespace, true
		}
	}
	return "", false
}

func (h *rateLimitHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	namespace, ok := h.matchNamespace(r)
	if !ok {
		h.next.ServeHTTP(rw, r)
		return
	}
	identifier := h.getIdentifier(r)

	startTime := time.Now()
	result := h.limiter.RateLimit(r.Context(), namespace, identifier)
	lp := GetLoggingParamsFromContext(r.Context())
	if lp != nil {
		lp.AddTimeSlotDurationInMs("rate_limit_ms", time.Since(startTime))
	}
	if result == nil {
		h.next.ServeHTTP(rw, r)
		return
	}

	ratelimit.SetHeaders(rw.Header(), *result, h.limiter.Now())
	if lp != nil {
		lp.ExtendFields(
			log.String("rate_limit_namespace", namespace),
			log.Int("rate_limit_remaining", result.Remaining),
		)
	}

	if !result.Success {
		if !h.limiter.IsDryRun(namespace) {
			logger := GetLoggerFromContext(r.Context())
			if logger != nil {
				logger = logger.With(log.String(RateLimitLogFieldKey, identifier), log.String("rate_limit_namespace", namespace))
			}
			apiErr := restapi.NewTooManyRequestsError(h.errDomain).AddContext("namespace", namespace)
			restapi.RespondError(rw, http.StatusTooManyRequests, apiErr, logger)
			return
		}
		if logger := GetLoggerFromContext(r.Context()); logger != nil {
			logger.Warn("rate limit exceeded, request is served in dry-run mode",
				log.String(RateLimitLogFieldKey, identifier), log.String("rate_limit_namespace", namespace))
		}
	}

	h.next.ServeHTTP(rw, r.WithContext(NewContextWithRateLimitResult(r.Context(), *result)))
}
