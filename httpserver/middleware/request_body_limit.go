/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"net/http"

	"github.com/carelog/ratekit/restapi"
)

type requestBodyLimitHandler struct {
	next         http.Handler
	maxSizeBytes uint64
	errorDomain  string
}

// RequestBodyLimit is a middleware that sets the maximum allowed size for a request body.
// Requests with a larger Content-Length are rejected right away with 413 and the "requestEntityTooLarge" error
// carrying both the limit ("maxBodySize") and the declared size ("contentLength").
// Others fail on decoding when more than maxSizeBytes is read.
func RequestBodyLimit(maxSizeBytes uint64, errDomain string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return &requestBodyLimitHandler{next, maxSizeBytes, errDomain}
	}
}

func (h *requestBodyLimitHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.ContentLength > int64(h.maxSizeBytes) { //nolint:gosec // maxSizeBytes is a reasonable value
		apiErr := restapi.NewRequestEntityTooLargeError(h.errorDomain, h.maxSizeBytes).
			AddContext("contentLength", r.ContentLength)
		restapi.RespondError(rw, http.StatusRequestEntityTooLarge, apiErr, GetLoggerFromContext(r.Context()))
		return
	}
	restapi.SetRequestMaxBodySize(rw, r, h.maxSizeBytes)
	h.next.ServeHTTP(rw, r)
}
