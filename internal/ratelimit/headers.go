/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"time"
)

// Rate-limit response headers.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

// Headers returns the rate-limit headers describing result at the moment now.
func Headers(result Result, now time.Time) http.Header {
	h := make(http.Header, 4)
	SetHeaders(h, result, now)
	return h
}

// SetHeaders writes the rate-limit headers describing result into h.
// X-RateLimit-Reset is a Unix timestamp in seconds (truncated).
// Retry-After is the time left until reset rounded up to whole seconds (ceil),
// so 200ms left gives "1" and exactly 2s gives "2"; once the reset has passed it is "0".
func SetHeaders(h http.Header, result Result, now time.Time) {
	h.Set(HeaderRateLimitLimit, strconv.Itoa(result.Limit))
	h.Set(HeaderRateLimitRemaining, strconv.Itoa(result.Remaining))
	h.Set(HeaderRateLimitReset, strconv.FormatInt(result.Reset.Unix(), 10))
	h.Set(HeaderRetryAfter, strconv.Itoa(RetryAfterSeconds(result, now)))
}

// RetryAfterSeconds returns the seconds until result resets, rounded up with math.Ceil and floored at 0.
func RetryAfterSeconds(result Result, now time.Time) int {
	return int(math.Ceil(result.RetryAfter(now).Seconds()))
}
