/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package ratelimit implements fixed-window rate limiting keyed by namespace and identifier.
//
// A namespace (e.g. "fetch-url") has a limit and a window; an identifier is the caller
// (user id or client IP). Counters live in a WindowStore in process memory, or in Redis
// when a durable store is configured. The Facade is the single entry point for request
// handlers: it tries the durable store first and falls back to memory on any failure,
// so rate limiting stays available when Redis does not.
package ratelimit
