/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package lrucache provides a bounded in-memory cache with LRU eviction and Prometheus metrics.
// It backs the bounded rate-limit window store: every key is one namespace/identifier counter,
// and the least recently used counters are forgotten when the bound is reached.
package lrucache
