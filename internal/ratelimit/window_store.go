/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"sync"
	"time"

	"github.com/carelog/ratekit/lrucache"
)

// WindowEntry is the state of one fixed window.
type WindowEntry struct {
	Count       int
	WindowStart time.Time
	// ResetAt is WindowStart plus the namespace window. It lets the store drop
	// stale entries without knowing namespace configuration.
	ResetAt time.Time
}

// UpdateFunc receives the current entry (zero value when exists is false) and returns the entry to store.
type UpdateFunc func(entry WindowEntry, exists bool) WindowEntry

// WindowStore keeps window entries by key. Implementations must be safe for concurrent use.
type WindowStore interface {
	Get(key string) (WindowEntry, bool)
	Set(key string, entry WindowEntry)
	// Update performs an atomic read-modify-write of the entry and returns the stored result.
	Update(key string, fn UpdateFunc) WindowEntry
	Clear()
	Len() int
	// Sweep removes entries with ResetAt not after now and returns how many were removed.
	Sweep(now time.Time) int
}

// MapWindowStore is an unbounded WindowStore. Entries stay until Sweep or Clear removes them.
type MapWindowStore struct {
	mu      sync.Mutex
	entries map[string]WindowEntry
}

var _ WindowStore = (*MapWindowStore)(nil)

// NewMapWindowStore creates an empty MapWindowStore.
func NewMapWindowStore() *MapWindowStore {
	return &MapWindowStore{entries: make(map[string]WindowEntry)}
}

// Get returns the entry stored by key.
func (s *MapWindowStore) Get(key string) (WindowEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	return entry, ok
}

// Set replaces the entry stored by key.
func (s *MapWindowStore) Set(key string, entry WindowEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry
}

// Update atomically replaces the entry stored by key with the result of fn.
func (s *MapWindowStore) Update(key string, fn UpdateFunc) WindowEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, exists := s.entries[key]
	entry = fn(entry, exists)
	s.entries[key] = entry
	return entry
}

// Clear removes all entries.
func (s *MapWindowStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]WindowEntry)
}

// Len returns the number of stored entries.
func (s *MapWindowStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep removes expired entries.
func (s *MapWindowStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int
	for key, entry := range s.entries {
		if !entry.ResetAt.After(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// LRUWindowStore is a WindowStore bounded by the number of keys.
// When the bound is reached the least recently used key is evicted,
// which resets that identifier's counter.
type LRUWindowStore struct {
	cache *lrucache.LRUCache[string, WindowEntry]
}

var _ WindowStore = (*LRUWindowStore)(nil)

// NewLRUWindowStore creates a LRUWindowStore holding at most maxKeys entries.
// metricsCollector may be nil.
func NewLRUWindowStore(maxKeys int, metricsCollector lrucache.MetricsCollector) (*LRUWindowStore, error) {
	cache, err := lrucache.New[string, WindowEntry](maxKeys, metricsCollector)
	if err != nil {
		return nil, err
	}
	return &LRUWindowStore{cache: cache}, nil
}

// Get returns the entry stored by key.
func (s *LRUWindowStore) Get(key string) (WindowEntry, bool) {
	return s.cache.Peek(key)
}

// Set replaces the entry stored by key.
func (s *LRUWindowStore) Set(key string, entry WindowEntry) {
	s.cache.Add(key, entry)
}

// Update atomically replaces the entry stored by key with the result of fn.
func (s *LRUWindowStore) Update(key string, fn UpdateFunc) WindowEntry {
	return s.cache.Compute(key, func(entry WindowEntry, exists bool) WindowEntry {
		return fn(entry, exists)
	})
}

// Clear removes all entries.
func (s *LRUWindowStore) Clear() {
	s.cache.Purge()
}

// Len returns the number of stored entries.
func (s *LRUWindowStore) Len() int {
	return s.cache.Len()
}

// Sweep removes expired entries.
func (s *LRUWindowStore) Sweep(now time.Time) int {
	return s.cache.RemoveIf(func(_ string, entry WindowEntry) bool {
		return !entry.ResetAt.After(now)
	})
}
