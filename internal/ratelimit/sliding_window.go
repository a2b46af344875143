/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/RussellLuo/slidingwindow"

	"github.com/carelog/ratekit/lrucache"
)

// SlidingWindowLimiter implements the sliding window counter algorithm: the number of calls is estimated
// as the count of the current window plus the count of the previous one weighted by their overlap
// with the sliding interval. Unlike the fixed window, it does not admit 2×limit calls at a window boundary.
type SlidingWindowLimiter struct {
	cfg LimiterConfig
	now func() time.Time

	mu      sync.Mutex
	entries map[string]*slidingWindowEntry
	lru     *lrucache.LRUCache[string, *slidingWindowEntry]
}

var _ Limiter = (*SlidingWindowLimiter)(nil)

type slidingWindowEntry struct {
	limiter *slidingwindow.Limiter
	curr    *trackingWindow
}

// trackingWindow is the current window of slidingwindow.Limiter that remembers the count
// the previous window was reset with, so the estimated count can be reported.
type trackingWindow struct {
	*slidingwindow.LocalWindow
	size      time.Duration
	prevCount int64
}

// Reset is called when the limiter advances; the count of the window that becomes the previous one
// is kept only when it is adjacent to the new start.
func (w *trackingWindow) Reset(s time.Time, c int64) {
	w.prevCount = 0
	if s.Sub(w.Start())/w.size == 1 {
		w.prevCount = w.Count()
	}
	w.LocalWindow.Reset(s, c)
}

// NewSlidingWindowLimiter creates a sliding window limiter.
// maxKeys bounds the number of tracked identifiers (0 means unbounded).
func NewSlidingWindowLimiter(cfg LimiterConfig, maxKeys int, opts ...LimiterOption) (*SlidingWindowLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := makeLimiterOptions(opts)
	l := &SlidingWindowLimiter{cfg: cfg, now: o.now}
	if maxKeys == 0 {
		l.entries = make(map[string]*slidingWindowEntry)
		return l, nil
	}
	lru, err := lrucache.New[string, *slidingWindowEntry](maxKeys, nil)
	if err != nil {
		return nil, fmt.Errorf("new LRU in-memory store for keys: %w", err)
	}
	l.lru = lru
	return l, nil
}

func (l *SlidingWindowLimiter) newEntry() *slidingWindowEntry {
	entry := &slidingWindowEntry{}
	entry.limiter, _ = slidingwindow.NewLimiter(l.cfg.Window, int64(l.cfg.Limit),
		func() (slidingwindow.Window, slidingwindow.StopFunc) {
			win, stop := slidingwindow.NewLocalWindow()
			tw := &trackingWindow{LocalWindow: win, size: l.cfg.Window}
			if entry.curr == nil {
				entry.curr = tw
			}
			return tw, stop
		})
	return entry
}

func (l *SlidingWindowLimiter) getEntry(key string) *slidingWindowEntry {
	if l.lru != nil {
		entry, _ := l.lru.GetOrAdd(key, l.newEntry)
		return entry
	}
	entry, ok := l.entries[key]
	if !ok {
		entry = l.newEntry()
		l.entries[key] = entry
	}
	return entry
}

// Allow counts one call of the identifier. Denied calls are not counted.
// Reset in the result is the end of the current window, when the estimate is guaranteed to drop.
func (l *SlidingWindowLimiter) Allow(_ context.Context, identifier string) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry := l.getEntry(MakeKey(l.cfg.Namespace, identifier))
	allowed := entry.limiter.AllowN(now, 1)

	currStart := entry.curr.Start()
	weight := float64(l.cfg.Window-now.Sub(currStart)) / float64(l.cfg.Window)
	used := int64(weight*float64(entry.curr.prevCount)) + entry.curr.Count()
	remaining := l.cfg.Limit - int(used)
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Success:   allowed,
		Limit:     l.cfg.Limit,
		Remaining: remaining,
		Reset:     currStart.Add(l.cfg.Window),
	}, nil
}

// Len returns the number of tracked identifiers.
func (l *SlidingWindowLimiter) Len() int {
	if l.lru != nil {
		return l.lru.Len()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
