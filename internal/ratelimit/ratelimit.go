// Package ratelimit implements the per-user sliding window that throttles
// chat relay requests.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter allows at most limit events per window for each key. Zero-valued
// limits disable throttling.
type Limiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu     sync.Mutex
	events map[int64][]time.Time
}

func NewLimiter(limit int, window time.Duration) *Limiter {
	return &Limiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		events: make(map[int64][]time.Time),
	}
}

// Allow records an event for the key and reports whether it fits the
// window. Refused events are not recorded, so a spamming user recovers as
// soon as old events age out.
func (l *Limiter) Allow(key int64) bool {
	if l.limit <= 0 || l.window <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	kept := l.events[key][:0]
	for _, t := range l.events[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.limit {
		l.events[key] = kept
		return false
	}
	l.events[key] = append(kept, now)
	return true
}

// Remaining reports how many events the key has left in the current window.
func (l *Limiter) Remaining(key int64) int {
	if l.limit <= 0 || l.window <= 0 {
		return 1
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	active := 0
	for _, t := range l.events[key] {
		if t.After(cutoff) {
			active++
		}
	}
	if active >= l.limit {
		return 0
	}
	return l.limit - active
}
