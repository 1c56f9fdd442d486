// Implements a thread-safe sliding window log rate limiter.

// Package ratelimit implements sliding window rate limiting for HTTP handlers.
package ratelimit

import (
	"sync"
	"time"
)

// Result contains the outcome of a rate limit check.
type Result struct {
	Allowed    bool
	Limit      int           // requests per window
	Remaining  int           // requests left in the current window
	ResetAt    time.Time     // when the oldest counted request leaves the window
	RetryAfter time.Duration // how long to wait before retrying (0 if allowed)
}

// Limiter admits at most limit requests per key within any window-long
// interval.
//
// Each key keeps the timestamps of its admitted requests. A check drops the
// ones older than the window, then admits and records the request if fewer
// than limit remain, so a key never holds more than limit timestamps.
type Limiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	stop      chan struct{}
	closeOnce sync.Once
}

type bucket struct {
	mu   sync.Mutex
	hits []time.Time // ascending
	dead bool        // removed from the map by cleanup
}

// NewLimiter creates a rate limiter allowing requests per window for each
// key. requests must be positive.
func NewLimiter(requests int, window time.Duration) *Limiter {
	return newLimiter(requests, window, time.Now)
}

func newLimiter(requests int, window time.Duration, now func() time.Time) *Limiter {
	l := &Limiter{
		limit:   requests,
		window:  window,
		now:     now,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow checks if a request with the given key is allowed, and counts it if
// so.
func (l *Limiter) Allow(key string) Result {
	for {
		b := l.get(key)
		b.mu.Lock()
		if b.dead {
			// Lost a race with cleanup; the key now has a fresh bucket.
			b.mu.Unlock()
			continue
		}
		r := l.admit(b, l.now())
		b.mu.Unlock()
		return r
	}
}

func (l *Limiter) get(key string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.buckets[key]
	if b == nil {
		b = &bucket{hits: make([]time.Time, 0, l.limit)}
		l.buckets[key] = b
	}
	return b
}

// admit must be called with b.mu held.
func (l *Limiter) admit(b *bucket, now time.Time) Result {
	b.prune(now.Add(-l.window))
	allowed := len(b.hits) < l.limit
	if allowed {
		b.hits = append(b.hits, now)
	}
	r := Result{
		Allowed:   allowed,
		Limit:     l.limit,
		Remaining: l.limit - len(b.hits),
		ResetAt:   now.Add(l.window),
	}
	if len(b.hits) != 0 {
		r.ResetAt = b.hits[0].Add(l.window)
	}
	if !allowed {
		// Rounded up so a client retrying after the header value succeeds.
		wait := r.ResetAt.Sub(now)
		r.RetryAfter = max((wait + time.Second - 1).Truncate(time.Second), time.Second)
	}
	return r
}

// prune drops the hits at or before cutoff.
func (b *bucket) prune(cutoff time.Time) {
	i := 0
	for i < len(b.hits) && !b.hits[i].After(cutoff) {
		i++
	}
	if i != 0 {
		n := copy(b.hits, b.hits[i:])
		b.hits = b.hits[:n]
	}
}

// cleanupLoop removes idle buckets once per window, at most every minute.
func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(max(l.window, time.Minute))
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stop:
			return
		}
	}
}

// cleanup removes buckets with no request inside the window.
func (l *Limiter) cleanup() {
	cutoff := l.now().Add(-l.window)
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		b.mu.Lock()
		b.prune(cutoff)
		if len(b.hits) == 0 {
			b.dead = true
			delete(l.buckets, key)
		}
		b.mu.Unlock()
	}
}

// Close stops the cleanup goroutine.
func (l *Limiter) Close() {
	l.closeOnce.Do(func() { close(l.stop) })
}
