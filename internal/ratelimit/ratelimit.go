// Package ratelimit implements a fixed-window per-key admission gate.
// State is in-process: the webhook and sync endpoints are each sized for a
// single active invocation class, so no distributed store is needed.
package ratelimit

import (
	"sync"
	"time"
)

const windowLength = time.Minute

// Result reports the outcome of an admission check.
type Result struct {
	Allowed bool
	// RetryAfter is how long the caller should wait before retrying.
	// Only meaningful when Allowed is false; never exceeds the window.
	RetryAfter time.Duration
}

type window struct {
	start time.Time
	count int
}

// Limiter is a fixed-window counter keyed by an arbitrary string.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

// New creates a limiter.
func New() *Limiter {
	return &Limiter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Check admits or denies one request for key at the given per-minute
// limit. On window expiry the counter resets to 1 for the admitted
// request.
func (l *Limiter) Check(key string, limitPerMinute int) Result {
	if limitPerMinute <= 0 {
		return Result{Allowed: true}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= windowLength {
		l.windows[key] = &window{start: now, count: 1}
		return Result{Allowed: true}
	}

	if w.count < limitPerMinute {
		w.count++
		return Result{Allowed: true}
	}

	retryAfter := windowLength - now.Sub(w.start)
	return Result{Allowed: false, RetryAfter: retryAfter}
}

// Reset clears all windows. Intended for tests.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.windows = make(map[string]*window)
}

// SetClock overrides the limiter's time source. Intended for tests.
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}
