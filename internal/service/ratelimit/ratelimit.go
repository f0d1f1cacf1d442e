// Package ratelimit implements sliding-window admission control, one
// independent window per session id.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Options configures a Limiter.
type Options struct {
	// Limit is the maximum number of admitted sends per window.
	Limit int
	// Window is the trailing interval the limit applies to.
	Window time.Duration
}

// DefaultOptions returns the gateway defaults: 10 sends per 10 minutes.
func DefaultOptions() Options {
	return Options{Limit: 10, Window: 10 * time.Minute}
}

// Decision is the outcome of one admission check.
type Decision struct {
	Admitted bool
	// RetryAfter is how many whole seconds until a slot frees up. Only
	// meaningful when Admitted is false; never negative.
	RetryAfter int
}

// Limiter tracks send timestamps per session id. Windows are pruned lazily
// on each admission check; there is no background sweeper.
type Limiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	opts    Options
}

// New creates a Limiter. Zero or negative option fields fall back to the
// defaults.
func New(opts Options) *Limiter {
	def := DefaultOptions()
	if opts.Limit <= 0 {
		opts.Limit = def.Limit
	}
	if opts.Window <= 0 {
		opts.Window = def.Window
	}
	return &Limiter{windows: make(map[string][]time.Time), opts: opts}
}

// TryAdmit prunes the session's window to the trailing interval ending at
// now, then either records the attempt and admits it, or rejects it with the
// delay after which the oldest recorded send falls out of the window.
func (l *Limiter) TryAdmit(id string, now time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.opts.Window)
	window := l.windows[id]
	kept := window[:0]
	for _, ts := range window {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) < l.opts.Limit {
		l.windows[id] = append(kept, now)
		return Decision{Admitted: true}
	}

	l.windows[id] = kept
	remaining := l.opts.Window - now.Sub(kept[0])
	retry := int(math.Ceil(remaining.Seconds()))
	if retry < 0 {
		retry = 0
	}
	return Decision{Admitted: false, RetryAfter: retry}
}

// Forget drops the session's window entirely. Called on session teardown.
func (l *Limiter) Forget(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, id)
}
