package ratelimit

import (
	"sync"
	"time"
)

// Config controls the sliding window.
type Config struct {
	Max    int
	Window time.Duration
	Now    func() time.Time
}

// Limiter bounds dispatches within a trailing window using a ledger of
// dispatch timestamps kept in ascending order.
type Limiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	ledger []time.Time
	now    func() time.Time
}

// New creates a limiter. The window defaults to one hour.
func New(cfg Config) *Limiter {
	if cfg.Max <= 0 {
		cfg.Max = 100
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Limiter{max: cfg.Max, window: cfg.Window, now: cfg.Now}
}

// Check prunes entries older than the window and reports whether another
// dispatch is allowed.
func (l *Limiter) Check() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.ledger) < l.max
}

// Record appends a dispatch timestamp.
func (l *Limiter) Record(at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.insert(at)
}

// Allow checks and records in one step.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.prune(now)
	if len(l.ledger) >= l.max {
		return false
	}
	l.insert(now)
	return true
}

// Count returns the number of dispatches inside the window.
func (l *Limiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.ledger)
}

// Max returns the configured ceiling.
func (l *Limiter) Max() int {
	return l.max
}

func (l *Limiter) insert(at time.Time) {
	i := len(l.ledger)
	for i > 0 && l.ledger[i-1].After(at) {
		i--
	}
	l.ledger = append(l.ledger, time.Time{})
	copy(l.ledger[i+1:], l.ledger[i:])
	l.ledger[i] = at
}

func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	idx := 0
	for idx < len(l.ledger) && !l.ledger[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		l.ledger = append(l.ledger[:0], l.ledger[idx:]...)
	}
}
