package ratelimit

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type Config struct {
	Window      time.Duration // failed attempts older than this are forgotten
	MaxAttempts int           // failures inside Window that trigger a lockout
	Lockout     time.Duration
}

func DefaultConfig() Config {
	return Config{
		Window:      time.Minute,
		MaxAttempts: 10,
		Lockout:     5 * time.Minute,
	}
}

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

type entry struct {
	failures    []time.Time
	lockedUntil time.Time
}

// Limiter tracks failed attempts per identifier over a sliding window. Once
// MaxAttempts land inside the window the identifier is locked out for the
// full Lockout, regardless of further activity.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	clock   clockwork.Clock
	entries map[string]*entry
}

func New(cfg Config, clock clockwork.Clock) *Limiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	return &Limiter{cfg: cfg, clock: clock, entries: make(map[string]*entry)}
}

func (l *Limiter) Check(id string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[id]
	if !ok {
		return Decision{Allowed: true}
	}
	now := l.clock.Now()
	if now.Before(e.lockedUntil) {
		return Decision{RetryAfter: e.lockedUntil.Sub(now)}
	}
	l.prune(id, e, now)
	return Decision{Allowed: true}
}

func (l *Limiter) RecordFailedAttempt(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	e, ok := l.entries[id]
	if !ok {
		e = &entry{}
		l.entries[id] = e
	}
	if now.Before(e.lockedUntil) {
		return
	}
	e.failures = append(e.failures, now)
	l.prune(id, e, now)
	if len(e.failures) >= l.cfg.MaxAttempts {
		e.lockedUntil = now.Add(l.cfg.Lockout)
		e.failures = nil
	}
}

func (l *Limiter) Reset(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, id)
}

// prune drops failures that slid out of the window and forgets idle ids.
func (l *Limiter) prune(id string, e *entry, now time.Time) {
	cutoff := now.Add(-l.cfg.Window)
	keep := e.failures[:0]
	for _, t := range e.failures {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	e.failures = keep
	if len(e.failures) == 0 && !now.Before(e.lockedUntil) {
		delete(l.entries, id)
	}
}
