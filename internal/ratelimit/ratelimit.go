package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrRateLimited is returned when no permit is available within the
// caller's wait budget. Recoverable: the next window will have fresh
// permits.
var ErrRateLimited = errors.New("rate limit exceeded")

// Config holds rate limiter settings. Limits are permits per window,
// keyed by backend name; DefaultLimit applies to backends without an
// explicit entry. A limit of zero or below disables limiting for that
// backend.
type Config struct {
	Window       time.Duration
	DefaultLimit int
	Limits       map[string]int
}

// window is a fixed-window counter for one backend.
type window struct {
	start time.Time
	count int
}

// Limiter enforces a maximum number of outbound calls per fixed time
// window, independently per backend. All state is guarded by a single
// mutex so a permit can never be double-granted under concurrent
// access.
//
// The pipeline takes exactly one permit per request, charged to the
// primary backend. A request that falls through to later endpoints in
// its chain does not consume their budgets: fallbacks are the safety
// valve for a primary that is already failing, and rate-limiting them
// too would turn a partial outage into a total one.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	windows map[string]*window
	logger  *slog.Logger

	// now is swappable in tests.
	now func() time.Time
}

// New creates a Limiter from the given configuration.
func New(cfg Config, logger *slog.Logger) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &Limiter{
		cfg:     cfg,
		windows: make(map[string]*window),
		logger:  logger,
		now:     time.Now,
	}
}

// limitFor returns the permit budget for the named backend.
func (l *Limiter) limitFor(name string) int {
	if limit, ok := l.cfg.Limits[name]; ok {
		return limit
	}
	return l.cfg.DefaultLimit
}

// TryAcquire attempts to take one permit for the named backend without
// blocking. It returns false when the current window is exhausted.
func (l *Limiter) TryAcquire(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tryAcquireLocked(name, l.now())
}

// tryAcquireLocked checks the window, rolling it over if it has
// elapsed, and takes a permit if one is free. Callers must hold l.mu.
func (l *Limiter) tryAcquireLocked(name string, now time.Time) bool {
	limit := l.limitFor(name)
	if limit <= 0 {
		return true
	}

	w, ok := l.windows[name]
	if !ok || now.Sub(w.start) >= l.cfg.Window {
		w = &window{start: now}
		l.windows[name] = w
	}

	if w.count >= limit {
		return false
	}
	w.count++
	return true
}

// Acquire blocks until a permit is available for the named backend or
// maxWait elapses, whichever comes first. It returns ErrRateLimited on
// timeout and the context error if ctx is cancelled while waiting.
func (l *Limiter) Acquire(ctx context.Context, name string, maxWait time.Duration) error {
	deadline := l.now().Add(maxWait)

	for {
		l.mu.Lock()
		now := l.now()
		if l.tryAcquireLocked(name, now) {
			l.mu.Unlock()
			return nil
		}
		// Next chance at a permit is the window rollover.
		retryAt := l.windows[name].start.Add(l.cfg.Window)
		l.mu.Unlock()

		if !retryAt.Before(deadline) {
			l.logger.Debug("rate limit wait budget exhausted",
				"backend", name,
				"max_wait", maxWait)
			return ErrRateLimited
		}

		timer := time.NewTimer(retryAt.Sub(now))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Remaining reports how many permits are left in the current window
// for the named backend. Unlimited backends report -1.
func (l *Limiter) Remaining(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	limit := l.limitFor(name)
	if limit <= 0 {
		return -1
	}

	w, ok := l.windows[name]
	if !ok || l.now().Sub(w.start) >= l.cfg.Window {
		return limit
	}
	if w.count >= limit {
		return 0
	}
	return limit - w.count
}
