package ratelimit

import (
	"context"
	"sync"
	"time"

	"gatekeep.org/internal/obs"
)

const (
	defaultBudget = 100
	defaultWindow = time.Minute
)

// SlidingWindow is the in-process Limiter: a trailing-window timestamp log
// per key. State is not persisted; counters restart empty after a process
// restart, which is an accepted trade-off for the in-process backend.
type SlidingWindow struct {
	mu      sync.Mutex
	entries map[string]*entry

	window        time.Duration
	defaultBudget int
	now           func() time.Time
}

// entry carries its own lock so keys rate-limit independently: contention
// on one subscription never stalls another.
type entry struct {
	mu     sync.Mutex
	budget int
	stamps []time.Time
}

// Option configures SlidingWindow behavior.
type Option func(*SlidingWindow)

// WithWindow overrides the window length (default one minute).
func WithWindow(w time.Duration) Option {
	return func(s *SlidingWindow) {
		if w > 0 {
			s.window = w
		}
	}
}

// WithDefaultBudget overrides the budget applied to keys without an
// explicit one.
func WithDefaultBudget(b int) Option {
	return func(s *SlidingWindow) {
		if b > 0 {
			s.defaultBudget = b
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *SlidingWindow) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewSlidingWindow constructs an empty limiter.
func NewSlidingWindow(opts ...Option) *SlidingWindow {
	s := &SlidingWindow{
		entries:       make(map[string]*entry),
		window:        defaultWindow,
		defaultBudget: defaultBudget,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Limiter = (*SlidingWindow)(nil)

// Check implements Limiter.
func (s *SlidingWindow) Check(_ context.Context, key string) (Result, error) {
	e := s.entryFor(key)

	e.mu.Lock()
	defer e.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-s.window)

	// Purge: drop timestamps that left the trailing window.
	i := 0
	for i < len(e.stamps) && !e.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		e.stamps = append(e.stamps[:0], e.stamps[i:]...)
	}

	if len(e.stamps) < e.budget {
		e.stamps = append(e.stamps, now)
		obs.ObserveRateLimit("allowed")
		return Result{
			Allowed:   true,
			Limit:     e.budget,
			Remaining: e.budget - len(e.stamps),
			ResetAt:   e.stamps[0].Add(s.window),
		}, nil
	}

	oldest := e.stamps[0]
	retry := oldest.Add(s.window).Sub(now)
	if retry <= 0 {
		retry = time.Nanosecond
	}
	obs.ObserveRateLimit("denied")
	return Result{
		Allowed:    false,
		Limit:      e.budget,
		Remaining:  0,
		ResetAt:    oldest.Add(s.window),
		RetryAfter: retry,
	}, nil
}

// SetBudget implements Limiter.
func (s *SlidingWindow) SetBudget(key string, perMinute int) {
	if perMinute <= 0 {
		perMinute = s.defaultBudget
	}
	e := s.entryFor(key)
	e.mu.Lock()
	e.budget = perMinute
	e.mu.Unlock()
}

// Reset implements Limiter.
func (s *SlidingWindow) Reset(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

func (s *SlidingWindow) entryFor(key string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		e = &entry{budget: s.defaultBudget}
		s.entries[key] = e
	}
	return e
}
