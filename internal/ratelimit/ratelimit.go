// Package ratelimit implements sliding-window request limits keyed by an
// arbitrary string (typically "<api>:<client ip>").
//
// Two stores are provided: a process-local window map (reset on restart) and
// a Redis sorted-set store for deployments running more than one replica.
// Both are soft abuse guards, not security controls.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter reports whether one more call under key fits into the trailing
// window without exceeding max calls. An allowed call is recorded.
type Limiter interface {
	Allow(ctx context.Context, key string, window time.Duration, max int) (bool, error)
}

// Memory is a process-local Limiter keeping a timestamp list per key.
// Safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	now     func() time.Time

	lookups uint64
}

var _ Limiter = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		windows: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// gcEvery bounds how often idle keys are swept.
const gcEvery = 5000

func (m *Memory) Allow(_ context.Context, key string, window time.Duration, max int) (bool, error) {
	if max <= 0 {
		return false, nil
	}

	now := m.now()
	cutoff := now.Add(-window)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.lookups++
	if m.lookups >= gcEvery {
		m.gc(cutoff)
		m.lookups = 0
	}

	stamps := prune(m.windows[key], cutoff)
	if len(stamps) >= max {
		m.windows[key] = stamps
		return false, nil
	}

	m.windows[key] = append(stamps, now)
	return true, nil
}

// Size returns the number of tracked keys.
func (m *Memory) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}

// gc drops keys whose newest timestamp fell out of the window. Callers hold mu.
func (m *Memory) gc(cutoff time.Time) {
	for k, stamps := range m.windows {
		if len(stamps) == 0 || !stamps[len(stamps)-1].After(cutoff) {
			delete(m.windows, k)
		}
	}
}

// prune drops timestamps at or before cutoff. Stamps are kept in ascending order.
func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return stamps
	}
	return append(stamps[:0], stamps[i:]...)
}
