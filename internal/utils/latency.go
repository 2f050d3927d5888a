package utils

import (
	"slices"
	"sync"
	"time"
)

// LatencyTracker keeps a bounded ring of recent durations and answers percentile queries.
type LatencyTracker struct {
	mu      sync.RWMutex
	samples []time.Duration
	next    int
	full    bool
}

// NewLatencyTracker creates a tracker storing up to maxSize samples.
func NewLatencyTracker(maxSize int) *LatencyTracker {
	if maxSize <= 0 {
		maxSize = 512
	}
	return &LatencyTracker{samples: make([]time.Duration, maxSize)}
}

// Observe records a new duration, overwriting the oldest sample once full.
func (l *LatencyTracker) Observe(d time.Duration) {
	if d < 0 {
		d = 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.samples[l.next] = d
	l.next = (l.next + 1) % len(l.samples)
	if l.next == 0 {
		l.full = true
	}
}

// Percentile returns the p-th percentile (0-100). Returns zero if no samples.
func (l *LatencyTracker) Percentile(p float64) time.Duration {
	l.mu.RLock()
	sorted := slices.Clone(l.window())
	l.mu.RUnlock()

	if len(sorted) == 0 {
		return 0
	}
	slices.Sort(sorted)
	switch {
	case p <= 0:
		return sorted[0]
	case p >= 100:
		return sorted[len(sorted)-1]
	}
	return sorted[int((p/100.0)*float64(len(sorted)-1))]
}

// Count returns number of samples currently retained.
func (l *LatencyTracker) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.window())
}

func (l *LatencyTracker) window() []time.Duration {
	if l.full {
		return l.samples
	}
	return l.samples[:l.next]
}
