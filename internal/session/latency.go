package session

import (
	"sort"
	"sync"
	"time"
)

// latencyWindow keeps the most recent step durations and reports their
// median, smoothing out one-off interpreter hiccups in the snapshot.
type latencyWindow struct {
	mu      sync.Mutex
	size    int
	samples []time.Duration
	next    int
	full    bool
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = 30
	}
	return &latencyWindow{
		size:    size,
		samples: make([]time.Duration, size),
	}
}

// Record adds a sample, evicting the oldest once the window is full.
func (w *latencyWindow) Record(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[w.next] = d
	w.next++
	if w.next == w.size {
		w.next = 0
		w.full = true
	}
}

// Median returns the window's median, zero when empty. Even-length windows
// average the middle pair.
func (w *latencyWindow) Median() time.Duration {
	w.mu.Lock()
	n := w.size
	if !w.full {
		n = w.next
	}
	if n == 0 {
		w.mu.Unlock()
		return 0
	}
	sorted := make([]time.Duration, n)
	copy(sorted, w.samples[:n])
	w.mu.Unlock()

	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	mid := n / 2
	if n%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
