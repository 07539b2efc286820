package gateway

import (
	"slices"
	"sync"
	"time"
)

// LatencySummary describes the fan-out durations currently in the window.
type LatencySummary struct {
	Count         int
	P50, P95, P99 time.Duration
	Max           time.Duration
}

// LatencyTracker keeps a sliding window of the most recent fan-out durations.
// Safe for concurrent use.
type LatencyTracker struct {
	mu     sync.Mutex
	window []time.Duration
	next   int
	filled bool
}

// NewLatencyTracker creates a tracker whose window holds capacity samples.
func NewLatencyTracker(capacity int) *LatencyTracker {
	if capacity <= 0 {
		capacity = 10000
	}
	return &LatencyTracker{window: make([]time.Duration, capacity)}
}

// Observe adds one fan-out duration, evicting the oldest once the window is full.
func (lt *LatencyTracker) Observe(d time.Duration) {
	lt.mu.Lock()
	lt.window[lt.next] = d
	if lt.next++; lt.next == len(lt.window) {
		lt.next, lt.filled = 0, true
	}
	lt.mu.Unlock()
}

// Count returns the number of samples in the window.
func (lt *LatencyTracker) Count() int {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return lt.size()
}

func (lt *LatencyTracker) size() int {
	if lt.filled {
		return len(lt.window)
	}
	return lt.next
}

// Summary sorts a copy of the window and reads the percentiles off it.
func (lt *LatencyTracker) Summary() LatencySummary {
	lt.mu.Lock()
	sorted := slices.Clone(lt.window[:lt.size()])
	lt.mu.Unlock()

	if len(sorted) == 0 {
		return LatencySummary{}
	}
	slices.Sort(sorted)
	return LatencySummary{
		Count: len(sorted),
		P50:   rank(sorted, 0.50),
		P95:   rank(sorted, 0.95),
		P99:   rank(sorted, 0.99),
		Max:   sorted[len(sorted)-1],
	}
}

// Percentiles reports p50, p95 and p99 in milliseconds for /healthz.
func (lt *LatencyTracker) Percentiles() (p50, p95, p99 float64) {
	s := lt.Summary()
	return ms(s.P50), ms(s.P95), ms(s.P99)
}

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

// rank interpolates linearly between the two samples around quantile q.
func rank(sorted []time.Duration, q float64) time.Duration {
	pos := q * float64(len(sorted)-1)
	i := int(pos)
	if i+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	lo, hi := float64(sorted[i]), float64(sorted[i+1])
	return time.Duration(lo + (hi-lo)*(pos-float64(i)))
}
