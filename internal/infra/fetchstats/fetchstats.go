package fetchstats

import (
	"slices"
	"sync"
	"time"

	"github.com/chaosloop/podwatch/internal/logic/monitor"
)

const (
	// okLatencyBufferSize is the number of successful fetch latencies to keep.
	okLatencyBufferSize = 100

	// failureLatencyBufferSize is the number of failed fetch latencies to keep.
	failureLatencyBufferSize = 10

	percentileMax = 100.0
	percentileP80 = 80.0
	percentileP90 = 90.0
	percentileP99 = 99.0
)

// ring is a fixed-capacity circular buffer of latencies.
type ring struct {
	values   []time.Duration
	capacity int
	index    int
	count    int
}

func newRing(capacity int) *ring {
	return &ring{
		values:   make([]time.Duration, 0, capacity),
		capacity: capacity,
	}
}

func (r *ring) add(d time.Duration) {
	if r.count < r.capacity {
		r.values = append(r.values, d)
		r.count++

		return
	}

	r.values[r.index] = d
	r.index = (r.index + 1) % r.capacity
}

// all returns the buffered values oldest-first.
func (r *ring) all() []time.Duration {
	if r.count == 0 {
		return nil
	}

	out := make([]time.Duration, r.count)
	if r.count < r.capacity {
		copy(out, r.values)
	} else {
		copy(out, r.values[r.index:])
		copy(out[r.capacity-r.index:], r.values[:r.index])
	}

	return out
}

// LatencyMetrics contains computed latency statistics.
type LatencyMetrics struct {
	Count   int           `json:"count"`
	Median  time.Duration `json:"median"`
	Average time.Duration `json:"average"`
	P80     time.Duration `json:"p80"`
	P90     time.Duration `json:"p90"`
	P99     time.Duration `json:"p99"`
}

// Statistics is a point-in-time view of snapshot fetch behavior across all
// sessions since process start.
type Statistics struct {
	LastFetch        time.Time      `json:"lastFetch"`
	LastFailure      time.Time      `json:"lastFailure,omitempty"`
	OKCount          int            `json:"okCount"`
	ResyncCount      int            `json:"resyncCount"`
	FailureCount     int            `json:"failureCount"`
	OKLatencies      LatencyMetrics `json:"okLatencies"`
	FailureLatencies LatencyMetrics `json:"failureLatencies"`
}

// Collector aggregates snapshot fetch telemetry. It implements the session
// observer contract for the fetch callback and ignores the rest.
type Collector struct {
	monitor.NoopObserver

	mu               sync.RWMutex
	lastFetch        time.Time
	lastFailure      time.Time
	okCount          int
	resyncCount      int
	failureCount     int
	okLatencies      *ring
	failureLatencies *ring
}

var _ monitor.Observer = (*Collector)(nil)

func NewCollector() *Collector {
	return &Collector{
		okLatencies:      newRing(okLatencyBufferSize),
		failureLatencies: newRing(failureLatencyBufferSize),
	}
}

func (c *Collector) SnapshotFetch(outcome monitor.FetchOutcome, latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastFetch = time.Now()

	switch outcome {
	case monitor.FetchOK:
		c.okCount++
		c.okLatencies.add(latency)
	case monitor.FetchResync:
		c.resyncCount++
	case monitor.FetchFailure:
		c.failureCount++
		c.lastFailure = c.lastFetch
		c.failureLatencies.add(latency)
	}
}

// Statistics computes the current view. Counters are totals since process
// start; latency metrics cover only the buffered window.
func (c *Collector) Statistics() Statistics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Statistics{
		LastFetch:        c.lastFetch,
		LastFailure:      c.lastFailure,
		OKCount:          c.okCount,
		ResyncCount:      c.resyncCount,
		FailureCount:     c.failureCount,
		OKLatencies:      calculateLatencyMetrics(c.okLatencies.all()),
		FailureLatencies: calculateLatencyMetrics(c.failureLatencies.all()),
	}
}

func calculateLatencyMetrics(latencies []time.Duration) LatencyMetrics {
	if len(latencies) == 0 {
		return LatencyMetrics{}
	}

	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	slices.Sort(sorted)

	return LatencyMetrics{
		Count:   len(sorted),
		Median:  median(sorted),
		Average: average(sorted),
		P80:     percentile(sorted, percentileP80),
		P90:     percentile(sorted, percentileP90),
		P99:     percentile(sorted, percentileP99),
	}
}

// percentile picks from a sorted slice using the floor method; p99 and above
// round up to the last element so the worst observation is never hidden.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	if p >= percentileP99 {
		return sorted[len(sorted)-1]
	}

	if p < 0 {
		p = 0
	}

	index := int(float64(len(sorted)-1) * p / percentileMax)

	return sorted[index]
}

func median(sorted []time.Duration) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}

	return sorted[mid]
}

func average(latencies []time.Duration) time.Duration {
	if len(latencies) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range latencies {
		sum += d
	}

	return sum / time.Duration(len(latencies))
}
