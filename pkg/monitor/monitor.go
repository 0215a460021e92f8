package monitor

import (
	"sort"
	"sync"
	"time"
)

// DefaultWindow is the default sliding-window duration for rate tracking.
const DefaultWindow = time.Minute

// DefaultBucketSize is the default bucket granularity within the window.
const DefaultBucketSize = time.Second

// Stats is a point-in-time view of one operation's outcomes within the
// window.
type Stats struct {
	// Operation is the tracked operation name.
	Operation string

	// Successes and Failures are the outcome counts within the window.
	Successes int64
	Failures  int64

	// ErrorRate is Failures / (Successes + Failures), zero when no
	// outcomes were recorded.
	ErrorRate float64
}

// ErrorRateMonitor tracks success/failure outcomes per operation over a
// sliding time window. It is safe for concurrent use.
type ErrorRateMonitor struct {
	window     time.Duration
	bucketSize time.Duration

	mu  sync.RWMutex
	ops map[string]*opCounters
}

type opCounters struct {
	successes *slidingWindow
	failures  *slidingWindow
}

// New creates a monitor with the given window and bucket granularity.
// Non-positive values fall back to the defaults.
func New(window, bucketSize time.Duration) *ErrorRateMonitor {
	if window <= 0 {
		window = DefaultWindow
	}
	if bucketSize <= 0 {
		bucketSize = DefaultBucketSize
	}
	return &ErrorRateMonitor{
		window:     window,
		bucketSize: bucketSize,
		ops:        make(map[string]*opCounters),
	}
}

// Record adds one outcome for an operation.
func (m *ErrorRateMonitor) Record(operation string, success bool) {
	counters := m.countersFor(operation)
	if success {
		counters.successes.add(1)
	} else {
		counters.failures.add(1)
	}
}

// ErrorRate returns the failure fraction for an operation within the
// window, or zero when nothing was recorded.
func (m *ErrorRateMonitor) ErrorRate(operation string) float64 {
	m.mu.RLock()
	counters, ok := m.ops[operation]
	m.mu.RUnlock()
	if !ok {
		return 0
	}

	failures := counters.failures.sum()
	total := counters.successes.sum() + failures
	if total == 0 {
		return 0
	}
	return float64(failures) / float64(total)
}

// Snapshot returns stats for every tracked operation, sorted by name.
func (m *ErrorRateMonitor) Snapshot() []Stats {
	m.mu.RLock()
	names := make([]string, 0, len(m.ops))
	for name := range m.ops {
		names = append(names, name)
	}
	m.mu.RUnlock()

	sort.Strings(names)

	stats := make([]Stats, 0, len(names))
	for _, name := range names {
		m.mu.RLock()
		counters := m.ops[name]
		m.mu.RUnlock()
		if counters == nil {
			continue
		}

		successes := counters.successes.sum()
		failures := counters.failures.sum()

		s := Stats{
			Operation: name,
			Successes: successes,
			Failures:  failures,
		}
		if total := successes + failures; total > 0 {
			s.ErrorRate = float64(failures) / float64(total)
		}
		stats = append(stats, s)
	}
	return stats
}

// countersFor returns the counters for an operation, creating them on
// first use.
func (m *ErrorRateMonitor) countersFor(operation string) *opCounters {
	m.mu.RLock()
	counters, ok := m.ops[operation]
	m.mu.RUnlock()
	if ok {
		return counters
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if counters, ok = m.ops[operation]; ok {
		return counters
	}
	counters = &opCounters{
		successes: newSlidingWindow(m.window, m.bucketSize),
		failures:  newSlidingWindow(m.window, m.bucketSize),
	}
	m.ops[operation] = counters
	return counters
}
