package monitor

import (
	"sync"
	"time"
)

// slidingWindow is a bucketed counter over a rolling time period. Old
// buckets outside the window are pruned as new values arrive, which avoids
// the reset spike of fixed windows.
//
// Memory is bounded by a fixed number of buckets (window / bucketSize).
type slidingWindow struct {
	window     time.Duration
	bucketSize time.Duration
	buckets    []bucket
	head       int
	mu         sync.Mutex

	// now is stubbed in tests.
	now func() time.Time
}

type bucket struct {
	timestamp time.Time
	value     int64
}

func newSlidingWindow(window, bucketSize time.Duration) *slidingWindow {
	numBuckets := int(window / bucketSize)
	if numBuckets == 0 {
		numBuckets = 1
	}
	return &slidingWindow{
		window:     window,
		bucketSize: bucketSize,
		buckets:    make([]bucket, numBuckets),
		now:        time.Now,
	}
}

// add increments the counter in the current time bucket.
func (sw *slidingWindow) add(value int64) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := sw.now()
	sw.pruneLocked(now)
	sw.findOrCreateBucketLocked(now).value += value
}

// sum returns the total across all buckets still inside the window.
func (sw *slidingWindow) sum() int64 {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.pruneLocked(sw.now())

	var total int64
	for i := range sw.buckets {
		if !sw.buckets[i].timestamp.IsZero() {
			total += sw.buckets[i].value
		}
	}
	return total
}

// pruneLocked clears buckets older than the window. Caller holds the lock.
func (sw *slidingWindow) pruneLocked(now time.Time) {
	cutoff := now.Add(-sw.window)
	for i := range sw.buckets {
		if !sw.buckets[i].timestamp.IsZero() && sw.buckets[i].timestamp.Before(cutoff) {
			sw.buckets[i] = bucket{}
		}
	}
}

// findOrCreateBucketLocked returns the bucket for the current time,
// claiming an empty or the oldest slot when none matches. Caller holds the
// lock.
func (sw *slidingWindow) findOrCreateBucketLocked(now time.Time) *bucket {
	bucketTime := now.Truncate(sw.bucketSize)

	if sw.buckets[sw.head].timestamp.Equal(bucketTime) {
		return &sw.buckets[sw.head]
	}
	for i := range sw.buckets {
		if sw.buckets[i].timestamp.Equal(bucketTime) {
			return &sw.buckets[i]
		}
	}

	targetIdx := -1
	for i := range sw.buckets {
		if sw.buckets[i].timestamp.IsZero() {
			targetIdx = i
			break
		}
	}
	if targetIdx == -1 {
		oldestIdx := 0
		oldestTime := sw.buckets[0].timestamp
		for i := 1; i < len(sw.buckets); i++ {
			if sw.buckets[i].timestamp.Before(oldestTime) {
				oldestIdx = i
				oldestTime = sw.buckets[i].timestamp
			}
		}
		targetIdx = oldestIdx
	}

	sw.buckets[targetIdx] = bucket{timestamp: bucketTime}
	sw.head = targetIdx
	return &sw.buckets[targetIdx]
}
