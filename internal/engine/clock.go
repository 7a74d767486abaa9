package engine

import (
	"sync/atomic"
	"time"
)

// Clock supplies wall time for tombstone, suppression and lastUpdated stamps.
// Implemented by SystemClock (production) and testutil.ManualClock (tests).
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// versionCounter is the monotonic update counter observers use to detect
// change. Every successful mutation takes the next value.
//
// Thread-safety: safe for concurrent use (atomic operations).
type versionCounter struct {
	seq atomic.Int64
}

// Next returns the next version and increments the counter.
// Calls are linearizable - each call returns a unique, increasing value.
func (c *versionCounter) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current version without incrementing.
func (c *versionCounter) Current() int64 {
	return c.seq.Load()
}
