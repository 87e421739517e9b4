package ratelimit

import (
	"sync/atomic"
)

// ConcurrentLimiter bounds the number of jobs running at once.
//
// # Algorithm
//
//  1. Load the current count
//  2. Reject if it already reached the limit
//  3. Compare-and-swap count+1, retrying on contention
//  4. On completion: decrement the count
//
// The limit can be changed at runtime with SetLimit. Lowering it never
// interrupts running jobs; it only rejects new ones until enough finish.
type ConcurrentLimiter struct {
	limit   atomic.Int64
	current atomic.Int64
}

// NewConcurrentLimiter creates a limiter allowing limit simultaneous jobs.
//
//	limiter := NewConcurrentLimiter(32)
//	if !limiter.Acquire() {
//	    // respond 429
//	}
//	defer limiter.Release()
func NewConcurrentLimiter(limit int) *ConcurrentLimiter {
	cl := &ConcurrentLimiter{}
	cl.limit.Store(int64(limit))
	return cl
}

// Acquire takes a slot and reports whether one was free.
// A true result must be paired with exactly one Release.
func (cl *ConcurrentLimiter) Acquire() bool {
	for {
		current := cl.current.Load()
		if current >= cl.limit.Load() {
			return false
		}
		if cl.current.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

// Release frees a slot taken by Acquire.
func (cl *ConcurrentLimiter) Release() {
	if cl.current.Add(-1) < 0 {
		cl.current.Store(0)
	}
}

// SetLimit changes the limit.
func (cl *ConcurrentLimiter) SetLimit(limit int) {
	cl.limit.Store(int64(limit))
}

// Current returns the number of running jobs.
func (cl *ConcurrentLimiter) Current() int64 {
	return cl.current.Load()
}

// Limit returns the configured limit.
func (cl *ConcurrentLimiter) Limit() int64 {
	return cl.limit.Load()
}

// Remaining returns the number of free slots.
func (cl *ConcurrentLimiter) Remaining() int64 {
	remaining := cl.limit.Load() - cl.current.Load()
	if remaining < 0 {
		return 0
	}
	return remaining
}
