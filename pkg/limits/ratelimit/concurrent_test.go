package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestConcurrentLimiter_AcquireRelease(t *testing.T) {
	cl := NewConcurrentLimiter(2)

	if !cl.Acquire() || !cl.Acquire() {
		t.Fatal("expected two slots")
	}
	if cl.Acquire() {
		t.Fatal("third Acquire should fail")
	}
	if cl.Remaining() != 0 {
		t.Errorf("Remaining = %d, want 0", cl.Remaining())
	}

	cl.Release()
	if cl.Current() != 1 {
		t.Errorf("Current = %d, want 1", cl.Current())
	}
	if !cl.Acquire() {
		t.Error("expected Acquire after Release")
	}
}

func TestConcurrentLimiter_SetLimit(t *testing.T) {
	cl := NewConcurrentLimiter(3)
	cl.Acquire()
	cl.Acquire()

	cl.SetLimit(1)
	if cl.Acquire() {
		t.Error("Acquire should fail above a lowered limit")
	}
	if cl.Current() != 2 {
		t.Errorf("running jobs must be untouched, Current = %d", cl.Current())
	}

	cl.SetLimit(5)
	if cl.Limit() != 5 || cl.Remaining() != 3 {
		t.Errorf("Limit = %d Remaining = %d, want 5 and 3", cl.Limit(), cl.Remaining())
	}
}

func TestConcurrentLimiter_ReleaseNeverNegative(t *testing.T) {
	cl := NewConcurrentLimiter(1)
	cl.Release()
	if cl.Current() != 0 {
		t.Errorf("Current = %d, want 0", cl.Current())
	}
}

func TestConcurrentLimiter_NeverExceedsLimit(t *testing.T) {
	const limit = 4
	cl := NewConcurrentLimiter(limit)

	var (
		wg      sync.WaitGroup
		running atomic.Int64
		peak    atomic.Int64
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if !cl.Acquire() {
					continue
				}
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				running.Add(-1)
				cl.Release()
			}
		}()
	}
	wg.Wait()

	if peak.Load() > limit {
		t.Errorf("peak concurrency %d exceeded limit %d", peak.Load(), limit)
	}
	if cl.Current() != 0 {
		t.Errorf("Current = %d after all releases", cl.Current())
	}
}
