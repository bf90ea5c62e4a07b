package concurrency

import (
	"context"
	"sync/atomic"
	"time"
)

// Metrics tracks concurrency limiter performance metrics
type Metrics struct {
	TotalAcquired   int64
	TotalReleased   int64
	TotalRejected   int64
	PeakConcurrent  int64
	TotalWaitTimeNs int64
}

// Limiter provides semaphore-based concurrency control with observability
type Limiter struct {
	sem    chan struct{}
	active atomic.Int64

	acquired atomic.Int64
	released atomic.Int64
	rejected atomic.Int64
	peak     atomic.Int64
	waitNs   atomic.Int64
}

// NewLimiter creates a new concurrency limiter with the specified maximum concurrent operations
func NewLimiter(maxConcurrent int) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Limiter{sem: make(chan struct{}, maxConcurrent)}
}

// Capacity returns the maximum number of concurrent holders.
func (l *Limiter) Capacity() int {
	return cap(l.sem)
}

// Acquire blocks until a slot is free or ctx ends.
func (l *Limiter) Acquire(ctx context.Context) error {
	start := time.Now()

	select {
	case l.sem <- struct{}{}:
		l.waitNs.Add(time.Since(start).Nanoseconds())
		l.onAcquired()
		return nil
	case <-ctx.Done():
		l.rejected.Add(1)
		return ctx.Err()
	}
}

// Release releases a slot back to the limiter
func (l *Limiter) Release() {
	select {
	case <-l.sem:
		l.active.Add(-1)
		l.released.Add(1)
	default:
		// Should not happen in correct usage
	}
}

// Do runs fn while holding a slot.
func (l *Limiter) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return fn(ctx)
}

// CurrentActive returns the current number of slot holders
func (l *Limiter) CurrentActive() int64 {
	return l.active.Load()
}

// GetMetrics returns a copy of the current metrics
func (l *Limiter) GetMetrics() Metrics {
	return Metrics{
		TotalAcquired:   l.acquired.Load(),
		TotalReleased:   l.released.Load(),
		TotalRejected:   l.rejected.Load(),
		PeakConcurrent:  l.peak.Load(),
		TotalWaitTimeNs: l.waitNs.Load(),
	}
}

// GetAverageWaitTime calculates the average wait time for acquiring a slot
func (l *Limiter) GetAverageWaitTime() time.Duration {
	acquired := l.acquired.Load()
	if acquired == 0 {
		return 0
	}
	return time.Duration(l.waitNs.Load() / acquired)
}

func (l *Limiter) onAcquired() {
	l.acquired.Add(1)
	current := l.active.Add(1)
	for {
		peak := l.peak.Load()
		if current <= peak || l.peak.CompareAndSwap(peak, current) {
			return
		}
	}
}
