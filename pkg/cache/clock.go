package cache

import (
	"context"
	"sync/atomic"
	"time"
)

// Clock exposes the logical, second-granularity timestamp used for TTL
// comparisons (C1). Implementations never touch the wall clock from inside
// the cache engine; only the driver goroutine that advances SystemClock does.
type Clock interface {
	Timestamp() uint32
}

// Setable is implemented by clocks whose tick can be driven externally,
// either by the real driver goroutine or by a test.
type Setable interface {
	AddSecond()
}

// SystemClock is a process-wide monotonic second counter. Run advances it
// once per second until ctx is cancelled.
type SystemClock struct {
	seconds atomic.Uint32
}

// NewSystemClock returns a clock starting at zero.
func NewSystemClock() *SystemClock {
	return &SystemClock{}
}

func (c *SystemClock) Timestamp() uint32 {
	return c.seconds.Load()
}

func (c *SystemClock) AddSecond() {
	c.seconds.Add(1)
}

// Run ticks the clock once per second until ctx is cancelled.
func (c *SystemClock) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.AddSecond()
		}
	}
}

// ManualClock is a settable mock clock used to make expiration tests
// deterministic (spec S7/S11).
type ManualClock struct {
	seconds atomic.Uint32
}

// NewManualClock returns a manual clock starting at zero.
func NewManualClock() *ManualClock {
	return &ManualClock{}
}

func (c *ManualClock) Timestamp() uint32 {
	return c.seconds.Load()
}

func (c *ManualClock) AddSecond() {
	c.seconds.Add(1)
}

// Set jumps the clock directly to t, for tests that want to skip ahead.
func (c *ManualClock) Set(t uint32) {
	c.seconds.Store(t)
}

var (
	_ Clock   = (*SystemClock)(nil)
	_ Setable = (*SystemClock)(nil)
	_ Clock   = (*ManualClock)(nil)
	_ Setable = (*ManualClock)(nil)
)
