package registry

import (
	"sync/atomic"
	"time"
)

// Sweeper runs Registry.Sweep at most once per interval. It has no timer of
// its own: the polling handler calls MaybeSweep on every valid request, so
// cleanup cadence follows traffic.
type Sweeper struct {
	registry  *Registry
	interval  time.Duration
	expire    time.Duration
	lastSwept atomic.Int64 // unix nanoseconds
}

// NewSweeper returns a sweeper that has never swept, so the first MaybeSweep
// runs.
func NewSweeper(r *Registry, interval, expire time.Duration) *Sweeper {
	return &Sweeper{
		registry: r,
		interval: interval,
		expire:   expire,
	}
}

// MaybeSweep sweeps if more than interval has passed since the last sweep.
// Of several concurrent callers at most one wins the interval. It returns the
// number of evicted sessions and whether a sweep ran.
func (s *Sweeper) MaybeSweep() (int, bool) {
	now := s.registry.now().UnixNano()
	last := s.lastSwept.Load()
	if now-last <= s.interval.Nanoseconds() {
		return 0, false
	}
	if !s.lastSwept.CompareAndSwap(last, now) {
		return 0, false
	}
	return s.registry.Sweep(s.expire), true
}
