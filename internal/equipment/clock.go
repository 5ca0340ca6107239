package equipment

import (
	"sync/atomic"
	"time"
)

// Clock supplies wall time for TTLs, timeouts and timestamps.
// Implemented by SystemClock (production) and testutil.ManualClock (tests).
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real time.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Sequence is a monotonic counter used to stamp operation requests in
// arrival order.
//
// Thread-safety: Sequence is safe for concurrent use (atomic operations).
type Sequence struct {
	n atomic.Uint64
}

// Next returns the next sequence number, starting at 1.
func (s *Sequence) Next() uint64 {
	return s.n.Add(1)
}

// Current returns the last issued number without incrementing.
func (s *Sequence) Current() uint64 {
	return s.n.Load()
}
