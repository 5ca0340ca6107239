package server

import (
	"cmp"
	"errors"
	"slices"
	"sync"

	"github.com/Houngansi/SuspenseCore-sub009/internal/equipment"
)

// queued is a request waiting for the next tick.
type queued struct {
	req equipment.OperationRequest
	ip  string
	seq uint64
}

// Enqueue errors.
var (
	ErrServiceClosed = errors.New("service closed")
	ErrQueueFull     = errors.New("operation queue full")
)

// opQueue holds deferred requests. Take returns the highest-priority
// requests first and keeps arrival order within a priority.
type opQueue struct {
	limit     int
	perPlayer int

	mu       sync.Mutex
	pending  []queued
	byPlayer map[string]int
	next     uint64
	closed   bool
}

// newOpQueue bounds the queue to limit requests in total and perPlayer
// requests for any one player.
func newOpQueue(limit, perPlayer int) *opQueue {
	return &opQueue{limit: limit, perPlayer: perPlayer, byPlayer: make(map[string]int)}
}

// Push adds a request, or returns ErrServiceClosed or ErrQueueFull.
func (q *opQueue) Push(req equipment.OperationRequest, ip string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrServiceClosed
	}
	if len(q.pending) >= q.limit || q.byPlayer[req.PlayerID] >= q.perPlayer {
		return ErrQueueFull
	}
	q.next++
	q.pending = append(q.pending, queued{req: req, ip: ip, seq: q.next})
	q.byPlayer[req.PlayerID]++
	return nil
}

// Take removes and returns up to n requests.
func (q *opQueue) Take(n int) []queued {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 || n <= 0 {
		return nil
	}
	slices.SortStableFunc(q.pending, func(a, b queued) int {
		if c := cmp.Compare(b.req.Priority, a.req.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
	n = min(n, len(q.pending))
	out := slices.Clone(q.pending[:n])
	q.pending = slices.Delete(q.pending, 0, n)
	for _, e := range out {
		if q.byPlayer[e.req.PlayerID]--; q.byPlayer[e.req.PlayerID] <= 0 {
			delete(q.byPlayer, e.req.PlayerID)
		}
	}
	return out
}

// Len returns the number of waiting requests.
func (q *opQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close refuses further pushes. Waiting requests stay takeable.
func (q *opQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}
