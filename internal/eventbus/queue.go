package eventbus

import "sync"

// delivery pairs an event with the subscription it is addressed to.
type delivery struct {
	sub   *subscription
	event Event
}

// deliveryQueue is an unbounded FIFO of deliveries.
//
// The queue never blocks publishers. A buffered signal channel of size one
// coalesces wake-ups for a blocked consumer.
type deliveryQueue struct {
	mu     sync.Mutex
	items  []delivery
	closed bool
	signal chan struct{}
}

func newDeliveryQueue() *deliveryQueue {
	return &deliveryQueue{
		items:  make([]delivery, 0, 32),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends d. Returns false once the queue is closed.
func (q *deliveryQueue) Enqueue(d delivery) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, d)
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front delivery without blocking.
func (q *deliveryQueue) TryDequeue() (delivery, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return delivery{}, false
	}
	d := q.items[0]
	// Release the payload for GC.
	q.items[0] = delivery{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return d, true
}

// Dequeue blocks until a delivery is available. It returns false once the
// queue is closed and drained.
func (q *deliveryQueue) Dequeue() (delivery, bool) {
	for {
		if d, ok := q.TryDequeue(); ok {
			return d, true
		}
		q.mu.Lock()
		if q.closed && len(q.items) == 0 {
			q.mu.Unlock()
			return delivery{}, false
		}
		q.mu.Unlock()
		<-q.signal
	}
}

// Drain removes and returns everything queued.
func (q *deliveryQueue) Drain() []delivery {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = make([]delivery, 0, cap(out))
	return out
}

// Len returns the number of queued deliveries.
func (q *deliveryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops further enqueues and wakes the consumer.
func (q *deliveryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
