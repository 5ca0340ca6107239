package eventbus

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/Houngansi/SuspenseCore-sub009/internal/equipment"
)

// Priority orders handlers of the same event. Higher runs first.
type Priority int

const (
	PriorityLowest Priority = iota
	PriorityLow
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLowest:
		return "Lowest"
	case PriorityLow:
		return "Low"
	case PriorityNormal:
		return "Normal"
	case PriorityHigh:
		return "High"
	case PriorityCritical:
		return "Critical"
	}
	return fmt.Sprintf("Priority(%d)", int(p))
}

// ExecContext selects when a handler runs.
type ExecContext int

const (
	Immediate ExecContext = iota
	NextFrame
	Background
)

func (c ExecContext) String() string {
	switch c {
	case Immediate:
		return "Immediate"
	case NextFrame:
		return "NextFrame"
	case Background:
		return "Background"
	}
	return fmt.Sprintf("ExecContext(%d)", int(c))
}

// Handle identifies a subscription.
type Handle uint64

type subscription struct {
	handle   Handle
	tag      equipment.Tag
	handler  Handler
	priority Priority
	exec     ExecContext
	owner    string
	filter   Filter
	active   atomic.Bool
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*subscription)

// WithPriority sets handler priority. Default PriorityNormal.
func WithPriority(p Priority) SubscribeOption {
	return func(s *subscription) {
		s.priority = p
	}
}

// WithExecContext sets when the handler runs. Default Immediate.
func WithExecContext(c ExecContext) SubscribeOption {
	return func(s *subscription) {
		s.exec = c
	}
}

// WithOwner tags the subscription so UnsubscribeOwner can remove it.
func WithOwner(owner string) SubscribeOption {
	return func(s *subscription) {
		s.owner = owner
	}
}

// WithFilter drops events the filter rejects.
func WithFilter(f Filter) SubscribeOption {
	return func(s *subscription) {
		s.filter = f
	}
}

// Stats are cumulative bus counters.
type Stats struct {
	Published   int64 `json:"published"`
	Delivered   int64 `json:"delivered"`
	Filtered    int64 `json:"filtered"`
	Panics      int64 `json:"panics"`
	Pending     int   `json:"pending"`
	Subscribers int   `json:"subscribers"`
}

// Bus routes events to subscribers.
//
// Thread-safety: safe for concurrent use. Handlers run without the bus lock
// held, so they may publish or (un)subscribe.
type Bus struct {
	mu     sync.RWMutex
	subs   []*subscription
	nextID Handle

	frame      *deliveryQueue
	background *deliveryQueue
	startOnce  sync.Once
	done       chan struct{}

	published atomic.Int64
	delivered atomic.Int64
	filtered  atomic.Int64
	panics    atomic.Int64
}

// New creates an empty bus. Call Close to stop the background worker.
func New() *Bus {
	return &Bus{
		frame:      newDeliveryQueue(),
		background: newDeliveryQueue(),
		done:       make(chan struct{}),
	}
}

// Subscribe registers handler for tag and its descendants.
func (b *Bus) Subscribe(tag equipment.Tag, handler Handler, opts ...SubscribeOption) Handle {
	s := &subscription{tag: tag, handler: handler, priority: PriorityNormal, exec: Immediate}
	for _, opt := range opts {
		opt(s)
	}
	s.active.Store(true)

	b.mu.Lock()
	b.nextID++
	s.handle = b.nextID
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	if s.exec == Background {
		b.startOnce.Do(func() { go b.worker() })
	}
	return s.handle
}

// Unsubscribe removes a subscription. Queued deliveries to it are dropped.
func (b *Bus) Unsubscribe(h Handle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.handle == h {
			s.active.Store(false)
			b.subs = slices.Delete(b.subs, i, i+1)
			return true
		}
	}
	return false
}

// UnsubscribeOwner removes every subscription of owner and returns how many
// were removed.
func (b *Bus) UnsubscribeOwner(owner string) int {
	if owner == "" {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	b.subs = slices.DeleteFunc(b.subs, func(s *subscription) bool {
		if s.owner == owner {
			s.active.Store(false)
			n++
			return true
		}
		return false
	})
	return n
}

// Publish delivers e to every matching subscription.
func (b *Bus) Publish(e Event) {
	b.published.Add(1)

	b.mu.RLock()
	var matched []*subscription
	for _, s := range b.subs {
		if e.Tag.Matches(s.tag) {
			matched = append(matched, s)
		}
	}
	b.mu.RUnlock()

	// Stable sort keeps subscription order within a priority.
	slices.SortStableFunc(matched, func(x, y *subscription) int {
		return cmp.Compare(y.priority, x.priority)
	})

	for _, s := range matched {
		if s.filter != nil && !s.filter(e) {
			b.filtered.Add(1)
			continue
		}
		switch s.exec {
		case NextFrame:
			b.frame.Enqueue(delivery{sub: s, event: e})
		case Background:
			b.background.Enqueue(delivery{sub: s, event: e})
		default:
			b.invoke(s, e)
		}
	}
}

// Flush runs queued NextFrame deliveries and returns how many ran.
// Deliveries published by handlers during Flush wait for the next Flush.
func (b *Bus) Flush() int {
	n := 0
	for _, d := range b.frame.Drain() {
		if b.invoke(d.sub, d.event) {
			n++
		}
	}
	return n
}

// Close stops the background worker after it drains queued deliveries.
// Calling it again is a no-op.
func (b *Bus) Close() {
	b.frame.Close()
	b.background.Close()
	// A worker that never started has nothing to drain.
	b.startOnce.Do(func() { close(b.done) })
	<-b.done
}

// Stats returns a snapshot of the counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	subs := len(b.subs)
	b.mu.RUnlock()
	return Stats{
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Filtered:    b.filtered.Load(),
		Panics:      b.panics.Load(),
		Pending:     b.frame.Len() + b.background.Len(),
		Subscribers: subs,
	}
}

func (b *Bus) worker() {
	defer close(b.done)
	for {
		d, ok := b.background.Dequeue()
		if !ok {
			return
		}
		b.invoke(d.sub, d.event)
	}
}

// invoke runs one handler, recovering panics. It reports whether the
// handler ran.
func (b *Bus) invoke(s *subscription, e Event) (ran bool) {
	if !s.active.Load() {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			b.panics.Add(1)
			slog.Error("event handler panicked", "tag", e.Tag, "subscription", s.handle, "panic", r)
		}
	}()
	b.delivered.Add(1)
	ran = true
	s.handler(e)
	return ran
}
