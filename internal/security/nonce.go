package security

import (
	"container/list"
	"sync"
	"time"

	"github.com/Houngansi/SuspenseCore-sub009/internal/equipment"
)

// Nonce cache defaults.
const (
	DefaultNonceCapacity = 10000
	DefaultNonceTTL      = 300 * time.Second
)

// NonceEntry is one remembered nonce.
type NonceEntry struct {
	Nonce     uint64
	CreatedAt time.Time
	ExpiresAt time.Time
	Confirmed bool
}

func (e *NonceEntry) expired(now time.Time) bool {
	return e.ExpiresAt.Before(now)
}

// NonceCache remembers recently seen nonces.
//
// Capacity bounds the number of entries: inserting into a full cache evicts
// the least recently used entry. TTL bounds the lifetime of every entry
// regardless of LRU order. Lookup and insert are O(1) via a map plus a
// doubly-linked order list, both guarded by one mutex.
type NonceCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	clock    equipment.Clock
	entries  map[uint64]*list.Element
	order    *list.List // front = most recently used
	evicted  uint64
}

// NonceOption configures a NonceCache.
type NonceOption func(*NonceCache)

// WithCapacity sets the maximum number of entries. Values < 1 are ignored.
func WithCapacity(n int) NonceOption {
	return func(c *NonceCache) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithTTL sets the default entry lifetime. Values <= 0 are ignored.
func WithTTL(d time.Duration) NonceOption {
	return func(c *NonceCache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithNonceClock sets the clock used for expiry.
func WithNonceClock(clock equipment.Clock) NonceOption {
	return func(c *NonceCache) {
		c.clock = clock
	}
}

// NewNonceCache creates an empty cache with default capacity and TTL.
func NewNonceCache(opts ...NonceOption) *NonceCache {
	c := &NonceCache{
		capacity: DefaultNonceCapacity,
		ttl:      DefaultNonceTTL,
		clock:    equipment.SystemClock{},
		order:    list.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.entries = make(map[uint64]*list.Element, c.capacity)
	return c
}

// Contains reports whether nonce is held and unexpired. An expired entry
// is removed on lookup. A hit refreshes the entry's LRU position.
func (c *NonceCache) Contains(nonce uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.lookup(nonce, c.clock.Now())
	return ok
}

// AddPending records nonce as seen but not yet confirmed.
// Returns false if the nonce is already held.
func (c *NonceCache) AddPending(nonce uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	if _, ok := c.lookup(nonce, now); ok {
		return false
	}
	c.insert(&NonceEntry{Nonce: nonce, CreatedAt: now, ExpiresAt: now.Add(c.ttl)})
	return true
}

// AddConfirmed records nonce as confirmed with the given lifetime
// (the default TTL when ttl <= 0). Returns false if already held.
func (c *NonceCache) AddConfirmed(nonce uint64, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ttl <= 0 {
		ttl = c.ttl
	}
	now := c.clock.Now()
	if _, ok := c.lookup(nonce, now); ok {
		return false
	}
	c.insert(&NonceEntry{Nonce: nonce, CreatedAt: now, ExpiresAt: now.Add(ttl), Confirmed: true})
	return true
}

// Confirm marks a held nonce as confirmed and restarts its TTL.
// Returns false if the nonce is not held.
func (c *NonceCache) Confirm(nonce uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	entry, ok := c.lookup(nonce, now)
	if !ok {
		return false
	}
	entry.Confirmed = true
	entry.ExpiresAt = now.Add(c.ttl)
	return true
}

// Reject forgets a pending nonce so the client may retry with it.
// Confirmed nonces cannot be rejected.
func (c *NonceCache) Reject(nonce uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.entries[nonce]
	if !ok {
		return false
	}
	if elem.Value.(*NonceEntry).Confirmed {
		return false
	}
	c.remove(elem)
	return true
}

// CleanExpired removes every entry whose expiry is before now and returns
// how many were removed.
func (c *NonceCache) CleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	removed := 0
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		if elem.Value.(*NonceEntry).expired(now) {
			c.remove(elem)
			removed++
		}
		elem = prev
	}
	return removed
}

// Len returns the number of entries, expired ones included.
func (c *NonceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Capacity returns the configured capacity.
func (c *NonceCache) Capacity() int {
	return c.capacity
}

// Evictions returns how many entries were dropped to make room.
func (c *NonceCache) Evictions() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evicted
}

// lookup returns the live entry for nonce and marks it most recently used.
// Caller must hold c.mu.
func (c *NonceCache) lookup(nonce uint64, now time.Time) (*NonceEntry, bool) {
	elem, ok := c.entries[nonce]
	if !ok {
		return nil, false
	}
	entry := elem.Value.(*NonceEntry)
	if entry.expired(now) {
		c.remove(elem)
		return nil, false
	}
	c.order.MoveToFront(elem)
	return entry, true
}

// Caller must hold c.mu.
func (c *NonceCache) insert(entry *NonceEntry) {
	for len(c.entries) >= c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.remove(oldest)
		c.evicted++
	}
	c.entries[entry.Nonce] = c.order.PushFront(entry)
}

// Caller must hold c.mu.
func (c *NonceCache) remove(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.entries, elem.Value.(*NonceEntry).Nonce)
}
