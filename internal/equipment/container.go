package equipment

import (
	"context"
	"fmt"
	"sync"
)

// Container is one player's authoritative slot array.
type Container struct {
	mu    sync.RWMutex
	state StateSnapshot
	sm    *StateMachine
	clock Clock
}

// ContainerOption configures a Container.
type ContainerOption func(*Container)

// WithClock sets the clock used for snapshot timestamps.
func WithClock(c Clock) ContainerOption {
	return func(ct *Container) {
		ct.clock = c
	}
}

// NewContainer creates an empty container with one slot per config.
// Config indices are rewritten to match their position.
func NewContainer(configs []SlotConfig, opts ...ContainerOption) *Container {
	c := &Container{
		sm:    NewStateMachine(),
		clock: SystemClock{},
	}
	for _, opt := range opts {
		opt(c)
	}

	slots := make([]Slot, len(configs))
	for i, cfg := range configs {
		cfg.Index = i
		slots[i] = Slot{Config: cfg}
	}
	c.state = StateSnapshot{
		Slots:            slots,
		ActiveWeaponSlot: NoSlot,
		StateTag:         StateIdle,
		Timestamp:        c.clock.Now(),
	}
	return c
}

// Len returns the number of slots.
func (c *Container) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.state.Slots)
}

// Config returns the configuration of slot idx.
func (c *Container) Config(idx int) (SlotConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.state.Slot(idx)
	if s == nil {
		return SlotConfig{}, false
	}
	return s.Config, true
}

// Item returns a copy of the item in slot idx.
func (c *Container) Item(idx int) (ItemInstance, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.state.Slot(idx)
	if s == nil {
		return ItemInstance{}, false
	}
	return s.Item.Clone(), true
}

// Version returns the container's mutation counter.
func (c *Container) Version() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Version
}

// State returns the current state machine tag.
func (c *Container) State() Tag {
	return c.sm.Current()
}

// Snapshot returns a deep copy of the current state.
func (c *Container) Snapshot() StateSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := c.state.Clone()
	out.StateTag = c.sm.Current()
	return out
}

// Apply validates structural constraints and applies op.
// Rule checks are the caller's job; Apply only refuses operations that
// would corrupt the slot array.
func (c *Container) Apply(ctx context.Context, op OperationRequest) ([]SlotChange, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sm.Current() == StateLocked {
		return nil, NewError(FailureTransactionActive, NoSlot, "equipment is locked")
	}

	event := EventFor(op.Type)
	if event != "" {
		if err := c.sm.Fire(ctx, event); err != nil {
			return nil, NewError(FailureTransactionActive, NoSlot, "%v", err)
		}
		defer func() {
			_ = c.sm.Fire(ctx, EventComplete)
		}()
	}

	changes, err := ApplyOperation(&c.state, op)
	if err != nil {
		return nil, err
	}
	c.state.Timestamp = c.clock.Now()
	return changes, nil
}

// Restore replaces slot occupants and the active weapon slot with those of
// snap and returns the indices whose occupant changed. Slot layouts must
// match.
func (c *Container) Restore(snap StateSnapshot) ([]int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(snap.Slots) != len(c.state.Slots) {
		return nil, fmt.Errorf("restore: snapshot has %d slots, container has %d", len(snap.Slots), len(c.state.Slots))
	}

	var changed []int
	for i := range c.state.Slots {
		if !c.state.Slots[i].Item.Equal(snap.Slots[i].Item) {
			c.state.Slots[i].Item = snap.Slots[i].Item.Clone()
			changed = append(changed, i)
		}
	}
	c.state.ActiveWeaponSlot = snap.ActiveWeaponSlot
	c.state.Version++
	c.state.Timestamp = c.clock.Now()
	return changed, nil
}

// SetActiveWeaponSlot selects the active weapon slot, or NoSlot.
func (c *Container) SetActiveWeaponSlot(idx int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx != NoSlot && c.state.Slot(idx) == nil {
		return NewError(FailureInvalidSlot, idx, "slot index out of range")
	}
	c.state.ActiveWeaponSlot = idx
	return nil
}

// ActiveWeaponSlot returns the active weapon slot index.
func (c *Container) ActiveWeaponSlot() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.ActiveWeaponSlot
}

// Lock refuses further operations until Unlock.
func (c *Container) Lock(ctx context.Context) error {
	return c.sm.Fire(ctx, EventLock)
}

// Unlock re-enables operations.
func (c *Container) Unlock(ctx context.Context) error {
	return c.sm.Fire(ctx, EventUnlock)
}
