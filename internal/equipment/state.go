package equipment

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"
)

// Equipment states, replicated as the payload's currentStateTag.
const (
	StateIdle        Tag = "Equipment.State.Idle"
	StateEquipping   Tag = "Equipment.State.Equipping"
	StateUnequipping Tag = "Equipment.State.Unequipping"
	StateSwitching   Tag = "Equipment.State.Switching"
	StateLocked      Tag = "Equipment.State.Locked"
)

// State machine events.
const (
	EventBeginEquip   = "begin_equip"
	EventBeginUnequip = "begin_unequip"
	EventBeginSwitch  = "begin_switch"
	EventComplete     = "complete"
	EventLock         = "lock"
	EventUnlock       = "unlock"
)

// StateMachine tracks the container's coarse equipment state.
//
// Every mutating operation passes through a transient state and back to
// Idle. A locked container refuses to begin any operation.
type StateMachine struct {
	f *fsm.FSM
}

// NewStateMachine creates a machine in StateIdle.
func NewStateMachine() *StateMachine {
	idle := string(StateIdle)
	busy := []string{string(StateEquipping), string(StateUnequipping), string(StateSwitching)}
	return &StateMachine{
		f: fsm.NewFSM(
			idle,
			fsm.Events{
				{Name: EventBeginEquip, Src: []string{idle}, Dst: string(StateEquipping)},
				{Name: EventBeginUnequip, Src: []string{idle}, Dst: string(StateUnequipping)},
				{Name: EventBeginSwitch, Src: []string{idle}, Dst: string(StateSwitching)},
				{Name: EventComplete, Src: busy, Dst: idle},
				{Name: EventLock, Src: append([]string{idle}, busy...), Dst: string(StateLocked)},
				{Name: EventUnlock, Src: []string{string(StateLocked)}, Dst: idle},
			},
			fsm.Callbacks{},
		),
	}
}

// Current returns the current state tag.
func (m *StateMachine) Current() Tag {
	return Tag(m.f.Current())
}

// Can reports whether event is allowed from the current state.
func (m *StateMachine) Can(event string) bool {
	return m.f.Can(event)
}

// Fire triggers event. A self-transition is not an error.
func (m *StateMachine) Fire(ctx context.Context, event string) error {
	err := m.f.Event(ctx, event)
	var noTransition fsm.NoTransitionError
	if err != nil && !errors.As(err, &noTransition) {
		return fmt.Errorf("equipment state %s: %w", m.Current(), err)
	}
	return nil
}

// Set forces the machine into state. Used when restoring snapshots.
func (m *StateMachine) Set(state Tag) {
	if state.IsValid() {
		m.f.SetState(string(state))
	}
}

// EventFor returns the begin event for an operation type, or "" when the
// operation does not pass through a transient state.
func EventFor(op OperationType) string {
	switch op {
	case OpEquip, OpModify, OpUpgrade, OpRepair:
		return EventBeginEquip
	case OpUnequip, OpDrop:
		return EventBeginUnequip
	case OpSwap, OpMove, OpQuickSwitch, OpTransfer:
		return EventBeginSwitch
	}
	return ""
}
