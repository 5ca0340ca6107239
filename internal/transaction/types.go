package transaction

import (
	"context"
	"fmt"
	"time"

	"github.com/Houngansi/SuspenseCore-sub009/internal/equipment"
)

// State is a transaction lifecycle state.
type State int

const (
	StateNone State = iota
	StateActive
	StateCommitting
	StateCommitted
	StateRollingBack
	StateRolledBack
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "None"
	case StateActive:
		return "Active"
	case StateCommitting:
		return "Committing"
	case StateCommitted:
		return "Committed"
	case StateRollingBack:
		return "RollingBack"
	case StateRolledBack:
		return "RolledBack"
	case StateFailed:
		return "Failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	for st := StateNone; st <= StateFailed; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown transaction state %q", string(b))
}

// CanModify reports whether operations may still be applied.
func (s State) CanModify() bool {
	return s == StateActive
}

// IsFinalized reports whether the transaction has reached a terminal state.
func (s State) IsFinalized() bool {
	return s == StateCommitted || s == StateRolledBack || s == StateFailed
}

// Transaction is one unit of work against a container.
type Transaction struct {
	ID          string                       `json:"id"`
	ParentID    string                       `json:"parent_id,omitempty"`
	PlayerID    string                       `json:"player_id"`
	Description string                       `json:"description"`
	State       State                        `json:"state"`
	Operations  []equipment.OperationRequest `json:"operations"`
	Changes     []equipment.SlotChange       `json:"changes,omitempty"`
	Before      equipment.StateSnapshot      `json:"before"`
	After       equipment.StateSnapshot      `json:"after"`
	StartedAt   time.Time                    `json:"started_at"`
	EndedAt     time.Time                    `json:"ended_at,omitzero"`
	Reason      string                       `json:"reason,omitempty"`

	savepoints []Savepoint
}

// IsNested reports whether the transaction has a parent.
func (t Transaction) IsNested() bool {
	return t.ParentID != ""
}

// Duration returns how long the transaction ran, or zero while active.
func (t Transaction) Duration() time.Duration {
	if t.EndedAt.IsZero() {
		return 0
	}
	return t.EndedAt.Sub(t.StartedAt)
}

// AffectedSlots returns the distinct slot indices touched, in first-touch
// order.
func (t Transaction) AffectedSlots() []int {
	seen := make(map[int]bool, len(t.Changes))
	var out []int
	for _, c := range t.Changes {
		if !seen[c.Slot] {
			seen[c.Slot] = true
			out = append(out, c.Slot)
		}
	}
	return out
}

// clone returns a copy safe to hand to callers.
func (t *Transaction) clone() Transaction {
	out := *t
	out.Operations = append([]equipment.OperationRequest(nil), t.Operations...)
	out.Changes = append([]equipment.SlotChange(nil), t.Changes...)
	out.Before = t.Before.Clone()
	out.After = t.After.Clone()
	out.savepoints = nil
	return out
}

// Savepoint is a named intermediate state inside a transaction.
type Savepoint struct {
	ID             string
	Name           string
	TransactionID  string
	Snapshot       equipment.StateSnapshot
	OperationIndex int
	ChangeIndex    int
	CreatedAt      time.Time
}

// Target is the container a processor mutates.
// Implemented by *equipment.Container.
type Target interface {
	Snapshot() equipment.StateSnapshot
	Apply(ctx context.Context, op equipment.OperationRequest) ([]equipment.SlotChange, error)
	Restore(snap equipment.StateSnapshot) ([]int, error)
}

// Journal durably records committed top-level transactions.
// Implemented by store.Store.
type Journal interface {
	AppendTransaction(ctx context.Context, tx Transaction) error
}

// Listener observes transaction state changes.
type Listener func(tx Transaction, from, to State)

// Stats summarizes processor activity.
type Stats struct {
	Started    uint64        `json:"started"`
	Committed  uint64        `json:"committed"`
	RolledBack uint64        `json:"rolled_back"`
	Failed     uint64        `json:"failed"`
	TimedOut   uint64        `json:"timed_out"`
	Active     int           `json:"active"`
	AvgCommit  time.Duration `json:"avg_commit"`
}
