package eventbus

import (
	"time"

	"github.com/Houngansi/SuspenseCore-sub009/internal/equipment"
)

// Event tags published by the equipment service.
const (
	TagRoot                  equipment.Tag = "Equipment.Event"
	TagSlotChanged           equipment.Tag = "Equipment.Event.SlotChanged"
	TagOperationCompleted    equipment.Tag = "Equipment.Event.OperationCompleted"
	TagOperationRejected     equipment.Tag = "Equipment.Event.OperationRejected"
	TagReplicationApplied    equipment.Tag = "Equipment.Event.ReplicationApplied"
	TagPredictionCorrected   equipment.Tag = "Equipment.Event.PredictionCorrected"
	TagSecurityViolation     equipment.Tag = "Equipment.Event.Security.Violation"
	TagTransaction           equipment.Tag = "Equipment.Event.Transaction"
	TagTransactionCommitted  equipment.Tag = "Equipment.Event.Transaction.Committed"
	TagTransactionRolledBack equipment.Tag = "Equipment.Event.Transaction.RolledBack"
	TagTransactionFailed     equipment.Tag = "Equipment.Event.Transaction.Failed"
)

// Event is one published notification. Payload carries the typed value
// named by the tag (an OperationResult, a SlotChange, a Correction, ...).
type Event struct {
	Tag       equipment.Tag `json:"tag"`
	PlayerID  string        `json:"player_id,omitempty"`
	Source    string        `json:"source,omitempty"`
	Payload   any           `json:"payload,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Handler receives events.
type Handler func(Event)

// Filter narrows a subscription beyond its tag.
type Filter func(Event) bool

// ForPlayer returns a filter matching events about one player.
func ForPlayer(playerID string) Filter {
	return func(e Event) bool {
		return e.PlayerID == playerID
	}
}
