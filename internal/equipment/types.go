package equipment

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Runtime property keys understood by the system.
const (
	PropWeight           = "Weight"
	PropRequiredLevel    = "RequiredLevel"
	PropLastUsedTime     = "LastUsedTime"
	PropClientPrediction = "ClientPrediction"
	PropLocalCooldown    = "LocalCooldown"
)

// RuntimeOnlyProperties are stripped from replicated item data.
var RuntimeOnlyProperties = []string{PropLastUsedTime, PropClientPrediction, PropLocalCooldown}

// NoSlot marks an unset slot index.
const NoSlot = -1

// ItemInstance is a concrete item occupying a slot.
// The zero value (empty ItemID) represents "no item".
type ItemInstance struct {
	ItemID      string             `json:"item_id" yaml:"item_id"`
	InstanceID  string             `json:"instance_id,omitempty" yaml:"instance_id,omitempty"`
	Quantity    int                `json:"quantity" yaml:"quantity"`
	Durability  float64            `json:"durability" yaml:"durability"`
	Properties  map[string]float64 `json:"properties,omitempty" yaml:"properties,omitempty"`
	AnchorIndex int                `json:"anchor_index" yaml:"anchor_index"`
	Rotated     bool               `json:"rotated,omitempty" yaml:"rotated,omitempty"`
}

// NewItem creates a single, fully repaired item instance.
func NewItem(itemID, instanceID string) ItemInstance {
	return ItemInstance{
		ItemID:      NormalizeID(itemID),
		InstanceID:  instanceID,
		Quantity:    1,
		Durability:  1.0,
		AnchorIndex: NoSlot,
	}
}

// IsValid reports whether the instance refers to an item.
func (i ItemInstance) IsValid() bool {
	return i.ItemID != ""
}

// Property returns a runtime property or def when absent.
func (i ItemInstance) Property(key string, def float64) float64 {
	if v, ok := i.Properties[key]; ok {
		return v
	}
	return def
}

// WithProperty returns a copy of the instance with key set to v.
func (i ItemInstance) WithProperty(key string, v float64) ItemInstance {
	out := i.Clone()
	if out.Properties == nil {
		out.Properties = make(map[string]float64, 1)
	}
	out.Properties[key] = v
	return out
}

// Clone returns a deep copy.
func (i ItemInstance) Clone() ItemInstance {
	out := i
	if i.Properties != nil {
		out.Properties = maps.Clone(i.Properties)
	}
	return out
}

// Replicated returns a copy without RuntimeOnlyProperties.
func (i ItemInstance) Replicated() ItemInstance {
	out := i.Clone()
	for _, k := range RuntimeOnlyProperties {
		delete(out.Properties, k)
	}
	if len(out.Properties) == 0 {
		out.Properties = nil
	}
	return out
}

// Equal compares two instances field by field.
func (i ItemInstance) Equal(o ItemInstance) bool {
	return i.ItemID == o.ItemID &&
		i.InstanceID == o.InstanceID &&
		i.Quantity == o.Quantity &&
		i.Durability == o.Durability &&
		i.AnchorIndex == o.AnchorIndex &&
		i.Rotated == o.Rotated &&
		maps.Equal(i.Properties, o.Properties)
}

// SortedPropertyKeys returns property keys in lexical order.
func (i ItemInstance) SortedPropertyKeys() []string {
	keys := slices.Collect(maps.Keys(i.Properties))
	slices.Sort(keys)
	return keys
}

func (i ItemInstance) String() string {
	if !i.IsValid() {
		return "<empty>"
	}
	return fmt.Sprintf("%s x%d (%.0f%%)", i.ItemID, i.Quantity, i.Durability*100)
}

// SlotConfig describes one slot of a container.
type SlotConfig struct {
	Index           int    `json:"index" yaml:"index"`
	Name            string `json:"name" yaml:"name"`
	SlotType        string `json:"slot_type" yaml:"slot_type"`
	Tag             Tag    `json:"tag" yaml:"tag"`
	AllowedTypes    TagSet `json:"allowed_types,omitempty" yaml:"allowed_types,omitempty"`
	DisallowedTypes TagSet `json:"disallowed_types,omitempty" yaml:"disallowed_types,omitempty"`
	Required        bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Visible         bool   `json:"visible" yaml:"visible"`
}

// CanEquipType reports whether an item of the given type may occupy the
// slot. An empty allowed set allows every type not explicitly disallowed.
func (c SlotConfig) CanEquipType(itemType Tag) bool {
	if !c.AllowedTypes.IsEmpty() && !c.AllowedTypes.HasTag(itemType) {
		return false
	}
	return !c.DisallowedTypes.HasTagExact(itemType)
}

// IsWeaponSlot reports whether the slot holds weapons.
func (c SlotConfig) IsWeaponSlot() bool {
	return c.Tag.Matches(SlotWeaponRoot) || c.Tag.Matches(SlotHandMain) || c.Tag.Matches(SlotHandOff)
}

// Slot pairs a configuration with its current occupant.
type Slot struct {
	Config SlotConfig   `json:"config"`
	Item   ItemInstance `json:"item"`
}

// IsEmpty reports whether the slot has no item.
func (s Slot) IsEmpty() bool {
	return !s.Item.IsValid()
}

// StateSnapshot is a full copy of a container's state.
type StateSnapshot struct {
	Slots            []Slot    `json:"slots"`
	ActiveWeaponSlot int       `json:"active_weapon_slot"`
	StateTag         Tag       `json:"state_tag"`
	Version          uint32    `json:"version"`
	Timestamp        time.Time `json:"timestamp"`
}

// Clone returns a deep copy of the snapshot.
func (s StateSnapshot) Clone() StateSnapshot {
	out := s
	out.Slots = make([]Slot, len(s.Slots))
	for i, slot := range s.Slots {
		out.Slots[i] = Slot{Config: slot.Config, Item: slot.Item.Clone()}
	}
	return out
}

// Slot returns a pointer to the slot with the given index, or nil.
func (s *StateSnapshot) Slot(index int) *Slot {
	if index < 0 || index >= len(s.Slots) {
		return nil
	}
	return &s.Slots[index]
}

// Items returns the occupied item instances in slot order.
func (s StateSnapshot) Items() []ItemInstance {
	out := make([]ItemInstance, 0, len(s.Slots))
	for _, slot := range s.Slots {
		if slot.Item.IsValid() {
			out = append(out, slot.Item)
		}
	}
	return out
}

// Configs returns the slot configurations in slot order.
func (s StateSnapshot) Configs() []SlotConfig {
	out := make([]SlotConfig, len(s.Slots))
	for i, slot := range s.Slots {
		out[i] = slot.Config
	}
	return out
}

// FindInstance returns the slot index holding instanceID, or NoSlot.
func (s StateSnapshot) FindInstance(instanceID string) int {
	if instanceID == "" {
		return NoSlot
	}
	for i, slot := range s.Slots {
		if slot.Item.InstanceID == instanceID {
			return i
		}
	}
	return NoSlot
}

// OperationType enumerates equipment operations.
type OperationType int

const (
	OpNone OperationType = iota
	OpEquip
	OpUnequip
	OpSwap
	OpMove
	OpDrop
	OpQuickSwitch
	OpTransfer
	OpReload
	OpInspect
	OpRepair
	OpUpgrade
	OpModify
	OpCombine
	OpSplit
)

var operationNames = map[OperationType]string{
	OpNone:        "None",
	OpEquip:       "Equip",
	OpUnequip:     "Unequip",
	OpSwap:        "Swap",
	OpMove:        "Move",
	OpDrop:        "Drop",
	OpQuickSwitch: "QuickSwitch",
	OpTransfer:    "Transfer",
	OpReload:      "Reload",
	OpInspect:     "Inspect",
	OpRepair:      "Repair",
	OpUpgrade:     "Upgrade",
	OpModify:      "Modify",
	OpCombine:     "Combine",
	OpSplit:       "Split",
}

func (o OperationType) String() string {
	if s, ok := operationNames[o]; ok {
		return s
	}
	return fmt.Sprintf("OperationType(%d)", int(o))
}

// ParseOperationType parses a case-insensitive operation name.
func ParseOperationType(s string) (OperationType, error) {
	for op, name := range operationNames {
		if strings.EqualFold(name, s) {
			return op, nil
		}
	}
	return OpNone, fmt.Errorf("unknown operation type %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (o OperationType) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *OperationType) UnmarshalText(b []byte) error {
	op, err := ParseOperationType(string(b))
	if err != nil {
		return err
	}
	*o = op
	return nil
}

// Priority orders queued operations. Higher runs first within a tick.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
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

// OperationRequest is an immutable request to mutate a container.
type OperationRequest struct {
	OperationID string        `json:"operation_id"`
	PlayerID    string        `json:"player_id"`
	Type        OperationType `json:"type"`
	Priority    Priority      `json:"priority,omitempty"`
	SourceSlot  int           `json:"source_slot"`
	TargetSlot  int           `json:"target_slot"`
	Item        ItemInstance  `json:"item"`
	Timestamp   time.Time     `json:"timestamp"`
	Sequence    uint64        `json:"sequence"`
	Force       bool          `json:"force,omitempty"`
	Simulated   bool          `json:"simulated,omitempty"`
	Nonce       uint64        `json:"nonce,omitempty"`
	Signature   string        `json:"signature,omitempty"`
}

// OperationResult is produced exactly once per request.
type OperationResult struct {
	Success       bool           `json:"success"`
	OperationID   string         `json:"operation_id"`
	FailureType   FailureType    `json:"failure_type"`
	Message       string         `json:"message,omitempty"`
	AffectedSlots []int          `json:"affected_slots,omitempty"`
	AffectedItems []ItemInstance `json:"affected_items,omitempty"`
	TransactionID string         `json:"transaction_id,omitempty"`
	ExecutionTime time.Duration  `json:"execution_time"`
	Warnings      []string       `json:"warnings,omitempty"`
	Confidence    float64        `json:"confidence"`
	CanOverride   bool           `json:"can_override,omitempty"`
	Version       uint32         `json:"version,omitempty"`
}

// Failed builds a failed result for op.
func Failed(op OperationRequest, ft FailureType, msg string) OperationResult {
	return OperationResult{
		OperationID: op.OperationID,
		FailureType: ft,
		Message:     msg,
	}
}
