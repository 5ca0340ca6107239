package rules

import (
	"fmt"
	"strconv"

	"github.com/Houngansi/SuspenseCore-sub009/internal/equipment"
)

// Compatibility rule tags.
const (
	RuleSlotType   equipment.Tag = "Rule.Compatibility.SlotType"
	RuleDurability equipment.Tag = "Rule.Compatibility.Durability"
)

// Durability thresholds.
const (
	WornDurability   = 0.2
	WornConfidence   = 0.7
	PreferredBonus   = 1.15
	MinDurabilityMul = 0.6
)

// SeverityFor maps a slot validation failure to a severity. Structural
// failures are Critical; the rest are Errors.
func SeverityFor(ft equipment.FailureType) Severity {
	switch ft {
	case equipment.FailureInvalidSlot, equipment.FailureUniqueConstraint, equipment.FailureIncompatibleType:
		return SeverityCritical
	}
	return SeverityError
}

// ValidateSlot is the hard prefilter: can this item be placed in slot idx
// of snap at all? It returns FailureNone on success.
func ValidateSlot(snap *equipment.StateSnapshot, idx int, item equipment.ItemInstance, data equipment.ItemData, known bool) (equipment.FailureType, string) {
	slot := snap.Slot(idx)
	if slot == nil {
		return equipment.FailureInvalidSlot, fmt.Sprintf("slot %d does not exist", idx)
	}
	if !item.IsValid() || item.Quantity <= 0 {
		return equipment.FailureInvalidRequest, "invalid item instance"
	}
	if !known {
		return equipment.FailureIncompatibleType, fmt.Sprintf("unknown item %s", item.ItemID)
	}
	if !slot.Config.CanEquipType(data.Type) {
		return equipment.FailureIncompatibleType,
			fmt.Sprintf("%s (%s) cannot be placed in %s", data.Name(), data.Type, slot.Config.Tag)
	}
	if data.Unique {
		for i, s := range snap.Slots {
			if i != idx && s.Item.ItemID == item.ItemID {
				return equipment.FailureUniqueConstraint,
					fmt.Sprintf("%s is unique and already equipped in slot %d", data.Name(), i)
			}
		}
	}
	return equipment.FailureNone, ""
}

// CompatibilityEngine checks slot type compatibility and item condition.
type CompatibilityEngine struct{}

// NewCompatibilityEngine creates the engine.
func NewCompatibilityEngine() *CompatibilityEngine {
	return &CompatibilityEngine{}
}

// Type implements Engine.
func (e *CompatibilityEngine) Type() EngineType {
	return EngineCompatibility
}

// Evaluate implements Engine.
func (e *CompatibilityEngine) Evaluate(ec *EvalContext) []CheckResult {
	var out []CheckResult
	for _, p := range ec.Placed {
		r := e.Check(ec.After, p)
		out = append(out, r)
		if r.IsCriticalFailure() {
			break
		}
	}
	return out
}

// Check runs the prefilter and then the durability checks for one
// placement.
func (e *CompatibilityEngine) Check(snap *equipment.StateSnapshot, p Placement) CheckResult {
	if ft, msg := ValidateSlot(snap, p.Slot, p.Item, p.Data, p.Known); ft != equipment.FailureNone {
		return Fail(EngineCompatibility, RuleSlotType, p.Slot, SeverityFor(ft), ft, false, msg)
	}

	d := p.Item.Durability
	switch {
	case d <= 0:
		return Fail(EngineCompatibility, RuleDurability, p.Slot, SeverityError, equipment.FailureItemBroken, false,
			fmt.Sprintf("%s is broken", p.Data.Name())).
			With("durability", strconv.FormatFloat(d, 'f', 2, 64))
	case d < WornDurability:
		return Warn(EngineCompatibility, RuleDurability, p.Slot, WornConfidence,
			fmt.Sprintf("%s is badly worn (%.0f%%)", p.Data.Name(), d*100)).
			With("durability", strconv.FormatFloat(d, 'f', 2, 64))
	}
	return Pass(EngineCompatibility, RuleSlotType, p.Slot, "compatible")
}

// FindCompatibleSlots returns the indices of empty slots that accept the
// item, best score first.
func FindCompatibleSlots(snap *equipment.StateSnapshot, item equipment.ItemInstance, data equipment.ItemData) []int {
	type scored struct {
		idx   int
		score float64
	}
	var found []scored
	for i, s := range snap.Slots {
		if !s.IsEmpty() {
			continue
		}
		if ft, _ := ValidateSlot(snap, i, item, data, true); ft != equipment.FailureNone {
			continue
		}
		found = append(found, scored{i, CompatibilityScore(s.Config, item, data)})
	}
	// insertion sort keeps equal scores in slot order
	for i := 1; i < len(found); i++ {
		for j := i; j > 0 && found[j].score > found[j-1].score; j-- {
			found[j], found[j-1] = found[j-1], found[j]
		}
	}
	out := make([]int, len(found))
	for i, f := range found {
		out[i] = f.idx
	}
	return out
}

// CompatibilityScore rates how well item fits a slot: 0 when it cannot be
// placed, otherwise 1 scaled by 1.15 for the preferred slot and by a linear
// ramp from 0.6 (broken) to 1.0 (pristine) on durability.
func CompatibilityScore(cfg equipment.SlotConfig, item equipment.ItemInstance, data equipment.ItemData) float64 {
	if !cfg.CanEquipType(data.Type) {
		return 0
	}
	score := 1.0
	if data.PreferredSlot.IsValid() && cfg.Tag.Matches(data.PreferredSlot) {
		score *= PreferredBonus
	}
	d := min(max(item.Durability, 0), 1)
	score *= MinDurabilityMul + (1-MinDurabilityMul)*d
	return score
}
