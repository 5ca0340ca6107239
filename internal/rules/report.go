package rules

import (
	"fmt"
	"strings"

	"github.com/Houngansi/SuspenseCore-sub009/internal/equipment"
)

// SlotCompliance is the validation state of one occupied slot.
type SlotCompliance struct {
	Slot      int           `json:"slot"`
	Tag       equipment.Tag `json:"tag"`
	ItemID    string        `json:"item_id"`
	Compliant bool          `json:"compliant"`
	Skipped   bool          `json:"skipped,omitempty"`
	Issues    []CheckResult `json:"issues,omitempty"`
}

// Compliance is a full validation of an existing loadout.
type Compliance struct {
	Slots     []SlotCompliance `json:"slots"`
	Weight    WeightAnalysis   `json:"weight"`
	Engines   []EngineMetrics  `json:"engines"`
	Occupied  int              `json:"occupied"`
	Compliant int              `json:"compliant"`
}

// Rate returns the fraction of checked slots that are compliant.
func (c Compliance) Rate() float64 {
	checked := 0
	for _, s := range c.Slots {
		if !s.Skipped {
			checked++
		}
	}
	if checked == 0 {
		return 1
	}
	return float64(c.Compliant) / float64(checked)
}

// CheckCompliance re-validates every equipped item of snap in place.
// Engine metrics are not updated.
func (c *Coordinator) CheckCompliance(snap equipment.StateSnapshot, ch Character) Compliance {
	var out Compliance
	out.Engines = c.Stats().Engines

	for i, s := range snap.Slots {
		if s.IsEmpty() {
			continue
		}
		out.Occupied++
		sc := SlotCompliance{Slot: i, Tag: s.Config.Tag, ItemID: s.Item.ItemID, Compliant: true}
		if c.excluded.HasTag(s.Config.Tag) {
			sc.Skipped = true
			out.Slots = append(out.Slots, sc)
			continue
		}

		data, known := lookup(c.catalog, s.Item.ItemID)
		ec := &EvalContext{
			Op:        equipment.OperationRequest{Type: equipment.OpInspect, SourceSlot: equipment.NoSlot, TargetSlot: i},
			Before:    &snap,
			After:     &snap,
			Placed:    []Placement{{Slot: i, Item: s.Item, Data: data, Known: known}},
			Character: ch,
			Catalog:   c.catalog,
			Excluded:  c.excluded,
		}
		for _, reg := range c.sortedEngines() {
			if reg.engine.Type() == EngineWeight {
				continue
			}
			for _, r := range reg.engine.Evaluate(ec) {
				if !r.Passed || r.Severity == SeverityWarning {
					sc.Issues = append(sc.Issues, r)
				}
				if r.Blocks() {
					sc.Compliant = false
				}
			}
		}
		if sc.Compliant {
			out.Compliant++
		}
		out.Slots = append(out.Slots, sc)
	}

	we := NewWeightEngine(DefaultWeightConfig())
	if e, ok := c.Engine(EngineWeight); ok {
		if w, ok := e.(*WeightEngine); ok {
			we = w
		}
	}
	out.Weight = we.Analyze(&snap, ch, c.catalog, c.excluded)
	return out
}

// ComplianceReport renders CheckCompliance as text.
func (c *Coordinator) ComplianceReport(snap equipment.StateSnapshot, ch Character) string {
	comp := c.CheckCompliance(snap, ch)
	var b strings.Builder

	b.WriteString("Equipment Compliance Report\n")
	b.WriteString("===========================\n")
	if ch.ID != "" {
		fmt.Fprintf(&b, "Player: %s\n", ch.ID)
	}
	class := "-"
	if ch.Class.IsValid() {
		class = ch.Class.Leaf()
	}
	fmt.Fprintf(&b, "Level: %d  Class: %s  Strength: %.0f\n", ch.Level, class, ch.Strength())
	fmt.Fprintf(&b, "Version: %d  State: %s\n\n", snap.Version, snap.StateTag.Leaf())

	b.WriteString("Engines:\n")
	for _, e := range comp.Engines {
		state := "enabled"
		if !e.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(&b, "  %-14s %-8s %-8s executions=%d\n", e.Engine, e.Priority, state, e.Executions)
	}

	b.WriteString("\nSlots:\n")
	for _, s := range comp.Slots {
		status := "OK"
		switch {
		case s.Skipped:
			status = "skipped"
		case !s.Compliant:
			status = "FAIL"
		case len(s.Issues) > 0:
			status = "WARN"
		}
		fmt.Fprintf(&b, "  [%2d] %-34s %-20s %s\n", s.Slot, s.Tag, s.ItemID, status)
		for _, r := range s.Issues {
			fmt.Fprintf(&b, "       %s: %s\n", r.Severity, r.Message)
		}
	}

	w := comp.Weight
	b.WriteString("\nWeight:\n")
	fmt.Fprintf(&b, "  Total: %.2f / %.2f (%.1f%%)  %s\n", w.Total, w.Capacity, w.Ratio*100, w.Encumbrance.Leaf())

	b.WriteString("\nSummary:\n")
	fmt.Fprintf(&b, "  Occupied: %d  Compliant: %d  Compliance: %.1f%%\n",
		comp.Occupied, comp.Compliant, comp.Rate()*100)
	return b.String()
}
