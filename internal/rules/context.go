package rules

import (
	"maps"

	"github.com/Houngansi/SuspenseCore-sub009/internal/equipment"
)

// Character class tags used by derived requirements.
const (
	ClassMarksman equipment.Tag = "Character.Class.Marksman"
	ClassHeavy    equipment.Tag = "Character.Class.Heavy"
	ClassAssault  equipment.Tag = "Character.Class.Assault"
)

// AttrStrength is the attribute that drives carry capacity.
const AttrStrength = "Strength"

// Character is the subset of a player's stats the rules read.
type Character struct {
	ID         string             `json:"id" yaml:"id"`
	Level      int                `json:"level" yaml:"level"`
	Class      equipment.Tag      `json:"class,omitempty" yaml:"class,omitempty"`
	Tags       equipment.TagSet   `json:"tags,omitempty" yaml:"tags,omitempty"`
	Abilities  equipment.TagSet   `json:"abilities,omitempty" yaml:"abilities,omitempty"`
	Attributes map[string]float64 `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// Attribute returns the named attribute, or 0.
func (c Character) Attribute(name string) float64 {
	return c.Attributes[name]
}

// Strength returns the Strength attribute.
func (c Character) Strength() float64 {
	return c.Attribute(AttrStrength)
}

// Clone returns a deep copy.
func (c Character) Clone() Character {
	out := c
	out.Tags = append(equipment.TagSet(nil), c.Tags...)
	out.Abilities = append(equipment.TagSet(nil), c.Abilities...)
	out.Attributes = maps.Clone(c.Attributes)
	return out
}

// Context carries everything an evaluation needs. It is passed by value;
// the coordinator never retains it.
type Context struct {
	Snapshot  equipment.StateSnapshot
	Character Character
	Force     bool
}

// Placement is an item that ends up in a slot as a result of an operation.
type Placement struct {
	Slot  int
	Item  equipment.ItemInstance
	Data  equipment.ItemData
	Known bool
}

// EvalContext is the per-evaluation view handed to engines.
type EvalContext struct {
	Op        equipment.OperationRequest
	Before    *equipment.StateSnapshot
	After     *equipment.StateSnapshot
	Changes   []equipment.SlotChange
	Placed    []Placement
	Character Character
	Catalog   equipment.ItemCatalog
	Excluded  equipment.TagSet
	Force     bool
}

// Lookup resolves an item id against the catalog.
func (ec *EvalContext) Lookup(itemID string) (equipment.ItemData, bool) {
	if ec.Catalog == nil {
		return equipment.ItemData{}, false
	}
	return ec.Catalog.Lookup(itemID)
}

// IsExcluded reports whether slot idx is skipped by the rules.
func (ec *EvalContext) IsExcluded(idx int) bool {
	s := ec.After.Slot(idx)
	return s != nil && ec.Excluded.HasTag(s.Config.Tag)
}

// Removed returns items that left their slot in this operation without
// being placed elsewhere.
func (ec *EvalContext) Removed() []equipment.ItemInstance {
	var out []equipment.ItemInstance
	for _, c := range ec.Changes {
		if !c.Before.IsValid() {
			continue
		}
		if ec.After.FindInstance(c.Before.InstanceID) == equipment.NoSlot {
			out = append(out, c.Before)
		}
	}
	return out
}

// placements derives the items newly placed by changes. Modify and Upgrade
// re-place the same instance, so they are included too.
func placements(op equipment.OperationRequest, changes []equipment.SlotChange, catalog equipment.ItemCatalog) []Placement {
	var out []Placement
	for _, c := range changes {
		if !c.After.IsValid() {
			continue
		}
		replaced := op.Type == equipment.OpModify || op.Type == equipment.OpUpgrade
		if c.Before.InstanceID == c.After.InstanceID && c.Before.IsValid() && !replaced {
			continue
		}
		p := Placement{Slot: c.Slot, Item: c.After}
		if catalog != nil {
			p.Data, p.Known = catalog.Lookup(c.After.ItemID)
		}
		out = append(out, p)
	}
	return out
}
