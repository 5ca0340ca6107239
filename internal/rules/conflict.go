package rules

import (
	"fmt"
	"slices"
	"sync"

	"github.com/Houngansi/SuspenseCore-sub009/internal/equipment"
)

// Conflict rule tags.
const (
	RuleExclusion equipment.Tag = "Rule.Conflict.Exclusion"
	RuleSetBreak  equipment.Tag = "Rule.Conflict.SetBreak"
	RuleCompanion equipment.Tag = "Rule.Conflict.Companion"
	RuleSlotUsage equipment.Tag = "Rule.Conflict.Slot"
)

// Item tags involved in default exclusions.
const (
	TagTwoHanded equipment.Tag = "Item.Weapon.TwoHanded"
	TagShield    equipment.Tag = "Item.Gear.Shield"
)

// Soft conflict confidences.
const (
	MissingCompanionConfidence = 0.5
	SetBreakConfidence         = 0.7
)

// ConflictType classifies a conflict.
type ConflictType int

const (
	ConflictMutualExclusion ConflictType = iota
	ConflictSetBreak
	ConflictMissingCompanion
	ConflictSlot
	ConflictNoSlot
)

func (t ConflictType) String() string {
	switch t {
	case ConflictMutualExclusion:
		return "MutualExclusion"
	case ConflictSetBreak:
		return "SetBreak"
	case ConflictMissingCompanion:
		return "MissingCompanion"
	case ConflictSlot:
		return "SlotConflict"
	case ConflictNoSlot:
		return "NoCompatibleSlot"
	}
	return fmt.Sprintf("ConflictType(%d)", int(t))
}

// MarshalText implements encoding.TextMarshaler.
func (t ConflictType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Resolution suggests how a predicted conflict could be resolved.
type Resolution int

const (
	ResolveNone Resolution = iota
	ResolveUnequipExisting
	ResolveEquipCompanion
	ResolveAccept
	ResolveReject
)

func (r Resolution) String() string {
	switch r {
	case ResolveNone:
		return "None"
	case ResolveUnequipExisting:
		return "UnequipExisting"
	case ResolveEquipCompanion:
		return "EquipCompanion"
	case ResolveAccept:
		return "Accept"
	case ResolveReject:
		return "Reject"
	}
	return fmt.Sprintf("Resolution(%d)", int(r))
}

// MarshalText implements encoding.TextMarshaler.
func (r Resolution) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Conflict describes one problem between equipped items.
type Conflict struct {
	Type        ConflictType `json:"type"`
	ItemID      string       `json:"item_id"`
	OtherItemID string       `json:"other_item_id,omitempty"`
	Slot        int          `json:"slot"`
	OtherSlot   int          `json:"other_slot"`
	Severity    Severity     `json:"severity"`
	Message     string       `json:"message"`
	Resolution  Resolution   `json:"resolution"`
}

// ExclusionRule forbids items tagged A and B being equipped together.
type ExclusionRule struct {
	A      equipment.Tag `json:"a" yaml:"a"`
	B      equipment.Tag `json:"b" yaml:"b"`
	Reason string        `json:"reason" yaml:"reason"`
}

func (r ExclusionRule) matches(x, y equipment.TagSet) bool {
	return (x.HasTag(r.A) && y.HasTag(r.B)) || (x.HasTag(r.B) && y.HasTag(r.A))
}

// ItemSet is a group of items meant to be worn together.
type ItemSet struct {
	Name  string   `json:"name" yaml:"name"`
	Items []string `json:"items" yaml:"items"`
}

// DefaultExclusions returns the built-in exclusion rules.
func DefaultExclusions() []ExclusionRule {
	return []ExclusionRule{
		{A: TagHeavyArmor, B: TagLightArmor, Reason: "heavy and light armor cannot be combined"},
		{A: TagTwoHanded, B: TagShield, Reason: "two-handed weapons cannot be used with a shield"},
	}
}

// DefaultItemSets returns the built-in item sets.
func DefaultItemSets() []ItemSet {
	return []ItemSet{
		{Name: "Altyn", Items: []string{"Altyn_Helmet", "Altyn_Faceshield"}},
		{Name: "Fort", Items: []string{"6B43_6A_Zabralo", "6B47_Ratnik"}},
	}
}

// ConflictEngine checks interactions between the placed item and the rest
// of the equipment. Slot conflicts are evaluated against real slot
// configurations and tags, never against array positions.
type ConflictEngine struct {
	mu         sync.RWMutex
	exclusions []ExclusionRule
	sets       []ItemSet
}

// NewConflictEngine creates an engine with the default exclusions and sets.
func NewConflictEngine() *ConflictEngine {
	return &ConflictEngine{
		exclusions: DefaultExclusions(),
		sets:       DefaultItemSets(),
	}
}

// Type implements Engine.
func (e *ConflictEngine) Type() EngineType {
	return EngineConflict
}

// AddExclusion registers an exclusion rule.
func (e *ConflictEngine) AddExclusion(r ExclusionRule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.exclusions = append(e.exclusions, r)
}

// AddItemSet registers an item set.
func (e *ConflictEngine) AddItemSet(s ItemSet) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sets = append(e.sets, s)
}

// ItemSets returns a copy of the registered sets.
func (e *ConflictEngine) ItemSets() []ItemSet {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.sets)
}

// Evaluate implements Engine.
func (e *ConflictEngine) Evaluate(ec *EvalContext) []CheckResult {
	var out []CheckResult
	for _, p := range ec.Placed {
		if ec.IsExcluded(p.Slot) {
			continue
		}
		for _, c := range e.placementConflicts(ec.After, p, ec.Catalog) {
			out = append(out, conflictResult(c))
		}
	}
	for _, c := range e.setBreaks(ec.Before, ec.After) {
		out = append(out, conflictResult(c))
	}
	if len(out) == 0 {
		out = append(out, Pass(EngineConflict, RuleExclusion, ec.Op.TargetSlot, "no conflicts"))
	}
	return out
}

func conflictResult(c Conflict) CheckResult {
	switch c.Type {
	case ConflictMissingCompanion:
		return Warn(EngineConflict, RuleCompanion, c.Slot, MissingCompanionConfidence, c.Message)
	case ConflictSetBreak:
		return Warn(EngineConflict, RuleSetBreak, c.Slot, SetBreakConfidence, c.Message)
	case ConflictSlot:
		return Fail(EngineConflict, RuleSlotUsage, c.Slot, SeverityError, equipment.FailureConflictingItem, false, c.Message).
			With("other_slot", fmt.Sprint(c.OtherSlot))
	}
	return Fail(EngineConflict, RuleExclusion, c.Slot, SeverityError, equipment.FailureConflictingItem, false, c.Message).
		With("other_item", c.OtherItemID)
}

// placementConflicts returns hard and soft conflicts caused by p in snap,
// where snap already contains p.
func (e *ConflictEngine) placementConflicts(snap *equipment.StateSnapshot, p Placement, catalog equipment.ItemCatalog) []Conflict {
	out := CheckSlotConflicts(p.Item, p.Data, p.Slot, snap.Slots, catalog)

	e.mu.RLock()
	exclusions := e.exclusions
	e.mu.RUnlock()

	tags := p.Data.AllTags()
	for j, s := range snap.Slots {
		if j == p.Slot || s.IsEmpty() {
			continue
		}
		other, _ := lookup(catalog, s.Item.ItemID)
		for _, rule := range exclusions {
			if rule.matches(tags, other.AllTags()) {
				out = append(out, Conflict{
					Type:        ConflictMutualExclusion,
					ItemID:      p.Item.ItemID,
					OtherItemID: s.Item.ItemID,
					Slot:        p.Slot,
					OtherSlot:   j,
					Severity:    SeverityError,
					Message:     fmt.Sprintf("%s conflicts with %s: %s", p.Data.Name(), other.Name(), rule.Reason),
					Resolution:  ResolveUnequipExisting,
				})
			}
		}
	}

	if len(p.Data.Companions) > 0 {
		found := false
		for _, id := range p.Data.Companions {
			if hasItem(snap, id) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, Conflict{
				Type:       ConflictMissingCompanion,
				ItemID:     p.Item.ItemID,
				Slot:       p.Slot,
				OtherSlot:  equipment.NoSlot,
				Severity:   SeverityWarning,
				Message:    fmt.Sprintf("%s works best with %v", p.Data.Name(), p.Data.Companions),
				Resolution: ResolveEquipCompanion,
			})
		}
	}
	return out
}

// setBreaks reports sets that were complete before the operation and are
// not after it.
func (e *ConflictEngine) setBreaks(before, after *equipment.StateSnapshot) []Conflict {
	e.mu.RLock()
	sets := e.sets
	e.mu.RUnlock()

	var out []Conflict
	for _, set := range sets {
		if !setComplete(before, set) || setComplete(after, set) {
			continue
		}
		slot := equipment.NoSlot
		missing := ""
		for _, id := range set.Items {
			if !hasItem(after, id) {
				missing = id
				for i, s := range before.Slots {
					if s.Item.ItemID == id {
						slot = i
						break
					}
				}
				break
			}
		}
		out = append(out, Conflict{
			Type:       ConflictSetBreak,
			ItemID:     missing,
			Slot:       slot,
			OtherSlot:  equipment.NoSlot,
			Severity:   SeverityWarning,
			Message:    fmt.Sprintf("removing %s breaks the %s set", missing, set.Name),
			Resolution: ResolveAccept,
		})
	}
	return out
}

// CheckSlotConflicts checks slot-usage conflicts for item placed in slots[target].
// Slots are identified by their configured tags: two items in slots sharing
// the primary weapon tag conflict, and an item needing both hands conflicts
// with anything held in the other hand.
func CheckSlotConflicts(item equipment.ItemInstance, data equipment.ItemData, target int, slots []equipment.Slot, catalog equipment.ItemCatalog) []Conflict {
	if target < 0 || target >= len(slots) {
		return nil
	}
	tgt := slots[target].Config
	var out []Conflict

	for j, s := range slots {
		if j == target || s.IsEmpty() || s.Item.InstanceID == item.InstanceID {
			continue
		}
		cfg := s.Config

		if tgt.Tag.Matches(equipment.SlotPrimaryWeapon) && cfg.Tag == tgt.Tag {
			out = append(out, Conflict{
				Type:        ConflictSlot,
				ItemID:      item.ItemID,
				OtherItemID: s.Item.ItemID,
				Slot:        target,
				OtherSlot:   j,
				Severity:    SeverityError,
				Message:     fmt.Sprintf("primary weapon slot already holds %s", s.Item.ItemID),
				Resolution:  ResolveUnequipExisting,
			})
			continue
		}

		if isHandSlot(tgt.Tag) && isHandSlot(cfg.Tag) {
			other, _ := lookup(catalog, s.Item.ItemID)
			if data.AllTags().HasTag(TagTwoHanded) || other.AllTags().HasTag(TagTwoHanded) {
				out = append(out, Conflict{
					Type:        ConflictSlot,
					ItemID:      item.ItemID,
					OtherItemID: s.Item.ItemID,
					Slot:        target,
					OtherSlot:   j,
					Severity:    SeverityError,
					Message:     "two-handed item requires both hands free",
					Resolution:  ResolveUnequipExisting,
				})
			}
		}
	}
	return out
}

// FindAllConflicts lists every hard conflict among the equipped items of
// snap. Each pair is reported once.
func (e *ConflictEngine) FindAllConflicts(snap *equipment.StateSnapshot, catalog equipment.ItemCatalog) []Conflict {
	var out []Conflict
	seen := make(map[[2]int]bool)
	for i, s := range snap.Slots {
		if s.IsEmpty() {
			continue
		}
		data, known := lookup(catalog, s.Item.ItemID)
		p := Placement{Slot: i, Item: s.Item, Data: data, Known: known}
		for _, c := range e.placementConflicts(snap, p, catalog) {
			if c.Severity < SeverityError {
				continue
			}
			key := [2]int{min(c.Slot, c.OtherSlot), max(c.Slot, c.OtherSlot)}
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, c)
		}
	}
	return out
}

// PredictConflicts reports what equipping item into its best compatible
// slot would conflict with, with a suggested resolution for each.
func (e *ConflictEngine) PredictConflicts(snap *equipment.StateSnapshot, item equipment.ItemInstance, data equipment.ItemData, catalog equipment.ItemCatalog) []Conflict {
	candidates := FindCompatibleSlots(snap, item, data)
	if len(candidates) == 0 {
		return []Conflict{{
			Type:       ConflictNoSlot,
			ItemID:     item.ItemID,
			Slot:       equipment.NoSlot,
			OtherSlot:  equipment.NoSlot,
			Severity:   SeverityError,
			Message:    fmt.Sprintf("no free slot accepts %s", data.Name()),
			Resolution: ResolveReject,
		}}
	}
	shadow := snap.Clone()
	target := candidates[0]
	placed := item.Clone()
	placed.AnchorIndex = target
	shadow.Slots[target].Item = placed
	return e.placementConflicts(&shadow, Placement{Slot: target, Item: placed, Data: data, Known: true}, catalog)
}

func isHandSlot(t equipment.Tag) bool {
	return t.Matches(equipment.SlotHandMain) || t.Matches(equipment.SlotHandOff)
}

func hasItem(snap *equipment.StateSnapshot, itemID string) bool {
	for _, s := range snap.Slots {
		if s.Item.ItemID == itemID {
			return true
		}
	}
	return false
}

func setComplete(snap *equipment.StateSnapshot, set ItemSet) bool {
	if len(set.Items) == 0 {
		return false
	}
	for _, id := range set.Items {
		if !hasItem(snap, id) {
			return false
		}
	}
	return true
}

func lookup(catalog equipment.ItemCatalog, itemID string) (equipment.ItemData, bool) {
	if catalog == nil {
		return equipment.ItemData{}, false
	}
	return catalog.Lookup(itemID)
}
