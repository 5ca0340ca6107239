package rules

import (
	"fmt"
	"sort"

	"github.com/Houngansi/SuspenseCore-sub009/internal/equipment"
)

// Weight rule tag.
const RuleWeight equipment.Tag = "Rule.Weight.Capacity"

// OverweightConfidence is the confidence of an allowed overweight load.
const OverweightConfidence = 0.8

// Encumbrance tags.
const (
	EncumbranceNormal     equipment.Tag = "Equipment.Encumbrance.Normal"
	EncumbranceEncumbered equipment.Tag = "Equipment.Encumbrance.Encumbered"
	EncumbranceOverweight equipment.Tag = "Equipment.Encumbrance.Overweight"
)

// Item tags with weight modifiers.
const (
	TagHeavyArmor  equipment.Tag = "Item.Armor.Heavy"
	TagLightArmor  equipment.Tag = "Item.Armor.Light"
	TagHeavyWeapon equipment.Tag = "Item.Weapon.Heavy"
)

// WeightConfig holds capacity parameters.
type WeightConfig struct {
	BaseCapacity        float64                   `yaml:"base_capacity"`
	CapacityPerStrength float64                   `yaml:"capacity_per_strength"`
	EncumberedRatio     float64                   `yaml:"encumbered_ratio"`
	OverweightRatio     float64                   `yaml:"overweight_ratio"`
	MaxOverweightRatio  float64                   `yaml:"max_overweight_ratio"`
	Modifiers           map[equipment.Tag]float64 `yaml:"modifiers"`
}

// DefaultWeightConfig returns the standard capacity model.
func DefaultWeightConfig() WeightConfig {
	return WeightConfig{
		BaseCapacity:        40,
		CapacityPerStrength: 2,
		EncumberedRatio:     0.75,
		OverweightRatio:     1.0,
		MaxOverweightRatio:  1.5,
		Modifiers: map[equipment.Tag]float64{
			TagHeavyArmor:            1.25,
			TagLightArmor:            0.85,
			TagHeavyWeapon:           1.15,
			equipment.ItemConsumable: 0.90,
		},
	}
}

// WeightEngine checks the total carried weight against capacity.
type WeightEngine struct {
	cfg WeightConfig
}

// NewWeightEngine creates the engine.
func NewWeightEngine(cfg WeightConfig) *WeightEngine {
	return &WeightEngine{cfg: cfg}
}

// Config returns the engine configuration.
func (e *WeightEngine) Config() WeightConfig {
	return e.cfg
}

// Type implements Engine.
func (e *WeightEngine) Type() EngineType {
	return EngineWeight
}

// Capacity returns how much ch can carry.
func (e *WeightEngine) Capacity(ch Character) float64 {
	return e.cfg.BaseCapacity + e.cfg.CapacityPerStrength*ch.Strength()
}

// ItemWeight returns the effective weight of one stack: base weight (the
// Weight property overrides the catalog) times quantity times every
// matching tag modifier.
func (e *WeightEngine) ItemWeight(item equipment.ItemInstance, data equipment.ItemData) float64 {
	if !item.IsValid() {
		return 0
	}
	w := item.Property(equipment.PropWeight, data.Weight)
	w *= float64(max(1, item.Quantity))
	tags := data.AllTags()
	for tag, mod := range e.cfg.Modifiers {
		if tags.HasTag(tag) {
			w *= mod
		}
	}
	return w
}

// Encumbrance classifies a load ratio.
func (e *WeightEngine) Encumbrance(ratio float64) equipment.Tag {
	switch {
	case ratio >= e.cfg.OverweightRatio:
		return EncumbranceOverweight
	case ratio >= e.cfg.EncumberedRatio:
		return EncumbranceEncumbered
	}
	return EncumbranceNormal
}

// Evaluate implements Engine. Operations that only remove weight always
// pass.
func (e *WeightEngine) Evaluate(ec *EvalContext) []CheckResult {
	a := e.Analyze(ec.After, ec.Character, ec.Catalog, ec.Excluded)
	before := e.Analyze(ec.Before, ec.Character, ec.Catalog, ec.Excluded)
	slot := ec.Op.TargetSlot

	ctx := func(r CheckResult) CheckResult {
		return r.With("total", fmt.Sprintf("%.2f", a.Total)).
			With("capacity", fmt.Sprintf("%.2f", a.Capacity)).
			With("encumbrance", string(a.Encumbrance))
	}

	if a.Total <= before.Total {
		return []CheckResult{ctx(Pass(EngineWeight, RuleWeight, slot, "weight not increased"))}
	}
	switch {
	case a.Ratio > e.cfg.MaxOverweightRatio:
		return []CheckResult{ctx(Fail(EngineWeight, RuleWeight, slot, SeverityError, equipment.FailureWeightLimit, false,
			fmt.Sprintf("load %.1f exceeds %.0f%% of capacity %.1f", a.Total, e.cfg.MaxOverweightRatio*100, a.Capacity)))}
	case a.Ratio >= e.cfg.OverweightRatio:
		r := Warn(EngineWeight, RuleWeight, slot, OverweightConfidence,
			fmt.Sprintf("overweight: %.1f / %.1f", a.Total, a.Capacity))
		r.FailureType = equipment.FailureWeightLimit
		return []CheckResult{ctx(r)}
	case a.Ratio >= e.cfg.EncumberedRatio:
		return []CheckResult{ctx(Pass(EngineWeight, RuleWeight, slot,
			fmt.Sprintf("encumbered: %.1f / %.1f", a.Total, a.Capacity)))}
	}
	return []CheckResult{ctx(Pass(EngineWeight, RuleWeight, slot, "within capacity"))}
}

// SlotWeight is one slot's contribution to the load.
type SlotWeight struct {
	Slot   int           `json:"slot"`
	Tag    equipment.Tag `json:"tag"`
	ItemID string        `json:"item_id"`
	Weight float64       `json:"weight"`
	Share  float64       `json:"share"`
}

// WeightAnalysis describes the load of a snapshot.
type WeightAnalysis struct {
	Total       float64       `json:"total"`
	Capacity    float64       `json:"capacity"`
	Ratio       float64       `json:"ratio"`
	Encumbrance equipment.Tag `json:"encumbrance"`
	Slots       []SlotWeight  `json:"slots"`
}

// Analyze computes the load of snap, ignoring excluded slots.
func (e *WeightEngine) Analyze(snap *equipment.StateSnapshot, ch Character, catalog equipment.ItemCatalog, excluded equipment.TagSet) WeightAnalysis {
	a := WeightAnalysis{Capacity: e.Capacity(ch)}
	for i, s := range snap.Slots {
		if s.IsEmpty() || excluded.HasTag(s.Config.Tag) {
			continue
		}
		var data equipment.ItemData
		if catalog != nil {
			data, _ = catalog.Lookup(s.Item.ItemID)
		}
		w := e.ItemWeight(s.Item, data)
		a.Total += w
		a.Slots = append(a.Slots, SlotWeight{Slot: i, Tag: s.Config.Tag, ItemID: s.Item.ItemID, Weight: w})
	}
	if a.Capacity > 0 {
		a.Ratio = a.Total / a.Capacity
	}
	for i := range a.Slots {
		if a.Total > 0 {
			a.Slots[i].Share = a.Slots[i].Weight / a.Total
		}
	}
	a.Encumbrance = e.Encumbrance(a.Ratio)
	return a
}

// AnalyzeDistribution is Analyze with no excluded slots.
func (e *WeightEngine) AnalyzeDistribution(snap *equipment.StateSnapshot, ch Character, catalog equipment.ItemCatalog) WeightAnalysis {
	return e.Analyze(snap, ch, catalog, nil)
}

// HeaviestItems returns up to n slots sorted by weight, heaviest first.
func (e *WeightEngine) HeaviestItems(snap *equipment.StateSnapshot, catalog equipment.ItemCatalog, n int) []SlotWeight {
	a := e.Analyze(snap, Character{}, catalog, nil)
	sort.SliceStable(a.Slots, func(i, j int) bool {
		return a.Slots[i].Weight > a.Slots[j].Weight
	})
	if n >= 0 && len(a.Slots) > n {
		a.Slots = a.Slots[:n]
	}
	return a.Slots
}
