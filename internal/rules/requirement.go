package rules

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/Houngansi/SuspenseCore-sub009/internal/equipment"
)

// Requirement rule tags.
const (
	RuleLevel     equipment.Tag = "Rule.Requirement.Level"
	RuleClass     equipment.Tag = "Rule.Requirement.Class"
	RuleTag       equipment.Tag = "Rule.Requirement.Tag"
	RuleAttribute equipment.Tag = "Rule.Requirement.Attribute"
	RuleAbility   equipment.Tag = "Rule.Requirement.Ability"
)

// Heavy items need Strength >= StrengthBase + (weight-HeavyItemWeight)*StrengthPerKg.
const (
	HeavyItemWeight = 8.0
	StrengthBase    = 12.0
	StrengthPerKg   = 0.5
)

// RequirementKind selects which character field a requirement reads.
type RequirementKind int

const (
	RequireLevel RequirementKind = iota
	RequireClass
	RequireTag
	RequireAttribute
	RequireAbility
)

// Comparison is an attribute comparison operator.
type Comparison string

const (
	CmpEq Comparison = "=="
	CmpNe Comparison = "!="
	CmpGt Comparison = ">"
	CmpGe Comparison = ">="
	CmpLt Comparison = "<"
	CmpLe Comparison = "<="
)

// Compare applies the operator.
func (c Comparison) Compare(have, want float64) bool {
	const eps = 1e-9
	switch c {
	case CmpEq:
		return math.Abs(have-want) < eps
	case CmpNe:
		return math.Abs(have-want) >= eps
	case CmpGt:
		return have > want
	case CmpLt:
		return have < want
	case CmpLe:
		return have <= want+eps
	default:
		return have >= want-eps
	}
}

// Requirement is one condition a character must meet to equip an item.
type Requirement struct {
	Kind      RequirementKind `json:"kind" yaml:"kind"`
	Tag       equipment.Tag   `json:"tag,omitempty" yaml:"tag,omitempty"`
	Attribute string          `json:"attribute,omitempty" yaml:"attribute,omitempty"`
	Op        Comparison      `json:"op,omitempty" yaml:"op,omitempty"`
	Value     float64         `json:"value,omitempty" yaml:"value,omitempty"`
	Source    string          `json:"source,omitempty" yaml:"source,omitempty"`
}

func (r Requirement) String() string {
	switch r.Kind {
	case RequireLevel:
		return fmt.Sprintf("level >= %.0f", r.Value)
	case RequireClass:
		return "class " + string(r.Tag)
	case RequireTag:
		return "tag " + string(r.Tag)
	case RequireAttribute:
		op := r.Op
		if op == "" {
			op = CmpGe
		}
		return fmt.Sprintf("%s %s %.1f", r.Attribute, op, r.Value)
	case RequireAbility:
		return "ability " + string(r.Tag)
	}
	return "unknown requirement"
}

// RequirementEngine checks that the character may use the placed items.
//
// Requirements come from three places: the catalog entry, the item's
// runtime properties, and requirements registered per item id. Derived
// catalog requirements are cached by item id; ClearCache drops them.
type RequirementEngine struct {
	mu      sync.RWMutex
	extra   map[string][]Requirement
	derived map[string][]Requirement
}

// NewRequirementEngine creates the engine.
func NewRequirementEngine() *RequirementEngine {
	return &RequirementEngine{
		extra:   make(map[string][]Requirement),
		derived: make(map[string][]Requirement),
	}
}

// Type implements Engine.
func (e *RequirementEngine) Type() EngineType {
	return EngineRequirement
}

// Register adds requirements for an item id.
func (e *RequirementEngine) Register(itemID string, reqs ...Requirement) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.extra[itemID] = append(e.extra[itemID], reqs...)
	delete(e.derived, itemID)
}

// ClearCache drops cached derived requirements.
func (e *RequirementEngine) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.derived = make(map[string][]Requirement)
}

// Evaluate implements Engine.
func (e *RequirementEngine) Evaluate(ec *EvalContext) []CheckResult {
	var out []CheckResult
	for _, p := range ec.Placed {
		if ec.IsExcluded(p.Slot) {
			continue
		}
		out = append(out, e.Check(ec.Character, p)...)
	}
	return out
}

// Check evaluates all requirements of one placement in order level, class,
// tags, attributes, abilities, stopping at the first Error or Critical.
func (e *RequirementEngine) Check(ch Character, p Placement) []CheckResult {
	reqs := e.Requirements(p.Item, p.Data)
	if len(reqs) == 0 {
		return []CheckResult{Pass(EngineRequirement, RuleLevel, p.Slot, "no requirements")}
	}
	ordered := make([]Requirement, 0, len(reqs))
	for _, kind := range []RequirementKind{RequireLevel, RequireClass, RequireTag, RequireAttribute, RequireAbility} {
		for _, r := range reqs {
			if r.Kind == kind {
				ordered = append(ordered, r)
			}
		}
	}

	var out []CheckResult
	for _, r := range ordered {
		res := checkRequirement(ch, r, p)
		out = append(out, res)
		if res.Blocks() {
			break
		}
	}
	return out
}

// Requirements returns the full requirement list for an item: cached
// catalog-derived requirements, property-derived ones, then registered ones.
func (e *RequirementEngine) Requirements(item equipment.ItemInstance, data equipment.ItemData) []Requirement {
	e.mu.RLock()
	base, ok := e.derived[item.ItemID]
	extra := e.extra[item.ItemID]
	e.mu.RUnlock()

	if !ok {
		base = DeriveRequirements(data)
		e.mu.Lock()
		e.derived[item.ItemID] = base
		e.mu.Unlock()
	}

	out := append([]Requirement(nil), base...)
	if lvl := item.Property(equipment.PropRequiredLevel, 0); lvl > 0 {
		out = mergeLevel(out, lvl, "property")
	}
	if w := item.Property(equipment.PropWeight, 0); w > HeavyItemWeight && w > data.Weight {
		out = append(out, strengthFor(w, "property"))
	}
	return append(out, extra...)
}

// DeriveRequirements computes requirements implied by catalog data:
// explicit level and class, marksman and heavy weapon families, and a
// Strength minimum for heavy items.
func DeriveRequirements(data equipment.ItemData) []Requirement {
	var out []Requirement
	if data.RequiredLevel > 0 {
		out = mergeLevel(out, float64(data.RequiredLevel), "catalog")
	}
	if data.RequiredClass.IsValid() {
		out = append(out, Requirement{Kind: RequireClass, Tag: data.RequiredClass, Source: "catalog"})
	}

	name := strings.ToLower(data.Name() + " " + data.ID)
	hasClass := data.RequiredClass.IsValid()
	switch {
	case strings.Contains(name, "sniper") || strings.Contains(name, "dmr"):
		out = mergeLevel(out, 10, "family")
		if !hasClass {
			out = append(out, Requirement{Kind: RequireClass, Tag: ClassMarksman, Source: "family"})
		}
	case strings.Contains(name, "heavy") || strings.Contains(name, "lmg"):
		if data.Type.Matches(equipment.ItemWeapon) {
			out = mergeLevel(out, 5, "family")
			if !hasClass {
				out = append(out, Requirement{Kind: RequireClass, Tag: ClassHeavy, Source: "family"})
			}
		}
	}

	if data.Weight > HeavyItemWeight {
		out = append(out, strengthFor(data.Weight, "weight"))
	}
	return out
}

func strengthFor(weight float64, source string) Requirement {
	return Requirement{
		Kind:      RequireAttribute,
		Attribute: AttrStrength,
		Op:        CmpGe,
		Value:     StrengthBase + (weight-HeavyItemWeight)*StrengthPerKg,
		Source:    source,
	}
}

// mergeLevel keeps a single level requirement at the highest value.
func mergeLevel(reqs []Requirement, level float64, source string) []Requirement {
	for i, r := range reqs {
		if r.Kind == RequireLevel {
			if level > r.Value {
				reqs[i].Value = level
				reqs[i].Source = source
			}
			return reqs
		}
	}
	return append(reqs, Requirement{Kind: RequireLevel, Op: CmpGe, Value: level, Source: source})
}

func checkRequirement(ch Character, r Requirement, p Placement) CheckResult {
	name := p.Data.Name()
	if name == "" {
		name = p.Item.ItemID
	}
	switch r.Kind {
	case RequireLevel:
		if ch.Level <= 0 {
			return Fail(EngineRequirement, RuleLevel, p.Slot, SeverityCritical, equipment.FailureRequirementsNotMet, false,
				"character level unavailable").With("source", "missing")
		}
		if float64(ch.Level) < r.Value {
			return Fail(EngineRequirement, RuleLevel, p.Slot, SeverityError, equipment.FailureLevelRequirement, false,
				fmt.Sprintf("%s requires level %.0f (have %d)", name, r.Value, ch.Level))
		}
		return Pass(EngineRequirement, RuleLevel, p.Slot, r.String())
	case RequireClass:
		if !ch.Class.Matches(r.Tag) {
			return Fail(EngineRequirement, RuleClass, p.Slot, SeverityError, equipment.FailureRequirementsNotMet, false,
				fmt.Sprintf("%s requires class %s", name, r.Tag.Leaf()))
		}
		return Pass(EngineRequirement, RuleClass, p.Slot, r.String())
	case RequireTag:
		if !ch.Tags.HasTag(r.Tag) {
			return Fail(EngineRequirement, RuleTag, p.Slot, SeverityError, equipment.FailureRequirementsNotMet, false,
				fmt.Sprintf("%s requires %s", name, r.Tag))
		}
		return Pass(EngineRequirement, RuleTag, p.Slot, r.String())
	case RequireAttribute:
		op := r.Op
		if op == "" {
			op = CmpGe
		}
		have := ch.Attribute(r.Attribute)
		if !op.Compare(have, r.Value) {
			return Fail(EngineRequirement, RuleAttribute, p.Slot, SeverityError, equipment.FailureRequirementsNotMet, false,
				fmt.Sprintf("%s requires %s %s %.1f (have %.1f)", name, r.Attribute, op, r.Value, have))
		}
		return Pass(EngineRequirement, RuleAttribute, p.Slot, r.String())
	case RequireAbility:
		if !ch.Abilities.HasTag(r.Tag) {
			return Fail(EngineRequirement, RuleAbility, p.Slot, SeverityError, equipment.FailureRequirementsNotMet, false,
				fmt.Sprintf("%s requires ability %s", name, r.Tag))
		}
		return Pass(EngineRequirement, RuleAbility, p.Slot, r.String())
	}
	return Pass(EngineRequirement, RuleLevel, p.Slot, "unknown requirement ignored")
}
