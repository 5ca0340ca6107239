package equipment

import (
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Tag is a hierarchical gameplay tag such as "Item.Weapon.Rifle".
type Tag string

// Slot tags used by the default loadout and the rules engines.
const (
	SlotPrimaryWeapon   Tag = "Equipment.Slot.Weapon.Primary"
	SlotSecondaryWeapon Tag = "Equipment.Slot.Weapon.Secondary"
	SlotHolster         Tag = "Equipment.Slot.Weapon.Holster"
	SlotScabbard        Tag = "Equipment.Slot.Weapon.Scabbard"
	SlotHandMain        Tag = "Equipment.Slot.Hand.Main"
	SlotHandOff         Tag = "Equipment.Slot.Hand.Off"
	SlotHeadwear        Tag = "Equipment.Slot.Headwear"
	SlotEarpiece        Tag = "Equipment.Slot.Earpiece"
	SlotEyewear         Tag = "Equipment.Slot.Eyewear"
	SlotFaceCover       Tag = "Equipment.Slot.FaceCover"
	SlotBodyArmor       Tag = "Equipment.Slot.BodyArmor"
	SlotTacticalRig     Tag = "Equipment.Slot.TacticalRig"
	SlotBackpack        Tag = "Equipment.Slot.Backpack"
	SlotArmband         Tag = "Equipment.Slot.Armband"
	SlotCosmetic        Tag = "Equipment.Slot.Cosmetic"
	SlotBadge           Tag = "Equipment.Slot.Badge"

	// SlotWeaponRoot is the parent of every weapon slot tag.
	SlotWeaponRoot Tag = "Equipment.Slot.Weapon"
)

// Item type roots.
const (
	ItemWeapon     Tag = "Item.Weapon"
	ItemArmor      Tag = "Item.Armor"
	ItemGear       Tag = "Item.Gear"
	ItemConsumable Tag = "Item.Consumable"
)

// NormalizeTag trims whitespace and applies Unicode NFC normalization.
func NormalizeTag(s string) Tag {
	return Tag(norm.NFC.String(strings.TrimSpace(s)))
}

// NormalizeID applies the same normalization as NormalizeTag to item ids.
func NormalizeID(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// IsValid reports whether the tag is non-empty.
func (t Tag) IsValid() bool {
	return t != ""
}

// String implements fmt.Stringer.
func (t Tag) String() string {
	return string(t)
}

// Matches reports whether t equals parent or is a descendant of it.
// "Item.Weapon.Rifle" matches "Item.Weapon" but "Item.WeaponKit" does not.
func (t Tag) Matches(parent Tag) bool {
	if !parent.IsValid() || !t.IsValid() {
		return false
	}
	if t == parent {
		return true
	}
	return strings.HasPrefix(string(t), string(parent)+".")
}

// Leaf returns the last segment of the tag.
func (t Tag) Leaf() string {
	s := string(t)
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// TagSet is an unordered collection of tags.
type TagSet []Tag

// NewTagSet builds a normalized, de-duplicated set.
func NewTagSet(tags ...string) TagSet {
	out := make(TagSet, 0, len(tags))
	for _, s := range tags {
		t := NormalizeTag(s)
		if t.IsValid() && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

// IsEmpty reports whether the set has no tags.
func (s TagSet) IsEmpty() bool {
	return len(s) == 0
}

// HasTag reports whether t matches any tag in the set hierarchically,
// i.e. t equals a member or is a descendant of one.
func (s TagSet) HasTag(t Tag) bool {
	for _, member := range s {
		if t.Matches(member) {
			return true
		}
	}
	return false
}

// HasTagExact reports whether t is a member of the set.
func (s TagSet) HasTagExact(t Tag) bool {
	return slices.Contains(s, t)
}

// HasAny reports whether any tag of other matches the set.
func (s TagSet) HasAny(other TagSet) bool {
	for _, t := range other {
		if s.HasTag(t) {
			return true
		}
	}
	return false
}

// HasAll reports whether every tag of other matches the set.
func (s TagSet) HasAll(other TagSet) bool {
	for _, t := range other {
		if !s.HasTag(t) {
			return false
		}
	}
	return true
}

// Strings returns the tags as plain strings.
func (s TagSet) Strings() []string {
	out := make([]string, len(s))
	for i, t := range s {
		out[i] = string(t)
	}
	return out
}

// String renders the set as a comma-separated list.
func (s TagSet) String() string {
	return strings.Join(s.Strings(), ", ")
}
