package loadout

import (
	"slices"

	"github.com/Houngansi/SuspenseCore-sub009/internal/equipment"
	"github.com/Houngansi/SuspenseCore-sub009/internal/rules"
)

// StartItem places a catalog item into a slot when a player joins.
type StartItem struct {
	Slot       int     `json:"slot" yaml:"slot"`
	Item       string  `json:"item" yaml:"item"`
	Durability float64 `json:"durability,omitempty" yaml:"durability,omitempty"`
	Quantity   int     `json:"quantity,omitempty" yaml:"quantity,omitempty"`
}

// Loadout is a slot layout, the item catalog it draws from, the items a
// player starts with and a default character.
type Loadout struct {
	Name        string                 `json:"name" yaml:"name"`
	Description string                 `json:"description,omitempty" yaml:"description,omitempty"`
	Slots       []equipment.SlotConfig `json:"slots" yaml:"slots"`
	Items       []equipment.ItemData   `json:"items,omitempty" yaml:"items,omitempty"`
	Start       []StartItem            `json:"start,omitempty" yaml:"start,omitempty"`
	Character   rules.Character        `json:"character,omitzero" yaml:"character,omitempty"`
}

// normalize assigns slot indices and normalizes tags and ids in place.
func (l *Loadout) normalize() {
	for i := range l.Slots {
		s := &l.Slots[i]
		s.Index = i
		s.Tag = equipment.NormalizeTag(string(s.Tag))
		s.AllowedTypes = renormalize(s.AllowedTypes)
		s.DisallowedTypes = renormalize(s.DisallowedTypes)
	}
	for i := range l.Items {
		d := &l.Items[i]
		d.ID = equipment.NormalizeID(d.ID)
		d.Type = equipment.NormalizeTag(string(d.Type))
		d.Tags = renormalize(d.Tags)
		d.RequiredClass = equipment.NormalizeTag(string(d.RequiredClass))
		d.PreferredSlot = equipment.NormalizeTag(string(d.PreferredSlot))
	}
	for i := range l.Start {
		l.Start[i].Item = equipment.NormalizeID(l.Start[i].Item)
	}
	l.Character.Class = equipment.NormalizeTag(string(l.Character.Class))
}

func renormalize(ts equipment.TagSet) equipment.TagSet {
	if len(ts) == 0 {
		return nil
	}
	raw := make([]string, len(ts))
	for i, t := range ts {
		raw[i] = string(t)
	}
	return equipment.NewTagSet(raw...)
}

// Configs returns a copy of the slot layout.
func (l *Loadout) Configs() []equipment.SlotConfig {
	out := make([]equipment.SlotConfig, len(l.Slots))
	for i, s := range l.Slots {
		s.Index = i
		s.AllowedTypes = slices.Clone(s.AllowedTypes)
		s.DisallowedTypes = slices.Clone(s.DisallowedTypes)
		out[i] = s
	}
	return out
}

// Catalog builds an item catalog from the loadout's items.
func (l *Loadout) Catalog() *equipment.MapCatalog {
	return equipment.NewMapCatalog(l.Items...)
}

// SlotIndex returns the index of the slot named name, or NoSlot.
func (l *Loadout) SlotIndex(name string) int {
	for i, s := range l.Slots {
		if s.Name == name {
			return i
		}
	}
	return equipment.NoSlot
}

// StartSnapshot returns an empty container state with the start items
// placed. Instance ids come from ids.
func (l *Loadout) StartSnapshot(ids equipment.IDGenerator) equipment.StateSnapshot {
	snap := equipment.NewContainer(l.Configs()).Snapshot()
	for _, st := range l.Start {
		slot := snap.Slot(st.Slot)
		if slot == nil {
			continue
		}
		item := equipment.NewItem(st.Item, ids.NewID())
		if st.Durability > 0 {
			item.Durability = st.Durability
		}
		if st.Quantity > 0 {
			item.Quantity = st.Quantity
		}
		item.AnchorIndex = st.Slot
		slot.Item = item
	}
	return snap
}

// Default returns the built-in tactical loadout: fourteen slots, a small
// catalog and an empty start.
func Default() *Loadout {
	w := func(name string, tag equipment.Tag, allowed ...string) equipment.SlotConfig {
		return equipment.SlotConfig{Name: name, SlotType: "Weapon", Tag: tag, AllowedTypes: equipment.NewTagSet(allowed...), Visible: true}
	}
	a := func(name string, tag equipment.Tag, allowed ...string) equipment.SlotConfig {
		return equipment.SlotConfig{Name: name, SlotType: "Armor", Tag: tag, AllowedTypes: equipment.NewTagSet(allowed...), Visible: true}
	}
	g := func(name string, tag equipment.Tag, allowed ...string) equipment.SlotConfig {
		return equipment.SlotConfig{Name: name, SlotType: "Gear", Tag: tag, AllowedTypes: equipment.NewTagSet(allowed...), Visible: true}
	}

	l := &Loadout{
		Name:        "tactical",
		Description: "Default extraction loadout",
		Slots: []equipment.SlotConfig{
			w("primary", equipment.SlotPrimaryWeapon, "Item.Weapon"),
			w("secondary", equipment.SlotSecondaryWeapon, "Item.Weapon"),
			w("holster", equipment.SlotHolster, "Item.Weapon.Pistol"),
			w("scabbard", equipment.SlotScabbard, "Item.Weapon.Melee"),
			a("headwear", equipment.SlotHeadwear, "Item.Armor.Helmet", "Item.Gear.Headwear"),
			g("earpiece", equipment.SlotEarpiece, "Item.Gear.Headset"),
			g("eyewear", equipment.SlotEyewear, "Item.Gear.Eyewear"),
			a("face_cover", equipment.SlotFaceCover, "Item.Armor.FaceShield", "Item.Gear.FaceCover"),
			a("body_armor", equipment.SlotBodyArmor, "Item.Armor.Heavy", "Item.Armor.Light"),
			g("tactical_rig", equipment.SlotTacticalRig, "Item.Gear.Rig", "Item.Armor.Light"),
			g("backpack", equipment.SlotBackpack, "Item.Gear.Backpack"),
			g("armband", equipment.SlotArmband, "Item.Gear.Armband"),
			g("cosmetic", equipment.SlotCosmetic, "Item.Cosmetic"),
			g("badge", equipment.SlotBadge, "Item.Cosmetic.Badge"),
		},
		Items: []equipment.ItemData{
			{ID: "AK74", DisplayName: "AK-74", Type: "Item.Weapon.Rifle", Weight: 3.5, PreferredSlot: equipment.SlotPrimaryWeapon},
			{ID: "M4A1", DisplayName: "M4A1", Type: "Item.Weapon.Rifle", Weight: 3.0, RequiredLevel: 10, PreferredSlot: equipment.SlotPrimaryWeapon},
			{ID: "SVD", DisplayName: "SVD Sniper Rifle", Type: "Item.Weapon.Rifle", Weight: 4.3, RequiredClass: rules.ClassMarksman},
			{ID: "PKM", DisplayName: "PKM LMG", Type: "Item.Weapon.MachineGun", Tags: equipment.NewTagSet("Item.Weapon.Heavy"), Weight: 9, RequiredClass: rules.ClassHeavy},
			{ID: "PM", DisplayName: "Makarov PM", Type: "Item.Weapon.Pistol", Weight: 0.7},
			{ID: "6Kh5_Bayonet", DisplayName: "6Kh5 Bayonet", Type: "Item.Weapon.Melee", Weight: 0.3},
			{ID: "Altyn_Helmet", DisplayName: "Altyn Helmet", Type: "Item.Armor.Helmet", Weight: 4, Companions: []string{"Altyn_Faceshield"}},
			{ID: "Altyn_Faceshield", DisplayName: "Altyn Face Shield", Type: "Item.Armor.FaceShield", Weight: 1.5},
			{ID: "GSSh_01", DisplayName: "GSSh-01 Headset", Type: "Item.Gear.Headset", Weight: 0.3},
			{ID: "6B43_6A_Zabralo", DisplayName: "6B43 Zabralo", Type: "Item.Armor.Heavy", Weight: 8, RequiredLevel: 15},
			{ID: "PACA", DisplayName: "PACA Soft Armor", Type: "Item.Armor.Light", Weight: 3},
			{ID: "Alpha_Rig", DisplayName: "Alpha Chest Rig", Type: "Item.Gear.Rig", Weight: 0.9},
			{ID: "Raid_Backpack", DisplayName: "Raid Backpack", Type: "Item.Gear.Backpack", Weight: 2.5},
			{ID: "Armband_Blue", DisplayName: "Blue Armband", Type: "Item.Gear.Armband", Weight: 0.05},
		},
		Character: rules.Character{
			Level:      20,
			Class:      rules.ClassAssault,
			Attributes: map[string]float64{rules.AttrStrength: 10},
		},
	}
	l.normalize()
	return l
}
