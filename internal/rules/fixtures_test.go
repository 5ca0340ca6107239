package rules

import (
	"github.com/Houngansi/SuspenseCore-sub009/internal/equipment"
)

const (
	slotPrimary = iota
	slotSecondary
	slotHolster
	slotHead
	slotFace
	slotBody
	slotRig
	slotCosmetic
)

func testSlots() []equipment.SlotConfig {
	return []equipment.SlotConfig{
		{Name: "primary", Tag: equipment.SlotPrimaryWeapon, AllowedTypes: equipment.NewTagSet("Item.Weapon")},
		{Name: "secondary", Tag: equipment.SlotSecondaryWeapon, AllowedTypes: equipment.NewTagSet("Item.Weapon")},
		{Name: "holster", Tag: equipment.SlotHolster, AllowedTypes: equipment.NewTagSet("Item.Weapon.Pistol")},
		{Name: "head", Tag: equipment.SlotHeadwear, AllowedTypes: equipment.NewTagSet("Item.Armor.Helmet")},
		{Name: "face", Tag: equipment.SlotFaceCover, AllowedTypes: equipment.NewTagSet("Item.Armor.FaceShield")},
		{Name: "body", Tag: equipment.SlotBodyArmor, AllowedTypes: equipment.NewTagSet("Item.Armor.Heavy", "Item.Armor.Light")},
		{Name: "rig", Tag: equipment.SlotTacticalRig, AllowedTypes: equipment.NewTagSet("Item.Gear.Rig", "Item.Armor.Light")},
		{Name: "cosmetic", Tag: equipment.SlotCosmetic, AllowedTypes: equipment.NewTagSet("Item.Cosmetic")},
	}
}

func testCatalog() *equipment.MapCatalog {
	return equipment.NewMapCatalog(
		equipment.ItemData{ID: "AK74", Type: "Item.Weapon.Rifle", Weight: 3.5, PreferredSlot: equipment.SlotPrimaryWeapon},
		equipment.ItemData{ID: "PM", Type: "Item.Weapon.Pistol", Weight: 0.7},
		equipment.ItemData{ID: "SVD", DisplayName: "SVD Sniper Rifle", Type: "Item.Weapon.Rifle", Weight: 4.3},
		equipment.ItemData{ID: "PKM", DisplayName: "PKM LMG", Type: "Item.Weapon.MachineGun", Tags: equipment.NewTagSet("Item.Weapon.Heavy"), Weight: 9},
		equipment.ItemData{ID: "Altyn_Helmet", Type: "Item.Armor.Helmet", Weight: 4, Companions: []string{"Altyn_Faceshield"}},
		equipment.ItemData{ID: "Altyn_Faceshield", Type: "Item.Armor.FaceShield", Weight: 1.5},
		equipment.ItemData{ID: "6B43_6A_Zabralo", Type: "Item.Armor.Heavy", Weight: 8},
		equipment.ItemData{ID: "PACA", Type: "Item.Armor.Light", Weight: 3},
		equipment.ItemData{ID: "Skin", Type: "Item.Cosmetic"},
	)
}

func testCharacter() Character {
	return Character{
		ID:         "p1",
		Level:      20,
		Class:      ClassAssault,
		Attributes: map[string]float64{AttrStrength: 10},
	}
}

func emptySnapshot() equipment.StateSnapshot {
	return equipment.NewContainer(testSlots()).Snapshot()
}

func place(snap *equipment.StateSnapshot, slot int, itemID string) {
	item := equipment.NewItem(itemID, itemID+"-inst")
	item.AnchorIndex = slot
	snap.Slots[slot].Item = item
}

func equip(slot int, item equipment.ItemInstance) equipment.OperationRequest {
	return equipment.OperationRequest{
		OperationID: "op-1",
		Type:        equipment.OpEquip,
		SourceSlot:  equipment.NoSlot,
		TargetSlot:  slot,
		Item:        item,
	}
}

func item(id string, durability float64) equipment.ItemInstance {
	it := equipment.NewItem(id, id+"-new")
	it.Durability = durability
	return it
}

func newTestCoordinator() *Coordinator {
	return NewDefaultCoordinator(testCatalog(), DefaultWeightConfig())
}

func ctxFor(snap equipment.StateSnapshot) Context {
	return Context{Snapshot: snap, Character: testCharacter()}
}
