package equipment

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTag_Matches(t *testing.T) {
	tests := []struct {
		tag    Tag
		parent Tag
		want   bool
	}{
		{"Item.Weapon.Rifle", "Item.Weapon", true},
		{"Item.Weapon", "Item.Weapon", true},
		{"Item.WeaponKit", "Item.Weapon", false},
		{"Item.Weapon", "Item.Weapon.Rifle", false},
		{"", "Item", false},
		{"Item", "", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.tag.Matches(tt.parent), "%q matches %q", tt.tag, tt.parent)
	}
}

func TestNormalizeTag_NFC(t *testing.T) {
	decomposed := " Item.Cafe\u0301 "
	assert.Equal(t, Tag("Item.Caf\u00e9"), NormalizeTag(decomposed))
}

func TestTagSet(t *testing.T) {
	s := NewTagSet("Item.Weapon", "Item.Armor.Heavy", "Item.Weapon", "")
	assert.Len(t, s, 2)
	assert.True(t, s.HasTag("Item.Weapon.Rifle"))
	assert.False(t, s.HasTagExact("Item.Weapon.Rifle"))
	assert.True(t, s.HasTagExact("Item.Armor.Heavy"))
	assert.False(t, s.HasTag("Item.Armor"))
	assert.True(t, s.HasAll(NewTagSet("Item.Weapon.Pistol", "Item.Armor.Heavy")))
	assert.True(t, s.HasAny(NewTagSet("Item.Gear", "Item.Weapon.Pistol")))
}

func TestSlotConfig_CanEquipType(t *testing.T) {
	cfg := SlotConfig{
		AllowedTypes:    NewTagSet("Item.Weapon"),
		DisallowedTypes: NewTagSet("Item.Weapon.Launcher"),
	}
	assert.True(t, cfg.CanEquipType("Item.Weapon.Rifle"))
	assert.False(t, cfg.CanEquipType("Item.Weapon.Launcher"))
	assert.False(t, cfg.CanEquipType("Item.Armor.Light"))

	open := SlotConfig{}
	assert.True(t, open.CanEquipType("Item.Anything"))
}

func TestOperationType_Text(t *testing.T) {
	data, err := json.Marshal(struct {
		Op OperationType `json:"op"`
	}{OpQuickSwitch})
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":"QuickSwitch"}`, string(data))

	var decoded struct {
		Op OperationType `json:"op"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"op":"swap"}`), &decoded))
	assert.Equal(t, OpSwap, decoded.Op)

	_, err = ParseOperationType("teleport")
	assert.Error(t, err)
}

func TestFingerprint(t *testing.T) {
	a := testSnapshot()
	a.Slots[0].Item = NewItem("AK74", "a")
	b := a.Clone()
	b.Version = 42

	assert.Equal(t, a.Fingerprint(), b.Fingerprint(), "version does not affect content fingerprint")
	assert.Len(t, a.Fingerprint(), 64)

	b.Slots[0].Item.Durability = 0.5
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}

func TestFingerprint_IgnoresRuntimeOnlyProperties(t *testing.T) {
	a := testSnapshot()
	a.Slots[0].Item = NewItem("AK74", "a").WithProperty(PropWeight, 3.3)
	b := a.Clone()
	b.Slots[0].Item = b.Slots[0].Item.
		WithProperty(PropLocalCooldown, 2).
		WithProperty(PropClientPrediction, 1).
		WithProperty(PropLastUsedTime, 1700000000)

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.Len(t, b.Slots[0].Item.Properties, 4, "fingerprint does not mutate the item")

	b.Slots[0].Item = b.Slots[0].Item.WithProperty(PropWeight, 4)
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}

func TestItemInstance_Replicated(t *testing.T) {
	item := NewItem("PACA", "a").WithProperty(PropLocalCooldown, 2)
	assert.Nil(t, item.Replicated().Properties)
	assert.Contains(t, item.Properties, PropLocalCooldown)
}

func TestCanonicalItem(t *testing.T) {
	item := NewItem("AK74", "a")
	item.AnchorIndex = 3
	item.Rotated = true
	item.Properties = map[string]float64{"Weight": 3.5, "Ammo": 30}

	assert.Equal(t, "AK74|1|3|R|Ammo:30.0000|Weight:3.5000", CanonicalItem(item))
}

func TestSequenceGenerator(t *testing.T) {
	g := NewSequenceGenerator("op")
	assert.Equal(t, "op-1", g.NewID())
	assert.Equal(t, "op-2", g.NewID())

	id := UUIDv7Generator{}.NewID()
	assert.True(t, IsValidID(id))
	assert.False(t, IsValidID("op-1"))
}
