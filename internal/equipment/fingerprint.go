package equipment

import (
	"encoding/hex"
	"strconv"
	"strings"

	"lukechampine.com/blake3"
)

// Fingerprint returns a blake3-256 hex digest of the snapshot's content:
// slot occupants, active weapon slot and state tag. Version, timestamp and
// RuntimeOnlyProperties are excluded so that a predicted state and the
// authoritative state compare equal when they hold the same items.
func (s StateSnapshot) Fingerprint() string {
	var b strings.Builder
	b.WriteString("active=")
	b.WriteString(strconv.Itoa(s.ActiveWeaponSlot))
	b.WriteString("|state=")
	b.WriteString(string(s.StateTag))
	for i, slot := range s.Slots {
		b.WriteString("|")
		b.WriteString(strconv.Itoa(i))
		b.WriteString("=")
		writeItem(&b, slot.Item)
	}
	sum := blake3.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// CanonicalItem renders an item as "itemId|qty|anchor|R/N|key:val|..." with
// sorted property keys. Used for per-slot HMACs.
func CanonicalItem(item ItemInstance) string {
	var b strings.Builder
	b.WriteString(item.ItemID)
	b.WriteString("|")
	b.WriteString(strconv.Itoa(item.Quantity))
	b.WriteString("|")
	b.WriteString(strconv.Itoa(item.AnchorIndex))
	if item.Rotated {
		b.WriteString("|R")
	} else {
		b.WriteString("|N")
	}
	for _, k := range item.SortedPropertyKeys() {
		b.WriteString("|")
		b.WriteString(k)
		b.WriteString(":")
		b.WriteString(strconv.FormatFloat(item.Properties[k], 'f', 4, 64))
	}
	return b.String()
}

func writeItem(b *strings.Builder, item ItemInstance) {
	if !item.IsValid() {
		b.WriteString("-")
		return
	}
	b.WriteString(item.InstanceID)
	b.WriteString("/")
	b.WriteString(CanonicalItem(item.Replicated()))
	b.WriteString("|d:")
	b.WriteString(strconv.FormatFloat(item.Durability, 'f', 4, 64))
}
