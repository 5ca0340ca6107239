package replication

import (
	"slices"

	"github.com/Houngansi/SuspenseCore-sub009/internal/equipment"
)

// SlotEntry is one replicated slot. An entry with an empty item clears the
// slot on the receiver.
type SlotEntry struct {
	Index int                    `json:"i"`
	Item  equipment.ItemInstance `json:"item"`
	HMAC  string                 `json:"hmac,omitempty"`
}

// Data is the decoded replication payload. A full payload lists slots
// 0..n-1 with trailing empty slots trimmed; the receiver clears everything
// not listed. A delta lists only the slots that changed since the client's
// acknowledged version, sorted by index.
type Data struct {
	Full             bool          `json:"full,omitempty"`
	Slots            []SlotEntry   `json:"slots,omitempty"`
	SlotCount        int           `json:"slot_count"`
	ActiveWeaponSlot int           `json:"active_weapon_slot"`
	StateTag         equipment.Tag `json:"state_tag,omitempty"`
	Version          uint32        `json:"version"`
	UpdatedAt        int64         `json:"updated_at"`
}

// IsEmpty reports whether the payload carries no slot changes.
func (d Data) IsEmpty() bool {
	return !d.Full && len(d.Slots) == 0
}

// Indices returns the replicated slot indices.
func (d Data) Indices() []int {
	out := make([]int, len(d.Slots))
	for i, e := range d.Slots {
		out[i] = e.Index
	}
	return out
}

// OptimizeData strips runtime-only item properties and, for full payloads,
// trims trailing empty slots. The input is not modified.
func OptimizeData(d Data) Data {
	out := d
	out.Slots = make([]SlotEntry, len(d.Slots))
	for i, e := range d.Slots {
		e.Item = e.Item.Replicated()
		out.Slots[i] = e
	}
	if out.Full {
		n := len(out.Slots)
		for n > 0 && !out.Slots[n-1].Item.IsValid() {
			n--
		}
		out.Slots = out.Slots[:n]
	}
	if len(out.Slots) == 0 {
		out.Slots = nil
	}
	return out
}

func sortEntries(entries []SlotEntry) {
	slices.SortFunc(entries, func(a, b SlotEntry) int { return a.Index - b.Index })
}
