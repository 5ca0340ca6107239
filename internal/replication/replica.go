package replication

import (
	"log/slog"
	"sync"

	"github.com/Houngansi/SuspenseCore-sub009/internal/equipment"
	"github.com/Houngansi/SuspenseCore-sub009/internal/security"
)

// ApplyResult describes what a Replica did with one payload.
type ApplyResult struct {
	Version uint32 `json:"version"`
	Full    bool   `json:"full"`
	Stale   bool   `json:"stale,omitempty"`
	Applied []int  `json:"applied,omitempty"`
	Dropped []int  `json:"dropped,omitempty"`
	// Resync is set when entries were dropped. The mirror keeps its
	// previous version so the sender's next payload covers those slots.
	Resync bool `json:"resync,omitempty"`
}

// Replica is the receiving side of replication: a mirror of another
// player's equipment rebuilt from payloads.
//
// Thread-safety: safe for concurrent use.
type Replica struct {
	codec *Codec
	keys  *security.KeyStorage

	mu       sync.RWMutex
	snap     equipment.StateSnapshot
	version  uint32
	received bool
	stats    Stats
}

// NewReplica creates an empty mirror with the given slot layout. With a
// non-nil keys, every replicated item must carry a valid HMAC.
func NewReplica(configs []equipment.SlotConfig, codec *Codec, keys *security.KeyStorage) *Replica {
	slots := make([]equipment.Slot, len(configs))
	for i, cfg := range configs {
		cfg.Index = i
		slots[i] = equipment.Slot{Config: cfg}
	}
	if codec == nil {
		codec = NewCodec()
	}
	return &Replica{
		codec: codec,
		keys:  keys,
		snap: equipment.StateSnapshot{
			Slots:            slots,
			ActiveWeaponSlot: equipment.NoSlot,
			StateTag:         equipment.StateIdle,
		},
	}
}

// ApplyPayload decodes p and applies it. Integrity failures leave the
// mirror untouched.
func (r *Replica) ApplyPayload(p Payload) (ApplyResult, error) {
	d, err := r.codec.Decode(p)
	if r.codec.Signed() {
		r.mu.Lock()
		if StageOf(err) == StageHMAC {
			r.stats.HMACFailures++
		} else {
			r.stats.HMACValidations++
		}
		r.mu.Unlock()
	}
	if err != nil {
		slog.Warn("replication payload rejected", "stage", StageOf(err), "error", err)
		return ApplyResult{}, err
	}
	return r.ApplyData(d), nil
}

// ApplyData applies decoded data. Payloads not newer than the last applied
// version are ignored. Every entry is verified before the mirror changes.
// A slot whose entry is dropped keeps its previous item, and the payload's
// version is not adopted so the slot is resent.
func (r *Replica) ApplyData(d Data) ApplyResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := ApplyResult{Version: d.Version, Full: d.Full}
	if r.received && !IsNewer(d.Version, r.version) {
		res.Stale = true
		r.stats.StalePayloads++
		return res
	}

	accepted := make([]SlotEntry, 0, len(d.Slots))
	dropped := make(map[int]bool)
	for _, e := range d.Slots {
		if !r.verifyLocked(e, d.Version) {
			dropped[e.Index] = true
			res.Dropped = append(res.Dropped, e.Index)
			r.stats.DroppedSlots++
			continue
		}
		accepted = append(accepted, e)
	}

	if d.Full {
		for i := range r.snap.Slots {
			if !dropped[i] {
				r.snap.Slots[i].Item = equipment.ItemInstance{}
			}
		}
	}
	for _, e := range accepted {
		r.snap.Slot(e.Index).Item = e.Item.Clone()
		res.Applied = append(res.Applied, e.Index)
	}

	r.snap.ActiveWeaponSlot = d.ActiveWeaponSlot
	if d.StateTag.IsValid() {
		r.snap.StateTag = d.StateTag
	}
	r.stats.TotalUpdates++
	if d.Full {
		r.stats.FullUpdates++
	} else {
		r.stats.DeltaUpdates++
	}
	if len(res.Dropped) > 0 {
		res.Resync = true
		res.Version = r.version
		slog.Warn("replicated payload partially applied", "payload_version", d.Version, "kept_version", r.version, "dropped", res.Dropped)
		return res
	}
	r.snap.Version = d.Version
	r.version = d.Version
	r.received = true
	return res
}

// verifyLocked reports whether e may be applied: its slot exists and, with
// keys configured, a non-empty item carries a valid HMAC.
func (r *Replica) verifyLocked(e SlotEntry, version uint32) bool {
	if r.snap.Slot(e.Index) == nil {
		return false
	}
	if !e.Item.IsValid() || r.keys == nil {
		return true
	}
	r.stats.HMACValidations++
	if !r.keys.VerifyHMAC([]byte(equipment.CanonicalItem(e.Item)), e.HMAC) {
		r.stats.HMACFailures++
		slog.Warn("replicated slot failed hmac", "slot", e.Index, "item", e.Item.ItemID, "version", version)
		return false
	}
	return true
}

// Version returns the last applied version.
func (r *Replica) Version() uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Snapshot returns a deep copy of the mirrored state.
func (r *Replica) Snapshot() equipment.StateSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap.Clone()
}

// Stats returns receive-side counters.
func (r *Replica) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}
