// Package equipment defines the authoritative equipment data model.
//
// An equipment container is a fixed array of typed slots created from a
// loadout. Each slot holds at most one ItemInstance. Containers are mutated
// only through Apply, which routes every operation through ApplyOperation so
// that the shadow evaluation done by the rules pipeline and the real mutation
// share one implementation.
//
// Gameplay tags are dot-separated hierarchical names ("Item.Weapon.Rifle").
// Tags and item ids are NFC-normalized at construction so that byte-wise
// comparison, HMAC canonical strings and fingerprints agree across clients.
//
// OWNERSHIP:
//
// A container owns its slot array, its active weapon index, its state
// machine and its snapshot version counter. Callers outside the package
// observe state through Snapshot, which returns a deep copy. An item
// instance id may occupy at most one slot; moving an item transfers it.
//
// Thread-safety: Container is safe for concurrent use. Snapshot values are
// immutable by convention once returned.
package equipment
