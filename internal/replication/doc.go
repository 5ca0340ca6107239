// Package replication turns authoritative equipment changes into versioned
// payloads for observers.
//
// VERSIONING:
//
// The Manager keeps a uint32 version counter that increments on every
// change and a per-version delta mask (the slots dirtied since the last
// replication tick). A client that acknowledged version V receives the
// union of the masks in (V, current]. Version distances are always computed
// with unsigned modular subtraction (Behind), so a counter that wraps past
// math.MaxUint32 still classifies "behind by N" correctly.
//
// A client gets a full state instead of a delta when a full sync is forced,
// when it has never acknowledged a version, when it is more than the
// dynamic delta threshold behind, or after that many consecutive deltas.
// The threshold and update rate adapt to measured network quality.
//
// WIRE FORMAT:
//
// Data is serialized as JSON, compressed with zlib or lz4 once it exceeds
// the compression threshold, checksummed with CRC32 and signed with
// HMAC-SHA256 when a key is configured. Decoding verifies the HMAC first,
// then the checksum, then decompresses and checks the original size. Each
// replicated item also carries its own HMAC; Replica drops items whose HMAC
// does not verify.
//
// Thread-safety: Manager and Replica are safe for concurrent use. Slot
// state, client state and statistics are guarded by separate mutexes; the
// client lock is always taken before the slot lock.
package replication
