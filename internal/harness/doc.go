// Package harness runs scripted equipment sessions against an in-process
// server and records deterministic traces.
//
// # Scenario Format
//
//	name: broken_rifle
//	description: "A broken rifle is refused and the prediction corrected"
//	loadout: loadouts/assault.yaml   # optional, relative to the scenario
//	character: { level: 5 }          # optional override
//	observers: [p2]                  # optional replication clients
//	setup:
//	  - { op: equip, slot: holster, item: PM }
//	steps:
//	  - name: equip broken rifle
//	    op: equip
//	    slot: primary
//	    item: AK74
//	    durability: 0
//	    predict: true
//	    expect: { success: false, failure: ItemBroken, can_override: false, prediction: corrected }
//	  - { name: replicate, action: tick }
//	assertions:
//	  - { type: slot_empty, slot: primary }
//	  - { type: replicas_in_sync }
//
// Operation steps may also be queued (resolved on the next tick), tampered
// (signature destroyed after signing) or replayed (the previous request
// resent verbatim). Control steps are tick, lock, unlock and level.
//
// # Determinism
//
// Every run uses a manual clock starting at testutil.Epoch, fixed instance
// and transaction ids, a fixed HMAC key and a fresh in-memory journal. The
// clock advances 200ms before each request and one second before each
// tick, which keeps scripted requests under the default rate limits.
//
// The client side of a run is a prediction.Predictor over a local mirror
// of the player's container and one replication.Replica per observer.
// Traces record outcomes only (success, failure type, affected slots,
// prediction outcome, replication fullness and sync), never timestamps or
// payload bytes.
package harness
