// Package server composes the equipment subsystems into one authoritative
// service.
//
// A request flows through the security service (bans, rate limits, nonce
// replay, request HMAC), the rules coordinator, a per-player transaction
// processor that journals commits to the store, and finally the player's
// replication manager, which marks the changed slots dirty. Every outcome
// is published on the event bus.
//
// Requests are accepted two ways:
//   - Submit validates and applies synchronously and returns the result.
//   - Enqueue defers the request to the next Tick, which processes at most
//     Server.MaxOpsPerTick queued requests, highest priority first.
//
// Tick also runs one replication pass per player, sweeps expired
// transactions and flushes NextFrame bus deliveries. Run drives Tick at the
// configured rate.
//
// Thread-safety: all Service methods are safe for concurrent use. Requests
// for the same player are serialized; different players proceed in
// parallel.
package server
