// Package store provides SQLite-backed durable storage for equipment state.
//
// The store is an append-only journal with four tables:
//   - transactions: committed top-level transactions with before/after state
//   - operations: the requests applied inside each transaction, in order
//   - snapshots: authoritative state after each commit, plus explicit saves
//   - security_events: the security service audit trail
//
// Writes are idempotent. Re-appending a transaction id or re-saving an
// identical snapshot is a no-op.
//
// All reads order by seq, the insertion counter, never by timestamps.
// ReplayPlayer re-applies journaled operations from the first recorded
// state and checks the result against the last committed fingerprint.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Store implements transaction.Journal.
package store
