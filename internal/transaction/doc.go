// Package transaction groups equipment operations into units that commit
// or roll back together.
//
// A Processor serves one player's container. Transactions form a stack:
// Begin while another transaction is active opens a nested transaction
// whose parent is the current top. Only the top of the stack may commit.
// A nested commit folds its operations into the parent; a top-level commit
// is appended to the Journal.
//
// Every transaction captures a Before snapshot when it starts. Rollback,
// a failed Apply and a timeout all restore that snapshot into the
// container. Savepoints capture intermediate snapshots inside a
// transaction.
//
// Thread-safety: Processor is safe for concurrent use. Listeners are
// invoked after the processor lock is released.
package transaction
