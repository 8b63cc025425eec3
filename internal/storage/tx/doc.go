// Package tx implements transaction management for the txcore storage
// engine.
//
// # Overview
//
// The tx package provides the transaction registry and lifecycle:
//
//   - Atomicity: all-or-nothing via WAL before-images and rollback
//   - Consistency: pages only mutate under an exclusive lock
//   - Isolation: strict two-phase locking, enforced by the lock table
//   - Durability: dirty pages flushed and the COMMIT record forced
//     before Commit returns
//
// # Transaction Lifecycle
//
//	tx, err := manager.Begin()
//	if err != nil {
//	    return err
//	}
//
//	// ... fetch pages exclusively, mutate, mark dirty ...
//
//	if err := manager.Commit(tx); err != nil {
//	    manager.Rollback(tx)
//	    return err
//	}
//
// Begin assigns a monotonically increasing id, stamps the start time the
// lock manager derives timeouts from, and records the offset of the
// transaction's Begin record so rollback and recovery know where its log
// tail starts.
//
// # Transaction States
//
// Transactions progress through states:
//
//   - TxActive: the transaction is in progress
//   - TxCommitted: its changes are durable
//   - TxAborted: its changes are rolled back
//
// # Write Sets
//
// A transaction tracks the pages it acquired exclusively:
//
//	tx.WriteSet // pages this transaction may have modified
//
// There is no read set and no commit-time conflict validation: two
// transactions are never granted the same page in conflicting modes, so
// conflicts are resolved up front by the lock table, not detected after
// the fact.
package tx
