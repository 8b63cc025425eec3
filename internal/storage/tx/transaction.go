// Package tx provides transaction management for txcore.
package tx

import (
	"sync"
	"time"

	"github.com/KilimcininKorOglu/txcore/internal/storage"
)

// TxState represents the state of a transaction.
type TxState int

const (
	// TxActive indicates the transaction is currently active.
	TxActive TxState = iota
	// TxCommitted indicates the transaction has been successfully committed.
	TxCommitted
	// TxAborted indicates the transaction has been rolled back.
	TxAborted
)

// String returns the string representation of a TxState.
func (s TxState) String() string {
	switch s {
	case TxActive:
		return "Active"
	case TxCommitted:
		return "Committed"
	case TxAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// Transaction tracks the lifecycle of one transaction and the pages it
// has touched under two-phase locking. There is no read set or snapshot
// here: page visibility is governed entirely by the lock manager, not by
// a multi-version read view.
type Transaction struct {
	// ID is the unique transaction identifier.
	ID uint64

	// State is the current state of the transaction.
	State TxState

	// StartTime is when the transaction began; the lock manager derives
	// each lock request's deadline from this.
	StartTime time.Time

	// FirstOffset is the log offset of this transaction's Begin record.
	FirstOffset int64

	// WriteSet contains the pages modified during this transaction.
	WriteSet []storage.PageID

	mu sync.RWMutex
}

// NewTransaction creates a new transaction with the given ID and Begin offset.
func NewTransaction(id uint64, firstOffset int64) *Transaction {
	return &Transaction{
		ID:          id,
		State:       TxActive,
		StartTime:   time.Now(),
		FirstOffset: firstOffset,
		WriteSet:    make([]storage.PageID, 0),
	}
}

// IsActive returns true if the transaction is still active.
func (tx *Transaction) IsActive() bool {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	return tx.State == TxActive
}

// IsCommitted returns true if the transaction has been committed.
func (tx *Transaction) IsCommitted() bool {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	return tx.State == TxCommitted
}

// IsAborted returns true if the transaction has been aborted.
func (tx *Transaction) IsAborted() bool {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	return tx.State == TxAborted
}

// AddToWriteSet adds a page to the transaction's write set.
func (tx *Transaction) AddToWriteSet(pageID storage.PageID) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	for _, p := range tx.WriteSet {
		if p == pageID {
			return
		}
	}
	tx.WriteSet = append(tx.WriteSet, pageID)
}

// GetWriteSet returns a copy of the write set.
func (tx *Transaction) GetWriteSet() []storage.PageID {
	tx.mu.RLock()
	defer tx.mu.RUnlock()

	result := make([]storage.PageID, len(tx.WriteSet))
	copy(result, tx.WriteSet)
	return result
}

// ClearWriteSet clears the write set.
func (tx *Transaction) ClearWriteSet() {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.WriteSet = make([]storage.PageID, 0)
}

// SetState sets the transaction state.
func (tx *Transaction) SetState(state TxState) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.State = state
}

// Duration returns the duration since the transaction started.
func (tx *Transaction) Duration() time.Duration {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	return time.Since(tx.StartTime)
}

// Deadline returns the absolute time after which lock acquisition on
// behalf of this transaction should abort it, per the lock manager's
// timeout policy.
func (tx *Transaction) Deadline(timeout time.Duration) time.Time {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	return tx.StartTime.Add(timeout)
}

// Clone creates a deep copy of the transaction (for inspection purposes).
func (tx *Transaction) Clone() *Transaction {
	tx.mu.RLock()
	defer tx.mu.RUnlock()

	clone := &Transaction{
		ID:          tx.ID,
		State:       tx.State,
		StartTime:   tx.StartTime,
		FirstOffset: tx.FirstOffset,
		WriteSet:    make([]storage.PageID, len(tx.WriteSet)),
	}
	copy(clone.WriteSet, tx.WriteSet)
	return clone
}
