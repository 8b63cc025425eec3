// Package tx provides transaction management for txcore.
package tx

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/KilimcininKorOglu/txcore/internal/storage"
)

// Transaction manager errors.
var (
	ErrTxNotFound     = errors.New("transaction not found")
	ErrTxNotActive    = errors.New("transaction is not active")
	ErrNilWAL         = errors.New("WAL is nil")
	ErrNilTransaction = errors.New("transaction is nil")
)

// TxManager manages transaction lifecycle: begin, commit, and rollback.
// It assigns unique transaction IDs and drives the commit/abort protocol
// across the log, the buffer pool, and the rollback engine.
// There is no write-set conflict validation here: conflicting
// access is already serialized by the lock manager, so two transactions
// are never both allowed to hold a page in conflicting modes.
type TxManager struct {
	nextTxID uint64 // atomic

	activeTx map[uint64]*Transaction
	wal      *storage.WAL
	store    *storage.PageStore
	pool     *storage.BufferPool

	mu       sync.RWMutex
	commitMu sync.Mutex
}

// NewTxManager creates a transaction manager wired to the log, page
// store, and buffer pool it drives transactions against.
func NewTxManager(wal *storage.WAL, store *storage.PageStore, pool *storage.BufferPool) *TxManager {
	return &TxManager{
		nextTxID: 1,
		activeTx: make(map[uint64]*Transaction),
		wal:      wal,
		store:    store,
		pool:     pool,
	}
}

// Begin starts a new transaction, assigns it a monotonically increasing
// ID, and records its Begin offset in the log.
func (tm *TxManager) Begin() (*Transaction, error) {
	if tm.wal == nil {
		return nil, ErrNilWAL
	}

	txID := atomic.AddUint64(&tm.nextTxID, 1) - 1

	offset, err := tm.wal.Append(storage.NewWALBeginRecord(txID))
	if err != nil {
		return nil, err
	}

	tx := NewTransaction(txID, offset)

	tm.mu.Lock()
	tm.activeTx[txID] = tx
	tm.mu.Unlock()

	return tx, nil
}

// Commit commits tx: flush every page tx dirtied (each flush is itself
// WAL-then-data), append and force the COMMIT record,
// then snapshot each flushed page's new before-image, and finally
// release tx's locks. Snapshotting only after the COMMIT record is
// durable is what makes the commit-atomicity invariant hold: no other
// transaction can have observed the page's new before-image before the
// commit itself is durable, since tx still holds the page's X-lock
// throughout.
func (tm *TxManager) Commit(tx *Transaction) error {
	if tx == nil {
		return ErrNilTransaction
	}
	if tm.wal == nil {
		return ErrNilWAL
	}
	if !tx.IsActive() {
		return ErrTxNotActive
	}

	tm.commitMu.Lock()
	defer tm.commitMu.Unlock()

	tm.mu.RLock()
	_, exists := tm.activeTx[tx.ID]
	tm.mu.RUnlock()
	if !exists {
		return ErrTxNotFound
	}

	flushed, err := tm.pool.FlushDirty(tx.ID)
	if err != nil {
		return err
	}

	if _, err := tm.wal.Append(storage.NewWALCommitRecord(tx.ID)); err != nil {
		return err
	}
	if err := tm.wal.Force(); err != nil {
		return err
	}

	tm.pool.SnapshotCommitted(flushed)
	tm.pool.ReleaseLocks(tx.ID)

	tx.SetState(TxCommitted)
	tm.wal.ForgetTransaction(tx.ID)

	tm.mu.Lock()
	delete(tm.activeTx, tx.ID)
	tm.mu.Unlock()

	return nil
}

// Rollback aborts tx: restore every page it dirtied to its before-image
// via the shared rollback algorithm, record an Abort, and release its
// locks.
func (tm *TxManager) Rollback(tx *Transaction) error {
	if tx == nil {
		return ErrNilTransaction
	}
	if tm.wal == nil {
		return ErrNilWAL
	}
	if !tx.IsActive() {
		return ErrTxNotActive
	}

	tm.mu.RLock()
	_, exists := tm.activeTx[tx.ID]
	tm.mu.RUnlock()
	if !exists {
		return ErrTxNotFound
	}

	if err := storage.RollbackOneTransaction(tm.wal, tm.store, tm.pool, tx.ID, tx.FirstOffset); err != nil {
		return err
	}

	// RollbackOneTransaction only discards pages that reached disk (those
	// with a logged Update record). Under no-steal, most of a transaction's
	// writes never get that far before an abort, so anything still in its
	// write set at this point is a page the buffer pool cached and dirtied
	// but never flushed; drop it from the cache so a future fetch rereads
	// the untouched bytes still on disk instead of this transaction's
	// now-orphaned in-memory copy.
	for _, id := range tx.GetWriteSet() {
		tm.pool.DiscardPage(id)
	}

	if _, err := tm.wal.Append(storage.NewWALAbortRecord(tx.ID)); err != nil {
		return err
	}
	if err := tm.wal.Force(); err != nil {
		return err
	}

	if err := tm.pool.CompleteTransaction(tx.ID, false); err != nil {
		return err
	}

	tx.ClearWriteSet()
	tx.SetState(TxAborted)
	tm.wal.ForgetTransaction(tx.ID)

	tm.mu.Lock()
	delete(tm.activeTx, tx.ID)
	tm.mu.Unlock()

	return nil
}

// GetActiveTransactions returns clones of all active transactions.
func (tm *TxManager) GetActiveTransactions() []*Transaction {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	result := make([]*Transaction, 0, len(tm.activeTx))
	for _, tx := range tm.activeTx {
		result = append(result, tx.Clone())
	}
	return result
}

// ActiveTxEntries returns the active set in the form the checkpoint
// record expects.
func (tm *TxManager) ActiveTxEntries() []storage.ActiveTxEntry {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	entries := make([]storage.ActiveTxEntry, 0, len(tm.activeTx))
	for _, tx := range tm.activeTx {
		entries = append(entries, storage.ActiveTxEntry{TxID: tx.ID, FirstOffset: tx.FirstOffset})
	}
	return entries
}

// GetTransaction returns the active transaction with the given ID, or
// nil if it is not active.
func (tm *TxManager) GetTransaction(txID uint64) *Transaction {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.activeTx[txID]
}

// ActiveCount returns the number of active transactions.
func (tm *TxManager) ActiveCount() int {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return len(tm.activeTx)
}

// NextTxID returns the next transaction ID that will be assigned.
func (tm *TxManager) NextTxID() uint64 {
	return atomic.LoadUint64(&tm.nextTxID)
}
