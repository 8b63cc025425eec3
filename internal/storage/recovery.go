// Package storage provides the core storage engine components for txcore.
package storage

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Recovery errors.
var (
	ErrNoWAL              = errors.New("WAL is required for recovery")
	ErrNoPageStore        = errors.New("page store is required for recovery")
	ErrRecoveryInProgress = errors.New("recovery is already in progress")
)

// Recovery drives crash recovery: a single forward scan over the log, anchored
// at the last checkpoint, that redoes every Update record as it is read
// (the log is idempotent, so redoing a record whose effect is already on
// disk is harmless) while tracking which transactions are still active.
// An Abort record triggers an immediate undo of that transaction's
// updates, reversing the redo work the scan just did for it; whatever
// remains active once the scan reaches the tail are losers, and
// each is rolled back with the shared rollback algorithm. This replaces a
// separate analysis-then-redo-then-undo pass: one sequential read of the
// log does the bookkeeping and the redo work together, and only the
// undo steps (at an Abort record and for the final losers) do any extra
// I/O.
type Recovery struct {
	wal   *WAL
	store *PageStore
	pool  *BufferPool

	mu         sync.Mutex
	inProgress bool

	lastActive     map[uint64]int64 // txid -> first offset, for transactions still open at end of scan
	lastCheckpoint int64
}

// NewRecovery creates a Recovery bound to wal and store. pool may be nil
// if no buffer pool needs to be told about restored pages.
func NewRecovery(wal *WAL, store *PageStore, pool *BufferPool) *Recovery {
	return &Recovery{wal: wal, store: store, pool: pool}
}

// Recover performs crash recovery.
func (r *Recovery) Recover() error {
	r.mu.Lock()
	if r.inProgress {
		r.mu.Unlock()
		return ErrRecoveryInProgress
	}
	r.inProgress = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.inProgress = false
		r.mu.Unlock()
	}()

	if r.wal == nil {
		return ErrNoWAL
	}
	if r.store == nil {
		return ErrNoPageStore
	}

	active := make(map[uint64]int64)

	checkpointOffset := r.wal.LastCheckpointOffset()
	startOffset := int64(walHeaderSize)

	if checkpointOffset != noCheckpoint {
		record, _, err := r.wal.ReadAt(checkpointOffset)
		if err != nil {
			return fmt.Errorf("recovery: failed to read checkpoint at %d: %w", checkpointOffset, err)
		}
		if record.Type != WALCheckpoint {
			return fmt.Errorf("recovery: record at %d is not a checkpoint", checkpointOffset)
		}
		for _, tx := range record.ActiveTxs {
			active[tx.TxID] = tx.FirstOffset
		}
		startOffset = checkpointOffset
	}

	reader := r.wal.NewReader(startOffset)
	if checkpointOffset != noCheckpoint {
		// The checkpoint record itself has already been consumed above;
		// advance the reader past it before continuing the scan.
		if _, err := reader.Next(); err != nil {
			return fmt.Errorf("recovery: %w", err)
		}
	}

	for {
		record, err := reader.Next()
		if err != nil {
			return fmt.Errorf("recovery: scan failed: %w", err)
		}
		if record == nil {
			break
		}

		switch record.Type {
		case WALBegin:
			active[record.TxID] = record.LSN

		case WALCommit:
			delete(active, record.TxID)

		case WALAbort:
			// The aborted transaction's updates were redone as the scan
			// passed them, re-applying changes the live abort had already
			// rolled back on disk. Undo them again here, exactly as the
			// live abort did, before the scan moves on: any later update
			// of the same page by a surviving transaction sits after this
			// record and will be redone on top.
			if firstOffset, ok := active[record.TxID]; ok {
				if err := RollbackOneTransaction(r.wal, r.store, r.pool, record.TxID, firstOffset); err != nil {
					return fmt.Errorf("recovery: undo of aborted tx %d failed: %w", record.TxID, err)
				}
			}
			delete(active, record.TxID)

		case WALUpdate:
			if err := r.redoUpdate(record); err != nil {
				return fmt.Errorf("recovery: redo failed at offset %d: %w", record.LSN, err)
			}

		case WALCheckpoint:
			for _, tx := range record.ActiveTxs {
				if _, known := active[tx.TxID]; !known {
					active[tx.TxID] = tx.FirstOffset
				}
			}
		}
	}

	r.mu.Lock()
	r.lastActive = active
	r.lastCheckpoint = checkpointOffset
	r.mu.Unlock()

	if err := r.store.Sync(); err != nil {
		return err
	}

	return r.undoLosers(active)
}

// redoUpdate reapplies an Update record's after-image unconditionally.
func (r *Recovery) redoUpdate(record *WALRecord) error {
	after := &Page{}
	if err := after.Deserialize(record.After); err != nil {
		return fmt.Errorf("corrupt after-image for %s: %w", record.PageID, err)
	}

	if err := r.store.WritePage(after); err != nil {
		return err
	}

	if r.pool != nil {
		r.pool.DiscardPage(record.PageID)
	}

	return nil
}

// undoLosers rolls back every transaction left active at the end of the
// scan. Each loser's before-image scan is independent of the others, so
// the bookkeeping (deciding what to undo) fans out; the actual page and
// log writes stay serialized by the page store's and log's own locks.
// No additional log record is appended for a loser: the
// next process lifetime starts its own transactions, and a repeated
// crash mid-undo simply replays the same before-image writes.
func (r *Recovery) undoLosers(active map[uint64]int64) error {
	if len(active) == 0 {
		return nil
	}

	var g errgroup.Group
	for txid, firstOffset := range active {
		txid, firstOffset := txid, firstOffset
		g.Go(func() error {
			return RollbackOneTransaction(r.wal, r.store, r.pool, txid, firstOffset)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	return r.store.Sync()
}

// LastActiveTransactions returns the loser set found by the most recent
// Recover call, for diagnostics.
func (r *Recovery) LastActiveTransactions() map[uint64]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make(map[uint64]int64, len(r.lastActive))
	for k, v := range r.lastActive {
		result[k] = v
	}
	return result
}

// IsInProgress returns true if recovery is currently running.
func (r *Recovery) IsInProgress() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inProgress
}
