// Package storage provides the core storage engine components for txcore.
package storage

import "fmt"

// RollbackOneTransaction is the shared undo algorithm used by
// both a live transaction's abort and recovery's loser-undo pass: force
// the log tail, seek to the transaction's first log offset, and scan
// forward writing each Update record's before-image back to disk via the
// page store, discarding the page from the buffer pool cache so the next
// fetch rereads the restored bytes. No explicit undo log record is
// written — the before-images already on disk are the only record
// needed, and a repeated crash mid-rollback simply replays the same
// writes.
func RollbackOneTransaction(wal *WAL, store *PageStore, pool *BufferPool, txid uint64, firstOffset int64) error {
	if err := wal.Force(); err != nil {
		return err
	}

	reader := wal.NewReader(firstOffset)
	for {
		record, err := reader.Next()
		if err != nil {
			return fmt.Errorf("rollback scan for tx %d: %w", txid, err)
		}
		if record == nil {
			break
		}
		if record.Type != WALUpdate || record.TxID != txid {
			continue
		}

		before := &Page{}
		if err := before.Deserialize(record.Before); err != nil {
			return fmt.Errorf("rollback tx %d: corrupt before-image at offset %d: %w", txid, record.LSN, err)
		}

		if err := store.WritePage(before); err != nil {
			return fmt.Errorf("rollback tx %d: failed to restore %s: %w", txid, record.PageID, err)
		}

		if pool != nil {
			pool.DiscardPage(record.PageID)
		}
	}

	return nil
}
