// Package storage provides the core storage engine components for txcore.
package storage

import (
	"errors"
	"sync"
	"time"
)

// Checkpoint errors.
var (
	ErrCheckpointInProgress = errors.New("checkpoint is already in progress")
)

// CheckpointManager drives checkpointing: force every dirty buffer
// to disk, then write a single checkpoint record naming the transactions
// still active and each one's first log offset, so recovery never has to
// scan further back than this point.
type CheckpointManager struct {
	wal        *WAL
	store      *PageStore
	bufferPool *BufferPool

	mu                 sync.Mutex
	lastCheckpointTime time.Time
	checkpointInterval time.Duration
	inProgress         bool

	// getActiveTxs returns the currently active transactions and each
	// one's Begin-record offset.
	getActiveTxs func() []ActiveTxEntry
}

// NewCheckpointManager creates a CheckpointManager.
func NewCheckpointManager(wal *WAL, store *PageStore, pool *BufferPool) *CheckpointManager {
	return &CheckpointManager{
		wal:                wal,
		store:              store,
		bufferPool:         pool,
		checkpointInterval: 5 * time.Minute,
	}
}

// SetActiveTxCallback sets the callback used to enumerate active
// transactions at checkpoint time.
func (cm *CheckpointManager) SetActiveTxCallback(callback func() []ActiveTxEntry) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.getActiveTxs = callback
}

// SetCheckpointInterval sets the minimum interval between checkpoints
// for the optional periodic checkpoint goroutine.
func (cm *CheckpointManager) SetCheckpointInterval(interval time.Duration) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.checkpointInterval = interval
}

// Checkpoint performs a checkpoint: force all dirty buffers to disk,
// then append and force a checkpoint record naming the active
// transaction set.
func (cm *CheckpointManager) Checkpoint() error {
	cm.mu.Lock()
	if cm.inProgress {
		cm.mu.Unlock()
		return ErrCheckpointInProgress
	}
	cm.inProgress = true
	cm.mu.Unlock()

	defer func() {
		cm.mu.Lock()
		cm.inProgress = false
		cm.mu.Unlock()
	}()

	if cm.bufferPool != nil {
		if err := cm.bufferPool.FlushAllPages(); err != nil {
			return err
		}
	}

	if err := cm.store.Sync(); err != nil {
		return err
	}

	var active []ActiveTxEntry
	cm.mu.Lock()
	cb := cm.getActiveTxs
	cm.mu.Unlock()
	if cb != nil {
		active = cb()
	}

	if _, err := cm.wal.Checkpoint(active); err != nil {
		return err
	}

	cm.mu.Lock()
	cm.lastCheckpointTime = time.Now()
	cm.mu.Unlock()

	return nil
}

// ShouldCheckpoint returns true if the configured interval has elapsed
// since the last checkpoint. Used only by the optional periodic
// checkpoint goroutine; it is never required for correctness.
func (cm *CheckpointManager) ShouldCheckpoint() bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.lastCheckpointTime.IsZero() {
		return true
	}
	return time.Since(cm.lastCheckpointTime) >= cm.checkpointInterval
}

// LastCheckpointTime returns the time of the last checkpoint.
func (cm *CheckpointManager) LastCheckpointTime() time.Time {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.lastCheckpointTime
}

// IsInProgress returns true if a checkpoint is currently running.
func (cm *CheckpointManager) IsInProgress() bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.inProgress
}

// GetCheckpointInterval returns the current checkpoint interval.
func (cm *CheckpointManager) GetCheckpointInterval() time.Duration {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.checkpointInterval
}

// RunPeriodically starts a goroutine that calls Checkpoint whenever
// ShouldCheckpoint reports true, until stop is closed. This is the
// supplemental periodic-checkpoint feature: off by default, and it only
// ever invokes the same Checkpoint used for an explicit checkpoint call.
func (cm *CheckpointManager) RunPeriodically(stop <-chan struct{}) {
	ticker := time.NewTicker(cm.GetCheckpointInterval())
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if cm.ShouldCheckpoint() {
				_ = cm.Checkpoint()
			}
		}
	}
}
