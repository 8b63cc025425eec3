// Package storage provides the core storage engine components for txcore.
package storage

import (
	"fmt"
	"sync"
	"time"
)

// Buffer pool errors.
var (
	ErrPageNotFound     = fmt.Errorf("%w: page not found in buffer pool", ErrDbError)
	ErrPagePinned       = fmt.Errorf("%w: page is pinned and cannot be evicted", ErrDbError)
	ErrInvalidCapacity  = fmt.Errorf("%w: buffer pool capacity must be positive", ErrDbError)
	ErrNegativePinCount = fmt.Errorf("%w: pin count cannot be negative", ErrDbError)
)

// BufferPool caches pages fetched from a PageStore, gates every
// fetch through the lock manager, tags dirtied pages with the id of the
// transaction that dirtied them, and on transaction completion either
// flushes (commit) or discards (abort) them. No-steal: eviction never
// writes a dirty frame, it refuses it instead. A dirty page reaches disk
// only through a commit flush or through FlushAllPages (checkpoints),
// and both log the page first.
type BufferPool struct {
	capacity int
	store    *PageStore
	locks    *LockManager
	wal      *WAL

	mu         sync.Mutex
	frames     map[PageID]*Page
	pinCount   map[PageID]int
	pinnedBy   map[uint64]map[PageID]int
	lru        *LRUCache
	dirtyPages map[PageID]bool
}

// NewBufferPool creates a buffer pool of the given frame capacity backed
// by store and gated by locks. wal is the log every dirty-page flush
// must write an Update record to before the page itself is written to
// store; it must be non-nil for any pool that ever dirties a page.
func NewBufferPool(capacity int, store *PageStore, locks *LockManager, wal *WAL) *BufferPool {
	if capacity <= 0 {
		capacity = 64
	}
	return &BufferPool{
		capacity:   capacity,
		store:      store,
		locks:      locks,
		wal:        wal,
		frames:     make(map[PageID]*Page),
		pinCount:   make(map[PageID]int),
		pinnedBy:   make(map[uint64]map[PageID]int),
		lru:        NewLRUCache(),
		dirtyPages: make(map[PageID]bool),
	}
}

// FetchPage acquires mode on pageID (blocking per the lock manager's rules) and returns
// the cached or freshly loaded page, pinned so it cannot be evicted out
// from under the caller. Callers must Unpin when done with the page.
func (bp *BufferPool) FetchPage(txid uint64, pageID PageID, mode LockMode, deadline time.Time) (*Page, error) {
	if err := bp.locks.Acquire(txid, pageID, mode, deadline); err != nil {
		return nil, err
	}

	bp.mu.Lock()
	defer bp.mu.Unlock()

	if page, ok := bp.frames[pageID]; ok {
		bp.pinCount[pageID]++
		bp.recordPinLocked(txid, pageID)
		bp.lru.Access(pageID)
		return page, nil
	}

	if len(bp.frames) >= bp.capacity {
		if err := bp.evictOneLocked(); err != nil {
			return nil, err
		}
	}

	page, err := bp.store.ReadPage(pageID)
	if err != nil {
		return nil, err
	}

	bp.frames[pageID] = page
	bp.pinCount[pageID] = 1
	bp.recordPinLocked(txid, pageID)
	bp.lru.Access(pageID)

	return page, nil
}

// recordPinLocked counts a pin taken on behalf of txid, so UnpinAll can
// release every pin a transaction is holding at commit or abort without
// the caller having to track page ids itself. A transaction that fetches
// the same page repeatedly takes one pin per fetch, so the count here
// must mirror that. Must be called with mu held.
func (bp *BufferPool) recordPinLocked(txid uint64, pageID PageID) {
	pins, ok := bp.pinnedBy[txid]
	if !ok {
		pins = make(map[PageID]int)
		bp.pinnedBy[txid] = pins
	}
	pins[pageID]++
}

// AllocatePage allocates a fresh page in the given table, seeds the
// buffer pool with it already pinned, and acquires an exclusive lock on
// it for txid (a newly allocated page is never visible to any other
// transaction, but the lock keeps the invariants uniform).
func (bp *BufferPool) AllocatePage(txid uint64, tableID TableID, pageType PageType, deadline time.Time) (*Page, error) {
	pageID, err := bp.store.AllocatePage(tableID, pageType)
	if err != nil {
		return nil, err
	}

	if err := bp.locks.Acquire(txid, pageID, LockExclusive, deadline); err != nil {
		return nil, err
	}

	page, err := bp.store.ReadPage(pageID)
	if err != nil {
		return nil, err
	}

	bp.mu.Lock()
	defer bp.mu.Unlock()

	if len(bp.frames) >= bp.capacity {
		if err := bp.evictOneLocked(); err != nil {
			return nil, err
		}
	}

	bp.frames[pageID] = page
	bp.pinCount[pageID] = 1
	bp.recordPinLocked(txid, pageID)
	bp.lru.Access(pageID)

	return page, nil
}

// Unpin decrements the pin count for a page.
func (bp *BufferPool) Unpin(id PageID) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	count, exists := bp.pinCount[id]
	if !exists {
		return ErrPageNotFound
	}
	if count <= 0 {
		return ErrNegativePinCount
	}

	bp.pinCount[id] = count - 1
	return nil
}

// MarkDirty tags id as dirtied by txid. Called after the caller has
// written its change into the page's Data.
func (bp *BufferPool) MarkDirty(txid uint64, id PageID) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	page, exists := bp.frames[id]
	if !exists {
		return ErrPageNotFound
	}

	page.MarkDirty(txid, true)
	bp.dirtyPages[id] = true
	return nil
}

// DirtiedBy returns the page IDs currently dirtied by txid.
func (bp *BufferPool) DirtiedBy(txid uint64) []PageID {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	var ids []PageID
	for id := range bp.dirtyPages {
		page := bp.frames[id]
		if page == nil {
			continue
		}
		if owner, dirty := page.IsDirty(); dirty && owner == txid {
			ids = append(ids, id)
		}
	}
	return ids
}

// FlushDirty implements the first half of a commit flush: every page
// dirtied by txid is written to disk in WAL-then-data order. It returns
// the flushed page ids so the caller can snapshot their before-images
// only after the COMMIT record itself has been forced: flush pages,
// append COMMIT, force log, then snapshot each flushed page.
func (bp *BufferPool) FlushDirty(txid uint64) ([]PageID, error) {
	dirtied := bp.DirtiedBy(txid)
	for _, id := range dirtied {
		if err := bp.flushPage(id); err != nil {
			return nil, err
		}
	}
	return dirtied, nil
}

// SnapshotCommitted calls SetBeforeImage on each given page and clears
// its dirty tag — the step that may only run once the COMMIT record is
// durable. The committing transaction still holds its exclusive locks
// here, so no other transaction can observe the page in between.
func (bp *BufferPool) SnapshotCommitted(ids []PageID) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	for _, id := range ids {
		if page, ok := bp.frames[id]; ok {
			page.SetBeforeImage()
			page.MarkDirty(0, false)
		}
		delete(bp.dirtyPages, id)
	}
}

// UnpinAll releases every pin txid is still holding, however many times
// each page was fetched. Called alongside lock release at commit or
// abort so a transaction's frames become evictable again even if the
// caller never paired every fetch with an explicit Unpin. Pins the
// caller already returned via Unpin are not double-counted: the count
// never drops below zero.
func (bp *BufferPool) UnpinAll(txid uint64) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	for id, pins := range bp.pinnedBy[txid] {
		count, ok := bp.pinCount[id]
		if !ok {
			continue
		}
		count -= pins
		if count < 0 {
			count = 0
		}
		bp.pinCount[id] = count
	}
	delete(bp.pinnedBy, txid)
}

// ReleaseLocks releases every page lock held by txid and unpins every
// frame it was holding. Split out from CompleteTransaction so the
// transaction manager can release locks only after it has finished its
// own post-flush bookkeeping (e.g. forgetting the transaction's log
// offset).
func (bp *BufferPool) ReleaseLocks(txid uint64) {
	bp.UnpinAll(txid)
	bp.locks.ReleaseAll(txid)
}

// CompleteTransaction finishes a transaction's buffer-pool bookkeeping,
// for the abort side and for callers that do not need fine control over
// commit ordering: on commit it flushes and immediately snapshots every
// page dirtied by txid (used outside the strict transaction manager
// path, e.g. FlushAllPages-style diagnostics); on abort the caller is
// expected to have already run the rollback engine to restore
// before-images to disk and to have called DiscardPage for each touched
// page, so this only releases pins and locks. Either way, all of txid's
// pins and locks are released at the end.
func (bp *BufferPool) CompleteTransaction(txid uint64, commit bool) error {
	if commit {
		ids, err := bp.FlushDirty(txid)
		if err != nil {
			return err
		}
		bp.SnapshotCommitted(ids)
	}

	bp.ReleaseLocks(txid)
	return nil
}

// flushPage enforces the write-ahead rule for a single dirty
// page: append an Update record carrying the page's before- and
// after-images, force the log, and only then write the page bytes to
// disk. It does not snapshot the before-image or clear the dirty tag —
// callers decide when that is safe to do (immediately, for
// CompleteTransaction's commit path; only after a COMMIT record is
// forced, for the transaction manager's commit path; never, for
// FlushAllPages).
func (bp *BufferPool) flushPage(id PageID) error {
	bp.mu.Lock()
	page, exists := bp.frames[id]
	bp.mu.Unlock()
	if !exists {
		return nil
	}

	owner, dirty := page.IsDirty()
	if dirty && bp.wal != nil {
		before := page.GetBeforeImage()
		beforeBytes, err := before.GetBytes()
		if err != nil {
			return fmt.Errorf("%w: failed to serialize before-image for %s: %v", ErrIoError, id, err)
		}
		afterBytes, err := page.GetBytes()
		if err != nil {
			return fmt.Errorf("%w: failed to serialize after-image for %s: %v", ErrIoError, id, err)
		}

		if _, err := bp.wal.Append(NewWALUpdateRecord(owner, id, beforeBytes, afterBytes)); err != nil {
			return err
		}
		if err := bp.wal.Force(); err != nil {
			return err
		}
	}

	if err := bp.store.WritePage(page); err != nil {
		return err
	}

	// The page stays tracked as dirty: its before-image snapshot still
	// holds the last-committed contents, and only SnapshotCommitted (at
	// the owner's commit) or DiscardPage (at its abort) may retire that.
	return nil
}

// DiscardPage drops a page from the cache without flushing it, forcing
// the next fetch to reread it from the page store. Used by the rollback
// and recovery engines after restoring a before-image to disk.
func (bp *BufferPool) DiscardPage(id PageID) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	delete(bp.frames, id)
	delete(bp.pinCount, id)
	delete(bp.dirtyPages, id)
	bp.lru.Remove(id)
}

// FlushAllPages forces every dirty page in the pool to disk, regardless
// of owning transaction. Used for checkpointing.
func (bp *BufferPool) FlushAllPages() error {
	bp.mu.Lock()
	ids := make([]PageID, 0, len(bp.dirtyPages))
	for id := range bp.dirtyPages {
		ids = append(ids, id)
	}
	bp.mu.Unlock()

	for _, id := range ids {
		if err := bp.flushPage(id); err != nil {
			return err
		}
	}
	return nil
}

// evictOneLocked evicts one clean, unpinned page to make room. Must be
// called with mu held.
func (bp *BufferPool) evictOneLocked() error {
	pinned := make(map[PageID]bool)
	for id, count := range bp.pinCount {
		if count > 0 {
			pinned[id] = true
		}
	}
	for id := range bp.dirtyPages {
		pinned[id] = true // never evict a dirty (unflushed) page
	}

	victim, found := bp.lru.GetLRUExcluding(pinned)
	if !found {
		return ErrOutOfBufferSpace
	}

	delete(bp.frames, victim)
	delete(bp.pinCount, victim)
	bp.lru.Remove(victim)
	return nil
}

// Contains checks if a page is currently cached.
func (bp *BufferPool) Contains(id PageID) bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	_, exists := bp.frames[id]
	return exists
}

// Size returns the number of pages currently cached.
func (bp *BufferPool) Size() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.frames)
}

// Capacity returns the maximum number of frames.
func (bp *BufferPool) Capacity() int {
	return bp.capacity
}

// BufferPoolStats summarizes buffer pool occupancy.
type BufferPoolStats struct {
	Capacity    int
	Size        int
	DirtyPages  int
	PinnedPages int
}

// Stats returns current statistics about the buffer pool.
func (bp *BufferPool) Stats() BufferPoolStats {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	pinnedCount := 0
	for _, count := range bp.pinCount {
		if count > 0 {
			pinnedCount++
		}
	}

	return BufferPoolStats{
		Capacity:    bp.capacity,
		Size:        len(bp.frames),
		DirtyPages:  len(bp.dirtyPages),
		PinnedPages: pinnedCount,
	}
}
