package storage

import (
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// LRU Cache Tests
// =============================================================================

func TestNewLRUCache(t *testing.T) {
	cache := NewLRUCache()

	if cache == nil {
		t.Fatal("NewLRUCache returned nil")
	}
	if cache.Len() != 0 {
		t.Errorf("New cache should be empty, got %d", cache.Len())
	}
}

func TestLRUCacheAccess(t *testing.T) {
	cache := NewLRUCache()

	p1 := PageID{TableID: 1, PageNumber: 1}
	p2 := PageID{TableID: 1, PageNumber: 2}
	p3 := PageID{TableID: 1, PageNumber: 3}

	cache.Access(p1)
	cache.Access(p2)
	cache.Access(p3)

	if cache.Len() != 3 {
		t.Errorf("Cache should have 3 entries, got %d", cache.Len())
	}

	lru, ok := cache.GetLRU()
	if !ok {
		t.Fatal("GetLRU should return true")
	}
	if lru != p1 {
		t.Errorf("LRU should be %v, got %v", p1, lru)
	}

	cache.Access(p1)
	lru, _ = cache.GetLRU()
	if lru != p2 {
		t.Errorf("LRU should be %v after accessing p1, got %v", p2, lru)
	}
}

func TestLRUCacheRemove(t *testing.T) {
	cache := NewLRUCache()

	p1 := PageID{TableID: 1, PageNumber: 1}
	p2 := PageID{TableID: 1, PageNumber: 2}
	p3 := PageID{TableID: 1, PageNumber: 3}

	cache.Access(p1)
	cache.Access(p2)
	cache.Access(p3)

	cache.Remove(p2)

	if cache.Len() != 2 {
		t.Errorf("Cache should have 2 entries after removal, got %d", cache.Len())
	}
	if cache.Contains(p2) {
		t.Error("Cache should not contain removed page")
	}
}

func TestLRUCacheGetLRUExcluding(t *testing.T) {
	cache := NewLRUCache()

	p1 := PageID{TableID: 1, PageNumber: 1}
	p2 := PageID{TableID: 1, PageNumber: 2}
	p3 := PageID{TableID: 1, PageNumber: 3}

	cache.Access(p1)
	cache.Access(p2)
	cache.Access(p3)

	excluded := map[PageID]bool{p1: true}
	lru, ok := cache.GetLRUExcluding(excluded)
	if !ok {
		t.Fatal("GetLRUExcluding should return true")
	}
	if lru != p2 {
		t.Errorf("LRU excluding p1 should be %v, got %v", p2, lru)
	}

	excluded = map[PageID]bool{p1: true, p2: true, p3: true}
	_, ok = cache.GetLRUExcluding(excluded)
	if ok {
		t.Error("GetLRUExcluding should return false when all pages excluded")
	}
}

func TestLRUCacheContains(t *testing.T) {
	cache := NewLRUCache()

	p1 := PageID{TableID: 1, PageNumber: 1}
	p2 := PageID{TableID: 1, PageNumber: 2}
	cache.Access(p1)

	if !cache.Contains(p1) {
		t.Error("Cache should contain p1")
	}
	if cache.Contains(p2) {
		t.Error("Cache should not contain p2")
	}
}

func TestLRUCacheClear(t *testing.T) {
	cache := NewLRUCache()

	cache.Access(PageID{TableID: 1, PageNumber: 1})
	cache.Access(PageID{TableID: 1, PageNumber: 2})
	cache.Access(PageID{TableID: 1, PageNumber: 3})

	cache.Clear()

	if cache.Len() != 0 {
		t.Errorf("Cache should be empty after clear, got %d", cache.Len())
	}
}

func TestLRUCacheGetAll(t *testing.T) {
	cache := NewLRUCache()

	p1 := PageID{TableID: 1, PageNumber: 1}
	p2 := PageID{TableID: 1, PageNumber: 2}
	p3 := PageID{TableID: 1, PageNumber: 3}

	cache.Access(p1)
	cache.Access(p2)
	cache.Access(p3)

	all := cache.GetAll()
	if len(all) != 3 {
		t.Fatalf("GetAll should return 3 entries, got %d", len(all))
	}
	if all[0] != p3 {
		t.Errorf("First entry should be %v (MRU), got %v", p3, all[0])
	}
	if all[2] != p1 {
		t.Errorf("Last entry should be %v (LRU), got %v", p1, all[2])
	}
}

func TestLRUCacheGetAllLRUOrder(t *testing.T) {
	cache := NewLRUCache()

	p1 := PageID{TableID: 1, PageNumber: 1}
	p2 := PageID{TableID: 1, PageNumber: 2}
	p3 := PageID{TableID: 1, PageNumber: 3}

	cache.Access(p1)
	cache.Access(p2)
	cache.Access(p3)

	all := cache.GetAllLRUOrder()
	if len(all) != 3 {
		t.Fatalf("GetAllLRUOrder should return 3 entries, got %d", len(all))
	}
	if all[0] != p1 {
		t.Errorf("First entry should be %v (LRU), got %v", p1, all[0])
	}
	if all[2] != p3 {
		t.Errorf("Last entry should be %v (MRU), got %v", p3, all[2])
	}
}

func TestLRUCacheEmptyGetLRU(t *testing.T) {
	cache := NewLRUCache()

	_, ok := cache.GetLRU()
	if ok {
		t.Error("GetLRU on empty cache should return false")
	}
}

// =============================================================================
// Buffer Pool Tests
// =============================================================================

// newTestPool opens a fresh page store, lock manager and WAL under a temp
// directory and wires them into a BufferPool, mirroring the way
// engine.Open assembles the same pieces.
func newTestPool(t *testing.T, capacity int) (*BufferPool, *PageStore, TableID) {
	t.Helper()

	dir := t.TempDir()
	store, err := OpenPageStore(dir, DefaultPageStoreOptions())
	if err != nil {
		t.Fatalf("OpenPageStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	const tableID TableID = 1
	if _, err := store.OpenTable(tableID, TableKindHeap); err != nil {
		t.Fatalf("OpenTable() error = %v", err)
	}

	wal, err := OpenWAL(filepath.Join(dir, "test.wal"))
	if err != nil {
		t.Fatalf("OpenWAL() error = %v", err)
	}
	t.Cleanup(func() { wal.Close() })

	locks := NewLockManager()
	return NewBufferPool(capacity, store, locks, wal), store, tableID
}

func noDeadline() time.Time {
	return time.Now().Add(time.Hour)
}

func TestNewBufferPool(t *testing.T) {
	bp, _, _ := newTestPool(t, 10)

	if bp == nil {
		t.Fatal("NewBufferPool returned nil")
	}
	if bp.Capacity() != 10 {
		t.Errorf("Capacity should be 10, got %d", bp.Capacity())
	}
	if bp.Size() != 0 {
		t.Errorf("Size should be 0, got %d", bp.Size())
	}
}

func TestNewBufferPoolDefaultCapacity(t *testing.T) {
	bp, _, _ := newTestPool(t, 0)

	if bp.Capacity() != 64 {
		t.Errorf("Default capacity should be 64, got %d", bp.Capacity())
	}
}

func TestBufferPoolAllocateAndFetch(t *testing.T) {
	bp, _, tableID := newTestPool(t, 10)

	page, err := bp.AllocatePage(1, tableID, PageTypeHeapData, noDeadline())
	if err != nil {
		t.Fatalf("AllocatePage() error = %v", err)
	}
	page.Data[0] = 0xAB

	if !bp.Contains(page.Header.PageID) {
		t.Error("allocated page should be cached")
	}
	if bp.Size() != 1 {
		t.Errorf("Size should be 1, got %d", bp.Size())
	}

	fetched, err := bp.FetchPage(1, page.Header.PageID, LockExclusive, noDeadline())
	if err != nil {
		t.Fatalf("FetchPage() error = %v", err)
	}
	if fetched.Data[0] != 0xAB {
		t.Error("fetched page data mismatch")
	}
}

func TestBufferPoolFetchSharedConcurrently(t *testing.T) {
	bp, _, tableID := newTestPool(t, 10)

	page, err := bp.AllocatePage(1, tableID, PageTypeHeapData, noDeadline())
	if err != nil {
		t.Fatalf("AllocatePage() error = %v", err)
	}
	id := page.Header.PageID
	bp.Unpin(id)
	bp.ReleaseLocks(1)

	if _, err := bp.FetchPage(2, id, LockShared, noDeadline()); err != nil {
		t.Fatalf("txn 2 FetchPage(shared) error = %v", err)
	}
	if _, err := bp.FetchPage(3, id, LockShared, noDeadline()); err != nil {
		t.Fatalf("txn 3 FetchPage(shared) error = %v", err)
	}
}

func TestBufferPoolUnpin(t *testing.T) {
	bp, _, tableID := newTestPool(t, 10)

	page, err := bp.AllocatePage(1, tableID, PageTypeHeapData, noDeadline())
	if err != nil {
		t.Fatalf("AllocatePage() error = %v", err)
	}

	if err := bp.Unpin(page.Header.PageID); err != nil {
		t.Fatalf("Unpin() error = %v", err)
	}
}

func TestBufferPoolUnpinNotFound(t *testing.T) {
	bp, _, _ := newTestPool(t, 10)

	missing := PageID{TableID: 1, PageNumber: 999}
	if err := bp.Unpin(missing); err != ErrPageNotFound {
		t.Errorf("Unpin non-existing page should return ErrPageNotFound, got %v", err)
	}
}

func TestBufferPoolUnpinNegative(t *testing.T) {
	bp, _, tableID := newTestPool(t, 10)

	page, err := bp.AllocatePage(1, tableID, PageTypeHeapData, noDeadline())
	if err != nil {
		t.Fatalf("AllocatePage() error = %v", err)
	}

	if err := bp.Unpin(page.Header.PageID); err != nil {
		t.Fatalf("first Unpin() error = %v", err)
	}
	if err := bp.Unpin(page.Header.PageID); err != ErrNegativePinCount {
		t.Errorf("second Unpin() should return ErrNegativePinCount, got %v", err)
	}
}

func TestBufferPoolMarkDirty(t *testing.T) {
	bp, _, tableID := newTestPool(t, 10)

	page, err := bp.AllocatePage(1, tableID, PageTypeHeapData, noDeadline())
	if err != nil {
		t.Fatalf("AllocatePage() error = %v", err)
	}

	if err := bp.MarkDirty(1, page.Header.PageID); err != nil {
		t.Fatalf("MarkDirty() error = %v", err)
	}

	if _, dirty := page.IsDirty(); !dirty {
		t.Error("page should be dirty")
	}

	dirtied := bp.DirtiedBy(1)
	if len(dirtied) != 1 || dirtied[0] != page.Header.PageID {
		t.Errorf("DirtiedBy(1) = %v, want [%v]", dirtied, page.Header.PageID)
	}
}

func TestBufferPoolMarkDirtyNotFound(t *testing.T) {
	bp, _, _ := newTestPool(t, 10)

	missing := PageID{TableID: 1, PageNumber: 999}
	if err := bp.MarkDirty(1, missing); err != ErrPageNotFound {
		t.Errorf("MarkDirty non-existing page should return ErrPageNotFound, got %v", err)
	}
}

func TestBufferPoolFlushDirtyWritesWAL(t *testing.T) {
	bp, _, tableID := newTestPool(t, 10)

	page, err := bp.AllocatePage(1, tableID, PageTypeHeapData, noDeadline())
	if err != nil {
		t.Fatalf("AllocatePage() error = %v", err)
	}
	page.Data[0] = 0xCD
	if err := bp.MarkDirty(1, page.Header.PageID); err != nil {
		t.Fatalf("MarkDirty() error = %v", err)
	}

	flushed, err := bp.FlushDirty(1)
	if err != nil {
		t.Fatalf("FlushDirty() error = %v", err)
	}
	if len(flushed) != 1 || flushed[0] != page.Header.PageID {
		t.Errorf("FlushDirty() = %v, want [%v]", flushed, page.Header.PageID)
	}

	bp.SnapshotCommitted(flushed)
	if _, dirty := page.IsDirty(); dirty {
		t.Error("page should be clean after SnapshotCommitted")
	}
}

func TestBufferPoolCompleteTransactionCommit(t *testing.T) {
	bp, _, tableID := newTestPool(t, 10)

	page, err := bp.AllocatePage(1, tableID, PageTypeHeapData, noDeadline())
	if err != nil {
		t.Fatalf("AllocatePage() error = %v", err)
	}
	page.Data[0] = 0x11
	if err := bp.MarkDirty(1, page.Header.PageID); err != nil {
		t.Fatalf("MarkDirty() error = %v", err)
	}

	if err := bp.CompleteTransaction(1, true); err != nil {
		t.Fatalf("CompleteTransaction() error = %v", err)
	}

	if _, dirty := page.IsDirty(); dirty {
		t.Error("page should be clean after commit")
	}
}

// =============================================================================
// Eviction Tests
// =============================================================================

func TestBufferPoolEvictsLRUOnOverflow(t *testing.T) {
	bp, _, tableID := newTestPool(t, 3)

	var ids []PageID
	for i := 0; i < 3; i++ {
		page, err := bp.AllocatePage(1, tableID, PageTypeHeapData, noDeadline())
		if err != nil {
			t.Fatalf("AllocatePage() error = %v", err)
		}
		ids = append(ids, page.Header.PageID)
		bp.Unpin(page.Header.PageID)
	}

	// Adding a fourth clean page should evict the LRU (the first one).
	page4, err := bp.AllocatePage(1, tableID, PageTypeHeapData, noDeadline())
	if err != nil {
		t.Fatalf("AllocatePage() for 4th page error = %v", err)
	}

	if bp.Contains(ids[0]) {
		t.Error("LRU page should have been evicted")
	}
	if !bp.Contains(page4.Header.PageID) {
		t.Error("newly allocated page should be cached")
	}
	if bp.Size() != 3 {
		t.Errorf("Size should still be 3, got %d", bp.Size())
	}
}

func TestBufferPoolEvictionSkipsPinnedAndDirty(t *testing.T) {
	bp, _, tableID := newTestPool(t, 2)

	_, err := bp.AllocatePage(1, tableID, PageTypeHeapData, noDeadline())
	if err != nil {
		t.Fatalf("AllocatePage() error = %v", err)
	}
	// page1 stays pinned (never Unpin'd).

	page2, err := bp.AllocatePage(1, tableID, PageTypeHeapData, noDeadline())
	if err != nil {
		t.Fatalf("AllocatePage() error = %v", err)
	}
	bp.MarkDirty(1, page2.Header.PageID)
	// page2 is dirty; evictOneLocked must never pick it as a victim.

	if _, err := bp.AllocatePage(1, tableID, PageTypeHeapData, noDeadline()); err != ErrOutOfBufferSpace {
		t.Errorf("AllocatePage() with no evictable victim should return ErrOutOfBufferSpace, got %v", err)
	}
}

// =============================================================================
// Flush and Discard Tests
// =============================================================================

// FlushAllPages (the checkpoint path) writes dirty pages to disk but must
// leave them attributed to their in-flight transaction: the before-image
// snapshot may only advance at that transaction's commit, so a flushed
// but uncommitted page stays tagged and a later commit still finds it.
func TestBufferPoolFlushAllPagesKeepsDirtyAttribution(t *testing.T) {
	bp, store, tableID := newTestPool(t, 10)

	page, err := bp.AllocatePage(1, tableID, PageTypeHeapData, noDeadline())
	if err != nil {
		t.Fatalf("AllocatePage() error = %v", err)
	}
	page.Data[0] = 0x5A
	bp.MarkDirty(1, page.Header.PageID)

	if err := bp.FlushAllPages(); err != nil {
		t.Fatalf("FlushAllPages() error = %v", err)
	}

	// The bytes reached disk.
	onDisk, err := store.ReadPage(page.Header.PageID)
	if err != nil {
		t.Fatalf("ReadPage() error = %v", err)
	}
	if onDisk.Data[0] != 0x5A {
		t.Error("flushed page bytes did not reach disk")
	}

	// But the page is still attributed to its uncommitted transaction.
	if owner, dirty := page.IsDirty(); !dirty || owner != 1 {
		t.Errorf("IsDirty() = (%d, %v), want (1, true) after a checkpoint flush", owner, dirty)
	}
	if dirtied := bp.DirtiedBy(1); len(dirtied) != 1 {
		t.Errorf("DirtiedBy(1) = %v, want the flushed page still listed", dirtied)
	}

	// Commit-time snapshotting is what retires the attribution.
	bp.SnapshotCommitted([]PageID{page.Header.PageID})
	if _, dirty := page.IsDirty(); dirty {
		t.Error("page should be clean after SnapshotCommitted")
	}
	if dirtied := bp.DirtiedBy(1); len(dirtied) != 0 {
		t.Errorf("DirtiedBy(1) = %v, want empty after SnapshotCommitted", dirtied)
	}
}

func TestBufferPoolDiscardPage(t *testing.T) {
	bp, _, tableID := newTestPool(t, 10)

	page, err := bp.AllocatePage(1, tableID, PageTypeHeapData, noDeadline())
	if err != nil {
		t.Fatalf("AllocatePage() error = %v", err)
	}

	bp.DiscardPage(page.Header.PageID)

	if bp.Contains(page.Header.PageID) {
		t.Error("page should no longer be cached after DiscardPage")
	}
}

// =============================================================================
// Stats Tests
// =============================================================================

func TestBufferPoolStats(t *testing.T) {
	bp, _, tableID := newTestPool(t, 10)

	page1, _ := bp.AllocatePage(1, tableID, PageTypeHeapData, noDeadline())
	page2, _ := bp.AllocatePage(1, tableID, PageTypeHeapData, noDeadline())
	page3, _ := bp.AllocatePage(1, tableID, PageTypeHeapData, noDeadline())

	bp.MarkDirty(1, page2.Header.PageID)
	bp.MarkDirty(1, page3.Header.PageID)
	bp.Unpin(page3.Header.PageID)

	stats := bp.Stats()

	if stats.Capacity != 10 {
		t.Errorf("Capacity should be 10, got %d", stats.Capacity)
	}
	if stats.Size != 3 {
		t.Errorf("Size should be 3, got %d", stats.Size)
	}
	if stats.DirtyPages != 2 {
		t.Errorf("DirtyPages should be 2, got %d", stats.DirtyPages)
	}
	if stats.PinnedPages != 2 {
		t.Errorf("PinnedPages should be 2, got %d", stats.PinnedPages)
	}
	_ = page1
}

// =============================================================================
// Concurrency Tests
// =============================================================================

func TestBufferPoolConcurrentFetchShared(t *testing.T) {
	bp, _, tableID := newTestPool(t, 100)

	page, err := bp.AllocatePage(1, tableID, PageTypeHeapData, noDeadline())
	if err != nil {
		t.Fatalf("AllocatePage() error = %v", err)
	}
	id := page.Header.PageID
	bp.Unpin(id)
	bp.ReleaseLocks(1)

	var wg sync.WaitGroup
	numGoroutines := 10
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(txid uint64) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if _, err := bp.FetchPage(txid, id, LockShared, noDeadline()); err != nil {
					t.Errorf("FetchPage() error = %v", err)
					return
				}
				bp.Unpin(id)
			}
			bp.ReleaseLocks(txid)
		}(uint64(i + 10))
	}
	wg.Wait()
}

func TestBufferPoolConcurrentAllocate(t *testing.T) {
	bp, _, tableID := newTestPool(t, 200)

	var wg sync.WaitGroup
	numGoroutines := 10
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(txid uint64) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				page, err := bp.AllocatePage(txid, tableID, PageTypeHeapData, noDeadline())
				if err != nil {
					t.Errorf("AllocatePage() error = %v", err)
					return
				}
				bp.Unpin(page.Header.PageID)
			}
			bp.ReleaseLocks(txid)
		}(uint64(i + 100))
	}
	wg.Wait()

	if bp.Size() > bp.Capacity() {
		t.Errorf("buffer pool size %d exceeds capacity %d", bp.Size(), bp.Capacity())
	}
}

// =============================================================================
// Edge Cases
// =============================================================================

func TestBufferPoolDataIntegrity(t *testing.T) {
	bp, _, tableID := newTestPool(t, 10)

	page, err := bp.AllocatePage(1, tableID, PageTypeHeapData, noDeadline())
	if err != nil {
		t.Fatalf("AllocatePage() error = %v", err)
	}
	for i := range page.Data {
		page.Data[i] = byte(i % 256)
	}

	fetched, err := bp.FetchPage(1, page.Header.PageID, LockExclusive, noDeadline())
	if err != nil {
		t.Fatalf("FetchPage() error = %v", err)
	}

	for i := range fetched.Data {
		if fetched.Data[i] != byte(i%256) {
			t.Fatalf("data mismatch at index %d: got %d, want %d", i, fetched.Data[i], byte(i%256))
		}
	}
}
