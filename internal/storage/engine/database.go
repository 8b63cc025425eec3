// Package engine wires together the storage core's individual components
// into the single programmatic surface a caller actually drives: a
// Database that begins and ends transactions, hands out locked pages, and
// recovers from an unclean shutdown.
package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/KilimcininKorOglu/txcore/internal/logging"
	"github.com/KilimcininKorOglu/txcore/internal/storage"
	"github.com/KilimcininKorOglu/txcore/internal/storage/tx"
)

// Errors returned directly by the Database facade, as opposed to errors
// passed through unwrapped from the components it wires together.
var (
	ErrDatabaseClosed = fmt.Errorf("%w: database is closed", storage.ErrDbError)
	ErrTxNotFound     = fmt.Errorf("%w: transaction not found", storage.ErrDbError)
)

// defaultWALFileName is used when EngineOptions.WALPath is left empty.
const defaultWALFileName = "wal.log"

// Database is the storage engine's entry point (spec's programmatic
// surface): Begin/Commit/Abort drive the transaction lifecycle, GetPage
// exposes locked page access directly, and InsertTuple/DeleteTuple
// delegate to the table file through GetPage for the pages they touch.
// Recover and Checkpoint are the two log-anchored maintenance operations.
type Database struct {
	opts       storage.EngineOptions
	instanceID uuid.UUID

	store *storage.PageStore
	wal   *storage.WAL
	locks *storage.LockManager
	pool  *storage.BufferPool
	txMgr *tx.TxManager
	ckpt  *storage.CheckpointManager
	log   logging.Logger

	mu         sync.Mutex
	tableKinds map[storage.TableID]storage.TableKind
	closed     bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// Open opens (creating if necessary) a Database rooted at opts.DataDir.
// It does not run recovery: callers that are reopening a data directory
// that may have crashed mid-transaction must call Recover before
// beginning new transactions (see Recover).
func Open(opts storage.EngineOptions) (*Database, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	if opts.CreateIfNotExists && !opts.ReadOnly {
		if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("%w: failed to create data directory: %v", storage.ErrIoError, err)
		}
	}

	walPath := opts.WALPath
	if walPath == "" {
		walPath = filepath.Join(opts.DataDir, defaultWALFileName)
	}

	wal, err := storage.OpenWAL(walPath)
	if err != nil {
		return nil, err
	}

	store, err := storage.OpenPageStore(opts.DataDir, storage.PageStoreOptions{
		PageSize:     opts.PageSize,
		InitialPages: opts.InitialPages,
		SyncOnWrite:  opts.SyncOnWrite,
		ReadOnly:     opts.ReadOnly,
	})
	if err != nil {
		wal.Close()
		return nil, err
	}

	locks := storage.NewLockManagerWithTimeout(opts.LockTimeout)
	pool := storage.NewBufferPool(opts.BufferPoolSize, store, locks, wal)
	txMgr := tx.NewTxManager(wal, store, pool)
	ckpt := storage.NewCheckpointManager(wal, store, pool)
	ckpt.SetActiveTxCallback(txMgr.ActiveTxEntries)
	ckpt.SetCheckpointInterval(opts.CheckpointInterval)

	db := &Database{
		opts:       opts,
		instanceID: uuid.New(),
		store:      store,
		wal:        wal,
		locks:      locks,
		pool:       pool,
		txMgr:      txMgr,
		ckpt:       ckpt,
		log:        logging.NewDefault(),
		tableKinds: make(map[storage.TableID]storage.TableKind),
		stopCh:     make(chan struct{}),
	}

	db.log.Info("database opened", "instance", db.instanceID.String(), "data_dir", opts.DataDir)
	return db, nil
}

// InstanceID returns the UUID this Database instance was tagged with at
// Open time, used to disambiguate log lines when a process holds more
// than one Database open at once.
func (db *Database) InstanceID() uuid.UUID {
	return db.instanceID
}

// SetLogger replaces the database's logger. Intended for callers that
// want engine lifecycle events folded into their own structured log
// stream instead of the default stdout logger.
func (db *Database) SetLogger(l logging.Logger) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.log = l
}

// CreateBTreeTable registers tableID as backed by a B+-tree file rather
// than the default heap layout, before it is first touched. Calling this
// for a table id that has already been touched as a heap table has no
// effect on the already-open file.
func (db *Database) CreateBTreeTable(tableID storage.TableID) error {
	db.mu.Lock()
	db.tableKinds[tableID] = storage.TableKindBTree
	db.mu.Unlock()

	_, err := db.store.OpenTable(tableID, storage.TableKindBTree)
	return err
}

// ensureTable lazily opens tableID's backing file, defaulting to a heap
// layout the first time any table id is touched. A real catalog would
// map table ids to kinds ahead of time; this is the minimal stand-in
// that lets the engine drive GetPage/InsertTuple/DeleteTuple against a
// table it has never seen before.
func (db *Database) ensureTable(tableID storage.TableID) (*storage.TableFile, error) {
	db.mu.Lock()
	kind, known := db.tableKinds[tableID]
	if !known {
		kind = storage.TableKindHeap
		db.tableKinds[tableID] = kind
	}
	db.mu.Unlock()

	return db.store.OpenTable(tableID, kind)
}

func (db *Database) activeTx(txid uint64) (*tx.Transaction, error) {
	t := db.txMgr.GetTransaction(txid)
	if t == nil {
		return nil, fmt.Errorf("%w: %d", ErrTxNotFound, txid)
	}
	return t, nil
}

// Begin starts a new transaction and returns its id.
func (db *Database) Begin() (uint64, error) {
	t, err := db.txMgr.Begin()
	if err != nil {
		return 0, err
	}
	db.log.Debug("begin", "txid", t.ID)
	return t.ID, nil
}

// Commit commits txid: every page it dirtied is flushed WAL-then-data,
// a COMMIT record is forced, and its locks are released.
func (db *Database) Commit(txid uint64) error {
	t, err := db.activeTx(txid)
	if err != nil {
		return err
	}
	if err := db.txMgr.Commit(t); err != nil {
		db.log.Warn("commit failed", "txid", txid, "error", err.Error())
		return err
	}
	db.log.Debug("commit", "txid", txid)
	return nil
}

// Abort rolls txid back to its before-images and releases its locks.
func (db *Database) Abort(txid uint64) error {
	t, err := db.activeTx(txid)
	if err != nil {
		return err
	}
	if err := db.txMgr.Rollback(t); err != nil {
		db.log.Warn("abort failed", "txid", txid, "error", err.Error())
		return err
	}
	db.log.Debug("abort", "txid", txid)
	return nil
}

// GetPage acquires mode on (tableID, pageNumber) on behalf of txid and
// returns the page. Exclusive acquisitions are recorded in the
// transaction's write set; the caller is still responsible for calling
// MarkDirty once it has actually written into the page, since acquiring
// an exclusive lock for a read-modify-write is legal without a
// subsequent write ever happening.
func (db *Database) GetPage(txid uint64, tableID storage.TableID, pageNumber uint64, mode storage.LockMode) (*storage.Page, error) {
	t, err := db.activeTx(txid)
	if err != nil {
		return nil, err
	}
	if _, err := db.ensureTable(tableID); err != nil {
		return nil, err
	}

	pageID := storage.PageID{TableID: tableID, PageNumber: pageNumber}
	page, err := db.pool.FetchPage(txid, pageID, mode, t.Deadline(db.opts.LockTimeout))
	if err != nil {
		return nil, err
	}
	if mode == storage.LockExclusive {
		t.AddToWriteSet(pageID)
	}
	return page, nil
}

// MarkDirty tags pageID as dirtied by txid, after the caller has written
// its change into the page returned by GetPage.
func (db *Database) MarkDirty(txid uint64, pageID storage.PageID) error {
	return db.pool.MarkDirty(txid, pageID)
}

// InsertTuple appends tuple to the first page of tableID with enough
// free space, allocating a fresh page if none has room, and returns the
// handle needed to delete it later. The scan for a page with space and
// the eventual write both go through GetPage/MarkDirty, exactly as any
// other caller of the narrow tuple-access interface would.
func (db *Database) InsertTuple(txid uint64, tableID storage.TableID, tuple []byte) (TupleID, error) {
	t, err := db.activeTx(txid)
	if err != nil {
		return TupleID{}, err
	}
	if _, err := db.ensureTable(tableID); err != nil {
		return TupleID{}, err
	}

	total, err := db.store.TableTotalPages(tableID)
	if err != nil {
		return TupleID{}, err
	}

	deadline := t.Deadline(db.opts.LockTimeout)

	for pageNumber := uint64(1); pageNumber < total; pageNumber++ {
		pageID := storage.PageID{TableID: tableID, PageNumber: pageNumber}
		page, err := db.pool.FetchPage(txid, pageID, storage.LockExclusive, deadline)
		if err != nil {
			return TupleID{}, err
		}

		if page.Header.PageType == storage.PageTypeFree {
			continue
		}

		offset, ok := appendTupleToPage(page, tuple)
		if !ok {
			continue
		}

		t.AddToWriteSet(pageID)
		if err := db.pool.MarkDirty(txid, pageID); err != nil {
			return TupleID{}, err
		}
		return TupleID{PageID: pageID, Offset: offset}, nil
	}

	page, err := db.pool.AllocatePage(txid, tableID, storage.PageTypeHeapData, deadline)
	if err != nil {
		return TupleID{}, err
	}

	offset, ok := appendTupleToPage(page, tuple)
	if !ok {
		return TupleID{}, fmt.Errorf("%w: tuple does not fit in an empty page", storage.ErrDbError)
	}

	t.AddToWriteSet(page.Header.PageID)
	if err := db.pool.MarkDirty(txid, page.Header.PageID); err != nil {
		return TupleID{}, err
	}
	return TupleID{PageID: page.Header.PageID, Offset: offset}, nil
}

// DeleteTuple tombstones the tuple id refers to. The space it occupied
// is reclaimed only by a later compaction pass, matching the table
// file's own allocation policy (see freelist.go).
func (db *Database) DeleteTuple(txid uint64, id TupleID) error {
	t, err := db.activeTx(txid)
	if err != nil {
		return err
	}

	deadline := t.Deadline(db.opts.LockTimeout)
	page, err := db.pool.FetchPage(txid, id.PageID, storage.LockExclusive, deadline)
	if err != nil {
		return err
	}

	if err := tombstoneAt(page, id.Offset); err != nil {
		return err
	}

	t.AddToWriteSet(id.PageID)
	return db.pool.MarkDirty(txid, id.PageID)
}

// ScanTable returns every live tuple currently stored in tableID, in
// page order. This sits outside the storage core proper (query
// execution is explicitly out of scope) but is the minimal reader
// needed to observe what InsertTuple/DeleteTuple actually did, built
// entirely on top of GetPage like any other consumer of the narrow
// tuple-access interface would be.
func (db *Database) ScanTable(txid uint64, tableID storage.TableID) ([][]byte, error) {
	t, err := db.activeTx(txid)
	if err != nil {
		return nil, err
	}
	if _, err := db.ensureTable(tableID); err != nil {
		return nil, err
	}

	total, err := db.store.TableTotalPages(tableID)
	if err != nil {
		return nil, err
	}

	deadline := t.Deadline(db.opts.LockTimeout)
	var tuples [][]byte

	for pageNumber := uint64(1); pageNumber < total; pageNumber++ {
		pageID := storage.PageID{TableID: tableID, PageNumber: pageNumber}
		page, err := db.pool.FetchPage(txid, pageID, storage.LockShared, deadline)
		if err != nil {
			return nil, err
		}
		if page.Header.PageType == storage.PageTypeFree {
			continue
		}

		rows, err := scanPageTuples(page)
		if err != nil {
			return nil, err
		}
		tuples = append(tuples, rows...)
	}

	return tuples, nil
}

// Recover runs crash recovery: a single forward scan over the log that
// redoes every Update record and then rolls back whatever transaction
// is still active at the end of the scan. It must be called before any
// new transaction begins against a data directory that was not closed
// cleanly; it is harmless (a no-op past the checkpoint) to call it
// against a cleanly closed one too, since the log is idempotent.
func (db *Database) Recover() error {
	if err := db.reopenExistingTables(); err != nil {
		return err
	}

	rec := storage.NewRecovery(db.wal, db.store, db.pool)
	if err := rec.Recover(); err != nil {
		return fmt.Errorf("recovery failed: %w", err)
	}

	losers := rec.LastActiveTransactions()
	db.log.Info("recovery complete", "instance", db.instanceID.String(), "losers_rolled_back", len(losers))
	return nil
}

// reopenExistingTables opens every table file already present in the data
// directory before the redo scan runs. The WAL's Update records carry
// page ids but not the owning file's table kind, and PageStore refuses
// to read or write a table it has not opened; since a preexisting file's
// own header records its real kind, the kind passed here is only a
// placeholder used for a brand-new file; recovery never creates one.
func (db *Database) reopenExistingTables() error {
	entries, err := os.ReadDir(db.opts.DataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: failed to scan data directory: %v", storage.ErrIoError, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "table_") || !strings.HasSuffix(name, ".dat") {
			continue
		}

		idStr := strings.TrimSuffix(strings.TrimPrefix(name, "table_"), ".dat")
		id, err := strconv.ParseUint(idStr, 10, 32)
		if err != nil {
			continue
		}

		if _, err := db.ensureTable(storage.TableID(id)); err != nil {
			return err
		}
	}
	return nil
}

// Checkpoint forces every dirty buffer to disk and writes a checkpoint
// record naming the transactions still active, bounding how far back a
// future Recover has to scan.
func (db *Database) Checkpoint() error {
	return db.ckpt.Checkpoint()
}

// StartPeriodicCheckpoints launches the optional background goroutine
// that calls Checkpoint on the configured CheckpointInterval. It is not
// started by Open; callers that want it must request it explicitly.
// Calling it twice on the same Database has no additional effect.
func (db *Database) StartPeriodicCheckpoints() {
	db.stopOnce.Do(func() {
		go db.ckpt.RunPeriodically(db.stopCh)
	})
}

// Close stops the periodic-checkpoint goroutine if running and closes
// the log and every open table file.
func (db *Database) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	db.mu.Unlock()

	select {
	case <-db.stopCh:
	default:
		close(db.stopCh)
	}

	var firstErr error
	if err := db.store.Close(); err != nil {
		firstErr = err
	}
	if err := db.wal.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	db.log.Info("database closed", "instance", db.instanceID.String())
	return firstErr
}

// ActiveTransactionCount returns the number of transactions currently
// active, for diagnostics.
func (db *Database) ActiveTransactionCount() int {
	return db.txMgr.ActiveCount()
}
