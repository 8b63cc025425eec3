// Package storage provides the core storage engine components for txcore,
// a transactional page store built around a write-ahead log.
//
// # Overview
//
// The package implements the machinery a transactional engine needs under
// its tuple-access surface:
//
//   - Fixed-size page I/O over per-table backing files (PageStore)
//   - Page images carrying a before-image snapshot and dirty-transaction tag
//   - A page-granularity shared/exclusive lock table with deadlock detection
//   - A bounded buffer pool with LRU eviction and WAL-ordered flushing
//   - An append-only write-ahead log with full before/after page images
//   - Single-transaction rollback and checkpoint-anchored crash recovery
//
// # Page Files
//
// Each table is backed by one file. Heap files are a flat sequence of
// page-size blocks addressed as n * PageSize; B+-tree files reserve a
// leading root-pointer block, so page n lives at RootPtrSize + (n-1) *
// PageSize. Page 0 is the file header (magic, version, free-list head).
//
//	store, _ := storage.OpenPageStore(dir, storage.DefaultPageStoreOptions())
//	store.OpenTable(1, storage.TableKindHeap)
//	page, err := store.ReadPage(storage.PageID{TableID: 1, PageNumber: 3})
//
// # Locking
//
// Every page access goes through the LockManager. Acquisition is a
// cooperative spin: a blocked waiter records wait-for edges to the current
// holders, checks the graph for a cycle through itself, and aborts with
// ErrTransactionAborted when it finds one or when its deadline passes.
// Locks are strict two-phase: they are only ever released all at once, at
// commit or abort.
//
// # Write-Ahead Logging
//
// The WAL rule is enforced at every dirty-page flush, with no exception:
// an Update record carrying the page's full before- and after-image is
// appended and forced before the page bytes reach the page store. Commit
// appends and forces a Commit record after the transaction's pages are
// flushed; only then are the pages' before-image snapshots advanced.
//
// # Recovery
//
// Recovery is a single forward scan anchored at the log header's
// last-checkpoint offset. Every Update record is redone as it is read;
// transactions still open when the scan reaches the tail are losers and
// are rolled back with the same before-image algorithm a live abort uses.
//
//	rec := storage.NewRecovery(wal, store, pool)
//	if err := rec.Recover(); err != nil { ... }
//
// # Errors
//
// Failures surface as one of the sentinel kinds in errors.go
// (ErrTransactionAborted, ErrDbError, ErrIoError, ErrOutOfBufferSpace),
// wrapped with context at each call boundary; dispatch with errors.Is.
package storage
