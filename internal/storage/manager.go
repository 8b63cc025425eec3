// Package storage provides the core storage engine components for txcore.
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Default options for a table file.
const (
	DefaultPageSize     = PageSize
	DefaultInitialPages = 16
	MinGrowthPages      = 8
)

// Errors for page store operations.
var (
	ErrFileNotOpen      = errors.New("file not open")
	ErrInvalidPageID    = errors.New("invalid page ID")
	ErrPageOutOfRange   = errors.New("page ID out of range")
	ErrNoFreePages      = errors.New("no free pages available")
	ErrPageAlreadyFree  = errors.New("page is already free")
	ErrCannotFreeHeader = errors.New("cannot free header page")
	ErrFileClosed       = errors.New("page store is closed")
	ErrFileExists       = errors.New("file already exists")
	ErrFileCorrupted    = errors.New("file is corrupted")
	ErrUnknownTable     = errors.New("unknown table id")
)

// TableFileOptions configures a single table file.
type TableFileOptions struct {
	PageSize     int
	InitialPages int
	CreateIfNew  bool
	ReadOnly     bool
	SyncOnWrite  bool
	Kind         TableKind
}

// DefaultTableFileOptions returns the default table file options.
func DefaultTableFileOptions() TableFileOptions {
	return TableFileOptions{
		PageSize:     DefaultPageSize,
		InitialPages: DefaultInitialPages,
		CreateIfNew:  true,
		Kind:         TableKindHeap,
	}
}

// TableFile is a per-table backing store: it computes the byte
// offset for a page number using the table's kind-specific formula and
// reads or writes exactly one page at a time. It does no caching — that
// is the buffer pool's job.
type TableFile struct {
	file        *os.File
	header      *FileHeader
	pageSize    int
	totalPages  uint64
	freeList    *FreeList
	mu          sync.RWMutex
	path        string
	tableID     TableID
	kind        TableKind
	rootPtrSize uint64
	readOnly    bool
	syncOnWrite bool
	closed      bool
}

// OpenTableFile opens or creates a table file for the given table id.
func OpenTableFile(path string, tableID TableID, opts TableFileOptions) (*TableFile, error) {
	if opts.PageSize == 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.InitialPages == 0 {
		opts.InitialPages = DefaultInitialPages
	}

	tf := &TableFile{
		pageSize:    opts.PageSize,
		freeList:    NewFreeList(),
		path:        path,
		tableID:     tableID,
		kind:        opts.Kind,
		readOnly:    opts.ReadOnly,
		syncOnWrite: opts.SyncOnWrite,
	}

	_, err := os.Stat(path)
	fileExists := err == nil

	if !fileExists && !opts.CreateIfNew {
		return nil, os.ErrNotExist
	}

	var flags int
	if opts.ReadOnly {
		flags = os.O_RDONLY
	} else {
		flags = os.O_RDWR
		if !fileExists {
			flags |= os.O_CREATE
		}
	}

	tf.file, err = os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open table file: %v", ErrIoError, err)
	}

	if fileExists {
		if err := tf.loadExisting(); err != nil {
			tf.file.Close()
			return nil, err
		}
	} else {
		if err := tf.initializeNew(opts.InitialPages, opts.Kind); err != nil {
			tf.file.Close()
			os.Remove(path)
			return nil, err
		}
	}

	return tf, nil
}

func (tf *TableFile) loadExisting() error {
	headerBuf := make([]byte, FileHeaderSize)
	if _, err := tf.file.ReadAt(headerBuf, 0); err != nil {
		return fmt.Errorf("%w: failed to read header: %v", ErrIoError, err)
	}

	tf.header = &FileHeader{}
	if err := tf.header.DeserializeAndValidate(headerBuf); err != nil {
		return fmt.Errorf("%w: invalid header: %v", ErrFileCorrupted, err)
	}

	tf.totalPages = tf.header.TotalPages
	tf.pageSize = int(tf.header.PageSize)
	tf.kind = tf.header.Kind
	tf.rootPtrSize = tf.header.RootPtrSize

	return tf.loadFreeList()
}

func (tf *TableFile) loadFreeList() error {
	tf.freeList = NewFreeList()

	if tf.header.FreeListHead == 0 {
		return nil
	}

	tf.freeList.SetHead(tf.header.FreeListHead)

	var pages []*Page
	current := tf.header.FreeListHead

	for current != 0 {
		page, err := tf.readPageInternal(current)
		if err != nil {
			return err
		}
		pages = append(pages, page)
		current = GetNextPageNumber(page)
	}

	return tf.freeList.LoadFromPages(pages)
}

func (tf *TableFile) initializeNew(initialPages int, kind TableKind) error {
	if initialPages < 1 {
		initialPages = 1
	}

	tf.header = NewFileHeader()
	tf.header.Kind = kind
	if kind == TableKindBTree {
		tf.header.RootPtrSize = DefaultRootPtrSize
	}
	tf.header.PageSize = uint32(tf.pageSize)
	tf.header.TotalPages = uint64(initialPages)
	tf.totalPages = uint64(initialPages)
	tf.rootPtrSize = tf.header.RootPtrSize

	headerBuf, err := tf.header.Serialize()
	if err != nil {
		return fmt.Errorf("failed to serialize header: %w", err)
	}

	if _, err := tf.file.WriteAt(headerBuf, 0); err != nil {
		return fmt.Errorf("%w: failed to write header: %v", ErrIoError, err)
	}

	for i := 1; i < initialPages; i++ {
		tf.freeList.Push(uint64(i))
	}

	fileSize := tf.byteOffset(uint64(initialPages))
	if err := tf.file.Truncate(fileSize); err != nil {
		return fmt.Errorf("%w: failed to extend file: %v", ErrIoError, err)
	}

	if err := tf.file.Sync(); err != nil {
		return fmt.Errorf("%w: failed to sync file: %v", ErrIoError, err)
	}

	return nil
}

// byteOffset computes the file offset of the page boundary at page number n
// (i.e. the offset at which page n would start), per the two formulas C1
// supports: heap files are a flat sequence of page-size blocks, indexed
// from page 0 (the header page); B+-tree files reserve a leading
// root-pointer block before page 1.
func (tf *TableFile) byteOffset(n uint64) int64 {
	if tf.kind == TableKindBTree && n >= 1 {
		return int64(tf.rootPtrSize) + int64(n-1)*int64(tf.pageSize)
	}
	return int64(n) * int64(tf.pageSize)
}

// Close closes the table file and flushes its free list and header.
func (tf *TableFile) Close() error {
	tf.mu.Lock()
	defer tf.mu.Unlock()

	if tf.closed {
		return ErrFileClosed
	}
	tf.closed = true

	if tf.file == nil {
		return nil
	}

	if !tf.readOnly {
		if err := tf.saveFreeListLocked(); err != nil {
			tf.file.Close()
			return fmt.Errorf("failed to save free list: %w", err)
		}
		if err := tf.saveHeaderLocked(); err != nil {
			tf.file.Close()
			return fmt.Errorf("failed to save header: %w", err)
		}
		if err := tf.file.Sync(); err != nil {
			tf.file.Close()
			return fmt.Errorf("%w: failed to sync: %v", ErrIoError, err)
		}
	}

	return tf.file.Close()
}

func (tf *TableFile) saveFreeListLocked() error {
	freePages := tf.freeList.PeekAll()
	if len(freePages) == 0 {
		tf.header.FreeListHead = 0
		return nil
	}

	numPagesNeeded := (len(freePages) + MaxFreeListEntriesPerPage - 1) / MaxFreeListEntriesPerPage

	currentFilePages := tf.totalPages
	freeListStartPage := currentFilePages

	newTotalPages := currentFilePages + uint64(numPagesNeeded)
	fileSize := tf.byteOffset(newTotalPages)
	if err := tf.file.Truncate(fileSize); err != nil {
		return err
	}

	tf.totalPages = newTotalPages
	tf.header.TotalPages = newTotalPages

	var prevPageNumber uint64
	for i := numPagesNeeded - 1; i >= 0; i-- {
		pageNumber := freeListStartPage + uint64(i)
		page := NewPage(PageID{TableID: tf.tableID, PageNumber: pageNumber}, PageTypeFree)

		entriesPerPage := MaxFreeListEntriesPerPage
		pageStartIdx := i * entriesPerPage
		pageEndIdx := pageStartIdx + entriesPerPage
		if pageEndIdx > len(freePages) {
			pageEndIdx = len(freePages)
		}

		entriesWritten := 0
		for j := pageStartIdx; j < pageEndIdx; j++ {
			offset := 8 + entriesWritten*FreeListEntrySize
			binary.LittleEndian.PutUint64(page.Data[offset:offset+FreeListEntrySize], freePages[j])
			entriesWritten++
		}

		page.Header.ItemCount = uint16(entriesWritten)
		SetNextPageNumber(page, prevPageNumber)

		if err := tf.writePageInternal(page); err != nil {
			return err
		}

		prevPageNumber = pageNumber
	}

	tf.header.FreeListHead = prevPageNumber
	tf.freeList.SetHead(prevPageNumber)

	return nil
}

func (tf *TableFile) saveHeaderLocked() error {
	tf.header.TotalPages = tf.totalPages
	headerBuf, err := tf.header.Serialize()
	if err != nil {
		return err
	}
	_, err = tf.file.WriteAt(headerBuf, 0)
	return err
}

// AllocatePage allocates a new page of the specified type, reusing a free
// page number if one is available.
func (tf *TableFile) AllocatePage(pageType PageType) (PageID, error) {
	tf.mu.Lock()
	defer tf.mu.Unlock()

	if tf.closed {
		return PageID{}, ErrFileClosed
	}
	if tf.readOnly {
		return PageID{}, errors.New("cannot allocate page in read-only mode")
	}

	if pageNumber, ok := tf.freeList.Pop(); ok {
		id := PageID{TableID: tf.tableID, PageNumber: pageNumber}
		page := NewPage(id, pageType)
		if err := tf.writePageInternal(page); err != nil {
			tf.freeList.Push(pageNumber)
			return PageID{}, err
		}
		return id, nil
	}

	newPageNumber := tf.totalPages
	if err := tf.growFileLocked(1); err != nil {
		return PageID{}, err
	}

	id := PageID{TableID: tf.tableID, PageNumber: newPageNumber}
	page := NewPage(id, pageType)
	if err := tf.writePageInternal(page); err != nil {
		return PageID{}, err
	}

	return id, nil
}

func (tf *TableFile) growFileLocked(numPages int) error {
	if numPages < MinGrowthPages {
		numPages = MinGrowthPages
	}

	newTotalPages := tf.totalPages + uint64(numPages)
	fileSize := tf.byteOffset(newTotalPages)

	if err := tf.file.Truncate(fileSize); err != nil {
		return fmt.Errorf("%w: failed to grow file: %v", ErrIoError, err)
	}

	oldTotal := tf.totalPages
	tf.totalPages = newTotalPages
	tf.header.TotalPages = newTotalPages

	for i := oldTotal + 1; i < newTotalPages; i++ {
		tf.freeList.Push(i)
	}

	return nil
}

// FreePage marks a page number as free for reuse. Per the engine's
// page-reclamation policy, this is never called from the rollback path:
// aborted allocations remain allocated until an explicit later call.
func (tf *TableFile) FreePage(pageNumber uint64) error {
	tf.mu.Lock()
	defer tf.mu.Unlock()

	if tf.closed {
		return ErrFileClosed
	}
	if tf.readOnly {
		return errors.New("cannot free page in read-only mode")
	}
	if pageNumber == 0 {
		return ErrCannotFreeHeader
	}
	if pageNumber >= tf.totalPages {
		return ErrPageOutOfRange
	}
	if tf.freeList.Contains(pageNumber) {
		return ErrPageAlreadyFree
	}

	page := NewPage(PageID{TableID: tf.tableID, PageNumber: pageNumber}, PageTypeFree)
	if err := tf.writePageInternal(page); err != nil {
		return err
	}

	tf.freeList.Push(pageNumber)
	return nil
}

// ReadPage reads a page from disk. A short read at EOF is an I/O error,
// not a silent zero page: callers treat an out-of-range page number as
// "page does not exist" only when it exceeds TotalPages; a page number
// within range that short-reads indicates file corruption.
func (tf *TableFile) ReadPage(pageNumber uint64) (*Page, error) {
	tf.mu.RLock()
	defer tf.mu.RUnlock()

	if tf.closed {
		return nil, ErrFileClosed
	}
	return tf.readPageInternal(pageNumber)
}

func (tf *TableFile) readPageInternal(pageNumber uint64) (*Page, error) {
	if pageNumber == 0 {
		return nil, ErrInvalidPageID
	}
	if pageNumber >= tf.totalPages {
		return nil, fmt.Errorf("%w: page %d past end of file", ErrIoError, pageNumber)
	}

	offset := tf.byteOffset(pageNumber)
	buf := make([]byte, tf.pageSize)

	n, err := tf.file.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: failed to read page %d: %v", ErrIoError, pageNumber, err)
	}
	if n < tf.pageSize {
		return nil, fmt.Errorf("%w: incomplete page read: got %d bytes, expected %d", ErrIoError, n, tf.pageSize)
	}

	page := &Page{}
	if err := page.Deserialize(buf); err != nil {
		return nil, fmt.Errorf("%w: failed to deserialize page %d: %v", ErrIoError, pageNumber, err)
	}

	// A page in the file's pre-allocated, never-written region reads back
	// all zeros; stamp the identity it was addressed by so a later write
	// of the same image lands where it came from. The snapshot header
	// gets the same stamp: it was seeded from the zero header just above.
	if page.Header.PageID == (PageID{}) {
		page.Header.PageID = PageID{TableID: tf.tableID, PageNumber: pageNumber}
		page.beforeHeader.PageID = page.Header.PageID
	}

	return page, nil
}

// WritePage writes a page to disk.
func (tf *TableFile) WritePage(page *Page) error {
	tf.mu.Lock()
	defer tf.mu.Unlock()

	if tf.closed {
		return ErrFileClosed
	}
	if tf.readOnly {
		return errors.New("cannot write page in read-only mode")
	}

	return tf.writePageInternal(page)
}

func (tf *TableFile) writePageInternal(page *Page) error {
	pageNumber := page.Header.PageID.PageNumber
	if pageNumber == 0 {
		return ErrInvalidPageID
	}
	if pageNumber >= tf.totalPages {
		return ErrPageOutOfRange
	}

	offset := tf.byteOffset(pageNumber)

	buf, err := page.Serialize()
	if err != nil {
		return fmt.Errorf("failed to serialize page: %w", err)
	}

	if _, err := tf.file.WriteAt(buf, offset); err != nil {
		return fmt.Errorf("%w: failed to write page %d: %v", ErrIoError, pageNumber, err)
	}

	if tf.syncOnWrite {
		if err := tf.file.Sync(); err != nil {
			return fmt.Errorf("%w: failed to sync after write: %v", ErrIoError, err)
		}
	}

	return nil
}

// Sync flushes all pending writes to disk.
func (tf *TableFile) Sync() error {
	tf.mu.Lock()
	defer tf.mu.Unlock()

	if tf.closed {
		return ErrFileClosed
	}
	if tf.file == nil {
		return ErrFileNotOpen
	}

	if !tf.readOnly {
		if err := tf.saveHeaderLocked(); err != nil {
			return err
		}
	}

	if err := tf.file.Sync(); err != nil {
		return fmt.Errorf("%w: %v", ErrIoError, err)
	}
	return nil
}

// TotalPages returns the total number of pages in the file.
func (tf *TableFile) TotalPages() uint64 {
	tf.mu.RLock()
	defer tf.mu.RUnlock()
	return tf.totalPages
}

// PageSize returns the page size in bytes.
func (tf *TableFile) PageSize() int { return tf.pageSize }

// Path returns the file path.
func (tf *TableFile) Path() string { return tf.path }

// TableFileStats describes a table file's allocation state.
type TableFileStats struct {
	TotalPages uint64
	FreePages  uint64
	UsedPages  uint64
}

// Stats returns current statistics.
func (tf *TableFile) Stats() TableFileStats {
	tf.mu.RLock()
	defer tf.mu.RUnlock()

	freeCount := tf.freeList.Count()
	return TableFileStats{
		TotalPages: tf.totalPages,
		FreePages:  freeCount,
		UsedPages:  tf.totalPages - freeCount - 1,
	}
}

// PageStoreOptions configures a PageStore's table files.
type PageStoreOptions struct {
	PageSize     int
	InitialPages int
	SyncOnWrite  bool
	ReadOnly     bool
}

// DefaultPageStoreOptions returns sensible defaults.
func DefaultPageStoreOptions() PageStoreOptions {
	return PageStoreOptions{
		PageSize:     DefaultPageSize,
		InitialPages: DefaultInitialPages,
	}
}

// PageStore opens one table file per table id under a data
// directory and serves ReadPage/WritePage/AllocatePage requests against
// the correct file. It performs no caching of its own.
type PageStore struct {
	dir    string
	opts   PageStoreOptions
	mu     sync.Mutex
	tables map[TableID]*TableFile
}

// OpenPageStore opens a page store rooted at dir, creating it if needed.
func OpenPageStore(dir string, opts PageStoreOptions) (*PageStore, error) {
	if opts.PageSize == 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.InitialPages == 0 {
		opts.InitialPages = DefaultInitialPages
	}
	if !opts.ReadOnly {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIoError, err)
		}
	}
	return &PageStore{
		dir:    dir,
		opts:   opts,
		tables: make(map[TableID]*TableFile),
	}, nil
}

func (ps *PageStore) tablePath(id TableID) string {
	return filepath.Join(ps.dir, fmt.Sprintf("table_%d.dat", id))
}

// OpenTable lazily opens (creating if necessary) the table file for id.
func (ps *PageStore) OpenTable(id TableID, kind TableKind) (*TableFile, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if tf, ok := ps.tables[id]; ok {
		return tf, nil
	}

	tfOpts := TableFileOptions{
		PageSize:     ps.opts.PageSize,
		InitialPages: ps.opts.InitialPages,
		CreateIfNew:  !ps.opts.ReadOnly,
		ReadOnly:     ps.opts.ReadOnly,
		SyncOnWrite:  ps.opts.SyncOnWrite,
		Kind:         kind,
	}

	tf, err := OpenTableFile(ps.tablePath(id), id, tfOpts)
	if err != nil {
		return nil, err
	}

	ps.tables[id] = tf
	return tf, nil
}

func (ps *PageStore) table(id TableID) (*TableFile, error) {
	ps.mu.Lock()
	tf, ok := ps.tables[id]
	ps.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTable, id)
	}
	return tf, nil
}

// ReadPage reads a page by PageID. The table must have been opened via
// OpenTable first (the catalog, out of scope here, is responsible for
// mapping table ids to kinds before first use).
func (ps *PageStore) ReadPage(id PageID) (*Page, error) {
	tf, err := ps.table(id.TableID)
	if err != nil {
		return nil, err
	}
	return tf.ReadPage(id.PageNumber)
}

// WritePage writes a page by its embedded PageID.
func (ps *PageStore) WritePage(page *Page) error {
	tf, err := ps.table(page.Header.PageID.TableID)
	if err != nil {
		return err
	}
	return tf.WritePage(page)
}

// AllocatePage allocates a new page in the given table.
func (ps *PageStore) AllocatePage(tableID TableID, pageType PageType) (PageID, error) {
	tf, err := ps.table(tableID)
	if err != nil {
		return PageID{}, err
	}
	return tf.AllocatePage(pageType)
}

// TableTotalPages returns the number of pages allocated in the given
// table's file, including its header page (page 0).
func (ps *PageStore) TableTotalPages(id TableID) (uint64, error) {
	tf, err := ps.table(id)
	if err != nil {
		return 0, err
	}
	return tf.TotalPages(), nil
}

// FreePage frees a page number within the given table.
func (ps *PageStore) FreePage(id PageID) error {
	tf, err := ps.table(id.TableID)
	if err != nil {
		return err
	}
	return tf.FreePage(id.PageNumber)
}

// Sync flushes every open table file to disk.
func (ps *PageStore) Sync() error {
	ps.mu.Lock()
	tables := make([]*TableFile, 0, len(ps.tables))
	for _, tf := range ps.tables {
		tables = append(tables, tf)
	}
	ps.mu.Unlock()

	for _, tf := range tables {
		if err := tf.Sync(); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every open table file.
func (ps *PageStore) Close() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	var firstErr error
	for _, tf := range ps.tables {
		if err := tf.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

