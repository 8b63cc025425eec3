// Package storage provides the core storage engine components for txcore.
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// WAL file layout constants.
const (
	// walHeaderSize is the size of the log file's own header: a single
	// int64 holding the offset of the most recent checkpoint record, or
	// -1 if none has been taken yet. This is distinct from a table
	// file's own header.
	walHeaderSize = 8

	noCheckpoint int64 = -1
)

// WAL errors.
var (
	ErrWALClosed      = errors.New("WAL is closed")
	ErrWALCorrupted   = errors.New("WAL file is corrupted")
	ErrWALInvalidLSN  = errors.New("invalid LSN")
	ErrWALReadPastEnd = errors.New("read past end of WAL")
)

// WAL is the engine's log writer. Every record is framed as a 4-byte type tag, a
// type-specific payload, and an 8-byte trailer repeating the record's own
// start offset (its LSN). Update records embed the size of their page
// images, and Checkpoint records an active-transaction count, so a reader
// can recover record boundaries from the stream alone; the trailer is the
// backward-chain pointer and a sanity check that the framing held.
type WAL struct {
	file   *os.File
	path   string
	mu     sync.Mutex
	closed bool

	tailOffset           int64
	lastCheckpointOffset int64

	// firstOffset maps an active transaction to the offset of its Begin
	// record, populated as transactions begin during live operation.
	// Recovery maintains its own copy while scanning a crashed log.
	firstOffset map[uint64]int64
}

// OpenWAL opens or creates a WAL file at the given path.
func OpenWAL(path string) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}

	w := &WAL{
		file:        file,
		path:        path,
		firstOffset: make(map[uint64]int64),
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	if info.Size() < walHeaderSize {
		w.lastCheckpointOffset = noCheckpoint
		if err := w.writeHeaderLocked(); err != nil {
			file.Close()
			return nil, err
		}
		w.tailOffset = walHeaderSize
	} else {
		headerBuf := make([]byte, walHeaderSize)
		if _, err := file.ReadAt(headerBuf, 0); err != nil {
			file.Close()
			return nil, err
		}
		w.lastCheckpointOffset = int64(binary.LittleEndian.Uint64(headerBuf))
		w.tailOffset = info.Size()
	}

	return w, nil
}

func (w *WAL) writeHeaderLocked() error {
	buf := make([]byte, walHeaderSize)
	binary.LittleEndian.PutUint64(buf, uint64(w.lastCheckpointOffset))
	_, err := w.file.WriteAt(buf, 0)
	return err
}

// Append writes a record at the current tail of the log and returns its
// assigned LSN (its start offset).
func (w *WAL) Append(record *WALRecord) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, ErrWALClosed
	}
	return w.appendLocked(record)
}

func (w *WAL) appendLocked(record *WALRecord) (int64, error) {
	startOffset := w.tailOffset
	buf, err := record.Serialize(startOffset)
	if err != nil {
		return 0, err
	}

	if _, err := w.file.WriteAt(buf, startOffset); err != nil {
		return 0, fmt.Errorf("%w: failed to append WAL record: %v", ErrIoError, err)
	}

	w.tailOffset += int64(len(buf))

	if record.Type == WALBegin {
		w.firstOffset[record.TxID] = startOffset
	}

	return startOffset, nil
}

// Checkpoint blocks every other log writer for the duration of the call,
// appends a Checkpoint record listing the given active transactions,
// updates the log header's last-checkpoint pointer to the record's
// offset, and forces both to disk.
func (w *WAL) Checkpoint(active []ActiveTxEntry) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, ErrWALClosed
	}

	record := NewWALCheckpointRecord(active)
	offset, err := w.appendLocked(record)
	if err != nil {
		return 0, err
	}

	w.lastCheckpointOffset = offset
	if err := w.writeHeaderLocked(); err != nil {
		return 0, err
	}
	if err := w.file.Sync(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIoError, err)
	}

	return offset, nil
}

// Force flushes the log to durable storage. The buffer pool's flush path calls this
// before writing any dirty data page (WAL-then-data).
func (w *WAL) Force() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWALClosed
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("%w: %v", ErrIoError, err)
	}
	return nil
}

// Tail returns the offset the next record will be written at.
func (w *WAL) Tail() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tailOffset
}

// FirstOffset returns the offset of txid's Begin record, if tracked.
func (w *WAL) FirstOffset(txid uint64) (int64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	off, ok := w.firstOffset[txid]
	return off, ok
}

// SetFirstOffset records txid's first offset explicitly — used by
// recovery to seed live bookkeeping for transactions that were already
// active when the crash occurred.
func (w *WAL) SetFirstOffset(txid uint64, offset int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.firstOffset[txid] = offset
}

// ForgetTransaction drops txid's first-offset bookkeeping — called once
// it has committed or been fully rolled back.
func (w *WAL) ForgetTransaction(txid uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.firstOffset, txid)
}

// LastCheckpointOffset returns the offset of the most recent checkpoint
// record, or noCheckpoint if none has been taken.
func (w *WAL) LastCheckpointOffset() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastCheckpointOffset
}

// SetLastCheckpointOffset updates the log header's checkpoint pointer
// and forces it to disk.
func (w *WAL) SetLastCheckpointOffset(offset int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.lastCheckpointOffset = offset
	if err := w.writeHeaderLocked(); err != nil {
		return err
	}
	return w.file.Sync()
}

// ReadAt reads and parses exactly one record starting at the given file
// offset, returning the record and the offset immediately following it.
func (w *WAL) ReadAt(offset int64) (*WALRecord, int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.readAtLocked(offset)
}

func (w *WAL) readAtLocked(offset int64) (*WALRecord, int64, error) {
	typeBuf := make([]byte, typeTagSize)
	if _, err := w.file.ReadAt(typeBuf, offset); err != nil {
		if err == io.EOF {
			return nil, offset, io.EOF
		}
		return nil, offset, fmt.Errorf("%w: %v", ErrIoError, err)
	}

	t := WALType(binary.LittleEndian.Uint32(typeBuf))

	var payloadSize int
	switch t {
	case WALBegin, WALCommit, WALAbort:
		payloadSize = 8
	case WALUpdate:
		sizeBuf := make([]byte, 4)
		if _, err := w.file.ReadAt(sizeBuf, offset+int64(typeTagSize)+updateImageHeaderSize-4); err != nil {
			return nil, offset, fmt.Errorf("%w: %v", ErrIoError, err)
		}
		imageSize := int(binary.LittleEndian.Uint32(sizeBuf))
		payloadSize = updateImageHeaderSize + 2*imageSize
	case WALCheckpoint:
		countBuf := make([]byte, 4)
		if _, err := w.file.ReadAt(countBuf, offset+int64(typeTagSize)); err != nil {
			return nil, offset, fmt.Errorf("%w: %v", ErrIoError, err)
		}
		count := int(binary.LittleEndian.Uint32(countBuf))
		payloadSize = 4 + count*16
	default:
		return nil, offset, ErrWALCorrupted
	}

	total := typeTagSize + payloadSize + trailerSize
	buf := make([]byte, total)
	n, err := w.file.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, offset, fmt.Errorf("%w: %v", ErrIoError, err)
	}
	if n < total {
		return nil, offset, ErrWALReadPastEnd
	}

	record := &WALRecord{}
	if err := record.Deserialize(buf); err != nil {
		return nil, offset, err
	}
	if record.LSN != offset {
		return nil, offset, ErrWALCorrupted
	}

	return record, offset + int64(total), nil
}

// NewReader returns a forward-scanning reader starting at offset
// (typically walHeaderSize, or the checkpoint offset).
func (w *WAL) NewReader(offset int64) *WALReader {
	return &WALReader{wal: w, offset: offset}
}

// WALReader performs a single forward pass over the log, as the
// recovery scan requires.
type WALReader struct {
	wal    *WAL
	offset int64
	err    error
}

// Next returns the next record, or (nil, nil) at end of log, or a
// non-nil error if the log is corrupted past the last clean record.
func (r *WALReader) Next() (*WALRecord, error) {
	if r.err != nil {
		return nil, r.err
	}

	r.wal.mu.Lock()
	tail := r.wal.tailOffset
	r.wal.mu.Unlock()

	if r.offset >= tail {
		return nil, nil
	}

	record, next, err := r.wal.ReadAt(r.offset)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		r.err = err
		return nil, err
	}

	r.offset = next
	return record, nil
}

// Offset returns the reader's current position.
func (r *WALReader) Offset() int64 {
	return r.offset
}

// Close closes the underlying log file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("%w: %v", ErrIoError, err)
	}
	return w.file.Close()
}
