// Package storage provides the core storage engine components for txcore.
package storage

import (
	"encoding/binary"
	"errors"
)

// WALType represents the type of a WAL record. The numeric values are
// part of the on-disk format.
type WALType uint32

const (
	// WALBegin marks the beginning of a transaction.
	WALBegin WALType = 1
	// WALUpdate records a page modification, carrying the full before and
	// after page images.
	WALUpdate WALType = 2
	// WALCommit marks the successful completion of a transaction.
	WALCommit WALType = 3
	// WALAbort marks the rollback of a transaction.
	WALAbort WALType = 4
	// WALCheckpoint records the active-transaction set and each one's
	// first log offset at the moment the checkpoint was taken.
	WALCheckpoint WALType = 5
)

func (t WALType) String() string {
	switch t {
	case WALBegin:
		return "Begin"
	case WALCommit:
		return "Commit"
	case WALAbort:
		return "Abort"
	case WALUpdate:
		return "Update"
	case WALCheckpoint:
		return "Checkpoint"
	default:
		return "Unknown"
	}
}

// trailerSize is the size of the fixed trailer every record carries: the
// record's own start offset in the log file (its LSN), repeated. The
// trailer serves as a backward-chain pointer for a reader walking the log
// in reverse, and as a sanity check that a record parsed cleanly.
const trailerSize = 8

// typeTagSize is the size of the leading record-type tag.
const typeTagSize = 4

// ActiveTxEntry is one active transaction's bookkeeping entry carried in
// a checkpoint record.
type ActiveTxEntry struct {
	TxID        uint64
	FirstOffset int64
}

// WALRecord is a single framed entry in the write-ahead log. Update
// records carry full page images rather than byte-range patches: C6
// never needs to interpret partial page layouts, only to replace or
// restore a page wholesale.
type WALRecord struct {
	LSN  int64 // offset of this record's type tag in the log file
	Type WALType
	TxID uint64

	// Update fields. PageKind mirrors the page-type tag of the images so
	// a log reader can classify the page without parsing either image.
	PageID   PageID
	PageKind PageType
	Before   []byte // full before-image, PageSize bytes
	After    []byte // full after-image, PageSize bytes

	// Checkpoint fields.
	ActiveTxs []ActiveTxEntry
}

// Errors for WAL record operations.
var (
	ErrWALRecordTooSmall    = errors.New("WAL record buffer too small")
	ErrWALInvalidRecordType = errors.New("invalid WAL record type")
)

// NewWALBeginRecord creates a Begin record.
func NewWALBeginRecord(txID uint64) *WALRecord {
	return &WALRecord{Type: WALBegin, TxID: txID}
}

// NewWALCommitRecord creates a Commit record.
func NewWALCommitRecord(txID uint64) *WALRecord {
	return &WALRecord{Type: WALCommit, TxID: txID}
}

// NewWALAbortRecord creates an Abort record.
func NewWALAbortRecord(txID uint64) *WALRecord {
	return &WALRecord{Type: WALAbort, TxID: txID}
}

// NewWALUpdateRecord creates an Update record carrying full page images.
// The page-type tag is lifted from the after-image's own serialized
// header, so callers hand over raw page bytes and nothing else.
func NewWALUpdateRecord(txID uint64, pageID PageID, before, after []byte) *WALRecord {
	var kind PageType
	if len(after) > pageTypeHeaderOffset {
		kind = PageType(after[pageTypeHeaderOffset])
	}
	return &WALRecord{
		Type:     WALUpdate,
		TxID:     txID,
		PageID:   pageID,
		PageKind: kind,
		Before:   before,
		After:    after,
	}
}

// NewWALCheckpointRecord creates a Checkpoint record.
func NewWALCheckpointRecord(active []ActiveTxEntry) *WALRecord {
	return &WALRecord{Type: WALCheckpoint, ActiveTxs: active}
}

// updateImageHeaderSize is the fixed prefix of an Update payload ahead of
// the two images: txid, page-type tag, table id, page number, image size.
const updateImageHeaderSize = 8 + 1 + 4 + 8 + 4

// payloadSize returns the size of the type-specific payload (excluding
// the leading type tag and the trailing start-offset).
func (r *WALRecord) payloadSize() int {
	switch r.Type {
	case WALBegin, WALCommit, WALAbort:
		return 8 // TxID
	case WALUpdate:
		return updateImageHeaderSize + len(r.Before) + len(r.After)
	case WALCheckpoint:
		return 4 + len(r.ActiveTxs)*16 // count, then (txid,offset) pairs
	default:
		return 0
	}
}

// Size returns the total framed size of the record on disk.
func (r *WALRecord) Size() int {
	return typeTagSize + r.payloadSize() + trailerSize
}

// Serialize writes the fully framed record (type tag, payload,
// start-offset trailer) to a new byte slice. startOffset is the file
// offset the record begins at and becomes the record's LSN.
func (r *WALRecord) Serialize(startOffset int64) ([]byte, error) {
	size := r.Size()
	buf := make([]byte, size)
	if err := r.SerializeTo(buf, startOffset); err != nil {
		return nil, err
	}
	return buf, nil
}

// SerializeTo writes the framed record into buf, which must be at least
// Size() bytes.
func (r *WALRecord) SerializeTo(buf []byte, startOffset int64) error {
	size := r.Size()
	if len(buf) < size {
		return ErrWALRecordTooSmall
	}

	binary.LittleEndian.PutUint32(buf[0:typeTagSize], uint32(r.Type))
	payload := buf[typeTagSize : size-trailerSize]

	switch r.Type {
	case WALBegin, WALCommit, WALAbort:
		binary.LittleEndian.PutUint64(payload[0:8], r.TxID)

	case WALUpdate:
		if len(r.Before) != len(r.After) {
			return ErrWALRecordTooSmall
		}
		binary.LittleEndian.PutUint64(payload[0:8], r.TxID)
		payload[8] = byte(r.PageKind)
		binary.LittleEndian.PutUint32(payload[9:13], uint32(r.PageID.TableID))
		binary.LittleEndian.PutUint64(payload[13:21], r.PageID.PageNumber)
		binary.LittleEndian.PutUint32(payload[21:25], uint32(len(r.Before)))
		copy(payload[updateImageHeaderSize:], r.Before)
		copy(payload[updateImageHeaderSize+len(r.Before):], r.After)

	case WALCheckpoint:
		binary.LittleEndian.PutUint32(payload[0:4], uint32(len(r.ActiveTxs)))
		off := 4
		for _, tx := range r.ActiveTxs {
			binary.LittleEndian.PutUint64(payload[off:off+8], tx.TxID)
			binary.LittleEndian.PutUint64(payload[off+8:off+16], uint64(tx.FirstOffset))
			off += 16
		}

	default:
		return ErrWALInvalidRecordType
	}

	binary.LittleEndian.PutUint64(buf[size-trailerSize:size], uint64(startOffset))

	r.LSN = startOffset
	return nil
}

// Deserialize parses a record from a buffer that already contains the
// type tag, full payload, and trailer (the caller determines payload
// length from the type tag and, for Update/Checkpoint, from a length
// prefix read ahead of time — see WALReader).
func (r *WALRecord) Deserialize(buf []byte) error {
	if len(buf) < typeTagSize+trailerSize {
		return ErrWALRecordTooSmall
	}

	r.Type = WALType(binary.LittleEndian.Uint32(buf[0:typeTagSize]))
	size := len(buf)
	payload := buf[typeTagSize : size-trailerSize]

	switch r.Type {
	case WALBegin, WALCommit, WALAbort:
		if len(payload) < 8 {
			return ErrWALRecordTooSmall
		}
		r.TxID = binary.LittleEndian.Uint64(payload[0:8])

	case WALUpdate:
		if len(payload) < updateImageHeaderSize {
			return ErrWALRecordTooSmall
		}
		r.TxID = binary.LittleEndian.Uint64(payload[0:8])
		r.PageKind = PageType(payload[8])
		r.PageID.TableID = TableID(binary.LittleEndian.Uint32(payload[9:13]))
		r.PageID.PageNumber = binary.LittleEndian.Uint64(payload[13:21])
		imageLen := int(binary.LittleEndian.Uint32(payload[21:25]))
		if updateImageHeaderSize+2*imageLen > len(payload) {
			return ErrWALRecordTooSmall
		}
		r.Before = append([]byte(nil), payload[updateImageHeaderSize:updateImageHeaderSize+imageLen]...)
		r.After = append([]byte(nil), payload[updateImageHeaderSize+imageLen:updateImageHeaderSize+2*imageLen]...)

	case WALCheckpoint:
		if len(payload) < 4 {
			return ErrWALRecordTooSmall
		}
		count := int(binary.LittleEndian.Uint32(payload[0:4]))
		off := 4
		r.ActiveTxs = make([]ActiveTxEntry, 0, count)
		for i := 0; i < count; i++ {
			if off+16 > len(payload) {
				return ErrWALRecordTooSmall
			}
			txid := binary.LittleEndian.Uint64(payload[off : off+8])
			firstOffset := int64(binary.LittleEndian.Uint64(payload[off+8 : off+16]))
			r.ActiveTxs = append(r.ActiveTxs, ActiveTxEntry{TxID: txid, FirstOffset: firstOffset})
			off += 16
		}

	default:
		return ErrWALInvalidRecordType
	}

	r.LSN = int64(binary.LittleEndian.Uint64(buf[size-trailerSize : size]))

	return nil
}

// IsTransactionControl returns true if this is a Begin/Commit/Abort record.
func (r *WALRecord) IsTransactionControl() bool {
	return r.Type == WALBegin || r.Type == WALCommit || r.Type == WALAbort
}
