package engine

import (
	"encoding/binary"
	"fmt"

	"github.com/KilimcininKorOglu/txcore/internal/storage"
)

// tupleHeaderSize is the per-record length prefix: a uint32 whose high bit
// marks the record as a tombstone (deleted) and whose low 31 bits give the
// payload length.
const tupleHeaderSize = 4

const tombstoneBit uint32 = 1 << 31

// TupleID locates a single tuple within a heap page: the page it lives on
// and the byte offset, within that page's data area, where its record
// begins. It is the only handle InsertTuple hands back and DeleteTuple
// consumes — callers never parse page bytes themselves.
type TupleID struct {
	PageID storage.PageID
	Offset uint16
}

func (t TupleID) String() string {
	return fmt.Sprintf("%s@%d", t.PageID, t.Offset)
}

// appendTupleToPage writes payload as a new record at the current tail of
// page's used space, returning the offset it was written at. It reports
// false (without modifying the page) if payload does not fit in the
// page's remaining free space.
func appendTupleToPage(page *storage.Page, payload []byte) (uint16, bool) {
	needed := tupleHeaderSize + len(payload)
	if int(page.Header.FreeSpace) < needed {
		return 0, false
	}

	used := len(page.Data) - int(page.Header.FreeSpace)
	offset := uint16(used)

	binary.LittleEndian.PutUint32(page.Data[used:used+4], uint32(len(payload)))
	copy(page.Data[used+4:used+4+len(payload)], payload)

	page.Header.FreeSpace -= uint16(needed)
	page.Header.ItemCount++

	return offset, true
}

// readTupleAt parses the record starting at offset. deleted reports
// whether the tombstone bit is set; payload is nil in that case.
func readTupleAt(page *storage.Page, offset uint16) (payload []byte, deleted bool, recordLen int, err error) {
	o := int(offset)
	if o < 0 || o+tupleHeaderSize > len(page.Data) {
		return nil, false, 0, fmt.Errorf("%w: tuple offset %d out of range", storage.ErrDbError, offset)
	}

	raw := binary.LittleEndian.Uint32(page.Data[o : o+4])
	deleted = raw&tombstoneBit != 0
	length := int(raw &^ tombstoneBit)

	if o+tupleHeaderSize+length > len(page.Data) {
		return nil, false, 0, fmt.Errorf("%w: corrupt tuple record at offset %d", storage.ErrDbError, offset)
	}

	recordLen = tupleHeaderSize + length
	if deleted {
		return nil, true, recordLen, nil
	}

	payload = make([]byte, length)
	copy(payload, page.Data[o+4:o+4+length])
	return payload, false, recordLen, nil
}

// tombstoneAt marks the record at offset as deleted in place. The space it
// occupied is not reclaimed for reuse within the page; per the engine's
// page-reclamation policy (see freelist.go), compaction is a later,
// separate concern.
func tombstoneAt(page *storage.Page, offset uint16) error {
	o := int(offset)
	if o < 0 || o+tupleHeaderSize > len(page.Data) {
		return fmt.Errorf("%w: tuple offset %d out of range", storage.ErrDbError, offset)
	}

	raw := binary.LittleEndian.Uint32(page.Data[o : o+4])
	if raw&tombstoneBit != 0 {
		return fmt.Errorf("%w: tuple at offset %d already deleted", storage.ErrDbError, offset)
	}

	binary.LittleEndian.PutUint32(page.Data[o:o+4], raw|tombstoneBit)
	return nil
}

// scanPageTuples returns every live (non-tombstoned) record on the page in
// storage order.
func scanPageTuples(page *storage.Page) ([][]byte, error) {
	var out [][]byte
	used := len(page.Data) - int(page.Header.FreeSpace)

	offset := 0
	for offset < used {
		payload, deleted, recordLen, err := readTupleAt(page, uint16(offset))
		if err != nil {
			return nil, err
		}
		if !deleted {
			out = append(out, payload)
		}
		offset += recordLen
	}
	return out, nil
}
