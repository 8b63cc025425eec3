// Package storage provides the core storage engine components for txcore.
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// PageSize is the process-wide page size in bytes.
const PageSize = 4096

// PageHeaderSize is the size of the on-disk page header in bytes.
const PageHeaderSize = 24

// pageTypeHeaderOffset is the byte position of the PageType tag within a
// serialized page (see PageHeader's layout).
const pageTypeHeaderOffset = 12

// PageType tags the page-type-specific layout that a table file imposes on
// the opaque bytes the core reads and writes. The core never interprets
// Data beyond this tag; layout is the table file's concern.
type PageType uint8

const (
	// PageTypeFree indicates a free/unused page.
	PageTypeFree PageType = iota
	// PageTypeHeapData indicates a heap-file data page.
	PageTypeHeapData
	// PageTypeBTreeInternal indicates a B+-tree internal node page.
	PageTypeBTreeInternal
	// PageTypeBTreeLeaf indicates a B+-tree leaf node page.
	PageTypeBTreeLeaf
)

// String returns the string representation of a PageType.
func (pt PageType) String() string {
	switch pt {
	case PageTypeFree:
		return "Free"
	case PageTypeHeapData:
		return "HeapData"
	case PageTypeBTreeInternal:
		return "BTreeInternal"
	case PageTypeBTreeLeaf:
		return "BTreeLeaf"
	default:
		return "Unknown"
	}
}

// PageFlag represents flags carried in a page header.
type PageFlag uint8

const (
	// PageFlagLeaf indicates the page is a leaf node (for tree structures).
	PageFlagLeaf PageFlag = 1 << iota
)

// TableID identifies a table file (heap or B+-tree backed) within a
// Database. It is assigned by the catalog, which is out of the core's
// scope; the core only ever receives it as an opaque value.
type TableID uint32

// PageID is the value identifying a page: (table_id, page_number).
type PageID struct {
	TableID    TableID
	PageNumber uint64
}

// String returns a human-readable form, used in logs and error messages.
func (id PageID) String() string {
	return fmt.Sprintf("(table=%d,page=%d)", id.TableID, id.PageNumber)
}

// PageHeader represents the on-disk header of each page.
// Layout:
//   - Bytes 0-3:   TableID (uint32)
//   - Bytes 4-11:  PageNumber (uint64)
//   - Byte 12:     PageType (uint8)
//   - Byte 13:     Flags (uint8)
//   - Bytes 14-15: ItemCount (uint16)
//   - Bytes 16-17: FreeSpace (uint16)
//   - Bytes 18-19: Checksum (uint16)
//   - Bytes 20-23: reserved
type PageHeader struct {
	PageID    PageID
	PageType  PageType
	Flags     PageFlag
	ItemCount uint16
	FreeSpace uint16
	Checksum  uint16
}

// Errors for page operations.
var (
	ErrInvalidPageSize     = errors.New("invalid page size")
	ErrInvalidChecksum     = errors.New("page checksum mismatch")
	ErrInvalidPageType     = errors.New("invalid page type")
	ErrInsufficientSpace   = errors.New("insufficient space in page")
	ErrPageHeaderCorrupted = errors.New("page header corrupted")
)

// NewPageHeader creates a new PageHeader with the given parameters.
func NewPageHeader(pageID PageID, pageType PageType) *PageHeader {
	return &PageHeader{
		PageID:    pageID,
		PageType:  pageType,
		FreeSpace: PageSize - PageHeaderSize,
	}
}

// Serialize writes the PageHeader to a byte slice.
func (h *PageHeader) Serialize(buf []byte) error {
	if len(buf) < PageHeaderSize {
		return ErrInvalidPageSize
	}

	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.PageID.TableID))
	binary.LittleEndian.PutUint64(buf[4:12], h.PageID.PageNumber)
	buf[12] = byte(h.PageType)
	buf[13] = byte(h.Flags)
	binary.LittleEndian.PutUint16(buf[14:16], h.ItemCount)
	binary.LittleEndian.PutUint16(buf[16:18], h.FreeSpace)
	binary.LittleEndian.PutUint16(buf[18:20], h.Checksum)

	return nil
}

// Deserialize reads the PageHeader from a byte slice.
func (h *PageHeader) Deserialize(buf []byte) error {
	if len(buf) < PageHeaderSize {
		return ErrInvalidPageSize
	}

	h.PageID.TableID = TableID(binary.LittleEndian.Uint32(buf[0:4]))
	h.PageID.PageNumber = binary.LittleEndian.Uint64(buf[4:12])
	h.PageType = PageType(buf[12])
	h.Flags = PageFlag(buf[13])
	h.ItemCount = binary.LittleEndian.Uint16(buf[14:16])
	h.FreeSpace = binary.LittleEndian.Uint16(buf[16:18])
	h.Checksum = binary.LittleEndian.Uint16(buf[18:20])

	return nil
}

// IsLeaf returns true if the page is a leaf node.
func (h *PageHeader) IsLeaf() bool {
	return h.Flags&PageFlagLeaf != 0
}

// SetLeaf sets the leaf flag on the page header.
func (h *PageHeader) SetLeaf() {
	h.Flags |= PageFlagLeaf
}

// Page is the opaque fixed-size byte buffer the core manipulates, plus the
// before-image snapshot and dirty-transaction tag the buffer pool relies on.
//
// Invariant: on entry to the buffer pool, BeforeImage equals the bytes on
// disk and DirtyBy is absent (zero).
type Page struct {
	Header PageHeader
	Data   []byte // page data excluding header, length PageSize-PageHeaderSize

	// beforeHeader and beforeImage together hold the full last-committed
	// page image (header and data). Updated only at commit-time flush
	// (SetBeforeImage), never on a bare dirty-page flush: restoring the
	// snapshot must yield the committed header (ItemCount, FreeSpace,
	// flags) as well as the committed bytes, not the live header over
	// old data.
	beforeHeader PageHeader
	beforeImage  []byte

	// dirtyBy tags the transaction that most recently modified this
	// page while uncommitted; zero means clean.
	dirtyBy  uint64
	hasDirty bool
}

// NewPage creates a new page with the given ID and type. Its before-image
// starts out equal to its (zero) contents, matching a freshly allocated
// page.
func NewPage(pageID PageID, pageType PageType) *Page {
	header := PageHeader{
		PageID:    pageID,
		PageType:  pageType,
		FreeSpace: PageSize - PageHeaderSize,
	}
	data := make([]byte, PageSize-PageHeaderSize)
	before := make([]byte, PageSize-PageHeaderSize)
	copy(before, data)
	return &Page{
		Header:       header,
		Data:         data,
		beforeHeader: header,
		beforeImage:  before,
	}
}

// GetBytes serializes the current state to PageSize bytes.
func (p *Page) GetBytes() ([]byte, error) {
	return p.Serialize()
}

// GetBeforeImage constructs a sibling Page from the snapshot: the
// last-committed header and the last-committed Data, so writing it back
// restores the page exactly as it stood at the previous commit.
func (p *Page) GetBeforeImage() *Page {
	before := make([]byte, len(p.beforeImage))
	copy(before, p.beforeImage)
	return &Page{
		Header: p.beforeHeader,
		Data:   before,
	}
}

// SetBeforeImage copies the current header and bytes into the snapshot.
// Must only be called when the page is known to be the committed version
// on disk — i.e. immediately after a successful commit-time flush.
func (p *Page) SetBeforeImage() {
	p.beforeHeader = p.Header
	if len(p.beforeImage) != len(p.Data) {
		p.beforeImage = make([]byte, len(p.Data))
	}
	copy(p.beforeImage, p.Data)
}

// MarkDirty sets or clears the dirty-by tag. Passing ok=false clears it.
func (p *Page) MarkDirty(txid uint64, ok bool) {
	p.dirtyBy = txid
	p.hasDirty = ok
}

// IsDirty returns the dirtying transaction id and whether the page is
// currently dirty.
func (p *Page) IsDirty() (uint64, bool) {
	return p.dirtyBy, p.hasDirty
}

// Serialize writes the entire page to a new byte slice of PageSize bytes.
func (p *Page) Serialize() ([]byte, error) {
	buf := make([]byte, PageSize)
	return buf, p.SerializeTo(buf)
}

// SerializeTo writes the entire page to an existing byte slice of at
// least PageSize bytes.
func (p *Page) SerializeTo(buf []byte) error {
	if len(buf) < PageSize {
		return ErrInvalidPageSize
	}

	p.Header.Checksum = p.CalculateChecksum()

	if err := p.Header.Serialize(buf[:PageHeaderSize]); err != nil {
		return err
	}

	copy(buf[PageHeaderSize:], p.Data)

	return nil
}

// Deserialize reads the entire page from a byte slice of at least
// PageSize bytes.
func (p *Page) Deserialize(buf []byte) error {
	if len(buf) < PageSize {
		return ErrInvalidPageSize
	}

	if err := p.Header.Deserialize(buf[:PageHeaderSize]); err != nil {
		return err
	}

	if p.Data == nil || len(p.Data) < PageSize-PageHeaderSize {
		p.Data = make([]byte, PageSize-PageHeaderSize)
	}
	copy(p.Data, buf[PageHeaderSize:PageSize])

	if p.beforeImage == nil {
		p.beforeHeader = p.Header
		p.beforeImage = make([]byte, len(p.Data))
		copy(p.beforeImage, p.Data)
	}

	return nil
}

// CalculateChecksum computes the CRC16 checksum of the page data (CRC32
// truncated to 16 bits, matching the on-disk header field width).
func (p *Page) CalculateChecksum() uint16 {
	crc := crc32.ChecksumIEEE(p.Data)
	return uint16(crc & 0xFFFF)
}

// ValidateChecksum verifies the page checksum matches the stored value.
func (p *Page) ValidateChecksum() bool {
	return p.Header.Checksum == p.CalculateChecksum()
}

// DeserializeAndValidate reads the page and validates its checksum.
func (p *Page) DeserializeAndValidate(buf []byte) error {
	if err := p.Deserialize(buf); err != nil {
		return err
	}
	if !p.ValidateChecksum() {
		return ErrInvalidChecksum
	}
	return nil
}

// UsableSpace returns the amount of usable space in the page data area.
func (p *Page) UsableSpace() int {
	return PageSize - PageHeaderSize
}

// Reset clears the page data and resets the header, keeping the page ID.
func (p *Page) Reset(pageType PageType) {
	p.Header.PageType = pageType
	p.Header.Flags = 0
	p.Header.ItemCount = 0
	p.Header.FreeSpace = PageSize - PageHeaderSize
	p.Header.Checksum = 0

	for i := range p.Data {
		p.Data[i] = 0
	}
}
