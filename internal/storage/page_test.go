package storage

import (
	"bytes"
	"testing"
)

func TestPageTypeString(t *testing.T) {
	tests := []struct {
		pageType PageType
		expected string
	}{
		{PageTypeFree, "Free"},
		{PageTypeHeapData, "HeapData"},
		{PageTypeBTreeInternal, "BTreeInternal"},
		{PageTypeBTreeLeaf, "BTreeLeaf"},
		{PageType(99), "Unknown"},
	}

	for _, tt := range tests {
		if got := tt.pageType.String(); got != tt.expected {
			t.Errorf("PageType(%d).String() = %q, want %q", tt.pageType, got, tt.expected)
		}
	}
}

func TestPageIDString(t *testing.T) {
	id := PageID{TableID: 3, PageNumber: 7}
	if got, want := id.String(), "(table=3,page=7)"; got != want {
		t.Errorf("PageID.String() = %q, want %q", got, want)
	}
}

func TestNewPageHeader(t *testing.T) {
	id := PageID{TableID: 1, PageNumber: 2}
	h := NewPageHeader(id, PageTypeHeapData)

	if h.PageID != id {
		t.Errorf("PageID = %v, want %v", h.PageID, id)
	}
	if h.PageType != PageTypeHeapData {
		t.Errorf("PageType = %v, want HeapData", h.PageType)
	}
	if h.FreeSpace != PageSize-PageHeaderSize {
		t.Errorf("FreeSpace = %d, want %d", h.FreeSpace, PageSize-PageHeaderSize)
	}
}

func TestPageHeaderSerializeRoundTrip(t *testing.T) {
	h := &PageHeader{
		PageID:    PageID{TableID: 5, PageNumber: 42},
		PageType:  PageTypeBTreeLeaf,
		ItemCount: 10,
		FreeSpace: 1000,
		Checksum:  0xBEEF,
	}
	h.SetLeaf()

	buf := make([]byte, PageHeaderSize)
	if err := h.Serialize(buf); err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	var out PageHeader
	if err := out.Deserialize(buf); err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}

	if out != *h {
		t.Errorf("round-tripped header = %+v, want %+v", out, *h)
	}
	if !out.IsLeaf() {
		t.Error("expected leaf flag to survive round trip")
	}
}

func TestPageHeaderSerializeBufferTooSmall(t *testing.T) {
	h := NewPageHeader(PageID{}, PageTypeFree)
	if err := h.Serialize(make([]byte, 4)); err != ErrInvalidPageSize {
		t.Errorf("expected ErrInvalidPageSize, got %v", err)
	}
	if err := h.Deserialize(make([]byte, 4)); err != ErrInvalidPageSize {
		t.Errorf("expected ErrInvalidPageSize, got %v", err)
	}
}

func TestNewPage(t *testing.T) {
	id := PageID{TableID: 1, PageNumber: 1}
	p := NewPage(id, PageTypeHeapData)

	if len(p.Data) != PageSize-PageHeaderSize {
		t.Errorf("Data length = %d, want %d", len(p.Data), PageSize-PageHeaderSize)
	}
	if p.UsableSpace() != PageSize-PageHeaderSize {
		t.Errorf("UsableSpace() = %d, want %d", p.UsableSpace(), PageSize-PageHeaderSize)
	}
	if txid, dirty := p.IsDirty(); dirty || txid != 0 {
		t.Errorf("new page should not be dirty, got txid=%d dirty=%v", txid, dirty)
	}
}

func TestPageSerializeDeserializeRoundTrip(t *testing.T) {
	id := PageID{TableID: 2, PageNumber: 9}
	p := NewPage(id, PageTypeHeapData)
	copy(p.Data, []byte("hello page"))

	buf, err := p.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	if len(buf) != PageSize {
		t.Fatalf("Serialize() length = %d, want %d", len(buf), PageSize)
	}

	var out Page
	if err := out.DeserializeAndValidate(buf); err != nil {
		t.Fatalf("DeserializeAndValidate failed: %v", err)
	}
	if out.Header.PageID != id {
		t.Errorf("PageID = %v, want %v", out.Header.PageID, id)
	}
	if !bytes.HasPrefix(out.Data, []byte("hello page")) {
		t.Errorf("Data does not start with expected prefix: %q", out.Data[:20])
	}
}

func TestPageValidateChecksumDetectsCorruption(t *testing.T) {
	p := NewPage(PageID{TableID: 1, PageNumber: 1}, PageTypeHeapData)
	copy(p.Data, []byte("original"))
	buf, err := p.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	buf[PageHeaderSize] ^= 0xFF // flip a data byte after the checksum was computed

	var out Page
	if err := out.DeserializeAndValidate(buf); err != ErrInvalidChecksum {
		t.Errorf("expected ErrInvalidChecksum for corrupted data, got %v", err)
	}
}

func TestPageBeforeImage(t *testing.T) {
	p := NewPage(PageID{TableID: 1, PageNumber: 1}, PageTypeHeapData)
	copy(p.Data, []byte("version one"))

	before := p.GetBeforeImage()
	if bytes.HasPrefix(before.Data, []byte("version one")) {
		t.Fatal("before-image should still be the original zeroed data")
	}

	p.SetBeforeImage()
	copy(p.Data, []byte("version two"))

	before = p.GetBeforeImage()
	if !bytes.HasPrefix(before.Data, []byte("version one")) {
		t.Errorf("before-image should hold the snapshot taken before the second write, got %q", before.Data[:20])
	}
}

// The before-image covers the header as well as the data: header fields
// mutated after the snapshot must not leak into the restored page.
func TestPageBeforeImageRestoresHeader(t *testing.T) {
	p := NewPage(PageID{TableID: 1, PageNumber: 1}, PageTypeHeapData)
	copy(p.Data, []byte("committed"))
	p.Header.ItemCount = 1
	p.Header.FreeSpace -= 13
	p.SetBeforeImage()

	copy(p.Data, []byte("uncommitted"))
	p.Header.ItemCount = 2
	p.Header.FreeSpace -= 15

	before := p.GetBeforeImage()
	if before.Header.ItemCount != 1 {
		t.Errorf("ItemCount = %d, want the snapshotted 1", before.Header.ItemCount)
	}
	if before.Header.FreeSpace != PageSize-PageHeaderSize-13 {
		t.Errorf("FreeSpace = %d, want %d", before.Header.FreeSpace, PageSize-PageHeaderSize-13)
	}
	if !bytes.HasPrefix(before.Data, []byte("committed")) {
		t.Errorf("Data = %q, want the snapshotted bytes", before.Data[:12])
	}
}

func TestPageMarkDirty(t *testing.T) {
	p := NewPage(PageID{TableID: 1, PageNumber: 1}, PageTypeHeapData)

	p.MarkDirty(7, true)
	if txid, dirty := p.IsDirty(); !dirty || txid != 7 {
		t.Errorf("IsDirty() = (%d, %v), want (7, true)", txid, dirty)
	}

	p.MarkDirty(0, false)
	if _, dirty := p.IsDirty(); dirty {
		t.Error("expected page to be clean after MarkDirty(_, false)")
	}
}

func TestPageReset(t *testing.T) {
	p := NewPage(PageID{TableID: 1, PageNumber: 1}, PageTypeHeapData)
	copy(p.Data, []byte("stale"))
	p.Header.ItemCount = 3
	p.Header.FreeSpace = 10

	p.Reset(PageTypeFree)

	if p.Header.PageType != PageTypeFree {
		t.Errorf("PageType = %v, want Free", p.Header.PageType)
	}
	if p.Header.ItemCount != 0 {
		t.Errorf("ItemCount = %d, want 0", p.Header.ItemCount)
	}
	if p.Header.FreeSpace != PageSize-PageHeaderSize {
		t.Errorf("FreeSpace = %d, want %d", p.Header.FreeSpace, PageSize-PageHeaderSize)
	}
	for i, b := range p.Data {
		if b != 0 {
			t.Fatalf("Data[%d] = %d, want 0 after Reset", i, b)
		}
	}
}
