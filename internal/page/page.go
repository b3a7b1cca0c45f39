// Package page defines the fixed-size on-disk page format shared by the
// table heap and the B+Tree index: page identity, the raw byte buffer, and
// the small header every page kind carries at offset zero.
package page

import (
	"unsafe"

	"github.com/cespare/xxhash/v2"
)

// Size is the fixed page size in bytes, a compile-time constant used
// everywhere; diskdb.Open rejects a diskdb.WithPageSize value other than
// Size.
const Size = 4096

// ID identifies a page within the store. InvalidID denotes "none".
type ID uint32

// InvalidID is the sentinel meaning "no page".
const InvalidID ID = ^ID(0)

// Kind tags what a page's body holds.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindHeapData
	KindBTreeLeaf
	KindBTreeInternal
	KindBTreeHeader
)

// HeaderSize is the size in bytes of the common Header prefix.
const HeaderSize = 32

// Header is the fixed-layout prefix every page carries. Interpreted
// polymorphically by consumers: a heap page reads it as
// slot-directory metadata, a B+Tree node reads it as NumKeys/IsLeaf/Next.
//
// Layout: [ID:4][Kind:1][pad:3][NumItems:4][Next:4][Checksum:8][Reserved:8]
type Header struct {
	ID       ID
	Kind     Kind
	_        [3]byte
	NumItems uint32
	Next     ID // leaf forward link, or InvalidID
	Checksum uint64
	Reserved uint64
}

// Page is a raw fixed-size buffer. The buffer pool owns the memory; guards
// and B+Tree/heap code interpret it through Header()/Body().
type Page struct {
	Data [Size]byte
}

// Header returns the page header decoded from the start of Data.
func (p *Page) Header() *Header {
	return (*Header)(unsafe.Pointer(&p.Data[0]))
}

// WriteHeader overwrites the page header in place.
func (p *Page) WriteHeader(h *Header) {
	*p.Header() = *h
}

// Body returns the mutable byte range following the header, used by heap
// and B+Tree code for their own record formats.
func (p *Page) Body() []byte {
	return p.Data[HeaderSize:]
}

// Zero clears the page to all-zero bytes and an invalid-id header.
func (p *Page) Zero() {
	for i := range p.Data {
		p.Data[i] = 0
	}
	p.Header().ID = InvalidID
}

// Checksum computes the xxhash64 of the page body and the header fields
// that precede Checksum itself (ID, Kind, NumItems, Next).
func (p *Page) Checksum() uint64 {
	h := p.Header()
	var buf [HeaderSize - 16]byte // everything before Checksum+Reserved
	*(*Header)(unsafe.Pointer(&buf[0])) = Header{ID: h.ID, Kind: h.Kind, NumItems: h.NumItems, Next: h.Next}
	sum := xxhash.Sum64(buf[:])
	sum ^= xxhash.Sum64(p.Body())
	return sum
}

// VerifyChecksum reports whether the stored checksum matches the contents.
func (p *Page) VerifyChecksum() bool {
	return p.Header().Checksum == p.Checksum()
}

// StampChecksum recomputes and stores the checksum.
func (p *Page) StampChecksum() {
	p.Header().Checksum = p.Checksum()
}

// RID identifies a tuple: the heap page it lives on and its slot index.
type RID struct {
	PageID  ID
	SlotNum uint16
}

// Invalid reports whether this RID is the zero/unset value.
func (r RID) Invalid() bool {
	return r.PageID == InvalidID
}
