// Package heap implements the table heap: a singly linked chain of
// slotted pages fetched through the buffer pool, holding a table's raw
// tuple bytes. SeqScan iterates it; Insert/Delete/Update executors
// mutate it. Each page carries a slot directory growing backward from
// the page end, with tuple data growing forward to meet it.
package heap

import (
	"encoding/binary"
	"errors"

	"diskdb/internal/buffer"
	"diskdb/internal/page"
)

// ErrTupleTooLarge is returned when a tuple cannot fit in any page even
// when freshly allocated.
var ErrTupleTooLarge = errors.New("heap: tuple exceeds page capacity")

// errNoSpace is returned by UpdateTupleInPlace (and so by RestoreTuple)
// when the tuple's page has no room for the longer replacement bytes.
// InsertTuple never returns it: it advances to the next page or
// allocates a new one instead.
var errNoSpace = errors.New("heap: page full")

const slotSize = 5 // offset u16, length u16, flags u8

type slot struct {
	offset    uint16
	length    uint16
	tombstone bool
}

func readSlot(body []byte, i int) slot {
	off := len(body) - (i+1)*slotSize
	return slot{
		offset:    binary.LittleEndian.Uint16(body[off:]),
		length:    binary.LittleEndian.Uint16(body[off+2:]),
		tombstone: body[off+4] != 0,
	}
}

func writeSlot(body []byte, i int, s slot) {
	off := len(body) - (i+1)*slotSize
	binary.LittleEndian.PutUint16(body[off:], s.offset)
	binary.LittleEndian.PutUint16(body[off+2:], s.length)
	if s.tombstone {
		body[off+4] = 1
	} else {
		body[off+4] = 0
	}
}

func freeStart(h *page.Header) uint16       { return uint16(h.Reserved) }
func setFreeStart(h *page.Header, v uint16) { h.Reserved = uint64(v) }

// freeSpace returns the bytes available between the tuple-data region
// (growing forward from the front) and the slot directory (growing
// backward from the end), for a page with numSlots existing slots.
func freeSpace(body []byte, numSlots int, start uint16) int {
	used := int(start) + (numSlots+1)*slotSize
	return len(body) - used
}

// Heap is a handle onto one table's page chain.
type Heap struct {
	pool *buffer.Pool
	head page.ID
}

// Create allocates the first (empty) page of a new heap and returns a
// handle plus that page's id, to be persisted in the catalog.
func Create(pool *buffer.Pool) (*Heap, page.ID, error) {
	g, err := pool.NewPage()
	if err != nil {
		return nil, page.InvalidID, err
	}
	h := g.Page().Header()
	h.Kind = page.KindHeapData
	h.Next = page.InvalidID
	h.NumItems = 0
	setFreeStart(h, 0)
	id := g.PageID()
	if err := g.Close(); err != nil {
		return nil, page.InvalidID, err
	}
	return &Heap{pool: pool, head: id}, id, nil
}

// Open wraps an existing heap head page id.
func Open(pool *buffer.Pool, head page.ID) *Heap {
	return &Heap{pool: pool, head: head}
}

// InsertTuple appends data to the first page in the chain with room,
// allocating a new page at the tail if none has space.
func (hp *Heap) InsertTuple(data []byte) (page.RID, error) {
	if len(data) > page.Size-page.HeaderSize-slotSize {
		return page.RID{}, ErrTupleTooLarge
	}

	id := hp.head
	var prevGuard *buffer.WriteGuard
	for {
		g, err := hp.pool.FetchPageWrite(id)
		if err != nil {
			if prevGuard != nil {
				prevGuard.Close()
			}
			return page.RID{}, err
		}
		if prevGuard != nil {
			prevGuard.Close()
		}

		h := g.Page().Header()
		body := g.Page().Body()
		numSlots := int(h.NumItems)
		start := freeStart(h)

		if freeSpace(body, numSlots, start) >= len(data) {
			copy(body[start:], data)
			writeSlot(body, numSlots, slot{offset: start, length: uint16(len(data))})
			h.NumItems++
			setFreeStart(h, start+uint16(len(data)))
			rid := page.RID{PageID: id, SlotNum: uint16(numSlots)}
			if err := g.Close(); err != nil {
				return page.RID{}, err
			}
			return rid, nil
		}

		next := h.Next
		if next != page.InvalidID {
			prevGuard = g
			id = next
			continue
		}

		// Tail page full; allocate a new one and link it.
		ng, err := hp.pool.NewPage()
		if err != nil {
			g.Close()
			return page.RID{}, err
		}
		nh := ng.Page().Header()
		nh.Kind = page.KindHeapData
		nh.Next = page.InvalidID
		nh.NumItems = 0
		setFreeStart(nh, 0)
		newID := ng.PageID()

		h.Next = newID
		g.Close()
		ng.Close()

		prevGuard = nil
		id = newID
	}
}

// GetTuple returns the tuple at rid, or found=false if it has been
// deleted (tombstoned).
func (hp *Heap) GetTuple(rid page.RID) (data []byte, found bool, err error) {
	g, err := hp.pool.FetchPageRead(rid.PageID)
	if err != nil {
		return nil, false, err
	}
	defer g.Close()

	h := g.Page().Header()
	if int(rid.SlotNum) >= int(h.NumItems) {
		return nil, false, nil
	}
	s := readSlot(g.Page().Body(), int(rid.SlotNum))
	if s.tombstone {
		return nil, false, nil
	}
	out := make([]byte, s.length)
	copy(out, g.Page().Body()[s.offset:s.offset+s.length])
	return out, true, nil
}

// UpdateTupleInPlace overwrites the tuple at rid with newData, keeping
// rid stable. The new bytes are appended into the page's free space and
// the slot retargeted; the old bytes become dead space (no in-page
// compaction is implemented). Returns errNoSpace if the page has no room
// for newData; the tuple is then left unchanged.
func (hp *Heap) UpdateTupleInPlace(rid page.RID, newData []byte) error {
	g, err := hp.pool.FetchPageWrite(rid.PageID)
	if err != nil {
		return err
	}
	defer g.Close()

	h := g.Page().Header()
	if int(rid.SlotNum) >= int(h.NumItems) {
		return errors.New("heap: invalid rid")
	}
	body := g.Page().Body()
	numSlots := int(h.NumItems)
	start := freeStart(h)

	old := readSlot(body, int(rid.SlotNum))
	if len(newData) <= int(old.length) {
		copy(body[old.offset:], newData)
		writeSlot(body, int(rid.SlotNum), slot{offset: old.offset, length: uint16(len(newData)), tombstone: old.tombstone})
		return nil
	}

	if freeSpace(body, numSlots, start) < len(newData) {
		return errNoSpace
	}
	copy(body[start:], newData)
	writeSlot(body, int(rid.SlotNum), slot{offset: start, length: uint16(len(newData)), tombstone: old.tombstone})
	setFreeStart(h, start+uint16(len(newData)))
	return nil
}

// MarkDelete tombstones the tuple at rid.
func (hp *Heap) MarkDelete(rid page.RID) error {
	return hp.setTombstone(rid, true)
}

// SetTombstone tombstones the tuple at rid. Named to match
// txn.TableUndoer; identical to MarkDelete, kept as a separate method
// since Delete's forward path and Insert's undo path read more clearly
// calling by their own vocabulary.
func (hp *Heap) SetTombstone(rid page.RID) error {
	return hp.setTombstone(rid, true)
}

// ClearTombstone un-deletes the tuple at rid, the undo of a Delete.
func (hp *Heap) ClearTombstone(rid page.RID) error {
	return hp.setTombstone(rid, false)
}

func (hp *Heap) setTombstone(rid page.RID, tombstone bool) error {
	g, err := hp.pool.FetchPageWrite(rid.PageID)
	if err != nil {
		return err
	}
	defer g.Close()

	h := g.Page().Header()
	if int(rid.SlotNum) >= int(h.NumItems) {
		return errors.New("heap: invalid rid")
	}
	s := readSlot(g.Page().Body(), int(rid.SlotNum))
	s.tombstone = tombstone
	writeSlot(g.Page().Body(), int(rid.SlotNum), s)
	return nil
}

// RestoreTuple overwrites the tuple at rid with oldData and clears its
// tombstone, the undo of an Update (old-value reinstatement) or a
// Delete immediately followed by a page reuse. Unlike
// UpdateTupleInPlace it never falls back to errNoSpace: oldData is, by
// construction, data that already fit at rid once before.
func (hp *Heap) RestoreTuple(rid page.RID, oldData []byte) error {
	if err := hp.UpdateTupleInPlace(rid, oldData); err != nil {
		return err
	}
	return hp.ClearTombstone(rid)
}
