package heap

import "diskdb/internal/page"

// Iterator yields (RID, tuple) pairs across a heap's page chain,
// skipping tombstoned slots. No guard is held between steps; on entering
// a page the iterator takes a Read guard just long enough to copy the
// page body, and steps through the copy, mirroring internal/bptree's
// iterator discipline.
type Iterator struct {
	hp       *Heap
	pageID   page.ID
	slot     int
	numSlots int
	body     []byte
	next     page.ID
	atEnd    bool
}

// Scan returns an iterator positioned on the first live tuple (or
// already invalid if the heap has none).
func (hp *Heap) Scan() (*Iterator, error) {
	it := &Iterator{hp: hp, pageID: hp.head, slot: -1}
	if err := it.loadPage(hp.head); err != nil {
		return nil, err
	}
	it.advance()
	return it, nil
}

func (it *Iterator) loadPage(id page.ID) error {
	g, err := it.hp.pool.FetchPageRead(id)
	if err != nil {
		return err
	}
	h := g.Page().Header()
	it.pageID = id
	it.numSlots = int(h.NumItems)
	it.next = h.Next
	it.body = append([]byte(nil), g.Page().Body()...)
	it.slot = -1
	return g.Close()
}

// advance moves to the next non-tombstoned slot, crossing page
// boundaries as needed.
func (it *Iterator) advance() {
	for {
		it.slot++
		for it.slot < it.numSlots {
			s := readSlot(it.body, it.slot)
			if !s.tombstone {
				return
			}
			it.slot++
		}
		if it.next == page.InvalidID {
			it.atEnd = true
			return
		}
		if err := it.loadPage(it.next); err != nil {
			it.atEnd = true
			return
		}
		it.slot = -1
	}
}

// Valid reports whether the iterator is positioned on a live tuple.
func (it *Iterator) Valid() bool { return !it.atEnd }

// RID returns the current tuple's row id.
func (it *Iterator) RID() page.RID {
	return page.RID{PageID: it.pageID, SlotNum: uint16(it.slot)}
}

// Tuple returns a copy of the current tuple's bytes as of the page
// snapshot taken when the iterator entered this page. Readers that hold
// a row lock and need the authoritative current bytes must re-read via
// Heap.GetTuple instead; the iterator is a positioning mechanism, not a
// consistency point.
func (it *Iterator) Tuple() []byte {
	s := readSlot(it.body, it.slot)
	out := make([]byte, s.length)
	copy(out, it.body[s.offset:s.offset+s.length])
	return out
}

// Next advances the iterator.
func (it *Iterator) Next() {
	if it.atEnd {
		return
	}
	it.advance()
}
