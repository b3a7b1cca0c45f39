package buffer

import (
	"sync"

	"diskdb/internal/page"
)

// Frame is a slot inside the pool capable of holding one resident page.
// pinCount and dirty are mutated only under the pool's latch; latch is
// acquired independently, after the pool latch is released, and
// serializes content access rather than residency.
type Frame struct {
	id       FrameID
	data     page.Page
	pageID   page.ID
	pinCount int
	dirty    bool
	latch    sync.RWMutex
}

// FrameID identifies a frame slot within the pool.
type FrameID uint32

// PageID returns the page currently resident in this frame. Only
// meaningful while the caller holds a pin.
func (f *Frame) PageID() page.ID { return f.pageID }

// Page returns the frame's page buffer for direct inspection. Callers
// holding only a Basic guard must not mutate the returned buffer's
// contents in a way that should survive eviction without calling
// MarkDirty; Write guards mark dirty automatically on release.
func (f *Frame) Page() *page.Page { return &f.data }
