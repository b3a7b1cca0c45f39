package buffer

import "diskdb/internal/page"

// BasicGuard pins a page without acquiring any per-frame latch. It is the
// base embedded in ReadGuard and WriteGuard, and is also usable on its
// own by callers that only need residency guaranteed (e.g. the free-page
// allocator touching a page's header under the pool latch alone).
//
// Guards are move-only in spirit: Go has no move semantics, so callers
// must not copy a guard by value after construction, and must call
// Close exactly once. A second Close is a no-op rather than a panic.
type BasicGuard struct {
	pool    *Pool
	frame   *Frame
	dirty   bool
	dropped bool
}

// PageID returns the guarded page's id.
func (g *BasicGuard) PageID() page.ID { return g.frame.PageID() }

// Page returns the underlying page buffer. Valid until Close.
func (g *BasicGuard) Page() *page.Page { return g.frame.Page() }

// MarkDirty records that the caller mutated the page through this guard;
// Close forwards the accumulated bit into the frame.
func (g *BasicGuard) MarkDirty() { g.dirty = true }

// Close unpins the page, forwarding the accumulated dirty bit. Safe to
// call more than once.
func (g *BasicGuard) Close() error {
	if g.dropped {
		return nil
	}
	g.dropped = true
	return g.pool.unpin(g.frame.PageID(), g.dirty)
}

// ReadGuard pins a page and holds its reader latch for the guard's
// lifetime. Multiple ReadGuards on the same page may coexist.
type ReadGuard struct {
	BasicGuard
}

// Close releases the reader latch and unpins the page. Safe to call more
// than once.
func (g *ReadGuard) Close() error {
	if g.dropped {
		return nil
	}
	g.dropped = true
	g.frame.latch.RUnlock()
	return g.pool.unpin(g.frame.PageID(), false)
}

// WriteGuard pins a page and holds its exclusive writer latch for the
// guard's lifetime. Dropping a WriteGuard always marks the page dirty:
// any holder of a write latch is assumed to have mutated the page.
type WriteGuard struct {
	BasicGuard
}

// Close marks the page dirty, releases the writer latch, and unpins the
// page. Safe to call more than once.
func (g *WriteGuard) Close() error {
	if g.dropped {
		return nil
	}
	g.dropped = true
	g.frame.latch.Unlock()
	return g.pool.unpin(g.frame.PageID(), true)
}
