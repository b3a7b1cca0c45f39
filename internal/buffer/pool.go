// Package buffer implements the pinning, latching, dirty-tracking buffer
// pool and its scoped page guards.
package buffer

import (
	"errors"
	"sync"

	"github.com/google/btree"

	"diskdb/internal/disk"
	"diskdb/internal/page"
	"diskdb/internal/replacer"
)

var (
	// ErrNoFreeFrames is returned when every frame is pinned and no frame
	// can be evicted to satisfy a new_page/fetch_page request.
	ErrNoFreeFrames = errors.New("buffer: no evictable frame")
	// ErrPageNotResident is returned by operations that require a page
	// already be in the pool (unpin, flush of a non-resident page).
	ErrPageNotResident = errors.New("buffer: page not resident")
	// ErrNotPinned is returned by Unpin when the page's pin count is
	// already zero.
	ErrNotPinned = errors.New("buffer: page already unpinned")
	// ErrPagePinned is returned by DeletePage when the page is resident
	// but still pinned.
	ErrPagePinned = errors.New("buffer: page is pinned")
)

// Logger is the minimal diagnostics sink the pool logs through; satisfied
// by diskdb.Logger (kept decoupled here to avoid an import cycle).
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
}

type discardLogger struct{}

func (discardLogger) Error(string, ...any) {}
func (discardLogger) Warn(string, ...any)  {}
func (discardLogger) Info(string, ...any)  {}

// freeIDItem adapts free-frame bookkeeping to google/btree's
// ordered-set requirement, so frames are reused lowest-id first.
type freeIDItem uint32

func (a freeIDItem) Less(b btree.Item) bool { return a < b.(freeIDItem) }

// Pool is the fixed-size buffer pool: a page-table, a free-frame set,
// an LRU-K replacer, and an array of frames, all protected by a single
// global latch.
type Pool struct {
	mu        sync.Mutex
	frames    []Frame
	pageTable map[page.ID]FrameID
	free      *btree.BTree // ordered set of free FrameIDs
	replacer  *replacer.LRUK
	disk      disk.Manager
	log       Logger
}

// New creates a buffer pool of the given frame capacity, an LRU-K
// replacer with history depth k, backed by the given disk manager.
func New(poolSize int, k int, d disk.Manager, log Logger) *Pool {
	if log == nil {
		log = discardLogger{}
	}
	p := &Pool{
		frames:    make([]Frame, poolSize),
		pageTable: make(map[page.ID]FrameID, poolSize),
		free:      btree.New(32),
		replacer:  replacer.New(poolSize, k),
		disk:      d,
		log:       log,
	}
	for i := 0; i < poolSize; i++ {
		p.frames[i].id = FrameID(i)
		p.free.ReplaceOrInsert(freeIDItem(i))
	}
	return p
}

// acquireFrameLocked returns a frame ready for a new resident page:
// either pulled from the free list, or evicted via the replacer
// (flushing the victim first if dirty). Caller must hold p.mu. Disk I/O
// for the victim's write-back happens here, while p.mu is held, so an
// in-flight eviction cannot race a fetch of the same id.
func (p *Pool) acquireFrameLocked() (FrameID, error) {
	if item := p.free.DeleteMin(); item != nil {
		return FrameID(item.(freeIDItem)), nil
	}

	fid, ok := p.replacer.Evict()
	if !ok {
		p.log.Warn("buffer pool exhausted", "frames", len(p.frames))
		return 0, ErrNoFreeFrames
	}

	victim := &p.frames[fid]
	if victim.dirty {
		if err := p.disk.WritePage(victim.pageID, &victim.data); err != nil {
			p.log.Error("victim write-back failed", "page", victim.pageID, "err", err)
			// Put the frame back as evictable; caller sees the error.
			p.replacer.SetEvictable(fid, true)
			return 0, err
		}
		victim.dirty = false
	}
	delete(p.pageTable, victim.pageID)
	return FrameID(fid), nil
}

// NewPage allocates a fresh page id and pins a frame for it, returning a
// Basic guard. Fails with ErrNoFreeFrames if no frame is evictable.
func (p *Pool) NewPage() (*BasicGuard, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id, err := p.disk.AllocatePage()
	if err != nil {
		return nil, err
	}

	fid, err := p.acquireFrameLocked()
	if err != nil {
		return nil, err
	}

	f := &p.frames[fid]
	f.data.Zero()
	f.data.Header().ID = id
	f.pageID = id
	f.pinCount = 1
	f.dirty = false

	p.pageTable[id] = fid
	p.replacer.RecordAccess(replacer.FrameID(fid))
	p.replacer.SetEvictable(replacer.FrameID(fid), false)

	// A fresh page exists only in this frame until first write-back, so
	// the guard starts dirty to guarantee it survives eviction.
	return &BasicGuard{pool: p, frame: f, dirty: true}, nil
}

// fetchLocked returns the frame resident for id, loading it from disk
// if necessary. Caller must hold p.mu throughout, including the disk
// read.
func (p *Pool) fetchLocked(id page.ID) (*Frame, error) {
	if fid, ok := p.pageTable[id]; ok {
		f := &p.frames[fid]
		f.pinCount++
		p.replacer.RecordAccess(replacer.FrameID(fid))
		p.replacer.SetEvictable(replacer.FrameID(fid), false)
		return f, nil
	}

	fid, err := p.acquireFrameLocked()
	if err != nil {
		return nil, err
	}

	f := &p.frames[fid]
	if err := p.disk.ReadPage(id, &f.data); err != nil {
		// Frame stays free; return it to the free set.
		p.free.ReplaceOrInsert(freeIDItem(fid))
		return nil, err
	}
	f.pageID = id
	f.pinCount = 1
	f.dirty = false

	p.pageTable[id] = fid
	p.replacer.RecordAccess(replacer.FrameID(fid))
	p.replacer.SetEvictable(replacer.FrameID(fid), false)

	return f, nil
}

// FetchPageBasic pins id without acquiring any per-frame latch.
func (p *Pool) FetchPageBasic(id page.ID) (*BasicGuard, error) {
	p.mu.Lock()
	f, err := p.fetchLocked(id)
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &BasicGuard{pool: p, frame: f}, nil
}

// FetchPageRead pins id and acquires its reader latch. The pool latch
// is released before the frame latch is taken, so a blocked latch never
// stalls unrelated pool traffic.
func (p *Pool) FetchPageRead(id page.ID) (*ReadGuard, error) {
	p.mu.Lock()
	f, err := p.fetchLocked(id)
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	f.latch.RLock()
	return &ReadGuard{BasicGuard{pool: p, frame: f}}, nil
}

// FetchPageWrite pins id and acquires its writer latch.
func (p *Pool) FetchPageWrite(id page.ID) (*WriteGuard, error) {
	p.mu.Lock()
	f, err := p.fetchLocked(id)
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	f.latch.Lock()
	return &WriteGuard{BasicGuard{pool: p, frame: f}}, nil
}

// NewPageWrite allocates a fresh page and returns it already
// write-latched, for callers that want to initialize it as a B+Tree node
// or heap page under a Write guard uniformly with FetchPageWrite.
func (p *Pool) NewPageWrite() (*WriteGuard, error) {
	g, err := p.NewPage()
	if err != nil {
		return nil, err
	}
	g.frame.latch.Lock()
	return &WriteGuard{*g}, nil
}

// unpin decrements the pin count for id and OR-merges the dirty bit.
func (p *Pool) unpin(id page.ID, isDirty bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	fid, ok := p.pageTable[id]
	if !ok {
		return ErrPageNotResident
	}
	f := &p.frames[fid]
	if f.pinCount == 0 {
		return ErrNotPinned
	}
	f.pinCount--
	if isDirty {
		f.dirty = true
	}
	if f.pinCount == 0 {
		p.replacer.SetEvictable(replacer.FrameID(fid), true)
	}
	return nil
}

// Flush writes id through to disk, whether or not it is dirty, and
// clears the dirty bit.
func (p *Pool) Flush(id page.ID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	fid, ok := p.pageTable[id]
	if !ok {
		return ErrPageNotResident
	}
	f := &p.frames[fid]
	if err := p.disk.WritePage(id, &f.data); err != nil {
		return err
	}
	f.dirty = false
	return nil
}

// FlushAll writes every dirty resident page through to disk.
func (p *Pool) FlushAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, fid := range p.pageTable {
		f := &p.frames[fid]
		if !f.dirty {
			continue
		}
		if err := p.disk.WritePage(id, &f.data); err != nil {
			return err
		}
		f.dirty = false
	}
	return nil
}

// DeletePage removes id from the pool. Succeeds as a no-op if id is not
// resident; fails with ErrPagePinned if resident and pinned.
func (p *Pool) DeletePage(id page.ID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	fid, ok := p.pageTable[id]
	if !ok {
		return nil
	}
	f := &p.frames[fid]
	if f.pinCount != 0 {
		return ErrPagePinned
	}

	p.replacer.Remove(replacer.FrameID(fid))
	delete(p.pageTable, id)
	p.free.ReplaceOrInsert(freeIDItem(fid))
	return nil
}

// Size returns the number of frames in the pool.
func (p *Pool) Size() int { return len(p.frames) }
