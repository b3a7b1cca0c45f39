// Package replacer implements the LRU-K frame replacement policy used
// by the buffer pool to pick an eviction victim among unpinned frames.
package replacer

import "sync"

// FrameID identifies a buffer pool frame.
type FrameID uint32

// NoFrame is returned by Evict when nothing is evictable.
const NoFrame FrameID = ^FrameID(0)

// node tracks one frame's recent access history and evictability.
type node struct {
	history   []uint64 // ascending timestamps, at most K entries, oldest first
	evictable bool
}

// LRUK implements the LRU-K replacement policy over at most N tracked
// frames, evicting the evictable frame with the largest backward
// K-distance (least recently used among frames with fewer than K
// accesses wins first, tie-broken by earliest front-of-history
// timestamp).
type LRUK struct {
	mu        sync.Mutex
	k         int
	maxFrames int
	now       uint64
	nodes     map[FrameID]*node
	evictable int
}

// New creates an LRU-K replacer tracking at most maxFrames frames with
// history depth k. k must be >= 1.
func New(maxFrames int, k int) *LRUK {
	if k < 1 {
		k = 1
	}
	return &LRUK{
		k:         k,
		maxFrames: maxFrames,
		nodes:     make(map[FrameID]*node, maxFrames),
	}
}

// RecordAccess appends the current logical timestamp to frame's history,
// truncating to the K most recent entries. Creates the frame's tracking
// entry if this is its first access.
func (r *LRUK) RecordAccess(frame FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.now++
	n, ok := r.nodes[frame]
	if !ok {
		n = &node{}
		r.nodes[frame] = n
	}
	n.history = append(n.history, r.now)
	if len(n.history) > r.k {
		n.history = n.history[len(n.history)-r.k:]
	}
}

// SetEvictable toggles whether frame is a candidate for eviction.
func (r *LRUK) SetEvictable(frame FrameID, evictable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[frame]
	if !ok {
		n = &node{}
		r.nodes[frame] = n
	}
	if n.evictable == evictable {
		return
	}
	n.evictable = evictable
	if evictable {
		r.evictable++
	} else {
		r.evictable--
	}
}

// backwardKDistance returns the frame's backward K-distance: the elapsed
// logical time since its Kth-most-recent access, or +∞ (math.MaxUint64)
// if it has fewer than K recorded accesses.
func (r *LRUK) backwardKDistance(n *node) uint64 {
	if len(n.history) < r.k {
		return ^uint64(0)
	}
	return r.now - n.history[0]
}

// Evict chooses the evictable frame with the largest backward K-distance,
// ties broken by earliest front-of-history timestamp (classical LRU
// among the infinite-distance group). Removes the frame from tracking
// and returns (frame, true), or (NoFrame, false) if nothing is evictable.
func (r *LRUK) Evict() (FrameID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		victim     FrameID
		found      bool
		bestDist   uint64
		bestOldest uint64
	)

	for f, n := range r.nodes {
		if !n.evictable {
			continue
		}
		dist := r.backwardKDistance(n)
		var oldest uint64
		if len(n.history) > 0 {
			oldest = n.history[0]
		}

		if !found || dist > bestDist || (dist == bestDist && oldest < bestOldest) {
			found = true
			victim = f
			bestDist = dist
			bestOldest = oldest
		}
	}

	if !found {
		return NoFrame, false
	}

	delete(r.nodes, victim)
	r.evictable--
	return victim, true
}

// Remove unconditionally evicts a specific evictable frame from tracking.
// Returns false if frame is untracked or not evictable.
func (r *LRUK) Remove(frame FrameID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[frame]
	if !ok || !n.evictable {
		return false
	}
	delete(r.nodes, frame)
	r.evictable--
	return true
}

// Size returns the number of frames currently evictable.
func (r *LRUK) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evictable
}
