package bptree

import (
	"encoding/binary"

	"diskdb/internal/buffer"
	"diskdb/internal/page"
)

// Comparator defines the total order over keys that the tree is built
// with.
type Comparator func(a, b []byte) int

// Tree is a concurrent, disk-resident B+Tree over a buffer pool. All
// structural access goes through page guards; no node is ever held in
// memory across a yield point without one.
type Tree struct {
	pool        *buffer.Pool
	headerID    page.ID
	cmp         Comparator
	leafMax     int
	internalMax int
	leafMin     int
	internalMin int
}

func minSize(max int) int {
	m := max / 2
	if m < 1 {
		m = 1
	}
	return m
}

// Create allocates a fresh, empty tree (an empty header page, no root)
// and returns it along with the header page's id for later Open calls.
func Create(pool *buffer.Pool, cmp Comparator, leafMax, internalMax int) (*Tree, page.ID, error) {
	hg, err := pool.NewPage()
	if err != nil {
		return nil, page.InvalidID, err
	}
	hg.Page().Header().Kind = page.KindBTreeHeader
	writeRoot(hg.Page(), page.InvalidID)
	id := hg.PageID()
	if err := hg.Close(); err != nil {
		return nil, page.InvalidID, err
	}
	return Open(pool, id, cmp, leafMax, internalMax), id, nil
}

// Open wraps an existing header page id as a Tree.
func Open(pool *buffer.Pool, headerID page.ID, cmp Comparator, leafMax, internalMax int) *Tree {
	return &Tree{
		pool: pool, headerID: headerID, cmp: cmp,
		leafMax: leafMax, internalMax: internalMax,
		leafMin: minSize(leafMax), internalMin: minSize(internalMax),
	}
}

func readRoot(p *page.Page) page.ID {
	return page.ID(binary.LittleEndian.Uint32(p.Body()))
}

func writeRoot(p *page.Page, id page.ID) {
	binary.LittleEndian.PutUint32(p.Body(), uint32(id))
}

// Get performs a hand-over-hand read-latched search for key.
func (t *Tree) Get(key []byte) ([]byte, bool, error) {
	hg, err := t.pool.FetchPageRead(t.headerID)
	if err != nil {
		return nil, false, err
	}
	root := readRoot(hg.Page())
	if err := hg.Close(); err != nil {
		return nil, false, err
	}
	if root == page.InvalidID {
		return nil, false, nil
	}

	cur, err := t.pool.FetchPageRead(root)
	if err != nil {
		return nil, false, err
	}
	for {
		n := decodeNode(cur.Page())
		if n.isLeaf {
			idx, found := n.search(t.cmp, key)
			if err := cur.Close(); err != nil {
				return nil, false, err
			}
			if !found {
				return nil, false, nil
			}
			return n.values[idx], true, nil
		}
		idx := n.childIndex(t.cmp, key)
		child := n.children[idx]
		next, err := t.pool.FetchPageRead(child)
		if err != nil {
			cur.Close()
			return nil, false, err
		}
		if err := cur.Close(); err != nil {
			next.Close()
			return nil, false, err
		}
		cur = next
	}
}

// Insert adds key/value if key is not already present. Returns whether
// it was inserted. Runs the optimistic read-latched pass first and
// falls back to a full pessimistic descent when the tree is still empty
// or the target leaf is full.
func (t *Tree) Insert(key, value []byte) (bool, error) {
	inserted, retry, err := t.insertOptimistic(key, value)
	if err != nil || !retry {
		return inserted, err
	}
	return t.insertPessimistic(key, value)
}

// insertOptimistic holds Read guards on the header and every internal
// ancestor while descending, taking a Write guard only on the target
// leaf. If the leaf is full it reports retry=true and the caller must
// fall back to insertPessimistic.
func (t *Tree) insertOptimistic(key, value []byte) (inserted bool, retry bool, err error) {
	hg, err := t.pool.FetchPageRead(t.headerID)
	if err != nil {
		return false, false, err
	}
	root := readRoot(hg.Page())
	if root == page.InvalidID {
		hg.Close()
		return false, true, nil
	}

	var ancestors []*buffer.ReadGuard
	closeAncestors := func() {
		for i := len(ancestors) - 1; i >= 0; i-- {
			ancestors[i].Close()
		}
	}
	ancestors = append(ancestors, hg)

	cur, err := t.pool.FetchPageRead(root)
	if err != nil {
		closeAncestors()
		return false, false, err
	}

	for {
		n := decodeNode(cur.Page())
		if n.isLeaf {
			leafID := n.id
			cur.Close()

			wg, err := t.pool.FetchPageWrite(leafID)
			if err != nil {
				closeAncestors()
				return false, false, err
			}
			ln := decodeNode(wg.Page())
			idx, found := ln.search(t.cmp, key)
			if found {
				wg.Close()
				closeAncestors()
				return false, false, nil
			}
			if ln.size() < t.leafMax {
				ln.insertLeafAt(idx, cloneBytes(key), cloneBytes(value))
				ln.encodeInto(wg.Page())
				wg.Close()
				closeAncestors()
				return true, false, nil
			}
			wg.Close()
			closeAncestors()
			return false, true, nil
		}

		idx := n.childIndex(t.cmp, key)
		child := n.children[idx]
		next, err := t.pool.FetchPageRead(child)
		if err != nil {
			cur.Close()
			closeAncestors()
			return false, false, err
		}
		ancestors = append(ancestors, cur)
		cur = next
	}
}

type writeFrame struct {
	guard *buffer.WriteGuard
	n     *node
}

// insertPessimistic write-latches the header and descends with Write
// guards on every node, splitting as needed and propagating separators
// upward. Ancestors above a node with spare room are released on the
// way down: no split can propagate through them.
func (t *Tree) insertPessimistic(key, value []byte) (bool, error) {
	hg, err := t.pool.FetchPageWrite(t.headerID)
	if err != nil {
		return false, err
	}
	root := readRoot(hg.Page())
	if root == page.InvalidID {
		lg, err := t.pool.NewPage()
		if err != nil {
			hg.Close()
			return false, err
		}
		ln := newLeaf(lg.PageID())
		ln.encodeInto(lg.Page())
		lg.Close()
		writeRoot(hg.Page(), ln.id)
		root = ln.id
	}

	var stack []writeFrame
	headerOpen := true
	closeStack := func() {
		for i := len(stack) - 1; i >= 0; i-- {
			stack[i].guard.Close()
		}
	}
	releaseAncestorsIfSafe := func() {
		closeStack()
		stack = stack[:0]
		if headerOpen {
			hg.Close()
			headerOpen = false
		}
	}

	cur, err := t.pool.FetchPageWrite(root)
	if err != nil {
		hg.Close()
		return false, err
	}

	for {
		n := decodeNode(cur.Page())

		if n.isLeaf {
			idx, found := n.search(t.cmp, key)
			if found {
				cur.Close()
				closeStack()
				if headerOpen {
					hg.Close()
				}
				return false, nil
			}
			n.insertLeafAt(idx, cloneBytes(key), cloneBytes(value))
			if n.size() <= t.leafMax {
				n.encodeInto(cur.Page())
				cur.Close()
				closeStack()
				if headerOpen {
					hg.Close()
				}
				return true, nil
			}

			sibling, sepKey, err := t.splitLeaf(n)
			if err != nil {
				cur.Close()
				closeStack()
				if headerOpen {
					hg.Close()
				}
				return false, err
			}
			n.encodeInto(cur.Page())
			cur.Close()
			return true, t.propagateSplit(hg, &headerOpen, stack, sepKey, sibling)
		}

		if n.size() < t.internalMax {
			releaseAncestorsIfSafe()
		}

		idx := n.childIndex(t.cmp, key)
		child := n.children[idx]
		stack = append(stack, writeFrame{guard: cur, n: n})
		next, err := t.pool.FetchPageWrite(child)
		if err != nil {
			closeStack()
			if headerOpen {
				hg.Close()
			}
			return false, err
		}
		cur = next
	}
}

// splitLeaf splits an overfull leaf n in place (n keeps the left half)
// and allocates+writes a new right sibling, linking next pointers.
// Returns the new sibling's id and the separator key (the right
// sibling's first key).
func (t *Tree) splitLeaf(n *node) (page.ID, []byte, error) {
	sg, err := t.pool.NewPage()
	if err != nil {
		return page.InvalidID, nil, err
	}
	total := len(n.keys)
	leftCount := (total + 1) / 2

	sib := newLeaf(sg.PageID())
	sib.keys = append(sib.keys, n.keys[leftCount:]...)
	sib.values = append(sib.values, n.values[leftCount:]...)
	sib.next = n.next

	n.keys = n.keys[:leftCount]
	n.values = n.values[:leftCount]
	n.next = sib.id

	sib.encodeInto(sg.Page())
	if err := sg.Close(); err != nil {
		return page.InvalidID, nil, err
	}
	return sib.id, sib.keys[0], nil
}

// splitInternal splits an overfull internal node n in place (n keeps the
// left half) and allocates a new right sibling. Returns the new
// sibling's id and the key promoted to the parent.
func (t *Tree) splitInternal(n *node) (page.ID, []byte, error) {
	sg, err := t.pool.NewPage()
	if err != nil {
		return page.InvalidID, nil, err
	}
	mid := len(n.keys) / 2
	promoted := n.keys[mid]

	sib := newInternal(sg.PageID())
	sib.children = append(sib.children[:0], n.children[mid+1:]...)
	sib.keys = append(sib.keys, n.keys[mid+1:]...)

	n.keys = n.keys[:mid]
	n.children = n.children[:mid+1]

	sib.encodeInto(sg.Page())
	if err := sg.Close(); err != nil {
		return page.InvalidID, nil, err
	}
	return sib.id, promoted, nil
}

// propagateSplit inserts (sepKey, newChild) into the parent frame at the
// top of stack, splitting further and recursing upward as needed. If the
// stack is empty, a new root is allocated and the header updated.
func (t *Tree) propagateSplit(hg *buffer.WriteGuard, headerOpen *bool, stack []writeFrame, sepKey []byte, newChild page.ID) error {
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		idx := top.n.childIndex(t.cmp, sepKey)
		top.n.insertInternalAt(idx, sepKey, newChild)

		if top.n.size() <= t.internalMax {
			top.n.encodeInto(top.guard.Page())
			top.guard.Close()
			for i := len(stack) - 1; i >= 0; i-- {
				stack[i].guard.Close()
			}
			if *headerOpen {
				hg.Close()
			}
			return nil
		}

		sib, promoted, err := t.splitInternal(top.n)
		if err != nil {
			top.guard.Close()
			for i := len(stack) - 1; i >= 0; i-- {
				stack[i].guard.Close()
			}
			if *headerOpen {
				hg.Close()
			}
			return err
		}
		top.n.encodeInto(top.guard.Page())
		top.guard.Close()
		sepKey, newChild = promoted, sib
	}

	// Stack exhausted: the root itself split. Allocate a new root.
	rg, err := t.pool.NewPage()
	if err != nil {
		if *headerOpen {
			hg.Close()
		}
		return err
	}
	oldRoot := readRoot(hg.Page())
	newRoot := newInternal(rg.PageID())
	newRoot.children[0] = oldRoot
	newRoot.keys = append(newRoot.keys, sepKey)
	newRoot.children = append(newRoot.children, newChild)
	newRoot.encodeInto(rg.Page())
	if err := rg.Close(); err != nil {
		if *headerOpen {
			hg.Close()
		}
		return err
	}
	writeRoot(hg.Page(), newRoot.id)
	if *headerOpen {
		hg.Close()
		*headerOpen = false
	}
	return nil
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
