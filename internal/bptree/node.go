// Package bptree implements the concurrent B+Tree index: hand-over-hand
// (crabbing) search, two-pass optimistic/pessimistic insert, pessimistic
// delete with borrow/merge, and a forward leaf iterator.
package bptree

import (
	"encoding/binary"

	"diskdb/internal/page"
)

// node is a decoded in-memory view of one B+Tree page. Branch nodes carry
// one more child than key (children[0] has no corresponding key). Leaf
// nodes carry parallel keys/values and a next-leaf link.
type node struct {
	id       page.ID
	isLeaf   bool
	keys     [][]byte
	values   [][]byte // leaf only
	children []page.ID
	next     page.ID // leaf only; page.InvalidID if none
}

func newLeaf(id page.ID) *node {
	return &node{id: id, isLeaf: true, next: page.InvalidID}
}

func newInternal(id page.ID) *node {
	return &node{id: id, isLeaf: false, children: []page.ID{page.InvalidID}}
}

func (n *node) numKeys() int { return len(n.keys) }

// decodeNode reads a node out of a page buffer. Body layout:
//
//	leaf:     for each i: [keyLen u16][key][valLen u16][val]
//	internal: [children[0] u32] then for each i: [keyLen u16][key][child u32]
func decodeNode(p *page.Page) *node {
	h := p.Header()
	n := &node{id: h.ID, isLeaf: h.Kind == page.KindBTreeLeaf}
	body := p.Body()
	off := 0

	if n.isLeaf {
		n.next = h.Next
		n.keys = make([][]byte, 0, h.NumItems)
		n.values = make([][]byte, 0, h.NumItems)
		for i := uint32(0); i < h.NumItems; i++ {
			kl := binary.LittleEndian.Uint16(body[off:])
			off += 2
			key := append([]byte(nil), body[off:off+int(kl)]...)
			off += int(kl)
			vl := binary.LittleEndian.Uint16(body[off:])
			off += 2
			val := append([]byte(nil), body[off:off+int(vl)]...)
			off += int(vl)
			n.keys = append(n.keys, key)
			n.values = append(n.values, val)
		}
		return n
	}

	n.children = make([]page.ID, 0, h.NumItems+1)
	n.keys = make([][]byte, 0, h.NumItems)
	first := page.ID(binary.LittleEndian.Uint32(body[off:]))
	off += 4
	n.children = append(n.children, first)
	for i := uint32(0); i < h.NumItems; i++ {
		kl := binary.LittleEndian.Uint16(body[off:])
		off += 2
		key := append([]byte(nil), body[off:off+int(kl)]...)
		off += int(kl)
		child := page.ID(binary.LittleEndian.Uint32(body[off:]))
		off += 4
		n.keys = append(n.keys, key)
		n.children = append(n.children, child)
	}
	return n
}

// encodeInto writes n's contents into p, stamping the header.
func (n *node) encodeInto(p *page.Page) {
	p.Zero()
	h := p.Header()
	h.ID = n.id
	h.NumItems = uint32(len(n.keys))

	body := p.Body()
	off := 0

	if n.isLeaf {
		h.Kind = page.KindBTreeLeaf
		h.Next = n.next
		for i := range n.keys {
			binary.LittleEndian.PutUint16(body[off:], uint16(len(n.keys[i])))
			off += 2
			off += copy(body[off:], n.keys[i])
			binary.LittleEndian.PutUint16(body[off:], uint16(len(n.values[i])))
			off += 2
			off += copy(body[off:], n.values[i])
		}
	} else {
		h.Kind = page.KindBTreeInternal
		binary.LittleEndian.PutUint32(body[off:], uint32(n.children[0]))
		off += 4
		for i := range n.keys {
			binary.LittleEndian.PutUint16(body[off:], uint16(len(n.keys[i])))
			off += 2
			off += copy(body[off:], n.keys[i])
			binary.LittleEndian.PutUint32(body[off:], uint32(n.children[i+1]))
			off += 4
		}
	}
	p.WriteHeader(h)
}

// size is the occupied slot count, compared against leafMax/internalMax
// rather than raw byte size: overflow is defined in slots.
func (n *node) size() int { return len(n.keys) }

// search returns the index of the first key >= target, and whether an
// exact match was found at that index. For internal nodes this is the
// child slot whose key range may contain target: children[idx] when no
// key matched exactly (descend left of keys[idx]), children[idx+1] on
// an exact match, since a separator equals the smallest key of its
// right subtree.
func (n *node) search(cmp func(a, b []byte) int, target []byte) (idx int, found bool) {
	lo, hi := 0, len(n.keys)
	for lo < hi {
		mid := (lo + hi) / 2
		c := cmp(n.keys[mid], target)
		if c == 0 {
			return mid, true
		} else if c < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, false
}

// childIndex returns which children[] slot to descend into for target.
func (n *node) childIndex(cmp func(a, b []byte) int, target []byte) int {
	idx, found := n.search(cmp, target)
	if found {
		return idx + 1
	}
	return idx
}

func (n *node) insertLeafAt(i int, key, value []byte) {
	n.keys = append(n.keys, nil)
	n.values = append(n.values, nil)
	copy(n.keys[i+1:], n.keys[i:])
	copy(n.values[i+1:], n.values[i:])
	n.keys[i] = key
	n.values[i] = value
}

func (n *node) removeLeafAt(i int) {
	n.keys = append(n.keys[:i], n.keys[i+1:]...)
	n.values = append(n.values[:i], n.values[i+1:]...)
}

func (n *node) insertInternalAt(i int, key []byte, child page.ID) {
	n.keys = append(n.keys, nil)
	copy(n.keys[i+1:], n.keys[i:])
	n.keys[i] = key

	n.children = append(n.children, 0)
	copy(n.children[i+2:], n.children[i+1:])
	n.children[i+1] = child
}

// removeInternalAt removes key index i and the child to its right
// (children[i+1]), used when merging/collapsing.
func (n *node) removeInternalAt(i int) {
	n.keys = append(n.keys[:i], n.keys[i+1:]...)
	n.children = append(n.children[:i+1], n.children[i+2:]...)
}

// borrowFromRightInternal rotates the leftmost key/child of right through
// the parent separator sepKey into n, returning the new separator.
func (n *node) borrowFromRightInternal(right *node, sepKey []byte) []byte {
	n.keys = append(n.keys, sepKey)
	n.children = append(n.children, right.children[0])
	newSep := right.keys[0]
	right.keys = right.keys[1:]
	right.children = right.children[1:]
	return newSep
}

// borrowFromLeftInternal rotates the rightmost key/child of left through
// the parent separator sepKey into n, returning the new separator.
func (n *node) borrowFromLeftInternal(left *node, sepKey []byte) []byte {
	last := len(left.keys) - 1
	lastChild := len(left.children) - 1
	n.keys = append([][]byte{sepKey}, n.keys...)
	n.children = append([]page.ID{left.children[lastChild]}, n.children...)
	newSep := left.keys[last]
	left.keys = left.keys[:last]
	left.children = left.children[:lastChild]
	return newSep
}
