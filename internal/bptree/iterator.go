package bptree

import (
	"diskdb/internal/page"
)

// Iterator is a forward-only cursor over a leaf chain. No guard is held
// between calls to Next; on entering a leaf the iterator takes a Read
// guard just long enough to copy that leaf's entries and next link, and
// steps through the copy, so concurrent modifications to other subtrees
// never invalidate an iterator's position.
type Iterator struct {
	tree    *Tree
	leaf    page.ID
	slot    int
	keys    [][]byte
	values  [][]byte
	next    page.ID
	atEnd   bool
	started bool
}

// Begin positions an iterator at the first entry of the tree.
func (t *Tree) Begin() (*Iterator, error) {
	return t.BeginAt(nil)
}

// BeginAt positions an iterator at the first entry with key >= from, or
// at end if none. A nil from behaves like Begin (start of tree).
func (t *Tree) BeginAt(from []byte) (*Iterator, error) {
	hg, err := t.pool.FetchPageRead(t.headerID)
	if err != nil {
		return nil, err
	}
	root := readRoot(hg.Page())
	if err := hg.Close(); err != nil {
		return nil, err
	}
	if root == page.InvalidID {
		return &Iterator{tree: t, atEnd: true, started: true}, nil
	}

	cur, err := t.pool.FetchPageRead(root)
	if err != nil {
		return nil, err
	}
	for {
		n := decodeNode(cur.Page())
		if n.isLeaf {
			idx := 0
			if from != nil {
				idx, _ = n.search(t.cmp, from)
			}
			it := &Iterator{
				tree: t, leaf: n.id, slot: idx,
				keys: n.keys, values: n.values, next: n.next,
				started: true,
			}
			if err := cur.Close(); err != nil {
				return nil, err
			}
			it.settle()
			return it, nil
		}
		var idx int
		if from == nil {
			idx = 0
		} else {
			idx = n.childIndex(t.cmp, from)
		}
		child := n.children[idx]
		nxt, err := t.pool.FetchPageRead(child)
		if err != nil {
			cur.Close()
			return nil, err
		}
		if err := cur.Close(); err != nil {
			nxt.Close()
			return nil, err
		}
		cur = nxt
	}
}

// settle advances across exhausted leaves until positioned on a valid
// entry or at end.
func (it *Iterator) settle() {
	for !it.atEnd && it.slot >= len(it.keys) {
		if it.next == page.InvalidID {
			it.atEnd = true
			return
		}
		g, err := it.tree.pool.FetchPageRead(it.next)
		if err != nil {
			it.atEnd = true
			return
		}
		n := decodeNode(g.Page())
		it.leaf, it.keys, it.values, it.next = n.id, n.keys, n.values, n.next
		it.slot = 0
		g.Close()
	}
}

// Valid reports whether the iterator is positioned on an entry.
func (it *Iterator) Valid() bool { return !it.atEnd }

// Key and Value return the entry at the iterator's current position.
// Only valid while Valid() holds.
func (it *Iterator) Key() []byte   { return it.keys[it.slot] }
func (it *Iterator) Value() []byte { return it.values[it.slot] }

// Next advances the iterator by one entry.
func (it *Iterator) Next() {
	if it.atEnd {
		return
	}
	it.slot++
	it.settle()
}
