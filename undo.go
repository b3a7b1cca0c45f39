package diskdb

import (
	"diskdb/internal/buffer"
	"diskdb/internal/catalog"
	"diskdb/internal/heap"
	"diskdb/internal/page"
	"diskdb/internal/txn"
)

// undoer implements txn.TableUndoer and txn.IndexUndoer against the
// engine's buffer pool and catalog, so Tx.Abort (internal/txn) can
// replay its undo log without importing internal/heap or
// internal/bptree itself. One instance is shared by every transaction
// the engine hands out.
//
// Heap methods address a tuple purely by rid.PageID/SlotNum, so a
// single Heap handle opened against an arbitrary head page serves every
// table; only index undo needs the catalog to find the right tree.
type undoer struct {
	hp  *heap.Heap
	cat *catalog.Catalog
}

func newUndoer(pool *buffer.Pool, cat *catalog.Catalog) *undoer {
	return &undoer{hp: heap.Open(pool, page.InvalidID), cat: cat}
}

func (u *undoer) SetTombstone(rid txn.RID) error {
	return u.hp.SetTombstone(toPageRID(rid))
}

func (u *undoer) ClearTombstone(rid txn.RID) error {
	return u.hp.ClearTombstone(toPageRID(rid))
}

func (u *undoer) RestoreTuple(rid txn.RID, oldData []byte) error {
	return u.hp.RestoreTuple(toPageRID(rid), oldData)
}

func (u *undoer) DeleteKey(indexOID uint32, key []byte) error {
	idx, err := u.cat.Index(catalog.OID(indexOID))
	if err != nil {
		return err
	}
	return idx.Tree.Delete(key)
}

func (u *undoer) ReinsertKey(indexOID uint32, key []byte, value []byte) error {
	idx, err := u.cat.Index(catalog.OID(indexOID))
	if err != nil {
		return err
	}
	_, err = idx.Tree.Insert(key, value)
	return err
}

func toPageRID(rid txn.RID) page.RID {
	return page.RID{PageID: page.ID(rid.PageID), SlotNum: rid.SlotNum}
}
