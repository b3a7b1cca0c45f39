package txn_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"diskdb/internal/txn"
)

type fakeTableUndoer struct {
	tombstoned map[txn.RID]bool
	restored   map[txn.RID][]byte
}

func newFakeTableUndoer() *fakeTableUndoer {
	return &fakeTableUndoer{
		tombstoned: make(map[txn.RID]bool),
		restored:   make(map[txn.RID][]byte),
	}
}

func (f *fakeTableUndoer) SetTombstone(rid txn.RID) error   { f.tombstoned[rid] = true; return nil }
func (f *fakeTableUndoer) ClearTombstone(rid txn.RID) error { f.tombstoned[rid] = false; return nil }
func (f *fakeTableUndoer) RestoreTuple(rid txn.RID, old []byte) error {
	f.restored[rid] = old
	return nil
}

type fakeIndexUndoer struct {
	deleted   []string
	reinserts map[string][]byte
}

func newFakeIndexUndoer() *fakeIndexUndoer {
	return &fakeIndexUndoer{reinserts: make(map[string][]byte)}
}

func (f *fakeIndexUndoer) DeleteKey(_ uint32, key []byte) error {
	f.deleted = append(f.deleted, string(key))
	return nil
}

func (f *fakeIndexUndoer) ReinsertKey(_ uint32, key []byte, value []byte) error {
	f.reinserts[string(key)] = value
	return nil
}

func TestAbortUndoesTableInsertByTombstoning(t *testing.T) {
	tu, iu := newFakeTableUndoer(), newFakeIndexUndoer()
	tx := txn.New(1, txn.ReadCommitted, tu, iu)
	rid := txn.RID{PageID: 1, SlotNum: 0}
	tx.AppendUndo(txn.UndoRecord{Kind: txn.UndoTableInsert, RID: rid})

	require.NoError(t, tx.Abort())
	require.True(t, tu.tombstoned[rid])
	require.Equal(t, txn.Aborted, tx.State())
}

func TestAbortUndoesTableDeleteByClearingTombstone(t *testing.T) {
	tu, iu := newFakeTableUndoer(), newFakeIndexUndoer()
	tx := txn.New(1, txn.ReadCommitted, tu, iu)
	rid := txn.RID{PageID: 2, SlotNum: 1}
	tu.tombstoned[rid] = true
	tx.AppendUndo(txn.UndoRecord{Kind: txn.UndoTableDelete, RID: rid})

	require.NoError(t, tx.Abort())
	require.False(t, tu.tombstoned[rid])
}

func TestAbortUndoesTableUpdateByRestoringOldContent(t *testing.T) {
	tu, iu := newFakeTableUndoer(), newFakeIndexUndoer()
	tx := txn.New(1, txn.ReadCommitted, tu, iu)
	rid := txn.RID{PageID: 3, SlotNum: 2}
	tx.AppendUndo(txn.UndoRecord{Kind: txn.UndoTableUpdate, RID: rid, OldValue: []byte("old")})

	require.NoError(t, tx.Abort())
	require.Equal(t, []byte("old"), tu.restored[rid])
}

func TestAbortUndoesIndexInsertByDeletingKey(t *testing.T) {
	tu, iu := newFakeTableUndoer(), newFakeIndexUndoer()
	tx := txn.New(1, txn.ReadCommitted, tu, iu)
	tx.AppendUndo(txn.UndoRecord{Kind: txn.UndoIndexInsert, Key: []byte("k1")})

	require.NoError(t, tx.Abort())
	require.Equal(t, []string{"k1"}, iu.deleted)
}

func TestAbortUndoesIndexDeleteByReinserting(t *testing.T) {
	tu, iu := newFakeTableUndoer(), newFakeIndexUndoer()
	tx := txn.New(1, txn.ReadCommitted, tu, iu)
	tx.AppendUndo(txn.UndoRecord{Kind: txn.UndoIndexDelete, Key: []byte("k2"), OldValue: []byte("v2")})

	require.NoError(t, tx.Abort())
	require.Equal(t, []byte("v2"), iu.reinserts["k2"])
}

func TestAbortUndoesIndexUpdateByDeletingNewAndReinsertingOld(t *testing.T) {
	tu, iu := newFakeTableUndoer(), newFakeIndexUndoer()
	tx := txn.New(1, txn.ReadCommitted, tu, iu)
	tx.AppendUndo(txn.UndoRecord{
		Kind:     txn.UndoIndexUpdate,
		Key:      []byte("old-key"),
		NewKey:   []byte("new-key"),
		OldValue: []byte("v"),
	})

	require.NoError(t, tx.Abort())
	require.Equal(t, []string{"new-key"}, iu.deleted)
	require.Equal(t, []byte("v"), iu.reinserts["old-key"])
}

func TestAbortReplaysInLIFOOrder(t *testing.T) {
	tu, iu := newFakeTableUndoer(), newFakeIndexUndoer()
	tx := txn.New(1, txn.ReadCommitted, tu, iu)
	rid := txn.RID{PageID: 1, SlotNum: 0}
	// Simulate two updates to the same row: first old->mid, then mid->new.
	// LIFO replay must restore "old", the value prior to the FIRST update,
	// by undoing the second update first (restoring "mid") then the first
	// (restoring "old") — so the final observed value is from the record
	// appended first, replayed last.
	tx.AppendUndo(txn.UndoRecord{Kind: txn.UndoTableUpdate, RID: rid, OldValue: []byte("old")})
	tx.AppendUndo(txn.UndoRecord{Kind: txn.UndoTableUpdate, RID: rid, OldValue: []byte("mid")})

	require.NoError(t, tx.Abort())
	require.Equal(t, []byte("old"), tu.restored[rid])
}

func TestCommitReleasesNoUndoAndSetsState(t *testing.T) {
	tu, iu := newFakeTableUndoer(), newFakeIndexUndoer()
	tx := txn.New(1, txn.ReadCommitted, tu, iu)
	tx.AppendUndo(txn.UndoRecord{Kind: txn.UndoTableInsert, RID: txn.RID{PageID: 1}})
	tx.Commit()

	require.Equal(t, txn.Committed, tx.State())
	require.False(t, tu.tombstoned[txn.RID{PageID: 1}])
}

func TestManagerBeginAssignsIncreasingIDs(t *testing.T) {
	m := txn.NewManager()
	tu, iu := newFakeTableUndoer(), newFakeIndexUndoer()
	t1 := m.Begin(txn.ReadCommitted, tu, iu)
	t2 := m.Begin(txn.ReadCommitted, tu, iu)
	require.Less(t, t1.ID(), t2.ID())

	got, ok := m.Get(t1.ID())
	require.True(t, ok)
	require.Same(t, t1, got)
}

func TestManagerForgetRemovesTransaction(t *testing.T) {
	m := txn.NewManager()
	tu, iu := newFakeTableUndoer(), newFakeIndexUndoer()
	t1 := m.Begin(txn.ReadCommitted, tu, iu)
	m.Forget(t1.ID())

	_, ok := m.Get(t1.ID())
	require.False(t, ok)
}

func TestRowAndTableLockBookkeeping(t *testing.T) {
	tu, iu := newFakeTableUndoer(), newFakeIndexUndoer()
	tx := txn.New(1, txn.ReadCommitted, tu, iu)
	tx.RecordTableLock(5, txn.IX)
	tx.RecordRowLock(txn.RID{PageID: 5, SlotNum: 0}, txn.X)

	mode, ok := tx.TableLock(5)
	require.True(t, ok)
	require.Equal(t, txn.IX, mode)

	tx.ForgetRowLock(txn.RID{PageID: 5, SlotNum: 0})
	require.False(t, tx.HasRowLocks([]txn.RID{{PageID: 5, SlotNum: 0}}))
}
