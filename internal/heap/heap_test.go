package heap_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"diskdb/internal/buffer"
	"diskdb/internal/disk"
	"diskdb/internal/heap"
)

func newTestHeap(t *testing.T) *heap.Heap {
	t.Helper()
	pool := buffer.New(32, 2, disk.NewMemManager(), nil)
	hp, _, err := heap.Create(pool)
	require.NoError(t, err)
	return hp
}

func TestInsertThenGetRoundTrips(t *testing.T) {
	hp := newTestHeap(t)
	rid, err := hp.InsertTuple([]byte("hello"))
	require.NoError(t, err)

	data, found, err := hp.GetTuple(rid)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("hello"), data)
}

func TestMarkDeleteHidesTupleUntilTombstoneCleared(t *testing.T) {
	hp := newTestHeap(t)
	rid, err := hp.InsertTuple([]byte("row"))
	require.NoError(t, err)

	require.NoError(t, hp.MarkDelete(rid))
	_, found, err := hp.GetTuple(rid)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, hp.ClearTombstone(rid))
	data, found, err := hp.GetTuple(rid)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("row"), data)
}

func TestUpdateInPlaceKeepsRIDStable(t *testing.T) {
	hp := newTestHeap(t)
	rid, err := hp.InsertTuple([]byte("short"))
	require.NoError(t, err)

	require.NoError(t, hp.UpdateTupleInPlace(rid, []byte("a-longer-replacement")))
	data, found, err := hp.GetTuple(rid)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("a-longer-replacement"), data)
}

func TestInsertSpillsAcrossPagesAndScanSkipsTombstones(t *testing.T) {
	hp := newTestHeap(t)

	// Enough oversized tuples to overflow the first page.
	const n = 200
	payload := make([]byte, 128)
	rids := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		data := append(payload[:0:0], payload...)
		copy(data, fmt.Sprintf("tuple-%04d", i))
		rid, err := hp.InsertTuple(data)
		require.NoError(t, err)
		rids[fmt.Sprintf("%d/%d", rid.PageID, rid.SlotNum)] = true
	}
	require.Len(t, rids, n, "RIDs must be unique")

	// Tombstone every third tuple; Scan must skip exactly those.
	it, err := hp.Scan()
	require.NoError(t, err)
	i := 0
	for it.Valid() {
		if i%3 == 0 {
			require.NoError(t, hp.MarkDelete(it.RID()))
		}
		i++
		it.Next()
	}
	require.Equal(t, n, i)

	it, err = hp.Scan()
	require.NoError(t, err)
	live := 0
	for it.Valid() {
		live++
		it.Next()
	}
	require.Equal(t, n-(n+2)/3, live)
}

func TestTupleTooLargeRejected(t *testing.T) {
	hp := newTestHeap(t)
	_, err := hp.InsertTuple(make([]byte, 1<<16))
	require.ErrorIs(t, err, heap.ErrTupleTooLarge)
}
