package buffer_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"diskdb/internal/buffer"
	"diskdb/internal/disk"
)

func TestNewPageThenFetchReturnsSameContent(t *testing.T) {
	pool := buffer.New(4, 2, disk.NewMemManager(), nil)

	g, err := pool.NewPage()
	require.NoError(t, err)
	id := g.PageID()
	copy(g.Page().Body(), []byte("payload"))
	require.NoError(t, g.Close())

	rg, err := pool.FetchPageRead(id)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), rg.Page().Body()[:7])
	require.NoError(t, rg.Close())
}

func TestEvictionFlushesDirtyVictim(t *testing.T) {
	d := disk.NewMemManager()
	pool := buffer.New(1, 2, d, nil)

	g1, err := pool.NewPage()
	require.NoError(t, err)
	id1 := g1.PageID()
	copy(g1.Page().Body(), []byte("dirty"))
	require.NoError(t, g1.Close())

	// Pool has exactly one frame; allocating a second page forces eviction
	// of the first, which must be written through since it was dirtied.
	g2, err := pool.NewPage()
	require.NoError(t, err)
	id2 := g2.PageID()
	require.NoError(t, g2.Close())
	require.NotEqual(t, id1, id2)

	rg, err := pool.FetchPageRead(id1)
	require.NoError(t, err)
	require.Equal(t, []byte("dirty"), rg.Page().Body()[:5])
	require.NoError(t, rg.Close())
}

func TestNoFreeFramesWhenAllPinned(t *testing.T) {
	pool := buffer.New(1, 2, disk.NewMemManager(), nil)

	g1, err := pool.NewPage()
	require.NoError(t, err)

	_, err = pool.NewPage()
	require.ErrorIs(t, err, buffer.ErrNoFreeFrames)

	require.NoError(t, g1.Close())
}

func TestDeletePageRejectsPinned(t *testing.T) {
	pool := buffer.New(2, 2, disk.NewMemManager(), nil)

	g, err := pool.NewPage()
	require.NoError(t, err)
	id := g.PageID()

	require.ErrorIs(t, pool.DeletePage(id), buffer.ErrPagePinned)

	require.NoError(t, g.Close())
	require.NoError(t, pool.DeletePage(id))
	// Deleting an already-absent page is a no-op success.
	require.NoError(t, pool.DeletePage(id))
}

func TestWriteGuardMarksDirtyOnClose(t *testing.T) {
	d := disk.NewMemManager()
	pool := buffer.New(1, 2, d, nil)

	g, err := pool.NewPage()
	require.NoError(t, err)
	id := g.PageID()
	require.NoError(t, g.Close())

	wg, err := pool.FetchPageWrite(id)
	require.NoError(t, err)
	copy(wg.Page().Body(), []byte("x"))
	require.NoError(t, wg.Close())

	// Force eviction by allocating past capacity; the write-dirtied page
	// must have been flushed to disk, so a re-fetch reloads the mutation.
	g2, err := pool.NewPage()
	require.NoError(t, err)
	require.NoError(t, g2.Close())

	rg, err := pool.FetchPageRead(id)
	require.NoError(t, err)
	require.Equal(t, byte('x'), rg.Page().Body()[0])
	require.NoError(t, rg.Close())
}

func TestDoubleCloseIsNoop(t *testing.T) {
	pool := buffer.New(2, 2, disk.NewMemManager(), nil)
	g, err := pool.NewPage()
	require.NoError(t, err)
	require.NoError(t, g.Close())
	require.NoError(t, g.Close())
}

func TestConcurrentFetchesSeeIdenticalContentAndUnpinFully(t *testing.T) {
	d := disk.NewMemManager()
	pool := buffer.New(8, 2, d, nil)

	g, err := pool.NewPage()
	require.NoError(t, err)
	id := g.PageID()
	copy(g.Page().Body(), []byte("shared-bytes"))
	require.NoError(t, g.Close())

	const readers = 16
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rg, err := pool.FetchPageRead(id)
			if err != nil {
				t.Error(err)
				return
			}
			if string(rg.Page().Body()[:12]) != "shared-bytes" {
				t.Errorf("reader saw %q", rg.Page().Body()[:12])
			}
			if err := rg.Close(); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	// Every fetch was paired with an unpin, so the page is deletable
	// (DeletePage refuses while any pin remains).
	require.NoError(t, pool.DeletePage(id))
}
