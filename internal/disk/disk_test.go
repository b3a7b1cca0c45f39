package disk_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"diskdb/internal/disk"
	"diskdb/internal/page"
)

func TestMemManagerAllocateIsMonotone(t *testing.T) {
	m := disk.NewMemManager()
	id1, err := m.AllocatePage()
	require.NoError(t, err)
	id2, err := m.AllocatePage()
	require.NoError(t, err)
	require.Equal(t, id1+1, id2)
}

func TestMemManagerWriteReadRoundTrip(t *testing.T) {
	m := disk.NewMemManager()
	id, err := m.AllocatePage()
	require.NoError(t, err)

	var p page.Page
	p.Header().ID = id
	p.Header().NumItems = 7
	copy(p.Body(), []byte("hello"))

	require.NoError(t, m.WritePage(id, &p))

	var out page.Page
	require.NoError(t, m.ReadPage(id, &out))
	require.Equal(t, uint32(7), out.Header().NumItems)
	require.Equal(t, []byte("hello"), out.Body()[:5])
}

func TestMemManagerReadMissingReturnsZeroPage(t *testing.T) {
	m := disk.NewMemManager()
	var out page.Page
	require.NoError(t, m.ReadPage(42, &out))
	require.Equal(t, page.ID(42), out.Header().ID)
	require.Equal(t, uint32(0), out.Header().NumItems)
}

func TestMemManagerClosedRejectsIO(t *testing.T) {
	m := disk.NewMemManager()
	require.NoError(t, m.Close())
	var p page.Page
	require.ErrorIs(t, m.WritePage(0, &p), disk.ErrClosed)
	require.ErrorIs(t, m.ReadPage(0, &p), disk.ErrClosed)
}
