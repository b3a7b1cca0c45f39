package lock_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"diskdb/internal/lock"
	"diskdb/internal/txn"
)

type noopTableUndo struct{}

func (noopTableUndo) SetTombstone(txn.RID) error         { return nil }
func (noopTableUndo) ClearTombstone(txn.RID) error       { return nil }
func (noopTableUndo) RestoreTuple(txn.RID, []byte) error { return nil }

type noopIndexUndo struct{}

func (noopIndexUndo) DeleteKey(uint32, []byte) error           { return nil }
func (noopIndexUndo) ReinsertKey(uint32, []byte, []byte) error { return nil }

func newTx(id txn.ID, iso txn.IsolationLevel) *txn.Tx {
	return txn.New(id, iso, noopTableUndo{}, noopIndexUndo{})
}

func TestCompatibleTableLocksBothGrant(t *testing.T) {
	m := lock.NewManager(time.Hour)
	defer m.Close()
	t1 := newTx(1, txn.RepeatableRead)
	t2 := newTx(2, txn.RepeatableRead)

	require.NoError(t, m.LockTable(t1, 10, lock.IS))
	require.NoError(t, m.LockTable(t2, 10, lock.IS))
}

func TestIncompatibleTableLocksBlockUntilUnlock(t *testing.T) {
	m := lock.NewManager(time.Hour)
	defer m.Close()
	t1 := newTx(1, txn.RepeatableRead)
	t2 := newTx(2, txn.RepeatableRead)

	require.NoError(t, m.LockTable(t1, 10, lock.X))

	done := make(chan error, 1)
	go func() { done <- m.LockTable(t2, 10, lock.S) }()

	select {
	case <-done:
		t.Fatal("lock granted before conflicting holder released")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, m.UnlockTable(t1, 10))
	require.NoError(t, <-done)
}

func TestUpgradeLatticeAllowsISThenX(t *testing.T) {
	m := lock.NewManager(time.Hour)
	defer m.Close()
	t1 := newTx(1, txn.RepeatableRead)

	require.NoError(t, m.LockTable(t1, 10, lock.IS))
	require.NoError(t, m.LockTable(t1, 10, lock.X))
	mode, ok := t1.TableLock(10)
	require.True(t, ok)
	require.Equal(t, lock.X, mode)
}

func TestInvalidUpgradeFromXToSRejected(t *testing.T) {
	m := lock.NewManager(time.Hour)
	defer m.Close()
	t1 := newTx(1, txn.RepeatableRead)

	require.NoError(t, m.LockTable(t1, 10, lock.X))
	err := m.LockTable(t1, 10, lock.S)
	require.ErrorIs(t, err, lock.ErrInvalidUpgrade)
	require.Equal(t, txn.Aborted, t1.State(), "a protocol violation kills the transaction")
}

func TestReadUncommittedRejectsSharedLock(t *testing.T) {
	m := lock.NewManager(time.Hour)
	defer m.Close()
	t1 := newTx(1, txn.ReadUncommitted)
	err := m.LockTable(t1, 10, lock.S)
	require.ErrorIs(t, err, lock.ErrLockSharedOnReadUncommitted)
	require.Equal(t, txn.Aborted, t1.State())
}

func TestXUnlockTransitionsGrowingToShrinking(t *testing.T) {
	m := lock.NewManager(time.Hour)
	defer m.Close()
	t1 := newTx(1, txn.RepeatableRead)

	require.NoError(t, m.LockTable(t1, 10, lock.X))
	require.NoError(t, m.UnlockTable(t1, 10))
	require.Equal(t, txn.Shrinking, t1.State())
}

func TestLockOnShrinkingUnderRepeatableReadFails(t *testing.T) {
	m := lock.NewManager(time.Hour)
	defer m.Close()
	t1 := newTx(1, txn.RepeatableRead)

	require.NoError(t, m.LockTable(t1, 10, lock.X))
	require.NoError(t, m.UnlockTable(t1, 10))

	err := m.LockTable(t1, 11, lock.S)
	require.ErrorIs(t, err, lock.ErrLockOnShrinking)
	require.Equal(t, txn.Aborted, t1.State())
}

func TestUnlockTableWithHeldRowLocksFails(t *testing.T) {
	m := lock.NewManager(time.Hour)
	defer m.Close()
	t1 := newTx(1, txn.RepeatableRead)

	require.NoError(t, m.LockTable(t1, 10, lock.IX))
	require.NoError(t, m.LockRow(t1, 10, txn.RID{PageID: 1, SlotNum: 0}, lock.X))

	err := m.UnlockTable(t1, 10)
	require.ErrorIs(t, err, lock.ErrRowLocksOnTable)
	require.Equal(t, txn.Aborted, t1.State())
}

func TestForceUnlockRowSuppressesStateTransition(t *testing.T) {
	m := lock.NewManager(time.Hour)
	defer m.Close()
	t1 := newTx(1, txn.RepeatableRead)

	require.NoError(t, m.LockTable(t1, 10, lock.IS))
	require.NoError(t, m.LockRow(t1, 10, txn.RID{PageID: 1, SlotNum: 0}, lock.S))
	require.NoError(t, m.UnlockRow(t1, txn.RID{PageID: 1, SlotNum: 0}, true))

	require.Equal(t, txn.Growing, t1.State())
}

func TestUnlockAllReleasesRowsBeforeTables(t *testing.T) {
	m := lock.NewManager(time.Hour)
	defer m.Close()
	t1 := newTx(1, txn.RepeatableRead)

	require.NoError(t, m.LockTable(t1, 10, lock.IX))
	require.NoError(t, m.LockRow(t1, 10, txn.RID{PageID: 1, SlotNum: 0}, lock.X))

	m.UnlockAll(t1)

	_, ok := t1.TableLock(10)
	require.False(t, ok)
	_, ok = t1.RowLock(txn.RID{PageID: 1, SlotNum: 0})
	require.False(t, ok)
}

func TestDeadlockDetectorAbortsYoungestTransaction(t *testing.T) {
	m := lock.NewManager(20 * time.Millisecond)
	defer m.Close()
	t1 := newTx(1, txn.RepeatableRead)
	t2 := newTx(2, txn.RepeatableRead)

	require.NoError(t, m.LockTable(t1, 10, lock.X))
	require.NoError(t, m.LockTable(t2, 11, lock.X))

	errCh1 := make(chan error, 1)
	errCh2 := make(chan error, 1)
	go func() { errCh1 <- m.LockTable(t1, 11, lock.X) }()
	go func() { errCh2 <- m.LockTable(t2, 10, lock.X) }()

	select {
	case err := <-errCh2:
		require.ErrorIs(t, err, lock.ErrAborted)
		require.Equal(t, txn.Aborted, t2.State())
		require.NotEqual(t, txn.Aborted, t1.State(), "the older transaction must not be the victim")
	case err := <-errCh1:
		require.Failf(t, "wrong victim", "older transaction t1 returned first: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("deadlock was never detected")
	}
}

// FIFO fairness: with A holding S, a waiting X blocks every later
// incompatible request, so a second S arriving behind the X waits its
// turn rather than overtaking.
func TestFIFOQueuePreventsOvertakingAnIncompatibleWaiter(t *testing.T) {
	m := lock.NewManager(time.Hour)
	defer m.Close()
	a := newTx(1, txn.RepeatableRead)
	b := newTx(2, txn.RepeatableRead)
	c := newTx(3, txn.RepeatableRead)

	require.NoError(t, m.LockTable(a, 10, lock.S))

	bDone := make(chan error, 1)
	go func() { bDone <- m.LockTable(b, 10, lock.X) }()
	time.Sleep(20 * time.Millisecond)

	cDone := make(chan error, 1)
	go func() { cDone <- m.LockTable(c, 10, lock.S) }()

	select {
	case <-bDone:
		t.Fatal("X granted while S still held")
	case <-cDone:
		t.Fatal("later S overtook the waiting X")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, m.UnlockTable(a, 10))
	require.NoError(t, <-bDone, "X is granted alone once the S holder releases")

	select {
	case <-cDone:
		t.Fatal("S granted while X held")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, m.UnlockTable(b, 10))
	require.NoError(t, <-cDone)
}

func TestRowDeadlockAbortsExactlyOneTransaction(t *testing.T) {
	m := lock.NewManager(20 * time.Millisecond)
	defer m.Close()
	t1 := newTx(1, txn.RepeatableRead)
	t2 := newTx(2, txn.RepeatableRead)

	r1 := txn.RID{PageID: 1, SlotNum: 1}
	r2 := txn.RID{PageID: 1, SlotNum: 2}

	require.NoError(t, m.LockTable(t1, 10, lock.IX))
	require.NoError(t, m.LockTable(t2, 10, lock.IX))
	require.NoError(t, m.LockRow(t1, 10, r1, lock.X))
	require.NoError(t, m.LockRow(t2, 10, r2, lock.X))

	errCh1 := make(chan error, 1)
	errCh2 := make(chan error, 1)
	go func() { errCh1 <- m.LockRow(t1, 10, r2, lock.X) }()
	go func() { errCh2 <- m.LockRow(t2, 10, r1, lock.X) }()

	// The youngest cycle member (t2) is the victim; once its abort
	// cleanup releases its granted locks, t1's wait completes.
	select {
	case err := <-errCh2:
		require.ErrorIs(t, err, lock.ErrAborted)
		require.Equal(t, txn.Aborted, t2.State())
	case <-time.After(2 * time.Second):
		t.Fatal("deadlock was never detected")
	}
	m.UnlockAll(t2)
	require.NoError(t, <-errCh1)
}

func TestRowXLockRequiresWriteIntentOnTable(t *testing.T) {
	m := lock.NewManager(time.Hour)
	defer m.Close()
	t1 := newTx(1, txn.RepeatableRead)

	require.NoError(t, m.LockTable(t1, 10, lock.IS))
	err := m.LockRow(t1, 10, txn.RID{PageID: 1, SlotNum: 0}, lock.X)
	require.ErrorIs(t, err, lock.ErrTableLockNotPresent)
	require.Equal(t, txn.Aborted, t1.State())

	t2 := newTx(2, txn.RepeatableRead)
	require.NoError(t, m.LockTable(t2, 10, lock.IX))
	require.NoError(t, m.LockRow(t2, 10, txn.RID{PageID: 1, SlotNum: 0}, lock.X))
}

func TestRowLockRejectsIntentionModes(t *testing.T) {
	m := lock.NewManager(time.Hour)
	defer m.Close()
	t1 := newTx(1, txn.RepeatableRead)

	require.NoError(t, m.LockTable(t1, 10, lock.IX))
	err := m.LockRow(t1, 10, txn.RID{PageID: 1, SlotNum: 0}, lock.IX)
	require.ErrorIs(t, err, lock.ErrIntentionRowMode)
	require.Equal(t, txn.Aborted, t1.State())
}

func TestConcurrentUpgradeConflictRejected(t *testing.T) {
	m := lock.NewManager(time.Hour)
	defer m.Close()
	t1 := newTx(1, txn.RepeatableRead)
	t2 := newTx(2, txn.RepeatableRead)

	require.NoError(t, m.LockTable(t1, 10, lock.S))
	require.NoError(t, m.LockTable(t2, 10, lock.S))

	done := make(chan error, 1)
	go func() { done <- m.LockTable(t1, 10, lock.X) }()
	time.Sleep(20 * time.Millisecond)

	err := m.LockTable(t2, 10, lock.X)
	require.ErrorIs(t, err, lock.ErrUpgradeConflict)
	require.Equal(t, txn.Aborted, t2.State())

	// The conflict victim's abort cleanup releases its S, letting the
	// pending upgrade complete.
	m.UnlockAll(t2)
	require.NoError(t, <-done, "pending upgrade completes once the other S releases")
}

func TestUnlockWithoutLockHeldAborts(t *testing.T) {
	m := lock.NewManager(time.Hour)
	defer m.Close()
	t1 := newTx(1, txn.RepeatableRead)

	err := m.UnlockTable(t1, 10)
	require.ErrorIs(t, err, lock.ErrNotHeld)
	require.Equal(t, txn.Aborted, t1.State())

	t2 := newTx(2, txn.RepeatableRead)
	err = m.UnlockRow(t2, txn.RID{PageID: 1, SlotNum: 0}, false)
	require.ErrorIs(t, err, lock.ErrNotHeld)
	require.Equal(t, txn.Aborted, t2.State())
}
