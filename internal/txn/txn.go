// Package txn implements the transaction context: isolation level,
// lifecycle state, per-mode lock sets, and the ordered undo log replayed
// on abort.
package txn

import (
	"sync"
	"sync/atomic"
)

// IsolationLevel selects which acquisition preconditions the lock
// manager enforces for this transaction.
type IsolationLevel int

const (
	ReadUncommitted IsolationLevel = iota
	ReadCommitted
	RepeatableRead
)

// State is a transaction's position in the S2PL lifecycle.
type State int

const (
	Growing State = iota
	Shrinking
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Growing:
		return "GROWING"
	case Shrinking:
		return "SHRINKING"
	case Committed:
		return "COMMITTED"
	case Aborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// LockMode is the granted mode of a held lock, mirrored here rather than
// imported from internal/lock to avoid a dependency cycle (the lock
// manager imports txn for IsolationLevel/State).
type LockMode int

const (
	IS LockMode = iota
	IX
	S
	SIX
	X
)

// ID is a transaction identifier. Lower ids are older; the deadlock
// detector chooses the largest id among a cycle as the victim.
type ID uint64

// UndoRecord is one reversible action appended by a DML executor
// (internal/exec). Kind selects which Undo fields apply.
type UndoRecord struct {
	Kind UndoKind

	// Table records.
	RID RID // table-insert/delete/update

	// Index records.
	IndexOID uint32
	Key      []byte
	OldValue []byte // index-update: value to reinsert under Key
	NewKey   []byte // index-update: key to delete (the new, now-wrong, key)
}

// RID mirrors internal/page.RID's shape without importing it, kept
// decoupled the same way LockMode is.
type RID struct {
	PageID  uint32
	SlotNum uint16
}

// UndoKind tags which table/index action an UndoRecord reverses.
type UndoKind int

const (
	UndoTableInsert UndoKind = iota
	UndoTableDelete
	UndoTableUpdate
	UndoIndexInsert
	UndoIndexDelete
	UndoIndexUpdate
)

// TableUndoer and IndexUndoer are the callback interfaces Abort replays
// undo records through; the table heap and each index implement them
// (kept as interfaces here so txn has no import-time dependency on
// internal/heap or internal/bptree).
type TableUndoer interface {
	SetTombstone(rid RID) error
	ClearTombstone(rid RID) error
	RestoreTuple(rid RID, oldData []byte) error
}

type IndexUndoer interface {
	DeleteKey(indexOID uint32, key []byte) error
	ReinsertKey(indexOID uint32, key []byte, value []byte) error
}

// Tx is one transaction's context.
type Tx struct {
	mu sync.Mutex

	id        ID
	isolation IsolationLevel
	state     State

	undo []UndoRecord

	// tableLocks/rowLocks are owned by the lock manager but stored here
	// so unlock-on-commit/abort and force-unlock-on-filter can walk a
	// transaction's own lock set without the manager needing to scan
	// every queue. Keyed by resource identity, valued by granted mode.
	tableLocks map[uint32]LockMode
	rowLocks   map[RID]LockMode

	tableData TableUndoer
	indexData IndexUndoer
}

// New creates a transaction in the GROWING state.
func New(id ID, isolation IsolationLevel, tableUndo TableUndoer, indexUndo IndexUndoer) *Tx {
	return &Tx{
		id:         id,
		isolation:  isolation,
		state:      Growing,
		tableLocks: make(map[uint32]LockMode),
		rowLocks:   make(map[RID]LockMode),
		tableData:  tableUndo,
		indexData:  indexUndo,
	}
}

func (t *Tx) ID() ID                    { return t.id }
func (t *Tx) Isolation() IsolationLevel { return t.isolation }

func (t *Tx) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SetState transitions the transaction's lifecycle state. Callers
// (typically the lock manager) are responsible for only requesting
// legal transitions.
func (t *Tx) SetState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

// MarkAborted sets ABORTED regardless of current state; used by the
// deadlock detector to fail a victim's in-flight wait.
func (t *Tx) MarkAborted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = Aborted
}

// RecordTableLock/RecordRowLock/ForgetTableLock/ForgetRowLock maintain
// this transaction's view of its own lock set, called by the lock
// manager alongside its own queue bookkeeping.
func (t *Tx) RecordTableLock(oid uint32, mode LockMode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tableLocks[oid] = mode
}

func (t *Tx) RecordRowLock(rid RID, mode LockMode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rowLocks[rid] = mode
}

func (t *Tx) ForgetTableLock(oid uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tableLocks, oid)
}

func (t *Tx) ForgetRowLock(rid RID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rowLocks, rid)
}

// TableLock and RowLock report a held lock's mode, if any.
func (t *Tx) TableLock(oid uint32) (LockMode, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.tableLocks[oid]
	return m, ok
}

func (t *Tx) RowLock(rid RID) (LockMode, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.rowLocks[rid]
	return m, ok
}

// HasRowLocks reports whether this transaction holds a row lock on any
// of rids. The lock manager tracks which RIDs belong to which table
// separately, so it passes the RID list already filtered by table.
func (t *Tx) HasRowLocks(rids []RID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range rids {
		if _, ok := t.rowLocks[r]; ok {
			return true
		}
	}
	return false
}

// AppendUndo appends one undo record, to be replayed in LIFO order on
// Abort.
func (t *Tx) AppendUndo(r UndoRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.undo = append(t.undo, r)
}

// Abort replays the undo log in LIFO order and marks the transaction
// ABORTED. Locks are released by the caller after this returns
// (diskdb's Engine.Abort calls the lock manager's UnlockAll).
func (t *Tx) Abort() error {
	t.mu.Lock()
	log := t.undo
	t.undo = nil
	t.mu.Unlock()

	for i := len(log) - 1; i >= 0; i-- {
		r := log[i]
		var err error
		switch r.Kind {
		case UndoTableInsert:
			err = t.tableData.SetTombstone(r.RID)
		case UndoTableDelete:
			err = t.tableData.ClearTombstone(r.RID)
		case UndoTableUpdate:
			err = t.tableData.RestoreTuple(r.RID, r.OldValue)
		case UndoIndexInsert:
			err = t.indexData.DeleteKey(r.IndexOID, r.Key)
		case UndoIndexDelete:
			err = t.indexData.ReinsertKey(r.IndexOID, r.Key, r.OldValue)
		case UndoIndexUpdate:
			if err = t.indexData.DeleteKey(r.IndexOID, r.NewKey); err == nil {
				err = t.indexData.ReinsertKey(r.IndexOID, r.Key, r.OldValue)
			}
		}
		if err != nil {
			return err
		}
	}

	t.mu.Lock()
	t.state = Aborted
	t.mu.Unlock()
	return nil
}

// Commit marks the transaction COMMITTED. Lock release is the caller's
// responsibility, matching Abort.
func (t *Tx) Commit() {
	t.mu.Lock()
	t.state = Committed
	t.mu.Unlock()
}

// Manager issues monotonically increasing transaction ids and tracks
// live transactions.
type Manager struct {
	nextID atomic.Uint64
	mu     sync.Mutex
	active map[ID]*Tx
}

// NewManager creates an empty transaction manager.
func NewManager() *Manager {
	return &Manager{active: make(map[ID]*Tx)}
}

// Begin starts a new transaction at the given isolation level.
func (m *Manager) Begin(isolation IsolationLevel, tableUndo TableUndoer, indexUndo IndexUndoer) *Tx {
	id := ID(m.nextID.Add(1))
	tx := New(id, isolation, tableUndo, indexUndo)
	m.mu.Lock()
	m.active[id] = tx
	m.mu.Unlock()
	return tx
}

// Get returns a live transaction by id, if present.
func (m *Manager) Get(id ID) (*Tx, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.active[id]
	return tx, ok
}

// Forget removes a finished transaction from the live set. Called after
// commit/abort once all locks have been released.
func (m *Manager) Forget(id ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, id)
}
