// Package lock implements the hierarchical multi-granularity lock
// manager: table and row lock maps, each entry a FIFO queue of requests
// guarded by its own latch and condition variable, enforcing the
// IS/IX/S/SIX/X compatibility matrix, the upgrade lattice, and
// isolation-level acquisition preconditions, plus a background
// deadlock detector.
package lock

import (
	"errors"
	"sort"
	"sync"
	"time"

	"diskdb/internal/txn"
)

// Mode is a lock's granularity/intent. A type alias of txn.LockMode, so
// callers can pass either name and values index the package-local
// compatibility matrix directly.
type Mode = txn.LockMode

const (
	IS  = txn.IS
	IX  = txn.IX
	S   = txn.S
	SIX = txn.SIX
	X   = txn.X
)

var compat = [5][5]bool{
	//           IS     IX     S      SIX    X
	/* IS  */ {true, true, true, true, false},
	/* IX  */ {true, true, false, false, false},
	/* S   */ {true, false, true, false, false},
	/* SIX */ {true, false, false, false, false},
	/* X   */ {false, false, false, false, false},
}

func compatible(held, requested Mode) bool { return compat[held][requested] }

var upgradeLattice = map[Mode]map[Mode]bool{
	IS:  {IX: true, S: true, SIX: true, X: true},
	S:   {SIX: true, X: true},
	IX:  {SIX: true, X: true},
	SIX: {X: true},
}

func canUpgrade(old, new_ Mode) bool {
	if old == new_ {
		return true
	}
	return upgradeLattice[old][new_]
}

// Sentinel errors, one per abort reason.
var (
	ErrLockOnShrinking             = errors.New("lock: LOCK_ON_SHRINKING")
	ErrLockSharedOnReadUncommitted = errors.New("lock: LOCK_SHARED_ON_READ_UNCOMMITTED")
	ErrUpgradeConflict             = errors.New("lock: UPGRADE_CONFLICT")
	ErrInvalidUpgrade              = errors.New("lock: INCOMPATIBLE_UPGRADE")
	ErrAborted                     = errors.New("lock: transaction aborted while waiting")
	ErrNotHeld                     = errors.New("lock: ATTEMPTED_UNLOCK_BUT_NO_LOCK_HELD")
	ErrRowLocksOnTable             = errors.New("lock: TABLE_UNLOCKED_BEFORE_UNLOCKING_ROWS")
	ErrIntentionRowMode            = errors.New("lock: ATTEMPTED_INTENTION_LOCK_ON_ROW")
	ErrTableLockNotPresent         = errors.New("lock: TABLE_LOCK_NOT_PRESENT")
)

// abortWith marks tx ABORTED and passes err through: every protocol
// violation kills the transaction at the point of detection, it is not
// the caller's job to react.
func abortWith(tx *txn.Tx, err error) error {
	tx.MarkAborted()
	return err
}

type request struct {
	txnID   txn.ID
	tx      *txn.Tx
	mode    Mode
	granted bool
}

type queue struct {
	mu        sync.Mutex
	cond      *sync.Cond
	requests  []*request
	upgrading txn.ID // 0 means none
}

func newQueue() *queue {
	q := &queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Logger is the diagnostics sink the deadlock detector reports victims
// through; satisfied by diskdb.Logger (kept decoupled here to avoid an
// import cycle).
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
}

type discardLogger struct{}

func (discardLogger) Error(string, ...any) {}
func (discardLogger) Warn(string, ...any)  {}
func (discardLogger) Info(string, ...any)  {}

// Manager owns the table and row lock maps.
type Manager struct {
	tableMu sync.Mutex
	tables  map[uint32]*queue

	rowMu sync.Mutex
	rows  map[txn.RID]*queue

	// tableRows tracks which RIDs belong to which table, recorded by
	// LockRow itself, so UnlockTable's "no row locks held" check can
	// find a table's row locks without a separate index. Keyed by table
	// oid.
	memberMu  sync.Mutex
	tableRows map[uint32]map[txn.RID]bool

	cycleInterval time.Duration
	stop          chan struct{}
	stopped       sync.Once
	log           Logger
}

// NewManager creates a lock manager and starts its background deadlock
// detector, which runs every cycleInterval.
func NewManager(cycleInterval time.Duration) *Manager {
	m := &Manager{
		tables:        make(map[uint32]*queue),
		rows:          make(map[txn.RID]*queue),
		tableRows:     make(map[uint32]map[txn.RID]bool),
		cycleInterval: cycleInterval,
		stop:          make(chan struct{}),
		log:           discardLogger{},
	}
	go m.detectLoop()
	return m
}

// SetLogger routes deadlock-victim reports through l. Call before any
// transaction traffic; the detector reads it without a latch.
func (m *Manager) SetLogger(l Logger) {
	if l != nil {
		m.log = l
	}
}

// Close stops the background deadlock detector.
func (m *Manager) Close() {
	m.stopped.Do(func() { close(m.stop) })
}

func (m *Manager) tableQueue(oid uint32) *queue {
	m.tableMu.Lock()
	defer m.tableMu.Unlock()
	q, ok := m.tables[oid]
	if !ok {
		q = newQueue()
		m.tables[oid] = q
	}
	return q
}

func (m *Manager) rowQueue(rid txn.RID) *queue {
	m.rowMu.Lock()
	defer m.rowMu.Unlock()
	q, ok := m.rows[rid]
	if !ok {
		q = newQueue()
		m.rows[rid] = q
	}
	return q
}

// checkIsolationPreconditions enforces what each isolation level may
// acquire in each lifecycle state.
func checkIsolationPreconditions(tx *txn.Tx, mode Mode) error {
	state := tx.State()
	switch tx.Isolation() {
	case txn.RepeatableRead:
		if state == txn.Shrinking {
			return abortWith(tx, ErrLockOnShrinking)
		}
	case txn.ReadCommitted:
		if state == txn.Shrinking && mode != S && mode != IS {
			return abortWith(tx, ErrLockOnShrinking)
		}
	case txn.ReadUncommitted:
		if mode != X && mode != IX {
			return abortWith(tx, ErrLockSharedOnReadUncommitted)
		}
		if state != txn.Growing {
			return abortWith(tx, ErrLockOnShrinking)
		}
	}
	return nil
}

// grantAllowed reports whether id's pending request in mode can be
// granted right now: compatible with every granted holder, not bypassed
// past an earlier incompatible waiter, and not blocked by someone
// else's pending upgrade. Caller holds q.mu.
func grantAllowed(q *queue, id txn.ID, mode Mode) bool {
	// While an upgrade is pending, only the upgrading transaction may
	// be granted.
	if q.upgrading != 0 && q.upgrading != id {
		return false
	}
	myIdx := requestIndex(q, id)
	for i, r := range q.requests {
		if r.txnID == id {
			continue
		}
		if r.granted {
			if !compatible(r.mode, mode) {
				return false
			}
			continue
		}
		// An ungranted request strictly ahead of id blocks id if the two
		// modes conflict, preserving FIFO among conflicting waiters. The
		// upgrading transaction is exempt: its re-enqueued request sits
		// at the tail but takes priority over every plain waiter.
		if q.upgrading != id && i < myIdx && !compatible(r.mode, mode) {
			return false
		}
	}
	return true
}

func requestIndex(q *queue, id txn.ID) int {
	for i, r := range q.requests {
		if r.txnID == id {
			return i
		}
	}
	return -1
}

// LockTable acquires a table-granularity lock for tx in mode.
func (m *Manager) LockTable(tx *txn.Tx, oid uint32, mode Mode) error {
	if err := checkIsolationPreconditions(tx, mode); err != nil {
		return err
	}
	q := m.tableQueue(oid)
	if err := m.acquire(q, tx, mode); err != nil {
		return err
	}
	tx.RecordTableLock(oid, mode)
	return nil
}

// LockRow acquires a row lock for tx in mode (must be S or X),
// requiring the caller to already hold the matching table intention
// lock: an X row lock needs IX, SIX, or X on the table; an S row lock
// needs any table lock.
func (m *Manager) LockRow(tx *txn.Tx, tableOID uint32, rid txn.RID, mode Mode) error {
	if mode != S && mode != X {
		return abortWith(tx, ErrIntentionRowMode)
	}
	held, ok := tx.TableLock(tableOID)
	if !ok {
		return abortWith(tx, ErrTableLockNotPresent)
	}
	if mode == X && held != IX && held != SIX && held != X {
		return abortWith(tx, ErrTableLockNotPresent)
	}
	if err := checkIsolationPreconditions(tx, mode); err != nil {
		return err
	}
	q := m.rowQueue(rid)
	if err := m.acquire(q, tx, mode); err != nil {
		return err
	}
	tx.RecordRowLock(rid, mode)

	m.memberMu.Lock()
	set, ok := m.tableRows[tableOID]
	if !ok {
		set = make(map[txn.RID]bool)
		m.tableRows[tableOID] = set
	}
	set[rid] = true
	m.memberMu.Unlock()
	return nil
}

// acquire enqueues (or upgrades) a request on q and blocks on its
// condition variable until granted or the transaction is aborted.
func (m *Manager) acquire(q *queue, tx *txn.Tx, mode Mode) error {
	q.mu.Lock()

	var existing *request
	for _, r := range q.requests {
		if r.txnID == tx.ID() {
			existing = r
			break
		}
	}

	if existing != nil {
		if existing.mode == mode {
			q.mu.Unlock()
			return nil
		}
		if q.upgrading != 0 && q.upgrading != tx.ID() {
			q.mu.Unlock()
			return abortWith(tx, ErrUpgradeConflict)
		}
		if !canUpgrade(existing.mode, mode) {
			q.mu.Unlock()
			return abortWith(tx, ErrInvalidUpgrade)
		}
		removeRequest(q, existing)
		q.upgrading = tx.ID()
	}

	req := &request{txnID: tx.ID(), tx: tx, mode: mode}
	q.requests = append(q.requests, req)

	for !grantAllowed(q, tx.ID(), mode) {
		if tx.State() == txn.Aborted {
			removeRequest(q, req)
			if q.upgrading == tx.ID() {
				q.upgrading = 0
			}
			q.cond.Broadcast()
			q.mu.Unlock()
			return ErrAborted
		}
		q.cond.Wait()
		if tx.State() == txn.Aborted {
			removeRequest(q, req)
			if q.upgrading == tx.ID() {
				q.upgrading = 0
			}
			q.cond.Broadcast()
			q.mu.Unlock()
			return ErrAborted
		}
	}

	req.granted = true
	if q.upgrading == tx.ID() {
		q.upgrading = 0
	}
	q.mu.Unlock()
	return nil
}

func removeRequest(q *queue, target *request) {
	for i, r := range q.requests {
		if r == target {
			q.requests = append(q.requests[:i], q.requests[i+1:]...)
			return
		}
	}
}

// transitionOnUnlock applies the S2PL GROWING -> SHRINKING rule: any X
// unlock, or an S unlock under RepeatableRead, ends the growing phase.
// A force unlock (executors dropping visibility locks on filtered-out
// tuples) never transitions state.
func transitionOnUnlock(tx *txn.Tx, mode Mode, force bool) {
	if force {
		return
	}
	if mode == X || (mode == S && tx.Isolation() == txn.RepeatableRead) {
		if tx.State() == txn.Growing {
			tx.SetState(txn.Shrinking)
		}
	}
}

// UnlockTable releases a table lock, requiring no row locks remain held
// on that table.
func (m *Manager) UnlockTable(tx *txn.Tx, oid uint32) error {
	mode, ok := tx.TableLock(oid)
	if !ok {
		return abortWith(tx, ErrNotHeld)
	}

	m.memberMu.Lock()
	set := m.tableRows[oid]
	held := false
	if set != nil {
		for rid := range set {
			if _, ok := tx.RowLock(rid); ok {
				held = true
				break
			}
		}
	}
	m.memberMu.Unlock()
	if held {
		return abortWith(tx, ErrRowLocksOnTable)
	}

	q := m.tableQueue(oid)
	if err := releaseFromQueue(q, tx.ID()); err != nil {
		return abortWith(tx, err)
	}
	transitionOnUnlock(tx, mode, false)
	tx.ForgetTableLock(oid)
	return nil
}

// UnlockRow releases a row lock. force suppresses the S2PL state
// transition, used by executors dropping visibility locks for tuples
// that were filtered out.
func (m *Manager) UnlockRow(tx *txn.Tx, rid txn.RID, force bool) error {
	mode, ok := tx.RowLock(rid)
	if !ok {
		return abortWith(tx, ErrNotHeld)
	}
	q := m.rowQueue(rid)
	if err := releaseFromQueue(q, tx.ID()); err != nil {
		return abortWith(tx, err)
	}
	transitionOnUnlock(tx, mode, force)
	tx.ForgetRowLock(rid)
	return nil
}

func releaseFromQueue(q *queue, id txn.ID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, r := range q.requests {
		if r.txnID == id {
			if !r.granted {
				return ErrNotHeld
			}
			removeRequest(q, r)
			q.cond.Broadcast()
			return nil
		}
	}
	return ErrNotHeld
}

// UnlockAll releases every table and row lock tx holds, called by the
// transaction manager after commit or abort-replay completes.
func (m *Manager) UnlockAll(tx *txn.Tx) {
	// Row locks first: UnlockTable refuses while any row lock remains.
	m.memberMu.Lock()
	var rids []txn.RID
	for _, set := range m.tableRows {
		for rid := range set {
			if _, ok := tx.RowLock(rid); ok {
				rids = append(rids, rid)
			}
		}
	}
	m.memberMu.Unlock()
	for _, rid := range rids {
		_ = m.UnlockRow(tx, rid, true)
	}

	m.tableMu.Lock()
	var tableOIDs []uint32
	for oid := range m.tables {
		if _, ok := tx.TableLock(oid); ok {
			tableOIDs = append(tableOIDs, oid)
		}
	}
	m.tableMu.Unlock()
	for _, oid := range tableOIDs {
		_ = m.UnlockTable(tx, oid)
	}
}

// detectLoop runs the background wait-for-graph deadlock detector every
// cycleInterval until Close.
func (m *Manager) detectLoop() {
	ticker := time.NewTicker(m.cycleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.detectOnce()
		}
	}
}

// detectOnce builds the wait-for graph across every table and row
// queue and aborts cycle members' youngest transaction until the graph
// is acyclic.
func (m *Manager) detectOnce() {
	for {
		graph, txByID := m.buildWaitForGraph()
		victim, found := findCycleVictim(graph)
		if !found {
			return
		}
		if tx, ok := txByID[victim]; ok {
			m.log.Warn("deadlock detected, aborting victim", "txn", uint64(victim))
			tx.MarkAborted()
		}
		m.broadcastAll()
	}
}

func (m *Manager) broadcastAll() {
	m.tableMu.Lock()
	for _, q := range m.tables {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	}
	m.tableMu.Unlock()

	m.rowMu.Lock()
	for _, q := range m.rows {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	}
	m.rowMu.Unlock()
}

func (m *Manager) buildWaitForGraph() (map[txn.ID][]txn.ID, map[txn.ID]*txn.Tx) {
	graph := make(map[txn.ID][]txn.ID)
	txByID := make(map[txn.ID]*txn.Tx)

	addFromQueue := func(q *queue) {
		q.mu.Lock()
		defer q.mu.Unlock()
		for _, u := range q.requests {
			if u.granted {
				continue
			}
			txByID[u.txnID] = u.tx
			for _, v := range q.requests {
				if v.granted && v.tx.State() != txn.Aborted {
					txByID[v.txnID] = v.tx
					graph[u.txnID] = append(graph[u.txnID], v.txnID)
				}
			}
		}
	}

	m.tableMu.Lock()
	tables := make([]*queue, 0, len(m.tables))
	for _, q := range m.tables {
		tables = append(tables, q)
	}
	m.tableMu.Unlock()
	for _, q := range tables {
		addFromQueue(q)
	}

	m.rowMu.Lock()
	rows := make([]*queue, 0, len(m.rows))
	for _, q := range m.rows {
		rows = append(rows, q)
	}
	m.rowMu.Unlock()
	for _, q := range rows {
		addFromQueue(q)
	}

	return graph, txByID
}

// findCycleVictim searches for a cycle by DFS from each node with
// out-edges, in sorted txn_id order for determinism, returning the
// largest (youngest) txn_id among the first cycle found.
func findCycleVictim(graph map[txn.ID][]txn.ID) (txn.ID, bool) {
	starts := make([]txn.ID, 0, len(graph))
	for id := range graph {
		starts = append(starts, id)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	for _, start := range starts {
		visiting := make(map[txn.ID]bool)
		path := []txn.ID{}
		if cycle, ok := dfs(graph, start, visiting, path); ok {
			return maxID(cycle), true
		}
	}
	return 0, false
}

func dfs(graph map[txn.ID][]txn.ID, node txn.ID, visiting map[txn.ID]bool, path []txn.ID) ([]txn.ID, bool) {
	if visiting[node] {
		// Found the cycle: everything from node's first occurrence onward.
		for i, p := range path {
			if p == node {
				return path[i:], true
			}
		}
		return nil, false
	}
	visiting[node] = true
	path = append(path, node)

	neighbors := append([]txn.ID(nil), graph[node]...)
	sort.Slice(neighbors, func(i, j int) bool { return neighbors[i] < neighbors[j] })
	for _, next := range neighbors {
		if cycle, ok := dfs(graph, next, visiting, path); ok {
			return cycle, true
		}
	}
	delete(visiting, node)
	return nil, false
}

func maxID(ids []txn.ID) txn.ID {
	m := ids[0]
	for _, id := range ids[1:] {
		if id > m {
			m = id
		}
	}
	return m
}
