package diskdb

import (
	"bytes"
	"sync"
	"time"

	"diskdb/internal/bptree"
	"diskdb/internal/buffer"
	"diskdb/internal/catalog"
	"diskdb/internal/disk"
	"diskdb/internal/exec"
	"diskdb/internal/heap"
	"diskdb/internal/lock"
	"diskdb/internal/optimizer"
	"diskdb/internal/page"
	"diskdb/internal/plan"
	"diskdb/internal/txn"
	"diskdb/internal/types"
)

// Engine is the user-facing handle onto one instance of the storage and
// execution substrate: a buffer pool over a disk.Manager, a catalog,
// a lock manager running its own deadlock detector, and a transaction
// manager. Concurrency control is pin-based buffering plus strict
// two-phase locking; there is no MVCC and no WAL.
type Engine struct {
	mu     sync.RWMutex
	closed bool

	opts  Options
	disk  disk.Manager
	pool  *buffer.Pool
	cat   *catalog.Catalog
	locks *lock.Manager
	txns  *txn.Manager
	undo  *undoer
	opt   *optimizer.Optimizer
}

// Open brings up a new Engine over an in-memory disk.Manager (see
// disk.NewMemManager). Every buffer pool frame, index, and table
// created against this Engine lives only as long as the process; there
// is no WAL.
func Open(options ...Option) (*Engine, error) {
	opts := DefaultOptions()
	for _, opt := range options {
		opt(&opts)
	}
	if opts.pageSizeBytes != page.Size {
		return nil, ErrBadPageSize
	}

	dm := disk.NewMemManager()

	cat, err := catalog.New(1024)
	if err != nil {
		dm.Close()
		return nil, err
	}

	pool := buffer.New(opts.bufferPoolSize, opts.lruK, dm, opts.logger)

	interval := opts.cycleDetectionInterval
	if interval <= 0 {
		interval = cycleDetectionDefault
	}

	locks := lock.NewManager(interval)
	locks.SetLogger(opts.logger)

	e := &Engine{
		opts:  opts,
		disk:  dm,
		pool:  pool,
		cat:   cat,
		locks: locks,
		txns:  txn.NewManager(),
		opt:   optimizer.New(cat),
	}
	e.undo = newUndoer(pool, cat)

	return e, nil
}

// Catalog returns the engine's table/index registry, for metadata
// lookups. Stand up tables and indexes through Engine.CreateTable/
// CreateIndex; DDL has no lock-manager or undo-log involvement of its
// own; DDL here is not transactional.
func (e *Engine) Catalog() *catalog.Catalog {
	return e.cat
}

// Pool exposes the buffer pool backing this engine, for callers that
// need to create heaps/indexes directly (heap.Create, bptree.Create)
// when standing up a new table.
func (e *Engine) Pool() *buffer.Pool {
	return e.pool
}

// CreateTable allocates a fresh heap for name and registers it in the
// catalog, building a primary index over the schema's declared
// PrimaryKey column when one is set. Index fanout follows the engine's
// WithLeafMaxSize/WithInternalMaxSize options.
func (e *Engine) CreateTable(name string, schema types.Schema) (*catalog.TableInfo, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrEngineClosed
	}

	_, head, err := heap.Create(e.pool)
	if err != nil {
		return nil, err
	}
	oid, err := e.cat.CreateTable(name, schema, head)
	if err != nil {
		return nil, err
	}

	if schema.PrimaryKey >= 0 && schema.PrimaryKey < len(schema.Columns) {
		col := schema.Columns[schema.PrimaryKey].Name
		if err := e.createIndex(oid, col, true); err != nil {
			return nil, err
		}
	}
	return e.cat.TableByOID(oid)
}

// CreateIndex builds an empty B+Tree over column and registers it as a
// secondary index of tableOID.
func (e *Engine) CreateIndex(tableOID catalog.OID, column string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrEngineClosed
	}
	return e.createIndex(tableOID, column, false)
}

func (e *Engine) createIndex(tableOID catalog.OID, column string, primary bool) error {
	tree, headerID, err := bptree.Create(e.pool, bytes.Compare, e.opts.leafMaxSize, e.opts.internalMaxSize)
	if err != nil {
		return err
	}
	_, err = e.cat.CreateIndex(tableOID, column, headerID, tree, primary)
	return err
}

// Begin starts a transaction at the engine's default isolation level
// (WithIsolationLevel).
func (e *Engine) Begin() (*txn.Tx, error) {
	return e.NewTransaction(e.opts.isolationLevel)
}

// NewTransaction begins a transaction at the given isolation level,
// wiring it to the engine's shared undo dispatcher so Abort can replay
// table/index undo records without the txn package importing
// internal/heap or internal/bptree itself.
func (e *Engine) NewTransaction(isolation txn.IsolationLevel) (*txn.Tx, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	return e.txns.Begin(isolation, e.undo, e.undo), nil
}

// Compile optimizes a plan tree via the engine's rule pipeline
// (internal/optimizer), ready to pass to Execute.
func (e *Engine) Compile(root plan.Node) plan.Node {
	return e.opt.Optimize(root)
}

// Execute compiles an (already-optimized) plan node into a live
// operator tree bound to tx, acquiring locks and appending undo records
// as it runs (internal/exec.Build).
func (e *Engine) Execute(tx *txn.Tx, root plan.Node) (exec.Executor, error) {
	ctx := &exec.Context{Tx: tx, Locks: e.locks, Catalog: e.cat, Pool: e.pool}
	ex, err := exec.Build(ctx, root)
	if err != nil {
		return nil, err
	}
	if err := ex.Init(); err != nil {
		return nil, err
	}
	return ex, nil
}

// Commit releases tx's locks and forgets it; the undo log becomes
// irrelevant once a transaction can no longer abort.
func (e *Engine) Commit(tx *txn.Tx) error {
	tx.Commit()
	e.locks.UnlockAll(tx)
	e.txns.Forget(tx.ID())
	return nil
}

// Abort replays tx's undo log in reverse (LIFO) via the engine's
// undoer, then releases its locks.
func (e *Engine) Abort(tx *txn.Tx) error {
	err := tx.Abort()
	if err != nil {
		e.opts.logger.Error("undo replay failed", "txn", uint64(tx.ID()), "err", err)
	} else {
		e.opts.logger.Info("transaction aborted", "txn", uint64(tx.ID()))
	}
	e.locks.UnlockAll(tx)
	e.txns.Forget(tx.ID())
	return err
}

// Close shuts down the lock manager's deadlock-detector goroutine,
// flushes every dirty buffer pool frame back through the disk manager,
// and closes it. Safe to call once; a second call is a no-op.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	e.locks.Close()

	if err := e.pool.FlushAll(); err != nil {
		return err
	}
	return e.disk.Close()
}

// cycleDetectionDefault documents the fallback used when an Engine is
// opened with WithCycleDetectionInterval(0); the lock manager's
// detector loop would otherwise busy-spin.
const cycleDetectionDefault = 50 * time.Millisecond
