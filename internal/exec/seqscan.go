package exec

import (
	"diskdb/internal/catalog"
	"diskdb/internal/expr"
	"diskdb/internal/heap"
	"diskdb/internal/page"
	"diskdb/internal/txn"
	"diskdb/internal/types"
)

// SeqScan iterates every live tuple of a table, acquiring IS on the
// table up front (or stronger if already held, never downgrading) and
// an S row lock per tuple under RC/RR, falling through tombstoned slots
// and filtered-out rows.
type SeqScan struct {
	ctx       *Context
	table     catalog.OID
	predicate expr.Expr

	info *catalog.TableInfo
	hp   *heap.Heap
	it   *heap.Iterator
}

// NewSeqScan builds a SeqScan over table with an optional pushed-down
// residual predicate.
func NewSeqScan(ctx *Context, table catalog.OID, predicate expr.Expr) *SeqScan {
	return &SeqScan{ctx: ctx, table: table, predicate: predicate}
}

func (s *SeqScan) Init() error {
	info, err := s.ctx.Catalog.TableByOID(s.table)
	if err != nil {
		return err
	}
	s.info = info
	s.hp = heap.Open(s.ctx.Pool, info.HeapHead)

	if err := acquireTableIntent(s.ctx, s.table, tableIntentMode(s.ctx)); err != nil {
		return err
	}

	it, err := s.hp.Scan()
	if err != nil {
		return err
	}
	s.it = it
	return nil
}

func (s *SeqScan) Next(tup *expr.Tuple, rid *page.RID) (bool, error) {
	for s.it.Valid() {
		r := s.it.RID()

		locked, err := lockRowForScan(s.ctx, s.table, r)
		if err != nil {
			return false, err
		}

		// The iterator only supplies positions. Re-read the slot through
		// a fresh guard now that the row lock is held: a writer that
		// committed an update or delete while we waited for the lock
		// must be observed, not the iterator's page snapshot.
		raw, live, err := s.hp.GetTuple(r)
		if err != nil {
			return false, err
		}
		if !live {
			if locked {
				_ = s.ctx.Locks.UnlockRow(s.ctx.Tx, toTxnRID(r), true)
			}
			s.it.Next()
			continue
		}

		vals, err := types.DecodeRow(s.info.Schema, raw)
		if err != nil {
			return false, err
		}
		row := expr.Tuple(vals)

		pass := true
		if s.predicate != nil {
			v, err := s.predicate.Evaluate(row)
			if err != nil {
				return false, err
			}
			pass = !v.IsNull() && v.Kind == types.KindBool && v.B
		}

		if !pass {
			if locked {
				_ = s.ctx.Locks.UnlockRow(s.ctx.Tx, toTxnRID(r), true)
			}
			s.it.Next()
			continue
		}

		if locked && !s.ctx.DeleteIntent && s.ctx.Tx.Isolation() == txn.ReadCommitted {
			_ = s.ctx.Locks.UnlockRow(s.ctx.Tx, toTxnRID(r), false)
		}

		*tup = row
		*rid = r
		s.it.Next()
		return true, nil
	}
	return false, nil
}

// lockRowForScan acquires an S (or X under delete-intent) row lock for
// r unless the transaction already holds X on it or isolation is
// READ_UNCOMMITTED (which only ever takes X/IX). Returns whether a lock
// was newly taken, so the caller knows whether a filtered-out row needs
// a force-unlock.
func lockRowForScan(ctx *Context, table catalog.OID, r page.RID) (bool, error) {
	if ctx.Tx.Isolation() == txn.ReadUncommitted {
		return false, nil
	}
	tr := toTxnRID(r)
	if held, ok := ctx.Tx.RowLock(tr); ok && held == txn.X {
		return false, nil
	}
	mode := rowMode(ctx)
	if err := ctx.Locks.LockRow(ctx.Tx, uint32(table), tr, mode); err != nil {
		return false, err
	}
	return true, nil
}

func (s *SeqScan) OutputSchema() types.Schema { return s.info.Schema }
