package exec

import (
	"diskdb/internal/catalog"
	"diskdb/internal/expr"
	"diskdb/internal/heap"
	"diskdb/internal/page"
	"diskdb/internal/txn"
	"diskdb/internal/types"
)

// IndexScan reads a table through a secondary (or primary) index, in
// one of two modes: a point lookup resolving exactly one RID, or a
// range scan positioning the index
// iterator at a lower bound and applying a residual predicate.
// Concurrent structural changes to the index never break iteration
// safety, since the underlying bptree.Iterator re-acquires a Read guard
// on each leaf it visits.
type IndexScan struct {
	ctx       *Context
	table     catalog.OID
	index     catalog.OID
	point     bool
	lo, hi    expr.Expr
	predicate expr.Expr

	info    *catalog.TableInfo
	idxInfo *catalog.IndexInfo
	hp      *heap.Heap

	it       bptreeIterator
	done     bool
	consumed bool
}

// bptreeIterator is the subset of *bptree.Iterator IndexScan needs,
// named here to avoid a direct package-level import cycle concern and
// to keep this file readable; internal/bptree.Iterator satisfies it.
type bptreeIterator interface {
	Valid() bool
	Key() []byte
	Value() []byte
	Next()
}

// NewIndexScan builds a range IndexScan with optional bounds and a
// residual predicate.
func NewIndexScan(ctx *Context, table, index catalog.OID, lo, hi, predicate expr.Expr) *IndexScan {
	return &IndexScan{ctx: ctx, table: table, index: index, lo: lo, hi: hi, predicate: predicate}
}

// NewIndexPointLookup builds a point-lookup IndexScan for a single key
// expression (lo == hi).
func NewIndexPointLookup(ctx *Context, table, index catalog.OID, key expr.Expr) *IndexScan {
	return &IndexScan{ctx: ctx, table: table, index: index, point: true, lo: key, hi: key}
}

func (s *IndexScan) Init() error {
	info, err := s.ctx.Catalog.TableByOID(s.table)
	if err != nil {
		return err
	}
	idxInfo, err := s.ctx.Catalog.Index(s.index)
	if err != nil {
		return err
	}
	s.info = info
	s.idxInfo = idxInfo
	s.hp = heap.Open(s.ctx.Pool, info.HeapHead)

	if err := acquireTableIntent(s.ctx, s.table, tableIntentMode(s.ctx)); err != nil {
		return err
	}

	s.done = false
	s.consumed = false

	if s.point {
		return nil
	}

	var lowKey []byte
	if s.lo != nil {
		v, err := s.lo.Evaluate(nil)
		if err != nil {
			return err
		}
		lowKey = types.Encode(v)
	}
	it, err := s.idxInfo.Tree.BeginAt(lowKey)
	if err != nil {
		return err
	}
	s.it = it
	return nil
}

func (s *IndexScan) Next(tup *expr.Tuple, rid *page.RID) (bool, error) {
	if s.point {
		return s.nextPoint(tup, rid)
	}
	return s.nextRange(tup, rid)
}

func (s *IndexScan) nextPoint(tup *expr.Tuple, rid *page.RID) (bool, error) {
	if s.consumed {
		return false, nil
	}
	s.consumed = true

	v, err := s.lo.Evaluate(nil)
	if err != nil {
		return false, err
	}
	key := types.Encode(v)
	valBytes, found, err := s.idxInfo.Tree.Get(key)
	if err != nil || !found {
		return false, err
	}
	r := decodeRID(valBytes)

	locked, err := lockRowForScan(s.ctx, s.table, r)
	if err != nil {
		return false, err
	}
	raw, live, err := s.hp.GetTuple(r)
	if err != nil {
		return false, err
	}
	if !live {
		if locked {
			_ = s.ctx.Locks.UnlockRow(s.ctx.Tx, toTxnRID(r), true)
		}
		return false, nil
	}
	vals, err := types.DecodeRow(s.info.Schema, raw)
	if err != nil {
		return false, err
	}
	if locked && !s.ctx.DeleteIntent && s.ctx.Tx.Isolation() == txn.ReadCommitted {
		_ = s.ctx.Locks.UnlockRow(s.ctx.Tx, toTxnRID(r), false)
	}
	*tup = expr.Tuple(vals)
	*rid = r
	return true, nil
}

func (s *IndexScan) nextRange(tup *expr.Tuple, rid *page.RID) (bool, error) {
	var hiKey []byte
	if s.hi != nil {
		v, err := s.hi.Evaluate(nil)
		if err != nil {
			return false, err
		}
		hiKey = types.Encode(v)
	}

	for s.it.Valid() {
		if hiKey != nil && compareBytes(s.it.Key(), hiKey) > 0 {
			return false, nil
		}
		r := decodeRID(s.it.Value())
		s.it.Next()

		locked, err := lockRowForScan(s.ctx, s.table, r)
		if err != nil {
			return false, err
		}
		raw, live, err := s.hp.GetTuple(r)
		if err != nil {
			return false, err
		}
		if !live {
			if locked {
				_ = s.ctx.Locks.UnlockRow(s.ctx.Tx, toTxnRID(r), true)
			}
			continue
		}
		vals, err := types.DecodeRow(s.info.Schema, raw)
		if err != nil {
			return false, err
		}
		row := expr.Tuple(vals)

		if s.predicate != nil {
			v, err := s.predicate.Evaluate(row)
			if err != nil {
				return false, err
			}
			if v.IsNull() || v.Kind != types.KindBool || !v.B {
				if locked {
					_ = s.ctx.Locks.UnlockRow(s.ctx.Tx, toTxnRID(r), true)
				}
				continue
			}
		}

		if locked && !s.ctx.DeleteIntent && s.ctx.Tx.Isolation() == txn.ReadCommitted {
			_ = s.ctx.Locks.UnlockRow(s.ctx.Tx, toTxnRID(r), false)
		}
		*tup = row
		*rid = r
		return true, nil
	}
	return false, nil
}

func (s *IndexScan) OutputSchema() types.Schema { return s.info.Schema }

func compareBytes(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}
