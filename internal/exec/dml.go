package exec

import (
	"diskdb/internal/catalog"
	"diskdb/internal/expr"
	"diskdb/internal/heap"
	"diskdb/internal/lock"
	"diskdb/internal/page"
	"diskdb/internal/txn"
	"diskdb/internal/types"
)

// maintainIndexesInsert adds key->rid to every index registered on
// info, recording an index-write undo record for each.
func maintainIndexesInsert(ctx *Context, info *catalog.TableInfo, vals []types.Value, rid page.RID) error {
	for _, oid := range allIndexOIDs(info) {
		idx, err := ctx.Catalog.Index(oid)
		if err != nil {
			return err
		}
		key := types.Encode(vals[indexColumnIndex(info, idx)])
		if _, err := idx.Tree.Insert(key, encodeRID(rid)); err != nil {
			return err
		}
		ctx.Tx.AppendUndo(txn.UndoRecord{Kind: txn.UndoIndexInsert, IndexOID: uint32(oid), Key: key})
	}
	return nil
}

// maintainIndexesDelete removes key from every index registered on
// info, recording an index-write undo record for each.
func maintainIndexesDelete(ctx *Context, info *catalog.TableInfo, vals []types.Value, rid page.RID) error {
	for _, oid := range allIndexOIDs(info) {
		idx, err := ctx.Catalog.Index(oid)
		if err != nil {
			return err
		}
		key := types.Encode(vals[indexColumnIndex(info, idx)])
		oldValue := encodeRID(rid)
		if err := idx.Tree.Delete(key); err != nil {
			return err
		}
		ctx.Tx.AppendUndo(txn.UndoRecord{Kind: txn.UndoIndexDelete, IndexOID: uint32(oid), Key: key, OldValue: oldValue})
	}
	return nil
}

func allIndexOIDs(info *catalog.TableInfo) []catalog.OID {
	oids := append([]catalog.OID(nil), info.SecondaryOIDs...)
	if info.PrimaryOID != 0 {
		oids = append(oids, info.PrimaryOID)
	}
	return oids
}

func indexColumnIndex(info *catalog.TableInfo, idx *catalog.IndexInfo) int {
	if i := info.Schema.IndexOf(idx.Column); i >= 0 {
		return i
	}
	return 0
}

// Insert drives Input and writes every produced row into Table's heap,
// maintaining its secondary indexes. Init acquires IX on the table. Next drains the child fully and returns a single
// "count" row (a one-column Int64 tuple) on the first call, then false.
type Insert struct {
	ctx   *Context
	table catalog.OID
	input Executor
	done  bool
	count int64
}

func NewInsert(ctx *Context, table catalog.OID, input Executor) *Insert {
	return &Insert{ctx: ctx, table: table, input: input}
}

func (n *Insert) Init() error {
	if err := acquireTableIntent(n.ctx, n.table, lock.IX); err != nil {
		return err
	}
	n.done = false
	n.count = 0
	return n.input.Init()
}

func (n *Insert) OutputSchema() types.Schema { return countSchema() }

func (n *Insert) Next(tup *expr.Tuple, rid *page.RID) (bool, error) {
	if n.done {
		return false, nil
	}
	info, err := n.ctx.Catalog.TableByOID(n.table)
	if err != nil {
		return false, err
	}
	hp := heap.Open(n.ctx.Pool, info.HeapHead)

	var row expr.Tuple
	var childRID page.RID
	for {
		ok, err := n.input.Next(&row, &childRID)
		if err != nil {
			return false, err
		}
		if !ok {
			break
		}
		data := types.EncodeRow(row)
		r, err := hp.InsertTuple(data)
		if err != nil {
			return false, err
		}
		n.ctx.Tx.AppendUndo(txn.UndoRecord{Kind: txn.UndoTableInsert, RID: toTxnRID(r)})
		if err := maintainIndexesInsert(n.ctx, info, row, r); err != nil {
			return false, err
		}
		n.count++
	}

	n.done = true
	*tup = expr.Tuple{types.Int64(n.count)}
	*rid = page.RID{}
	return true, nil
}

// Delete drives Input (a scan over Table) and removes every produced
// row from Table and its indexes. Init acquires IX on the table; the
// feeding scan is expected to have run with DeleteIntent set so its row
// locks are already X.
type Delete struct {
	ctx   *Context
	table catalog.OID
	input Executor
	done  bool
	count int64
}

func NewDelete(ctx *Context, table catalog.OID, input Executor) *Delete {
	return &Delete{ctx: ctx, table: table, input: input}
}

func (n *Delete) Init() error {
	if err := acquireTableIntent(n.ctx, n.table, lock.IX); err != nil {
		return err
	}
	n.done = false
	n.count = 0
	return n.input.Init()
}

func (n *Delete) OutputSchema() types.Schema { return countSchema() }

func (n *Delete) Next(tup *expr.Tuple, rid *page.RID) (bool, error) {
	if n.done {
		return false, nil
	}
	info, err := n.ctx.Catalog.TableByOID(n.table)
	if err != nil {
		return false, err
	}
	hp := heap.Open(n.ctx.Pool, info.HeapHead)

	var row expr.Tuple
	var r page.RID
	for {
		ok, err := n.input.Next(&row, &r)
		if err != nil {
			return false, err
		}
		if !ok {
			break
		}
		if err := hp.MarkDelete(r); err != nil {
			return false, err
		}
		n.ctx.Tx.AppendUndo(txn.UndoRecord{Kind: txn.UndoTableDelete, RID: toTxnRID(r)})
		if err := maintainIndexesDelete(n.ctx, info, row, r); err != nil {
			return false, err
		}
		n.count++
	}

	n.done = true
	*tup = expr.Tuple{types.Int64(n.count)}
	*rid = page.RID{}
	return true, nil
}

// Update drives Input (a scan over Table) and rewrites every produced
// row in place, so RIDs stay stable, applying Assignments (column index
// -> new-value expression evaluated against the old row). Every
// secondary index is maintained by delete-then-insert.
type Update struct {
	ctx         *Context
	table       catalog.OID
	input       Executor
	assignments map[int]expr.Expr
	done        bool
	count       int64
}

func NewUpdate(ctx *Context, table catalog.OID, input Executor, assignments map[int]expr.Expr) *Update {
	return &Update{ctx: ctx, table: table, input: input, assignments: assignments}
}

func (n *Update) Init() error {
	if err := acquireTableIntent(n.ctx, n.table, lock.IX); err != nil {
		return err
	}
	n.done = false
	n.count = 0
	return n.input.Init()
}

func (n *Update) OutputSchema() types.Schema { return countSchema() }

func (n *Update) Next(tup *expr.Tuple, rid *page.RID) (bool, error) {
	if n.done {
		return false, nil
	}
	info, err := n.ctx.Catalog.TableByOID(n.table)
	if err != nil {
		return false, err
	}
	hp := heap.Open(n.ctx.Pool, info.HeapHead)

	var old expr.Tuple
	var r page.RID
	for {
		ok, err := n.input.Next(&old, &r)
		if err != nil {
			return false, err
		}
		if !ok {
			break
		}

		newRow := append(expr.Tuple(nil), old...)
		for col, e := range n.assignments {
			v, err := e.Evaluate(old)
			if err != nil {
				return false, err
			}
			newRow[col] = v
		}

		oldData := types.EncodeRow(old)
		newData := types.EncodeRow(newRow)
		if err := hp.UpdateTupleInPlace(r, newData); err != nil {
			return false, err
		}
		n.ctx.Tx.AppendUndo(txn.UndoRecord{Kind: txn.UndoTableUpdate, RID: toTxnRID(r), OldValue: oldData})

		if err := maintainIndexesDelete(n.ctx, info, old, r); err != nil {
			return false, err
		}
		if err := maintainIndexesInsert(n.ctx, info, newRow, r); err != nil {
			return false, err
		}
		n.count++
	}

	n.done = true
	*tup = expr.Tuple{types.Int64(n.count)}
	*rid = page.RID{}
	return true, nil
}
