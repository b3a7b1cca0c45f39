// Package exec implements the Volcano-style operator tree: every
// executor exposes Init (reset state) and Next(&tuple, &rid) (produce
// one row or report exhaustion), driven pull-style by its parent.
// Executors acquire table/row locks through internal/lock and append
// undo records to the driving internal/txn.Tx as they mutate table
// heaps and secondary indexes.
package exec

import (
	"fmt"

	"diskdb/internal/buffer"
	"diskdb/internal/catalog"
	"diskdb/internal/expr"
	"diskdb/internal/lock"
	"diskdb/internal/page"
	"diskdb/internal/txn"
	"diskdb/internal/types"
)

// Executor is any node in the live operator tree.
type Executor interface {
	Init() error
	// Next produces the next tuple into *tup and its origin RID into
	// *rid (RID is the zero value for synthetic rows, e.g. join/
	// aggregate output). Returns produced=false once exhausted.
	Next(tup *expr.Tuple, rid *page.RID) (bool, error)
	// OutputSchema describes the tuples this executor produces. Valid
	// once Init has run (scans resolve their table metadata there).
	OutputSchema() types.Schema
}

// Context carries the state shared by every executor in one query: the
// driving transaction, the lock manager, and the catalog used to
// resolve table/index metadata. DeleteIntent marks scans feeding a
// Delete or Update executor so they take X row locks up front instead
// of S.
type Context struct {
	Tx           *txn.Tx
	Locks        *lock.Manager
	Catalog      *catalog.Catalog
	Pool         *buffer.Pool
	DeleteIntent bool
}

// toTxnRID adapts a page.RID to the txn.RID shape the lock manager and
// transaction undo log use (kept as a separate type there to avoid an
// import cycle back into internal/page).
func toTxnRID(r page.RID) txn.RID {
	return txn.RID{PageID: uint32(r.PageID), SlotNum: r.SlotNum}
}

func tableIntentMode(ctx *Context) lock.Mode {
	if ctx.DeleteIntent {
		return lock.IX
	}
	return lock.IS
}

func rowMode(ctx *Context) lock.Mode {
	if ctx.DeleteIntent {
		return lock.X
	}
	return lock.S
}

// acquireTableIntent acquires mode on oid unless a stronger or equal
// lock is already held; a scan never downgrades a table lock it already
// owns. Read-only intents are skipped entirely under READ_UNCOMMITTED,
// which only ever admits X/IX.
func acquireTableIntent(ctx *Context, oid catalog.OID, mode lock.Mode) error {
	if ctx.Tx.Isolation() == txn.ReadUncommitted && mode != lock.X && mode != lock.IX {
		return nil
	}
	if held, ok := ctx.Tx.TableLock(uint32(oid)); ok && (held == mode || lockRank(held) > lockRank(mode)) {
		return nil
	}
	return ctx.Locks.LockTable(ctx.Tx, uint32(oid), mode)
}

func lockRank(m lock.Mode) int {
	switch m {
	case lock.IS:
		return 0
	case lock.IX, lock.S:
		return 1
	case lock.SIX:
		return 2
	case lock.X:
		return 3
	default:
		return -1
	}
}

var errUnsupportedNode = fmt.Errorf("exec: unsupported plan node")

func tupleKey(vals expr.Tuple) string {
	s := ""
	for _, v := range vals {
		s += string(types.Encode(v)) + "\x00"
	}
	return s
}

// inferColumn derives the output column an expression produces against
// an input schema, used by Projection/Aggregate/Values to synthesize
// their own output schemas. Unresolvable expressions report KindNull.
func inferColumn(e expr.Expr, in types.Schema) types.Column {
	switch v := e.(type) {
	case expr.ColumnRef:
		if v.Index >= 0 && v.Index < len(in.Columns) {
			return in.Columns[v.Index]
		}
		return types.Column{Name: v.Name, Kind: types.KindNull}
	case expr.AggregateRef:
		if v.Index >= 0 && v.Index < len(in.Columns) {
			return in.Columns[v.Index]
		}
		return types.Column{Kind: types.KindNull}
	case expr.Const:
		return types.Column{Kind: v.Value.Kind, Nullable: v.Value.IsNull()}
	case expr.Comparison, expr.Logical:
		return types.Column{Kind: types.KindBool}
	case expr.Arithmetic:
		l := inferColumn(v.Left, in)
		r := inferColumn(v.Right, in)
		if l.Kind == types.KindFloat64 || r.Kind == types.KindFloat64 {
			return types.Column{Kind: types.KindFloat64}
		}
		return types.Column{Kind: types.KindInt64}
	default:
		return types.Column{Kind: types.KindNull}
	}
}

func inferSchema(exprs []expr.Expr, in types.Schema) types.Schema {
	out := types.Schema{PrimaryKey: -1}
	for _, e := range exprs {
		out.Columns = append(out.Columns, inferColumn(e, in))
	}
	return out
}

// countSchema is the single-column row Insert/Delete/Update report.
func countSchema() types.Schema {
	return types.Schema{
		Columns:    []types.Column{{Name: "count", Kind: types.KindInt64}},
		PrimaryKey: -1,
	}
}

func concatSchema(a, b types.Schema) types.Schema {
	out := types.Schema{PrimaryKey: -1}
	out.Columns = append(out.Columns, a.Columns...)
	out.Columns = append(out.Columns, b.Columns...)
	return out
}

func evalAll(exprs []expr.Expr, tup expr.Tuple) (expr.Tuple, error) {
	out := make(expr.Tuple, len(exprs))
	for i, e := range exprs {
		v, err := e.Evaluate(tup)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
