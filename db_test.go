package diskdb_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"diskdb"
	"diskdb/internal/expr"
	"diskdb/internal/page"
	"diskdb/internal/plan"
	"diskdb/internal/txn"
	"diskdb/internal/types"
)

func usersSchema() types.Schema {
	return types.Schema{
		Columns: []types.Column{
			{Name: "id", Kind: types.KindInt64},
			{Name: "name", Kind: types.KindVarchar},
		},
		PrimaryKey: 0,
	}
}

// createUsersTable stands up a "users" table; CreateTable builds the
// primary index on id from the schema's PrimaryKey declaration.
func createUsersTable(t *testing.T, e *diskdb.Engine) {
	t.Helper()
	_, err := e.CreateTable("users", usersSchema())
	require.NoError(t, err)
}

func TestEngineOpenAndClose(t *testing.T) {
	e, err := diskdb.Open()
	require.NoError(t, err)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close(), "Close must be idempotent")
}

func TestInsertThenSeqScanSeesRow(t *testing.T) {
	e, err := diskdb.Open()
	require.NoError(t, err)
	defer e.Close()

	createUsersTable(t, e)
	info, err := e.Catalog().Table("users")
	require.NoError(t, err)

	tx, err := e.NewTransaction(txn.ReadCommitted)
	require.NoError(t, err)

	insertPlan := &plan.Insert{
		Table: info.OID,
		Input: &plan.Values{Rows: [][]expr.Expr{
			{expr.Const{Value: types.Int64(1)}, expr.Const{Value: types.Varchar("alice")}},
		}},
	}
	ex, err := e.Execute(tx, insertPlan)
	require.NoError(t, err)
	var tup expr.Tuple
	var rid page.RID
	ok, err := ex.Next(&tup, &rid)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), tup[0].I, "Insert reports the row count")

	require.NoError(t, e.Commit(tx))

	tx2, err := e.NewTransaction(txn.ReadCommitted)
	require.NoError(t, err)

	scanPlan := &plan.SeqScan{Table: info.OID}
	ex2, err := e.Execute(tx2, scanPlan)
	require.NoError(t, err)

	var row expr.Tuple
	var rowRID page.RID
	got, err := ex2.Next(&row, &rowRID)
	require.NoError(t, err)
	require.True(t, got)
	require.Equal(t, int64(1), row[0].I)
	require.Equal(t, "alice", row[1].S)

	got, err = ex2.Next(&row, &rowRID)
	require.NoError(t, err)
	require.False(t, got)

	require.NoError(t, e.Commit(tx2))
}

func TestAbortRollsBackInsert(t *testing.T) {
	e, err := diskdb.Open()
	require.NoError(t, err)
	defer e.Close()

	createUsersTable(t, e)
	info, err := e.Catalog().Table("users")
	require.NoError(t, err)

	tx, err := e.NewTransaction(txn.ReadCommitted)
	require.NoError(t, err)

	insertPlan := &plan.Insert{
		Table: info.OID,
		Input: &plan.Values{Rows: [][]expr.Expr{
			{expr.Const{Value: types.Int64(7)}, expr.Const{Value: types.Varchar("bob")}},
		}},
	}
	ex, err := e.Execute(tx, insertPlan)
	require.NoError(t, err)
	var tup expr.Tuple
	var rid page.RID
	_, err = ex.Next(&tup, &rid)
	require.NoError(t, err)

	require.NoError(t, e.Abort(tx))

	tx2, err := e.NewTransaction(txn.ReadCommitted)
	require.NoError(t, err)
	ex2, err := e.Execute(tx2, &plan.SeqScan{Table: info.OID})
	require.NoError(t, err)
	var row expr.Tuple
	var rowRID page.RID
	got, err := ex2.Next(&row, &rowRID)
	require.NoError(t, err)
	require.False(t, got, "aborted insert must not be visible")
	require.NoError(t, e.Commit(tx2))
}

func insertUsers(t *testing.T, e *diskdb.Engine, tx *txn.Tx, rows ...[2]any) {
	t.Helper()
	info, err := e.Catalog().Table("users")
	require.NoError(t, err)

	var values [][]expr.Expr
	for _, r := range rows {
		values = append(values, []expr.Expr{
			expr.Const{Value: types.Int64(int64(r[0].(int)))},
			expr.Const{Value: types.Varchar(r[1].(string))},
		})
	}
	ex, err := e.Execute(tx, &plan.Insert{Table: info.OID, Input: &plan.Values{Rows: values}})
	require.NoError(t, err)
	var tup expr.Tuple
	var rid page.RID
	ok, err := ex.Next(&tup, &rid)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(len(rows)), tup[0].I)
}

func drain(t *testing.T, ex interface {
	Next(*expr.Tuple, *page.RID) (bool, error)
}) []expr.Tuple {
	t.Helper()
	var out []expr.Tuple
	for {
		var tup expr.Tuple
		var rid page.RID
		ok, err := ex.Next(&tup, &rid)
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, tup)
	}
}

func TestCountStarOverEmptyTableReturnsZero(t *testing.T) {
	e, err := diskdb.Open()
	require.NoError(t, err)
	defer e.Close()

	createUsersTable(t, e)
	info, err := e.Catalog().Table("users")
	require.NoError(t, err)

	tx, err := e.NewTransaction(txn.RepeatableRead)
	require.NoError(t, err)

	aggPlan := &plan.Aggregate{
		Input:      &plan.SeqScan{Table: info.OID},
		Aggregates: []plan.AggregateExpr{{Func: plan.AggCountStar}},
	}
	ex, err := e.Execute(tx, aggPlan)
	require.NoError(t, err)

	rows := drain(t, ex)
	require.Len(t, rows, 1, "ungrouped aggregation over an empty table emits exactly one row")
	require.Equal(t, int64(0), rows[0][0].I)
	require.NoError(t, e.Commit(tx))
}

func TestSortLimitRewritesToTopNAndEmitsInOrder(t *testing.T) {
	e, err := diskdb.Open()
	require.NoError(t, err)
	defer e.Close()

	createUsersTable(t, e)
	info, err := e.Catalog().Table("users")
	require.NoError(t, err)

	tx, err := e.NewTransaction(txn.RepeatableRead)
	require.NoError(t, err)
	insertUsers(t, e, tx,
		[2]any{3, "carol"}, [2]any{1, "alice"}, [2]any{2, "bob"},
		[2]any{4, "dave"}, [2]any{5, "erin"})
	require.NoError(t, e.Commit(tx))

	// Sort by the unindexed name column so the order-by stays a Sort and
	// the Limit on top fuses into a TopN.
	root := &plan.Limit{
		Count: 3,
		Input: &plan.Sort{
			Input: &plan.SeqScan{Table: info.OID},
			Keys:  []plan.SortKey{{Expr: expr.ColumnRef{Index: 1}}},
		},
	}
	optimized := e.Compile(root)
	top, ok := optimized.(*plan.TopN)
	require.True(t, ok, "Sort+Limit must rewrite to TopN")
	require.Equal(t, 3, top.Count)

	tx2, err := e.NewTransaction(txn.RepeatableRead)
	require.NoError(t, err)
	ex, err := e.Execute(tx2, optimized)
	require.NoError(t, err)
	rows := drain(t, ex)
	require.Len(t, rows, 3)
	require.Equal(t, "alice", rows[0][1].S)
	require.Equal(t, "bob", rows[1][1].S)
	require.Equal(t, "carol", rows[2][1].S)
	require.NoError(t, e.Commit(tx2))
}

func TestUpdateRewritesInPlaceAndAbortRestores(t *testing.T) {
	e, err := diskdb.Open()
	require.NoError(t, err)
	defer e.Close()

	createUsersTable(t, e)
	info, err := e.Catalog().Table("users")
	require.NoError(t, err)

	tx, err := e.NewTransaction(txn.RepeatableRead)
	require.NoError(t, err)
	insertUsers(t, e, tx, [2]any{1, "alice"})
	require.NoError(t, e.Commit(tx))

	onID := expr.Comparison{Op: expr.Eq, Left: expr.ColumnRef{Index: 0}, Right: expr.Const{Value: types.Int64(1)}}

	tx2, err := e.NewTransaction(txn.RepeatableRead)
	require.NoError(t, err)
	upd := &plan.Update{
		Table:       info.OID,
		Input:       &plan.SeqScan{Table: info.OID, Predicate: onID},
		Assignments: map[int]expr.Expr{1: expr.Const{Value: types.Varchar("ALICE")}},
	}
	ex, err := e.Execute(tx2, upd)
	require.NoError(t, err)
	rows := drain(t, ex)
	require.Len(t, rows, 1)
	require.Equal(t, int64(1), rows[0][0].I)
	require.NoError(t, e.Abort(tx2))

	tx3, err := e.NewTransaction(txn.RepeatableRead)
	require.NoError(t, err)
	ex2, err := e.Execute(tx3, &plan.SeqScan{Table: info.OID})
	require.NoError(t, err)
	rows = drain(t, ex2)
	require.Len(t, rows, 1)
	require.Equal(t, "alice", rows[0][1].S, "aborted update must restore the pre-image")
	require.NoError(t, e.Commit(tx3))
}

func TestDeleteThenAbortRestoresRowsAndIndex(t *testing.T) {
	e, err := diskdb.Open()
	require.NoError(t, err)
	defer e.Close()

	createUsersTable(t, e)
	info, err := e.Catalog().Table("users")
	require.NoError(t, err)

	tx, err := e.NewTransaction(txn.RepeatableRead)
	require.NoError(t, err)
	insertUsers(t, e, tx, [2]any{1, "alice"}, [2]any{2, "bob"})
	require.NoError(t, e.Commit(tx))

	tx2, err := e.NewTransaction(txn.RepeatableRead)
	require.NoError(t, err)
	ex, err := e.Execute(tx2, &plan.Delete{Table: info.OID, Input: &plan.SeqScan{Table: info.OID}})
	require.NoError(t, err)
	rows := drain(t, ex)
	require.Len(t, rows, 1)
	require.Equal(t, int64(2), rows[0][0].I)
	require.NoError(t, e.Abort(tx2))

	tx3, err := e.NewTransaction(txn.RepeatableRead)
	require.NoError(t, err)
	ex2, err := e.Execute(tx3, &plan.SeqScan{Table: info.OID})
	require.NoError(t, err)
	require.Len(t, drain(t, ex2), 2, "aborted delete must clear tombstones")

	// The primary index must also have its keys back: a point lookup
	// through it still resolves id=2.
	lookup := &plan.IndexScan{
		Table: info.OID, Index: info.PrimaryOID, Point: true,
		Lo: expr.Const{Value: types.Int64(2)}, Hi: expr.Const{Value: types.Int64(2)},
	}
	ex3, err := e.Execute(tx3, lookup)
	require.NoError(t, err)
	rows = drain(t, ex3)
	require.Len(t, rows, 1)
	require.Equal(t, "bob", rows[0][1].S)
	require.NoError(t, e.Commit(tx3))
}

func TestLeftJoinCompilesToHashJoinAndPadsMisses(t *testing.T) {
	e, err := diskdb.Open()
	require.NoError(t, err)
	defer e.Close()

	createUsersTable(t, e)
	users, err := e.Catalog().Table("users")
	require.NoError(t, err)

	ordersSchema := types.Schema{
		Columns: []types.Column{
			{Name: "user_id", Kind: types.KindInt64},
			{Name: "amount", Kind: types.KindInt64},
		},
		PrimaryKey: -1,
	}
	orders, err := e.CreateTable("orders", ordersSchema)
	require.NoError(t, err)

	tx, err := e.NewTransaction(txn.RepeatableRead)
	require.NoError(t, err)
	insertUsers(t, e, tx, [2]any{1, "alice"}, [2]any{2, "bob"})
	ex, err := e.Execute(tx, &plan.Insert{Table: orders.OID, Input: &plan.Values{Rows: [][]expr.Expr{
		{expr.Const{Value: types.Int64(1)}, expr.Const{Value: types.Int64(100)}},
		{expr.Const{Value: types.Int64(1)}, expr.Const{Value: types.Int64(200)}},
	}}})
	require.NoError(t, err)
	drain(t, ex)
	require.NoError(t, e.Commit(tx))

	root := &plan.NestedLoopJoin{
		Left:  &plan.SeqScan{Table: users.OID},
		Right: &plan.SeqScan{Table: orders.OID},
		Predicate: expr.Comparison{
			Op:    expr.Eq,
			Left:  expr.ColumnRef{Index: 0}, // users.id
			Right: expr.ColumnRef{Index: 2}, // orders.user_id
		},
		Type: plan.LeftJoin,
	}
	optimized := e.Compile(root)
	_, isHash := optimized.(*plan.HashJoin)
	require.True(t, isHash, "equality join must convert to HashJoin")

	tx2, err := e.NewTransaction(txn.RepeatableRead)
	require.NoError(t, err)
	ex2, err := e.Execute(tx2, optimized)
	require.NoError(t, err)
	rows := drain(t, ex2)
	require.Len(t, rows, 3, "two matches for alice, one null-padded row for bob")

	padded := 0
	for _, r := range rows {
		require.Len(t, r, 4)
		if r[2].IsNull() {
			padded++
			require.Equal(t, "bob", r[1].S)
			require.True(t, r[3].IsNull())
		} else {
			require.Equal(t, int64(1), r[0].I)
			require.Equal(t, r[0].I, r[2].I)
		}
	}
	require.Equal(t, 1, padded)
	require.NoError(t, e.Commit(tx2))
}

func TestReadUncommittedScanTakesNoLocks(t *testing.T) {
	e, err := diskdb.Open()
	require.NoError(t, err)
	defer e.Close()

	createUsersTable(t, e)
	info, err := e.Catalog().Table("users")
	require.NoError(t, err)

	tx, err := e.NewTransaction(txn.RepeatableRead)
	require.NoError(t, err)
	insertUsers(t, e, tx, [2]any{1, "alice"})
	require.NoError(t, e.Commit(tx))

	tx2, err := e.NewTransaction(txn.ReadUncommitted)
	require.NoError(t, err)
	ex, err := e.Execute(tx2, &plan.SeqScan{Table: info.OID})
	require.NoError(t, err, "a READ_UNCOMMITTED scan must not request S/IS locks")
	require.Len(t, drain(t, ex), 1)

	_, held := tx2.TableLock(uint32(info.OID))
	require.False(t, held)
	require.NoError(t, e.Commit(tx2))
}

func TestSeqScanObservesDeleteCommittedAfterScanOpened(t *testing.T) {
	e, err := diskdb.Open()
	require.NoError(t, err)
	defer e.Close()

	createUsersTable(t, e)
	info, err := e.Catalog().Table("users")
	require.NoError(t, err)

	tx, err := e.NewTransaction(txn.RepeatableRead)
	require.NoError(t, err)
	insertUsers(t, e, tx, [2]any{1, "alice"}, [2]any{2, "bob"})
	require.NoError(t, e.Commit(tx))

	// Open the scan first: its iterator snapshots the heap page before
	// any row is visited.
	tx2, err := e.NewTransaction(txn.RepeatableRead)
	require.NoError(t, err)
	ex, err := e.Execute(tx2, &plan.SeqScan{Table: info.OID})
	require.NoError(t, err)

	// A second transaction deletes alice and commits while the scan is
	// positioned but has not yet read her row.
	tx3, err := e.NewTransaction(txn.RepeatableRead)
	require.NoError(t, err)
	onID := expr.Comparison{Op: expr.Eq, Left: expr.ColumnRef{Index: 0}, Right: expr.Const{Value: types.Int64(1)}}
	del, err := e.Execute(tx3, &plan.Delete{Table: info.OID, Input: &plan.SeqScan{Table: info.OID, Predicate: onID}})
	require.NoError(t, err)
	drain(t, del)
	require.NoError(t, e.Commit(tx3))

	// The scan must observe the committed delete, not its page snapshot.
	rows := drain(t, ex)
	require.Len(t, rows, 1)
	require.Equal(t, "bob", rows[0][1].S)
	require.NoError(t, e.Commit(tx2))
}
