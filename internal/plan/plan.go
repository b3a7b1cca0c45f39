// Package plan implements the tagged plan-node tree the optimizer
// rewrites and internal/exec.Build compiles into a live Volcano operator
// tree. Node kinds: SeqScan, IndexScan, Filter, Projection,
// NestedLoopJoin, HashJoin, Aggregate, Sort, Limit, TopN, Insert,
// Delete, Update, Values.
package plan

import (
	"diskdb/internal/catalog"
	"diskdb/internal/expr"
)

// Node is any node in a query plan tree.
type Node interface {
	Children() []Node
}

// SeqScan reads every live tuple of a table, optionally applying a
// pushed-down residual predicate.
type SeqScan struct {
	Table     catalog.OID
	Predicate expr.Expr // nil if none pushed down
}

func (n *SeqScan) Children() []Node { return nil }

// IndexScan reads a table via a secondary (or primary) index, either a
// point lookup (Lo == Hi, Point == true) or a range.
type IndexScan struct {
	Table     catalog.OID
	Index     catalog.OID
	Point     bool
	Lo, Hi    expr.Expr // bounds, nil meaning unbounded
	Predicate expr.Expr
}

func (n *IndexScan) Children() []Node { return nil }

// Filter applies Predicate to Input, passing through only matching rows.
type Filter struct {
	Input     Node
	Predicate expr.Expr
}

func (n *Filter) Children() []Node { return []Node{n.Input} }

// Projection evaluates Exprs against each row of Input.
type Projection struct {
	Input Node
	Exprs []expr.Expr
}

func (n *Projection) Children() []Node { return []Node{n.Input} }

// JoinType distinguishes inner from left-outer joins.
type JoinType int

const (
	InnerJoin JoinType = iota
	LeftJoin
)

// NestedLoopJoin joins Left and Right with Predicate, materializing the
// inner (Right) side repeatedly per outer row.
type NestedLoopJoin struct {
	Left, Right Node
	Predicate   expr.Expr
	Type        JoinType
}

func (n *NestedLoopJoin) Children() []Node { return []Node{n.Left, n.Right} }

// HashJoin joins Left (probe) and Right (build) on equality of
// LeftKey/RightKey, a rewrite of NestedLoopJoin produced by the
// optimizer when the predicate is a single equality.
type HashJoin struct {
	Left, Right       Node
	LeftKey, RightKey expr.Expr
	Type              JoinType
}

func (n *HashJoin) Children() []Node { return []Node{n.Left, n.Right} }

// AggFunc names a supported aggregate function.
type AggFunc int

const (
	AggCountStar AggFunc = iota
	AggCount
	AggSum
	AggMin
	AggMax
	AggAvg
)

// AggregateExpr is one aggregate output column.
type AggregateExpr struct {
	Func AggFunc
	Arg  expr.Expr // nil for COUNT(*)
}

// Aggregate groups Input rows by GroupBy and computes Aggregates per
// group.
type Aggregate struct {
	Input      Node
	GroupBy    []expr.Expr
	Aggregates []AggregateExpr
}

func (n *Aggregate) Children() []Node { return []Node{n.Input} }

// SortKey is one ORDER BY term.
type SortKey struct {
	Expr expr.Expr
	Desc bool
}

// Sort orders Input rows by Keys.
type Sort struct {
	Input Node
	Keys  []SortKey
}

func (n *Sort) Children() []Node { return []Node{n.Input} }

// Limit caps Input to Count rows after skipping Offset.
type Limit struct {
	Input  Node
	Offset int
	Count  int
}

func (n *Limit) Children() []Node { return []Node{n.Input} }

// TopN is the optimizer's fused Sort+Limit rewrite: maintains a bounded
// heap of the best Count rows under Keys instead of sorting everything.
type TopN struct {
	Input Node
	Keys  []SortKey
	Count int
}

func (n *TopN) Children() []Node { return []Node{n.Input} }

// Values is a literal row source, used for INSERT ... VALUES and for
// constant-folded single-row plans.
type Values struct {
	Rows [][]expr.Expr
}

func (n *Values) Children() []Node { return nil }

// Insert writes every row produced by Input into Table, maintaining its
// secondary indexes.
type Insert struct {
	Table catalog.OID
	Input Node
}

func (n *Insert) Children() []Node { return []Node{n.Input} }

// Delete removes every row produced by Input (a scan over Table) from
// Table and its indexes.
type Delete struct {
	Table catalog.OID
	Input Node
}

func (n *Delete) Children() []Node { return []Node{n.Input} }

// Update rewrites every row produced by Input using Assignments (column
// index -> new-value expression evaluated against the old row).
type Update struct {
	Table       catalog.OID
	Input       Node
	Assignments map[int]expr.Expr
}

func (n *Update) Children() []Node { return []Node{n.Input} }
