package optimizer

import (
	"diskdb/internal/expr"
	"diskdb/internal/plan"
)

// mergeProjections is rule 1: Projection(exprs) over
// Projection(inner) composes into one Projection over inner's input,
// substituting each outer ColumnRef with the inner expression it refers
// to. Returns nil when input isn't a Projection.
func mergeProjections(input plan.Node, exprs []expr.Expr) plan.Node {
	inner, ok := input.(*plan.Projection)
	if !ok {
		return nil
	}
	composed := make([]expr.Expr, len(exprs))
	for i, e := range exprs {
		composed[i] = substituteColumns(e, func(idx int) expr.Expr {
			if idx >= 0 && idx < len(inner.Exprs) {
				return inner.Exprs[idx]
			}
			return expr.ColumnRef{Index: idx}
		})
	}
	return &plan.Projection{Input: inner.Input, Exprs: composed}
}

// dedupAggregates is rule 4: aggregates sharing the
// same (Func, Arg) collapse into one. Returns the deduplicated list and a
// remap from original aggregate position to its surviving position,
// which a caller composing a Projection over this Aggregate uses to
// rewrite AggregateRef indices (offset by len(GroupBy)).
func dedupAggregates(aggs []plan.AggregateExpr) ([]plan.AggregateExpr, []int) {
	var out []plan.AggregateExpr
	remap := make([]int, len(aggs))
	for i, a := range aggs {
		found := -1
		for j, kept := range out {
			if kept.Func == a.Func && exprEqual(kept.Arg, a.Arg) {
				found = j
				break
			}
		}
		if found >= 0 {
			remap[i] = found
			continue
		}
		remap[i] = len(out)
		out = append(out, a)
	}
	return out, remap
}

// dedupAggregateProjection applies rule 4 where it's actually usable:
// at the Projection that sits directly over an Aggregate, since only
// there can the downstream AggregateRef indices be rewritten alongside
// the collapse. Leaves the projection's GroupBy-column references (index
// < len(agg.GroupBy)) untouched and remaps AggregateRef indices through
// the dedup's remap table.
func dedupAggregateProjection(agg *plan.Aggregate, exprs []expr.Expr) (*plan.Aggregate, []expr.Expr) {
	deduped, remap := dedupAggregates(agg.Aggregates)
	if len(deduped) == len(agg.Aggregates) {
		return agg, exprs
	}
	groupByLen := len(agg.GroupBy)
	rewrite := func(e expr.Expr) expr.Expr {
		ref, ok := e.(expr.AggregateRef)
		if !ok || ref.Index < groupByLen {
			return e
		}
		return expr.AggregateRef{Index: groupByLen + remap[ref.Index-groupByLen]}
	}
	newExprs := make([]expr.Expr, len(exprs))
	for i, e := range exprs {
		newExprs[i] = rewriteAggregateRefs(e, rewrite)
	}
	return &plan.Aggregate{Input: agg.Input, GroupBy: agg.GroupBy, Aggregates: deduped}, newExprs
}

// cutAggregateColumns is the column cut (rule 5) where this plan shape
// makes it applicable: a Projection directly over an Aggregate
// drops every aggregate output the projection never references,
// remapping the surviving AggregateRef indices. (Projection-over-
// projection trees are already collapsed by rule 1 before this runs, so
// the aggregate case is the one that can still carry dead columns.)
func cutAggregateColumns(agg *plan.Aggregate, exprs []expr.Expr) (*plan.Aggregate, []expr.Expr) {
	groupByLen := len(agg.GroupBy)
	referenced := make([]bool, len(agg.Aggregates))
	var mark func(e expr.Expr)
	mark = func(e expr.Expr) {
		switch v := e.(type) {
		case expr.AggregateRef:
			if v.Index >= groupByLen && v.Index-groupByLen < len(referenced) {
				referenced[v.Index-groupByLen] = true
			}
		case expr.Arithmetic:
			mark(v.Left)
			mark(v.Right)
		case expr.Comparison:
			mark(v.Left)
			mark(v.Right)
		case expr.Logical:
			mark(v.Left)
			mark(v.Right)
		}
	}
	for _, e := range exprs {
		mark(e)
	}

	var kept []plan.AggregateExpr
	remap := make([]int, len(agg.Aggregates))
	for i, a := range agg.Aggregates {
		if !referenced[i] {
			remap[i] = -1
			continue
		}
		remap[i] = len(kept)
		kept = append(kept, a)
	}
	if len(kept) == len(agg.Aggregates) {
		return agg, exprs
	}

	rewrite := func(e expr.Expr) expr.Expr {
		ref, ok := e.(expr.AggregateRef)
		if !ok || ref.Index < groupByLen {
			return e
		}
		return expr.AggregateRef{Index: groupByLen + remap[ref.Index-groupByLen]}
	}
	newExprs := make([]expr.Expr, len(exprs))
	for i, e := range exprs {
		newExprs[i] = rewriteAggregateRefs(e, rewrite)
	}
	return &plan.Aggregate{Input: agg.Input, GroupBy: agg.GroupBy, Aggregates: kept}, newExprs
}

// rewriteAggregateRefs walks e applying f to every AggregateRef node
// (leaving other node kinds structurally intact).
func rewriteAggregateRefs(e expr.Expr, f func(expr.Expr) expr.Expr) expr.Expr {
	switch v := e.(type) {
	case expr.AggregateRef:
		return f(v)
	case expr.Arithmetic:
		return expr.Arithmetic{Op: v.Op, Left: rewriteAggregateRefs(v.Left, f), Right: rewriteAggregateRefs(v.Right, f)}
	case expr.Comparison:
		return expr.Comparison{Op: v.Op, Left: rewriteAggregateRefs(v.Left, f), Right: rewriteAggregateRefs(v.Right, f)}
	case expr.Logical:
		return expr.Logical{Op: v.Op, Left: rewriteAggregateRefs(v.Left, f), Right: rewriteAggregateRefs(v.Right, f)}
	default:
		return e
	}
}
