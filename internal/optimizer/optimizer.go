// Package optimizer implements the fixed rule pipeline:
// a sequence of plan-tree rewrites, each recursing children first, that
// the executor builder (internal/exec.Build) consumes once optimization
// settles. Each rule lives in its own small file rather than one
// monolithic pass.
package optimizer

import (
	"diskdb/internal/catalog"
	"diskdb/internal/plan"
)

// Optimizer holds the catalog lookups two rules (order-by -> index scan,
// filter -> ranged index scan) need to find a table's indexes.
type Optimizer struct {
	cat *catalog.Catalog
}

func New(cat *catalog.Catalog) *Optimizer {
	return &Optimizer{cat: cat}
}

// Optimize rewrites root: each pass recurses bottom-up (rewriting
// children before the node itself), and the whole pipeline runs a fixed
// four times, with no check for an earlier fixed point, since several
// rules (e.g. predicate push-down exposing a new filter-over-scan) only
// become applicable after an earlier rule has already fired.
func (o *Optimizer) Optimize(root plan.Node) plan.Node {
	cur := root
	for i := 0; i < 4; i++ {
		cur = o.rewrite(cur)
	}
	return cur
}

// rewrite dispatches on node kind, first recursing into children, then
// applying every rule that targets this node kind.
func (o *Optimizer) rewrite(n plan.Node) plan.Node {
	switch v := n.(type) {
	case nil:
		return nil

	case *plan.SeqScan:
		return &plan.SeqScan{Table: v.Table, Predicate: foldExpr(v.Predicate)}

	case *plan.IndexScan:
		nn := &plan.IndexScan{
			Table: v.Table, Index: v.Index, Point: v.Point,
			Lo: foldExpr(v.Lo), Hi: foldExpr(v.Hi), Predicate: foldExpr(v.Predicate),
		}
		return nn

	case *plan.Filter:
		input := o.rewrite(v.Input)
		pred := foldExpr(v.Predicate)
		if isConstFalse(pred) {
			return &plan.Values{} // rule 8
		}
		if isConstTrue(pred) {
			return input
		}
		merged := mergeFilterIntoJoin(input, pred) // rule 6
		if merged == nil {
			merged = mergeFilterIntoScan(o.cat, input, pred) // rule 12
		}
		if merged != nil {
			return o.rewrite(merged)
		}
		return &plan.Filter{Input: input, Predicate: pred}

	case *plan.Projection:
		input := o.rewrite(v.Input)
		exprs := foldExprs(v.Exprs)
		if merged := mergeProjections(input, exprs); merged != nil { // rule 1
			return o.rewrite(merged)
		}
		if agg, ok := input.(*plan.Aggregate); ok { // rules 4 and 5
			newAgg, newExprs := dedupAggregateProjection(agg, exprs)
			newAgg, newExprs = cutAggregateColumns(newAgg, newExprs)
			return &plan.Projection{Input: newAgg, Exprs: newExprs}
		}
		return &plan.Projection{Input: input, Exprs: exprs}

	case *plan.NestedLoopJoin:
		left := o.rewrite(v.Left)
		right := o.rewrite(v.Right)
		pred := foldExpr(v.Predicate)

		if out := nullFoldJoin(left, right, v.Type); out != nil { // rule 3
			return out
		}
		// rule 7. Inner joins only: pushing a one-sided conjunct out of a
		// left join's ON clause would drop rows that should null-pad.
		if v.Type == plan.InnerJoin {
			pred, left, right = pushDownPredicate(pred, left, right, leftWidth(o.cat, left))
			left = o.rewrite(left)
			right = o.rewrite(right)
		}

		if hj := toHashJoin(left, right, pred, v.Type, leftWidth(o.cat, left)); hj != nil { // rule 9
			return hj
		}
		return &plan.NestedLoopJoin{Left: left, Right: right, Predicate: pred, Type: v.Type}

	case *plan.HashJoin:
		return &plan.HashJoin{
			Left: o.rewrite(v.Left), Right: o.rewrite(v.Right),
			LeftKey: v.LeftKey, RightKey: v.RightKey, Type: v.Type,
		}

	case *plan.Aggregate:
		return &plan.Aggregate{Input: o.rewrite(v.Input), GroupBy: v.GroupBy, Aggregates: v.Aggregates}

	case *plan.Sort:
		input := o.rewrite(v.Input)
		if idx := orderByToIndexScan(o.cat, input, v.Keys); idx != nil { // rule 10
			return idx
		}
		return &plan.Sort{Input: input, Keys: v.Keys}

	case *plan.Limit:
		input := o.rewrite(v.Input)
		if s, ok := input.(*plan.Sort); ok { // rule 11
			top := &plan.TopN{Input: s.Input, Keys: s.Keys, Count: v.Offset + v.Count}
			if v.Offset == 0 {
				return top
			}
			return &plan.Limit{Input: top, Offset: v.Offset, Count: v.Count}
		}
		return &plan.Limit{Input: input, Offset: v.Offset, Count: v.Count}

	case *plan.TopN:
		return &plan.TopN{Input: o.rewrite(v.Input), Keys: v.Keys, Count: v.Count}

	case *plan.Values:
		return v

	case *plan.Insert:
		return &plan.Insert{Table: v.Table, Input: o.rewrite(v.Input)}

	case *plan.Delete:
		return &plan.Delete{Table: v.Table, Input: o.rewrite(v.Input)}

	case *plan.Update:
		return &plan.Update{Table: v.Table, Input: o.rewrite(v.Input), Assignments: v.Assignments}

	default:
		return n
	}
}
