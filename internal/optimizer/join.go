package optimizer

import (
	"diskdb/internal/catalog"
	"diskdb/internal/expr"
	"diskdb/internal/plan"
)

// mergeFilterIntoJoin is rule 6: a Filter directly
// over an inner NestedLoopJoin folds into the join's own predicate
// (AND'd with whatever predicate the join already carries). Left joins
// are not eligible: their ON clause fires before null padding, the
// filter after. Returns nil when the shape doesn't match.
func mergeFilterIntoJoin(input plan.Node, pred expr.Expr) plan.Node {
	j, ok := input.(*plan.NestedLoopJoin)
	if !ok || j.Type != plan.InnerJoin {
		return nil
	}
	combined := j.Predicate
	if combined == nil {
		combined = pred
	} else {
		combined = expr.Logical{Op: expr.And, Left: combined, Right: pred}
	}
	return &plan.NestedLoopJoin{Left: j.Left, Right: j.Right, Predicate: combined, Type: j.Type}
}

func isEmptyValues(n plan.Node) bool {
	v, ok := n.(*plan.Values)
	return ok && len(v.Rows) == 0
}

// nullFoldJoin is rule 3: an inner join with either
// side already folded to an empty Values (by rule 8 or elsewhere)
// produces no rows regardless of the other side, so the whole join
// collapses to empty Values. Left outer joins aren't eligible: an empty
// right side still emits every left row, null-padded.
func nullFoldJoin(left, right plan.Node, jt plan.JoinType) plan.Node {
	if jt != plan.InnerJoin {
		return nil
	}
	if isEmptyValues(left) || isEmptyValues(right) {
		return &plan.Values{}
	}
	return nil
}

// leftWidth reports how many columns a plan subtree's rows carry. Used
// to tell, for a join predicate referencing a concatenated left++right
// tuple, which side a given ColumnRef belongs to.
func leftWidth(cat *catalog.Catalog, n plan.Node) int {
	switch v := n.(type) {
	case *plan.SeqScan:
		if info, err := cat.TableByOID(v.Table); err == nil {
			return len(info.Schema.Columns)
		}
		return 0
	case *plan.IndexScan:
		if info, err := cat.TableByOID(v.Table); err == nil {
			return len(info.Schema.Columns)
		}
		return 0
	case *plan.Projection:
		return len(v.Exprs)
	case *plan.Values:
		if len(v.Rows) > 0 {
			return len(v.Rows[0])
		}
		return 0
	case *plan.Aggregate:
		return len(v.GroupBy) + len(v.Aggregates)
	case *plan.NestedLoopJoin:
		return leftWidth(cat, v.Left) + leftWidth(cat, v.Right)
	case *plan.HashJoin:
		return leftWidth(cat, v.Left) + leftWidth(cat, v.Right)
	default:
		children := n.Children()
		if len(children) == 1 {
			return leftWidth(cat, children[0])
		}
		return 0
	}
}

// pushDownPredicate is rule 7: it partitions an
// AND-rooted join predicate into conjuncts referencing only the left
// side, only the right side, or genuinely both, wrapping each child in a
// Filter for its own conjuncts and leaving only the joining conjuncts on
// the join itself.
func pushDownPredicate(pred expr.Expr, left, right plan.Node, width int) (expr.Expr, plan.Node, plan.Node) {
	if pred == nil {
		return nil, left, right
	}
	var joining, leftOnly, rightOnly []expr.Expr
	for _, c := range conjuncts(pred) {
		switch {
		case refsOnlyBelow(c, width):
			leftOnly = append(leftOnly, c)
		case refsOnlyAtOrAbove(c, width):
			rightOnly = append(rightOnly, c)
		default:
			joining = append(joining, c)
		}
	}
	if len(leftOnly) > 0 {
		left = &plan.Filter{Input: left, Predicate: rebuildAnd(leftOnly)}
	}
	if len(rightOnly) > 0 {
		shifted := make([]expr.Expr, len(rightOnly))
		for i, c := range rightOnly {
			shifted[i] = shiftColumns(c, width)
		}
		right = &plan.Filter{Input: right, Predicate: rebuildAnd(shifted)}
	}
	return rebuildAnd(joining), left, right
}

// toHashJoin is rule 9: a NestedLoopJoin whose
// entire predicate is a single equality between a left-side and a
// right-side column reference converts to a HashJoin. Conjunctions of
// more than one equality are left as NestedLoopJoin: the executor's
// HashJoin models a single scalar key, not a composite one.
func toHashJoin(left, right plan.Node, pred expr.Expr, jt plan.JoinType, width int) *plan.HashJoin {
	cmp, ok := pred.(expr.Comparison)
	if !ok || cmp.Op != expr.Eq {
		return nil
	}
	lRefsLeft := refsOnlyBelow(cmp.Left, width) && hasColumnRef(cmp.Left)
	rRefsRight := refsOnlyAtOrAbove(cmp.Right, width) && hasColumnRef(cmp.Right)
	if lRefsLeft && rRefsRight {
		return &plan.HashJoin{Left: left, Right: right, LeftKey: cmp.Left, RightKey: shiftColumns(cmp.Right, width), Type: jt}
	}
	lRefsRight := refsOnlyAtOrAbove(cmp.Left, width) && hasColumnRef(cmp.Left)
	rRefsLeft := refsOnlyBelow(cmp.Right, width) && hasColumnRef(cmp.Right)
	if lRefsRight && rRefsLeft {
		return &plan.HashJoin{Left: left, Right: right, LeftKey: cmp.Right, RightKey: shiftColumns(cmp.Left, width), Type: jt}
	}
	return nil
}
