package optimizer

import (
	"diskdb/internal/expr"
	"diskdb/internal/types"
)

// asConst reports whether e is a literal, returning its value.
func asConst(e expr.Expr) (types.Value, bool) {
	c, ok := e.(expr.Const)
	return c.Value, ok
}

func isConstFalse(e expr.Expr) bool {
	v, ok := asConst(e)
	return ok && v.Kind == types.KindBool && !v.B
}

func isConstTrue(e expr.Expr) bool {
	v, ok := asConst(e)
	return ok && v.Kind == types.KindBool && v.B
}

// foldExprs applies foldExpr to every element of a list.
func foldExprs(es []expr.Expr) []expr.Expr {
	if es == nil {
		return nil
	}
	out := make([]expr.Expr, len(es))
	for i, e := range es {
		out[i] = foldExpr(e)
	}
	return out
}

// foldExpr is constant folding (rule 2): it collapses subtrees inside
// arithmetic and comparisons, with FALSE short-circuiting through AND/OR.
// A nil expression (an absent predicate/bound) folds to nil.
func foldExpr(e expr.Expr) expr.Expr {
	if e == nil {
		return nil
	}
	switch v := e.(type) {
	case expr.Arithmetic:
		l := foldExpr(v.Left)
		r := foldExpr(v.Right)
		if lc, ok := asConst(l); ok {
			if rc, ok := asConst(r); ok {
				if res, err := types.Arith(byte(v.Op), lc, rc); err == nil {
					return expr.Const{Value: res}
				}
			}
		}
		return expr.Arithmetic{Op: v.Op, Left: l, Right: r}

	case expr.Comparison:
		l := foldExpr(v.Left)
		r := foldExpr(v.Right)
		if lc, ok := asConst(l); ok {
			if rc, ok := asConst(r); ok {
				if res, err := (expr.Comparison{Op: v.Op, Left: expr.Const{Value: lc}, Right: expr.Const{Value: rc}}).Evaluate(nil); err == nil {
					return expr.Const{Value: res}
				}
			}
		}
		return expr.Comparison{Op: v.Op, Left: l, Right: r}

	case expr.Logical:
		l := foldExpr(v.Left)
		if v.Op == expr.Not {
			if lc, ok := asConst(l); ok && lc.Kind == types.KindBool {
				return expr.Const{Value: types.Bool(!lc.B)}
			}
			return expr.Logical{Op: expr.Not, Left: l}
		}
		r := foldExpr(v.Right)
		switch v.Op {
		case expr.And:
			if isConstFalseVal(l) || isConstFalseVal(r) {
				return expr.Const{Value: types.Bool(false)}
			}
			if isConstTrueVal(l) {
				return r
			}
			if isConstTrueVal(r) {
				return l
			}
		case expr.Or:
			if isConstTrueVal(l) || isConstTrueVal(r) {
				return expr.Const{Value: types.Bool(true)}
			}
			if isConstFalseVal(l) {
				return r
			}
			if isConstFalseVal(r) {
				return l
			}
		}
		return expr.Logical{Op: v.Op, Left: l, Right: r}

	default:
		return e
	}
}

func isConstFalseVal(e expr.Expr) bool { return isConstFalse(e) }
func isConstTrueVal(e expr.Expr) bool  { return isConstTrue(e) }

// exprEqual is a structural equality check over the tagged expression
// tree, used by aggregate de-duplication and predicate-to-scan matching.
func exprEqual(a, b expr.Expr) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case expr.ColumnRef:
		bv, ok := b.(expr.ColumnRef)
		return ok && av.Index == bv.Index
	case expr.Const:
		bv, ok := b.(expr.Const)
		if !ok {
			return false
		}
		c, err := types.Compare(av.Value, bv.Value)
		return err == nil && c == 0
	case expr.Arithmetic:
		bv, ok := b.(expr.Arithmetic)
		return ok && av.Op == bv.Op && exprEqual(av.Left, bv.Left) && exprEqual(av.Right, bv.Right)
	case expr.Comparison:
		bv, ok := b.(expr.Comparison)
		return ok && av.Op == bv.Op && exprEqual(av.Left, bv.Left) && exprEqual(av.Right, bv.Right)
	case expr.Logical:
		bv, ok := b.(expr.Logical)
		return ok && av.Op == bv.Op && exprEqual(av.Left, bv.Left) && exprEqual(av.Right, bv.Right)
	case expr.AggregateRef:
		bv, ok := b.(expr.AggregateRef)
		return ok && av.Index == bv.Index
	default:
		return false
	}
}

// substituteColumns rewrites every ColumnRef in e by calling f with its
// index and splicing in the returned expression, used by projection
// merging (rule 1) and predicate push-down (rule 7).
func substituteColumns(e expr.Expr, f func(idx int) expr.Expr) expr.Expr {
	if e == nil {
		return nil
	}
	switch v := e.(type) {
	case expr.ColumnRef:
		return f(v.Index)
	case expr.Arithmetic:
		return expr.Arithmetic{Op: v.Op, Left: substituteColumns(v.Left, f), Right: substituteColumns(v.Right, f)}
	case expr.Comparison:
		return expr.Comparison{Op: v.Op, Left: substituteColumns(v.Left, f), Right: substituteColumns(v.Right, f)}
	case expr.Logical:
		return expr.Logical{Op: v.Op, Left: substituteColumns(v.Left, f), Right: substituteColumns(v.Right, f)}
	default:
		return e
	}
}

// conjuncts flattens an AND-rooted predicate tree into its leaf
// conjuncts, used by predicate push-down (rule 7) and scan-predicate
// range extraction (rule 12).
func conjuncts(e expr.Expr) []expr.Expr {
	if e == nil {
		return nil
	}
	if l, ok := e.(expr.Logical); ok && l.Op == expr.And {
		return append(conjuncts(l.Left), conjuncts(l.Right)...)
	}
	return []expr.Expr{e}
}

// rebuildAnd composes a list of conjuncts back into a single AND tree
// (nil if the list is empty).
func rebuildAnd(cs []expr.Expr) expr.Expr {
	if len(cs) == 0 {
		return nil
	}
	out := cs[0]
	for _, c := range cs[1:] {
		out = expr.Logical{Op: expr.And, Left: out, Right: c}
	}
	return out
}

// refsOnlyBelow reports whether every ColumnRef in e has Index < width.
func refsOnlyBelow(e expr.Expr, width int) bool {
	if e == nil {
		return true
	}
	switch v := e.(type) {
	case expr.ColumnRef:
		return v.Index < width
	case expr.Const, expr.AggregateRef:
		return true
	case expr.Arithmetic:
		return refsOnlyBelow(v.Left, width) && refsOnlyBelow(v.Right, width)
	case expr.Comparison:
		return refsOnlyBelow(v.Left, width) && refsOnlyBelow(v.Right, width)
	case expr.Logical:
		return refsOnlyBelow(v.Left, width) && refsOnlyBelow(v.Right, width)
	default:
		return false
	}
}

// refsOnlyAtOrAbove reports whether every ColumnRef in e has Index >=
// width (i.e. it belongs entirely to the right side of a width-wide left
// input in a concatenated join tuple).
func refsOnlyAtOrAbove(e expr.Expr, width int) bool {
	if e == nil {
		return true
	}
	switch v := e.(type) {
	case expr.ColumnRef:
		return v.Index >= width
	case expr.Const, expr.AggregateRef:
		return true
	case expr.Arithmetic:
		return refsOnlyAtOrAbove(v.Left, width) && refsOnlyAtOrAbove(v.Right, width)
	case expr.Comparison:
		return refsOnlyAtOrAbove(v.Left, width) && refsOnlyAtOrAbove(v.Right, width)
	case expr.Logical:
		return refsOnlyAtOrAbove(v.Left, width) && refsOnlyAtOrAbove(v.Right, width)
	default:
		return false
	}
}

// shiftColumns produces a copy of e with every ColumnRef's index reduced
// by delta, used when a right-side-only conjunct is pushed into the
// right child (whose own columns start at 0, not at the join's offset).
func shiftColumns(e expr.Expr, delta int) expr.Expr {
	return substituteColumns(e, func(idx int) expr.Expr {
		return expr.ColumnRef{Index: idx - delta}
	})
}

func hasColumnRef(e expr.Expr) bool {
	switch v := e.(type) {
	case expr.ColumnRef:
		return true
	case expr.Arithmetic:
		return hasColumnRef(v.Left) || hasColumnRef(v.Right)
	case expr.Comparison:
		return hasColumnRef(v.Left) || hasColumnRef(v.Right)
	case expr.Logical:
		return hasColumnRef(v.Left) || hasColumnRef(v.Right)
	default:
		_ = v
		return false
	}
}
