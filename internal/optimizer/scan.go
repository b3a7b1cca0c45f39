package optimizer

import (
	"diskdb/internal/catalog"
	"diskdb/internal/expr"
	"diskdb/internal/plan"
	"diskdb/internal/types"
)

func andWith(a, b expr.Expr) expr.Expr {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return expr.Logical{Op: expr.And, Left: a, Right: b}
}

// mergeFilterIntoScan is rule 12: a Filter directly
// over a scan merges its predicate into the scan's own residual
// predicate, additionally trying to convert a SeqScan into a (point or
// ranged) IndexScan when the predicate has a conjunct usable against one
// of the table's indexes.
func mergeFilterIntoScan(cat *catalog.Catalog, input plan.Node, pred expr.Expr) plan.Node {
	switch v := input.(type) {
	case *plan.SeqScan:
		combined := andWith(v.Predicate, pred)
		if idx := tryIndexScan(cat, v.Table, combined); idx != nil {
			return idx
		}
		return &plan.SeqScan{Table: v.Table, Predicate: combined}
	case *plan.IndexScan:
		return &plan.IndexScan{Table: v.Table, Index: v.Index, Point: v.Point, Lo: v.Lo, Hi: v.Hi, Predicate: andWith(v.Predicate, pred)}
	default:
		return nil
	}
}

// columnConst normalizes `col OP const` or `const OP col` into
// (colIndex, op, value), flipping op for the const-on-left case.
func columnConst(e expr.Expr) (int, expr.CompareOp, types.Value, bool) {
	cmp, ok := e.(expr.Comparison)
	if !ok {
		return 0, 0, types.Value{}, false
	}
	if col, ok := cmp.Left.(expr.ColumnRef); ok {
		if c, ok := asConst(cmp.Right); ok {
			return col.Index, cmp.Op, c, true
		}
	}
	if col, ok := cmp.Right.(expr.ColumnRef); ok {
		if c, ok := asConst(cmp.Left); ok {
			return col.Index, flipOp(cmp.Op), c, true
		}
	}
	return 0, 0, types.Value{}, false
}

func flipOp(op expr.CompareOp) expr.CompareOp {
	switch op {
	case expr.Lt:
		return expr.Gt
	case expr.Le:
		return expr.Ge
	case expr.Gt:
		return expr.Lt
	case expr.Ge:
		return expr.Le
	default:
		return op
	}
}

// tryIndexScan looks for a conjunct of pred usable against one of
// table's indexes: an equality becomes a point lookup; a lower and/or
// upper bound comparison becomes a range scan. Matched conjuncts are
// removed from the residual predicate attached to the resulting
// IndexScan.
func tryIndexScan(cat *catalog.Catalog, table catalog.OID, pred expr.Expr) *plan.IndexScan {
	info, err := cat.TableByOID(table)
	if err != nil {
		return nil
	}
	allOIDs := append(append([]catalog.OID(nil), info.SecondaryOIDs...), info.PrimaryOID)

	cs := conjuncts(pred)
	for _, oid := range allOIDs {
		if oid == 0 {
			continue
		}
		idxInfo, err := cat.Index(oid)
		if err != nil {
			continue
		}
		colIdx := info.Schema.IndexOf(idxInfo.Column)
		if colIdx < 0 {
			continue
		}

		var eqVal *types.Value
		var loVal, hiVal *types.Value
		var used []int
		for i, c := range cs {
			ci, op, val, ok := columnConst(c)
			if !ok || ci != colIdx {
				continue
			}
			// Strict bounds (Gt/Lt) still position the scan but stay
			// in the residual predicate: the iterator's bounds are
			// inclusive on both ends.
			switch op {
			case expr.Eq:
				v := val
				eqVal = &v
				used = append(used, i)
			case expr.Ge:
				v := val
				loVal = &v
				used = append(used, i)
			case expr.Gt:
				v := val
				loVal = &v
			case expr.Le:
				v := val
				hiVal = &v
				used = append(used, i)
			case expr.Lt:
				v := val
				hiVal = &v
			}
		}
		if eqVal == nil && loVal == nil && hiVal == nil {
			continue
		}

		var residual []expr.Expr
		skip := make(map[int]bool, len(used))
		for _, i := range used {
			skip[i] = true
		}
		for i, c := range cs {
			if !skip[i] {
				residual = append(residual, c)
			}
		}

		if eqVal != nil {
			return &plan.IndexScan{Table: table, Index: oid, Point: true, Lo: expr.Const{Value: *eqVal}, Hi: expr.Const{Value: *eqVal}, Predicate: rebuildAnd(residual)}
		}
		var lo, hi expr.Expr
		if loVal != nil {
			lo = expr.Const{Value: *loVal}
		}
		if hiVal != nil {
			hi = expr.Const{Value: *hiVal}
		}
		return &plan.IndexScan{Table: table, Index: oid, Lo: lo, Hi: hi, Predicate: rebuildAnd(residual)}
	}
	return nil
}
