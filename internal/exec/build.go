package exec

import (
	"fmt"

	"diskdb/internal/expr"
	"diskdb/internal/page"
	"diskdb/internal/plan"
	"diskdb/internal/types"
)

// valuesExec evaluates plan.Values rows once each.
type valuesExec struct {
	rows [][]expr.Expr
	idx  int
}

func (v *valuesExec) Init() error { v.idx = 0; return nil }

func (v *valuesExec) OutputSchema() types.Schema {
	if len(v.rows) == 0 {
		return types.Schema{PrimaryKey: -1}
	}
	return inferSchema(v.rows[0], types.Schema{PrimaryKey: -1})
}

func (v *valuesExec) Next(tup *expr.Tuple, rid *page.RID) (bool, error) {
	if v.idx >= len(v.rows) {
		return false, nil
	}
	row, err := evalAll(v.rows[v.idx], nil)
	if err != nil {
		return false, err
	}
	v.idx++
	*tup = row
	*rid = page.RID{}
	return true, nil
}

// Build compiles a plan.Node tree (the optimizer's output) into a live
// Volcano operator tree bound to ctx.
func Build(ctx *Context, node plan.Node) (Executor, error) {
	switch n := node.(type) {
	case *plan.SeqScan:
		return NewSeqScan(ctx, n.Table, n.Predicate), nil

	case *plan.IndexScan:
		if n.Point {
			return NewIndexPointLookup(ctx, n.Table, n.Index, n.Lo), nil
		}
		return NewIndexScan(ctx, n.Table, n.Index, n.Lo, n.Hi, n.Predicate), nil

	case *plan.Filter:
		input, err := Build(ctx, n.Input)
		if err != nil {
			return nil, err
		}
		return NewFilter(input, n.Predicate), nil

	case *plan.Projection:
		input, err := Build(ctx, n.Input)
		if err != nil {
			return nil, err
		}
		return NewProjection(input, n.Exprs), nil

	case *plan.NestedLoopJoin:
		left, err := Build(ctx, n.Left)
		if err != nil {
			return nil, err
		}
		right, err := Build(ctx, n.Right)
		if err != nil {
			return nil, err
		}
		return NewNestedLoopJoin(left, right, n.Predicate, n.Type), nil

	case *plan.HashJoin:
		left, err := Build(ctx, n.Left)
		if err != nil {
			return nil, err
		}
		right, err := Build(ctx, n.Right)
		if err != nil {
			return nil, err
		}
		return NewHashJoin(left, right, n.LeftKey, n.RightKey, n.Type), nil

	case *plan.Aggregate:
		input, err := Build(ctx, n.Input)
		if err != nil {
			return nil, err
		}
		return NewAggregate(input, n.GroupBy, n.Aggregates), nil

	case *plan.Sort:
		input, err := Build(ctx, n.Input)
		if err != nil {
			return nil, err
		}
		return NewSort(input, n.Keys), nil

	case *plan.Limit:
		input, err := Build(ctx, n.Input)
		if err != nil {
			return nil, err
		}
		return NewLimit(input, n.Offset, n.Count), nil

	case *plan.TopN:
		input, err := Build(ctx, n.Input)
		if err != nil {
			return nil, err
		}
		return NewTopN(input, n.Keys, n.Count), nil

	case *plan.Values:
		return &valuesExec{rows: n.Rows}, nil

	case *plan.Insert:
		input, err := Build(ctx, n.Input)
		if err != nil {
			return nil, err
		}
		return NewInsert(ctx, n.Table, input), nil

	case *plan.Delete:
		deleteCtx := *ctx
		deleteCtx.DeleteIntent = true
		input, err := Build(&deleteCtx, n.Input)
		if err != nil {
			return nil, err
		}
		return NewDelete(ctx, n.Table, input), nil

	case *plan.Update:
		updateCtx := *ctx
		updateCtx.DeleteIntent = true
		input, err := Build(&updateCtx, n.Input)
		if err != nil {
			return nil, err
		}
		return NewUpdate(ctx, n.Table, input, n.Assignments), nil

	default:
		return nil, fmt.Errorf("%w: %T", errUnsupportedNode, node)
	}
}
