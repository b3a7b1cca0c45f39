package exec

import (
	"diskdb/internal/expr"
	"diskdb/internal/page"
	"diskdb/internal/plan"
	"diskdb/internal/types"
)

// NestedLoopJoin iterates Left; for each left tuple it re-initializes
// and drains Right, emitting matches per Predicate. For plan.LeftJoin it
// emits a null-padded row when no right tuple matched the current left
// tuple.
type NestedLoopJoin struct {
	left, right Executor
	predicate   expr.Expr
	joinType    plan.JoinType

	curLeft     expr.Tuple
	haveLeft    bool
	leftMatched bool
}

func NewNestedLoopJoin(left, right Executor, predicate expr.Expr, joinType plan.JoinType) *NestedLoopJoin {
	return &NestedLoopJoin{left: left, right: right, predicate: predicate, joinType: joinType}
}

func (j *NestedLoopJoin) OutputSchema() types.Schema {
	return concatSchema(j.left.OutputSchema(), j.right.OutputSchema())
}

func (j *NestedLoopJoin) Init() error {
	j.haveLeft = false
	return j.left.Init()
}

func (j *NestedLoopJoin) advanceLeft() (bool, error) {
	var r page.RID
	ok, err := j.left.Next(&j.curLeft, &r)
	if err != nil || !ok {
		j.haveLeft = false
		return ok, err
	}
	j.haveLeft = true
	j.leftMatched = false
	return true, j.right.Init()
}

func (j *NestedLoopJoin) Next(tup *expr.Tuple, rid *page.RID) (bool, error) {
	for {
		if !j.haveLeft {
			ok, err := j.advanceLeft()
			if err != nil || !ok {
				return false, err
			}
		}

		var rightRow expr.Tuple
		var rr page.RID
		ok, err := j.right.Next(&rightRow, &rr)
		if err != nil {
			return false, err
		}
		if !ok {
			leftWasMatched := j.leftMatched
			j.haveLeft = false
			if j.joinType == plan.LeftJoin && !leftWasMatched {
				*tup = concatTuple(j.curLeft, nullTuple(len(j.right.OutputSchema().Columns)))
				*rid = page.RID{}
				return true, nil
			}
			continue
		}

		combined := concatTuple(j.curLeft, rightRow)
		pass := true
		if j.predicate != nil {
			v, err := j.predicate.Evaluate(combined)
			if err != nil {
				return false, err
			}
			pass = !v.IsNull() && v.Kind == types.KindBool && v.B
		}
		if !pass {
			continue
		}
		j.leftMatched = true
		*tup = combined
		*rid = page.RID{}
		return true, nil
	}
}

func concatTuple(a, b expr.Tuple) expr.Tuple {
	out := make(expr.Tuple, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return out
}

func nullTuple(width int) expr.Tuple {
	out := make(expr.Tuple, width)
	for i := range out {
		out[i] = types.Null
	}
	return out
}

// HashJoin builds an in-memory multimap from Right keyed by the join
// key, then streams Left, looking up matches and emitting cartesian
// concatenations (a null-padded row on a LeftJoin miss). The optimizer produces this from a NestedLoopJoin whose
// whole predicate is a single left/right column equality; a conjunction
// of several equalities stays a NestedLoopJoin.
type HashJoin struct {
	left, right       Executor
	leftKey, rightKey expr.Expr
	joinType          plan.JoinType

	built   bool
	buckets map[string][]expr.Tuple

	curMatches []expr.Tuple
	matchIdx   int
	curLeft    expr.Tuple
	haveLeft   bool
	anyMatch   bool
}

func NewHashJoin(left, right Executor, leftKey, rightKey expr.Expr, joinType plan.JoinType) *HashJoin {
	return &HashJoin{left: left, right: right, leftKey: leftKey, rightKey: rightKey, joinType: joinType}
}

func (j *HashJoin) OutputSchema() types.Schema {
	return concatSchema(j.left.OutputSchema(), j.right.OutputSchema())
}

func (j *HashJoin) Init() error {
	if err := j.right.Init(); err != nil {
		return err
	}
	j.buckets = make(map[string][]expr.Tuple)
	var row expr.Tuple
	var rid page.RID
	for {
		ok, err := j.right.Next(&row, &rid)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		k, err := j.rightKey.Evaluate(row)
		if err != nil {
			return err
		}
		ks := string(types.Encode(k))
		j.buckets[ks] = append(j.buckets[ks], append(expr.Tuple(nil), row...))
	}
	j.built = true
	j.haveLeft = false
	return j.left.Init()
}

func (j *HashJoin) Next(tup *expr.Tuple, rid *page.RID) (bool, error) {
	for {
		if !j.haveLeft {
			var r page.RID
			ok, err := j.left.Next(&j.curLeft, &r)
			if err != nil || !ok {
				return false, err
			}
			j.haveLeft = true
			j.anyMatch = false
			k, err := j.leftKey.Evaluate(j.curLeft)
			if err != nil {
				return false, err
			}
			j.curMatches = j.buckets[string(types.Encode(k))]
			j.matchIdx = 0
		}

		if j.matchIdx < len(j.curMatches) {
			rightRow := j.curMatches[j.matchIdx]
			j.matchIdx++
			j.anyMatch = true
			*tup = concatTuple(j.curLeft, rightRow)
			*rid = page.RID{}
			return true, nil
		}

		hadMatch := j.anyMatch
		j.haveLeft = false
		if j.joinType == plan.LeftJoin && !hadMatch {
			*tup = concatTuple(j.curLeft, nullTuple(len(j.right.OutputSchema().Columns)))
			*rid = page.RID{}
			return true, nil
		}
	}
}
