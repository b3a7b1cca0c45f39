package exec

import (
	"diskdb/internal/expr"
	"diskdb/internal/page"
	"diskdb/internal/plan"
	"diskdb/internal/types"
)

// accumulator holds the running state for one aggregate column of one
// group.
type accumulator struct {
	fn       plan.AggFunc
	count    int64
	sum      float64
	sumIsInt bool
	sumInt   int64
	min, max types.Value
	haveMM   bool
}

func newAccumulator(fn plan.AggFunc) *accumulator {
	return &accumulator{fn: fn, sumIsInt: true}
}

func (a *accumulator) add(v types.Value) error {
	switch a.fn {
	case plan.AggCountStar:
		a.count++
	case plan.AggCount:
		if !v.IsNull() {
			a.count++
		}
	case plan.AggSum, plan.AggAvg:
		if v.IsNull() {
			return nil
		}
		a.count++
		if v.Kind == types.KindInt64 && a.sumIsInt {
			a.sumInt += v.I
		} else {
			if a.sumIsInt {
				a.sum = float64(a.sumInt)
				a.sumIsInt = false
			}
			f, _ := v.AsFloat()
			a.sum += f
		}
	case plan.AggMin:
		if v.IsNull() {
			return nil
		}
		if !a.haveMM {
			a.min, a.haveMM = v, true
			return nil
		}
		cmp, err := types.Compare(v, a.min)
		if err != nil {
			return err
		}
		if cmp < 0 {
			a.min = v
		}
	case plan.AggMax:
		if v.IsNull() {
			return nil
		}
		if !a.haveMM {
			a.max, a.haveMM = v, true
			return nil
		}
		cmp, err := types.Compare(v, a.max)
		if err != nil {
			return err
		}
		if cmp > 0 {
			a.max = v
		}
	}
	return nil
}

func (a *accumulator) result() types.Value {
	switch a.fn {
	case plan.AggCountStar, plan.AggCount:
		return types.Int64(a.count)
	case plan.AggSum:
		if a.count == 0 {
			return types.Null
		}
		if a.sumIsInt {
			return types.Int64(a.sumInt)
		}
		return types.Float64(a.sum)
	case plan.AggAvg:
		if a.count == 0 {
			return types.Null
		}
		total := a.sum
		if a.sumIsInt {
			total = float64(a.sumInt)
		}
		return types.Float64(total / float64(a.count))
	case plan.AggMin:
		if !a.haveMM {
			return types.Null
		}
		return a.min
	case plan.AggMax:
		if !a.haveMM {
			return types.Null
		}
		return a.max
	default:
		return types.Null
	}
}

// group holds one GROUP BY key's row of accumulators. initial marks the
// synthetic group emitted for an empty, ungrouped input, whose row
// carries each aggregate's initial value (0 for COUNT(*), NULL
// elsewhere) rather than accumulator results.
type group struct {
	key     expr.Tuple
	accs    []*accumulator
	initial bool
}

// Aggregate builds a hash table keyed by GroupBy values; per group it
// maintains per-aggregate accumulators for COUNT(*)/COUNT/SUM/AVG/MIN/
// MAX. With zero input rows and no GroupBy it emits a single row of
// initial aggregate values (0 for COUNT(*), NULL elsewhere); with GroupBy
// and zero rows it emits nothing.
type Aggregate struct {
	input      Executor
	groupBy    []expr.Expr
	aggregates []plan.AggregateExpr

	groups  []*group
	byKey   map[string]*group
	emitIdx int
}

func NewAggregate(input Executor, groupBy []expr.Expr, aggregates []plan.AggregateExpr) *Aggregate {
	return &Aggregate{input: input, groupBy: groupBy, aggregates: aggregates}
}

func (a *Aggregate) Init() error {
	if err := a.input.Init(); err != nil {
		return err
	}
	a.groups = nil
	a.byKey = make(map[string]*group)
	a.emitIdx = 0

	var row expr.Tuple
	var rid page.RID
	for {
		ok, err := a.input.Next(&row, &rid)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		key, err := evalAll(a.groupBy, row)
		if err != nil {
			return err
		}
		ks := tupleKey(key)
		g, ok := a.byKey[ks]
		if !ok {
			g = &group{key: key}
			for _, ag := range a.aggregates {
				g.accs = append(g.accs, newAccumulator(ag.Func))
			}
			a.byKey[ks] = g
			a.groups = append(a.groups, g)
		}
		for i, ag := range a.aggregates {
			var v types.Value
			if ag.Arg == nil {
				v = types.Null // COUNT(*) ignores its argument
			} else {
				v, err = ag.Arg.Evaluate(row)
				if err != nil {
					return err
				}
			}
			if err := g.accs[i].add(v); err != nil {
				return err
			}
		}
	}

	if len(a.groups) == 0 && len(a.groupBy) == 0 {
		a.groups = append(a.groups, &group{initial: true})
	}
	return nil
}

func aggName(fn plan.AggFunc) string {
	switch fn {
	case plan.AggCountStar, plan.AggCount:
		return "count"
	case plan.AggSum:
		return "sum"
	case plan.AggAvg:
		return "avg"
	case plan.AggMin:
		return "min"
	case plan.AggMax:
		return "max"
	default:
		return "agg"
	}
}

func (a *Aggregate) OutputSchema() types.Schema {
	in := a.input.OutputSchema()
	out := inferSchema(a.groupBy, in)
	for _, ag := range a.aggregates {
		col := types.Column{Name: aggName(ag.Func), Nullable: true}
		switch ag.Func {
		case plan.AggCountStar, plan.AggCount:
			col.Kind = types.KindInt64
			col.Nullable = false
		case plan.AggAvg:
			col.Kind = types.KindFloat64
		default:
			col.Kind = inferColumn(ag.Arg, in).Kind
		}
		out.Columns = append(out.Columns, col)
	}
	return out
}

func (a *Aggregate) Next(tup *expr.Tuple, rid *page.RID) (bool, error) {
	if a.emitIdx >= len(a.groups) {
		return false, nil
	}
	g := a.groups[a.emitIdx]
	a.emitIdx++

	out := make(expr.Tuple, 0, len(g.key)+len(a.aggregates))
	out = append(out, g.key...)
	if g.initial {
		for _, ag := range a.aggregates {
			if ag.Func == plan.AggCountStar {
				out = append(out, types.Int64(0))
			} else {
				out = append(out, types.Null)
			}
		}
	} else {
		for _, acc := range g.accs {
			out = append(out, acc.result())
		}
	}
	*tup = out
	*rid = page.RID{}
	return true, nil
}
