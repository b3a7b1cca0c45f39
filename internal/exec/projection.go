package exec

import (
	"diskdb/internal/expr"
	"diskdb/internal/page"
	"diskdb/internal/types"
)

// Projection evaluates Exprs against each row produced by Input.
type Projection struct {
	input Executor
	exprs []expr.Expr
}

func NewProjection(input Executor, exprs []expr.Expr) *Projection {
	return &Projection{input: input, exprs: exprs}
}

func (p *Projection) Init() error { return p.input.Init() }

func (p *Projection) OutputSchema() types.Schema {
	return inferSchema(p.exprs, p.input.OutputSchema())
}

func (p *Projection) Next(tup *expr.Tuple, rid *page.RID) (bool, error) {
	var row expr.Tuple
	var r page.RID
	ok, err := p.input.Next(&row, &r)
	if err != nil || !ok {
		return ok, err
	}
	out, err := evalAll(p.exprs, row)
	if err != nil {
		return false, err
	}
	*tup = out
	*rid = r
	return true, nil
}

// Filter passes through only rows of Input for which Predicate
// evaluates true.
type Filter struct {
	input     Executor
	predicate expr.Expr
}

func NewFilter(input Executor, predicate expr.Expr) *Filter {
	return &Filter{input: input, predicate: predicate}
}

func (f *Filter) Init() error { return f.input.Init() }

func (f *Filter) OutputSchema() types.Schema { return f.input.OutputSchema() }

func (f *Filter) Next(tup *expr.Tuple, rid *page.RID) (bool, error) {
	for {
		var row expr.Tuple
		var r page.RID
		ok, err := f.input.Next(&row, &r)
		if err != nil || !ok {
			return false, err
		}
		v, err := f.predicate.Evaluate(row)
		if err != nil {
			return false, err
		}
		if !v.IsNull() && v.Kind == types.KindBool && v.B {
			*tup = row
			*rid = r
			return true, nil
		}
	}
}
