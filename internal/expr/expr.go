// Package expr implements the tagged expression tree that predicates
// and projection lists compile to: ColumnRef, Const, Arithmetic,
// Comparison, Logical, and AggregateRef nodes, each evaluated against a
// decoded tuple, with columns addressed by position. A flat tagged
// variant per node kind, no inheritance.
package expr

import (
	"fmt"

	"diskdb/internal/types"
)

// Tuple is a decoded row: one Value per schema column, in column order.
type Tuple []types.Value

// Expr is any node in the expression tree.
type Expr interface {
	Evaluate(t Tuple) (types.Value, error)
}

// ColumnRef reads column Index of the input tuple.
type ColumnRef struct {
	Index int
	Name  string // for diagnostics
}

func (c ColumnRef) Evaluate(t Tuple) (types.Value, error) {
	if c.Index < 0 || c.Index >= len(t) {
		return types.Value{}, fmt.Errorf("expr: column index %d out of range", c.Index)
	}
	return t[c.Index], nil
}

// Const is a literal value.
type Const struct{ Value types.Value }

func (c Const) Evaluate(Tuple) (types.Value, error) { return c.Value, nil }

// ArithOp is one of + - * /.
type ArithOp byte

const (
	Add ArithOp = '+'
	Sub ArithOp = '-'
	Mul ArithOp = '*'
	Div ArithOp = '/'
)

// Arithmetic evaluates Left <op> Right.
type Arithmetic struct {
	Op          ArithOp
	Left, Right Expr
}

func (a Arithmetic) Evaluate(t Tuple) (types.Value, error) {
	l, err := a.Left.Evaluate(t)
	if err != nil {
		return types.Value{}, err
	}
	r, err := a.Right.Evaluate(t)
	if err != nil {
		return types.Value{}, err
	}
	return types.Arith(byte(a.Op), l, r)
}

// CompareOp is one of the six comparison operators.
type CompareOp int

const (
	Eq CompareOp = iota
	Ne
	Lt
	Le
	Gt
	Ge
)

// Comparison evaluates Left <op> Right, producing a Bool (or Null if
// either side is Null).
type Comparison struct {
	Op          CompareOp
	Left, Right Expr
}

func (c Comparison) Evaluate(t Tuple) (types.Value, error) {
	l, err := c.Left.Evaluate(t)
	if err != nil {
		return types.Value{}, err
	}
	r, err := c.Right.Evaluate(t)
	if err != nil {
		return types.Value{}, err
	}
	if l.IsNull() || r.IsNull() {
		return types.Null, nil
	}
	cmp, err := types.Compare(l, r)
	if err != nil {
		return types.Value{}, err
	}
	var b bool
	switch c.Op {
	case Eq:
		b = cmp == 0
	case Ne:
		b = cmp != 0
	case Lt:
		b = cmp < 0
	case Le:
		b = cmp <= 0
	case Gt:
		b = cmp > 0
	case Ge:
		b = cmp >= 0
	default:
		return types.Value{}, fmt.Errorf("expr: unknown comparison op %d", c.Op)
	}
	return types.Bool(b), nil
}

// LogicalOp is AND, OR, or NOT (NOT ignores Right).
type LogicalOp int

const (
	And LogicalOp = iota
	Or
	Not
)

// Logical combines boolean sub-expressions with three-valued (NULL
// propagating) semantics.
type Logical struct {
	Op          LogicalOp
	Left, Right Expr
}

func asBool(v types.Value) (*bool, error) {
	if v.IsNull() {
		return nil, nil
	}
	if v.Kind != types.KindBool {
		return nil, fmt.Errorf("expr: expected bool, got %s", v.Kind)
	}
	return &v.B, nil
}

func (l Logical) Evaluate(t Tuple) (types.Value, error) {
	lv, err := l.Left.Evaluate(t)
	if err != nil {
		return types.Value{}, err
	}
	lb, err := asBool(lv)
	if err != nil {
		return types.Value{}, err
	}

	if l.Op == Not {
		if lb == nil {
			return types.Null, nil
		}
		return types.Bool(!*lb), nil
	}

	rv, err := l.Right.Evaluate(t)
	if err != nil {
		return types.Value{}, err
	}
	rb, err := asBool(rv)
	if err != nil {
		return types.Value{}, err
	}

	switch l.Op {
	case And:
		if (lb != nil && !*lb) || (rb != nil && !*rb) {
			return types.Bool(false), nil
		}
		if lb == nil || rb == nil {
			return types.Null, nil
		}
		return types.Bool(*lb && *rb), nil
	case Or:
		if (lb != nil && *lb) || (rb != nil && *rb) {
			return types.Bool(true), nil
		}
		if lb == nil || rb == nil {
			return types.Null, nil
		}
		return types.Bool(*lb || *rb), nil
	default:
		return types.Value{}, fmt.Errorf("expr: unknown logical op %d", l.Op)
	}
}

// AggregateRef reads a precomputed aggregate result out of the input
// tuple at Index (Aggregation executors append their outputs after the
// group-by columns; this node lets Projection reference them by
// position without knowing the aggregate's internals).
type AggregateRef struct {
	Index int
}

func (a AggregateRef) Evaluate(t Tuple) (types.Value, error) {
	if a.Index < 0 || a.Index >= len(t) {
		return types.Value{}, fmt.Errorf("expr: aggregate index %d out of range", a.Index)
	}
	return t[a.Index], nil
}
