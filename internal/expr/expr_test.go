package expr_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"diskdb/internal/expr"
	"diskdb/internal/types"
)

func TestColumnRefReadsTuple(t *testing.T) {
	tup := expr.Tuple{types.Int64(1), types.Varchar("a")}
	v, err := (expr.ColumnRef{Index: 1}).Evaluate(tup)
	require.NoError(t, err)
	require.Equal(t, types.Varchar("a"), v)
}

func TestArithmeticAddsColumns(t *testing.T) {
	tup := expr.Tuple{types.Int64(2), types.Int64(3)}
	e := expr.Arithmetic{Op: expr.Add, Left: expr.ColumnRef{Index: 0}, Right: expr.ColumnRef{Index: 1}}
	v, err := e.Evaluate(tup)
	require.NoError(t, err)
	require.Equal(t, types.Int64(5), v)
}

func TestComparisonEvaluatesBool(t *testing.T) {
	tup := expr.Tuple{types.Int64(5)}
	e := expr.Comparison{Op: expr.Gt, Left: expr.ColumnRef{Index: 0}, Right: expr.Const{Value: types.Int64(3)}}
	v, err := e.Evaluate(tup)
	require.NoError(t, err)
	require.Equal(t, types.Bool(true), v)
}

func TestLogicalAndShortCircuitsOnFalse(t *testing.T) {
	tup := expr.Tuple{}
	e := expr.Logical{Op: expr.And, Left: expr.Const{Value: types.Bool(false)}, Right: expr.Const{Value: types.Null}}
	v, err := e.Evaluate(tup)
	require.NoError(t, err)
	require.Equal(t, types.Bool(false), v)
}

func TestLogicalNotNullPropagates(t *testing.T) {
	tup := expr.Tuple{}
	e := expr.Logical{Op: expr.Not, Left: expr.Const{Value: types.Null}}
	v, err := e.Evaluate(tup)
	require.NoError(t, err)
	require.True(t, v.IsNull())
}
