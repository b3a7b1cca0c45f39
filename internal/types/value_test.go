package types_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"diskdb/internal/types"
)

func TestArithIntegerStaysInteger(t *testing.T) {
	v, err := types.Arith('+', types.Int64(2), types.Int64(3))
	require.NoError(t, err)
	require.Equal(t, types.Int64(5), v)
}

func TestArithMixedPromotesToFloat(t *testing.T) {
	v, err := types.Arith('*', types.Int64(2), types.Float64(1.5))
	require.NoError(t, err)
	require.Equal(t, types.KindFloat64, v.Kind)
	require.InDelta(t, 3.0, v.F, 1e-9)
}

func TestArithDivisionByZeroErrors(t *testing.T) {
	_, err := types.Arith('/', types.Int64(1), types.Int64(0))
	require.Error(t, err)
}

func TestCompareNullSortsFirst(t *testing.T) {
	c, err := types.Compare(types.Null, types.Int64(0))
	require.NoError(t, err)
	require.Equal(t, -1, c)
}

func TestCompareVarcharBytewise(t *testing.T) {
	c, err := types.Compare(types.Varchar("a"), types.Varchar("b"))
	require.NoError(t, err)
	require.Equal(t, -1, c)
}

func TestEncodeInt64PreservesOrder(t *testing.T) {
	lo := types.Encode(types.Int64(-5))
	hi := types.Encode(types.Int64(5))
	require.Equal(t, -1, compareBytes(lo, hi))
}

func compareBytes(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
