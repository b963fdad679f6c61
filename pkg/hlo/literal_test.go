// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hlo

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestLiteral(t *testing.T) {
	table := NewLiteral([]int32{0, 4, 8, 12})
	require.Equal(t, "s32[4]", table.Shape().String())
	require.Equal(t, "{0,4,8,12}", table.String())
	v, ok := table.Int64At(2)
	require.True(t, ok)
	require.Equal(t, int64(8), v)
	_, ok = table.Int64At(4)
	require.False(t, ok)
	_, ok = table.ScalarInt64()
	require.False(t, ok)

	scalar := ScalarLiteral(uint32(7))
	require.True(t, scalar.Shape().IsScalar())
	require.Equal(t, "7", scalar.String())
	v, ok = scalar.ScalarInt64()
	require.True(t, ok)
	require.Equal(t, int64(7), v)

	floats := NewLiteral([]float32{1.5, 2, 3, 4}, 2, 2)
	require.Equal(t, []int{2, 2}, floats.Shape().Dimensions)
	_, ok = floats.Int64At(0)
	require.False(t, ok)
	f, ok := floats.Float64At(0)
	require.True(t, ok)
	require.Equal(t, 1.5, f)

	halfs := NewLiteral([]float16.Float16{float16.Fromfloat32(0.5)})
	f, ok = halfs.Float64At(0)
	require.True(t, ok)
	require.Equal(t, 0.5, f)

	require.Panics(t, func() { _ = NewLiteral([]int32{1, 2, 3}, 2, 2) })

	clone := table.Clone()
	require.True(t, clone.Equal(table))
	clone.Flat().([]int32)[0] = 1
	require.False(t, clone.Equal(table), "Clone must not share the flat values")

	fromFlat, err := NewLiteralFromFlat(MakeShape(dtypes.Int32, 2), []int32{3, 5})
	require.NoError(t, err)
	require.Equal(t, "{3,5}", fromFlat.String())
	_, err = NewLiteralFromFlat(MakeShape(dtypes.Int32, 2), []int64{3, 5})
	require.Error(t, err)
	_, err = NewLiteralFromFlat(MakeShape(dtypes.Int32, 3), []int32{3, 5})
	require.Error(t, err)
}
