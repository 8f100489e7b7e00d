// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func iotaFloat32(dims ...int) *Tensor {
	size := 1
	for _, d := range dims {
		size *= d
	}
	flat := make([]float32, size)
	for i := range flat {
		flat[i] = float32(i)
	}
	return FromFlatDataAndDimensions(flat, dims...)
}

func flatOf[T dtypes.Supported](t *testing.T, tensor *Tensor) []T {
	var got []T
	MustConstFlatData(tensor, func(flat []T) {
		got = append(got, flat...)
	})
	return got
}

func TestSlice(t *testing.T) {
	// [[0 1 2] [3 4 5] [6 7 8] [9 10 11]]
	full := iotaFloat32(4, 3)

	rows, err := Slice(full, 0, 1, 2)
	require.NoError(t, err)
	require.Equal(t, []int{2, 3}, rows.Shape().Dimensions)
	require.Equal(t, []float32{3, 4, 5, 6, 7, 8}, flatOf[float32](t, rows))

	cols, err := Slice(full, 1, 2, 1)
	require.NoError(t, err)
	require.Equal(t, []int{4, 1}, cols.Shape().Dimensions)
	require.Equal(t, []float32{2, 5, 8, 11}, flatOf[float32](t, cols))

	_, err = Slice(full, 0, 3, 2)
	require.Error(t, err)
	_, err = Slice(full, 2, 0, 1)
	require.Error(t, err)
}

func TestConcat(t *testing.T) {
	full := iotaFloat32(4, 3)
	top, err := Slice(full, 0, 0, 3)
	require.NoError(t, err)
	bottom, err := Slice(full, 0, 3, 1)
	require.NoError(t, err)

	back, err := Concat([]*Tensor{top, bottom}, 0)
	require.NoError(t, err)
	require.True(t, back.Equal(full))

	left, err := Slice(full, 1, 0, 1)
	require.NoError(t, err)
	right, err := Slice(full, 1, 1, 2)
	require.NoError(t, err)
	back, err = Concat([]*Tensor{left, right}, 1)
	require.NoError(t, err)
	require.True(t, back.Equal(full))

	// Mismatched off-axis dimensions.
	_, err = Concat([]*Tensor{top, left}, 0)
	require.Error(t, err)
}

func TestSum(t *testing.T) {
	a := FromFlatDataAndDimensions([]int32{1, 2, 3, 4}, 2, 2)
	b := FromFlatDataAndDimensions([]int32{10, 20, 30, 40}, 2, 2)
	c := FromFlatDataAndDimensions([]int32{100, 200, 300, 400}, 2, 2)
	got, err := Sum([]*Tensor{a, b, c})
	require.NoError(t, err)
	require.Equal(t, []int32{111, 222, 333, 444}, flatOf[int32](t, got))

	// Inputs are untouched.
	require.Equal(t, []int32{1, 2, 3, 4}, flatOf[int32](t, a))

	_, err = Sum([]*Tensor{a, FromFlatDataAndDimensions([]int32{1, 2}, 2)})
	require.Error(t, err)
	_, err = Sum(nil)
	require.Error(t, err)
}

func TestSumFloat16(t *testing.T) {
	a := FromScalarAndDimensions(float16.Fromfloat32(1.5), 3)
	b := FromScalarAndDimensions(float16.Fromfloat32(2.25), 3)
	got, err := Sum([]*Tensor{a, b})
	require.NoError(t, err)
	for _, v := range flatOf[float16.Float16](t, got) {
		require.Equal(t, float32(3.75), v.Float32())
	}
}

func TestSumBFloat16(t *testing.T) {
	a := FromScalarAndDimensions(bfloat16.FromFloat32(1.5), 3)
	b := FromScalarAndDimensions(bfloat16.FromFloat32(2.5), 3)
	got, err := Sum([]*Tensor{a, b})
	require.NoError(t, err)
	for _, v := range flatOf[bfloat16.BFloat16](t, got) {
		require.Equal(t, float32(4), v.Float32())
	}
}

func TestTensorAccessors(t *testing.T) {
	tensor := FromScalarAndDimensions(float64(7), 2, 3)
	require.Equal(t, dtypes.Float64, tensor.DType())
	require.Equal(t, 2, tensor.Rank())
	require.Equal(t, 6, tensor.Size())

	clone := tensor.Clone()
	require.True(t, clone.Equal(tensor))
	MustMutableFlatData(clone, func(flat []float64) {
		flat[0] = -1
	})
	require.False(t, clone.Equal(tensor))

	require.Panics(t, func() {
		MustConstFlatData(tensor, func(flat []float32) {})
	})
}
