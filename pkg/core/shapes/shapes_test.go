// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	invalidShape := Invalid()
	require.False(t, invalidShape.Ok())

	shape0 := Make(dtypes.Float64)
	require.True(t, shape0.Ok())
	require.True(t, shape0.IsScalar())
	require.Equal(t, 0, shape0.Rank())
	require.Len(t, shape0.Dimensions, 0)
	require.Equal(t, 1, shape0.Size())
	require.Equal(t, 8, int(shape0.Memory()))

	shape1 := Make(dtypes.Float32, 4, 3, 2)
	require.True(t, shape1.Ok())
	require.False(t, shape1.IsScalar())
	require.Equal(t, 3, shape1.Rank())
	require.Equal(t, 4*3*2, shape1.Size())
	require.Equal(t, 4*4*3*2, int(shape1.Memory()))

	require.Equal(t, 2, shape1.Dim(-1))
	require.Equal(t, 4, shape1.Dim(0))

	require.Panics(t, func() { Make(dtypes.Float32, 4, 0) })
}

func TestShapeEqual(t *testing.T) {
	s1 := Make(dtypes.Float32, 10, 4)
	s2 := Make(dtypes.Float32, 10, 4)
	require.True(t, s1.Equal(s2))
	require.False(t, s1.Equal(Make(dtypes.Float64, 10, 4)))
	require.False(t, s1.Equal(Make(dtypes.Float32, 10)))

	require.True(t, s1.EqualDimensions(Make(dtypes.Float64, 10, 4)))
	require.True(t, s1.EqualExceptAxis(Make(dtypes.Float32, 3, 4), 0))
	require.False(t, s1.EqualExceptAxis(Make(dtypes.Float32, 3, 5), 0))
}

func TestShapeWithDim(t *testing.T) {
	s := Make(dtypes.Int32, 10, 4)
	s2 := s.WithDim(0, 3)
	require.Equal(t, []int{3, 4}, s2.Dimensions)
	require.Equal(t, []int{10, 4}, s.Dimensions)
}

func TestConcatenateDimensions(t *testing.T) {
	s1 := Make(dtypes.Float32, 3, 4)
	s2 := Make(dtypes.Float32, 7, 4)
	got := ConcatenateDimensions(s1, s2, 0)
	require.Equal(t, []int{10, 4}, got.Dimensions)

	require.Panics(t, func() { ConcatenateDimensions(s1, s2, 1) })
}
