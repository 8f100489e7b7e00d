// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines Shape and associated tools.
//
// Shape represents the shape (rank, dimensions and DType) of a host tensor, or of a shard of
// a distributed tensor. DType indicates the type of the unit element of a tensor, and is an
// enumeration defined in github.com/gomlx/gopjrt/dtypes.
//
// ## Glossary
//
//   - Rank: number of axes (dimensions) of a Tensor.
//   - Axis: the index of a dimension on a multidimensional Tensor. Sometimes used
//     interchangeably with Dimension, but here we try to refer to a dimension index as "axis"
//     (plural axes), and its size as its dimension.
//   - Dimension: the size of a multi-dimensions Tensor in one of its axes.
//   - Scalar: a shape with no axes (or dimensions), a single value of the associated DType.
//
// Example: the multi-dimensional array `[][]int32{{0, 1, 2}, {3, 4, 5}}` converted to a Tensor
// would have shape `(int32)[2 3]`: rank 2, axis 0 has dimension 2 and axis 1 has dimension 3.
// This shape is created with `shapes.Make(dtypes.Int32, 2, 3)`.
package shapes

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
)

// Shape represents the shape of a tensor: a DType and the dimension of each of its axes.
//
// Use Make to create a new shape.
type Shape struct {
	DType      dtypes.DType
	Dimensions []int
}

// Make returns a Shape structure filled with the values given.
//
// It panics if any dimension is <= 0 -- zero-sized shards are never valid in this engine.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	s := Shape{Dimensions: slices.Clone(dimensions), DType: dtype}
	for _, dim := range dimensions {
		if dim <= 0 {
			exceptions.Panicf("shapes.Make(%s): cannot create a shape with an axis with dimension <= 0", s)
		}
	}
	return s
}

// Invalid returns an invalid shape.
//
// Invalid().Ok() == false.
func Invalid() Shape {
	return Shape{DType: dtypes.InvalidDType}
}

// Ok returns whether this is a valid Shape. A "zero" shape, that is just instantiating it with Shape{} will be invalid.
func (s Shape) Ok() bool { return s.DType != dtypes.InvalidDType }

// Rank of the shape, that is, the number of dimensions.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether the shape represents a scalar, that is there are no dimensions (rank==0).
func (s Shape) IsScalar() bool { return s.Ok() && s.Rank() == 0 }

// Dim returns the dimension of the given axis. axis can take negative numbers, in which
// case it counts as starting from the end -- so axis=-1 refers to the last axis.
// Like with a slice indexing, it panics for an out-of-bound axis.
func (s Shape) Dim(axis int) int {
	adjustedAxis := axis
	if adjustedAxis < 0 {
		adjustedAxis += s.Rank()
	}
	if adjustedAxis < 0 || adjustedAxis >= s.Rank() {
		exceptions.Panicf("Shape.Dim(%d) out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s)
	}
	return s.Dimensions[adjustedAxis]
}

// Shape returns a shallow copy of itself. It implements the HasShape interface.
func (s Shape) Shape() Shape { return s }

// String implements stringer, pretty-prints the shape.
func (s Shape) String() string {
	if s.Rank() == 0 {
		return fmt.Sprintf("(%s)", s.DType)
	}
	return fmt.Sprintf("(%s)%v", s.DType, s.Dimensions)
}

// Size returns the number of elements of DType are needed for this shape. It's the product of all dimensions.
func (s Shape) Size() (size int) {
	size = 1
	for _, d := range s.Dimensions {
		size *= d
	}
	return
}

// Memory returns the memory used to store an array of the given shape, the same as the size in bytes.
func (s Shape) Memory() uintptr {
	return s.DType.Memory() * uintptr(s.Size())
}

// Equal compares two shapes for equality: dtype and dimensions are compared.
func (s Shape) Equal(s2 Shape) bool {
	if s.DType != s2.DType {
		return false
	}
	if s.Rank() != s2.Rank() {
		return false
	}
	return slices.Equal(s.Dimensions, s2.Dimensions)
}

// EqualDimensions compares two shapes for equality of dimensions. DTypes can be different.
func (s Shape) EqualDimensions(s2 Shape) bool {
	if s.Rank() != s2.Rank() {
		return false
	}
	return slices.Equal(s.Dimensions, s2.Dimensions)
}

// EqualExceptAxis compares the two shapes for equality of dtype and of every dimension except
// the one for the given axis. Used to check tensors are concatenable along an axis.
func (s Shape) EqualExceptAxis(s2 Shape, axis int) bool {
	if s.DType != s2.DType || s.Rank() != s2.Rank() {
		return false
	}
	for ii, dim := range s.Dimensions {
		if ii == axis {
			continue
		}
		if dim != s2.Dimensions[ii] {
			return false
		}
	}
	return true
}

// Clone returns a new deep copy of the shape.
func (s Shape) Clone() (s2 Shape) {
	s2.DType = s.DType
	s2.Dimensions = slices.Clone(s.Dimensions)
	return
}

// WithDim returns a clone of the shape with the dimension of the given axis replaced by dim.
//
// It panics for an out-of-bound axis or dim <= 0. Used to derive the shape of a shard (slice)
// of a tensor along one axis.
func (s Shape) WithDim(axis, dim int) Shape {
	if axis < 0 || axis >= s.Rank() {
		exceptions.Panicf("Shape.WithDim(%d, %d) out-of-bounds axis for rank %d (shape=%s)", axis, dim, s.Rank(), s)
	}
	if dim <= 0 {
		exceptions.Panicf("Shape.WithDim(%d, %d): dimension must be > 0 (shape=%s)", axis, dim, s)
	}
	s2 := s.Clone()
	s2.Dimensions[axis] = dim
	return s2
}

// HasShape is an interface for objects that have an associated Shape. Notice Shape
// itself implements the interface.
type HasShape interface {
	Shape() Shape
}

// ConcatenateDimensions of two shapes along the given axis. The shapes must have the same
// dtype, rank and matching dimensions on every other axis.
func ConcatenateDimensions(s1, s2 Shape, axis int) Shape {
	if !s1.EqualExceptAxis(s2, axis) {
		exceptions.Panicf("shapes.ConcatenateDimensions(%s, %s, axis=%d): shapes differ outside the concatenation axis",
			s1, s2, axis)
	}
	return s1.WithDim(axis, s1.Dimensions[axis]+s2.Dimensions[axis])
}

// CheckRank panics if the shape doesn't have the given rank.
func (s Shape) CheckRank(rank int) {
	if s.Rank() != rank {
		exceptions.Panicf("shape %s does not have expected rank %d", s, rank)
	}
}
