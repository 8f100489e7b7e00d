// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implement a host `Tensor`, a representation of a multidimensional array.
//
// Tensors are multidimensional arrays (from scalar with 0 dimensions, to arbitrarily large dimensions),
// defined by their shape (a data type and its axes' dimensions) and their actual content, stored
// as a flat (1D) slice of the corresponding Go type.
//
// In this module a Tensor is either a full (replicated) tensor or the local shard of a
// distributed tensor -- see the distributed package. Tensors are treated as immutable values by
// the reshard engine: every transformation allocates a new Tensor (see Slice, Concat and Sum in
// this package); MutableFlatData exists for initializing freshly created tensors.
//
// There are various ways to construct a Tensor from local data:
//
//   - FromShape(shape shapes.Shape): creates a tensor with the given shape, and zero values.
//
//   - FromScalarAndDimensions[T](value T, dimensions ...int): creates a Tensor with the
//     given dimensions, filled with the scalar value given. `T` must be one of the supported types.
//
//   - FromFlatDataAndDimensions[T](data []T, dimensions ...int): creates a Tensor with the
//     given dimensions and copies the flattened values from the given data. Example:
//
//     t := FromFlatDataAndDimensions([]int8{1, 2, 3, 4}, 2, 2) // Tensor with [[1,2], [3,4]]
package tensors

import (
	"fmt"
	"reflect"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/reshard/pkg/core/shapes"
	"github.com/pkg/errors"
)

// Tensor represents a multidimensional array, defined by its shape -- a data type (dtypes.DType)
// and its axes' dimensions -- and its content, stored as a flat (1D) slice of the DType's Go type.
type Tensor struct {
	// shape of the tensor, considered immutable.
	shape shapes.Shape

	// flat holds the slice with the actual data: a []T where T == shape.DType.GoType().
	flat any
}

// newTensor returns a Tensor with the shape set but no data storage allocated yet.
func newTensor(shape shapes.Shape) *Tensor {
	return &Tensor{shape: shape}
}

// FromShape returns a Tensor with the given shape, with the data initialized with zeros.
//
// It panics if given an invalid shape.
func FromShape(shape shapes.Shape) *Tensor {
	if !shape.Ok() {
		panic(errors.New("tensors.FromShape: invalid shape"))
	}
	t := newTensor(shape)
	flatV := reflect.MakeSlice(reflect.SliceOf(shape.DType.GoType()), shape.Size(), shape.Size())
	t.flat = flatV.Interface()
	return t
}

// FromFlatDataAndDimensions creates a tensor with the given dimensions, whose flattened values
// are copied from data. The data length must match the size of the resulting shape.
func FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int) *Tensor {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	if len(data) != shape.Size() {
		panic(errors.Errorf("tensors.FromFlatDataAndDimensions: data length %d does not match shape %s size %d",
			len(data), shape, shape.Size()))
	}
	t := FromShape(shape)
	copy(t.flat.([]T), data)
	return t
}

// FromScalarAndDimensions creates a tensor with the given dimensions, filled with the given scalar value.
func FromScalarAndDimensions[T dtypes.Supported](value T, dimensions ...int) *Tensor {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	t := FromShape(shape)
	flat := t.flat.([]T)
	for ii := range flat {
		flat[ii] = value
	}
	return t
}

// Shape of the tensor.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType of the tensor's elements.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Rank of the tensor.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// Size is the number of elements stored in the tensor, the product of all dimensions.
func (t *Tensor) Size() int { return t.shape.Size() }

// Memory is the number of bytes used to store the tensor data.
func (t *Tensor) Memory() uintptr { return t.shape.Memory() }

// ConstFlatData calls accessFn with the tensor's flat data (a []T where T is the DType's Go type).
//
// The callee must not modify the data -- use MutableFlatData for that.
func (t *Tensor) ConstFlatData(accessFn func(flat any)) {
	accessFn(t.flat)
}

// MutableFlatData calls accessFn with the tensor's flat data (a []T where T is the DType's Go type),
// which may be modified in place.
//
// This is meant for initializing tensors right after construction. The reshard engine never
// mutates a tensor it was handed.
func (t *Tensor) MutableFlatData(accessFn func(flat any)) {
	accessFn(t.flat)
}

// MustConstFlatData calls accessFn with the tensor's flat data as a []T.
// It panics if T does not match the tensor's DType.
func MustConstFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	if t.shape.DType != dtypes.FromGenericsType[T]() {
		var v T
		panic(errors.Errorf("tensors.MustConstFlatData[%T]: tensor has dtype %s", v, t.shape.DType))
	}
	accessFn(t.flat.([]T))
}

// MustMutableFlatData calls accessFn with the tensor's mutable flat data as a []T.
// It panics if T does not match the tensor's DType.
func MustMutableFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	if t.shape.DType != dtypes.FromGenericsType[T]() {
		var v T
		panic(errors.Errorf("tensors.MustMutableFlatData[%T]: tensor has dtype %s", v, t.shape.DType))
	}
	accessFn(t.flat.([]T))
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	clone := FromShape(t.shape.Clone())
	reflect.Copy(reflect.ValueOf(clone.flat), reflect.ValueOf(t.flat))
	return clone
}

// Equal checks whether t2 has the same shape and element values as t.
func (t *Tensor) Equal(t2 *Tensor) bool {
	if t == t2 {
		return true
	}
	if t == nil || t2 == nil {
		return false
	}
	if !t.shape.Equal(t2.shape) {
		return false
	}
	return reflect.DeepEqual(t.flat, t2.flat)
}

// String prints a summary of the tensor.
func (t *Tensor) String() string {
	if t == nil {
		return "Tensor<nil>"
	}
	return fmt.Sprintf("Tensor%s", t.shape)
}
