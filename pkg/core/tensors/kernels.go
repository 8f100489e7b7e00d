// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"reflect"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/reshard/pkg/core/shapes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// This file implements the local restructuring kernels the reshard strategies are built on:
// Slice (a contiguous sub-range along one axis), Concat (the inverse) and Sum (element-wise
// sum of same-shaped tensors). All three return newly allocated tensors and never touch their
// inputs.

// axisStrides returns the number of contiguous blocks before the axis (outer) and the number
// of elements per step of the axis (inner), for a row-major flat layout.
func axisStrides(shape shapes.Shape, axis int) (outer, inner int) {
	outer, inner = 1, 1
	for ii, dim := range shape.Dimensions {
		switch {
		case ii < axis:
			outer *= dim
		case ii > axis:
			inner *= dim
		}
	}
	return
}

// Slice returns a new tensor with the contiguous range [start, start+count) of the given axis.
//
// The equivalent of `t[..., start:start+count, ...]`.
func Slice(t *Tensor, axis, start, count int) (*Tensor, error) {
	shape := t.Shape()
	if axis < 0 || axis >= shape.Rank() {
		return nil, errors.Errorf("tensors.Slice: axis %d out-of-range for shape %s", axis, shape)
	}
	dim := shape.Dimensions[axis]
	if start < 0 || count <= 0 || start+count > dim {
		return nil, errors.Errorf("tensors.Slice: range [%d, %d) invalid for axis %d of shape %s",
			start, start+count, axis, shape)
	}
	out := FromShape(shape.WithDim(axis, count))
	outer, inner := axisStrides(shape, axis)
	srcV := reflect.ValueOf(t.flat)
	dstV := reflect.ValueOf(out.flat)
	srcBlock := dim * inner
	dstBlock := count * inner
	for o := 0; o < outer; o++ {
		srcOff := o*srcBlock + start*inner
		reflect.Copy(dstV.Slice(o*dstBlock, (o+1)*dstBlock), srcV.Slice(srcOff, srcOff+dstBlock))
	}
	return out, nil
}

// Concat concatenates the given tensors along the given axis, in the order given.
//
// All parts must have the same dtype and the same dimensions on every axis other than the
// concatenation axis. It is the exact inverse of slicing a tensor into contiguous parts.
func Concat(parts []*Tensor, axis int) (*Tensor, error) {
	if len(parts) == 0 {
		return nil, errors.New("tensors.Concat: no tensors to concatenate")
	}
	first := parts[0].Shape()
	if axis < 0 || axis >= first.Rank() {
		return nil, errors.Errorf("tensors.Concat: axis %d out-of-range for shape %s", axis, first)
	}
	totalDim := 0
	for ii, part := range parts {
		if !first.EqualExceptAxis(part.Shape(), axis) {
			return nil, errors.Errorf("tensors.Concat: tensor #%d shape %s not compatible with %s on axis %d",
				ii, part.Shape(), first, axis)
		}
		totalDim += part.Shape().Dimensions[axis]
	}
	out := FromShape(first.WithDim(axis, totalDim))
	outer, inner := axisStrides(first, axis)
	dstV := reflect.ValueOf(out.flat)
	axisOffset := 0
	for _, part := range parts {
		partDim := part.Shape().Dimensions[axis]
		srcV := reflect.ValueOf(part.flat)
		srcBlock := partDim * inner
		for o := 0; o < outer; o++ {
			dstOff := o*totalDim*inner + axisOffset*inner
			reflect.Copy(dstV.Slice(dstOff, dstOff+srcBlock), srcV.Slice(o*srcBlock, (o+1)*srcBlock))
		}
		axisOffset += partDim
	}
	return out, nil
}

// podNumericConstraints are the Go types whose addition is native.
type podNumericConstraints interface {
	~int8 | ~int16 | ~int32 | ~int64 |
		~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64 | ~complex64 | ~complex128
}

func sumFlat[T podNumericConstraints](dst *Tensor, parts []*Tensor) {
	flatDst := dst.flat.([]T)
	for _, part := range parts {
		flatSrc := part.flat.([]T)
		for ii, v := range flatSrc {
			flatDst[ii] += v
		}
	}
}

// sumFlatFloat16 accumulates in the element type: each addition rounds back to f16, the same
// as an f16 all-reduce on device would.
func sumFlatFloat16(dst *Tensor, parts []*Tensor) {
	flatDst := dst.flat.([]float16.Float16)
	for _, part := range parts {
		flatSrc := part.flat.([]float16.Float16)
		for ii, v := range flatSrc {
			flatDst[ii] = float16.Fromfloat32(flatDst[ii].Float32() + v.Float32())
		}
	}
}

func sumFlatBFloat16(dst *Tensor, parts []*Tensor) {
	flatDst := dst.flat.([]bfloat16.BFloat16)
	for _, part := range parts {
		flatSrc := part.flat.([]bfloat16.BFloat16)
		for ii, v := range flatSrc {
			flatDst[ii] = bfloat16.FromFloat32(flatDst[ii].Float32() + v.Float32())
		}
	}
}

// Sum returns the element-wise sum of the given tensors, accumulated in ascending index order
// of parts -- deterministic for a fixed input order. The result keeps the input dtype, there is
// no implicit upcasting.
func Sum(parts []*Tensor) (*Tensor, error) {
	if len(parts) == 0 {
		return nil, errors.New("tensors.Sum: no tensors to sum")
	}
	shape := parts[0].Shape()
	for ii, part := range parts {
		if !shape.Equal(part.Shape()) {
			return nil, errors.Errorf("tensors.Sum: tensor #%d has shape %s, expected %s", ii, part.Shape(), shape)
		}
	}
	out := FromShape(shape)
	switch shape.DType {
	case dtypes.Int8:
		sumFlat[int8](out, parts)
	case dtypes.Int16:
		sumFlat[int16](out, parts)
	case dtypes.Int32:
		sumFlat[int32](out, parts)
	case dtypes.Int64:
		sumFlat[int64](out, parts)
	case dtypes.Uint8:
		sumFlat[uint8](out, parts)
	case dtypes.Uint16:
		sumFlat[uint16](out, parts)
	case dtypes.Uint32:
		sumFlat[uint32](out, parts)
	case dtypes.Uint64:
		sumFlat[uint64](out, parts)
	case dtypes.Float32:
		sumFlat[float32](out, parts)
	case dtypes.Float64:
		sumFlat[float64](out, parts)
	case dtypes.Complex64:
		sumFlat[complex64](out, parts)
	case dtypes.Complex128:
		sumFlat[complex128](out, parts)
	case dtypes.Float16:
		sumFlatFloat16(out, parts)
	case dtypes.BFloat16:
		sumFlatBFloat16(out, parts)
	default:
		return nil, errors.Errorf("tensors.Sum: dtype %s not supported for summation", shape.DType)
	}
	return out, nil
}
