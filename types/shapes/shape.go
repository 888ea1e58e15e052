/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package shapes defines Shape, the descriptor of a tensor stored in device memory.
//
// A Shape holds the DType of the unit element, the dimensions of each axis and the
// strides (in elements, not bytes) used to locate each element in memory. Strides
// need not be packed or monotonic: a transposed view of a matrix is simply the same
// memory with the last two strides swapped.
//
// DType is the enumeration defined in github.com/gomlx/gopjrt/dtypes. Go float16
// support uses github.com/x448/float16, and bfloat16 uses github.com/gomlx/gopjrt/dtypes/bfloat16.
//
// ## Glossary
//
//   - Rank: number of axes (dimensions) of a tensor.
//   - Axis: the index of a dimension on a multidimensional tensor.
//   - Dimension: the size of a tensor in one of its axes.
//   - Stride: the distance, in elements, between two consecutive indices of an axis.
//   - Packed: a row-major layout with no gaps, where the last axis has stride 1.
//
// Example: `shapes.Make(dtypes.Float32, 2, 3)` has strides `[3 1]`, and its transposed
// view `shapes.MakeStrided(dtypes.Float32, []int{3, 2}, []int{1, 3})` reads the same memory
// as a 3x2 matrix.
package shapes

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gopjrt/dtypes"
)

// Shape describes a tensor: its element type, dimensions and strides.
//
// Use Make or MakeStrided to create a new shape.
type Shape struct {
	DType      DType
	Dimensions []int

	// Strides, in number of elements, one per axis.
	Strides []int
}

// Make returns a packed, row-major Shape with the dimensions given.
func Make(dtype DType, dimensions ...int) Shape {
	s := Shape{DType: dtype, Dimensions: slices.Clone(dimensions)}
	for _, dim := range dimensions {
		if dim <= 0 {
			exceptions.Panicf("shapes.Make(%s): cannot create a shape with an axis with dimension <= 0", s)
		}
	}
	s.Strides = PackedStrides(dimensions)
	return s
}

// MakeStrided returns a Shape with an arbitrary memory layout.
//
// It panics if the number of strides doesn't match the number of dimensions, or if any
// dimension is <= 0 or any stride is negative.
func MakeStrided(dtype DType, dimensions, strides []int) Shape {
	s := Shape{DType: dtype, Dimensions: slices.Clone(dimensions), Strides: slices.Clone(strides)}
	if len(dimensions) != len(strides) {
		exceptions.Panicf("shapes.MakeStrided(%s): %d dimensions given, but %d strides", s, len(dimensions), len(strides))
	}
	for axis, dim := range dimensions {
		if dim <= 0 {
			exceptions.Panicf("shapes.MakeStrided(%s): cannot create a shape with an axis with dimension <= 0", s)
		}
		if strides[axis] < 0 {
			exceptions.Panicf("shapes.MakeStrided(%s): negative stride for axis %d", s, axis)
		}
	}
	return s
}

// PackedStrides returns the strides of a packed row-major layout for the given dimensions.
func PackedStrides(dimensions []int) []int {
	strides := make([]int, len(dimensions))
	stride := 1
	for axis := len(dimensions) - 1; axis >= 0; axis-- {
		strides[axis] = stride
		stride *= dimensions[axis]
	}
	return strides
}

// Invalid returns an invalid shape.
//
// Invalid().Ok() == false.
func Invalid() Shape {
	return Shape{DType: InvalidDType}
}

// Ok returns whether this is a valid Shape. A "zero" shape, that is just instantiating it with Shape{} will be invalid.
func (s Shape) Ok() bool { return s.DType != InvalidDType }

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

// Stride returns the stride of the given axis. Negative axes count from the end, like in Dim.
func (s Shape) Stride(axis int) int {
	adjustedAxis := axis
	if adjustedAxis < 0 {
		adjustedAxis += s.Rank()
	}
	if adjustedAxis < 0 || adjustedAxis >= s.Rank() {
		exceptions.Panicf("Shape.Stride(%d) out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s)
	}
	return s.Strides[adjustedAxis]
}

// Shape returns a shallow copy of itself. It implements the HasShape interface.
func (s Shape) Shape() Shape { return s }

// String implements stringer, pretty-prints the shape.
// Strides are only printed if the shape is not packed.
func (s Shape) String() string {
	if s.Rank() == 0 {
		return fmt.Sprintf("(%s)", s.DType)
	}
	if s.IsPacked() {
		return fmt.Sprintf("(%s)%v", s.DType, s.Dimensions)
	}
	return fmt.Sprintf("(%s)%v/strides%v", s.DType, s.Dimensions, s.Strides)
}

// Size returns the number of elements of DType are needed for this shape. It's the product of all dimensions.
func (s Shape) Size() (size int) {
	size = 1
	for _, d := range s.Dimensions {
		size *= d
	}
	return
}

// ElementSpace returns the number of elements spanned in memory by the shape: the offset of
// the last element plus one. For packed shapes it is the same as Size.
func (s Shape) ElementSpace() int {
	if !s.Ok() {
		return 0
	}
	space := 1
	for axis, dim := range s.Dimensions {
		space += (dim - 1) * s.Strides[axis]
	}
	return space
}

// Memory returns the number of bytes spanned in memory by the shape.
func (s Shape) Memory() uintptr {
	return s.DType.Memory() * uintptr(s.ElementSpace())
}

// IsPacked returns whether the strides are those of a packed row-major layout.
func (s Shape) IsPacked() bool {
	return slices.Equal(s.Strides, PackedStrides(s.Dimensions))
}

// Transposed returns whether the last two axes are laid out column-major, that is, the stride of
// the last axis is larger than the stride of the one before it.
//
// Shapes of rank < 2 are never transposed.
func (s Shape) Transposed() bool {
	rank := s.Rank()
	if rank < 2 {
		return false
	}
	return s.Strides[rank-2] < s.Strides[rank-1]
}

// Transpose returns a view of the same memory with the last two axes swapped.
// It panics for shapes of rank < 2.
func (s Shape) Transpose() Shape {
	rank := s.Rank()
	if rank < 2 {
		exceptions.Panicf("Shape.Transpose() requires rank >= 2, got %s", s)
	}
	t := s.Clone()
	t.Dimensions[rank-2], t.Dimensions[rank-1] = t.Dimensions[rank-1], t.Dimensions[rank-2]
	t.Strides[rank-2], t.Strides[rank-1] = t.Strides[rank-1], t.Strides[rank-2]
	return t
}

// WithDim returns a packed shape with the same dtype and dimensions, except axis is set to dim.
func (s Shape) WithDim(axis, dim int) Shape {
	dims := slices.Clone(s.Dimensions)
	if axis < 0 {
		axis += len(dims)
	}
	if axis < 0 || axis >= len(dims) {
		exceptions.Panicf("Shape.WithDim(%d, %d) out-of-bounds for shape %s", axis, dim, s)
	}
	dims[axis] = dim
	return Make(s.DType, dims...)
}

// WithDType returns a packed shape with the same dimensions and the given dtype.
func (s Shape) WithDType(dtype DType) Shape {
	return Make(dtype, s.Dimensions...)
}

// Multi converts a flat element number (in row-major order of the dimensions, regardless of
// the strides) to the coordinates of the element.
func (s Shape) Multi(flat int) []int {
	multi := make([]int, s.Rank())
	for axis := s.Rank() - 1; axis >= 0; axis-- {
		dim := s.Dimensions[axis]
		multi[axis] = flat % dim
		flat /= dim
	}
	return multi
}

// Index converts the coordinates of an element to its offset in memory, using the strides.
func (s Shape) Index(multi []int) int {
	index := 0
	for axis, idx := range multi {
		index += idx * s.Strides[axis]
	}
	return index
}

// Equal compares two shapes for equality: dtype, dimensions and strides are compared.
func (s Shape) Equal(s2 Shape) bool {
	if s.DType != s2.DType {
		return false
	}
	return slices.Equal(s.Dimensions, s2.Dimensions) && slices.Equal(s.Strides, s2.Strides)
}

// EqualDimensions compares two shapes for equality of dimensions. Dtypes and strides can be different.
func (s Shape) EqualDimensions(s2 Shape) bool {
	return slices.Equal(s.Dimensions, s2.Dimensions)
}

// Clone returns a new deep copy of the shape.
func (s Shape) Clone() (s2 Shape) {
	s2.DType = s.DType
	s2.Dimensions = slices.Clone(s.Dimensions)
	s2.Strides = slices.Clone(s.Strides)
	return
}
