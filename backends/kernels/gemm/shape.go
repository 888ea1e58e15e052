// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package gemm

import (
	"slices"

	"github.com/gomlx/gpukernels/backends/kernels"
	"github.com/gomlx/gpukernels/types/shapes"
)

// ComputeShape returns the shape of the result of multiplying the operands: [A, B] or [A, B, C].
//
// A has dimensions [batch..., m, k] and B [batch..., k, n], with the same batch dimensions. The result is
// a packed [batch..., m, n] of the same dtype. If C is given it must have the dimensions of the result.
func ComputeShape(inputs []shapes.Shape) (shapes.Shape, error) {
	if len(inputs) != 2 && len(inputs) != 3 {
		return shapes.Invalid(), kernels.Preconditionf("gemm: takes 2 or 3 operand shapes, got %d", len(inputs))
	}
	a, b := inputs[0], inputs[1]
	for ii, s := range inputs {
		if !s.Ok() {
			return shapes.Invalid(), kernels.Preconditionf("gemm: operand #%d has an invalid shape", ii)
		}
		if err := s.CheckMinRank(2); err != nil {
			return shapes.Invalid(), kernels.Preconditionf("gemm: operand #%d: %v", ii, err)
		}
		if s.DType != a.DType {
			return shapes.Invalid(), kernels.Preconditionf("gemm: operands must have the same dtype, got %s and %s", a, s)
		}
	}
	if a.Rank() != b.Rank() || !slices.Equal(a.Dimensions[:a.Rank()-2], b.Dimensions[:b.Rank()-2]) {
		return shapes.Invalid(), kernels.Preconditionf("gemm: batch dimensions of A %s and B %s don't match", a, b)
	}
	if a.Dim(-1) != b.Dim(-2) {
		return shapes.Invalid(), kernels.Preconditionf("gemm: contracting dimensions of A %s and B %s don't match", a, b)
	}
	dims := slices.Clone(a.Dimensions)
	dims[len(dims)-1] = b.Dim(-1)
	output := shapes.Make(a.DType, dims...)
	if len(inputs) == 3 && !inputs[2].EqualDimensions(output) {
		return shapes.Invalid(), kernels.Preconditionf("gemm: C %s must have the dimensions of the result %s", inputs[2], output)
	}
	return output, nil
}

// checkLayouts verifies every matrix can be described to the vendor routine: elements contiguous along
// its inner axis, and consecutive matrices of the batch packed one after the other.
//
// The last shape is the accumulator, which can't be transposed.
func checkLayouts(argShapes []shapes.Shape) error {
	last := len(argShapes) - 1
	for ii, s := range argShapes {
		transposed := s.Transposed()
		if ii == last && transposed {
			return kernels.Preconditionf("gemm: output argument %s can't be transposed", s)
		}
		inner := -1
		if transposed {
			inner = -2
		}
		if s.Dim(inner) > 1 && s.Stride(inner) != 1 {
			return kernels.Preconditionf("gemm: argument #%d %s must have unit stride along axis %d", ii, s, s.Rank()+inner)
		}
		if ld := leadingDimension(s, transposed); ld < s.Dim(inner) {
			return kernels.Preconditionf("gemm: argument #%d %s has overlapping rows or columns", ii, s)
		}
		matrixSize := s.Dim(-2) * s.Dim(-1)
		batchStrides := shapes.PackedStrides(s.Dimensions[:s.Rank()-2])
		for axis, stride := range batchStrides {
			if s.Dim(axis) > 1 && s.Stride(axis) != stride*matrixSize {
				return kernels.Preconditionf("gemm: argument #%d %s must have its batch matrices packed (stride %d for axis %d)",
					ii, s, stride*matrixSize, axis)
			}
		}
	}
	return nil
}
