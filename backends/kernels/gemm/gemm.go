// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package gemm implements the batched matrix multiplication of N-dimensional tensors with a single
// call to the vendor strided-batched GEMM.
//
// The last two axes of each tensor are the matrix rows and columns, and the leading axes are batch axes,
// folded into the batch count of the vendor call. Operands can be transposed by their strides alone:
// a tensor whose last two strides are swapped is passed to the vendor routine as a transposed operand,
// without moving any data.
package gemm

import (
	"github.com/gomlx/gpukernels/backends/device"
	"github.com/gomlx/gpukernels/backends/device/blas"
	"github.com/gomlx/gpukernels/backends/kernels"
	"github.com/gomlx/gpukernels/backends/kernels/dispatch"
	"github.com/gomlx/gpukernels/types/shapes"
	"k8s.io/klog/v2"
)

// Gemm computes output = Alpha * A×B + Beta * C, for each matrix of the batch.
//
// The coefficients are fixed when the operator is created, and they are not changed by Compute, so
// a Gemm can be used concurrently.
type Gemm struct {
	Alpha, Beta float64
}

// New returns a Gemm with Alpha=1 and Beta=1: with a bias argument it computes A×B + bias, without
// it A×B.
func New() *Gemm {
	return &Gemm{Alpha: 1, Beta: 1}
}

// params holds the vendor call parameters in the logical, row-major terms of the tensors.
type params struct {
	transA, transB bool
	lda, ldb, ldc  int
	m, n, k        int
	batchCount     int
}

// vendorOperation converts a transposition flag to the vendor operation code.
func vendorOperation(transposed bool) blas.Operation {
	if transposed {
		return blas.OperationTranspose
	}
	return blas.OperationNone
}

// newParams derives the vendor call parameters from the shapes of the operands and of the accumulator.
func newParams(a, b, acc shapes.Shape) params {
	var p params
	p.transA = a.Transposed()
	p.transB = b.Transposed()
	p.lda = leadingDimension(a, p.transA)
	p.ldb = leadingDimension(b, p.transB)
	p.ldc = leadingDimension(acc, false)
	p.m = acc.Dim(-2)
	p.n = acc.Dim(-1)
	p.k = a.Dim(-1)
	p.batchCount = acc.Size() / (p.m * p.n)
	return p
}

// leadingDimension is the stride of the outer matrix axis: the rows axis, or the columns axis
// if the matrix is transposed.
//
// If the outer axis has dimension 1 its stride is never used, and the smallest valid leading dimension
// is returned instead.
func leadingDimension(s shapes.Shape, transposed bool) int {
	outer, inner := -2, -1
	if transposed {
		outer, inner = -1, -2
	}
	ld := s.Stride(outer)
	if s.Dim(outer) == 1 {
		ld = max(ld, s.Dim(inner))
	}
	return ld
}

// Compute multiplies the matrices in args, enqueuing all the device work on the stream of h.
//
// args are either [A, B, C] or [A, B, C, out]:
//
//   - With 3 arguments, C is zero-filled and it receives Alpha * A×B.
//   - With 4 arguments, C (typically a bias) is first copied into out, and out receives Alpha * A×B + Beta * C.
//     C itself is not changed.
//
// outputShape is the shape of the result. The last argument, the accumulator, is returned: no new buffer is allocated.
//
// Errors: arguments not satisfying the requirements of ComputeShape wrap kernels.ErrPreconditionViolation, element
// types with no vendor GEMM wrap dispatch.ErrUnsupportedType. In both cases nothing is enqueued.
// Device failures are only reported by the next synchronization of the stream.
func (g *Gemm) Compute(h *blas.Handle, outputShape shapes.Shape, args []device.Argument) (device.Argument, error) {
	if len(args) != 3 && len(args) != 4 {
		return device.Argument{}, kernels.Preconditionf("gemm.Compute: takes 3 or 4 arguments, got %d", len(args))
	}
	argShapes := make([]shapes.Shape, len(args))
	for ii, arg := range args {
		if !arg.Ok() {
			return device.Argument{}, kernels.Preconditionf("gemm.Compute: argument #%d has no buffer", ii)
		}
		argShapes[ii] = arg.Shape()
	}
	want, err := ComputeShape(argShapes[:3])
	if err != nil {
		return device.Argument{}, err
	}
	if !outputShape.EqualDimensions(want) || outputShape.DType != want.DType {
		return device.Argument{}, kernels.Preconditionf("gemm.Compute: output shape %s doesn't match the operands, expected dimensions %s",
			outputShape, want)
	}
	acc := args[len(args)-1]
	if err := acc.Shape().Check(outputShape.DType, outputShape.Dimensions...); err != nil {
		return device.Argument{}, kernels.Preconditionf("gemm.Compute: invalid accumulator argument: %v", err)
	}
	if err := checkLayouts(argShapes); err != nil {
		return device.Argument{}, err
	}
	if len(args) == 4 && !argShapes[2].Equal(argShapes[3]) {
		return device.Argument{}, kernels.Preconditionf("gemm.Compute: C shape %s and output argument shape %s must have the same layout",
			argShapes[2], argShapes[3])
	}

	// Resolve the vendor routine before any device work.
	gemmFn, err := dispatch.GemmFamily.Get(outputShape.DType)
	if err != nil {
		return device.Argument{}, err
	}

	a, b, c := args[0], args[1], args[2]
	p := newParams(a.Shape(), b.Shape(), acc.Shape())
	numBytes := int(acc.Shape().Memory())
	stream := h.Stream()
	if len(args) == 4 {
		stream.MemcpyDtoD(acc.Buffer(), c.Buffer(), numBytes)
	} else {
		stream.Memset(acc.Buffer(), 0, numBytes)
	}

	// The vendor routine is column-major: a row-major matrix is seen as its transpose. So it computes
	// the transposed product Cᵀ = Bᵀ×Aᵀ, which has the memory layout of the row-major C = A×B.
	klog.V(2).Infof("gemm: %s transA=%v transB=%v m=%d n=%d k=%d lda=%d ldb=%d ldc=%d batch=%d",
		outputShape.DType, p.transA, p.transB, p.m, p.n, p.k, p.lda, p.ldb, p.ldc, p.batchCount)
	err = gemmFn(h, dispatch.GemmParams{
		TransA:     vendorOperation(p.transB),
		TransB:     vendorOperation(p.transA),
		M:          p.n,
		N:          p.m,
		K:          p.k,
		Alpha:      g.Alpha,
		A:          b.Buffer(),
		LDA:        p.ldb,
		StrideA:    p.k * p.n,
		B:          a.Buffer(),
		LDB:        p.lda,
		StrideB:    p.m * p.k,
		Beta:       g.Beta,
		C:          acc.Buffer(),
		LDC:        p.ldc,
		StrideC:    p.m * p.n,
		BatchCount: p.batchCount,
	})
	if err != nil {
		return device.Argument{}, err
	}
	return acc, nil
}
