// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package blas

import (
	"github.com/gomlx/gpukernels/backends/device"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/gonum/blas/blas64"
)

// SgemmStridedBatched computes, for each of the batchCount matrices of the batch,
//
//	C[i] = alpha * op(A[i]) * op(B[i]) + beta * C[i]
//
// where op(A[i]) is m×k, op(B[i]) is k×n and C[i] is m×n, all column-major. The i-th matrix of an
// operand starts strideX*i elements into its buffer.
func (h *Handle) SgemmStridedBatched(transA, transB Operation, m, n, k int,
	alpha float32, a *device.Buffer, lda, strideA int,
	b *device.Buffer, ldb, strideB int,
	beta float32, c *device.Buffer, ldc, strideC int,
	batchCount int) error {
	const routine = "SgemmStridedBatched"
	l, err := newGemmLayout(routine, transA, transB, m, n, k, lda, strideA, ldb, strideB, ldc, strideC, batchCount, a, b, c)
	if err != nil {
		return err
	}
	h.enqueue(routine, func() error {
		aData, bData, cData := device.View[float32](a), device.View[float32](b), device.View[float32](c)
		if err := l.checkBounds(len(aData), len(bData), len(cData)); err != nil {
			return err
		}
		h.pool.ParallelFor(l.batchCount, func(batch int) {
			blas32.Gemm(l.transB, l.transA, alpha,
				general32(bData[batch*l.strideB:], l.b),
				general32(aData[batch*l.strideA:], l.a),
				beta,
				general32(cData[batch*l.strideC:], l.c))
		})
		return nil
	})
	return nil
}

// DgemmStridedBatched is the float64 version of SgemmStridedBatched.
func (h *Handle) DgemmStridedBatched(transA, transB Operation, m, n, k int,
	alpha float64, a *device.Buffer, lda, strideA int,
	b *device.Buffer, ldb, strideB int,
	beta float64, c *device.Buffer, ldc, strideC int,
	batchCount int) error {
	const routine = "DgemmStridedBatched"
	l, err := newGemmLayout(routine, transA, transB, m, n, k, lda, strideA, ldb, strideB, ldc, strideC, batchCount, a, b, c)
	if err != nil {
		return err
	}
	h.enqueue(routine, func() error {
		aData, bData, cData := device.View[float64](a), device.View[float64](b), device.View[float64](c)
		if err := l.checkBounds(len(aData), len(bData), len(cData)); err != nil {
			return err
		}
		h.pool.ParallelFor(l.batchCount, func(batch int) {
			blas64.Gemm(l.transB, l.transA, alpha,
				general64(bData[batch*l.strideB:], l.b),
				general64(aData[batch*l.strideA:], l.a),
				beta,
				general64(cData[batch*l.strideC:], l.c))
		})
		return nil
	})
	return nil
}

// HgemmStridedBatched is the half-precision version of SgemmStridedBatched.
//
// Products are accumulated in float32 and the result is rounded to half-precision.
func (h *Handle) HgemmStridedBatched(transA, transB Operation, m, n, k int,
	alpha Half, a *device.Buffer, lda, strideA int,
	b *device.Buffer, ldb, strideB int,
	beta Half, c *device.Buffer, ldc, strideC int,
	batchCount int) error {
	const routine = "HgemmStridedBatched"
	l, err := newGemmLayout(routine, transA, transB, m, n, k, lda, strideA, ldb, strideB, ldc, strideC, batchCount, a, b, c)
	if err != nil {
		return err
	}
	alpha32 := float16.Frombits(uint16(alpha)).Float32()
	beta32 := float16.Frombits(uint16(beta)).Float32()
	h.enqueue(routine, func() error {
		aData, bData, cData := device.View[Half](a), device.View[Half](b), device.View[Half](c)
		if err := l.checkBounds(len(aData), len(bData), len(cData)); err != nil {
			return err
		}
		h.pool.ParallelFor(l.batchCount, func(batch int) {
			bMat := halfToFloat32(bData[batch*l.strideB:], l.b)
			aMat := halfToFloat32(aData[batch*l.strideA:], l.a)
			cHalf := cData[batch*l.strideC:]
			cMat := halfToFloat32(cHalf, l.c)
			blas32.Gemm(l.transB, l.transA, alpha32, bMat, aMat, beta32, cMat)
			float32ToHalf(cMat, cHalf)
		})
		return nil
	})
	return nil
}

func (h *Handle) enqueue(routine string, fn func() error) {
	h.stream.Device().ObserveBLASCall(routine)
	h.stream.Enqueue(routine, fn)
}

// matrixLayout is a matrix in row-major terms: stored rows and columns, and the stride between rows.
type matrixLayout struct {
	rows, cols, stride int
}

// span is the number of elements spanned in memory by the matrix.
func (m matrixLayout) span() int { return (m.rows-1)*m.stride + m.cols }

// gemmLayout is a column-major GEMM rewritten as the equivalent row-major one.
//
// A column-major r×c matrix with leading dimension ld has the same memory as a row-major c×r matrix
// with stride ld. So the column-major C = op(A)·op(B) is computed as the row-major
// Cᵀ = op(Bᵀ)·op(Aᵀ), with the same transpose operations.
type gemmLayout struct {
	transA, transB blas.Transpose
	a, b, c        matrixLayout

	strideA, strideB, strideC int
	batchCount                int
}

func newGemmLayout(routine string, transA, transB Operation, m, n, k, lda, strideA, ldb, strideB, ldc, strideC, batchCount int,
	a, b, c *device.Buffer) (l gemmLayout, err error) {
	if a == nil || b == nil || c == nil {
		return l, errors.Errorf("blas.%s: nil buffer", routine)
	}
	if m <= 0 || n <= 0 || k <= 0 || batchCount <= 0 {
		return l, errors.Errorf("blas.%s: invalid sizes m=%d, n=%d, k=%d, batchCount=%d, they must be positive",
			routine, m, n, k, batchCount)
	}
	if strideA < 0 || strideB < 0 || strideC < 0 {
		return l, errors.Errorf("blas.%s: negative batch stride (strideA=%d, strideB=%d, strideC=%d)",
			routine, strideA, strideB, strideC)
	}
	l.strideA, l.strideB, l.strideC = strideA, strideB, strideC
	l.batchCount = batchCount
	if l.transA, err = toTranspose(routine, transA); err != nil {
		return
	}
	if l.transB, err = toTranspose(routine, transB); err != nil {
		return
	}

	// Column-major stored sizes are (m×k or k×m) for A, (k×n or n×k) for B, m×n for C: in row-major terms
	// rows and columns are swapped.
	if transA == OperationNone {
		l.a = matrixLayout{rows: k, cols: m, stride: lda}
	} else {
		l.a = matrixLayout{rows: m, cols: k, stride: lda}
	}
	if transB == OperationNone {
		l.b = matrixLayout{rows: n, cols: k, stride: ldb}
	} else {
		l.b = matrixLayout{rows: k, cols: n, stride: ldb}
	}
	l.c = matrixLayout{rows: n, cols: m, stride: ldc}
	for _, check := range []struct {
		name   string
		layout matrixLayout
	}{{"lda", l.a}, {"ldb", l.b}, {"ldc", l.c}} {
		if check.layout.stride < check.layout.cols {
			return l, errors.Errorf("blas.%s: invalid %s=%d, it must be >= %d",
				routine, check.name, check.layout.stride, check.layout.cols)
		}
	}
	return l, nil
}

func toTranspose(routine string, op Operation) (blas.Transpose, error) {
	switch op {
	case OperationNone:
		return blas.NoTrans, nil
	case OperationTranspose:
		return blas.Trans, nil
	default:
		return blas.NoTrans, errors.Errorf("blas.%s: invalid operation %s", routine, op)
	}
}

// checkBounds verifies the last matrix of each operand fits its buffer, given in number of elements.
func (l gemmLayout) checkBounds(lenA, lenB, lenC int) error {
	last := l.batchCount - 1
	for _, check := range []struct {
		name           string
		layout         matrixLayout
		stride, length int
	}{
		{"A", l.a, l.strideA, lenA},
		{"B", l.b, l.strideB, lenB},
		{"C", l.c, l.strideC, lenC},
	} {
		if needed := last*check.stride + check.layout.span(); needed > check.length {
			return errors.Errorf("matrix %s out of bounds: %d elements needed, buffer holds %d", check.name, needed, check.length)
		}
	}
	return nil
}

func general32(data []float32, m matrixLayout) blas32.General {
	return blas32.General{Rows: m.rows, Cols: m.cols, Stride: m.stride, Data: data[:m.span()]}
}

func general64(data []float64, m matrixLayout) blas64.General {
	return blas64.General{Rows: m.rows, Cols: m.cols, Stride: m.stride, Data: data[:m.span()]}
}

// halfToFloat32 converts the memory spanned by the matrix to float32, keeping the layout.
func halfToFloat32(data []Half, m matrixLayout) blas32.General {
	data = data[:m.span()]
	converted := make([]float32, len(data))
	for ii, v := range data {
		converted[ii] = float16.Frombits(uint16(v)).Float32()
	}
	return blas32.General{Rows: m.rows, Cols: m.cols, Stride: m.stride, Data: converted}
}

// float32ToHalf rounds the matrix elements back to half-precision. Gaps between rows are not touched.
func float32ToHalf(mat blas32.General, data []Half) {
	for row := range mat.Rows {
		start := row * mat.Stride
		for ii := start; ii < start+mat.Cols; ii++ {
			data[ii] = Half(float16.Fromfloat32(mat.Data[ii]).Bits())
		}
	}
}
