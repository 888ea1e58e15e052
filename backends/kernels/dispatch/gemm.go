// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gpukernels/backends/device"
	"github.com/gomlx/gpukernels/backends/device/blas"
	"github.com/x448/float16"
)

// GemmParams are the arguments of a column-major strided-batched GEMM, in the order the
// vendor routines take them. Alpha and Beta are converted to the element type of the routine.
type GemmParams struct {
	TransA, TransB blas.Operation
	M, N, K        int
	Alpha          float64

	A            *device.Buffer
	LDA, StrideA int
	B            *device.Buffer
	LDB, StrideB int
	Beta         float64
	C            *device.Buffer
	LDC, StrideC int
	BatchCount   int
}

// GemmFunc calls the strided-batched GEMM routine of one element type.
type GemmFunc func(h *blas.Handle, p GemmParams) error

// GemmFamily maps the dtypes supported by the vendor GEMM to its routines: Float32, Float64 and Float16.
var GemmFamily = NewDTypeMap[GemmFunc]("GemmStridedBatched")

func init() {
	GemmFamily.Register(dtypes.Float32, func(h *blas.Handle, p GemmParams) error {
		return h.SgemmStridedBatched(p.TransA, p.TransB, p.M, p.N, p.K,
			AsScalar[float32](p.Alpha), p.A, p.LDA, p.StrideA, p.B, p.LDB, p.StrideB,
			AsScalar[float32](p.Beta), p.C, p.LDC, p.StrideC, p.BatchCount)
	})
	GemmFamily.Register(dtypes.Float64, func(h *blas.Handle, p GemmParams) error {
		return h.DgemmStridedBatched(p.TransA, p.TransB, p.M, p.N, p.K,
			p.Alpha, p.A, p.LDA, p.StrideA, p.B, p.LDB, p.StrideB,
			p.Beta, p.C, p.LDC, p.StrideC, p.BatchCount)
	})
	GemmFamily.Register(dtypes.Float16, func(h *blas.Handle, p GemmParams) error {
		return h.HgemmStridedBatched(p.TransA, p.TransB, p.M, p.N, p.K,
			ToVendorHalf(AsScalar[float16.Float16](p.Alpha)), p.A, p.LDA, p.StrideA, p.B, p.LDB, p.StrideB,
			ToVendorHalf(AsScalar[float16.Float16](p.Beta)), p.C, p.LDC, p.StrideC, p.BatchCount)
	})
}
