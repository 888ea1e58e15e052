// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package blas is the vendor BLAS library of the device.
//
// It follows the conventions of the GPU vendor libraries (rocBLAS, cuBLAS): matrices are column-major,
// described by their leading dimension (the distance in elements between consecutive columns), and
// batched routines take one stride per operand between consecutive matrices of the batch.
//
// Every call enqueues exactly one operation on the stream of the Handle, and returns before the
// computation happens. Errors in the arguments that can be checked on the host are returned
// immediately, everything else is reported as a device failure at the next Stream.Synchronize.
//
// The computation itself is done by gonum's BLAS, one batch matrix at a time, with the batch
// matrices distributed over a workerspool.Pool.
package blas

import (
	"fmt"

	"github.com/gomlx/gpukernels/backends/device"
	"github.com/gomlx/gpukernels/internal/workerspool"
	"k8s.io/klog/v2"
)

// Operation applied to an operand matrix before the product.
type Operation int

const (
	// OperationNone uses the matrix as is.
	OperationNone Operation = iota

	// OperationTranspose uses the transposed matrix.
	OperationTranspose
)

// String implements fmt.Stringer.
func (op Operation) String() string {
	switch op {
	case OperationNone:
		return "N"
	case OperationTranspose:
		return "T"
	default:
		return fmt.Sprintf("Operation(%d)", int(op))
	}
}

// Half is the vendor's 16-bit IEEE 754 half-precision float. It has the same bit layout as
// float16.Float16, but it's a distinct type at the library boundary.
type Half uint16

// Handle binds the library to a stream. A Handle can be used concurrently, calls are serialized
// by the stream.
type Handle struct {
	stream *device.Stream
	pool   *workerspool.Pool
}

// NewHandle returns a handle that enqueues its work on the given stream.
//
// parallelism is the soft target of goroutines used to compute independent matrices of a batch:
// 0 computes them sequentially and -1 doesn't limit it.
func NewHandle(stream *device.Stream, parallelism int) *Handle {
	pool := workerspool.New()
	pool.SetMaxParallelism(parallelism)
	klog.V(1).Infof("blas handle created with parallelism %d", parallelism)
	return &Handle{stream: stream, pool: pool}
}

// Stream returns the stream the handle enqueues its work on.
func (h *Handle) Stream() *device.Stream { return h.stream }
