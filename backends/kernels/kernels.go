// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package kernels holds what is shared by the device kernels in its sub-packages:
//
//   - gemm: batched, strided matrix multiplication through the vendor BLAS.
//   - argop: index of the maximum or minimum along an axis.
//   - reference: host implementations used to verify the kernels.
//
// Kernels never allocate or free device memory: they read and write the device.Argument values given
// by the caller, and all their device work is enqueued on the caller's stream.
package kernels

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrPreconditionViolation is returned (wrapped) when a kernel is called with arguments that don't
// satisfy its requirements: wrong number of arguments, wrong ranks or incompatible shapes.
// Nothing is enqueued on the stream in that case.
var ErrPreconditionViolation = errors.New("precondition violation")

// Preconditionf returns an error wrapping ErrPreconditionViolation with the formatted message.
func Preconditionf(format string, args ...any) error {
	return errors.Wrapf(ErrPreconditionViolation, format, args...)
}

// ArgOp selects which extremum an arg-reduction looks for.
type ArgOp int

const (
	// ArgMax selects the largest value. Among equal values the smallest index wins.
	ArgMax ArgOp = iota

	// ArgMin selects the smallest value. Among equal values the smallest index wins.
	ArgMin
)

// String implements fmt.Stringer.
func (op ArgOp) String() string {
	switch op {
	case ArgMax:
		return "ArgMax"
	case ArgMin:
		return "ArgMin"
	default:
		return fmt.Sprintf("ArgOp(%d)", int(op))
	}
}
