// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dispatch selects, at runtime, the instantiation of a generic kernel body or vendor
// routine that matches an element type.
//
// Each family of functions is a DTypeMap, filled once during package initialization. Looking up a
// dtype with no registered function is an error wrapping ErrUnsupportedType, returned before any
// device work is done.
package dispatch

import (
	"unsafe"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/gpukernels/backends/device/blas"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// ErrUnsupportedType is returned (wrapped) when a kernel has no implementation for an element type.
var ErrUnsupportedType = errors.New("unsupported type")

// MaxDTypes is the upper bound (exclusive) of the dtypes that can be registered.
const MaxDTypes = 32

// DTypeMap maps dtypes to the function of type F that handles them.
type DTypeMap[F any] struct {
	Name  string
	fnMap [MaxDTypes]F
	isSet [MaxDTypes]bool
}

// NewDTypeMap creates an empty map for the family of functions with the given name.
func NewDTypeMap[F any](name string) *DTypeMap[F] {
	return &DTypeMap[F]{Name: name}
}

// Register the function that handles dtype. It overwrites any previous registration for the same dtype.
//
// It should only be called during initialization: registration is not safe to run concurrently with Get.
func (m *DTypeMap[F]) Register(dtype dtypes.DType, fn F) {
	if dtype <= dtypes.InvalidDType || dtype >= MaxDTypes {
		exceptions.Panicf("%s: cannot register dtype %s", m.Name, dtype)
	}
	m.fnMap[dtype] = fn
	m.isSet[dtype] = true
}

// Get returns the function registered for dtype, or an error wrapping ErrUnsupportedType.
func (m *DTypeMap[F]) Get(dtype dtypes.DType) (fn F, err error) {
	if dtype <= dtypes.InvalidDType || dtype >= MaxDTypes || !m.isSet[dtype] {
		err = errors.Wrapf(ErrUnsupportedType, "%s: dtype %s", m.Name, dtype)
		return
	}
	return m.fnMap[dtype], nil
}

// DTypes returns the registered dtypes, in increasing order.
func (m *DTypeMap[F]) DTypes() []dtypes.DType {
	var registered []dtypes.DType
	for dtype, isSet := range m.isSet {
		if isSet {
			registered = append(registered, dtypes.DType(dtype))
		}
	}
	return registered
}

// NumericTypes enumerates the Go types of the numeric dtypes the kernels support.
type NumericTypes interface {
	int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 |
		float32 | float64 | float16.Float16 | bfloat16.BFloat16
}

// AsScalar converts a float64 coefficient to the element type T.
//
// Half-precision types are rounded through float32, integer types are truncated.
func AsScalar[T NumericTypes](v float64) T {
	var t T
	switch p := any(&t).(type) {
	case *float16.Float16:
		*p = float16.Fromfloat32(float32(v))
	case *bfloat16.BFloat16:
		*p = bfloat16.FromFloat32(float32(v))
	case *float32:
		*p = float32(v)
	case *float64:
		*p = v
	case *int8:
		*p = int8(v)
	case *int16:
		*p = int16(v)
	case *int32:
		*p = int32(v)
	case *int64:
		*p = int64(v)
	case *uint8:
		*p = uint8(v)
	case *uint16:
		*p = uint16(v)
	case *uint32:
		*p = uint32(v)
	case *uint64:
		*p = uint64(v)
	}
	return t
}

// ToVendorHalf reinterprets a float16.Float16 as the vendor BLAS half type. The bits are unchanged.
func ToVendorHalf(v float16.Float16) blas.Half {
	return blas.Half(v)
}

// ToVendorHalfSlice reinterprets a slice of float16.Float16 as a slice of the vendor BLAS half type,
// without copying.
func ToVendorHalfSlice(values []float16.Float16) []blas.Half {
	if len(values) == 0 {
		return nil
	}
	return unsafe.Slice((*blas.Half)(unsafe.Pointer(&values[0])), len(values))
}
