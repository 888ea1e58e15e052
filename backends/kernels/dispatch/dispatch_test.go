// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestDTypeMap(t *testing.T) {
	m := NewDTypeMap[func() string]("Test")
	m.Register(dtypes.Int32, func() string { return "int32" })
	m.Register(dtypes.Float64, func() string { return "float64" })

	fn, err := m.Get(dtypes.Int32)
	require.NoError(t, err)
	assert.Equal(t, "int32", fn())
	fn, err = m.Get(dtypes.Float64)
	require.NoError(t, err)
	assert.Equal(t, "float64", fn())

	_, err = m.Get(dtypes.Float32)
	require.ErrorIs(t, err, ErrUnsupportedType)
	assert.Contains(t, err.Error(), "Test")
	_, err = m.Get(dtypes.InvalidDType)
	require.ErrorIs(t, err, ErrUnsupportedType)

	assert.Equal(t, []dtypes.DType{dtypes.Int32, dtypes.Float64}, m.DTypes())
	require.Panics(t, func() { m.Register(dtypes.InvalidDType, nil) })
}

func TestGemmFamily(t *testing.T) {
	assert.ElementsMatch(t, []dtypes.DType{dtypes.Float16, dtypes.Float32, dtypes.Float64}, GemmFamily.DTypes())
	for _, dtype := range []dtypes.DType{dtypes.Float16, dtypes.Float32, dtypes.Float64} {
		fn, err := GemmFamily.Get(dtype)
		require.NoError(t, err, "dtype %s", dtype)
		require.NotNil(t, fn)
	}
	for _, dtype := range []dtypes.DType{dtypes.BFloat16, dtypes.Int8, dtypes.Int32, dtypes.Int64,
		dtypes.Uint8, dtypes.Bool, dtypes.Complex64} {
		_, err := GemmFamily.Get(dtype)
		require.ErrorIs(t, err, ErrUnsupportedType, "dtype %s", dtype)
	}
}

func TestAsScalar(t *testing.T) {
	assert.Equal(t, float32(1.5), AsScalar[float32](1.5))
	assert.Equal(t, -2.25, AsScalar[float64](-2.25))
	assert.Equal(t, float16.Fromfloat32(0.5), AsScalar[float16.Float16](0.5))
	assert.Equal(t, bfloat16.FromFloat32(3), AsScalar[bfloat16.BFloat16](3))
	assert.Equal(t, int32(7), AsScalar[int32](7.9))
	assert.Equal(t, uint8(200), AsScalar[uint8](200))
}

func TestToVendorHalf(t *testing.T) {
	values := []float16.Float16{float16.Fromfloat32(1), float16.Fromfloat32(-2.5), float16.NaN()}
	for _, v := range values {
		assert.Equal(t, v.Bits(), uint16(ToVendorHalf(v)))
	}
	vendor := ToVendorHalfSlice(values)
	require.Len(t, vendor, len(values))
	for ii, v := range values {
		assert.Equal(t, v.Bits(), uint16(vendor[ii]))
	}
	// Same memory, no copy.
	vendor[0] = ToVendorHalf(float16.Fromfloat32(4))
	assert.Equal(t, float32(4), values[0].Float32())
	assert.Nil(t, ToVendorHalfSlice(nil))
}
