// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package argop

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/gpukernels/backends/device"
	"github.com/gomlx/gpukernels/backends/kernels"
	"github.com/gomlx/gpukernels/backends/kernels/dispatch"
	"github.com/gomlx/gpukernels/backends/kernels/reference"
	"github.com/gomlx/gpukernels/types/shapes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func newTestStream(t *testing.T, config string) *device.Stream {
	d := must.M1(device.NewWithConfig(config))
	t.Cleanup(d.Finalize)
	return d.NewStream()
}

// argReduce runs op on the device over data (converted to T, stored with the given shape) and returns the indices.
func argReduce[T dispatch.NumericTypes](t *testing.T, s *device.Stream, op kernels.ArgOp,
	data []float64, shape shapes.Shape, axis int) []int64 {
	converted := make([]T, len(data))
	for ii, v := range data {
		converted[ii] = dispatch.AsScalar[T](v)
	}
	d := s.Device()
	inBuf := d.Alloc(shape)
	defer d.Free(inBuf)
	require.NoError(t, device.Upload(s, inBuf, converted))
	if axis < 0 {
		axis += shape.Rank()
	}
	outShape := shapes.Make(dtypes.Int64, shape.WithDim(axis, 1).Dimensions...)
	outBuf := d.Alloc(outShape)
	defer d.Free(outBuf)
	require.NoError(t, Compute(s, op, device.NewArgument(inBuf, shape), device.NewArgument(outBuf, outShape), axis))
	got := make([]int64, outShape.Size())
	require.NoError(t, device.Download(s, got, outBuf))
	return got
}

func randomValues(rng *rand.Rand, n, maxValue int) []float64 {
	values := make([]float64, n)
	for ii := range values {
		values[ii] = float64(rng.IntN(maxValue))
	}
	return values
}

func TestBlockSize(t *testing.T) {
	for _, tc := range []struct{ itemNum, maxBlockSize, want int }{
		{1, 1024, 1},
		{2, 1024, 2},
		{4, 1024, 4},
		{5, 1024, 8},
		{1000, 1024, 1024},
		{1024, 1024, 1024},
		{1025, 1024, 1024},
		{100000, 1024, 1024},
		{5, 4, 4},
	} {
		assert.Equal(t, tc.want, BlockSize(tc.itemNum, tc.maxBlockSize), "BlockSize(%d, %d)", tc.itemNum, tc.maxBlockSize)
	}
}

func TestCompute_Small(t *testing.T) {
	s := newTestStream(t, "")
	shape := shapes.Make(dtypes.Float32, 4)
	data := []float64{3, 1, 3, 2}
	assert.Equal(t, []int64{0}, argReduce[float32](t, s, kernels.ArgMax, data, shape, 0))
	assert.Equal(t, []int64{1}, argReduce[float32](t, s, kernels.ArgMin, data, shape, 0))

	// ArgMax and ArgMin helpers.
	d := s.Device()
	in := d.Alloc(shape)
	require.NoError(t, device.Upload(s, in, []float32{3, 1, 3, 2}))
	outShape := shapes.Make(dtypes.Int64, 1)
	out := d.Alloc(outShape)
	got := make([]int64, 1)
	require.NoError(t, ArgMax(s, device.NewArgument(in, shape), device.NewArgument(out, outShape), 0))
	require.NoError(t, device.Download(s, got, out))
	assert.Equal(t, int64(0), got[0])
	require.NoError(t, ArgMin(s, device.NewArgument(in, shape), device.NewArgument(out, outShape), -1))
	require.NoError(t, device.Download(s, got, out))
	assert.Equal(t, int64(1), got[0])
}

func TestCompute_AxisLengths(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 0))
	for _, config := range []string{"", "max_block_size=4"} {
		s := newTestStream(t, config)
		for _, axisLen := range []int{1, 2, 3, 5, 7, 8, 9, 13, 64, 100, 1023, 1024, 1025, 2500} {
			for _, op := range []kernels.ArgOp{kernels.ArgMax, kernels.ArgMin} {
				t.Run(fmt.Sprintf("%q/%s/len=%d", config, op, axisLen), func(t *testing.T) {
					shape := shapes.Make(dtypes.Float64, 2, axisLen)
					data := randomValues(rng, shape.Size(), 10)
					want := reference.ArgReduce(op, data, shape, 1)
					got := argReduce[float64](t, s, op, data, shape, 1)
					assert.Equal(t, want, got)
				})
			}
		}
	}
}

func TestCompute_Axes(t *testing.T) {
	s := newTestStream(t, "")
	rng := rand.New(rand.NewPCG(7, 0))
	shape := shapes.Make(dtypes.Int32, 3, 5, 6)
	data := randomValues(rng, shape.Size(), 4)
	for _, axis := range []int{0, 1, 2, -1} {
		for _, op := range []kernels.ArgOp{kernels.ArgMax, kernels.ArgMin} {
			adjusted := (axis + 3) % 3
			want := reference.ArgReduce(op, data, shapes.Make(dtypes.Float64, 3, 5, 6), adjusted)
			got := argReduce[int32](t, s, op, data, shape, axis)
			assert.Equal(t, want, got, "axis=%d, op=%s", axis, op)
		}
	}
}

func TestCompute_StridedInput(t *testing.T) {
	s := newTestStream(t, "")
	d := s.Device()
	// Memory holds [[1, 9, 4], [8, 2, 8]] row-major, read transposed as a [3, 2] tensor.
	shape := shapes.MakeStrided(dtypes.Int64, []int{3, 2}, []int{1, 3})
	in := d.Alloc(shape)
	require.NoError(t, device.Upload(s, in, []int64{1, 9, 4, 8, 2, 8}))
	outShape := shapes.Make(dtypes.Int64, 3, 1)
	out := d.Alloc(outShape)
	require.NoError(t, Compute(s, kernels.ArgMax, device.NewArgument(in, shape), device.NewArgument(out, outShape), 1))
	got := make([]int64, 3)
	require.NoError(t, device.Download(s, got, out))
	assert.Equal(t, []int64{1, 0, 1}, got)

	// Strided output: indices are written through the output strides.
	outStrided := shapes.MakeStrided(dtypes.Int64, []int{3, 1}, []int{2, 1})
	out2 := d.Alloc(outStrided)
	require.NoError(t, device.Upload(s, out2, []int64{-1, -1, -1, -1, -1}))
	require.NoError(t, Compute(s, kernels.ArgMin, device.NewArgument(in, shape), device.NewArgument(out2, outStrided), 1))
	got = make([]int64, 5)
	require.NoError(t, device.Download(s, got, out2))
	assert.Equal(t, []int64{0, -1, 1, -1, 0}, got)
}

func TestCompute_BatchIndependence(t *testing.T) {
	s := newTestStream(t, "")
	const numBatches, axisLen = 5, 37
	shape := shapes.Make(dtypes.Float32, numBatches, axisLen)
	for holder := range numBatches {
		// Batch element `holder` has the global extremum, all others have their own local extremum.
		data := make([]float64, shape.Size())
		for batch := range numBatches {
			for ii := range axisLen {
				data[batch*axisLen+ii] = float64((ii * 3) % 7)
			}
			data[batch*axisLen+batch] = 10
			data[batch*axisLen+axisLen-1-batch] = -10
		}
		data[holder*axisLen+20] = 100
		data[holder*axisLen+21] = -100
		gotMax := argReduce[float32](t, s, kernels.ArgMax, data, shape, 1)
		gotMin := argReduce[float32](t, s, kernels.ArgMin, data, shape, 1)
		for batch := range numBatches {
			wantMax, wantMin := int64(batch), int64(axisLen-1-batch)
			if batch == holder {
				wantMax, wantMin = 20, 21
			}
			assert.Equal(t, wantMax, gotMax[batch], "holder=%d, batch=%d", holder, batch)
			assert.Equal(t, wantMin, gotMin[batch], "holder=%d, batch=%d", holder, batch)
		}
	}
}

func TestCompute_Ties(t *testing.T) {
	s := newTestStream(t, "max_block_size=8")
	shape := shapes.Make(dtypes.Int16, 2, 30)
	data := make([]float64, shape.Size())
	for ii := range data {
		data[ii] = 5
	}
	assert.Equal(t, []int64{0, 0}, argReduce[int16](t, s, kernels.ArgMax, data, shape, 1))
	assert.Equal(t, []int64{0, 0}, argReduce[int16](t, s, kernels.ArgMin, data, shape, 1))

	// Extremum repeated in later rounds: first occurrence wins.
	data[17], data[25] = 9, 9
	data[30+12], data[30+29] = 1, 1
	assert.Equal(t, []int64{17, 0}, argReduce[int16](t, s, kernels.ArgMax, data, shape, 1))
	assert.Equal(t, []int64{0, 12}, argReduce[int16](t, s, kernels.ArgMin, data, shape, 1))
}

func TestCompute_Idempotent(t *testing.T) {
	s := newTestStream(t, "")
	rng := rand.New(rand.NewPCG(3, 3))
	shape := shapes.Make(dtypes.Float64, 4, 300)
	data := randomValues(rng, shape.Size(), 5)
	first := argReduce[float64](t, s, kernels.ArgMax, data, shape, 1)
	second := argReduce[float64](t, s, kernels.ArgMax, data, shape, 1)
	assert.Equal(t, first, second)
}

func testDType[T dispatch.NumericTypes](t *testing.T, s *device.Stream, dtype dtypes.DType) {
	rng := rand.New(rand.NewPCG(uint64(dtype), 0))
	shape := shapes.Make(dtype, 3, 11)
	data := randomValues(rng, shape.Size(), 100)
	for _, op := range []kernels.ArgOp{kernels.ArgMax, kernels.ArgMin} {
		want := reference.ArgReduce(op, data, shapes.Make(dtypes.Float64, 3, 11), 1)
		assert.Equal(t, want, argReduce[T](t, s, op, data, shape, 1), "dtype=%s, op=%s", dtype, op)
	}
}

func TestCompute_DTypes(t *testing.T) {
	s := newTestStream(t, "")
	assert.Len(t, DTypes(), 12)
	testDType[int8](t, s, dtypes.Int8)
	testDType[int16](t, s, dtypes.Int16)
	testDType[int32](t, s, dtypes.Int32)
	testDType[int64](t, s, dtypes.Int64)
	testDType[uint8](t, s, dtypes.Uint8)
	testDType[uint16](t, s, dtypes.Uint16)
	testDType[uint32](t, s, dtypes.Uint32)
	testDType[uint64](t, s, dtypes.Uint64)
	testDType[float32](t, s, dtypes.Float32)
	testDType[float64](t, s, dtypes.Float64)
	testDType[float16.Float16](t, s, dtypes.Float16)
	testDType[bfloat16.BFloat16](t, s, dtypes.BFloat16)
}

func TestCompute_Errors(t *testing.T) {
	s := newTestStream(t, "")
	d := s.Device()
	shape := shapes.Make(dtypes.Float32, 2, 3)
	in := device.NewArgument(d.Alloc(shape), shape)
	outShape := shapes.Make(dtypes.Int64, 2, 1)
	out := device.NewArgument(d.Alloc(outShape), outShape)

	require.ErrorIs(t, Compute(s, kernels.ArgMax, in, out, 2), kernels.ErrPreconditionViolation)
	require.ErrorIs(t, Compute(s, kernels.ArgMax, in, out, -3), kernels.ErrPreconditionViolation)
	require.ErrorIs(t, Compute(s, kernels.ArgMax, in, out, 0), kernels.ErrPreconditionViolation)
	require.ErrorIs(t, Compute(s, kernels.ArgOp(5), in, out, 1), kernels.ErrPreconditionViolation)
	require.ErrorIs(t, Compute(s, kernels.ArgMax, in, device.Argument{}, 1), kernels.ErrPreconditionViolation)

	int32Out := shapes.Make(dtypes.Int32, 2, 1)
	require.ErrorIs(t, Compute(s, kernels.ArgMax, in, device.NewArgument(d.Alloc(int32Out), int32Out), 1),
		kernels.ErrPreconditionViolation)

	boolShape := shapes.Make(dtypes.Bool, 2, 3)
	boolIn := device.NewArgument(d.Alloc(boolShape), boolShape)
	require.ErrorIs(t, Compute(s, kernels.ArgMax, boolIn, out, 1), dispatch.ErrUnsupportedType)
	require.NoError(t, s.Synchronize())
}
