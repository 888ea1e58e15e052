// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"math/rand/v2"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/gpukernels/backends/device"
	"github.com/gomlx/gpukernels/backends/device/blas"
	"github.com/gomlx/gpukernels/backends/kernels"
	"github.com/gomlx/gpukernels/backends/kernels/argop"
	"github.com/gomlx/gpukernels/backends/kernels/dispatch"
	"github.com/gomlx/gpukernels/backends/kernels/gemm"
	"github.com/gomlx/gpukernels/backends/kernels/reference"
	"github.com/gomlx/gpukernels/types/shapes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

type status string

const (
	statusPass        status = "PASS"
	statusFail        status = "FAIL"
	statusUnsupported status = "UNSUPPORTED"
)

// result of one check.
type result struct {
	kernel      string
	input       string
	outputBytes uint64
	relErr      float64
	status      status
	err         error
}

type verifier struct {
	device *device.Device
	stream *device.Stream
	rng    *rand.Rand
	dtype  dtypes.DType
}

func (v *verifier) runAll() []result {
	switch v.dtype {
	case dtypes.Int8:
		return runChecks[int8](v)
	case dtypes.Int16:
		return runChecks[int16](v)
	case dtypes.Int32:
		return runChecks[int32](v)
	case dtypes.Int64:
		return runChecks[int64](v)
	case dtypes.Uint8:
		return runChecks[uint8](v)
	case dtypes.Uint16:
		return runChecks[uint16](v)
	case dtypes.Uint32:
		return runChecks[uint32](v)
	case dtypes.Uint64:
		return runChecks[uint64](v)
	case dtypes.Float16:
		return runChecks[float16.Float16](v)
	case dtypes.BFloat16:
		return runChecks[bfloat16.BFloat16](v)
	case dtypes.Float32:
		return runChecks[float32](v)
	case dtypes.Float64:
		return runChecks[float64](v)
	}
	return []result{{kernel: "all", input: v.dtype.String(), status: statusUnsupported}}
}

func runChecks[T dispatch.NumericTypes](v *verifier) []result {
	return []result{
		verifyGemm[T](v),
		verifyArgOp[T](v, kernels.ArgMax),
		verifyArgOp[T](v, kernels.ArgMin),
	}
}

// randomValues returns n values representable in the verifier dtype: in [-1, 1) for floating point types, small
// non-negative integers otherwise.
func (v *verifier) randomValues(n int) []float64 {
	values := make([]float64, n)
	isFloat := v.dtype == dtypes.Float16 || v.dtype == dtypes.BFloat16 || v.dtype == dtypes.Float32 || v.dtype == dtypes.Float64
	for ii := range values {
		if isFloat {
			values[ii] = 2*v.rng.Float64() - 1
		} else {
			values[ii] = float64(v.rng.IntN(100))
		}
	}
	return values
}

// upload converts values to T, copies them to a new device buffer, and returns the converted values back
// as float64, so the reference sees exactly what the device sees.
func upload[T dispatch.NumericTypes](v *verifier, shape shapes.Shape, values []float64) (device.Argument, []float64, error) {
	converted := make([]T, len(values))
	seen := make([]float64, len(values))
	for ii, value := range values {
		converted[ii] = dispatch.AsScalar[T](value)
		seen[ii] = reference.ToFloat64(converted[ii])
	}
	buf := v.device.Alloc(shape)
	if err := device.Upload(v.stream, buf, converted); err != nil {
		return device.Argument{}, nil, err
	}
	return device.NewArgument(buf, shape), seen, nil
}

func download[T dispatch.NumericTypes](v *verifier, arg device.Argument) ([]float64, error) {
	got := make([]T, arg.Shape().ElementSpace())
	if err := device.Download(v.stream, got, arg.Buffer()); err != nil {
		return nil, err
	}
	converted := make([]float64, len(got))
	for ii, value := range got {
		converted[ii] = reference.ToFloat64(value)
	}
	return converted, nil
}

func verifyGemm[T dispatch.NumericTypes](v *verifier) result {
	batch, m, n, k := *flagBatch, *flagM, *flagN, *flagK
	r := result{kernel: "Gemm", input: fmt.Sprintf("(%s)[%d %d %d]x[%d %d %d]", v.dtype, batch, m, k, batch, k, n)}
	if *flagTransposeA {
		r.kernel += " transposed A"
	}
	if *flagBias {
		r.kernel += " + bias"
	}
	if _, err := dispatch.GemmFamily.Get(v.dtype); err != nil {
		r.status, r.err = statusUnsupported, err
		return r
	}
	r.err = func() error {
		aShape := shapes.Make(v.dtype, batch, m, k)
		bShape := shapes.Make(v.dtype, batch, k, n)
		aValues, aLayout := v.randomValues(aShape.Size()), aShape
		if *flagTransposeA {
			aValues, aLayout = transposed(aValues, aShape)
		}
		a, aSeen, err := upload[T](v, aLayout, aValues)
		if err != nil {
			return err
		}
		b, bSeen, err := upload[T](v, bShape, v.randomValues(bShape.Size()))
		if err != nil {
			return err
		}
		outShape, err := gemm.ComputeShape([]shapes.Shape{aShape, bShape})
		if err != nil {
			return err
		}
		r.outputBytes = uint64(outShape.Memory())
		c, cSeen, err := upload[T](v, outShape, v.randomValues(outShape.Size()))
		if err != nil {
			return err
		}
		args := []device.Argument{a, b, c}
		var bias []float64
		if *flagBias {
			args = append(args, device.NewArgument(v.device.Alloc(outShape), outShape))
			bias = cSeen
		}
		handle := blas.NewHandle(v.stream, v.device.Config().BLASParallelism)
		out, err := gemm.New().Compute(handle, outShape, args)
		if err != nil {
			return err
		}
		got, err := download[T](v, out)
		if err != nil {
			return err
		}
		want := reference.BatchedMatMul(aSeen, aLayout, bSeen, bShape, bias)
		return v.compare(&r, got, want, reference.Tolerance(v.dtype))
	}()
	if r.err != nil {
		r.status = statusFail
	}
	return r
}

// transposed returns the storage of the packed values stored with the last two axes swapped, and the
// shape that reads it with the original dimensions.
func transposed(values []float64, shape shapes.Shape) ([]float64, shapes.Shape) {
	layout := shapes.Make(shape.DType, shape.Transpose().Dimensions...).Transpose()
	storage := make([]float64, len(values))
	for flat, value := range values {
		storage[layout.Index(shape.Multi(flat))] = value
	}
	return storage, layout
}

func verifyArgOp[T dispatch.NumericTypes](v *verifier, op kernels.ArgOp) result {
	shape := shapes.Make(v.dtype, *flagBatch, *flagAxisLen)
	r := result{kernel: op.String(), input: shape.String()}
	r.err = func() error {
		in, seen, err := upload[T](v, shape, v.randomValues(shape.Size()))
		if err != nil {
			return err
		}
		outShape := shapes.Make(dtypes.Int64, *flagBatch, 1)
		r.outputBytes = uint64(outShape.Memory())
		outBuf := v.device.Alloc(outShape)
		if err := argop.Compute(v.stream, op, in, device.NewArgument(outBuf, outShape), 1); err != nil {
			return err
		}
		indices := make([]int64, outShape.Size())
		if err := device.Download(v.stream, indices, outBuf); err != nil {
			return err
		}
		want := reference.ArgReduce(op, seen, shape, 1)
		return v.compare(&r, toFloat64(indices), toFloat64(want), 0)
	}()
	if r.err != nil {
		r.status = statusFail
	}
	return r
}

func toFloat64(indices []int64) []float64 {
	converted := make([]float64, len(indices))
	for ii, idx := range indices {
		converted[ii] = float64(idx)
	}
	return converted
}

// compare sets the relative error and status of the result.
func (v *verifier) compare(r *result, got, want []float64, tolerance float64) error {
	relErr, ok := reference.VerifyRange(got, want, tolerance)
	r.relErr = relErr
	if !ok {
		return errors.Errorf("%s: relative error %g above tolerance %g", r.kernel, relErr, tolerance)
	}
	klog.V(1).Infof("%s %s: relative error %g", r.kernel, r.input, relErr)
	r.status = statusPass
	return nil
}
