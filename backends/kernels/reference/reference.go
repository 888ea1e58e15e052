// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package reference implements the kernels on the host, in the most direct way, to verify the
// device results.
package reference

import (
	"math"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/gpukernels/backends/kernels"
	"github.com/gomlx/gpukernels/backends/kernels/dispatch"
	"github.com/gomlx/gpukernels/types/shapes"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// ToFloat64 converts any of the supported element types to float64.
func ToFloat64[T dispatch.NumericTypes](v T) float64 {
	switch x := any(v).(type) {
	case float16.Float16:
		return float64(x.Float32())
	case bfloat16.BFloat16:
		return float64(x.Float32())
	case float32:
		return float64(x)
	case float64:
		return x
	case int8:
		return float64(x)
	case int16:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case uint8:
		return float64(x)
	case uint16:
		return float64(x)
	case uint32:
		return float64(x)
	case uint64:
		return float64(x)
	}
	return math.NaN()
}

// BatchedMatMul multiplies the matrices of a and b, read through their (possibly strided) shapes, and returns
// the packed result with dimensions [batch..., m, n]. Products are accumulated in float64.
//
// If bias is not nil, it is added to the result: it holds the packed [batch..., m, n] values.
func BatchedMatMul[T dispatch.NumericTypes](a []T, aShape shapes.Shape, b []T, bShape shapes.Shape, bias []float64) []float64 {
	rank := aShape.Rank()
	k, n := aShape.Dim(-1), bShape.Dim(-1)
	outShape := aShape.WithDim(-1, n)
	out := make([]float64, outShape.Size())
	aMulti := make([]int, rank)
	bMulti := make([]int, rank)
	for flat := range out {
		multi := outShape.Multi(flat)
		copy(aMulti, multi)
		copy(bMulti, multi)
		row, col := multi[rank-2], multi[rank-1]
		var sum float64
		for p := range k {
			aMulti[rank-2], aMulti[rank-1] = row, p
			bMulti[rank-2], bMulti[rank-1] = p, col
			sum += ToFloat64(a[aShape.Index(aMulti)]) * ToFloat64(b[bShape.Index(bMulti)])
		}
		if bias != nil {
			sum += bias[flat]
		}
		out[flat] = sum
	}
	return out
}

// ArgReduce returns the index of the extremum along axis, for each element of the batch: the input shape with
// axis collapsed to 1. The result is in row-major order of the batch.
//
// It scans the axis sequentially, and a value only replaces the current extremum if it is strictly larger (ArgMax)
// or smaller (ArgMin), so among equal values the smallest index wins.
func ArgReduce[T constraints.Integer | constraints.Float](op kernels.ArgOp, data []T, shape shapes.Shape, axis int) []int64 {
	batchShape := shape.WithDim(axis, 1)
	out := make([]int64, 0, batchShape.Size())
	multi := make([]int, shape.Rank())
	for batchIdx := range batchShape.Iter() {
		copy(multi, batchIdx)
		best, bestIdx := data[shape.Index(multi)], 0
		for idx := 1; idx < shape.Dim(axis); idx++ {
			multi[axis] = idx
			v := data[shape.Index(multi)]
			if (op == kernels.ArgMax && v > best) || (op == kernels.ArgMin && v < best) {
				best, bestIdx = v, idx
			}
		}
		out = append(out, int64(bestIdx))
	}
	return out
}

// VerifyRange compares got and want, and returns the largest absolute difference relative to the range of
// want (its largest absolute value), and whether it is within tolerance.
//
// Lengths that differ, or NaN values where want has none, are never within tolerance.
func VerifyRange(got, want []float64, tolerance float64) (relErr float64, ok bool) {
	if len(got) != len(want) {
		return math.Inf(1), false
	}
	var maxDiff, valueRange float64
	for ii, w := range want {
		g := got[ii]
		if math.IsNaN(g) || math.IsNaN(w) {
			if math.IsNaN(g) != math.IsNaN(w) {
				return math.Inf(1), false
			}
			continue
		}
		maxDiff = max(maxDiff, math.Abs(g-w))
		valueRange = max(valueRange, math.Abs(w))
	}
	if maxDiff == 0 {
		return 0, true
	}
	relErr = maxDiff / max(valueRange, math.SmallestNonzeroFloat64)
	return relErr, relErr <= tolerance
}

// Tolerance returns the relative error accepted for results computed in the given dtype.
func Tolerance(dtype dtypes.DType) float64 {
	switch dtype {
	case dtypes.Float16, dtypes.BFloat16:
		return 1e-2
	case dtypes.Float32:
		return 1e-5
	case dtypes.Float64:
		return 1e-12
	default:
		return 0
	}
}
