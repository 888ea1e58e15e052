// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package argop implements the ArgMax and ArgMin kernels: the index of the largest (or smallest) value
// along one axis of a tensor.
//
// Each batch element, that is, each position of the input with the reduced axis collapsed to 1, is reduced by
// one thread block. The block walks the axis in rounds of blockSize elements: its threads load one round into
// shared memory, reduce it with a tree reduction, and combine the result into a running accumulator.
//
// Equal values are resolved in favor of the smallest index, so results are deterministic.
package argop

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/gpukernels/backends/device"
	"github.com/gomlx/gpukernels/backends/kernels"
	"github.com/gomlx/gpukernels/backends/kernels/dispatch"
	"github.com/gomlx/gpukernels/types/shapes"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
	"k8s.io/klog/v2"
)

// launchFunc enqueues the kernel instantiated for one dtype.
type launchFunc func(stream *device.Stream, op kernels.ArgOp, input, output device.Argument, axis, blockSize int) error

var argFamily = dispatch.NewDTypeMap[launchFunc]("ArgReduce")

func init() {
	register(dtypes.Int8, identity[int8])
	register(dtypes.Int16, identity[int16])
	register(dtypes.Int32, identity[int32])
	register(dtypes.Int64, identity[int64])
	register(dtypes.Uint8, identity[uint8])
	register(dtypes.Uint16, identity[uint16])
	register(dtypes.Uint32, identity[uint32])
	register(dtypes.Uint64, identity[uint64])
	register(dtypes.Float32, identity[float32])
	register(dtypes.Float64, identity[float64])

	// Half-precision values are compared as float32, which preserves their order.
	register(dtypes.Float16, float16.Float16.Float32)
	register(dtypes.BFloat16, bfloat16.BFloat16.Float32)
}

func identity[T any](v T) T { return v }

func register[S any, T constraints.Ordered](dtype dtypes.DType, load func(S) T) {
	argFamily.Register(dtype, func(stream *device.Stream, op kernels.ArgOp, input, output device.Argument, axis, blockSize int) error {
		return launch(stream, op, load, input, output, axis, blockSize)
	})
}

// DTypes returns the dtypes supported by the kernels.
func DTypes() []dtypes.DType { return argFamily.DTypes() }

// BlockSize returns the number of threads per block used to reduce an axis with batchItemNum elements:
// the smallest power of 2 >= min(batchItemNum, maxBlockSize).
func BlockSize(batchItemNum, maxBlockSize int) int {
	blockSize := 1
	for blockSize < maxBlockSize && blockSize < batchItemNum {
		blockSize *= 2
	}
	return blockSize
}

// ArgMax enqueues on the stream the computation of the index of the largest value along axis.
// See Compute.
func ArgMax(stream *device.Stream, input, output device.Argument, axis int) error {
	return Compute(stream, kernels.ArgMax, input, output, axis)
}

// ArgMin enqueues on the stream the computation of the index of the smallest value along axis.
// See Compute.
func ArgMin(stream *device.Stream, input, output device.Argument, axis int) error {
	return Compute(stream, kernels.ArgMin, input, output, axis)
}

// Compute enqueues on the stream the arg-reduction op of input along axis.
//
// output must be an Int64 tensor with the dimensions of input, except axis which must be 1. It receives one index per
// batch element, written through its shape, so it can be strided. axis can be negative, counting from the end.
//
// Errors: an invalid op, axis or output wrap kernels.ErrPreconditionViolation, and an input dtype with no kernel
// wraps dispatch.ErrUnsupportedType. In both cases nothing is enqueued.
func Compute(stream *device.Stream, op kernels.ArgOp, input, output device.Argument, axis int) error {
	if op != kernels.ArgMax && op != kernels.ArgMin {
		return kernels.Preconditionf("argop: invalid op %s", op)
	}
	if !input.Ok() || !output.Ok() {
		return kernels.Preconditionf("argop.%s: input and output must have a buffer", op)
	}
	inputShape := input.Shape()
	rank := inputShape.Rank()
	adjustedAxis := axis
	if adjustedAxis < 0 {
		adjustedAxis += rank
	}
	if adjustedAxis < 0 || adjustedAxis >= rank {
		return kernels.Preconditionf("argop.%s: axis %d out of range for input %s", op, axis, inputShape)
	}
	batchShape := inputShape.WithDim(adjustedAxis, 1)
	outputShape := output.Shape()
	if err := shapes.CheckDims(output, batchShape.Dimensions...); err != nil || outputShape.DType != dtypes.Int64 {
		return kernels.Preconditionf("argop.%s: output must be (Int64)%v, got %s", op, batchShape.Dimensions, outputShape)
	}
	launchFn, err := argFamily.Get(inputShape.DType)
	if err != nil {
		return err
	}
	blockSize := BlockSize(inputShape.Dim(adjustedAxis), stream.Device().MaxBlockSize())
	return launchFn(stream, op, input, output, adjustedAxis, blockSize)
}

// launch instantiates the kernel for the storage type S and the comparison type T, and launches it with
// one block per batch element.
func launch[S any, T constraints.Ordered](stream *device.Stream, op kernels.ArgOp, load func(S) T,
	input, output device.Argument, axis, blockSize int) error {
	inputShape := input.Shape()
	itemNum := inputShape.Dim(axis)
	k := &argKernel[S, T]{
		load:        load,
		combine:     combineFunc[T](op == kernels.ArgMin),
		input:       device.View[S](input.Buffer()),
		inputShape:  inputShape,
		output:      device.View[int64](output.Buffer()),
		outputShape: output.Shape(),
		batchShape:  inputShape.WithDim(axis, 1),
		axis:        axis,
		itemNum:     itemNum,
		blockSize:   blockSize,
		roundItems:  (itemNum + blockSize - 1) / blockSize * blockSize,
	}
	numBlocks := k.batchShape.Size()
	klog.V(2).Infof("argop.%s: input %s, axis %d, %d blocks of %d threads", op, inputShape, axis, numBlocks, blockSize)
	return stream.Launch(device.Kernel{
		Name:   op.String(),
		Shared: func() any { return newScratch[T](blockSize) },
		Body:   k.run,
	}, device.LaunchConfig{GlobalSize: numBlocks * blockSize, LocalSize: blockSize})
}
