// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package argop

import (
	"slices"

	"github.com/gomlx/gpukernels/backends/device"
	"github.com/gomlx/gpukernels/types/shapes"
	"golang.org/x/exp/constraints"
)

// scratch is the shared memory of a block: blockSize slots for the round being reduced, plus the
// running accumulator in the last slot.
type scratch[T constraints.Ordered] struct {
	values  []T
	indices []int64
}

func newScratch[T constraints.Ordered](blockSize int) *scratch[T] {
	return &scratch[T]{
		values:  make([]T, blockSize+1),
		indices: make([]int64, blockSize+1),
	}
}

func (s *scratch[T]) get(slot int) Pair[T] {
	return Pair[T]{Value: s.values[slot], Index: s.indices[slot]}
}

func (s *scratch[T]) set(slot int, p Pair[T]) {
	s.values[slot] = p.Value
	s.indices[slot] = p.Index
}

// argKernel holds what the threads of an arg-reduction launch need.
//
// S is the storage type of the input, and T the type values are compared in.
type argKernel[S any, T constraints.Ordered] struct {
	load    func(S) T
	combine func(x, y Pair[T]) Pair[T]

	input                 []S
	inputShape            shapes.Shape
	output                []int64
	outputShape           shapes.Shape
	batchShape            shapes.Shape
	axis, itemNum         int
	blockSize, roundItems int
}

// run is the body of each thread. Block Group reduces the batch element Group, and all its threads
// go through the same rounds, so they all reach the same barriers.
func (k *argKernel[S, T]) run(th *device.Thread) {
	shared := th.Shared().(*scratch[T])
	tid := th.Local
	batchIdx := k.batchShape.Multi(th.Group)
	dataIdx := slices.Clone(batchIdx)

	// Seed the accumulator with the first element: it's only read after the first round barrier.
	if tid == 0 {
		dataIdx[k.axis] = 0
		shared.set(k.blockSize, Pair[T]{Value: k.load(k.input[k.inputShape.Index(dataIdx)]), Index: 0})
	}

	remaining := k.itemNum
	for i := tid; i < k.roundItems; i += k.blockSize {
		if i < k.itemNum {
			dataIdx[k.axis] = i
			shared.set(tid, Pair[T]{Value: k.load(k.input[k.inputShape.Index(dataIdx)]), Index: int64(i)})
		}
		th.Sync()
		k.blockReduce(th, shared, min(remaining, k.blockSize))
		remaining -= k.blockSize
	}

	if tid == 0 {
		k.output[k.outputShape.Index(batchIdx)] = shared.indices[k.blockSize]
	}
}

// blockReduce reduces the first live slots of the scratch to slot 0, halving the live slots at each step,
// and then combines it into the accumulator.
func (k *argKernel[S, T]) blockReduce(th *device.Thread, shared *scratch[T], live int) {
	for {
		stride := (live + 1) / 2
		size := live / 2
		for i := th.Local; i < size; i += th.LocalSize {
			shared.set(i, k.combine(shared.get(i), shared.get(i+stride)))
		}
		th.Sync()
		live = stride
		if live == 1 {
			break
		}
	}
	if th.Local == 0 {
		shared.set(k.blockSize, k.combine(shared.get(k.blockSize), shared.get(0)))
	}
	th.Sync()
}
