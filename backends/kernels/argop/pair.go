// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package argop

import "golang.org/x/exp/constraints"

// Pair is a candidate of the reduction: a value and its index along the reduced axis.
type Pair[T constraints.Ordered] struct {
	Value T
	Index int64
}

// PairMax returns the pair with the largest value. If the values are equal the pair with the
// smallest index wins.
func PairMax[T constraints.Ordered](x, y Pair[T]) Pair[T] {
	if x.Value > y.Value {
		return x
	} else if x.Value < y.Value {
		return y
	}
	if x.Index < y.Index {
		return x
	}
	return y
}

// PairMin returns the smallest pair, comparing values first and then indices.
func PairMin[T constraints.Ordered](x, y Pair[T]) Pair[T] {
	if pairLess(x, y) {
		return x
	}
	return y
}

// pairLess is the lexicographic order of pairs.
func pairLess[T constraints.Ordered](x, y Pair[T]) bool {
	return x.Value < y.Value || (!(y.Value < x.Value) && x.Index < y.Index)
}

// combineFunc returns the combine function of the reduction op.
func combineFunc[T constraints.Ordered](pickMin bool) func(x, y Pair[T]) Pair[T] {
	if pickMin {
		return PairMin[T]
	}
	return PairMax[T]
}
