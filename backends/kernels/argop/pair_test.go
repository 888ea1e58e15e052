// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package argop

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPairMax(t *testing.T) {
	a, b := Pair[float32]{Value: 3, Index: 2}, Pair[float32]{Value: 1, Index: 0}
	assert.Equal(t, a, PairMax(a, b))
	assert.Equal(t, a, PairMax(b, a))

	// Ties: smallest index, regardless of the order of the arguments.
	c := Pair[float32]{Value: 3, Index: 7}
	assert.Equal(t, a, PairMax(a, c))
	assert.Equal(t, a, PairMax(c, a))
}

func TestPairMin(t *testing.T) {
	a, b := Pair[int32]{Value: -1, Index: 5}, Pair[int32]{Value: 4, Index: 1}
	assert.Equal(t, a, PairMin(a, b))
	assert.Equal(t, a, PairMin(b, a))

	c := Pair[int32]{Value: -1, Index: 2}
	assert.Equal(t, c, PairMin(a, c))
	assert.Equal(t, c, PairMin(c, a))
}

func TestPair_NaN(t *testing.T) {
	// NaN is neither larger nor smaller than any value, so it's resolved as a tie.
	nan := Pair[float64]{Value: math.NaN(), Index: 0}
	one := Pair[float64]{Value: 1, Index: 1}
	assert.Equal(t, int64(0), PairMax(nan, one).Index)
	assert.Equal(t, int64(0), PairMax(one, nan).Index)
	assert.Equal(t, int64(0), PairMin(nan, one).Index)
	assert.Equal(t, int64(0), PairMin(one, nan).Index)
}
