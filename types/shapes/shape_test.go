/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package shapes

import (
	"testing"

	. "github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	invalidShape := Invalid()
	require.False(t, invalidShape.Ok())

	shape0 := Make(Float64)
	require.True(t, shape0.Ok())
	require.True(t, shape0.IsScalar())
	require.Equal(t, 0, shape0.Rank())
	require.Len(t, shape0.Dimensions, 0)
	require.Equal(t, 1, shape0.Size())
	require.Equal(t, 8, int(shape0.Memory()))

	shape1 := Make(Float32, 4, 3, 2)
	require.True(t, shape1.Ok())
	require.False(t, shape1.IsScalar())
	require.Equal(t, 3, shape1.Rank())
	require.Equal(t, []int{6, 2, 1}, shape1.Strides)
	require.Equal(t, 4*3*2, shape1.Size())
	require.Equal(t, 4*4*3*2, int(shape1.Memory()))
	require.True(t, shape1.IsPacked())
	require.False(t, shape1.Transposed())
	require.Equal(t, "(Float32)[4 3 2]", shape1.String())

	require.Panics(t, func() { _ = Make(Float32, 2, 0) })
	require.Panics(t, func() { _ = MakeStrided(Float32, []int{2, 3}, []int{1}) })
}

func TestDim(t *testing.T) {
	shape := Make(Float32, 4, 3, 2)
	require.Equal(t, 4, shape.Dim(0))
	require.Equal(t, 3, shape.Dim(1))
	require.Equal(t, 2, shape.Dim(2))
	require.Equal(t, 4, shape.Dim(-3))
	require.Equal(t, 3, shape.Dim(-2))
	require.Equal(t, 2, shape.Dim(-1))
	require.Panics(t, func() { _ = shape.Dim(3) })
	require.Panics(t, func() { _ = shape.Dim(-4) })
	require.Equal(t, 1, shape.Stride(-1))
	require.Equal(t, 6, shape.Stride(0))
}

func TestTransposed(t *testing.T) {
	// A 3x2 matrix read from the memory of a packed 2x3 matrix.
	shape := MakeStrided(Float32, []int{3, 2}, []int{1, 3})
	require.True(t, shape.Transposed())
	require.False(t, shape.IsPacked())
	require.Equal(t, 6, shape.ElementSpace())
	require.Equal(t, 6*4, int(shape.Memory()))

	back := shape.Transpose()
	require.False(t, back.Transposed())
	require.True(t, back.Equal(Make(Float32, 2, 3)))

	// Batch axes don't affect transposition.
	batched := MakeStrided(Float64, []int{5, 3, 2}, []int{6, 1, 3})
	require.True(t, batched.Transposed())
	require.Equal(t, 5*6, batched.ElementSpace())

	require.False(t, Make(Float32, 7).Transposed())
}

func TestMultiAndIndex(t *testing.T) {
	shape := Make(Int64, 2, 3, 4)
	for flat := range shape.Size() {
		multi := shape.Multi(flat)
		require.Equal(t, flat, shape.Index(multi), "multi=%v", multi)
	}
	require.Equal(t, []int{1, 2, 3}, shape.Multi(23))

	// Strided: the flat order follows dimensions, the index follows strides.
	strided := MakeStrided(Int64, []int{3, 2}, []int{1, 3})
	require.Equal(t, []int{2, 1}, strided.Multi(5))
	require.Equal(t, 2+3, strided.Index([]int{2, 1}))
}

func TestWithDim(t *testing.T) {
	shape := MakeStrided(Float32, []int{2, 5, 3}, []int{1, 6, 2})
	batch := shape.WithDim(1, 1)
	require.NoError(t, batch.Check(Float32, 2, 1, 3))
	require.True(t, batch.IsPacked())
	require.Equal(t, 6, batch.Size())
	require.NoError(t, shape.WithDType(Int64).Check(Int64, 2, 5, 3))
	require.Error(t, shape.CheckDims(2, 5))
	require.NoError(t, shape.CheckDims(UncheckedAxis, 5, UncheckedAxis))
	require.Error(t, shape.CheckMinRank(4))
}
