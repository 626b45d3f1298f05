package verify

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-reduce/internal/reduce"
	"github.com/23skdu/longbow-reduce/internal/tensor"
)

func TestLanes(t *testing.T) {
	// shape (2, 3): [[1 2 3] [4 5 6]]
	data := []float64{1, 2, 3, 4, 5, 6}
	rows, err := Lanes(data, tensor.Shape{2, 3}, 1)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 2, 3}, {4, 5, 6}}, rows)

	cols, err := Lanes(data, tensor.Shape{2, 3}, 0)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 4}, {2, 5}, {3, 6}}, cols)

	_, err = Lanes(data, tensor.Shape{2, 3}, 2)
	assert.ErrorIs(t, err, reduce.ErrInvalidDimension)
	_, err = Lanes(data[:5], tensor.Shape{2, 3}, 0)
	assert.ErrorIs(t, err, reduce.ErrShapeMismatch)
}

func TestReference(t *testing.T) {
	lane := []float64{3, 7, 7, 2}
	f32 := tensor.Float32
	assert.Equal(t, 19.0, Reference(reduce.KindSum, lane, f32, f32))
	assert.Equal(t, 4.75, Reference(reduce.KindMean, lane, f32, f32))
	assert.Equal(t, 4.0, Reference(reduce.KindMean, lane, tensor.Int32, tensor.Int32))
	assert.Equal(t, 4.75, Reference(reduce.KindMean, lane, tensor.Int32, tensor.Float64), "float outputs keep the fraction")
	assert.Equal(t, 294.0, Reference(reduce.KindProduct, lane, f32, f32))
	assert.Equal(t, 7.0, Reference(reduce.KindMax, lane, f32, f32))
	assert.Equal(t, 2.0, Reference(reduce.KindMin, lane, f32, f32))
	assert.Equal(t, 1.0, Reference(reduce.KindArgMax, lane, f32, tensor.Int64))
	assert.Equal(t, 3.0, Reference(reduce.KindArgMin, lane, f32, tensor.Int64))

	nan := math.NaN()
	assert.True(t, math.IsInf(Reference(reduce.KindMax, []float64{nan, nan}, f32, f32), -1))
	assert.Equal(t, -4.0, Reference(reduce.KindMean, []float64{-9, 0}, tensor.Int8, tensor.Int8), "integer mean truncates toward zero")
}

func TestReference_IntegerWraps(t *testing.T) {
	assert.Equal(t, -56.0, Reference(reduce.KindSum, []float64{100, 100}, tensor.Int8, tensor.Int8))
	assert.Equal(t, 44.0, Reference(reduce.KindSum, []float64{200, 100}, tensor.Uint8, tensor.Int64))
	assert.Equal(t, 22.0, Reference(reduce.KindMean, []float64{200, 100}, tensor.Uint8, tensor.Float32))
	assert.Equal(t, 0.0, Reference(reduce.KindProduct, []float64{16, 16, 2}, tensor.Uint8, tensor.Uint8))
	assert.Equal(t, -32768.0, Reference(reduce.KindProduct, []float64{256, 128}, tensor.Int16, tensor.Int16))
	assert.Equal(t, 3e9, Reference(reduce.KindSum, []float64{1.5e9, 1.5e9}, tensor.Int64, tensor.Int64))
}

func TestQuantize(t *testing.T) {
	assert.Equal(t, 127.0, Quantize(1000, tensor.Int8))
	assert.Equal(t, -3.0, Quantize(-3.7, tensor.Int16))
	assert.Equal(t, 0.0, Quantize(-3.7, tensor.Uint32))
	assert.Equal(t, 0.0, Quantize(math.NaN(), tensor.Int64))
	assert.Equal(t, 65504.0, Quantize(1e9, tensor.Float16))
	assert.Equal(t, float64(float32(0.1)), Quantize(0.1, tensor.Float32))
	assert.True(t, math.IsInf(Quantize(math.Inf(1), tensor.Float32), 1))
	assert.Equal(t, 0.1, Quantize(0.1, tensor.Float64))
}

func TestCheck(t *testing.T) {
	data := []float64{1, 9, 3, 6, 5, 6}
	shape := tensor.Shape{2, 3}

	err := Check(reduce.KindArgMax, data, shape, 1, tensor.Float32, tensor.Int64, []float64{1, 0}, 0)
	assert.NoError(t, err)

	err = Check(reduce.KindSum, data, shape, 0, tensor.Float32, tensor.Int8, []float64{7, 14, 9}, 1e-6)
	assert.NoError(t, err)

	err = Check(reduce.KindMean, data, shape, 1, tensor.Int32, tensor.Int32, []float64{4, 5}, 0)
	assert.NoError(t, err)

	err = Check(reduce.KindMean, data, shape, 1, tensor.Int32, tensor.Float64, []float64{13.0 / 3.0, 17.0 / 3.0}, 1e-9)
	assert.NoError(t, err)

	err = Check(reduce.KindSum, []float64{100, 100}, tensor.Shape{2}, 0, tensor.Int8, tensor.Int8, []float64{-56}, 0)
	assert.NoError(t, err)

	err = Check(reduce.KindMax, data, shape, 1, tensor.Float32, tensor.Float32, []float64{9, 5}, 1e-6)
	assert.ErrorIs(t, err, ErrMismatch)

	err = Check(reduce.KindMax, data, shape, 1, tensor.Float32, tensor.Float32, []float64{9}, 1e-6)
	assert.ErrorIs(t, err, reduce.ErrShapeMismatch)

	// Empty lanes have no reference value.
	err = Check(reduce.KindMax, nil, tensor.Shape{2, 0}, 1, tensor.Float32, tensor.Float32, []float64{0, 0}, 0)
	assert.NoError(t, err)
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(math.NaN(), math.NaN(), 0))
	assert.False(t, Equal(math.NaN(), 1, 0))
	assert.True(t, Equal(math.Inf(-1), math.Inf(-1), 0))
	assert.False(t, Equal(math.Inf(1), math.MaxFloat64, 1e-3))
	assert.True(t, Equal(1000, 1000.5, 1e-3))
	assert.False(t, Equal(1, 1.1, 1e-3))
}
