// Package verify recomputes reductions with gonum in float64 and compares
// them against kernel output.
package verify

import (
	"math"

	"github.com/pkg/errors"
	"github.com/x448/float16"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"

	"github.com/23skdu/longbow-reduce/internal/reduce"
	"github.com/23skdu/longbow-reduce/internal/tensor"
)

// ErrMismatch is returned when a result differs from the reference.
var ErrMismatch = errors.New("result differs from reference")

// Lanes gathers, for every output position of a reduction over dim, the
// elements along dim. data is row-major over shape.
func Lanes(data []float64, shape tensor.Shape, dim int) ([][]float64, error) {
	if dim < 0 || dim >= len(shape) {
		return nil, errors.Wrapf(reduce.ErrInvalidDimension, "dimension %d out of range for rank %d", dim, len(shape))
	}
	if len(data) != shape.NumElements() {
		return nil, errors.Wrapf(reduce.ErrShapeMismatch, "%d elements for shape %s", len(data), shape)
	}
	outShape := shape.Reduced(dim)
	strides := shape.Strides()
	lanes := make([][]float64, outShape.NumElements())
	for p := range lanes {
		base, rem := 0, p
		for d := len(outShape) - 1; d >= 0; d-- {
			base += (rem % outShape[d]) * strides[d]
			rem /= outShape[d]
		}
		lane := make([]float64, shape[dim])
		for i := range lane {
			lane[i] = data[base+i*strides[dim]]
		}
		lanes[p] = lane
	}
	return lanes, nil
}

// Reference computes kind over one lane of elements of type inType, as an
// output of type outType will see it. Integer Sum, Mean and Product wrap in
// inType arithmetic like the kernel accumulator; Mean then divides for real
// when outType is a float and truncates otherwise. Lanes must not be empty.
func Reference(kind reduce.Kind, lane []float64, inType, outType tensor.DataType) float64 {
	integer := !inType.IsFloat()
	switch kind {
	case reduce.KindSum:
		if integer {
			return wrapped(lane, inType, false)
		}
		return floats.Sum(lane)
	case reduce.KindMean:
		sum := floats.Sum(lane)
		if integer {
			sum = wrapped(lane, inType, false)
		}
		mean := sum / float64(len(lane))
		if !outType.IsFloat() {
			return math.Trunc(mean)
		}
		return mean
	case reduce.KindProduct:
		if integer {
			return wrapped(lane, inType, true)
		}
		return floats.Prod(lane)
	case reduce.KindMax:
		if v := floats.Max(lane); !math.IsNaN(v) {
			return v
		}
		return math.Inf(-1)
	case reduce.KindMin:
		if v := floats.Min(lane); !math.IsNaN(v) {
			return v
		}
		return math.Inf(1)
	case reduce.KindArgMax:
		return float64(floats.MaxIdx(lane))
	case reduce.KindArgMin:
		return float64(floats.MinIdx(lane))
	}
	return math.NaN()
}

// wrapped folds an integer lane modulo 2^64 and truncates the result to the
// width of dt. Addition and multiplication commute with that truncation, so
// this matches an accumulator of type dt.
func wrapped(lane []float64, dt tensor.DataType, product bool) float64 {
	var acc uint64
	if product {
		acc = 1
	}
	for _, v := range lane {
		x := uint64(int64(v))
		if dt == tensor.Uint64 && v >= math.MaxInt64 {
			x = uint64(v)
		}
		if product {
			acc *= x
		} else {
			acc += x
		}
	}
	switch dt {
	case tensor.Int8:
		return float64(int8(acc))
	case tensor.Int16:
		return float64(int16(acc))
	case tensor.Int32:
		return float64(int32(acc))
	case tensor.Int64:
		return float64(int64(acc))
	case tensor.Uint8:
		return float64(uint8(acc))
	case tensor.Uint16:
		return float64(uint16(acc))
	case tensor.Uint32:
		return float64(uint32(acc))
	}
	return float64(acc)
}

// Quantize maps a reference value into what an output of type dt can hold:
// saturated and truncated for integers, rounded for narrow floats.
func Quantize(v float64, dt tensor.DataType) float64 {
	switch dt {
	case tensor.Float64:
		return v
	case tensor.Float32:
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			v = math.Max(-math.MaxFloat32, math.Min(math.MaxFloat32, v))
		}
		return float64(float32(v))
	case tensor.Float16:
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			v = math.Max(-65504, math.Min(65504, v))
		}
		return float64(float16.Fromfloat32(float32(v)).Float32())
	}
	if math.IsNaN(v) {
		return 0
	}
	lo, hi := bounds(dt)
	return math.Max(lo, math.Min(hi, math.Trunc(v)))
}

func bounds(dt tensor.DataType) (float64, float64) {
	switch dt {
	case tensor.Int8:
		return math.MinInt8, math.MaxInt8
	case tensor.Int16:
		return math.MinInt16, math.MaxInt16
	case tensor.Int32:
		return math.MinInt32, math.MaxInt32
	case tensor.Int64:
		return math.MinInt64, math.MaxInt64
	case tensor.Uint8:
		return 0, math.MaxUint8
	case tensor.Uint16:
		return 0, math.MaxUint16
	case tensor.Uint32:
		return 0, math.MaxUint32
	}
	return 0, math.MaxUint64
}

// Check recomputes a reduction of in (row-major over shape) and compares it
// with got, the kernel output widened to float64. Values match when equal
// within tol, absolutely or relatively, or when both are NaN or the same
// infinity.
func Check(kind reduce.Kind, in []float64, shape tensor.Shape, dim int, inType, outType tensor.DataType, got []float64, tol float64) error {
	lanes, err := Lanes(in, shape, dim)
	if err != nil {
		return err
	}
	if len(got) != len(lanes) {
		return errors.Wrapf(reduce.ErrShapeMismatch, "%d results for %d positions", len(got), len(lanes))
	}
	for p, lane := range lanes {
		if len(lane) == 0 {
			continue
		}
		want := Quantize(Reference(kind, lane, inType, outType), outType)
		if !Equal(got[p], want, tol) {
			return errors.Wrapf(ErrMismatch, "%s position %d: got %v, want %v", kind, p, got[p], want)
		}
	}
	return nil
}

// Equal reports whether a and b match within tol.
func Equal(a, b, tol float64) bool {
	switch {
	case math.IsNaN(a) || math.IsNaN(b):
		return math.IsNaN(a) && math.IsNaN(b)
	case math.IsInf(a, 0) || math.IsInf(b, 0):
		return a == b
	}
	return scalar.EqualWithinAbsOrRel(a, b, tol, tol)
}
