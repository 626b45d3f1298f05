package reduce

import (
	"math"

	"github.com/23skdu/longbow-reduce/internal/tensor"
)

// Caster converts finalized values into the output element type O. It is
// total: every Value maps to some O. Conversions saturate at the bounds of
// O, NaN becomes 0 for integer outputs and float to integer truncates
// toward zero. Precision loss on narrowing is silent.
type Caster[O tensor.Numeric] struct {
	dtype tensor.DataType
	lo    int64
	hi    int64
	uhi   uint64
}

// NewCaster precomputes the bounds of O.
func NewCaster[O tensor.Numeric]() Caster[O] {
	dt := tensor.DataTypeOf[O]()
	c := Caster[O]{dtype: dt}
	switch dt {
	case tensor.Int8, tensor.Int16, tensor.Int32, tensor.Int64:
		c.lo = int64(tensor.Lowest[O]())
		c.hi = int64(tensor.Highest[O]())
	case tensor.Uint8, tensor.Uint16, tensor.Uint32, tensor.Uint64:
		c.uhi = uint64(tensor.Highest[O]())
	}
	return c
}

// Cast converts v to O.
func (c Caster[O]) Cast(v Value) O {
	switch c.dtype {
	case tensor.Float32:
		return O(toFloat32(v.Float64()))
	case tensor.Float64:
		return O(v.Float64())
	case tensor.Uint8, tensor.Uint16, tensor.Uint32, tensor.Uint64:
		return O(saturateUnsigned(v.Truncated(), c.uhi))
	default:
		return O(saturateSigned(v.Truncated(), c.lo, c.hi))
	}
}

// Cast converts a single value to O. Kernels use a Caster built once per
// dispatch instead.
func Cast[O tensor.Numeric](v Value) O {
	return NewCaster[O]().Cast(v)
}

func toFloat32(f float64) float32 {
	switch {
	case math.IsNaN(f) || math.IsInf(f, 0):
		return float32(f)
	case f > math.MaxFloat32:
		return math.MaxFloat32
	case f < -math.MaxFloat32:
		return -math.MaxFloat32
	}
	return float32(f)
}

func saturateSigned(v Value, lo, hi int64) int64 {
	switch v.Kind {
	case SignedValue:
		return min(max(v.I, lo), hi)
	case UnsignedValue:
		if v.U > uint64(hi) {
			return hi
		}
		return int64(v.U)
	}
	f := v.F
	switch {
	case math.IsNaN(f):
		return 0
	case f <= float64(lo):
		return lo
	case f >= float64(hi):
		// float64(hi) rounds up for int64, so >= also covers 2^63.
		return hi
	}
	return int64(f)
}

func saturateUnsigned(v Value, hi uint64) uint64 {
	switch v.Kind {
	case UnsignedValue:
		return min(v.U, hi)
	case SignedValue:
		if v.I < 0 {
			return 0
		}
		return min(uint64(v.I), hi)
	}
	f := v.F
	switch {
	case math.IsNaN(f) || f <= 0:
		return 0
	case f >= float64(hi):
		return hi
	}
	return uint64(f)
}
