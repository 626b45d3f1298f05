package device

import (
	"unsafe"

	"github.com/pkg/errors"
	"github.com/x448/float16"

	"github.com/23skdu/longbow-reduce/internal/reduce"
	"github.com/23skdu/longbow-reduce/internal/simd"
	"github.com/23skdu/longbow-reduce/internal/tensor"
)

// makeBuffer allocates a zeroed backing slice of n elements of dtype.
func makeBuffer(dtype tensor.DataType, n int) any {
	switch dtype {
	case tensor.Float16:
		return make([]float16.Float16, n)
	case tensor.Float32:
		return make([]float32, n)
	case tensor.Float64:
		return make([]float64, n)
	case tensor.Int8:
		return make([]int8, n)
	case tensor.Int16:
		return make([]int16, n)
	case tensor.Int32:
		return make([]int32, n)
	case tensor.Int64:
		return make([]int64, n)
	case tensor.Uint8:
		return make([]uint8, n)
	case tensor.Uint16:
		return make([]uint16, n)
	case tensor.Uint32:
		return make([]uint32, n)
	case tensor.Uint64:
		return make([]uint64, n)
	}
	return nil
}

// bufferDType returns the element type of a backing slice.
func bufferDType(data any) tensor.DataType {
	switch data.(type) {
	case []float16.Float16:
		return tensor.Float16
	case []float32:
		return tensor.Float32
	case []float64:
		return tensor.Float64
	case []int8:
		return tensor.Int8
	case []int16:
		return tensor.Int16
	case []int32:
		return tensor.Int32
	case []int64:
		return tensor.Int64
	case []uint8:
		return tensor.Uint8
	case []uint16:
		return tensor.Uint16
	case []uint32:
		return tensor.Uint32
	case []uint64:
		return tensor.Uint64
	}
	return tensor.Invalid
}

// reuse reslices a pooled buffer to n zeroed elements. It reports false if
// the buffer is too small.
func reuse(data any, n int) (any, bool) {
	switch d := data.(type) {
	case []float16.Float16:
		return zeroed(d, n)
	case []float32:
		return zeroed(d, n)
	case []float64:
		return zeroed(d, n)
	case []int8:
		return zeroed(d, n)
	case []int16:
		return zeroed(d, n)
	case []int32:
		return zeroed(d, n)
	case []int64:
		return zeroed(d, n)
	case []uint8:
		return zeroed(d, n)
	case []uint16:
		return zeroed(d, n)
	case []uint32:
		return zeroed(d, n)
	case []uint64:
		return zeroed(d, n)
	}
	return nil, false
}

func zeroed[E any](s []E, n int) (any, bool) {
	if cap(s) < n {
		return nil, false
	}
	s = s[:n]
	clear(s)
	return s, true
}

// copyBuffer returns a private copy of data after checking it holds n
// elements of dtype.
func copyBuffer(dtype tensor.DataType, data any, n int) (any, error) {
	if got := bufferDType(data); got != dtype {
		return nil, errors.Errorf("data is %T, want %s elements", data, dtype)
	}
	dst := makeBuffer(dtype, n)
	var copied int
	switch d := data.(type) {
	case []float16.Float16:
		copied = copy(dst.([]float16.Float16), d)
	case []float32:
		copied = copy(dst.([]float32), d)
	case []float64:
		copied = copy(dst.([]float64), d)
	case []int8:
		copied = copy(dst.([]int8), d)
	case []int16:
		copied = copy(dst.([]int16), d)
	case []int32:
		copied = copy(dst.([]int32), d)
	case []int64:
		copied = copy(dst.([]int64), d)
	case []uint8:
		copied = copy(dst.([]uint8), d)
	case []uint16:
		copied = copy(dst.([]uint16), d)
	case []uint32:
		copied = copy(dst.([]uint32), d)
	case []uint64:
		copied = copy(dst.([]uint64), d)
	}
	if copied != n || bufferLen(data) != n {
		return nil, errors.Errorf("data has %d elements, shape needs %d", bufferLen(data), n)
	}
	return dst, nil
}

func bufferLen(data any) int {
	switch d := data.(type) {
	case []float16.Float16:
		return len(d)
	case []float32:
		return len(d)
	case []float64:
		return len(d)
	case []int8:
		return len(d)
	case []int16:
		return len(d)
	case []int32:
		return len(d)
	case []int64:
		return len(d)
	case []uint8:
		return len(d)
	case []uint16:
		return len(d)
	case []uint32:
		return len(d)
	case []uint64:
		return len(d)
	}
	return 0
}

// gather copies the elements of a strided window in row-major order.
func gather[E any](data []E, shape tensor.Shape, strides []int, offset int) []E {
	out := make([]E, shape.NumElements())
	coords := make([]int, len(shape))
	for i := range out {
		idx := offset
		for d, c := range coords {
			idx += c * strides[d]
		}
		out[i] = data[idx]
		for d := len(coords) - 1; d >= 0; d-- {
			coords[d]++
			if coords[d] < shape[d] {
				break
			}
			coords[d] = 0
		}
	}
	return out
}

func toFloat64s[E tensor.Numeric](src []E) []float64 {
	out := make([]float64, len(src))
	for i, x := range src {
		out[i] = float64(x)
	}
	return out
}

// RawBytes returns the in-memory bytes of a dense tensor's elements without
// copying, or nil if the tensor is a strided view.
func RawBytes(t Tensor) []byte {
	switch d := t.Data().(type) {
	case []float16.Float16:
		return asBytes(d)
	case []float32:
		return asBytes(d)
	case []float64:
		return asBytes(d)
	case []int8:
		return asBytes(d)
	case []int16:
		return asBytes(d)
	case []int32:
		return asBytes(d)
	case []int64:
		return asBytes(d)
	case []uint8:
		return d
	case []uint16:
		return asBytes(d)
	case []uint32:
		return asBytes(d)
	case []uint64:
		return asBytes(d)
	}
	return nil
}

func asBytes[E any](s []E) []byte {
	if len(s) == 0 {
		return []byte{}
	}
	var zero E
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), len(s)*int(unsafe.Sizeof(zero)))
}

// FromFloat64s converts values into a backing slice of dtype using the same
// saturating conversions as reduction outputs.
func FromFloat64s(dtype tensor.DataType, values []float64) any {
	switch dtype {
	case tensor.Float16:
		out := make([]float16.Float16, len(values))
		simd.NarrowFloat64(out, values)
		return out
	case tensor.Float32:
		return castAll[float32](values)
	case tensor.Float64:
		return append([]float64(nil), values...)
	case tensor.Int8:
		return castAll[int8](values)
	case tensor.Int16:
		return castAll[int16](values)
	case tensor.Int32:
		return castAll[int32](values)
	case tensor.Int64:
		return castAll[int64](values)
	case tensor.Uint8:
		return castAll[uint8](values)
	case tensor.Uint16:
		return castAll[uint16](values)
	case tensor.Uint32:
		return castAll[uint32](values)
	case tensor.Uint64:
		return castAll[uint64](values)
	}
	return nil
}

func castAll[E tensor.Numeric](values []float64) []E {
	c := reduce.NewCaster[E]()
	out := make([]E, len(values))
	for i, v := range values {
		out[i] = c.Cast(reduce.Float(v))
	}
	return out
}
