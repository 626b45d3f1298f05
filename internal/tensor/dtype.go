// Package tensor describes dense tensors: element types, shapes, strides and
// typed views over flat buffers.
package tensor

import (
	"math"
	"strings"

	"github.com/pkg/errors"
)

// Numeric is the constraint for element types the reduction core can be
// instantiated with. Float16 is a storage type only and is widened to
// float32 before it reaches generic code.
type Numeric interface {
	int8 | int16 | int32 | int64 |
		uint8 | uint16 | uint32 | uint64 |
		float32 | float64
}

// DataType is the runtime element type of a tensor.
type DataType int

// Supported data types.
const (
	Invalid DataType = iota
	Float16
	Float32
	Float64
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
)

var dataTypeNames = map[DataType]string{
	Float16: "float16",
	Float32: "float32",
	Float64: "float64",
	Int8:    "int8",
	Int16:   "int16",
	Int32:   "int32",
	Int64:   "int64",
	Uint8:   "uint8",
	Uint16:  "uint16",
	Uint32:  "uint32",
	Uint64:  "uint64",
}

// DataTypes lists every valid data type.
func DataTypes() []DataType {
	return []DataType{Float16, Float32, Float64, Int8, Int16, Int32, Int64, Uint8, Uint16, Uint32, Uint64}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	if name, ok := dataTypeNames[dt]; ok {
		return name
	}
	return "invalid"
}

// Size returns the byte size of one element.
func (dt DataType) Size() int {
	switch dt {
	case Int8, Uint8:
		return 1
	case Float16, Int16, Uint16:
		return 2
	case Float32, Int32, Uint32:
		return 4
	case Float64, Int64, Uint64:
		return 8
	default:
		return 0
	}
}

// IsFloat reports whether dt is a floating point type.
func (dt DataType) IsFloat() bool {
	return dt == Float16 || dt == Float32 || dt == Float64
}

// IsSigned reports whether dt is a signed integer type.
func (dt DataType) IsSigned() bool {
	return dt == Int8 || dt == Int16 || dt == Int32 || dt == Int64
}

// IsValid reports whether dt names a supported type.
func (dt DataType) IsValid() bool {
	_, ok := dataTypeNames[dt]
	return ok
}

// ParseDataType parses names such as "float32", "f32" or "int64".
func ParseDataType(s string) (DataType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	switch name {
	case "f16", "fp16", "half":
		return Float16, nil
	case "f32", "fp32", "float":
		return Float32, nil
	case "f64", "fp64", "double":
		return Float64, nil
	case "i8":
		return Int8, nil
	case "i16":
		return Int16, nil
	case "i32", "int":
		return Int32, nil
	case "i64", "long":
		return Int64, nil
	case "u8", "byte":
		return Uint8, nil
	case "u16":
		return Uint16, nil
	case "u32":
		return Uint32, nil
	case "u64":
		return Uint64, nil
	}
	for dt, n := range dataTypeNames {
		if n == name {
			return dt, nil
		}
	}
	return Invalid, errors.Errorf("unknown data type %q", s)
}

// DataTypeOf returns the runtime data type of E.
func DataTypeOf[E Numeric]() DataType {
	var zero E
	switch any(zero).(type) {
	case float32:
		return Float32
	case float64:
		return Float64
	case int8:
		return Int8
	case int16:
		return Int16
	case int32:
		return Int32
	case int64:
		return Int64
	case uint8:
		return Uint8
	case uint16:
		return Uint16
	case uint32:
		return Uint32
	case uint64:
		return Uint64
	default:
		return Invalid
	}
}

// Lowest returns the smallest finite value of E.
func Lowest[E Numeric]() E {
	var v any
	switch DataTypeOf[E]() {
	case Float32:
		v = float32(-math.MaxFloat32)
	case Float64:
		v = -math.MaxFloat64
	case Int8:
		v = int8(math.MinInt8)
	case Int16:
		v = int16(math.MinInt16)
	case Int32:
		v = int32(math.MinInt32)
	case Int64:
		v = int64(math.MinInt64)
	default:
		var zero E
		return zero
	}
	return v.(E)
}

// Highest returns the largest representable value of E.
func Highest[E Numeric]() E {
	var v any
	switch DataTypeOf[E]() {
	case Float32:
		v = float32(math.MaxFloat32)
	case Float64:
		v = math.MaxFloat64
	case Int8:
		v = int8(math.MaxInt8)
	case Int16:
		v = int16(math.MaxInt16)
	case Int32:
		v = int32(math.MaxInt32)
	case Int64:
		v = int64(math.MaxInt64)
	case Uint8:
		v = uint8(math.MaxUint8)
	case Uint16:
		v = uint16(math.MaxUint16)
	case Uint32:
		v = uint32(math.MaxUint32)
	case Uint64:
		v = uint64(math.MaxUint64)
	default:
		var zero E
		return zero
	}
	return v.(E)
}

// Bottom returns the value no element of E compares below: -Inf for floats,
// Lowest otherwise.
func Bottom[E Numeric]() E {
	switch DataTypeOf[E]() {
	case Float32:
		return any(float32(math.Inf(-1))).(E)
	case Float64:
		return any(math.Inf(-1)).(E)
	}
	return Lowest[E]()
}

// Top returns the value no element of E compares above: +Inf for floats,
// Highest otherwise.
func Top[E Numeric]() E {
	switch DataTypeOf[E]() {
	case Float32:
		return any(float32(math.Inf(1))).(E)
	case Float64:
		return any(math.Inf(1)).(E)
	}
	return Highest[E]()
}
