// Package reduce implements dimension reductions over dense tensors.
//
// A reduction is split along two independent axes. An Operation (Sum, Mean,
// ArgMax, ...) defines an accumulator type and three pure functions: Init,
// Step and Finalize. A Strategy (Naive, Serial) defines how output positions
// are scheduled and how the reduced dimension is scanned. Strategies only
// talk to operations through the Operation interface, so adding a new
// operation never touches strategy code and vice versa.
//
// Every output position is owned by exactly one worker. A worker creates a
// fresh accumulator, scans the reduced dimension in increasing index order,
// finalizes, casts to the output element type and writes one element. No
// state is shared between workers.
package reduce

import "github.com/23skdu/longbow-reduce/internal/tensor"

// Operation is the accumulator contract of one reduction kind, bound to the
// input element type E and the accumulator type A. Implementations must be
// pure: no allocation, no shared state, no communication between workers.
type Operation[E tensor.Numeric, A any] interface {
	// Init returns a fresh accumulator.
	Init() A
	// Step folds the element at index i of the reduced dimension into acc.
	Step(acc A, value E, i uint32) A
	// Finalize turns the accumulator into the logical result of a reduction
	// over n elements.
	Finalize(acc A, n uint32) Value
}

// ValueKind tags the payload of a Value.
type ValueKind uint8

const (
	FloatValue ValueKind = iota
	SignedValue
	UnsignedValue
)

// Value is the finalized result of one reduction before it is cast to the
// output element type. The payload is wide enough to hold any input element
// or index exactly. A non-zero N marks a pending quotient payload / N whose
// division happens in the output domain: real division for float outputs,
// truncating division for integer outputs.
type Value struct {
	Kind ValueKind
	F    float64
	I    int64
	U    uint64
	N    uint32
}

// Float returns a floating point Value.
func Float(f float64) Value { return Value{Kind: FloatValue, F: f} }

// Signed returns a signed integer Value.
func Signed(i int64) Value { return Value{Kind: SignedValue, I: i} }

// Unsigned returns an unsigned integer Value.
func Unsigned(u uint64) Value { return Value{Kind: UnsignedValue, U: u} }

// ValueOf wraps an element of E without loss.
func ValueOf[E tensor.Numeric](v E) Value {
	switch x := any(v).(type) {
	case float32:
		return Float(float64(x))
	case float64:
		return Float(x)
	case int8:
		return Signed(int64(x))
	case int16:
		return Signed(int64(x))
	case int32:
		return Signed(int64(x))
	case int64:
		return Signed(x)
	case uint8:
		return Unsigned(uint64(x))
	case uint16:
		return Unsigned(uint64(x))
	case uint32:
		return Unsigned(uint64(x))
	default:
		return Unsigned(uint64(v))
	}
}

// Over returns the pending quotient v / n. Dividing by zero leaves v as is.
func (v Value) Over(n uint32) Value {
	v.N = n
	return v
}

// Float64 returns the value as a float64, rounding large integers. A
// pending quotient is divided in float64.
func (v Value) Float64() float64 {
	var f float64
	switch v.Kind {
	case SignedValue:
		f = float64(v.I)
	case UnsignedValue:
		f = float64(v.U)
	default:
		f = v.F
	}
	if v.N > 0 {
		f /= float64(v.N)
	}
	return f
}

// Truncated resolves a pending quotient in the payload's own arithmetic.
func (v Value) Truncated() Value {
	if v.N == 0 {
		return v
	}
	n := v.N
	v.N = 0
	return v.Div(n)
}

// Div divides the value by n in its own arithmetic: integer values
// truncate. Division by zero leaves the value unchanged.
func (v Value) Div(n uint32) Value {
	if n == 0 {
		return v
	}
	switch v.Kind {
	case SignedValue:
		return Signed(v.I / int64(n))
	case UnsignedValue:
		return Unsigned(v.U / uint64(n))
	default:
		return Float(v.F / float64(n))
	}
}
