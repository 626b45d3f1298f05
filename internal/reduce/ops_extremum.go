package reduce

import "github.com/23skdu/longbow-reduce/internal/tensor"

// Max keeps the largest element. The seed is -Inf for floats and the lowest
// value of E otherwise, so an empty dimension yields that sentinel. NaN never
// compares greater and is therefore skipped.
type Max[E tensor.Numeric] struct{}

func (Max[E]) Init() E { return tensor.Bottom[E]() }

func (Max[E]) Step(acc E, value E, _ uint32) E {
	if value > acc {
		return value
	}
	return acc
}

func (Max[E]) Finalize(acc E, _ uint32) Value { return ValueOf(acc) }

// Min keeps the smallest element, seeded with +Inf or the highest value of E.
type Min[E tensor.Numeric] struct{}

func (Min[E]) Init() E { return tensor.Top[E]() }

func (Min[E]) Step(acc E, value E, _ uint32) E {
	if value < acc {
		return value
	}
	return acc
}

func (Min[E]) Finalize(acc E, _ uint32) Value { return ValueOf(acc) }

// ArgAccumulator is the running extremum and the index it was seen at.
type ArgAccumulator[E tensor.Numeric] struct {
	Value E
	Index uint32
}

// ArgMax reports the index of the largest element. Replacement only happens
// on a strictly greater value, so ties keep the lowest index. This depends
// on the scan visiting indices in increasing order.
type ArgMax[E tensor.Numeric] struct{}

func (ArgMax[E]) Init() ArgAccumulator[E] {
	return ArgAccumulator[E]{Value: tensor.Bottom[E](), Index: 0}
}

func (ArgMax[E]) Step(acc ArgAccumulator[E], value E, i uint32) ArgAccumulator[E] {
	if value > acc.Value {
		acc.Value = value
		acc.Index = i
	}
	return acc
}

func (ArgMax[E]) Finalize(acc ArgAccumulator[E], _ uint32) Value {
	return Unsigned(uint64(acc.Index))
}

// ArgMin reports the index of the smallest element, ties keep the lowest
// index.
type ArgMin[E tensor.Numeric] struct{}

func (ArgMin[E]) Init() ArgAccumulator[E] {
	return ArgAccumulator[E]{Value: tensor.Top[E](), Index: 0}
}

func (ArgMin[E]) Step(acc ArgAccumulator[E], value E, i uint32) ArgAccumulator[E] {
	if value < acc.Value {
		acc.Value = value
		acc.Index = i
	}
	return acc
}

func (ArgMin[E]) Finalize(acc ArgAccumulator[E], _ uint32) Value {
	return Unsigned(uint64(acc.Index))
}
