package reduce

import "github.com/23skdu/longbow-reduce/internal/tensor"

// Sum adds all elements. The running total has the input element type, so
// integer sums wrap on overflow like the input arithmetic does.
type Sum[E tensor.Numeric] struct{}

func (Sum[E]) Init() E { return 0 }

func (Sum[E]) Step(acc E, value E, _ uint32) E { return acc + value }

func (Sum[E]) Finalize(acc E, _ uint32) Value { return ValueOf(acc) }

// Mean is Sum divided by the size of the reduced dimension. The division
// is left to the output cast, so float outputs keep the fraction and integer
// outputs truncate toward zero. An empty dimension yields the zero total.
type Mean[E tensor.Numeric] struct{}

func (Mean[E]) Init() E { return 0 }

func (Mean[E]) Step(acc E, value E, _ uint32) E { return acc + value }

func (Mean[E]) Finalize(acc E, n uint32) Value { return ValueOf(acc).Over(n) }

// Product multiplies all elements.
type Product[E tensor.Numeric] struct{}

func (Product[E]) Init() E { return 1 }

func (Product[E]) Step(acc E, value E, _ uint32) E { return acc * value }

func (Product[E]) Finalize(acc E, _ uint32) Value { return ValueOf(acc) }
