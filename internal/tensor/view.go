package tensor

import "github.com/pkg/errors"

// View is a typed window over a flat buffer. Strides and Offset are in
// elements. A View never owns its buffer; the caller keeps it alive for the
// duration of any operation using it.
type View[E Numeric] struct {
	Data    []E
	Shape   Shape
	Strides []int
	Offset  int
}

// NewView wraps a contiguous row-major buffer.
func NewView[E Numeric](data []E, shape Shape) (View[E], error) {
	if err := shape.Validate(); err != nil {
		return View[E]{}, err
	}
	if len(data) != shape.NumElements() {
		return View[E]{}, errors.Errorf("buffer has %d elements, shape %s needs %d", len(data), shape, shape.NumElements())
	}
	return View[E]{
		Data:    data,
		Shape:   shape.Clone(),
		Strides: shape.Strides(),
	}, nil
}

// Zeros allocates a contiguous view of the given shape.
func Zeros[E Numeric](shape Shape) View[E] {
	return View[E]{
		Data:    make([]E, shape.NumElements()),
		Shape:   shape.Clone(),
		Strides: shape.Strides(),
	}
}

// Rank returns the number of dimensions of the view.
func (v View[E]) Rank() int {
	return len(v.Shape)
}

// IsContiguous reports whether the view is a dense row-major window.
func (v View[E]) IsContiguous() bool {
	expected := v.Shape.Strides()
	for i, s := range v.Strides {
		if v.Shape[i] > 1 && s != expected[i] {
			return false
		}
	}
	return true
}

// Index returns the flat buffer index of the element at coords.
func (v View[E]) Index(coords ...int) int {
	idx := v.Offset
	for d, c := range coords {
		idx += c * v.Strides[d]
	}
	return idx
}

// At returns the element at coords.
func (v View[E]) At(coords ...int) E {
	return v.Data[v.Index(coords...)]
}

// Transpose returns a view with dimensions a and b swapped, sharing data.
func (v View[E]) Transpose(a, b int) View[E] {
	shape := v.Shape.Clone()
	strides := make([]int, len(v.Strides))
	copy(strides, v.Strides)
	shape[a], shape[b] = shape[b], shape[a]
	strides[a], strides[b] = strides[b], strides[a]
	return View[E]{Data: v.Data, Shape: shape, Strides: strides, Offset: v.Offset}
}

// Contiguous returns the elements of the view in row-major order. A view
// that is already contiguous returns its own backing slice.
func (v View[E]) Contiguous() []E {
	n := v.Shape.NumElements()
	if v.IsContiguous() && v.Offset == 0 && len(v.Data) == n {
		return v.Data
	}
	out := make([]E, n)
	coords := make([]int, len(v.Shape))
	for i := 0; i < n; i++ {
		out[i] = v.Data[v.Index(coords...)]
		for d := len(coords) - 1; d >= 0; d-- {
			coords[d]++
			if coords[d] < v.Shape[d] {
				break
			}
			coords[d] = 0
		}
	}
	return out
}
