package reduce

import (
	"math"

	"github.com/pkg/errors"

	"github.com/23skdu/longbow-reduce/internal/tensor"
)

// Layout maps worker positions to buffer offsets for one reduction. A
// position is the row-major linear index of an output element over the
// output shape; the reduced dimension has size 1 there, so its coordinate is
// always 0.
type Layout struct {
	dim        int
	size       int
	inStride   int
	outShape   tensor.Shape
	inStrides  []int
	outStrides []int
	inOffset   int
	outOffset  int
	positions  int
}

// NewLayout validates the input and output views of a reduction over dim.
// The output must have the input's shape with dim collapsed to 1.
func NewLayout[E, O tensor.Numeric](in tensor.View[E], out tensor.View[O], dim int) (Layout, error) {
	rank := in.Rank()
	if rank == 0 {
		return Layout{}, errors.Wrap(ErrInvalidDimension, "cannot reduce a scalar")
	}
	if dim < 0 || dim >= rank {
		return Layout{}, errors.Wrapf(ErrInvalidDimension, "dimension %d out of range for rank %d", dim, rank)
	}
	if err := in.Shape.Validate(); err != nil {
		return Layout{}, errors.Wrap(ErrShapeMismatch, err.Error())
	}
	if want := in.Shape.Reduced(dim); !out.Shape.Equal(want) {
		return Layout{}, errors.Wrapf(ErrShapeMismatch, "output shape %s, want %s", out.Shape, want)
	}
	if len(in.Strides) != rank || len(out.Strides) != rank {
		return Layout{}, errors.Wrapf(ErrShapeMismatch, "strides rank mismatch (in %d, out %d, shape %d)",
			len(in.Strides), len(out.Strides), rank)
	}
	if uint64(in.Shape[dim]) > math.MaxUint32 {
		return Layout{}, errors.Wrapf(ErrInvalidDimension, "dimension %d has %d elements, more than an index can address",
			dim, in.Shape[dim])
	}
	if err := checkBounds("input", in.Shape, in.Strides, in.Offset, len(in.Data)); err != nil {
		return Layout{}, err
	}
	if err := checkBounds("output", out.Shape, out.Strides, out.Offset, len(out.Data)); err != nil {
		return Layout{}, err
	}
	// One writer per output element: a broadcast output stride would let
	// several workers write the same element.
	for d, s := range out.Strides {
		if s == 0 && out.Shape[d] > 1 {
			return Layout{}, errors.Wrapf(ErrShapeMismatch, "output dimension %d has stride 0", d)
		}
	}

	return Layout{
		dim:        dim,
		size:       in.Shape[dim],
		inStride:   in.Strides[dim],
		outShape:   out.Shape.Clone(),
		inStrides:  append([]int(nil), in.Strides...),
		outStrides: append([]int(nil), out.Strides...),
		inOffset:   in.Offset,
		outOffset:  out.Offset,
		positions:  out.Shape.NumElements(),
	}, nil
}

// checkBounds verifies that every addressable element lies inside the
// buffer and that strides are non-negative.
func checkBounds(name string, shape tensor.Shape, strides []int, offset, length int) error {
	if offset < 0 {
		return errors.Wrapf(ErrShapeMismatch, "%s offset %d is negative", name, offset)
	}
	if shape.NumElements() == 0 {
		return nil
	}
	last := offset
	for d, s := range strides {
		if s < 0 {
			return errors.Wrapf(ErrShapeMismatch, "%s stride %d is negative", name, s)
		}
		last += (shape[d] - 1) * s
	}
	if last >= length {
		return errors.Wrapf(ErrShapeMismatch, "%s view addresses element %d of a %d element buffer", name, last, length)
	}
	return nil
}

// Positions returns the number of workers, one per output element.
func (l Layout) Positions() int {
	return l.positions
}

// Size returns the length of the reduced dimension.
func (l Layout) Size() int {
	return l.size
}

// Dim returns the reduced dimension.
func (l Layout) Dim() int {
	return l.dim
}

// Offsets returns the input offset of element 0 along the reduced dimension
// and the output offset for worker position p.
func (l Layout) Offsets(p int) (in, out int) {
	in, out = l.inOffset, l.outOffset
	for d := len(l.outShape) - 1; d >= 0; d-- {
		size := l.outShape[d]
		c := p % size
		p /= size
		in += c * l.inStrides[d]
		out += c * l.outStrides[d]
	}
	return in, out
}
