package device

import (
	"context"

	"github.com/23skdu/longbow-reduce/internal/reduce"
	"github.com/23skdu/longbow-reduce/internal/tensor"
)

// Tensor represents a dense multi-dimensional array resident on a device.
type Tensor interface {
	// DType returns the element type.
	DType() tensor.DataType

	// Shape returns the logical dimensions.
	Shape() tensor.Shape

	// Strides returns the element strides of each dimension.
	Strides() []int

	// Len returns the number of logical elements.
	Len() int

	// Bytes returns the size of the logical elements in bytes.
	Bytes() int

	// Data returns the typed backing slice ([]float32, []int64, ...) if the
	// tensor is a dense row-major window, nil otherwise. Float16 tensors
	// return []float16.Float16.
	Data() any

	// Float64s copies the elements in row-major order, widened to float64.
	// This is slow and meant for verification and debugging.
	Float64s() []float64

	// Transpose returns a view with dimensions a and b swapped.
	Transpose(a, b int) Tensor

	// Contiguous returns the tensor itself if it is dense, otherwise a dense
	// row-major copy.
	Contiguous() Tensor
}

// ReduceOp describes one reduction dispatch.
type ReduceOp struct {
	Kind     reduce.Kind
	Strategy reduce.Strategy
	Dim      int
	// OutDType is the output element type. tensor.Invalid selects the
	// kind's default for the input type.
	OutDType tensor.DataType
}

// Backend creates tensors, manages device memory and runs reductions.
type Backend interface {
	Name() string

	// NewTensor copies data into a new tensor. data must be a slice of the
	// Go type backing dtype, or nil for zeros.
	NewTensor(dtype tensor.DataType, shape tensor.Shape, data any) (Tensor, error)

	// GetTensor gets a zeroed tensor from the pool or creates a new one.
	GetTensor(dtype tensor.DataType, shape tensor.Shape) Tensor

	// PutTensor returns a tensor to the pool.
	PutTensor(t Tensor)

	// Synchronize blocks until all queued operations are complete.
	Synchronize()

	// Reduce reduces in over op.Dim and returns a new tensor of shape
	// in.Shape().Reduced(op.Dim).
	Reduce(ctx context.Context, op ReduceOp, in Tensor) (Tensor, error)
}
