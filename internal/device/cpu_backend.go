package device

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/x448/float16"

	"github.com/23skdu/longbow-reduce/internal/reduce"
	"github.com/23skdu/longbow-reduce/internal/tensor"
)

// ensure interface compliance
var _ Backend = (*CPUBackend)(nil)
var _ Tensor = (*CPUTensor)(nil)

// CPUBackend runs reductions on goroutines. Tensors are pooled per data type.
type CPUBackend struct {
	launcher *reduce.Launcher
	pools    map[tensor.DataType]*sync.Pool
}

// NewCPUBackend returns a backend running at most workers goroutines per
// reduction. Zero or negative uses one goroutine per CPU.
func NewCPUBackend(workers int) *CPUBackend {
	b := &CPUBackend{
		launcher: reduce.NewLauncher(workers),
		pools:    make(map[tensor.DataType]*sync.Pool),
	}
	for _, dt := range tensor.DataTypes() {
		b.pools[dt] = &sync.Pool{}
	}
	return b
}

func (b *CPUBackend) Name() string {
	return "CPU"
}

// Launcher returns the launcher used for parallel strategies.
func (b *CPUBackend) Launcher() *reduce.Launcher {
	return b.launcher
}

func (b *CPUBackend) NewTensor(dtype tensor.DataType, shape tensor.Shape, data any) (Tensor, error) {
	if !dtype.IsValid() {
		return nil, errors.Wrapf(reduce.ErrUnsupportedDType, "%s", dtype)
	}
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	n := shape.NumElements()
	t := &CPUTensor{
		backend: b,
		dtype:   dtype,
		shape:   shape.Clone(),
		strides: shape.Strides(),
	}
	if data == nil {
		t.data = makeBuffer(dtype, n)
		return t, nil
	}
	buf, err := copyBuffer(dtype, data, n)
	if err != nil {
		return nil, errors.Wrap(err, "NewTensor")
	}
	t.data = buf
	return t, nil
}

func (b *CPUBackend) GetTensor(dtype tensor.DataType, shape tensor.Shape) Tensor {
	n := shape.NumElements()
	ct := &CPUTensor{}
	if pool, ok := b.pools[dtype]; ok {
		if v, ok := pool.Get().(*CPUTensor); ok && v != nil {
			ct = v
		}
	}

	if data, ok := reuse(ct.data, n); ok {
		poolHits.WithLabelValues(dtype.String()).Inc()
		ct.data = data
	} else {
		poolMisses.WithLabelValues(dtype.String()).Inc()
		ct.data = makeBuffer(dtype, n)
	}
	ct.backend = b
	ct.dtype = dtype
	ct.shape = shape.Clone()
	ct.strides = shape.Strides()
	ct.offset = 0
	return ct
}

func (b *CPUBackend) PutTensor(t Tensor) {
	ct, ok := t.(*CPUTensor)
	if !ok || ct.backend != b || ct.view {
		return // Don't pool foreign tensors or views sharing a buffer
	}
	pool, ok := b.pools[ct.dtype]
	if !ok {
		return
	}
	ct.shape = nil
	ct.strides = nil
	// Data is zeroed when retrieved by GetTensor
	pool.Put(ct)
}

func (b *CPUBackend) Synchronize() {
	// CPU is always synchronous
}

// Reduce dispatches op over in. The output is taken from the pool; callers
// return it with PutTensor when done.
func (b *CPUBackend) Reduce(ctx context.Context, op ReduceOp, in Tensor) (Tensor, error) {
	ct, ok := in.(*CPUTensor)
	if !ok {
		return nil, errors.Errorf("CPU backend cannot reduce a %T", in)
	}
	if op.Dim < 0 || op.Dim >= len(ct.shape) {
		return nil, errors.Wrapf(reduce.ErrInvalidDimension, "dimension %d out of range for rank %d", op.Dim, len(ct.shape))
	}
	outDType := op.OutDType
	if outDType == tensor.Invalid {
		outDType = op.Kind.OutputDType(ct.dtype)
	}
	if !outDType.IsValid() {
		return nil, errors.Wrapf(reduce.ErrUnsupportedDType, "output %s", outDType)
	}

	out := b.GetTensor(outDType, ct.shape.Reduced(op.Dim)).(*CPUTensor)
	start := time.Now()
	if err := dispatch(ctx, op, b.launcher, ct, out); err != nil {
		b.PutTensor(out)
		return nil, err
	}
	reductionsTotal.WithLabelValues(op.Kind.String(), ct.dtype.String(), outDType.String()).Inc()
	reductionDuration.WithLabelValues(op.Kind.String(), op.Strategy.String()).Observe(time.Since(start).Seconds())
	positionsTotal.Add(float64(out.Len()))

	log.Debug().
		Str("op", op.Kind.String()).
		Str("in", ct.dtype.String()).
		Str("out", outDType.String()).
		Stringer("shape", ct.shape).
		Int("dim", op.Dim).
		Dur("elapsed", time.Since(start)).
		Msg("Reduced tensor")
	return out, nil
}

// CPUTensor is a strided window over a host buffer.
type CPUTensor struct {
	backend *CPUBackend
	dtype   tensor.DataType
	shape   tensor.Shape
	strides []int
	offset  int
	data    any
	view    bool // Shares data with another tensor
}

func (t *CPUTensor) DType() tensor.DataType {
	return t.dtype
}

func (t *CPUTensor) Shape() tensor.Shape {
	return t.shape.Clone()
}

func (t *CPUTensor) Strides() []int {
	return append([]int(nil), t.strides...)
}

func (t *CPUTensor) Len() int {
	return t.shape.NumElements()
}

func (t *CPUTensor) Bytes() int {
	return t.Len() * t.dtype.Size()
}

func (t *CPUTensor) contiguous() bool {
	if t.offset != 0 || bufferLen(t.data) != t.Len() {
		return false
	}
	expected := t.shape.Strides()
	for i, s := range t.strides {
		if t.shape[i] > 1 && s != expected[i] {
			return false
		}
	}
	return true
}

func (t *CPUTensor) Data() any {
	// A strided view is not contiguous in logical order
	if !t.contiguous() {
		return nil
	}
	return t.data
}

func (t *CPUTensor) Float64s() []float64 {
	switch d := t.data.(type) {
	case []float16.Float16:
		half := gather(d, t.shape, t.strides, t.offset)
		out := make([]float64, len(half))
		for i, h := range half {
			out[i] = float64(h.Float32())
		}
		return out
	case []float32:
		return toFloat64s(gather(d, t.shape, t.strides, t.offset))
	case []float64:
		return gather(d, t.shape, t.strides, t.offset)
	case []int8:
		return toFloat64s(gather(d, t.shape, t.strides, t.offset))
	case []int16:
		return toFloat64s(gather(d, t.shape, t.strides, t.offset))
	case []int32:
		return toFloat64s(gather(d, t.shape, t.strides, t.offset))
	case []int64:
		return toFloat64s(gather(d, t.shape, t.strides, t.offset))
	case []uint8:
		return toFloat64s(gather(d, t.shape, t.strides, t.offset))
	case []uint16:
		return toFloat64s(gather(d, t.shape, t.strides, t.offset))
	case []uint32:
		return toFloat64s(gather(d, t.shape, t.strides, t.offset))
	case []uint64:
		return toFloat64s(gather(d, t.shape, t.strides, t.offset))
	}
	return nil
}

func (t *CPUTensor) Contiguous() Tensor {
	if t.contiguous() {
		return t
	}
	var data any
	switch d := t.data.(type) {
	case []float16.Float16:
		data = gather(d, t.shape, t.strides, t.offset)
	case []float32:
		data = gather(d, t.shape, t.strides, t.offset)
	case []float64:
		data = gather(d, t.shape, t.strides, t.offset)
	case []int8:
		data = gather(d, t.shape, t.strides, t.offset)
	case []int16:
		data = gather(d, t.shape, t.strides, t.offset)
	case []int32:
		data = gather(d, t.shape, t.strides, t.offset)
	case []int64:
		data = gather(d, t.shape, t.strides, t.offset)
	case []uint8:
		data = gather(d, t.shape, t.strides, t.offset)
	case []uint16:
		data = gather(d, t.shape, t.strides, t.offset)
	case []uint32:
		data = gather(d, t.shape, t.strides, t.offset)
	case []uint64:
		data = gather(d, t.shape, t.strides, t.offset)
	}
	return &CPUTensor{
		backend: t.backend,
		dtype:   t.dtype,
		shape:   t.shape.Clone(),
		strides: t.shape.Strides(),
		data:    data,
	}
}

func (t *CPUTensor) Transpose(a, b int) Tensor {
	shape := t.shape.Clone()
	strides := t.Strides()
	shape[a], shape[b] = shape[b], shape[a]
	strides[a], strides[b] = strides[b], strides[a]
	return &CPUTensor{
		backend: t.backend,
		dtype:   t.dtype,
		shape:   shape,
		strides: strides,
		offset:  t.offset,
		data:    t.data,
		view:    true,
	}
}

// viewOf exposes a tensor's buffer as a typed view.
func viewOf[E tensor.Numeric](t *CPUTensor, data []E) tensor.View[E] {
	return tensor.View[E]{Data: data, Shape: t.shape, Strides: t.strides, Offset: t.offset}
}
