package device

import (
	"context"

	"github.com/pkg/errors"
	"github.com/x448/float16"

	"github.com/23skdu/longbow-reduce/internal/reduce"
	"github.com/23skdu/longbow-reduce/internal/simd"
	"github.com/23skdu/longbow-reduce/internal/tensor"
)

// dispatch selects the generic kernel for the runtime input and output
// types. Float16 inputs are widened to float32 and float16 outputs are
// computed in float32 and narrowed.
func dispatch(ctx context.Context, op ReduceOp, l *reduce.Launcher, in, out *CPUTensor) error {
	switch d := in.data.(type) {
	case []float16.Float16:
		wide := make([]float32, len(d))
		simd.WidenFloat16(wide, d)
		return dispatchOut(ctx, op, l, viewOf(in, wide), out)
	case []float32:
		return dispatchOut(ctx, op, l, viewOf(in, d), out)
	case []float64:
		return dispatchOut(ctx, op, l, viewOf(in, d), out)
	case []int8:
		return dispatchOut(ctx, op, l, viewOf(in, d), out)
	case []int16:
		return dispatchOut(ctx, op, l, viewOf(in, d), out)
	case []int32:
		return dispatchOut(ctx, op, l, viewOf(in, d), out)
	case []int64:
		return dispatchOut(ctx, op, l, viewOf(in, d), out)
	case []uint8:
		return dispatchOut(ctx, op, l, viewOf(in, d), out)
	case []uint16:
		return dispatchOut(ctx, op, l, viewOf(in, d), out)
	case []uint32:
		return dispatchOut(ctx, op, l, viewOf(in, d), out)
	case []uint64:
		return dispatchOut(ctx, op, l, viewOf(in, d), out)
	}
	return errors.Wrapf(reduce.ErrUnsupportedDType, "input %T", in.data)
}

func dispatchOut[E tensor.Numeric](ctx context.Context, op ReduceOp, l *reduce.Launcher, in tensor.View[E], out *CPUTensor) error {
	switch d := out.data.(type) {
	case []float16.Float16:
		wide := make([]float32, len(d))
		if err := run(ctx, op, l, in, viewOf(out, wide)); err != nil {
			return err
		}
		simd.NarrowFloat16(d, wide)
		return nil
	case []float32:
		return run(ctx, op, l, in, viewOf(out, d))
	case []float64:
		return run(ctx, op, l, in, viewOf(out, d))
	case []int8:
		return run(ctx, op, l, in, viewOf(out, d))
	case []int16:
		return run(ctx, op, l, in, viewOf(out, d))
	case []int32:
		return run(ctx, op, l, in, viewOf(out, d))
	case []int64:
		return run(ctx, op, l, in, viewOf(out, d))
	case []uint8:
		return run(ctx, op, l, in, viewOf(out, d))
	case []uint16:
		return run(ctx, op, l, in, viewOf(out, d))
	case []uint32:
		return run(ctx, op, l, in, viewOf(out, d))
	case []uint64:
		return run(ctx, op, l, in, viewOf(out, d))
	}
	return errors.Wrapf(reduce.ErrUnsupportedDType, "output %T", out.data)
}

func run[E, O tensor.Numeric](ctx context.Context, op ReduceOp, l *reduce.Launcher, in tensor.View[E], out tensor.View[O]) error {
	kernel, err := reduce.Bind[E, O](op.Kind, op.Strategy, l)
	if err != nil {
		return err
	}
	return kernel(ctx, in, out, op.Dim)
}
