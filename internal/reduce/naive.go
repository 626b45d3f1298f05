package reduce

import (
	"context"

	"github.com/23skdu/longbow-reduce/internal/tensor"
)

// Naive reduces in over dim into out with one worker per output element.
// Each worker runs a sequential scan of the reduced dimension, so it reads
// exactly in.Shape[dim] elements and writes exactly one. It is the
// correctness baseline: no cooperation between workers, no intermediate
// state outside a worker's own accumulator.
func Naive[E, O tensor.Numeric, A any, P Operation[E, A]](
	ctx context.Context, op P, in tensor.View[E], out tensor.View[O], dim int, l *Launcher,
) error {
	layout, err := NewLayout(in, out, dim)
	if err != nil {
		return err
	}
	return l.Launch(ctx, layout.Positions(), naiveWorker[E, O, A](op, in.Data, out.Data, layout))
}

// Serial runs the naive per-position algorithm on the calling goroutine in
// position order. It serves as the sequential reference for the parallel
// strategies and avoids goroutine overhead for tiny outputs.
func Serial[E, O tensor.Numeric, A any, P Operation[E, A]](
	ctx context.Context, op P, in tensor.View[E], out tensor.View[O], dim int,
) error {
	layout, err := NewLayout(in, out, dim)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	worker := naiveWorker[E, O, A](op, in.Data, out.Data, layout)
	for p := 0; p < layout.Positions(); p++ {
		worker(p)
	}
	return nil
}

// naiveWorker builds the per-position kernel. The accumulator lives in the
// closure's stack frame for the duration of one call only.
func naiveWorker[E, O tensor.Numeric, A any, P Operation[E, A]](
	op P, input []E, output []O, layout Layout,
) func(p int) {
	n := uint32(layout.size)
	stride := layout.inStride
	caster := NewCaster[O]()
	return func(p int) {
		base, dst := layout.Offsets(p)
		acc := op.Init()
		for i := uint32(0); i < n; i++ {
			acc = op.Step(acc, input[base+int(i)*stride], i)
		}
		output[dst] = caster.Cast(op.Finalize(acc, n))
	}
}
