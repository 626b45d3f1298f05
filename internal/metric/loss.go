package metric

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-reduce/internal/device"
	"github.com/23skdu/longbow-reduce/internal/engine"
	"github.com/23skdu/longbow-reduce/internal/reduce"
	"github.com/23skdu/longbow-reduce/internal/tensor"
)

// LossOutput holds the per-sample losses of a batch, shape (batch).
type LossOutput struct {
	Loss device.Tensor
}

// Loss is the mean loss of each batch, averaged over the epoch weighted by
// batch size.
type Loss struct {
	engine *engine.Engine
	state  numericState
}

// NewLoss creates a loss metric averaging on e.
func NewLoss(e *engine.Engine) *Loss {
	return &Loss{engine: e}
}

func (l *Loss) Name() string {
	return "Loss"
}

func (l *Loss) Update(out LossOutput, meta Metadata) Entry {
	mean, n, err := l.mean(out.Loss)
	if err != nil {
		log.Warn().Err(err).Int("iteration", meta.Iteration).Msg("Skipping loss update")
		return Entry{Name: l.Name(), Formatted: "n/a"}
	}
	return l.state.update(mean, n, l.Name(), func(v float64) string {
		return fmt.Sprintf("%.3f", v)
	})
}

func (l *Loss) mean(t device.Tensor) (float64, int, error) {
	if t == nil {
		return 0, 0, errors.Wrap(reduce.ErrShapeMismatch, "no loss tensor")
	}
	if t.Shape().Rank() != 1 {
		return 0, 0, errors.Wrapf(reduce.ErrShapeMismatch, "loss must be a vector, got shape %s", t.Shape())
	}
	res, err := l.engine.Reduce(context.Background(), engine.Request{
		Op:       reduce.KindMean,
		Dim:      0,
		OutDType: tensor.Float64,
		Input:    t,
	})
	if err != nil {
		return 0, 0, err
	}
	defer l.engine.Release(res)
	return res.Output.Float64s()[0], t.Len(), nil
}

func (l *Loss) Value() float64 {
	return l.state.value()
}

func (l *Loss) Clear() {
	l.state.reset()
}
