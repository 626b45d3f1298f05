package metric

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-reduce/internal/device"
	"github.com/23skdu/longbow-reduce/internal/engine"
	"github.com/23skdu/longbow-reduce/internal/reduce"
)

// ClassificationOutput is a batch of class logits, shape (batch, classes),
// and the target class of each row.
type ClassificationOutput struct {
	Logits  device.Tensor
	Targets []int64
}

// Accuracy is the percentage of rows whose largest logit is the target
// class. Ties resolve to the lowest class index.
type Accuracy struct {
	engine *engine.Engine
	state  numericState
}

// NewAccuracy creates an accuracy metric computing predictions on e.
func NewAccuracy(e *engine.Engine) *Accuracy {
	return &Accuracy{engine: e}
}

func (a *Accuracy) Name() string {
	return "Accuracy"
}

func (a *Accuracy) Update(out ClassificationOutput, meta Metadata) Entry {
	pred, err := a.predict(out)
	if err != nil {
		log.Warn().Err(err).Int("iteration", meta.Iteration).Msg("Skipping accuracy update")
		return Entry{Name: a.Name(), Formatted: "n/a"}
	}

	correct := 0
	for i, p := range pred {
		if p == out.Targets[i] {
			correct++
		}
	}
	acc := 0.0
	if len(pred) > 0 {
		acc = 100 * float64(correct) / float64(len(pred))
	}
	return a.state.update(acc, len(pred), a.Name(), formatPercent)
}

// predict returns the predicted class of every row of out.Logits.
func (a *Accuracy) predict(out ClassificationOutput) ([]int64, error) {
	pred, err := a.engine.ArgMax(context.Background(), out.Logits, 1)
	if err != nil {
		return nil, err
	}
	if len(pred) != len(out.Targets) {
		return nil, errors.Wrapf(reduce.ErrShapeMismatch, "%d predictions for %d targets", len(pred), len(out.Targets))
	}
	return pred, nil
}

func (a *Accuracy) Value() float64 {
	return a.state.value()
}

func (a *Accuracy) Clear() {
	a.state.reset()
}

func formatPercent(v float64) string {
	return fmt.Sprintf("%.2f %%", v)
}
