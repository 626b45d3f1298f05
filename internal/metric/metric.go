// Package metric turns reduction results into training metrics and routes
// them to renderers, one processor per training run.
package metric

import (
	"fmt"
	"strconv"
)

// Phase distinguishes training from validation events.
type Phase int

const (
	PhaseTrain Phase = iota
	PhaseValid
)

func (p Phase) String() string {
	if p == PhaseValid {
		return "valid"
	}
	return "train"
}

// Progress counts items processed within an epoch.
type Progress struct {
	ItemsProcessed int
	ItemsTotal     int
}

// Metadata describes where in training an item was produced.
type Metadata struct {
	Progress   Progress
	Epoch      int
	EpochTotal int
	Iteration  int
	LR         float64
}

// Item is one processed batch as reported by a training loop.
type Item[T any] struct {
	Value      T
	Progress   Progress
	Epoch      int
	EpochTotal int
	Iteration  int
	LR         float64
}

// Metadata returns the item's position in training.
func (i Item[T]) Metadata() Metadata {
	return Metadata{
		Progress:   i.Progress,
		Epoch:      i.Epoch,
		EpochTotal: i.EpochTotal,
		Iteration:  i.Iteration,
		LR:         i.LR,
	}
}

// Entry is the rendered state of a metric after an update.
type Entry struct {
	Name string
	// Formatted is the human readable value.
	Formatted string
	// Serialized is the machine readable value.
	Serialized string
}

// Metric accumulates over an epoch. Update is called once per item and
// Clear at the end of every epoch.
type Metric[T any] interface {
	Name() string
	Update(item T, meta Metadata) Entry
	Clear()
}

// Numeric is implemented by metrics with a scalar value. Value reports the
// most recent batch.
type Numeric interface {
	Value() float64
}

type adapted[T, I any] struct {
	Metric[I]
	adapt func(T) I
}

func (a adapted[T, I]) Update(item T, meta Metadata) Entry {
	return a.Metric.Update(a.adapt(item), meta)
}

type adaptedNumeric[T, I any] struct {
	adapted[T, I]
	Numeric
}

// Adapt lets a metric over I consume items of type T. The result is Numeric
// if m is.
func Adapt[T, I any](m Metric[I], fn func(T) I) Metric[T] {
	a := adapted[T, I]{Metric: m, adapt: fn}
	if n, ok := m.(Numeric); ok {
		return adaptedNumeric[T, I]{adapted: a, Numeric: n}
	}
	return a
}

// numericState keeps the latest batch value and a batch-size weighted
// running mean over the epoch.
type numericState struct {
	sum     float64
	count   int
	current float64
}

func (s *numericState) update(value float64, batchSize int, name string, format func(float64) string) Entry {
	s.sum += value * float64(batchSize)
	s.count += batchSize
	s.current = value
	return Entry{
		Name:       name,
		Formatted:  fmt.Sprintf("epoch %s - batch %s", format(s.epoch()), format(value)),
		Serialized: strconv.FormatFloat(value, 'g', -1, 64),
	}
}

func (s *numericState) value() float64 {
	return s.current
}

func (s *numericState) epoch() float64 {
	if s.count == 0 {
		return 0
	}
	return s.sum / float64(s.count)
}

func (s *numericState) reset() {
	*s = numericState{}
}
