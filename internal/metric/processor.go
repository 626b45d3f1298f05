package metric

import "sync"

// EventKind identifies what a training loop reported.
type EventKind int

const (
	// EventItem carries a processed batch.
	EventItem EventKind = iota
	// EventEndEpoch closes an epoch.
	EventEndEpoch
)

// Event is a processed item or the end of an epoch.
type Event[T any] struct {
	Kind  EventKind
	Item  Item[T]
	Epoch int
}

// ItemEvent reports a processed item.
func ItemEvent[T any](item Item[T]) Event[T] {
	return Event[T]{Kind: EventItem, Item: item}
}

// EndEpochEvent reports the end of epoch (zero-based).
func EndEpochEvent[T any](epoch int) Event[T] {
	return Event[T]{Kind: EventEndEpoch, Epoch: epoch}
}

// State is a metric update forwarded to a renderer.
type State struct {
	Entry Entry
	// Numeric is set when Value holds the metric's scalar value.
	Numeric bool
	Value   float64
}

// TrainingProgress is what a renderer shows after each item.
type TrainingProgress struct {
	Progress   Progress
	Epoch      int
	EpochTotal int
	Iteration  int
}

// Renderer displays metric updates.
type Renderer interface {
	Update(phase Phase, state State)
	Render(phase Phase, progress TrainingProgress)
	// EndEpoch is called with the one-based number of the finished epoch.
	EndEpoch(phase Phase, epoch int)
}

// Processor feeds training and validation items of types T and V to their
// registered metrics and forwards the results to a renderer. Metrics are
// cleared at the end of every epoch of their phase.
type Processor[T, V any] struct {
	mu       sync.Mutex
	train    []Metric[T]
	valid    []Metric[V]
	renderer Renderer
}

// NewProcessor creates a processor rendering to r.
func NewProcessor[T, V any](r Renderer) *Processor[T, V] {
	return &Processor[T, V]{renderer: r}
}

// RegisterTrain adds a training metric.
func (p *Processor[T, V]) RegisterTrain(m Metric[T]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.train = append(p.train, m)
}

// RegisterValid adds a validation metric.
func (p *Processor[T, V]) RegisterValid(m Metric[V]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.valid = append(p.valid, m)
}

// AddTrain processes a training event.
func (p *Processor[T, V]) AddTrain(ev Event[T]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	process(p.train, p.renderer, PhaseTrain, ev)
}

// AddValid processes a validation event.
func (p *Processor[T, V]) AddValid(ev Event[V]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	process(p.valid, p.renderer, PhaseValid, ev)
}

func process[X any](metrics []Metric[X], r Renderer, phase Phase, ev Event[X]) {
	switch ev.Kind {
	case EventItem:
		meta := ev.Item.Metadata()
		for _, m := range metrics {
			st := State{Entry: m.Update(ev.Item.Value, meta)}
			if n, ok := m.(Numeric); ok {
				st.Numeric = true
				st.Value = n.Value()
			}
			r.Update(phase, st)
		}
		r.Render(phase, TrainingProgress{
			Progress:   ev.Item.Progress,
			Epoch:      ev.Item.Epoch,
			EpochTotal: ev.Item.EpochTotal,
			Iteration:  ev.Item.Iteration,
		})
	case EventEndEpoch:
		for _, m := range metrics {
			m.Clear()
		}
		r.EndEpoch(phase, ev.Epoch+1)
	}
}
