package metric

import (
	"bytes"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-reduce/internal/device"
	"github.com/23skdu/longbow-reduce/internal/engine"
	"github.com/23skdu/longbow-reduce/internal/reduce"
	"github.com/23skdu/longbow-reduce/internal/tensor"
)

type recordingRenderer struct {
	updates map[Phase][]State
	renders map[Phase][]TrainingProgress
	epochs  map[Phase][]int
}

func newRecordingRenderer() *recordingRenderer {
	return &recordingRenderer{
		updates: make(map[Phase][]State),
		renders: make(map[Phase][]TrainingProgress),
		epochs:  make(map[Phase][]int),
	}
}

func (r *recordingRenderer) Update(phase Phase, st State) {
	r.updates[phase] = append(r.updates[phase], st)
}

func (r *recordingRenderer) Render(phase Phase, p TrainingProgress) {
	r.renders[phase] = append(r.renders[phase], p)
}

func (r *recordingRenderer) EndEpoch(phase Phase, epoch int) {
	r.epochs[phase] = append(r.epochs[phase], epoch)
}

func tensorOf[E tensor.Numeric](t *testing.T, e *engine.Engine, dtype tensor.DataType, shape tensor.Shape, data []E) device.Tensor {
	t.Helper()
	tt, err := e.Backend().NewTensor(dtype, shape, data)
	require.NoError(t, err)
	return tt
}

func TestAccuracy(t *testing.T) {
	e := engine.New(engine.DefaultConfig(), nil)
	acc := NewAccuracy(e)

	logits := tensorOf(t, e, tensor.Float32, tensor.Shape{4, 3}, []float32{
		0.1, 0.7, 0.2,
		0.9, 0.0, 0.1,
		0.3, 0.3, 0.3, // tie resolves to class 0
		0.0, 0.2, 0.8,
	})
	entry := acc.Update(ClassificationOutput{Logits: logits, Targets: []int64{1, 0, 0, 1}}, Metadata{})
	assert.Equal(t, "Accuracy", entry.Name)
	assert.Equal(t, 75.0, acc.Value())
	assert.Equal(t, "epoch 75.00 % - batch 75.00 %", entry.Formatted)

	two := tensorOf(t, e, tensor.Float32, tensor.Shape{2, 3}, []float32{
		1, 0, 0,
		1, 0, 0,
	})
	entry = acc.Update(ClassificationOutput{Logits: two, Targets: []int64{2, 2}}, Metadata{})
	assert.Equal(t, 0.0, acc.Value())
	assert.Equal(t, "epoch 50.00 % - batch 0.00 %", entry.Formatted, "epoch value is weighted by batch size")

	entry = acc.Update(ClassificationOutput{Logits: two, Targets: []int64{0}}, Metadata{})
	assert.Equal(t, "n/a", entry.Formatted)
	assert.Equal(t, 0.0, acc.Value(), "failed updates leave the state alone")

	_, err := acc.predict(ClassificationOutput{Logits: two, Targets: []int64{0}})
	assert.ErrorIs(t, err, reduce.ErrShapeMismatch)

	acc.Clear()
	assert.Equal(t, 0.0, acc.state.epoch())
}

func TestLoss(t *testing.T) {
	e := engine.New(engine.DefaultConfig(), nil)
	loss := NewLoss(e)

	entry := loss.Update(LossOutput{Loss: tensorOf(t, e, tensor.Float32, tensor.Shape{4}, []float32{1, 2, 3, 6})}, Metadata{})
	assert.Equal(t, 3.0, loss.Value())
	assert.Equal(t, "3", entry.Serialized)

	entry = loss.Update(LossOutput{Loss: tensorOf(t, e, tensor.Float32, tensor.Shape{2, 2}, []float32{1, 2, 3, 6})}, Metadata{})
	assert.Equal(t, "n/a", entry.Formatted)

	entry = loss.Update(LossOutput{Loss: tensorOf(t, e, tensor.Float32, tensor.Shape{0}, []float32{})}, Metadata{})
	assert.Equal(t, "n/a", entry.Formatted, "empty batches are rejected")

	_, _, err := loss.mean(tensorOf(t, e, tensor.Float32, tensor.Shape{2, 2}, []float32{1, 2, 3, 6}))
	assert.ErrorIs(t, err, reduce.ErrShapeMismatch)
	_, _, err = loss.mean(nil)
	assert.ErrorIs(t, err, reduce.ErrShapeMismatch)

	// Integer losses average in float64.
	loss.Clear()
	loss.Update(LossOutput{Loss: tensorOf(t, e, tensor.Int32, tensor.Shape{2}, []int32{1, 2})}, Metadata{})
	assert.Equal(t, 1.5, loss.Value())
}

func TestAdapt(t *testing.T) {
	e := engine.New(engine.DefaultConfig(), nil)
	type batch struct {
		losses []float32
	}
	m := Adapt(NewLoss(e), func(b batch) LossOutput {
		return LossOutput{Loss: tensorOf(t, e, tensor.Float32, tensor.Shape{len(b.losses)}, b.losses)}
	})
	assert.Equal(t, "Loss", m.Name())
	m.Update(batch{losses: []float32{2, 4}}, Metadata{})

	n, ok := m.(Numeric)
	require.True(t, ok, "adapting a numeric metric stays numeric")
	assert.Equal(t, 3.0, n.Value())

	plain := Adapt[int](countMetric{}, func(i int) string { return "x" })
	_, ok = plain.(Numeric)
	assert.False(t, ok)
}

type countMetric struct{}

func (countMetric) Name() string                  { return "count" }
func (countMetric) Update(string, Metadata) Entry { return Entry{Name: "count", Formatted: "1"} }
func (countMetric) Clear()                        {}

func TestProcessor(t *testing.T) {
	e := engine.New(engine.DefaultConfig(), nil)
	r := newRecordingRenderer()
	p := NewProcessor[ClassificationOutput, LossOutput](r)
	acc := NewAccuracy(e)
	loss := NewLoss(e)
	p.RegisterTrain(acc)
	p.RegisterValid(loss)

	logits := tensorOf(t, e, tensor.Float64, tensor.Shape{2, 2}, []float64{0.2, 0.8, 0.6, 0.4})
	p.AddTrain(ItemEvent(Item[ClassificationOutput]{
		Value:      ClassificationOutput{Logits: logits, Targets: []int64{1, 1}},
		Progress:   Progress{ItemsProcessed: 2, ItemsTotal: 10},
		Epoch:      1,
		EpochTotal: 3,
		Iteration:  1,
	}))
	require.Len(t, r.updates[PhaseTrain], 1)
	st := r.updates[PhaseTrain][0]
	assert.True(t, st.Numeric)
	assert.Equal(t, 50.0, st.Value)
	assert.Equal(t, "Accuracy", st.Entry.Name)
	require.Len(t, r.renders[PhaseTrain], 1)
	assert.Equal(t, TrainingProgress{Progress: Progress{2, 10}, Epoch: 1, EpochTotal: 3, Iteration: 1}, r.renders[PhaseTrain][0])

	p.AddValid(ItemEvent(Item[LossOutput]{
		Value: LossOutput{Loss: tensorOf(t, e, tensor.Float64, tensor.Shape{2}, []float64{0.5, 1.5})},
	}))
	require.Len(t, r.updates[PhaseValid], 1)
	assert.Equal(t, 1.0, r.updates[PhaseValid][0].Value)

	p.AddTrain(EndEpochEvent[ClassificationOutput](0))
	assert.Equal(t, []int{1}, r.epochs[PhaseTrain])
	assert.Equal(t, 0.0, acc.Value(), "train metrics cleared")
	assert.Equal(t, 1.0, loss.Value(), "valid metrics untouched")

	p.AddValid(EndEpochEvent[LossOutput](0))
	assert.Equal(t, []int{1}, r.epochs[PhaseValid])
	assert.Equal(t, 0.0, loss.Value())
}

func TestPrometheusRenderer(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewPrometheusRenderer(reg)

	r.Update(PhaseTrain, State{Entry: Entry{Name: "Loss"}, Numeric: true, Value: 0.25})
	r.Update(PhaseTrain, State{Entry: Entry{Name: "count"}})
	r.Render(PhaseTrain, TrainingProgress{Progress: Progress{ItemsProcessed: 1, ItemsTotal: 4}})
	r.EndEpoch(PhaseValid, 1)

	assert.Equal(t, 0.25, testutil.ToFloat64(r.values.WithLabelValues("train", "Loss")))
	assert.Equal(t, 0.25, testutil.ToFloat64(r.progress.WithLabelValues("train")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.epochs.WithLabelValues("valid")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.values), "non-numeric states are not exported")
}

func TestProgressRenderer(t *testing.T) {
	var buf bytes.Buffer
	r := NewProgressRenderer(&buf)

	r.Update(PhaseTrain, State{Entry: Entry{Name: "Loss", Formatted: "0.500"}})
	r.Update(PhaseTrain, State{Entry: Entry{Name: "Accuracy", Formatted: "10.00 %"}})
	r.Update(PhaseTrain, State{Entry: Entry{Name: "Loss", Formatted: "0.400"}})
	assert.Equal(t, []Entry{
		{Name: "Loss", Formatted: "0.400"},
		{Name: "Accuracy", Formatted: "10.00 %"},
	}, r.Entries(PhaseTrain))

	r.Render(PhaseTrain, TrainingProgress{Progress: Progress{ItemsProcessed: 5, ItemsTotal: 10}, Epoch: 1, EpochTotal: 2})
	assert.Contains(t, buf.String(), "Loss: 0.400")

	r.EndEpoch(PhaseTrain, 1)
	assert.Empty(t, r.Entries(PhaseTrain))
}
