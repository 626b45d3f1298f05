package metric

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/schollz/progressbar/v3"
)

// PrometheusRenderer exports numeric metric values as gauges.
type PrometheusRenderer struct {
	values   *prometheus.GaugeVec
	progress *prometheus.GaugeVec
	epochs   *prometheus.CounterVec
}

// NewPrometheusRenderer registers the renderer's collectors with reg.
func NewPrometheusRenderer(reg prometheus.Registerer) *PrometheusRenderer {
	factory := promauto.With(reg)
	return &PrometheusRenderer{
		values: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "longbow_reduce_training_metric",
			Help: "Latest batch value of each numeric training metric",
		}, []string{"phase", "metric"}),
		progress: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "longbow_reduce_training_progress_ratio",
			Help: "Fraction of the current epoch processed",
		}, []string{"phase"}),
		epochs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "longbow_reduce_training_epochs_total",
			Help: "Completed epochs",
		}, []string{"phase"}),
	}
}

func (r *PrometheusRenderer) Update(phase Phase, st State) {
	if st.Numeric {
		r.values.WithLabelValues(phase.String(), st.Entry.Name).Set(st.Value)
	}
}

func (r *PrometheusRenderer) Render(phase Phase, p TrainingProgress) {
	if p.Progress.ItemsTotal > 0 {
		r.progress.WithLabelValues(phase.String()).Set(float64(p.Progress.ItemsProcessed) / float64(p.Progress.ItemsTotal))
	}
}

func (r *PrometheusRenderer) EndEpoch(phase Phase, _ int) {
	r.epochs.WithLabelValues(phase.String()).Inc()
}

// ProgressRenderer draws one progress bar per phase, described with the
// latest metric entries.
type ProgressRenderer struct {
	mu      sync.Mutex
	w       io.Writer
	bars    map[Phase]*progressbar.ProgressBar
	entries map[Phase][]Entry
}

// NewProgressRenderer draws to w.
func NewProgressRenderer(w io.Writer) *ProgressRenderer {
	return &ProgressRenderer{
		w:       w,
		bars:    make(map[Phase]*progressbar.ProgressBar),
		entries: make(map[Phase][]Entry),
	}
}

func (r *ProgressRenderer) Update(phase Phase, st State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.entries[phase]
	for i, e := range entries {
		if e.Name == st.Entry.Name {
			entries[i] = st.Entry
			return
		}
	}
	r.entries[phase] = append(entries, st.Entry)
}

func (r *ProgressRenderer) Render(phase Phase, p TrainingProgress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bar, ok := r.bars[phase]
	if !ok {
		bar = progressbar.NewOptions(p.Progress.ItemsTotal,
			progressbar.OptionSetWriter(r.w),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("items"),
			progressbar.OptionSetTheme(progressbar.ThemeUnicode),
		)
		r.bars[phase] = bar
	}
	bar.Describe(r.describe(phase, p))
	_ = bar.Set(p.Progress.ItemsProcessed)
}

func (r *ProgressRenderer) describe(phase Phase, p TrainingProgress) string {
	parts := []string{fmt.Sprintf("[%s %d/%d]", phase, p.Epoch, p.EpochTotal)}
	for _, e := range r.entries[phase] {
		parts = append(parts, fmt.Sprintf("%s: %s", e.Name, e.Formatted))
	}
	return strings.Join(parts, " | ")
}

func (r *ProgressRenderer) EndEpoch(phase Phase, epoch int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if bar, ok := r.bars[phase]; ok {
		_ = bar.Finish()
		fmt.Fprintln(r.w)
		delete(r.bars, phase)
	}
	delete(r.entries, phase)
}

// Entries returns the latest entries of phase in registration order.
func (r *ProgressRenderer) Entries(phase Phase) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries[phase]...)
}
