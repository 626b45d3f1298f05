// Package engine validates reduction requests and runs them on a device
// backend with admission control, result caching and optional verification
// against a float64 reference.
package engine

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"

	"github.com/23skdu/longbow-reduce/internal/cache"
	"github.com/23skdu/longbow-reduce/internal/device"
	"github.com/23skdu/longbow-reduce/internal/reduce"
	"github.com/23skdu/longbow-reduce/internal/tensor"
	"github.com/23skdu/longbow-reduce/internal/verify"
)

// ErrTooLarge is returned for requests whose input and output together
// exceed the admission budget.
var ErrTooLarge = errors.New("request exceeds admission budget")

// Config controls an Engine.
type Config struct {
	// Workers bounds goroutines per reduction. Zero uses one per CPU.
	Workers int
	// Strategy selects the scheduling algorithm.
	Strategy reduce.Strategy
	// MaxBytes bounds the input and output bytes of in-flight requests.
	// Zero disables admission control.
	MaxBytes int64
	// CacheSize is the number of cached results. Zero disables the cache.
	CacheSize int
	// Verify recomputes every result with the float64 reference.
	Verify bool
	// Tolerance is the absolute and relative tolerance for verification.
	Tolerance float64
}

// DefaultConfig returns a config with one worker per CPU, the naive
// strategy, a 512MiB admission budget and no cache.
func DefaultConfig() Config {
	return Config{
		Strategy:  reduce.StrategyNaive,
		MaxBytes:  512 << 20,
		Tolerance: 1e-4,
	}
}

// Request is one reduction.
type Request struct {
	Op  reduce.Kind
	Dim int
	// OutDType is the output element type. tensor.Invalid selects the
	// operation's default.
	OutDType tensor.DataType
	Input    device.Tensor
}

// Result is the output of a reduction. Release it when done.
type Result struct {
	Output   device.Tensor
	Cached   bool
	Verified bool
	Elapsed  time.Duration
}

// Engine runs reductions.
type Engine struct {
	cfg     Config
	backend device.Backend
	sem     *semaphore.Weighted
	cache   cache.ResultCache
}

var tracer = otel.Tracer("longbow-reduce/engine")

// New creates an engine on backend. A nil backend uses a CPU backend with
// cfg.Workers goroutines.
func New(cfg Config, backend device.Backend) *Engine {
	if backend == nil {
		backend = device.NewCPUBackend(cfg.Workers)
	}
	e := &Engine{cfg: cfg, backend: backend}
	if cfg.MaxBytes > 0 {
		e.sem = semaphore.NewWeighted(cfg.MaxBytes)
	}
	if cfg.CacheSize > 0 {
		e.cache = cache.NewMapCache(cfg.CacheSize)
	}
	return e
}

// Backend returns the device backend the engine dispatches to.
func (e *Engine) Backend() device.Backend {
	return e.backend
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// outDType resolves the output element type of req.
func outDType(req Request) tensor.DataType {
	if req.OutDType != tensor.Invalid {
		return req.OutDType
	}
	return req.Op.OutputDType(req.Input.DType())
}

// weight is the number of bytes a request holds while in flight.
func weight(req Request) int64 {
	out := req.Input.Shape().Reduced(req.Dim).NumElements() * outDType(req).Size()
	return int64(req.Input.Bytes() + out)
}

// Validate checks a request before dispatch. All structural errors are
// reported here; a valid request cannot fail inside the kernel.
func (e *Engine) Validate(req Request) error {
	if req.Input == nil {
		return errors.Wrap(reduce.ErrShapeMismatch, "no input tensor")
	}
	if req.Op.String() == "unknown" {
		return errors.Wrapf(reduce.ErrUnknownOperation, "kind %d", int(req.Op))
	}
	if !req.Input.DType().IsValid() {
		return errors.Wrapf(reduce.ErrUnsupportedDType, "input %s", req.Input.DType())
	}
	if req.OutDType != tensor.Invalid && !req.OutDType.IsValid() {
		return errors.Wrapf(reduce.ErrUnsupportedDType, "output %s", req.OutDType)
	}
	shape := req.Input.Shape()
	if req.Dim < 0 || req.Dim >= len(shape) {
		return errors.Wrapf(reduce.ErrInvalidDimension, "dimension %d out of range for shape %s", req.Dim, shape)
	}
	if shape[req.Dim] == 0 {
		return errors.Wrapf(reduce.ErrEmptyReduceDimension, "dimension %d of shape %s", req.Dim, shape)
	}
	if e.cfg.MaxBytes > 0 {
		if w := weight(req); w > e.cfg.MaxBytes {
			return errors.Wrapf(ErrTooLarge, "%d bytes, budget %d", w, e.cfg.MaxBytes)
		}
	}
	return nil
}

// Reduce validates and runs req. It blocks while the admission budget is
// exhausted, until ctx is done.
func (e *Engine) Reduce(ctx context.Context, req Request) (*Result, error) {
	ctx, span := tracer.Start(ctx, "engine.Reduce")
	defer span.End()

	start := time.Now()
	if err := e.Validate(req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		requestsTotal.WithLabelValues(req.Op.String(), "invalid").Inc()
		return nil, err
	}
	out := outDType(req)
	span.SetAttributes(
		attribute.String("op", req.Op.String()),
		attribute.Int("dim", req.Dim),
		attribute.String("shape", req.Input.Shape().String()),
		attribute.String("in_dtype", req.Input.DType().String()),
		attribute.String("out_dtype", out.String()),
	)

	// Admission Control
	if e.sem != nil {
		w := weight(req)
		if err := e.sem.Acquire(ctx, w); err != nil {
			span.RecordError(err)
			requestsTotal.WithLabelValues(req.Op.String(), "rejected").Inc()
			return nil, errors.Wrap(err, "admission")
		}
		inflightBytes.Add(float64(w))
		defer func() {
			inflightBytes.Sub(float64(w))
			e.sem.Release(w)
		}()
	}

	key, cacheable := e.key(req, out)
	if cacheable {
		if entry, ok := e.cache.Get(key); ok {
			t, err := e.backend.NewTensor(entry.DType, entry.Shape, entry.Data)
			if err != nil {
				return nil, err
			}
			span.SetAttributes(attribute.Bool("cached", true))
			requestsTotal.WithLabelValues(req.Op.String(), "cached").Inc()
			return &Result{Output: t, Cached: true, Elapsed: time.Since(start)}, nil
		}
	}

	output, err := e.backend.Reduce(ctx, device.ReduceOp{
		Kind:     req.Op,
		Strategy: e.cfg.Strategy,
		Dim:      req.Dim,
		OutDType: out,
	}, req.Input)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reduce failed")
		requestsTotal.WithLabelValues(req.Op.String(), "error").Inc()
		return nil, err
	}
	res := &Result{Output: output}

	if e.cfg.Verify {
		if err := verify.Check(req.Op, req.Input.Float64s(), req.Input.Shape(), req.Dim,
			req.Input.DType(), out, output.Float64s(), e.cfg.Tolerance); err != nil {
			verifyFailures.WithLabelValues(req.Op.String()).Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, "verification failed")
			e.backend.PutTensor(output)
			requestsTotal.WithLabelValues(req.Op.String(), "error").Inc()
			return nil, err
		}
		res.Verified = true
	}

	if cacheable {
		stored, err := e.backend.NewTensor(output.DType(), output.Shape(), output.Data())
		if err == nil {
			e.cache.Put(key, cache.Entry{DType: stored.DType(), Shape: stored.Shape(), Data: stored.Data()})
		}
	}

	res.Elapsed = time.Since(start)
	requestsTotal.WithLabelValues(req.Op.String(), "ok").Inc()
	requestDuration.WithLabelValues(req.Op.String()).Observe(res.Elapsed.Seconds())

	log.Debug().
		Str("op", req.Op.String()).
		Int("dim", req.Dim).
		Stringer("shape", req.Input.Shape()).
		Str("in_dtype", req.Input.DType().String()).
		Str("out_dtype", out.String()).
		Bool("verified", res.Verified).
		Dur("elapsed", res.Elapsed).
		Msg("Reduction complete")
	return res, nil
}

// key digests the operation header and the raw input bytes. Strided inputs
// are not cached.
func (e *Engine) key(req Request, out tensor.DataType) (*cache.Key, bool) {
	if e.cache == nil {
		return nil, false
	}
	raw := device.RawBytes(req.Input)
	if raw == nil {
		return nil, false
	}
	shape := req.Input.Shape()
	fields := []int64{int64(req.Op), int64(req.Dim), int64(out), int64(req.Input.DType()), int64(len(shape))}
	for _, d := range shape {
		fields = append(fields, int64(d))
	}
	k := cache.NewKey(fields...)
	_, _ = k.Write(raw)
	return k, true
}

// Release returns a result's output to the backend pool.
func (e *Engine) Release(res *Result) {
	if res != nil && res.Output != nil {
		e.backend.PutTensor(res.Output)
	}
}

// ArgMax returns, for each position of in with dim collapsed, the index of
// the largest element along dim.
func (e *Engine) ArgMax(ctx context.Context, in device.Tensor, dim int) ([]int64, error) {
	res, err := e.Reduce(ctx, Request{Op: reduce.KindArgMax, Dim: dim, OutDType: tensor.Int64, Input: in})
	if err != nil {
		return nil, err
	}
	defer e.Release(res)
	idx, ok := res.Output.Data().([]int64)
	if !ok {
		return nil, errors.Errorf("unexpected argmax output %T", res.Output.Data())
	}
	return append([]int64(nil), idx...), nil
}
