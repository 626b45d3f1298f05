package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/23skdu/longbow-reduce/internal/client"
	"github.com/23skdu/longbow-reduce/internal/device"
	"github.com/23skdu/longbow-reduce/internal/engine"
	"github.com/23skdu/longbow-reduce/internal/reduce"
	"github.com/23skdu/longbow-reduce/internal/tensor"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "longbow_reduce_http_requests_total",
		Help: "HTTP reduction requests by route and status code",
	}, []string{"route", "code"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "longbow_reduce_http_request_duration_seconds",
		Help:    "Time spent serving reduction requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

// Reducer runs one request. release returns the output to its pool.
type Reducer interface {
	Reduce(ctx context.Context, req engine.Request) (out device.Tensor, release func(), err error)
}

// localReducer runs requests on an in-process engine.
type localReducer struct {
	engine *engine.Engine
}

func (r localReducer) Reduce(ctx context.Context, req engine.Request) (device.Tensor, func(), error) {
	res, err := r.engine.Reduce(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	return res.Output, func() { r.engine.Release(res) }, nil
}

// remoteReducer forwards requests to a Flight server.
type remoteReducer struct {
	client  *client.FlightClient
	backend device.Backend
}

func (r remoteReducer) Reduce(ctx context.Context, req engine.Request) (device.Tensor, func(), error) {
	out, err := r.client.Reduce(ctx, r.backend, req)
	if err != nil {
		return nil, nil, err
	}
	return out, func() { r.backend.PutTensor(out) }, nil
}

// reduceRequest is the CBOR body of POST /reduce. Values are row-major and
// converted to DType with saturation.
type reduceRequest struct {
	Op       string    `cbor:"op"`
	Dim      int       `cbor:"dim"`
	DType    string    `cbor:"dtype"`
	OutDType string    `cbor:"out_dtype,omitempty"`
	Shape    []int     `cbor:"shape"`
	Values   []float64 `cbor:"values"`
}

// reduceResponse is the CBOR reply of POST /reduce.
type reduceResponse struct {
	RequestID string    `cbor:"request_id"`
	DType     string    `cbor:"dtype"`
	Shape     []int     `cbor:"shape"`
	Values    []float64 `cbor:"values"`
	ElapsedUS int64     `cbor:"elapsed_us"`
}

type Server struct {
	reducer Reducer
	backend device.Backend
	alloc   memory.Allocator
	builder *client.RecordBatchBuilder
}

func NewServer(reducer Reducer, backend device.Backend) *Server {
	alloc := memory.NewGoAllocator()
	return &Server{
		reducer: reducer,
		backend: backend,
		alloc:   alloc,
		builder: client.NewRecordBatchBuilder(alloc),
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/reduce", s.handleReduce)
	mux.HandleFunc("/reduce/arrow", s.handleReduceArrow)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

func startServer(addr string, reducer Reducer, backend device.Backend) {
	srv := NewServer(reducer, backend)

	log.Info().Str("addr", addr).Msg("Starting Reduce Server")
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

var tracer = otel.Tracer("longbow-reduce-server")

// statusFor maps reduction errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, reduce.ErrInvalidDimension),
		errors.Is(err, reduce.ErrShapeMismatch),
		errors.Is(err, reduce.ErrEmptyReduceDimension),
		errors.Is(err, reduce.ErrUnsupportedDType),
		errors.Is(err, reduce.ErrUnknownOperation),
		errors.Is(err, engine.ErrTooLarge),
		errors.Is(err, client.ErrBadRecord):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, client.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	}
	// Errors relayed from a remote Flight server
	switch status.Code(err) {
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, route, reqID string, err error) {
	code := statusFor(err)
	httpRequests.WithLabelValues(route, fmt.Sprint(code)).Inc()
	log.Warn().Err(err).Str("request_id", reqID).Int("code", code).Msg("Reduction request failed")
	http.Error(w, err.Error(), code)
}

// decode builds an engine request from a CBOR body.
func (s *Server) decode(body reduceRequest) (engine.Request, error) {
	op, err := reduce.ParseKind(body.Op)
	if err != nil {
		return engine.Request{}, err
	}
	dtype, err := tensor.ParseDataType(body.DType)
	if err != nil {
		return engine.Request{}, fmt.Errorf("%w: %v", reduce.ErrUnsupportedDType, err)
	}
	out := tensor.Invalid
	if body.OutDType != "" {
		if out, err = tensor.ParseDataType(body.OutDType); err != nil {
			return engine.Request{}, fmt.Errorf("%w: %v", reduce.ErrUnsupportedDType, err)
		}
	}
	shape := tensor.Shape(body.Shape)
	if err := shape.Validate(); err != nil {
		return engine.Request{}, fmt.Errorf("%w: %v", reduce.ErrShapeMismatch, err)
	}
	if shape.NumElements() != len(body.Values) {
		return engine.Request{}, fmt.Errorf("%w: shape %s holds %d values, got %d",
			reduce.ErrShapeMismatch, shape, shape.NumElements(), len(body.Values))
	}
	in, err := s.backend.NewTensor(dtype, shape, device.FromFloat64s(dtype, body.Values))
	if err != nil {
		return engine.Request{}, err
	}
	return engine.Request{Op: op, Dim: body.Dim, OutDType: out, Input: in}, nil
}

func (s *Server) handleReduce(w http.ResponseWriter, r *http.Request) {
	const route = "/reduce"
	reqID := uuid.NewString()
	ctx, span := tracer.Start(r.Context(), "handleReduce")
	defer span.End()
	span.SetAttributes(attribute.String("request_id", reqID))

	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body reduceRequest
	decoder := cbor.NewDecoder(r.Body)
	if err := decoder.Decode(&body); err != nil {
		span.RecordError(err)
		httpRequests.WithLabelValues(route, "400").Inc()
		http.Error(w, fmt.Sprintf("Bad Request (CBOR decode): %v", err), http.StatusBadRequest)
		return
	}

	req, err := s.decode(body)
	if err != nil {
		span.RecordError(err)
		s.fail(w, route, reqID, err)
		return
	}
	span.SetAttributes(
		attribute.String("op", req.Op.String()),
		attribute.String("shape", req.Input.Shape().String()),
	)

	out, release, err := s.reducer.Reduce(ctx, req)
	if err != nil {
		span.RecordError(err)
		s.fail(w, route, reqID, err)
		return
	}
	defer release()

	resp := reduceResponse{
		RequestID: reqID,
		DType:     out.DType().String(),
		Shape:     out.Shape(),
		Values:    out.Float64s(),
		ElapsedUS: time.Since(start).Microseconds(),
	}
	data, err := cbor.Marshal(resp)
	if err != nil {
		s.fail(w, route, reqID, err)
		return
	}
	httpRequests.WithLabelValues(route, "200").Inc()
	w.Header().Set("Content-Type", "application/cbor")
	w.Header().Set("X-Request-ID", reqID)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleReduceArrow reads an Arrow IPC stream of request records and
// replies with a stream holding one result record per request. All results
// are computed before the reply starts so that an error yields a plain
// status.
func (s *Server) handleReduceArrow(w http.ResponseWriter, r *http.Request) {
	const route = "/reduce/arrow"
	reqID := uuid.NewString()
	ctx, span := tracer.Start(r.Context(), "handleReduceArrow")
	defer span.End()
	span.SetAttributes(attribute.String("request_id", reqID))

	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	reader, err := ipc.NewReader(r.Body, ipc.WithAllocator(s.alloc))
	if err != nil {
		httpRequests.WithLabelValues(route, "400").Inc()
		http.Error(w, fmt.Sprintf("Failed to create IPC reader: %v", err), http.StatusBadRequest)
		return
	}
	defer reader.Release()

	var outputs []device.Tensor
	var releases []func()
	defer func() {
		for _, release := range releases {
			release()
		}
	}()

	for reader.Next() {
		req, err := client.ReadRequest(s.backend, reader.Record())
		if err != nil {
			s.fail(w, route, reqID, err)
			return
		}
		out, release, err := s.reducer.Reduce(ctx, req)
		if err != nil {
			span.RecordError(err)
			s.fail(w, route, reqID, err)
			return
		}
		outputs = append(outputs, out)
		releases = append(releases, release)
	}
	if err := reader.Err(); err != nil {
		log.Error().Err(err).Str("request_id", reqID).Msg("Error reading Arrow stream")
		httpRequests.WithLabelValues(route, "400").Inc()
		http.Error(w, "Stream error", http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.Int("records", len(outputs)))

	w.Header().Set("Content-Type", "application/vnd.apache.arrow.stream")
	w.Header().Set("X-Request-ID", reqID)
	w.WriteHeader(http.StatusOK)
	httpRequests.WithLabelValues(route, "200").Inc()

	// Records of one stream share a schema, so their results do too.
	var writer *ipc.Writer
	for _, out := range outputs {
		rec, err := s.builder.BuildTensor(out, nil)
		if err != nil {
			log.Error().Err(err).Str("request_id", reqID).Msg("Failed to encode result")
			return
		}
		if writer == nil {
			writer = ipc.NewWriter(w, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(s.alloc))
		}
		err = writer.Write(rec)
		rec.Release()
		if err != nil {
			log.Error().Err(err).Str("request_id", reqID).Msg("Failed to write result")
			break
		}
	}
	if writer != nil {
		_ = writer.Close()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
