package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"runtime/pprof"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/23skdu/longbow-reduce/internal/client"
	"github.com/23skdu/longbow-reduce/internal/engine"
	"github.com/23skdu/longbow-reduce/internal/metric"
	"github.com/23skdu/longbow-reduce/internal/reduce"
	"github.com/23skdu/longbow-reduce/internal/tensor"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

var (
	opName       = flag.String("op", "sum", "Reduction (sum, mean, prod, max, min, argmax, argmin)")
	reduceDim    = flag.Int("dim", 0, "Dimension to reduce")
	shapeFlag    = flag.String("shape", "64x128", "Input shape for generated tensors (e.g. 32x64x8)")
	dtypeFlag    = flag.String("dtype", "float32", "Input element type")
	outDTypeFlag = flag.String("out-dtype", "", "Output element type (default depends on -op)")
	strategyFlag = flag.String("strategy", "naive", "Scheduling strategy (naive, serial)")
	workers      = flag.Int("workers", 0, "Goroutines per reduction (0 = one per CPU)")
	listenAddr   = flag.String("listen", "", "Address to listen on for HTTP Server (e.g. :8080)")
	flightAddr   = flag.String("flight", "", "Address to listen on for Flight Server (e.g. :9090)")
	remoteAddr   = flag.String("remote", "", "Forward reductions to a Flight server (e.g. localhost:9090)")
	maxBytes     = flag.String("max-bytes", "512MB", "Admission budget for in-flight input and output bytes (0 disables)")
	cacheSize    = flag.Int("cache", 0, "Number of cached results (0 disables)")
	verifyFlag   = flag.Bool("verify", false, "Check every result against the float64 reference")
	enableOTel   = flag.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)")
	cpuProfile   = flag.String("cpuprofile", "", "Write cpu profile to file")
	duration     = flag.Duration("duration", 0, "Run soak test for specified duration (e.g. 10s, 20m)")
	epochItems   = flag.Int("epoch-items", 100, "Soak iterations per reported epoch")
	seed         = flag.Int64("seed", 1, "Seed for generated tensors")
)

// options is the parsed command line.
type options struct {
	op       reduce.Kind
	dim      int
	shape    tensor.Shape
	dtype    tensor.DataType
	outDType tensor.DataType
	cfg      engine.Config
}

func parseOptions() (options, error) {
	var o options
	var err error
	if o.op, err = reduce.ParseKind(*opName); err != nil {
		return o, err
	}
	if o.shape, err = tensor.ParseShape(*shapeFlag); err != nil {
		return o, err
	}
	if o.dtype, err = tensor.ParseDataType(*dtypeFlag); err != nil {
		return o, err
	}
	if *outDTypeFlag != "" {
		if o.outDType, err = tensor.ParseDataType(*outDTypeFlag); err != nil {
			return o, err
		}
	}
	o.dim = *reduceDim

	o.cfg = engine.DefaultConfig()
	if o.cfg.Strategy, err = reduce.ParseStrategy(*strategyFlag); err != nil {
		return o, err
	}
	budget, err := humanize.ParseBytes(*maxBytes)
	if err != nil {
		return o, fmt.Errorf("invalid -max-bytes: %w", err)
	}
	o.cfg.MaxBytes = int64(budget)
	o.cfg.Workers = *workers
	o.cfg.CacheSize = *cacheSize
	o.cfg.Verify = *verifyFlag
	return o, nil
}

func main() {
	// Initialize logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	flag.Parse()

	if *enableOTel {
		shutdown, err := initTracer()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracer")
		}
		defer shutdown(context.Background())
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create CPU profile file")
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal().Err(err).Msg("Could not start CPU profile")
		}
		defer pprof.StopCPUProfile()
	}

	opts, err := parseOptions()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid arguments")
	}
	eng := engine.New(opts.cfg, nil)
	log.Info().
		Str("backend", eng.Backend().Name()).
		Str("strategy", opts.cfg.Strategy.String()).
		Str("max_bytes", humanize.Bytes(uint64(opts.cfg.MaxBytes))).
		Int("cache", opts.cfg.CacheSize).
		Bool("verify", opts.cfg.Verify).
		Msg("Engine ready")

	var reducer Reducer = localReducer{engine: eng}
	if *remoteAddr != "" {
		fc, err := client.NewFlightClient(*remoteAddr)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create flight client")
		}
		defer func() {
			if err := fc.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close flight client")
			}
		}()
		log.Info().Str("addr", *remoteAddr).Msg("Forwarding reductions to Flight Server")
		reducer = remoteReducer{client: fc, backend: eng.Backend()}
	}

	// Server Mode
	if *listenAddr != "" {
		go startServer(*listenAddr, reducer, eng.Backend())
		if *flightAddr == "" {
			select {}
		}
	}

	if *flightAddr != "" {
		StartFlightServer(*flightAddr, reducer, eng.Backend())
		return
	}

	rng := rand.New(rand.NewSource(*seed))
	if *duration > 0 {
		soak(eng, reducer, opts, rng, *duration)
		return
	}
	if err := oneShot(eng, reducer, opts, rng, os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("Reduction failed")
	}
}

// oneShot reduces a generated tensor and writes the result as an Arrow IPC
// stream to w.
func oneShot(eng *engine.Engine, reducer Reducer, opts options, rng *rand.Rand, w io.Writer) error {
	in, err := engine.RandomTensor(eng.Backend(), rng, opts.dtype, opts.shape)
	if err != nil {
		return err
	}
	req := engine.Request{Op: opts.op, Dim: opts.dim, OutDType: opts.outDType, Input: in}
	if err := eng.Validate(req); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	start := time.Now()
	out, release, err := reducer.Reduce(ctx, req)
	if err != nil {
		return err
	}
	defer release()
	elapsed := time.Since(start)

	p := message.NewPrinter(language.English)
	log.Info().
		Str("op", opts.op.String()).
		Int("dim", opts.dim).
		Stringer("shape", opts.shape).
		Str("in_dtype", opts.dtype.String()).
		Str("out_dtype", out.DType().String()).
		Str("elements", p.Sprintf("%d", in.Len())).
		Str("outputs", p.Sprintf("%d", out.Len())).
		Dur("elapsed", elapsed).
		Str("throughput", p.Sprintf("%.0f elem/s", float64(in.Len())/elapsed.Seconds())).
		Msg("Reduced tensor")

	rec, err := client.NewRecordBatchBuilder(memory.NewGoAllocator()).BuildTensor(out, map[string]string{
		client.MetaOp:  opts.op.String(),
		client.MetaDim: fmt.Sprint(opts.dim),
	})
	if err != nil {
		return err
	}
	defer rec.Release()
	return writeArrowStream(w, rec)
}

// soak reduces generated tensors until d has elapsed. Each iteration also
// feeds a synthetic classification batch (the generated tensor read as
// logits over its last dimension) to the metric processor.
func soak(eng *engine.Engine, reducer Reducer, opts options, rng *rand.Rand, d time.Duration) {
	log.Info().Str("duration", d.String()).Msg("Starting soak test")

	proc := metric.NewProcessor[metric.ClassificationOutput, metric.LossOutput](
		multiRenderer{metric.NewPrometheusRenderer(prometheus.DefaultRegisterer), metric.NewProgressRenderer(os.Stderr)})
	proc.RegisterTrain(metric.NewAccuracy(eng))

	in, err := engine.RandomTensor(eng.Backend(), rng, opts.dtype, opts.shape)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to generate input")
	}
	req := engine.Request{Op: opts.op, Dim: opts.dim, OutDType: opts.outDType, Input: in}
	if err := eng.Validate(req); err != nil {
		log.Fatal().Err(err).Msg("Invalid request")
	}
	perEpoch := max(*epochItems, 1)
	classes := opts.shape[len(opts.shape)-1]
	batch := in.Len() / max(classes, 1)
	logits, err := eng.Backend().NewTensor(opts.dtype, tensor.Shape{batch, classes}, in.Data())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to reshape logits")
	}

	startTime := time.Now()
	endTime := startTime.Add(d)
	var totalElements int64
	var iter int

	for time.Now().Before(endTime) {
		_, release, err := reducer.Reduce(context.Background(), req)
		if err != nil {
			log.Fatal().Err(err).Msg("Reduction failed")
		}
		release()
		totalElements += int64(in.Len())

		targets := make([]int64, batch)
		for i := range targets {
			targets[i] = rng.Int63n(int64(max(classes, 1)))
		}
		epoch := iter / perEpoch
		proc.AddTrain(metric.ItemEvent(metric.Item[metric.ClassificationOutput]{
			Value:     metric.ClassificationOutput{Logits: logits, Targets: targets},
			Progress:  metric.Progress{ItemsProcessed: iter%perEpoch + 1, ItemsTotal: perEpoch},
			Epoch:     epoch + 1,
			Iteration: iter,
		}))
		iter++
		if iter%perEpoch == 0 {
			proc.AddTrain(metric.EndEpochEvent[metric.ClassificationOutput](epoch))
		}

		if iter%10 == 0 {
			elapsed := time.Since(startTime)
			log.Debug().
				Str("elapsed", elapsed.Round(time.Second).String()).
				Int("iter", iter).
				Str("total_elements", humanize.Comma(totalElements)).
				Float64("eps", float64(totalElements)/elapsed.Seconds()).
				Msg("Soak test progress")
		}
	}

	totalElapsed := time.Since(startTime)
	log.Info().
		Str("total_elements", humanize.Comma(totalElements)).
		Int("iterations", iter).
		Dur("total_time", totalElapsed).
		Float64("avg_eps", float64(totalElements)/totalElapsed.Seconds()).
		Msg("Soak test complete")
}

// multiRenderer fans metric updates out to several renderers.
type multiRenderer []metric.Renderer

func (m multiRenderer) Update(phase metric.Phase, st metric.State) {
	for _, r := range m {
		r.Update(phase, st)
	}
}

func (m multiRenderer) Render(phase metric.Phase, p metric.TrainingProgress) {
	for _, r := range m {
		r.Render(phase, p)
	}
}

func (m multiRenderer) EndEpoch(phase metric.Phase, epoch int) {
	for _, r := range m {
		r.EndEpoch(phase, epoch)
	}
}

func writeArrowStream(w io.Writer, rec arrow.RecordBatch) error {
	writer := ipc.NewWriter(w, ipc.WithSchema(rec.Schema()))
	if err := writer.Write(rec); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint(), stdouttrace.WithWriter(os.Stderr))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("longbow-reduce"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
