package client

import (
	"context"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/23skdu/longbow-reduce/internal/device"
	"github.com/23skdu/longbow-reduce/internal/engine"
)

// ReduceCommand is the descriptor command of a reduction exchange.
const ReduceCommand = "reduce"

// FlightClient sends reductions to a remote server over Arrow Flight
// DoExchange. Each exchange carries one request record and returns one
// result record.
type FlightClient struct {
	client  flight.Client
	conn    *grpc.ClientConn
	builder *RecordBatchBuilder
	breaker *CircuitBreaker
}

// NewFlightClient creates a new Flight client connected to the given address.
func NewFlightClient(addr string) (*FlightClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}

	client := flight.NewClientFromConn(conn, nil)
	return &FlightClient{
		client:  client,
		conn:    conn,
		builder: NewRecordBatchBuilder(memory.DefaultAllocator),
		breaker: NewCircuitBreaker(5, 10*time.Second),
	}, nil
}

// Breaker returns the circuit breaker guarding the connection.
func (c *FlightClient) Breaker() *CircuitBreaker {
	return c.breaker
}

// unavailable reports errors that indicate the server, not the request,
// is at fault.
func unavailable(err error) bool {
	switch status.Code(err) {
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange, codes.Canceled:
		return false
	}
	return true
}

// Exchange sends rec and returns the server's reply. The caller releases
// the returned record.
func (c *FlightClient) Exchange(ctx context.Context, rec arrow.RecordBatch) (arrow.RecordBatch, error) {
	var out arrow.RecordBatch
	err := c.breaker.Do(func() error {
		var err error
		out, err = c.exchange(ctx, rec)
		return err
	}, unavailable)
	return out, err
}

func (c *FlightClient) exchange(ctx context.Context, rec arrow.RecordBatch) (arrow.RecordBatch, error) {
	stream, err := c.client.DoExchange(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "DoExchange")
	}

	writer := flight.NewRecordWriter(stream, ipc.WithSchema(rec.Schema()))
	writer.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorCMD,
		Cmd:  []byte(ReduceCommand),
	})
	if err := writer.Write(rec); err != nil {
		return nil, errors.Wrap(err, "write request")
	}
	if err := writer.Close(); err != nil {
		return nil, errors.Wrap(err, "close writer")
	}
	if err := stream.CloseSend(); err != nil {
		return nil, errors.Wrap(err, "close send")
	}

	reader, err := flight.NewRecordReader(stream)
	if err != nil {
		return nil, errors.Wrap(err, "read reply")
	}
	defer reader.Release()
	if !reader.Next() {
		if err := reader.Err(); err != nil {
			return nil, errors.Wrap(err, "read reply")
		}
		return nil, errors.Wrap(ErrBadRecord, "empty reply")
	}
	out := reader.Record()
	out.Retain()
	return out, nil
}

// Reduce runs req on the server and decodes the result onto backend.
func (c *FlightClient) Reduce(ctx context.Context, backend device.Backend, req engine.Request) (device.Tensor, error) {
	start := time.Now()
	rec, err := c.builder.BuildRequest(req)
	if err != nil {
		return nil, err
	}
	defer rec.Release()

	reply, err := c.Exchange(ctx, rec)
	if err != nil {
		return nil, err
	}
	defer reply.Release()

	out, err := ReadTensor(backend, reply)
	if err != nil {
		return nil, err
	}
	log.Debug().
		Str("op", req.Op.String()).
		Int("dim", req.Dim).
		Stringer("shape", req.Input.Shape()).
		Dur("elapsed", time.Since(start)).
		Msg("Remote reduction complete")
	return out, nil
}

// Close closes the client connection.
func (c *FlightClient) Close() error {
	return c.conn.Close()
}
