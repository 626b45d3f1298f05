package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/23skdu/longbow-reduce/internal/client"
	"github.com/23skdu/longbow-reduce/internal/device"
)

// ReduceFlightServer answers DoExchange calls carrying one request record
// with one result record.
type ReduceFlightServer struct {
	flight.BaseFlightServer
	reducer Reducer
	backend device.Backend
	alloc   memory.Allocator
	builder *client.RecordBatchBuilder
}

func NewReduceFlightServer(reducer Reducer, backend device.Backend) *ReduceFlightServer {
	alloc := memory.NewGoAllocator()
	return &ReduceFlightServer{
		reducer: reducer,
		backend: backend,
		alloc:   alloc,
		builder: client.NewRecordBatchBuilder(alloc),
	}
}

// grpcError converts a reduction error to a gRPC status.
func grpcError(err error) error {
	if _, ok := status.FromError(err); ok && status.Code(err) != codes.Unknown {
		return err
	}
	switch statusFor(err) {
	case http.StatusBadRequest:
		return status.Error(codes.InvalidArgument, err.Error())
	case http.StatusServiceUnavailable:
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return status.Error(codes.DeadlineExceeded, err.Error())
		case errors.Is(err, context.Canceled):
			return status.Error(codes.Canceled, err.Error())
		}
		return status.Error(codes.Unavailable, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

func (s *ReduceFlightServer) DoExchange(stream flight.FlightService_DoExchangeServer) error {
	reqID := uuid.NewString()
	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(s.alloc))
	if err != nil {
		return err
	}
	defer reader.Release()

	if desc := reader.LatestFlightDescriptor(); desc != nil && desc.Type == flight.DescriptorCMD &&
		string(desc.Cmd) != client.ReduceCommand {
		return status.Errorf(codes.InvalidArgument, "unknown command %q", desc.Cmd)
	}
	if !reader.Next() {
		if err := reader.Err(); err != nil {
			return err
		}
		return status.Error(codes.InvalidArgument, "no request record")
	}

	req, err := client.ReadRequest(s.backend, reader.Record())
	if err != nil {
		return grpcError(err)
	}
	out, release, err := s.reducer.Reduce(stream.Context(), req)
	if err != nil {
		log.Warn().Err(err).Str("request_id", reqID).Msg("DoExchange reduction failed")
		return grpcError(err)
	}
	defer release()

	rec, err := s.builder.BuildTensor(out, nil)
	if err != nil {
		return grpcError(err)
	}
	defer rec.Release()

	writer := flight.NewRecordWriter(stream, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(s.alloc))
	defer writer.Close()
	if err := writer.Write(rec); err != nil {
		return err
	}
	log.Debug().
		Str("request_id", reqID).
		Str("op", req.Op.String()).
		Stringer("shape", req.Input.Shape()).
		Msg("DoExchange complete")
	return nil
}

// DoPut accepts tensor records and logs them.
func (s *ReduceFlightServer) DoPut(stream flight.FlightService_DoPutServer) error {
	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(s.alloc))
	if err != nil {
		return err
	}
	defer reader.Release()

	for reader.Next() {
		rec := reader.Record()
		t, err := client.ReadTensor(s.backend, rec)
		if err != nil {
			log.Warn().Err(err).Int64("rows", rec.NumRows()).Msg("DoPut received malformed batch")
			continue
		}
		log.Info().
			Stringer("shape", t.Shape()).
			Str("dtype", t.DType().String()).
			Msg("DoPut received tensor")
		s.backend.PutTensor(t)
	}
	return reader.Err()
}

func StartFlightServer(addr string, reducer Reducer, backend device.Backend) {
	server := flight.NewServerWithMiddleware(nil)
	server.RegisterFlightService(NewReduceFlightServer(reducer, backend))

	if err := server.Init(addr); err != nil {
		log.Fatal().Err(err).Msg("Failed to init Flight server")
	}

	log.Info().Str("addr", server.Addr().String()).Msg("Starting Reduce Flight Server")
	if err := server.Serve(); err != nil {
		log.Fatal().Err(err).Msg("Flight server failed")
	}
}
