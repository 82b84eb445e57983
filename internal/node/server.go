package node

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"validator/internal/coordinator"
	"validator/internal/logger"
	"validator/internal/quorum"
)

var log = logger.NewNamed("node")

// Processor is the part of the coordinator the gRPC layer needs.
type Processor interface {
	Process(ctx context.Context, payload map[string]any) (*coordinator.Result, error)
}

// Server implements the Validator gRPC service.
type Server struct {
	proc Processor
}

// NewServer creates a new gRPC server instance.
func NewServer(proc Processor) *Server {
	return &Server{proc: proc}
}

// Process runs one vote. Failed votes are returned as codes.Unavailable
// with the failure detail attached as a Struct.
func (s *Server) Process(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	payload := req.AsMap()

	res, err := s.proc.Process(ctx, payload)
	switch {
	case errors.Is(err, coordinator.ErrInvalidInput):
		return nil, status.Error(codes.InvalidArgument, err.Error())
	case err != nil:
		log.Warn("process failed", zap.Error(err))
		return nil, status.Error(codes.Internal, err.Error())
	}

	if res.Success() {
		out, err := successStruct(res)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "encode response: %v", err)
		}
		return out, nil
	}

	st := status.New(codes.Unavailable, failureMessage(res.Verdict.State))
	if detail, err := failureStruct(res); err == nil {
		if withDetail, err := st.WithDetails(detail); err == nil {
			st = withDetail
		}
	}
	return nil, st.Err()
}

func failureMessage(state quorum.State) string {
	if state == quorum.NoConsensus {
		return "no consensus among replicas"
	}
	return "timed out waiting for replica quorum"
}
