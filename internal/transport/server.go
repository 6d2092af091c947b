package transport

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"ringkv/internal/model"
	"ringkv/internal/replication"
	"ringkv/internal/wire"
)

// Server implements the Replica service on top of the local store.
type Server struct {
	store   replication.LocalStore
	factory *model.Factory
	logger  *zap.Logger
}

// NewServer creates a new replica server.
func NewServer(store replication.LocalStore, factory *model.Factory, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{store: store, factory: factory, logger: logger}
}

// Get handles replica reads from coordinators.
func (s *Server) Get(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	key := model.NewKey(req.GetValue())
	s.logger.Debug("replica get", zap.Stringer("key", key))

	obj, err := s.store.Get(key)
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Bytes(wire.Marshal(obj)), nil
}

// Put handles replica writes from coordinators.
func (s *Server) Put(ctx context.Context, req *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	obj, err := wire.Unmarshal(s.factory, req.GetValue())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad envelope: %v", err)
	}
	s.logger.Debug("replica put", zap.Stringer("key", obj.Key()), zap.Stringer("version", obj.Version()))

	if err := s.store.Put(obj); err != nil {
		if !errors.Is(err, model.ErrStaleVersion) {
			s.logger.Error("replica put failed", zap.Stringer("key", obj.Key()), zap.Error(err))
		}
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, model.ErrStaleVersion):
		return status.Error(codes.Aborted, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// fromStatus maps a call error back to the domain errors.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return model.ErrNotFound
	case codes.Aborted:
		return model.ErrStaleVersion
	default:
		return err
	}
}
