package worker

import (
	"context"

	"github.com/driftlab/cascade/internal/logutils"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func recoverUnaryMiddleware(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) { //nolint:lll
	defer func() {
		if r := recover(); r != nil {
			perr := logutils.WrapRecover(r)
			log.Error().Str("method", info.FullMethod).Msg(perr.Pretty())
			err = status.Error(codes.Internal, perr.Error())
		}
	}()
	return handler(ctx, req)
}

func recoverStreamMiddleware(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) { //nolint:lll
	defer func() {
		if r := recover(); r != nil {
			perr := logutils.WrapRecover(r)
			log.Error().Str("method", info.FullMethod).Msg(perr.Pretty())
			err = status.Error(codes.Internal, perr.Error())
		}
	}()
	return handler(srv, ss)
}
