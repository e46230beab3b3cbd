package middleware

import (
	"context"

	"github.com/MrEthical07/authcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const authorizationMetadataKey = "authorization"

// UnaryServerInterceptor applies the HTTP [Gate] rules to unary RPCs: the
// "authorization" metadata entry carries "Bearer <token>", calls without it
// pass through, and rejected tokens fail with codes.Unauthenticated.
func UnaryServerInterceptor(authz Authorizer) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := authorizeIncoming(ctx, authz)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor is the streaming counterpart of
// [UnaryServerInterceptor].
func StreamServerInterceptor(authz Authorizer) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := authorizeIncoming(ss.Context(), authz)
		if err != nil {
			return err
		}
		return handler(srv, &principalStream{ServerStream: ss, ctx: ctx})
	}
}

type principalStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *principalStream) Context() context.Context {
	return s.ctx
}

func authorizeIncoming(ctx context.Context, authz Authorizer) (context.Context, error) {
	var header string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(authorizationMetadataKey); len(values) > 0 {
			header = values[0]
		}
	}
	token, present := bearerToken(header)
	if !present {
		return ctx, nil
	}
	if authz == nil {
		return nil, status.Error(codes.Unavailable, authcore.ErrorMessage(authcore.ErrEngineNotReady))
	}

	principal, err := authz.Authorize(ctx, token)
	if err != nil {
		return nil, grpcError(err)
	}
	return WithPrincipal(ctx, principal), nil
}

func grpcError(err error) error {
	if ref := authcore.ErrorReference(err); ref != "" {
		return status.Errorf(codes.Internal, "%s (reference %s)", authcore.ErrorMessage(err), ref)
	}
	if authcore.ErrorCode(err) == authcore.CodeTechnical {
		return status.Error(codes.Internal, authcore.ErrorMessage(err))
	}
	return status.Error(codes.Unauthenticated, authcore.ErrorMessage(err))
}
