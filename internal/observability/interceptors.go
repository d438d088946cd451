package observability

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// loggingInterceptor logs unary calls at debug; health probes are frequent.
func loggingInterceptor(
	ctx context.Context,
	req any,
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	st, _ := status.FromError(err)
	slog.Debug("gRPC unary call",
		"method", info.FullMethod,
		"code", st.Code().String(),
		"duration", time.Since(start),
	)
	return resp, err
}
