package server

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// targeted 由所有针对某个 LOI 的请求实现
type targeted interface {
	Target() string
}

// sized 由携带文件的请求实现 (upload / update)
type sized interface {
	PayloadSize() int64
}

// =============================================================================
// 1. Logging Interceptor
// =============================================================================

// UnaryLoggingInterceptor 为每个请求记录方法、LOI、状态码和耗时
func UnaryLoggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	logRPC(ctx, info.FullMethod, req, time.Since(start), err)
	return resp, err
}

func logRPC(ctx context.Context, method string, req any, duration time.Duration, err error) {
	code := status.Code(err)

	level := slog.LevelInfo
	switch code {
	case codes.OK:
	case codes.Internal, codes.Unknown, codes.DataLoss:
		// DataLoss 意味着存储或传输中的内容已经不可信
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}

	attrs := []slog.Attr{
		slog.String("method", method),
		slog.String("code", code.String()),
		slog.Duration("dur", duration),
	}
	if t, ok := req.(targeted); ok && t.Target() != "" {
		attrs = append(attrs, slog.String("loi", t.Target()))
	}
	if s, ok := req.(sized); ok {
		attrs = append(attrs, slog.Int64("bytes", s.PayloadSize()))
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		attrs = append(attrs, slog.String("peer", p.Addr.String()))
	}
	if err != nil {
		attrs = append(attrs, slog.String("err", status.Convert(err).Message()))
	}
	slog.LogAttrs(ctx, level, "rpc", attrs...)
}

// =============================================================================
// 2. Recovery Interceptor
// =============================================================================

// UnaryRecoveryInterceptor 把 handler 中的 panic 变成 Internal 错误，连接不受影响
func UnaryRecoveryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("🔥 panic in handler",
				slog.String("method", info.FullMethod),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = status.Errorf(codes.Internal, "internal server error in %s", info.FullMethod)
		}
	}()
	return handler(ctx, req)
}
