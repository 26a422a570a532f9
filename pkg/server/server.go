package server

import (
	dsrpc "datasafe/pkg/api/dsrpc/v1"
	"datasafe/pkg/app"
	"datasafe/pkg/service"

	"google.golang.org/grpc"
)

// MaxMessageSize 限制单个请求/响应的大小，一次 upload 的所有文件都在同一条消息里
const MaxMessageSize = 1 << 30 // 1GB

// New 组装 gRPC Server 并注册 Datasafe 服务
// 拦截器顺序：recovery 在最外层，保证 metrics 和日志里的 panic 也被兜住
func New(application *app.App, metrics *Metrics, opts ...grpc.ServerOption) *grpc.Server {
	interceptors := []grpc.UnaryServerInterceptor{UnaryRecoveryInterceptor}
	if metrics != nil {
		interceptors = append(interceptors, metrics.UnaryInterceptor)
	}
	interceptors = append(interceptors, UnaryLoggingInterceptor)

	base := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(MaxMessageSize),
		grpc.MaxSendMsgSize(MaxMessageSize),
		grpc.ChainUnaryInterceptor(interceptors...),
	}
	s := grpc.NewServer(append(base, opts...)...)
	dsrpc.RegisterDatasafeServer(s, service.NewRPCService(application))
	return s
}
