package dsrpcv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const ServiceName = "datasafe.v1.Datasafe"

const (
	Datasafe_Create_FullMethodName    = "/datasafe.v1.Datasafe/Create"
	Datasafe_Upload_FullMethodName    = "/datasafe.v1.Datasafe/Upload"
	Datasafe_Update_FullMethodName    = "/datasafe.v1.Datasafe/Update"
	Datasafe_Download_FullMethodName  = "/datasafe.v1.Datasafe/Download"
	Datasafe_Exists_FullMethodName    = "/datasafe.v1.Datasafe/Exists"
	Datasafe_List_FullMethodName      = "/datasafe.v1.Datasafe/List"
	Datasafe_Check_FullMethodName     = "/datasafe.v1.Datasafe/Check"
	Datasafe_Heartbeat_FullMethodName = "/datasafe.v1.Datasafe/Heartbeat"
)

// =============================================================================
// Client
// =============================================================================

// DatasafeClient 是 Datasafe 服务的客户端接口
type DatasafeClient interface {
	Create(ctx context.Context, in *CreateRequest, opts ...grpc.CallOption) (*CreateResponse, error)
	Upload(ctx context.Context, in *UploadRequest, opts ...grpc.CallOption) (*UploadResponse, error)
	Update(ctx context.Context, in *UpdateRequest, opts ...grpc.CallOption) (*UpdateResponse, error)
	Download(ctx context.Context, in *DownloadRequest, opts ...grpc.CallOption) (*DownloadResponse, error)
	Exists(ctx context.Context, in *ExistsRequest, opts ...grpc.CallOption) (*ExistsResponse, error)
	List(ctx context.Context, in *ListRequest, opts ...grpc.CallOption) (*ListResponse, error)
	Check(ctx context.Context, in *CheckRequest, opts ...grpc.CallOption) (*CheckResponse, error)
	Heartbeat(ctx context.Context, in *HeartbeatRequest, opts ...grpc.CallOption) (*HeartbeatResponse, error)
}

type datasafeClient struct {
	cc grpc.ClientConnInterface
}

func NewDatasafeClient(cc grpc.ClientConnInterface) DatasafeClient {
	return &datasafeClient{cc}
}

// invoke 固定使用 CBOR 编码，调用方传入的选项排在后面
func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	cOpts := append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, cOpts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *datasafeClient) Create(ctx context.Context, in *CreateRequest, opts ...grpc.CallOption) (*CreateResponse, error) {
	return invoke[CreateResponse](ctx, c.cc, Datasafe_Create_FullMethodName, in, opts)
}

func (c *datasafeClient) Upload(ctx context.Context, in *UploadRequest, opts ...grpc.CallOption) (*UploadResponse, error) {
	return invoke[UploadResponse](ctx, c.cc, Datasafe_Upload_FullMethodName, in, opts)
}

func (c *datasafeClient) Update(ctx context.Context, in *UpdateRequest, opts ...grpc.CallOption) (*UpdateResponse, error) {
	return invoke[UpdateResponse](ctx, c.cc, Datasafe_Update_FullMethodName, in, opts)
}

func (c *datasafeClient) Download(ctx context.Context, in *DownloadRequest, opts ...grpc.CallOption) (*DownloadResponse, error) {
	return invoke[DownloadResponse](ctx, c.cc, Datasafe_Download_FullMethodName, in, opts)
}

func (c *datasafeClient) Exists(ctx context.Context, in *ExistsRequest, opts ...grpc.CallOption) (*ExistsResponse, error) {
	return invoke[ExistsResponse](ctx, c.cc, Datasafe_Exists_FullMethodName, in, opts)
}

func (c *datasafeClient) List(ctx context.Context, in *ListRequest, opts ...grpc.CallOption) (*ListResponse, error) {
	return invoke[ListResponse](ctx, c.cc, Datasafe_List_FullMethodName, in, opts)
}

func (c *datasafeClient) Check(ctx context.Context, in *CheckRequest, opts ...grpc.CallOption) (*CheckResponse, error) {
	return invoke[CheckResponse](ctx, c.cc, Datasafe_Check_FullMethodName, in, opts)
}

func (c *datasafeClient) Heartbeat(ctx context.Context, in *HeartbeatRequest, opts ...grpc.CallOption) (*HeartbeatResponse, error) {
	return invoke[HeartbeatResponse](ctx, c.cc, Datasafe_Heartbeat_FullMethodName, in, opts)
}

// =============================================================================
// Server
// =============================================================================

// DatasafeServer 是服务端需要实现的接口
// 实现必须嵌入 UnimplementedDatasafeServer 以保持向前兼容
type DatasafeServer interface {
	Create(context.Context, *CreateRequest) (*CreateResponse, error)
	Upload(context.Context, *UploadRequest) (*UploadResponse, error)
	Update(context.Context, *UpdateRequest) (*UpdateResponse, error)
	Download(context.Context, *DownloadRequest) (*DownloadResponse, error)
	Exists(context.Context, *ExistsRequest) (*ExistsResponse, error)
	List(context.Context, *ListRequest) (*ListResponse, error)
	Check(context.Context, *CheckRequest) (*CheckResponse, error)
	Heartbeat(context.Context, *HeartbeatRequest) (*HeartbeatResponse, error)
	mustEmbedUnimplementedDatasafeServer()
}

type UnimplementedDatasafeServer struct{}

func (UnimplementedDatasafeServer) Create(context.Context, *CreateRequest) (*CreateResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Create not implemented")
}
func (UnimplementedDatasafeServer) Upload(context.Context, *UploadRequest) (*UploadResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Upload not implemented")
}
func (UnimplementedDatasafeServer) Update(context.Context, *UpdateRequest) (*UpdateResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Update not implemented")
}
func (UnimplementedDatasafeServer) Download(context.Context, *DownloadRequest) (*DownloadResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Download not implemented")
}
func (UnimplementedDatasafeServer) Exists(context.Context, *ExistsRequest) (*ExistsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Exists not implemented")
}
func (UnimplementedDatasafeServer) List(context.Context, *ListRequest) (*ListResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method List not implemented")
}
func (UnimplementedDatasafeServer) Check(context.Context, *CheckRequest) (*CheckResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Check not implemented")
}
func (UnimplementedDatasafeServer) Heartbeat(context.Context, *HeartbeatRequest) (*HeartbeatResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Heartbeat not implemented")
}
func (UnimplementedDatasafeServer) mustEmbedUnimplementedDatasafeServer() {}

func RegisterDatasafeServer(s grpc.ServiceRegistrar, srv DatasafeServer) {
	s.RegisterService(&Datasafe_ServiceDesc, srv)
}

// unaryHandler 把一个强类型方法包装成 grpc.MethodDesc 需要的 Handler
func unaryHandler[Req any, Resp any](fullMethod string, call func(DatasafeServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(DatasafeServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(DatasafeServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Datasafe_ServiceDesc 是 datasafe.v1.Datasafe 的 grpc.ServiceDesc
var Datasafe_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DatasafeServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Create",
			Handler:    unaryHandler(Datasafe_Create_FullMethodName, DatasafeServer.Create),
		},
		{
			MethodName: "Upload",
			Handler:    unaryHandler(Datasafe_Upload_FullMethodName, DatasafeServer.Upload),
		},
		{
			MethodName: "Update",
			Handler:    unaryHandler(Datasafe_Update_FullMethodName, DatasafeServer.Update),
		},
		{
			MethodName: "Download",
			Handler:    unaryHandler(Datasafe_Download_FullMethodName, DatasafeServer.Download),
		},
		{
			MethodName: "Exists",
			Handler:    unaryHandler(Datasafe_Exists_FullMethodName, DatasafeServer.Exists),
		},
		{
			MethodName: "List",
			Handler:    unaryHandler(Datasafe_List_FullMethodName, DatasafeServer.List),
		},
		{
			MethodName: "Check",
			Handler:    unaryHandler(Datasafe_Check_FullMethodName, DatasafeServer.Check),
		},
		{
			MethodName: "Heartbeat",
			Handler:    unaryHandler(Datasafe_Heartbeat_FullMethodName, DatasafeServer.Heartbeat),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "datasafe/v1/datasafe.cbor",
}
