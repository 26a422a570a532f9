package client

import (
	"context"
	"fmt"
	"time"

	dsrpc "datasafe/pkg/api/dsrpc/v1"
	"datasafe/pkg/checksum"
	"datasafe/pkg/manifest"
	"datasafe/pkg/types"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// maxMessageSize 要和服务端保持一致
const maxMessageSize = 1024 * 1024 * 1024 // 1GB

// DSClient 封装了与 Datasafe 服务端的连接
type DSClient struct {
	conn   *grpc.ClientConn
	rpc    dsrpc.DatasafeClient
	engine *checksum.Engine
}

// Option 配置 DSClient
type Option func(*options)

type options struct {
	algorithm types.Algorithm
	dial      []grpc.DialOption
}

// WithAlgorithm 设置上传时声明摘要使用的算法
func WithAlgorithm(alg types.Algorithm) Option {
	return func(o *options) { o.algorithm = alg }
}

// WithDialOptions 追加 grpc.DialOption (测试中用来注入 bufconn)
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *options) { o.dial = append(o.dial, opts...) }
}

// NewDSClient 创建并初始化客户端
// 它只负责创建对象，连接在第一次调用时建立
func NewDSClient(addr string, opts ...Option) (*DSClient, error) {
	o := options{algorithm: checksum.DefaultAlgorithm}
	for _, opt := range opts {
		opt(&o)
	}
	eng, err := checksum.New(o.algorithm)
	if err != nil {
		return nil, err
	}

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(maxMessageSize),
			grpc.MaxCallSendMsgSize(maxMessageSize),
		),
		// 保持连接活跃
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             20 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	dialOpts = append(dialOpts, o.dial...)

	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		// 这里的 err 通常只是配置错误（如地址格式不对），网络不通不会在这里报错
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", addr, err)
	}

	return &DSClient{
		conn:   conn,
		rpc:    dsrpc.NewDatasafeClient(conn),
		engine: eng,
	}, nil
}

// Close 关闭底层连接
func (c *DSClient) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Create 在 base LOI 下创建一个新对象，返回完整 LOI
func (c *DSClient) Create(ctx context.Context, base string) (string, error) {
	resp, err := c.rpc.Create(ctx, &dsrpc.CreateRequest{Base: base})
	if err != nil {
		return "", fromStatus(err)
	}
	return resp.LOI, nil
}

// Scan 读取目录中要上传的文件，同时返回被忽略规则跳过的路径
func (c *DSClient) Scan(ctx context.Context, dir string) (types.FileSet, []string, error) {
	return ReadDir(ctx, dir, c.engine)
}

// Upload 把目录中的文件作为对象的第一份内容上传
func (c *DSClient) Upload(ctx context.Context, id, dir string) (*manifest.Manifest, error) {
	files, _, err := c.Scan(ctx, dir)
	if err != nil {
		return nil, err
	}
	return c.UploadFiles(ctx, id, files)
}

// UploadFiles 上传内存中的文件集
func (c *DSClient) UploadFiles(ctx context.Context, id string, files types.FileSet) (*manifest.Manifest, error) {
	resp, err := c.rpc.Upload(ctx, &dsrpc.UploadRequest{
		LOI:       id,
		Algorithm: files.Algorithm.String(),
		Files:     filesToWire(files),
	})
	if err != nil {
		return nil, fromStatus(err)
	}
	return manifest.Unmarshal(resp.Manifest)
}

// Update 用目录中的文件整体替换对象内容
func (c *DSClient) Update(ctx context.Context, id, dir string) (*manifest.Manifest, error) {
	files, _, err := c.Scan(ctx, dir)
	if err != nil {
		return nil, err
	}
	return c.UpdateFiles(ctx, id, files)
}

func (c *DSClient) UpdateFiles(ctx context.Context, id string, files types.FileSet) (*manifest.Manifest, error) {
	resp, err := c.rpc.Update(ctx, &dsrpc.UpdateRequest{
		LOI:       id,
		Algorithm: files.Algorithm.String(),
		Files:     filesToWire(files),
	})
	if err != nil {
		return nil, fromStatus(err)
	}
	return manifest.Unmarshal(resp.Manifest)
}

// Fetch 下载对象到内存，并在本地重新校验
// 返回的 Integrity 是服务端和本地两次检查的合并结果
func (c *DSClient) Fetch(ctx context.Context, id string) (*manifest.Manifest, []byte, types.FileSet, manifest.Integrity, error) {
	resp, err := c.rpc.Download(ctx, &dsrpc.DownloadRequest{LOI: id})
	if err != nil {
		return nil, nil, types.FileSet{}, manifest.Integrity{}, fromStatus(err)
	}

	m, err := manifest.Unmarshal(resp.Manifest)
	if err != nil {
		return nil, nil, types.FileSet{}, manifest.Integrity{}, fmt.Errorf("%w: %w", ErrIntegrity, err)
	}
	files := types.FileSet{Algorithm: m.Algorithm, Files: make([]types.File, 0, len(resp.Files))}
	for _, f := range resp.Files {
		files.Files = append(files.Files, types.File{Name: f.Name, Data: f.Data, Checksum: types.Checksum(f.Checksum)})
	}

	local, err := m.Check(ctx, files)
	if err != nil {
		return nil, nil, types.FileSet{}, manifest.Integrity{}, err
	}
	local.Data = local.Data && resp.Integrity.Data
	local.Metadata = local.Metadata && resp.Integrity.Metadata
	local.Manifest = local.Manifest && resp.Integrity.Manifest
	return m, resp.Manifest, files, local, nil
}

// Download 下载对象并写入 dir
// strict 为 true 时任何不一致都视为失败，且不写入任何文件
func (c *DSClient) Download(ctx context.Context, id, dir string, strict bool) (*manifest.Manifest, manifest.Integrity, error) {
	m, doc, files, integ, err := c.Fetch(ctx, id)
	if err != nil {
		return nil, manifest.Integrity{}, err
	}
	if strict && !integ.OK() {
		return m, integ, fmt.Errorf("%w: %s: %v", ErrIntegrity, id, integ.Error())
	}
	if err := WriteDir(dir, doc, files); err != nil {
		return m, integ, err
	}
	return m, integ, nil
}

// Exists 判断 LOI 是否已注册
func (c *DSClient) Exists(ctx context.Context, id string) (bool, error) {
	resp, err := c.rpc.Exists(ctx, &dsrpc.ExistsRequest{LOI: id})
	if err != nil {
		return false, fromStatus(err)
	}
	return resp.Exists, nil
}

// List 列出 base 下的对象，base 为空时列出索引中的全部对象
func (c *DSClient) List(ctx context.Context, base string) ([]dsrpc.Object, error) {
	resp, err := c.rpc.List(ctx, &dsrpc.ListRequest{Base: base})
	if err != nil {
		return nil, fromStatus(err)
	}
	return resp.Objects, nil
}

// Check 让服务端检查一个对象的完整性
func (c *DSClient) Check(ctx context.Context, id string) (*dsrpc.CheckResponse, error) {
	resp, err := c.rpc.Check(ctx, &dsrpc.CheckRequest{LOI: id})
	if err != nil {
		return nil, fromStatus(err)
	}
	return resp, nil
}

// Heartbeat 检查服务端是否可用
func (c *DSClient) Heartbeat(ctx context.Context) (*dsrpc.HeartbeatResponse, error) {
	resp, err := c.rpc.Heartbeat(ctx, &dsrpc.HeartbeatRequest{})
	if err != nil {
		return nil, fromStatus(err)
	}
	return resp, nil
}

func filesToWire(fs types.FileSet) []dsrpc.File {
	out := make([]dsrpc.File, 0, fs.Len())
	for _, f := range fs.Files {
		out = append(out, dsrpc.File{Name: f.Name, Data: f.Data, Checksum: f.Checksum.String()})
	}
	return out
}
