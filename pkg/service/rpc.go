package service

import (
	"context"
	"errors"

	dsrpc "datasafe/pkg/api/dsrpc/v1"
	"datasafe/pkg/app"
	"datasafe/pkg/checksum"
	"datasafe/pkg/loi"
	"datasafe/pkg/manifest"
	"datasafe/pkg/meta"
	"datasafe/pkg/storage"
	"datasafe/pkg/types"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RPCService 把 Datasafe 暴露为 gRPC 服务
type RPCService struct {
	dsrpc.UnimplementedDatasafeServer
	safe *Datasafe
}

func NewRPCService(application *app.App) *RPCService {
	return &RPCService{safe: NewDatasafe(application)}
}

// toStatus 把领域错误映射为 gRPC 状态码
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var mm *checksum.MismatchError
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, loi.ErrInvalidFormat),
		errors.Is(err, manifest.ErrInvalidFilename),
		errors.Is(err, manifest.ErrEmptyFileSet),
		errors.Is(err, checksum.ErrUnsupportedAlgorithm):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, storage.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, storage.ErrAlreadyPopulated),
		errors.Is(err, storage.ErrNoContent),
		errors.Is(err, manifest.ErrWrongState):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, storage.ErrNotReserved):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, loi.ErrAllocationExhausted):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, meta.ErrConcurrentUpdate):
		return status.Error(codes.Aborted, err.Error())
	case errors.As(err, &mm),
		errors.Is(err, manifest.ErrInvalidFormat): // 存储的 Manifest 无法解析
		return status.Error(codes.DataLoss, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// -----------------------------------------------------------------------------
// DTO <-> Domain
// -----------------------------------------------------------------------------

func fileSetFromWire(alg string, files []dsrpc.File) types.FileSet {
	fs := types.FileSet{Algorithm: types.Algorithm(alg), Files: make([]types.File, 0, len(files))}
	for _, f := range files {
		fs.Files = append(fs.Files, types.File{Name: f.Name, Data: f.Data, Checksum: types.Checksum(f.Checksum)})
	}
	return fs
}

func filesToWire(fs types.FileSet) []dsrpc.File {
	out := make([]dsrpc.File, 0, fs.Len())
	for _, f := range fs.Files {
		out = append(out, dsrpc.File{Name: f.Name, Data: f.Data, Checksum: f.Checksum.String()})
	}
	return out
}

func integrityToWire(i manifest.Integrity) dsrpc.Integrity {
	out := dsrpc.Integrity{
		Data:     i.Data,
		Metadata: i.Metadata,
		Manifest: i.Manifest,
		Warnings: i.Warnings(),
	}
	for _, m := range i.Mismatches {
		out.Mismatches = append(out.Mismatches, dsrpc.Mismatch{
			Name:     m.Name,
			Expected: m.Expected.String(),
			Actual:   m.Actual.String(),
			Reason:   m.Reason,
		})
	}
	return out
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (s *RPCService) Create(ctx context.Context, req *dsrpc.CreateRequest) (*dsrpc.CreateResponse, error) {
	id, err := s.safe.Create(ctx, req.Base)
	if err != nil {
		return nil, toStatus(err)
	}
	return &dsrpc.CreateResponse{LOI: id.String()}, nil
}

func (s *RPCService) Upload(ctx context.Context, req *dsrpc.UploadRequest) (*dsrpc.UploadResponse, error) {
	m, err := s.safe.Upload(ctx, req.LOI, fileSetFromWire(req.Algorithm, req.Files))
	if err != nil {
		return nil, toStatus(err)
	}
	doc, err := m.Marshal()
	if err != nil {
		return nil, toStatus(err)
	}
	return &dsrpc.UploadResponse{Manifest: doc, Revision: m.Revision, Checksum: m.Checksum.String()}, nil
}

func (s *RPCService) Update(ctx context.Context, req *dsrpc.UpdateRequest) (*dsrpc.UpdateResponse, error) {
	m, err := s.safe.Update(ctx, req.LOI, fileSetFromWire(req.Algorithm, req.Files))
	if err != nil {
		return nil, toStatus(err)
	}
	doc, err := m.Marshal()
	if err != nil {
		return nil, toStatus(err)
	}
	return &dsrpc.UpdateResponse{Manifest: doc, Revision: m.Revision, Checksum: m.Checksum.String()}, nil
}

func (s *RPCService) Download(ctx context.Context, req *dsrpc.DownloadRequest) (*dsrpc.DownloadResponse, error) {
	m, files, integ, err := s.safe.Download(ctx, req.LOI)
	if err != nil {
		return nil, toStatus(err)
	}
	doc, err := m.Marshal()
	if err != nil {
		return nil, toStatus(err)
	}
	return &dsrpc.DownloadResponse{
		Manifest:  doc,
		Algorithm: m.Algorithm.String(),
		Files:     filesToWire(files),
		Integrity: integrityToWire(integ),
	}, nil
}

func (s *RPCService) Exists(ctx context.Context, req *dsrpc.ExistsRequest) (*dsrpc.ExistsResponse, error) {
	ok, err := s.safe.Exists(ctx, req.LOI)
	if err != nil {
		return nil, toStatus(err)
	}
	return &dsrpc.ExistsResponse{Exists: ok}, nil
}

func (s *RPCService) List(ctx context.Context, req *dsrpc.ListRequest) (*dsrpc.ListResponse, error) {
	items, err := s.safe.List(ctx, req.Base)
	if err != nil {
		return nil, toStatus(err)
	}
	out := make([]dsrpc.Object, 0, len(items))
	for _, it := range items {
		out = append(out, dsrpc.Object{
			LOI:       it.LOI,
			State:     string(it.State),
			Revision:  it.Revision,
			Files:     it.Files,
			TotalSize: it.TotalSize,
			Modified:  it.Modified,
		})
	}
	return &dsrpc.ListResponse{Objects: out}, nil
}

func (s *RPCService) Check(ctx context.Context, req *dsrpc.CheckRequest) (*dsrpc.CheckResponse, error) {
	m, integ, err := s.safe.Check(ctx, req.LOI)
	if err != nil {
		return nil, toStatus(err)
	}
	return &dsrpc.CheckResponse{
		State:     string(m.State()),
		Revision:  m.Revision,
		Integrity: integrityToWire(integ),
	}, nil
}

func (s *RPCService) Heartbeat(ctx context.Context, _ *dsrpc.HeartbeatRequest) (*dsrpc.HeartbeatResponse, error) {
	h, err := s.safe.Heartbeat(ctx)
	if err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	return &dsrpc.HeartbeatResponse{Status: "ok", Algorithm: h.Algorithm.String(), Time: h.Time}, nil
}
