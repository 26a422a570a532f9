package client

import (
	"errors"
	"strings"

	"datasafe/pkg/checksum"
	"datasafe/pkg/loi"
	"datasafe/pkg/manifest"
	"datasafe/pkg/storage"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrIntegrity 下载的内容和 Manifest 不一致 (--strict 模式下)
	ErrIntegrity = errors.New("integrity check failed")
	// ErrUnavailable 服务端不可达
	ErrUnavailable = errors.New("server unavailable")
	// ErrRemote 其他服务端错误
	ErrRemote = errors.New("server error")
)

// RemoteError 保留服务端的状态码和消息，同时可以用 errors.Is 匹配本地的哨兵错误
type RemoteError struct {
	Code    codes.Code
	Message string
	kind    error
}

func (e *RemoteError) Error() string { return e.Message }
func (e *RemoteError) Unwrap() error { return e.kind }

// candidates 同一个状态码可能对应多个哨兵错误，按消息内容区分，第一个是兜底
var candidates = map[codes.Code][]error{
	codes.InvalidArgument: {
		loi.ErrInvalidFormat,
		manifest.ErrInvalidFilename,
		manifest.ErrEmptyFileSet,
		checksum.ErrUnsupportedAlgorithm,
	},
	codes.AlreadyExists:      {storage.ErrAlreadyExists},
	codes.FailedPrecondition: {storage.ErrAlreadyPopulated, storage.ErrNoContent, manifest.ErrWrongState},
	codes.NotFound:           {storage.ErrNotFound, storage.ErrNotReserved},
	codes.ResourceExhausted:  {loi.ErrAllocationExhausted},
	codes.DataLoss:           {ErrIntegrity, manifest.ErrInvalidFormat},
	codes.Unavailable:        {ErrUnavailable},
	codes.DeadlineExceeded:   {ErrUnavailable},
}

// fromStatus 把 gRPC 错误还原成带哨兵的错误
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	kind := ErrRemote
	if list, ok := candidates[st.Code()]; ok {
		kind = list[0]
		for _, c := range list {
			if strings.Contains(st.Message(), c.Error()) {
				kind = c
				break
			}
		}
	}
	return &RemoteError{Code: st.Code(), Message: st.Message(), kind: kind}
}

// Kind 返回错误种类的简短名字，CLI 用它组织错误消息
func Kind(err error) string {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Code.String()
	}
	switch {
	case errors.Is(err, loi.ErrInvalidFormat):
		return codes.InvalidArgument.String()
	case errors.Is(err, ErrIntegrity), errors.Is(err, manifest.ErrInvalidFormat), checksum.IsMismatch(err):
		return codes.DataLoss.String()
	case errors.Is(err, ErrTargetNotEmpty):
		return codes.FailedPrecondition.String()
	default:
		return "Error"
	}
}
