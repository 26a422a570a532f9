package dsrpcv1

import "time"

// File 是线上传输的单个文件
// Checksum 由发送方按 FileSet 的 Algorithm 计算，接收方据此做传输校验
type File struct {
	Name     string `cbor:"name"`
	Data     []byte `cbor:"data"`
	Checksum string `cbor:"checksum,omitempty"`
}

// Mismatch 描述一个完整性不一致
type Mismatch struct {
	Name     string `cbor:"name"`
	Expected string `cbor:"expected,omitempty"`
	Actual   string `cbor:"actual,omitempty"`
	Reason   string `cbor:"reason,omitempty"`
}

// Integrity 对应一次完整性检查
type Integrity struct {
	Data       bool       `cbor:"data"`
	Metadata   bool       `cbor:"metadata"`
	Manifest   bool       `cbor:"manifest"`
	Warnings   []string   `cbor:"warnings,omitempty"`
	Mismatches []Mismatch `cbor:"mismatches,omitempty"`
}

// Object 是 List 返回的一行
type Object struct {
	LOI       string    `cbor:"loi"`
	State     string    `cbor:"state"`
	Revision  int64     `cbor:"revision"`
	Files     int       `cbor:"files"`
	TotalSize int64     `cbor:"total_size"`
	Modified  time.Time `cbor:"modified"`
}

type CreateRequest struct {
	Base string `cbor:"base"`
}

type CreateResponse struct {
	LOI string `cbor:"loi"`
}

type UploadRequest struct {
	LOI       string `cbor:"loi"`
	Algorithm string `cbor:"algorithm,omitempty"`
	Files     []File `cbor:"files"`
}

// UploadResponse 带回服务端提交的 MANIFEST.yaml 原文
type UploadResponse struct {
	Manifest []byte `cbor:"manifest"`
	Revision int64  `cbor:"revision"`
	Checksum string `cbor:"checksum"`
}

type UpdateRequest struct {
	LOI       string `cbor:"loi"`
	Algorithm string `cbor:"algorithm,omitempty"`
	Files     []File `cbor:"files"`
}

type UpdateResponse struct {
	Manifest []byte `cbor:"manifest"`
	Revision int64  `cbor:"revision"`
	Checksum string `cbor:"checksum"`
}

type DownloadRequest struct {
	LOI string `cbor:"loi"`
}

type DownloadResponse struct {
	Manifest  []byte    `cbor:"manifest"`
	Algorithm string    `cbor:"algorithm"`
	Files     []File    `cbor:"files"`
	Integrity Integrity `cbor:"integrity"`
}

type ExistsRequest struct {
	LOI string `cbor:"loi"`
}

type ExistsResponse struct {
	Exists bool `cbor:"exists"`
}

type ListRequest struct {
	Base string `cbor:"base,omitempty"`
}

type ListResponse struct {
	Objects []Object `cbor:"objects"`
}

type CheckRequest struct {
	LOI string `cbor:"loi"`
}

type CheckResponse struct {
	State     string    `cbor:"state"`
	Revision  int64     `cbor:"revision"`
	Integrity Integrity `cbor:"integrity"`
}

type HeartbeatRequest struct{}

type HeartbeatResponse struct {
	Status    string    `cbor:"status"`
	Algorithm string    `cbor:"algorithm"`
	Time      time.Time `cbor:"time"`
}

// Target 返回请求针对的 LOI (base 或完整 LOI)，拦截器用它打日志
func (r *CreateRequest) Target() string   { return r.Base }
func (r *UploadRequest) Target() string   { return r.LOI }
func (r *UpdateRequest) Target() string   { return r.LOI }
func (r *DownloadRequest) Target() string { return r.LOI }
func (r *ExistsRequest) Target() string   { return r.LOI }
func (r *ListRequest) Target() string     { return r.Base }
func (r *CheckRequest) Target() string    { return r.LOI }

// PayloadSize 返回请求中所有文件的字节数
func (r *UploadRequest) PayloadSize() int64 { return payloadSize(r.Files) }
func (r *UpdateRequest) PayloadSize() int64 { return payloadSize(r.Files) }

func payloadSize(files []File) int64 {
	var n int64
	for _, f := range files {
		n += int64(len(f.Data))
	}
	return n
}
