// pkg/types/common.go
package types

import (
	"encoding/hex"
	"strings"
)

// Checksum 代表一个十六进制编码的摘要 (文件内容或 Manifest 本身)
// 这是一个“值对象”，应当是不可变的。
type Checksum string

func (c Checksum) String() string { return string(c) }
func (c Checksum) IsZero() bool   { return c == "" }

// Normalize 去掉空白并统一小写，比较之前必须先归一化
func (c Checksum) Normalize() Checksum {
	return Checksum(strings.ToLower(strings.TrimSpace(string(c))))
}

// Equal 是精确匹配 (归一化之后)
func (c Checksum) Equal(other Checksum) bool {
	return c.Normalize() == other.Normalize()
}

// IsValid checks length and hex alphabet for the given algorithm.
func (c Checksum) IsValid(alg Algorithm) bool {
	n := c.Normalize()
	if len(n) != alg.HexLen() || len(n) == 0 {
		return false
	}
	_, err := hex.DecodeString(string(n))
	return err == nil
}

// Short 用于日志和 CLI 输出
func (c Checksum) Short() string {
	if len(c) <= 8 {
		return string(c)
	}
	return string(c[:8])
}

// Algorithm 标识摘要算法，每个安装固定一种，但每个 Manifest 都会记录自己的算法
type Algorithm string

const (
	MD5    Algorithm = "md5"
	SHA256 Algorithm = "sha256"
	SHA512 Algorithm = "sha512"
	BLAKE3 Algorithm = "blake3"
)

func (a Algorithm) String() string { return string(a) }

// HexLen 返回该算法十六进制摘要的长度，未知算法返回 0
func (a Algorithm) HexLen() int {
	switch a {
	case MD5:
		return 32
	case SHA256, BLAKE3:
		return 64
	case SHA512:
		return 128
	default:
		return 0
	}
}

func (a Algorithm) IsValid() bool { return a.HexLen() > 0 }

// State 是存储对象的生命周期状态
type State string

const (
	StateUnregistered State = "unregistered"
	StateRegistered   State = "registered"
	StatePopulated    State = "populated"
)

// Role 区分数据文件与元数据文件
// 数据一旦记录就不应改变，元数据则可能被人为修正
type Role string

const (
	RoleData     Role = "data"
	RoleMetadata Role = "metadata"
)

// File 是协议中传输的一个文件
// Checksum 可选：由发送方声明，接收方用来做传输校验
type File struct {
	Name     string
	Data     []byte
	Checksum Checksum
}

func (f File) Size() int64 { return int64(len(f.Data)) }

// FileSet 是一次 upload/update/download 的完整文件集合
// Algorithm 说明 Files 中 Checksum 使用的算法
type FileSet struct {
	Algorithm Algorithm
	Files     []File
}

func (fs FileSet) Len() int { return len(fs.Files) }

// TotalSize 返回所有文件的字节数之和
func (fs FileSet) TotalSize() int64 {
	var total int64
	for _, f := range fs.Files {
		total += f.Size()
	}
	return total
}

// Lookup 按名字查找文件
func (fs FileSet) Lookup(name string) (File, bool) {
	for _, f := range fs.Files {
		if f.Name == name {
			return f, true
		}
	}
	return File{}, false
}
