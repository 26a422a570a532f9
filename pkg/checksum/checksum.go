package checksum

import (
	"crypto/md5"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"slices"

	"datasafe/pkg/types"

	"github.com/zeebo/blake3"
)

// ErrUnsupportedAlgorithm 配置了未知的摘要算法
var ErrUnsupportedAlgorithm = errors.New("unsupported checksum algorithm")

// DefaultAlgorithm 新安装默认使用的算法
const DefaultAlgorithm = types.SHA256

// MismatchError 描述一次校验失败
// Name 可以是文件名，也可以是 span 名 ("data", "all") 或 MANIFEST.yaml
type MismatchError struct {
	Name     string
	Expected types.Checksum
	Actual   types.Checksum
	Reason   string
}

func (e *MismatchError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "checksum mismatch"
	}
	if e.Expected.IsZero() && e.Actual.IsZero() {
		return fmt.Sprintf("%s: %s", e.Name, reason)
	}
	return fmt.Sprintf("%s: %s (expected %s, got %s)", e.Name, reason, e.Expected, e.Actual)
}

// Engine 是一个无状态的摘要计算器，可以被多个 goroutine 共享
type Engine struct {
	alg     types.Algorithm
	newHash func() hash.Hash
}

// New 根据算法名创建 Engine
func New(alg types.Algorithm) (*Engine, error) {
	var fn func() hash.Hash
	switch alg {
	case types.MD5:
		fn = md5.New
	case types.SHA256:
		fn = sha256.New
	case types.SHA512:
		fn = sha512.New
	case types.BLAKE3:
		fn = func() hash.Hash { return blake3.New() }
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
	return &Engine{alg: alg, newHash: fn}, nil
}

// MustNew 用于测试和已经校验过的配置
func MustNew(alg types.Algorithm) *Engine {
	e, err := New(alg)
	if err != nil {
		panic(err)
	}
	return e
}

func (e *Engine) Algorithm() types.Algorithm { return e.alg }

func (e *Engine) sum(h hash.Hash) types.Checksum {
	return types.Checksum(hex.EncodeToString(h.Sum(nil)))
}

// Digest 计算内存数据的摘要
func (e *Engine) Digest(data []byte) types.Checksum {
	h := e.newHash()
	h.Write(data)
	return e.sum(h)
}

// DigestReader 流式计算摘要，返回读取的字节数
func (e *Engine) DigestReader(r io.Reader) (types.Checksum, int64, error) {
	h := e.newHash()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, fmt.Errorf("hashing stream: %w", err)
	}
	return e.sum(h), n, nil
}

// DigestFile 流式计算文件摘要，内存占用与文件大小无关
func (e *Engine) DigestFile(path string) (types.Checksum, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer f.Close()

	sum, n, err := e.DigestReader(f)
	if err != nil {
		return "", n, fmt.Errorf("hashing %s: %w", path, err)
	}
	return sum, n, nil
}

// DigestSorted 对一组摘要排序后再整体求摘要
// 结果只取决于内容，与文件名和顺序无关 (用于 span checksum)
func (e *Engine) DigestSorted(sums []types.Checksum) types.Checksum {
	sorted := make([]string, len(sums))
	for i, s := range sums {
		sorted[i] = string(s.Normalize())
	}
	slices.Sort(sorted)

	h := e.newHash()
	for _, s := range sorted {
		io.WriteString(h, s)
	}
	return e.sum(h)
}

// Verify 校验内存数据，不一致时返回 *MismatchError
func (e *Engine) Verify(name string, data []byte, expected types.Checksum) error {
	return compare(name, expected, e.Digest(data))
}

// VerifyReader 校验流式数据
func (e *Engine) VerifyReader(name string, r io.Reader, expected types.Checksum) error {
	actual, _, err := e.DigestReader(r)
	if err != nil {
		return err
	}
	return compare(name, expected, actual)
}

func compare(name string, expected, actual types.Checksum) error {
	if expected.Equal(actual) {
		return nil
	}
	return &MismatchError{
		Name:     name,
		Expected: expected.Normalize(),
		Actual:   actual,
	}
}

// IsMismatch 判断错误链中是否包含 MismatchError
func IsMismatch(err error) bool {
	var m *MismatchError
	return errors.As(err, &m)
}
