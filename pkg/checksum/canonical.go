package checksum

import (
	"fmt"

	"datasafe/pkg/types"

	"github.com/fxamacker/cbor/v2"
)

// 确定性的 CBOR 编码选项
// 同一个值永远得到同样的字节，Manifest 的自校验和依赖这一点
var encOptions = cbor.EncOptions{
	// 1. Map Key 排序 (Canonical)
	Sort: cbor.SortCanonical,

	// 2. 浮点数统一使用 64 位
	ShortestFloat: cbor.ShortestFloatNone,

	// 3. 时间编码为 Unix 整数，不带 Tag
	Time:    cbor.TimeUnix,
	TimeTag: cbor.EncTagNone,

	// 4. 禁止不定长编码
	IndefLength: cbor.IndefLengthForbidden,

	BigIntConvert: cbor.BigIntConvertShortest,
}

var em, _ = encOptions.EncMode()

var decOptions = cbor.DecOptions{
	// 限制容器大小和嵌套深度，防止恶意数据耗尽内存
	MaxArrayElements: 100000,
	MaxMapPairs:      10000,
	MaxNestedLevels:  32,

	IndefLength: cbor.IndefLengthForbidden,
	DupMapKey:   cbor.DupMapKeyEnforcedAPF,
	BignumTag:   cbor.BignumTagForbidden,
	TimeTag:     cbor.DecTagIgnored,
}

var dm, _ = decOptions.DecMode()

// Canonical 返回 v 的确定性 CBOR 编码
func Canonical(v any) ([]byte, error) {
	data, err := em.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal canonical form: %w", err)
	}
	return data, nil
}

// DecodeCanonical 是 Canonical 的逆操作
func DecodeCanonical(data []byte, v any) error {
	return dm.Unmarshal(data, v)
}

// DigestCanonical 计算 v 的规范编码的摘要，同时返回编码结果
func (e *Engine) DigestCanonical(v any) (types.Checksum, []byte, error) {
	data, err := Canonical(v)
	if err != nil {
		return "", nil, err
	}
	return e.Digest(data), data, nil
}
