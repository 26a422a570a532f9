package dsrpcv1

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"google.golang.org/grpc/encoding"
)

// CodecName 是请求 content-subtype，完整的 content-type 为 application/grpc+cbor
const CodecName = "cbor"

var (
	encMode, _ = cbor.CoreDetEncOptions().EncMode()
	decMode, _ = cbor.DecOptions{
		MaxArrayElements: 1 << 20,
		MaxMapPairs:      1 << 20,
	}.DecMode()
)

// codec 用确定性 CBOR 编码消息结构体，不依赖 protobuf 生成代码
type codec struct{}

func (codec) Name() string { return CodecName }

func (codec) Marshal(v any) ([]byte, error) {
	b, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cbor marshal %T: %w", v, err)
	}
	return b, nil
}

func (codec) Unmarshal(data []byte, v any) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("cbor unmarshal %T: %w", v, err)
	}
	return nil
}

func init() {
	encoding.RegisterCodec(codec{})
}
