package loi

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrInvalidFormat LOI 字符串不符合语法
	ErrInvalidFormat = errors.New("invalid LOI format")
	// ErrAllocationExhausted 序号已经到达 int64 上限
	ErrAllocationExhausted = errors.New("serial allocation exhausted")
)

const (
	Root      = "42"
	Separator = "/"

	CategoryDataset    = "ds"
	SubtypeExperiment  = "exp"
	SubtypeCalculation = "calc"
)

// DefaultMethods 是默认允许的测量方法
var DefaultMethods = []string{"cwepr", "trepr"}

// calc 分支下允许的对象种类
var calcObjects = map[string]bool{"geo": true, "result": true}

// 样品 ID 的两种前缀: ba (batch) / sa (sample)
var sampleKinds = map[string]bool{"ba": true, "sa": true}

var (
	segmentPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)
	prefixPattern  = regexp.MustCompile(`^42\.[a-z0-9]+$`)
	datePattern    = regexp.MustCompile(`^\d{4}-[0-1]\d-[0-3]\d$`)
	numberPattern  = regexp.MustCompile(`^[1-9][0-9]*$`)
)

// LOI (Lab Object Identifier) 是数据集的层级化持久标识符
//
//	42.1001/ds/exp/sa/42/cwepr/21
//	42.1001/ds/exp/2020-04-25/trepr/3
//	42.1001/ds/calc/geo/7
//
// Serial 为 0 表示 base LOI (即去掉最后的序号)
type LOI struct {
	Prefix   string // "42.1001"
	Category string // 目前只有 "ds"
	Subtype  string // "exp" | "calc"
	SampleID string // "sa/42" 或 "2020-04-25"；calc 为空
	Method   string // 测量方法；calc 分支下是对象种类 (geo/result)
	Serial   int64
}

// IsBase 判断是否是不带序号的 base LOI
func (l LOI) IsBase() bool { return l.Serial == 0 }

// Base 返回去掉序号后的 LOI
func (l LOI) Base() LOI {
	l.Serial = 0
	return l
}

// WithSerial 返回带指定序号的 LOI
func (l LOI) WithSerial(n int64) LOI {
	l.Serial = n
	return l
}

// Segments 返回按 "/" 拆分的所有段，可直接用于拼接存储路径
func (l LOI) Segments() []string {
	segs := []string{l.Prefix, l.Category, l.Subtype}
	if l.SampleID != "" {
		segs = append(segs, strings.Split(l.SampleID, Separator)...)
	}
	segs = append(segs, l.Method)
	if l.Serial > 0 {
		segs = append(segs, strconv.FormatInt(l.Serial, 10))
	}
	return segs
}

// String 返回规范形式 (base LOI 不带结尾的 "/")
func (l LOI) String() string {
	return strings.Join(l.Segments(), Separator)
}

func (l LOI) IsZero() bool { return l.Prefix == "" }

// Issuer 返回前缀中 "42." 之后的部分
func (l LOI) Issuer() string {
	return strings.TrimPrefix(l.Prefix, Root+".")
}

// Parser 负责 LOI 的解析和校验
// methods 为空时不限制测量方法 (只校验字符集)
type Parser struct {
	methods map[string]bool
}

// NewParser 创建一个只接受给定测量方法的解析器
func NewParser(methods ...string) *Parser {
	p := &Parser{methods: make(map[string]bool, len(methods))}
	for _, m := range methods {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" {
			p.methods[m] = true
		}
	}
	return p
}

var defaultParser = NewParser(DefaultMethods...)

// Parse 使用默认方法列表解析 LOI
func Parse(s string) (LOI, error) { return defaultParser.Parse(s) }

// ParseBase 解析 base LOI，带序号时报错
func ParseBase(s string) (LOI, error) { return defaultParser.ParseBase(s) }

// ParseFull 解析完整 LOI，缺少序号时报错
func ParseFull(s string) (LOI, error) { return defaultParser.ParseFull(s) }

// Validate 只做校验
func Validate(s string) error {
	_, err := defaultParser.Parse(s)
	return err
}

// MustParse 用于测试和常量
func MustParse(s string) LOI {
	l, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return l
}

func invalid(s, format string, args ...any) error {
	return fmt.Errorf("%w: %q: %s", ErrInvalidFormat, s, fmt.Sprintf(format, args...))
}

// Parse 解析 base LOI 或完整 LOI
func (p *Parser) Parse(s string) (LOI, error) {
	raw := strings.TrimSpace(s)
	// base LOI 允许一个结尾的 "/"
	trimmed := strings.TrimSuffix(raw, Separator)
	if trimmed == "" {
		return LOI{}, invalid(s, "empty identifier")
	}

	segs := strings.Split(trimmed, Separator)
	for i, seg := range segs {
		if seg == "" {
			return LOI{}, invalid(s, "empty segment at position %d", i)
		}
		if i == 0 {
			continue
		}
		if !segmentPattern.MatchString(seg) {
			return LOI{}, invalid(s, "segment %q contains illegal characters", seg)
		}
	}

	// 1. 前缀: 42.<issuer>
	if !prefixPattern.MatchString(segs[0]) {
		return LOI{}, invalid(s, "prefix %q must look like %s.<issuer>", segs[0], Root)
	}
	if len(segs) < 2 || segs[1] != CategoryDataset {
		return LOI{}, invalid(s, "not a datasafe LOI (category must be %q)", CategoryDataset)
	}
	if len(segs) < 3 {
		return LOI{}, invalid(s, "missing subtype")
	}

	l := LOI{Prefix: segs[0], Category: segs[1], Subtype: segs[2]}
	var rest []string

	// 2. 按 subtype 分支
	switch l.Subtype {
	case SubtypeExperiment:
		if len(segs) < 4 {
			return LOI{}, invalid(s, "missing sample id")
		}
		switch {
		case datePattern.MatchString(segs[3]):
			l.SampleID = segs[3]
			rest = segs[4:]
		case sampleKinds[segs[3]]:
			if len(segs) < 5 || !numberPattern.MatchString(segs[4]) {
				return LOI{}, invalid(s, "sample id %q must be followed by a number", segs[3])
			}
			l.SampleID = segs[3] + Separator + segs[4]
			rest = segs[5:]
		default:
			return LOI{}, invalid(s, "sample id must be a date (YYYY-MM-DD) or ba|sa/<number>")
		}
		if len(rest) == 0 {
			return LOI{}, invalid(s, "missing method")
		}
		if len(p.methods) > 0 && !p.methods[rest[0]] {
			return LOI{}, invalid(s, "unknown method %q", rest[0])
		}
		l.Method = rest[0]
		rest = rest[1:]

	case SubtypeCalculation:
		if len(segs) < 4 || !calcObjects[segs[3]] {
			return LOI{}, invalid(s, "calculation object must be geo or result")
		}
		l.Method = segs[3]
		rest = segs[4:]

	default:
		return LOI{}, invalid(s, "unknown subtype %q", l.Subtype)
	}

	// 3. 可选的序号
	switch len(rest) {
	case 0:
	case 1:
		if strings.HasSuffix(raw, Separator) {
			return LOI{}, invalid(s, "trailing separator after serial")
		}
		n, err := parseSerial(rest[0])
		if err != nil {
			return LOI{}, invalid(s, "%v", err)
		}
		l.Serial = n
	default:
		return LOI{}, invalid(s, "unexpected trailing segments %v", rest[1:])
	}

	return l, nil
}

// ParseBase 要求输入不带序号
func (p *Parser) ParseBase(s string) (LOI, error) {
	l, err := p.Parse(s)
	if err != nil {
		return LOI{}, err
	}
	if !l.IsBase() {
		return LOI{}, invalid(s, "expected a base LOI without serial")
	}
	return l, nil
}

// ParseFull 要求输入带序号
func (p *Parser) ParseFull(s string) (LOI, error) {
	l, err := p.Parse(s)
	if err != nil {
		return LOI{}, err
	}
	if l.IsBase() {
		return LOI{}, invalid(s, "missing serial")
	}
	return l, nil
}

func parseSerial(seg string) (int64, error) {
	if !numberPattern.MatchString(seg) {
		return 0, fmt.Errorf("serial %q must be a positive integer", seg)
	}
	n, err := strconv.ParseInt(seg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("serial %q out of range", seg)
	}
	return n, nil
}
