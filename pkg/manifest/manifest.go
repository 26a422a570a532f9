package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"time"

	"datasafe/pkg/checksum"
	"datasafe/pkg/loi"
	"datasafe/pkg/types"

	"gopkg.in/yaml.v3"
)

const (
	// Filename 是 Manifest 在对象目录中的文件名，对用户保留
	Filename = "MANIFEST.yaml"

	FormatType    = "datasafe dataset manifest"
	FormatVersion = "1.0.0"
)

var (
	ErrInvalidFormat   = errors.New("invalid manifest")
	ErrWrongState      = errors.New("manifest in wrong state")
	ErrEmptyFileSet    = errors.New("empty file set")
	ErrInvalidFilename = errors.New("invalid filename")
)

// Kind 是 Manifest 描述的对象种类
// 目前只有 dataset，新的种类作为新的常量加入，而不是子类型
type Kind string

const KindDataset Kind = "dataset"

func (k Kind) IsValid() bool { return k == KindDataset }

// Format 记录 Manifest 文档自身的格式版本
type Format struct {
	Type    string `yaml:"type" cbor:"type"`
	Version string `yaml:"version" cbor:"version"`
}

// Entry 是文件列表中的一项
type Entry struct {
	Name     string         `yaml:"name" cbor:"name"`
	Role     types.Role     `yaml:"role" cbor:"role"`
	Format   string         `yaml:"format" cbor:"format"`
	Checksum types.Checksum `yaml:"checksum" cbor:"checksum"`
	Size     int64          `yaml:"size" cbor:"size"`
}

// Spans 是按角色汇总的校验和
// Data 只覆盖数据文件，All 覆盖全部文件
type Spans struct {
	Data types.Checksum `yaml:"data" cbor:"data"`
	All  types.Checksum `yaml:"all" cbor:"all"`
}

// Manifest 是每个存储对象的记录
// 字段顺序即 YAML 中的键顺序
type Manifest struct {
	Format    Format          `yaml:"format" cbor:"format"`
	Kind      Kind            `yaml:"kind" cbor:"kind"`
	LOI       string          `yaml:"loi" cbor:"loi"`
	Revision  int64           `yaml:"revision" cbor:"revision"`
	Created   time.Time       `yaml:"created" cbor:"created"`
	Modified  time.Time       `yaml:"modified" cbor:"modified"`
	Algorithm types.Algorithm `yaml:"algorithm" cbor:"algorithm"`
	Files     []Entry         `yaml:"files" cbor:"files"`
	Checksums Spans           `yaml:"checksums" cbor:"checksums"`

	// Checksum 是对上面所有字段规范编码的摘要，不参与自身的计算
	Checksum types.Checksum `yaml:"checksum" cbor:"-"`
}

// 时间精确到秒，和 CBOR 的 Unix 时间编码保持一致
var now = func() time.Time { return time.Now().UTC().Truncate(time.Second) }

// Create 为刚注册的 LOI 创建空 Manifest (registered, revision 0)
func Create(id loi.LOI, alg types.Algorithm) (*Manifest, error) {
	if id.IsZero() || id.IsBase() {
		return nil, fmt.Errorf("%w: manifest needs a full LOI, got %q", loi.ErrInvalidFormat, id.String())
	}
	if !alg.IsValid() {
		return nil, fmt.Errorf("%w: %q", checksum.ErrUnsupportedAlgorithm, alg)
	}
	ts := now()
	m := &Manifest{
		Format:    Format{Type: FormatType, Version: FormatVersion},
		Kind:      KindDataset,
		LOI:       id.String(),
		Created:   ts,
		Modified:  ts,
		Algorithm: alg,
		Files:     []Entry{},
	}
	if err := m.Seal(); err != nil {
		return nil, err
	}
	return m, nil
}

// State 根据文件列表推导生命周期状态
func (m *Manifest) State() types.State {
	if m == nil {
		return types.StateUnregistered
	}
	if len(m.Files) == 0 {
		return types.StateRegistered
	}
	return types.StatePopulated
}

// Clone 深拷贝
func (m *Manifest) Clone() *Manifest {
	c := *m
	c.Files = slices.Clone(m.Files)
	if c.Files == nil {
		c.Files = []Entry{}
	}
	return &c
}

// Entry 按名字查找文件项
func (m *Manifest) Entry(name string) (Entry, bool) {
	for _, e := range m.Files {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// TotalSize 返回所有文件的字节数
func (m *Manifest) TotalSize() int64 {
	var total int64
	for _, e := range m.Files {
		total += e.Size
	}
	return total
}

// ParsedLOI 返回解析后的 LOI
func (m *Manifest) ParsedLOI() (loi.LOI, error) {
	return loi.NewParser().ParseFull(m.LOI)
}

func (m *Manifest) engine() (*checksum.Engine, error) {
	return checksum.New(m.Algorithm)
}

func (m *Manifest) computeSeal() (types.Checksum, error) {
	eng, err := m.engine()
	if err != nil {
		return "", err
	}
	sum, _, err := eng.DigestCanonical(m)
	if err != nil {
		return "", fmt.Errorf("seal manifest %s: %w", m.LOI, err)
	}
	return sum, nil
}

// Seal 重新计算 Manifest 自身的校验和，每次修改之后都必须调用
func (m *Manifest) Seal() error {
	sum, err := m.computeSeal()
	if err != nil {
		return err
	}
	m.Checksum = sum
	return nil
}

// CheckSeal 校验 Manifest 自身是否被篡改
func (m *Manifest) CheckSeal() error {
	sum, err := m.computeSeal()
	if err != nil {
		return err
	}
	if !sum.Equal(m.Checksum) {
		return &checksum.MismatchError{
			Name:     Filename,
			Expected: m.Checksum,
			Actual:   sum,
			Reason:   "manifest checksum mismatch",
		}
	}
	return nil
}

// Marshal 序列化为 YAML 文档
func (m *Manifest) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("encode manifest %s: %w", m.LOI, err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode manifest %s: %w", m.LOI, err)
	}
	return buf.Bytes(), nil
}

// Unmarshal 解析 YAML 文档并做结构校验
// 自校验和不在这里检查，调用方需要时用 CheckSeal
func Unmarshal(data []byte) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	if m.Files == nil {
		m.Files = []Entry{}
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	if m.Format.Type != FormatType {
		return fmt.Errorf("%w: unexpected format type %q", ErrInvalidFormat, m.Format.Type)
	}
	if m.Format.Version == "" {
		return fmt.Errorf("%w: missing format version", ErrInvalidFormat)
	}
	if !m.Kind.IsValid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidFormat, m.Kind)
	}
	if _, err := m.ParsedLOI(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if !m.Algorithm.IsValid() {
		return fmt.Errorf("%w: unknown algorithm %q", ErrInvalidFormat, m.Algorithm)
	}
	if m.Revision < 0 {
		return fmt.Errorf("%w: negative revision", ErrInvalidFormat)
	}
	seen := make(map[string]bool, len(m.Files))
	for _, e := range m.Files {
		if err := ValidateName(e.Name); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidFormat, err)
		}
		if seen[e.Name] {
			return fmt.Errorf("%w: duplicate file %q", ErrInvalidFormat, e.Name)
		}
		seen[e.Name] = true
		if !e.Checksum.IsValid(m.Algorithm) {
			return fmt.Errorf("%w: file %q has malformed checksum", ErrInvalidFormat, e.Name)
		}
		if e.Size < 0 {
			return fmt.Errorf("%w: file %q has negative size", ErrInvalidFormat, e.Name)
		}
	}
	if !m.Checksum.IsValid(m.Algorithm) {
		return fmt.Errorf("%w: malformed manifest checksum", ErrInvalidFormat)
	}
	return nil
}
