package format

import (
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
	"sync"

	"datasafe/pkg/types"
)

var (
	ErrDuplicateFormat = errors.New("format already registered")
	ErrInvalidDetector = errors.New("invalid format detector")
)

// Unknown 是没有任何 detector 命中时的格式名
const Unknown = "unknown"

// Detector 负责识别一种文件格式
type Detector interface {
	// ID 是格式的唯一标识，会写入 Manifest
	ID() string
	// Role 决定文件属于数据还是元数据
	Role() types.Role
	// Match 根据相对路径判断是否属于该格式
	Match(name string) bool
}

// ExtensionDetector 按扩展名识别格式 (大小写不敏感)
type ExtensionDetector struct {
	Format     string
	FileRole   types.Role
	Extensions []string
}

func (d ExtensionDetector) ID() string       { return d.Format }
func (d ExtensionDetector) Role() types.Role { return d.FileRole }

func (d ExtensionDetector) Match(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	if ext == "" {
		return false
	}
	for _, e := range d.Extensions {
		if normalizeExt(e) == ext {
			return true
		}
	}
	return false
}

func normalizeExt(e string) string {
	e = strings.ToLower(strings.TrimSpace(e))
	if e != "" && !strings.HasPrefix(e, ".") {
		e = "." + e
	}
	return e
}

// Registry 维护 format id -> detector 的映射
// 注册顺序即匹配优先级
type Registry struct {
	mu        sync.RWMutex
	detectors []Detector
	byID      map[string]Detector
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Detector)}
}

// Register 添加一个 detector，ID 重复时报错
func (r *Registry) Register(d Detector) error {
	if d == nil || d.ID() == "" {
		return ErrInvalidDetector
	}
	if d.Role() != types.RoleData && d.Role() != types.RoleMetadata {
		return fmt.Errorf("%w: %s has role %q", ErrInvalidDetector, d.ID(), d.Role())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[d.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateFormat, d.ID())
	}
	r.byID[d.ID()] = d
	r.detectors = append(r.detectors, d)
	return nil
}

// Detect 返回文件的格式和角色
// 没有命中时视为未知格式的数据文件 (数据比元数据需要更严格的保护)
func (r *Registry) Detect(name string) (string, types.Role) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.detectors {
		if d.Match(name) {
			return d.ID(), d.Role()
		}
	}
	return Unknown, types.RoleData
}

// Lookup 按 ID 查找 detector
func (r *Registry) Lookup(id string) (Detector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[id]
	return d, ok
}

// Formats 返回已注册的所有格式 ID (排序后)
func (r *Registry) Formats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// DefaultMetadataExtensions 是默认的元数据扩展名
var DefaultMetadataExtensions = []string{".info", ".yaml", ".yml"}

// DefaultDataFormats 是默认的数据格式
var DefaultDataFormats = map[string][]string{
	"bes3t": {".dta", ".dsc"},
	"csv":   {".csv"},
	"hdf5":  {".h5", ".hdf5"},
	"npy":   {".npy"},
}

// Config 对应配置文件中的 formats 段
type Config struct {
	MetadataExtensions []string
	Data               map[string][]string
}

// New 根据配置构建 Registry
// 元数据 detector 优先，数据格式按 ID 排序保证结果稳定
func New(cfg Config) (*Registry, error) {
	r := NewRegistry()

	meta := cfg.MetadataExtensions
	if len(meta) == 0 {
		meta = DefaultMetadataExtensions
	}
	if err := r.Register(ExtensionDetector{Format: "metadata", FileRole: types.RoleMetadata, Extensions: meta}); err != nil {
		return nil, err
	}

	data := cfg.Data
	if len(data) == 0 {
		data = DefaultDataFormats
	}
	ids := make([]string, 0, len(data))
	for id := range data {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		if err := r.Register(ExtensionDetector{Format: id, FileRole: types.RoleData, Extensions: data[id]}); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Default 使用内置默认值构建 Registry
func Default() *Registry {
	r, err := New(Config{})
	if err != nil {
		panic(err)
	}
	return r
}
