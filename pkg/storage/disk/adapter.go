package disk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"

	"datasafe/pkg/lockmap"
	"datasafe/pkg/loi"
	"datasafe/pkg/manifest"
	"datasafe/pkg/storage"
	"datasafe/pkg/types"

	"golang.org/x/sync/errgroup"
)

const stagingDir = ".staging"

// 提交流程中可以注入故障的位置 (测试用)
const (
	phaseStaged        = "staged"
	phaseRevisionMoved = "revision-moved"
)

// Adapter 实现了 storage.Backend 接口
//
// 目录布局:
//
//	<root>/42.1001/ds/exp/sa/42/cwepr/21/MANIFEST.yaml
//	<root>/42.1001/ds/exp/sa/42/cwepr/21/rev-1/spectrum.dta
//	<root>/.staging/
//
// MANIFEST.yaml 的 Rename 是唯一的提交点
type Adapter struct {
	rootPath    string
	stagingPath string
	keepHistory bool
	locks       *lockmap.KeyedMutex
	log         *slog.Logger

	failpoint func(phase string) error
}

type Option func(*Adapter)

// WithHistory 为 true 时 update 之后保留旧 revision 的文件
func WithHistory(keep bool) Option {
	return func(a *Adapter) { a.keepHistory = keep }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) { a.log = l }
}

// NewAdapter 创建一个新的磁盘存储适配器
func NewAdapter(root string, opts ...Option) (*Adapter, error) {
	a := &Adapter{
		rootPath:    root,
		stagingPath: filepath.Join(root, stagingDir),
		locks:       lockmap.New(),
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}

	// 确保根目录和 staging 目录存在
	if err := os.MkdirAll(a.stagingPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root storage dir: %w", err)
	}
	// 上次崩溃遗留的 staging 内容没有被任何 Manifest 引用，可以直接清掉
	if entries, err := os.ReadDir(a.stagingPath); err == nil {
		for _, e := range entries {
			os.RemoveAll(filepath.Join(a.stagingPath, e.Name()))
		}
	}
	return a, nil
}

func (s *Adapter) Root() string { return s.rootPath }

// layout 返回 LOI 对应的对象目录，完全由 LOI 推导，不需要查表
func (s *Adapter) layout(id loi.LOI) string {
	return filepath.Join(append([]string{s.rootPath}, id.Segments()...)...)
}

func (s *Adapter) manifestPath(id loi.LOI) string {
	return filepath.Join(s.layout(id), manifest.Filename)
}

func (s *Adapter) fail(phase string) error {
	if s.failpoint == nil {
		return nil
	}
	return s.failpoint(phase)
}

// loadManifest 读取 Manifest，不存在时返回 (nil, nil)
func (s *Adapter) loadManifest(id loi.LOI) (*manifest.Manifest, error) {
	data, err := os.ReadFile(s.manifestPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest of %s: %w", id, err)
	}
	m, err := manifest.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("load manifest of %s: %w", id, err)
	}
	return m, nil
}

func (s *Adapter) Reserve(ctx context.Context, id loi.LOI, m *manifest.Manifest) error {
	unlock := s.locks.Lock(id.String())
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	dir := s.layout(id)
	// 1. 检查是否已存在
	if _, err := os.Stat(filepath.Join(dir, manifest.Filename)); err == nil {
		return fmt.Errorf("%w: %s", storage.ErrAlreadyExists, id)
	}

	data, err := m.Marshal()
	if err != nil {
		return err
	}

	// 2. 在 staging 中准备好完整的对象目录
	stage, err := os.MkdirTemp(s.stagingPath, "reserve-*")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(stage)

	if err := writeFile(filepath.Join(stage, manifest.Filename), data); err != nil {
		return err
	}

	// 3. 整个目录 Rename 到位，目标非空时失败
	if err := os.MkdirAll(filepath.Dir(dir), 0755); err != nil {
		return err
	}
	if err := os.Rename(stage, dir); err != nil {
		if _, statErr := os.Stat(dir); statErr == nil {
			return fmt.Errorf("%w: %s", storage.ErrAlreadyExists, id)
		}
		return fmt.Errorf("reserve %s: %w", id, err)
	}
	syncDir(filepath.Dir(dir))

	s.log.Info("object reserved", "loi", id.String())
	return nil
}

func (s *Adapter) Store(ctx context.Context, id loi.LOI, files types.FileSet, mutate storage.Mutation) error {
	unlock := s.locks.Lock(id.String())
	defer unlock()

	cur, err := s.loadManifest(id)
	if err != nil {
		return err
	}
	if err := storage.CheckStore(id, cur); err != nil {
		return err
	}
	next, err := storage.ApplyMutation(id, cur, mutate)
	if err != nil {
		return err
	}
	return s.commit(ctx, id, cur, next, files)
}

func (s *Adapter) Replace(ctx context.Context, id loi.LOI, files types.FileSet, mutate storage.Mutation) error {
	unlock := s.locks.Lock(id.String())
	defer unlock()

	cur, err := s.loadManifest(id)
	if err != nil {
		return err
	}
	if err := storage.CheckReplace(id, cur); err != nil {
		return err
	}
	next, err := storage.ApplyMutation(id, cur, mutate)
	if err != nil {
		return err
	}
	return s.commit(ctx, id, cur, next, files)
}

// commit 把文件和新 Manifest 原子地写入对象目录
// 调用方必须持有该 LOI 的锁
func (s *Adapter) commit(ctx context.Context, id loi.LOI, cur, next *manifest.Manifest, files types.FileSet) error {
	dir := s.layout(id)

	// 1. 所有文件先写到 staging
	stage, err := os.MkdirTemp(s.stagingPath, "commit-*")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(stage)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for _, f := range files.Files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return writeFile(filepath.Join(stage, filepath.FromSlash(f.Name)), f.Data)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("stage files for %s: %w", id, err)
	}

	// 2. 从磁盘重新校验一遍，确保落盘的内容就是 Manifest 记录的内容
	integrity, err := next.Verify(ctx, dirOpener(stage))
	if err != nil {
		return err
	}
	if err := integrity.Error(); err != nil {
		return fmt.Errorf("staged files for %s do not match manifest: %w", id, err)
	}
	if err := s.fail(phaseStaged); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// 3. revision 目录移动到位 (此时还没有 Manifest 引用它)
	target := filepath.Join(dir, storage.RevisionDir(next.Revision))
	if err := os.RemoveAll(target); err != nil {
		return err
	}
	if err := os.Rename(stage, target); err != nil {
		return fmt.Errorf("move revision into place for %s: %w", id, err)
	}

	// 4. 提交点: Manifest 原子替换
	data, err := next.Marshal()
	if err == nil {
		err = s.fail(phaseRevisionMoved)
	}
	if err == nil {
		err = writeFileAtomic(s.manifestPath(id), data)
	}
	if err != nil {
		os.RemoveAll(target)
		return fmt.Errorf("commit manifest for %s: %w", id, err)
	}

	// 5. 清理旧 revision (失败只影响磁盘占用)
	if cur.Revision > 0 && !s.keepHistory {
		old := filepath.Join(dir, storage.RevisionDir(cur.Revision))
		if err := os.RemoveAll(old); err != nil {
			s.log.Warn("failed to remove old revision", "loi", id.String(), "revision", cur.Revision, "error", err)
		}
	}

	s.log.Debug("revision stored",
		"loi", id.String(),
		"revision", next.Revision,
		"path", target,
	)
	return nil
}

func dirOpener(root string) manifest.Opener {
	return func(name string) (io.ReadCloser, error) {
		return os.Open(filepath.Join(root, filepath.FromSlash(name)))
	}
}

// Retrieve 持有该 LOI 的锁读取 Manifest 和文件
// 并发的 Replace 会删除旧 revision 目录，不加锁会读到一半消失的文件
func (s *Adapter) Retrieve(ctx context.Context, id loi.LOI) (*manifest.Manifest, types.FileSet, error) {
	unlock := s.locks.Lock(id.String())
	defer unlock()

	m, err := s.Manifest(ctx, id)
	if err != nil {
		return nil, types.FileSet{}, err
	}

	set := types.FileSet{Algorithm: m.Algorithm, Files: make([]types.File, 0, len(m.Files))}
	revDir := filepath.Join(s.layout(id), storage.RevisionDir(m.Revision))
	for _, e := range m.Files {
		if err := ctx.Err(); err != nil {
			return nil, types.FileSet{}, err
		}
		data, err := os.ReadFile(filepath.Join(revDir, filepath.FromSlash(e.Name)))
		if errors.Is(err, fs.ErrNotExist) {
			// 缺失的文件交给完整性检查报告
			continue
		}
		if err != nil {
			return nil, types.FileSet{}, fmt.Errorf("read %s of %s: %w", e.Name, id, err)
		}
		set.Files = append(set.Files, types.File{Name: e.Name, Data: data, Checksum: e.Checksum})
	}
	return m, set, nil
}

func (s *Adapter) Manifest(ctx context.Context, id loi.LOI) (*manifest.Manifest, error) {
	m, err := s.loadManifest(id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	return m, nil
}

func (s *Adapter) Exists(ctx context.Context, id loi.LOI) (bool, error) {
	_, err := os.Stat(s.manifestPath(id))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// serialDirs 返回 base 目录下所有名字是合法序号的子目录
func (s *Adapter) serialDirs(base loi.LOI) ([]int64, error) {
	entries, err := os.ReadDir(s.layout(base.Base()))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var serials []int64
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		n, err := strconv.ParseInt(e.Name(), 10, 64)
		if err != nil || n <= 0 || strconv.FormatInt(n, 10) != e.Name() {
			continue
		}
		serials = append(serials, n)
	}
	slices.Sort(serials)
	return serials, nil
}

func (s *Adapter) List(ctx context.Context, base loi.LOI) ([]loi.LOI, error) {
	serials, err := s.serialDirs(base)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", base, err)
	}
	out := make([]loi.LOI, 0, len(serials))
	for _, n := range serials {
		id := base.WithSerial(n)
		ok, err := s.Exists(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *Adapter) HighestSerial(ctx context.Context, base loi.LOI) (int64, error) {
	serials, err := s.serialDirs(base)
	if err != nil {
		return 0, fmt.Errorf("scan %s: %w", base, err)
	}
	if len(serials) == 0 {
		return 0, nil
	}
	return serials[len(serials)-1], nil
}

var _ storage.Backend = (*Adapter)(nil)
