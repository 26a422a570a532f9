package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"datasafe/pkg/app"
	"datasafe/pkg/checksum"
	"datasafe/pkg/loi"
	"datasafe/pkg/manifest"
	"datasafe/pkg/meta"
	"datasafe/pkg/storage"
	"datasafe/pkg/types"
)

// maxCreateAttempts 限制 Create 遇到已被占用的序号时的重试次数
// 只有计数器落后于存储 (例如另一个实例绕过数据库写入) 时才会发生
const maxCreateAttempts = 8

// Datasafe 是服务端的核心编排：LOI 分配 -> Manifest -> 存储 -> 索引
// 每个 LOI 的状态机：unregistered -> registered -> populated
type Datasafe struct {
	store   storage.Backend
	alloc   *loi.Allocator
	parser  *loi.Parser
	engine  *checksum.Engine
	formats manifest.Classifier
	db      *meta.DB
	repo    *meta.Repository
	log     *slog.Logger
}

func NewDatasafe(application *app.App) *Datasafe {
	return &Datasafe{
		store:   application.Store,
		alloc:   application.Allocator,
		parser:  application.Parser,
		engine:  application.Engine,
		formats: application.Formats,
		db:      application.DB,
		repo:    application.Repository,
		log:     slog.Default().With("component", "datasafe"),
	}
}

// ObjectInfo 是 List 返回的一行
type ObjectInfo struct {
	LOI       string
	State     types.State
	Revision  int64
	Files     int
	TotalSize int64
	Modified  time.Time
}

// Health 是 Heartbeat 的结果
type Health struct {
	Algorithm types.Algorithm
	Time      time.Time
}

// =============================================================================
// 1. Create
// =============================================================================

// Create 在 base LOI 下分配一个新的序号并注册一个空对象
func (s *Datasafe) Create(ctx context.Context, base string) (loi.LOI, error) {
	b, err := s.parser.ParseBase(base)
	if err != nil {
		return loi.LOI{}, err
	}

	for attempt := 1; attempt <= maxCreateAttempts; attempt++ {
		// 1. 分配：序号一旦发出就不会再用，即使后面失败
		id, err := s.alloc.AllocateNext(ctx, b)
		if err != nil {
			return loi.LOI{}, err
		}

		// 2. 注册
		m, err := manifest.Create(id, s.engine.Algorithm())
		if err != nil {
			return loi.LOI{}, err
		}
		err = s.store.Reserve(ctx, id, m)
		if errors.Is(err, storage.ErrAlreadyExists) {
			s.log.Warn("serial already taken in storage, skipping", "loi", id.String(), "attempt", attempt)
			continue
		}
		if err != nil {
			return loi.LOI{}, err
		}

		// 3. 索引 (非关键路径)
		s.index(ctx, m)
		s.log.Info("object created", "loi", id.String())
		return id, nil
	}
	return loi.LOI{}, fmt.Errorf("%w: no free serial under %s after %d attempts", storage.ErrAlreadyExists, b, maxCreateAttempts)
}

// =============================================================================
// 2. Upload / Update
// =============================================================================

// Upload 第一次写入文件，对象必须处于 registered 状态
func (s *Datasafe) Upload(ctx context.Context, id string, files types.FileSet) (*manifest.Manifest, error) {
	return s.write(ctx, id, files, false)
}

// Update 用新的完整文件集替换 populated 对象，revision + 1
func (s *Datasafe) Update(ctx context.Context, id string, files types.FileSet) (*manifest.Manifest, error) {
	return s.write(ctx, id, files, true)
}

func (s *Datasafe) write(ctx context.Context, raw string, files types.FileSet, replace bool) (*manifest.Manifest, error) {
	id, err := s.parser.ParseFull(raw)
	if err != nil {
		return nil, err
	}

	// 1. 传输校验：客户端声明的摘要必须和收到的内容一致
	if err := verifyDeclared(files); err != nil {
		return nil, err
	}

	// 2. 在对象锁内基于当前 Manifest 计算新 Manifest
	var committed *manifest.Manifest
	mutate := func(cur *manifest.Manifest) (*manifest.Manifest, error) {
		var (
			next *manifest.Manifest
			err  error
		)
		if replace {
			next, err = cur.Replace(ctx, s.engine, s.formats, files)
		} else {
			next, err = cur.Populate(ctx, s.engine, s.formats, files)
		}
		committed = next
		return next, err
	}

	// 3. 原子提交
	if replace {
		err = s.store.Replace(ctx, id, files, mutate)
	} else {
		err = s.store.Store(ctx, id, files, mutate)
	}
	if err != nil {
		return nil, err
	}

	s.index(ctx, committed)
	s.log.Info("object committed",
		"loi", id.String(),
		"revision", committed.Revision,
		"files", len(committed.Files),
		"size", committed.TotalSize(),
	)
	return committed, nil
}

// verifyDeclared 逐个校验带有声明摘要的文件
// 没有声明摘要的文件跳过；声明了摘要但没有声明算法时按默认算法处理
func verifyDeclared(files types.FileSet) error {
	alg := files.Algorithm
	if alg == "" {
		alg = checksum.DefaultAlgorithm
	}
	var eng *checksum.Engine
	for _, f := range files.Files {
		if f.Checksum.IsZero() {
			continue
		}
		if eng == nil {
			var err error
			if eng, err = checksum.New(alg); err != nil {
				return err
			}
		}
		if err := eng.Verify(f.Name, f.Data, f.Checksum); err != nil {
			return fmt.Errorf("transfer check failed: %w", err)
		}
	}
	return nil
}

// =============================================================================
// 3. Download / Check
// =============================================================================

// Download 返回 populated 对象的 Manifest、文件和完整性检查结果
// 不一致不会导致失败，由调用方决定如何处理告警
func (s *Datasafe) Download(ctx context.Context, raw string) (*manifest.Manifest, types.FileSet, manifest.Integrity, error) {
	id, err := s.parser.ParseFull(raw)
	if err != nil {
		return nil, types.FileSet{}, manifest.Integrity{}, err
	}

	m, files, err := s.store.Retrieve(ctx, id)
	if err != nil {
		return nil, types.FileSet{}, manifest.Integrity{}, err
	}
	if m.State() != types.StatePopulated {
		return nil, types.FileSet{}, manifest.Integrity{}, fmt.Errorf("%w: %s", storage.ErrNoContent, id)
	}

	integ, err := m.Check(ctx, files)
	if err != nil {
		return nil, types.FileSet{}, manifest.Integrity{}, err
	}
	if !integ.OK() {
		s.log.Warn("integrity check failed on download",
			"loi", id.String(),
			"warnings", integ.Warnings(),
			"mismatches", len(integ.Mismatches),
		)
	}
	return m, files, integ, nil
}

// Check 对一个对象做完整性检查，registered 对象只检查 Manifest 本身
func (s *Datasafe) Check(ctx context.Context, raw string) (*manifest.Manifest, manifest.Integrity, error) {
	id, err := s.parser.ParseFull(raw)
	if err != nil {
		return nil, manifest.Integrity{}, err
	}
	m, files, err := s.store.Retrieve(ctx, id)
	if err != nil {
		return nil, manifest.Integrity{}, err
	}
	integ, err := m.Check(ctx, files)
	if err != nil {
		return nil, manifest.Integrity{}, err
	}
	if !integ.OK() {
		s.log.Warn("integrity check failed", "loi", id.String(), "warnings", integ.Warnings())
	}
	return m, integ, nil
}

// =============================================================================
// 4. Exists / List / Heartbeat
// =============================================================================

// Exists 判断 LOI 是否已经注册
func (s *Datasafe) Exists(ctx context.Context, raw string) (bool, error) {
	id, err := s.parser.ParseFull(raw)
	if err != nil {
		return false, err
	}
	return s.store.Exists(ctx, id)
}

// List 列出对象
// 给定 base 时以存储为准，用索引补全摘要信息，缺失的索引顺便修复；
// base 为空时直接返回索引中的全部对象
func (s *Datasafe) List(ctx context.Context, base string) ([]ObjectInfo, error) {
	if base == "" {
		if s.repo == nil {
			return nil, fmt.Errorf("%w: listing without a base requires the object index", loi.ErrInvalidFormat)
		}
		rows, err := s.repo.ListObjects(ctx, "", 0)
		if err != nil {
			return nil, err
		}
		out := make([]ObjectInfo, 0, len(rows))
		for _, r := range rows {
			out = append(out, infoFromModel(r))
		}
		return out, nil
	}

	b, err := s.parser.ParseBase(base)
	if err != nil {
		return nil, err
	}
	ids, err := s.store.List(ctx, b)
	if err != nil {
		return nil, err
	}

	indexed := map[string]meta.ObjectModel{}
	if s.repo != nil {
		rows, err := s.repo.ListObjects(ctx, b.String(), 0)
		if err != nil {
			s.log.Warn("object index unavailable, reading manifests", "base", b.String(), "error", err)
		}
		for _, r := range rows {
			indexed[r.LOI] = r
		}
	}

	out := make([]ObjectInfo, 0, len(ids))
	for _, id := range ids {
		if r, ok := indexed[id.String()]; ok {
			out = append(out, infoFromModel(r))
			continue
		}
		m, err := s.store.Manifest(ctx, id)
		if err != nil {
			return nil, err
		}
		s.index(ctx, m)
		out = append(out, infoFromManifest(m))
	}
	return out, nil
}

// Heartbeat 检查依赖是否可用
func (s *Datasafe) Heartbeat(ctx context.Context) (Health, error) {
	if s.db != nil {
		if err := s.db.Ping(ctx); err != nil {
			return Health{}, fmt.Errorf("database unavailable: %w", err)
		}
	}
	return Health{Algorithm: s.engine.Algorithm(), Time: time.Now().UTC()}, nil
}

// index 把 Manifest 写进索引；失败只记录日志，存储才是事实来源
func (s *Datasafe) index(ctx context.Context, m *manifest.Manifest) {
	if s.repo == nil || m == nil {
		return
	}
	if err := s.repo.IndexObject(ctx, m); err != nil {
		s.log.Warn("failed to index object", "loi", m.LOI, "error", err)
	}
}

func infoFromModel(r meta.ObjectModel) ObjectInfo {
	return ObjectInfo{
		LOI:       r.LOI,
		State:     types.State(r.State),
		Revision:  r.Revision,
		Files:     r.FileCount,
		TotalSize: r.TotalSize,
		Modified:  r.Modified,
	}
}

func infoFromManifest(m *manifest.Manifest) ObjectInfo {
	return ObjectInfo{
		LOI:       m.LOI,
		State:     m.State(),
		Revision:  m.Revision,
		Files:     len(m.Files),
		TotalSize: m.TotalSize(),
		Modified:  m.Modified,
	}
}
