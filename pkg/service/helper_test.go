package service

import (
	"context"
	"path/filepath"
	"testing"

	"datasafe/pkg/app"
	"datasafe/pkg/checksum"
	"datasafe/pkg/config"
	"datasafe/pkg/format"
	"datasafe/pkg/loi"
	"datasafe/pkg/manifest"
	"datasafe/pkg/meta"
	"datasafe/pkg/storage"
	"datasafe/pkg/storage/disk"
	"datasafe/pkg/types"

	"github.com/stretchr/testify/require"
)

// setupTestApp 是所有 Service 测试共享的基础设施初始化逻辑
// 它返回构建好的 App 实例和底层磁盘存储
func setupTestApp(t *testing.T) (*app.App, *disk.Adapter) {
	t.Helper()

	// 1. Store
	store, err := disk.NewAdapter(filepath.Join(t.TempDir(), "objects"))
	require.NoError(t, err)

	// 2. DB & Meta
	db, err := meta.OpenMemory(t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	repo := meta.NewRepository(db)

	return &app.App{
		Settings:   config.Settings{Checksum: config.ChecksumSettings{Algorithm: types.SHA256}},
		Store:      store,
		DB:         db,
		Repository: repo,
		Allocator:  loi.NewAllocator(repo, store.HighestSerial),
		Parser:     loi.NewParser(loi.DefaultMethods...),
		Engine:     checksum.MustNew(types.SHA256),
		Formats:    format.Default(),
	}, store
}

func setupDatasafe(t *testing.T) (*Datasafe, *disk.Adapter) {
	a, store := setupTestApp(t)
	return NewDatasafe(a), store
}

// sampleFiles 返回一组带声明摘要的文件
func sampleFiles(contents map[string]string) types.FileSet {
	eng := checksum.MustNew(types.SHA256)
	fs := types.FileSet{Algorithm: types.SHA256}
	for name, body := range contents {
		fs.Files = append(fs.Files, types.File{
			Name:     name,
			Data:     []byte(body),
			Checksum: eng.Digest([]byte(body)),
		})
	}
	return fs
}

// reserveDirect 绕过计数器直接在存储里注册一个对象
func reserveDirect(t *testing.T, store storage.Backend, raw string) {
	t.Helper()
	id := loi.MustParse(raw)
	m, err := manifest.Create(id, types.SHA256)
	require.NoError(t, err)
	require.NoError(t, store.Reserve(context.Background(), id, m))
}

// faultyBackend 在计算出新 Manifest 之后、提交之前失败，模拟写入中途崩溃
type faultyBackend struct {
	storage.Backend
	failures int
}

func (f *faultyBackend) Store(ctx context.Context, id loi.LOI, files types.FileSet, mutate storage.Mutation) error {
	if f.failures > 0 {
		f.failures--
		cur, err := f.Backend.Manifest(ctx, id)
		if err != nil {
			return err
		}
		if _, err := mutate(cur); err != nil {
			return err
		}
		return context.DeadlineExceeded
	}
	return f.Backend.Store(ctx, id, files, mutate)
}
