package meta

import (
	"context"
	"testing"

	"datasafe/pkg/checksum"
	"datasafe/pkg/format"
	"datasafe/pkg/loi"
	"datasafe/pkg/manifest"
	"datasafe/pkg/types"

	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// 通用辅助函数 (Helpers)
// -----------------------------------------------------------------------------

// setupTestRepo 构建隔离的测试环境 (每个测试一个内存库)
func setupTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := OpenMemory(t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(db)
}

// mustManifest 创建一个 registered Manifest，传入文件时再 populate
func mustManifest(t *testing.T, id string, files ...types.File) *manifest.Manifest {
	t.Helper()
	m, err := manifest.Create(loi.MustParse(id), types.SHA256)
	require.NoError(t, err)
	if len(files) == 0 {
		return m
	}
	p, err := m.Populate(context.Background(), checksum.MustNew(types.SHA256), format.Default(), types.FileSet{Files: files})
	require.NoError(t, err)
	return p
}

// mustIndex 强制索引，失败则终止
func mustIndex(t *testing.T, repo *Repository, m *manifest.Manifest, msgAndArgs ...any) {
	t.Helper()
	require.NoError(t, repo.IndexObject(context.Background(), m), msgAndArgs...)
}
