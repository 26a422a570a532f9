package disk

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"datasafe/pkg/checksum"
	"datasafe/pkg/format"
	"datasafe/pkg/loi"
	"datasafe/pkg/manifest"
	"datasafe/pkg/storage"
	"datasafe/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testEngine = checksum.MustNew(types.SHA256)
	testID     = loi.MustParse("42.1001/ds/exp/sa/42/cwepr/21")
)

func newTestAdapter(t *testing.T, opts ...Option) *Adapter {
	t.Helper()
	a, err := NewAdapter(t.TempDir(), opts...)
	require.NoError(t, err)
	return a
}

func reserve(t *testing.T, a *Adapter, id loi.LOI) {
	t.Helper()
	m, err := manifest.Create(id, types.SHA256)
	require.NoError(t, err)
	require.NoError(t, a.Reserve(context.Background(), id, m))
}

func files(pairs ...string) types.FileSet {
	fs := types.FileSet{Algorithm: types.SHA256}
	for i := 0; i+1 < len(pairs); i += 2 {
		fs.Files = append(fs.Files, types.File{Name: pairs[i], Data: []byte(pairs[i+1])})
	}
	return fs
}

func populate(ctx context.Context, fs types.FileSet) storage.Mutation {
	return func(cur *manifest.Manifest) (*manifest.Manifest, error) {
		return cur.Populate(ctx, testEngine, format.Default(), fs)
	}
}

func replace(ctx context.Context, fs types.FileSet) storage.Mutation {
	return func(cur *manifest.Manifest) (*manifest.Manifest, error) {
		return cur.Replace(ctx, testEngine, format.Default(), fs)
	}
}

func TestDiskAdapter_Lifecycle(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)

	// 1. 未注册
	ok, err := a.Exists(ctx, testID)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = a.Manifest(ctx, testID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// 2. Reserve
	reserve(t, a, testID)
	ok, err = a.Exists(ctx, testID)
	require.NoError(t, err)
	assert.True(t, ok)

	// 路径完全由 LOI 推导
	_, err = os.Stat(filepath.Join(a.Root(), "42.1001", "ds", "exp", "sa", "42", "cwepr", "21", manifest.Filename))
	assert.NoError(t, err)

	m, fs, err := a.Retrieve(ctx, testID)
	require.NoError(t, err)
	assert.Equal(t, types.StateRegistered, m.State())
	assert.Equal(t, 0, fs.Len())

	// 3. Store
	payload := files("spectrum.dta", "1 2 3", "sub/measurement.info", "who: me")
	require.NoError(t, a.Store(ctx, testID, payload, populate(ctx, payload)))

	_, err = os.Stat(filepath.Join(a.layout(testID), "rev-1", "sub", "measurement.info"))
	assert.NoError(t, err)

	m, fs, err = a.Retrieve(ctx, testID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.Revision)
	require.Equal(t, 2, fs.Len())
	f, ok := fs.Lookup("spectrum.dta")
	require.True(t, ok)
	assert.Equal(t, []byte("1 2 3"), f.Data)
	assert.Equal(t, testEngine.Digest([]byte("1 2 3")), f.Checksum)

	res, err := m.Check(ctx, fs)
	require.NoError(t, err)
	assert.True(t, res.OK())
}

func TestDiskAdapter_ReserveTwice(t *testing.T) {
	a := newTestAdapter(t)
	reserve(t, a, testID)

	m, err := manifest.Create(testID, types.SHA256)
	require.NoError(t, err)
	err = a.Reserve(context.Background(), testID, m)
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)
}

func TestDiskAdapter_StoreStateErrors(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)
	payload := files("a.dta", "x")

	err := a.Store(ctx, testID, payload, populate(ctx, payload))
	assert.ErrorIs(t, err, storage.ErrNotReserved)

	err = a.Replace(ctx, testID, payload, replace(ctx, payload))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	reserve(t, a, testID)
	err = a.Replace(ctx, testID, payload, replace(ctx, payload))
	assert.ErrorIs(t, err, storage.ErrNotFound, "registered objects cannot be updated")

	require.NoError(t, a.Store(ctx, testID, payload, populate(ctx, payload)))

	// 不允许静默覆盖
	other := files("a.dta", "y")
	err = a.Store(ctx, testID, other, populate(ctx, other))
	assert.ErrorIs(t, err, storage.ErrAlreadyPopulated)

	_, fs, err := a.Retrieve(ctx, testID)
	require.NoError(t, err)
	f, _ := fs.Lookup("a.dta")
	assert.Equal(t, []byte("x"), f.Data)
}

func TestDiskAdapter_Replace(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)
	reserve(t, a, testID)

	first := files("a.dta", "v1", "b.info", "meta")
	require.NoError(t, a.Store(ctx, testID, first, populate(ctx, first)))

	second := files("c.dta", "v2")
	require.NoError(t, a.Replace(ctx, testID, second, replace(ctx, second)))

	m, fs, err := a.Retrieve(ctx, testID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), m.Revision)
	require.Equal(t, 1, fs.Len())
	assert.Equal(t, "c.dta", fs.Files[0].Name)

	// 默认不保留历史
	_, err = os.Stat(filepath.Join(a.layout(testID), "rev-1"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestDiskAdapter_KeepHistory(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t, WithHistory(true))
	reserve(t, a, testID)

	first := files("a.dta", "v1")
	require.NoError(t, a.Store(ctx, testID, first, populate(ctx, first)))
	second := files("a.dta", "v2")
	require.NoError(t, a.Replace(ctx, testID, second, replace(ctx, second)))

	old, err := os.ReadFile(filepath.Join(a.layout(testID), "rev-1", "a.dta"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), old)
}

func TestDiskAdapter_AtomicCommit(t *testing.T) {
	for _, phase := range []string{phaseStaged, phaseRevisionMoved} {
		t.Run(phase, func(t *testing.T) {
			ctx := context.Background()
			a := newTestAdapter(t)
			reserve(t, a, testID)

			injected := errors.New("injected failure")
			a.failpoint = func(p string) error {
				if p == phase {
					return injected
				}
				return nil
			}

			payload := files("a.dta", "data", "a.info", "meta")
			err := a.Store(ctx, testID, payload, populate(ctx, payload))
			require.ErrorIs(t, err, injected)

			// 失败之后仍然是 registered，没有遗留文件
			m, err := a.Manifest(ctx, testID)
			require.NoError(t, err)
			assert.Equal(t, types.StateRegistered, m.State())
			_, err = os.Stat(filepath.Join(a.layout(testID), "rev-1"))
			assert.True(t, errors.Is(err, os.ErrNotExist))

			staged, err := os.ReadDir(filepath.Join(a.Root(), stagingDir))
			require.NoError(t, err)
			assert.Empty(t, staged)

			// 重试成功
			a.failpoint = nil
			require.NoError(t, a.Store(ctx, testID, payload, populate(ctx, payload)))
			m, err = a.Manifest(ctx, testID)
			require.NoError(t, err)
			assert.Equal(t, types.StatePopulated, m.State())
		})
	}
}

func TestDiskAdapter_AtomicReplace(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)
	reserve(t, a, testID)

	first := files("a.dta", "v1")
	require.NoError(t, a.Store(ctx, testID, first, populate(ctx, first)))

	a.failpoint = func(p string) error {
		if p == phaseRevisionMoved {
			return errors.New("disk full")
		}
		return nil
	}
	second := files("a.dta", "v2")
	require.Error(t, a.Replace(ctx, testID, second, replace(ctx, second)))

	m, fs, err := a.Retrieve(ctx, testID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.Revision)
	f, _ := fs.Lookup("a.dta")
	assert.Equal(t, []byte("v1"), f.Data)
}

func TestDiskAdapter_CancelledStore(t *testing.T) {
	a := newTestAdapter(t)
	reserve(t, a, testID)

	ctx, cancel := context.WithCancel(context.Background())
	payload := files("a.dta", "x")
	mutate := populate(context.Background(), payload)
	cancel()

	err := a.Store(ctx, testID, payload, mutate)
	assert.ErrorIs(t, err, context.Canceled)

	m, err := a.Manifest(context.Background(), testID)
	require.NoError(t, err)
	assert.Equal(t, types.StateRegistered, m.State())
}

func TestDiskAdapter_MissingFileOnDisk(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)
	reserve(t, a, testID)

	payload := files("a.dta", "x", "b.info", "y")
	require.NoError(t, a.Store(ctx, testID, payload, populate(ctx, payload)))

	// 模拟静默损坏
	require.NoError(t, os.Remove(filepath.Join(a.layout(testID), "rev-1", "b.info")))
	require.NoError(t, os.WriteFile(filepath.Join(a.layout(testID), "rev-1", "a.dta"), []byte("z"), 0644))

	m, fs, err := a.Retrieve(ctx, testID)
	require.NoError(t, err)
	assert.Equal(t, 1, fs.Len())

	res, err := m.Check(ctx, fs)
	require.NoError(t, err)
	assert.False(t, res.Data)
	assert.False(t, res.Metadata)
}

func TestDiskAdapter_ListAndHighestSerial(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)
	base := testID.Base()

	n, err := a.HighestSerial(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	for _, s := range []int64{3, 1, 20} {
		reserve(t, a, base.WithSerial(s))
	}
	// 杂项目录不算
	require.NoError(t, os.MkdirAll(filepath.Join(a.layout(base), "notes"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(a.layout(base), "007"), 0755))
	// 只有目录没有 Manifest: 计入最大序号，但不在列表中
	require.NoError(t, os.MkdirAll(filepath.Join(a.layout(base), "15"), 0755))

	n, err = a.HighestSerial(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, int64(20), n)

	ids, err := a.List(ctx, base)
	require.NoError(t, err)
	require.Len(t, ids, 3)
	assert.Equal(t, []int64{1, 3, 20}, []int64{ids[0].Serial, ids[1].Serial, ids[2].Serial})
}

func TestDiskAdapter_ConcurrentReserveSameLOI(t *testing.T) {
	a := newTestAdapter(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	success, conflicts := 0, 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := manifest.Create(testID, types.SHA256)
			if err != nil {
				return
			}
			err = a.Reserve(context.Background(), testID, m)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, storage.ErrAlreadyExists):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	assert.Equal(t, 15, conflicts)
}
