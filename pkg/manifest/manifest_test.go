package manifest

import (
	"context"
	"strings"
	"testing"
	"time"

	"datasafe/pkg/checksum"
	"datasafe/pkg/format"
	"datasafe/pkg/loi"
	"datasafe/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLOI = loi.MustParse("42.1001/ds/exp/sa/42/cwepr/21")

func fixedClock(t *testing.T) {
	t.Helper()
	orig := now
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	now = func() time.Time { return ts }
	t.Cleanup(func() { now = orig })
}

func sampleFiles() types.FileSet {
	return types.FileSet{Files: []types.File{
		{Name: "spectrum.dta", Data: []byte("0.1 0.2 0.3")},
		{Name: "spectrum.dsc", Data: []byte("descriptor")},
		{Name: "measurement.info", Data: []byte("operator: jane")},
	}}
}

func populated(t *testing.T) *Manifest {
	t.Helper()
	m, err := Create(testLOI, types.SHA256)
	require.NoError(t, err)
	p, err := m.Populate(context.Background(), checksum.MustNew(types.SHA256), format.Default(), sampleFiles())
	require.NoError(t, err)
	return p
}

func TestCreate_Registered(t *testing.T) {
	fixedClock(t)

	m, err := Create(testLOI, types.SHA256)
	require.NoError(t, err)

	assert.Equal(t, types.StateRegistered, m.State())
	assert.Equal(t, int64(0), m.Revision)
	assert.Equal(t, KindDataset, m.Kind)
	assert.Equal(t, testLOI.String(), m.LOI)
	assert.Empty(t, m.Files)
	assert.NoError(t, m.CheckSeal())

	_, err = Create(testLOI.Base(), types.SHA256)
	assert.ErrorIs(t, err, loi.ErrInvalidFormat)

	_, err = Create(testLOI, "crc32")
	assert.ErrorIs(t, err, checksum.ErrUnsupportedAlgorithm)
}

func TestPopulate(t *testing.T) {
	fixedClock(t)
	eng := checksum.MustNew(types.SHA256)

	m, err := Create(testLOI, types.SHA256)
	require.NoError(t, err)
	before := m.Clone()

	p, err := m.Populate(context.Background(), eng, format.Default(), sampleFiles())
	require.NoError(t, err)

	// 接收者不变
	assert.Equal(t, before, m)

	assert.Equal(t, types.StatePopulated, p.State())
	assert.Equal(t, int64(1), p.Revision)
	require.Len(t, p.Files, 3)
	// 按名字排序
	assert.Equal(t, "measurement.info", p.Files[0].Name)
	assert.Equal(t, types.RoleMetadata, p.Files[0].Role)
	assert.Equal(t, "bes3t", p.Files[1].Format)
	assert.Equal(t, eng.Digest([]byte("descriptor")), p.Files[1].Checksum)
	assert.Equal(t, int64(len("descriptor")), p.Files[1].Size)

	assert.NotEqual(t, p.Checksums.Data, p.Checksums.All)
	assert.NoError(t, p.CheckSeal())
	assert.NotEqual(t, m.Checksum, p.Checksum)

	// 再次 populate 不允许
	_, err = p.Populate(context.Background(), eng, format.Default(), sampleFiles())
	assert.ErrorIs(t, err, ErrWrongState)
}

func TestPopulate_RejectsBadInput(t *testing.T) {
	eng := checksum.MustNew(types.SHA256)
	m, err := Create(testLOI, types.SHA256)
	require.NoError(t, err)

	tests := []struct {
		name    string
		files   types.FileSet
		wantErr error
	}{
		{"Empty", types.FileSet{}, ErrEmptyFileSet},
		{"Absolute", types.FileSet{Files: []types.File{{Name: "/etc/passwd"}}}, ErrInvalidFilename},
		{"Escape", types.FileSet{Files: []types.File{{Name: "../x"}}}, ErrInvalidFilename},
		{"Unclean", types.FileSet{Files: []types.File{{Name: "a//b"}}}, ErrInvalidFilename},
		{"Backslash", types.FileSet{Files: []types.File{{Name: `a\b`}}}, ErrInvalidFilename},
		{"Reserved", types.FileSet{Files: []types.File{{Name: Filename}}}, ErrInvalidFilename},
		{"Duplicate", types.FileSet{Files: []types.File{{Name: "a"}, {Name: "a"}}}, ErrInvalidFilename},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Populate(context.Background(), eng, format.Default(), tt.files)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, types.StateRegistered, m.State())
		})
	}
}

func TestPopulate_CancelledContext(t *testing.T) {
	m, err := Create(testLOI, types.SHA256)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = m.Populate(ctx, checksum.MustNew(types.SHA256), format.Default(), sampleFiles())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, m.Files)
}

func TestReplace(t *testing.T) {
	p := populated(t)
	eng := checksum.MustNew(types.SHA512)

	next, err := p.Replace(context.Background(), eng, format.Default(), types.FileSet{Files: []types.File{
		{Name: "fixed.dta", Data: []byte("corrected")},
	}})
	require.NoError(t, err)

	assert.Equal(t, int64(2), next.Revision)
	assert.Equal(t, types.SHA512, next.Algorithm, "replace records the engine's algorithm")
	require.Len(t, next.Files, 1)
	assert.Equal(t, "fixed.dta", next.Files[0].Name)
	assert.True(t, next.Created.Equal(p.Created))
	assert.NoError(t, next.CheckSeal())

	// 旧的 Manifest 保持原样
	assert.Len(t, p.Files, 3)
	assert.Equal(t, int64(1), p.Revision)

	registered, err := Create(testLOI, types.SHA256)
	require.NoError(t, err)
	_, err = registered.Replace(context.Background(), eng, format.Default(), sampleFiles())
	assert.ErrorIs(t, err, ErrWrongState)
}

func TestMarshal_RoundTrip(t *testing.T) {
	fixedClock(t)
	p := populated(t)

	data, err := p.Marshal()
	require.NoError(t, err)

	// 键顺序固定
	text := string(data)
	order := []string{"format:", "kind:", "loi:", "revision:", "created:", "modified:", "algorithm:", "files:", "checksums:", "\nchecksum:"}
	last := -1
	for _, key := range order {
		idx := strings.Index(text, key)
		require.GreaterOrEqual(t, idx, 0, "missing key %s", key)
		assert.Greater(t, idx, last, "key %s out of order", key)
		last = idx
	}
	assert.Contains(t, text, "type: datasafe dataset manifest")

	back, err := Unmarshal(data)
	require.NoError(t, err)
	assert.NoError(t, back.CheckSeal())
	assert.Equal(t, p.Files, back.Files)
	assert.Equal(t, p.Checksum, back.Checksum)
	assert.True(t, p.Modified.Equal(back.Modified))
}

func TestUnmarshal_Malformed(t *testing.T) {
	p := populated(t)
	good, err := p.Marshal()
	require.NoError(t, err)

	tests := []struct {
		name string
		doc  string
	}{
		{"Not YAML", "::: not yaml"},
		{"Unknown field", string(good) + "extra: 1\n"},
		{"Wrong type", strings.Replace(string(good), FormatType, "something else", 1)},
		{"Bad LOI", strings.Replace(string(good), p.LOI, "not-a-loi", 1)},
		{"Bad algorithm", strings.Replace(string(good), "algorithm: sha256", "algorithm: crc32", 1)},
		{"Bad kind", strings.Replace(string(good), "kind: dataset", "kind: model", 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal([]byte(tt.doc))
			assert.ErrorIs(t, err, ErrInvalidFormat)
		})
	}
}

func TestCheckSeal_DetectsTampering(t *testing.T) {
	p := populated(t)
	p.Files[0].Size++

	err := p.CheckSeal()
	require.Error(t, err)
	var mm *checksum.MismatchError
	require.ErrorAs(t, err, &mm)
	assert.Equal(t, Filename, mm.Name)
}

func TestVerify_Clean(t *testing.T) {
	p := populated(t)

	res, err := p.Check(context.Background(), sampleFiles())
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Empty(t, res.Warnings())
	assert.NoError(t, res.Error())
}

func TestVerify_Corruption(t *testing.T) {
	p := populated(t)

	t.Run("Data file altered", func(t *testing.T) {
		files := sampleFiles()
		files.Files[0].Data = []byte("0.1 0.2 0.4")

		res, err := p.Check(context.Background(), files)
		require.NoError(t, err)
		assert.False(t, res.OK())
		assert.False(t, res.Data)
		assert.True(t, res.Metadata)
		assert.Equal(t, []string{"data may be corrupted"}, res.Warnings())
		require.Len(t, res.Mismatches, 1)
		assert.Equal(t, "spectrum.dta", res.Mismatches[0].Name)
	})

	t.Run("Metadata file missing", func(t *testing.T) {
		files := sampleFiles()
		files.Files = files.Files[:2]

		res, err := p.Check(context.Background(), files)
		require.NoError(t, err)
		assert.True(t, res.Data)
		assert.False(t, res.Metadata)
		require.Len(t, res.Mismatches, 1)
		assert.Equal(t, ReasonMissing, res.Mismatches[0].Reason)
	})

	t.Run("Extra file", func(t *testing.T) {
		files := sampleFiles()
		files.Files = append(files.Files, types.File{Name: "stray.txt", Data: []byte("?")})

		res, err := p.Check(context.Background(), files)
		require.NoError(t, err)
		assert.False(t, res.OK())
		require.Len(t, res.Mismatches, 1)
		assert.Equal(t, ReasonExtra, res.Mismatches[0].Reason)
	})

	t.Run("Manifest tampered", func(t *testing.T) {
		tampered := p.Clone()
		tampered.Revision = 7

		res, err := tampered.Check(context.Background(), sampleFiles())
		require.NoError(t, err)
		assert.False(t, res.Manifest)
		assert.True(t, res.Data)
		assert.Contains(t, res.Warnings(), "manifest may be corrupted")
		assert.Error(t, res.Error())
	})
}
