package checksum

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"datasafe/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_KnownVectors(t *testing.T) {
	tests := []struct {
		alg  types.Algorithm
		want types.Checksum
	}{
		{types.MD5, "5d41402abc4b2a76b9719d911017c592"},
		{types.SHA256, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"},
	}
	for _, tt := range tests {
		t.Run(string(tt.alg), func(t *testing.T) {
			e := MustNew(tt.alg)
			assert.Equal(t, tt.want, e.Digest([]byte("hello")))
		})
	}
}

func TestEngine_AllAlgorithmsProduceValidDigests(t *testing.T) {
	for _, alg := range []types.Algorithm{types.MD5, types.SHA256, types.SHA512, types.BLAKE3} {
		t.Run(string(alg), func(t *testing.T) {
			e, err := New(alg)
			require.NoError(t, err)
			assert.Equal(t, alg, e.Algorithm())

			sum := e.Digest([]byte("datasafe"))
			assert.True(t, sum.IsValid(alg), "digest %s should be valid for %s", sum, alg)
			// 确定性
			assert.Equal(t, sum, e.Digest([]byte("datasafe")))
			assert.NotEqual(t, sum, e.Digest([]byte("datasafe!")))
		})
	}
}

func TestNew_Unsupported(t *testing.T) {
	_, err := New("crc32")
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
	assert.Panics(t, func() { MustNew("sha1") })
}

func TestEngine_DigestReaderAndFile(t *testing.T) {
	e := MustNew(types.SHA256)
	content := make([]byte, 256*1024)
	for i := range content {
		content[i] = byte(i % 251)
	}

	sum, n, err := e.DigestReader(bytes.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), n)
	assert.Equal(t, e.Digest(content), sum)

	path := filepath.Join(t.TempDir(), "large.dat")
	require.NoError(t, os.WriteFile(path, content, 0644))

	fileSum, fileN, err := e.DigestFile(path)
	require.NoError(t, err)
	assert.Equal(t, sum, fileSum)
	assert.Equal(t, n, fileN)

	_, _, err = e.DigestFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestEngine_Verify(t *testing.T) {
	e := MustNew(types.SHA256)
	data := []byte("spectrum")
	good := e.Digest(data)

	assert.NoError(t, e.Verify("a.dat", data, good))
	// 大小写和空白不影响比较
	assert.NoError(t, e.Verify("a.dat", data, types.Checksum(strings.ToUpper(string(good))+"\n")))

	err := e.Verify("a.dat", []byte("spectrun"), good)
	require.Error(t, err)
	assert.True(t, IsMismatch(err))

	var mm *MismatchError
	require.ErrorAs(t, err, &mm)
	assert.Equal(t, "a.dat", mm.Name)
	assert.Equal(t, good, mm.Expected)
	assert.Contains(t, mm.Error(), "checksum mismatch")

	assert.NoError(t, e.VerifyReader("a.dat", bytes.NewReader(data), good))
	assert.Error(t, e.VerifyReader("a.dat", bytes.NewReader(nil), good))
}

func TestEngine_DigestSortedIsOrderIndependent(t *testing.T) {
	e := MustNew(types.SHA256)
	a := e.Digest([]byte("a"))
	b := e.Digest([]byte("b"))
	c := e.Digest([]byte("c"))

	first := e.DigestSorted([]types.Checksum{a, b, c})
	second := e.DigestSorted([]types.Checksum{c, a, types.Checksum(strings.ToUpper(string(b)))})
	assert.Equal(t, first, second)
	assert.NotEqual(t, first, e.DigestSorted([]types.Checksum{a, b}))
}

func TestCanonical_Deterministic(t *testing.T) {
	type body struct {
		Name  string            `cbor:"name"`
		When  time.Time         `cbor:"when"`
		Attrs map[string]string `cbor:"attrs"`
	}
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	v1 := body{Name: "x", When: ts, Attrs: map[string]string{"b": "2", "a": "1"}}
	v2 := body{Name: "x", When: ts, Attrs: map[string]string{"a": "1", "b": "2"}}

	e := MustNew(types.SHA256)
	s1, d1, err := e.DigestCanonical(v1)
	require.NoError(t, err)
	s2, d2, err := e.DigestCanonical(v2)
	require.NoError(t, err)

	assert.Equal(t, d1, d2)
	assert.Equal(t, s1, s2)

	var decoded body
	require.NoError(t, DecodeCanonical(d1, &decoded))
	assert.Equal(t, "x", decoded.Name)
	assert.True(t, ts.Equal(decoded.When))
}
