package types

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecksum_IsValid(t *testing.T) {
	tests := []struct {
		name  string
		input Checksum
		alg   Algorithm
		want  bool
	}{
		{
			name:  "Valid sha256 (64 chars)",
			input: Checksum(strings.Repeat("a", 64)),
			alg:   SHA256,
			want:  true,
		},
		{
			name:  "Upper case is normalized",
			input: Checksum(strings.Repeat("A", 64)),
			alg:   SHA256,
			want:  true,
		},
		{
			name:  "Valid md5 (32 chars)",
			input: Checksum(strings.Repeat("0", 32)),
			alg:   MD5,
			want:  true,
		},
		{
			name:  "Too Short",
			input: Checksum("abc"),
			alg:   SHA256,
			want:  false,
		},
		{
			name:  "Not hex",
			input: Checksum(strings.Repeat("z", 64)),
			alg:   SHA256,
			want:  false,
		},
		{
			name:  "Empty",
			input: Checksum(""),
			alg:   SHA256,
			want:  false,
		},
		{
			name:  "Unknown algorithm",
			input: Checksum(strings.Repeat("a", 64)),
			alg:   Algorithm("crc32"),
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.input.IsValid(tt.alg))
		})
	}
}

func TestChecksum_Equal(t *testing.T) {
	a := Checksum("ABCDEF01")
	b := Checksum(" abcdef01\n")
	assert.True(t, a.Equal(b), "comparison should ignore case and surrounding whitespace")
	assert.False(t, a.Equal("abcdef02"))

	var zero Checksum
	assert.True(t, zero.IsZero())
	assert.Equal(t, "abcdef01", Checksum("abcdef0123").Short())
}

func TestAlgorithm_HexLen(t *testing.T) {
	assert.Equal(t, 32, MD5.HexLen())
	assert.Equal(t, 64, SHA256.HexLen())
	assert.Equal(t, 64, BLAKE3.HexLen())
	assert.Equal(t, 128, SHA512.HexLen())
	assert.False(t, Algorithm("sha1").IsValid())
}

func TestFileSet_Helpers(t *testing.T) {
	fs := FileSet{Files: []File{
		{Name: "a.dat", Data: []byte("12345")},
		{Name: "a.yaml", Data: []byte("k: v")},
	}}

	assert.Equal(t, 2, fs.Len())
	assert.Equal(t, int64(9), fs.TotalSize())

	f, ok := fs.Lookup("a.yaml")
	assert.True(t, ok)
	assert.Equal(t, int64(4), f.Size())

	_, ok = fs.Lookup("missing")
	assert.False(t, ok)
}
