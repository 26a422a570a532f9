package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"datasafe/pkg/types"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	viper.Reset()
	t.Chdir(t.TempDir())

	require.NoError(t, Load(""))
	s, err := Current()
	require.NoError(t, err)

	assert.Equal(t, types.SHA256, s.Checksum.Algorithm)
	assert.Equal(t, "disk", s.Storage.Type)
	assert.Equal(t, "sqlite", s.Database.Driver)
	assert.Equal(t, ":50051", s.Server.Addr)
	assert.Equal(t, 24*time.Hour, s.Redis.TTL)
	assert.Equal(t, []string{"cwepr", "trepr"}, s.LOI.Methods)
	assert.Empty(t, Used())
}

func TestLoad_FileAndEnv(t *testing.T) {
	viper.Reset()
	dir := t.TempDir()
	cfg := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(`
checksum:
  algorithm: blake3
storage:
  path: /srv/datasafe
  keep_history: true
loi:
  methods: [nmr]
formats:
  data:
    jcamp: [.jdx]
`), 0644))

	t.Setenv("DS_SERVER_ADDR", "127.0.0.1:7000")

	require.NoError(t, Load(cfg))
	s, err := Current()
	require.NoError(t, err)

	assert.Equal(t, cfg, Used())
	assert.Equal(t, types.BLAKE3, s.Checksum.Algorithm)
	assert.Equal(t, "/srv/datasafe", s.Storage.Path)
	assert.True(t, s.Storage.KeepHistory)
	assert.Equal(t, []string{"nmr"}, s.LOI.Methods)
	assert.Equal(t, []string{".jdx"}, s.Formats.Data["jcamp"])
	assert.Equal(t, "127.0.0.1:7000", s.Server.Addr)
}

func TestLoad_BrokenFile(t *testing.T) {
	viper.Reset()
	cfg := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("storage: [unclosed"), 0644))

	assert.Error(t, Load(cfg))
}

func TestSettings_Validate(t *testing.T) {
	base := Settings{
		Checksum: ChecksumSettings{Algorithm: types.SHA256},
		Storage:  StorageSettings{Type: "disk", Path: "/tmp/x"},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"Bad algorithm", func(s *Settings) { s.Checksum.Algorithm = "sha1" }, "checksum.algorithm"},
		{"Disk without path", func(s *Settings) { s.Storage.Path = "" }, "storage.path"},
		{"S3 without bucket", func(s *Settings) { s.Storage.Type = "s3" }, "bucket is required"},
		{"Unknown storage", func(s *Settings) { s.Storage.Type = "ftp" }, "unsupported storage type"},
		{"Negative TTL", func(s *Settings) { s.Redis.TTL = -time.Second }, "redis.ttl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base
			tt.mutate(&s)
			err := s.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
