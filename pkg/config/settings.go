package config

import (
	"fmt"
	"time"

	"datasafe/pkg/types"

	"github.com/spf13/viper"
)

// Settings 是启动时冻结的一份配置快照
// 运行期间不再读取 viper，避免配置在请求之间漂移
type Settings struct {
	Checksum ChecksumSettings `mapstructure:"checksum"`
	Storage  StorageSettings  `mapstructure:"storage"`
	Database DatabaseSettings `mapstructure:"database"`
	Redis    RedisSettings    `mapstructure:"redis"`
	Server   ServerSettings   `mapstructure:"server"`
	Client   ClientSettings   `mapstructure:"client"`
	LOI      LOISettings      `mapstructure:"loi"`
	Formats  FormatSettings   `mapstructure:"formats"`
}

type ChecksumSettings struct {
	Algorithm types.Algorithm `mapstructure:"algorithm"`
}

type StorageSettings struct {
	Type        string     `mapstructure:"type"` // "disk" | "s3"
	Path        string     `mapstructure:"path"`
	KeepHistory bool       `mapstructure:"keep_history"`
	S3          S3Settings `mapstructure:"s3"`
}

type S3Settings struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Prefix          string `mapstructure:"prefix"`
}

type DatabaseSettings struct {
	Driver   string `mapstructure:"driver"` // "sqlite" | "postgres" | "memory"
	Path     string `mapstructure:"path"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisSettings struct {
	URL string        `mapstructure:"url"`
	TTL time.Duration `mapstructure:"ttl"`
}

type ServerSettings struct {
	Addr        string `mapstructure:"addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type ClientSettings struct {
	Server  string        `mapstructure:"server"`
	Timeout time.Duration `mapstructure:"timeout"`
	Strict  bool          `mapstructure:"strict"`
}

type LOISettings struct {
	Methods []string `mapstructure:"methods"`
}

type FormatSettings struct {
	MetadataExtensions []string            `mapstructure:"metadata_extensions"`
	Data               map[string][]string `mapstructure:"data"`
}

// Current 从 viper 生成配置快照并校验
func Current() (Settings, error) {
	var s Settings
	if err := viper.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate 检查互相依赖的配置项
func (s Settings) Validate() error {
	if !s.Checksum.Algorithm.IsValid() {
		return fmt.Errorf("invalid checksum.algorithm %q", s.Checksum.Algorithm)
	}
	switch s.Storage.Type {
	case "disk":
		if s.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for disk storage")
		}
	case "s3":
		if s.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required for s3 storage")
		}
	default:
		return fmt.Errorf("unsupported storage type: %q", s.Storage.Type)
	}
	if s.Redis.TTL < 0 {
		return fmt.Errorf("redis.ttl must not be negative")
	}
	return nil
}
