package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load 初始化 Viper 配置
// cfgFile: 可选，用户显式指定的配置文件路径
func Load(cfgFile string) error {
	// 1. 设置默认值 (Defaults)
	setDefaults()

	// 2. 配置搜索路径
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}

		// 搜索顺序：当前目录 -> ./.ds -> ~/.ds
		viper.AddConfigPath(".")
		viper.AddConfigPath(".ds")
		viper.AddConfigPath(filepath.Join(home, ".ds"))

		viper.SetConfigType("yaml")
		viper.SetConfigName("config") // 找 config.yaml
	}

	// 3. 读取环境变量 (DS_STORAGE_PATH, DS_DATABASE_HOST 等)
	viper.SetEnvPrefix("DS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// 4. 读取配置文件
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// 没有配置文件时使用默认值和环境变量
			return nil
		}
		return fmt.Errorf("fatal error config file: %w", err)
	}
	return nil
}

// Used 返回实际读取的配置文件路径 (没有则为空)
func Used() string {
	return viper.ConfigFileUsed()
}

func setDefaults() {
	// 校验和
	viper.SetDefault("checksum.algorithm", "sha256")

	// 存储
	wd, _ := os.Getwd()
	viper.SetDefault("storage.type", "disk")
	viper.SetDefault("storage.path", filepath.Join(wd, ".ds", "objects"))
	viper.SetDefault("storage.keep_history", false)
	viper.SetDefault("storage.s3.endpoint", "")
	viper.SetDefault("storage.s3.region", "us-east-1")
	viper.SetDefault("storage.s3.bucket", "")
	viper.SetDefault("storage.s3.access_key_id", "")
	viper.SetDefault("storage.s3.secret_access_key", "")
	viper.SetDefault("storage.s3.prefix", "")

	// 数据库
	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.path", filepath.Join(wd, ".ds", "datasafe.db"))
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.dbname", "datasafe")
	viper.SetDefault("database.sslmode", "disable")

	// Redis (留空表示不启用缓存)
	viper.SetDefault("redis.url", "")
	viper.SetDefault("redis.ttl", "24h")

	// 服务端
	viper.SetDefault("server.addr", ":50051")
	viper.SetDefault("server.metrics_addr", ":9090")

	// 客户端
	viper.SetDefault("client.server", "localhost:50051")
	viper.SetDefault("client.timeout", "5m")
	viper.SetDefault("client.strict", false)

	// LOI 与文件格式
	viper.SetDefault("loi.methods", []string{"cwepr", "trepr"})
	viper.SetDefault("formats.metadata_extensions", []string{".info", ".yaml", ".yml"})
	viper.SetDefault("formats.data", map[string][]string{})
}
