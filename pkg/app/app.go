package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"datasafe/pkg/checksum"
	"datasafe/pkg/config"
	"datasafe/pkg/format"
	"datasafe/pkg/loi"
	"datasafe/pkg/meta"
	"datasafe/pkg/storage"
	"datasafe/pkg/storage/cache"
	"datasafe/pkg/storage/disk"
	"datasafe/pkg/storage/s3"
)

// App 是整个应用程序的依赖容器 (Dependency Container)
// 它持有所有“单例”服务，由 NewApp 按配置一次性组装
type App struct {
	Settings config.Settings

	Store      storage.Backend
	DB         *meta.DB
	Repository *meta.Repository
	Allocator  *loi.Allocator
	Parser     *loi.Parser
	Engine     *checksum.Engine
	Formats    *format.Registry

	closers []func() error
}

// NewApp 是工厂函数，负责组装这一台机器
// 它只认 config.Settings，不知道具体的 CLI 命令
func NewApp(ctx context.Context, s config.Settings) (*App, error) {
	a := &App{Settings: s}

	// 1. 校验和引擎
	eng, err := checksum.New(s.Checksum.Algorithm)
	if err != nil {
		return nil, err
	}
	a.Engine = eng

	// 2. 文件格式注册表
	formats, err := format.New(format.Config{
		MetadataExtensions: s.Formats.MetadataExtensions,
		Data:               s.Formats.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init formats: %w", err)
	}
	a.Formats = formats
	a.Parser = loi.NewParser(s.LOI.Methods...)

	// 3. 存储层 (Dependency Injection)
	store, err := initStore(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("failed to init storage: %w", err)
	}
	a.Store = store
	if c, ok := store.(*cache.CachedStore); ok {
		a.closers = append(a.closers, c.Close)
	}

	// 4. 元数据库 (序号计数器 + 对象索引)
	db, err := initDB(ctx, s.Database)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to init database: %w", err)
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)
	a.Repository = meta.NewRepository(db)

	// 5. 序号分配器：计数器第一次出现时用存储扫描结果做种子
	a.Allocator = loi.NewAllocator(a.Repository, store.HighestSerial)

	return a, nil
}

// initStore 按 storage.type 选择存储后端，配置了 Redis 时再包一层缓存
func initStore(ctx context.Context, s config.Settings) (storage.Backend, error) {
	var (
		backend storage.Backend
		err     error
	)

	switch s.Storage.Type {
	case "disk", "":
		if s.Storage.Path == "" {
			return nil, fmt.Errorf("storage path not set")
		}
		backend, err = disk.NewAdapter(s.Storage.Path, disk.WithHistory(s.Storage.KeepHistory))
	case "s3":
		if s.Storage.S3.Bucket == "" {
			return nil, fmt.Errorf("s3 bucket is required")
		}
		backend, err = s3.NewAdapter(ctx, s3.Config{
			Endpoint:        s.Storage.S3.Endpoint,
			Region:          s.Storage.S3.Region,
			Bucket:          s.Storage.S3.Bucket,
			AccessKeyID:     s.Storage.S3.AccessKeyID,
			SecretAccessKey: s.Storage.S3.SecretAccessKey,
			Prefix:          s.Storage.S3.Prefix,
			KeepHistory:     s.Storage.KeepHistory,
		})
	default:
		return nil, fmt.Errorf("unsupported storage type: %q", s.Storage.Type)
	}
	if err != nil {
		return nil, err
	}

	if s.Redis.URL == "" {
		return backend, nil
	}
	cached, err := cache.NewCachedStore(backend, cache.Config{RedisURL: s.Redis.URL, TTL: s.Redis.TTL})
	if err != nil {
		return nil, err
	}
	slog.Info("existence cache enabled", "ttl", s.Redis.TTL)
	return cached, nil
}

func initDB(ctx context.Context, d config.DatabaseSettings) (*meta.DB, error) {
	if (d.Driver == meta.DriverSQLite || d.Driver == "") && d.Path != "" {
		if err := os.MkdirAll(filepath.Dir(d.Path), 0755); err != nil {
			return nil, err
		}
	}
	return meta.NewDB(ctx, meta.Config{
		Driver:   d.Driver,
		Path:     d.Path,
		Host:     d.Host,
		Port:     d.Port,
		User:     d.User,
		Password: d.Password,
		DBName:   d.DBName,
		SSLMode:  d.SSLMode,
	})
}

// Close 按组装的逆序释放资源
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
