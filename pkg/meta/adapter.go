package meta

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	// DriverMemory 是进程内的 SQLite，重启即丢失 (开发和测试用)
	DriverMemory = "memory"
)

// Config 数据库配置
type Config struct {
	Driver string

	// SQLite
	Path string

	// Postgres
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable" for local
}

// DB 封装了 GORM 实例，作为元数据层的入口
type DB struct {
	conn *gorm.DB
}

// NewDB 初始化数据库连接并迁移表结构
func NewDB(ctx context.Context, cfg Config) (*DB, error) {
	var (
		db  *gorm.DB
		err error
	)

	switch cfg.Driver {
	case DriverPostgres:
		db, err = openPostgres(cfg)
	case DriverSQLite, "":
		path := cfg.Path
		if path == "" {
			path = "datasafe.db"
		}
		db, err = OpenSQLite(path, logger.Warn)
	case DriverMemory:
		db, err = OpenSQLite(fmt.Sprintf("file:datasafe-%d?mode=memory&cache=shared", time.Now().UnixNano()), logger.Warn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// 验证连接是否存活
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	d := NewWithConn(db)
	if err := d.AutoMigrate(Models()...); err != nil {
		return nil, fmt.Errorf("auto migration failed: %w", err)
	}
	return d, nil
}

func openPostgres(cfg Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=UTC",
		cfg.Host, cfg.User, cfg.Password, cfg.DBName, cfg.Port, cfg.SSLMode,
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// 连接池配置
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return db, nil
}

// OpenSQLite 打开一个 SQLite 数据库
// SQLite 只允许一个写者，所以连接池限制为 1，由连接池排队代替 "database is locked"
func OpenSQLite(dsn string, level logger.LogLevel) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", dsn, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	// 多进程共享同一个文件时等待而不是立刻失败
	if err := db.Exec("PRAGMA busy_timeout = 5000").Error; err != nil {
		return nil, err
	}
	return db, nil
}

// OpenMemory 返回一个已迁移的内存数据库，name 相同的调用共享同一个库
func OpenMemory(name string) (*DB, error) {
	db, err := OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", name), logger.Silent)
	if err != nil {
		return nil, err
	}
	d := NewWithConn(db)
	if err := d.AutoMigrate(Models()...); err != nil {
		return nil, err
	}
	return d, nil
}

// NewWithConn 允许使用现有的 GORM 连接初始化 DB
func NewWithConn(conn *gorm.DB) *DB {
	return &DB{conn: conn}
}

// AutoMigrate 自动迁移表结构
func (d *DB) AutoMigrate(models ...any) error {
	return d.conn.AutoMigrate(models...)
}

func (d *DB) GetConn() *gorm.DB {
	return d.conn
}

// Close 关闭底层连接池
func (d *DB) Close() error {
	sqlDB, err := d.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping 检查数据库连接是否可用
func (d *DB) Ping(ctx context.Context) error {
	sqlDB, err := d.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
