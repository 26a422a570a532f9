package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"datasafe/pkg/loi"
	"datasafe/pkg/manifest"
	"datasafe/pkg/storage"

	"github.com/redis/go-redis/v9"
)

// CachedStore 是一个装饰器，它为底层的 storage.Backend 缓存 "LOI 已存在" 这一事实
// 对象永远不会被删除，所以正向结果可以安全地缓存；负向结果从不缓存
type CachedStore struct {
	storage.Backend // 被装饰的底层存储，未覆盖的方法直接透传

	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

type Config struct {
	RedisURL string        // 标准连接字符串: redis://<user>:<password>@<host>:<port>/<db>
	TTL      time.Duration // 过期时间，0 表示永不过期
}

// NewCachedStore 连接 Redis 并包装 backend
func NewCachedStore(backend storage.Backend, cfg Config) (*CachedStore, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	// Fail-fast 连接检查
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &CachedStore{
		Backend: backend,
		client:  client,
		ttl:     cfg.TTL,
		log:     slog.Default(),
	}, nil
}

// cacheKey 生成 Redis Key，添加前缀防止冲突
func (s *CachedStore) cacheKey(id loi.LOI) string {
	return "ds:obj:" + id.String()
}

func (s *CachedStore) remember(ctx context.Context, id loi.LOI) {
	if err := s.client.Set(ctx, s.cacheKey(id), "1", s.ttl).Err(); err != nil {
		s.log.Warn("redis set failed", "loi", id.String(), "error", err)
	}
}

// Exists 优先查 Redis
func (s *CachedStore) Exists(ctx context.Context, id loi.LOI) (bool, error) {
	key := s.cacheKey(id)

	// 1. 查 Redis
	val, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		// 缓存故障降级为无缓存模式
		s.log.Warn("redis exists failed, falling back to backend", "loi", id.String(), "error", err)
	} else if val > 0 {
		return true, nil
	}

	// 2. 缓存未命中，查底层存储
	found, err := s.Backend.Exists(ctx, id)
	if err != nil {
		return false, err
	}

	// 3. 异步回填，不阻塞主流程
	if found {
		go func() {
			fillCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.remember(fillCtx, id)
		}()
	}
	return found, nil
}

// Reserve 成功之后写入缓存
func (s *CachedStore) Reserve(ctx context.Context, id loi.LOI, m *manifest.Manifest) error {
	if err := s.Backend.Reserve(ctx, id, m); err != nil {
		return err
	}
	s.remember(ctx, id)
	return nil
}

// Close 关闭 Redis 连接
func (s *CachedStore) Close() error {
	return s.client.Close()
}

var _ storage.Backend = (*CachedStore)(nil)
