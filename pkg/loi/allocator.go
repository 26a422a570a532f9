package loi

import (
	"context"
	"fmt"

	"datasafe/pkg/lockmap"
)

// SeedFunc 在某个 base LOI 还没有序列记录时提供初始值 (通常来自目录扫描)
type SeedFunc func(ctx context.Context) (int64, error)

// Sequencer 是每个 base LOI 的 "last serial" 计数器
// 实现必须提供原子的 compare-and-increment，跨进程同样成立
type Sequencer interface {
	// ReserveNextSerial 原子地把计数器 +1 并返回新值
	// seed 只在计数器不存在时调用一次
	ReserveNextSerial(ctx context.Context, base string, seed SeedFunc) (int64, error)
	// LastSerial 返回当前已分配的最大序号 (没有则为 0)
	LastSerial(ctx context.Context, base string) (int64, error)
}

// Allocator 为 base LOI 分配下一个序号
type Allocator struct {
	seq   Sequencer
	seed  func(ctx context.Context, base LOI) (int64, error)
	locks *lockmap.KeyedMutex
}

// NewAllocator seed 可以为 nil，此时新 base 从 1 开始
func NewAllocator(seq Sequencer, seed func(ctx context.Context, base LOI) (int64, error)) *Allocator {
	return &Allocator{
		seq:   seq,
		seed:  seed,
		locks: lockmap.New(),
	}
}

// AllocateNext 返回 base 下一个可用的完整 LOI
// 分配出去的序号永远不会再被使用，即使后续的 reserve 失败
func (a *Allocator) AllocateNext(ctx context.Context, base LOI) (LOI, error) {
	if base.IsZero() || !base.IsBase() {
		return LOI{}, fmt.Errorf("%w: %q is not a base LOI", ErrInvalidFormat, base.String())
	}
	key := base.String()

	// 同一进程内先按 base 串行化，减少数据库 CAS 冲突；跨进程的安全性由 Sequencer 保证
	unlock := a.locks.Lock(key)
	defer unlock()

	var seed SeedFunc
	if a.seed != nil {
		seed = func(ctx context.Context) (int64, error) { return a.seed(ctx, base) }
	}

	n, err := a.seq.ReserveNextSerial(ctx, key, seed)
	if err != nil {
		return LOI{}, fmt.Errorf("allocate serial for %s: %w", key, err)
	}
	if n <= 0 {
		return LOI{}, fmt.Errorf("allocate serial for %s: sequencer returned %d", key, n)
	}
	return base.WithSerial(n), nil
}

// LastSerial 返回 base 下已分配的最大序号
func (a *Allocator) LastSerial(ctx context.Context, base LOI) (int64, error) {
	return a.seq.LastSerial(ctx, base.Base().String())
}
