package storage

import (
	"context"
	"errors"
	"fmt"

	"datasafe/pkg/loi"
	"datasafe/pkg/manifest"
	"datasafe/pkg/types"
)

var (
	ErrNotFound         = errors.New("object not found")
	ErrAlreadyExists    = errors.New("object already exists")
	ErrAlreadyPopulated = errors.New("object already populated")
	ErrNotReserved      = errors.New("object not reserved")
	ErrNoContent        = errors.New("object has no content")
)

// RetrieveAttempts 是读取过程中 revision 被替换时的最多尝试次数
const RetrieveAttempts = 3

// Mutation 在持有对象锁的情况下，根据当前 Manifest 计算新的 Manifest
// 返回错误则整个写入被放弃
type Mutation func(current *manifest.Manifest) (*manifest.Manifest, error)

// Backend 负责 LOI -> (Manifest + 文件) 的持久化
// 所有状态变更对单个 LOI 都是原子的：要么完整提交，要么保持原样
// 对象永远不会被删除
type Backend interface {
	// Reserve 为新 LOI 写入空的 (registered) Manifest
	// 该 LOI 已有任何对象时返回 ErrAlreadyExists
	Reserve(ctx context.Context, id loi.LOI, m *manifest.Manifest) error

	// Store 第一次写入文件
	// 未注册返回 ErrNotReserved，已有文件返回 ErrAlreadyPopulated
	Store(ctx context.Context, id loi.LOI, files types.FileSet, mutate Mutation) error

	// Replace 整体替换已有文件
	// 对象不存在或尚未 populate 时返回 ErrNotFound
	Replace(ctx context.Context, id loi.LOI, files types.FileSet, mutate Mutation) error

	// Retrieve 读取 Manifest 和全部文件，不存在返回 ErrNotFound
	Retrieve(ctx context.Context, id loi.LOI) (*manifest.Manifest, types.FileSet, error)

	// Manifest 只读取 Manifest
	Manifest(ctx context.Context, id loi.LOI) (*manifest.Manifest, error)

	// Exists 判断 LOI 是否已注册 (registered 或 populated)
	Exists(ctx context.Context, id loi.LOI) (bool, error)

	// List 返回 base 下所有已注册的 LOI (按序号升序)
	List(ctx context.Context, base loi.LOI) ([]loi.LOI, error)

	// HighestSerial 通过扫描得到 base 下最大的序号
	// 只用于初始化序列和校验，不能作为分配依据
	HighestSerial(ctx context.Context, base loi.LOI) (int64, error)
}

// CheckStore 判断当前状态是否允许第一次写入
func CheckStore(id loi.LOI, current *manifest.Manifest) error {
	switch current.State() {
	case types.StateUnregistered:
		return fmt.Errorf("%w: %s", ErrNotReserved, id)
	case types.StatePopulated:
		return fmt.Errorf("%w: %s (revision %d)", ErrAlreadyPopulated, id, current.Revision)
	}
	return nil
}

// CheckReplace 判断当前状态是否允许整体替换
func CheckReplace(id loi.LOI, current *manifest.Manifest) error {
	if current.State() != types.StatePopulated {
		return fmt.Errorf("%w: %s has no content to update", ErrNotFound, id)
	}
	return nil
}

// ApplyMutation 调用 mutate 并校验结果是否属于同一个对象
func ApplyMutation(id loi.LOI, current *manifest.Manifest, mutate Mutation) (*manifest.Manifest, error) {
	next, err := mutate(current)
	if err != nil {
		return nil, err
	}
	if next == nil || next.LOI != id.String() {
		return nil, fmt.Errorf("mutation for %s returned a foreign manifest", id)
	}
	if next.Revision <= current.Revision {
		return nil, fmt.Errorf("mutation for %s did not advance revision (%d -> %d)", id, current.Revision, next.Revision)
	}
	return next, nil
}

// RevisionDir 返回某个 revision 的文件所在子目录名
func RevisionDir(revision int64) string {
	return fmt.Sprintf("rev-%d", revision)
}
