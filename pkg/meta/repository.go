package meta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"datasafe/pkg/loi"
	"datasafe/pkg/manifest"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrSequenceNotFound = errors.New("sequence not found")
	ErrConcurrentUpdate = errors.New("concurrent update detected (CAS failed)")
	ErrObjectNotFound   = errors.New("object not found in index")
)

// CAS 冲突时的最大重试次数
const maxCASAttempts = 64

// Repository 封装所有对 SQL 数据库的操作
type Repository struct {
	db *DB
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// -----------------------------------------------------------------------------
// 1. 序号分配 (Sequences)
// -----------------------------------------------------------------------------

// GetSequence 读取 base 的计数器
func (r *Repository) GetSequence(ctx context.Context, base string) (*Sequence, error) {
	var seq Sequence
	err := r.db.GetConn().WithContext(ctx).
		Where("base = ?", base).
		First(&seq).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSequenceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &seq, nil
}

// LastSerial 实现 loi.Sequencer
func (r *Repository) LastSerial(ctx context.Context, base string) (int64, error) {
	seq, err := r.GetSequence(ctx, base)
	if errors.Is(err, ErrSequenceNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return seq.LastSerial, nil
}

// ReserveNextSerial 实现 loi.Sequencer
// SQL: UPDATE sequences SET last_serial = last_serial + 1 WHERE base = ? AND last_serial = ?
// 影响行数为 0 说明被别人抢先，重新读取后重试
func (r *Repository) ReserveNextSerial(ctx context.Context, base string, seed loi.SeedFunc) (int64, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		seq, err := r.GetSequence(ctx, base)
		if errors.Is(err, ErrSequenceNotFound) {
			// 场景 A: 第一次使用这个 base，用扫描结果初始化
			if err := r.createSequence(ctx, base, seed); err != nil {
				return 0, err
			}
			continue
		}
		if err != nil {
			return 0, err
		}

		if seq.LastSerial == math.MaxInt64 {
			return 0, fmt.Errorf("%w: %s", loi.ErrAllocationExhausted, base)
		}

		// 场景 B: CAS 自增
		result := r.db.GetConn().WithContext(ctx).
			Model(&Sequence{}).
			Where("base = ? AND last_serial = ?", base, seq.LastSerial).
			Updates(map[string]any{
				"last_serial": gorm.Expr("last_serial + 1"),
				"updated_at":  time.Now(),
			})
		if result.Error != nil {
			return 0, result.Error
		}
		if result.RowsAffected == 1 {
			return seq.LastSerial + 1, nil
		}

		if err := backoff(ctx, attempt); err != nil {
			return 0, err
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrConcurrentUpdate, base)
}

// createSequence 插入初始计数器；已存在时什么都不做 (并发初始化只有一个生效)
func (r *Repository) createSequence(ctx context.Context, base string, seed loi.SeedFunc) error {
	var start int64
	if seed != nil {
		n, err := seed(ctx)
		if err != nil {
			return fmt.Errorf("seed sequence %s: %w", base, err)
		}
		start = max(n, 0)
	}

	err := r.db.GetConn().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "base"}},
			DoNothing: true,
		}).
		Create(&Sequence{Base: base, LastSerial: start}).Error
	if err != nil {
		return fmt.Errorf("failed to create sequence: %w", err)
	}
	return nil
}

func backoff(ctx context.Context, attempt int) error {
	d := time.Duration(min(attempt+1, 10)) * time.Millisecond
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// -----------------------------------------------------------------------------
// 2. 对象索引 (Object Indexing)
// -----------------------------------------------------------------------------

// IndexObject 把 Manifest “投影”到数据库中
// 只会前进不会后退：旧 revision 的写入不会覆盖新 revision
func (r *Repository) IndexObject(ctx context.Context, m *manifest.Manifest) error {
	id, err := m.ParsedLOI()
	if err != nil {
		return err
	}

	// 1. 文件摘要 -> JSON
	summaries := make([]FileSummary, 0, len(m.Files))
	for _, e := range m.Files {
		summaries = append(summaries, FileSummary{Name: e.Name, Role: string(e.Role), Format: e.Format, Size: e.Size})
	}
	filesJSON, err := json.Marshal(summaries)
	if err != nil {
		return fmt.Errorf("failed to marshal files: %w", err)
	}

	// 2. 构造 Model
	model := ObjectModel{
		LOI:          id.String(),
		Base:         id.Base().String(),
		Serial:       id.Serial,
		State:        string(m.State()),
		Revision:     m.Revision,
		Algorithm:    string(m.Algorithm),
		Checksum:     string(m.Checksum),
		DataChecksum: string(m.Checksums.Data),
		FileCount:    len(m.Files),
		TotalSize:    m.TotalSize(),
		Files:        datatypes.JSON(filesJSON),
		Created:      m.Created,
		Modified:     m.Modified,
	}

	// 3. Upsert
	err = r.db.GetConn().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "loi"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"state", "revision", "algorithm", "checksum", "data_checksum",
				"file_count", "total_size", "files", "modified", "updated_at",
			}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: "objects.revision <= excluded.revision"},
			}},
		}).
		Create(&model).Error
	if err != nil {
		return fmt.Errorf("failed to index object: %w", err)
	}
	return nil
}

func (r *Repository) GetObject(ctx context.Context, id string) (*ObjectModel, error) {
	var obj ObjectModel
	err := r.db.GetConn().WithContext(ctx).
		Where("loi = ?", id).
		First(&obj).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, err
	}
	return &obj, nil
}

// ListObjects 返回已索引的对象，按 LOI 和序号升序
// base 为空时返回全部；limit <= 0 表示不限制
func (r *Repository) ListObjects(ctx context.Context, base string, limit int) ([]ObjectModel, error) {
	var objs []ObjectModel
	q := r.db.GetConn().WithContext(ctx)
	if base != "" {
		q = q.Where("base = ?", base)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Order("base ASC").Order("serial ASC").Find(&objs).Error
	return objs, err
}

var _ loi.Sequencer = (*Repository)(nil)
