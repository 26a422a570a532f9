package meta

import (
	"time"

	"gorm.io/datatypes"
)

// Sequence 是每个 base LOI 的序号计数器
// LastSerial 只增不减，更新时用它本身做 CAS 条件
type Sequence struct {
	// Base 是主键，例如 "42.1001/ds/exp/sa/42/cwepr"
	Base string `gorm:"primaryKey;type:varchar(255)"`

	LastSerial int64 `gorm:"not null;default:0"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ObjectModel 是存储对象在关系型数据库中的投影 (索引)
// 存储后端才是事实来源，这里只用于快速列表和查询
type ObjectModel struct {
	LOI    string `gorm:"primaryKey;type:varchar(255)"`
	Base   string `gorm:"index;type:varchar(255);not null"`
	Serial int64  `gorm:"not null"`

	State     string `gorm:"index;type:varchar(16)"`
	Revision  int64
	Algorithm string `gorm:"type:varchar(16)"`

	Checksum     string `gorm:"type:varchar(128)"`
	DataChecksum string `gorm:"type:varchar(128)"`

	FileCount int
	TotalSize int64

	// Files: [{"name": ..., "role": ..., "format": ..., "size": ...}]
	Files datatypes.JSON

	Created  time.Time `gorm:"index"`
	Modified time.Time

	UpdatedAt time.Time
}

// TableName 强制指定表名
func (ObjectModel) TableName() string {
	return "objects"
}

// FileSummary 是 ObjectModel.Files 中的一项
type FileSummary struct {
	Name   string `json:"name"`
	Role   string `json:"role"`
	Format string `json:"format"`
	Size   int64  `json:"size"`
}

// Models 返回需要迁移的所有表
func Models() []any {
	return []any{&Sequence{}, &ObjectModel{}}
}
