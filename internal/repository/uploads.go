package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UploadRecord 代表 files 表中的一次分块上传。
type UploadRecord struct {
	ID        uuid.UUID  `json:"id"`
	Meta      []byte     `json:"-"`
	Created   time.Time  `json:"created"`
	Completed *time.Time `json:"completed,omitempty"`
}

// IsCompleted 报告上传是否已成功结束。
func (r *UploadRecord) IsCompleted() bool {
	return r != nil && r.Completed != nil
}

// PendingUpload 是尚未提交的插入事务；提交前对其他连接不可见。
type PendingUpload interface {
	Commit() error
	Rollback() error
}

// UploadRepository 统一上传记录持久层接口。
type UploadRepository interface {
	// Begin 在事务中插入记录，调用方负责 Commit 或 Rollback。
	Begin(ctx context.Context, id uuid.UUID, meta []byte) (PendingUpload, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, at time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*UploadRecord, error)
	// ListIncomplete 返回 completed 为空的记录 ID，用于启动时回收。
	ListIncomplete(ctx context.Context) ([]uuid.UUID, error)
}
