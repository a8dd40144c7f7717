package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chunkdrop/internal/repository"

	"github.com/google/uuid"
)

// NewUploadRepository 返回基于 *sql.DB 的 Postgres 实现。
func NewUploadRepository(db *sql.DB) *UploadRepository {
	return &UploadRepository{db: db}
}

// UploadRepository 实现 repository.UploadRepository。
type UploadRepository struct {
	db *sql.DB
}

var _ repository.UploadRepository = (*UploadRepository)(nil)

// Begin 开启事务并插入记录；记录在 Commit 之前不可见。
func (r *UploadRepository) Begin(ctx context.Context, id uuid.UUID, meta []byte) (repository.PendingUpload, error) {
	if meta == nil {
		meta = []byte{}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin insert tx: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO files (id, meta) VALUES ($1, $2)`, id, meta); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return nil, fmt.Errorf("insert file %s: %w (rollback: %v)", id, err, rbErr)
		}
		return nil, fmt.Errorf("insert file %s: %w", id, err)
	}

	return tx, nil
}

// MarkCompleted 写入完成时间，仅对未完成的记录生效。
func (r *UploadRepository) MarkCompleted(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE files SET completed = $1 WHERE id = $2 AND completed IS NULL`,
		at.UTC(), id,
	)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// Delete 删除记录，用于失败与超时后的补偿清理。
func (r *UploadRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// GetByID 通过主键查询记录。
func (r *UploadRepository) GetByID(ctx context.Context, id uuid.UUID) (*repository.UploadRecord, error) {
	var (
		rec       repository.UploadRecord
		completed sql.NullTime
	)

	err := r.db.QueryRowContext(ctx,
		`SELECT id, meta, created, completed FROM files WHERE id = $1`, id,
	).Scan(&rec.ID, &rec.Meta, &rec.Created, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if completed.Valid {
		rec.Completed = &completed.Time
	}
	return &rec, nil
}

// ListIncomplete 返回所有未完成的记录 ID。
func (r *UploadRepository) ListIncomplete(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM files WHERE completed IS NULL ORDER BY created`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func expectOneRow(res sql.Result) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return repository.ErrNotFound
	}
	return nil
}
