package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"chunkdrop/internal/repository"

	"github.com/google/uuid"
)

// Reclaim 清理上一个进程遗留的上传：未完成的记录连同文件一起删除，
// 没有对应记录的文件（创建文件后、提交记录前崩溃留下的）也一并删除。
// 这些上传的 worker 已随旧进程退出，无法再完成。必须在 Handle 开始服务之前调用。
func Reclaim(ctx context.Context, repo repository.UploadRepository, files Files, logger *slog.Logger) (int, error) {
	ids, err := repo.ListIncomplete(ctx)
	if err != nil {
		return 0, fmt.Errorf("list incomplete uploads: %w", err)
	}

	reclaimed := 0
	var errs []error
	for _, id := range ids {
		if err := files.Remove(id.String()); err != nil {
			errs = append(errs, fmt.Errorf("remove file %s: %w", id, err))
			continue
		}
		if err := repo.Delete(ctx, id); err != nil && !errors.Is(err, repository.ErrNotFound) {
			errs = append(errs, fmt.Errorf("delete record %s: %w", id, err))
			continue
		}
		reclaimed++
	}

	orphans, err := removeOrphans(ctx, repo, files)
	reclaimed += orphans
	if err != nil {
		errs = append(errs, err)
	}

	if reclaimed > 0 {
		logger.Info("reclaimed incomplete uploads", "count", reclaimed, "orphan_files", orphans)
	}
	return reclaimed, errors.Join(errs...)
}

// removeOrphans 删除目录中 key 为 upload id 但数据库里没有记录的文件。
// 不是 uuid 的文件不属于上传，保持不动。
func removeOrphans(ctx context.Context, repo repository.UploadRepository, files Files) (int, error) {
	keys, err := files.Keys()
	if err != nil {
		return 0, fmt.Errorf("list upload files: %w", err)
	}

	removed := 0
	var errs []error
	for _, key := range keys {
		id, err := uuid.Parse(key)
		if err != nil || id.String() != key {
			continue
		}

		_, err = repo.GetByID(ctx, id)
		if err == nil {
			continue
		}
		if !errors.Is(err, repository.ErrNotFound) {
			errs = append(errs, fmt.Errorf("look up record %s: %w", id, err))
			continue
		}

		if err := files.Remove(key); err != nil {
			errs = append(errs, fmt.Errorf("remove orphan file %s: %w", key, err))
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
