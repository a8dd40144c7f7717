package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"chunkdrop/internal/repository"
	"chunkdrop/internal/storage"

	"github.com/google/uuid"
)

// UploadService 提供已登记上传的只读查询：元数据与完成后的文件内容。
type UploadService struct {
	repo  repository.UploadRepository
	files storage.Reader
}

func NewUploadService(repo repository.UploadRepository, files storage.Reader) *UploadService {
	return &UploadService{repo: repo, files: files}
}

// Content 是一次下载所需的记录与文件流，调用方负责关闭 Body。
type Content struct {
	Record *repository.UploadRecord
	Body   io.ReadCloser
}

// Metadata 返回上传初始化时提交的原始元数据。
func (s *UploadService) Metadata(ctx context.Context, id uuid.UUID) ([]byte, error) {
	if s == nil || s.repo == nil {
		return nil, errors.New("upload service not initialized")
	}

	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return record.Meta, nil
}

// Open 打开已完成上传的文件。未完成的上传视为不存在。
func (s *UploadService) Open(ctx context.Context, id uuid.UUID) (*Content, error) {
	if s == nil || s.repo == nil || s.files == nil {
		return nil, errors.New("upload service not initialized")
	}

	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !record.IsCompleted() {
		return nil, repository.ErrNotFound
	}

	body, err := s.files.Read(ctx, id.String())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("file for completed upload %s missing: %w", id, err)
		}
		return nil, fmt.Errorf("open upload %s: %w", id, err)
	}

	return &Content{Record: record, Body: body}, nil
}
