package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"chunkdrop/internal/storage"
)

// Dir 管理本地上传目录，每个会话对应 BaseDir 下的一个文件。
type Dir struct {
	BaseDir string
}

var (
	_ storage.Allocator = (*Dir)(nil)
	_ storage.Reader    = (*Dir)(nil)
	_ storage.Lister    = (*Dir)(nil)
)

func New(baseDir string) *Dir {
	return &Dir{BaseDir: baseDir}
}

// Path 返回 key 对应的文件路径。
func (d *Dir) Path(key string) (string, error) {
	if d == nil {
		return "", fmt.Errorf("local dir uninitialized")
	}
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return filepath.Join(d.BaseDir, key), nil
}

// Create 独占创建目标文件；文件已存在时返回错误。
func (d *Dir) Create(key string) (storage.Destination, error) {
	path, err := d.Path(key)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	return file, nil
}

// Remove 删除目标文件，文件不存在视为成功。
func (d *Dir) Remove(key string) error {
	path, err := d.Path(key)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

// Read 打开并返回指定 key 对应的文件内容。
func (d *Dir) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	path, err := d.Path(key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
		}
		return nil, fmt.Errorf("open file: %w", err)
	}

	return file, nil
}

// Keys 返回目录下所有普通文件的 key，子目录被忽略。
func (d *Dir) Keys() ([]string, error) {
	if d == nil {
		return nil, fmt.Errorf("local dir uninitialized")
	}

	entries, err := os.ReadDir(d.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("list dir: %w", err)
	}

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		keys = append(keys, entry.Name())
	}
	return keys, nil
}
