package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound 表示 key 对应的对象不存在。
var ErrNotFound = errors.New("storage: object not found")

// Writer 定义对象存储写接口，支持流式写入。
type Writer interface {
	Write(ctx context.Context, key string, r io.Reader) (Location, error)
}

// Reader 定义对象存储读接口，支持流式读取。
type Reader interface {
	Read(ctx context.Context, key string) (io.ReadCloser, error)
}

// Storage 组合了读写能力的完整存储接口。
type Storage interface {
	Writer
	Reader
}

// Location 描述已经写入对象的可访问信息。
type Location struct {
	Path string
	URL  string
}

// Destination 是上传会话独占的可写文件句柄。
type Destination interface {
	io.Writer
	Sync() error
	Close() error
}

// Allocator 按 key 分配和回收上传目标文件。
type Allocator interface {
	Create(key string) (Destination, error)
	Remove(key string) error
}

// Lister 列出存储中现有的全部 key。
type Lister interface {
	Keys() ([]string, error)
}
