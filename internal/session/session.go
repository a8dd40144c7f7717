// Package session 管理分块上传的完整生命周期。
//
// Handle 只与一个 dispatcher goroutine 通信，由它持有 upload id 到 worker 的路由表。
// 每个上传由唯一的 worker goroutine 负责，它独占目标文件，也是该上传数据库记录的唯一写入者。
// 分块通过无缓冲 channel 交给 worker，worker 收到的顺序就是写入的顺序。
package session

import (
	"errors"
	"log/slog"
	"time"

	"chunkdrop/internal/events"
	"chunkdrop/internal/repository"
	"chunkdrop/internal/storage"

	"github.com/google/uuid"
)

// MaxMetadataBytes 是初始化时元数据的大小上限。
const MaxMetadataBytes = 4096

const (
	DefaultIdleTimeout = 60 * time.Second
	DefaultQueueSize   = 64

	opTimeout      = 30 * time.Second
	cleanupTimeout = 10 * time.Second
)

var (
	ErrMetadataTooLarge = errors.New("session: metadata may not be larger than 4096 bytes")
	ErrIncompleteUpload = errors.New("session: incomplete upload")
	ErrClosed           = errors.New("session: handle closed")
)

// AppendOutcome 描述一个分块的处理结果。
type AppendOutcome int

const (
	// Continue 表示分块已写入，等待后续分块。
	Continue AppendOutcome = iota
	// Done 只返回给发送结束空分块的调用方。
	Done
	// Gone 表示 id 未知、已结束或已被回收。
	Gone
)

func (o AppendOutcome) String() string {
	switch o {
	case Continue:
		return "continue"
	case Done:
		return "done"
	case Gone:
		return "gone"
	default:
		return "unknown"
	}
}

// Files 是 worker 分配目标文件的本地目录。Reader 用于把完成的上传写入归档，
// Lister 用于启动时清理没有记录的孤儿文件。
type Files interface {
	storage.Allocator
	storage.Reader
	storage.Lister
}

// Options 汇总 Handle 依赖的组件。
type Options struct {
	Repo  repository.UploadRepository
	Files Files

	// Archive 接收每个完成上传的副本，可为空。
	Archive storage.Writer
	// Events 接收完成与中止事件，可为空。
	Events events.Publisher
	Logger *slog.Logger

	IdleTimeout time.Duration
	QueueSize   int

	NewID func() (uuid.UUID, error)
	Now   func() time.Time
}

func (o *Options) setDefaults() error {
	if o.Repo == nil {
		return errors.New("session: repository is required")
	}
	if o.Files == nil {
		return errors.New("session: files are required")
	}
	if o.Events == nil {
		o.Events = events.Nop{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.NewID == nil {
		o.NewID = uuid.NewV7
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return nil
}
