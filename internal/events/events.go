package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type 标识上传生命周期事件。
type Type string

const (
	TypeCompleted Type = "upload.completed"
	TypeAborted   Type = "upload.aborted"
)

// Event 在会话进入终态后发布。
type Event struct {
	Type   Type      `json:"type"`
	ID     uuid.UUID `json:"id"`
	Size   int64     `json:"size"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// Publisher 发布生命周期事件；失败只记录日志，不影响会话结果。
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop 丢弃所有事件，未配置 NATS 时使用。
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
