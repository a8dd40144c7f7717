package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Handle 是调用方唯一的入口，可并发使用。
type Handle struct {
	requests chan<- request
	stopping <-chan struct{}
	done     <-chan struct{}
	cancel   context.CancelFunc
	once     sync.Once
}

// Start 启动 dispatcher 并返回 Handle。必须调用 Close 释放 dispatcher，
// 并中止仍在进行的会话。
func Start(opts Options) (*Handle, error) {
	if err := opts.setDefaults(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	requests := make(chan request, opts.QueueSize)
	done := make(chan struct{})

	d := newDispatcher(&opts, requests)
	go func() {
		d.run(ctx)
		d.workers.Wait()
		close(done)
	}()

	return &Handle{
		requests: requests,
		stopping: ctx.Done(),
		done:     done,
		cancel:   cancel,
	}, nil
}

// Initiate 以 meta 创建会话并返回 id。超过 MaxMetadataBytes 的元数据直接拒绝，
// 不产生任何状态。
func (h *Handle) Initiate(ctx context.Context, meta []byte) (uuid.UUID, error) {
	if len(meta) > MaxMetadataBytes {
		return uuid.Nil, ErrMetadataTooLarge
	}

	reply := make(chan initResult, 1)
	if err := h.send(ctx, initiateRequest{meta: meta, reply: reply}); err != nil {
		return uuid.Nil, err
	}

	select {
	case res := <-reply:
		return res.id, res.err
	case <-ctx.Done():
		return uuid.Nil, ctx.Err()
	case <-h.done:
		select {
		case res := <-reply:
			return res.id, res.err
		default:
			return uuid.Nil, ErrClosed
		}
	}
}

// Append 把 chunk 写入会话，空 chunk 结束会话。
// Gone 是正常结果而不是错误：会话可能已被并发回收。Append 返回前不得修改 chunk。
//
// 顺序只对依次调用（等上一次返回后再发下一块）成立；同一 id 上未等待返回的并发 Append
// 到达 worker 的先后不确定。
//
// worker 接收分块时 ctx 已取消，则分块不会被写入。若 ctx 恰好在 worker 接收分块之后取消，
// 分块仍会被写入，而调用方可能收到 ctx.Err()；此时重试会重复写入。
func (h *Handle) Append(ctx context.Context, id uuid.UUID, chunk []byte) (AppendOutcome, error) {
	reply := make(chan chunkResult, 1)
	if err := h.send(ctx, chunkRequest{ctx: ctx, id: id, data: chunk, reply: reply}); err != nil {
		return Gone, err
	}

	select {
	case res := <-reply:
		return res.outcome, res.err
	case <-ctx.Done():
		return Gone, ctx.Err()
	case <-h.done:
		select {
		case res := <-reply:
			return res.outcome, res.err
		default:
			return Gone, ErrClosed
		}
	}
}

// Complete 等同于发送结束用的空分块。
func (h *Handle) Complete(ctx context.Context, id uuid.UUID) (AppendOutcome, error) {
	return h.Append(ctx, id, nil)
}

// Close 停止 dispatcher，中止所有活跃会话，并等待所有 worker 完成清理。
func (h *Handle) Close() {
	h.once.Do(h.cancel)
	<-h.done
}

func (h *Handle) send(ctx context.Context, req request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-h.stopping:
		return ErrClosed
	default:
	}

	select {
	case h.requests <- req:
		return nil
	case <-h.stopping:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
